package neo4j

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func TestRelatedFromRecords(t *testing.T) {
	records := []*neo4j.Record{
		{Keys: []string{"name", "distance"}, Values: []any{"fractions", int64(1)}},
		{Keys: []string{"name", "distance"}, Values: []any{"decimals", int64(2)}},
	}

	related, err := relatedFromRecords(records)
	if err != nil {
		t.Fatalf("relatedFromRecords() error = %v", err)
	}
	if len(related) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(related))
	}
	if related[0].Name != "fractions" || related[0].Distance != 1 {
		t.Fatalf("unexpected first entity: %+v", related[0])
	}
	if related[1].Distance != 2 {
		t.Fatalf("unexpected second entity: %+v", related[1])
	}
}

func TestRelatedFromRecordsWrongType(t *testing.T) {
	records := []*neo4j.Record{
		{Keys: []string{"name", "distance"}, Values: []any{"fractions", "not a number"}},
	}
	if _, err := relatedFromRecords(records); err == nil {
		t.Fatal("expected type error")
	}
}

func TestNilGraphUnavailable(t *testing.T) {
	var g *Graph
	if g.IsAvailable(t.Context()) {
		t.Fatal("nil graph must report unavailable")
	}
}
