package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/learnloop/tutor-core/internal/core/domain"
)

// Graph looks up concept neighborhoods in a curriculum knowledge graph.
// The graph is optional infrastructure: callers probe IsAvailable and treat
// lookup failures as "no extra context".
type Graph struct {
	driver   neo4j.DriverWithContext
	database string
}

func New(uri, username, password, database string) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Graph{driver: driver, database: database}, nil
}

func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Graph) IsAvailable(ctx context.Context) bool {
	if g == nil || g.driver == nil {
		return false
	}
	return g.driver.VerifyConnectivity(ctx) == nil
}

// FindRelated returns concepts within maxHops of any of the given entities,
// nearest first. Matching is case-insensitive; the seed entities themselves
// are excluded.
func (g *Graph) FindRelated(
	ctx context.Context,
	entities []string,
	maxHops, limit int,
) ([]domain.RelatedEntity, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	if maxHops <= 0 {
		maxHops = 1
	}
	if limit <= 0 {
		limit = 5
	}

	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = strings.ToLower(strings.TrimSpace(e))
	}

	// Hop depth cannot be a query parameter, so it is interpolated. It is an
	// int, never user text.
	query := fmt.Sprintf(`
		MATCH p = shortestPath((seed:Concept)-[*..%d]-(related:Concept))
		WHERE toLower(seed.name) IN $names
		  AND NOT toLower(related.name) IN $names
		RETURN related.name AS name, min(length(p)) AS distance
		ORDER BY distance ASC, name ASC
		LIMIT $limit`, maxHops)

	result, err := neo4j.ExecuteQuery(ctx, g.driver, query,
		map[string]any{"names": names, "limit": limit},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, fmt.Errorf("neo4j related query: %w", err)
	}
	return relatedFromRecords(result.Records)
}

func relatedFromRecords(records []*neo4j.Record) ([]domain.RelatedEntity, error) {
	out := make([]domain.RelatedEntity, 0, len(records))
	for _, record := range records {
		name, _, err := neo4j.GetRecordValue[string](record, "name")
		if err != nil {
			return nil, fmt.Errorf("neo4j record name: %w", err)
		}
		distance, _, err := neo4j.GetRecordValue[int64](record, "distance")
		if err != nil {
			return nil, fmt.Errorf("neo4j record distance: %w", err)
		}
		out = append(out, domain.RelatedEntity{
			Name:     name,
			Distance: int(distance),
		})
	}
	return out, nil
}
