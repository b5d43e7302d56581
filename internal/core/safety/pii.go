package safety

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	EntityEmail      = "EMAIL_ADDRESS"
	EntityPhone      = "PHONE_NUMBER"
	EntityNationalID = "NATIONAL_ID"
	EntityCreditCard = "CREDIT_CARD"
	EntityRollNumber = "ROLL_NUMBER"
	EntityPerson     = "PERSON"
	EntityLocation   = "LOCATION"
)

type RedactionStrategy string

const (
	StrategyTypePlaceholder RedactionStrategy = "type_placeholder"
	StrategyMasked          RedactionStrategy = "masked"
	StrategyNumbered        RedactionStrategy = "numbered"
)

const maskWidth = 8

type PIIDetection struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

type RedactionResult struct {
	RedactedText string         `json:"redacted_text"`
	Detections   []PIIDetection `json:"detections"`
}

func (r RedactionResult) HasPII() bool {
	return len(r.Detections) > 0
}

// EntityTypes returns the distinct detected types in first-seen order.
func (r RedactionResult) EntityTypes() []string {
	seen := make(map[string]struct{}, len(r.Detections))
	out := make([]string, 0, len(r.Detections))
	for _, d := range r.Detections {
		if _, ok := seen[d.EntityType]; ok {
			continue
		}
		seen[d.EntityType] = struct{}{}
		out = append(out, d.EntityType)
	}
	return out
}

// Pre-compiled recognizers, ordered by precision: when two matches overlap,
// the earlier recognizer wins. High-precision numeric formats come before
// the loose phone pattern so a card or id fragment is never re-typed as a
// phone number.
var piiRecognizers = []struct {
	entityType string
	re         *regexp.Regexp
	score      float64
}{
	{EntityEmail, regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`), 0.95},
	{EntityNationalID, regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`), 0.90},
	{EntityCreditCard, regexp.MustCompile(`\b(?:4\d{3}|5[1-5]\d{2}|6011)[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), 0.90},
	{EntityNationalID, regexp.MustCompile(`\b\d{4}\s\d{4}\s\d{4}\b`), 0.85},
	{EntityRollNumber, regexp.MustCompile(`(?i)\broll\s*(?:no\.?|number)\s*[:\-]?\s*[A-Za-z0-9\-/]+`), 0.90},
	{EntityPhone, regexp.MustCompile(`(?:\+\d{1,3}[-\s]?)?\(?\d{3}\)?[-\s.]?\d{3}[-\s.]?\d{4}\b`), 0.75},
	{EntityPerson, regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?`), 0.70},
	{EntityLocation, regexp.MustCompile(`(?i)\bI\s+live\s+(?:in|at|near)\s+[A-Z][A-Za-z]+(?:\s+[A-Z][A-Za-z]+)?`), 0.65},
}

// Redactor finds and replaces personal data in free text. Pure: no state is
// kept between calls.
type Redactor struct{}

func NewRedactor() *Redactor {
	return &Redactor{}
}

// Detect returns non-overlapping detections ordered by start offset.
func (r *Redactor) Detect(text string) []PIIDetection {
	if text == "" {
		return nil
	}

	type candidate struct {
		PIIDetection
		priority int
	}
	candidates := make([]candidate, 0, 8)
	for priority, rec := range piiRecognizers {
		for _, span := range rec.re.FindAllStringIndex(text, -1) {
			candidates = append(candidates, candidate{
				PIIDetection: PIIDetection{
					EntityType: rec.entityType,
					Start:      span[0],
					End:        span[1],
					Score:      rec.score,
				},
				priority: priority,
			})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// Higher-precision recognizers claim overlapping spans first.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].Start < candidates[j].Start
	})

	kept := make([]PIIDetection, 0, len(candidates))
	for _, c := range candidates {
		overlaps := false
		for _, k := range kept {
			if c.Start < k.End && k.Start < c.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c.PIIDetection)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// Redact replaces every detection according to the strategy. Replacements
// are applied in descending start order so earlier offsets stay valid after
// each substitution.
func (r *Redactor) Redact(text string, strategy RedactionStrategy) RedactionResult {
	detections := r.Detect(text)
	if len(detections) == 0 {
		return RedactionResult{RedactedText: text}
	}

	replacements := make([]string, len(detections))
	counters := make(map[string]int, len(detections))
	for i, d := range detections {
		switch strategy {
		case StrategyMasked:
			replacements[i] = strings.Repeat("*", maskWidth)
		case StrategyNumbered:
			counters[d.EntityType]++
			replacements[i] = fmt.Sprintf("<%s_%d>", d.EntityType, counters[d.EntityType])
		default:
			replacements[i] = "<" + d.EntityType + ">"
		}
	}

	redacted := text
	for i := len(detections) - 1; i >= 0; i-- {
		d := detections[i]
		redacted = redacted[:d.Start] + replacements[i] + redacted[d.End:]
	}

	return RedactionResult{
		RedactedText: redacted,
		Detections:   detections,
	}
}
