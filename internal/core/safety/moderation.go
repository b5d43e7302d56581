package safety

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/learnloop/tutor-core/internal/core/domain"
)

const offTopicWordFloor = 10

// Moderator is a grade-aware keyword/category classifier. Stateless.
type Moderator struct{}

func NewModerator() *Moderator {
	return &Moderator{}
}

// Moderate classifies text for a grade. isUserInput gates the topical-
// relevance check, which only applies to what students type, not to
// generated output.
func (m *Moderator) Moderate(text string, grade int, isUserInput bool) domain.ModerationResponse {
	band := bandForGrade(grade)
	words := wordSet(text)

	// Serious categories block regardless of grade.
	for category, terms := range seriousTerms {
		if term, ok := matchTerm(text, words, terms); ok {
			return domain.ModerationResponse{
				Result:     domain.ModerationBlocked,
				Categories: []domain.ModerationCategory{category},
				Reason:     fmt.Sprintf("matched %s term %q", category, term),
			}
		}
	}

	// Band-specific extra blocks (youngest band only carries these).
	if term, ok := matchTerm(text, words, band.extraBlocked); ok {
		return domain.ModerationResponse{
			Result:     domain.ModerationBlocked,
			Categories: []domain.ModerationCategory{domain.CategoryOffTopic},
			Reason:     fmt.Sprintf("term %q is not allowed for grades %d-%d", term, band.minGrade, band.maxGrade),
		}
	}

	// Minor categories block only in strict bands.
	for category, terms := range minorTerms {
		term, ok := matchTerm(text, words, terms)
		if !ok {
			continue
		}
		if band.strictTerms {
			return domain.ModerationResponse{
				Result:     domain.ModerationBlocked,
				Categories: []domain.ModerationCategory{category},
				Reason:     fmt.Sprintf("matched %s term %q in strict grade band", category, term),
			}
		}
		return domain.ModerationResponse{
			Result:     domain.ModerationNeedsReview,
			Categories: []domain.ModerationCategory{category},
			Reason:     fmt.Sprintf("matched %s term %q", category, term),
		}
	}

	// Topical relevance for young grades: long inputs must touch at least
	// one whitelisted subject keyword. Short inputs always pass.
	if isUserInput && len(band.subjects) > 0 {
		if wordCount(text) > offTopicWordFloor && !touchesSubjects(words, band.subjects) {
			return domain.ModerationResponse{
				Result:     domain.ModerationNeedsReview,
				Categories: []domain.ModerationCategory{domain.CategoryOffTopic},
				Reason:     "no grade-band subject keywords found",
			}
		}
	}

	return domain.ModerationResponse{Result: domain.ModerationAllowed}
}

// matchTerm checks single words against the tokenized set and multi-word
// terms as substrings of the lowered text.
func matchTerm(text string, words map[string]struct{}, terms []string) (string, bool) {
	var lowered string
	for _, term := range terms {
		if !strings.ContainsAny(term, " -") {
			if _, ok := words[term]; ok {
				return term, true
			}
			continue
		}
		if lowered == "" {
			lowered = strings.ToLower(text)
		}
		if strings.Contains(lowered, term) {
			return term, true
		}
	}
	return "", false
}

func touchesSubjects(words map[string]struct{}, subjects []string) bool {
	for _, subject := range subjects {
		if _, ok := words[subject]; ok {
			return true
		}
	}
	return false
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func wordSet(text string) map[string]struct{} {
	out := make(map[string]struct{}, 32)
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out[b.String()] = struct{}{}
			b.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return out
}
