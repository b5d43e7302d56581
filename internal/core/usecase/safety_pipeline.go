package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/learnloop/tutor-core/internal/core/domain"
	"github.com/learnloop/tutor-core/internal/core/ports"
	"github.com/learnloop/tutor-core/internal/core/safety"
)

const defaultOutputMaxRetries = 2

// The pipeline depends on the detector layers through minimal interfaces so
// each stage can be substituted in tests; the safety package's concrete
// types satisfy them.
type piiRedactor interface {
	Redact(text string, strategy safety.RedactionStrategy) safety.RedactionResult
}

type injectionAnalyzer interface {
	Analyze(ctx context.Context, text string) domain.InjectionAnalysis
}

type contentModerator interface {
	Moderate(text string, grade int, isUserInput bool) domain.ModerationResponse
}

// SafetyPipeline chains redaction, injection analysis, and moderation over
// student input, and runs the bounded self-correction loop over model
// output. Stages are strictly sequential: each consumes the previous
// stage's sanitized text.
type SafetyPipeline struct {
	redactor   piiRedactor
	detector   injectionAnalyzer
	moderator  contentModerator
	generator  ports.TextGenerator
	maxRetries int
}

type SafetyPipelineOption func(*SafetyPipeline)

func WithOutputMaxRetries(n int) SafetyPipelineOption {
	return func(p *SafetyPipeline) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

func NewSafetyPipeline(
	redactor piiRedactor,
	detector injectionAnalyzer,
	moderator contentModerator,
	generator ports.TextGenerator,
	opts ...SafetyPipelineOption,
) *SafetyPipeline {
	p := &SafetyPipeline{
		redactor:   redactor,
		detector:   detector,
		moderator:  moderator,
		generator:  generator,
		maxRetries: defaultOutputMaxRetries,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ValidateInput runs redact, then injection analysis, then moderation, in
// that order. Redaction runs first so personal data never reaches the
// classifier layers or their logs. The returned error is always nil today;
// detector failures degrade inside the layers instead of propagating.
func (p *SafetyPipeline) ValidateInput(ctx context.Context, text string, grade int, studentID string) (*domain.SafetyCheckResult, error) {
	result := &domain.SafetyCheckResult{
		Action:       domain.ActionAllow,
		OriginalText: text,
	}

	redaction := p.redactor.Redact(text, safety.StrategyTypePlaceholder)
	result.ProcessedText = redaction.RedactedText
	result.PIIDetected = redaction.HasPII()
	result.PIITypes = redaction.EntityTypes()

	analysis := p.detector.Analyze(ctx, redaction.RedactedText)
	result.InjectionThreat = analysis.ThreatLevel
	result.Warnings = append(result.Warnings, analysis.Warnings...)
	if analysis.ShouldBlock {
		result.Action = domain.ActionBlock
		result.BlockReason = "prompt injection detected: " + strings.Join(analysis.DetectedPatterns, ", ")
		return result, nil
	}

	moderation := p.moderator.Moderate(redaction.RedactedText, grade, true)
	result.ModerationResult = moderation.Result
	switch moderation.Result {
	case domain.ModerationBlocked:
		result.Action = domain.ActionBlock
		result.BlockReason = moderation.Reason
		return result, nil
	case domain.ModerationNeedsReview:
		result.Warnings = append(result.Warnings, moderation.Reason)
	}

	switch {
	case result.PIIDetected:
		result.Action = domain.ActionSanitize
	case len(result.Warnings) > 0:
		result.Action = domain.ActionWarn
	}
	return result, nil
}

const (
	critiqueSafe      = "SAFE"
	critiqueUnsafe    = "UNSAFE"
	critiqueNeedsEdit = "NEEDS_EDIT"
)

// ValidateOutput moderates candidate output and rewrites it through the
// generator until it passes or the retry budget runs out. On exhaustion the
// student sees a fixed fallback message, never the unsafe text.
func (p *SafetyPipeline) ValidateOutput(ctx context.Context, output, originalQuestion string, grade int) (*domain.OutputValidationResult, error) {
	current := output
	issues := make([]string, 0, 2)

	for iteration := 0; iteration <= p.maxRetries; iteration++ {
		moderation := p.moderator.Moderate(current, grade, false)
		if moderation.Result == domain.ModerationBlocked {
			issues = append(issues, moderation.Reason)
			if iteration == p.maxRetries {
				return p.fallbackResult(moderation.Categories, iteration+1, issues), nil
			}
			refined, err := p.refineOutput(ctx, current, originalQuestion, moderation.Reason)
			if err != nil {
				issues = append(issues, "refinement unavailable")
				return p.fallbackResult(moderation.Categories, iteration+1, issues), nil
			}
			current = refined
			continue
		}

		// Moderation passed. The model critiques its own first draft once;
		// refined drafts are only re-checked by the deterministic moderator.
		if iteration == 0 {
			verdict, err := p.critiqueOutput(ctx, current, originalQuestion, grade)
			if err != nil {
				issues = append(issues, "self-critique unavailable")
			} else if verdict == critiqueUnsafe {
				issues = append(issues, "self-critique flagged draft as unsafe")
				refined, refineErr := p.refineOutput(ctx, current, originalQuestion, "self-critique flagged the draft")
				if refineErr != nil {
					issues = append(issues, "refinement unavailable")
					return p.fallbackResult(nil, iteration+1, issues), nil
				}
				current = refined
				continue
			} else if verdict == critiqueNeedsEdit {
				issues = append(issues, "self-critique requested an edit")
				if refined, refineErr := p.refineOutput(ctx, current, originalQuestion, "self-critique requested a light edit"); refineErr == nil {
					current = refined
				}
			}
		}

		return &domain.OutputValidationResult{
			IsSafe:          true,
			ValidatedOutput: current,
			Iterations:      iteration + 1,
			IssuesFound:     issues,
		}, nil
	}

	return p.fallbackResult(nil, p.maxRetries+1, issues), nil
}

func (p *SafetyPipeline) fallbackResult(categories []domain.ModerationCategory, iterations int, issues []string) *domain.OutputValidationResult {
	return &domain.OutputValidationResult{
		IsSafe:          false,
		ValidatedOutput: fallbackMessage(categories),
		Iterations:      iterations,
		IssuesFound:     issues,
	}
}

func fallbackMessage(categories []domain.ModerationCategory) string {
	for _, c := range categories {
		switch c {
		case domain.CategorySelfHarm:
			return "It sounds like something heavy might be on your mind. Please talk to a trusted adult, a school counselor, or a helpline. I'm here to help with your studies whenever you're ready."
		case domain.CategoryViolence, domain.CategoryWeapons:
			return "I can't help with that topic. Let's focus on your schoolwork instead. What subject are you studying right now?"
		case domain.CategoryAdult, domain.CategoryDrugs:
			return "That's not something I can discuss. I'd be glad to help with a question from your lessons instead."
		}
	}
	return "I wasn't able to give a good answer to that. Could you try asking in a different way, or ask me something from your lessons?"
}

const refinePromptTemplate = `You are a tutor for school students. Your previous answer was rejected for this reason: %s

Student's question: %s

Rewrite the answer so it is age-appropriate, kind, and focused on the student's schoolwork. Keep it short. Return only the rewritten answer.

Previous answer:
%s`

func (p *SafetyPipeline) refineOutput(ctx context.Context, current, originalQuestion, reason string) (string, error) {
	refined, err := p.generator.Generate(ctx, fmt.Sprintf(refinePromptTemplate, reason, originalQuestion, current), "")
	if err != nil {
		return "", fmt.Errorf("refine output: %w", err)
	}
	refined = strings.TrimSpace(refined)
	if refined == "" {
		return "", fmt.Errorf("refine output: empty rewrite")
	}
	return refined, nil
}

const critiquePromptTemplate = `Review this tutoring answer for a grade %d student.
Check: age-appropriateness, factual risk, potential harm, privacy, and emotional distress.
Reply with exactly one word first: SAFE, UNSAFE, or NEEDS_EDIT.

Question: %s

Answer:
%s`

func (p *SafetyPipeline) critiqueOutput(ctx context.Context, current, originalQuestion string, grade int) (string, error) {
	reply, err := p.generator.Generate(ctx, fmt.Sprintf(critiquePromptTemplate, grade, originalQuestion, current), "")
	if err != nil {
		return "", fmt.Errorf("self-critique: %w", err)
	}

	verdict := strings.ToUpper(strings.TrimSpace(reply))
	switch {
	case strings.HasPrefix(verdict, critiqueUnsafe):
		return critiqueUnsafe, nil
	case strings.HasPrefix(verdict, critiqueNeedsEdit):
		return critiqueNeedsEdit, nil
	case strings.HasPrefix(verdict, critiqueSafe):
		return critiqueSafe, nil
	default:
		return "", fmt.Errorf("self-critique: unparseable verdict %q", clipForError(verdict))
	}
}

func clipForError(s string) string {
	const max = 40
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
