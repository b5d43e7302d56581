package domain

type SafetyAction string

const (
	ActionAllow    SafetyAction = "allow"
	ActionSanitize SafetyAction = "sanitize"
	ActionWarn     SafetyAction = "warn"
	ActionBlock    SafetyAction = "block"
)

type ThreatLevel string

const (
	ThreatSafe       ThreatLevel = "safe"
	ThreatSuspicious ThreatLevel = "suspicious"
	ThreatMalicious  ThreatLevel = "malicious"
)

// Severity orders threat levels so layered detectors can keep the maximum.
func (t ThreatLevel) Severity() int {
	switch t {
	case ThreatMalicious:
		return 2
	case ThreatSuspicious:
		return 1
	default:
		return 0
	}
}

func MaxThreat(a, b ThreatLevel) ThreatLevel {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

type ModerationResult string

const (
	ModerationAllowed     ModerationResult = "allowed"
	ModerationNeedsReview ModerationResult = "needs_review"
	ModerationBlocked     ModerationResult = "blocked"
)

type ModerationCategory string

const (
	CategoryViolence  ModerationCategory = "violence"
	CategoryAdult     ModerationCategory = "adult"
	CategoryDrugs     ModerationCategory = "drugs"
	CategorySelfHarm  ModerationCategory = "self_harm"
	CategoryWeapons   ModerationCategory = "weapons"
	CategoryProfanity ModerationCategory = "profanity"
	CategoryBullying  ModerationCategory = "bullying"
	CategoryOffTopic  ModerationCategory = "off_topic"
)

// SeriousCategory reports whether a match in this category blocks at any
// grade. Profanity and bullying block only in strict grade bands.
func (c ModerationCategory) Serious() bool {
	switch c {
	case CategoryViolence, CategoryAdult, CategoryDrugs, CategorySelfHarm, CategoryWeapons:
		return true
	default:
		return false
	}
}

type ModerationResponse struct {
	Result     ModerationResult     `json:"result"`
	Categories []ModerationCategory `json:"categories,omitempty"`
	Reason     string               `json:"reason,omitempty"`
}

type InjectionAnalysis struct {
	ThreatLevel      ThreatLevel `json:"threat_level"`
	Confidence       float64     `json:"confidence"`
	DetectedPatterns []string    `json:"detected_patterns,omitempty"`
	ShouldBlock      bool        `json:"should_block"`
	// Warnings carries suspicious-but-not-blocking findings; they surface
	// on the pipeline result and never cause a block by themselves.
	Warnings []string `json:"warnings,omitempty"`
}

// SafetyCheckResult is the per-call verdict of the input pipeline.
// Invariant: Action == ActionBlock iff the injection threat is malicious or
// moderation blocked. Session-scoped; never persisted.
type SafetyCheckResult struct {
	Action           SafetyAction     `json:"action"`
	OriginalText     string           `json:"original_text"`
	ProcessedText    string           `json:"processed_text"`
	PIIDetected      bool             `json:"pii_detected"`
	PIITypes         []string         `json:"pii_types,omitempty"`
	InjectionThreat  ThreatLevel      `json:"injection_threat"`
	ModerationResult ModerationResult `json:"moderation_result"`
	BlockReason      string           `json:"block_reason,omitempty"`
	Warnings         []string         `json:"warnings,omitempty"`
}

// OutputValidationResult reports the self-correction loop outcome.
// Iterations never exceeds maxRetries+1; when IsSafe is false the validated
// output is a fixed fallback string, never the raw unsafe text.
type OutputValidationResult struct {
	IsSafe          bool     `json:"is_safe"`
	ValidatedOutput string   `json:"validated_output"`
	Iterations      int      `json:"iterations"`
	IssuesFound     []string `json:"issues_found,omitempty"`
}
