package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/learnloop/tutor-core/internal/core/domain"
	"github.com/learnloop/tutor-core/internal/core/ports"
)

const (
	defaultSimilarityThreshold = 0.65
	defaultConceptWindow       = 15
	defaultPatternCap          = 2
	answerTolerance            = 0.001
)

// Check names surfaced in ValidationResult.FailedCheck.
const (
	checkDuplicate   = "duplicate"
	checkSimilarity  = "similarity"
	checkConcepts    = "concept_overlap"
	checkPatternUse  = "pattern_overuse"
	checkGradeLevel  = "grade_level"
	checkCorrectness = "answer_correctness"
	checkDistractors = "distractor_quality"
)

// QuestionValidator gates generated questions before a student sees them.
// Checks run in a fixed order and the first failure wins; external-call
// failures inside a check skip that check rather than rejecting, so backend
// trouble never blocks legitimate questions.
type QuestionValidator struct {
	embedder ports.Embedder
	sessions ports.SessionStore

	similarityThreshold float64
	conceptWindow       int
	patternCap          int
}

type QuestionValidatorOption func(*QuestionValidator)

func WithSimilarityThreshold(threshold float64) QuestionValidatorOption {
	return func(v *QuestionValidator) {
		if threshold > 0 {
			v.similarityThreshold = threshold
		}
	}
}

func WithConceptWindow(window int) QuestionValidatorOption {
	return func(v *QuestionValidator) {
		if window > 0 {
			v.conceptWindow = window
		}
	}
}

func WithPatternCap(cap int) QuestionValidatorOption {
	return func(v *QuestionValidator) {
		if cap > 0 {
			v.patternCap = cap
		}
	}
}

func NewQuestionValidator(embedder ports.Embedder, sessions ports.SessionStore, opts ...QuestionValidatorOption) *QuestionValidator {
	v := &QuestionValidator{
		embedder:            embedder,
		sessions:            sessions,
		similarityThreshold: defaultSimilarityThreshold,
		conceptWindow:       defaultConceptWindow,
		patternCap:          defaultPatternCap,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *QuestionValidator) Validate(ctx context.Context, req domain.QuestionValidationRequest) (*domain.ValidationResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate question", fmt.Errorf("empty question"))
	}

	recent, err := v.sessions.ListRecentQuestions(ctx, req.SessionID, v.conceptWindow)
	if err != nil {
		return nil, fmt.Errorf("load question history: %w", err)
	}

	hash := questionHash(question)
	for _, rec := range recent {
		if rec.Hash == hash {
			return reject(checkDuplicate, "exact duplicate of a recent question", ""), nil
		}
	}

	vector := v.embedQuestion(ctx, question)
	if res := v.checkSimilarity(question, vector, recent); res != nil {
		return res, nil
	}

	concepts := extractConcepts(question)
	if res := checkConceptOverlap(concepts, recent); res != nil {
		return res, nil
	}

	if pattern := detectQuestionPattern(question); pattern != "" {
		uses, patErr := v.sessions.IncrementPatternUse(ctx, req.SessionID, pattern)
		if patErr == nil && uses > v.patternCap {
			return reject(checkPatternUse, fmt.Sprintf("pattern %q already used %d times this session", pattern, uses-1), ""), nil
		}
	}

	if res := checkGradeAppropriateness(question, req.Grade); res != nil {
		return res, nil
	}

	if res := checkAnswerCorrectness(question, req.Answer); res != nil {
		return res, nil
	}

	if res := checkDistractorQuality(req.Subject, req.Answer, req.Options); res != nil {
		return res, nil
	}

	record := domain.QuestionRecord{
		Hash:      hash,
		Text:      question,
		Vector:    vector,
		Concepts:  concepts,
		CreatedAt: time.Now().UTC(),
	}
	if err := v.sessions.AppendQuestion(ctx, req.SessionID, record); err != nil {
		return nil, fmt.Errorf("record question: %w", err)
	}

	return &domain.ValidationResult{Valid: true}, nil
}

func reject(check, reason, expected string) *domain.ValidationResult {
	return &domain.ValidationResult{
		Valid:          false,
		FailedCheck:    check,
		Reason:         reason,
		ExpectedAnswer: expected,
	}
}

func questionHash(question string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// embedQuestion is best-effort: without a vector the cosine check is
// skipped and the structural checks still run.
func (v *QuestionValidator) embedQuestion(ctx context.Context, question string) []float32 {
	if v.embedder == nil {
		return nil
	}
	vector, err := v.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil
	}
	return vector
}

func (v *QuestionValidator) checkSimilarity(question string, vector []float32, recent []domain.QuestionRecord) *domain.ValidationResult {
	candidate := parseArithmetic(question)

	for _, rec := range recent {
		if vector != nil && rec.Vector != nil {
			if cosineSimilarity(vector, rec.Vector) >= v.similarityThreshold {
				return reject(checkSimilarity, "too similar to a recent question", "")
			}
		}
		if candidate != nil {
			if prior := parseArithmetic(rec.Text); prior != nil && candidate.equivalent(prior) {
				return reject(checkSimilarity, "same arithmetic problem as a recent question", "")
			}
		}
	}
	return nil
}

func checkConceptOverlap(concepts domain.QuestionConcepts, recent []domain.QuestionRecord) *domain.ValidationResult {
	for _, rec := range recent {
		for _, w := range concepts.Words {
			for _, prior := range rec.Concepts.Words {
				if w == prior {
					return reject(checkConcepts, fmt.Sprintf("concept %q already used recently", w), "")
				}
			}
		}
		for _, n := range concepts.Numbers {
			for _, prior := range rec.Concepts.Numbers {
				if n == prior {
					return reject(checkConcepts, fmt.Sprintf("number %v already used recently", n), "")
				}
			}
		}
		for _, p := range concepts.Positions {
			for _, prior := range rec.Concepts.Positions {
				if p == prior {
					return reject(checkConcepts, fmt.Sprintf("digit position %d already used recently", p), "")
				}
			}
		}
	}
	return nil
}

var gradeNumberCeilings = map[int]float64{1: 20, 2: 100, 3: 1000}

// complexVocabulary maps words to the lowest grade they suit.
var complexVocabulary = map[string]int{
	"quotient":       4,
	"numerator":      4,
	"denominator":    4,
	"approximately":  4,
	"perpendicular":  5,
	"photosynthesis": 5,
	"hypothesis":     6,
	"consequently":   6,
	"furthermore":    6,
	"hypotenuse":     7,
	"coefficient":    7,
}

func checkGradeAppropriateness(question string, grade int) *domain.ValidationResult {
	if ceiling, ok := gradeNumberCeilings[grade]; ok {
		for _, n := range extractNumbers(question) {
			if n > ceiling {
				return reject(checkGradeLevel,
					fmt.Sprintf("number %v exceeds the grade %d ceiling of %v", n, grade, ceiling), "")
			}
		}
	}

	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, ".,?!;:\"'")
		if minGrade, ok := complexVocabulary[w]; ok && grade < minGrade {
			return reject(checkGradeLevel,
				fmt.Sprintf("word %q is above grade %d vocabulary", w, grade), "")
		}
	}
	return nil
}

// checkAnswerCorrectness recomputes arithmetic and place-value answers.
// Questions matching neither pattern are assumed correct; that leniency is
// deliberate so open-ended questions are never blocked by the recomputer.
func checkAnswerCorrectness(question, answer string) *domain.ValidationResult {
	if strings.TrimSpace(answer) == "" {
		return nil
	}

	if pv := parsePlaceValue(question); pv != nil {
		expected := pv.expectedValue()
		provided, err := strconv.ParseFloat(cleanNumber(answer), 64)
		if err != nil || math.Abs(provided-expected) > answerTolerance {
			return reject(checkCorrectness,
				"provided answer does not match the digit's place value",
				formatNumber(expected))
		}
		return nil
	}

	if ar := parseArithmetic(question); ar != nil {
		expected, ok := ar.compute()
		if !ok {
			return nil
		}
		provided, err := strconv.ParseFloat(cleanNumber(answer), 64)
		if err != nil || math.Abs(provided-expected) > answerTolerance {
			return reject(checkCorrectness,
				"provided answer does not match the recomputed result",
				formatNumber(expected))
		}
	}
	return nil
}

func checkDistractorQuality(subject, answer string, options []string) *domain.ValidationResult {
	if len(options) == 0 {
		return nil
	}
	distractors := make([]string, 0, len(options))
	for _, opt := range options {
		if !strings.EqualFold(strings.TrimSpace(opt), strings.TrimSpace(answer)) {
			distractors = append(distractors, strings.TrimSpace(opt))
		}
	}

	switch strings.ToLower(subject) {
	case "math", "maths", "mathematics":
		if _, err := strconv.ParseFloat(cleanNumber(answer), 64); err == nil {
			for _, d := range distractors {
				if _, err := strconv.ParseFloat(cleanNumber(d), 64); err != nil {
					return reject(checkDistractors,
						fmt.Sprintf("distractor %q is not numeric for a numeric answer", d), "")
				}
			}
		}
	case "grammar", "english":
		answerClass := posClass(answer)
		if answerClass != "" {
			for _, d := range distractors {
				if posClass(d) == answerClass {
					return reject(checkDistractors,
						fmt.Sprintf("distractor %q shares the answer's word form", d), "")
				}
			}
		}
	case "science":
		lowerAnswer := strings.ToLower(strings.TrimSpace(answer))
		for _, d := range distractors {
			lowerD := strings.ToLower(d)
			if lowerAnswer != "" && (strings.Contains(lowerD, lowerAnswer) || strings.Contains(lowerAnswer, lowerD)) {
				return reject(checkDistractors,
					fmt.Sprintf("distractor %q overlaps the answer text", d), "")
			}
		}
	}
	return nil
}

// posClass is a suffix heuristic standing in for part-of-speech tagging.
func posClass(word string) string {
	w := strings.ToLower(strings.TrimSpace(word))
	switch {
	case strings.HasSuffix(w, "ing"):
		return "gerund"
	case strings.HasSuffix(w, "ly"):
		return "adverb"
	case strings.HasSuffix(w, "ed"):
		return "past"
	case strings.HasSuffix(w, "tion") || strings.HasSuffix(w, "ness") || strings.HasSuffix(w, "ment"):
		return "noun"
	default:
		return ""
	}
}

var (
	arithmeticRe = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*([+\-*/x×÷])\s*(-?\d+(?:\.\d+)?)`)
	placeValueRe = regexp.MustCompile(`(?i)value\s+of\s+(?:the\s+)?digit\s+(\d)\s+in\s+(?:the\s+number\s+)?([\d,]+)`)
	numberRe     = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

type arithmeticProblem struct {
	left, right float64
	operator    string
}

func parseArithmetic(question string) *arithmeticProblem {
	m := arithmeticRe.FindStringSubmatch(question)
	if m == nil {
		return nil
	}
	left, err1 := strconv.ParseFloat(m[1], 64)
	right, err2 := strconv.ParseFloat(m[3], 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	op := m[2]
	switch op {
	case "x", "×":
		op = "*"
	case "÷":
		op = "/"
	}
	return &arithmeticProblem{left: left, right: right, operator: op}
}

func (a *arithmeticProblem) compute() (float64, bool) {
	switch a.operator {
	case "+":
		return a.left + a.right, true
	case "-":
		return a.left - a.right, true
	case "*":
		return a.left * a.right, true
	case "/":
		if a.right == 0 {
			return 0, false
		}
		return a.left / a.right, true
	}
	return 0, false
}

// equivalent treats commutative operations as unordered.
func (a *arithmeticProblem) equivalent(b *arithmeticProblem) bool {
	if a.operator != b.operator {
		return false
	}
	if a.left == b.left && a.right == b.right {
		return true
	}
	if a.operator == "+" || a.operator == "*" {
		return a.left == b.right && a.right == b.left
	}
	return false
}

type placeValueProblem struct {
	digit  int
	number string
}

func parsePlaceValue(question string) *placeValueProblem {
	m := placeValueRe.FindStringSubmatch(question)
	if m == nil {
		return nil
	}
	digit, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	number := strings.ReplaceAll(m[2], ",", "")
	if number == "" {
		return nil
	}
	return &placeValueProblem{digit: digit, number: number}
}

// expectedValue uses the leftmost (most significant) occurrence of the
// digit as canonical when it appears more than once.
func (p *placeValueProblem) expectedValue() float64 {
	digitChar := byte('0' + p.digit)
	idx := strings.IndexByte(p.number, digitChar)
	if idx < 0 {
		return 0
	}
	position := len(p.number) - 1 - idx
	return float64(p.digit) * math.Pow(10, float64(position))
}

func detectQuestionPattern(question string) string {
	if placeValueRe.MatchString(question) {
		return "place_value"
	}
	if ar := parseArithmetic(question); ar != nil {
		switch ar.operator {
		case "+":
			return "arithmetic_addition"
		case "-":
			return "arithmetic_subtraction"
		case "*":
			return "arithmetic_multiplication"
		case "/":
			return "arithmetic_division"
		}
	}
	lowered := strings.ToLower(question)
	switch {
	case strings.HasPrefix(lowered, "how many"):
		return "counting"
	case strings.Contains(lowered, "round") && strings.Contains(lowered, "nearest"):
		return "rounding"
	}
	return ""
}

var conceptStopwords = map[string]struct{}{
	"what": {}, "which": {}, "where": {}, "when": {}, "does": {}, "this": {},
	"that": {}, "with": {}, "from": {}, "have": {}, "many": {}, "much": {},
	"number": {}, "value": {}, "digit": {}, "answer": {}, "following": {},
	"question": {}, "correct": {}, "their": {}, "there": {}, "would": {},
}

func extractConcepts(question string) domain.QuestionConcepts {
	concepts := domain.QuestionConcepts{
		Numbers: extractNumbers(question),
	}

	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, ".,?!;:\"'()")
		if len(w) < 4 {
			continue
		}
		if _, stop := conceptStopwords[w]; stop {
			continue
		}
		if numberRe.MatchString(w) {
			continue
		}
		concepts.Words = append(concepts.Words, w)
	}

	if pv := parsePlaceValue(question); pv != nil {
		digitChar := byte('0' + pv.digit)
		if idx := strings.IndexByte(pv.number, digitChar); idx >= 0 {
			concepts.Positions = append(concepts.Positions, len(pv.number)-1-idx)
		}
	}
	if pattern := detectQuestionPattern(question); pattern != "" {
		concepts.Formats = append(concepts.Formats, pattern)
	}
	return concepts
}

func extractNumbers(question string) []float64 {
	// Comma-grouped digits are one number, not several.
	collapsed := strings.NewReplacer(",", "").Replace(question)
	matches := numberRe.FindAllString(collapsed, -1)
	out := make([]float64, 0, len(matches))
	for _, m := range matches {
		if n, err := strconv.ParseFloat(m, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func cleanNumber(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
