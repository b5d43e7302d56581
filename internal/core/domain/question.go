package domain

import "time"

type QuizQuestion struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Options  []string `json:"options,omitempty"`
	Subject  string   `json:"subject,omitempty"`
	Grade    int      `json:"grade,omitempty"`
}

// ValidationResult is the question-validator verdict. FailedCheck names the
// first check that rejected the question; ExpectedAnswer is filled when
// answer recomputation disagrees with the provided answer.
type ValidationResult struct {
	Valid          bool   `json:"valid"`
	FailedCheck    string `json:"failed_check,omitempty"`
	Reason         string `json:"reason,omitempty"`
	ExpectedAnswer string `json:"expected_answer,omitempty"`
}

// QuestionConcepts tracks the reusable surface of a question so near
// duplicates can be rejected across a session.
type QuestionConcepts struct {
	Words     []string  `json:"words,omitempty"`
	Numbers   []float64 `json:"numbers,omitempty"`
	Positions []int     `json:"positions,omitempty"`
	Formats   []string  `json:"formats,omitempty"`
}

type QuestionRecord struct {
	Hash      string           `json:"hash"`
	Text      string           `json:"text"`
	Vector    []float32        `json:"-"`
	Concepts  QuestionConcepts `json:"concepts"`
	CreatedAt time.Time        `json:"created_at"`
}

type QuestionValidationRequest struct {
	Question  string   `json:"question"`
	SessionID string   `json:"session_id"`
	Grade     int      `json:"grade"`
	Subject   string   `json:"subject,omitempty"`
	Answer    string   `json:"answer,omitempty"`
	Options   []string `json:"options,omitempty"`
}

type QuizRequest struct {
	Scope        SearchFilter `json:"-"`
	StudentID    string       `json:"student_id"`
	NumQuestions int          `json:"num_questions"`
	Grade        int          `json:"grade"`
	SessionID    string       `json:"session_id,omitempty"`
}
