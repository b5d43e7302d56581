package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/learnloop/tutor-core/internal/core/domain"
	"github.com/learnloop/tutor-core/internal/core/ports"
	"github.com/learnloop/tutor-core/internal/observability/metrics"
)

// blockedRedirectMessage is what a student sees when input is blocked by
// policy. The internal block reason goes to the client application, never
// into the conversational answer.
const blockedRedirectMessage = "I can't help with that. Let's get back to your studies. What would you like to learn about?"

type RouterOptions struct {
	Service        string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	MaxWait        time.Duration
}

type Router struct {
	safety    ports.SafetyValidator
	answers   ports.AnswerService
	reviewer  ports.QuestionReviewer
	ingestor  ports.DocumentIngestor
	documents ports.DocumentReader
	metrics   *metrics.HTTPServerMetrics
	opts      RouterOptions
}

func NewRouter(
	safety ports.SafetyValidator,
	answers ports.AnswerService,
	reviewer ports.QuestionReviewer,
	ingestor ports.DocumentIngestor,
	documents ports.DocumentReader,
	serverMetrics *metrics.HTTPServerMetrics,
	opts RouterOptions,
) *Router {
	if opts.Service == "" {
		opts.Service = "api"
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 2 * time.Second
	}
	return &Router{
		safety:    safety,
		answers:   answers,
		reviewer:  reviewer,
		ingestor:  ingestor,
		documents: documents,
		metrics:   serverMetrics,
		opts:      opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/documents", rt.uploadDocument)
	mux.HandleFunc("/v1/documents/", rt.getDocumentByID)
	mux.HandleFunc("/v1/safety/validate", rt.validateInput)
	mux.HandleFunc("/v1/rag/chat", rt.chat)
	mux.HandleFunc("/v1/rag/quiz", rt.quiz)
	mux.HandleFunc("/v1/questions/validate", rt.validateQuestion)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	handler := http.Handler(mux)
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.MaxWait)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.opts.Service, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.ingestor.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	doc, err := rt.documents.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) validateInput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Text      string `json:"text"`
		Grade     int    `json:"grade"`
		StudentID string `json:"student_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	result, err := rt.safety.ValidateInput(r.Context(), req.Text, req.Grade, req.StudentID)
	if err != nil {
		writeError(w, err)
		return
	}
	rt.recordInputCheck(result)
	writeJSON(w, http.StatusOK, result)
}

type chatResponse struct {
	Answer      string                  `json:"answer"`
	Sources     []domain.RetrievedChunk `json:"sources,omitempty"`
	Grounded    bool                    `json:"grounded"`
	Confidence  float64                 `json:"confidence"`
	Blocked     bool                    `json:"blocked,omitempty"`
	BlockReason string                  `json:"block_reason,omitempty"`
	PIIDetected bool                    `json:"pii_detected,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
}

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	start := time.Now()

	var req struct {
		Query       string   `json:"query"`
		StudentID   string   `json:"student_id"`
		Grade       int      `json:"grade"`
		SessionID   string   `json:"session_id"`
		DocumentIDs []string `json:"document_ids"`
		Subject     string   `json:"subject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	if req.Grade <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "grade is required"})
		return
	}

	check, err := rt.safety.ValidateInput(r.Context(), req.Query, req.Grade, req.StudentID)
	if err != nil {
		writeError(w, err)
		return
	}
	rt.recordInputCheck(check)

	if check.Action == domain.ActionBlock {
		rt.recordAnswer("chat", "blocked", 0, time.Since(start))
		writeJSON(w, http.StatusOK, chatResponse{
			Answer:      blockedRedirectMessage,
			Blocked:     true,
			BlockReason: check.BlockReason,
		})
		return
	}

	// Downstream stages only ever see the redacted text.
	answer, err := rt.answers.Chat(r.Context(), domain.ChatRequest{
		Query:     check.ProcessedText,
		StudentID: req.StudentID,
		Grade:     req.Grade,
		SessionID: req.SessionID,
		Scope: domain.SearchFilter{
			DocumentIDs: req.DocumentIDs,
			Subject:     req.Subject,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := chatResponse{
		Answer:      answer.Text,
		Sources:     answer.Sources,
		Grounded:    answer.Grounded,
		Confidence:  answer.Confidence,
		PIIDetected: check.PIIDetected,
		Warnings:    check.Warnings,
	}

	if out, outErr := rt.safety.ValidateOutput(r.Context(), answer.Text, check.ProcessedText, req.Grade); outErr == nil {
		resp.Answer = out.ValidatedOutput
		if rt.metrics != nil {
			rt.metrics.RecordOutputValidation(rt.opts.Service, out.Iterations, !out.IsSafe)
		}
		if !out.IsSafe {
			// The fallback message cites no documents.
			resp.Sources = nil
			resp.Grounded = false
		}
	}

	outcome := "ungrounded"
	if resp.Grounded {
		outcome = "grounded"
	} else if rt.metrics != nil {
		rt.metrics.RecordUngroundedAnswer(rt.opts.Service)
	}
	rt.recordAnswer("chat", outcome, len(resp.Sources), time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) quiz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	start := time.Now()

	var req struct {
		StudentID    string   `json:"student_id"`
		NumQuestions int      `json:"num_questions"`
		Grade        int      `json:"grade"`
		SessionID    string   `json:"session_id"`
		DocumentIDs  []string `json:"document_ids"`
		Subject      string   `json:"subject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Grade <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "grade is required"})
		return
	}

	questions, err := rt.answers.GenerateQuiz(r.Context(), domain.QuizRequest{
		StudentID:    req.StudentID,
		NumQuestions: req.NumQuestions,
		Grade:        req.Grade,
		SessionID:    req.SessionID,
		Scope: domain.SearchFilter{
			DocumentIDs: req.DocumentIDs,
			Subject:     req.Subject,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	rt.recordAnswer("quiz", "ok", len(questions), time.Since(start))
	writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

func (rt *Router) validateQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req domain.QuestionValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	result, err := rt.reviewer.Validate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordQuestionValidation(rt.opts.Service, result.Valid, result.FailedCheck)
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) recordInputCheck(result *domain.SafetyCheckResult) {
	if rt.metrics == nil || result == nil {
		return
	}
	rt.metrics.RecordInputValidation(rt.opts.Service, string(result.Action))
	rt.metrics.RecordInjectionThreat(rt.opts.Service, string(result.InjectionThreat))
	rt.metrics.RecordModeration(rt.opts.Service, string(result.ModerationResult), "")
	for _, entityType := range result.PIITypes {
		rt.metrics.RecordPIIEntity(rt.opts.Service, entityType)
	}
}

func (rt *Router) recordAnswer(endpoint, outcome string, sources int, elapsed time.Duration) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.RecordAnswer(rt.opts.Service, endpoint, outcome, sources, elapsed)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
