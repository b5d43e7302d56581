package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/learnloop/tutor-core/internal/core/domain"
	"github.com/learnloop/tutor-core/internal/core/ports"
)

const (
	defaultAnswerTopK     = 5
	defaultMaxRewrites    = 2
	defaultGradingCutoff  = 0.5
	metaChunkLimit        = 8
	historyWindow         = 6
	graphEntityLimit      = 5
	groundingOverlapNeed  = 3
	groundingWordMinLen   = 5
	groundingChunkPreview = 20
)

// AnswerEngine answers student questions over indexed documents with a
// corrective retrieval loop: low-relevance retrievals trigger bounded query
// rewrites, and ungrounded answers trigger a single stricter regeneration.
type AnswerEngine struct {
	generator ports.TextGenerator
	embedder  ports.Embedder
	retriever *HybridRetriever
	vectors   ports.VectorIndex
	graph     ports.KnowledgeGraph
	sessions  ports.SessionStore
	reviewer  ports.QuestionReviewer

	topK          int
	maxRewrites   int
	gradingCutoff float64
}

type AnswerEngineOption func(*AnswerEngine)

func WithTopK(n int) AnswerEngineOption {
	return func(e *AnswerEngine) {
		if n > 0 {
			e.topK = n
		}
	}
}

func WithGradingCutoff(cutoff float64) AnswerEngineOption {
	return func(e *AnswerEngine) {
		if cutoff > 0 {
			e.gradingCutoff = cutoff
		}
	}
}

func WithMaxRewrites(n int) AnswerEngineOption {
	return func(e *AnswerEngine) {
		if n >= 0 {
			e.maxRewrites = n
		}
	}
}

func NewAnswerEngine(
	generator ports.TextGenerator,
	embedder ports.Embedder,
	retriever *HybridRetriever,
	vectors ports.VectorIndex,
	graph ports.KnowledgeGraph,
	sessions ports.SessionStore,
	reviewer ports.QuestionReviewer,
	opts ...AnswerEngineOption,
) *AnswerEngine {
	e := &AnswerEngine{
		generator:     generator,
		embedder:      embedder,
		retriever:     retriever,
		vectors:       vectors,
		graph:         graph,
		sessions:      sessions,
		reviewer:      reviewer,
		topK:          defaultAnswerTopK,
		maxRewrites:   defaultMaxRewrites,
		gradingCutoff: defaultGradingCutoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Chat answers one conversational turn. Retrieval failure degrades to a
// no-context answer rather than an error; only generation failure surfaces.
func (e *AnswerEngine) Chat(ctx context.Context, req domain.ChatRequest) (*domain.Answer, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chat", fmt.Errorf("empty query"))
	}

	// The route is decided once and holds through the rewrite loop.
	route := routeQuery(req.Query)

	chunks, retrievalDown := e.retrieveWithCorrection(ctx, req.Query, route, req.Scope)
	if retrievalDown && len(chunks) == 0 {
		return &domain.Answer{
			Text:     "I couldn't reach the study materials right now, so I can't look that up. Please try again in a little while.",
			Grounded: false,
		}, nil
	}

	history := e.loadHistory(ctx, req.SessionID)
	graphContext := e.graphContext(ctx, req.Query)

	answerText, err := e.generateAnswer(ctx, req.Query, chunks, history, graphContext, req.Grade, false)
	if err != nil {
		return nil, domain.WrapError(domain.ErrGenerationFailure, "chat", err)
	}

	grounded := isGrounded(answerText, chunks)
	if !grounded && len(chunks) > 0 {
		// One stricter pass; the result is accepted either way.
		if regenerated, regenErr := e.generateAnswer(ctx, req.Query, chunks, history, graphContext, req.Grade, true); regenErr == nil {
			answerText = regenerated
			grounded = isGrounded(answerText, chunks)
		}
	}

	answer := &domain.Answer{
		Text:       answerText,
		Sources:    sourcesOf(chunks),
		Grounded:   grounded,
		Confidence: meanComparableScore(chunks),
	}

	e.persistTurn(ctx, req, answer)
	return answer, nil
}

// retrieveWithCorrection runs embed, retrieve, grade, and up to maxRewrites
// query rewrites. On rewrite exhaustion it keeps the best retrieval seen so
// far instead of failing.
func (e *AnswerEngine) retrieveWithCorrection(
	ctx context.Context,
	query string,
	route domain.QueryRoute,
	scope domain.SearchFilter,
) ([]domain.HybridSearchResult, bool) {
	currentQuery := query
	var best []domain.HybridSearchResult
	bestMean := -1.0

	for attempt := 0; attempt <= e.maxRewrites; attempt++ {
		chunks, err := e.retrieveOnce(ctx, currentQuery, route, scope)
		if err != nil {
			return best, true
		}

		mean := meanSimilarity(chunks)
		if mean > bestMean {
			best = chunks
			bestMean = mean
		}
		if mean >= e.gradingCutoff {
			return chunks, false
		}
		if attempt == e.maxRewrites {
			break
		}

		rewritten, rewriteErr := e.rewriteQuery(ctx, currentQuery, query)
		if rewriteErr != nil {
			break
		}
		currentQuery = rewritten
	}

	// Give-up branch: answer from the best low-relevance retrieval.
	return best, false
}

func (e *AnswerEngine) retrieveOnce(
	ctx context.Context,
	query string,
	route domain.QueryRoute,
	scope domain.SearchFilter,
) ([]domain.HybridSearchResult, error) {
	queryVector, err := e.embedForRoute(ctx, query, route)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := e.retriever.Search(ctx, query, queryVector, e.topK, scope, true)
	if err != nil {
		return nil, err
	}
	results = e.retriever.FilterRelevant(results)

	if route == domain.RouteMeta {
		results = e.prependMetaChunks(ctx, scope, results)
	}
	return results, nil
}

// embedForRoute embeds detail queries through a HyDE transform: a generated
// hypothetical answer paragraph embeds closer to real content chunks than a
// short question does. Transform failure falls back to the raw query.
func (e *AnswerEngine) embedForRoute(ctx context.Context, query string, route domain.QueryRoute) ([]float32, error) {
	if route == domain.RouteDetail {
		hypothetical, err := e.generator.Generate(ctx, fmt.Sprintf(hydePromptTemplate, query), "")
		if err == nil && strings.TrimSpace(hypothetical) != "" {
			return e.embedder.EmbedQuery(ctx, hypothetical)
		}
	}
	return e.embedder.EmbedQuery(ctx, query)
}

const hydePromptTemplate = `Write one short textbook-style paragraph that would answer this student question. Do not address the student, just state the information.

Question: %s`

// prependMetaChunks puts document and section summaries first for broad
// queries, deduplicated against the general retrieval by chunk id.
func (e *AnswerEngine) prependMetaChunks(
	ctx context.Context,
	scope domain.SearchFilter,
	results []domain.HybridSearchResult,
) []domain.HybridSearchResult {
	metas, err := e.vectors.SearchMeta(ctx, scope, metaChunkLimit)
	if err != nil || len(metas) == 0 {
		return results
	}

	seen := make(map[string]struct{}, len(metas))
	out := make([]domain.HybridSearchResult, 0, len(metas)+len(results))
	for _, meta := range metas {
		seen[meta.ChunkID] = struct{}{}
		out = append(out, domain.HybridSearchResult{
			RetrievedChunk: meta,
			VectorScore:    meta.Similarity,
		})
	}
	for _, res := range results {
		if _, dup := seen[res.ChunkID]; dup {
			continue
		}
		out = append(out, res)
	}
	return out
}

const rewritePromptTemplate = `A search over study documents for the query below returned weakly related results. Rewrite the query to use more specific, content-bearing words. Return only the rewritten query.

Original question: %s
Current query: %s`

func (e *AnswerEngine) rewriteQuery(ctx context.Context, currentQuery, originalQuery string) (string, error) {
	rewritten, err := e.generator.Generate(ctx, fmt.Sprintf(rewritePromptTemplate, originalQuery, currentQuery), "")
	if err != nil {
		return "", fmt.Errorf("rewrite query: %w", err)
	}
	rewritten = strings.TrimSpace(strings.Trim(strings.TrimSpace(rewritten), `"`))
	if rewritten == "" {
		return "", fmt.Errorf("rewrite query: empty rewrite")
	}
	return rewritten, nil
}

// graphContext widens generation context with entities related to those in
// the query. Any failure leaves the context empty.
func (e *AnswerEngine) graphContext(ctx context.Context, query string) []domain.RelatedEntity {
	if e.graph == nil || !e.graph.IsAvailable(ctx) {
		return nil
	}
	entities := extractEntities(query)
	if len(entities) == 0 {
		return nil
	}
	related, err := e.graph.FindRelated(ctx, entities, 2, graphEntityLimit)
	if err != nil {
		return nil
	}
	return related
}

// extractEntities picks capitalized words that do not start a sentence.
func extractEntities(query string) []string {
	fields := strings.Fields(query)
	out := make([]string, 0, 4)
	sentenceStart := true
	for _, f := range fields {
		word := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) })
		if word == "" {
			continue
		}
		first := []rune(word)[0]
		if unicode.IsUpper(first) && !sentenceStart && len(word) > 2 {
			out = append(out, word)
		}
		sentenceStart = strings.ContainsAny(f, ".!?")
	}
	return out
}

// The separator line quoted in the prompt must be the exact string clients
// split answers on, so it is built from the shared constant.
var answerSystemPrompt = `You are a friendly tutor for school students. Answer in clear, simple language suited to grade %d.
Base your answer on the provided document excerpts. If you add information that is not in the excerpts, put it after the line "` +
	strings.TrimSpace(domain.GeneralKnowledgeSeparator) + `".
If the excerpts do not contain the answer, say you could not find it in the documents.`

const strictAnswerSystemPrompt = `You are a friendly tutor for school students. Answer in clear, simple language suited to grade %d.
Answer ONLY from the provided document excerpts and quote or closely restate their wording. If the excerpts do not contain the answer, reply exactly that you could not find this in the documents.`

func (e *AnswerEngine) generateAnswer(
	ctx context.Context,
	query string,
	chunks []domain.HybridSearchResult,
	history []domain.SessionMessage,
	related []domain.RelatedEntity,
	grade int,
	strict bool,
) (string, error) {
	var b strings.Builder
	if len(chunks) > 0 {
		b.WriteString("Document excerpts:\n")
		for i, c := range chunks {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, c.Filename, c.Content)
		}
	} else {
		b.WriteString("No document excerpts were found for this question.\n")
	}
	if len(related) > 0 {
		b.WriteString("\nRelated concepts: ")
		names := make([]string, len(related))
		for i, r := range related {
			names[i] = r.Name
		}
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n")
	}
	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, msg := range history {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
	}
	fmt.Fprintf(&b, "\nStudent question: %s", query)

	system := fmt.Sprintf(answerSystemPrompt, grade)
	if strict {
		system = fmt.Sprintf(strictAnswerSystemPrompt, grade)
	}

	answer, err := e.generator.Generate(ctx, b.String(), system)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("generate answer: empty response")
	}
	return answer, nil
}

// isGrounded accepts an answer when any chunk's opening words overlap it by
// at least three longer words, or when the answer admits nothing was found.
func isGrounded(answer string, chunks []domain.HybridSearchResult) bool {
	lowered := strings.ToLower(answer)
	for _, phrase := range []string{"couldn't find", "could not find", "not found in", "no information", "don't have information", "do not have information"} {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}

	answerWords := make(map[string]struct{}, 64)
	for _, w := range strings.Fields(lowered) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len(w) >= groundingWordMinLen {
			answerWords[w] = struct{}{}
		}
	}

	for _, c := range chunks {
		fields := strings.Fields(strings.ToLower(c.Content))
		if len(fields) > groundingChunkPreview {
			fields = fields[:groundingChunkPreview]
		}
		overlap := 0
		for _, w := range fields {
			w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
			if len(w) < groundingWordMinLen {
				continue
			}
			if _, ok := answerWords[w]; ok {
				overlap++
				if overlap >= groundingOverlapNeed {
					return true
				}
			}
		}
	}
	return false
}

// routeQuery classifies a query as broad (meta) or specific (detail) once
// per request.
func routeQuery(query string) domain.QueryRoute {
	lowered := strings.ToLower(query)
	broadMarkers := []string{
		"what is this document about",
		"what is the document about",
		"summarize", "summary", "overview",
		"main idea", "main topic", "key points",
		"what does this cover", "tell me about this document",
	}
	for _, marker := range broadMarkers {
		if strings.Contains(lowered, marker) {
			return domain.RouteMeta
		}
	}
	return domain.RouteDetail
}

func sourcesOf(chunks []domain.HybridSearchResult) []domain.RetrievedChunk {
	out := make([]domain.RetrievedChunk, len(chunks))
	for i, c := range chunks {
		out[i] = c.RetrievedChunk
	}
	return out
}

func meanSimilarity(chunks []domain.HybridSearchResult) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range chunks {
		sum += c.Similarity
	}
	return sum / float64(len(chunks))
}

func meanComparableScore(chunks []domain.HybridSearchResult) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range chunks {
		sum += c.ComparableScore()
	}
	return sum / float64(len(chunks))
}

func (e *AnswerEngine) loadHistory(ctx context.Context, sessionID string) []domain.SessionMessage {
	if e.sessions == nil || sessionID == "" {
		return nil
	}
	history, err := e.sessions.ListRecentMessages(ctx, sessionID, historyWindow)
	if err != nil {
		return nil
	}
	return history
}

// persistTurn records both sides of the exchange. Best effort: a memory
// write failure must not fail an already generated answer.
func (e *AnswerEngine) persistTurn(ctx context.Context, req domain.ChatRequest, answer *domain.Answer) {
	if e.sessions == nil || req.SessionID == "" {
		return
	}
	turn, err := e.sessions.NextTurn(ctx, req.SessionID, req.StudentID)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	_ = e.sessions.AppendMessage(ctx, domain.SessionMessage{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		StudentID: req.StudentID,
		Role:      "student",
		Content:   req.Query,
		Turn:      turn,
		CreatedAt: now,
	})
	_ = e.sessions.AppendMessage(ctx, domain.SessionMessage{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		StudentID: req.StudentID,
		Role:      "tutor",
		Content:   answer.Text,
		Turn:      turn + 1,
		CreatedAt: now,
	})
}
