package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/learnloop/tutor-core/internal/core/domain"
	"github.com/learnloop/tutor-core/internal/core/ports"
)

const (
	profileSampleLimit = 4000
	maxSectionCount    = 5
	sectionSampleLimit = 3000
)

// ProcessDocumentUseCase turns an uploaded document into indexed retrieval
// units: content chunks at their positional indices plus meta-chunks (the
// document summary at -1 and section summaries at -2, -3, ...) that broad
// queries are routed to.
type ProcessDocumentUseCase struct {
	repo      ports.DocumentRepository
	extractor ports.TextExtractor
	generator ports.TextGenerator
	chunker   ports.Chunker
	embedder  ports.Embedder
	vectors   ports.VectorIndex
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	extractor ports.TextExtractor,
	generator ports.TextGenerator,
	chunker ports.Chunker,
	embedder ports.Embedder,
	vectors ports.VectorIndex,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		repo:      repo,
		extractor: extractor,
		generator: generator,
		chunker:   chunker,
		embedder:  embedder,
		vectors:   vectors,
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	if err := uc.markStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	doc, profile, err := uc.processPipeline(ctx, documentID)
	if err != nil {
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.SaveProfile(ctx, doc.ID, profile); err != nil {
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			return fmt.Errorf("save profile: %w; mark failed status: %v", err, failErr)
		}
		return fmt.Errorf("save profile: %w", err)
	}

	if err := uc.markStatus(ctx, documentID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}

	return nil
}

func (uc *ProcessDocumentUseCase) processPipeline(ctx context.Context, documentID string) (*domain.Document, domain.DocumentProfile, error) {
	var profile domain.DocumentProfile

	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, profile, fmt.Errorf("fetch document by id: %w", err)
	}

	text, err := uc.extractText(ctx, doc)
	if err != nil {
		return nil, profile, err
	}

	profile, err = uc.profileDocument(ctx, text)
	if err != nil {
		return nil, profile, err
	}

	chunks := uc.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, profile, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}

	records, err := uc.buildRecords(ctx, chunks, profile.Summary)
	if err != nil {
		return nil, profile, err
	}

	uc.applyProfile(doc, profile)

	if err := uc.vectors.IndexChunks(ctx, doc, records); err != nil {
		return nil, profile, fmt.Errorf("index chunks in vector db: %w", err)
	}

	return doc, profile, nil
}

func (uc *ProcessDocumentUseCase) extractText(ctx context.Context, doc *domain.Document) (string, error) {
	text, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	if text == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}
	return text, nil
}

const profilePromptTemplate = `Read this study document excerpt and return JSON:
{"subject": "...", "grade_level": <1-12>, "tags": ["..."], "confidence": <0-1>, "summary": "<3-5 sentence summary of the whole document>"}

Excerpt:
%s`

func (uc *ProcessDocumentUseCase) profileDocument(ctx context.Context, text string) (domain.DocumentProfile, error) {
	var profile domain.DocumentProfile

	raw, err := uc.generator.GenerateJSON(ctx, fmt.Sprintf(profilePromptTemplate, head(text, profileSampleLimit)))
	if err != nil {
		return profile, fmt.Errorf("profile document: %w", err)
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &profile); err != nil {
		return profile, fmt.Errorf("parse document profile: %w", err)
	}
	if strings.TrimSpace(profile.Summary) == "" {
		return profile, domain.WrapError(domain.ErrInvalidInput, "profile document", errors.New("empty summary"))
	}
	return profile, nil
}

// buildRecords embeds content chunks, the document summary, and generated
// section summaries in a single embedding batch.
func (uc *ProcessDocumentUseCase) buildRecords(ctx context.Context, chunks []string, summary string) ([]domain.ChunkRecord, error) {
	sectionSummaries := uc.summarizeSections(ctx, chunks)

	texts := make([]string, 0, len(chunks)+1+len(sectionSummaries))
	records := make([]domain.ChunkRecord, 0, cap(texts))

	for i, chunk := range chunks {
		texts = append(texts, chunk)
		records = append(records, domain.ChunkRecord{Index: i, Content: chunk})
	}
	texts = append(texts, summary)
	records = append(records, domain.ChunkRecord{Index: domain.DocumentSummaryIndex, Content: summary})
	for i, section := range sectionSummaries {
		texts = append(texts, section)
		records = append(records, domain.ChunkRecord{Index: domain.DocumentSummaryIndex - 1 - i, Content: section})
	}

	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(records) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/records mismatch: %d/%d", len(vectors), len(records)),
		)
	}
	for i := range records {
		records[i].Vector = vectors[i]
	}
	return records, nil
}

const sectionPromptTemplate = `Summarize this section of a study document in 2-3 sentences. Return only the summary.

Section:
%s`

// summarizeSections is best effort: a section whose summary call fails is
// simply skipped, the content chunks still carry it.
func (uc *ProcessDocumentUseCase) summarizeSections(ctx context.Context, chunks []string) []string {
	sections := groupIntoSections(chunks, maxSectionCount)
	if len(sections) < 2 {
		return nil
	}

	out := make([]string, 0, len(sections))
	for _, section := range sections {
		summary, err := uc.generator.Generate(ctx, fmt.Sprintf(sectionPromptTemplate, head(section, sectionSampleLimit)), "")
		if err != nil {
			continue
		}
		if summary = strings.TrimSpace(summary); summary != "" {
			out = append(out, summary)
		}
	}
	return out
}

func groupIntoSections(chunks []string, maxSections int) []string {
	if len(chunks) == 0 || maxSections <= 0 {
		return nil
	}
	perSection := (len(chunks) + maxSections - 1) / maxSections
	if perSection < 1 {
		perSection = 1
	}

	sections := make([]string, 0, maxSections)
	for start := 0; start < len(chunks); start += perSection {
		end := start + perSection
		if end > len(chunks) {
			end = len(chunks)
		}
		sections = append(sections, strings.Join(chunks[start:end], "\n"))
	}
	return sections
}

func (uc *ProcessDocumentUseCase) applyProfile(doc *domain.Document, profile domain.DocumentProfile) {
	doc.Subject = profile.Subject
	doc.GradeLevel = profile.GradeLevel
	doc.Tags = profile.Tags
	doc.Confidence = profile.Confidence
	doc.Summary = profile.Summary
}

func (uc *ProcessDocumentUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, documentID, status, errMessage)
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, documentID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, documentID, domain.StatusFailed, processErr.Error())
}

func head(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
