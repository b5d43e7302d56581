package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type"`
	StoragePath string         `json:"storage_path"`
	Subject     string         `json:"subject,omitempty"`
	GradeLevel  int            `json:"grade_level,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Confidence  float64        `json:"confidence,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DocumentProfile is what the LLM derives from extracted text during
// processing: subject/grade placement plus the document summary that later
// becomes the -1 meta-chunk.
type DocumentProfile struct {
	Subject    string   `json:"subject"`
	GradeLevel int      `json:"grade_level"`
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
	Summary    string   `json:"summary"`
}

// ChunkRecord is one indexable unit: content chunks carry their positional
// index, meta-chunks carry reserved negative indices.
type ChunkRecord struct {
	Index   int
	Content string
	Vector  []float32
}
