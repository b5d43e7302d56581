package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/learnloop/tutor-core/internal/core/domain"
)

// SessionStore keeps per-session tutoring state: conversation turns, message
// history, the question history the validator screens against, and pattern
// usage counters.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083002)); err != nil {
		return fmt.Errorf("acquire session schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	student_id TEXT NOT NULL,
	current_turn INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS session_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	student_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	turn INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_messages_session
	ON session_messages(session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS session_questions (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	hash TEXT NOT NULL,
	text TEXT NOT NULL,
	vector JSONB NOT NULL DEFAULT 'null'::jsonb,
	concepts JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_questions_session
	ON session_questions(session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS session_patterns (
	session_id TEXT NOT NULL,
	pattern TEXT NOT NULL,
	uses INT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, pattern)
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute session schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session schema tx: %w", err)
	}
	return nil
}

func (s *SessionStore) ensureSession(ctx context.Context, sessionID, studentID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (session_id, student_id, current_turn, created_at, updated_at)
VALUES ($1, $2, 0, $3, $3)
ON CONFLICT (session_id) DO NOTHING
`, sessionID, studentID, now)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// NextTurn advances and returns the session turn counter, creating the
// session row on first use.
func (s *SessionStore) NextTurn(ctx context.Context, sessionID, studentID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
UPDATE sessions
SET current_turn = current_turn + 1, updated_at = $2
WHERE session_id = $1
RETURNING current_turn
`, sessionID, time.Now().UTC())

	var turn int
	if err := row.Scan(&turn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if ensureErr := s.ensureSession(ctx, sessionID, studentID); ensureErr != nil {
				return 0, ensureErr
			}
			return s.NextTurn(ctx, sessionID, studentID)
		}
		return 0, fmt.Errorf("next turn: %w", err)
	}
	return turn, nil
}

func (s *SessionStore) AppendMessage(ctx context.Context, msg domain.SessionMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_messages (id, session_id, student_id, role, content, turn, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, msg.ID, msg.SessionID, msg.StudentID, msg.Role, msg.Content, msg.Turn, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SessionStore) ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.SessionMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, student_id, role, content, turn, created_at
FROM session_messages
WHERE session_id = $1
ORDER BY created_at DESC
LIMIT $2
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SessionMessage, 0, limit)
	for rows.Next() {
		var msg domain.SessionMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.StudentID,
			&msg.Role,
			&msg.Content,
			&msg.Turn,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan recent message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}

	// SQL returns newest first; reverse to chronological order for prompts.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SessionStore) AppendQuestion(ctx context.Context, sessionID string, rec domain.QuestionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	vectorJSON, err := json.Marshal(rec.Vector)
	if err != nil {
		return fmt.Errorf("marshal question vector: %w", err)
	}
	conceptsJSON, err := json.Marshal(rec.Concepts)
	if err != nil {
		return fmt.Errorf("marshal question concepts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO session_questions (session_id, hash, text, vector, concepts, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, sessionID, rec.Hash, rec.Text, vectorJSON, conceptsJSON, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append question: %w", err)
	}
	return nil
}

func (s *SessionStore) ListRecentQuestions(ctx context.Context, sessionID string, limit int) ([]domain.QuestionRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT hash, text, vector, concepts, created_at
FROM session_questions
WHERE session_id = $1
ORDER BY created_at DESC
LIMIT $2
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent questions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.QuestionRecord, 0, limit)
	for rows.Next() {
		var rec domain.QuestionRecord
		var vectorRaw, conceptsRaw []byte
		if err := rows.Scan(&rec.Hash, &rec.Text, &vectorRaw, &conceptsRaw, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent question: %w", err)
		}
		if err := json.Unmarshal(vectorRaw, &rec.Vector); err != nil {
			return nil, fmt.Errorf("unmarshal question vector: %w", err)
		}
		if err := json.Unmarshal(conceptsRaw, &rec.Concepts); err != nil {
			return nil, fmt.Errorf("unmarshal question concepts: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent questions: %w", err)
	}
	return out, nil
}

// IncrementPatternUse bumps the per-session counter for a question pattern
// and returns the new count.
func (s *SessionStore) IncrementPatternUse(ctx context.Context, sessionID, pattern string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
INSERT INTO session_patterns (session_id, pattern, uses, updated_at)
VALUES ($1, $2, 1, $3)
ON CONFLICT (session_id, pattern)
DO UPDATE SET uses = session_patterns.uses + 1, updated_at = $3
RETURNING uses
`, sessionID, pattern, time.Now().UTC())

	var uses int
	if err := row.Scan(&uses); err != nil {
		return 0, fmt.Errorf("increment pattern use: %w", err)
	}
	return uses, nil
}
