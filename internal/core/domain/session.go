package domain

import "time"

// SessionMessage is one turn of tutor conversation memory, keyed by session.
// Sessions are partitioned by session id: concurrent requests for different
// sessions never contend.
type SessionMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Turn      int       `json:"turn"`
	CreatedAt time.Time `json:"created_at"`
}
