package memory

import (
	"fmt"
	"strings"
	"time"
)

// Turn is one question and answer exchange within a session.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"` // 1-based position in the session log
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Citations []string  `json:"citations,omitempty"` // chunk IDs included in the prompt
	Truncated bool      `json:"truncated,omitempty"` // generation was cancelled mid-stream
	CreatedAt time.Time `json:"created_at"`
}

// Text returns the turn as embedded for long-term recall.
func (t Turn) Text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\nAnswer: %s", t.Query, t.Answer)
	return strings.TrimSpace(sb.String())
}

// Session summarizes one session's log.
type Session struct {
	ID         string    `json:"id"`
	Turns      int       `json:"turns"`
	LastActive time.Time `json:"last_active"`
}

// Record is a turn as stored in a Log, with its optional recall vector.
type Record struct {
	Turn   Turn
	Vector []float32
}
