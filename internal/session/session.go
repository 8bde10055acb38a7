package session

import (
	"strings"
	"time"
)

// Sender identifies who authored a message
type Sender string

const (
	SenderTutor Sender = "tutor"
	SenderUser  Sender = "user"
)

// Status tracks whether the tutor service has accepted a message.
// User messages are shown optimistically and start out pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Message represents a single entry in the conversation log
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`
}

// Session is the identifier pair issued by the tutor service
type Session struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Valid reports whether both identifiers are present.
func (s Session) Valid() bool {
	return strings.TrimSpace(s.UserID) != "" && strings.TrimSpace(s.SessionID) != ""
}

// Problem is the statement a learner wants to be tutored on
type Problem struct {
	Text string `json:"problem"`
}
