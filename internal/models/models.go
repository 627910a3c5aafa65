package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleAssistant, RoleSystem:
		return r, nil
	default:
		return "", fmt.Errorf("invalid message role %q", s)
	}
}

// Session represents a single ongoing conversation
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Message is one immutable entry of a session's history.
// ID is assigned by the store and increases with every append.
type Message struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ActivityCounts holds session and message totals over a time range.
type ActivityCounts struct {
	Sessions int `json:"sessions"`
	Messages int `json:"messages"`
}

// DateLayout is the calendar-day format used for summary and stats keys.
const DateLayout = "2006-01-02"

// Day formats t as a UTC calendar date.
func Day(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Summary is the condensed history of a session for one calendar day.
type Summary struct {
	SessionID          string         `json:"session_id"`
	SummaryDate        string         `json:"summary_date"`
	Content            string         `json:"summary_content"`
	SourceMessageCount int            `json:"source_message_count"`
	Topics             []string       `json:"topics"`
	KeyDecisions       []string       `json:"key_decisions,omitempty"`
	ImportantFacts     []string       `json:"important_facts,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Summary metadata keys.
const (
	MetaKeptRecent    = "kept_recent"
	MetaLastMessageID = "last_message_id"
	MetaIncremental   = "incremental"
)

// LastMessageID reports the ID of the newest message folded into the
// summary. Metadata decoded from JSON holds numbers as float64.
func (s *Summary) LastMessageID() (int64, bool) {
	switch id := s.Metadata[MetaLastMessageID].(type) {
	case int64:
		return id, true
	case int:
		return int64(id), true
	case float64:
		return int64(id), true
	case json.Number:
		n, err := id.Int64()
		return n, err == nil
	}
	return 0, false
}
