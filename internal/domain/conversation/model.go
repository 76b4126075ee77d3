// Package conversation runs multi-turn natural language query sessions
// against the AI query service, with a rule-based fallback when the service
// cannot answer.
package conversation

import (
	"fmt"
	"time"
)

// TurnStatus is the AI service's reported state for one message.
type TurnStatus string

const (
	StatusSubmitted       TurnStatus = "SUBMITTED"
	StatusQueryingHistory TurnStatus = "QUERYING_HISTORY"
	StatusFetchingMeta    TurnStatus = "FETCHING_METADATA"
	StatusCompiling       TurnStatus = "COMPILING"
	StatusExecuting       TurnStatus = "EXECUTING"
	StatusExecutingQuery  TurnStatus = "EXECUTING_QUERY"
	StatusCompleted       TurnStatus = "COMPLETED"
	StatusFailed          TurnStatus = "FAILED"
	StatusCancelled       TurnStatus = "CANCELLED"
	StatusExpired         TurnStatus = "EXPIRED"
)

// Terminal reports whether the status ends a turn. Unknown statuses are
// treated as still in flight.
func (s TurnStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Role distinguishes who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's history.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Assistant messages only.
	SQL                string   `json:"sql_generated,omitempty"`
	ResultCount        int64    `json:"result_count,omitempty"`
	SuggestedQuestions []string `json:"suggested_questions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Session is an append-only conversation history. The conversation id ties
// the session to the AI service once the first turn completes.
type Session struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"-"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TurnError reports why a turn did not produce an answer.
type TurnError struct {
	Kind   string // failed, cancelled, timeout
	Reason string
}

const (
	TurnFailed    = "failed"
	TurnCancelled = "cancelled"
	TurnTimeout   = "timeout"
)

func (e *TurnError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("turn %s", e.Kind)
	}
	return fmt.Sprintf("turn %s: %s", e.Kind, e.Reason)
}

// Answer is the orchestrator's response to one question.
type Answer struct {
	SessionID          string   `json:"session_id"`
	Query              string   `json:"query"`
	SQLGenerated       string   `json:"sql_generated"`
	ResultCount        int64    `json:"result_count"`
	Explanation        string   `json:"explanation"`
	SuggestedQuestions []string `json:"suggested_questions,omitempty"`
	Fallback           bool     `json:"fallback"`
	FallbackReason     string   `json:"fallback_reason,omitempty"`
	LowConfidence      bool     `json:"low_confidence,omitempty"`
}
