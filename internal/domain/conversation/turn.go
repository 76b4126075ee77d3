package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantage/rwe/internal/platform/genie"
)

// AIClient is the slice of the AI query service the turn runner needs.
type AIClient interface {
	Configured() bool
	StartConversation(ctx context.Context, text string) (conversationID, messageID string, err error)
	ContinueConversation(ctx context.Context, conversationID, text string) (messageID string, err error)
	GetMessage(ctx context.Context, conversationID, messageID string) (*genie.MessageStatus, error)
}

// Polling schedule for turn status.
const (
	initialPollInterval = 2 * time.Second
	maxPollInterval     = 10 * time.Second
	pollBackoffFactor   = 1.5
	turnBudget          = 120 * time.Second
)

// ProgressTracker exposes the statuses observed while a turn is in flight,
// keyed by "sessionID:messageID". Entries are dropped when the turn resolves.
type ProgressTracker struct {
	mu      sync.RWMutex
	entries map[string][]TurnStatus
}

// NewProgressTracker creates an empty tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{entries: make(map[string][]TurnStatus)}
}

func (t *ProgressTracker) publish(key string, status TurnStatus) {
	t.mu.Lock()
	t.entries[key] = append(t.entries[key], status)
	t.mu.Unlock()
}

func (t *ProgressTracker) drop(key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}

// Get returns the statuses observed so far for an in-flight turn.
func (t *ProgressTracker) Get(key string) ([]TurnStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	statuses, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	return append([]TurnStatus(nil), statuses...), true
}

// turnResult is a completed turn's payload.
type turnResult struct {
	ConversationID     string
	MessageID          string
	SQL                string
	RowCount           int64
	SuggestedQuestions []string
}

// turnRunner drives one question through the AI service: submit, then poll
// until a terminal status or the budget runs out. No automatic retry.
type turnRunner struct {
	client   AIClient
	progress *ProgressTracker
	logger   zerolog.Logger

	initialInterval time.Duration
	maxInterval     time.Duration
	budget          time.Duration
}

func newTurnRunner(client AIClient, progress *ProgressTracker, logger zerolog.Logger) *turnRunner {
	return &turnRunner{
		client:          client,
		progress:        progress,
		logger:          logger,
		initialInterval: initialPollInterval,
		maxInterval:     maxPollInterval,
		budget:          turnBudget,
	}
}

// run submits the question and polls to resolution. An empty conversationID
// starts a new conversation.
func (r *turnRunner) run(ctx context.Context, sessionID, conversationID, text string) (*turnResult, error) {
	var messageID string
	var err error
	if conversationID == "" {
		conversationID, messageID, err = r.client.StartConversation(ctx, text)
	} else {
		messageID, err = r.client.ContinueConversation(ctx, conversationID, text)
	}
	if err != nil {
		return nil, err
	}

	key := sessionID + ":" + messageID
	defer r.progress.drop(key)

	deadline := time.Now().Add(r.budget)
	interval := r.initialInterval

	for {
		if time.Now().Add(interval).After(deadline) {
			r.logger.Warn().Str("session_id", sessionID).Str("message_id", messageID).
				Msg("turn budget exhausted")
			return nil, &TurnError{Kind: TurnTimeout, Reason: fmt.Sprintf("no answer within %s", r.budget)}
		}

		select {
		case <-ctx.Done():
			return nil, &TurnError{Kind: TurnCancelled, Reason: ctx.Err().Error()}
		case <-time.After(interval):
		}

		status, err := r.client.GetMessage(ctx, conversationID, messageID)
		if err != nil {
			return nil, err
		}

		st := TurnStatus(status.Status)
		r.progress.publish(key, st)
		r.logger.Debug().Str("session_id", sessionID).Str("message_id", messageID).
			Str("status", status.Status).Msg("turn status")

		switch st {
		case StatusCompleted:
			return &turnResult{
				ConversationID:     conversationID,
				MessageID:          messageID,
				SQL:                status.SQL,
				RowCount:           status.RowCount,
				SuggestedQuestions: status.SuggestedQuestions,
			}, nil
		case StatusFailed:
			return nil, &TurnError{Kind: TurnFailed, Reason: status.Error}
		case StatusCancelled:
			return nil, &TurnError{Kind: TurnCancelled, Reason: status.Error}
		case StatusExpired:
			return nil, &TurnError{Kind: TurnTimeout, Reason: "conversation expired"}
		}

		interval = time.Duration(float64(interval) * pollBackoffFactor)
		if interval > r.maxInterval {
			interval = r.maxInterval
		}
	}
}
