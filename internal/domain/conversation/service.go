package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vantage/rwe/internal/domain/cohort"
	"github.com/vantage/rwe/internal/platform/warehouse"
)

// CohortCounter is the slice of the cohort service the fallback path needs.
type CohortCounter interface {
	Compile(def *cohort.Definition) (string, error)
	PreviewCount(ctx context.Context, def *cohort.Definition) (int64, error)
}

// Service orchestrates conversational queries: it drives turns through the
// AI service, re-executes the generated SQL against the warehouse, and keeps
// session history. When the AI service cannot answer it degrades to the
// keyword fallback instead of failing the request.
type Service struct {
	store    *Store
	client   AIClient
	runner   *turnRunner
	matcher  *Matcher
	cohorts  CohortCounter
	exec     warehouse.Executor
	progress *ProgressTracker
	logger   zerolog.Logger
}

// NewService creates a conversation service.
func NewService(store *Store, client AIClient, matcher *Matcher, cohorts CohortCounter, exec warehouse.Executor, logger zerolog.Logger) *Service {
	progress := NewProgressTracker()
	return &Service{
		store:    store,
		client:   client,
		runner:   newTurnRunner(client, progress, logger),
		matcher:  matcher,
		cohorts:  cohorts,
		exec:     exec,
		progress: progress,
		logger:   logger,
	}
}

// Ask answers one question on a session. An empty sessionID starts a new
// session. The user+assistant message pair is appended only when an answer
// is produced, so history never holds a question without its reply.
func (s *Service) Ask(ctx context.Context, sessionID, query string) (*Answer, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	var session *Session
	if sessionID == "" {
		session = s.store.Create()
	} else {
		var err error
		session, err = s.store.Get(sessionID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.BeginTurn(session.ID); err != nil {
		return nil, err
	}
	defer s.store.EndTurn(session.ID)

	if !s.client.Configured() {
		return s.fallback(ctx, session.ID, query, "AI query service is not configured")
	}

	result, err := s.runner.run(ctx, session.ID, s.store.ConversationID(session.ID), query)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", session.ID).Msg("turn failed, engaging fallback")
		return s.fallback(ctx, session.ID, query, err.Error())
	}
	s.store.SetConversationID(session.ID, result.ConversationID)

	count := result.RowCount
	if result.SQL != "" {
		// Re-execute for a live count; the service's row count may be stale.
		rows, err := s.exec.Query(ctx, result.SQL)
		if err != nil {
			return nil, err
		}
		count = int64(len(rows))
	}

	answer := &Answer{
		SessionID:          session.ID,
		Query:              query,
		SQLGenerated:       result.SQL,
		ResultCount:        count,
		Explanation:        fmt.Sprintf("The query matched %d records.", count),
		SuggestedQuestions: result.SuggestedQuestions,
	}
	if err := s.appendAnswer(session.ID, query, answer); err != nil {
		return nil, err
	}
	return answer, nil
}

// fallback answers with the keyword matcher. Warehouse errors still surface;
// everything else degrades to a whole-population answer.
func (s *Service) fallback(ctx context.Context, sessionID, query, reason string) (*Answer, error) {
	def, matched := s.matcher.Match(ctx, query)

	sql, err := s.cohorts.Compile(def)
	if err != nil {
		return nil, fmt.Errorf("fallback definition did not compile: %w", err)
	}
	count, err := s.cohorts.PreviewCount(ctx, def)
	if err != nil {
		var qErr *warehouse.QueryExecutionError
		if errors.As(err, &qErr) {
			return nil, err
		}
		return nil, fmt.Errorf("fallback count: %w", err)
	}

	explanation := fmt.Sprintf("Matched %d patients using keyword rules.", count)
	if !matched {
		explanation = fmt.Sprintf("No clinical terms were recognized; counted the whole population (%d patients).", count)
	}

	answer := &Answer{
		SessionID:      sessionID,
		Query:          query,
		SQLGenerated:   sql,
		ResultCount:    count,
		Explanation:    explanation,
		Fallback:       true,
		FallbackReason: reason,
		LowConfidence:  !matched,
	}
	if err := s.appendAnswer(sessionID, query, answer); err != nil {
		return nil, err
	}
	return answer, nil
}

func (s *Service) appendAnswer(sessionID, query string, answer *Answer) error {
	return s.store.AppendPair(sessionID,
		Message{Content: query},
		Message{
			Content:            answer.Explanation,
			SQL:                answer.SQLGenerated,
			ResultCount:        answer.ResultCount,
			SuggestedQuestions: answer.SuggestedQuestions,
		},
	)
}

// Session returns a session's history.
func (s *Service) Session(id string) (*Session, error) {
	return s.store.Get(id)
}

// DeleteSession discards a session.
func (s *Service) DeleteSession(id string) error {
	return s.store.Delete(id)
}

// Progress returns the statuses observed for an in-flight turn.
func (s *Service) Progress(key string) ([]TurnStatus, bool) {
	return s.progress.Get(key)
}
