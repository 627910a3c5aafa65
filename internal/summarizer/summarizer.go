// Package summarizer compresses the older part of a session's history into a
// daily summary while keeping a raw tail of recent messages.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/memory-service/internal/llm"
	"github.com/xaenox/memory-service/internal/models"
	"github.com/xaenox/memory-service/internal/storage"
)

const (
	DefaultMessageThreshold = 20
	DefaultKeepRecentCount  = 10
	DefaultContextLimit     = 200
	defaultMaxTokens        = 800
)

// Store is the part of storage the summarizer reads and writes.
type Store interface {
	storage.ConversationStore
	storage.SummaryStore
}

type Config struct {
	// MessageThreshold is the message count above which a session is summarized.
	MessageThreshold int
	// KeepRecentCount messages are always left out of the summary.
	KeepRecentCount int
	// ContextLimit caps the raw messages handed out for a prompt context.
	ContextLimit int
	MaxTokens    int
}

func (c *Config) applyDefaults() {
	if c.MessageThreshold <= 0 {
		c.MessageThreshold = DefaultMessageThreshold
	}
	if c.KeepRecentCount <= 0 {
		c.KeepRecentCount = DefaultKeepRecentCount
	}
	if c.ContextLimit <= 0 {
		c.ContextLimit = DefaultContextLimit
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
}

type Summarizer struct {
	store        Store
	llm          llm.Completer
	threshold    int
	keep         int
	contextLimit int
	maxTokens    int
	logger       *zap.Logger
	now          func() time.Time
}

func New(store Store, completer llm.Completer, cfg Config, logger *zap.Logger) (*Summarizer, error) {
	cfg.applyDefaults()
	if cfg.KeepRecentCount > cfg.MessageThreshold {
		return nil, fmt.Errorf("keep_recent_count (%d) must not exceed message_threshold (%d)",
			cfg.KeepRecentCount, cfg.MessageThreshold)
	}
	if cfg.ContextLimit < cfg.MessageThreshold {
		return nil, fmt.Errorf("context_limit (%d) must not be below message_threshold (%d)",
			cfg.ContextLimit, cfg.MessageThreshold)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Summarizer{
		store:        store,
		llm:          completer,
		threshold:    cfg.MessageThreshold,
		keep:         cfg.KeepRecentCount,
		contextLimit: cfg.ContextLimit,
		maxTokens:    cfg.MaxTokens,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (s *Summarizer) NeedsSummarization(ctx context.Context, sessionID string) (bool, error) {
	count, err := s.store.CountMessages(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("count messages: %w", err)
	}
	return count > s.threshold, nil
}

// MessagesToSummarize returns everything except the newest KeepRecentCount
// messages, oldest first.
func (s *Summarizer) MessagesToSummarize(ctx context.Context, sessionID string) ([]models.Message, error) {
	msgs, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	if len(msgs) <= s.keep {
		return nil, nil
	}
	return msgs[:len(msgs)-s.keep], nil
}

// RecentMessages returns the raw tail that is never summarized.
func (s *Summarizer) RecentMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	msgs, err := s.store.RecentMessages(ctx, sessionID, s.keep)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return msgs, nil
}

// ContextMessages returns the raw messages that summary does not cover,
// oldest first and capped at the newest ContextLimit. Without a summary that
// is the whole history.
func (s *Summarizer) ContextMessages(ctx context.Context, sessionID string, summary *models.Summary) ([]models.Message, error) {
	var afterID int64
	if summary != nil {
		afterID, _ = summary.LastMessageID()
	}
	msgs, err := s.store.MessagesAfter(ctx, sessionID, afterID, s.contextLimit)
	if err != nil {
		return nil, fmt.Errorf("context messages: %w", err)
	}
	return msgs, nil
}

// SummarizeConversation summarizes the session when it is over the threshold.
// It returns nil without error when nothing was done. Only failures reading
// the history are returned; model and write failures are logged.
func (s *Summarizer) SummarizeConversation(ctx context.Context, sessionID string) (*models.Summary, error) {
	needed, err := s.NeedsSummarization(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !needed {
		return nil, nil
	}

	msgs, err := s.MessagesToSummarize(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	previous, err := s.store.LatestSummary(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("Failed to load previous summary",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		previous = nil
	}

	// Only messages the previous summary has not folded in are sent.
	sourceCount := len(msgs)
	if previous != nil {
		if lastID, ok := previous.LastMessageID(); ok {
			msgs = messagesAfter(msgs, lastID)
			sourceCount = previous.SourceMessageCount + len(msgs)
		}
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	result, err := s.GenerateSummary(ctx, msgs, previous)
	if err != nil {
		s.logger.Error("Failed to generate summary",
			zap.String("session_id", sessionID),
			zap.Int("messages", len(msgs)),
			zap.Error(err))
		return nil, nil
	}

	now := s.now().UTC()
	summary := &models.Summary{
		SessionID:          sessionID,
		SummaryDate:        models.Day(now),
		Content:            result.Summary,
		SourceMessageCount: sourceCount,
		Topics:             result.Topics,
		KeyDecisions:       result.KeyDecisions,
		ImportantFacts:     result.ImportantFacts,
		Metadata: map[string]any{
			models.MetaKeptRecent:    s.keep,
			models.MetaLastMessageID: msgs[len(msgs)-1].ID,
			models.MetaIncremental:   previous != nil,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.UpsertSummary(ctx, summary); err != nil {
		s.logger.Error("Failed to save summary",
			zap.String("session_id", sessionID), zap.Error(err))
		return nil, nil
	}

	s.logger.Info("Conversation summarized",
		zap.String("session_id", sessionID),
		zap.Int("new_messages", len(msgs)),
		zap.Int("source_messages", sourceCount),
		zap.Int("topics", len(result.Topics)))
	return summary, nil
}

func messagesAfter(msgs []models.Message, id int64) []models.Message {
	for i, m := range msgs {
		if m.ID > id {
			return msgs[i:]
		}
	}
	return nil
}
