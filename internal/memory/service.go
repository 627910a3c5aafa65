// Package memory is the entry point the chat layer uses: it appends
// messages, builds prompt contexts and triggers fact extraction.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/memory-service/internal/analytics"
	"github.com/xaenox/memory-service/internal/cache"
	"github.com/xaenox/memory-service/internal/facts"
	"github.com/xaenox/memory-service/internal/models"
	"github.com/xaenox/memory-service/internal/storage"
	"github.com/xaenox/memory-service/internal/summarizer"
)

// ErrInvalidMessage is returned by AppendMessage for messages that can't be stored.
var ErrInvalidMessage = errors.New("invalid message")

type Options struct {
	Store      storage.Storage
	Summarizer *summarizer.Summarizer
	Extractor  *facts.Extractor
	Tracker    *analytics.Tracker

	// Cache defaults to a history cache with default size and TTL.
	Cache *cache.History

	// AutoSummarize compresses history while building a prompt context
	// once the session is over the summarizer threshold.
	AutoSummarize bool

	Logger *zap.Logger
}

type Service struct {
	store         storage.Storage
	summarizer    *summarizer.Summarizer
	extractor     *facts.Extractor
	tracker       *analytics.Tracker
	cache         *cache.History
	autoSummarize bool
	logger        *zap.Logger
	now           func() time.Time
}

func NewService(opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NewHistory(cache.DefaultSize, cache.DefaultTTL)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		store:         opts.Store,
		summarizer:    opts.Summarizer,
		extractor:     opts.Extractor,
		tracker:       opts.Tracker,
		cache:         opts.Cache,
		autoSummarize: opts.AutoSummarize,
		logger:        opts.Logger,
		now:           time.Now,
	}
}

// AppendMessage stores a message at the end of the session's history,
// creating the session on first use. Timestamps never go backwards within
// a session.
func (s *Service) AppendMessage(ctx context.Context, sessionID, userID string, role models.Role, content string, metadata map[string]any) (*models.Message, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrInvalidMessage)
	}
	if _, err := models.ParseRole(string(role)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}

	now := s.now().UTC()
	session, err := s.store.UpsertSession(ctx, sessionID, userID, now)
	if err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}

	ts := now
	if session.LastActivity.After(ts) {
		ts = session.LastActivity
	}

	msg := &models.Message{
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		Timestamp: ts,
		Metadata:  metadata,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	s.cache.Invalidate(sessionID)
	s.tracker.TrackMessageStored(sessionID, userID, role)
	return msg, nil
}

// GetContextForPrompt returns the latest summary of a session followed by
// every message it does not cover, usable as prompt context. When
// summarization fails or is off, the raw section simply grows.
func (s *Service) GetContextForPrompt(ctx context.Context, sessionID string) (string, error) {
	userID := s.sessionUser(ctx, sessionID)

	if cached, ok := s.cache.Get(sessionID); ok {
		s.tracker.TrackCacheHit(sessionID, userID)
		return cached, nil
	}
	s.tracker.TrackCacheMiss(sessionID, userID)
	gen := s.cache.Generation(sessionID)

	if s.autoSummarize {
		if _, err := s.summarizer.SummarizeConversation(ctx, sessionID); err != nil {
			return "", err
		}
	}

	summary, err := s.store.LatestSummary(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("Failed to load summary",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		summary = nil
	}

	raw, err := s.summarizer.ContextMessages(ctx, sessionID, summary)
	if err != nil {
		return "", err
	}

	formatted := summarizer.FormatContext(summary, raw)
	if !s.cache.SetIfCurrent(sessionID, gen, formatted) {
		s.logger.Debug("Session changed while building context, not cached",
			zap.String("session_id", sessionID))
	}
	s.tracker.TrackRetrieval(sessionID, userID, len(raw), summary != nil)
	return formatted, nil
}

// AfterSessionIdle runs fact extraction for the session and returns the
// number of facts stored.
func (s *Service) AfterSessionIdle(ctx context.Context, sessionID, userID string) int {
	stored, err := s.extractor.ProcessSession(ctx, sessionID, userID)
	if err != nil {
		s.logger.Error("Fact extraction failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return stored
}

// SummarizeSession forces a summarization pass outside of prompt building.
func (s *Service) SummarizeSession(ctx context.Context, sessionID string) (*models.Summary, error) {
	summary, err := s.summarizer.SummarizeConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if summary != nil {
		s.cache.Invalidate(sessionID)
	}
	return summary, nil
}

func (s *Service) GetAnalytics(ctx context.Context, windowDays int) (*models.AnalyticsReport, error) {
	return s.tracker.GetAnalytics(ctx, windowDays)
}

func (s *Service) GetRealTimeMetrics(ctx context.Context) (*models.RealTimeMetrics, error) {
	return s.tracker.GetRealTimeMetrics(ctx)
}

func (s *Service) ListFacts(ctx context.Context, filter models.FactFilter) ([]models.CollectiveMemoryEntry, error) {
	return s.extractor.ListFacts(ctx, filter)
}

func (s *Service) SearchFacts(ctx context.Context, query string) ([]models.CollectiveMemoryEntry, error) {
	return s.extractor.SearchFacts(ctx, query)
}

func (s *Service) sessionUser(ctx context.Context, sessionID string) string {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("Failed to load session",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		return ""
	}
	return session.UserID
}
