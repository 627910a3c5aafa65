package storage

import (
	"context"
	"time"

	"github.com/xaenox/memory-service/internal/models"
)

// Storage bundles every store the memory pipeline needs.
type Storage interface {
	ConversationStore
	SummaryStore
	CollectiveMemoryStore
	AnalyticsStore
	Close() error
}

// ConversationStore is the append-only session/message log.
type ConversationStore interface {
	// UpsertSession creates the session on first use and refreshes its
	// last activity otherwise. The owning user is never changed.
	UpsertSession(ctx context.Context, sessionID, userID string, at time.Time) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)

	// AppendMessage stores msg and assigns msg.ID.
	AppendMessage(ctx context.Context, msg *models.Message) error

	// GetMessages returns the full history oldest first.
	GetMessages(ctx context.Context, sessionID string) ([]models.Message, error)

	// RecentMessages returns the newest limit messages, oldest first.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error)

	// MessagesAfter returns the newest limit messages with ID > afterID,
	// oldest first.
	MessagesAfter(ctx context.Context, sessionID string, afterID int64, limit int) ([]models.Message, error)

	CountMessages(ctx context.Context, sessionID string) (int, error)

	// CountActivity counts sessions active and messages written since the given time.
	CountActivity(ctx context.Context, since time.Time) (models.ActivityCounts, error)
}

// SummaryStore keeps one summary per (session, day).
type SummaryStore interface {
	// UpsertSummary replaces the row for (session, day). An existing row keeps
	// its created_at, which is written back to summary.CreatedAt.
	UpsertSummary(ctx context.Context, summary *models.Summary) error
	GetSummary(ctx context.Context, sessionID, date string) (*models.Summary, error)
	LatestSummary(ctx context.Context, sessionID string) (*models.Summary, error)
}

// CollectiveMemoryStore is the deduplicated team-wide fact table.
type CollectiveMemoryStore interface {
	// UpsertFact inserts entry, or bumps access_count and last_accessed of
	// the existing row with the same key. Content is never overwritten.
	// Reports whether a new row was inserted.
	UpsertFact(ctx context.Context, entry *models.CollectiveMemoryEntry) (bool, error)
	GetFact(ctx context.Context, key string) (*models.CollectiveMemoryEntry, error)
	ListFacts(ctx context.Context, filter models.FactFilter) ([]models.CollectiveMemoryEntry, error)

	// SearchFacts returns entries with importance above minImportance whose
	// content contains at least one of the keywords (case-insensitive).
	SearchFacts(ctx context.Context, keywords []string, minImportance float64) ([]models.CollectiveMemoryEntry, error)
}

// AnalyticsStore holds raw events and their daily rollups.
type AnalyticsStore interface {
	InsertEvent(ctx context.Context, event *models.AnalyticsEvent) error

	// ListEvents returns events with since <= timestamp < until, oldest first.
	ListEvents(ctx context.Context, since, until time.Time) ([]models.AnalyticsEvent, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	UpsertDailyStats(ctx context.Context, stats *models.DailyStats) error
	GetDailyStats(ctx context.Context, date string) (*models.DailyStats, error)
	ListDailyStats(ctx context.Context, from, to string) ([]models.DailyStats, error)
}
