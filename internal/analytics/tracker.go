// Package analytics records memory usage events off the hot path and rolls
// them up into reports and daily stats.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/memory-service/internal/models"
	"github.com/xaenox/memory-service/internal/storage"
)

var (
	defaultNumWorkers    = 2
	defaultQueueSize     = 1024
	defaultRetentionDays = 30
	insertTimeout        = 5 * time.Second
)

// Store is the part of storage the tracker reads and writes.
type Store interface {
	storage.AnalyticsStore
	CountActivity(ctx context.Context, since time.Time) (models.ActivityCounts, error)
}

// Config is the configuration for the tracker.
type Config struct {
	// NumWorkers is the number of goroutines writing events.
	NumWorkers int

	// QueueSize is the capacity of the event queue. Events tracked while it
	// is full are dropped.
	QueueSize int

	// RetentionDays is how long raw events are kept by CleanOldEvents.
	RetentionDays int
}

// Tracker writes analytics events asynchronously. Tracking never blocks
// and never reports failures to the caller.
type Tracker struct {
	store     Store
	retention int
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan models.AnalyticsEvent
	wg     sync.WaitGroup
	once   sync.Once
}

// NewTracker creates a tracker and starts its workers.
func NewTracker(store Store, cfg Config, logger *zap.Logger) *Tracker {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = defaultNumWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Tracker{
		store:     store,
		retention: cfg.RetentionDays,
		logger:    logger,
		now:       time.Now,
		queue:     make(chan models.AnalyticsEvent, cfg.QueueSize),
	}

	t.wg.Add(cfg.NumWorkers)
	for i := 0; i < cfg.NumWorkers; i++ {
		go t.worker(i)
	}
	return t
}

// TrackEvent queues event for writing. A missing ID or timestamp is filled in.
func (t *Tracker) TrackEvent(event models.AnalyticsEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = t.now().UTC()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		t.logger.Warn("analytics event dropped, tracker closed",
			zap.String("event_type", string(event.Type)),
			zap.String("session_id", event.SessionID))
		return
	}

	select {
	case t.queue <- event:
	default:
		t.logger.Error("analytics event dropped, queue full",
			zap.String("event_type", string(event.Type)),
			zap.String("session_id", event.SessionID))
	}
}

func (t *Tracker) TrackMessageStored(sessionID, userID string, role models.Role) {
	t.TrackEvent(models.AnalyticsEvent{
		Type:      models.EventMessageStore,
		SessionID: sessionID,
		UserID:    userID,
		Metadata:  map[string]any{"role": string(role)},
	})
}

// TrackRetrieval records a prompt context build that returned messageCount
// raw history messages.
func (t *Tracker) TrackRetrieval(sessionID, userID string, messageCount int, hasSummary bool) {
	t.TrackEvent(models.AnalyticsEvent{
		Type:      models.EventConversationRetrieve,
		SessionID: sessionID,
		UserID:    userID,
		Metadata: map[string]any{
			models.MetaMessageCount: messageCount,
			models.MetaHasSummary:   hasSummary,
		},
	})
}

func (t *Tracker) TrackCacheHit(sessionID, userID string) {
	t.TrackEvent(models.AnalyticsEvent{Type: models.EventCacheHit, SessionID: sessionID, UserID: userID})
}

func (t *Tracker) TrackCacheMiss(sessionID, userID string) {
	t.TrackEvent(models.AnalyticsEvent{Type: models.EventCacheMiss, SessionID: sessionID, UserID: userID})
}

// Close stops accepting events and waits for queued ones to be written.
func (t *Tracker) Close() {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.queue)
		t.mu.Unlock()

		t.wg.Wait()
	})
}

func (t *Tracker) worker(id int) {
	defer t.wg.Done()
	t.logger.Debug("analytics worker started", zap.Int("worker_id", id))

	for event := range t.queue {
		t.insert(event)
	}

	t.logger.Debug("analytics worker stopped", zap.Int("worker_id", id))
}

func (t *Tracker) insert(event models.AnalyticsEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := t.store.InsertEvent(ctx, &event); err != nil {
		t.logger.Error("Failed to store analytics event",
			zap.String("event_type", string(event.Type)),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}
