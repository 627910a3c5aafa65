package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/memory-service/internal/models"
)

// MemoryStorage implements Storage with in-process maps. It is the default
// for local runs and tests.
type MemoryStorage struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	messages  map[string][]models.Message
	nextMsgID int64
	summaries map[string]map[string]models.Summary
	facts     map[string]models.CollectiveMemoryEntry
	events    []models.AnalyticsEvent
	daily     map[string]models.DailyStats
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions:  make(map[string]*models.Session),
		messages:  make(map[string][]models.Message),
		summaries: make(map[string]map[string]models.Summary),
		facts:     make(map[string]models.CollectiveMemoryEntry),
		daily:     make(map[string]models.DailyStats),
	}
}

// Session methods
func (s *MemoryStorage) UpsertSession(_ context.Context, sessionID, userID string, at time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		session = &models.Session{
			ID:        sessionID,
			UserID:    userID,
			CreatedAt: at,
		}
		s.sessions[sessionID] = session
	}
	if at.After(session.LastActivity) {
		session.LastActivity = at
	}

	out := *session
	return &out, nil
}

func (s *MemoryStorage) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, ErrNotFound
	}
	out := *session
	return &out, nil
}

// Message methods
func (s *MemoryStorage) AppendMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextMsgID++
	msg.ID = s.nextMsgID
	stored := *msg
	stored.Metadata = copyMetadata(msg.Metadata)
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], stored)
	return nil
}

func (s *MemoryStorage) GetMessages(_ context.Context, sessionID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyMessages(s.messages[sessionID]), nil
}

func (s *MemoryStorage) RecentMessages(_ context.Context, sessionID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	if limit >= 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return copyMessages(msgs), nil
}

func (s *MemoryStorage) MessagesAfter(_ context.Context, sessionID string, afterID int64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	start := sort.Search(len(msgs), func(i int) bool { return msgs[i].ID > afterID })
	msgs = msgs[start:]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return copyMessages(msgs), nil
}

func (s *MemoryStorage) CountMessages(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.messages[sessionID]), nil
}

func (s *MemoryStorage) CountActivity(_ context.Context, since time.Time) (models.ActivityCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts models.ActivityCounts
	for _, session := range s.sessions {
		if !session.LastActivity.Before(since) {
			counts.Sessions++
		}
	}
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if !m.Timestamp.Before(since) {
				counts.Messages++
			}
		}
	}
	return counts, nil
}

func copyMessages(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	for i, m := range msgs {
		m.Metadata = copyMetadata(m.Metadata)
		out[i] = m
	}
	return out
}

func copySummary(summary models.Summary) *models.Summary {
	summary.Topics = copyList(summary.Topics)
	summary.KeyDecisions = copyList(summary.KeyDecisions)
	summary.ImportantFacts = copyList(summary.ImportantFacts)
	summary.Metadata = copyMetadata(summary.Metadata)
	return &summary
}

func copyFact(entry models.CollectiveMemoryEntry) models.CollectiveMemoryEntry {
	entry.Tags = copyList(entry.Tags)
	entry.Metadata = copyMetadata(entry.Metadata)
	return entry
}

func copyList(items []string) []string {
	if items == nil {
		return nil
	}
	return append([]string{}, items...)
}

// copyMetadata copies the top level only; nested values are shared.
func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if list, ok := v.([]string); ok {
			v = copyList(list)
		}
		out[k] = v
	}
	return out
}

// Summary methods
func (s *MemoryStorage) UpsertSummary(_ context.Context, summary *models.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDate, exists := s.summaries[summary.SessionID]
	if !exists {
		byDate = make(map[string]models.Summary)
		s.summaries[summary.SessionID] = byDate
	}
	stored := copySummary(*summary)
	if prev, exists := byDate[summary.SummaryDate]; exists {
		stored.CreatedAt = prev.CreatedAt
		summary.CreatedAt = prev.CreatedAt
	}
	byDate[summary.SummaryDate] = *stored
	return nil
}

func (s *MemoryStorage) GetSummary(_ context.Context, sessionID, date string) (*models.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, exists := s.summaries[sessionID][date]
	if !exists {
		return nil, ErrNotFound
	}
	return copySummary(summary), nil
}

func (s *MemoryStorage) LatestSummary(_ context.Context, sessionID string) (*models.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest models.Summary
		found  bool
	)
	for _, summary := range s.summaries[sessionID] {
		if !found || summary.SummaryDate > latest.SummaryDate {
			latest, found = summary, true
		}
	}
	if !found {
		return nil, ErrNotFound
	}
	return copySummary(latest), nil
}

// Collective memory methods
func (s *MemoryStorage) UpsertFact(_ context.Context, entry *models.CollectiveMemoryEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.facts[entry.Key]; exists {
		existing.AccessCount++
		existing.LastAccessed = entry.LastAccessed
		s.facts[entry.Key] = existing
		return false, nil
	}

	stored := copyFact(*entry)
	stored.AccessCount = 1
	s.facts[entry.Key] = stored
	return true, nil
}

func (s *MemoryStorage) GetFact(_ context.Context, key string) (*models.CollectiveMemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.facts[key]
	if !exists {
		return nil, ErrNotFound
	}
	entry = copyFact(entry)
	return &entry, nil
}

func (s *MemoryStorage) ListFacts(_ context.Context, filter models.FactFilter) ([]models.CollectiveMemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CollectiveMemoryEntry
	for _, entry := range s.facts {
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		if entry.Importance < filter.MinImportance {
			continue
		}
		out = append(out, copyFact(entry))
	}
	sortFacts(out)

	if limit := factLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStorage) SearchFacts(_ context.Context, keywords []string, minImportance float64) ([]models.CollectiveMemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CollectiveMemoryEntry
	for _, entry := range s.facts {
		if entry.Importance > minImportance && containsAnyFold(entry.Content, keywords) {
			out = append(out, copyFact(entry))
		}
	}
	sortFacts(out)
	return out, nil
}

// Analytics methods
func (s *MemoryStorage) InsertEvent(_ context.Context, event *models.AnalyticsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *event)
	return nil
}

func (s *MemoryStorage) ListEvents(_ context.Context, since, until time.Time) ([]models.AnalyticsEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AnalyticsEvent
	for _, e := range s.events {
		if !e.Timestamp.Before(since) && e.Timestamp.Before(until) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *MemoryStorage) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return deleted, nil
}

func (s *MemoryStorage) UpsertDailyStats(_ context.Context, stats *models.DailyStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.daily[stats.Date] = *stats
	return nil
}

func (s *MemoryStorage) GetDailyStats(_ context.Context, date string) (*models.DailyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, exists := s.daily[date]
	if !exists {
		return nil, ErrNotFound
	}
	return &stats, nil
}

func (s *MemoryStorage) ListDailyStats(_ context.Context, from, to string) ([]models.DailyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.DailyStats
	for date, stats := range s.daily {
		if date >= from && date <= to {
			out = append(out, stats)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
