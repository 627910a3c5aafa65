package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/xaenox/memory-service/internal/models"
)

const (
	defaultWindowDays = 7
	realTimeWindow    = 5 * time.Minute
	hitRateWindow     = 24 * time.Hour
)

// GetAnalytics builds the report for the last windowDays calendar days,
// today included. Hit rates always cover the trailing 24 hours.
func (t *Tracker) GetAnalytics(ctx context.Context, windowDays int) (*models.AnalyticsReport, error) {
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}

	now := t.now().UTC()
	today := startOfDay(now)
	windowStart := today.AddDate(0, 0, -(windowDays - 1))
	until := today.AddDate(0, 0, 1)
	hitSince := now.Add(-hitRateWindow)

	since := windowStart
	if hitSince.Before(since) {
		since = hitSince
	}
	events, err := t.store.ListEvents(ctx, since, until)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	activity, err := t.store.CountActivity(ctx, windowStart)
	if err != nil {
		return nil, fmt.Errorf("count activity: %w", err)
	}

	report := &models.AnalyticsReport{
		WindowDays:    windowDays,
		TotalSessions: activity.Sessions,
		TotalMessages: activity.Messages,
		Daily:         make([]models.DayBucket, windowDays),
		GeneratedAt:   now,
	}

	index := make(map[string]int, windowDays)
	daySessions := make([]map[string]struct{}, windowDays)
	for i := range report.Daily {
		date := models.Day(windowStart.AddDate(0, 0, i))
		report.Daily[i].Date = date
		index[date] = i
		daySessions[i] = make(map[string]struct{})
	}

	var (
		recent        []models.AnalyticsEvent
		retrievals    int
		retrievedMsgs int
	)
	for _, e := range events {
		if !e.Timestamp.Before(hitSince) {
			recent = append(recent, e)
		}
		if e.Timestamp.Before(windowStart) {
			continue
		}

		report.Hourly[e.Timestamp.UTC().Hour()]++
		i, ok := index[models.Day(e.Timestamp)]
		if !ok {
			continue
		}
		bucket := &report.Daily[i]
		switch e.Type {
		case models.EventMessageStore:
			bucket.MessagesStored++
		case models.EventConversationRetrieve:
			bucket.Retrievals++
			retrievals++
			retrievedMsgs += e.MessageCount()
		case models.EventCacheHit:
			bucket.CacheHits++
		case models.EventCacheMiss:
			bucket.CacheMisses++
		}
		if e.SessionID != "" {
			daySessions[i][e.SessionID] = struct{}{}
		}
	}
	for i := range report.Daily {
		report.Daily[i].Sessions = len(daySessions[i])
	}

	report.AvgRetrievedMessages = ratio(retrievedMsgs, retrievals)
	report.CacheHitRate = cacheHitRate(recent)
	report.MemoryHitRate = memoryHitRate(recent)
	return report, nil
}

// GetRealTimeMetrics reports rates over the trailing five minutes.
func (t *Tracker) GetRealTimeMetrics(ctx context.Context) (*models.RealTimeMetrics, error) {
	now := t.now().UTC()
	events, err := t.store.ListEvents(ctx, now.Add(-realTimeWindow), now.Add(time.Second))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	var messages, retrievals int
	sessions := make(map[string]struct{})
	for _, e := range events {
		switch e.Type {
		case models.EventMessageStore:
			messages++
		case models.EventConversationRetrieve:
			retrievals++
		}
		if e.SessionID != "" {
			sessions[e.SessionID] = struct{}{}
		}
	}

	minutes := int(realTimeWindow / time.Minute)
	return &models.RealTimeMetrics{
		MessagesPerMinute:   float64(messages) / float64(minutes),
		RetrievalsPerMinute: float64(retrievals) / float64(minutes),
		ActiveSessions:      len(sessions),
		WindowMinutes:       minutes,
		GeneratedAt:         now,
	}, nil
}

// AggregateDailyStats recomputes the stats row of one calendar date
// (YYYY-MM-DD, UTC) from raw events and replaces any previous row.
func (t *Tracker) AggregateDailyStats(ctx context.Context, date string) (*models.DailyStats, error) {
	day, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("parse date: %w", err)
	}

	events, err := t.store.ListEvents(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	stats := &models.DailyStats{Date: models.Day(day), UpdatedAt: t.now().UTC()}
	sessions := make(map[string]struct{})
	users := make(map[string]struct{})
	retrievedMsgs := 0
	for _, e := range events {
		switch e.Type {
		case models.EventMessageStore:
			stats.MessagesStored++
		case models.EventConversationRetrieve:
			stats.Retrievals++
			retrievedMsgs += e.MessageCount()
		case models.EventCacheHit:
			stats.CacheHits++
		case models.EventCacheMiss:
			stats.CacheMisses++
		}
		if e.SessionID != "" {
			sessions[e.SessionID] = struct{}{}
		}
		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
	}
	stats.UniqueSessions = len(sessions)
	stats.UniqueUsers = len(users)
	stats.CacheHitRate = ratio(stats.CacheHits, stats.CacheHits+stats.CacheMisses)
	stats.AvgRetrievedMessages = ratio(retrievedMsgs, stats.Retrievals)

	if err := t.store.UpsertDailyStats(ctx, stats); err != nil {
		return nil, fmt.Errorf("upsert daily stats: %w", err)
	}
	return stats, nil
}

// CleanOldEvents deletes raw events past the retention period. Daily stats
// rows are kept.
func (t *Tracker) CleanOldEvents(ctx context.Context) (int64, error) {
	cutoff := t.now().UTC().AddDate(0, 0, -t.retention)
	deleted, err := t.store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return deleted, nil
}

func cacheHitRate(events []models.AnalyticsEvent) float64 {
	var hits, misses int
	for _, e := range events {
		switch e.Type {
		case models.EventCacheHit:
			hits++
		case models.EventCacheMiss:
			misses++
		}
	}
	return ratio(hits, hits+misses)
}

// memoryHitRate is the share of active sessions that got at least one
// history message back from a retrieval.
func memoryHitRate(events []models.AnalyticsEvent) float64 {
	active := make(map[string]struct{})
	hit := make(map[string]struct{})
	for _, e := range events {
		if e.SessionID == "" {
			continue
		}
		active[e.SessionID] = struct{}{}
		if e.Type == models.EventConversationRetrieve && e.MessageCount() >= 1 {
			hit[e.SessionID] = struct{}{}
		}
	}
	return ratio(len(hit), len(active))
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
