package models

import "time"

// EventType tags an analytics event.
type EventType string

const (
	EventConversationRetrieve EventType = "conversation_retrieve"
	EventMessageStore         EventType = "message_store"
	EventCacheHit             EventType = "cache_hit"
	EventCacheMiss            EventType = "cache_miss"
)

// Metadata keys carried by conversation_retrieve events.
const (
	MetaMessageCount = "message_count"
	MetaHasSummary   = "has_summary"
)

// AnalyticsEvent is a write-once usage record.
type AnalyticsEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"event_type"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MessageCount reads the message_count metadata value. JSON round trips
// turn numbers into float64, so both are accepted.
func (e AnalyticsEvent) MessageCount() int {
	switch v := e.Metadata[MetaMessageCount].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// DailyStats is the rolled-up row for one calendar date.
type DailyStats struct {
	Date                 string    `json:"date"`
	MessagesStored       int       `json:"messages_stored"`
	Retrievals           int       `json:"retrievals"`
	CacheHits            int       `json:"cache_hits"`
	CacheMisses          int       `json:"cache_misses"`
	UniqueSessions       int       `json:"unique_sessions"`
	UniqueUsers          int       `json:"unique_users"`
	CacheHitRate         float64   `json:"cache_hit_rate"`
	AvgRetrievedMessages float64   `json:"avg_retrieved_messages"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// DayBucket is one day of an analytics report breakdown.
type DayBucket struct {
	Date           string `json:"date"`
	MessagesStored int    `json:"messages_stored"`
	Retrievals     int    `json:"retrievals"`
	CacheHits      int    `json:"cache_hits"`
	CacheMisses    int    `json:"cache_misses"`
	Sessions       int    `json:"sessions"`
}

// AnalyticsReport combines rolled-up memory effectiveness metrics.
type AnalyticsReport struct {
	WindowDays           int         `json:"window_days"`
	TotalSessions        int         `json:"total_sessions"`
	TotalMessages        int         `json:"total_messages"`
	CacheHitRate         float64     `json:"cache_hit_rate"`
	MemoryHitRate        float64     `json:"memory_hit_rate"`
	AvgRetrievedMessages float64     `json:"avg_retrieved_messages"`
	Daily                []DayBucket `json:"daily"`
	Hourly               [24]int     `json:"hourly"`
	GeneratedAt          time.Time   `json:"generated_at"`
}

// RealTimeMetrics are live-dashboard rates over the trailing minutes.
type RealTimeMetrics struct {
	MessagesPerMinute   float64   `json:"messages_per_minute"`
	RetrievalsPerMinute float64   `json:"retrievals_per_minute"`
	ActiveSessions      int       `json:"active_sessions"`
	WindowMinutes       int       `json:"window_minutes"`
	GeneratedAt         time.Time `json:"generated_at"`
}
