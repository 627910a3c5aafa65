package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/xaenox/memory-service/internal/models"
)

// SQLiteStorage implements Storage on a local SQLite file. Timestamps are
// stored as Unix nanoseconds and lists/metadata as JSON text.
type SQLiteStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens the database at dsn, which can be a file path or
// ":memory:".
func NewSQLiteStorage(ctx context.Context, dsn string, logger *zap.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection: pragmas are per connection, SQLite has one
	// writer anyway, and every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}

	migrationSQL, err := migrations.ReadFile("migrations/sqlite.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error reading migrations file: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(migrationSQL)); err != nil {
		db.Close()
		return nil, fmt.Errorf("error executing migrations: %w", err)
	}

	logger.Info("SQLite storage ready", zap.String("dsn", dsn))
	return &SQLiteStorage{db: db, logger: logger}, nil
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// Session methods
func (s *SQLiteStorage) UpsertSession(ctx context.Context, sessionID, userID string, at time.Time) (*models.Session, error) {
	query := `
		INSERT INTO sessions (session_id, user_id, created_at, last_activity)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE
		SET last_activity = MAX(sessions.last_activity, excluded.last_activity)
		RETURNING session_id, user_id, created_at, last_activity`

	var created, last int64
	session := &models.Session{}
	err := s.db.QueryRowContext(ctx, query, sessionID, userID, toNanos(at), toNanos(at)).
		Scan(&session.ID, &session.UserID, &created, &last)
	if err != nil {
		return nil, wrap("upsert session", err)
	}
	session.CreatedAt, session.LastActivity = fromNanos(created), fromNanos(last)
	return session, nil
}

func (s *SQLiteStorage) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var created, last int64
	session := &models.Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, created_at, last_activity FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&session.ID, &session.UserID, &created, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("get session", err)
	}
	session.CreatedAt, session.LastActivity = fromNanos(created), fromNanos(last)
	return session, nil
}

// Message methods
func (s *SQLiteStorage) AppendMessage(ctx context.Context, msg *models.Message) error {
	meta, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return wrap("encode message metadata", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_history (session_id, user_id, message_type, content, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.UserID, string(msg.Role), msg.Content, toNanos(msg.Timestamp), string(meta))
	if err != nil {
		return wrap("append message", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return wrap("append message", err)
	}
	msg.ID = id
	return nil
}

const sqliteMessageColumns = `id, session_id, user_id, message_type, content, timestamp, metadata`

func (s *SQLiteStorage) GetMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	query := `
		SELECT ` + sqliteMessageColumns + `
		FROM conversation_history
		WHERE session_id = ?
		ORDER BY timestamp, id`

	return s.queryMessages(ctx, "get messages", query, sessionID)
}

func (s *SQLiteStorage) RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	query := `
		SELECT ` + sqliteMessageColumns + ` FROM (
			SELECT ` + sqliteMessageColumns + `
			FROM conversation_history
			WHERE session_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		)
		ORDER BY timestamp, id`

	return s.queryMessages(ctx, "recent messages", query, sessionID, limit)
}

func (s *SQLiteStorage) MessagesAfter(ctx context.Context, sessionID string, afterID int64, limit int) ([]models.Message, error) {
	query := `
		SELECT ` + sqliteMessageColumns + ` FROM (
			SELECT ` + sqliteMessageColumns + `
			FROM conversation_history
			WHERE session_id = ? AND id > ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id`

	return s.queryMessages(ctx, "messages after", query, sessionID, afterID, limit)
}

func (s *SQLiteStorage) queryMessages(ctx context.Context, op, query string, args ...any) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var (
			msg  models.Message
			role string
			ts   int64
			meta string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.UserID, &role, &msg.Content, &ts, &meta); err != nil {
			return nil, wrap(op, fmt.Errorf("error scanning message: %w", err))
		}
		msg.Role = models.Role(role)
		msg.Timestamp = fromNanos(ts)
		if msg.Metadata, err = decodeMetadata([]byte(meta)); err != nil {
			return nil, wrap(op, err)
		}
		messages = append(messages, msg)
	}
	return messages, wrap(op, rows.Err())
}

func (s *SQLiteStorage) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_history WHERE session_id = ?`, sessionID).Scan(&count)
	return count, wrap("count messages", err)
}

func (s *SQLiteStorage) CountActivity(ctx context.Context, since time.Time) (models.ActivityCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM sessions WHERE last_activity >= ?),
			(SELECT COUNT(*) FROM conversation_history WHERE timestamp >= ?)`

	var counts models.ActivityCounts
	err := s.db.QueryRowContext(ctx, query, toNanos(since), toNanos(since)).Scan(&counts.Sessions, &counts.Messages)
	return counts, wrap("count activity", err)
}

// Summary methods
func (s *SQLiteStorage) UpsertSummary(ctx context.Context, summary *models.Summary) error {
	meta, err := encodeMetadata(summary.Metadata)
	if err != nil {
		return wrap("encode summary metadata", err)
	}
	topics, err := encodeList(summary.Topics)
	if err != nil {
		return wrap("encode summary topics", err)
	}
	decisions, err := encodeList(summary.KeyDecisions)
	if err != nil {
		return wrap("encode summary decisions", err)
	}
	facts, err := encodeList(summary.ImportantFacts)
	if err != nil {
		return wrap("encode summary facts", err)
	}

	query := `
		INSERT INTO memory_summaries (session_id, summary_date, summary_content, source_message_count,
			topics, key_decisions, important_facts, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, summary_date) DO UPDATE
		SET summary_content = excluded.summary_content,
			source_message_count = excluded.source_message_count,
			topics = excluded.topics,
			key_decisions = excluded.key_decisions,
			important_facts = excluded.important_facts,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
		RETURNING created_at`

	var created int64
	err = s.db.QueryRowContext(ctx, query,
		summary.SessionID,
		summary.SummaryDate,
		summary.Content,
		summary.SourceMessageCount,
		string(topics),
		string(decisions),
		string(facts),
		string(meta),
		toNanos(summary.CreatedAt),
		toNanos(summary.UpdatedAt),
	).Scan(&created)
	if err != nil {
		return wrap("upsert summary", err)
	}
	summary.CreatedAt = fromNanos(created)
	return nil
}

const sqliteSummaryColumns = `session_id, summary_date, summary_content, source_message_count,
	topics, key_decisions, important_facts, metadata, created_at, updated_at`

func (s *SQLiteStorage) GetSummary(ctx context.Context, sessionID, date string) (*models.Summary, error) {
	query := `
		SELECT ` + sqliteSummaryColumns + `
		FROM memory_summaries
		WHERE session_id = ? AND summary_date = ?`

	return s.scanSummary("get summary", s.db.QueryRowContext(ctx, query, sessionID, date))
}

func (s *SQLiteStorage) LatestSummary(ctx context.Context, sessionID string) (*models.Summary, error) {
	query := `
		SELECT ` + sqliteSummaryColumns + `
		FROM memory_summaries
		WHERE session_id = ?
		ORDER BY summary_date DESC
		LIMIT 1`

	return s.scanSummary("latest summary", s.db.QueryRowContext(ctx, query, sessionID))
}

func (s *SQLiteStorage) scanSummary(op string, row *sql.Row) (*models.Summary, error) {
	var (
		summary                        models.Summary
		topics, decisions, facts, meta string
		created, updated               int64
	)
	err := row.Scan(
		&summary.SessionID,
		&summary.SummaryDate,
		&summary.Content,
		&summary.SourceMessageCount,
		&topics,
		&decisions,
		&facts,
		&meta,
		&created,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap(op, err)
	}

	if summary.Topics, err = decodeList([]byte(topics)); err != nil {
		return nil, wrap(op, err)
	}
	if summary.KeyDecisions, err = decodeList([]byte(decisions)); err != nil {
		return nil, wrap(op, err)
	}
	if summary.ImportantFacts, err = decodeList([]byte(facts)); err != nil {
		return nil, wrap(op, err)
	}
	if summary.Metadata, err = decodeMetadata([]byte(meta)); err != nil {
		return nil, wrap(op, err)
	}
	summary.CreatedAt, summary.UpdatedAt = fromNanos(created), fromNanos(updated)
	return &summary, nil
}

// Collective memory methods
func (s *SQLiteStorage) UpsertFact(ctx context.Context, entry *models.CollectiveMemoryEntry) (bool, error) {
	meta, err := encodeMetadata(factMetadata(entry))
	if err != nil {
		return false, wrap("encode fact metadata", err)
	}
	tags, err := encodeList(entry.Tags)
	if err != nil {
		return false, wrap("encode fact tags", err)
	}

	query := `
		INSERT INTO collective_memory (memory_key, memory_type, content, importance_score, created_by,
			tags, access_count, last_accessed, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (memory_key) DO UPDATE
		SET access_count = collective_memory.access_count + 1,
			last_accessed = excluded.last_accessed
		RETURNING access_count`

	var accessCount int
	err = s.db.QueryRowContext(ctx, query,
		entry.Key,
		entry.Type,
		entry.Content,
		entry.Importance,
		entry.CreatedBy,
		string(tags),
		toNanos(entry.LastAccessed),
		string(meta),
		toNanos(entry.CreatedAt),
	).Scan(&accessCount)
	if err != nil {
		return false, wrap("upsert fact", err)
	}
	return accessCount == 1, nil
}

const sqliteFactColumns = `memory_key, memory_type, content, importance_score, created_by, tags,
	access_count, last_accessed, metadata, created_at`

func (s *SQLiteStorage) GetFact(ctx context.Context, key string) (*models.CollectiveMemoryEntry, error) {
	facts, err := s.queryFacts(ctx, "get fact",
		`SELECT `+sqliteFactColumns+` FROM collective_memory WHERE memory_key = ?`, key)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, ErrNotFound
	}
	return &facts[0], nil
}

func (s *SQLiteStorage) ListFacts(ctx context.Context, filter models.FactFilter) ([]models.CollectiveMemoryEntry, error) {
	query := `
		SELECT ` + sqliteFactColumns + `
		FROM collective_memory
		WHERE (? = '' OR memory_type = ?) AND importance_score >= ?
		ORDER BY importance_score DESC, memory_key
		LIMIT ?`

	return s.queryFacts(ctx, "list facts", query,
		filter.Type, filter.Type, filter.MinImportance, factLimit(filter.Limit))
}

func (s *SQLiteStorage) SearchFacts(ctx context.Context, keywords []string, minImportance float64) ([]models.CollectiveMemoryEntry, error) {
	patterns := likePatterns(keywords)
	if len(patterns) == 0 {
		return nil, nil
	}

	clauses := make([]string, len(patterns))
	args := make([]any, 0, len(patterns)+1)
	args = append(args, minImportance)
	for i, p := range patterns {
		clauses[i] = `content LIKE ? ESCAPE '\'`
		args = append(args, p)
	}

	query := `
		SELECT ` + sqliteFactColumns + `
		FROM collective_memory
		WHERE importance_score > ? AND (` + strings.Join(clauses, " OR ") + `)
		ORDER BY importance_score DESC, memory_key`

	return s.queryFacts(ctx, "search facts", query, args...)
}

func (s *SQLiteStorage) queryFacts(ctx context.Context, op, query string, args ...any) ([]models.CollectiveMemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var facts []models.CollectiveMemoryEntry
	for rows.Next() {
		var (
			entry               models.CollectiveMemoryEntry
			tags, meta          string
			lastAccess, created int64
		)
		err := rows.Scan(
			&entry.Key,
			&entry.Type,
			&entry.Content,
			&entry.Importance,
			&entry.CreatedBy,
			&tags,
			&entry.AccessCount,
			&lastAccess,
			&meta,
			&created,
		)
		if err != nil {
			return nil, wrap(op, fmt.Errorf("error scanning fact: %w", err))
		}
		if entry.Tags, err = decodeList([]byte(tags)); err != nil {
			return nil, wrap(op, err)
		}
		m, err := decodeMetadata([]byte(meta))
		if err != nil {
			return nil, wrap(op, err)
		}
		splitFactMetadata(&entry, m)
		entry.LastAccessed, entry.CreatedAt = fromNanos(lastAccess), fromNanos(created)
		facts = append(facts, entry)
	}
	return facts, wrap(op, rows.Err())
}

// Analytics methods
func (s *SQLiteStorage) InsertEvent(ctx context.Context, event *models.AnalyticsEvent) error {
	meta, err := encodeMetadata(event.Metadata)
	if err != nil {
		return wrap("encode event metadata", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_analytics_events (id, event_type, session_id, user_id, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), event.SessionID, event.UserID, string(meta), toNanos(event.Timestamp))
	return wrap("insert event", err)
}

func (s *SQLiteStorage) ListEvents(ctx context.Context, since, until time.Time) ([]models.AnalyticsEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, session_id, user_id, metadata, timestamp
		FROM memory_analytics_events
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp`, toNanos(since), toNanos(until))
	if err != nil {
		return nil, wrap("list events", err)
	}
	defer rows.Close()

	var events []models.AnalyticsEvent
	for rows.Next() {
		var (
			event           models.AnalyticsEvent
			eventType, meta string
			ts              int64
		)
		if err := rows.Scan(&event.ID, &eventType, &event.SessionID, &event.UserID, &meta, &ts); err != nil {
			return nil, wrap("list events", fmt.Errorf("error scanning event: %w", err))
		}
		event.Type = models.EventType(eventType)
		event.Timestamp = fromNanos(ts)
		if event.Metadata, err = decodeMetadata([]byte(meta)); err != nil {
			return nil, wrap("list events", err)
		}
		events = append(events, event)
	}
	return events, wrap("list events", rows.Err())
}

func (s *SQLiteStorage) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_analytics_events WHERE timestamp < ?`, toNanos(cutoff))
	if err != nil {
		return 0, wrap("delete events", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, wrap("delete events", fmt.Errorf("error getting rows affected: %w", err))
	}
	return rowsAffected, nil
}

func (s *SQLiteStorage) UpsertDailyStats(ctx context.Context, stats *models.DailyStats) error {
	query := `
		INSERT INTO memory_analytics_daily (stat_date, messages_stored, retrievals, cache_hits, cache_misses,
			unique_sessions, unique_users, cache_hit_rate, avg_retrieved_messages, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stat_date) DO UPDATE
		SET messages_stored = excluded.messages_stored,
			retrievals = excluded.retrievals,
			cache_hits = excluded.cache_hits,
			cache_misses = excluded.cache_misses,
			unique_sessions = excluded.unique_sessions,
			unique_users = excluded.unique_users,
			cache_hit_rate = excluded.cache_hit_rate,
			avg_retrieved_messages = excluded.avg_retrieved_messages,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		stats.Date,
		stats.MessagesStored,
		stats.Retrievals,
		stats.CacheHits,
		stats.CacheMisses,
		stats.UniqueSessions,
		stats.UniqueUsers,
		stats.CacheHitRate,
		stats.AvgRetrievedMessages,
		toNanos(stats.UpdatedAt),
	)
	return wrap("upsert daily stats", err)
}

const sqliteDailyColumns = `stat_date, messages_stored, retrievals, cache_hits, cache_misses,
	unique_sessions, unique_users, cache_hit_rate, avg_retrieved_messages, updated_at`

func (s *SQLiteStorage) GetDailyStats(ctx context.Context, date string) (*models.DailyStats, error) {
	stats, err := s.queryDailyStats(ctx, "get daily stats",
		`SELECT `+sqliteDailyColumns+` FROM memory_analytics_daily WHERE stat_date = ?`, date)
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return nil, ErrNotFound
	}
	return &stats[0], nil
}

func (s *SQLiteStorage) ListDailyStats(ctx context.Context, from, to string) ([]models.DailyStats, error) {
	return s.queryDailyStats(ctx, "list daily stats", `
		SELECT `+sqliteDailyColumns+`
		FROM memory_analytics_daily
		WHERE stat_date BETWEEN ? AND ?
		ORDER BY stat_date`, from, to)
}

func (s *SQLiteStorage) queryDailyStats(ctx context.Context, op, query string, args ...any) ([]models.DailyStats, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var out []models.DailyStats
	for rows.Next() {
		var (
			stats   models.DailyStats
			updated int64
		)
		err := rows.Scan(
			&stats.Date,
			&stats.MessagesStored,
			&stats.Retrievals,
			&stats.CacheHits,
			&stats.CacheMisses,
			&stats.UniqueSessions,
			&stats.UniqueUsers,
			&stats.CacheHitRate,
			&stats.AvgRetrievedMessages,
			&updated,
		)
		if err != nil {
			return nil, wrap(op, fmt.Errorf("error scanning daily stats: %w", err))
		}
		stats.UpdatedAt = fromNanos(updated)
		out = append(out, stats)
	}
	return out, wrap(op, rows.Err())
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
