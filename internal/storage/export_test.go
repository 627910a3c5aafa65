package storage

import "context"

// TruncatePostgres empties every table so contract tests start clean.
func TruncatePostgres(ctx context.Context, s *PostgresStorage) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE conversation_history, sessions, memory_summaries,
		collective_memory, memory_analytics_events, memory_analytics_daily RESTART IDENTITY`)
	return err
}
