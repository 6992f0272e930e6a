// Package archive persists received notifications to PostgreSQL.
//
// A Writer registers as a listener on the realtime service. Listener calls
// only enqueue rows; a background goroutine drains the queue in batches and
// inserts them with pgx.Batch. Rows are keyed by notification ID and inserted
// with ON CONFLICT DO NOTHING, so replays after a reconnect are counted as
// conflicts instead of failing the batch.
package archive
