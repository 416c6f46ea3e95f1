package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epic1st/execalgo/audit"
)

// PostgresSink writes every event as a row in audit_events, giving the
// ledger durable, queryable storage independent of the in-process
// FileSink. Column layout favors the fields audit queries filter on most
// (intent_id, plan_id, event_type, ts) with the full event retained as JSONB
// for anything else.
type PostgresSink struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS audit_events (
	seq             BIGINT PRIMARY KEY,
	ts_millis       BIGINT NOT NULL,
	event_type      TEXT NOT NULL,
	intent_id       TEXT NOT NULL,
	plan_id         TEXT,
	client_order_id TEXT,
	run_id          TEXT NOT NULL,
	exec_id         TEXT NOT NULL,
	payload         JSONB NOT NULL
)`

// NewPostgresSink connects to dsn and ensures the audit_events table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sinks: connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sinks: creating audit_events table: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// Write inserts ev as a new row. seq is the primary key, so a sink replayed
// against the same events (e.g. recovering from a crash mid-flush) is
// naturally idempotent via ON CONFLICT DO NOTHING.
func (s *PostgresSink) Write(ev audit.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sinks: marshaling event for postgres: %w", err)
	}
	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO audit_events (seq, ts_millis, event_type, intent_id, plan_id, client_order_id, run_id, exec_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (seq) DO NOTHING`,
		ev.Seq, ev.TS, string(ev.EventType), ev.IntentID, ev.PlanID, ev.ClientOrderID, ev.RunID, ev.ExecID, payload,
	)
	if err != nil {
		return fmt.Errorf("sinks: inserting audit event: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
