// Package sinks provides audit.Sink implementations that fan ledger events
// out to external systems: Redis pub/sub for live dashboards, Postgres for
// durable queryable storage, and a websocket broadcaster for UI clients.
package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/epic1st/execalgo/audit"
)

// RedisSink publishes every event as JSON to a Redis pub/sub channel.
// Subscribers (a live dashboard, a secondary audit consumer) see events in
// the order the ledger recorded them, but delivery is at-most-once: a sink
// needing durability should pair this with PostgresSink.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink creates a sink publishing to channel on client.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Write publishes ev to the configured channel.
func (s *RedisSink) Write(ev audit.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sinks: marshaling event for redis: %w", err)
	}
	if err := s.client.Publish(context.Background(), s.channel, data).Err(); err != nil {
		return fmt.Errorf("sinks: publishing to redis: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
