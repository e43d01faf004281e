/*
Package activity delivers the engine's side effects: audit events and
approver notifications.

SINKS:
  - LogSink:       writes each audit event as a structured zap entry
  - store/sqlite:  persists events to the activity_log table (see sqlite.Store)
  - Multi:         fans one event out to several sinks

NOTIFIERS:
  - RedisNotifier: publishes JSON on a pub/sub channel, one message per role
  - LogNotifier:   logs the notification (single-node and dev setups)

Every implementation returns its error to the engine, which logs and
suppresses it. Nothing here may block a business operation for long.
*/
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/production-engine/logger"
	"github.com/warp/production-engine/production"
)

// =============================================================================
// AUDIT SINKS
// =============================================================================

// LogSink records audit events to a zap logger.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: logger.OrNop(log).Named("audit")}
}

func (s *LogSink) Record(_ context.Context, ev production.AuditEvent) error {
	fields := []zap.Field{
		zap.Time("at", ev.At),
		zap.String("actor_id", ev.Actor.ID),
		zap.String("actor_role", string(ev.Actor.Role)),
		zap.String("action", string(ev.Action)),
		zap.String("subject", ev.Subject),
	}
	if len(ev.Properties) > 0 {
		fields = append(fields, zap.Any("properties", ev.Properties))
	}
	s.log.Info(ev.Message, fields...)
	return nil
}

// Multi fans an event out to every sink. All sinks are tried; errors are joined.
type Multi []production.AuditSink

func (m Multi) Record(ctx context.Context, ev production.AuditEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// NOTIFIERS
// =============================================================================

// Message is the payload published for each recipient role.
type Message struct {
	Role         production.Role         `json:"role"`
	Notification production.Notification `json:"notification"`
	PublishedAt  time.Time               `json:"published_at"`
}

// RedisNotifier publishes notifications to Redis pub/sub. Subscribers (the
// web front end, a mailer) listen on Channel + ":" + role.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
}

func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	if channel == "" {
		channel = "production:notifications"
	}
	return &RedisNotifier{client: client, channel: channel, timeout: 2 * time.Second}
}

func (n *RedisNotifier) Notify(ctx context.Context, recipients []production.Role, msg production.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var errs []error
	for _, role := range recipients {
		payload, err := json.Marshal(Message{Role: role, Notification: msg, PublishedAt: time.Now().UTC()})
		if err != nil {
			return fmt.Errorf("encode notification: %w", err)
		}
		if err := n.client.Publish(ctx, n.Channel(role), payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish to %s: %w", role, err))
		}
	}
	return errors.Join(errs...)
}

// Channel is the pub/sub channel for one role.
func (n *RedisNotifier) Channel(role production.Role) string {
	return n.channel + ":" + string(role)
}

// LogNotifier logs notifications instead of delivering them.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: logger.OrNop(log).Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, recipients []production.Role, msg production.Notification) error {
	roles := make([]string, len(recipients))
	for i, r := range recipients {
		roles[i] = string(r)
	}
	n.log.Info(msg.Message,
		zap.String("kind", msg.Kind),
		zap.Strings("recipients", roles),
		zap.String("work_log_id", string(msg.WorkLogID)),
		zap.Int("quantity", msg.Quantity))
	return nil
}

var (
	_ production.AuditSink = (*LogSink)(nil)
	_ production.AuditSink = Multi(nil)
	_ production.Notifier  = (*RedisNotifier)(nil)
	_ production.Notifier  = (*LogNotifier)(nil)
)
