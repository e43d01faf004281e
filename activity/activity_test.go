package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/production-engine/production"
)

type failingSink struct{ err error }

func (f failingSink) Record(context.Context, production.AuditEvent) error { return f.err }

func sampleEvent() production.AuditEvent {
	return production.AuditEvent{
		At:         time.Date(2024, 6, 21, 9, 0, 0, 0, time.UTC),
		Actor:      production.Actor{ID: "u1", Name: "Admin", Role: production.RoleAdmin},
		Action:     production.AuditRequestApproved,
		Subject:    "work_log:w1",
		Properties: map[string]any{"quantity": 3},
		Message:    "Admin approved 3 x Bolt for Budi",
	}
}

func TestLogSink_Record(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Record(context.Background(), sampleEvent()))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Admin approved 3 x Bolt for Budi", entries[0].Message)
	assert.Equal(t, "audit", entries[0].LoggerName)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "request_approved", ctx["action"])
	assert.Equal(t, "u1", ctx["actor_id"])
}

func TestMulti_TriesEverySink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	boom := errors.New("boom")
	multi := Multi{failingSink{err: boom}, nil, NewLogSink(zap.New(core))}

	err := multi.Record(context.Background(), sampleEvent())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, logs.Len())
}

func TestLogNotifier_Notify(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	err := n.Notify(context.Background(), production.Approvers, production.Notification{
		Kind:      "work_log.pending",
		WorkLogID: "w1",
		Quantity:  2,
		Message:   "Budi requested approval for 2 x Bolt",
	})
	require.NoError(t, err)

	require.Equal(t, 1, logs.Len())
	recipients := logs.All()[0].ContextMap()["recipients"]
	assert.Equal(t, []interface{}{"admin", "administration_staff"}, recipients)
}

func TestRedisNotifier_Channel(t *testing.T) {
	n := NewRedisNotifier(nil, "")
	assert.Equal(t, "production:notifications:admin", n.Channel(production.RoleAdmin))
}
