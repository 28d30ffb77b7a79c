package service

import (
	"context"
	"testing"
	"time"

	"slacklater/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_RearmsFutureMessages(t *testing.T) {
	registry := newFakeRegistry()
	gateway := &fakeGateway{}
	dispatcher := NewDispatcher(registry, newFakeCredentials("t"), gateway, testLogger())
	defer dispatcher.Stop()
	ctx := context.Background()

	require.NoError(t, registry.SaveMessage(ctx, scheduledMessage("msg_future", time.Now().Add(time.Hour))))

	reconciler := NewReconciler(registry, dispatcher, testLogger())
	require.NoError(t, reconciler.Run(ctx))

	assert.True(t, dispatcher.Armed("msg_future"))
	assert.Equal(t, models.MessageStatusScheduled, registry.status("msg_future"))
	assert.Equal(t, 0, gateway.sendCount())
}

func TestReconcile_FailsPastDueMessages(t *testing.T) {
	registry := newFakeRegistry()
	gateway := &fakeGateway{}
	dispatcher := NewDispatcher(registry, newFakeCredentials("t"), gateway, testLogger())
	defer dispatcher.Stop()
	ctx := context.Background()

	require.NoError(t, registry.SaveMessage(ctx, scheduledMessage("msg_missed", time.Now().Add(-time.Minute))))

	reconciler := NewReconciler(registry, dispatcher, testLogger())
	require.NoError(t, reconciler.Run(ctx))

	assert.Equal(t, models.MessageStatusFailed, registry.status("msg_missed"))
	lastError := registry.lastError("msg_missed")
	require.NotNil(t, lastError)
	assert.Equal(t, MissedWindowError, *lastError)

	// Past-due messages are never delivered late.
	assert.Equal(t, 0, gateway.sendCount())
	assert.False(t, dispatcher.Armed("msg_missed"))
}

func TestReconcile_IgnoresTerminalMessages(t *testing.T) {
	registry := newFakeRegistry()
	dispatcher := NewDispatcher(registry, newFakeCredentials("t"), &fakeGateway{}, testLogger())
	defer dispatcher.Stop()
	ctx := context.Background()

	sent := scheduledMessage("msg_sent", time.Now().Add(-time.Hour))
	sent.Status = models.MessageStatusSent
	require.NoError(t, registry.SaveMessage(ctx, sent))

	canceled := scheduledMessage("msg_canceled", time.Now().Add(time.Hour))
	canceled.Status = models.MessageStatusCanceled
	require.NoError(t, registry.SaveMessage(ctx, canceled))

	reconciler := NewReconciler(registry, dispatcher, testLogger())
	require.NoError(t, reconciler.Run(ctx))

	assert.Equal(t, models.MessageStatusSent, registry.status("msg_sent"))
	assert.Equal(t, models.MessageStatusCanceled, registry.status("msg_canceled"))
	assert.False(t, dispatcher.Armed("msg_sent"))
	assert.False(t, dispatcher.Armed("msg_canceled"))
}

func TestRun_OnlyScansOnce(t *testing.T) {
	registry := newFakeRegistry()
	dispatcher := NewDispatcher(registry, newFakeCredentials("t"), &fakeGateway{}, testLogger())
	defer dispatcher.Stop()
	ctx := context.Background()

	reconciler := NewReconciler(registry, dispatcher, testLogger())
	require.NoError(t, reconciler.Run(ctx))
	require.NoError(t, reconciler.Run(ctx))

	assert.Equal(t, 1, registry.listCalls)
}

// slowTransitionRegistry delays every status transition, letting a due time
// slip into the past while earlier backlog entries are being processed.
type slowTransitionRegistry struct {
	*fakeRegistry
	delay time.Duration
}

func (s *slowTransitionRegistry) TransitionStatus(ctx context.Context, id string, from, to models.MessageStatus, lastError *string) error {
	time.Sleep(s.delay)
	return s.fakeRegistry.TransitionStatus(ctx, id, from, to, lastError)
}

func TestReconcile_DueTimePassesDuringScan(t *testing.T) {
	registry := newFakeRegistry()
	gateway := &fakeGateway{}
	dispatcher := NewDispatcher(registry, newFakeCredentials("t"), gateway, testLogger())
	defer dispatcher.Stop()
	ctx := context.Background()

	// The first entry is already missed; failing it is slow enough that the
	// second entry's due time passes before the scan reaches it.
	require.NoError(t, registry.SaveMessage(ctx, scheduledMessage("msg_first", time.Now().Add(-time.Minute))))
	require.NoError(t, registry.SaveMessage(ctx, scheduledMessage("msg_second", time.Now().Add(80*time.Millisecond))))

	slow := &slowTransitionRegistry{fakeRegistry: registry, delay: 150 * time.Millisecond}
	reconciler := NewReconciler(slow, dispatcher, testLogger())
	require.NoError(t, reconciler.Run(ctx))

	// Neither message may be left scheduled without a timer.
	assert.Equal(t, models.MessageStatusFailed, registry.status("msg_first"))
	assert.Equal(t, models.MessageStatusFailed, registry.status("msg_second"))
	require.NotNil(t, registry.lastError("msg_second"))
	assert.Equal(t, MissedWindowError, *registry.lastError("msg_second"))
	assert.False(t, dispatcher.Armed("msg_second"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, gateway.sendCount())
}

func TestReconcile_MixedBacklog(t *testing.T) {
	registry := newFakeRegistry()
	gateway := &fakeGateway{}
	dispatcher := NewDispatcher(registry, newFakeCredentials("t"), gateway, testLogger())
	defer dispatcher.Stop()
	ctx := context.Background()

	require.NoError(t, registry.SaveMessage(ctx, scheduledMessage("msg_a", time.Now().Add(time.Hour))))
	require.NoError(t, registry.SaveMessage(ctx, scheduledMessage("msg_b", time.Now().Add(-time.Hour))))
	require.NoError(t, registry.SaveMessage(ctx, scheduledMessage("msg_c", time.Now().Add(2*time.Hour))))

	reconciler := NewReconciler(registry, dispatcher, testLogger())
	require.NoError(t, reconciler.Run(ctx))

	assert.True(t, dispatcher.Armed("msg_a"))
	assert.True(t, dispatcher.Armed("msg_c"))
	assert.Equal(t, models.MessageStatusFailed, registry.status("msg_b"))
}
