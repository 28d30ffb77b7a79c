package service

import (
	"context"
	"sync"
	"time"

	"slacklater/internal/constants"
	"slacklater/internal/errors"
	"slacklater/internal/metrics"
	"slacklater/internal/models"
	"slacklater/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Registry is the slice of the persistence layer the dispatcher needs.
type Registry interface {
	GetMessage(ctx context.Context, id string) (*models.ScheduledMessage, error)
	TransitionStatus(ctx context.Context, id string, from, to models.MessageStatus, lastError *string) error
}

// TokenProvider yields an access token valid at call time.
type TokenProvider interface {
	GetValidAccessToken(ctx context.Context, tenantID string) (string, error)
}

// DeliveryGateway posts a message to the provider.
type DeliveryGateway interface {
	SendText(ctx context.Context, accessToken, channelID, text string) (string, error)
}

// Dispatcher owns the armed-timer map: one one-shot timer per message still
// in scheduled status with a future due time. Timer handles are runtime-only
// state, rebuilt by the reconciler after a restart, and are always cleared
// before a message reaches a terminal status.
type Dispatcher struct {
	registry Registry
	tokens   TokenProvider
	gateway  DeliveryGateway
	logger   *logrus.Logger
	timeout  time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewDispatcher(registry Registry, tokens TokenProvider, gateway DeliveryGateway, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		tokens:   tokens,
		gateway:  gateway,
		logger:   logger,
		timeout:  time.Duration(constants.DefaultDeliveryTimeoutSec) * time.Second,
		timers:   make(map[string]*time.Timer),
	}
}

// Arm schedules a one-shot wake-up at the message's due time. Messages whose
// due time is not strictly in the future are not armed; past-due handling
// belongs to the reconciler. Returns whether a timer was installed.
func (d *Dispatcher) Arm(msg *models.ScheduledMessage) bool {
	delay := time.Until(msg.SendAt)
	if delay <= 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.timers[msg.ID]; exists {
		return false
	}

	id := msg.ID
	d.timers[id] = time.AfterFunc(delay, func() {
		d.fire(id)
	})

	d.logger.WithFields(logrus.Fields{
		LogFieldMessageID: msg.ID,
		LogFieldTenantID:  msg.TenantID,
		"send_at":         msg.SendAt.UTC().Format(time.RFC3339),
	}).Debug("Armed delivery timer")

	return true
}

// Cancel stops the message's timer if one is armed and transitions it to
// canceled. Canceling a message already in a terminal state is an idempotent
// no-op; the returned bool reports whether this call changed the status.
func (d *Dispatcher) Cancel(ctx context.Context, id string) (bool, error) {
	d.removeTimer(id)

	err := d.registry.TransitionStatus(ctx, id, models.MessageStatusScheduled, models.MessageStatusCanceled, nil)
	if err != nil {
		if errors.IsInvalidTransition(err) {
			return false, nil
		}
		return false, err
	}

	metrics.IncrementCounter("messages_canceled_total", nil, "Scheduled messages canceled")

	d.logger.WithField(LogFieldMessageID, id).Info("Canceled scheduled message")
	return true, nil
}

// Stop cancels all armed timers without touching persisted status. Pending
// messages stay scheduled and are re-armed by the reconciler on next start.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, timer := range d.timers {
		timer.Stop()
		delete(d.timers, id)
	}
}

// Armed reports whether a timer is currently held for the message.
func (d *Dispatcher) Armed(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[id]
	return ok
}

// fire runs in the timer goroutine at the message's due time. Every fire is
// an independent unit of work with a bounded deadline so a stuck provider
// call cannot pile up timer callbacks.
func (d *Dispatcher) fire(id string) {
	d.removeTimer(id)

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, "dispatch_message",
		attribute.String("message.id", id),
	)
	defer span.End()

	msg, err := d.registry.GetMessage(ctx, id)
	if err != nil {
		tracing.RecordError(ctx, err)
		d.logger.WithError(err).WithField(LogFieldMessageID, id).Error("Failed to load message at fire time")
		return
	}
	if msg == nil {
		d.logger.WithField(LogFieldMessageID, id).Error("Armed message no longer exists")
		return
	}

	// A cancel may have landed between arming and firing.
	if msg.Status != models.MessageStatusScheduled {
		d.logger.WithFields(logrus.Fields{
			LogFieldMessageID: id,
			LogFieldStatus:    string(msg.Status),
		}).Debug("Skipping fire, message already terminal")
		return
	}

	start := time.Now()

	token, err := d.tokens.GetValidAccessToken(ctx, msg.TenantID)
	if err != nil {
		d.finalize(ctx, msg, models.MessageStatusFailed, err)
		return
	}

	if _, err := d.gateway.SendText(ctx, token, msg.ChannelID, msg.Text); err != nil {
		d.finalize(ctx, msg, models.MessageStatusFailed, errors.Wrap(err, errors.ErrCodeDeliveryFailed, "provider rejected delivery"))
		return
	}

	metrics.RecordTimer("message_delivery_duration", time.Since(start), nil, "Scheduled message delivery duration")
	d.finalize(ctx, msg, models.MessageStatusSent, nil)
}

// finalize resolves a fire into a terminal status. Each message gets exactly
// one delivery attempt; failures are recorded, never retried.
func (d *Dispatcher) finalize(ctx context.Context, msg *models.ScheduledMessage, status models.MessageStatus, cause error) {
	var lastError *string
	if cause != nil {
		errMsg := cause.Error()
		lastError = &errMsg
		tracing.RecordError(ctx, cause)
	}

	err := d.registry.TransitionStatus(ctx, msg.ID, models.MessageStatusScheduled, status, lastError)
	if err != nil {
		if errors.IsInvalidTransition(err) {
			// Lost the race against a cancel; the terminal state stands.
			d.logger.WithField(LogFieldMessageID, msg.ID).Debug("Fire lost transition race")
			return
		}
		d.logger.WithError(err).WithFields(logrus.Fields{
			LogFieldMessageID: msg.ID,
			LogFieldStatus:    string(status),
		}).Error("Failed to finalize message status")
		return
	}

	fields := logrus.Fields{
		LogFieldMessageID: msg.ID,
		LogFieldTenantID:  msg.TenantID,
		LogFieldChannelID: msg.ChannelID,
		LogFieldStatus:    string(status),
	}

	switch status {
	case models.MessageStatusSent:
		metrics.IncrementCounter("messages_sent_total", nil, "Scheduled messages delivered")
		d.logger.WithFields(fields).Info("Delivered scheduled message")
	case models.MessageStatusFailed:
		metrics.IncrementCounter("messages_failed_total", nil, "Scheduled messages failed")
		d.logger.WithError(cause).WithFields(fields).Error("Failed to deliver scheduled message")
	}
}

func (d *Dispatcher) removeTimer(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.timers[id]; ok {
		timer.Stop()
		delete(d.timers, id)
	}
}
