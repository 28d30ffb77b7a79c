package service

import (
	"context"
	"sync"
	"time"

	"slacklater/internal/models"

	"github.com/sirupsen/logrus"
)

// MissedWindowError is the recorded failure reason for messages whose due
// time passed before a timer could be armed for them, typically while the
// process was down. No delivery is attempted for a missed window: there is
// no way to know whether the original send time still matches user intent.
const MissedWindowError = "missed scheduled time"

// ReconcilerRegistry is the slice of the persistence layer the reconciler
// needs to rebuild dispatcher state.
type ReconcilerRegistry interface {
	ListMessagesByStatus(ctx context.Context, status models.MessageStatus) ([]models.ScheduledMessage, error)
	TransitionStatus(ctx context.Context, id string, from, to models.MessageStatus, lastError *string) error
}

// Reconciler rebuilds the dispatcher's timer set from persisted state at
// process start: pending messages with future due times are re-armed,
// past-due ones are failed.
type Reconciler struct {
	registry   ReconcilerRegistry
	dispatcher *Dispatcher
	logger     *logrus.Logger
	once       sync.Once
}

func NewReconciler(registry ReconcilerRegistry, dispatcher *Dispatcher, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Run scans for messages still in scheduled status and re-arms or fails
// them. It runs at most once per process lifetime; the dispatcher's armed
// check and the conditional transition make a second pass harmless anyway.
func (r *Reconciler) Run(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		err = r.reconcile(ctx)
	})
	return err
}

func (r *Reconciler) reconcile(ctx context.Context) error {
	pending, err := r.registry.ListMessagesByStatus(ctx, models.MessageStatusScheduled)
	if err != nil {
		return err
	}

	rearmed := 0
	missed := 0

	for i := range pending {
		msg := pending[i]

		if r.dispatcher.Arm(&msg) {
			rearmed++
			continue
		}

		// Past due at scan time, or the due time slipped past while earlier
		// entries were being transitioned. Either way the window is missed.
		reason := MissedWindowError
		if err := r.registry.TransitionStatus(ctx, msg.ID, models.MessageStatusScheduled, models.MessageStatusFailed, &reason); err != nil {
			r.logger.WithError(err).WithField(LogFieldMessageID, msg.ID).Error("Failed to mark missed message")
			continue
		}
		missed++

		r.logger.WithFields(logrus.Fields{
			LogFieldMessageID: msg.ID,
			LogFieldTenantID:  msg.TenantID,
			"send_at":         msg.SendAt.UTC().Format(time.RFC3339),
		}).Warn("Marked message failed, scheduled time already passed")
	}

	r.logger.WithFields(logrus.Fields{
		"pending": len(pending),
		"rearmed": rearmed,
		"missed":  missed,
	}).Info("Reconciliation completed")

	return nil
}
