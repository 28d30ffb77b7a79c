package service

import (
	"context"
	"time"

	"slacklater/internal/errors"
	"slacklater/internal/metrics"
	"slacklater/internal/models"

	"slacklater/pkg/slack"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MessageStore is the slice of the persistence layer the message service
// needs beyond what the dispatcher already holds.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.ScheduledMessage) error
	GetMessage(ctx context.Context, id string) (*models.ScheduledMessage, error)
	ListMessagesByTenant(ctx context.Context, tenantID string) ([]models.ScheduledMessage, error)
}

// CredentialStore exposes the token store operations the service consumes.
type CredentialStore interface {
	Get(ctx context.Context, tenantID string) (*models.Credential, error)
	Put(ctx context.Context, cred *models.Credential) error
	GetValidAccessToken(ctx context.Context, tenantID string) (string, error)
}

// Gateway is the provider surface the service consumes: OAuth exchange plus
// the two pass-through calls.
type Gateway interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*slack.OAuthToken, error)
	SendText(ctx context.Context, accessToken, channelID, text string) (string, error)
	ListChannels(ctx context.Context, accessToken string) ([]slack.Channel, error)
}

// MessageService is the API-facing surface consumed by the HTTP layer.
type MessageService interface {
	ScheduleMessage(ctx context.Context, tenantID, channelID, text string, sendAt time.Time) (*models.ScheduledMessage, error)
	ListMessages(ctx context.Context, tenantID string) ([]models.ScheduledMessage, error)
	CancelMessage(ctx context.Context, tenantID, id string) (*models.ScheduledMessage, error)
	ListChannels(ctx context.Context, tenantID string) ([]slack.Channel, error)
	AuthorizeURL(state string) string
	CompleteOAuth(ctx context.Context, code string) (*models.Credential, error)
}

type messageService struct {
	store      MessageStore
	tokens     CredentialStore
	gateway    Gateway
	dispatcher *Dispatcher
	logger     *logrus.Logger
}

func NewMessageService(store MessageStore, tokens CredentialStore, gateway Gateway, dispatcher *Dispatcher, logger *logrus.Logger) MessageService {
	return &messageService{
		store:      store,
		tokens:     tokens,
		gateway:    gateway,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// ScheduleMessage persists a message and arms its delivery timer. A due time
// that is not in the future takes the immediate path: one synchronous
// delivery attempt whose terminal outcome is recorded on the same record.
func (s *messageService) ScheduleMessage(ctx context.Context, tenantID, channelID, text string, sendAt time.Time) (*models.ScheduledMessage, error) {
	if tenantID == "" || channelID == "" || text == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "tenant_id, channel_id and text are required")
	}

	// Scheduling against a workspace that never connected is a client error,
	// not something to discover at fire time.
	if _, err := s.tokens.Get(ctx, tenantID); err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.New(errors.ErrCodeUnauthorized, "workspace is not connected").
				WithContext("tenant_id", tenantID)
		}
		return nil, err
	}

	now := time.Now().UTC()
	msg := &models.ScheduledMessage{
		ID:        "msg_" + uuid.NewString(),
		TenantID:  tenantID,
		ChannelID: channelID,
		Text:      text,
		SendAt:    sendAt.UTC(),
		Status:    models.MessageStatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if !sendAt.After(now) {
		return s.sendNow(ctx, msg)
	}

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}

	// The due time can slip into the past between validation and arming.
	// A declined timer must not leave the record in scheduled limbo, so
	// deliver on the spot and return the terminal outcome.
	if !s.dispatcher.Arm(msg) {
		s.dispatcher.fire(msg.ID)
		return s.store.GetMessage(ctx, msg.ID)
	}

	metrics.IncrementCounter("messages_scheduled_total", nil, "Messages accepted for future delivery")

	s.logger.WithFields(logrus.Fields{
		LogFieldMessageID: msg.ID,
		LogFieldTenantID:  tenantID,
		LogFieldChannelID: channelID,
		"send_at":         msg.SendAt.Format(time.RFC3339),
	}).Info("Scheduled message")

	return msg, nil
}

// sendNow performs the immediate delivery path. The outcome lands on the
// record before it is persisted, so the registry only ever sees a terminal
// status for immediate sends.
func (s *messageService) sendNow(ctx context.Context, msg *models.ScheduledMessage) (*models.ScheduledMessage, error) {
	token, err := s.tokens.GetValidAccessToken(ctx, msg.TenantID)
	if err == nil {
		_, err = s.gateway.SendText(ctx, token, msg.ChannelID, msg.Text)
	}

	if err != nil {
		errMsg := err.Error()
		msg.Status = models.MessageStatusFailed
		msg.LastError = &errMsg
		metrics.IncrementCounter("messages_failed_total", nil, "Scheduled messages failed")
		s.logger.WithError(err).WithFields(logrus.Fields{
			LogFieldMessageID: msg.ID,
			LogFieldTenantID:  msg.TenantID,
		}).Error("Immediate delivery failed")
	} else {
		msg.Status = models.MessageStatusSent
		metrics.IncrementCounter("messages_sent_total", nil, "Scheduled messages delivered")
		s.logger.WithFields(logrus.Fields{
			LogFieldMessageID: msg.ID,
			LogFieldTenantID:  msg.TenantID,
			LogFieldChannelID: msg.ChannelID,
		}).Info("Delivered message immediately")
	}

	if saveErr := s.store.SaveMessage(ctx, msg); saveErr != nil {
		return nil, saveErr
	}
	return msg, nil
}

func (s *messageService) ListMessages(ctx context.Context, tenantID string) ([]models.ScheduledMessage, error) {
	if tenantID == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "tenant_id is required")
	}
	return s.store.ListMessagesByTenant(ctx, tenantID)
}

// CancelMessage cancels a scheduled message, scoped to the owning tenant.
// Canceling a message already in a terminal state returns the unchanged
// record rather than an error.
func (s *messageService) CancelMessage(ctx context.Context, tenantID, id string) (*models.ScheduledMessage, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.TenantID != tenantID {
		return nil, errors.New(errors.ErrCodeNotFound, "message not found").
			WithContext("message_id", id)
	}

	if _, err := s.dispatcher.Cancel(ctx, id); err != nil {
		return nil, err
	}

	return s.store.GetMessage(ctx, id)
}

func (s *messageService) ListChannels(ctx context.Context, tenantID string) ([]slack.Channel, error) {
	token, err := s.tokens.GetValidAccessToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	channels, err := s.gateway.ListChannels(ctx, token)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSlackAPI, "failed to list channels").
			WithContext("tenant_id", tenantID)
	}
	return channels, nil
}

func (s *messageService) AuthorizeURL(state string) string {
	return s.gateway.AuthorizeURL(state)
}

// CompleteOAuth exchanges the callback code and upserts the workspace
// credential. Reconnecting an already-connected workspace overwrites the
// stored record.
func (s *messageService) CompleteOAuth(ctx context.Context, code string) (*models.Credential, error) {
	if code == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "authorization code is required")
	}

	token, err := s.gateway.ExchangeCode(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnauthorized, "authorization code exchange failed")
	}
	if token.Team.ID == "" {
		return nil, errors.New(errors.ErrCodeSlackAPI, "token response carries no team id")
	}

	cred := &models.Credential{
		TenantID:     token.Team.ID,
		TeamName:     token.Team.Name,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
		ObtainedAt:   time.Now().UTC(),
	}

	if err := s.tokens.Put(ctx, cred); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		LogFieldTenantID: cred.TenantID,
		"team_name":      cred.TeamName,
	}).Info("Connected workspace")

	return cred, nil
}
