package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"slacklater/internal/errors"
	"slacklater/internal/models"

	"slacklater/pkg/slack"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeRegistry is an in-memory message store with the same conditional
// transition semantics as the sqlite layer.
type fakeRegistry struct {
	mu        sync.Mutex
	messages  map[string]*models.ScheduledMessage
	order     []string
	listCalls int
	saveErr   error
	saveDelay time.Duration
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{messages: make(map[string]*models.ScheduledMessage)}
}

func (f *fakeRegistry) SaveMessage(_ context.Context, msg *models.ScheduledMessage) error {
	if f.saveDelay > 0 {
		time.Sleep(f.saveDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.saveErr != nil {
		return f.saveErr
	}
	copied := *msg
	f.messages[msg.ID] = &copied
	f.order = append(f.order, msg.ID)
	return nil
}

func (f *fakeRegistry) GetMessage(_ context.Context, id string) (*models.ScheduledMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.messages[id]
	if !ok {
		return nil, nil
	}
	copied := *msg
	return &copied, nil
}

func (f *fakeRegistry) ListMessagesByTenant(_ context.Context, tenantID string) ([]models.ScheduledMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.ScheduledMessage
	for _, id := range f.order {
		if f.messages[id].TenantID == tenantID {
			out = append(out, *f.messages[id])
		}
	}
	return out, nil
}

func (f *fakeRegistry) ListMessagesByStatus(_ context.Context, status models.MessageStatus) ([]models.ScheduledMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	var out []models.ScheduledMessage
	for _, id := range f.order {
		if f.messages[id].Status == status {
			out = append(out, *f.messages[id])
		}
	}
	return out, nil
}

func (f *fakeRegistry) TransitionStatus(_ context.Context, id string, from, to models.MessageStatus, lastError *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.messages[id]
	if !ok {
		return errors.New(errors.ErrCodeNotFound, "message not found")
	}
	if msg.Status != from {
		return errors.New(errors.ErrCodeInvalidTransition,
			fmt.Sprintf("message is %s, expected %s", msg.Status, from))
	}
	msg.Status = to
	msg.LastError = lastError
	msg.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeRegistry) status(id string) models.MessageStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[id].Status
}

func (f *fakeRegistry) lastError(id string) *string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[id].LastError
}

// fakeCredentials satisfies both TokenProvider and CredentialStore.
type fakeCredentials struct {
	mu       sync.Mutex
	creds    map[string]*models.Credential
	token    string
	tokenErr error
}

func newFakeCredentials(token string) *fakeCredentials {
	return &fakeCredentials{
		creds: make(map[string]*models.Credential),
		token: token,
	}
}

func (f *fakeCredentials) connect(tenantID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[tenantID] = &models.Credential{
		TenantID:    tenantID,
		AccessToken: f.token,
		ObtainedAt:  time.Now().UTC(),
	}
}

func (f *fakeCredentials) Get(_ context.Context, tenantID string) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cred, ok := f.creds[tenantID]
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "no credential for tenant")
	}
	copied := *cred
	return &copied, nil
}

func (f *fakeCredentials) Put(_ context.Context, cred *models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := *cred
	f.creds[cred.TenantID] = &copied
	return nil
}

func (f *fakeCredentials) GetValidAccessToken(_ context.Context, _ string) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return f.token, nil
}

type sentMessage struct {
	token     string
	channelID string
	text      string
}

// fakeGateway satisfies both DeliveryGateway and Gateway.
type fakeGateway struct {
	mu       sync.Mutex
	sent     []sentMessage
	sendErr  error
	channels []slack.Channel
	listErr  error
	exchange *slack.OAuthToken
	exchErr  error
}

func (f *fakeGateway) AuthorizeURL(state string) string {
	return "https://slack.example.com/oauth/v2/authorize?state=" + state
}

func (f *fakeGateway) ExchangeCode(_ context.Context, _ string) (*slack.OAuthToken, error) {
	if f.exchErr != nil {
		return nil, f.exchErr
	}
	return f.exchange, nil
}

func (f *fakeGateway) SendText(_ context.Context, accessToken, channelID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, sentMessage{token: accessToken, channelID: channelID, text: text})
	return fmt.Sprintf("%d.000100", time.Now().Unix()), nil
}

func (f *fakeGateway) ListChannels(_ context.Context, _ string) ([]slack.Channel, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.channels, nil
}

func (f *fakeGateway) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// waitForStatus polls until the message reaches the expected status or the
// deadline passes.
func waitForStatus(registry *fakeRegistry, id string, want models.MessageStatus, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if registry.status(id) == want {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return registry.status(id) == want
}
