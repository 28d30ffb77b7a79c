package models

import (
	"time"
)

type MessageStatus string

const (
	MessageStatusScheduled MessageStatus = "scheduled"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusCanceled  MessageStatus = "canceled"
	MessageStatusFailed    MessageStatus = "failed"
)

// IsTerminal reports whether the status is final. Terminal statuses never
// change again; only "scheduled" messages may transition.
func (s MessageStatus) IsTerminal() bool {
	return s == MessageStatusSent || s == MessageStatusCanceled || s == MessageStatusFailed
}

type ScheduledMessage struct {
	ID        string        `db:"id"`
	TenantID  string        `db:"tenant_id"`
	ChannelID string        `db:"channel_id"`
	Text      string        `db:"text"`
	SendAt    time.Time     `db:"send_at"`
	Status    MessageStatus `db:"status"`
	LastError *string       `db:"last_error"`
	CreatedAt time.Time     `db:"created_at"`
	UpdatedAt time.Time     `db:"updated_at"`
}
