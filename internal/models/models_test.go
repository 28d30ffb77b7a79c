package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageStatus_IsTerminal(t *testing.T) {
	assert.False(t, MessageStatusScheduled.IsTerminal())
	assert.True(t, MessageStatusSent.IsTerminal())
	assert.True(t, MessageStatusCanceled.IsTerminal())
	assert.True(t, MessageStatusFailed.IsTerminal())
}

func TestCredential_IsExpired(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		expiresIn  int64
		obtainedAt time.Time
		want       bool
	}{
		{"no expiry never expires", 0, now.Add(-365 * 24 * time.Hour), false},
		{"fresh token", 3600, now.Add(-time.Minute), false},
		{"one second before expiry", 3600, now.Add(-3599 * time.Second), false},
		{"exactly at expiry", 3600, now.Add(-3600 * time.Second), true},
		{"one second past expiry", 3600, now.Add(-3601 * time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := &Credential{ExpiresIn: tt.expiresIn, ObtainedAt: tt.obtainedAt}
			assert.Equal(t, tt.want, cred.IsExpired(now))
		})
	}
}
