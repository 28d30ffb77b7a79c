package models

import (
	"time"
)

// Credential holds the OAuth tokens for a connected workspace. One record
// exists per tenant; reconnecting a workspace overwrites it.
type Credential struct {
	TenantID     string    `db:"tenant_id"`
	TeamName     string    `db:"team_name"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresIn    int64     `db:"expires_in"`
	ObtainedAt   time.Time `db:"obtained_at"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// IsExpired reports whether the access token has outlived its lifetime at
// the given instant. A credential without ExpiresIn never expires.
func (c *Credential) IsExpired(now time.Time) bool {
	if c.ExpiresIn <= 0 {
		return false
	}
	return now.Sub(c.ObtainedAt) >= time.Duration(c.ExpiresIn)*time.Second
}
