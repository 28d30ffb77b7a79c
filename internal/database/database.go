package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"slacklater/internal/errors"
	"slacklater/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// schema defines the two durable collections: one credential per tenant and
// an append-friendly log of scheduled messages. Insertion order for listing
// is the implicit rowid.
const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS credentials (
    tenant_id TEXT PRIMARY KEY,
    team_name TEXT NOT NULL DEFAULT '',
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL DEFAULT '',
    expires_in INTEGER NOT NULL DEFAULT 0,
    obtained_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scheduled_messages (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    channel_id TEXT NOT NULL,
    text TEXT NOT NULL,
    send_at DATETIME NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('scheduled','sent','canceled','failed')),
    last_error TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_tenant ON scheduled_messages(tenant_id);
CREATE INDEX IF NOT EXISTS idx_messages_status_send_at ON scheduled_messages(status, send_at);
`

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveCredential upserts the credential for its tenant. The write is
// committed before the call returns.
func (d *Database) SaveCredential(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO credentials (
			tenant_id, team_name, access_token, refresh_token, expires_in, obtained_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			team_name = excluded.team_name,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_in = excluded.expires_in,
			obtained_at = excluded.obtained_at,
			updated_at = CURRENT_TIMESTAMP
	`

	return retryableWrite(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			cred.TenantID,
			cred.TeamName,
			cred.AccessToken,
			cred.RefreshToken,
			cred.ExpiresIn,
			cred.ObtainedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save credential: %w", err)
		}
		return nil
	}, "save credential")
}

// GetCredential returns the credential for a tenant, or nil if the tenant
// has never connected.
func (d *Database) GetCredential(ctx context.Context, tenantID string) (*models.Credential, error) {
	query := `
		SELECT tenant_id, team_name, access_token, refresh_token, expires_in,
		       obtained_at, created_at, updated_at
		FROM credentials
		WHERE tenant_id = ?
	`

	cred := &models.Credential{}
	err := d.db.QueryRowContext(ctx, query, tenantID).Scan(
		&cred.TenantID,
		&cred.TeamName,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.ExpiresIn,
		&cred.ObtainedAt,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return cred, nil
}

// SaveMessage inserts a new scheduled message record.
func (d *Database) SaveMessage(ctx context.Context, msg *models.ScheduledMessage) error {
	query := `
		INSERT INTO scheduled_messages (
			id, tenant_id, channel_id, text, send_at, status, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	return retryableWrite(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			msg.ID,
			msg.TenantID,
			msg.ChannelID,
			msg.Text,
			msg.SendAt.UTC(),
			msg.Status,
			msg.LastError,
		)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		return nil
	}, "save message")
}

// GetMessage returns the message with the given id, or nil if unknown.
func (d *Database) GetMessage(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	query := `
		SELECT id, tenant_id, channel_id, text, send_at, status, last_error,
		       created_at, updated_at
		FROM scheduled_messages
		WHERE id = ?
	`

	msg := &models.ScheduledMessage{}
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.TenantID,
		&msg.ChannelID,
		&msg.Text,
		&msg.SendAt,
		&msg.Status,
		&msg.LastError,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}

// ListMessagesByTenant returns all messages for a tenant in insertion order.
func (d *Database) ListMessagesByTenant(ctx context.Context, tenantID string) ([]models.ScheduledMessage, error) {
	query := `
		SELECT id, tenant_id, channel_id, text, send_at, status, last_error,
		       created_at, updated_at
		FROM scheduled_messages
		WHERE tenant_id = ?
		ORDER BY rowid
	`

	rows, err := d.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListMessagesByStatus returns all messages currently in the given status,
// in insertion order. Used by the reconciler at startup.
func (d *Database) ListMessagesByStatus(ctx context.Context, status models.MessageStatus) ([]models.ScheduledMessage, error) {
	query := `
		SELECT id, tenant_id, channel_id, text, send_at, status, last_error,
		       created_at, updated_at
		FROM scheduled_messages
		WHERE status = ?
		ORDER BY rowid
	`

	rows, err := d.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages by status: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// TransitionStatus atomically moves a message from an expected status to a
// new one. The update only lands if the current status matches, which is
// what resolves a cancel racing with a fire: whichever conditional update
// applies first wins and the loser observes an invalid transition.
func (d *Database) TransitionStatus(ctx context.Context, id string, from, to models.MessageStatus, lastError *string) error {
	query := `
		UPDATE scheduled_messages
		SET status = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	return retryableWrite(ctx, func() error {
		result, err := d.db.ExecContext(ctx, query, to, lastError, id, from)
		if err != nil {
			return fmt.Errorf("failed to transition message status: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rowsAffected > 0 {
			return nil
		}

		// The conditional update missed: either the id is unknown or the
		// message is no longer in the expected status.
		current, err := d.GetMessage(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return errors.New(errors.ErrCodeNotFound, "message not found").
				WithContext("message_id", id)
		}
		return errors.New(errors.ErrCodeInvalidTransition,
			fmt.Sprintf("message is %s, expected %s", current.Status, from)).
			WithContext("message_id", id)
	}, "transition message status")
}

func scanMessages(rows *sql.Rows) ([]models.ScheduledMessage, error) {
	var messages []models.ScheduledMessage
	for rows.Next() {
		var msg models.ScheduledMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.TenantID,
			&msg.ChannelID,
			&msg.Text,
			&msg.SendAt,
			&msg.Status,
			&msg.LastError,
			&msg.CreatedAt,
			&msg.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}
