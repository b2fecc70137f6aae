package sqlite

import (
	"context"
	"database/sql"

	"github.com/siteform/fieldsync/internal/domain/auth"
	"github.com/siteform/fieldsync/internal/repository"
)

const sessionSlot = "current"

// CredentialRepository implements repository.CredentialRepository for SQLite.
// The session lives in a single fixed-slot row; upsert and delete are each a
// single statement, so a concurrent Load never observes a partial session.
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new CredentialRepository
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Save stores the session, replacing any previous one.
func (r *CredentialRepository) Save(ctx context.Context, sess *auth.Session) error {
	if !sess.Valid() {
		return repository.ErrInvalidInput
	}

	query := `
		INSERT INTO session (slot, access_token, refresh_token, user_id, user_email, user_name, user_role, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(slot) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			user_id = excluded.user_id,
			user_email = excluded.user_email,
			user_name = excluded.user_name,
			user_role = excluded.user_role,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.db.ExecContext(ctx, query,
		sessionSlot,
		sess.AccessToken,
		sess.RefreshToken,
		sess.User.ID,
		sess.User.Email,
		sess.User.DisplayName,
		sess.User.Role,
	)
	if err != nil {
		return storageErr("save session", err)
	}
	return nil
}

// Load retrieves the stored session, or (nil, nil) when none exists.
func (r *CredentialRepository) Load(ctx context.Context) (*auth.Session, error) {
	query := `
		SELECT access_token, refresh_token, user_id, user_email, user_name, user_role
		FROM session
		WHERE slot = ?
	`

	var sess auth.Session
	err := r.db.QueryRowContext(ctx, query, sessionSlot).Scan(
		&sess.AccessToken,
		&sess.RefreshToken,
		&sess.User.ID,
		&sess.User.Email,
		&sess.User.DisplayName,
		&sess.User.Role,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("load session", err)
	}
	return &sess, nil
}

// Clear removes the stored session. Clearing an empty slot is a no-op.
func (r *CredentialRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM session WHERE slot = ?`, sessionSlot); err != nil {
		return storageErr("clear session", err)
	}
	return nil
}
