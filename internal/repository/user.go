package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/keypost/keypost/internal/model"
	"github.com/oklog/ulid/v2"
)

// Common errors for user repository operations.
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrMissingSubject = errors.New("user subject is required")
)

// UserProfile is the identity data asserted by the provider for one subject.
// Nil fields are stored as NULL.
type UserProfile struct {
	Subject   string
	Email     *string
	FirstName *string
	LastName  *string
}

const userColumns = `id, keycloak_id, email, first_name, last_name, created_at, updated_at`

// UpsertUserBySubject inserts the user for profile.Subject or, if one already
// exists, overwrites its email and name fields. The insert-or-update is a
// single statement, so concurrent first logins for the same subject converge
// on one row. The id of an existing row never changes.
func (r *Repository) UpsertUserBySubject(ctx context.Context, profile UserProfile) (*model.User, error) {
	if profile.Subject == "" {
		return nil, ErrMissingSubject
	}

	query := `
		INSERT INTO users (id, keycloak_id, email, first_name, last_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (keycloak_id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + userColumns

	now := time.Now().UTC()
	user, err := scanUser(r.pool.QueryRow(ctx, query,
		ulid.Make().String(),
		profile.Subject,
		profile.Email,
		profile.FirstName,
		profile.LastName,
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return user, nil
}

// GetUserBySubject retrieves a user by the provider's subject identifier.
func (r *Repository) GetUserBySubject(ctx context.Context, subject string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE keycloak_id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, subject))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by subject: %w", err)
	}

	return user, nil
}

// CountUsers returns the number of mirrored users.
func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	if err := row.Scan(
		&user.ID,
		&user.KeycloakID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
