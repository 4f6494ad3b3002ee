package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

// EnsureAdminUser creates the admin account on first boot with a random
// password. The plaintext is returned exactly once so the caller can log it;
// only the bcrypt hash is stored. Returns created=false when the account
// already exists.
func (s *Store) EnsureAdminUser(ctx context.Context, username string) (password string, created bool, err error) {
	var exists bool
	err = s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username)
	if err != nil {
		return "", false, fmt.Errorf("failed to check admin user: %w", err)
	}
	if exists {
		return "", false, nil
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", false, fmt.Errorf("failed to generate admin password: %w", err)
	}
	password = base64.RawURLEncoding.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", false, fmt.Errorf("failed to hash admin password: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role)
		VALUES ($1, $2, 'admin')
		ON CONFLICT (username) DO NOTHING`,
		username, string(hash))
	if err != nil {
		return "", false, fmt.Errorf("failed to create admin user: %w", err)
	}
	// Another process won the race; its password stands.
	if n, _ := res.RowsAffected(); n == 0 {
		return "", false, nil
	}
	return password, true, nil
}

// GetUserByUsername loads one account.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `
		SELECT id, username, password_hash, role, created_at, updated_at
		FROM users WHERE username = $1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
