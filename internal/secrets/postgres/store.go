// Package postgres persists encrypted secrets in the control-plane database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/graphdash/graphdash/internal/secrets"
)

type Store struct {
	db        *sql.DB
	encryptor *secrets.Encryptor
}

func NewStore(db *sql.DB, encryptor *secrets.Encryptor) *Store {
	return &Store{db: db, encryptor: encryptor}
}

func (s *Store) GetSecret(ctx context.Context, workspaceID, name string) (secrets.Secret, error) {
	query := `
SELECT ciphertext, updated_at
FROM secret
WHERE workspace_id = $1 AND name = $2`

	var ciphertext string
	var updatedAt time.Time
	if err := s.db.QueryRowContext(ctx, query, workspaceID, name).Scan(&ciphertext, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return secrets.Secret{}, secrets.ErrSecretNotFound
		}
		return secrets.Secret{}, fmt.Errorf("get secret: %w", err)
	}

	payload, err := s.encryptor.Decrypt(ciphertext)
	if err != nil {
		return secrets.Secret{}, fmt.Errorf("decrypt secret %s/%s: %w", workspaceID, name, err)
	}
	return secrets.Secret{
		WorkspaceID: workspaceID,
		Name:        name,
		Payload:     payload,
		UpdatedAt:   updatedAt,
	}, nil
}

func (s *Store) SetSecret(ctx context.Context, workspaceID, name, payload string) (secrets.Secret, error) {
	ciphertext, err := s.encryptor.Encrypt(payload)
	if err != nil {
		return secrets.Secret{}, fmt.Errorf("encrypt secret %s/%s: %w", workspaceID, name, err)
	}

	query := `
INSERT INTO secret (workspace_id, name, ciphertext)
VALUES ($1, $2, $3)
ON CONFLICT (workspace_id, name)
DO UPDATE SET ciphertext = EXCLUDED.ciphertext, updated_at = now()
RETURNING updated_at`
	var updatedAt time.Time
	if err := s.db.QueryRowContext(ctx, query, workspaceID, name, ciphertext).Scan(&updatedAt); err != nil {
		return secrets.Secret{}, fmt.Errorf("set secret: %w", err)
	}
	return secrets.Secret{
		WorkspaceID: workspaceID,
		Name:        name,
		Payload:     payload,
		UpdatedAt:   updatedAt,
	}, nil
}

func (s *Store) DeleteSecret(ctx context.Context, workspaceID, name string) error {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM secret
WHERE workspace_id = $1 AND name = $2`, workspaceID, name)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	if affected == 0 {
		return secrets.ErrSecretNotFound
	}
	return nil
}
