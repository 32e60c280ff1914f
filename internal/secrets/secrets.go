// Package secrets stores and resolves per-workspace secrets such as target
// database credentials. Payloads are encrypted at rest and never logged.
package secrets

import (
	"context"
	"errors"
	"time"
)

var ErrSecretNotFound = errors.New("secret not found")

// Secret is a decrypted secret value scoped to one workspace. Payload holds
// either a DSN string or a JSON connection document; the connect layer
// decides which.
type Secret struct {
	WorkspaceID string
	Name        string
	Payload     string
	UpdatedAt   time.Time
}

type Store interface {
	GetSecret(ctx context.Context, workspaceID, name string) (Secret, error)
	SetSecret(ctx context.Context, workspaceID, name, payload string) (Secret, error)
	DeleteSecret(ctx context.Context, workspaceID, name string) error
}
