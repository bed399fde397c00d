// Package storage holds the durable state of a key-share service: the share
// store (one immutable keypair row per user) and the nonce registry that
// enforces single use of round-1 secret state.
package storage

import (
	"context"
	"time"
)

// Share is one service's key material for a user. Created once, never mutated,
// never deleted in normal operation. SecretKey never leaves the owning
// service.
type Share struct {
	UserID    string
	PublicKey []byte
	SecretKey []byte
	CreatedAt time.Time
}

// ShareStore persists key shares. Create must be atomic insert-if-absent so
// AlreadyExists is a true invariant even under concurrent provisioning.
type ShareStore interface {
	// Create stores a fresh share. Returns an AlreadyExists protocol error
	// if any share is already on record for the user, leaving it unchanged.
	Create(ctx context.Context, share *Share) error

	// Load returns the stored share, or a NotFound protocol error.
	Load(ctx context.Context, userID string) (*Share, error)
}

// NonceRegistry records consumed nonce commitments. Consume is first-use-wins:
// it returns true exactly once per digest within the retention window, which
// turns the single-use-nonce rule into an enforced invariant rather than a
// caller convention.
type NonceRegistry interface {
	Consume(ctx context.Context, digest string, ttl time.Duration) (bool, error)
}
