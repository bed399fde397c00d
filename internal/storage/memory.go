package storage

import (
	"context"
	"sync"
	"time"

	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
)

// MemoryShareStore is the in-process ShareStore used by tests and local
// single-node runs. It mirrors the atomic insert-if-absent contract of the
// Postgres store under a mutex.
type MemoryShareStore struct {
	mu     sync.Mutex
	shares map[string]*Share
}

func NewMemoryShareStore() *MemoryShareStore {
	return &MemoryShareStore{shares: make(map[string]*Share)}
}

func (s *MemoryShareStore) Create(_ context.Context, share *Share) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shares[share.UserID]; ok {
		return protocol.NewAlreadyExists("share already provisioned for user")
	}
	stored := *share
	stored.PublicKey = append([]byte(nil), share.PublicKey...)
	stored.SecretKey = append([]byte(nil), share.SecretKey...)
	s.shares[share.UserID] = &stored
	return nil
}

func (s *MemoryShareStore) Load(_ context.Context, userID string) (*Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.shares[userID]
	if !ok {
		return nil, protocol.NewNotFound("no share for user")
	}
	share := *stored
	share.PublicKey = append([]byte(nil), stored.PublicKey...)
	share.SecretKey = append([]byte(nil), stored.SecretKey...)
	return &share, nil
}

// MemoryNonceRegistry is the in-process NonceRegistry counterpart. Expiry is
// checked lazily on Consume.
type MemoryNonceRegistry struct {
	mu       sync.Mutex
	consumed map[string]time.Time
}

func NewMemoryNonceRegistry() *MemoryNonceRegistry {
	return &MemoryNonceRegistry{consumed: make(map[string]time.Time)}
}

func (r *MemoryNonceRegistry) Consume(_ context.Context, digest string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if expiry, ok := r.consumed[digest]; ok && now.Before(expiry) {
		return false, nil
	}
	r.consumed[digest] = now.Add(ttl)
	return true, nil
}
