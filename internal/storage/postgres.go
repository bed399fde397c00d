package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"io"

	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

// Migrate creates the keyshares table when it does not exist yet. Each
// key-share service owns its database, so the schema is applied per service.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS keyshares (
			user_id    TEXT PRIMARY KEY,
			public_key BYTEA NOT NULL,
			secret_key BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`)
	return errors.Wrap(err, "create keyshares table")
}

// PostgresShareStore stores shares in the service-local keyshares table.
// Secret keys are encrypted with AES-GCM under a scrypt-derived key before
// they touch the database.
type PostgresShareStore struct {
	db   *sql.DB
	aead cipher.AEAD
}

func NewPostgresShareStore(db *sql.DB, encryptionPassphrase string) (*PostgresShareStore, error) {
	if encryptionPassphrase == "" {
		return nil, errors.New("share encryption passphrase is not configured")
	}
	key, err := scrypt.Key([]byte(encryptionPassphrase), []byte("keyshare-at-rest"), 32768, 8, 1, 32)
	if err != nil {
		return nil, errors.Wrap(err, "derive encryption key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "create cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "create GCM")
	}
	return &PostgresShareStore{db: db, aead: aead}, nil
}

// Create performs a single atomic insert-if-absent. The previous deployment
// used a SELECT existence check followed by an INSERT, which races under
// concurrent provisioning; ON CONFLICT DO NOTHING closes that window.
func (s *PostgresShareStore) Create(ctx context.Context, share *Share) error {
	sealed, err := s.seal(share.SecretKey)
	if err != nil {
		return errors.Wrap(err, "seal secret key")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO keyshares (user_id, public_key, secret_key, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO NOTHING`,
		share.UserID, share.PublicKey, sealed, share.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return protocol.NewAlreadyExists("share already provisioned for user")
		}
		return errors.Wrap(err, "insert share")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if rows == 0 {
		return protocol.NewAlreadyExists("share already provisioned for user")
	}
	return nil
}

func (s *PostgresShareStore) Load(ctx context.Context, userID string) (*Share, error) {
	share := &Share{UserID: userID}
	var sealed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT public_key, secret_key, created_at FROM keyshares WHERE user_id = $1`,
		userID,
	).Scan(&share.PublicKey, &sealed, &share.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, protocol.NewNotFound("no share for user")
	}
	if err != nil {
		return nil, errors.Wrap(err, "load share")
	}
	share.SecretKey, err = s.open(sealed)
	if err != nil {
		return nil, errors.Wrap(err, "unseal secret key")
	}
	return share, nil
}

func (s *PostgresShareStore) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *PostgresShareStore) open(sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt")
	}
	return plaintext, nil
}

// isUniqueViolation covers deployments whose schema predates the ON CONFLICT
// target (a unique index instead of the primary key).
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
