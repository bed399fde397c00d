// Package shareserver implements one key-share service: it provisions and
// guards a single signing share per user and answers the coordinator's two
// protocol rounds. The share secret never leaves this process.
package shareserver

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"github.com/kashguard/solana-mpc-wallet/internal/musig"
	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
	"github.com/kashguard/solana-mpc-wallet/internal/solana"
	"github.com/kashguard/solana-mpc-wallet/internal/storage"
	"github.com/kashguard/solana-mpc-wallet/internal/wire"
	"github.com/rs/zerolog/log"
)

// Round2Input is the coordinator's round-2 request: the full commitment
// vector, this party's sealed round-1 secret state, and the transaction
// parameters the partial signature is bound to.
type Round2Input struct {
	Commitments []string
	SecretState string
	Tuple       protocol.BindingTuple
}

// Service holds one party's share of the signing protocol.
type Service struct {
	party    string
	store    storage.ShareStore
	nonces   storage.NonceRegistry
	nonceTTL time.Duration
	rand     io.Reader
}

func NewService(party string, store storage.ShareStore, nonces storage.NonceRegistry, nonceTTL time.Duration) *Service {
	return &Service{
		party:    party,
		store:    store,
		nonces:   nonces,
		nonceTTL: nonceTTL,
		rand:     rand.Reader,
	}
}

// Generate provisions a fresh signing share for userID and returns its
// public key. A user that already holds a share is rejected; shares are
// never rotated implicitly.
func (s *Service) Generate(ctx context.Context, userID string) (string, error) {
	secret, public, err := musig.GenerateShare(s.rand)
	if err != nil {
		return "", err
	}

	err = s.store.Create(ctx, &storage.Share{
		UserID:    userID,
		PublicKey: public,
		SecretKey: secret,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}

	log.Info().
		Str("party", s.party).
		Str("user_id", userID).
		Msg("provisioned signing share")
	return wire.EncodePublicKey(public), nil
}

// Round1 mints a fresh nonce pair for one signing attempt. The public
// commitment goes to the coordinator; the secret state comes back sealed in
// round 2 and is only honored once.
func (s *Service) Round1(ctx context.Context, userID string) (commitment, secretState string, err error) {
	share, err := s.store.Load(ctx, userID)
	if err != nil {
		return "", "", err
	}

	com, nonce, err := musig.Round1(s.rand, share.PublicKey)
	if err != nil {
		return "", "", err
	}
	return wire.EncodeCommitment(com), wire.EncodeSecretNonce(nonce), nil
}

// Round2 produces this party's partial signature. The secret nonce is
// consumed before any signing work happens: a replayed round-2 request fails
// on the registry, never by producing a second signature under the same
// nonce.
func (s *Service) Round2(ctx context.Context, userID string, input Round2Input) (string, error) {
	share, err := s.store.Load(ctx, userID)
	if err != nil {
		return "", err
	}

	nonce, err := wire.DecodeSecretNonce(input.SecretState)
	if err != nil {
		return "", err
	}
	ownCommitment, err := nonce.Commitment(share.PublicKey)
	if err != nil {
		return "", protocol.NewMalformed("secret nonce state is unusable", err)
	}

	if len(input.Commitments) != 2 {
		return "", protocol.NewMalformed("commitment vector must hold exactly two entries", nil)
	}
	commitments := make([]musig.Commitment, len(input.Commitments))
	for i, raw := range input.Commitments {
		commitments[i], err = wire.DecodeCommitment(raw)
		if err != nil {
			return "", err
		}
	}

	if err := input.Tuple.Validate(); err != nil {
		return "", protocol.NewMalformed("invalid transaction parameters", err)
	}

	// Single-use gate. Consuming the commitment digest first means even a
	// request that fails later can never be replayed with the same nonce.
	ok, err := s.nonces.Consume(ctx, commitmentDigest(ownCommitment), s.nonceTTL)
	if err != nil {
		return "", err
	}
	if !ok {
		log.Warn().
			Str("party", s.party).
			Str("user_id", userID).
			Msg("rejected round-2 nonce reuse")
		return "", protocol.NewInvalidState("round-1 nonce was already consumed", nil)
	}

	message, err := buildMessage(commitments, input.Tuple)
	if err != nil {
		return "", err
	}

	partial, err := musig.PartialSign(share.SecretKey, nonce, commitments, message)
	if err != nil {
		return "", protocol.NewInvalidState("partial signing rejected the session state", err)
	}

	log.Info().
		Str("party", s.party).
		Str("user_id", userID).
		Str("recipient", input.Tuple.Recipient).
		Float64("amount", input.Tuple.Amount).
		Msg("produced partial signature")
	return wire.EncodePartialSignature(partial), nil
}

// buildMessage reconstructs the exact transaction message locally from the
// binding tuple. Partial signatures are only ever produced over bytes this
// party assembled itself, never over opaque bytes handed in by the
// coordinator.
func buildMessage(commitments []musig.Commitment, tuple protocol.BindingTuple) ([]byte, error) {
	keys := make([][]byte, len(commitments))
	for i, c := range commitments {
		keys[i] = c.PublicKey
	}
	aggregated, err := musig.AggregateKeys(keys)
	if err != nil {
		return nil, protocol.NewInvalidState("commitment vector does not aggregate", err)
	}

	msg, err := solana.BuildTransferMessage(aggregated, tuple)
	if err != nil {
		return nil, protocol.NewMalformed("cannot build transaction message", err)
	}
	return msg.Serialize(), nil
}

// commitmentDigest derives the registry key for a round-1 commitment.
func commitmentDigest(c musig.Commitment) string {
	h := sha256.New()
	h.Write(c.PublicKey)
	h.Write(c.R1)
	h.Write(c.R2)
	return hex.EncodeToString(h.Sum(nil))
}
