// Package coordinator drives the two-round signing protocol across both
// key-share services and owns the session state machine. It never touches key
// material: it sees public commitments, partial signatures and sealed secret
// state it relays verbatim.
package coordinator

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kashguard/solana-mpc-wallet/internal/metrics"
	"github.com/kashguard/solana-mpc-wallet/internal/musig"
	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
	"github.com/kashguard/solana-mpc-wallet/internal/shareserver"
	"github.com/kashguard/solana-mpc-wallet/internal/solana"
	"github.com/kashguard/solana-mpc-wallet/internal/wire"
	"github.com/rs/zerolog/log"
)

// ChainClient is the slice of the Solana RPC surface the coordinator needs.
type ChainClient interface {
	GetLatestBlockhash(ctx context.Context) (string, error)
	SendTransaction(ctx context.Context, signedTx []byte) (string, error)
}

// Wallet is the result of provisioning: the joint address both key-share
// services contribute to.
type Wallet struct {
	Address       string `json:"address"`
	AggregatedKey string `json:"aggregated_public_key"`
}

// SignResult is a broadcast transaction: its base58 signature and the full
// signed transaction in base64.
type SignResult struct {
	Signature   string `json:"signature"`
	Transaction string `json:"transaction"`
}

// Service orchestrates wallet provisioning and signing sessions.
type Service struct {
	partyA  *ShareClient
	partyB  *ShareClient
	chain   ChainClient
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewService(partyA, partyB *ShareClient, chain ChainClient, m *metrics.Metrics, timeout time.Duration) *Service {
	if m == nil {
		m = metrics.New()
	}
	return &Service{
		partyA:  partyA,
		partyB:  partyB,
		chain:   chain,
		metrics: m,
		timeout: timeout,
	}
}

// ProvisionWallet creates a key share for userID on both services and derives
// the joint wallet address. Either party refusing (a share already exists,
// the service is down) fails the whole operation.
func (s *Service) ProvisionWallet(ctx context.Context, userID string) (*Wallet, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	encoded := make([]string, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, client := range []*ShareClient{s.partyA, s.partyB} {
		wg.Add(1)
		go func(n int, client *ShareClient) {
			defer wg.Done()
			encoded[n], errs[n] = client.Generate(ctx, userID)
		}(i, client)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	keys := make([][]byte, 2)
	for i, e := range encoded {
		key, err := wire.DecodePublicKey(e)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	aggregated, err := musig.AggregateKeys(musig.SortKeys(keys))
	if err != nil {
		return nil, protocol.NewInvalidState("share keys do not aggregate", err)
	}

	s.metrics.WalletsCreated.Inc()
	log.Info().
		Str("user_id", userID).
		Str("address", solana.FormatAddress(aggregated)).
		Msg("provisioned wallet")

	return &Wallet{
		Address:       solana.FormatAddress(aggregated),
		AggregatedKey: wire.EncodePublicKey(aggregated),
	}, nil
}

// participant pairs one key-share service with its round-1 output for the
// duration of a session.
type participant struct {
	client      *ShareClient
	commitment  musig.Commitment
	encoded     string
	secretState string
}

// Sign runs one full signing session: round 1 against both parties, building
// the transaction message, round 2, aggregation and broadcast. Any failure
// aborts the session; the round-1 nonces die with it and a retry starts from
// scratch.
func (s *Service) Sign(ctx context.Context, userID string, tuple protocol.BindingTuple) (*SignResult, error) {
	if tuple.Amount <= 0 || tuple.Recipient == "" {
		return nil, protocol.NewMalformed("amount and recipient are required", nil)
	}
	if _, err := solana.ParseAddress(tuple.Recipient); err != nil {
		return nil, protocol.NewMalformed("recipient is not a valid address", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := protocol.NewSession(uuid.NewString(), userID)
	s.metrics.SessionsStarted.Inc()

	result, err := s.runSession(ctx, session, tuple)
	if err != nil {
		session.Abort(err)
		kind := protocol.KindOf(err)
		s.metrics.SessionsAborted.WithLabelValues(kind.String()).Inc()
		log.Warn().
			Err(err).
			Str("session_id", session.ID).
			Str("user_id", userID).
			Str("kind", kind.String()).
			Msg("signing session aborted")
		return nil, err
	}

	s.metrics.SessionsCompleted.Inc()
	log.Info().
		Str("session_id", session.ID).
		Str("user_id", userID).
		Str("signature", result.Signature).
		Msg("signing session completed")
	return result, nil
}

func (s *Service) runSession(ctx context.Context, session *protocol.Session, tuple protocol.BindingTuple) (*SignResult, error) {
	participants, err := s.collectRoundOne(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	orderedKeys := make([][]byte, len(participants))
	commitments := make([]musig.Commitment, len(participants))
	encodedVector := make([]string, len(participants))
	for i, p := range participants {
		orderedKeys[i] = p.commitment.PublicKey
		commitments[i] = p.commitment
		encodedVector[i] = p.encoded
	}
	aggregated, err := musig.AggregateKeys(orderedKeys)
	if err != nil {
		return nil, protocol.NewInvalidState("round-1 commitments do not aggregate", err)
	}
	if err := session.BindParticipants(orderedKeys, aggregated); err != nil {
		return nil, err
	}
	if err := session.CollectRoundOne(commitments); err != nil {
		return nil, err
	}

	blockhash, err := s.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tuple.RecentBlockhash = blockhash

	msg, err := solana.BuildTransferMessage(aggregated, tuple)
	if err != nil {
		return nil, protocol.NewMalformed("cannot build transaction message", err)
	}
	message := msg.Serialize()
	if err := session.BindMessage(message); err != nil {
		return nil, err
	}

	partials, err := s.collectRoundTwo(ctx, session.UserID, participants, encodedVector, tuple)
	if err != nil {
		return nil, err
	}
	if err := session.CollectRoundTwo(partials); err != nil {
		return nil, err
	}
	if err := session.Aggregate(); err != nil {
		return nil, err
	}

	signedTx, err := solana.NewSignedTransaction(message, session.Signature())
	if err != nil {
		return nil, protocol.NewInvalidState("cannot assemble signed transaction", err)
	}
	signature, err := s.chain.SendTransaction(ctx, signedTx)
	if err != nil {
		return nil, err
	}
	if err := session.Complete(); err != nil {
		return nil, err
	}

	return &SignResult{
		Signature:   signature,
		Transaction: wire.EncodeTransaction(signedTx),
	}, nil
}

// collectRoundOne fans round 1 out to both parties and returns the
// participants sorted into the pinned key order.
func (s *Service) collectRoundOne(ctx context.Context, userID string) ([]participant, error) {
	participants := make([]participant, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, client := range []*ShareClient{s.partyA, s.partyB} {
		wg.Add(1)
		go func(n int, client *ShareClient) {
			defer wg.Done()
			encoded, secretState, err := client.Round1(ctx, userID)
			if err != nil {
				errs[n] = err
				return
			}
			commitment, err := wire.DecodeCommitment(encoded)
			if err != nil {
				errs[n] = err
				return
			}
			participants[n] = participant{
				client:      client,
				commitment:  commitment,
				encoded:     encoded,
				secretState: secretState,
			}
		}(i, client)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	if bytes.Compare(participants[0].commitment.PublicKey, participants[1].commitment.PublicKey) > 0 {
		participants[0], participants[1] = participants[1], participants[0]
	}
	return participants, nil
}

// collectRoundTwo fans round 2 out to both parties. Each party receives the
// full commitment vector plus only its own sealed secret state, and the
// partials come back in the pinned order.
func (s *Service) collectRoundTwo(ctx context.Context, userID string, participants []participant, encodedVector []string, tuple protocol.BindingTuple) ([]musig.PartialSignature, error) {
	partials := make([]musig.PartialSignature, len(participants))
	errs := make([]error, len(participants))
	var wg sync.WaitGroup
	for i, p := range participants {
		wg.Add(1)
		go func(n int, p participant) {
			defer wg.Done()
			encoded, err := p.client.Round2(ctx, userID, shareserver.Round2Request{
				Commitments:  encodedVector,
				SecretState:  p.secretState,
				BindingTuple: tuple,
			})
			if err != nil {
				errs[n] = err
				return
			}
			partials[n], errs[n] = wire.DecodePartialSignature(encoded)
		}(i, p)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return partials, nil
}
