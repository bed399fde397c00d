package protocol

import (
	"bytes"

	"github.com/kashguard/solana-mpc-wallet/internal/musig"
)

// SessionState is the coordinator-side signing state machine. Sessions are
// request-scoped and never persisted; an abort simply discards the session.
type SessionState int

const (
	StateAwaitingShares SessionState = iota
	StateRoundOneCollected
	StateRoundTwoCollected
	StateAggregated
	StateDone
	StateAborted
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingShares:
		return "awaiting_shares"
	case StateRoundOneCollected:
		return "round_one_collected"
	case StateRoundTwoCollected:
		return "round_two_collected"
	case StateAggregated:
		return "aggregated"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Session tracks one in-flight signing attempt. Every transition validates its
// inputs against the ordering pinned at participant binding, so call-order and
// vector-reuse violations surface as InvalidState instead of silently
// producing an unverifiable signature.
type Session struct {
	ID     string
	UserID string

	state         SessionState
	orderedKeys   [][]byte
	aggregatedKey []byte
	commitments   []musig.Commitment
	message       []byte
	partials      []musig.PartialSignature
	signature     []byte
	abortCause    error
}

func NewSession(id, userID string) *Session {
	return &Session{ID: id, UserID: userID, state: StateAwaitingShares}
}

func (s *Session) State() SessionState { return s.state }

// AggregatedKey is available once participants are bound.
func (s *Session) AggregatedKey() []byte { return s.aggregatedKey }

// Commitments returns the pinned round-1 vector.
func (s *Session) Commitments() []musig.Commitment { return s.commitments }

// Message returns the bound transaction message.
func (s *Session) Message() []byte { return s.message }

// Signature is available once the session reached StateAggregated.
func (s *Session) Signature() []byte { return s.signature }

// AbortCause reports why an aborted session failed.
func (s *Session) AbortCause() error { return s.abortCause }

// BindParticipants pins the ordered key vector and the aggregated key for the
// whole session. Allowed exactly once, before round 1 is collected.
func (s *Session) BindParticipants(orderedKeys [][]byte, aggregatedKey []byte) error {
	if s.state != StateAwaitingShares {
		return NewInvalidState("participants can only be bound before round 1", nil)
	}
	if s.orderedKeys != nil {
		return NewInvalidState("participants already bound", nil)
	}
	if len(orderedKeys) != 2 {
		return NewInvalidState("exactly two key shares participate in a session", nil)
	}
	for i := 1; i < len(orderedKeys); i++ {
		if bytes.Compare(orderedKeys[i-1], orderedKeys[i]) >= 0 {
			return NewInvalidState("participant keys must be in ascending order", nil)
		}
	}
	s.orderedKeys = orderedKeys
	s.aggregatedKey = aggregatedKey
	return nil
}

// CollectRoundOne records the commitment vector, which must match the pinned
// key order one-to-one. Transition: AwaitingShares -> RoundOneCollected.
func (s *Session) CollectRoundOne(commitments []musig.Commitment) error {
	if s.state != StateAwaitingShares {
		return NewInvalidState("round 1 already collected", nil)
	}
	if s.orderedKeys == nil {
		return NewInvalidState("participants must be bound before round 1", nil)
	}
	if len(commitments) != len(s.orderedKeys) {
		return NewInvalidState("commitment vector does not cover all participants", nil)
	}
	for i, c := range commitments {
		if !bytes.Equal(c.PublicKey, s.orderedKeys[i]) {
			return NewInvalidState("commitment vector does not follow the pinned key order", nil)
		}
	}
	s.commitments = commitments
	s.state = StateRoundOneCollected
	return nil
}

// BindMessage pins the serialized transaction message the partial signatures
// are bound to. Allowed exactly once, after round 1.
func (s *Session) BindMessage(message []byte) error {
	if s.state != StateRoundOneCollected {
		return NewInvalidState("message can only be bound after round 1", nil)
	}
	if s.message != nil {
		return NewInvalidState("message already bound", nil)
	}
	if len(message) == 0 {
		return NewInvalidState("message is empty", nil)
	}
	s.message = message
	return nil
}

// CollectRoundTwo records the partial signatures, which must match the pinned
// key order and agree on the nonce aggregate.
// Transition: RoundOneCollected -> RoundTwoCollected.
func (s *Session) CollectRoundTwo(partials []musig.PartialSignature) error {
	if s.state != StateRoundOneCollected {
		return NewInvalidState("round 2 requires a completed round 1", nil)
	}
	if s.message == nil {
		return NewInvalidState("message must be bound before round 2", nil)
	}
	if len(partials) != len(s.orderedKeys) {
		return NewInvalidState("partial signature vector does not cover all participants", nil)
	}
	for i, p := range partials {
		if !bytes.Equal(p.PublicKey, s.orderedKeys[i]) {
			return NewInvalidState("partial signature vector does not follow the pinned key order", nil)
		}
		if !bytes.Equal(p.R, partials[0].R) {
			return NewInvalidState("partial signatures disagree on the nonce aggregate", nil)
		}
	}
	s.partials = partials
	s.state = StateRoundTwoCollected
	return nil
}

// Aggregate combines the collected partials and verifies the result against
// the aggregated key before anything leaves the session.
// Transition: RoundTwoCollected -> Aggregated.
func (s *Session) Aggregate() error {
	if s.state != StateRoundTwoCollected {
		return NewInvalidState("aggregation requires a completed round 2", nil)
	}
	sig, err := musig.AggregateSignatures(s.partials)
	if err != nil {
		return NewInvalidState("partial signatures do not aggregate", err)
	}
	if !musig.Verify(s.aggregatedKey, s.message, sig) {
		return NewInvalidState("aggregated signature does not verify against the aggregated key", nil)
	}
	s.signature = sig
	s.state = StateAggregated
	return nil
}

// Complete marks a broadcast session as done. Transition: Aggregated -> Done.
func (s *Session) Complete() error {
	if s.state != StateAggregated {
		return NewInvalidState("only an aggregated session can complete", nil)
	}
	s.state = StateDone
	return nil
}

// Abort moves any non-terminal session to Aborted and records the cause. The
// session's nonce material must never be reused by a later attempt.
func (s *Session) Abort(cause error) {
	if s.state == StateDone || s.state == StateAborted {
		return
	}
	s.state = StateAborted
	s.abortCause = cause
}
