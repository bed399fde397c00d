package protocol_test

import (
	"crypto/rand"
	"testing"

	"github.com/kashguard/solana-mpc-wallet/internal/musig"
	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionParty struct {
	secret []byte
	public []byte
	nonce  musig.SecretNonce
	commit musig.Commitment
}

func setupParties(t *testing.T) (sessionParty, sessionParty, [][]byte, []byte) {
	t.Helper()

	var parties [2]sessionParty
	for i := range parties {
		secret, public, err := musig.GenerateShare(rand.Reader)
		require.NoError(t, err)
		commit, nonce, err := musig.Round1(rand.Reader, public)
		require.NoError(t, err)
		parties[i] = sessionParty{secret: secret, public: public, nonce: nonce, commit: commit}
	}

	ordered := musig.SortKeys([][]byte{parties[0].public, parties[1].public})
	if string(ordered[0]) != string(parties[0].public) {
		parties[0], parties[1] = parties[1], parties[0]
	}
	aggKey, err := musig.AggregateKeys(ordered)
	require.NoError(t, err)

	return parties[0], parties[1], ordered, aggKey
}

func TestSessionHappyPath(t *testing.T) {
	a, b, ordered, aggKey := setupParties(t)
	message := []byte("session message")
	commitments := []musig.Commitment{a.commit, b.commit}

	s := protocol.NewSession("sid", "user-1")
	require.Equal(t, protocol.StateAwaitingShares, s.State())

	require.NoError(t, s.BindParticipants(ordered, aggKey))
	require.NoError(t, s.CollectRoundOne(commitments))
	require.Equal(t, protocol.StateRoundOneCollected, s.State())
	require.NoError(t, s.BindMessage(message))

	partialA, err := musig.PartialSign(a.secret, a.nonce, commitments, message)
	require.NoError(t, err)
	partialB, err := musig.PartialSign(b.secret, b.nonce, commitments, message)
	require.NoError(t, err)

	require.NoError(t, s.CollectRoundTwo([]musig.PartialSignature{partialA, partialB}))
	require.Equal(t, protocol.StateRoundTwoCollected, s.State())
	require.NoError(t, s.Aggregate())
	require.Equal(t, protocol.StateAggregated, s.State())
	assert.True(t, musig.Verify(aggKey, message, s.Signature()))
	require.NoError(t, s.Complete())
	assert.Equal(t, protocol.StateDone, s.State())
}

func TestSessionRejectsRoundTwoBeforeRoundOne(t *testing.T) {
	a, _, ordered, aggKey := setupParties(t)

	s := protocol.NewSession("sid", "user-1")
	require.NoError(t, s.BindParticipants(ordered, aggKey))

	err := s.CollectRoundTwo([]musig.PartialSignature{{PublicKey: a.public}})
	require.Error(t, err)
	assert.Equal(t, protocol.KindInvalidState, protocol.KindOf(err))
}

func TestSessionRejectsReorderedCommitments(t *testing.T) {
	a, b, ordered, aggKey := setupParties(t)

	s := protocol.NewSession("sid", "user-1")
	require.NoError(t, s.BindParticipants(ordered, aggKey))

	err := s.CollectRoundOne([]musig.Commitment{b.commit, a.commit})
	require.Error(t, err)
	assert.Equal(t, protocol.KindInvalidState, protocol.KindOf(err))
}

func TestSessionAbortIsTerminal(t *testing.T) {
	_, _, ordered, aggKey := setupParties(t)

	s := protocol.NewSession("sid", "user-1")
	require.NoError(t, s.BindParticipants(ordered, aggKey))

	cause := protocol.NewPeerFailure("share-b round 1 failed", nil)
	s.Abort(cause)
	assert.Equal(t, protocol.StateAborted, s.State())
	assert.Equal(t, cause, s.AbortCause())

	err := s.CollectRoundOne(nil)
	require.Error(t, err)
	assert.Equal(t, protocol.KindInvalidState, protocol.KindOf(err))
}

func TestKindOfWalksWrappedErrors(t *testing.T) {
	inner := protocol.NewNotFound("no share for user")
	wrapped := protocol.NewPeerFailure("share-a call failed", inner)

	assert.Equal(t, protocol.KindPeerFailure, protocol.KindOf(wrapped))
	assert.Equal(t, protocol.KindUnknown, protocol.KindOf(assert.AnError))
	assert.Equal(t, protocol.KindNotFound, protocol.KindFromString("NOT_FOUND"))
}
