package coordinator_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/kashguard/solana-mpc-wallet/internal/auth"
	"github.com/kashguard/solana-mpc-wallet/internal/coordinator"
	"github.com/kashguard/solana-mpc-wallet/internal/metrics"
	"github.com/kashguard/solana-mpc-wallet/internal/musig"
	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
	"github.com/kashguard/solana-mpc-wallet/internal/shareserver"
	"github.com/kashguard/solana-mpc-wallet/internal/solana"
	"github.com/kashguard/solana-mpc-wallet/internal/storage"
	"github.com/kashguard/solana-mpc-wallet/internal/wire"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	mu           sync.Mutex
	blockhash    string
	sent         [][]byte
	blockhashErr error
	sendErr      error
}

func (f *fakeChain) GetLatestBlockhash(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blockhashErr != nil {
		return "", f.blockhashErr
	}
	return f.blockhash, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, signedTx []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), signedTx...))
	// The transaction signature is the first signature in the envelope.
	return base58.Encode(signedTx[1:65]), nil
}

func (f *fakeChain) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type env struct {
	service *coordinator.Service
	chain   *fakeChain
	metrics *metrics.Metrics
	servers []*httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tokens := auth.NewTokenManager("test-secret", "coordinator", 30*time.Minute, nil)

	var clients []*coordinator.ShareClient
	var servers []*httptest.Server
	for _, name := range []string{"party-a", "party-b"} {
		svc := shareserver.NewService(
			name,
			storage.NewMemoryShareStore(),
			storage.NewMemoryNonceRegistry(),
			time.Hour,
		)
		e := echo.New()
		shareserver.RegisterRoutes(e, svc, tokens)
		srv := httptest.NewServer(e)
		t.Cleanup(srv.Close)
		servers = append(servers, srv)
		clients = append(clients, coordinator.NewShareClient(name, srv.URL, srv.Client(), tokens))
	}

	chain := &fakeChain{blockhash: base58.Encode(bytes.Repeat([]byte{0x24}, 32))}
	m := metrics.New()
	return &env{
		service: coordinator.NewService(clients[0], clients[1], chain, m, 5*time.Second),
		chain:   chain,
		metrics: m,
		servers: servers,
	}
}

func testTuple() protocol.BindingTuple {
	return protocol.BindingTuple{
		Amount:    0.25,
		Recipient: base58.Encode(bytes.Repeat([]byte{0x42}, 32)),
		Memo:      "coffee",
	}
}

func TestProvisionAndSignEndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)

	wallet, err := env.service.ProvisionWallet(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, wallet.Address)

	result, err := env.service.Sign(ctx, "user-1", testTuple())
	require.NoError(t, err)
	require.Equal(t, 1, env.chain.sentCount())

	signedTx, err := base64.StdEncoding.DecodeString(result.Transaction)
	require.NoError(t, err)
	assert.Equal(t, env.chain.sent[0], signedTx)
	require.Equal(t, byte(1), signedTx[0], "one signature in the envelope")

	// The broadcast transaction verifies as standard ed25519 under the
	// wallet's aggregated key.
	aggregated, err := wire.DecodePublicKey(wallet.AggregatedKey)
	require.NoError(t, err)
	signature := signedTx[1:65]
	message := signedTx[65:]
	assert.True(t, musig.Verify(aggregated, message, signature))
	assert.Equal(t, base58.Encode(signature), result.Signature)

	// The message pays out of the wallet address.
	assert.Equal(t, wallet.Address, solana.FormatAddress(aggregated))

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.SessionsStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.SessionsCompleted))
}

func TestProvisionWalletTwiceFails(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)

	_, err := env.service.ProvisionWallet(ctx, "user-1")
	require.NoError(t, err)

	_, err = env.service.ProvisionWallet(ctx, "user-1")
	require.Error(t, err)
	assert.Equal(t, protocol.KindAlreadyExists, protocol.KindOf(err))
}

func TestSignWithoutWalletFails(t *testing.T) {
	env := newEnv(t)
	_, err := env.service.Sign(context.Background(), "nobody", testTuple())
	require.Error(t, err)
	assert.Equal(t, protocol.KindNotFound, protocol.KindOf(err))
	assert.Zero(t, env.chain.sentCount())
}

func TestSignRejectsInvalidRequest(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)

	_, err := env.service.Sign(ctx, "user-1", protocol.BindingTuple{Amount: 0, Recipient: "x"})
	require.Error(t, err)
	assert.Equal(t, protocol.KindMalformed, protocol.KindOf(err))

	_, err = env.service.Sign(ctx, "user-1", protocol.BindingTuple{Amount: 1, Recipient: "not-an-address"})
	require.Error(t, err)
	assert.Equal(t, protocol.KindMalformed, protocol.KindOf(err))
}

func TestAbortedSessionDoesNotPoisonTheNext(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)

	_, err := env.service.ProvisionWallet(ctx, "user-1")
	require.NoError(t, err)

	env.chain.setSendErr(protocol.NewBroadcastFailure("node rejected transaction", nil))
	_, err = env.service.Sign(ctx, "user-1", testTuple())
	require.Error(t, err)
	assert.Equal(t, protocol.KindBroadcastFailure, protocol.KindOf(err))
	assert.Zero(t, env.chain.sentCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(
		env.metrics.SessionsAborted.WithLabelValues(protocol.KindBroadcastFailure.String())))

	// A fresh session mints fresh nonces and goes through.
	env.chain.setSendErr(nil)
	_, err = env.service.Sign(ctx, "user-1", testTuple())
	require.NoError(t, err)
	assert.Equal(t, 1, env.chain.sentCount())
}

func TestRoundTwoPeerFailureAbortsWithoutBroadcast(t *testing.T) {
	ctx := context.Background()
	tokens := auth.NewTokenManager("test-secret", "coordinator", 30*time.Minute, nil)

	var clients []*coordinator.ShareClient
	var failRoundTwo atomic.Bool
	for i, name := range []string{"party-a", "party-b"} {
		svc := shareserver.NewService(
			name,
			storage.NewMemoryShareStore(),
			storage.NewMemoryNonceRegistry(),
			time.Hour,
		)
		e := echo.New()
		if i == 1 {
			// Party B completes round 1 but drops round 2 while the
			// switch is on.
			e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
				return func(c echo.Context) error {
					if failRoundTwo.Load() && strings.HasSuffix(c.Request().URL.Path, "/round2") {
						return c.NoContent(http.StatusServiceUnavailable)
					}
					return next(c)
				}
			})
		}
		shareserver.RegisterRoutes(e, svc, tokens)
		srv := httptest.NewServer(e)
		t.Cleanup(srv.Close)
		clients = append(clients, coordinator.NewShareClient(name, srv.URL, srv.Client(), tokens))
	}

	chain := &fakeChain{blockhash: base58.Encode(bytes.Repeat([]byte{0x24}, 32))}
	service := coordinator.NewService(clients[0], clients[1], chain, metrics.New(), 5*time.Second)

	_, err := service.ProvisionWallet(ctx, "user-1")
	require.NoError(t, err)

	failRoundTwo.Store(true)
	_, err = service.Sign(ctx, "user-1", testTuple())
	require.Error(t, err)
	assert.Equal(t, protocol.KindPeerFailure, protocol.KindOf(err))
	assert.Zero(t, chain.sentCount(), "a half-signed session must never broadcast")

	// Party A's round-1 nonce died with the aborted session; a fresh attempt
	// mints new nonces on both sides and succeeds.
	failRoundTwo.Store(false)
	_, err = service.Sign(ctx, "user-1", testTuple())
	require.NoError(t, err)
	assert.Equal(t, 1, chain.sentCount())
}

func TestPeerOutageSurfacesAsPeerFailure(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)

	_, err := env.service.ProvisionWallet(ctx, "user-1")
	require.NoError(t, err)

	env.servers[1].Close()
	_, err = env.service.Sign(ctx, "user-1", testTuple())
	require.Error(t, err)
	assert.Equal(t, protocol.KindPeerFailure, protocol.KindOf(err))
	assert.Zero(t, env.chain.sentCount())
}

func TestBlockhashFailureAbortsBeforeRoundTwo(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)

	_, err := env.service.ProvisionWallet(ctx, "user-1")
	require.NoError(t, err)

	env.chain.blockhashErr = protocol.NewBroadcastFailure("rpc endpoint unreachable", nil)
	_, err = env.service.Sign(ctx, "user-1", testTuple())
	require.Error(t, err)
	assert.Equal(t, protocol.KindBroadcastFailure, protocol.KindOf(err))
	assert.Zero(t, env.chain.sentCount())
}
