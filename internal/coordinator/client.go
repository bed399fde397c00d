package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kashguard/solana-mpc-wallet/internal/api/httperr"
	"github.com/kashguard/solana-mpc-wallet/internal/auth"
	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
	"github.com/kashguard/solana-mpc-wallet/internal/shareserver"
	"github.com/pkg/errors"
)

// ShareClient talks to one key-share service. Every request carries a freshly
// minted token scoped to the user it acts for. Failure kinds reported by the
// peer are rebuilt on this side so callers can branch on them; transport
// failures surface as PeerFailure.
type ShareClient struct {
	name    string
	baseURL string
	http    *http.Client
	tokens  *auth.TokenManager
}

func NewShareClient(name, baseURL string, client *http.Client, tokens *auth.TokenManager) *ShareClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &ShareClient{name: name, baseURL: baseURL, http: client, tokens: tokens}
}

// Name identifies the party in logs and error messages.
func (c *ShareClient) Name() string { return c.name }

// Generate provisions this party's share for userID and returns its encoded
// public key.
func (c *ShareClient) Generate(ctx context.Context, userID string) (string, error) {
	var resp shareserver.GenerateResponse
	if err := c.post(ctx, "/v1/generate", userID, nil, &resp); err != nil {
		return "", err
	}
	return resp.PublicKey, nil
}

// Round1 opens a signing attempt on this party. The secret state is opaque to
// the coordinator and is relayed back verbatim in round 2.
func (c *ShareClient) Round1(ctx context.Context, userID string) (commitment, secretState string, err error) {
	var resp shareserver.Round1Response
	if err := c.post(ctx, "/v1/round1", userID, nil, &resp); err != nil {
		return "", "", err
	}
	return resp.Commitment, resp.SecretState, nil
}

// Round2 asks this party for its partial signature.
func (c *ShareClient) Round2(ctx context.Context, userID string, req shareserver.Round2Request) (string, error) {
	var resp shareserver.Round2Response
	if err := c.post(ctx, "/v1/round2", userID, req, &resp); err != nil {
		return "", err
	}
	return resp.PartialSignature, nil
}

func (c *ShareClient) post(ctx context.Context, path, userID string, body, out interface{}) error {
	token, err := c.tokens.Mint(userID)
	if err != nil {
		return errors.Wrapf(err, "mint token for %s", c.name)
	}

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "marshal request for %s", c.name)
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return errors.Wrapf(err, "build request for %s", c.name)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return protocol.NewPeerFailure(fmt.Sprintf("key-share service %s unreachable", c.name), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return protocol.NewPeerFailure(fmt.Sprintf("read response from %s", c.name), err)
	}

	if resp.StatusCode >= 400 {
		return c.peerError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return protocol.NewPeerFailure(fmt.Sprintf("malformed response from %s", c.name), err)
	}
	return nil
}

// peerError rebuilds the peer's typed failure from its JSON envelope. A body
// that does not carry a known kind degrades to PeerFailure.
func (c *ShareClient) peerError(status int, raw []byte) error {
	var body httperr.Body
	if err := json.Unmarshal(raw, &body); err == nil {
		if kind := protocol.KindFromString(body.Kind); kind != protocol.KindUnknown {
			return &protocol.Error{
				Kind:    kind,
				Message: fmt.Sprintf("%s: %s", c.name, body.Message),
			}
		}
	}
	return protocol.NewPeerFailure(
		fmt.Sprintf("key-share service %s returned status %d", c.name, status), nil)
}
