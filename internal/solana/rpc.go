package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RPCClient talks JSON-RPC 2.0 to a Solana node. Failures of either call map
// to the broadcast-failure taxonomy: the chain endpoint is the one external
// dependency the signing flow cannot retry around on its own.
type RPCClient struct {
	endpoint string
	http     *http.Client
}

func NewRPCClient(endpoint string, client *http.Client) *RPCClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &RPCClient{endpoint: endpoint, http: client}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// GetLatestBlockhash returns the node's latest blockhash in base58.
func (c *RPCClient) GetLatestBlockhash(ctx context.Context) (string, error) {
	result, err := c.call(ctx, "getLatestBlockhash", []interface{}{
		map[string]string{"commitment": "finalized"},
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", protocol.NewBroadcastFailure("malformed getLatestBlockhash response", err)
	}
	if parsed.Value.Blockhash == "" {
		return "", protocol.NewBroadcastFailure("node returned an empty blockhash", nil)
	}
	return parsed.Value.Blockhash, nil
}

// SendTransaction submits a fully signed transaction and returns the
// base58 transaction signature reported by the node. Preflight simulation is
// skipped: the signature was verified locally before broadcast and a
// simulation failure would otherwise mask the node's real error.
func (c *RPCClient) SendTransaction(ctx context.Context, signedTx []byte) (string, error) {
	result, err := c.call(ctx, "sendTransaction", []interface{}{
		base64.StdEncoding.EncodeToString(signedTx),
		map[string]interface{}{"encoding": "base64", "skipPreflight": true},
	})
	if err != nil {
		return "", err
	}

	var signature string
	if err := json.Unmarshal(result, &signature); err != nil {
		return "", protocol.NewBroadcastFailure("malformed sendTransaction response", err)
	}
	return signature, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, errors.Wrap(err, "marshal rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build rpc request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, protocol.NewBroadcastFailure("rpc endpoint unreachable", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.NewBroadcastFailure("read rpc response", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Warn().
			Str("method", method).
			Int("status", resp.StatusCode).
			Msg("rpc endpoint returned non-200")
		return nil, protocol.NewBroadcastFailure("rpc endpoint returned "+resp.Status, nil)
	}

	var parsed rpcResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, protocol.NewBroadcastFailure("malformed rpc response", err)
	}
	if parsed.Error != nil {
		return nil, protocol.NewBroadcastFailure(parsed.Error.Message, nil)
	}
	return parsed.Result, nil
}
