package solana_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
	"github.com/kashguard/solana-mpc-wallet/internal/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLatestBlockhash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getLatestBlockhash", req.Method)
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"value":{"blockhash":"GfVcyD4kkTrj4bKc7WA9sZCin9JDbdT4Zkd3EittNR1W"}}}`)
	}))
	defer server.Close()

	client := solana.NewRPCClient(server.URL, server.Client())
	blockhash, err := client.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "GfVcyD4kkTrj4bKc7WA9sZCin9JDbdT4Zkd3EittNR1W", blockhash)
}

func TestSendTransactionEncodesPayload(t *testing.T) {
	signed := []byte{0x01, 0x02, 0x03}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sendTransaction", req.Method)
		require.Len(t, req.Params, 2)

		var encoded string
		require.NoError(t, json.Unmarshal(req.Params[0], &encoded))
		assert.Equal(t, base64.StdEncoding.EncodeToString(signed), encoded)

		var opts map[string]interface{}
		require.NoError(t, json.Unmarshal(req.Params[1], &opts))
		assert.Equal(t, "base64", opts["encoding"])
		assert.Equal(t, true, opts["skipPreflight"])

		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":"5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"}`)
	}))
	defer server.Close()

	client := solana.NewRPCClient(server.URL, server.Client())
	signature, err := client.SendTransaction(context.Background(), signed)
	require.NoError(t, err)
	assert.NotEmpty(t, signature)
}

func TestRPCErrorMapsToBroadcastFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"Blockhash not found"}}`)
	}))
	defer server.Close()

	client := solana.NewRPCClient(server.URL, server.Client())
	_, err := client.SendTransaction(context.Background(), []byte{0x01})
	require.Error(t, err)
	assert.Equal(t, protocol.KindBroadcastFailure, protocol.KindOf(err))
	assert.Contains(t, err.Error(), "Blockhash not found")
}

func TestUnreachableEndpointMapsToBroadcastFailure(t *testing.T) {
	client := solana.NewRPCClient("http://127.0.0.1:1", nil)
	_, err := client.GetLatestBlockhash(context.Background())
	require.Error(t, err)
	assert.Equal(t, protocol.KindBroadcastFailure, protocol.KindOf(err))
}
