package solana

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddress(fill byte) ([]byte, string) {
	key := bytes.Repeat([]byte{fill}, AddressSize)
	return key, base58.Encode(key)
}

func TestSolToLamports(t *testing.T) {
	assert.Equal(t, uint64(1_000_000_000), SolToLamports(1))
	assert.Equal(t, uint64(1_500_000_000), SolToLamports(1.5))
	assert.Equal(t, uint64(1), SolToLamports(0.000000001))
	// Rounds to the nearest lamport instead of truncating.
	assert.Equal(t, uint64(100_000_000), SolToLamports(0.1))
}

func TestBuildTransferMessageLayout(t *testing.T) {
	payer, _ := testAddress(0x11)
	recipient, recipientAddr := testAddress(0x22)
	blockhash, blockhashStr := testAddress(0x33)

	msg, err := BuildTransferMessage(payer, protocol.BindingTuple{
		Amount:          0.25,
		Recipient:       recipientAddr,
		RecentBlockhash: blockhashStr,
	})
	require.NoError(t, err)

	keys := msg.AccountKeys()
	require.Len(t, keys, 3)
	assert.Equal(t, payer, keys[0], "fee payer occupies index 0")
	assert.Equal(t, recipient, keys[1])
	assert.Equal(t, SystemProgramID, keys[2])

	raw := msg.Serialize()
	// Header: one required signature, no readonly signed keys, one readonly
	// unsigned key (the system program).
	assert.Equal(t, []byte{1, 0, 1}, raw[0:3])
	assert.Equal(t, byte(3), raw[3], "account key count")

	offset := 4 + 3*AddressSize
	assert.Equal(t, blockhash, raw[offset:offset+BlockhashSize])
	offset += BlockhashSize

	assert.Equal(t, byte(1), raw[offset], "instruction count")
	offset++
	assert.Equal(t, byte(2), raw[offset], "program id index points at the system program")
	offset++
	assert.Equal(t, []byte{2, 0, 1}, raw[offset:offset+3], "two account indices: payer, recipient")
	offset += 3
	assert.Equal(t, byte(12), raw[offset], "transfer data length")
	offset++
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(raw[offset:offset+4]))
	assert.Equal(t, uint64(250_000_000), binary.LittleEndian.Uint64(raw[offset+4:offset+12]))
	assert.Len(t, raw, offset+12)
}

func TestBuildTransferMessageWithMemo(t *testing.T) {
	payer, _ := testAddress(0x11)
	_, recipientAddr := testAddress(0x22)
	_, blockhashStr := testAddress(0x33)

	msg, err := BuildTransferMessage(payer, protocol.BindingTuple{
		Amount:          1,
		Recipient:       recipientAddr,
		Memo:            "invoice 42",
		RecentBlockhash: blockhashStr,
	})
	require.NoError(t, err)

	keys := msg.AccountKeys()
	require.Len(t, keys, 4)
	assert.Equal(t, MemoProgramID, keys[3])

	raw := msg.Serialize()
	// Both program accounts are readonly unsigned.
	assert.Equal(t, []byte{1, 0, 2}, raw[0:3])

	// The memo instruction closes out the message: program index, zero
	// accounts, then the raw UTF-8 text.
	memo := []byte("invoice 42")
	tail := raw[len(raw)-len(memo)-3:]
	assert.Equal(t, byte(3), tail[0], "program id index points at the memo program")
	assert.Equal(t, byte(0), tail[1], "memo carries no accounts")
	assert.Equal(t, byte(len(memo)), tail[2])
	assert.Equal(t, memo, tail[3:])
}

func TestBuildTransferMessageRejectsBadInput(t *testing.T) {
	payer, _ := testAddress(0x11)
	_, recipientAddr := testAddress(0x22)
	_, blockhashStr := testAddress(0x33)

	cases := map[string]protocol.BindingTuple{
		"zero amount":       {Amount: 0, Recipient: recipientAddr, RecentBlockhash: blockhashStr},
		"negative amount":   {Amount: -1, Recipient: recipientAddr, RecentBlockhash: blockhashStr},
		"missing recipient": {Amount: 1, RecentBlockhash: blockhashStr},
		"bad recipient":     {Amount: 1, Recipient: "not-base58-!!!", RecentBlockhash: blockhashStr},
		"short recipient":   {Amount: 1, Recipient: base58.Encode([]byte{1, 2, 3}), RecentBlockhash: blockhashStr},
		"missing blockhash": {Amount: 1, Recipient: recipientAddr},
		"bad blockhash":     {Amount: 1, Recipient: recipientAddr, RecentBlockhash: "tiny"},
	}
	for name, tuple := range cases {
		_, err := BuildTransferMessage(payer, tuple)
		assert.Error(t, err, name)
	}

	_, err := BuildTransferMessage([]byte{1, 2, 3}, protocol.BindingTuple{
		Amount: 1, Recipient: recipientAddr, RecentBlockhash: blockhashStr,
	})
	assert.Error(t, err, "short payer key")
}

func TestNewSignedTransaction(t *testing.T) {
	message := []byte{0xaa, 0xbb, 0xcc}
	signature := bytes.Repeat([]byte{0x55}, 64)

	tx, err := NewSignedTransaction(message, signature)
	require.NoError(t, err)
	assert.Equal(t, byte(1), tx[0], "one signature")
	assert.Equal(t, signature, tx[1:65])
	assert.Equal(t, message, tx[65:])

	_, err = NewSignedTransaction(message, []byte("short"))
	assert.Error(t, err)
}

func TestAppendCompactU16(t *testing.T) {
	cases := map[int][]byte{
		0:     {0x00},
		1:     {0x01},
		127:   {0x7f},
		128:   {0x80, 0x01},
		255:   {0xff, 0x01},
		16384: {0x80, 0x80, 0x01},
	}
	for n, want := range cases {
		assert.Equal(t, want, appendCompactU16(nil, n), "n=%d", n)
	}
}

func TestParseAddressRoundTrip(t *testing.T) {
	key, addr := testAddress(0x7e)
	parsed, err := ParseAddress(addr)
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
	assert.Equal(t, addr, FormatAddress(key))

	_, err = ParseAddress("definitely not an address")
	assert.Error(t, err)
}
