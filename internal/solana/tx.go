// Package solana builds and serializes legacy Solana transactions. It covers
// exactly what the wallet needs: a system transfer with an optional memo,
// signed by a single fee payer.
package solana

import (
	"encoding/binary"
	"math"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
	"github.com/pkg/errors"
)

const (
	// LamportsPerSol is the fixed conversion rate of the chain.
	LamportsPerSol = 1_000_000_000

	// AddressSize is the byte length of a Solana account address.
	AddressSize = 32

	// BlockhashSize is the byte length of a recent blockhash.
	BlockhashSize = 32

	memoProgramAddress = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"

	// transferInstructionIndex selects the Transfer variant of the system
	// program's instruction enum.
	transferInstructionIndex uint32 = 2
)

// SystemProgramID is the all-zero address of the system program.
var SystemProgramID = make([]byte, AddressSize)

// MemoProgramID is the address of the SPL memo program.
var MemoProgramID = base58.Decode(memoProgramAddress)

// SolToLamports converts a SOL amount to lamports, rounding to the nearest
// lamport.
func SolToLamports(sol float64) uint64 {
	return uint64(math.Round(sol * LamportsPerSol))
}

// ParseAddress decodes a base58 account address and validates its length.
func ParseAddress(address string) ([]byte, error) {
	decoded := base58.Decode(address)
	if len(decoded) != AddressSize {
		return nil, errors.Errorf("address %q is not a valid 32-byte base58 key", address)
	}
	return decoded, nil
}

// FormatAddress renders a 32-byte account key as base58.
func FormatAddress(key []byte) string {
	return base58.Encode(key)
}

// FormatSignature renders a 64-byte signature as base58, the form chain
// explorers index transactions by.
func FormatSignature(signature []byte) string {
	return base58.Encode(signature)
}

type accountMeta struct {
	key      []byte
	signer   bool
	writable bool
}

type instruction struct {
	programID []byte
	accounts  []accountMeta
	data      []byte
}

// Message is an unsigned legacy transaction message. Account keys are ordered
// per the wire format: writable signers first, then writable non-signers,
// then readonly non-signers.
type Message struct {
	numRequiredSignatures   uint8
	numReadonlySignedKeys   uint8
	numReadonlyUnsignedKeys uint8
	accountKeys             [][]byte
	recentBlockhash         []byte
	instructions            []instruction
}

// BuildTransferMessage assembles the message for a system transfer from payer
// as described by the binding tuple. A non-empty memo appends a memo
// instruction carrying the raw UTF-8 text with no accounts.
func BuildTransferMessage(payer []byte, tuple protocol.BindingTuple) (*Message, error) {
	if len(payer) != AddressSize {
		return nil, errors.New("payer key must be 32 bytes")
	}
	if err := tuple.Validate(); err != nil {
		return nil, err
	}
	recipient, err := ParseAddress(tuple.Recipient)
	if err != nil {
		return nil, errors.Wrap(err, "recipient")
	}
	blockhash := base58.Decode(tuple.RecentBlockhash)
	if len(blockhash) != BlockhashSize {
		return nil, errors.Errorf("recent blockhash %q is not a valid 32-byte base58 hash", tuple.RecentBlockhash)
	}

	transferData := make([]byte, 12)
	binary.LittleEndian.PutUint32(transferData[0:4], transferInstructionIndex)
	binary.LittleEndian.PutUint64(transferData[4:12], SolToLamports(tuple.Amount))

	instructions := []instruction{{
		programID: SystemProgramID,
		accounts: []accountMeta{
			{key: payer, signer: true, writable: true},
			{key: recipient, signer: false, writable: true},
		},
		data: transferData,
	}}
	if tuple.Memo != "" {
		instructions = append(instructions, instruction{
			programID: MemoProgramID,
			data:      []byte(tuple.Memo),
		})
	}

	return compileMessage(payer, blockhash, instructions)
}

// compileMessage collects the distinct account keys referenced by the
// instructions, orders them for the wire, and records the header counts. The
// fee payer always occupies index 0.
func compileMessage(payer []byte, blockhash []byte, instructions []instruction) (*Message, error) {
	type accountFlags struct {
		signer   bool
		writable bool
	}
	flags := map[string]*accountFlags{}
	order := []string{}

	record := func(key []byte, signer, writable bool) {
		k := string(key)
		f, ok := flags[k]
		if !ok {
			f = &accountFlags{}
			flags[k] = f
			order = append(order, k)
		}
		f.signer = f.signer || signer
		f.writable = f.writable || writable
	}

	record(payer, true, true)
	for _, ins := range instructions {
		for _, meta := range ins.accounts {
			record(meta.key, meta.signer, meta.writable)
		}
		record(ins.programID, false, false)
	}

	var writableSigners, readonlySigners, writableOthers, readonlyOthers []string
	for _, k := range order {
		f := flags[k]
		switch {
		case f.signer && f.writable:
			writableSigners = append(writableSigners, k)
		case f.signer:
			readonlySigners = append(readonlySigners, k)
		case f.writable:
			writableOthers = append(writableOthers, k)
		default:
			readonlyOthers = append(readonlyOthers, k)
		}
	}

	ordered := append(append(append(writableSigners, readonlySigners...), writableOthers...), readonlyOthers...)
	keys := make([][]byte, len(ordered))
	for i, k := range ordered {
		keys[i] = []byte(k)
	}

	return &Message{
		numRequiredSignatures:   uint8(len(writableSigners) + len(readonlySigners)),
		numReadonlySignedKeys:   uint8(len(readonlySigners)),
		numReadonlyUnsignedKeys: uint8(len(readonlyOthers)),
		accountKeys:             keys,
		recentBlockhash:         blockhash,
		instructions:            instructions,
	}, nil
}

// Serialize renders the message in the legacy wire format.
func (m *Message) Serialize() []byte {
	index := map[string]int{}
	for i, key := range m.accountKeys {
		index[string(key)] = i
	}

	out := []byte{m.numRequiredSignatures, m.numReadonlySignedKeys, m.numReadonlyUnsignedKeys}
	out = appendCompactU16(out, len(m.accountKeys))
	for _, key := range m.accountKeys {
		out = append(out, key...)
	}
	out = append(out, m.recentBlockhash...)
	out = appendCompactU16(out, len(m.instructions))
	for _, ins := range m.instructions {
		out = append(out, byte(index[string(ins.programID)]))
		out = appendCompactU16(out, len(ins.accounts))
		for _, meta := range ins.accounts {
			out = append(out, byte(index[string(meta.key)]))
		}
		out = appendCompactU16(out, len(ins.data))
		out = append(out, ins.data...)
	}
	return out
}

// AccountKeys exposes the ordered account keys, payer first.
func (m *Message) AccountKeys() [][]byte {
	return m.accountKeys
}

// NewSignedTransaction wraps a serialized message and its single signature in
// the legacy transaction wire format.
func NewSignedTransaction(message []byte, signature []byte) ([]byte, error) {
	if len(signature) != 64 {
		return nil, errors.New("signature must be 64 bytes")
	}
	out := appendCompactU16(nil, 1)
	out = append(out, signature...)
	out = append(out, message...)
	return out, nil
}

// appendCompactU16 appends n in the compact-u16 encoding used by the
// transaction wire format.
func appendCompactU16(out []byte, n int) []byte {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
