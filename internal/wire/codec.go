// Package wire provides the canonical encoding of protocol values exchanged
// between the coordinator and the key-share services: fixed-size binary
// layouts inside a standard base64 envelope. decode(encode(x)) == x holds
// exactly for every type; malformed input fails with a Malformed error and
// never panics.
package wire

import (
	"encoding/base64"

	"filippo.io/edwards25519"
	"github.com/kashguard/solana-mpc-wallet/internal/musig"
	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
)

const (
	commitmentLen  = 3 * 32 // A || R1 || R2
	secretNonceLen = 2 * 32 // r1 || r2
	partialSigLen  = 3 * 32 // A || R || s
	publicKeyLen   = 32
)

// EncodeCommitment serializes a round-1 commitment.
func EncodeCommitment(c musig.Commitment) string {
	buf := make([]byte, 0, commitmentLen)
	buf = append(buf, c.PublicKey...)
	buf = append(buf, c.R1...)
	buf = append(buf, c.R2...)
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeCommitment parses a round-1 commitment, rejecting payloads whose
// points are not valid curve encodings.
func DecodeCommitment(s string) (musig.Commitment, error) {
	buf, err := decodeEnvelope(s, commitmentLen, "commitment")
	if err != nil {
		return musig.Commitment{}, err
	}
	c := musig.Commitment{
		PublicKey: buf[0:32],
		R1:        buf[32:64],
		R2:        buf[64:96],
	}
	for _, p := range [][]byte{c.PublicKey, c.R1, c.R2} {
		if _, err := (&edwards25519.Point{}).SetBytes(p); err != nil {
			return musig.Commitment{}, protocol.NewMalformed("commitment contains an invalid point", err)
		}
	}
	return c, nil
}

// EncodeSecretNonce seals the round-1 secret state for relay through the
// coordinator. The coordinator treats the result as opaque.
func EncodeSecretNonce(n musig.SecretNonce) string {
	buf := make([]byte, 0, secretNonceLen)
	buf = append(buf, n.R1...)
	buf = append(buf, n.R2...)
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeSecretNonce unseals a relayed secret state.
func DecodeSecretNonce(s string) (musig.SecretNonce, error) {
	buf, err := decodeEnvelope(s, secretNonceLen, "secret nonce state")
	if err != nil {
		return musig.SecretNonce{}, err
	}
	n := musig.SecretNonce{
		R1: buf[0:32],
		R2: buf[32:64],
	}
	for _, sc := range [][]byte{n.R1, n.R2} {
		if _, err := edwards25519.NewScalar().SetCanonicalBytes(sc); err != nil {
			return musig.SecretNonce{}, protocol.NewMalformed("secret nonce state contains a non-canonical scalar", err)
		}
	}
	return n, nil
}

// EncodePartialSignature serializes a round-2 partial signature.
func EncodePartialSignature(p musig.PartialSignature) string {
	buf := make([]byte, 0, partialSigLen)
	buf = append(buf, p.PublicKey...)
	buf = append(buf, p.R...)
	buf = append(buf, p.S...)
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodePartialSignature parses a round-2 partial signature.
func DecodePartialSignature(s string) (musig.PartialSignature, error) {
	buf, err := decodeEnvelope(s, partialSigLen, "partial signature")
	if err != nil {
		return musig.PartialSignature{}, err
	}
	p := musig.PartialSignature{
		PublicKey: buf[0:32],
		R:         buf[32:64],
		S:         buf[64:96],
	}
	for _, pt := range [][]byte{p.PublicKey, p.R} {
		if _, err := (&edwards25519.Point{}).SetBytes(pt); err != nil {
			return musig.PartialSignature{}, protocol.NewMalformed("partial signature contains an invalid point", err)
		}
	}
	if _, err := edwards25519.NewScalar().SetCanonicalBytes(p.S); err != nil {
		return musig.PartialSignature{}, protocol.NewMalformed("partial signature scalar is non-canonical", err)
	}
	return p, nil
}

// EncodeTransaction serializes a fully signed transaction for transport to
// API callers.
func EncodeTransaction(tx []byte) string {
	return base64.StdEncoding.EncodeToString(tx)
}

// EncodePublicKey serializes a share public key for relay.
func EncodePublicKey(pub []byte) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// DecodePublicKey parses a relayed share public key.
func DecodePublicKey(s string) ([]byte, error) {
	buf, err := decodeEnvelope(s, publicKeyLen, "public key")
	if err != nil {
		return nil, err
	}
	if _, err := (&edwards25519.Point{}).SetBytes(buf); err != nil {
		return nil, protocol.NewMalformed("public key is not a valid point", err)
	}
	return buf, nil
}

func decodeEnvelope(s string, want int, what string) ([]byte, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, protocol.NewMalformed(what+" is not valid base64", err)
	}
	if len(buf) != want {
		return nil, protocol.NewMalformed(what+" has the wrong length", nil)
	}
	return buf, nil
}
