// Package musig implements the two-round aggregated ed25519 signing scheme
// used between the key-share services: MuSig2-style nonce commitments and
// partial signatures whose aggregate is a standard ed25519 signature over the
// aggregated public key.
package musig

import (
	"bytes"
	"crypto/sha512"
	"io"
	"sort"

	"filippo.io/edwards25519"
	"github.com/pkg/errors"
)

const (
	// PublicKeySize is the size of a compressed edwards25519 point.
	PublicKeySize = 32
	// SecretKeySize is the size of a canonical scalar.
	SecretKeySize = 32
	// SignatureSize is R || s.
	SignatureSize = 64
)

// Domain separators for the two scalar hashes of the scheme. The final
// challenge is deliberately unprefixed: it must be the exact ed25519
// verification challenge SHA-512(R || A || M).
const (
	tagKeyAgg    = "musig/keyagg/v1"
	tagNonceCoef = "musig/noncecoef/v1"
)

// GenerateShare creates one party's independent signing share. The secret is a
// uniformly random canonical scalar, not an RFC 8032 seed: the joint secret
// never exists, so shares participate in the group directly.
func GenerateShare(rand io.Reader) (secret, public []byte, err error) {
	var seed [64]byte
	if _, err := io.ReadFull(rand, seed[:]); err != nil {
		return nil, nil, errors.Wrap(err, "read randomness")
	}
	x, err := edwards25519.NewScalar().SetUniformBytes(seed[:])
	if err != nil {
		return nil, nil, errors.Wrap(err, "derive secret scalar")
	}
	A := (&edwards25519.Point{}).ScalarBaseMult(x)
	return x.Bytes(), A.Bytes(), nil
}

// PublicKeyOf returns the public key for a stored secret share.
func PublicKeyOf(secret []byte) ([]byte, error) {
	x, err := parseScalar(secret)
	if err != nil {
		return nil, err
	}
	return (&edwards25519.Point{}).ScalarBaseMult(x).Bytes(), nil
}

// SortKeys returns the participant keys in the protocol's pinned order:
// ascending byte order. Both rounds and the aggregation must use this order.
func SortKeys(keys [][]byte) [][]byte {
	ordered := make([][]byte, len(keys))
	copy(ordered, keys)
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i], ordered[j]) < 0
	})
	return ordered
}

// validateOrdering rejects key vectors that are not strictly ascending.
// A duplicate key means one party appears twice, which the scheme forbids.
func validateOrdering(keys [][]byte) error {
	for i := range keys {
		if len(keys[i]) != PublicKeySize {
			return errors.Errorf("key %d has length %d, want %d", i, len(keys[i]), PublicKeySize)
		}
		if i > 0 && bytes.Compare(keys[i-1], keys[i]) >= 0 {
			return errors.New("key vector is not in ascending order")
		}
	}
	return nil
}

// AggregateKeys combines the ordered participant keys into the joint public
// key. The result is deterministic in the key set because the order is pinned.
func AggregateKeys(orderedKeys [][]byte) ([]byte, error) {
	_, X, err := keyAggregation(orderedKeys)
	if err != nil {
		return nil, err
	}
	return X.Bytes(), nil
}

// keyAggregation computes the per-key coefficients a_i and the aggregate
// X = sum a_i * A_i over the ordered key vector.
func keyAggregation(orderedKeys [][]byte) ([]*edwards25519.Scalar, *edwards25519.Point, error) {
	if len(orderedKeys) < 2 {
		return nil, nil, errors.New("key aggregation needs at least two keys")
	}
	if err := validateOrdering(orderedKeys); err != nil {
		return nil, nil, err
	}

	keyList := make([]byte, 0, len(orderedKeys)*PublicKeySize)
	for _, k := range orderedKeys {
		keyList = append(keyList, k...)
	}

	coefs := make([]*edwards25519.Scalar, len(orderedKeys))
	X := edwards25519.NewIdentityPoint()
	for i, k := range orderedKeys {
		A, err := parsePoint(k)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "key %d", i)
		}
		a, err := hashToScalar([]byte(tagKeyAgg), keyList, k)
		if err != nil {
			return nil, nil, err
		}
		coefs[i] = a
		X = X.Add(X, (&edwards25519.Point{}).ScalarMult(a, A))
	}
	return coefs, X, nil
}

func parseScalar(b []byte) (*edwards25519.Scalar, error) {
	if len(b) != SecretKeySize {
		return nil, errors.Errorf("scalar has length %d, want %d", len(b), SecretKeySize)
	}
	s, err := edwards25519.NewScalar().SetCanonicalBytes(b)
	if err != nil {
		return nil, errors.Wrap(err, "non-canonical scalar")
	}
	return s, nil
}

func parsePoint(b []byte) (*edwards25519.Point, error) {
	if len(b) != PublicKeySize {
		return nil, errors.Errorf("point has length %d, want %d", len(b), PublicKeySize)
	}
	p, err := (&edwards25519.Point{}).SetBytes(b)
	if err != nil {
		return nil, errors.Wrap(err, "invalid point encoding")
	}
	return p, nil
}

// hashToScalar reduces SHA-512(parts...) to a scalar, the same 64-byte uniform
// reduction ed25519 itself uses.
func hashToScalar(parts ...[]byte) (*edwards25519.Scalar, error) {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
}
