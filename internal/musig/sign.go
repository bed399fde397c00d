package musig

import (
	"bytes"
	"crypto/ed25519"
	"io"

	"filippo.io/edwards25519"
	"github.com/pkg/errors"
)

// Commitment is one party's round-1 message: its public key and the two public
// nonces. It is single-use; reusing it across signing attempts breaks the
// scheme's unforgeability.
type Commitment struct {
	PublicKey []byte // 32 bytes
	R1        []byte // 32 bytes, hiding nonce point
	R2        []byte // 32 bytes, binding nonce point
}

// Equal reports whether two commitments are byte-identical.
func (c Commitment) Equal(o Commitment) bool {
	return bytes.Equal(c.PublicKey, o.PublicKey) &&
		bytes.Equal(c.R1, o.R1) &&
		bytes.Equal(c.R2, o.R2)
}

// SecretNonce is the private counterpart of a Commitment. It must be consumed
// by exactly one PartialSign call.
type SecretNonce struct {
	R1 []byte // 32-byte scalar
	R2 []byte // 32-byte scalar
}

// Commitment re-derives the public commitment for the secret nonce pair under
// the given share public key.
func (n SecretNonce) Commitment(publicKey []byte) (Commitment, error) {
	r1, err := parseScalar(n.R1)
	if err != nil {
		return Commitment{}, errors.Wrap(err, "nonce r1")
	}
	r2, err := parseScalar(n.R2)
	if err != nil {
		return Commitment{}, errors.Wrap(err, "nonce r2")
	}
	return Commitment{
		PublicKey: append([]byte(nil), publicKey...),
		R1:        (&edwards25519.Point{}).ScalarBaseMult(r1).Bytes(),
		R2:        (&edwards25519.Point{}).ScalarBaseMult(r2).Bytes(),
	}, nil
}

// PartialSignature is one party's contribution to the final signature. R is
// the effective aggregate nonce; both parties must derive the identical R or
// the partials do not combine.
type PartialSignature struct {
	PublicKey []byte // 32 bytes, the contributing share's key
	R         []byte // 32 bytes, aggregate nonce point
	S         []byte // 32-byte scalar
}

// Round1 mints a fresh nonce pair and its public commitment for one signing
// attempt of the share with the given public key.
func Round1(rand io.Reader, publicKey []byte) (Commitment, SecretNonce, error) {
	if _, err := parsePoint(publicKey); err != nil {
		return Commitment{}, SecretNonce{}, errors.Wrap(err, "share public key")
	}
	r1, err := randomScalar(rand)
	if err != nil {
		return Commitment{}, SecretNonce{}, err
	}
	r2, err := randomScalar(rand)
	if err != nil {
		return Commitment{}, SecretNonce{}, err
	}
	nonce := SecretNonce{R1: r1.Bytes(), R2: r2.Bytes()}
	commitment, err := nonce.Commitment(publicKey)
	if err != nil {
		return Commitment{}, SecretNonce{}, err
	}
	return commitment, nonce, nil
}

// PartialSign produces this share's round-2 contribution over message. The
// commitment vector must be in the pinned ascending-key order, contain exactly
// one commitment for this share, and that commitment must match the supplied
// secret nonce. Any mismatch aborts before the secret is used.
func PartialSign(secret []byte, nonce SecretNonce, commitments []Commitment, message []byte) (PartialSignature, error) {
	x, err := parseScalar(secret)
	if err != nil {
		return PartialSignature{}, errors.Wrap(err, "secret share")
	}
	ownKey := (&edwards25519.Point{}).ScalarBaseMult(x).Bytes()

	orderedKeys := make([][]byte, len(commitments))
	ownIndex := -1
	for i, c := range commitments {
		orderedKeys[i] = c.PublicKey
		if bytes.Equal(c.PublicKey, ownKey) {
			if ownIndex >= 0 {
				return PartialSignature{}, errors.New("own key appears twice in commitment vector")
			}
			ownIndex = i
		}
	}
	if ownIndex < 0 {
		return PartialSignature{}, errors.New("commitment vector does not include this share")
	}

	expected, err := nonce.Commitment(ownKey)
	if err != nil {
		return PartialSignature{}, errors.Wrap(err, "secret nonce")
	}
	if !expected.Equal(commitments[ownIndex]) {
		return PartialSignature{}, errors.New("secret nonce does not correspond to the supplied commitment")
	}

	coefs, X, err := keyAggregation(orderedKeys)
	if err != nil {
		return PartialSignature{}, err
	}

	b, R, err := effectiveNonce(X.Bytes(), commitments, message)
	if err != nil {
		return PartialSignature{}, err
	}

	// Challenge is the plain ed25519 verification challenge over the
	// aggregate values, so the combined signature verifies as standard
	// ed25519 under X.
	c, err := hashToScalar(R.Bytes(), X.Bytes(), message)
	if err != nil {
		return PartialSignature{}, err
	}

	r1, err := parseScalar(nonce.R1)
	if err != nil {
		return PartialSignature{}, errors.Wrap(err, "nonce r1")
	}
	r2, err := parseScalar(nonce.R2)
	if err != nil {
		return PartialSignature{}, errors.Wrap(err, "nonce r2")
	}

	// s_i = r1 + b*r2 + c*a_i*x
	s := edwards25519.NewScalar().MultiplyAdd(b, r2, r1)
	ax := edwards25519.NewScalar().Multiply(coefs[ownIndex], x)
	s = edwards25519.NewScalar().MultiplyAdd(c, ax, s)

	return PartialSignature{
		PublicKey: ownKey,
		R:         R.Bytes(),
		S:         s.Bytes(),
	}, nil
}

// AggregateSignatures combines the per-party partial signatures into one
// ed25519 signature. All partials must agree on the effective nonce.
func AggregateSignatures(partials []PartialSignature) ([]byte, error) {
	if len(partials) < 2 {
		return nil, errors.New("aggregation needs at least two partial signatures")
	}
	R := partials[0].R
	if _, err := parsePoint(R); err != nil {
		return nil, errors.Wrap(err, "aggregate nonce")
	}
	s := edwards25519.NewScalar()
	for i, p := range partials {
		if !bytes.Equal(p.R, R) {
			return nil, errors.Errorf("partial signature %d was produced over a different nonce aggregate", i)
		}
		si, err := parseScalar(p.S)
		if err != nil {
			return nil, errors.Wrapf(err, "partial signature %d", i)
		}
		s = s.Add(s, si)
	}
	sig := make([]byte, 0, SignatureSize)
	sig = append(sig, R...)
	sig = append(sig, s.Bytes()...)
	return sig, nil
}

// Verify checks sig over message against the aggregated public key using
// standard ed25519 verification.
func Verify(aggregatedKey, message, sig []byte) bool {
	if len(aggregatedKey) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(aggregatedKey), message, sig)
}

// effectiveNonce computes the binding factor b and the aggregate nonce
// R = sum(R1_i + b*R2_i). Binding b to the aggregate key, every commitment and
// the message is what pins each partial signature to this exact session.
func effectiveNonce(aggKey []byte, commitments []Commitment, message []byte) (*edwards25519.Scalar, *edwards25519.Point, error) {
	nonceList := make([]byte, 0, len(commitments)*2*PublicKeySize)
	for _, c := range commitments {
		nonceList = append(nonceList, c.R1...)
		nonceList = append(nonceList, c.R2...)
	}
	b, err := hashToScalar([]byte(tagNonceCoef), aggKey, nonceList, message)
	if err != nil {
		return nil, nil, err
	}

	R := edwards25519.NewIdentityPoint()
	for i, c := range commitments {
		R1, err := parsePoint(c.R1)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "commitment %d hiding nonce", i)
		}
		R2, err := parsePoint(c.R2)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "commitment %d binding nonce", i)
		}
		R = R.Add(R, R1)
		R = R.Add(R, (&edwards25519.Point{}).ScalarMult(b, R2))
	}
	return b, R, nil
}

func randomScalar(rand io.Reader) (*edwards25519.Scalar, error) {
	var seed [64]byte
	if _, err := io.ReadFull(rand, seed[:]); err != nil {
		return nil, errors.Wrap(err, "read randomness")
	}
	return edwards25519.NewScalar().SetUniformBytes(seed[:])
}
