// Package auth implements the inter-service trust boundary: short-lived
// bearer tokens signed with a shared secret, scoped to one user. These are
// service-to-service credentials, not end-user sessions.
package auth

import (
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
	"github.com/pkg/errors"
)

// ServiceClaims are the claims carried by an inter-service token. UserID
// scopes the token to protocol calls on behalf of exactly one user.
type ServiceClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// TokenManager mints and verifies inter-service tokens. The clock is injected
// so expiry behavior is testable with a mock clock.
type TokenManager struct {
	secretKey     []byte
	issuer        string
	tokenDuration time.Duration
	clock         time2.Clock
}

func NewTokenManager(secretKey string, issuer string, tokenDuration time.Duration, clock time2.Clock) *TokenManager {
	if clock == nil {
		clock = time2.DefaultClock
	}
	return &TokenManager{
		secretKey:     []byte(secretKey),
		issuer:        issuer,
		tokenDuration: tokenDuration,
		clock:         clock,
	}
}

// Mint creates a token authorizing protocol calls for userID until the
// validity window closes.
func (m *TokenManager) Mint(userID string) (string, error) {
	now := m.clock.Now()
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   userID,
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Verify validates the token signature and validity window and returns the
// claims. All failures map to Unauthorized.
func (m *TokenManager) Verify(tokenString string) (*ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&ServiceClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
		jwt.WithTimeFunc(func() time.Time { return m.clock.Now() }),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, protocol.NewUnauthorized("invalid token", err)
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, protocol.NewUnauthorized("invalid token claims", nil)
	}
	if claims.UserID == "" {
		return nil, protocol.NewUnauthorized("token is not scoped to a user", nil)
	}
	return claims, nil
}
