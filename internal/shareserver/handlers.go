package shareserver

import (
	"context"
	"net/http"

	"github.com/kashguard/solana-mpc-wallet/internal/api/httperr"
	"github.com/kashguard/solana-mpc-wallet/internal/auth"
	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
	"github.com/labstack/echo/v4"
)

// SigningService is the handler-facing surface of Service.
type SigningService interface {
	Generate(ctx context.Context, userID string) (string, error)
	Round1(ctx context.Context, userID string) (commitment, secretState string, err error)
	Round2(ctx context.Context, userID string, input Round2Input) (string, error)
}

type GenerateResponse struct {
	PublicKey string `json:"public_key"`
}

type Round1Response struct {
	Commitment  string `json:"commitment"`
	SecretState string `json:"secret_state"`
}

type Round2Request struct {
	Commitments []string `json:"commitments"`
	SecretState string   `json:"secret_state"`
	protocol.BindingTuple
}

type Round2Response struct {
	PartialSignature string `json:"partial_signature"`
}

// RegisterRoutes attaches the protocol endpoints. Everything under /v1 sits
// behind token authentication; the health probe does not.
func RegisterRoutes(e *echo.Echo, svc SigningService, tokens *auth.TokenManager) {
	e.GET("/-/healthy", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	v1 := e.Group("/v1", auth.Middleware(tokens))
	v1.POST("/generate", handleGenerate(svc))
	v1.POST("/round1", handleRound1(svc))
	v1.POST("/round2", handleRound2(svc))
}

func handleGenerate(svc SigningService) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims := auth.ClaimsFromContext(c)
		publicKey, err := svc.Generate(c.Request().Context(), claims.UserID)
		if err != nil {
			return httperr.Write(c, err)
		}
		return c.JSON(http.StatusCreated, GenerateResponse{PublicKey: publicKey})
	}
}

func handleRound1(svc SigningService) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims := auth.ClaimsFromContext(c)
		commitment, secretState, err := svc.Round1(c.Request().Context(), claims.UserID)
		if err != nil {
			return httperr.Write(c, err)
		}
		return c.JSON(http.StatusOK, Round1Response{
			Commitment:  commitment,
			SecretState: secretState,
		})
	}
}

func handleRound2(svc SigningService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req Round2Request
		if err := c.Bind(&req); err != nil {
			return httperr.Write(c, protocol.NewMalformed("cannot parse request body", err))
		}

		claims := auth.ClaimsFromContext(c)
		partial, err := svc.Round2(c.Request().Context(), claims.UserID, Round2Input{
			Commitments: req.Commitments,
			SecretState: req.SecretState,
			Tuple:       req.BindingTuple,
		})
		if err != nil {
			return httperr.Write(c, err)
		}
		return c.JSON(http.StatusOK, Round2Response{PartialSignature: partial})
	}
}
