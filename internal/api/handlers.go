package api

import (
	"net/http"

	"github.com/kashguard/solana-mpc-wallet/internal/api/httperr"
	"github.com/kashguard/solana-mpc-wallet/internal/auth"
	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
	"github.com/labstack/echo/v4"
)

// PostSignRequest is the user-facing signing request. The recent blockhash is
// deliberately absent: the coordinator fetches it at signing time so requests
// cannot pin a stale one.
type PostSignRequest struct {
	Amount    float64 `json:"amount"`
	Recipient string  `json:"recipient"`
	Memo      string  `json:"memo,omitempty"`
}

func postWalletHandler(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims := auth.ClaimsFromContext(c)
		wallet, err := s.Coordinator.ProvisionWallet(c.Request().Context(), claims.UserID)
		if err != nil {
			return httperr.Write(c, err)
		}
		return c.JSON(http.StatusCreated, wallet)
	}
}

func postSignHandler(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req PostSignRequest
		if err := c.Bind(&req); err != nil {
			return httperr.Write(c, protocol.NewMalformed("cannot parse request body", err))
		}

		claims := auth.ClaimsFromContext(c)
		result, err := s.Coordinator.Sign(c.Request().Context(), claims.UserID, protocol.BindingTuple{
			Amount:    req.Amount,
			Recipient: req.Recipient,
			Memo:      req.Memo,
		})
		if err != nil {
			return httperr.Write(c, err)
		}
		return c.JSON(http.StatusOK, result)
	}
}
