// Package httperr maps protocol failure kinds onto HTTP responses. Both
// services use it so a failure class always travels as the same status code
// and JSON body regardless of which side produced it.
package httperr

import (
	"errors"
	"net/http"

	"github.com/kashguard/solana-mpc-wallet/internal/protocol"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// Body is the JSON error envelope. Kind is the string form of the failure
// class so callers can rebuild the typed error on their side.
type Body struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StatusOf returns the HTTP status a failure kind travels as.
func StatusOf(kind protocol.Kind) int {
	switch kind {
	case protocol.KindAlreadyExists, protocol.KindInvalidState:
		return http.StatusConflict
	case protocol.KindNotFound:
		return http.StatusNotFound
	case protocol.KindUnauthorized:
		return http.StatusUnauthorized
	case protocol.KindMalformed:
		return http.StatusBadRequest
	case protocol.KindPeerFailure, protocol.KindBroadcastFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write renders err as its JSON envelope. Unclassified errors are logged and
// reported as a bare 500 so internal detail does not leak to the peer.
func Write(c echo.Context, err error) error {
	kind := protocol.KindOf(err)
	if kind == protocol.KindUnknown {
		log.Error().Err(err).Str("path", c.Path()).Msg("unclassified handler error")
		return c.JSON(http.StatusInternalServerError, Body{
			Kind:    protocol.KindUnknown.String(),
			Message: "internal error",
		})
	}

	message := err.Error()
	var pe *protocol.Error
	if errors.As(err, &pe) {
		message = pe.Message
	}
	return c.JSON(StatusOf(kind), Body{
		Kind:    kind.String(),
		Message: message,
	})
}
