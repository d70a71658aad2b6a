package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/NodePath81/pmugateway/internal/codec"
	"github.com/NodePath81/pmugateway/internal/protocol"
)

var (
	// ErrDownstream marks a failure inside the estimator.
	ErrDownstream = errors.New("estimator failure")
	// ErrNotConfigured is a downstream failure raised before any configure.
	ErrNotConfigured = fmt.Errorf("%w: not configured", ErrDownstream)
	// ErrTimeout is returned when the request deadline passes while waiting
	// for the session.
	ErrTimeout = errors.New("request timed out")
	// ErrUnknownAction is returned for WebSocket messages with an
	// unrecognised action.
	ErrUnknownAction = errors.New("unknown action")
)

// Error kinds reported to callers.
const (
	KindValidation    = "validation"
	KindDownstream    = "downstream"
	KindTimeout       = "timeout"
	KindUnknownAction = "unknown_action"
	KindNotConfigured = "not_configured"
)

// Classify maps an error to its HTTP status and kind.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, protocol.ErrValidation), errors.Is(err, codec.ErrDecode):
		return http.StatusBadRequest, KindValidation
	case errors.Is(err, ErrUnknownAction):
		return http.StatusBadRequest, KindUnknownAction
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout, KindTimeout
	default:
		return http.StatusInternalServerError, KindDownstream
	}
}
