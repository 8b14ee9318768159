package ledger

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the gateway. Callers match them with errors.Is.
var (
	ErrNetwork         = errors.New("ledger network error")
	ErrNotFound        = errors.New("ledger resource not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUserRejected    = errors.New("user rejected the request")
	ErrTimeout         = errors.New("timed out waiting for confirmation")
)

// APIError is a non-2xx response from the ledger node. It unwraps to one of
// the error kinds above.
type APIError struct {
	StatusCode  int    `json:"-"`
	Message     string `json:"message"`
	ErrorCode   string `json:"error_code"`
	VMErrorCode int    `json:"vm_error_code,omitempty"`
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("ledger node returned %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("ledger node returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return kindForStatus(e.StatusCode)
}

// kindForStatus maps an HTTP status from the node to an error kind.
func kindForStatus(status int) error {
	switch {
	case status == 404:
		return ErrNotFound
	case status == 400:
		return ErrInvalidArgument
	default:
		return ErrNetwork
	}
}
