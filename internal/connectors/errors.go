package connectors

import (
	"fmt"

	"github.com/Pouzor/servarr-hub/internal/types"
)

type ErrorKind string

const (
	Unreachable  ErrorKind = "unreachable"  // transport failure, timeout, 5xx, open breaker
	Unauthorized ErrorKind = "unauthorized" // 401 / 403
	Malformed    ErrorKind = "malformed"    // body did not decode
)

// ConnectorError is returned by every connector method.
type ConnectorError struct {
	Kind   ErrorKind
	Source types.Source
	Op     string
	Status int // HTTP status when one was received
	Err    error
}

func (e *ConnectorError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: %s (http %d): %v", e.Source, e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Source, e.Op, e.Kind, e.Err)
}

func (e *ConnectorError) Unwrap() error { return e.Err }

// Is matches on Kind: errors.Is(err, connectors.ErrUnauthorized).
func (e *ConnectorError) Is(target error) bool {
	t, ok := target.(*ConnectorError)
	return ok && t.Kind == e.Kind && t.Source == "" && t.Err == nil
}

var (
	ErrUnreachable  = &ConnectorError{Kind: Unreachable}
	ErrUnauthorized = &ConnectorError{Kind: Unauthorized}
	ErrMalformed    = &ConnectorError{Kind: Malformed}
)
