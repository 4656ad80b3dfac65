package radio

import (
	"errors"
	"fmt"
	"strings"
)

// LinkState represents the specific kind of link-state failure.
type LinkState string

const (
	NotConnected     LinkState = "not_connected"
	AlreadyConnected LinkState = "already_connected"
	Closed           LinkState = "closed"
	Refused          LinkState = "refused"
)

// LinkError represents any link-state related problem.
type LinkError struct {
	State LinkState
	Msg   string
}

// Error implements the error interface
func (e *LinkError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare LinkError values by State
func (e *LinkError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*LinkError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for link states
var (
	ErrNotConnected     = &LinkError{State: NotConnected}
	ErrAlreadyConnected = &LinkError{State: AlreadyConnected}
	ErrClosed           = &LinkError{State: Closed}
	ErrRefused          = &LinkError{State: Refused}
)

// Operation errors
var (
	ErrTimeout       = errors.New("timeout")
	ErrUnsupported   = errors.New("unsupported")
	ErrNoServiceData = errors.New("advertisement carries no service data")
)

// NormalizeError maps known platform error strings to structured LinkError
// types. It ensures consistent handling even if the underlying library changes
// messages slightly. Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection refused"):
		return fmt.Errorf("%w: %v", ErrRefused, err)
	case containsIgnoreCase(msg, "closed"):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsLinkState reports whether err is a LinkError with the given state
func IsLinkState(err error, state LinkState) bool {
	var lerr *LinkError
	if errors.As(err, &lerr) {
		return lerr.State == state
	}
	return false
}
