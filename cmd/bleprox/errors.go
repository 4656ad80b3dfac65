package main

import (
	"errors"

	"github.com/srg/bleprox/internal/radio"
)

// FormatUserError maps internal failures to user-facing messages.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, radio.ErrTimeout):
		return "operation timed out - is the peer in range?"
	case errors.Is(err, radio.ErrNoServiceData):
		return "advertisement has no service data"
	case errors.Is(err, radio.ErrRefused):
		return "connection refused by the peer"
	case errors.Is(err, radio.ErrNotConnected):
		return "peer is not connected"
	case errors.Is(err, radio.ErrClosed):
		return "connection closed"
	default:
		return err.Error()
	}
}
