// Package exitcode provides the process exit codes for docmigrate
package exitcode

import (
	"context"
	"errors"

	"github.com/systemshift/docmigrate/internal/core"
)

// Exit codes for the docmigrate CLI
const (
	Success          = 0
	GeneralError     = 1
	ConfigError      = 2
	OperationsFailed = 3
	NetworkError     = 5
	Aborted          = 7
)

// String returns a human-readable description of the exit code
func String(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case ConfigError:
		return "Configuration error"
	case OperationsFailed:
		return "One or more operations failed, check the report"
	case NetworkError:
		return "Content store unavailable"
	case Aborted:
		return "Run aborted"
	default:
		return "Unknown error"
	}
}

// ErrOperationsFailed signals a completed run with failed items
var ErrOperationsFailed = errors.New("one or more operations failed")

// ErrAborted signals a run stopped early by the operator or a threshold
var ErrAborted = errors.New("run aborted")

// FromError maps an error returned by a command to an exit code
func FromError(err error) int {
	if err == nil {
		return Success
	}
	var cerr *core.ConfigurationError
	var uerr *core.UnavailableError
	switch {
	case errors.As(err, &cerr):
		return ConfigError
	case errors.As(err, &uerr):
		return NetworkError
	case errors.Is(err, ErrOperationsFailed):
		return OperationsFailed
	case errors.Is(err, ErrAborted), errors.Is(err, context.Canceled):
		return Aborted
	default:
		return GeneralError
	}
}
