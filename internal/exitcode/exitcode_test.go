package exitcode

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systemshift/docmigrate/internal/core"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, Success},
		{"config", &core.ConfigurationError{Reason: "missing token"}, ConfigError},
		{"wrapped config", fmt.Errorf("loading plan: %w", &core.ConfigurationError{Reason: "cycle"}), ConfigError},
		{"unavailable", &core.UnavailableError{Err: errors.New("refused")}, NetworkError},
		{"failed items", fmt.Errorf("phase 1: %w", ErrOperationsFailed), OperationsFailed},
		{"aborted", ErrAborted, Aborted},
		{"cancelled", context.Canceled, Aborted},
		{"other", errors.New("boom"), GeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromError(tt.err))
		})
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "Success", String(Success))
	assert.Equal(t, "Unknown error", String(42))
}
