// Package notify delivers run events to webhooks.
package notify

import (
	"fmt"
	"time"
)

// Event is something an operator may want to hear about
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // export.finished, validate.finished, migrate.finished, migrate.aborted
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // project/dataset
	RunID     string    `json:"run_id,omitempty"`

	// Summary is the command's own summary value (manifest counts, report summary)
	Summary any `json:"summary,omitempty"`

	Meta map[string]any `json:"meta,omitempty"`
}

// Event type constants
const (
	EventExportFinished   = "export.finished"
	EventValidateFinished = "validate.finished"
	EventMigrateFinished  = "migrate.finished"
	EventMigrateAborted   = "migrate.aborted"
)

// Hook is a webhook subscription. Events holds glob patterns such as
// "migrate.*"; empty matches every event.
type Hook struct {
	URL    string   `mapstructure:"url" json:"url"`
	Events []string `mapstructure:"events" json:"events,omitempty"`
}

// Notification is the body POSTed to a hook
type Notification struct {
	Hook      string    `json:"hook"`
	Event     Event     `json:"event"`
	MatchedAt time.Time `json:"matched_at"`
}

// WebhookError represents a webhook delivery failure
type WebhookError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *WebhookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook delivery to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("webhook delivery to %s failed with status %d", e.URL, e.StatusCode)
}

func (e *WebhookError) Unwrap() error { return e.Err }
