package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/systemshift/docmigrate/internal/logger"
)

// Options configures delivery
type Options struct {
	Timeout        time.Duration // per attempt
	MaxAttempts    int
	InitialBackoff time.Duration
	HTTPClient     *http.Client
}

// Notifier POSTs events to every hook whose patterns match
type Notifier struct {
	hooks  []Hook
	opts   Options
	client *http.Client
	log    *zap.Logger
	now    func() time.Time
}

// New creates a notifier. Hooks without a URL are ignored.
func New(hooks []Hook, opts Options, log *zap.Logger) *Notifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	var valid []Hook
	for _, h := range hooks {
		if h.URL != "" {
			valid = append(valid, h)
		}
	}
	return &Notifier{
		hooks:  valid,
		opts:   opts,
		client: client,
		log:    logger.OrNop(log).With(zap.String("component", "notify")),
		now:    time.Now,
	}
}

// Matches reports whether h wants events of type eventType
func (h Hook) Matches(eventType string) bool {
	if len(h.Events) == 0 {
		return true
	}
	for _, pattern := range h.Events {
		if ok, err := doublestar.Match(pattern, eventType); err == nil && ok {
			return true
		}
	}
	return false
}

// Notify delivers ev to every matching hook. Delivery failures are joined
// into the returned error; one failing hook does not stop the others.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = n.now().UTC()
	}

	var errs []error
	for _, h := range n.hooks {
		if !h.Matches(ev.Type) {
			continue
		}
		if err := n.send(ctx, h.URL, Notification{Hook: h.URL, Event: ev, MatchedAt: n.now().UTC()}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// send POSTs one notification, retrying transport errors and non-2xx answers
func (n *Notifier) send(ctx context.Context, url string, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	attempt := 0
	deliver := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(&WebhookError{URL: url, Err: err})
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Docmigrate-Event", notification.Event.Type)
		req.Header.Set("X-Docmigrate-Delivery", notification.Event.ID)

		resp, err := n.client.Do(req)
		if err != nil {
			return &WebhookError{URL: url, Err: err}
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return &WebhookError{URL: url, StatusCode: resp.StatusCode}
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = n.opts.InitialBackoff
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(n.opts.MaxAttempts-1)), ctx)

	err = backoff.RetryNotify(deliver, policy, func(err error, wait time.Duration) {
		n.log.Debug("webhook delivery attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		n.log.Warn("webhook delivery failed",
			zap.String("url", url),
			zap.String("event", notification.Event.Type),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return err
	}
	n.log.Debug("webhook delivered", zap.String("url", url), zap.String("event", notification.Event.Type))
	return nil
}
