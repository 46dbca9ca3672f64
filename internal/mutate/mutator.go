// Package mutate runs operations against the content store in bounded
// concurrent windows with per-item failure isolation.
package mutate

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/logger"
	"github.com/systemshift/docmigrate/internal/store"
)

// DefaultConcurrency is the window width used when none is configured
const DefaultConcurrency = 5

// Options configures a Mutator
type Options struct {
	Concurrency int           // W: operations in flight per window
	Pause       time.Duration // wait between windows
	SkipPing    bool
}

// Event reports progress after each settled window
type Event struct {
	Label     string
	Window    int
	Windows   int
	Done      int
	Total     int
	Applied   int
	Unchanged int
	Failed    int
}

// EventEmitter is a function that receives progress events
type EventEmitter func(Event)

// Mutator executes operation lists window by window
type Mutator struct {
	client store.Client
	opts   Options
	log    *zap.Logger
	emit   EventEmitter
}

// New creates a Mutator
func New(client store.Client, opts Options, log *zap.Logger) *Mutator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Mutator{
		client: client,
		opts:   opts,
		log:    logger.OrNop(log).With(zap.String("component", "mutator")),
	}
}

// SetEventEmitter registers fn to receive progress events
func (m *Mutator) SetEventEmitter(fn EventEmitter) {
	m.emit = fn
}

// Run executes ops in order, at most Concurrency at a time. Each window
// settles completely before the next one opens. Item failures are recorded in
// the report and never stop the run; Run returns an error only when the store
// is unreachable or ctx is cancelled between windows. Calls already in flight
// are never cancelled.
func (m *Mutator) Run(ctx context.Context, label string, ops []core.Operation) (*Report, error) {
	report := NewReport()
	if len(ops) == 0 {
		return report, nil
	}

	if !m.opts.SkipPing {
		if err := m.client.Ping(ctx); err != nil {
			return report, err
		}
	}

	w := m.opts.Concurrency
	windows := (len(ops) + w - 1) / w
	detached := context.WithoutCancel(ctx)

	for i := 0; i < windows; i++ {
		if i > 0 {
			if err := m.pause(ctx); err != nil {
				return report, err
			}
		}

		start := i * w
		end := min(start+w, len(ops))
		results := m.window(detached, ops[start:end])

		var fatal error
		for _, res := range results {
			report.Add(res)
			if res.Err != nil && core.IsInfrastructure(res.Err) && fatal == nil {
				fatal = res.Err
			}
			m.logResult(res)
		}

		ev := Event{
			Label:     label,
			Window:    i + 1,
			Windows:   windows,
			Done:      report.Total,
			Total:     len(ops),
			Applied:   len(report.Successful),
			Unchanged: len(report.Unchanged),
			Failed:    len(report.Failed),
		}
		m.log.Debug("window settled",
			zap.String("label", label),
			zap.Int("window", ev.Window),
			zap.Int("windows", ev.Windows),
			zap.Int("failed", ev.Failed))
		if m.emit != nil {
			m.emit(ev)
		}

		if fatal != nil {
			return report, fatal
		}
	}
	return report, nil
}

// window runs ops concurrently; every goroutine owns exactly one result slot
func (m *Mutator) window(ctx context.Context, ops []core.Operation) []Result {
	results := make([]Result, len(ops))
	var g errgroup.Group
	for i, op := range ops {
		g.Go(func() error {
			start := time.Now()
			results[i] = Apply(ctx, m.client, op)
			results[i].Elapsed = time.Since(start)
			return nil
		})
	}
	g.Wait()
	return results
}

func (m *Mutator) pause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.opts.Pause <= 0 {
		return nil
	}
	t := time.NewTimer(m.opts.Pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Mutator) logResult(res Result) {
	fields := []zap.Field{
		zap.String("op", string(res.Op.Kind)),
		zap.String("id", res.Op.ID),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("elapsed", res.Elapsed),
	}
	if res.Err != nil {
		m.log.Warn("operation failed", append(fields, zap.Error(res.Err))...)
		return
	}
	m.log.Debug("operation settled", fields...)
}
