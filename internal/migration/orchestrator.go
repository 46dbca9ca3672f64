package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/gate"
	"github.com/systemshift/docmigrate/internal/logger"
	"github.com/systemshift/docmigrate/internal/mutate"
	"github.com/systemshift/docmigrate/internal/store"
	"github.com/systemshift/docmigrate/internal/validate"
)

// ErrThresholdExceeded aborts a run whose phase failure rate is above the limit
var ErrThresholdExceeded = errors.New("phase failure rate exceeded threshold")

// Options configures an Orchestrator
type Options struct {
	FailureThreshold float64 // 0 disables; otherwise abort when a phase's failure rate is above it
	DryRun           bool
	PageSize         int
}

// PhaseEvent is emitted after every phase settles
type PhaseEvent struct {
	Phase PhaseReport
	Total int
}

// Orchestrator turns a plan into ordered phases and executes them
type Orchestrator struct {
	client    store.Client
	mutator   *mutate.Mutator
	validator *validate.Validator
	gate      gate.ConfirmationGate
	opts      Options
	log       *zap.Logger
	now       func() time.Time
	onPhase   func(PhaseEvent)
}

// New creates an Orchestrator. A nil gate approves every phase.
func New(client store.Client, m *mutate.Mutator, v *validate.Validator, g gate.ConfirmationGate, opts Options, log *zap.Logger) *Orchestrator {
	if g == nil {
		g = gate.AutoApprove
	}
	return &Orchestrator{
		client:    client,
		mutator:   m,
		validator: v,
		gate:      g,
		opts:      opts,
		log:       logger.OrNop(log).With(zap.String("component", "orchestrator")),
		now:       time.Now,
	}
}

// OnPhase registers fn to receive an event after every phase
func (o *Orchestrator) OnPhase(fn func(PhaseEvent)) {
	o.onPhase = fn
}

// run is the per-run state table. Index i addresses ops[i] and states[i].
type run struct {
	ops        []core.Operation
	states     []core.OpState
	deps       [][]int
	report     *Report
	log        *zap.Logger
	deleteFrom int // ops[deleteFrom:] are deletes
}

// Run executes plan. Configuration problems (invalid operations, cycles,
// conflicting deletes) are returned before anything is written. Item failures
// end up in the report; the error is non-nil only when the run stopped early.
func (o *Orchestrator) Run(ctx context.Context, plan *Plan) (*Report, error) {
	report := newReport(uuid.NewString(), plan.Name, o.opts.DryRun, o.now().UTC())
	defer func() { report.finish(o.now().UTC()) }()

	r, phases, err := o.prepare(ctx, plan, report)
	if err != nil {
		return report, err
	}

	total := len(phases)
	if r.deleteFrom < len(r.ops) {
		total++
	}
	o.log.Info("plan ordered",
		zap.String("run_id", report.RunID),
		zap.Int("operations", len(r.ops)),
		zap.Int("phases", total),
		zap.Bool("dry_run", o.opts.DryRun))

	if err := r.preflightDangling(ctx, o.client); err != nil {
		return report, err
	}

	for p, phase := range phases {
		if err := o.phase(ctx, r, p, total, phase); err != nil {
			return report, err
		}
	}

	if r.deleteFrom < len(r.ops) {
		var deletes []int
		for i := r.deleteFrom; i < len(r.ops); i++ {
			deletes = append(deletes, i)
		}
		if err := o.deletePhase(ctx, r, len(phases), total, deletes); err != nil {
			return report, err
		}
	}
	return report, nil
}

// prepare builds the operation list, the dependency graph and its phases
func (o *Orchestrator) prepare(ctx context.Context, plan *Plan, report *Report) (*run, [][]int, error) {
	ops, typeRenames := plan.Operations()
	expanded, err := validate.ExpandRenames(ctx, o.client, typeRenames, o.opts.PageSize)
	if err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			return nil, nil, &core.ConfigurationError{Reason: verr.Error()}
		}
		return nil, nil, err
	}
	for _, rc := range expanded {
		ops = append(ops, core.RenameOp(rc.ID, rc.From, rc.To))
	}

	var work, deletes []core.Operation
	var problems []string
	touched := make(map[string]bool)
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if op.Kind == core.OpDelete {
			deletes = append(deletes, op)
			continue
		}
		touched[op.ID] = true
		work = append(work, op)
	}
	seenDelete := make(map[string]bool)
	for _, op := range deletes {
		if touched[op.ID] {
			problems = append(problems, fmt.Sprintf("%s is both written and deleted", op.ID))
		}
		if seenDelete[op.ID] {
			problems = append(problems, fmt.Sprintf("%s is deleted twice", op.ID))
		}
		seenDelete[op.ID] = true
	}
	if len(problems) > 0 {
		return nil, nil, &core.ConfigurationError{Reason: strings.Join(problems, "; ")}
	}

	graph := BuildGraph(work)
	phases, err := graph.Phases()
	if err != nil {
		return nil, nil, err
	}

	all := append(append([]core.Operation(nil), work...), deletes...)
	r := &run{
		ops:        all,
		states:     make([]core.OpState, len(all)),
		deps:       append(graph.Deps, make([][]int, len(deletes))...),
		report:     report,
		log:        o.log,
		deleteFrom: len(work),
	}
	for i := range r.states {
		r.states[i] = core.StatePending
	}
	return r, phases, nil
}

// preflightDangling rejects writes whose references resolve neither to a
// document written earlier in the plan nor to a live document
func (r *run) preflightDangling(ctx context.Context, client store.Client) error {
	planned := make(map[string]bool)
	for _, op := range r.ops[:r.deleteFrom] {
		if op.Writes() {
			planned[op.ID] = true
		}
	}

	var outside []string
	seen := make(map[string]bool)
	for _, op := range r.ops[:r.deleteFrom] {
		for _, target := range op.References() {
			if target != op.ID && !planned[target] && !seen[target] {
				seen[target] = true
				outside = append(outside, target)
			}
		}
	}
	sort.Strings(outside)

	live, err := store.Existing(ctx, client, outside, store.DefaultBatchSize)
	if err != nil {
		return err
	}

	for i, op := range r.ops {
		if i >= r.deleteFrom {
			r.set(i, core.StateValidated)
			continue
		}
		var missing []string
		for _, target := range op.References() {
			if target != op.ID && !planned[target] && !live[target] {
				missing = append(missing, target)
			}
		}
		if len(missing) > 0 {
			r.fail(i, &core.DanglingReferenceError{ID: op.ID, Targets: missing})
			continue
		}
		r.set(i, core.StateValidated)
	}
	return nil
}

// phase runs one non-delete phase
func (o *Orchestrator) phase(ctx context.Context, r *run, p, total int, phase []int) error {
	if err := ctx.Err(); err != nil {
		return o.abort(r, "cancelled", err)
	}
	return o.execute(ctx, r, p, total, r.runnable(phase))
}

// deletePhase validates deletes against the live graph, right before they run
func (o *Orchestrator) deletePhase(ctx context.Context, r *run, p, total int, deletes []int) error {
	if err := ctx.Err(); err != nil {
		return o.abort(r, "cancelled", err)
	}

	pending := r.runnable(deletes)
	cands := make([]validate.Candidate, 0, len(pending))
	for _, i := range pending {
		op := r.ops[i]
		cands = append(cands, validate.Candidate{ID: op.ID, Type: op.Type, Reason: op.Reason})
	}
	cls, err := o.validator.ClassifyDeletions(ctx, cands)
	if err != nil {
		return o.abort(r, "validation failed", err)
	}

	var safe []int
	for k, c := range cls {
		i := pending[k]
		if c.Status == validate.Blocked {
			r.set(i, core.StateBlocked)
			r.report.Blocked = append(r.report.Blocked, BlockedOp{ID: c.ID, By: c.BlockedBy()})
			o.log.Warn("delete blocked", zap.String("id", c.ID), zap.Strings("by", c.BlockedBy()))
			continue
		}
		safe = append(safe, i)
	}
	return o.execute(ctx, r, p, total, safe)
}

// execute gates and runs the given operations as phase p
func (o *Orchestrator) execute(ctx context.Context, r *run, p, total int, idx []int) error {
	pr := PhaseReport{Index: p, Label: phaseLabel(p, total, r.ops, idx), Ops: make([]string, 0, len(idx))}
	ops := make([]core.Operation, 0, len(idx))
	destructive := false
	for _, i := range idx {
		ops = append(ops, r.ops[i])
		pr.Ops = append(pr.Ops, r.ops[i].Key())
		destructive = destructive || r.ops[i].Destructive()
	}
	defer func() {
		r.report.Phases = append(r.report.Phases, pr)
		if o.onPhase != nil {
			o.onPhase(PhaseEvent{Phase: pr, Total: total})
		}
	}()

	if len(ops) == 0 || o.opts.DryRun {
		return nil
	}

	if destructive && !o.gate(pr.Label, len(ops)) {
		pr.Declined = true
		for _, i := range idx {
			r.skip(i, "declined at confirmation")
		}
		o.log.Info("phase declined", zap.String("phase", pr.Label))
		return nil
	}

	rep, runErr := o.mutator.Run(ctx, pr.Label, ops)
	pr.Summary = rep.Summary()
	for k, res := range rep.Results {
		i := idx[k]
		r.set(i, core.StateExecuting)
		switch res.Outcome {
		case mutate.Applied:
			r.set(i, core.StateSucceeded)
			r.report.Successful = append(r.report.Successful, res.Op.ID)
		case mutate.Unchanged:
			r.set(i, core.StateSucceeded)
			r.report.Unchanged = append(r.report.Unchanged, res.Op.ID)
		default:
			r.fail(i, res.Err)
		}
	}

	if runErr != nil {
		reason := "store unavailable"
		if ctx.Err() != nil {
			reason = "cancelled"
		}
		return o.abort(r, reason, runErr)
	}

	if t := o.opts.FailureThreshold; t > 0 && rep.FailureRate() > t {
		err := fmt.Errorf("%w: %s failed %.0f%% (limit %.0f%%)", ErrThresholdExceeded, pr.Label, rep.FailureRate()*100, t*100)
		return o.abort(r, "failure threshold exceeded", err)
	}
	return nil
}

// abort skips every operation that has not reached a terminal state
func (o *Orchestrator) abort(r *run, reason string, err error) error {
	r.report.Aborted = reason
	for i := range r.ops {
		if !r.states[i].Terminal() {
			r.skip(i, reason)
		}
	}
	o.log.Warn("run aborted", zap.String("reason", reason), zap.Error(err))
	return err
}

// runnable filters idx down to validated operations whose dependencies all
// succeeded; the rest are skipped
func (r *run) runnable(idx []int) []int {
	var out []int
	for _, i := range idx {
		if r.states[i] != core.StateValidated {
			continue
		}
		if reason := r.blockedDependency(i); reason != "" {
			r.skip(i, reason)
			continue
		}
		out = append(out, i)
	}
	return out
}

func (r *run) blockedDependency(i int) string {
	for _, d := range r.deps[i] {
		switch r.states[d] {
		case core.StateFailed, core.StateBlocked, core.StateSkipped:
			return fmt.Sprintf("dependency %s %s", r.ops[d].Key(), r.states[d])
		}
	}
	return ""
}

func (r *run) set(i int, to core.OpState) {
	from := r.states[i]
	if !from.CanTransition(to) {
		r.log.Error("illegal operation state change",
			zap.String("op", r.ops[i].Key()),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return
	}
	r.states[i] = to
}

func (r *run) fail(i int, err error) {
	r.set(i, core.StateFailed)
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	r.report.Failed = append(r.report.Failed, mutate.Failure{ID: r.ops[i].ID, Op: r.ops[i].Key(), Error: msg})
}

func (r *run) skip(i int, reason string) {
	r.set(i, core.StateSkipped)
	r.report.Skipped = append(r.report.Skipped, SkippedOp{ID: r.ops[i].ID, Op: r.ops[i].Key(), Reason: reason})
}

func phaseLabel(p, total int, ops []core.Operation, idx []int) string {
	counts := make(map[core.OpKind]int)
	for _, i := range idx {
		counts[ops[i].Kind]++
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%d %s", counts[core.OpKind(k)], k))
	}
	if len(parts) == 0 {
		parts = append(parts, "nothing to do")
	}
	return fmt.Sprintf("Phase %d/%d: %s", p+1, total, strings.Join(parts, ", "))
}
