// Package calculation drives the Solver Service from point collection
// changes: debounced validation and preview, and promotion of confident
// previews to confirmed positions.
package calculation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trilat/internal/debounce"
	"github.com/fyrsmithlabs/trilat/internal/solver"
)

// Pipeline defaults.
const (
	MinPoints           = 3
	DefaultDebounce     = 500 * time.Millisecond
	DefaultConfidence   = 50.0
	requestKindValidate = "validate"
	requestKindPreview  = "preview"
	requestKindCompute  = "compute"
)

var (
	ErrCalculationInFlight = errors.New("calculation already in flight")
	ErrNotEnoughPoints     = fmt.Errorf("at least %d points are required", MinPoints)
)

// State is the pipeline state.
type State int

const (
	Idle State = iota
	Validating
	PreviewPending
	Committed
	AwaitingMoreData
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case PreviewPending:
		return "preview_pending"
	case Committed:
		return "committed"
	case AwaitingMoreData:
		return "awaiting_more_data"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Input is the point collection the pipeline works on.
type Input struct {
	ProjectID string
	Revision  uint64
	Points    []solver.Point
	Automatic bool
}

// EventKind identifies what changed.
type EventKind int

const (
	// EventValidated carries a validation report.
	EventValidated EventKind = iota
	// EventPreview carries a preview. It is provisional unless followed by
	// EventCommitted for the same revision.
	EventPreview
	// EventCommitted carries a confirmed result.
	EventCommitted
	// EventCleared means the point count dropped below MinPoints.
	EventCleared
	// EventFailed carries a confirmed computation error; the committed
	// result has been cleared.
	EventFailed
)

// Event is published to observers after each applied change.
type Event struct {
	Kind       EventKind
	Revision   uint64
	Validation *solver.Validation
	Preview    *solver.Preview
	Result     *solver.Result
	Err        error
}

// Observer receives pipeline events. It is called without internal locks
// held.
type Observer func(Event)

// Options configures an Orchestrator.
type Options struct {
	Service   solver.Service
	Debounce  time.Duration
	Threshold float64 // preview confidence required for promotion, 0-100
	Clock     clockwork.Clock
	Logger    *zap.Logger
	Metrics   *Metrics
}

// Orchestrator runs the calculation pipeline for one working project.
type Orchestrator struct {
	svc       solver.Service
	delay     time.Duration
	threshold float64
	logger    *zap.Logger
	metrics   *Metrics
	timer     *debounce.Timer

	mu         sync.Mutex
	input      Input
	state      State
	epoch      uint64 // bumped whenever results are cleared
	applied    map[string]uint64
	result     *solver.Result
	preview    *solver.Preview
	validation *solver.Validation
	inFlight   bool
	observers  []Observer
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Service == nil {
		return nil, errors.New("solver service is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultConfidence
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	return &Orchestrator{
		svc:       opts.Service,
		delay:     opts.Debounce,
		threshold: opts.Threshold,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		timer:     debounce.New(opts.Clock),
		applied:   make(map[string]uint64),
	}, nil
}

// Subscribe registers an observer.
func (o *Orchestrator) Subscribe(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

// State returns the pipeline state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Result returns the committed result, or nil.
func (o *Orchestrator) Result() *solver.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneResult(o.result)
}

// Preview returns the latest preview, or nil.
func (o *Orchestrator) Preview() *solver.Preview {
	o.mu.Lock()
	defer o.mu.Unlock()
	return clonePreview(o.preview)
}

// Validation returns the latest validation report, or nil.
func (o *Orchestrator) Validation() *solver.Validation {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.validation == nil {
		return nil
	}
	v := *o.validation
	return &v
}

// Pending reports whether a debounced evaluation is scheduled.
func (o *Orchestrator) Pending() bool {
	return o.timer.Pending()
}

// Flush runs a pending debounced evaluation on the caller's goroutine.
func (o *Orchestrator) Flush() bool {
	return o.timer.Flush()
}

// Close cancels any pending evaluation.
func (o *Orchestrator) Close() {
	o.timer.Cancel()
}

// Update feeds a new point collection. Inputs older than the current one
// are ignored. Below MinPoints all results are cleared synchronously;
// otherwise, in automatic mode, the debounce timer is rearmed.
func (o *Orchestrator) Update(in Input) {
	o.mu.Lock()
	var events []Event

	switch {
	case in.ProjectID != o.input.ProjectID:
		o.resetLocked()
	case in.Revision < o.input.Revision:
		o.mu.Unlock()
		return
	case in.Revision == o.input.Revision && in.Automatic == o.input.Automatic:
		o.mu.Unlock()
		return
	}
	o.input = in

	switch {
	case len(in.Points) < MinPoints:
		o.timer.Cancel()
		o.resetLocked()
		events = append(events, Event{Kind: EventCleared, Revision: in.Revision})
	case in.Automatic:
		o.timer.Arm(o.delay, o.evaluate)
	default:
		o.timer.Cancel()
	}

	obs := o.observers
	o.mu.Unlock()
	publish(obs, events)
}

// resetLocked clears all results and invalidates in-flight responses.
func (o *Orchestrator) resetLocked() {
	o.epoch++
	o.result = nil
	o.preview = nil
	o.validation = nil
	o.state = Idle
}

// staleLocked reports whether a response of kind issued at epoch against
// rev must be discarded. Otherwise it records rev as applied.
func (o *Orchestrator) staleLocked(kind string, epoch, rev uint64) bool {
	if epoch != o.epoch || rev < o.applied[kind] {
		o.metrics.StaleDiscards.WithLabelValues(kind).Inc()
		o.logger.Debug("discarding stale solver response",
			zap.String("kind", kind), zap.Uint64("revision", rev))
		return true
	}
	o.applied[kind] = rev
	return false
}

// evaluate runs one automatic pipeline pass for the latest input.
func (o *Orchestrator) evaluate() {
	ctx := context.Background()

	o.mu.Lock()
	in, epoch := o.input, o.epoch
	if len(in.Points) < MinPoints || !in.Automatic {
		o.mu.Unlock()
		return
	}
	o.state = Validating
	o.mu.Unlock()

	go o.validate(ctx, in, epoch)

	o.mu.Lock()
	if o.epoch == epoch {
		o.state = PreviewPending
	}
	o.mu.Unlock()

	preview, err := o.svc.Preview(ctx, in.Points)
	o.record(requestKindPreview, err)

	o.mu.Lock()
	if o.staleLocked(requestKindPreview, epoch, in.Revision) {
		o.mu.Unlock()
		return
	}
	if err != nil {
		o.logger.Warn("preview request failed", zap.Error(err))
		o.state = o.settledStateLocked()
		o.mu.Unlock()
		return
	}
	o.preview = preview
	promote := preview.Ready && preview.Confidence() > o.threshold
	if !promote {
		o.state = AwaitingMoreData
	}
	obs := o.observers
	o.mu.Unlock()
	publish(obs, []Event{{Kind: EventPreview, Revision: in.Revision, Preview: clonePreview(preview)}})

	if !promote {
		return
	}
	o.metrics.Promotions.Inc()
	_, _ = o.compute(ctx, in, epoch)
}

// validate issues a validation request. Its outcome never affects the
// rest of the pipeline.
func (o *Orchestrator) validate(ctx context.Context, in Input, epoch uint64) {
	v, err := o.svc.Validate(ctx, in.Points)
	o.record(requestKindValidate, err)

	o.mu.Lock()
	if o.staleLocked(requestKindValidate, epoch, in.Revision) {
		o.mu.Unlock()
		return
	}
	if err != nil {
		o.mu.Unlock()
		o.logger.Warn("validation request failed", zap.Error(err))
		return
	}
	o.validation = v
	obs := o.observers
	o.mu.Unlock()

	vc := *v
	publish(obs, []Event{{Kind: EventValidated, Revision: in.Revision, Validation: &vc}})
}

// compute issues a confirmed computation and applies its outcome unless
// stale. A failure clears the committed result.
func (o *Orchestrator) compute(ctx context.Context, in Input, epoch uint64) (*solver.Result, error) {
	res, err := o.svc.Compute(ctx, in.Points)
	o.record(requestKindCompute, err)

	o.mu.Lock()
	if o.staleLocked(requestKindCompute, epoch, in.Revision) {
		o.mu.Unlock()
		return res, err
	}
	var ev Event
	if err != nil {
		o.logger.Warn("position computation failed", zap.Error(err))
		o.result = nil
		o.state = Idle
		ev = Event{Kind: EventFailed, Revision: in.Revision, Err: err}
	} else {
		o.result = res
		o.state = Committed
		ev = Event{Kind: EventCommitted, Revision: in.Revision, Result: cloneResult(res)}
	}
	obs := o.observers
	o.mu.Unlock()

	publish(obs, []Event{ev})
	return res, err
}

// Calculate runs a confirmed computation for the current points now,
// regardless of mode. Only one manual calculation may be in flight.
func (o *Orchestrator) Calculate(ctx context.Context) (*solver.Result, error) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return nil, ErrCalculationInFlight
	}
	in, epoch := o.input, o.epoch
	if len(in.Points) < MinPoints {
		o.mu.Unlock()
		return nil, ErrNotEnoughPoints
	}
	o.inFlight = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	return o.compute(ctx, in, epoch)
}

// settledStateLocked is the state after a pass that changed nothing.
func (o *Orchestrator) settledStateLocked() State {
	switch {
	case o.result != nil:
		return Committed
	case o.preview != nil:
		return AwaitingMoreData
	default:
		return Idle
	}
}

func (o *Orchestrator) record(kind string, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, solver.ErrService):
		outcome = "service_error"
	case err != nil:
		outcome = "error"
	}
	o.metrics.Requests.WithLabelValues(kind, outcome).Inc()
}

func publish(observers []Observer, events []Event) {
	for _, ev := range events {
		for _, obs := range observers {
			obs(ev)
		}
	}
}

func cloneResult(r *solver.Result) *solver.Result {
	if r == nil {
		return nil
	}
	c := *r
	c.Statistics = append([]byte(nil), r.Statistics...)
	if r.Statistics == nil {
		c.Statistics = nil
	}
	return &c
}

func clonePreview(p *solver.Preview) *solver.Preview {
	if p == nil {
		return nil
	}
	c := *p
	if p.Estimate != nil {
		e := *p.Estimate
		c.Estimate = &e
	}
	return &c
}
