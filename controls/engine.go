package controls

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/flowworksio/hydronet-simulator/core"
	"github.com/flowworksio/hydronet-simulator/internal/logging"
	"github.com/flowworksio/hydronet-simulator/internal/observability"
)

// defaultMaxPasses caps the fixed-point iteration within one priority
// level. A healthy network converges in a handful of passes; hitting
// the cap means two controls are genuinely fighting over a target.
const defaultMaxPasses = 25

// Engine owns the registered controls and drives them through the
// per-step protocol: pre-solve check (backtrack collection) before the
// hydraulic solve, post-solve apply (priority-ordered execution with
// per-level fixed-point iteration) after it, and accept-step once the
// outer loop commits the step.
//
// The engine is strictly single-threaded: it is called from inside the
// owner's step loop and never overlaps the solver's writes.
type Engine struct {
	wn        *core.WaterNetwork
	log       logging.Logger
	metrics   *observability.ControlsCollector
	maxPasses int
	tracker   *ChangeTracker

	// controls in declaration order; byName for duplicate detection
	// and removal.
	controls []*Control
	byName   map[string]*Control

	// Mutations requested while PostSolveApply is running are queued
	// and applied only between priority levels, never inside a level's
	// fixed-point loop, to keep iteration order well-defined.
	inApply       bool
	pendingAdd    []*Control
	pendingRemove []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithCollector attaches Prometheus metrics.
func WithCollector(c *observability.ControlsCollector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithMaxPasses overrides the fixed-point iteration cap.
func WithMaxPasses(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxPasses = n
		}
	}
}

// WithChangeTolerance overrides the float comparison tolerance of the
// change tracker.
func WithChangeTolerance(tol float64) Option {
	return func(e *Engine) { e.tracker = NewChangeTracker(tol) }
}

func NewEngine(wn *core.WaterNetwork, opts ...Option) *Engine {
	e := &Engine{
		wn:        wn,
		log:       logging.Noop(),
		maxPasses: defaultMaxPasses,
		tracker:   NewChangeTracker(0),
		byName:    make(map[string]*Control),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a control. All validation happens here and in the
// control/condition/action constructors; once Register returns nil the
// control is fully installed (or, during PostSolveApply, fully queued
// for installation between priority levels).
func (e *Engine) Register(c *Control) error {
	if c == nil {
		return fmt.Errorf("%w: nil control", ErrBadControl)
	}
	if _, dup := e.byName[c.name]; dup {
		return fmt.Errorf("%w: %q", ErrControlExists, c.name)
	}
	for _, pending := range e.pendingAdd {
		if pending.name == c.name {
			return fmt.Errorf("%w: %q", ErrControlExists, c.name)
		}
	}
	for _, ref := range c.RequiredObjects() {
		if err := checkExists(e.wn, ref); err != nil {
			return fmt.Errorf("%w: control %q references %s: %v", ErrBadControl, c.name, ref, err)
		}
	}

	if e.inApply {
		e.pendingAdd = append(e.pendingAdd, c)
		return nil
	}
	e.install(c)
	return nil
}

// RegisterAll registers controls in order, stopping at the first
// failure.
func (e *Engine) RegisterAll(cs []*Control) error {
	for _, c := range cs {
		if err := e.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) install(c *Control) {
	// Prime the tracker with the true starting value of every action
	// target so the first mutation compares against reality.
	for _, lists := range [][]Action{c.thenActions, c.elseActions} {
		for _, a := range lists {
			ref, attr := a.Target()
			if v, err := readAttribute(e.wn, ref, attr); err == nil {
				e.tracker.Prime(ref, attr, v)
			}
		}
	}
	e.controls = append(e.controls, c)
	e.byName[c.name] = c
	e.metrics.SetRegisteredControls(len(e.controls))
}

// Deregister removes a control by name. During PostSolveApply the
// removal is queued and applied between priority levels.
func (e *Engine) Deregister(name string) error {
	if _, ok := e.byName[name]; !ok {
		return fmt.Errorf("%w: %q", ErrControlNotFound, name)
	}
	if e.inApply {
		e.pendingRemove = append(e.pendingRemove, name)
		return nil
	}
	e.remove(name)
	return nil
}

func (e *Engine) remove(name string) {
	delete(e.byName, name)
	for i, c := range e.controls {
		if c.name == name {
			e.controls = append(e.controls[:i], e.controls[i+1:]...)
			break
		}
	}
	e.metrics.SetRegisteredControls(len(e.controls))
}

func (e *Engine) flushPending(ctx context.Context) {
	for _, name := range e.pendingRemove {
		if _, ok := e.byName[name]; ok {
			e.remove(name)
			e.log.Debug(ctx, "deferred control removal applied", logging.String("control", name))
		}
	}
	e.pendingRemove = e.pendingRemove[:0]
	for _, c := range e.pendingAdd {
		e.install(c)
		e.log.Debug(ctx, "deferred control registration applied", logging.String("control", c.name))
	}
	e.pendingAdd = e.pendingAdd[:0]
}

// Controls returns the registered controls in declaration order.
func (e *Engine) Controls() []*Control {
	out := make([]*Control, len(e.controls))
	copy(out, e.controls)
	return out
}

// ControlsReferencing returns the controls whose condition or actions
// touch the named element.
func (e *Engine) ControlsReferencing(elementName string) []*Control {
	var out []*Control
	for _, c := range e.controls {
		if c.References(elementName) {
			out = append(out, c)
		}
	}
	return out
}

// ValidateRemoval fails when controls still depend on the element.
// Callers that forbid automatic cleanup use this before removing an
// element from the network.
func (e *Engine) ValidateRemoval(elementName string) error {
	deps := e.ControlsReferencing(elementName)
	if len(deps) == 0 {
		return nil
	}
	names := make([]string, len(deps))
	for i, c := range deps {
		names[i] = c.name
	}
	sort.Strings(names)
	return fmt.Errorf("%w: %q referenced by %v", ErrDependentControls, elementName, names)
}

// RemoveDependentControls drops every control referencing the element,
// warning per control, and returns the removed names. This is the
// default policy when an element leaves the network.
func (e *Engine) RemoveDependentControls(ctx context.Context, elementName string) []string {
	deps := e.ControlsReferencing(elementName)
	removed := make([]string, 0, len(deps))
	for _, c := range deps {
		e.log.Warn(ctx, "removing control with vanishing element reference",
			logging.String("control", c.name),
			logging.String("element", elementName))
		if err := e.Deregister(c.name); err == nil {
			removed = append(removed, c.name)
		}
	}
	return removed
}

// PreSolveCheck evaluates every condition before the hydraulic solve
// and reduces the backtrack hints of controls whose condition just
// became true to a single recommended step shrink: the crossing-type
// hint closest to zero. Conditions that fire and stay fired (>, <) do
// not request exact alignment and are ignored here. The caller owns
// the actual re-stepping.
func (e *Engine) PreSolveCheck(ctx context.Context) (time.Duration, bool, error) {
	var (
		best  float64
		found bool
	)
	for _, c := range e.controls {
		truth, err := c.condition.Evaluate()
		if err != nil {
			return 0, false, fmt.Errorf("control %q: %w", c.name, err)
		}
		if !truth || c.lastTruth {
			continue
		}
		bt, ok := c.condition.Backtrack()
		if !ok || bt >= 0 {
			continue
		}
		if !found || bt > best {
			best = bt
			found = true
		}
		e.log.Debug(ctx, "condition crossed between steps",
			logging.String("control", c.name),
			logging.Any("backtrack_s", bt))
	}
	if !found {
		return 0, false, nil
	}
	e.metrics.BacktrackRecommended()
	return time.Duration(best * float64(time.Second)), true, nil
}

// PostSolveApply executes the fired controls after the hydraulic
// solve, one priority level at a time. Within a level, actions are
// applied in declaration order, conditions are re-evaluated, and the
// level repeats until the change tracker reports a fixed point. The
// pass cap is a hard stop: exceeding it aborts the step with a
// ConvergenceError rather than silently picking a winner.
//
// The returned bool reports whether any (target, attribute) pair
// changed at all, so the caller knows to re-solve.
func (e *Engine) PostSolveApply(ctx context.Context) (bool, error) {
	e.inApply = true
	defer func() { e.inApply = false }()

	anyChange := false
	for p := PriorityVeryLow; p < numPriorities; p++ {
		passes := 0
		for {
			if passes >= e.maxPasses {
				e.metrics.ConvergenceFailure()
				cerr := &ConvergenceError{
					Priority:    p,
					Passes:      passes,
					Oscillating: e.tracker.ChangedPairs(),
				}
				e.log.Error(ctx, "control fixed point not reached",
					logging.String("priority", p.String()),
					logging.Int("passes", passes),
					logging.Any("oscillating", cerr.Oscillating))
				return anyChange, cerr
			}

			e.tracker.BeginPass()
			if err := e.applyLevel(ctx, p); err != nil {
				return anyChange, err
			}
			passes++
			if !e.tracker.PassChanged() {
				break
			}
			anyChange = true
		}
		e.metrics.ObservePasses(p.String(), float64(passes))
		e.flushPending(ctx)
	}
	return anyChange, nil
}

// applyLevel runs one pass over the controls of a single priority
// level, in declaration order.
func (e *Engine) applyLevel(ctx context.Context, p Priority) error {
	for _, c := range e.controls {
		if c.priority != p {
			continue
		}
		truth, err := c.condition.Evaluate()
		if err != nil {
			return fmt.Errorf("control %q: %w", c.name, err)
		}

		var actions []Action
		switch {
		case truth:
			actions = c.thenActions
			c.firedThen = true
		case len(c.elseActions) > 0:
			actions = c.elseActions
			c.firedThen = false
		default:
			continue
		}

		fired := false
		for _, a := range actions {
			ref, attr, value, err := a.Run()
			if err != nil {
				return fmt.Errorf("control %q action %s: %w", c.name, a, err)
			}
			if e.tracker.Observe(ref, attr, value) {
				fired = true
				e.log.Debug(ctx, "control action changed state",
					logging.String("control", c.name),
					logging.String("target", ref.String()),
					logging.String("attribute", string(attr)),
					logging.Any("value", value))
			}
		}
		if fired {
			e.metrics.ControlFired(p.String())
		}
	}
	return nil
}

// AcceptStep commits the step: every condition's truth is remembered
// for newly-true detection and every condition snapshots its previous
// value. Called by the outer loop exactly once per accepted step.
func (e *Engine) AcceptStep(ctx context.Context) error {
	for _, c := range e.controls {
		truth, err := c.condition.Evaluate()
		if err != nil {
			return fmt.Errorf("control %q: %w", c.name, err)
		}
		c.lastTruth = truth
		if err := c.condition.AcceptStep(); err != nil {
			return fmt.Errorf("control %q: %w", c.name, err)
		}
	}
	return nil
}
