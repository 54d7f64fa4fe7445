// Package sim drives the simulation step loop: hydraulic solve,
// control evaluation, event-aligned stepping, and telemetry fan-out.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowworksio/hydronet-simulator/controls"
	"github.com/flowworksio/hydronet-simulator/core"
	"github.com/flowworksio/hydronet-simulator/internal/logging"
	"github.com/flowworksio/hydronet-simulator/internal/observability"
	"github.com/flowworksio/hydronet-simulator/timectrl"
)

// Solver computes hydraulic state for the current link statuses and
// integrates tank levels over dtSeconds. A zero dt recomputes heads and
// flows without moving storage, which is how the runner refreshes
// state after controls change link statuses mid-step.
type Solver interface {
	Solve(wn *core.WaterNetwork, dtSeconds int64) error
}

// SnapshotPublisher receives a state snapshot after every accepted
// step. Implementations must not block the step loop.
type SnapshotPublisher interface {
	Publish(Snapshot)
}

// resolveLimit bounds the apply/re-solve cycle within one step. Status
// changes feed back into hydraulics, which can fire more controls; a
// handful of rounds settles any physical network.
const resolveLimit = 10

var errUnsettled = errors.New("step did not settle within the re-solve limit")

// StepRunner owns one simulation run: the network, the clock, the
// control engine and the solver, advancing them together through the
// step protocol.
type StepRunner struct {
	wn     *core.WaterNetwork
	clock  *timectrl.StepClock
	engine *controls.Engine
	solver Solver

	log       logging.Logger
	metrics   *observability.ControlsCollector
	publisher SnapshotPublisher
	tracer    trace.Tracer

	step int64 // accepted step count
}

// RunnerOption configures a StepRunner.
type RunnerOption func(*StepRunner)

func WithRunnerLogger(l logging.Logger) RunnerOption {
	return func(r *StepRunner) {
		if l != nil {
			r.log = l
		}
	}
}

func WithRunnerCollector(c *observability.ControlsCollector) RunnerOption {
	return func(r *StepRunner) { r.metrics = c }
}

func WithPublisher(p SnapshotPublisher) RunnerOption {
	return func(r *StepRunner) { r.publisher = p }
}

func NewStepRunner(wn *core.WaterNetwork, clock *timectrl.StepClock, engine *controls.Engine, solver Solver, opts ...RunnerOption) (*StepRunner, error) {
	if wn == nil || clock == nil || engine == nil || solver == nil {
		return nil, fmt.Errorf("step runner requires network, clock, engine and solver")
	}
	r := &StepRunner{
		wn:     wn,
		clock:  clock,
		engine: engine,
		solver: solver,
		log:    logging.Noop(),
		tracer: otel.Tracer("hydronet/sim"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Step advances the simulation by at most dtSeconds, landing earlier
// when a condition crossed inside the step. It returns the seconds
// actually applied.
//
// The protocol per step:
//
//  1. trial-advance the clock by the full dt and run the pre-solve
//     check; a backtrack recommendation rewinds the clock onto the
//     crossing instant
//  2. solve hydraulics over the applied dt
//  3. post-solve apply; when controls changed link state, re-solve
//     with dt 0 and apply again until settled
//  4. accept the step (commit condition memory and truth flags)
func (r *StepRunner) Step(ctx context.Context, dtSeconds int64) (int64, error) {
	if dtSeconds <= 0 {
		return 0, fmt.Errorf("non-positive step %d", dtSeconds)
	}

	ctx, log := logging.WithStepLogger(ctx, r.log, r.step)
	ctx, span := r.tracer.Start(ctx, "sim.step",
		trace.WithAttributes(
			attribute.Int64("sim.time_s", r.clock.Now()),
			attribute.Int64("sim.dt_s", dtSeconds),
		))
	defer span.End()

	applied := dtSeconds
	r.clock.Advance(dtSeconds)

	shrink, ok, err := r.engine.PreSolveCheck(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		back := int64(math.Round(-shrink.Seconds()))
		if back >= dtSeconds {
			back = dtSeconds - 1
		}
		if back > 0 {
			r.clock.Rewind(back)
			applied = dtSeconds - back
			span.SetAttributes(attribute.Int64("sim.backtrack_s", back))
			log.Info(ctx, "step shrunk onto condition crossing",
				logging.Int64("requested_s", dtSeconds),
				logging.Int64("applied_s", applied))
		}
	}

	if err := r.solver.Solve(r.wn, applied); err != nil {
		return 0, fmt.Errorf("hydraulic solve: %w", err)
	}

	settled := false
	for round := 0; round < resolveLimit; round++ {
		changed, err := r.engine.PostSolveApply(ctx)
		if err != nil {
			return 0, err
		}
		if !changed {
			settled = true
			break
		}
		// Controls moved link state; refresh hydraulics without
		// re-integrating storage.
		if err := r.solver.Solve(r.wn, 0); err != nil {
			return 0, fmt.Errorf("re-solve after controls: %w", err)
		}
	}
	if !settled {
		return 0, fmt.Errorf("%w (time %d)", errUnsettled, r.clock.Now())
	}

	if err := r.engine.AcceptStep(ctx); err != nil {
		return 0, err
	}
	r.step++

	nodes, links := r.wn.GetAllNodes(), r.wn.GetAllLinks()
	r.metrics.SetNetworkCounts(len(nodes), len(links))
	if r.publisher != nil {
		r.publisher.Publish(r.snapshot(nodes, links))
	}
	log.Debug(ctx, "step accepted",
		logging.Int64("sim_time_s", r.clock.Now()),
		logging.Int64("applied_s", applied))
	return applied, nil
}

// Run advances the simulation until durationSeconds of simulated time
// have elapsed, stepping by stepSeconds and landing on condition
// crossings along the way.
func (r *StepRunner) Run(ctx context.Context, durationSeconds, stepSeconds int64) error {
	if stepSeconds <= 0 {
		return fmt.Errorf("non-positive step %d", stepSeconds)
	}
	end := r.clock.Now() + durationSeconds
	for r.clock.Now() < end {
		if err := ctx.Err(); err != nil {
			return err
		}
		dt := stepSeconds
		if remaining := end - r.clock.Now(); remaining < dt {
			dt = remaining
		}
		if _, err := r.Step(ctx, dt); err != nil {
			return err
		}
	}
	return nil
}

// Steps returns the number of accepted steps so far.
func (r *StepRunner) Steps() int64 { return r.step }

func (r *StepRunner) snapshot(nodes []*core.Node, links []*core.Link) Snapshot {
	snap := Snapshot{
		Step:      r.step,
		TimeS:     r.clock.Now(),
		ClockTime: r.clock.ClockTime(),
		Day:       r.clock.Day(),
		Nodes:     make([]NodeState, 0, len(nodes)),
		Links:     make([]LinkState, 0, len(links)),
	}
	for _, n := range nodes {
		snap.Nodes = append(snap.Nodes, NodeState{
			ID:    n.ID,
			Type:  string(n.Type),
			HeadM: n.HeadM,
			Level: n.LevelM,
		})
	}
	for _, l := range links {
		snap.Links = append(snap.Links, LinkState{
			ID:         l.ID,
			Type:       string(l.Type),
			Status:     l.Status().String(),
			UserStatus: l.UserStatus.String(),
			FlowM3s:    l.FlowM3s,
		})
	}
	return snap
}

// Snapshot is the per-step state published to telemetry consumers.
type Snapshot struct {
	Step      int64       `json:"Step"`
	TimeS     int64       `json:"TimeS"`
	ClockTime int64       `json:"ClockTime"`
	Day       int         `json:"Day"`
	Nodes     []NodeState `json:"Nodes"`
	Links     []LinkState `json:"Links"`
}

type NodeState struct {
	ID    string  `json:"ID"`
	Type  string  `json:"Type"`
	HeadM float64 `json:"HeadM"`
	Level float64 `json:"LevelM"`
}

type LinkState struct {
	ID         string  `json:"ID"`
	Type       string  `json:"Type"`
	Status     string  `json:"Status"`
	UserStatus string  `json:"UserStatus"`
	FlowM3s    float64 `json:"FlowM3s"`
}
