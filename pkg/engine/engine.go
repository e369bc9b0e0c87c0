// Package engine executes discrete-time simulations: it expands parameter
// sweeps, plans the (simulation, run, subset) product into independent units
// of work, runs each unit through the timestep/substep pipeline and
// concatenates the resulting trajectories in deterministic plan order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/veldtlabs/cascade/pkg/concurrency"
	"github.com/veldtlabs/cascade/pkg/simulation"
	"github.com/veldtlabs/cascade/pkg/state"
	"github.com/veldtlabs/cascade/pkg/sweep"
)

// Engine orchestrates batches of simulations. Units of work are independent:
// they share the read-only models but write disjoint trajectories, so they
// run in parallel bounded by a concurrency limiter. The zero configuration
// (New with no options) logs nothing and sizes the limiter from the
// environment.
type Engine struct {
	logger  *zap.Logger
	tracer  trace.Tracer
	limiter *concurrency.Limiter
	mode    concurrency.ExecutionMode
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger used by the engine.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used to record one span per unit of work.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithMaxConcurrent bounds how many units of work may execute at once.
func WithMaxConcurrent(n int) Option {
	return func(e *Engine) {
		e.limiter = concurrency.NewLimiter(n)
	}
}

// WithSequential forces units to execute one at a time in plan order.
// Results are identical to parallel execution; this exists for debugging
// and for callers that need bounded memory.
func WithSequential() Option {
	return func(e *Engine) {
		e.mode = concurrency.ModeSequential
	}
}

// New creates an Engine. Defaults: no-op logger, the globally registered
// tracer provider, and concurrency limits from concurrency.LoadConfig.
func New(opts ...Option) *Engine {
	cfg := concurrency.LoadConfig()
	e := &Engine{
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("cascade/engine"),
		limiter: concurrency.NewLimiter(cfg.MaxConcurrent),
		mode:    cfg.Mode,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// unit is one independent (simulation, run, subset) execution.
type unit struct {
	id           uuid.UUID
	simulation   int
	run          int
	subset       int
	timesteps    int
	initialState state.Substate
	blocks       []simulation.Block
	params       state.ParameterSet
}

// Run executes every configured simulation and returns the flattened sequence
// of substates across all runs, subsets and timesteps, ordered by simulation,
// then run, then subset, regardless of parallel completion order.
//
// A failing unit aborts only itself: its error is reported (aggregated into
// the returned error with full run coordinates) while every other unit's
// results are preserved in the output.
func (e *Engine) Run(ctx context.Context, sims []simulation.Simulation) ([]state.Substate, error) {
	units, err := planUnits(sims)
	if err != nil {
		return nil, err
	}

	e.logger.Info("starting batch",
		zap.Int("simulations", len(sims)),
		zap.Int("units", len(units)),
		zap.String("mode", string(e.mode)))

	trajectories := make([]state.Trajectory, len(units))
	failures := make([]error, len(units))

	if e.mode == concurrency.ModeSequential {
		for i := range units {
			trajectories[i], failures[i] = e.runUnit(ctx, &units[i])
		}
	} else {
		var wg sync.WaitGroup
		for i := range units {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := e.limiter.Acquire(ctx); err != nil {
					failures[i] = fmt.Errorf("unit %s: %w", units[i].id, err)
					return
				}
				defer e.limiter.Release()
				trajectories[i], failures[i] = e.runUnit(ctx, &units[i])
			}(i)
		}
		wg.Wait()
	}

	var flattened []state.Substate
	var batchErr error
	for i := range units {
		if failures[i] != nil {
			batchErr = multierr.Append(batchErr, failures[i])
			continue
		}
		flattened = append(flattened, trajectories[i].Flatten()...)
	}

	metrics := e.limiter.GetMetrics()
	e.logger.Info("batch complete",
		zap.Int("units", len(units)),
		zap.Int("failed", len(multierr.Errors(batchErr))),
		zap.Int("substates", len(flattened)),
		zap.Int64("peak_concurrent", metrics.PeakConcurrent))

	return flattened, batchErr
}

// SingleRun executes one run directly, for callers that manage the
// simulation/run/subset loop themselves. The returned trajectory has
// timesteps+1 entries; entry 0 wraps the stamped initial state.
func (e *Engine) SingleRun(ctx context.Context, simulationIndex, timesteps, runIndex, subsetIndex int, initialState state.Substate, blocks []simulation.Block, params state.ParameterSet) (state.Trajectory, error) {
	if timesteps < 0 {
		return nil, errors.New("timesteps must not be negative")
	}
	u := unit{
		id:           uuid.New(),
		simulation:   simulationIndex,
		run:          runIndex,
		subset:       subsetIndex,
		timesteps:    timesteps,
		initialState: initialState,
		blocks:       blocks,
		params:       params,
	}
	return e.runUnit(ctx, &u)
}

// planUnits expands the batch into its unit product. Each simulation's
// parameter sweep is expanded once; with a non-empty sweep every run fans out
// into one unit per subset, otherwise a single unit carries the raw params.
func planUnits(sims []simulation.Simulation) ([]unit, error) {
	var units []unit
	for simIndex, sim := range sims {
		if err := sim.Validate(); err != nil {
			return nil, fmt.Errorf("simulation %d: %w", simIndex, err)
		}
		sets := sweep.Generate(sim.Model.Params)
		for run := 0; run < sim.Runs; run++ {
			if len(sets) > 0 {
				for subset, set := range sets {
					units = append(units, unit{
						id:           uuid.New(),
						simulation:   simIndex,
						run:          run,
						subset:       subset,
						timesteps:    sim.Timesteps,
						initialState: sim.Model.InitialState,
						blocks:       sim.Model.Blocks,
						params:       set,
					})
				}
			} else {
				units = append(units, unit{
					id:           uuid.New(),
					simulation:   simIndex,
					run:          run,
					timesteps:    sim.Timesteps,
					initialState: sim.Model.InitialState,
					blocks:       sim.Model.Blocks,
					params:       rawParams(sim.Model.Params),
				})
			}
		}
	}
	return units, nil
}

// rawParams exposes the unswept params mapping to user functions when no
// sweep is configured, wrapping each candidate sequence as a tuple value.
func rawParams(params map[string][]cty.Value) state.ParameterSet {
	set := make(state.ParameterSet, len(params))
	for name, seq := range params {
		if len(seq) == 0 {
			set[name] = cty.EmptyTupleVal
			continue
		}
		set[name] = cty.TupleVal(seq)
	}
	return set
}

// runUnit executes one unit with logging and one tracing span.
func (e *Engine) runUnit(ctx context.Context, u *unit) (state.Trajectory, error) {
	ctx, span := e.tracer.Start(ctx, "engine.run_unit",
		trace.WithAttributes(
			attribute.String("unit.id", u.id.String()),
			attribute.Int("simulation.index", u.simulation),
			attribute.Int("run.index", u.run),
			attribute.Int("subset.index", u.subset),
			attribute.Int("timesteps", u.timesteps),
		))
	defer span.End()

	e.logger.Debug("starting run",
		zap.String("unitID", u.id.String()),
		zap.Int("simulation", u.simulation),
		zap.Int("run", u.run),
		zap.Int("subset", u.subset),
		zap.Int("timesteps", u.timesteps))

	rc := &runContext{
		simulation:   u.simulation,
		run:          u.run,
		subset:       u.subset,
		initialState: u.initialState,
		blocks:       u.blocks,
		params:       u.params,
	}

	start := time.Now()
	trajectory, err := rc.execute(ctx, u.timesteps)
	duration := time.Since(start)
	span.SetAttributes(attribute.Int64("run.duration_ms", duration.Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("run failed",
			zap.String("unitID", u.id.String()),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, err
	}

	span.SetStatus(codes.Ok, "run completed")
	e.logger.Debug("run completed",
		zap.String("unitID", u.id.String()),
		zap.Duration("duration", duration),
		zap.Int("timestepEntries", len(trajectory)))
	return trajectory, nil
}
