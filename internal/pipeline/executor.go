package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"parley/internal/artifactcache"
	"parley/internal/logging"
	"parley/internal/services"
	"parley/internal/stage"
)

// ErrRunFailed is returned by Run when a requested step did not complete.
var ErrRunFailed = errors.New("pipeline run failed")

// Options tunes an Executor.
type Options struct {
	// Workers bounds how many steps execute at once.
	Workers int
	// DefaultRetries applies to steps that do not set their own.
	DefaultRetries int
	// Force removes declared outputs of the selected steps before the run
	// and ignores cached results. Fresh results are still cached.
	Force bool
	// Cache may be nil, which disables caching.
	Cache  *artifactcache.Cache
	Logger *slog.Logger
	// Now is the clock used for step timestamps (tests).
	Now func() time.Time
}

// Executor runs a validated definition.
type Executor struct {
	graph    *Graph
	registry *stage.Registry
	opts     Options
	logger   *slog.Logger
}

// NewExecutor validates def against reg and builds its graph, so malformed
// definitions and cycles are reported before any step runs.
func NewExecutor(def Definition, reg *stage.Registry, opts Options) (*Executor, error) {
	if reg == nil {
		return nil, errors.New("pipeline: stage registry is required")
	}
	if err := def.Validate(reg); err != nil {
		return nil, err
	}
	graph, err := BuildGraph(def.Steps)
	if err != nil {
		return nil, err
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.DefaultRetries < 0 {
		opts.DefaultRetries = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{
		graph:    graph,
		registry: reg,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "pipeline"),
	}, nil
}

// Graph exposes the dependency graph.
func (e *Executor) Graph() *Graph {
	return e.graph
}

type outcome struct {
	name        string
	fingerprint string
	cached      bool
	warnings    []stage.Warning
	err         error
}

// Run executes targets and their transitive dependencies; no targets runs
// every step. Cancelling ctx stops admission of new steps while in-flight
// steps finish; steps never admitted stay pending. The returned error is
// ctx.Err() after cancellation or wraps ErrRunFailed when a step failed.
func (e *Executor) Run(ctx context.Context, targets ...string) (Summary, error) {
	selected, err := e.graph.Closure(targets)
	if err != nil {
		return Summary{}, err
	}
	runID, ok := services.RunIDFromContext(ctx)
	if !ok {
		runID = uuid.NewString()
		ctx = services.WithRunID(ctx, runID)
	}
	logger := logging.WithContext(ctx, e.logger)

	if e.opts.Force {
		if err := e.cleanOutputs(logger, selected); err != nil {
			return Summary{}, err
		}
	}

	state := newRunState(e.graph, selected)
	summary := Summary{RunID: runID, StartedAt: e.opts.Now()}
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Int("steps", len(selected)),
		logging.Int("workers", e.opts.Workers),
		logging.Bool("force", e.opts.Force),
	)

	sem := semaphore.NewWeighted(int64(e.opts.Workers))
	outcomes := make(chan outcome, len(selected))
	done := ctx.Done()
	inflight := 0
	for {
		if !summary.Canceled && ctx.Err() != nil {
			summary.Canceled = true
		}
		if !summary.Canceled {
			for _, name := range state.runnable() {
				if !sem.TryAcquire(1) {
					break
				}
				state.admit(name)
				inflight++
				go func() {
					outcomes <- e.execute(ctx, state, name)
				}()
			}
		}
		if inflight == 0 {
			break
		}
		select {
		case out := <-outcomes:
			inflight--
			sem.Release(1)
			e.settle(ctx, logger, state, out)
		case <-done:
			done = nil
			logger.Warn("run canceled; waiting for in-flight steps",
				logging.String(logging.FieldEventType, "run_canceled"),
				logging.Int("in_flight", inflight),
			)
		}
	}

	summary.FinishedAt = e.opts.Now()
	summary.finalize(state.snapshot())
	logger.Info("run finished",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Bool("succeeded", summary.Succeeded),
		logging.Bool("canceled", summary.Canceled),
		logging.Int("warnings", len(summary.Warnings)),
		logging.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)

	switch {
	case summary.Canceled:
		return summary, fmt.Errorf("pipeline run canceled: %w", context.Cause(ctx))
	case !summary.Succeeded:
		failed := summary.Failed()
		return summary, fmt.Errorf("%w: %d of %d steps failed", ErrRunFailed, len(failed), len(summary.Steps))
	}
	return summary, nil
}

// execute runs on a worker goroutine. It never touches StepRun fields other
// than through runState.
func (e *Executor) execute(ctx context.Context, state *runState, name string) outcome {
	step, _ := e.graph.Step(name)
	out := outcome{name: name}
	params := e.registry.Resolve(step.Kind, step.Params)

	fingerprint, err := Fingerprint(step, params)
	if err != nil {
		// Failure is only reachable from running.
		if _, startErr := state.start(name, e.opts.Now()); startErr != nil {
			err = errors.Join(err, startErr)
		}
		out.err = err
		return out
	}
	out.fingerprint = fingerprint

	if entry, ok := e.lookup(ctx, name, fingerprint); ok {
		out.cached = true
		out.warnings = entry.Warnings
		return out
	}

	attempt, err := state.start(name, e.opts.Now())
	if err != nil {
		out.err = err
		return out
	}
	// In-flight steps run to completion even when the run is canceled.
	stepCtx := services.WithAttempt(services.WithStep(context.WithoutCancel(ctx), name), attempt)
	stepLogger := logging.WithContext(stepCtx, e.logger)
	stepLogger.Info("step started",
		logging.String(logging.FieldEventType, "step_start"),
		logging.String("kind", step.Kind),
	)

	handler, err := e.registry.Handler(step.Kind)
	if err != nil {
		out.err = err
		return out
	}
	result, err := handler.Execute(stepCtx, stage.Request{
		Step:    step.Name,
		Kind:    step.Kind,
		Inputs:  step.Inputs,
		Outputs: step.Outputs,
		Params:  params,
		Attempt: attempt,
	})
	if err == nil {
		err = verifyOutputs(step)
	}
	if err != nil {
		out.err = err
		return out
	}
	out.warnings = stampWarnings(name, result.Warnings)

	if e.opts.Cache != nil {
		e.store(stepCtx, stepLogger, step, fingerprint, &out)
	}
	return out
}

func (e *Executor) store(ctx context.Context, logger *slog.Logger, step Step, fingerprint string, out *outcome) {
	digests, err := artifactcache.DigestOutputs(step.Outputs)
	if err != nil {
		logging.WarnWithContext(logger, "cache store skipped", "cache_store_failed",
			logging.String(logging.FieldErrorHint, "the step will rerun next time"),
			logging.Error(err),
		)
		return
	}
	if e.opts.Force {
		// The forced run's outputs replace whatever the old entry recorded.
		if _, err := e.opts.Cache.Remove(ctx, fingerprint); err != nil {
			logger.Debug("cache entry not replaced", logging.Error(err))
		}
	}
	winner, stored, cacheErr := e.opts.Cache.Store(ctx, artifactcache.Entry{
		Fingerprint: fingerprint,
		Step:        step.Name,
		Outputs:     step.Outputs,
		Digests:     digests,
		Warnings:    out.warnings,
	})
	switch {
	case cacheErr != nil:
		logging.WarnWithContext(logger, "cache store failed", "cache_store_failed",
			logging.String(logging.FieldErrorHint, "the step will rerun next time"),
			logging.Error(cacheErr),
		)
	case !stored:
		logger.Debug("cache entry already present; keeping existing", logging.String("fingerprint", fingerprint))
		out.warnings = winner.Warnings
	}
}

func (e *Executor) lookup(ctx context.Context, name, fingerprint string) (artifactcache.Entry, bool) {
	if e.opts.Cache == nil || e.opts.Force {
		return artifactcache.Entry{}, false
	}
	// An admitted step settles its cache state even if the run is canceled.
	ctx = context.WithoutCancel(ctx)
	entry, found, err := e.opts.Cache.Lookup(ctx, fingerprint)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, e.logger), "cache lookup failed", "cache_lookup_failed",
			logging.String(logging.FieldStep, name),
			logging.String(logging.FieldImpact, "step runs without cache"),
			logging.Error(err),
		)
		return artifactcache.Entry{}, false
	}
	if !found {
		return artifactcache.Entry{}, false
	}
	if !entry.OutputsCurrent() {
		// Outputs were rewritten or removed since this entry was stored.
		if _, err := e.opts.Cache.Remove(ctx, fingerprint); err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, e.logger), "stale cache entry not removed", "cache_remove_failed",
				logging.String(logging.FieldStep, name),
				logging.Error(err),
			)
		}
		return artifactcache.Entry{}, false
	}
	return entry, true
}

// settle applies a worker outcome on the scheduling goroutine.
func (e *Executor) settle(ctx context.Context, logger *slog.Logger, state *runState, out outcome) {
	now := e.opts.Now()
	stepLogger := logger.With(logging.String(logging.FieldStep, out.name))

	if out.cached {
		if err := state.cached(out.name, out.fingerprint, out.warnings, now); err != nil {
			logging.ErrorWithContext(stepLogger, "state transition failed", "state_error", logging.Error(err))
			return
		}
		stepLogger.Info("step cached",
			logging.String(logging.FieldEventType, "step_cached"),
			logging.String("fingerprint", out.fingerprint),
		)
		return
	}

	if out.err == nil {
		if err := state.succeed(out.name, out.fingerprint, out.warnings, now); err != nil {
			logging.ErrorWithContext(stepLogger, "state transition failed", "state_error", logging.Error(err))
			return
		}
		stepLogger.Info("step completed",
			logging.String(logging.FieldEventType, "step_complete"),
			logging.Int("warnings", len(out.warnings)),
		)
		return
	}

	step, _ := e.graph.Step(out.name)
	maxAttempts := StepRetries(step, e.opts.DefaultRetries) + 1
	run, err := state.fail(out.name, out.fingerprint, out.err, maxAttempts, ctx.Err() != nil, now)
	if err != nil {
		logging.ErrorWithContext(stepLogger, "state transition failed", "state_error", logging.Error(err))
		return
	}
	if run.Status == StatusPending {
		stepLogger.Warn("step failed; retrying",
			logging.String(logging.FieldEventType, "step_retry"),
			logging.Int(logging.FieldAttempt, run.Attempts),
			logging.Int("max_attempts", maxAttempts),
			logging.String(logging.FieldKind, run.ErrorKind),
			logging.Error(out.err),
		)
		return
	}

	logging.ErrorWithContext(stepLogger, "step failed", "step_failure",
		logging.Int(logging.FieldAttempt, run.Attempts),
		logging.String(logging.FieldKind, run.ErrorKind),
		logging.Error(out.err),
	)
	for _, dependent := range e.graph.Dependents(out.name) {
		marked, err := state.failDependent(dependent, out.name, now)
		if err != nil {
			logging.ErrorWithContext(stepLogger, "state transition failed", "state_error", logging.Error(err))
			continue
		}
		if marked {
			stepLogger.Warn("dependent step failed",
				logging.String(logging.FieldEventType, "dependency_failed"),
				logging.String("dependent", dependent),
			)
		}
	}
}

func verifyOutputs(step Step) error {
	for _, out := range step.Outputs {
		if _, err := os.Stat(out); err != nil {
			return services.Wrap(services.ErrMissingArtifact, step.Kind, step.Name,
				fmt.Sprintf("declared output %s was not produced", out), nil)
		}
	}
	return nil
}

func stampWarnings(step string, warnings []stage.Warning) []stage.Warning {
	out := make([]stage.Warning, len(warnings))
	for i, w := range warnings {
		if w.Step == "" {
			w.Step = step
		}
		out[i] = w
	}
	return out
}

// cleanOutputs removes the declared outputs of the selected steps.
func (e *Executor) cleanOutputs(logger *slog.Logger, selected []string) error {
	for _, name := range selected {
		step, _ := e.graph.Step(name)
		for _, out := range step.Outputs {
			if err := os.RemoveAll(out); err != nil {
				return fmt.Errorf("clean output %s: %w", out, err)
			}
			logger.Debug("output removed", logging.String(logging.FieldStep, name), logging.String("path", out))
		}
	}
	return nil
}
