package pipeline

import (
	"fmt"
	"sync"
	"time"

	"parley/internal/services"
	"parley/internal/stage"
)

// runState owns every StepRun of one Executor.Run call. Workers and the
// scheduling loop both go through its methods.
type runState struct {
	mu       sync.Mutex
	graph    *Graph
	order    []string
	runs     map[string]*StepRun
	admitted map[string]bool
}

func newRunState(graph *Graph, selected []string) *runState {
	s := &runState{
		graph:    graph,
		order:    selected,
		runs:     make(map[string]*StepRun, len(selected)),
		admitted: make(map[string]bool, len(selected)),
	}
	for _, name := range selected {
		step, _ := graph.Step(name)
		s.runs[name] = &StepRun{
			Name:    name,
			Kind:    step.Kind,
			Status:  StatusPending,
			Outputs: step.Outputs,
		}
	}
	return s
}

func (s *runState) transitionLocked(name string, ev event, guard retryGuard) (*StepRun, error) {
	run, ok := s.runs[name]
	if !ok {
		return nil, services.Wrap(services.ErrInvariant, "pipeline", "state", fmt.Sprintf("unknown step %s", name), nil)
	}
	next, err := nextStatus(run.Status, ev, guard)
	if err != nil {
		return run, fmt.Errorf("step %s: %w", name, err)
	}
	run.Status = next
	return run, nil
}

// runnable lists pending, unadmitted steps whose dependencies are all done,
// in topological order.
func (s *runState) runnable() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, name := range s.order {
		run := s.runs[name]
		if run.Status != StatusPending || s.admitted[name] {
			continue
		}
		ready := true
		for _, dep := range s.graph.Dependencies(name) {
			if d, ok := s.runs[dep]; !ok || !d.Status.Done() {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, name)
		}
	}
	return out
}

func (s *runState) admit(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitted[name] = true
}

// start moves the step to running and returns the attempt number.
func (s *runState) start(name string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.transitionLocked(name, eventStart, retryGuard{})
	if err != nil {
		return 0, err
	}
	run.Attempts++
	run.StartedAt = now
	run.FinishedAt = time.Time{}
	run.err = nil
	run.Error = ""
	run.ErrorKind = ""
	return run.Attempts, nil
}

func (s *runState) cached(name, fingerprint string, warnings []stage.Warning, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.transitionLocked(name, eventCacheHit, retryGuard{})
	if err != nil {
		return err
	}
	run.Fingerprint = fingerprint
	run.Warnings = warnings
	run.StartedAt, run.FinishedAt = now, now
	return nil
}

func (s *runState) succeed(name, fingerprint string, warnings []stage.Warning, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.transitionLocked(name, eventSuccess, retryGuard{})
	if err != nil {
		return err
	}
	run.Fingerprint = fingerprint
	run.Warnings = warnings
	run.FinishedAt = now
	return nil
}

// fail records a failed attempt and applies the retry transition. It returns
// the resulting status: pending when the step will be attempted again.
func (s *runState) fail(name, fingerprint string, cause error, maxAttempts int, canceled bool, now time.Time) (StepRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.transitionLocked(name, eventFailure, retryGuard{})
	if err != nil {
		return StepRun{}, err
	}
	run.Fingerprint = fingerprint
	run.FinishedAt = now
	run.err = cause
	run.Error = cause.Error()
	run.ErrorKind = services.Kind(cause)

	guard := retryGuard{
		attempts:    run.Attempts,
		maxAttempts: maxAttempts,
		retryable:   services.Retryable(cause),
		canceled:    canceled,
	}
	if run, err = s.transitionLocked(name, eventRetry, guard); err != nil {
		return StepRun{}, err
	}
	if run.Status == StatusPending {
		s.admitted[name] = false
	}
	return *run, nil
}

// failDependent marks a pending step failed because upstream failed. It
// reports false when the step is not part of this run or already settled.
func (s *runState) failDependent(name, upstream string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[name]
	if !ok || run.Status != StatusPending {
		return false, nil
	}
	if _, err := s.transitionLocked(name, eventDependencyFailed, retryGuard{}); err != nil {
		return false, err
	}
	run.err = services.Wrap(services.ErrDependencyFailed, "pipeline", name,
		fmt.Sprintf("dependency %s failed", upstream), nil)
	run.Error = run.err.Error()
	run.ErrorKind = services.Kind(run.err)
	run.FinishedAt = now
	return true, nil
}

func (s *runState) snapshot() []StepRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StepRun, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.runs[name])
	}
	return out
}
