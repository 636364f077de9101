package pipeline

import (
	"time"

	"parley/internal/stage"
)

// Summary reports the outcome of one run.
type Summary struct {
	RunID      string          `json:"run_id"`
	Steps      []StepRun       `json:"steps"`
	Succeeded  bool            `json:"succeeded"`
	Canceled   bool            `json:"canceled"`
	Warnings   []stage.Warning `json:"warnings"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

func (s *Summary) finalize(runs []StepRun) {
	s.Steps = runs
	s.Succeeded = len(runs) > 0
	s.Warnings = []stage.Warning{}
	for _, run := range runs {
		if !run.Status.Done() {
			s.Succeeded = false
		}
		s.Warnings = append(s.Warnings, run.Warnings...)
	}
}

// Step returns the record for name.
func (s Summary) Step(name string) (StepRun, bool) {
	for _, run := range s.Steps {
		if run.Name == name {
			return run, true
		}
	}
	return StepRun{}, false
}

// Failed returns the failed step records.
func (s Summary) Failed() []StepRun {
	var out []StepRun
	for _, run := range s.Steps {
		if run.Status == StatusFailed {
			out = append(out, run)
		}
	}
	return out
}

// Counts tallies steps by status.
func (s Summary) Counts() map[Status]int {
	counts := make(map[Status]int, 5)
	for _, run := range s.Steps {
		counts[run.Status]++
	}
	return counts
}
