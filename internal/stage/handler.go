package stage

import "context"

// Handler describes the contract the pipeline executor needs from each stage kind.
type Handler interface {
	Execute(context.Context, Request) (Result, error)
	HealthCheck(context.Context) Health
}

// Request is one invocation of a step.
type Request struct {
	Step    string
	Kind    string
	Inputs  []string
	Outputs []string
	Params  Params
	Attempt int
}

// Result carries what a successful step reports besides its output files.
type Result struct {
	Warnings []Warning `json:"warnings,omitempty"`
}

// Warning kinds.
const (
	WarningUnattributedSpeech = "unattributed_speech"
	WarningSkippedSlice       = "skipped_slice"
	WarningClampedFragment    = "clamped_fragment"
)

// Warning is a non-fatal finding surfaced in the run summary. Start and End
// locate it on the recording timeline when applicable.
type Warning struct {
	Step   string  `json:"step"`
	Kind   string  `json:"kind"`
	Start  float64 `json:"start,omitempty"`
	End    float64 `json:"end,omitempty"`
	Detail string  `json:"detail,omitempty"`
}
