package stages

import (
	"fmt"
	"os"
	"path/filepath"

	"parley/internal/services"
	"parley/internal/stage"
)

// Kind names registered by NewRegistry.
const (
	KindCommand    = "command"
	KindSegments   = "segments"
	KindSplit      = "split"
	KindTranscribe = "transcribe"
	KindAlign      = "align"
)

func requireIO(req stage.Request, inputs, outputs int) error {
	if len(req.Inputs) < inputs {
		return services.Wrap(services.ErrConfiguration, req.Kind, "inputs",
			fmt.Sprintf("step %s needs %d input(s), has %d", req.Step, inputs, len(req.Inputs)), nil)
	}
	if len(req.Outputs) < outputs {
		return services.Wrap(services.ErrConfiguration, req.Kind, "outputs",
			fmt.Sprintf("step %s needs %d output(s), has %d", req.Step, outputs, len(req.Outputs)), nil)
	}
	return nil
}

func ensureParent(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}
