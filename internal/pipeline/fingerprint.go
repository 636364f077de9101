package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"parley/internal/fileutil"
	"parley/internal/services"
	"parley/internal/stage"
)

// fingerprintVersion changes whenever the hashed layout changes so older
// cache entries stop matching.
const fingerprintVersion = "parley-fingerprint-v1"

// Fingerprint identifies one execution of step: its name, kind, resolved
// parameters, declared outputs, and the content of every input. Inputs are
// hashed in declared order for their roles and again sorted by path for
// their content. A missing input fails with ErrMissingArtifact.
func Fingerprint(step Step, params stage.Params) (string, error) {
	canonical, err := canonicalParams(params)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "pipeline", "fingerprint",
			fmt.Sprintf("step %s parameters", step.Name), err)
	}

	h := sha256.New()
	field(h, "version", fingerprintVersion)
	field(h, "name", step.Name)
	field(h, "kind", step.Kind)
	field(h, "params", canonical)
	for _, out := range step.Outputs {
		field(h, "output", out)
	}
	for _, in := range step.Inputs {
		field(h, "input", in)
	}

	sorted := slices.Clone(step.Inputs)
	slices.Sort(sorted)
	for _, in := range sorted {
		if _, err := os.Stat(in); err != nil {
			return "", services.Wrap(services.ErrMissingArtifact, "pipeline", "fingerprint",
				fmt.Sprintf("step %s input %s", step.Name, in), err)
		}
		digest, err := fileutil.HashPath(in)
		if err != nil {
			return "", services.Wrap(services.ErrMissingArtifact, "pipeline", "fingerprint",
				fmt.Sprintf("hash input %s", in), err)
		}
		field(h, "content", in+"="+digest)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func field(w io.Writer, key, value string) {
	fmt.Fprintf(w, "%s\x00%s\x00", key, value)
}

// canonicalParams relies on encoding/json sorting map keys.
func canonicalParams(params stage.Params) (string, error) {
	if params == nil {
		params = stage.Params{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
