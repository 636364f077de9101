package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"parley/internal/services"
	"parley/internal/stage"
)

// Step is one node of the pipeline. Paths are absolute once the definition
// has been resolved against the workspace.
type Step struct {
	Name    string       `toml:"name" validate:"required,stepname"`
	Kind    string       `toml:"kind" validate:"required"`
	Inputs  []string     `toml:"inputs" validate:"dive,required"`
	Outputs []string     `toml:"outputs" validate:"min=1,dive,required"`
	Params  stage.Params `toml:"params"`
	// Retries overrides the configured default when set.
	Retries *int `toml:"retries" validate:"omitempty,min=0"`
}

// Definition is an ordered list of steps.
type Definition struct {
	Steps []Step `toml:"steps" validate:"min=1,dive"`
}

var stepNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("stepname", func(fl validator.FieldLevel) bool {
		return stepNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// LoadDefinition decodes a TOML pipeline definition and resolves its paths
// against workspace.
func LoadDefinition(path, workspace string) (Definition, error) {
	file, err := os.Open(path)
	if err != nil {
		return Definition{}, fmt.Errorf("open pipeline definition: %w", err)
	}
	defer file.Close()

	var def Definition
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&def); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Definition{}, services.Wrap(services.ErrConfiguration, "pipeline", "definition",
				fmt.Sprintf("unknown keys in %s:\n%s", path, strict.String()), nil)
		}
		return Definition{}, services.Wrap(services.ErrConfiguration, "pipeline", "definition", path, err)
	}
	def.Resolve(workspace)
	return def, nil
}

// Resolve anchors relative input and output paths at workspace.
func (d *Definition) Resolve(workspace string) {
	for i := range d.Steps {
		d.Steps[i].Name = strings.TrimSpace(d.Steps[i].Name)
		d.Steps[i].Kind = strings.TrimSpace(d.Steps[i].Kind)
		d.Steps[i].Inputs = resolvePaths(workspace, d.Steps[i].Inputs)
		d.Steps[i].Outputs = resolvePaths(workspace, d.Steps[i].Outputs)
	}
}

func resolvePaths(workspace string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			// Left blank so validation rejects it; Clean would turn it into ".".
			out = append(out, p)
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(workspace, p)
		}
		out = append(out, filepath.Clean(p))
	}
	return out
}

// Validate checks step structure, name uniqueness, and that every kind is
// registered.
func (d Definition) Validate(reg *stage.Registry) error {
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return services.Wrap(services.ErrConfiguration, "pipeline", "definition", formatValidationErrors(verrs), nil)
		}
		return services.Wrap(services.ErrConfiguration, "pipeline", "definition", "invalid definition", err)
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for _, step := range d.Steps {
		if _, dup := seen[step.Name]; dup {
			return services.Wrap(services.ErrConfiguration, "pipeline", "definition",
				fmt.Sprintf("duplicate step name %q", step.Name), nil)
		}
		seen[step.Name] = struct{}{}
		if reg != nil && !reg.Has(step.Kind) {
			return services.Wrap(services.ErrConfiguration, "pipeline", "definition",
				fmt.Sprintf("step %s: unknown kind %q (known: %s)", step.Name, step.Kind, strings.Join(reg.Kinds(), ", ")), nil)
		}
	}
	return nil
}

// Step returns the named step.
func (d Definition) Step(name string) (Step, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

func formatValidationErrors(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		element := fmt.Sprintf("field '%s' failed on the '%s' tag", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			element = fmt.Sprintf("%s (param: %s)", element, fe.Param())
		}
		parts = append(parts, element)
	}
	return strings.Join(parts, "; ")
}

// StepRetries returns the retry budget for step given the configured default.
func StepRetries(step Step, def int) int {
	if step.Retries != nil {
		return *step.Retries
	}
	return def
}
