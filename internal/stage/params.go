package stage

import (
	"fmt"
	"maps"
	"math"
	"strconv"

	"parley/internal/services"
)

// Params holds step parameters as decoded from TOML or built from config.
// Values are strings, bools, numbers, or lists of strings.
type Params map[string]any

// Merge returns defaults overlaid with p. Neither input is modified.
func (p Params) Merge(defaults Params) Params {
	out := make(Params, len(defaults)+len(p))
	maps.Copy(out, defaults)
	maps.Copy(out, p)
	return out
}

// String returns the string value for key, or def when absent.
func (p Params) String(key, def string) (string, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case int, int64, float64, bool:
		return fmt.Sprint(v), nil
	default:
		return "", paramError(key, "string", raw)
	}
}

// Float returns the numeric value for key, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return def, nil
	}
	var value float64
	switch v := raw.(type) {
	case float64:
		value = v
	case float32:
		value = float64(v)
	case int:
		value = float64(v)
	case int64:
		value = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, paramError(key, "number", raw)
		}
		value = parsed
	default:
		return 0, paramError(key, "number", raw)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, paramError(key, "finite number", raw)
	}
	return value, nil
}

// Bool returns the boolean value for key, or def when absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return false, paramError(key, "bool", raw)
		}
		return parsed, nil
	default:
		return false, paramError(key, "bool", raw)
	}
}

// Strings returns the list value for key, or def when absent.
func (p Params) Strings(key string, def []string) ([]string, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, paramError(key, "list of strings", raw)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, paramError(key, "list of strings", raw)
	}
}

func paramError(key, want string, got any) error {
	return services.Wrap(services.ErrConfiguration, "stage", "params",
		fmt.Sprintf("parameter %q: expected %s, got %T", key, want, got), nil)
}
