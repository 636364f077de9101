package logs

import (
	"encoding/json"
	"strings"
	"time"
)

// Record is one decoded run log line. Attrs holds every key, including the
// ones lifted into named fields.
type Record struct {
	Time      time.Time
	Level     string
	Message   string
	Step      string
	EventType string
	Attrs     map[string]any
}

// ParseRecord decodes a JSON log line. ok is false for lines that are not
// JSON objects.
func ParseRecord(line string) (Record, bool) {
	var attrs map[string]any
	if err := json.Unmarshal([]byte(line), &attrs); err != nil || attrs == nil {
		return Record{}, false
	}
	rec := Record{
		Level:     stringAttr(attrs, "level"),
		Message:   stringAttr(attrs, "msg"),
		Step:      stringAttr(attrs, "step"),
		EventType: stringAttr(attrs, "event_type"),
		Attrs:     attrs,
	}
	if ts := stringAttr(attrs, "ts"); ts != "" {
		rec.Time, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return rec, true
}

func stringAttr(attrs map[string]any, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// Filter selects records by step and minimum level. The zero value matches
// every line.
type Filter struct {
	Step     string
	MinLevel string
}

// Match reports whether line passes the filter. Lines that are not JSON only
// pass an empty filter.
func (f Filter) Match(line string) bool {
	if f.Step == "" && f.MinLevel == "" {
		return true
	}
	rec, ok := ParseRecord(line)
	if !ok {
		return false
	}
	if f.Step != "" && rec.Step != f.Step {
		return false
	}
	if f.MinLevel != "" {
		floor, known := levelRank[strings.ToLower(f.MinLevel)]
		if known && levelRank[rec.Level] < floor {
			return false
		}
	}
	return true
}
