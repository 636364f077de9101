package logs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoRunLogs is returned when log_dir holds no run logs.
var ErrNoRunLogs = errors.New("no run logs found")

// RunLog describes one run-<id>.log file.
type RunLog struct {
	RunID   string
	Path    string
	Size    int64
	ModTime time.Time
}

// ListRuns returns the run logs in dir, newest first.
func ListRuns(dir string) ([]RunLog, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "run-*.log"))
	if err != nil {
		return nil, fmt.Errorf("list run logs: %w", err)
	}
	runs := make([]RunLog, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		name := filepath.Base(path)
		runs = append(runs, RunLog{
			RunID:   strings.TrimSuffix(strings.TrimPrefix(name, "run-"), ".log"),
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].ModTime.Equal(runs[j].ModTime) {
			return runs[i].RunID > runs[j].RunID
		}
		return runs[i].ModTime.After(runs[j].ModTime)
	})
	return runs, nil
}

// FindRun returns the newest run when id is empty, otherwise the single run
// whose ID starts with id.
func FindRun(dir, id string) (RunLog, error) {
	runs, err := ListRuns(dir)
	if err != nil {
		return RunLog{}, err
	}
	if len(runs) == 0 {
		return RunLog{}, fmt.Errorf("%w in %s", ErrNoRunLogs, dir)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return runs[0], nil
	}
	var found []RunLog
	for _, run := range runs {
		if run.RunID == id {
			return run, nil
		}
		if strings.HasPrefix(run.RunID, id) {
			found = append(found, run)
		}
	}
	switch len(found) {
	case 0:
		return RunLog{}, fmt.Errorf("run %q not found in %s", id, dir)
	case 1:
		return found[0], nil
	default:
		return RunLog{}, fmt.Errorf("run id %q is ambiguous (%d matches)", id, len(found))
	}
}
