// Package splitter cuts a recording into per-speaker audio slices so each
// diarized turn can be transcribed in isolation.
//
// Slice boundaries snap exactly to interval boundaries and are written with
// millisecond precision, so adjacent slices share their boundary and the
// slices concatenated in order reproduce the diarized timeline. An interval
// that runs past the end of the recording is a BoundsError; nothing is
// silently truncated.
package splitter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"parley/internal/fileutil"
	"parley/internal/logging"
	"parley/internal/media/ffprobe"
	"parley/internal/services"
	"parley/internal/transcript"
)

// ManifestName is the manifest file written next to the slices.
const ManifestName = "manifest.json"

const boundsEpsilon = 1e-6

// Options controls slice planning. Values are seconds.
type Options struct {
	// MergeGap joins consecutive same-speaker intervals separated by less
	// than this gap into one slice. Zero disables merging.
	MergeGap float64
	// Tolerance allows intervals to end this far past the probed duration,
	// absorbing container rounding.
	Tolerance float64
}

// Slice is one planned cut.
type Slice struct {
	Index     int     `json:"index"`
	Speaker   string  `json:"speaker"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Intervals int     `json:"intervals"`
}

// ManifestSlice records where a slice was written.
type ManifestSlice struct {
	Slice
	Path string `json:"path"`
}

// Manifest describes a slices directory.
type Manifest struct {
	Source   string          `json:"source"`
	Duration float64         `json:"duration"`
	Slices   []ManifestSlice `json:"slices"`
}

// BoundsError reports an interval that extends past the recording.
type BoundsError struct {
	Index    int
	Start    float64
	End      float64
	Duration float64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("interval %d (%.3f-%.3f) exceeds audio duration %.3f", e.Index, e.Start, e.End, e.Duration)
}

func (e *BoundsError) Unwrap() error { return services.ErrValidation }

// Plan turns intervals into slices. Intervals are taken in start order.
func Plan(intervals []transcript.SpeakerInterval, duration float64, opts Options) ([]Slice, error) {
	if math.IsNaN(duration) || duration <= 0 {
		return nil, services.Wrap(services.ErrValidation, "split", "plan", fmt.Sprintf("invalid audio duration %v", duration), nil)
	}
	ordered := append([]transcript.SpeakerInterval(nil), intervals...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	slices := make([]Slice, 0, len(ordered))
	for i, iv := range ordered {
		if iv.Start < 0 || iv.End <= iv.Start {
			return nil, services.Wrap(services.ErrValidation, "split", "plan", fmt.Sprintf("interval %d has invalid range %.3f-%.3f", i, iv.Start, iv.End), nil)
		}
		if iv.End > duration+opts.Tolerance+boundsEpsilon {
			return nil, &BoundsError{Index: i, Start: iv.Start, End: iv.End, Duration: duration}
		}
		if n := len(slices); n > 0 {
			prev := &slices[n-1]
			if prev.Speaker == iv.Speaker && iv.Start-prev.End < opts.MergeGap {
				prev.End = math.Max(prev.End, iv.End)
				prev.Intervals++
				continue
			}
		}
		slices = append(slices, Slice{
			Index:     len(slices),
			Speaker:   iv.Speaker,
			Start:     iv.Start,
			End:       iv.End,
			Intervals: 1,
		})
	}
	return slices, nil
}

// SliceFileName returns the file name for slice index.
func SliceFileName(index int) string {
	return fmt.Sprintf("part_%04d.wav", index)
}

// FormatSeconds renders a boundary as an exact millisecond decimal.
func FormatSeconds(v float64) string {
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', 3, 64)
}

// Splitter extracts planned slices with ffmpeg.
type Splitter struct {
	ffmpegBinary string
	run          services.CommandRunner
	logger       *slog.Logger
}

// Option customizes a Splitter.
type Option func(*Splitter)

// WithCommandRunner swaps the process runner (tests).
func WithCommandRunner(runner services.CommandRunner) Option {
	return func(s *Splitter) {
		if runner != nil {
			s.run = runner
		}
	}
}

// New constructs a Splitter.
func New(ffmpegBinary string, logger *slog.Logger, opts ...Option) *Splitter {
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	s := &Splitter{
		ffmpegBinary: ffmpegBinary,
		run:          services.ExecRunner,
		logger:       logging.NewComponentLogger(logger, "splitter"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Probe resolves the recording duration in seconds.
func Probe(ctx context.Context, ffprobeBinary, path string) (float64, error) {
	seconds, err := ffprobe.Duration(ctx, ffprobeBinary, path)
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "split", "ffprobe", "probe duration", err)
	}
	return seconds, nil
}

// Split writes every slice into outDir and records them in the manifest.
// Stale slice files from an earlier run are removed first.
func (s *Splitter) Split(ctx context.Context, source string, duration float64, slices []Slice, outDir string) (Manifest, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create slices dir: %w", err)
	}
	stale, _ := filepath.Glob(filepath.Join(outDir, "part_*.wav"))
	for _, path := range stale {
		_ = os.Remove(path)
	}

	manifest := Manifest{Source: source, Duration: duration, Slices: make([]ManifestSlice, 0, len(slices))}
	for _, slice := range slices {
		if err := ctx.Err(); err != nil {
			return Manifest{}, err
		}
		name := SliceFileName(slice.Index)
		dest := filepath.Join(outDir, name)
		if err := s.run(ctx, s.ffmpegBinary, extractArgs(source, slice, dest)...); err != nil {
			return Manifest{}, services.Wrap(services.ErrExternalTool, "split", "ffmpeg", fmt.Sprintf("extract slice %d", slice.Index), err)
		}
		if !fileutil.Exists(dest) {
			return Manifest{}, services.Wrap(services.ErrMissingArtifact, "split", "ffmpeg", fmt.Sprintf("slice %s was not written", name), nil)
		}
		s.logger.Debug("slice extracted",
			logging.Int("index", slice.Index),
			logging.String("speaker", slice.Speaker),
			logging.Seconds("start", slice.Start),
			logging.Seconds("end", slice.End),
		)
		manifest.Slices = append(manifest.Slices, ManifestSlice{Slice: slice, Path: name})
	}

	if err := fileutil.WriteJSONAtomic(filepath.Join(outDir, ManifestName), manifest); err != nil {
		return Manifest{}, err
	}
	s.logger.Info("audio split",
		logging.String(logging.FieldEventType, "audio_split"),
		logging.Int("slices", len(manifest.Slices)),
		logging.String("dir", outDir),
	)
	return manifest, nil
}

func extractArgs(source string, slice Slice, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-ss", FormatSeconds(slice.Start),
		"-to", FormatSeconds(slice.End),
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
}

// LoadManifest reads the manifest in dir. Slice paths are returned absolute.
func LoadManifest(dir string) (Manifest, error) {
	var manifest Manifest
	if err := fileutil.ReadJSON(filepath.Join(dir, ManifestName), &manifest); err != nil {
		return Manifest{}, fmt.Errorf("load slices manifest: %w", err)
	}
	for i := range manifest.Slices {
		if !filepath.IsAbs(manifest.Slices[i].Path) {
			manifest.Slices[i].Path = filepath.Join(dir, manifest.Slices[i].Path)
		}
	}
	return manifest, nil
}
