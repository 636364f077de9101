package alignment

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"parley/internal/services"
	"parley/internal/transcript"
)

const (
	DefaultMergeThreshold = 0.5
	DefaultTolerance      = 0.2

	// timeEpsilon absorbs float noise when comparing timestamps that were
	// produced by adding offsets.
	timeEpsilon = 1e-9
)

// Options controls attribution and merging. Values are seconds.
type Options struct {
	MergeThreshold float64
	Tolerance      float64
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{MergeThreshold: DefaultMergeThreshold, Tolerance: DefaultTolerance}
}

// Result is the aligned transcript.
type Result struct {
	Utterances   []transcript.Utterance
	Unattributed []transcript.Span
	Speakers     []string
}

type indexedInterval struct {
	transcript.SpeakerInterval
	order int
}

// group is an utterance together with the fragment range it was built from.
type group struct {
	utterance transcript.Utterance
	first     int
	last      int
	pieces    []string
	weight    float64
	weighted  float64
	scored    int
	plainSum  float64
}

// Align attributes fragments to speakers and merges them into utterances.
// Fragments must be ordered by start and non-overlapping.
func Align(intervals []transcript.SpeakerInterval, fragments []transcript.Fragment, opts Options) (Result, error) {
	if err := validateOptions(opts); err != nil {
		return Result{}, err
	}
	if err := validateFragments(fragments); err != nil {
		return Result{}, err
	}
	sorted, err := sortIntervals(intervals)
	if err != nil {
		return Result{}, err
	}
	if len(fragments) == 0 {
		return Result{Utterances: []transcript.Utterance{}, Speakers: []string{}}, nil
	}

	groups := make([]*group, 0, len(fragments))
	var current *group
	for idx, frag := range fragments {
		speaker := attribute(frag, sorted, opts.Tolerance)
		if current != nil && joins(current, speaker, frag, opts.MergeThreshold) {
			current.add(idx, frag)
			continue
		}
		current = newGroup(idx, speaker, frag)
		groups = append(groups, current)
	}

	if err := verifyTiling(fragments, groups, opts.MergeThreshold); err != nil {
		return Result{}, err
	}

	result := Result{
		Utterances: make([]transcript.Utterance, 0, len(groups)),
		Speakers:   []string{},
	}
	seen := make(map[string]struct{})
	for _, g := range groups {
		utt := g.finish()
		result.Utterances = append(result.Utterances, utt)
		if utt.Speaker == transcript.Unattributed {
			result.Unattributed = append(result.Unattributed, transcript.Span{Start: utt.Start, End: utt.End, Text: utt.Text})
			continue
		}
		if _, ok := seen[utt.Speaker]; !ok {
			seen[utt.Speaker] = struct{}{}
			result.Speakers = append(result.Speakers, utt.Speaker)
		}
	}
	return result, nil
}

// attribute picks the speaker for one fragment. Intervals are sorted by start
// then input order, so keeping the first maximum implements the tie-break.
func attribute(frag transcript.Fragment, intervals []indexedInterval, tolerance float64) string {
	best := -1
	bestOverlap := 0.0
	for i, iv := range intervals {
		if iv.Start >= frag.End && frag.End > frag.Start {
			break
		}
		overlap := math.Min(frag.End, iv.End) - math.Max(frag.Start, iv.Start)
		if overlap > bestOverlap {
			best, bestOverlap = i, overlap
		}
	}
	if best >= 0 {
		return intervals[best].Speaker
	}

	nearest := -1
	nearestDist := math.Inf(1)
	for i, iv := range intervals {
		dist := math.Max(math.Max(iv.Start-frag.End, frag.Start-iv.End), 0)
		if dist < nearestDist {
			nearest, nearestDist = i, dist
		}
	}
	if nearest >= 0 && nearestDist <= tolerance+timeEpsilon {
		return intervals[nearest].Speaker
	}
	return transcript.Unattributed
}

func joins(g *group, speaker string, frag transcript.Fragment, threshold float64) bool {
	if speaker == transcript.Unattributed || g.utterance.Speaker != speaker {
		return false
	}
	return frag.Start-g.utterance.End < threshold
}

func newGroup(idx int, speaker string, frag transcript.Fragment) *group {
	g := &group{
		utterance: transcript.Utterance{Speaker: speaker, Start: frag.Start, End: frag.End},
		first:     idx,
		last:      idx,
	}
	g.collect(frag)
	return g
}

func (g *group) add(idx int, frag transcript.Fragment) {
	g.last = idx
	if frag.End > g.utterance.End {
		g.utterance.End = frag.End
	}
	g.collect(frag)
}

func (g *group) collect(frag transcript.Fragment) {
	if text := strings.Join(strings.Fields(frag.Text), " "); text != "" {
		g.pieces = append(g.pieces, text)
	}
	if frag.Confidence != nil {
		w := frag.End - frag.Start
		g.weight += w
		g.weighted += w * *frag.Confidence
		g.plainSum += *frag.Confidence
		g.scored++
	}
}

func (g *group) finish() transcript.Utterance {
	utt := g.utterance
	utt.Text = norm.NFC.String(strings.Join(g.pieces, " "))
	if g.scored > 0 {
		var conf float64
		if g.weight > 0 {
			conf = g.weighted / g.weight
		} else {
			conf = g.plainSum / float64(g.scored)
		}
		utt.Confidence = &conf
	}
	return utt
}

// verifyTiling checks that the groups cover every fragment exactly once, in
// order, without overlap, and that each utterance spans exactly its
// fragments. Any failure here is a defect in the merge walk.
func verifyTiling(fragments []transcript.Fragment, groups []*group, threshold float64) error {
	next := 0
	prevEnd := math.Inf(-1)
	for gi, g := range groups {
		u := g.utterance
		if g.first != next || g.last < g.first || g.last >= len(fragments) {
			return invariantf("utterance %d covers fragments %d-%d, expected to start at %d", gi, g.first, g.last, next)
		}
		if u.Start < prevEnd-timeEpsilon {
			return invariantf("utterance %d starts at %.3f before previous end %.3f", gi, u.Start, prevEnd)
		}
		if u.End < u.Start {
			return invariantf("utterance %d ends before it starts", gi)
		}
		if u.Start != fragments[g.first].Start {
			return invariantf("utterance %d start %.3f does not match fragment %d", gi, u.Start, g.first)
		}
		end := fragments[g.first].End
		for k := g.first + 1; k <= g.last; k++ {
			if fragments[k].Start-end >= threshold {
				return invariantf("utterance %d bridges a %.3fs gap before fragment %d", gi, fragments[k].Start-end, k)
			}
			end = math.Max(end, fragments[k].End)
		}
		if u.End != end {
			return invariantf("utterance %d end %.3f does not match fragment end %.3f", gi, u.End, end)
		}
		prevEnd = u.End
		next = g.last + 1
	}
	if next != len(fragments) {
		return invariantf("%d of %d fragments were not assigned to an utterance", len(fragments)-next, len(fragments))
	}
	return nil
}

func invariantf(format string, args ...any) error {
	return services.Wrap(services.ErrInvariant, "align", "tiling", fmt.Sprintf(format, args...), nil)
}

func validateOptions(opts Options) error {
	for name, value := range map[string]float64{"merge threshold": opts.MergeThreshold, "tolerance": opts.Tolerance} {
		if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
			return services.Wrap(services.ErrConfiguration, "align", "options", fmt.Sprintf("%s must be finite and >= 0, got %v", name, value), nil)
		}
	}
	return nil
}

func validateFragments(fragments []transcript.Fragment) error {
	for i, frag := range fragments {
		if !finite(frag.Start) || !finite(frag.End) {
			return validationf("fragment %d has a non-finite timestamp", i)
		}
		if frag.End < frag.Start {
			return validationf("fragment %d ends (%.3f) before it starts (%.3f)", i, frag.End, frag.Start)
		}
		if i == 0 {
			continue
		}
		prev := fragments[i-1]
		if frag.Start < prev.Start {
			return validationf("fragment %d starts at %.3f before fragment %d at %.3f", i, frag.Start, i-1, prev.Start)
		}
		if frag.Start < prev.End-timeEpsilon {
			return validationf("fragment %d (%.3f-%.3f) overlaps fragment %d (%.3f-%.3f)", i, frag.Start, frag.End, i-1, prev.Start, prev.End)
		}
	}
	return nil
}

func sortIntervals(intervals []transcript.SpeakerInterval) ([]indexedInterval, error) {
	out := make([]indexedInterval, len(intervals))
	for i, iv := range intervals {
		if !finite(iv.Start) || !finite(iv.End) || iv.Start < 0 || iv.End <= iv.Start {
			return nil, validationf("interval %d (%s %.3f-%.3f) is not a positive range", i, iv.Speaker, iv.Start, iv.End)
		}
		if iv.Speaker == "" || iv.Speaker == transcript.Unattributed {
			return nil, validationf("interval %d has invalid speaker %q", i, iv.Speaker)
		}
		out[i] = indexedInterval{SpeakerInterval: iv, order: i}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].order < out[j].order
	})
	return out, nil
}

func validationf(format string, args ...any) error {
	return services.Wrap(services.ErrValidation, "align", "inputs", fmt.Sprintf(format, args...), nil)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
