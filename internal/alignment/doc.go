// Package alignment merges diarized speaker intervals with transcription
// fragments into speaker-attributed utterances.
//
// Each fragment goes to the interval it overlaps most, with exact ties going
// to the earlier interval. Fragments inside a diarization gap snap to the
// nearest interval within the configured tolerance or stay unattributed.
// Consecutive fragments of one speaker closer than the merge threshold are
// concatenated. The output is checked against the fragment timeline before it
// is returned; a mismatch is reported as services.ErrInvariant.
package alignment
