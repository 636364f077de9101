// Package stages implements the built-in step kinds: command, segments,
// split, transcribe, and align.
//
// Handlers read their inputs and write their outputs through the paths in
// stage.Request; they never touch the artifact cache or the run state. Input
// roles are positional:
//
//	segments    [rttm]                 -> [segments.json]
//	split       [audio, segments.json] -> [slices dir]
//	transcribe  [slices dir | audio]   -> [fragments.json]
//	align       [segments.json, fragments.json] -> [transcripts/<recording>.json]
//	command     argv template over any inputs and outputs
package stages
