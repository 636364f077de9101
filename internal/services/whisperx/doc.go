// Package whisperx wraps the WhisperX CLI (run through uvx) and converts its
// JSON output into transcript fragments.
//
// This package handles:
//   - WhisperX invocation with the configured model, device, and VAD method
//   - Loading the segment JSON WhisperX writes next to its input
//   - Conversion of segments into fragments on the recording timeline
//
// Configuration options (model, CUDA, VAD method, language) are passed via Config.
package whisperx
