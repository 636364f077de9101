// Package ffprobe provides a typed wrapper around ffprobe JSON output, trimmed
// to what the splitter needs from a recording: its duration and audio stream
// layout.
//
// Primary entry points:
//   - Inspect: executes ffprobe and returns the parsed Result
//   - Duration: returns a validated recording length in seconds
package ffprobe
