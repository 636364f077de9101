// Package artifactcache indexes completed step outputs by fingerprint.
//
// The index lives in a SQLite database under the configured cache directory.
// Entries are immutable once written: Store inserts only when no entry exists
// for the fingerprint and otherwise hands back the entry that won. Each entry
// carries a content digest per output; OutputsCurrent rechecks them. Only the
// pipeline executor reads or writes the cache; stage handlers never see it.
package artifactcache
