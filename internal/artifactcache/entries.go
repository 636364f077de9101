package artifactcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"parley/internal/fileutil"
	"parley/internal/stage"
)

// Entry records the outputs a step produced for one fingerprint. Digests maps
// each output to its content digest at store time.
type Entry struct {
	Fingerprint string
	Step        string
	Outputs     []string
	Digests     map[string]string
	Warnings    []stage.Warning
	CreatedAt   time.Time
}

// DigestOutputs hashes every path with fileutil.HashPath.
func DigestOutputs(paths []string) (map[string]string, error) {
	digests := make(map[string]string, len(paths))
	for _, path := range paths {
		sum, err := fileutil.HashPath(path)
		if err != nil {
			return nil, fmt.Errorf("digest output %s: %w", path, err)
		}
		digests[path] = sum
	}
	return digests, nil
}

// OutputsExist reports whether every recorded output is still on disk.
func (e Entry) OutputsExist() bool {
	for _, path := range e.Outputs {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// OutputsCurrent reports whether every recorded output still holds the
// content it had when the entry was stored. An output without a recorded
// digest never matches.
func (e Entry) OutputsCurrent() bool {
	for _, path := range e.Outputs {
		want, ok := e.Digests[path]
		if !ok {
			return false
		}
		got, err := fileutil.HashPath(path)
		if err != nil || got != want {
			return false
		}
	}
	return true
}

// Stats summarizes cache contents.
type Stats struct {
	Entries int
	Steps   int
	Oldest  time.Time
	Newest  time.Time
	DBBytes int64
}

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const entryColumns = "fingerprint, step, outputs_json, digests_json, warnings_json, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry        Entry
		outputsJSON  string
		digestsJSON  string
		warningsJSON string
		createdAt    string
	)
	if err := row.Scan(&entry.Fingerprint, &entry.Step, &outputsJSON, &digestsJSON, &warningsJSON, &createdAt); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(outputsJSON), &entry.Outputs); err != nil {
		return Entry{}, fmt.Errorf("decode outputs for %s: %w", entry.Fingerprint, err)
	}
	if err := json.Unmarshal([]byte(digestsJSON), &entry.Digests); err != nil {
		return Entry{}, fmt.Errorf("decode digests for %s: %w", entry.Fingerprint, err)
	}
	if err := json.Unmarshal([]byte(warningsJSON), &entry.Warnings); err != nil {
		return Entry{}, fmt.Errorf("decode warnings for %s: %w", entry.Fingerprint, err)
	}
	ts, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse created_at for %s: %w", entry.Fingerprint, err)
	}
	entry.CreatedAt = ts
	return entry, nil
}

// Lookup returns the entry stored under fingerprint, if any.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (Entry, bool, error) {
	ctx = ensureContext(ctx)
	var (
		entry Entry
		err   error
	)
	retryErr := retryOnBusy(ctx, func() error {
		row := c.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM artifacts WHERE fingerprint = ?`, fingerprint)
		entry, err = scanEntry(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	if retryErr != nil {
		return Entry{}, false, fmt.Errorf("lookup artifact: %w", retryErr)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Store inserts entry unless one already exists for its fingerprint. The
// returned entry is whichever one the cache now holds; stored is false when a
// concurrent writer got there first and the caller's entry was discarded.
func (c *Cache) Store(ctx context.Context, entry Entry) (Entry, bool, error) {
	if entry.Fingerprint == "" {
		return Entry{}, false, errors.New("store artifact: empty fingerprint")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Outputs == nil {
		entry.Outputs = []string{}
	}
	if entry.Digests == nil {
		entry.Digests = map[string]string{}
	}
	if entry.Warnings == nil {
		entry.Warnings = []stage.Warning{}
	}
	outputsJSON, err := json.Marshal(entry.Outputs)
	if err != nil {
		return Entry{}, false, fmt.Errorf("encode outputs: %w", err)
	}
	digestsJSON, err := json.Marshal(entry.Digests)
	if err != nil {
		return Entry{}, false, fmt.Errorf("encode digests: %w", err)
	}
	warningsJSON, err := json.Marshal(entry.Warnings)
	if err != nil {
		return Entry{}, false, fmt.Errorf("encode warnings: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.execWithRetry(ctx,
		`INSERT INTO artifacts (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(fingerprint) DO NOTHING`,
		entry.Fingerprint,
		entry.Step,
		string(outputsJSON),
		string(digestsJSON),
		string(warningsJSON),
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return Entry{}, false, fmt.Errorf("store artifact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Entry{}, false, fmt.Errorf("store artifact rows: %w", err)
	}

	winner, found, err := c.Lookup(ctx, entry.Fingerprint)
	if err != nil {
		return Entry{}, false, err
	}
	if !found {
		return Entry{}, false, fmt.Errorf("store artifact: entry %s vanished after insert", entry.Fingerprint)
	}
	return winner, affected == 1, nil
}

// List returns entries ordered by creation time, newest first. An empty step
// lists every entry.
func (c *Cache) List(ctx context.Context, step string) ([]Entry, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + entryColumns + ` FROM artifacts`
	var args []any
	if step != "" {
		query += ` WHERE step = ?`
		args = append(args, step)
	}
	query += ` ORDER BY created_at DESC, fingerprint`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return entries, nil
}

// Remove deletes the entry for fingerprint and reports whether one existed.
func (c *Cache) Remove(ctx context.Context, fingerprint string) (bool, error) {
	res, err := c.execWithRetry(ctx, `DELETE FROM artifacts WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return false, fmt.Errorf("remove artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove artifact rows: %w", err)
	}
	return n > 0, nil
}

// Clear deletes every entry and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	res, err := c.execWithRetry(ctx, `DELETE FROM artifacts`)
	if err != nil {
		return 0, fmt.Errorf("clear artifacts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear artifacts rows: %w", err)
	}
	return n, nil
}

// Prune drops entries whose recorded outputs no longer all exist.
func (c *Cache) Prune(ctx context.Context) (int, error) {
	entries, err := c.List(ctx, "")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.OutputsExist() {
			continue
		}
		ok, err := c.Remove(ctx, entry.Fingerprint)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// Stats summarizes the cache.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	var (
		stats          Stats
		oldest, newest sql.NullString
	)
	row := c.db.QueryRowContext(ctx,
		`SELECT COUNT(1), COUNT(DISTINCT step), MIN(created_at), MAX(created_at) FROM artifacts`)
	if err := row.Scan(&stats.Entries, &stats.Steps, &oldest, &newest); err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	if oldest.Valid {
		stats.Oldest, _ = time.Parse(timeLayout, oldest.String)
	}
	if newest.Valid {
		stats.Newest, _ = time.Parse(timeLayout, newest.String)
	}
	if info, err := os.Stat(c.path); err == nil {
		stats.DBBytes = info.Size()
	}
	return stats, nil
}
