package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/pkg/types"
)

// Trail is an append-only JSONL audit log with a monotonic, gap-free
// sequence number shared by all writers. Every append is flushed to
// disk before returning, so prior entries survive a crash mid-write of
// the next one.
type Trail struct {
	path string
	file *os.File

	mu  sync.Mutex
	seq uint64
}

var _ core.AuditTrail = (*Trail)(nil)

// Open opens (or creates) the audit trail at path. If the file already
// exists, the sequence counter is recovered from the last complete
// line; a torn final line is ignored.
func Open(path string) (*Trail, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	var lastSeq uint64
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		seq, err := recoverSequence(path)
		if err != nil {
			return nil, fmt.Errorf("audit: recover sequence: %w", err)
		}
		lastSeq = seq
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	return &Trail{
		path: path,
		file: file,
		seq:  lastSeq,
	}, nil
}

// recoverSequence scans the file and returns the sequence number of
// the last entry that parses as complete JSON.
func recoverSequence(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var last uint64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry types.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// Truncated tail from a crash mid-write; everything before
			// it is intact.
			continue
		}
		if entry.Sequence > last {
			last = entry.Sequence
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return last, nil
}

// Append assigns the next sequence number and timestamp, writes the
// entry as one JSON line, and syncs before returning. Entries are
// never mutated or deleted afterwards.
func (t *Trail) Append(entry types.AuditEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	entry.Sequence = t.seq
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Actor == "" {
		entry.Actor = "system"
	}

	line, err := json.Marshal(entry)
	if err != nil {
		t.seq--
		return fmt.Errorf("audit: marshal entry: %w", err)
	}

	if _, err := t.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	return nil
}

// ReadAll returns every complete entry in write order. A torn final
// line (crash mid-write) is skipped.
func (t *Trail) ReadAll() ([]types.AuditEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open for read: %w", err)
	}
	defer f.Close()

	var entries []types.AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry types.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan: %w", err)
	}
	return entries, nil
}

// Close flushes and closes the underlying file.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}
