package runlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// LedgerFile is the file name used inside the ledger directory.
const LedgerFile = "runs.jsonl"

// FileStore is an append-only JSON-lines ledger, fsynced on every append
type FileStore struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewFileStore creates or opens the ledger file in dir
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	path := filepath.Join(dir, LedgerFile)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}

	return &FileStore{file: file, path: path}, nil
}

// Append writes one entry as a JSON line with fsync
func (f *FileStore) Append(ctx context.Context, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.file.Write(line); err != nil {
		return fmt.Errorf("failed to write ledger entry: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	return nil
}

// List replays the ledger file and returns the entries of runID
func (f *FileStore) List(ctx context.Context, runID string) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := Replay(f.path)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Close flushes and closes the ledger
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.file.Sync(); err != nil {
		return err
	}
	return f.file.Close()
}

// Replay reads every entry from a ledger file. Malformed lines are skipped;
// a missing file yields no entries.
func Replay(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
