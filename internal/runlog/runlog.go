// Package runlog records a ledger of pipeline runs: tuning trials, reported
// metrics and saved artifacts, tagged by run id.
package runlog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Entry kinds.
const (
	KindStage    = "stage"
	KindTrial    = "trial"
	KindMetric   = "metric"
	KindArtifact = "artifact"
)

// Entry is one ledger record.
type Entry struct {
	RunID     string             `json:"run_id"`
	Kind      string             `json:"kind"`
	Name      string             `json:"name"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values,omitempty"`
	Labels    map[string]string  `json:"labels,omitempty"`
}

// Store appends and lists ledger entries.
type Store interface {
	// Append records an entry. Entries of one run are listed in append order.
	Append(ctx context.Context, e Entry) error

	// List returns every entry of a run, oldest first.
	List(ctx context.Context, runID string) ([]Entry, error)

	// Close releases resources
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string `yaml:"backend"` // "none", "memory", "file", "redis" or "postgres"

	Dir string `yaml:"dir"` // file

	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`

	PostgresURL string `yaml:"postgres_url"`
}

// Open creates the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "none":
		return Nop{}, nil
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "redis":
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresURL)
	}
	return nil, fmt.Errorf("unknown run ledger backend %q", cfg.Backend)
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Append(context.Context, Entry) error { return nil }

func (Nop) List(context.Context, string) ([]Entry, error) { return nil, nil }

func (Nop) Close() error { return nil }

// MemoryStore keeps entries in process memory
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

// NewMemoryStore creates an empty in-memory ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

func (m *MemoryStore) Append(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.RunID] = append(m.entries[e.RunID], e)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, runID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries[runID]...), nil
}

func (m *MemoryStore) Close() error {
	return nil
}
