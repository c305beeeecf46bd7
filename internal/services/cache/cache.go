// Package cache holds normalized model responses keyed by request
// fingerprint, so repeated identical requests skip the model entirely
// until the entry expires. The in-memory store is the default; a Redis
// store is available when the deployment provides one.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/finsight/insight-agent/internal/insight"
)

type Config struct {
	TTL        time.Duration
	MaxEntries int // bounded-size LRU; <=0 means unbounded
}

func DefaultConfig() Config {
	return Config{TTL: 5 * time.Minute, MaxEntries: 1024}
}

// Store is the response cache contract. Get and Set are individually
// safe under concurrent access; lookup-then-populate is deliberately not
// atomic across the pipeline, duplicate concurrent misses may both reach
// the model.
type Store interface {
	Get(ctx context.Context, fingerprint string) (*insight.ModelResult, bool)
	Set(ctx context.Context, fingerprint string, result *insight.ModelResult)
}

// Fingerprint derives the stable cache key from the prompt identity and
// the compacted payload. Same inputs, same key.
func Fingerprint(promptTag string, ledger insight.CompactedLedger) string {
	payload, _ := json.Marshal(struct {
		Prompt string                  `json:"prompt"`
		Ledger insight.CompactedLedger `json:"ledger"`
	}{promptTag, ledger})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type memoryEntry struct {
	fingerprint string
	result      *insight.ModelResult
	expiresAt   time.Time
}

// Memory is a TTL cache with LRU eviction once MaxEntries is reached.
// Expired entries are replaced on write and skipped on read; a
// background sweeper is unnecessary at this scale.
type Memory struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

func NewMemory(cfg Config) *Memory {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Memory{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (m *Memory) Get(_ context.Context, fingerprint string) (*insight.ModelResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[fingerprint]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*memoryEntry)
	if m.now().After(entry.expiresAt) {
		m.order.Remove(elem)
		delete(m.entries, fingerprint)
		return nil, false
	}
	m.order.MoveToFront(elem)
	return entry.result, true
}

func (m *Memory) Set(_ context.Context, fingerprint string, result *insight.ModelResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[fingerprint]; ok {
		// Expired or not, the old entry is replaced rather than mutated.
		m.order.Remove(elem)
		delete(m.entries, fingerprint)
	}

	entry := &memoryEntry{
		fingerprint: fingerprint,
		result:      result,
		expiresAt:   m.now().Add(m.cfg.TTL),
	}
	m.entries[fingerprint] = m.order.PushFront(entry)

	for m.cfg.MaxEntries > 0 && m.order.Len() > m.cfg.MaxEntries {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memoryEntry).fingerprint)
	}
}

// Len reports the live entry count, for metrics.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
