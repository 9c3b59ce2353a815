package backend

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the in-process fallback evicts
// expired string keys when no interval is configured.
const DefaultSweepInterval = time.Minute

type memoryValue struct {
	data      string
	expiresAt time.Time
}

// Memory is the process-local fallback backend. A single mutex
// serializes all mutations; acceptable because this mode is by
// definition single-process and non-clustered.
//
// Unlike Redis there is nothing underneath to enforce TTLs, so an
// explicit sweep goroutine evicts expired string keys periodically.
// Reads additionally check expiry so a not-yet-swept key is never
// served. Sorted collections carry no TTL, matching Redis semantics;
// stale members are reconciled by lazy cleanup and the repair job.
type Memory struct {
	mu     sync.Mutex
	values map[string]memoryValue
	sorted map[string]map[string]float64

	sweepStop chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// NewMemory creates a Memory backend and starts its TTL sweep.
// sweepInterval <= 0 selects [DefaultSweepInterval].
func NewMemory(sweepInterval time.Duration) *Memory {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	m := &Memory{
		values:    make(map[string]memoryValue),
		sorted:    make(map[string]map[string]float64),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go m.sweepLoop(sweepInterval)
	return m
}

func (m *Memory) sweepLoop(interval time.Duration) {
	defer close(m.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.sweepStop:
			return
		}
	}
}

// Sweep removes all expired string keys. It runs periodically from the
// sweep goroutine and is exported so tests and the repair job can force
// a deterministic pass.
func (m *Memory) Sweep() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, val := range m.values {
		if now.After(val.expiresAt) {
			delete(m.values, key)
			removed++
		}
	}
	return removed
}

// Get fetches the string value at key, or [ErrKeyNotFound].
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	val, ok := m.values[key]
	if !ok || time.Now().After(val.expiresAt) {
		delete(m.values, key)
		return "", ErrKeyNotFound
	}
	return val.data, nil
}

// SetWithTTL writes a value with an expiry floored at [MinTTL].
func (m *Memory) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = memoryValue{
		data:      value,
		expiresAt: time.Now().Add(clampTTL(ttl)),
	}
	return nil
}

// GetDel fetches and deletes a key under the same lock acquisition.
func (m *Memory) GetDel(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	val, ok := m.values[key]
	delete(m.values, key)
	if !ok || time.Now().After(val.expiresAt) {
		return "", ErrKeyNotFound
	}
	return val.data, nil
}

// Delete removes string and sorted keys alike; absent keys are ignored.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.values, key)
		delete(m.sorted, key)
	}
	return nil
}

// Exists reports whether key holds a live string value or a non-empty
// sorted collection.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if val, ok := m.values[key]; ok {
		if time.Now().After(val.expiresAt) {
			delete(m.values, key)
			return false, nil
		}
		return true, nil
	}
	if members, ok := m.sorted[key]; ok && len(members) > 0 {
		return true, nil
	}
	return false, nil
}

// SortedAdd adds or rescores a member in the sorted collection at key.
func (m *Memory) SortedAdd(_ context.Context, key, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.sorted[key]
	if !ok {
		members = make(map[string]float64)
		m.sorted[key] = members
	}
	members[member] = score
	return nil
}

// SortedRange returns members by ascending score over [start, stop],
// with ties broken lexically the way Redis breaks them.
func (m *Memory) SortedRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type scored struct {
		value string
		score float64
	}
	members := m.sorted[key]
	ordered := make([]scored, 0, len(members))
	for value, score := range members {
		ordered = append(ordered, scored{value: value, score: score})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].score != ordered[j].score {
			return ordered[i].score < ordered[j].score
		}
		return ordered[i].value < ordered[j].value
	})

	n := int64(len(ordered))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return []string{}, nil
	}

	out := make([]string, 0, stop-start+1)
	for _, s := range ordered[start : stop+1] {
		out = append(out, s.value)
	}
	return out, nil
}

// SortedCardinality returns the member count of the sorted collection.
func (m *Memory) SortedCardinality(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sorted[key])), nil
}

// SortedRemove removes members; an emptied collection key is deleted.
func (m *Memory) SortedRemove(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sorted[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(existing, member)
	}
	if len(existing) == 0 {
		delete(m.sorted, key)
	}
	return nil
}

// Scan enumerates live keys matching a glob pattern.
func (m *Memory) Scan(_ context.Context, pattern string) ([]string, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for key, val := range m.values {
		if now.After(val.expiresAt) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			out = append(out, key)
		}
	}
	for key := range m.sorted {
		if ok, _ := path.Match(pattern, key); ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Ping always succeeds: the process-local store cannot be unreachable.
func (m *Memory) Ping(context.Context) error {
	return nil
}

// Close stops the sweep goroutine. Safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.sweepStop)
		<-m.sweepDone
	})
	return nil
}
