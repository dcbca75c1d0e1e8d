package store

import (
	"sync"
	"time"

	"meshkv/internal/metrics"
)

// Map is the in-memory key/value store replicated by this system. It
// generalizes the teacher's map[string]Entry+mutex store into a
// slotted table: every key occupies a stable slot index for the
// lifetime of the process, and each remote peer gets a bitset over
// those slot indices tracking which slots it still needs to see.
//
// Design principles, carried from the teacher:
// - Safe for concurrent access using a single mutex.
// - Last-Write-Wins (LWW) via Merge.
//
// Unlike the teacher's Store, entries are never deleted from the slot
// table on a local Remove — a tombstone is written in place, exactly
// like any other LWW write, so that the delete itself replicates.
type Map struct {
	mu      sync.Mutex
	self    byte
	metrics *metrics.Registry

	slots []Entry
	index map[string]int

	lastIssued        int64
	lastModification  int64
	peerBits          map[byte]*bitset
	iterators         map[byte]*ModificationIterator
}

// NewMap creates a Map for the local node identified by self (must be
// in [1,127]; callers are expected to validate via config.Load).
func NewMap(self byte, metricsRegistry *metrics.Registry) *Map {
	return &Map{
		self:      self,
		metrics:   metricsRegistry,
		index:     make(map[string]int),
		peerBits:  make(map[byte]*bitset),
		iterators: make(map[byte]*ModificationIterator),
	}
}

// Identifier implements Adapter.
func (m *Map) Identifier() byte {
	return m.self
}

// LastModification implements Adapter: the highest timestamp this
// node has ever issued or accepted, local or remote.
func (m *Map) LastModification() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastModification
}

// nextTimestampLocked issues a timestamp strictly greater than every
// timestamp this node has previously issued, even when called twice
// within the same wall-clock nanosecond.
func (m *Map) nextTimestampLocked() int64 {
	ts := time.Now().UnixNano()
	if ts <= m.lastIssued {
		ts = m.lastIssued + 1
	}
	m.lastIssued = ts
	if ts > m.lastModification {
		m.lastModification = ts
	}
	return ts
}

// Put installs a live value for key, stamped with a local timestamp,
// and marks the slot dirty for every known remote peer.
func (m *Map) Put(key, value []byte) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.Inc(metrics.CacheSetsTotal)

	e := Entry{
		Key:        append([]byte(nil), key...),
		Value:      append([]byte(nil), value...),
		HasValue:   true,
		Timestamp:  m.nextTimestampLocked(),
		ModifierID: m.self,
	}
	idx := m.installLocked(e)
	m.markDirtyLocked(idx)
	return e
}

// Remove writes a tombstone for key. Like Put, this is an ordinary LWW
// write: it replicates exactly like any other mutation.
func (m *Map) Remove(key []byte) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := Entry{
		Key:        append([]byte(nil), key...),
		HasValue:   false,
		Timestamp:  m.nextTimestampLocked(),
		ModifierID: m.self,
	}
	idx := m.installLocked(e)
	m.markDirtyLocked(idx)
	return e
}

// Get returns the live value for key, or ok=false if the key is
// absent or its current entry is a tombstone.
func (m *Map) Get(key []byte) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.Inc(metrics.CacheGetsTotal)

	idx, ok := m.index[string(key)]
	if !ok || !m.slots[idx].HasValue {
		m.metrics.Inc(metrics.CacheMissesTotal)
		return Entry{}, false
	}
	return m.slots[idx].clone(), true
}

// List returns a snapshot of every live (non-tombstone) entry, keyed
// by the string form of its key.
func (m *Map) List() map[string]Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Entry)
	for k, idx := range m.index {
		if m.slots[idx].HasValue {
			out[k] = m.slots[idx].clone()
		}
	}
	return out
}

// ReadSlot implements Adapter.
func (m *Map) ReadSlot(slot int) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if slot < 0 || slot >= len(m.slots) {
		return Entry{}, false
	}
	return m.slots[slot].clone(), true
}

// ApplyIncoming installs an entry received from a remote peer,
// subject to Merge. It never tags other peers' modification bits for
// this slot: a receiver does not re-broadcast what it was just told.
func (m *Map) ApplyIncoming(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(e.Key)
	idx, exists := m.index[key]
	var local Entry
	if exists {
		local = m.slots[idx]
	}
	if !Merge(local, exists, e) {
		return nil
	}

	if !exists {
		idx = m.allocSlotLocked(key)
	}
	m.slots[idx] = e.clone()
	if e.Timestamp > m.lastModification {
		m.lastModification = e.Timestamp
	}
	m.metrics.Inc(metrics.ReplicationEntriesAppliedTotal)
	return nil
}

// ModificationIteratorFor returns the (idempotent) modification
// iterator for remote. The first call for a given remote identifier
// allocates its bitset sized to the current slot table; later growth
// of the slot table grows every existing bitset lazily on access.
func (m *Map) ModificationIteratorFor(remote byte) *ModificationIterator {
	m.mu.Lock()
	defer m.mu.Unlock()

	if it, ok := m.iterators[remote]; ok {
		return it
	}
	b := newBitset(len(m.slots))
	m.peerBits[remote] = b
	it := &ModificationIterator{m: m, bits: b}
	m.iterators[remote] = it
	return it
}

func (m *Map) installLocked(e Entry) int {
	key := string(e.Key)
	if idx, ok := m.index[key]; ok {
		m.slots[idx] = e
		return idx
	}
	idx := m.allocSlotLocked(key)
	m.slots[idx] = e
	return idx
}

func (m *Map) allocSlotLocked(key string) int {
	idx := len(m.slots)
	m.slots = append(m.slots, Entry{})
	m.index[key] = idx
	return idx
}

func (m *Map) markDirtyLocked(idx int) {
	for _, b := range m.peerBits {
		b.set(idx)
	}
}

// SlotCount reports the current size of the slot table, for tests and
// for sizing diagnostics in the admin API.
func (m *Map) SlotCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
