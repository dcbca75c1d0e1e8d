package store

import (
	"sync"
	"testing"

	"meshkv/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMap(id byte) *Map {
	return NewMap(id, metrics.NewRegistry())
}

func TestMapPutGet(t *testing.T) {
	m := newTestMap(1)

	t.Run("put then get", func(t *testing.T) {
		m.Put([]byte("key1"), []byte("hello"))

		e, ok := m.Get([]byte("key1"))
		require.True(t, ok)
		assert.Equal(t, []byte("hello"), e.Value)
	})

	t.Run("get missing key", func(t *testing.T) {
		_, ok := m.Get([]byte("missing"))
		assert.False(t, ok)
	})
}

func TestMapRemove(t *testing.T) {
	m := newTestMap(1)
	m.Put([]byte("key1"), []byte("1"))

	m.Remove([]byte("key1"))

	_, ok := m.Get([]byte("key1"))
	assert.False(t, ok)
}

func TestMapLastWriteWinsLocal(t *testing.T) {
	m := newTestMap(1)

	m.Put([]byte("key1"), []byte("old"))
	e, ok := m.Get([]byte("key1"))
	require.True(t, ok)
	assert.Equal(t, []byte("old"), e.Value)

	m.Put([]byte("key1"), []byte("new"))
	e, _ = m.Get([]byte("key1"))
	assert.Equal(t, []byte("new"), e.Value)
}

func TestMapApplyIncomingMergeRule(t *testing.T) {
	m := newTestMap(1)

	// A later write from a remote with a lower identifier still wins
	// on timestamp.
	err := m.ApplyIncoming(Entry{Key: []byte("k"), Value: []byte("v1"), HasValue: true, Timestamp: 10, ModifierID: 9})
	require.NoError(t, err)

	e, ok := m.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), e.Value)

	// A stale incoming write (lower timestamp) is discarded.
	err = m.ApplyIncoming(Entry{Key: []byte("k"), Value: []byte("stale"), HasValue: true, Timestamp: 5, ModifierID: 50})
	require.NoError(t, err)

	e, _ = m.Get([]byte("k"))
	assert.Equal(t, []byte("v1"), e.Value)

	// A same-timestamp write with a higher modifier identifier wins.
	err = m.ApplyIncoming(Entry{Key: []byte("k"), Value: []byte("v2"), HasValue: true, Timestamp: 10, ModifierID: 20})
	require.NoError(t, err)

	e, _ = m.Get([]byte("k"))
	assert.Equal(t, []byte("v2"), e.Value)
}

func TestMapApplyIncomingTombstoneNoResurrection(t *testing.T) {
	m := newTestMap(1)

	err := m.ApplyIncoming(Entry{Key: []byte("k"), HasValue: false, Timestamp: 100, ModifierID: 5})
	require.NoError(t, err)

	// An older live value cannot resurrect the key.
	err = m.ApplyIncoming(Entry{Key: []byte("k"), Value: []byte("zombie"), HasValue: true, Timestamp: 50, ModifierID: 99})
	require.NoError(t, err)

	_, ok := m.Get([]byte("k"))
	assert.False(t, ok, "tombstone with later timestamp must not be overwritten by an older live write")
}

func TestMapApplyIncomingDoesNotTagOtherPeers(t *testing.T) {
	m := newTestMap(1)
	it3 := m.ModificationIteratorFor(3)

	err := m.ApplyIncoming(Entry{Key: []byte("k"), Value: []byte("v"), HasValue: true, Timestamp: 1, ModifierID: 2})
	require.NoError(t, err)

	delivered := it3.NextEntry(func(Entry) bool { return true })
	assert.False(t, delivered, "receiving an entry must not mark it dirty for other peers")
}

func TestMapPutTagsAllKnownPeers(t *testing.T) {
	m := newTestMap(1)
	it2 := m.ModificationIteratorFor(2)
	it3 := m.ModificationIteratorFor(3)

	m.Put([]byte("k"), []byte("v"))

	var got2, got3 Entry
	ok2 := it2.NextEntry(func(e Entry) bool { got2 = e; return true })
	ok3 := it3.NextEntry(func(e Entry) bool { got3 = e; return true })

	require.True(t, ok2)
	require.True(t, ok3)
	assert.Equal(t, []byte("v"), got2.Value)
	assert.Equal(t, []byte("v"), got3.Value)
}

func TestModificationIteratorSinkDeclineRestoresBit(t *testing.T) {
	m := newTestMap(1)
	it := m.ModificationIteratorFor(2)
	m.Put([]byte("k"), []byte("v"))

	ok := it.NextEntry(func(Entry) bool { return false })
	assert.False(t, ok)

	// The bit must still be set: a second attempt should see the
	// same entry again.
	var got Entry
	ok = it.NextEntry(func(e Entry) bool { got = e; return true })
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got.Value)
}

func TestModificationIteratorDirtyEntriesFrom(t *testing.T) {
	m := newTestMap(1)
	m.Put([]byte("old"), []byte("1")) // some early timestamp
	m.Put([]byte("new"), []byte("2")) // later timestamp

	it := m.ModificationIteratorFor(9)
	// Drain whatever Put already marked dirty so the bootstrap scan
	// below starts from a clean slate.
	for it.NextEntry(func(Entry) bool { return true }) {
	}

	oldEntry, _ := m.Get([]byte("old"))
	it.DirtyEntriesFrom(oldEntry.Timestamp)

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		if !it.NextEntry(func(e Entry) bool { seen[string(e.Key)] = true; return true }) {
			break
		}
	}
	assert.True(t, seen["old"])
	assert.True(t, seen["new"])
}

func TestMapConcurrentWrites(t *testing.T) {
	m := newTestMap(1)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.Put([]byte("key"), []byte("value"))
		}(i)
	}
	wg.Wait()

	_, ok := m.Get([]byte("key"))
	assert.True(t, ok)
}

func TestModificationIteratorFanoutIsIdempotent(t *testing.T) {
	m := newTestMap(1)
	a := m.ModificationIteratorFor(2)
	b := m.ModificationIteratorFor(2)
	assert.Same(t, a, b)
}
