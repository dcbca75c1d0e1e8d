package store

// EntrySink receives one entry handed off by a ModificationIterator.
// It reports whether the handoff succeeded (e.g. it was serialized
// and queued for send); on false the iterator re-sets the bit so the
// entry is retried on a later scan.
type EntrySink func(Entry) bool

// ModificationIterator is a per-remote cursor over the slots this
// node has locally mutated and not yet delivered to that remote. It
// never delivers updates in timestamp order — fairness is by slot,
// round-robin — which is safe because Merge makes delivery order
// irrelevant to convergence.
type ModificationIterator struct {
	m    *Map
	bits *bitset
}

// NextEntry scans forward from the cursor, wrapping once. If it finds
// a dirty slot, it clears the bit, loads the slot, and hands it to
// sink. If sink declines, the bit is re-set before returning so the
// slot remains eligible for a later attempt.
//
// Returns true only when an entry was delivered (sink returned true).
// Returns false both when a full scan found nothing dirty and when
// the sink declined the one entry found.
func (it *ModificationIterator) NextEntry(sink EntrySink) bool {
	it.m.mu.Lock()
	limit := len(it.m.slots)
	idx, ok := it.bits.nextSet(limit)
	if !ok {
		it.m.mu.Unlock()
		return false
	}
	it.bits.clear(idx)
	entry := it.m.slots[idx].clone()
	it.m.mu.Unlock()

	if sink(entry) {
		return true
	}

	it.m.mu.Lock()
	it.bits.set(idx)
	it.m.mu.Unlock()
	return false
}

// DirtyEntriesFrom bulk-sets every bit whose slot carries a timestamp
// greater than or equal to ts. Used at session bootstrap to replay
// everything a remote peer may have missed since it last connected.
func (it *ModificationIterator) DirtyEntriesFrom(ts int64) {
	it.m.mu.Lock()
	defer it.m.mu.Unlock()

	for idx, e := range it.m.slots {
		if e.Timestamp >= ts {
			it.bits.set(idx)
		}
	}
}
