package store

// Merge implements the convergent last-writer-wins rule. Given the
// current local entry for a key (localOK false if the key has never
// been seen) and an incoming entry for the same key, it reports
// whether incoming should be installed in place of local.
//
// Tombstones are ordinary values for this comparison: a delete is just
// a write with HasValue=false, and wins or loses exactly like any
// other write.
func Merge(local Entry, localOK bool, incoming Entry) bool {
	if !localOK {
		return true
	}
	if incoming.Timestamp != local.Timestamp {
		return incoming.Timestamp > local.Timestamp
	}
	return incoming.ModifierID > local.ModifierID
}
