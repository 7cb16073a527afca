package strata

// Snapshot is an opaque read view bound to a sequence (§3, §4.8.7). It
// pins no data on its own. The store records live snapshots in a registry,
// but compaction does not consult it: compaction never discards a version,
// it only collapses byte-identical keys.
type Snapshot struct {
	seq uint64
}

// Sequence returns the snapshot's bound sequence.
func (s Snapshot) Sequence() uint64 { return s.seq }

const noSnapshotBound = ^uint64(0)

func snapshotBound(s *Snapshot) uint64 {
	if s == nil {
		return noSnapshotBound
	}
	return s.seq
}
