package strata

import "encoding/json"

// Op is one put-or-delete in a cross-collection Batch (§4.8.2, §6).
type Op struct {
	Collection string
	ID         any
	Value      any // ignored when Delete is true
	Delete     bool
}

// Batch commits ops as a single WAL transaction spanning any mix of
// collections (§4.8.2). requireSequenceAtLeast, if non-nil, fails the batch
// with SequenceTooLowError before any durable effect if the store's current
// sequence hasn't reached it yet.
func (s *Store) Batch(ops []Op, requireSequenceAtLeast *uint64) error {
	converted := make([]batchOp, len(ops))
	for i, op := range ops {
		idJSON, err := encodeID(op.ID)
		if err != nil {
			return err
		}
		var valueJSON []byte
		if !op.Delete {
			valueJSON, err = json.Marshal(op.Value)
			if err != nil {
				return err
			}
		}
		converted[i] = batchOp{Collection: op.Collection, ID: idJSON, Value: valueJSON, Delete: op.Delete}
	}
	return s.batch(converted, requireSequenceAtLeast)
}

// ListCollections returns every known collection name (§6).
func (s *Store) ListCollections() []string { return s.listCollections() }

// DropCollection removes name from the catalog; existing records are left
// in place until overwrite or compaction reclaims them (§6, §9).
func (s *Store) DropCollection(name string) error { return s.dropCollection(name) }
