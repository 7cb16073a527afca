package strata

import "encoding/json"

// Collection is a typed view over one named collection (§4.9). It holds no
// state of its own beyond its name and a pointer back to the owning store;
// encoding to/from JSON is the only work it does that the untyped
// rawCollection doesn't already do (§9 design note: avoid a
// Store/Collection reference cycle by having Collection look its raw engine
// up by name on demand rather than embedding mutable shared state).
type Collection[T any] struct {
	name  string
	store *Store
}

// HistoryEntry is one version of a document, as returned by History.
type HistoryEntry[T any] struct {
	Seq     uint64
	Value   T
	Deleted bool
}

func encodeID(id any) ([]byte, error) { return json.Marshal(id) }

// GetCollection returns (creating if absent) a typed handle on name,
// registering its apply/validate hooks with the store and consuming any
// bootstrap entries left over from Open (§4.8.6). GetCollection is a
// package function rather than a Store method because Go forbids type
// parameters on methods.
func GetCollection[T any](s *Store, name string) *Collection[T] {
	s.rawCollection(name)
	return &Collection[T]{name: name, store: s}
}

// DefineIndex registers def against the collection, persists it in the
// manifest's index catalog, and backfills it from current history (§4.9).
func (c *Collection[T]) DefineIndex(def IndexDef) error {
	if err := c.store.defineIndex(c.name, def); err != nil {
		return err
	}
	c.store.rawCollection(c.name).defineIndex(def)
	return nil
}

// Put writes one document, equivalent to a one-op batch (§4.8.2).
func (c *Collection[T]) Put(id any, value T) error {
	idJSON, err := encodeID(id)
	if err != nil {
		return err
	}
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.store.batch([]batchOp{{Collection: c.name, ID: idJSON, Value: valueJSON}}, nil)
}

// Delete tombstones one document, equivalent to a one-op batch (§4.8.2).
func (c *Collection[T]) Delete(id any) error {
	idJSON, err := encodeID(id)
	if err != nil {
		return err
	}
	return c.store.batch([]batchOp{{Collection: c.name, ID: idJSON, Delete: true}}, nil)
}

// Get returns id's latest value visible at snapshot (nil for "now") (§4.8.4).
func (c *Collection[T]) Get(id any, snapshot *Snapshot) (value T, ok bool, err error) {
	idJSON, err := encodeID(id)
	if err != nil {
		return value, false, err
	}
	raw, found := c.store.rawCollection(c.name).get(idJSON, snapshotBound(snapshot))
	if !found {
		return value, false, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false, err
	}
	return value, true, nil
}

// ByIndex resolves every document a unique/multi/fts index key currently
// maps to, as of snapshot (§4.9).
func (c *Collection[T]) ByIndex(indexName, key string, snapshot *Snapshot) ([]T, error) {
	return decodeResults[T](c.store.rawCollection(c.name).byIndex(indexName, key, snapshotBound(snapshot)))
}

// ScanIndex enumerates documents whose multi/fts index key starts with
// prefix, ordered by key then encoded id, up to limit (0 uses the store's
// default scan limit) (§4.9).
func (c *Collection[T]) ScanIndex(indexName, prefix string, limit int, snapshot *Snapshot) ([]T, error) {
	if limit <= 0 {
		limit = c.store.options.DefaultScanLimit
	}
	return decodeResults[T](c.store.rawCollection(c.name).scanIndex(indexName, prefix, limit, snapshotBound(snapshot)))
}

// Scan returns every live document whose encoded id starts with prefix, up
// to limit (0 uses the store's default scan limit) (§4.9).
func (c *Collection[T]) Scan(prefix []byte, limit int, snapshot *Snapshot) ([]T, error) {
	if limit <= 0 {
		limit = c.store.options.DefaultScanLimit
	}
	return decodeResults[T](c.store.rawCollection(c.name).scan(prefix, limit, snapshotBound(snapshot)))
}

// NearestNeighbors runs brute-force cosine-similarity top-k search over a
// vector index (§7 supplemented feature).
func (c *Collection[T]) NearestNeighbors(indexName string, query []float64, k int, snapshot *Snapshot) ([]T, error) {
	return decodeResults[T](c.store.rawCollection(c.name).nearestNeighbors(indexName, query, k, snapshotBound(snapshot)))
}

// History returns id's version list truncated to snapshot (§4.9).
func (c *Collection[T]) History(id any, snapshot *Snapshot) ([]HistoryEntry[T], error) {
	idJSON, err := encodeID(id)
	if err != nil {
		return nil, err
	}
	versions := c.store.rawCollection(c.name).historyOf(idJSON, snapshotBound(snapshot))
	out := make([]HistoryEntry[T], 0, len(versions))
	for _, v := range versions {
		entry := HistoryEntry[T]{Seq: v.Seq, Deleted: v.Value == nil}
		if !entry.Deleted {
			if err := json.Unmarshal(v.Value, &entry.Value); err != nil {
				return nil, err
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func decodeResults[T any](results []rawResult) ([]T, error) {
	out := make([]T, 0, len(results))
	for _, r := range results {
		var v T
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
