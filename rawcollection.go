package strata

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// historyVersion is one entry in a document's version list: (seq, value?).
// A nil Value is a tombstone (§3, §4.9).
type historyVersion struct {
	Seq   uint64
	Value []byte
}

// uniqueVersion is one entry in a unique index's per-key version list
// (§3): (seq, id?). A nil ID means the key was released at that sequence.
type uniqueVersion struct {
	Seq uint64
	ID  []byte
}

// multiVersion is one entry in a multi or FTS index's per-key version list
// (§3): the full id set holding that key as of seq.
type multiVersion struct {
	Seq uint64
	IDs [][]byte
}

// vectorVersion is one entry in a vector index's per-id version list. A nil
// Vec means the vector was removed at that sequence.
type vectorVersion struct {
	Seq uint64
	Vec []float64
}

// rawResult pairs a resolved id with its document value, as returned by
// byIndex/scanIndex/scan.
type rawResult struct {
	ID    []byte
	Value []byte
}

// rawCollection is the untyped, JSON-byte-based engine behind every typed
// Collection[T]: document history plus secondary-index state, all grouped
// by collection name (§4.9). Collection[T] is a thin JSON marshal/unmarshal
// skin over this; the store's replay and bootstrap paths operate on it
// directly since they never see a concrete T.
type rawCollection struct {
	name string

	mu      sync.RWMutex
	history map[string][]historyVersion // key: string(idJSON)

	defs []IndexDef

	uniqueIdx map[string]map[string][]uniqueVersion // indexName -> key -> versions
	multiIdx  map[string]map[string][]multiVersion   // indexName -> key -> versions
	ftsIdx    map[string]map[string][]multiVersion   // indexName -> term -> versions
	docTerms  map[string]map[string][]string         // indexName -> idStr -> last tokenized terms
	vectorIdx map[string]map[string][]vectorVersion   // indexName -> idStr -> versions
}

func newRawCollection(name string) *rawCollection {
	return &rawCollection{
		name:      name,
		history:   make(map[string][]historyVersion),
		uniqueIdx: make(map[string]map[string][]uniqueVersion),
		multiIdx:  make(map[string]map[string][]multiVersion),
		ftsIdx:    make(map[string]map[string][]multiVersion),
		docTerms:  make(map[string]map[string][]string),
		vectorIdx: make(map[string]map[string][]vectorVersion),
	}
}

func decodeDoc(value []byte) (any, bool) {
	if len(value) == 0 {
		return nil, false
	}
	var tree any
	if err := json.Unmarshal(value, &tree); err != nil {
		return nil, false
	}
	return tree, true
}

func (rc *rawCollection) latestHistoryLocked(idStr string, bound uint64) ([]byte, bool) {
	versions := rc.history[idStr]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Seq < bound {
			if versions[i].Value == nil {
				return nil, false
			}
			return versions[i].Value, true
		}
	}
	return nil, false
}

// defineIndex registers def, backfilling it from the current history heads
// (§4.9 "define index... backfills from current history heads").
func (rc *rawCollection) defineIndex(def IndexDef) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	replaced := false
	for i, d := range rc.defs {
		if d.Name == def.Name {
			rc.defs[i] = def
			replaced = true
			break
		}
	}
	if !replaced {
		rc.defs = append(rc.defs, def)
	}

	switch def.Kind {
	case IndexUnique:
		rc.uniqueIdx[def.Name] = make(map[string][]uniqueVersion)
	case IndexMulti:
		rc.multiIdx[def.Name] = make(map[string][]multiVersion)
	case IndexFTS:
		rc.ftsIdx[def.Name] = make(map[string][]multiVersion)
		rc.docTerms[def.Name] = make(map[string][]string)
	case IndexVector:
		rc.vectorIdx[def.Name] = make(map[string][]vectorVersion)
	}

	for idStr, versions := range rc.history {
		if len(versions) == 0 {
			continue
		}
		head := versions[len(versions)-1]
		if head.Value == nil {
			continue
		}
		rc.indexOneLocked(def, []byte(idStr), nil, head.Value, head.Seq)
	}
}

// validatePut checks a single id/value pair against every unique index's
// current head (skipping the document's own id), plus an in-batch overlay
// of keys already claimed earlier in the same batch (§4.8.2 step 3, §4.9
// Put).
func (rc *rawCollection) validatePut(idJSON, value []byte, overlay map[string]map[string]string) error {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	tree, ok := decodeDoc(value)
	if !ok {
		return nil
	}
	idStr := string(idJSON)

	for _, def := range rc.defs {
		if def.Kind != IndexUnique {
			continue
		}
		key, ok := toStringKey(extractOrNil(tree, def.Path))
		if !ok {
			continue
		}
		if heads, ok := rc.uniqueIdx[def.Name]; ok {
			if vs, ok := heads[key]; ok && len(vs) > 0 {
				if holder := vs[len(vs)-1].ID; holder != nil && string(holder) != idStr {
					return &UniqueConstraintError{Index: def.Name, Key: key}
				}
			}
		}
		o := overlay[def.Name]
		if o == nil {
			o = make(map[string]string)
			overlay[def.Name] = o
		}
		if holder, claimed := o[key]; claimed && holder != idStr {
			return &UniqueConstraintError{Index: def.Name, Key: key}
		}
		o[key] = idStr
	}
	return nil
}

func extractOrNil(tree any, path string) any {
	v, ok := extractPath(tree, path)
	if !ok {
		return nil
	}
	return v
}

// applyPut appends a new version to history and updates every defined
// index, diffing against the previous head (§4.9 Put).
func (rc *rawCollection) applyPut(idJSON, value []byte, seq uint64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	idStr := string(idJSON)
	oldValue, hadOld := rc.latestHistoryLocked(idStr, noSnapshotBound)
	rc.history[idStr] = append(rc.history[idStr], historyVersion{Seq: seq, Value: append([]byte{}, value...)})

	var oldTree any
	if hadOld {
		oldTree, _ = decodeDoc(oldValue)
	}
	for _, def := range rc.defs {
		rc.indexOneLocked(def, idJSON, oldTree, value, seq)
	}
}

// applyDelete appends a tombstone and removes every index entry the
// document's last live version held (§4.9 Delete).
func (rc *rawCollection) applyDelete(idJSON []byte, seq uint64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	idStr := string(idJSON)
	oldValue, hadOld := rc.latestHistoryLocked(idStr, noSnapshotBound)
	rc.history[idStr] = append(rc.history[idStr], historyVersion{Seq: seq, Value: nil})
	if !hadOld {
		return
	}
	oldTree, _ := decodeDoc(oldValue)
	for _, def := range rc.defs {
		rc.indexOneLocked(def, idJSON, oldTree, nil, seq)
	}
}

// indexOneLocked updates a single index definition for one id transitioning
// from oldTree (nil if none) to newValue (nil if deleted), at seq. Caller
// holds rc.mu.
func (rc *rawCollection) indexOneLocked(def IndexDef, idJSON []byte, oldTree any, newValue []byte, seq uint64) {
	idStr := string(idJSON)
	var newTree any
	if len(newValue) > 0 {
		newTree, _ = decodeDoc(newValue)
	}

	switch def.Kind {
	case IndexUnique:
		oldKey, hadOldKey := toStringKey(extractOrNil(oldTree, def.Path))
		newKey, hasNewKey := toStringKey(extractOrNil(newTree, def.Path))
		if hadOldKey && (!hasNewKey || oldKey != newKey) {
			rc.appendUniqueVersion(def.Name, oldKey, seq, nil)
		}
		if hasNewKey && (!hadOldKey || oldKey != newKey) {
			rc.appendUniqueVersion(def.Name, newKey, seq, idJSON)
		}

	case IndexMulti:
		oldKeys := toStringSlice(extractOrNil(oldTree, def.Path))
		newKeys := toStringSlice(extractOrNil(newTree, def.Path))
		for _, k := range setDiff(oldKeys, newKeys) {
			rc.updateMultiVersion(rc.multiIdx, def.Name, k, seq, idJSON, false)
		}
		for _, k := range setDiff(newKeys, oldKeys) {
			rc.updateMultiVersion(rc.multiIdx, def.Name, k, seq, idJSON, true)
		}

	case IndexFTS:
		var oldText, newText string
		if s, ok := toStringKey(extractOrNil(oldTree, def.Path)); ok {
			oldText = s
		}
		if s, ok := toStringKey(extractOrNil(newTree, def.Path)); ok {
			newText = s
		}
		oldTerms := tokenize(oldText)
		newTerms := tokenize(newText)
		for _, term := range setDiff(oldTerms, newTerms) {
			rc.updateMultiVersion(rc.ftsIdx, def.Name, term, seq, idJSON, false)
		}
		for _, term := range setDiff(newTerms, oldTerms) {
			rc.updateMultiVersion(rc.ftsIdx, def.Name, term, seq, idJSON, true)
		}
		if terms := rc.docTerms[def.Name]; terms != nil {
			if len(newTerms) == 0 {
				delete(terms, idStr)
			} else {
				terms[idStr] = newTerms
			}
		}

	case IndexVector:
		vec, ok := toFloatSlice(extractOrNil(newTree, def.Path))
		idx := rc.vectorIdx[def.Name]
		if idx == nil {
			idx = make(map[string][]vectorVersion)
			rc.vectorIdx[def.Name] = idx
		}
		if ok {
			idx[idStr] = append(idx[idStr], vectorVersion{Seq: seq, Vec: vec})
		} else {
			idx[idStr] = append(idx[idStr], vectorVersion{Seq: seq, Vec: nil})
		}
	}
}

func (rc *rawCollection) appendUniqueVersion(indexName, key string, seq uint64, id []byte) {
	idx := rc.uniqueIdx[indexName]
	if idx == nil {
		idx = make(map[string][]uniqueVersion)
		rc.uniqueIdx[indexName] = idx
	}
	var stored []byte
	if id != nil {
		stored = append([]byte{}, id...)
	}
	idx[key] = append(idx[key], uniqueVersion{Seq: seq, ID: stored})
}

func (rc *rawCollection) updateMultiVersion(store map[string]map[string][]multiVersion, indexName, key string, seq uint64, idJSON []byte, add bool) {
	idx := store[indexName]
	if idx == nil {
		idx = make(map[string][]multiVersion)
		store[indexName] = idx
	}
	var cur [][]byte
	if vs := idx[key]; len(vs) > 0 {
		cur = append(cur, vs[len(vs)-1].IDs...)
	}
	var next [][]byte
	if add {
		next = append(next, cur...)
		next = append(next, append([]byte{}, idJSON...))
	} else {
		for _, id := range cur {
			if !bytes.Equal(id, idJSON) {
				next = append(next, id)
			}
		}
	}
	sort.Slice(next, func(i, j int) bool { return bytes.Compare(next[i], next[j]) < 0 })
	idx[key] = append(idx[key], multiVersion{Seq: seq, IDs: next})
}

func setDiff(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, s := range b {
		inB[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := inB[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func (rc *rawCollection) get(idJSON []byte, bound uint64) ([]byte, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.latestHistoryLocked(string(idJSON), bound)
}

// byIndex resolves every id a key currently (as of bound) maps to, and
// their documents (§4.9).
func (rc *rawCollection) byIndex(indexName, key string, bound uint64) []rawResult {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	var ids [][]byte
	if idx, ok := rc.uniqueIdx[indexName]; ok {
		if vs, ok := idx[key]; ok {
			for i := len(vs) - 1; i >= 0; i-- {
				if vs[i].Seq < bound {
					if vs[i].ID != nil {
						ids = [][]byte{vs[i].ID}
					}
					break
				}
			}
		}
	} else if idx, ok := rc.multiIdx[indexName]; ok {
		ids = latestIDSet(idx[key], bound)
	} else if idx, ok := rc.ftsIdx[indexName]; ok {
		ids = latestIDSet(idx[key], bound)
	}

	return rc.resolveDocs(ids, bound)
}

func latestIDSet(versions []multiVersion, bound uint64) [][]byte {
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Seq < bound {
			return versions[i].IDs
		}
	}
	return nil
}

func (rc *rawCollection) resolveDocs(ids [][]byte, bound uint64) []rawResult {
	out := make([]rawResult, 0, len(ids))
	for _, id := range ids {
		if v, ok := rc.latestHistoryLocked(string(id), bound); ok {
			out = append(out, rawResult{ID: id, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID, out[j].ID) < 0 })
	return out
}

// scanIndex enumerates index keys with the given prefix, resolving each
// key's id set at bound, ordered by index key then encoded id (§4.9).
func (rc *rawCollection) scanIndex(indexName, prefix string, limit int, bound uint64) []rawResult {
	rc.mu.RLock()
	var keys []string
	var table map[string][]multiVersion
	if idx, ok := rc.multiIdx[indexName]; ok {
		table = idx
	} else if idx, ok := rc.ftsIdx[indexName]; ok {
		table = idx
	}
	if table != nil {
		for k := range table {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	var out []rawResult
	for _, k := range keys {
		ids := latestIDSet(table[k], bound)
		out = append(out, rc.resolveDocs(ids, bound)...)
		if limit > 0 && len(out) >= limit {
			out = out[:limit]
			break
		}
	}
	rc.mu.RUnlock()
	return out
}

// scan returns every live document whose encoded id starts with prefix, as
// of bound, ordered lexicographically by encoded id, up to limit (§4.9).
func (rc *rawCollection) scan(prefix []byte, limit int, bound uint64) []rawResult {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	var out []rawResult
	for idStr := range rc.history {
		if len(prefix) > 0 && !bytes.HasPrefix([]byte(idStr), prefix) {
			continue
		}
		if v, ok := rc.latestHistoryLocked(idStr, bound); ok {
			out = append(out, rawResult{ID: []byte(idStr), Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID, out[j].ID) < 0 })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// historyOf returns id's version list truncated to seq < bound (§4.9).
func (rc *rawCollection) historyOf(idJSON []byte, bound uint64) []historyVersion {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	var out []historyVersion
	for _, v := range rc.history[string(idJSON)] {
		if v.Seq < bound {
			out = append(out, v)
		}
	}
	return out
}
