// Package manifest implements the durable catalog of live SSTables, the
// last durable sequence, and index definitions (§4.5).
//
// The teacher repo has no equivalent of a separate manifest file: its
// SSTable set is tracked purely in memory and rebuilt by directory listing
// at startup. This package is grounded instead on the pack's log-structured
// reference design (SiltKV's internal/lsm manifest), adapted to the
// teacher's own persistence idiom elsewhere in the codebase: plain
// encoding/json structures, written atomically via a temp file and rename.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const fileName = "MANIFEST.json"

// IndexKind enumerates the secondary-index flavors a collection can
// register (§4.7).
type IndexKind string

const (
	IndexUnique IndexKind = "unique"
	IndexMulti  IndexKind = "multi"
	IndexFTS    IndexKind = "fts"
	IndexVector IndexKind = "vector"
)

// IndexDef describes one secondary index persisted in the catalog.
type IndexDef struct {
	Name  string    `json:"name"`
	Kind  IndexKind `json:"kind"`
	Field string    `json:"field,omitempty"`
}

// State is the manifest's on-disk shape.
type State struct {
	Sequence     uint64                `json:"sequence"`
	Tables       map[string]string     `json:"tables"`
	IndexCatalog map[string][]IndexDef `json:"indexCatalog"`
}

func newEmptyState() State {
	return State{
		Tables:       make(map[string]string),
		IndexCatalog: make(map[string][]IndexDef),
	}
}

// Manifest owns the catalog's current state and its atomic persistence.
// The store's single-writer mutex serializes ordinary batch/flush traffic,
// but compaction swaps the manifest from its own background goroutine
// (§4.7 Tick), outside that serialization point — so every read and
// read-modify-write here is guarded by mu, and each of ApplyFlush /
// ApplyCompaction / DefineIndex runs its clone-mutate-save sequence as one
// critical section. Without that, a flush and a concurrent compaction tick
// can each clone the pre-update state, race to Save, and the loser's
// update (e.g. a flush's new table, or a compaction's retired-table set)
// is silently lost (§5).
type Manifest struct {
	mu    sync.Mutex
	dir   string
	state State
}

// Load reads dir/MANIFEST.json. A missing file yields an initial empty
// state (§4.5); a file that fails to decode is a fatal corrupt error.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{dir: dir, state: newEmptyState()}, nil
		}
		return nil, err
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("manifest: corrupt catalog: %w", err)
	}
	if st.Tables == nil {
		st.Tables = make(map[string]string)
	}
	if st.IndexCatalog == nil {
		st.IndexCatalog = make(map[string][]IndexDef)
	}
	return &Manifest{dir: dir, state: st}, nil
}

// Sequence returns the last durable sequence.
func (m *Manifest) Sequence() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Sequence
}

// Tables returns a copy of the live table-id → path mapping.
func (m *Manifest) Tables() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.state.Tables))
	for k, v := range m.state.Tables {
		out[k] = v
	}
	return out
}

// IndexCatalog returns a copy of the per-collection index definitions.
func (m *Manifest) IndexCatalog() map[string][]IndexDef {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]IndexDef, len(m.state.IndexCatalog))
	for k, v := range m.state.IndexCatalog {
		cp := make([]IndexDef, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Save persists a full replacement state atomically: write to
// MANIFEST.json.tmp, then rename into place (§4.5).
func (m *Manifest) Save(st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(st)
}

func (m *Manifest) saveLocked(st State) error {
	if st.Tables == nil {
		st.Tables = make(map[string]string)
	}
	if st.IndexCatalog == nil {
		st.IndexCatalog = make(map[string][]IndexDef)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(m.dir, fileName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	m.state = st
	return nil
}

// ApplyFlush is the common write path after a memtable flush: bump the
// sequence, register the new table, save atomically (§4.8.3 step 4).
func (m *Manifest) ApplyFlush(newSequence uint64, tableID, tablePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.cloneStateLocked()
	next.Sequence = newSequence
	next.Tables[tableID] = tablePath
	return m.saveLocked(next)
}

// ApplyCompaction retires a set of input table ids and registers their
// replacement, atomically (§4.6 step 5).
func (m *Manifest) ApplyCompaction(removeIDs []string, newTableID, newTablePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.cloneStateLocked()
	for _, id := range removeIDs {
		delete(next.Tables, id)
	}
	next.Tables[newTableID] = newTablePath
	return m.saveLocked(next)
}

// DefineIndex registers or replaces an index definition for a collection
// in the persisted catalog (§4.7).
func (m *Manifest) DefineIndex(collection string, def IndexDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.cloneStateLocked()
	defs := next.IndexCatalog[collection]
	replaced := false
	for i, d := range defs {
		if d.Name == def.Name {
			defs[i] = def
			replaced = true
			break
		}
	}
	if !replaced {
		defs = append(defs, def)
	}
	next.IndexCatalog[collection] = defs
	return m.saveLocked(next)
}

// cloneStateLocked returns a deep copy of the current state. Caller holds
// mu.
func (m *Manifest) cloneStateLocked() State {
	next := State{
		Sequence:     m.state.Sequence,
		Tables:       make(map[string]string, len(m.state.Tables)),
		IndexCatalog: make(map[string][]IndexDef, len(m.state.IndexCatalog)),
	}
	for k, v := range m.state.Tables {
		next.Tables[k] = v
	}
	for k, v := range m.state.IndexCatalog {
		cp := make([]IndexDef, len(v))
		copy(cp, v)
		next.IndexCatalog[k] = cp
	}
	return next
}
