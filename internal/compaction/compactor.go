package compaction

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/oarkflow/strata/internal/cache"
	"github.com/oarkflow/strata/internal/manifest"
	"github.com/oarkflow/strata/internal/sstable"
)

// Compactor runs single-tick, re-entry-guarded compaction over the tables
// a manifest tracks, per §4.7.
type Compactor struct {
	dir      string
	manifest *manifest.Manifest
	cache    *cache.Cache

	mu      sync.Mutex
	running bool
}

// New builds a compactor bound to a store's directory, manifest, and block
// cache.
func New(dir string, m *manifest.Manifest, c *cache.Cache) *Compactor {
	return &Compactor{dir: dir, manifest: m, cache: c}
}

func (co *Compactor) loadInfos() (map[string]TableInfo, map[string]*sstable.Table, error) {
	tables := co.manifest.Tables()
	infos := make(map[string]TableInfo, len(tables))
	handles := make(map[string]*sstable.Table, len(tables))

	for id, path := range tables {
		stat, err := os.Stat(path)
		if err != nil {
			continue // table referenced by manifest but missing: skip this tick, not fatal
		}
		tbl, err := sstable.Open(path, id, co.cache)
		if err != nil {
			return nil, nil, err
		}
		min, max, err := tbl.KeyRange()
		if err != nil {
			tbl.Close()
			return nil, nil, err
		}
		infos[id] = TableInfo{ID: id, Path: path, Size: stat.Size(), MinKey: min, MaxKey: max}
		handles[id] = tbl
	}
	return infos, handles, nil
}

func closeAll(handles map[string]*sstable.Table) {
	for _, h := range handles {
		h.Close()
	}
}

// Status reports the compactor's current externally-observable state,
// used by the store to decide write backpressure.
func (co *Compactor) Status() (Status, error) {
	infos, handles, err := co.loadInfos()
	if err != nil {
		return Status{}, err
	}
	defer closeAll(handles)

	list := make([]TableInfo, 0, len(infos))
	for _, info := range infos {
		list = append(list, info)
	}
	st := ComputeStatus(list)

	co.mu.Lock()
	st.Running = co.running
	co.mu.Unlock()
	return st, nil
}

// Tick performs at most one compaction pass: load the manifest, select up
// to two groups per the two-mode policy, merge each, and swap the
// manifest. A concurrent Tick call is a no-op (re-entry guarded).
func (co *Compactor) Tick() error {
	co.mu.Lock()
	if co.running {
		co.mu.Unlock()
		return nil
	}
	co.running = true
	co.mu.Unlock()
	defer func() {
		co.mu.Lock()
		co.running = false
		co.mu.Unlock()
	}()

	infos, handles, err := co.loadInfos()
	if err != nil {
		return err
	}
	defer closeAll(handles)

	if len(infos) < 2 {
		return nil
	}

	list := make([]TableInfo, 0, len(infos))
	for _, info := range infos {
		list = append(list, info)
	}
	groups := ChooseGroups(list)

	for _, g := range groups {
		if err := co.mergeGroup(g, handles); err != nil {
			return err
		}
	}
	return nil
}

// mergeGroup implements §4.7 step 5: read all entries from all group
// members, stable-sort by key, keep the last occurrence per exact key
// (last-in-wins), write a replacement SSTable, and swap the manifest.
func (co *Compactor) mergeGroup(g Group, handles map[string]*sstable.Table) error {
	ids := make([]string, 0, len(g.Tables))
	for _, t := range g.Tables {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids) // deterministic input order for the stable sort below

	var combined []sstable.Entry
	for _, id := range ids {
		entries, err := handles[id].Scan()
		if err != nil {
			return err
		}
		combined = append(combined, entries...)
	}

	sort.SliceStable(combined, func(i, j int) bool {
		return bytes.Compare(combined[i].Key, combined[j].Key) < 0
	})

	merged := make([]sstable.Entry, 0, len(combined))
	indexOf := make(map[string]int, len(combined))
	for _, e := range combined {
		k := string(e.Key)
		if idx, ok := indexOf[k]; ok {
			merged[idx] = e
			continue
		}
		indexOf[k] = len(merged)
		merged = append(merged, e)
	}

	newID := uuid.New().String()
	newPath := filepath.Join(co.dir, newID+".sst")
	newTable, err := sstable.Create(newPath, newID, merged, co.cache)
	if err != nil {
		return err
	}
	newTable.Close()

	if err := co.manifest.ApplyCompaction(ids, newID, newPath); err != nil {
		os.Remove(newPath)
		return err
	}

	for _, id := range ids {
		if h, ok := handles[id]; ok {
			h.Close()
			delete(handles, id)
		}
		os.Remove(g.pathOf(id))
		co.cache.RemoveTable(id)
	}
	return nil
}

func (g Group) pathOf(id string) string {
	for _, t := range g.Tables {
		if t.ID == id {
			return t.Path
		}
	}
	return ""
}
