package strata

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/strata/internal/cache"
	"github.com/oarkflow/strata/internal/compaction"
	"github.com/oarkflow/strata/internal/manifest"
	"github.com/oarkflow/strata/internal/memtable"
	"github.com/oarkflow/strata/internal/sstable"
	"github.com/oarkflow/strata/internal/wal"
)

const backpressureDebtThreshold = 512 * 1024

// batchOp is one put-or-delete addressing a collection, as submitted to
// Store.batch (§4.8.2).
type batchOp struct {
	Collection string
	ID         []byte
	Value      []byte
	Delete     bool
}

// bootstrapEntry is a persisted version discovered at Open, waiting to be
// folded into a collection's in-memory history the first time that
// collection is opened (§4.8, §4.8.6).
type bootstrapEntry struct {
	ID    []byte
	Value []byte
	Seq   uint64
}

// Store is the orchestrator tying the WAL, memtable, manifest, block cache,
// and compactor together behind a single logical writer (§4.8, §5),
// grounded on the teacher's DB struct in velocity.go: one struct owning
// every component, a config-driven Open constructor, and a mutex
// serializing mutation.
type Store struct {
	path    string
	options Options

	mu  sync.Mutex // the single-writer serialization point (§5)
	wal *wal.WAL
	mt  *memtable.Table
	mf  *manifest.Manifest

	cache     *cache.Cache
	compactor *compaction.Compactor

	sequence uint64

	collMu      sync.RWMutex
	collections map[string]*rawCollection
	bootstrap   map[string][]bootstrapEntry

	snapMu        sync.Mutex
	liveSnapshots map[uint64]int

	// testCrashPoint injects a synthetic failure at one of
	// {wal_append, wal_fsync, manifest_save, memtable_flush} for crash-matrix
	// tests (§4.8.3, §8). Unset in production use (§9 design note: "global
	// mutable crash-injection flag... compiles out in production").
	testCrashPoint string

	closed bool
}

// Open creates the store directory if absent, recovers the manifest and
// WAL, and loads every SSTable's entries into per-collection bootstrap
// buffers (§4.8).
func Open(options Options) (*Store, error) {
	opts := options.withDefaults()
	if opts.Path == "" {
		return nil, fmt.Errorf("strata: Options.Path is required")
	}
	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, err
	}

	w, err := wal.Open(opts.Path, opts.WALSegmentBytes)
	if err != nil {
		return nil, err
	}
	mf, err := manifest.Load(opts.Path)
	if err != nil {
		w.Close()
		return nil, err
	}

	s := &Store{
		path:          opts.Path,
		options:       opts,
		wal:           w,
		mf:            mf,
		cache:         cache.New(opts.CacheBytes),
		sequence:      mf.Sequence(),
		collections:   make(map[string]*rawCollection),
		bootstrap:     make(map[string][]bootstrapEntry),
		liveSnapshots: make(map[uint64]int),
	}
	s.mt = memtable.New(memtableCapacity)
	s.mt.OnFlush(func(entries []memtable.Entry) {
		s.options.Logger.Printf("strata: memtable flush drained %d entries", len(entries))
	})
	s.compactor = compaction.New(opts.Path, mf, s.cache)

	if err := s.loadSSTableBootstrap(); err != nil {
		w.Close()
		return nil, err
	}
	if err := s.replayWAL(); err != nil {
		w.Close()
		return nil, err
	}

	return s, nil
}

// loadSSTableBootstrap scans every SSTable the manifest references and
// appends its entries to each collection's bootstrap buffer, decoding keys
// of the form `collection || 0x00 || idJSON || 0x00 || seq` (§4.8). An
// entry whose key lacks a sequence suffix inherits the manifest sequence.
func (s *Store) loadSSTableBootstrap() error {
	for id, path := range s.mf.Tables() {
		tbl, err := sstable.Open(path, id, s.cache)
		if err != nil {
			return err
		}
		entries, err := tbl.Scan()
		tbl.Close()
		if err != nil {
			return err
		}
		for _, e := range entries {
			baseKey, seq, hasSeq := decodeSSTableKey(e.Key)
			if !hasSeq {
				baseKey, seq = e.Key, s.mf.Sequence()
			}
			collection, idJSON, ok := splitBaseKey(baseKey)
			if !ok {
				continue
			}
			s.bootstrap[collection] = append(s.bootstrap[collection], bootstrapEntry{
				ID: append([]byte{}, idJSON...), Value: e.Value, Seq: seq,
			})
		}
	}
	return nil
}

// replayWAL applies §4.8.5: legacy frames past the manifest's durable
// sequence apply immediately; transactional frames buffer per txid until
// their commit, then apply in sequence order. Applied records land in both
// the memtable (so the next flush still covers them) and the bootstrap
// buffers (so they're visible the moment a collection opens).
func (s *Store) replayWAL() error {
	records, err := s.wal.Replay()
	if err != nil {
		return err
	}

	type pending struct {
		key   []byte
		value []byte
		seq   uint64
	}
	txBuffers := make(map[string][]pending)
	maxSeq := s.sequence

	apply := func(key, value []byte, seq uint64) {
		s.mt.Put(key, value, seq)
		collection, idJSON, ok := splitBaseKey(key)
		if !ok {
			return
		}
		s.bootstrap[collection] = append(s.bootstrap[collection], bootstrapEntry{
			ID: append([]byte{}, idJSON...), Value: value, Seq: seq,
		})
		if seq > maxSeq {
			maxSeq = seq
		}
	}

	for _, rec := range records {
		switch rec.Kind {
		case wal.KindLegacy:
			if rec.Seq > s.mf.Sequence() {
				apply(rec.Key, rec.Value, rec.Seq)
			}
		case wal.KindBegin:
			txBuffers[rec.TxID] = nil
		case wal.KindOp:
			if rec.Seq <= s.mf.Sequence() {
				continue // already materialized in an SSTable
			}
			if _, active := txBuffers[rec.TxID]; active {
				txBuffers[rec.TxID] = append(txBuffers[rec.TxID], pending{key: rec.Key, value: rec.Value, seq: rec.Seq})
			} else {
				apply(rec.Key, rec.Value, rec.Seq)
			}
		case wal.KindCommit:
			for _, p := range txBuffers[rec.TxID] {
				apply(p.key, p.value, p.seq)
			}
			delete(txBuffers, rec.TxID)
		}
	}

	if maxSeq >= s.sequence {
		s.sequence = maxSeq + 1
	}
	return nil
}

// rawCollection returns (creating if absent) the untyped engine behind
// name, consuming its bootstrap buffer and rebuilding any index definitions
// already persisted in the manifest catalog (§4.8.6, §4.9).
func (s *Store) rawCollection(name string) *rawCollection {
	s.collMu.RLock()
	rc, ok := s.collections[name]
	s.collMu.RUnlock()
	if ok {
		return rc
	}

	s.collMu.Lock()
	defer s.collMu.Unlock()
	if rc, ok := s.collections[name]; ok {
		return rc
	}

	rc = newRawCollection(name)
	entries := s.bootstrap[name]
	delete(s.bootstrap, name)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	for _, e := range entries {
		if len(e.Value) == 0 {
			rc.applyDelete(e.ID, e.Seq)
		} else {
			rc.applyPut(e.ID, e.Value, e.Seq)
		}
	}
	for _, def := range s.mf.IndexCatalog()[name] {
		rc.defineIndex(IndexDef{Name: def.Name, Kind: def.Kind, Path: def.Field})
	}
	s.collections[name] = rc
	return rc
}

// listCollections returns every collection name the manifest's index
// catalog or an opened collection currently knows about (§6).
func (s *Store) listCollections() []string {
	seen := make(map[string]struct{})
	s.collMu.RLock()
	for name := range s.collections {
		seen[name] = struct{}{}
	}
	s.collMu.RUnlock()
	for name := range s.mf.IndexCatalog() {
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// dropCollection removes name from the catalog; underlying records are
// left untouched until overwrite or compaction reclaims them (§6, §9 open
// question: conservative catalog-only removal).
func (s *Store) dropCollection(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := manifest.State{
		Sequence:     s.mf.Sequence(),
		Tables:       s.mf.Tables(),
		IndexCatalog: s.mf.IndexCatalog(),
	}
	delete(next.IndexCatalog, name)
	if err := s.mf.Save(next); err != nil {
		return err
	}

	s.collMu.Lock()
	delete(s.collections, name)
	s.collMu.Unlock()
	return nil
}

// defineIndex persists def in the manifest's index catalog under
// collection (§4.5, §4.9).
func (s *Store) defineIndex(collection string, def IndexDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mf.DefineIndex(collection, def.toManifest())
}

func (s *Store) crash(point string) error {
	if s.testCrashPoint != "" && s.testCrashPoint == point {
		return fmt.Errorf("strata: injected crash at %s", point)
	}
	return nil
}

func (s *Store) applyBackpressureLocked() {
	st, err := s.compactor.Status()
	if err != nil {
		s.options.Logger.Printf("strata: compaction status: %v", err)
		return
	}
	if st.DebtBytes <= backpressureDebtThreshold {
		return
	}
	delay := time.Duration(st.DebtBytes/1024) * time.Microsecond
	if delay > 5*time.Millisecond {
		delay = 5 * time.Millisecond
	}
	time.Sleep(delay)
}

// batch implements §4.8.2 in full: backpressure, the sequence guard,
// per-collection unique-constraint validation over the batch's cumulative
// effect, sequence allocation, a WAL write (one legacy frame for a single
// op, a begin/op…/commit frame sequence otherwise) synced before any
// in-memory state changes, memtable + collection apply, and a possible
// flush.
func (s *Store) batch(ops []batchOp, requireSequenceAtLeast *uint64) error {
	if len(ops) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: store is closed", ErrIO)
	}

	s.applyBackpressureLocked()

	if requireSequenceAtLeast != nil && s.sequence < *requireSequenceAtLeast {
		return &SequenceTooLowError{Required: *requireSequenceAtLeast, Current: s.sequence}
	}

	overlay := make(map[string]map[string]map[string]string)
	for _, op := range ops {
		if op.Delete {
			continue
		}
		rc := s.rawCollectionLocked(op.Collection)
		if overlay[op.Collection] == nil {
			overlay[op.Collection] = make(map[string]map[string]string)
		}
		if err := rc.validatePut(op.ID, op.Value, overlay[op.Collection]); err != nil {
			return err
		}
	}

	n := uint64(len(ops))
	startSeq := s.sequence

	if err := s.crash("wal_append"); err != nil {
		return err
	}

	if n == 1 {
		// Single-operation PUT/DELETE uses a legacy single-frame WAL record
		// rather than a begin/op/commit triple — it's already atomic as one
		// frame, so the transactional wrapper would be pure overhead (§4.8.1,
		// §4.8.2).
		op := ops[0]
		baseKey := encodeBaseKey(op.Collection, op.ID)
		value := op.Value
		if op.Delete {
			value = nil
		}
		payload, err := wal.EncodeLegacy(baseKey, value)
		if err != nil {
			return err
		}
		if err := s.wal.Append(startSeq, payload); err != nil {
			return err
		}
	} else {
		txID := uuid.New().String()
		beginPayload, err := wal.EncodeBegin(txID)
		if err != nil {
			return err
		}
		if err := s.wal.Append(0, beginPayload); err != nil {
			return err
		}
		for i, op := range ops {
			seq := startSeq + uint64(i)
			baseKey := encodeBaseKey(op.Collection, op.ID)
			var payload []byte
			if op.Delete {
				payload, err = wal.EncodeOp(txID, baseKey, nil, true)
			} else {
				payload, err = wal.EncodeOp(txID, baseKey, op.Value, false)
			}
			if err != nil {
				return err
			}
			if err := s.wal.Append(seq, payload); err != nil {
				return err
			}
		}
		commitPayload, err := wal.EncodeCommit(txID)
		if err != nil {
			return err
		}
		if err := s.wal.Append(0, commitPayload); err != nil {
			return err
		}
	}

	if err := s.crash("wal_fsync"); err != nil {
		return err
	}
	if err := s.wal.Sync(); err != nil {
		return err
	}

	s.sequence += n

	for i, op := range ops {
		seq := startSeq + uint64(i)
		baseKey := encodeBaseKey(op.Collection, op.ID)
		rc := s.rawCollectionLocked(op.Collection)
		if op.Delete {
			s.mt.Put(baseKey, nil, seq)
			rc.applyDelete(op.ID, seq)
		} else {
			s.mt.Put(baseKey, op.Value, seq)
			rc.applyPut(op.ID, op.Value, seq)
		}
	}

	if s.mt.IsOverLimit() {
		if err := s.flushLocked(); err != nil {
			return err
		}
	}
	return nil
}

// rawCollectionLocked delegates to rawCollection unchanged, used from within
// batch where s.mu is already held; rawCollection takes only collMu, a
// distinct lock, so the call is safe under s.mu.
func (s *Store) rawCollectionLocked(name string) *rawCollection {
	return s.rawCollection(name)
}

// flushLocked implements §4.8.3. Caller holds s.mu.
func (s *Store) flushLocked() error {
	entries := s.mt.Drain()
	if len(entries) == 0 {
		return nil
	}

	sstEntries := make([]sstable.Entry, len(entries))
	var maxSeq uint64
	for i, e := range entries {
		sstEntries[i] = sstable.Entry{Key: encodeSSTableKey(e.Key, e.Seq), Value: e.Value}
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	sort.Slice(sstEntries, func(i, j int) bool {
		return string(sstEntries[i].Key) < string(sstEntries[j].Key)
	})

	if err := s.crash("memtable_flush"); err != nil {
		return err
	}

	id := uuid.New().String()
	path := filepath.Join(s.path, id+".sst")
	tbl, err := sstable.Create(path, id, sstEntries, s.cache)
	if err != nil {
		return err
	}
	tbl.Close()

	if err := s.crash("manifest_save"); err != nil {
		os.Remove(path)
		return err
	}
	if err := s.mf.ApplyFlush(maxSeq, id, path); err != nil {
		os.Remove(path)
		return err
	}

	if err := s.wal.GC(s.mf.Sequence()); err != nil {
		s.options.Logger.Printf("strata: WAL GC: %v", err)
	}

	go func() {
		if err := s.compactor.Tick(); err != nil {
			s.options.Logger.Printf("strata: compaction tick: %v", err)
		}
	}()
	return nil
}

// Snapshot returns an opaque handle bound to the current sequence and
// records it in the store's live-snapshot registry (§3, §4.8.7). Compaction
// does not read the registry: its merge never discards a version.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	seq := s.sequence
	s.mu.Unlock()

	s.snapMu.Lock()
	s.liveSnapshots[seq]++
	s.snapMu.Unlock()
	return Snapshot{seq: seq}
}

// ReleaseSnapshot unregisters a snapshot obtained from Snapshot from the
// live-snapshot registry.
func (s *Store) ReleaseSnapshot(snap Snapshot) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if n := s.liveSnapshots[snap.seq]; n <= 1 {
		delete(s.liveSnapshots, snap.seq)
	} else {
		s.liveSnapshots[snap.seq] = n - 1
	}
}

// CompactionStatus reports the compactor's externally-observable state
// (§4.7, §6).
func (s *Store) CompactionStatus() (compaction.Status, error) {
	return s.compactor.Status()
}

// Metrics is a point-in-time diagnostics snapshot (§4.4, §6 "metrics
// snapshot and reset").
type Metrics struct {
	Cache    cache.Stats
	Sequence uint64
}

// Metrics returns the block cache's hit/miss/occupancy counters plus the
// store's current sequence.
func (s *Store) Metrics() Metrics {
	s.mu.Lock()
	seq := s.sequence
	s.mu.Unlock()
	return Metrics{Cache: s.cache.Stats(), Sequence: seq}
}

// ResetMetrics zeroes the block cache's cumulative hit/miss counters.
// Occupancy (Items/Bytes) isn't a counter, so it's left untouched.
func (s *Store) ResetMetrics() {
	s.cache.ResetStats()
}

// Tick runs a single compaction pass synchronously; tests and the CLI use
// this instead of waiting for the background tick a flush schedules.
func (s *Store) Tick() error {
	return s.compactor.Tick()
}

// Close syncs and releases every component.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.wal.Close()
}
