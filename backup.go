package strata

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/strata/internal/manifest"
	"github.com/oarkflow/strata/internal/memtable"
	"github.com/oarkflow/strata/internal/wal"
)

// BackupMetadata describes one backup bundle under storePath/backups/<id>/
// (§4.8.8, §6), grounded on the teacher's BackupMetadata in backup.go, pared
// to the fields spec.md actually names: no compression/encryption/signature
// fields, since the bundle is a plain directory copy, not an archive.
type BackupMetadata struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Note      string    `json:"note,omitempty"`
	SizeBytes int64     `json:"sizeBytes"`
}

const backupsDirName = "backups"

// CreateBackup quiesces the store, syncs the WAL, flushes the memtable,
// syncs again, then copies MANIFEST.json, the active WAL segment, and every
// manifest-referenced SSTable into backups/<uuid>/, writing backup.json
// last (§4.8.8).
func (s *Store) CreateBackup(note string) (BackupMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.Sync(); err != nil {
		return BackupMetadata{}, err
	}
	if err := s.flushLocked(); err != nil {
		return BackupMetadata{}, err
	}
	if err := s.wal.Sync(); err != nil {
		return BackupMetadata{}, err
	}

	id := uuid.New().String()
	dir := filepath.Join(s.path, backupsDirName, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return BackupMetadata{}, err
	}

	var total int64
	manifestPath := filepath.Join(s.path, "MANIFEST.json")
	if n, err := copyFile(manifestPath, filepath.Join(dir, "MANIFEST.json")); err != nil {
		return BackupMetadata{}, err
	} else {
		total += n
	}
	if n, err := copyFile(s.wal.ActivePath(), filepath.Join(dir, "wal.log")); err != nil {
		return BackupMetadata{}, err
	} else {
		total += n
	}
	for id, path := range s.mf.Tables() {
		if n, err := copyFile(path, filepath.Join(dir, id+".sst")); err != nil {
			return BackupMetadata{}, err
		} else {
			total += n
		}
	}

	meta := BackupMetadata{ID: id, CreatedAt: time.Now(), Note: note, SizeBytes: total}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return BackupMetadata{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, "backup.json"), data, 0o644); err != nil {
		return BackupMetadata{}, err
	}
	return meta, nil
}

// ListBackups enumerates backups/*/backup.json (§4.8.8).
func (s *Store) ListBackups() ([]BackupMetadata, error) {
	root := filepath.Join(s.path, backupsDirName)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []BackupMetadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, e.Name(), "backup.json"))
		if err != nil {
			continue
		}
		var meta BackupMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RestoreBackup deletes the current manifest-referenced SSTables, copies in
// the backup's, rewrites the manifest to repoint at in-place files
// (preserving ids, sequence, and index catalog), replaces the active WAL
// segment, and clears bootstrap/collection state so the next read goes
// through the restored data (§4.8.8).
func (s *Store) RestoreBackup(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.path, backupsDirName, id)
	if _, err := os.Stat(dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, path := range s.mf.Tables() {
		os.Remove(path)
	}

	next := manifest.State{
		Sequence:     s.mf.Sequence(),
		Tables:       make(map[string]string),
		IndexCatalog: s.mf.IndexCatalog(),
	}
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".sst" {
			continue
		}
		tableID := name[:len(name)-len(".sst")]
		dst := filepath.Join(s.path, name)
		if _, err := copyFile(filepath.Join(dir, name), dst); err != nil {
			return err
		}
		next.Tables[tableID] = dst
	}
	if manifestData, err := os.ReadFile(filepath.Join(dir, "MANIFEST.json")); err == nil {
		var backedUp manifest.State
		if json.Unmarshal(manifestData, &backedUp) == nil {
			next.Sequence = backedUp.Sequence
			if backedUp.IndexCatalog != nil {
				next.IndexCatalog = backedUp.IndexCatalog
			}
		}
	}
	if err := s.mf.Save(next); err != nil {
		return err
	}

	if err := s.wal.Close(); err != nil {
		return err
	}
	if _, err := copyFile(filepath.Join(dir, "wal.log"), filepath.Join(s.path, "wal.log")); err != nil {
		return err
	}
	reopened, err := wal.Open(s.path, s.options.WALSegmentBytes)
	if err != nil {
		return err
	}
	s.wal = reopened

	s.collMu.Lock()
	s.collections = make(map[string]*rawCollection)
	s.bootstrap = make(map[string][]bootstrapEntry)
	s.collMu.Unlock()

	// A restored store must forget any buffered writes from after the
	// backup was taken: the memtable is replaced wholesale rather than
	// merely re-populated, or a later flush would resurrect them.
	s.mt = memtable.New(memtableCapacity)
	s.mt.OnFlush(func(entries []memtable.Entry) {
		s.options.Logger.Printf("strata: memtable flush drained %d entries", len(entries))
	})

	s.sequence = next.Sequence
	if err := s.loadSSTableBootstrap(); err != nil {
		return err
	}
	return s.replayWAL()
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	n, err := io.Copy(out, in)
	if err != nil {
		return 0, err
	}
	return n, out.Sync()
}
