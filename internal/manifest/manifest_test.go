package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingYieldsEmptyState(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Sequence() != 0 || len(m.Tables()) != 0 {
		t.Fatalf("expected empty initial state, got seq=%d tables=%v", m.Sequence(), m.Tables())
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := m.ApplyFlush(5, "table-a", filepath.Join(dir, "table-a.sst")); err != nil {
		t.Fatalf("ApplyFlush: %v", err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Sequence() != 5 {
		t.Fatalf("expected sequence 5, got %d", reloaded.Sequence())
	}
	if reloaded.Tables()["table-a"] == "" {
		t.Fatalf("expected table-a registered")
	}
}

func TestApplyCompactionSwapsTables(t *testing.T) {
	dir := t.TempDir()
	m, _ := Load(dir)
	m.ApplyFlush(1, "a", "a.sst")
	m.ApplyFlush(2, "b", "b.sst")

	if err := m.ApplyCompaction([]string{"a", "b"}, "c", "c.sst"); err != nil {
		t.Fatalf("ApplyCompaction: %v", err)
	}
	tables := m.Tables()
	if _, ok := tables["a"]; ok {
		t.Fatalf("expected a retired")
	}
	if _, ok := tables["b"]; ok {
		t.Fatalf("expected b retired")
	}
	if tables["c"] != "c.sst" {
		t.Fatalf("expected c registered, got %v", tables)
	}
}

func TestCorruptManifestIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error decoding corrupt manifest")
	}
}

func TestDefineIndexPersists(t *testing.T) {
	dir := t.TempDir()
	m, _ := Load(dir)

	if err := m.DefineIndex("users", IndexDef{Name: "by_email", Kind: IndexUnique, Field: "email"}); err != nil {
		t.Fatalf("DefineIndex: %v", err)
	}
	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defs := reloaded.IndexCatalog()["users"]
	if len(defs) != 1 || defs[0].Name != "by_email" || defs[0].Kind != IndexUnique {
		t.Fatalf("unexpected index catalog: %+v", defs)
	}
}

