package sstable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oarkflow/strata/internal/cache"
)

func sortedEntries() []Entry {
	return []Entry{
		{Key: []byte("k1"), Value: []byte("v1")},
		{Key: []byte("k2"), Value: []byte("v2")},
		{Key: []byte("k3"), Value: []byte("v3")},
	}
}

func TestCreateGetScanRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table1.sst")

	tbl, err := Create(path, "table1", sortedEntries(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer tbl.Close()

	v, ok, err := tbl.Get([]byte("k2"))
	if err != nil || !ok || string(v) != "v2" {
		t.Fatalf("Get(k2) = %q, %v, %v", v, ok, err)
	}

	_, ok, err = tbl.Get([]byte("missing"))
	if err != nil || ok {
		t.Fatalf("Get(missing) should be absent, got ok=%v err=%v", ok, err)
	}

	entries, err := tbl.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestKeyRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table1.sst")

	tbl, err := Create(path, "table1", sortedEntries(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer tbl.Close()

	min, max, err := tbl.KeyRange()
	if err != nil {
		t.Fatalf("KeyRange: %v", err)
	}
	if string(min) != "k1" || string(max) != "k3" {
		t.Fatalf("KeyRange = %q, %q", min, max)
	}
}

func TestReopenFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table1.sst")

	tbl, err := Create(path, "table1", sortedEntries(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tbl.Close()

	reopened, err := Open(path, "table1", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	v, ok, err := reopened.Get([]byte("k1"))
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("Get(k1) after reopen = %q, %v, %v", v, ok, err)
	}
}

func TestBlockCRCMismatchSurfacesCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table1.sst")

	tbl, err := Create(path, "table1", sortedEntries(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tbl.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Flip a byte inside block 0's payload region (well before the footer).
	data[0] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reopened, err := Open(path, "table1", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	_, _, err = reopened.Get([]byte("k1"))
	if err == nil {
		t.Fatalf("expected Corrupt error from flipped block byte")
	}
}

func TestTombstoneEntryHasEmptyValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table1.sst")

	entries := []Entry{
		{Key: []byte("k1"), Value: []byte("v1")},
		{Key: []byte("k2"), Value: nil},
	}
	tbl, err := Create(path, "table1", entries, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer tbl.Close()

	v, ok, err := tbl.Get([]byte("k2"))
	if err != nil || !ok {
		t.Fatalf("Get(k2) = %v, %v, %v", v, ok, err)
	}
	if len(v) != 0 {
		t.Fatalf("expected tombstone (empty value), got %q", v)
	}
}

func TestBlockCacheServesRepeatedReads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table1.sst")

	c := cache.New(1 << 20)
	tbl, err := Create(path, "table1", sortedEntries(), c)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer tbl.Close()

	for i := 0; i < 3; i++ {
		if _, ok, err := tbl.Get([]byte("k1")); err != nil || !ok {
			t.Fatalf("Get(k1) iteration %d: ok=%v err=%v", i, ok, err)
		}
	}

	stats := c.Stats()
	if stats.Hits == 0 {
		t.Fatalf("expected at least one cache hit across repeated reads")
	}
}

func TestManyEntriesSpanMultipleBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table1.sst")

	const n = 2000
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		k := make([]byte, 4)
		k[0] = byte(i >> 24)
		k[1] = byte(i >> 16)
		k[2] = byte(i >> 8)
		k[3] = byte(i)
		entries = append(entries, Entry{Key: k, Value: []byte("value-padding-bytes")})
	}

	tbl, err := Create(path, "table1", entries, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer tbl.Close()

	scanned, err := tbl.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(scanned) != n {
		t.Fatalf("expected %d entries from scan, got %d", n, len(scanned))
	}

	for _, i := range []int{0, n / 2, n - 1} {
		k := entries[i].Key
		v, ok, err := tbl.Get(k)
		if err != nil || !ok || string(v) != "value-padding-bytes" {
			t.Fatalf("Get at index %d failed: ok=%v err=%v", i, ok, err)
		}
	}
}
