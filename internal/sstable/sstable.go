// Package sstable implements the immutable, sorted, Bloom-filtered on-disk
// run format described in §4.3: data blocks, a block index, a Bloom filter,
// and a 32-byte footer.
//
// Grounded on the teacher's sstable.go: atomic create-via-temp-file-and-
// rename, then mmap the finished file for lock-free concurrent reads. The
// teacher's format is a flat header-plus-entries layout with per-entry AEAD
// encryption; this package replaces it with the spec's block-structured
// layout (fixed-size blocks, CRC per block rather than per entry, footer
// instead of a leading header) and drops encryption, which the spec's wire
// formats never call for.
package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/oarkflow/strata/internal/bloom"
	"github.com/oarkflow/strata/internal/cache"
)

const (
	maxBlockPayload = 4096
	footerSize      = 32
	crcTrailerSize  = 4
)

// Entry is a single sorted-run record. An empty Value denotes a tombstone.
type Entry struct {
	Key   []byte
	Value []byte
}

type blockIndexEntry struct {
	FirstKey []byte
	Offset   uint64
	Length   uint64
}

// Table is an opened, memory-mapped SSTable.
type Table struct {
	path    string
	tableID string

	file  *os.File
	mmap  []byte
	index []blockIndexEntry
	bloom *bloom.Filter

	cache *cache.Cache
}

func encodeKV(key, value []byte) []byte {
	buf := make([]byte, 4+len(key)+4+len(value))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(key)))
	copy(buf[4:4+len(key)], key)
	off := 4 + len(key)
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(value)))
	copy(buf[off+4:], value)
	return buf
}

func decodeBlock(payload []byte) ([]Entry, error) {
	var entries []Entry
	for len(payload) > 0 {
		if len(payload) < 4 {
			return nil, fmt.Errorf("%w: truncated entry header", ErrCorrupt)
		}
		klen := binary.LittleEndian.Uint32(payload[0:4])
		payload = payload[4:]
		if uint32(len(payload)) < klen+4 {
			return nil, fmt.Errorf("%w: truncated entry body", ErrCorrupt)
		}
		key := payload[:klen]
		payload = payload[klen:]
		vlen := binary.LittleEndian.Uint32(payload[0:4])
		payload = payload[4:]
		if uint32(len(payload)) < vlen {
			return nil, fmt.Errorf("%w: truncated entry value", ErrCorrupt)
		}
		value := payload[:vlen]
		payload = payload[vlen:]
		entries = append(entries, Entry{Key: append([]byte{}, key...), Value: append([]byte{}, value...)})
	}
	return entries, nil
}

// Create builds a new SSTable at path from entries, which must already be
// sorted by raw key (§4.3). The file is written to a temp sibling and
// atomically renamed into place, then opened for reads.
func Create(path, tableID string, entries []Entry, blockCache *cache.Cache) (*Table, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	bf := bloom.New(len(entries))

	type builtBlock struct {
		firstKey []byte
		payload  []byte
	}
	var blocks []builtBlock
	var cur bytes.Buffer
	var curFirstKey []byte

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		blocks = append(blocks, builtBlock{firstKey: curFirstKey, payload: append([]byte{}, cur.Bytes()...)})
		cur.Reset()
		curFirstKey = nil
	}

	for _, e := range entries {
		bf.Add(e.Key)
		enc := encodeKV(e.Key, e.Value)
		if cur.Len() > 0 && cur.Len()+len(enc) > maxBlockPayload {
			flush()
		}
		if cur.Len() == 0 {
			curFirstKey = e.Key
		}
		cur.Write(enc)
	}
	flush()

	var offset uint64
	index := make([]blockIndexEntry, 0, len(blocks))
	for _, b := range blocks {
		if _, err := tmp.Write(b.payload); err != nil {
			tmp.Close()
			return nil, err
		}
		trailer := crcTrailer(b.payload)
		if _, err := tmp.Write(trailer); err != nil {
			tmp.Close()
			return nil, err
		}
		length := uint64(len(b.payload) + crcTrailerSize)
		index = append(index, blockIndexEntry{FirstKey: b.firstKey, Offset: offset, Length: length})
		offset += length
	}

	indexOff := offset
	var indexBuf bytes.Buffer
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(index)))
	indexBuf.Write(countBuf[:])
	for _, ie := range index {
		var klen [4]byte
		binary.LittleEndian.PutUint32(klen[:], uint32(len(ie.FirstKey)))
		indexBuf.Write(klen[:])
		indexBuf.Write(ie.FirstKey)
		var offBuf, lenBuf [8]byte
		binary.LittleEndian.PutUint64(offBuf[:], ie.Offset)
		binary.LittleEndian.PutUint64(lenBuf[:], ie.Length)
		indexBuf.Write(offBuf[:])
		indexBuf.Write(lenBuf[:])
	}
	if _, err := tmp.Write(indexBuf.Bytes()); err != nil {
		tmp.Close()
		return nil, err
	}
	indexLen := uint64(indexBuf.Len())
	offset += indexLen

	bloomOff := offset
	bloomBytes := bf.Marshal()
	if _, err := tmp.Write(bloomBytes); err != nil {
		tmp.Close()
		return nil, err
	}
	bloomLen := uint64(len(bloomBytes))

	var footer [footerSize]byte
	binary.LittleEndian.PutUint64(footer[0:8], indexOff)
	binary.LittleEndian.PutUint64(footer[8:16], indexLen)
	binary.LittleEndian.PutUint64(footer[16:24], bloomOff)
	binary.LittleEndian.PutUint64(footer[24:32], bloomLen)
	if _, err := tmp.Write(footer[:]); err != nil {
		tmp.Close()
		return nil, err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, err
	}

	return Open(path, tableID, blockCache)
}

func crcTrailer(payload []byte) []byte {
	var b [crcTrailerSize]byte
	binary.BigEndian.PutUint32(b[:], crcOf(payload))
	return b[:]
}

// Open memory-maps an existing SSTable file and reconstructs its block
// index and Bloom filter for reads.
func Open(path, tableID string, blockCache *cache.Cache) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := int(stat.Size())
	if size < footerSize {
		f.Close()
		return nil, fmt.Errorf("%w: file shorter than footer", ErrCorrupt)
	}

	var m []byte
	if size > 0 {
		m, err = syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	footer := m[size-footerSize:]
	indexOff := binary.LittleEndian.Uint64(footer[0:8])
	indexLen := binary.LittleEndian.Uint64(footer[8:16])
	bloomOff := binary.LittleEndian.Uint64(footer[16:24])
	bloomLen := binary.LittleEndian.Uint64(footer[24:32])

	if int(bloomOff+bloomLen) > size || int(indexOff+indexLen) > size {
		syscall.Munmap(m)
		f.Close()
		return nil, fmt.Errorf("%w: footer offsets out of range", ErrCorrupt)
	}

	bf, err := bloom.Unmarshal(m[bloomOff : bloomOff+bloomLen])
	if err != nil {
		syscall.Munmap(m)
		f.Close()
		return nil, err
	}

	indexBytes := m[indexOff : indexOff+indexLen]
	if len(indexBytes) < 4 {
		syscall.Munmap(m)
		f.Close()
		return nil, fmt.Errorf("%w: truncated block index", ErrCorrupt)
	}
	blockCount := binary.LittleEndian.Uint32(indexBytes[0:4])
	indexBytes = indexBytes[4:]

	index := make([]blockIndexEntry, 0, blockCount)
	for i := uint32(0); i < blockCount; i++ {
		if len(indexBytes) < 4 {
			syscall.Munmap(m)
			f.Close()
			return nil, fmt.Errorf("%w: truncated block index entry", ErrCorrupt)
		}
		klen := binary.LittleEndian.Uint32(indexBytes[0:4])
		indexBytes = indexBytes[4:]
		if uint32(len(indexBytes)) < klen+16 {
			syscall.Munmap(m)
			f.Close()
			return nil, fmt.Errorf("%w: truncated block index entry", ErrCorrupt)
		}
		firstKey := append([]byte{}, indexBytes[:klen]...)
		indexBytes = indexBytes[klen:]
		off := binary.LittleEndian.Uint64(indexBytes[0:8])
		length := binary.LittleEndian.Uint64(indexBytes[8:16])
		indexBytes = indexBytes[16:]
		index = append(index, blockIndexEntry{FirstKey: firstKey, Offset: off, Length: length})
	}

	return &Table{
		path:    path,
		tableID: tableID,
		file:    f,
		mmap:    m,
		index:   index,
		bloom:   bf,
		cache:   blockCache,
	}, nil
}

// Path returns the table's file path.
func (t *Table) Path() string { return t.path }

// ID returns the table's identifier, used as the cache key namespace.
func (t *Table) ID() string { return t.tableID }

// Close unmaps and closes the underlying file.
func (t *Table) Close() error {
	if t.mmap != nil {
		syscall.Munmap(t.mmap)
	}
	return t.file.Close()
}

func (t *Table) fetchBlockPayload(idx int) ([]byte, error) {
	ie := t.index[idx]
	key := cache.Key{TableID: t.tableID, Offset: ie.Offset, Length: ie.Length}
	if t.cache != nil {
		if payload, ok := t.cache.Get(key); ok {
			return payload, nil
		}
	}

	raw := t.mmap[ie.Offset : ie.Offset+ie.Length]
	payload := raw[:len(raw)-crcTrailerSize]
	trailer := raw[len(raw)-crcTrailerSize:]
	if crcOf(payload) != binary.BigEndian.Uint32(trailer) {
		return nil, fmt.Errorf("%w: block CRC mismatch", ErrCorrupt)
	}

	if t.cache != nil {
		t.cache.Put(key, payload)
	}
	return payload, nil
}

// Get performs the §4.3 read path: Bloom check, block-index binary search,
// block fetch with CRC verification, linear scan within the block.
func (t *Table) Get(key []byte) (value []byte, ok bool, err error) {
	if t.bloom != nil && !t.bloom.MayContain(key) {
		return nil, false, nil
	}

	idx := sort.Search(len(t.index), func(i int) bool {
		return bytes.Compare(t.index[i].FirstKey, key) > 0
	}) - 1
	if idx < 0 {
		return nil, false, nil
	}

	payload, err := t.fetchBlockPayload(idx)
	if err != nil {
		return nil, false, err
	}
	entries, err := decodeBlock(payload)
	if err != nil {
		return nil, false, err
	}
	for _, e := range entries {
		if bytes.Equal(e.Key, key) {
			return e.Value, true, nil
		}
	}
	return nil, false, nil
}

// Scan iterates every block in order, validating each CRC, and returns the
// full sorted run.
func (t *Table) Scan() ([]Entry, error) {
	var all []Entry
	for i := range t.index {
		payload, err := t.fetchBlockPayload(i)
		if err != nil {
			return nil, err
		}
		entries, err := decodeBlock(payload)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

// KeyRange returns the table's minimum and maximum keys, read from the
// first and last blocks. Used by compaction to group overlapping tables.
func (t *Table) KeyRange() (min, max []byte, err error) {
	if len(t.index) == 0 {
		return nil, nil, nil
	}
	first, err := t.fetchBlockPayload(0)
	if err != nil {
		return nil, nil, err
	}
	firstEntries, err := decodeBlock(first)
	if err != nil {
		return nil, nil, err
	}
	last, err := t.fetchBlockPayload(len(t.index) - 1)
	if err != nil {
		return nil, nil, err
	}
	lastEntries, err := decodeBlock(last)
	if err != nil {
		return nil, nil, err
	}
	return firstEntries[0].Key, lastEntries[len(lastEntries)-1].Key, nil
}
