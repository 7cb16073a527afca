// Package wal implements the durable, append-only write-ahead journal that
// backs crash-safe writes for the storage engine.
//
// Grounded on the teacher's wal.go: a single active file, a mutex-guarded
// append path, and size-triggered rotation into sibling files. The teacher
// buffers writes in memory and syncs on a ticker, encrypting each entry with
// an AEAD; this package drops the buffering/encryption layer (spec.md's wire
// format is plain CRC-framed JSON, synced synchronously by the caller after
// a committed batch, per §4.1/§4.8.2) and keeps the rotate-by-renaming and
// replay-tolerant-of-a-bad-tail idioms.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const activeFileName = "wal.log"

// WAL is a durable, segment-rotating journal of append-only frames.
type WAL struct {
	mu sync.Mutex

	dir         string
	rotateBytes int64

	file       *os.File
	size       int64
	nextSegIdx int
}

// Open creates or reopens the WAL directory's active segment. rotateBytes<=0
// disables rotation.
func Open(dir string, rotateBytes int64) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	activePath := filepath.Join(dir, activeFileName)
	f, err := os.OpenFile(activePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &WAL{
		dir:         dir,
		rotateBytes: rotateBytes,
		file:        f,
		size:        stat.Size(),
	}

	existing, err := w.rotatedSegments()
	if err != nil {
		f.Close()
		return nil, err
	}
	for _, seg := range existing {
		if seg.index+1 > w.nextSegIdx {
			w.nextSegIdx = seg.index + 1
		}
	}

	return w, nil
}

type segment struct {
	index int
	path  string
}

// rotatedSegments lists "wal.NNNNNN.log" siblings, sorted by index ascending
// (lexicographically sortable filenames, per spec.md §6).
func (w *WAL) rotatedSegments() ([]segment, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var segs []segment
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "wal.") || !strings.HasSuffix(name, ".log") || name == activeFileName {
			continue
		}
		idxStr := strings.TrimSuffix(strings.TrimPrefix(name, "wal."), ".log")
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			continue
		}
		segs = append(segs, segment{index: idx, path: filepath.Join(w.dir, name)})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].index < segs[j].index })
	return segs, nil
}

// frameBytes lays out seq(8 BE) | len(4 BE) | payload(len) | crc32(4 BE),
// CRC computed over payload bytes only (§4.1).
func frameBytes(seq uint64, payload []byte) []byte {
	buf := make([]byte, 8+4+len(payload)+4)
	binary.BigEndian.PutUint64(buf[0:8], seq)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))
	copy(buf[12:12+len(payload)], payload)
	binary.BigEndian.PutUint32(buf[12+len(payload):], crc32.ChecksumIEEE(payload))
	return buf
}

// Append writes one frame in a single write call. seq=0 is used for
// begin/commit frames, which consume no sequence.
func (w *WAL) Append(seq uint64, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	frame := frameBytes(seq, payload)

	if w.rotateBytes > 0 && w.size+int64(len(frame)) > w.rotateBytes && w.size > 0 {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := w.file.Write(frame)
	if err != nil {
		return err
	}
	w.size += int64(n)
	return nil
}

// Sync forces the active segment durably to disk.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

func (w *WAL) rotateLocked() error {
	if err := w.file.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	rotatedName := fmt.Sprintf("wal.%06d.log", w.nextSegIdx)
	w.nextSegIdx++
	activePath := filepath.Join(w.dir, activeFileName)
	rotatedPath := filepath.Join(w.dir, rotatedName)
	if err := os.Rename(activePath, rotatedPath); err != nil {
		return err
	}

	f, err := os.OpenFile(activePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.size = 0
	return nil
}

// Close syncs and closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Replay reads segments in filename order followed by the active file,
// returning an ordered sequence of decoded records. Each file stops at the
// first frame whose length or CRC fails validation; a bad tail never
// propagates upward as an error (§4.1, §7) since it represents a write that
// was interrupted mid-flight by a crash.
func (w *WAL) Replay() ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Sync(); err != nil {
		return nil, err
	}

	segs, err := w.rotatedSegments()
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, seg := range segs {
		recs, err := replayFile(seg.path)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}

	recs, err := replayFile(filepath.Join(w.dir, activeFileName))
	if err != nil {
		return nil, err
	}
	records = append(records, recs...)

	return records, nil
}

func replayFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records []Record
	for {
		var header [12]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			break
		}
		seq := binary.BigEndian.Uint64(header[0:8])
		length := binary.BigEndian.Uint32(header[8:12])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}

		var crcBuf [4]byte
		if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
			break
		}
		wantCRC := binary.BigEndian.Uint32(crcBuf[:])
		if crc32.ChecksumIEEE(payload) != wantCRC {
			break
		}

		rec, err := decodePayload(seq, payload)
		if err != nil {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}

// maxSeqInFile scans a segment and returns the highest seq it contains,
// tolerating the same bad-tail truncation Replay does.
func maxSeqInFile(path string) (uint64, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var max uint64
	found := false
	for {
		var header [12]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			break
		}
		seq := binary.BigEndian.Uint64(header[0:8])
		length := binary.BigEndian.Uint32(header[8:12])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}
		var crcBuf [4]byte
		if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
			break
		}
		wantCRC := binary.BigEndian.Uint32(crcBuf[:])
		if crc32.ChecksumIEEE(payload) != wantCRC {
			break
		}
		if seq > max {
			max = seq
		}
		found = true
	}
	return max, found, nil
}

// GC unlinks rotated segments whose maximum sequence is fully covered by a
// flush (manifestSeq). The active file is never unlinked (§4.1).
func (w *WAL) GC(manifestSeq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	segs, err := w.rotatedSegments()
	if err != nil {
		return err
	}
	for _, seg := range segs {
		max, found, err := maxSeqInFile(seg.path)
		if err != nil {
			return err
		}
		if !found || max <= manifestSeq {
			if err := os.Remove(seg.path); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

// ActivePath returns the path of the currently active segment.
func (w *WAL) ActivePath() string {
	return filepath.Join(w.dir, activeFileName)
}
