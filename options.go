package strata

import "log"

const (
	defaultCacheBytes      = 64 << 20
	defaultScanLimit       = 100
	defaultWALSegmentBytes = 4 << 20
	memtableCapacity       = 1024
)

// Options configures Open, matching the teacher's defaulted Config struct
// idiom in velocity.go: a plain struct, zero values mean "use the default",
// no environment or flag parsing inside the engine itself.
type Options struct {
	Path string

	// CacheBytes sizes the block cache; unset (0) defaults to 64 MiB. Pass
	// -1 explicitly to disable caching altogether (§4.4).
	CacheBytes int64

	// DefaultScanLimit bounds scan/scanIndex when the caller doesn't supply
	// one explicitly.
	DefaultScanLimit int

	// WALSegmentBytes triggers WAL rotation. Zero uses the 4 MiB default; a
	// negative value disables rotation.
	WALSegmentBytes int64

	// Logger receives background diagnostics (memtable drain counts, WAL GC
	// and compaction failures). WAL replay truncation is not logged, and
	// flush failures are returned to the caller rather than logged.
	// Defaults to log.Default().
	Logger *log.Logger
}

func (o Options) withDefaults() Options {
	switch {
	case o.CacheBytes == 0:
		o.CacheBytes = defaultCacheBytes
	case o.CacheBytes < 0:
		o.CacheBytes = 0
	}
	if o.DefaultScanLimit == 0 {
		o.DefaultScanLimit = defaultScanLimit
	}
	if o.WALSegmentBytes == 0 {
		o.WALSegmentBytes = defaultWALSegmentBytes
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}
