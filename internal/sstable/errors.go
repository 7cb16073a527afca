package sstable

import "errors"

// ErrCorrupt is returned when a block CRC or footer fails validation.
var ErrCorrupt = errors.New("sstable: corrupt table")
