package sstable

import "hash/crc32"

// crcOf computes the IEEE (0xEDB88320) checksum used for block trailers,
// the same polynomial WAL frames use (§4.1, §4.3).
func crcOf(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}
