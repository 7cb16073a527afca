package strata

import "encoding/binary"

const keySeparator = 0x00

// encodeBaseKey builds the collection-scoped key used in WAL payloads,
// the memtable, and in-memory index maps: `collectionName || 0x00 ||
// idJSON` (§3). idJSON must be valid JSON text, which never contains a raw
// 0x00 byte, so the separator is unambiguous.
func encodeBaseKey(collection string, idJSON []byte) []byte {
	buf := make([]byte, len(collection)+1+len(idJSON))
	copy(buf, collection)
	buf[len(collection)] = keySeparator
	copy(buf[len(collection)+1:], idJSON)
	return buf
}

// encodeSSTableKey appends the MVCC sequence suffix SSTable keys carry:
// `baseKey || 0x00 || seq(8 BE)` (§3).
func encodeSSTableKey(baseKey []byte, seq uint64) []byte {
	buf := make([]byte, len(baseKey)+1+8)
	copy(buf, baseKey)
	buf[len(baseKey)] = keySeparator
	binary.BigEndian.PutUint64(buf[len(baseKey)+1:], seq)
	return buf
}

// splitBaseKey separates a WAL/memtable base key into its collection name
// and idJSON halves, splitting at the first 0x00.
func splitBaseKey(baseKey []byte) (collection string, idJSON []byte, ok bool) {
	for i, b := range baseKey {
		if b == keySeparator {
			return string(baseKey[:i]), baseKey[i+1:], true
		}
	}
	return "", nil, false
}

// decodeSSTableKey reverses encodeSSTableKey when a sequence suffix is
// present. It treats the key as suffixed when the byte nine positions from
// the end is 0x00, and reads the last 8 bytes as the sequence. idJSON text
// never contains 0x00, so every suffixed key is recognized; a bare base key
// whose idJSON is exactly 8 bytes long also matches, because its collection
// separator sits in that position.
func decodeSSTableKey(key []byte) (baseKey []byte, seq uint64, hasSeq bool) {
	if len(key) < 9 {
		return key, 0, false
	}
	sepIdx := len(key) - 9
	if key[sepIdx] != keySeparator {
		return key, 0, false
	}
	return key[:sepIdx], binary.BigEndian.Uint64(key[sepIdx+1:]), true
}
