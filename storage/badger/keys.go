package badger

import "encoding/binary"

// Key prefixes for different data types
const (
	collectionMetaPrefix = "idxmeta"
	collectionRowPrefix  = "idxrow"
)

// makeCollectionMetaKey generates the key holding a collection's metadata.
// Format: prefix:collection
func makeCollectionMetaKey(collection string) []byte {
	return []byte(collectionMetaPrefix + ":" + collection)
}

// makeRowPrefix generates the prefix shared by every row of a collection.
// Format: prefix:collection:
// Collection names never contain ':' so one collection's prefix never
// matches another's.
func makeRowPrefix(collection string) []byte {
	return []byte(collectionRowPrefix + ":" + collection + ":")
}

// makeRowKey generates a composite key for a row.
// Format: prefix:collection:pk
func makeRowKey(collection string, pk int64) []byte {
	prefix := makeRowPrefix(collection)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so rows iterate in pk order
	binary.BigEndian.PutUint64(buf[offset:], uint64(pk))
	return buf
}
