// Package hashkey derives the signed 64-bit primary keys used by every
// content table from the record's natural key.
package hashkey

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
	"strings"
)

// Key hashes the ordered natural-key parts into a signed 64-bit key.
//
// The parts are concatenated without a delimiter, so Key("", "a") == Key("a").
// The first 8 bytes of the SHA-256 digest are read as a big-endian
// two's-complement integer, matching readBigInt64BE(0) on the web side.
func Key(parts ...string) int64 {
	return Sum(strings.Join(parts, ""))
}

// Sum hashes an already-joined string.
func Sum(s string) int64 {
	digest := sha256.Sum256([]byte(s))
	return int64(binary.BigEndian.Uint64(digest[:8]))
}

// Format renders a key the way the web consumer stores it in URLs and JSON.
func Format(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Parse is the inverse of Format.
func Parse(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
