package hashkey

import (
	"github.com/RoaringBitmap/roaring/roaring64"
)

// CollisionGuard remembers every key handed out during one load so the
// writer only has to consult the database when a key repeats.
type CollisionGuard struct {
	seen *roaring64.Bitmap
}

func NewCollisionGuard() *CollisionGuard {
	return &CollisionGuard{seen: roaring64.New()}
}

// Observe records id and reports whether it was seen before.
func (g *CollisionGuard) Observe(id int64) (repeated bool) {
	return !g.seen.CheckedAdd(uint64(id))
}

// Seen reports whether id has been observed.
func (g *CollisionGuard) Seen(id int64) bool {
	return g.seen.Contains(uint64(id))
}

// Len is the number of distinct keys observed.
func (g *CollisionGuard) Len() uint64 {
	return g.seen.GetCardinality()
}
