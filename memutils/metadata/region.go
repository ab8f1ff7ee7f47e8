package metadata

import (
	"fmt"
	"math"
)

// BlockAllocationHandle identifies a single region carved out of a RegionMetadata. Handles are
// never reused by the metadata that issued them.
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

// Region is an axis-aligned rectangle inside a layer, in texels, with its origin at the top left.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (r Region) Position() (x, y int)      { return r.X, r.Y }
func (r Region) Size() (width, height int) { return r.Width, r.Height }
func (r Region) Area() int                 { return r.Width * r.Height }
func (r Region) Right() int                { return r.X + r.Width }
func (r Region) Bottom() int               { return r.Y + r.Height }

// Intersects returns true if the two regions share at least one texel.
func (r Region) Intersects(other Region) bool {
	return r.X < other.Right() && other.X < r.Right() &&
		r.Y < other.Bottom() && other.Y < r.Bottom()
}

// Contains returns true if other lies entirely within r.
func (r Region) Contains(other Region) bool {
	return other.X >= r.X && other.Y >= r.Y &&
		other.Right() <= r.Right() && other.Bottom() <= r.Bottom()
}

func (r Region) String() string {
	return fmt.Sprintf("%dx%d@(%d,%d)", r.Width, r.Height, r.X, r.Y)
}
