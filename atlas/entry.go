package atlas

// EntryKind distinguishes images stored in one allocation from images split across several
type EntryKind uint8

const (
	// EntryContiguous images occupy a single allocation
	EntryContiguous EntryKind = iota
	// EntryFragmented images were larger than a layer and are tiled across several allocations
	EntryFragmented
)

var entryKindMapping = map[EntryKind]string{
	EntryContiguous: "Contiguous",
	EntryFragmented: "Fragmented",
}

func (k EntryKind) String() string {
	return entryKindMapping[k]
}

// Fragment is a piece of an image together with its offset inside the original image
type Fragment struct {
	X          int
	Y          int
	Allocation Allocation
}

func (f Fragment) Position() (x, y int) { return f.X, f.Y }

// Entry is the handle an Atlas hands out for a stored image. It must be passed back to
// Atlas.Remove to release the space.
type Entry struct {
	kind      EntryKind
	width     int
	height    int
	fragments []Fragment
}

func (e *Entry) Kind() EntryKind { return e.kind }

// Size returns the dimensions of the image that was requested
func (e *Entry) Size() (width, height int) { return e.width, e.height }

// Allocation returns the single allocation of a contiguous entry. It returns false for fragmented entries.
func (e *Entry) Allocation() (Allocation, bool) {
	if e.kind != EntryContiguous {
		return Allocation{}, false
	}
	return e.fragments[0].Allocation, true
}

// Fragments returns the pieces of the image in row-major order. A contiguous entry returns a single
// fragment at (0,0). The returned slice must not be modified. Defragmentation passes may relocate
// partial allocations, so fragments should be read again after each pass.
func (e *Entry) Fragments() []Fragment {
	return e.fragments
}
