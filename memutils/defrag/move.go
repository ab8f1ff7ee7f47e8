package defrag

// MoveOperation indicates what should happen to a single relocation when its pass completes
type MoveOperation uint32

const (
	// MoveCopy indicates that the texels were copied to the destination region, and the source region
	// should be released. This is the default.
	MoveCopy MoveOperation = iota
	// MoveIgnore indicates that the relocation should be abandoned. The destination region is released
	// and the source region is left in place.
	MoveIgnore
)

var moveOperationMapping = map[MoveOperation]string{
	MoveCopy:   "MoveCopy",
	MoveIgnore: "MoveIgnore",
}

func (o MoveOperation) String() string {
	return moveOperationMapping[o]
}

// CounterStatus is returned from PassContext.CheckCounters to indicate whether a candidate relocation
// fits in the current pass
type CounterStatus uint32

const (
	// CounterPass indicates that the relocation fits within the pass budget
	CounterPass CounterStatus = iota
	// CounterIgnore indicates that the relocation should be skipped, but smaller ones may still fit
	CounterIgnore
	// CounterEnd indicates that the pass should end
	CounterEnd
)

var counterStatusMapping = map[CounterStatus]string{
	CounterPass:   "CounterPass",
	CounterIgnore: "CounterIgnore",
	CounterEnd:    "CounterEnd",
}

func (s CounterStatus) String() string {
	return counterStatusMapping[s]
}
