package atlas_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/atlas/atlas"
	mock_atlas "github.com/vkngwrapper/atlas/atlas/mocks"
	"github.com/vkngwrapper/atlas/memutils/defrag"
	"github.com/vkngwrapper/atlas/memutils/metadata"
)

type copyRecorder struct {
	passes [][]atlas.DefragmentationMove
	err    error
}

func (r *copyRecorder) copyRegions(backend *mock_atlas.MockBackend[string], moves []atlas.DefragmentationMove) error {
	r.passes = append(r.passes, append([]atlas.DefragmentationMove{}, moves...))
	return r.err
}

func mustEntry(t *testing.T, a *testAtlas, width, height int) *atlas.Entry {
	entry, ok, err := a.EntryFor(width, height, nil)
	require.NoError(t, err)
	require.True(t, ok)
	return entry
}

func mustAllocation(t *testing.T, entry *atlas.Entry) atlas.Allocation {
	allocation, ok := entry.Allocation()
	require.True(t, ok)
	return allocation
}

// newScatteredAtlas builds a two layer atlas whose second layer holds one 40x40 region that
// fits in the space freed in the first layer
func newScatteredAtlas(t *testing.T) (*testAtlas, *atlas.Entry, *atlas.Entry) {
	a, _ := newTestAtlas(t, atlas.CreateOptions{LayerSize: 64})

	first := mustEntry(t, a, 40, 40)
	second := mustEntry(t, a, 40, 40)
	third := mustEntry(t, a, 20, 20)
	require.Equal(t, 1, mustAllocation(t, second).Layer())
	require.Equal(t, 0, mustAllocation(t, third).Layer())

	a.Remove(first)
	return a, second, third
}

func TestDefragmentAcrossLayers(t *testing.T) {
	a, second, third := newScatteredAtlas(t)
	var recorder copyRecorder

	stats, err := a.Defragment(&defrag.PassContext{Algorithm: defrag.AlgorithmFast}, recorder.copyRegions)
	require.NoError(t, err)
	require.Equal(t, defrag.Stats{AreaMoved: 1600, AllocationsMoved: 1, LayersFreed: 1}, stats)

	require.Len(t, recorder.passes, 1)
	require.Len(t, recorder.passes[0], 1)
	move := recorder.passes[0][0]
	require.Same(t, second, move.Entry)
	require.Equal(t, 0, move.Fragment)
	require.Equal(t, 1, move.Src.Layer())
	require.Equal(t, 0, move.Dst.Layer())
	require.Equal(t, move.Dst, mustAllocation(t, second))

	require.Equal(t, []atlas.LayerState{atlas.LayerBusy, atlas.LayerEmpty}, layerStates(a))
	require.Equal(t, 2, a.LayerCount())
	require.False(t, mustAllocation(t, second).Region().Intersects(mustAllocation(t, third).Region()))
	require.NoError(t, a.Validate())

	a.Remove(second)
	a.Remove(third)
	require.Equal(t, []atlas.LayerState{atlas.LayerEmpty, atlas.LayerEmpty}, layerStates(a))
	require.NoError(t, a.Destroy())
}

func TestDefragmentWithinLayer(t *testing.T) {
	a, _ := newTestAtlas(t, atlas.CreateOptions{LayerSize: 64})

	top := mustEntry(t, a, 64, 32)
	bottom := mustEntry(t, a, 32, 32)
	require.Equal(t, metadata.Region{X: 0, Y: 32, Width: 32, Height: 32}, mustAllocation(t, bottom).Region())
	a.Remove(top)

	// The fast algorithm only moves regions between layers
	pass := defrag.PassContext{Algorithm: defrag.AlgorithmFast}
	moves := a.BeginDefragmentationPass(&pass)
	require.Empty(t, moves)
	require.True(t, a.EndDefragmentationPass(&pass, moves))

	pass = defrag.PassContext{}
	moves = a.BeginDefragmentationPass(&pass)
	require.Equal(t, defrag.AlgorithmFull, pass.Algorithm)
	require.Len(t, moves, 1)
	require.Equal(t, metadata.Region{X: 0, Y: 0, Width: 32, Height: 32}, moves[0].Dst.Region())
	require.False(t, a.EndDefragmentationPass(&pass, moves))
	require.Equal(t, defrag.Stats{AreaMoved: 1024, AllocationsMoved: 1}, pass.Stats)

	require.Equal(t, metadata.Region{X: 0, Y: 0, Width: 32, Height: 32}, mustAllocation(t, bottom).Region())
	require.NoError(t, a.Validate())

	moves = a.BeginDefragmentationPass(&pass)
	require.Empty(t, moves)
	require.True(t, a.EndDefragmentationPass(&pass, moves))
}

func TestDefragmentIgnoredMoves(t *testing.T) {
	a, second, _ := newScatteredAtlas(t)
	before := mustAllocation(t, second)

	pass := defrag.PassContext{}
	moves := a.BeginDefragmentationPass(&pass)
	require.NotEmpty(t, moves)

	for moveIndex := range moves {
		moves[moveIndex].Operation = defrag.MoveIgnore
	}
	require.True(t, a.EndDefragmentationPass(&pass, moves))
	require.Equal(t, defrag.Stats{}, pass.Stats)

	require.Equal(t, before, mustAllocation(t, second))
	require.Equal(t, []atlas.LayerState{atlas.LayerBusy, atlas.LayerBusy}, layerStates(a))
	require.NoError(t, a.Validate())
}

func TestDefragmentCopyFailure(t *testing.T) {
	a, second, third := newScatteredAtlas(t)
	secondBefore := mustAllocation(t, second)
	thirdBefore := mustAllocation(t, third)

	recorder := copyRecorder{err: errors.New("copy failed")}
	_, err := a.Defragment(&defrag.PassContext{}, recorder.copyRegions)
	require.ErrorIs(t, err, recorder.err)

	require.Equal(t, secondBefore, mustAllocation(t, second))
	require.Equal(t, thirdBefore, mustAllocation(t, third))
	require.Equal(t, []atlas.LayerState{atlas.LayerBusy, atlas.LayerBusy}, layerStates(a))
	require.NoError(t, a.Validate())
}

func TestDefragmentPassBudget(t *testing.T) {
	a, _ := newTestAtlas(t, atlas.CreateOptions{LayerSize: 64})

	var quadrants []*atlas.Entry
	for i := 0; i < 4; i++ {
		quadrants = append(quadrants, mustEntry(t, a, 32, 32))
	}
	spilled := []*atlas.Entry{mustEntry(t, a, 32, 32), mustEntry(t, a, 32, 32)}
	require.Equal(t, []atlas.LayerState{atlas.LayerBusy, atlas.LayerBusy}, layerStates(a))

	a.Remove(quadrants[0])
	a.Remove(quadrants[1])

	pass := defrag.PassContext{MaxPassAllocations: 1}
	moves := a.BeginDefragmentationPass(&pass)
	require.Len(t, moves, 1)
	require.False(t, a.EndDefragmentationPass(&pass, moves))
	require.Equal(t, []atlas.LayerState{atlas.LayerBusy, atlas.LayerBusy}, layerStates(a))

	var recorder copyRecorder
	stats, err := a.Defragment(&pass, recorder.copyRegions)
	require.NoError(t, err)
	require.Equal(t, defrag.Stats{AreaMoved: 1024, AllocationsMoved: 1, LayersFreed: 1}, stats)
	require.Equal(t, []atlas.LayerState{atlas.LayerBusy, atlas.LayerEmpty}, layerStates(a))

	for _, entry := range spilled {
		require.Equal(t, 0, mustAllocation(t, entry).Layer())
	}
	require.NoError(t, a.Validate())
}

func TestDefragmentSkipsFullLayers(t *testing.T) {
	a, _ := newTestAtlas(t, atlas.CreateOptions{LayerSize: 64})

	partial := mustEntry(t, a, 10, 10)
	full := mustEntry(t, a, 64, 64)
	require.Equal(t, 1, mustAllocation(t, full).Layer())
	a.Remove(partial)

	var recorder copyRecorder
	stats, err := a.Defragment(&defrag.PassContext{}, recorder.copyRegions)
	require.NoError(t, err)
	require.Equal(t, defrag.Stats{}, stats)
	require.Empty(t, recorder.passes)
	require.Equal(t, []atlas.LayerState{atlas.LayerEmpty, atlas.LayerFull}, layerStates(a))
}
