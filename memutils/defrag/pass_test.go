package defrag_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/atlas/memutils/defrag"
)

func TestPassContextDefaults(t *testing.T) {
	pass := defrag.PassContext{
		Stats: defrag.Stats{AreaMoved: 10, AllocationsMoved: 1},
	}
	pass.Reset()

	require.Equal(t, defrag.AlgorithmFull, pass.Algorithm)
	require.Equal(t, defrag.Stats{}, pass.Stats)

	for i := 0; i < 100; i++ {
		require.Equal(t, defrag.CounterPass, pass.CheckCounters(1<<20))
		require.False(t, pass.IncrementCounters(1<<20))
	}
	require.Equal(t, defrag.Stats{AreaMoved: 100 << 20, AllocationsMoved: 100}, pass.Stats)
}

func TestPassContextAllocationBudget(t *testing.T) {
	pass := defrag.PassContext{MaxPassAllocations: 2}
	pass.Reset()

	require.Equal(t, defrag.CounterPass, pass.CheckCounters(50))
	require.False(t, pass.IncrementCounters(50))
	require.Equal(t, defrag.CounterPass, pass.CheckCounters(50))
	require.True(t, pass.IncrementCounters(50))
}

func TestPassContextAreaBudget(t *testing.T) {
	pass := defrag.PassContext{Algorithm: defrag.AlgorithmFast, MaxPassArea: 100}
	pass.Reset()
	require.Equal(t, defrag.AlgorithmFast, pass.Algorithm)

	require.Equal(t, defrag.CounterPass, pass.CheckCounters(60))
	require.False(t, pass.IncrementCounters(60))

	// Too large for the rest of the budget, but smaller regions may still fit
	for i := 1; i < 16; i++ {
		require.Equal(t, defrag.CounterIgnore, pass.CheckCounters(50))
	}
	require.Equal(t, defrag.CounterEnd, pass.CheckCounters(50))

	pass.Reset()
	require.Equal(t, defrag.CounterPass, pass.CheckCounters(40))
	require.False(t, pass.IncrementCounters(40))
	require.Equal(t, defrag.CounterPass, pass.CheckCounters(60))
	require.True(t, pass.IncrementCounters(60))
}

func TestStatsAdd(t *testing.T) {
	stats := defrag.Stats{AreaMoved: 5, AllocationsMoved: 1}
	stats.Add(defrag.Stats{AreaMoved: 10, AllocationsMoved: 2, LayersFreed: 1})

	require.Equal(t, defrag.Stats{AreaMoved: 15, AllocationsMoved: 3, LayersFreed: 1}, stats)
}
