package metadata_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/atlas/memutils"
	"github.com/vkngwrapper/atlas/memutils/metadata"
)

func TestGuillotineBasicAlloc(t *testing.T) {
	guillotine := metadata.NewGuillotineMetadata()
	guillotine.Init(1024)

	var stats memutils.DetailedStatistics
	stats.Clear()
	guillotine.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			LayerCount:      1,
			LayerArea:       1048576,
			AllocationCount: 0,
			AllocationArea:  0,
		},
		UnusedRegionCount:   1,
		AllocationAreaMin:   math.MaxInt,
		AllocationAreaMax:   0,
		UnusedRegionAreaMin: 1048576,
		UnusedRegionAreaMax: 1048576,
	}, stats)

	success, req, err := guillotine.CreateAllocationRequest(100, 50, metadata.AllocationStrategyMinMemory)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, metadata.Region{X: 0, Y: 0, Width: 100, Height: 50}, req.Region)

	alloc1 := req.BlockAllocationHandle
	err = guillotine.Alloc(req)
	require.NoError(t, err)

	stats.Clear()
	guillotine.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			LayerCount:      1,
			LayerArea:       1048576,
			AllocationCount: 1,
			AllocationArea:  5000,
		},
		UnusedRegionCount:   2,
		AllocationAreaMin:   5000,
		AllocationAreaMax:   5000,
		UnusedRegionAreaMin: 46200,
		UnusedRegionAreaMax: 997376,
	}, stats)

	var simple memutils.Statistics
	guillotine.AddStatistics(&simple)
	require.Equal(t, memutils.Statistics{
		LayerCount:      1,
		LayerArea:       1048576,
		AllocationCount: 1,
		AllocationArea:  5000,
	}, simple)

	err = guillotine.Free(alloc1)
	require.NoError(t, err)

	stats.Clear()
	guillotine.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			LayerCount:      1,
			LayerArea:       1048576,
			AllocationCount: 0,
			AllocationArea:  0,
		},
		UnusedRegionCount:   1,
		AllocationAreaMin:   math.MaxInt,
		AllocationAreaMax:   0,
		UnusedRegionAreaMin: 1048576,
		UnusedRegionAreaMax: 1048576,
	}, stats)
	require.True(t, guillotine.IsEmpty())
}

func TestGuillotineQuadrants(t *testing.T) {
	guillotine := metadata.NewGuillotineMetadata()
	guillotine.Init(1024)

	var handles []metadata.BlockAllocationHandle
	var regions []metadata.Region
	for i := 0; i < 4; i++ {
		handle, region := allocate(t, guillotine, 512, 512, metadata.AllocationStrategyMinMemory)
		handles = append(handles, handle)
		regions = append(regions, region)
	}

	require.Equal(t, []metadata.Region{
		{X: 0, Y: 0, Width: 512, Height: 512},
		{X: 512, Y: 0, Width: 512, Height: 512},
		{X: 0, Y: 512, Width: 512, Height: 512},
		{X: 512, Y: 512, Width: 512, Height: 512},
	}, regions)

	require.Equal(t, 0, guillotine.SumFreeArea())
	require.False(t, guillotine.MayHaveFreeRegion(1, 1))

	success, _, err := guillotine.CreateAllocationRequest(1, 1, metadata.AllocationStrategyMinTime)
	require.NoError(t, err)
	require.False(t, success)

	require.NoError(t, guillotine.Free(handles[1]))
	_, region := allocate(t, guillotine, 512, 512, metadata.AllocationStrategyMinMemory)
	require.Equal(t, regions[1], region)
	require.NoError(t, guillotine.Validate())
}

func TestGuillotineMergeOnFree(t *testing.T) {
	guillotine := metadata.NewGuillotineMetadata()
	guillotine.Init(256)

	first, _ := allocate(t, guillotine, 30, 200, metadata.AllocationStrategyMinMemory)
	second, _ := allocate(t, guillotine, 120, 17, metadata.AllocationStrategyMinMemory)
	third, _ := allocate(t, guillotine, 64, 64, metadata.AllocationStrategyMinMemory)
	require.Equal(t, 3, guillotine.AllocationCount())

	require.NoError(t, guillotine.Free(second))
	require.NoError(t, guillotine.Validate())
	require.NoError(t, guillotine.Free(first))
	require.NoError(t, guillotine.Validate())
	require.False(t, guillotine.IsEmpty())
	require.NoError(t, guillotine.Free(third))
	require.NoError(t, guillotine.Validate())

	require.True(t, guillotine.IsEmpty())
	require.Equal(t, 1, guillotine.FreeRegionsCount())
	require.Equal(t, 256*256, guillotine.SumFreeArea())
}

func TestGuillotineStrategies(t *testing.T) {
	guillotine := metadata.NewGuillotineMetadata()
	guillotine.Init(1024)

	// Leaves a 1024x974 region below a 924x50 region
	allocate(t, guillotine, 100, 50, metadata.AllocationStrategyMinMemory)

	success, req, err := guillotine.CreateAllocationRequest(900, 40, metadata.AllocationStrategyMinMemory)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, metadata.Region{X: 100, Y: 0, Width: 900, Height: 40}, req.Region)

	success, req, err = guillotine.CreateAllocationRequest(10, 10, metadata.AllocationStrategyMinOffset)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, metadata.Region{X: 100, Y: 0, Width: 10, Height: 10}, req.Region)

	success, req, err = guillotine.CreateAllocationRequest(10, 60, metadata.AllocationStrategyMinTime)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, metadata.Region{X: 0, Y: 50, Width: 10, Height: 60}, req.Region)
}

func TestGuillotineClear(t *testing.T) {
	guillotine := metadata.NewGuillotineMetadata()
	guillotine.Init(512)

	for i := 0; i < 10; i++ {
		allocate(t, guillotine, 40, 40, metadata.AllocationStrategyMinMemory)
	}

	guillotine.Clear()
	require.NoError(t, guillotine.Validate())
	require.True(t, guillotine.IsEmpty())
	require.Equal(t, 512*512, guillotine.SumFreeArea())

	_, region := allocate(t, guillotine, 512, 512, metadata.AllocationStrategyMinMemory)
	require.Equal(t, metadata.Region{Width: 512, Height: 512}, region)
}
