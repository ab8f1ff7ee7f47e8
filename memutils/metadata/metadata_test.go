package metadata_test

import (
	"math/rand"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/atlas/memutils/metadata"
)

type liveRegion struct {
	handle metadata.BlockAllocationHandle
	region metadata.Region
}

func allocate(t *testing.T, md metadata.RegionMetadata, width, height int, strategy metadata.AllocationStrategy) (metadata.BlockAllocationHandle, metadata.Region) {
	success, req, err := md.CreateAllocationRequest(width, height, strategy)
	require.NoError(t, err)
	require.True(t, success, "could not fit %dx%d", width, height)

	err = md.Alloc(req)
	require.NoError(t, err)

	region, err := md.AllocationRegion(req.BlockAllocationHandle)
	require.NoError(t, err)
	require.Equal(t, req.Region, region)

	return req.BlockAllocationHandle, region
}

// exerciseRandomly interleaves allocations and frees, checking after every step that the metadata
// is consistent and that no two live regions overlap
func exerciseRandomly(t *testing.T, md metadata.RegionMetadata, strategy metadata.AllocationStrategy, seed int64) {
	size := md.Size()
	random := rand.New(rand.NewSource(seed))
	var live []liveRegion

	for i := 0; i < 400; i++ {
		if len(live) > 0 && random.Intn(3) == 0 {
			index := random.Intn(len(live))
			require.NoError(t, md.Free(live[index].handle))
			live = append(live[:index], live[index+1:]...)
		} else {
			width := 1 + random.Intn(size/4)
			height := 1 + random.Intn(size/4)

			success, req, err := md.CreateAllocationRequest(width, height, strategy)
			require.NoError(t, err)
			if success {
				require.NoError(t, md.Alloc(req))
				require.Equal(t, width, req.Region.Width)
				require.Equal(t, height, req.Region.Height)
				live = append(live, liveRegion{handle: req.BlockAllocationHandle, region: req.Region})
			}
		}

		require.NoError(t, md.Validate())
		require.Equal(t, len(live), md.AllocationCount())

		layer := metadata.Region{Width: size, Height: size}
		for first := 0; first < len(live); first++ {
			require.True(t, layer.Contains(live[first].region), "%s escapes the layer", live[first].region)

			for second := first + 1; second < len(live); second++ {
				require.False(t, live[first].region.Intersects(live[second].region),
					"%s overlaps %s", live[first].region, live[second].region)
			}
		}
	}

	for _, region := range live {
		require.NoError(t, md.Free(region.handle))
	}

	require.NoError(t, md.Validate())
	require.True(t, md.IsEmpty())
	require.Equal(t, 1, md.FreeRegionsCount())
	require.Equal(t, size*size, md.SumFreeArea())

	handle, region := allocate(t, md, size, size, strategy)
	require.Equal(t, metadata.Region{Width: size, Height: size}, region)
	require.NoError(t, md.Free(handle))
}

func TestRandomAllocFree(t *testing.T) {
	testCases := map[string]func() metadata.RegionMetadata{
		"Guillotine": func() metadata.RegionMetadata { return metadata.NewGuillotineMetadata() },
		"Shelf":      func() metadata.RegionMetadata { return metadata.NewShelfMetadata(0) },
	}
	strategies := []metadata.AllocationStrategy{
		0,
		metadata.AllocationStrategyMinMemory,
		metadata.AllocationStrategyMinTime,
		metadata.AllocationStrategyMinOffset,
	}

	for name, create := range testCases {
		for _, strategy := range strategies {
			t.Run(name+"/"+strategy.String(), func(t *testing.T) {
				md := create()
				md.Init(512)
				exerciseRandomly(t, md, strategy, 1)
			})
		}
	}
}

func TestInvalidRequests(t *testing.T) {
	for _, md := range []metadata.RegionMetadata{metadata.NewGuillotineMetadata(), metadata.NewShelfMetadata(0)} {
		md.Init(1024)

		_, _, err := md.CreateAllocationRequest(0, 10, metadata.AllocationStrategyMinMemory)
		require.Error(t, err)
		_, _, err = md.CreateAllocationRequest(10, -1, metadata.AllocationStrategyMinMemory)
		require.Error(t, err)

		success, _, err := md.CreateAllocationRequest(1025, 10, metadata.AllocationStrategyMinMemory)
		require.NoError(t, err)
		require.False(t, success)

		require.Error(t, md.Free(metadata.NoAllocation))

		handle, _ := allocate(t, md, 10, 10, metadata.AllocationStrategyMinMemory)
		require.NoError(t, md.Free(handle))
		require.Error(t, md.Free(handle))
		require.True(t, md.IsEmpty())
	}
}

func TestStaleRequest(t *testing.T) {
	for _, md := range []metadata.RegionMetadata{metadata.NewGuillotineMetadata(), metadata.NewShelfMetadata(0)} {
		md.Init(1024)

		success, req, err := md.CreateAllocationRequest(1024, 1024, metadata.AllocationStrategyMinMemory)
		require.NoError(t, err)
		require.True(t, success)
		require.NoError(t, md.Alloc(req))

		require.Error(t, md.Alloc(req))
		require.Equal(t, 1, md.AllocationCount())
		require.NoError(t, md.Validate())
	}
}

func TestBlockJsonData(t *testing.T) {
	md := metadata.NewGuillotineMetadata()
	md.Init(64)
	allocate(t, md, 16, 16, metadata.AllocationStrategyMinMemory)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	md.BlockJsonData(obj)
	obj.End()

	require.NoError(t, writer.Error())
	require.JSONEq(t, `{
		"Algorithm": "Guillotine",
		"Size": 64,
		"TotalArea": 4096,
		"UnusedArea": 3840,
		"Allocations": 1,
		"UnusedRegions": 2
	}`, string(writer.Bytes()))
}
