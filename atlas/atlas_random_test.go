package atlas_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/atlas/atlas"
	"github.com/vkngwrapper/atlas/memutils/defrag"
	"github.com/vkngwrapper/atlas/memutils/metadata"
)

// requireNoOverlap checks that every live allocation lies inside its layer and that no two of them
// share a texel
func requireNoOverlap(t *testing.T, a *testAtlas, entries []*atlas.Entry) {
	layerBounds := metadata.Region{Width: a.LayerSize(), Height: a.LayerSize()}
	byLayer := make(map[int][]metadata.Region)

	for _, entry := range entries {
		for _, fragment := range entry.Fragments() {
			allocation := fragment.Allocation
			require.Less(t, allocation.Layer(), a.LayerCount())
			require.True(t, layerBounds.Contains(allocation.Region()))

			for _, other := range byLayer[allocation.Layer()] {
				require.False(t, other.Intersects(allocation.Region()),
					"%s overlaps %s in layer %d", other, allocation.Region(), allocation.Layer())
			}
			byLayer[allocation.Layer()] = append(byLayer[allocation.Layer()], allocation.Region())
		}
	}
}

func TestRandomEntries(t *testing.T) {
	testCases := map[string]atlas.CreateOptions{
		"Guillotine":          {LayerSize: 512},
		"GuillotineMinTime":   {LayerSize: 512, Strategy: metadata.AllocationStrategyMinTime},
		"GuillotineMinOffset": {LayerSize: 512, Strategy: metadata.AllocationStrategyMinOffset},
		"Shelf":               {LayerSize: 512, Algorithm: atlas.AlgorithmShelf},
	}

	for name, options := range testCases {
		t.Run(name, func(t *testing.T) {
			a, _ := newTestAtlas(t, options)
			random := rand.New(rand.NewSource(7))
			var recorder growRecorder
			var entries []*atlas.Entry

			layerCount := a.LayerCount()
			for i := 0; i < 300; i++ {
				if len(entries) > 0 && random.Intn(3) == 0 {
					index := random.Intn(len(entries))
					a.Remove(entries[index])
					entries = append(entries[:index], entries[index+1:]...)
				} else {
					var width, height int
					switch random.Intn(10) {
					case 0:
						width, height = 512, 512
					case 1:
						width, height = 513+random.Intn(600), 1+random.Intn(300)
					default:
						width, height = 1+random.Intn(200), 1+random.Intn(200)
					}

					entry, ok, err := a.EntryFor(width, height, recorder.grow)
					require.NoError(t, err)
					require.True(t, ok)

					entryWidth, entryHeight := entry.Size()
					require.Equal(t, width, entryWidth)
					require.Equal(t, height, entryHeight)
					entries = append(entries, entry)

					amount := recorder.amounts[len(recorder.amounts)-1]
					require.Equal(t, layerCount+amount, a.LayerCount())
				}

				require.GreaterOrEqual(t, a.LayerCount(), layerCount)
				layerCount = a.LayerCount()

				require.NoError(t, a.Validate())
				requireNoOverlap(t, a, entries)
			}

			var copier copyRecorder
			_, err := a.Defragment(&defrag.PassContext{}, copier.copyRegions)
			require.NoError(t, err)
			require.Equal(t, layerCount, a.LayerCount())
			require.NoError(t, a.Validate())
			requireNoOverlap(t, a, entries)

			for _, entry := range entries {
				a.Remove(entry)
			}

			require.Equal(t, layerCount, a.LayerCount())
			for _, layer := range a.Layers() {
				require.True(t, layer.IsEmpty())
			}
			require.NoError(t, a.Destroy())
		})
	}
}
