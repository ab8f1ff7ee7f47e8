package atlas

//go:generate mockgen -source backend.go -destination ./mocks/mock_backend.go -package mocks

// Backend owns the texture storage an Atlas packs images into. Backends also expose growth and
// upload operations, but their signatures depend on the rendering context, so the Atlas only needs
// access to the texture itself.
type Backend[T any] interface {
	// Texture returns the handle renderers bind to sample from every layer of the atlas
	Texture() T
}

// GrowFunc is called by Atlas.EntryFor after every successful allocation, with the full list of
// layers and the number of layers appended by that allocation, which may be 0. Implementations
// must make the backend hold len(layers) layers, preserving the contents of the first
// len(layers)-amount layers that are not empty.
type GrowFunc[B any] func(backend B, layers []Layer, amount int) error
