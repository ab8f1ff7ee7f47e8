package memutils

// Validatable is anything that can check its own internal consistency. Region allocators and the
// atlas itself implement it so DebugValidate can check them after every mutation.
type Validatable interface {
	Validate() error
}
