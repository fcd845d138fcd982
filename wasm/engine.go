package wasm

// Engine executes function instances. A Store drives one engine for every
// module it instantiates.
type Engine interface {
	// Compile prepares a function for Call. It is invoked once per function
	// during instantiation, before any element segment or start function
	// runs.
	Compile(f *FunctionInstance) error
	// Call invokes f with the given arguments and returns its results. Traps
	// surface as errors wrapping the ErrRuntime sentinels.
	Call(f *FunctionInstance, args ...Value) ([]Value, error)
}
