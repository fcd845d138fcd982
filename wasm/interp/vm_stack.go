package interp

import "github.com/refvm/refvm/wasm"

// operandStack is the value stack shared by every frame of an invocation.
type operandStack struct {
	values []wasm.Value
}

func (s *operandStack) push(v wasm.Value) {
	s.values = append(s.values, v)
}

func (s *operandStack) pop() wasm.Value {
	v := s.values[len(s.values)-1]
	s.values = s.values[:len(s.values)-1]
	return v
}

func (s *operandStack) height() int {
	return len(s.values)
}

// cut removes every value above height, returning the top n of them in
// stack order. Branches use it to carry label operands across the discarded
// region.
func (s *operandStack) cut(height, n int) []wasm.Value {
	carried := make([]wasm.Value, n)
	copy(carried, s.values[len(s.values)-n:])
	s.values = s.values[:height]
	return carried
}
