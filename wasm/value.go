package wasm

import "math"

// Value is a runtime operand or invocation argument. Numeric payloads live in
// Bits (i32/i64 zero-extended, floats as IEEE 754 bits); references live in Ref.
type Value struct {
	Kind ValueKind
	Bits uint64
	Ref  Reference
}

// Reference is a nullable reference value. A non-null function reference
// carries the instance it targets; reference identity is the instance, so
// two refs to the same function compare equal even across modules. External
// references carry an opaque host payload.
type Reference struct {
	Null bool
	// Fn is the referenced function, nil for external references.
	Fn     *FunctionInstance
	Extern uint64
}

// NullRef is the null reference value, the default of any nullable element.
var NullRef = Reference{Null: true}

// FuncRef returns a non-null reference to the given function.
func FuncRef(f *FunctionInstance) Reference {
	return Reference{Fn: f}
}

// ExternRef returns a non-null external reference wrapping a host payload.
func ExternRef(v uint64) Reference {
	return Reference{Extern: v}
}

func ValueI32(v int32) Value {
	return Value{Kind: ValueKindI32, Bits: uint64(uint32(v))}
}

func ValueI64(v int64) Value {
	return Value{Kind: ValueKindI64, Bits: uint64(v)}
}

func ValueF32(v float32) Value {
	return Value{Kind: ValueKindF32, Bits: uint64(math.Float32bits(v))}
}

func ValueF64(v float64) Value {
	return Value{Kind: ValueKindF64, Bits: math.Float64bits(v)}
}

func ValueRef(r Reference) Value {
	return Value{Kind: ValueKindRef, Ref: r}
}

// I32 returns the value's payload as a signed 32-bit integer.
func (v Value) I32() int32 { return int32(uint32(v.Bits)) }

// U32 returns the value's payload as an unsigned 32-bit integer. Table and
// memory indices are unsigned, so a negative i32 addresses the top of the
// 32-bit range rather than wrapping below zero.
func (v Value) U32() uint32 { return uint32(v.Bits) }

// I64 returns the value's payload as a signed 64-bit integer.
func (v Value) I64() int64 { return int64(v.Bits) }

// F32 returns the value's payload as a 32-bit float.
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.Bits)) }

// F64 returns the value's payload as a 64-bit float.
func (v Value) F64() float64 { return math.Float64frombits(v.Bits) }
