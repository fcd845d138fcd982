package wasm

import "fmt"

// ValueKind discriminates the variants of ValueType.
type ValueKind byte

const (
	ValueKindI32 ValueKind = iota
	ValueKindI64
	ValueKindF32
	ValueKindF64
	ValueKindRef
	// valueKindBottom is the type of operands synthesized in unreachable code.
	// It never appears in module declarations, only on the validation stack.
	valueKindBottom
)

// HeapKind discriminates the reference-type families.
type HeapKind byte

const (
	// HeapKindFunc is the abstract funcref family.
	HeapKindFunc HeapKind = iota
	// HeapKindExtern is the abstract externref family.
	HeapKindExtern
	// HeapKindIndex points at a defined type in Module.TypeSection.
	HeapKindIndex
)

// HeapType identifies the family a reference value points into: the abstract
// func or extern hierarchies, or a specific defined type.
type HeapType struct {
	Kind HeapKind
	// Index is the position in Module.TypeSection when Kind == HeapKindIndex.
	Index Index
}

var (
	// HeapTypeFunc is the abstract func heap type.
	HeapTypeFunc = HeapType{Kind: HeapKindFunc}
	// HeapTypeExtern is the abstract extern heap type.
	HeapTypeExtern = HeapType{Kind: HeapKindExtern}
)

// HeapTypeIndex returns the heap type of the defined type at i.
func HeapTypeIndex(i Index) HeapType {
	return HeapType{Kind: HeapKindIndex, Index: i}
}

// ValueType is the static type of an operand, local, table element or global.
// Numeric kinds ignore the Nullable and Heap fields; references carry both.
type ValueType struct {
	Kind     ValueKind
	Nullable bool
	Heap     HeapType
}

var (
	ValueTypeI32 = ValueType{Kind: ValueKindI32}
	ValueTypeI64 = ValueType{Kind: ValueKindI64}
	ValueTypeF32 = ValueType{Kind: ValueKindF32}
	ValueTypeF64 = ValueType{Kind: ValueKindF64}

	// ValueTypeFuncref is the nullable abstract function reference, the element
	// type of classic tables.
	ValueTypeFuncref = RefNull(HeapTypeFunc)
	// ValueTypeExternref is the nullable abstract external reference.
	ValueTypeExternref = RefNull(HeapTypeExtern)

	valueTypeBottom = ValueType{Kind: valueKindBottom}
)

// Ref returns the non-nullable reference type of the given heap type.
func Ref(h HeapType) ValueType {
	return ValueType{Kind: ValueKindRef, Heap: h}
}

// RefNull returns the nullable reference type of the given heap type.
func RefNull(h HeapType) ValueType {
	return ValueType{Kind: ValueKindRef, Nullable: true, Heap: h}
}

// IsRef returns true for reference types of any family.
func (v ValueType) IsRef() bool {
	return v.Kind == ValueKindRef
}

// IsDefaultable returns true when the type has a zero value: all numeric types
// and nullable references. Non-nullable references have no zero value and must
// be definitely assigned before use.
func (v ValueType) IsDefaultable() bool {
	return v.Kind != ValueKindRef || v.Nullable
}

func (v ValueType) String() string {
	switch v.Kind {
	case ValueKindI32:
		return "i32"
	case ValueKindI64:
		return "i64"
	case ValueKindF32:
		return "f32"
	case ValueKindF64:
		return "f64"
	case valueKindBottom:
		return "bot"
	}
	switch {
	case v == ValueTypeFuncref:
		return "funcref"
	case v == ValueTypeExternref:
		return "externref"
	case v.Nullable:
		return fmt.Sprintf("(ref null %s)", v.Heap)
	default:
		return fmt.Sprintf("(ref %s)", v.Heap)
	}
}

func (h HeapType) String() string {
	switch h.Kind {
	case HeapKindFunc:
		return "func"
	case HeapKindExtern:
		return "extern"
	default:
		return fmt.Sprintf("%d", h.Index)
	}
}

// isSubtype reports whether sub matches where sup is expected. Validation must
// always use this, never equality: a non-nullable (ref $t) flows anywhere its
// nullable supertype (ref null $t) is expected, and the bottom type produced in
// unreachable code flows anywhere at all.
func isSubtype(sub, sup ValueType) bool {
	switch {
	case sub.Kind == valueKindBottom:
		return true
	case sub.Kind != sup.Kind:
		return false
	case sub.Kind != ValueKindRef:
		return true
	}
	if sub.Nullable && !sup.Nullable {
		return false
	}
	return heapMatches(sub.Heap, sup.Heap)
}

// heapMatches reports whether the sub heap family is included in sup's.
// Every defined type in this module shape is a function type, so a typed
// function reference belongs to the func family and never the extern family.
func heapMatches(sub, sup HeapType) bool {
	if sub == sup {
		return true
	}
	return sub.Kind == HeapKindIndex && sup.Kind == HeapKindFunc
}

// nonNull strips nullability, as on the fallthrough path of br_on_null.
// Bottom stays bottom.
func nonNull(v ValueType) ValueType {
	if v.Kind != ValueKindRef {
		return v
	}
	v.Nullable = false
	return v
}
