package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsSubtype(t *testing.T) {
	refT0 := Ref(HeapTypeIndex(0))
	refNullT0 := RefNull(HeapTypeIndex(0))

	for _, c := range []struct {
		name     string
		sub, sup ValueType
		exp      bool
	}{
		{name: "i32 matches i32", sub: ValueTypeI32, sup: ValueTypeI32, exp: true},
		{name: "i32 does not match i64", sub: ValueTypeI32, sup: ValueTypeI64, exp: false},
		{name: "i32 does not match funcref", sub: ValueTypeI32, sup: ValueTypeFuncref, exp: false},
		{name: "bottom matches anything", sub: valueTypeBottom, sup: refT0, exp: true},
		{name: "nothing else matches bottom", sub: ValueTypeI32, sup: valueTypeBottom, exp: false},
		{name: "non-null matches nullable", sub: refT0, sup: refNullT0, exp: true},
		{name: "nullable does not match non-null", sub: refNullT0, sup: refT0, exp: false},
		{name: "typed ref matches funcref", sub: refT0, sup: ValueTypeFuncref, exp: true},
		{name: "typed ref does not match externref", sub: refT0, sup: ValueTypeExternref, exp: false},
		{name: "funcref does not match typed ref", sub: ValueTypeFuncref, sup: refNullT0, exp: false},
		{name: "funcref matches itself", sub: ValueTypeFuncref, sup: ValueTypeFuncref, exp: true},
		{name: "distinct type indices do not match", sub: refT0, sup: Ref(HeapTypeIndex(1)), exp: false},
		{name: "non-null funcref matches nullable funcref", sub: Ref(HeapTypeFunc), sup: ValueTypeFuncref, exp: true},
	} {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.exp, isSubtype(c.sub, c.sup))
		})
	}
}

func TestIsDefaultable(t *testing.T) {
	require.True(t, ValueTypeI32.IsDefaultable())
	require.True(t, ValueTypeF64.IsDefaultable())
	require.True(t, ValueTypeFuncref.IsDefaultable())
	require.True(t, RefNull(HeapTypeIndex(3)).IsDefaultable())
	require.False(t, Ref(HeapTypeFunc).IsDefaultable())
	require.False(t, Ref(HeapTypeIndex(3)).IsDefaultable())
}

func TestNonNull(t *testing.T) {
	require.Equal(t, Ref(HeapTypeFunc), nonNull(ValueTypeFuncref))
	require.Equal(t, Ref(HeapTypeFunc), nonNull(Ref(HeapTypeFunc)))
	require.Equal(t, ValueTypeI32, nonNull(ValueTypeI32))
	require.Equal(t, valueTypeBottom, nonNull(valueTypeBottom))
}

func TestValueTypeString(t *testing.T) {
	require.Equal(t, "i32", ValueTypeI32.String())
	require.Equal(t, "funcref", ValueTypeFuncref.String())
	require.Equal(t, "externref", ValueTypeExternref.String())
	require.Equal(t, "(ref 2)", Ref(HeapTypeIndex(2)).String())
	require.Equal(t, "(ref null 2)", RefNull(HeapTypeIndex(2)).String())
	require.Equal(t, "(ref func)", Ref(HeapTypeFunc).String())
}
