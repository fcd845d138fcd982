package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func i32const(v int64) Instruction {
	return Instruction{Opcode: OpcodeI32Const, I32: v}
}

func localOp(op Opcode, idx Index) Instruction {
	return Instruction{Opcode: op, Index: idx}
}

// validate runs the body validator for a single-function module whose
// function has the last type in types.
func validate(types []*FunctionType, code *Code) error {
	m := &Module{
		TypeSection:     types,
		FunctionSection: []Index{Index(len(types) - 1)},
		CodeSection:     []*Code{code},
	}
	return m.validateFunction(types[len(types)-1], code, m.tableTypes())
}

func TestValidateFunction(t *testing.T) {
	t.Run("add", func(t *testing.T) {
		ft := &FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeI32}, Results: []ValueType{ValueTypeI32}}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			localOp(OpcodeLocalGet, 0),
			localOp(OpcodeLocalGet, 1),
			{Opcode: OpcodeI32Add},
			{Opcode: OpcodeEnd},
		}})
		require.NoError(t, err)
	})
	t.Run("operand kind mismatch", func(t *testing.T) {
		ft := &FunctionType{Results: []ValueType{ValueTypeI32}}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			i32const(1),
			{Opcode: OpcodeI64Const, I64: 2},
			{Opcode: OpcodeI32Add},
			{Opcode: OpcodeEnd},
		}})
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
	t.Run("stack underflow", func(t *testing.T) {
		ft := &FunctionType{Results: []ValueType{ValueTypeI32}}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			{Opcode: OpcodeI32Add},
			{Opcode: OpcodeEnd},
		}})
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
	t.Run("extra operands at end", func(t *testing.T) {
		ft := &FunctionType{Results: []ValueType{ValueTypeI32}}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			i32const(1),
			i32const(2),
			{Opcode: OpcodeEnd},
		}})
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
	t.Run("unknown label", func(t *testing.T) {
		ft := &FunctionType{}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			{Opcode: OpcodeBr, Index: 1},
			{Opcode: OpcodeEnd},
		}})
		require.ErrorIs(t, err, ErrUnknownLabel)
	})
	t.Run("unknown local", func(t *testing.T) {
		ft := &FunctionType{}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			localOp(OpcodeLocalGet, 5),
			{Opcode: OpcodeDrop},
			{Opcode: OpcodeEnd},
		}})
		require.ErrorIs(t, err, ErrUnknownLocal)
	})
	t.Run("call to unknown function", func(t *testing.T) {
		ft := &FunctionType{}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			{Opcode: OpcodeCall, Index: 7},
			{Opcode: OpcodeEnd},
		}})
		require.ErrorIs(t, err, ErrUnknownFunction)
	})
	t.Run("table access without a table", func(t *testing.T) {
		ft := &FunctionType{}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			i32const(0),
			{Opcode: OpcodeTableGet, Index: 0},
			{Opcode: OpcodeDrop},
			{Opcode: OpcodeEnd},
		}})
		require.ErrorIs(t, err, ErrUnknownTable)
	})
	t.Run("operands synthesized after unreachable", func(t *testing.T) {
		ft := &FunctionType{Results: []ValueType{ValueTypeI32}}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			{Opcode: OpcodeUnreachable},
			{Opcode: OpcodeI32Add},
			{Opcode: OpcodeEnd},
		}})
		require.NoError(t, err)
	})
	t.Run("unconditional branch ends reachability", func(t *testing.T) {
		ft := &FunctionType{Results: []ValueType{ValueTypeI32}}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			i32const(1),
			{Opcode: OpcodeBr, Index: 0},
			{Opcode: OpcodeI32Add},
			{Opcode: OpcodeEnd},
		}})
		require.NoError(t, err)
	})
	t.Run("loop label branches to its start", func(t *testing.T) {
		ft := &FunctionType{}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			{Opcode: OpcodeLoop, BlockType: &FunctionType{}},
			{Opcode: OpcodeBr, Index: 0},
			{Opcode: OpcodeEnd},
			{Opcode: OpcodeEnd},
		}})
		require.NoError(t, err)
	})
	t.Run("if without else must preserve its parameters", func(t *testing.T) {
		ft := &FunctionType{}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			i32const(1),
			{Opcode: OpcodeIf, BlockType: &FunctionType{Results: []ValueType{ValueTypeI32}}},
			i32const(2),
			{Opcode: OpcodeEnd},
			{Opcode: OpcodeDrop},
			{Opcode: OpcodeEnd},
		}})
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
	t.Run("br_table labels must agree", func(t *testing.T) {
		ft := &FunctionType{}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			{Opcode: OpcodeBlock, BlockType: &FunctionType{Results: []ValueType{ValueTypeI32}}},
			{Opcode: OpcodeBlock, BlockType: &FunctionType{}},
			i32const(1),
			i32const(0),
			{Opcode: OpcodeBrTable, Targets: []Index{0}, Index: 1},
			{Opcode: OpcodeEnd},
			i32const(2),
			{Opcode: OpcodeEnd},
			{Opcode: OpcodeDrop},
			{Opcode: OpcodeEnd},
		}})
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
	t.Run("br_table with agreeing labels", func(t *testing.T) {
		ft := &FunctionType{Results: []ValueType{ValueTypeI32}}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			{Opcode: OpcodeBlock, BlockType: &FunctionType{Results: []ValueType{ValueTypeI32}}},
			i32const(1),
			i32const(0),
			{Opcode: OpcodeBrTable, Targets: []Index{0}, Index: 1},
			{Opcode: OpcodeEnd},
			{Opcode: OpcodeEnd},
		}})
		require.NoError(t, err)
	})
}

func TestValidateFunction_localInitialization(t *testing.T) {
	// Type 0 is the signature under validation unless stated otherwise; the
	// non-defaultable local under test is (ref func) or (ref 0).
	t.Run("read of uninitialized local", func(t *testing.T) {
		ft := &FunctionType{}
		err := validate([]*FunctionType{ft}, &Code{
			LocalTypes: []ValueType{Ref(HeapTypeFunc)},
			Body: []Instruction{
				localOp(OpcodeLocalGet, 0),
				{Opcode: OpcodeDrop},
				{Opcode: OpcodeEnd},
			},
		})
		require.ErrorIs(t, err, ErrUninitializedLocal)
	})
	t.Run("defaultable local needs no initialization", func(t *testing.T) {
		ft := &FunctionType{Results: []ValueType{ValueTypeFuncref}}
		err := validate([]*FunctionType{ft}, &Code{
			LocalTypes: []ValueType{ValueTypeFuncref},
			Body: []Instruction{
				localOp(OpcodeLocalGet, 0),
				{Opcode: OpcodeEnd},
			},
		})
		require.NoError(t, err)
	})
	t.Run("set then get", func(t *testing.T) {
		ft := &FunctionType{}
		err := validate([]*FunctionType{ft}, &Code{
			LocalTypes: []ValueType{Ref(HeapTypeIndex(0))},
			Body: []Instruction{
				{Opcode: OpcodeRefFunc, Index: 0},
				localOp(OpcodeLocalSet, 0),
				localOp(OpcodeLocalGet, 0),
				{Opcode: OpcodeDrop},
				{Opcode: OpcodeEnd},
			},
		})
		require.NoError(t, err)
	})
	t.Run("tee initializes", func(t *testing.T) {
		ft := &FunctionType{}
		err := validate([]*FunctionType{ft}, &Code{
			LocalTypes: []ValueType{Ref(HeapTypeIndex(0))},
			Body: []Instruction{
				{Opcode: OpcodeRefFunc, Index: 0},
				localOp(OpcodeLocalTee, 0),
				{Opcode: OpcodeDrop},
				localOp(OpcodeLocalGet, 0),
				{Opcode: OpcodeDrop},
				{Opcode: OpcodeEnd},
			},
		})
		require.NoError(t, err)
	})
	t.Run("initialization in both arms", func(t *testing.T) {
		ft := &FunctionType{Params: []ValueType{ValueTypeI32}}
		err := validate([]*FunctionType{ft}, &Code{
			LocalTypes: []ValueType{Ref(HeapTypeIndex(0))},
			Body: []Instruction{
				localOp(OpcodeLocalGet, 0),
				{Opcode: OpcodeIf, BlockType: &FunctionType{}},
				{Opcode: OpcodeRefFunc, Index: 0},
				localOp(OpcodeLocalSet, 1),
				{Opcode: OpcodeElse},
				{Opcode: OpcodeRefFunc, Index: 0},
				localOp(OpcodeLocalSet, 1),
				{Opcode: OpcodeEnd},
				localOp(OpcodeLocalGet, 1),
				{Opcode: OpcodeDrop},
				{Opcode: OpcodeEnd},
			},
		})
		require.NoError(t, err)
	})
	t.Run("initialization in one arm only", func(t *testing.T) {
		ft := &FunctionType{Params: []ValueType{ValueTypeI32}}
		err := validate([]*FunctionType{ft}, &Code{
			LocalTypes: []ValueType{Ref(HeapTypeIndex(0))},
			Body: []Instruction{
				localOp(OpcodeLocalGet, 0),
				{Opcode: OpcodeIf, BlockType: &FunctionType{}},
				{Opcode: OpcodeRefFunc, Index: 0},
				localOp(OpcodeLocalSet, 1),
				{Opcode: OpcodeEnd},
				localOp(OpcodeLocalGet, 1),
				{Opcode: OpcodeDrop},
				{Opcode: OpcodeEnd},
			},
		})
		require.ErrorIs(t, err, ErrUninitializedLocal)
	})
	t.Run("unreachable arm does not veto the other", func(t *testing.T) {
		ft := &FunctionType{Params: []ValueType{ValueTypeI32}}
		err := validate([]*FunctionType{ft}, &Code{
			LocalTypes: []ValueType{Ref(HeapTypeIndex(0))},
			Body: []Instruction{
				localOp(OpcodeLocalGet, 0),
				{Opcode: OpcodeIf, BlockType: &FunctionType{}},
				{Opcode: OpcodeRefFunc, Index: 0},
				localOp(OpcodeLocalSet, 1),
				{Opcode: OpcodeElse},
				{Opcode: OpcodeUnreachable},
				{Opcode: OpcodeEnd},
				localOp(OpcodeLocalGet, 1),
				{Opcode: OpcodeDrop},
				{Opcode: OpcodeEnd},
			},
		})
		require.NoError(t, err)
	})
	t.Run("initialization persists past block end", func(t *testing.T) {
		ft := &FunctionType{}
		err := validate([]*FunctionType{ft}, &Code{
			LocalTypes: []ValueType{Ref(HeapTypeIndex(0))},
			Body: []Instruction{
				{Opcode: OpcodeBlock, BlockType: &FunctionType{}},
				{Opcode: OpcodeRefFunc, Index: 0},
				localOp(OpcodeLocalSet, 0),
				{Opcode: OpcodeEnd},
				localOp(OpcodeLocalGet, 0),
				{Opcode: OpcodeDrop},
				{Opcode: OpcodeEnd},
			},
		})
		require.NoError(t, err)
	})
	t.Run("branch that skips the set vetoes it", func(t *testing.T) {
		ft := &FunctionType{Params: []ValueType{ValueTypeI32}}
		err := validate([]*FunctionType{ft}, &Code{
			LocalTypes: []ValueType{Ref(HeapTypeIndex(0))},
			Body: []Instruction{
				{Opcode: OpcodeBlock, BlockType: &FunctionType{}},
				localOp(OpcodeLocalGet, 0),
				{Opcode: OpcodeBrIf, Index: 0},
				{Opcode: OpcodeRefFunc, Index: 0},
				localOp(OpcodeLocalSet, 1),
				{Opcode: OpcodeEnd},
				localOp(OpcodeLocalGet, 1),
				{Opcode: OpcodeDrop},
				{Opcode: OpcodeEnd},
			},
		})
		require.ErrorIs(t, err, ErrUninitializedLocal)
	})
}

func TestValidateFunction_referenceTyping(t *testing.T) {
	t.Run("br_if keeps the actual operand type on fallthrough", func(t *testing.T) {
		// The function result reifies to funcref at the label, but the
		// operand is a typed (ref 0); local.set below only checks if the
		// fallthrough keeps the precise type.
		unit := &FunctionType{}
		ft := &FunctionType{
			Params:  []ValueType{Ref(HeapTypeIndex(0))},
			Results: []ValueType{ValueTypeFuncref},
		}
		err := validate([]*FunctionType{unit, ft}, &Code{
			LocalTypes: []ValueType{Ref(HeapTypeIndex(0))},
			Body: []Instruction{
				localOp(OpcodeLocalGet, 0),
				i32const(0),
				{Opcode: OpcodeBrIf, Index: 0},
				localOp(OpcodeLocalSet, 1),
				localOp(OpcodeLocalGet, 1),
				{Opcode: OpcodeEnd},
			},
		})
		require.NoError(t, err)
	})
	t.Run("reified label type must not escape a conditional branch", func(t *testing.T) {
		// The operand really is funcref here, so even though the label checks
		// out, the fallthrough value must not be treated as the non-null
		// (ref func) the local requires.
		ft := &FunctionType{
			Params:  []ValueType{ValueTypeFuncref},
			Results: []ValueType{ValueTypeFuncref},
		}
		err := validate([]*FunctionType{ft}, &Code{
			LocalTypes: []ValueType{Ref(HeapTypeFunc)},
			Body: []Instruction{
				localOp(OpcodeLocalGet, 0),
				i32const(0),
				{Opcode: OpcodeBrIf, Index: 0},
				localOp(OpcodeLocalSet, 1),
				localOp(OpcodeLocalGet, 1),
				{Opcode: OpcodeEnd},
			},
		})
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
	t.Run("br_on_null strips nullability on fallthrough", func(t *testing.T) {
		ft := &FunctionType{
			Params:  []ValueType{ValueTypeFuncref},
			Results: []ValueType{ValueTypeI32},
		}
		err := validate([]*FunctionType{ft}, &Code{
			LocalTypes: []ValueType{Ref(HeapTypeFunc)},
			Body: []Instruction{
				i32const(1),
				localOp(OpcodeLocalGet, 0),
				{Opcode: OpcodeBrOnNull, Index: 0},
				localOp(OpcodeLocalSet, 1),
				{Opcode: OpcodeEnd},
			},
		})
		require.NoError(t, err)
	})
	t.Run("nullable ref does not satisfy a non-null local without the branch", func(t *testing.T) {
		ft := &FunctionType{Params: []ValueType{ValueTypeFuncref}}
		err := validate([]*FunctionType{ft}, &Code{
			LocalTypes: []ValueType{Ref(HeapTypeFunc)},
			Body: []Instruction{
				localOp(OpcodeLocalGet, 0),
				localOp(OpcodeLocalSet, 1),
				{Opcode: OpcodeEnd},
			},
		})
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
	t.Run("br_on_non_null carries a non-null ref to its label", func(t *testing.T) {
		ft := &FunctionType{Params: []ValueType{ValueTypeFuncref}}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			{Opcode: OpcodeBlock, BlockType: &FunctionType{Results: []ValueType{Ref(HeapTypeFunc)}}},
			localOp(OpcodeLocalGet, 0),
			{Opcode: OpcodeBrOnNonNull, Index: 0},
			{Opcode: OpcodeRefFunc, Index: 0},
			{Opcode: OpcodeEnd},
			{Opcode: OpcodeDrop},
			{Opcode: OpcodeEnd},
		}})
		require.NoError(t, err)
	})
	t.Run("br_on_non_null label must expect a reference", func(t *testing.T) {
		ft := &FunctionType{Params: []ValueType{ValueTypeFuncref}}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			{Opcode: OpcodeBlock, BlockType: &FunctionType{Results: []ValueType{ValueTypeI32}}},
			localOp(OpcodeLocalGet, 0),
			{Opcode: OpcodeBrOnNonNull, Index: 0},
			i32const(1),
			{Opcode: OpcodeEnd},
			{Opcode: OpcodeDrop},
			{Opcode: OpcodeEnd},
		}})
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
	t.Run("ref.is_null rejects numerics", func(t *testing.T) {
		ft := &FunctionType{}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			i32const(1),
			{Opcode: OpcodeRefIsNull},
			{Opcode: OpcodeDrop},
			{Opcode: OpcodeEnd},
		}})
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
	t.Run("select rejects references", func(t *testing.T) {
		ft := &FunctionType{}
		err := validate([]*FunctionType{ft}, &Code{Body: []Instruction{
			{Opcode: OpcodeRefNull, Heap: HeapTypeFunc},
			{Opcode: OpcodeRefNull, Heap: HeapTypeFunc},
			i32const(1),
			{Opcode: OpcodeSelect},
			{Opcode: OpcodeDrop},
			{Opcode: OpcodeEnd},
		}})
		require.ErrorIs(t, err, ErrTypeMismatch)
	})
}
