package wasm

// Opcode is the binary opcode of an instruction. See also InstructionName.
type Opcode = byte

const (
	// OpcodeUnreachable causes an unconditional trap.
	OpcodeUnreachable Opcode = 0x00
	// OpcodeNop does nothing.
	OpcodeNop Opcode = 0x01
	// OpcodeBlock brackets a sequence of instructions. A branch on a block
	// label breaks out to after its OpcodeEnd.
	OpcodeBlock Opcode = 0x02
	// OpcodeLoop brackets a sequence of instructions. A branch on a loop label
	// jumps back to the beginning of its block.
	OpcodeLoop Opcode = 0x03
	// OpcodeIf executes its block when the top of the stack is non-zero, and
	// jumps to the optional OpcodeElse otherwise.
	OpcodeIf Opcode = 0x04
	// OpcodeElse brackets the alternative arm of an OpcodeIf.
	OpcodeElse Opcode = 0x05
	// OpcodeEnd terminates an OpcodeBlock, OpcodeLoop, OpcodeIf or a function
	// body.
	OpcodeEnd Opcode = 0x0b

	OpcodeBr           Opcode = 0x0c
	OpcodeBrIf         Opcode = 0x0d
	OpcodeBrTable      Opcode = 0x0e
	OpcodeReturn       Opcode = 0x0f
	OpcodeCall         Opcode = 0x10
	OpcodeCallIndirect Opcode = 0x11

	// parametric instructions

	OpcodeDrop   Opcode = 0x1a
	OpcodeSelect Opcode = 0x1b

	// variable instructions

	OpcodeLocalGet Opcode = 0x20
	OpcodeLocalSet Opcode = 0x21
	OpcodeLocalTee Opcode = 0x22

	// table instructions

	OpcodeTableGet Opcode = 0x25
	OpcodeTableSet Opcode = 0x26

	// memory instructions (the narrow slice the conformance assertions need)

	OpcodeI32Load8U Opcode = 0x2d
	OpcodeI32Store8 Opcode = 0x3a

	// const instructions

	OpcodeI32Const Opcode = 0x41
	OpcodeI64Const Opcode = 0x42
	OpcodeF32Const Opcode = 0x43
	OpcodeF64Const Opcode = 0x44

	// numeric instructions

	OpcodeI32Eqz Opcode = 0x45
	OpcodeI32Add Opcode = 0x6a
	OpcodeI32Sub Opcode = 0x6b

	// reference instructions

	// OpcodeRefNull pushes a null reference of its heap type immediate.
	OpcodeRefNull Opcode = 0xd0
	// OpcodeRefIsNull pops a reference and pushes 1 when it is null.
	OpcodeRefIsNull Opcode = 0xd1
	// OpcodeRefFunc pushes a non-null typed reference to its function
	// immediate.
	OpcodeRefFunc Opcode = 0xd2
	// OpcodeBrOnNull pops a reference and branches when it is null; when it is
	// not, the reference continues on the stack with its null-ness stripped.
	OpcodeBrOnNull Opcode = 0xd5
	// OpcodeBrOnNonNull pops a reference and branches with it when it is not
	// null; a null reference is dropped and execution falls through.
	OpcodeBrOnNonNull Opcode = 0xd6

	// OpcodeMiscPrefix begins a two-byte instruction whose second opcode is in
	// Instruction.Misc.
	OpcodeMiscPrefix Opcode = 0xfc
)

// OpcodeMisc is the secondary opcode of an OpcodeMiscPrefix instruction.
type OpcodeMisc = byte

const (
	OpcodeMiscTableInit OpcodeMisc = 0x0c
	OpcodeMiscTableGrow OpcodeMisc = 0x0f
	OpcodeMiscTableSize OpcodeMisc = 0x10
)

// Instruction is one already-decoded instruction: an opcode tag plus its
// static immediates. Which immediate fields are meaningful depends on the
// opcode; unused fields are zero.
type Instruction struct {
	Opcode Opcode
	// Misc is the secondary opcode when Opcode == OpcodeMiscPrefix.
	Misc OpcodeMisc

	// Index is the main index immediate: the label depth of branches, the
	// local index of variable instructions, the function index of call and
	// ref.func, the type index of call_indirect, the table index of table.get
	// and table.set, or the element segment index of table.init.
	Index Index
	// TableIndex is the table immediate of call_indirect, table.init,
	// table.grow and table.size.
	TableIndex Index
	// Targets are the branch table of br_table; Index holds the default.
	Targets []Index

	// BlockType is the signature of block, loop and if.
	BlockType *FunctionType
	// Heap is the heap type immediate of ref.null.
	Heap HeapType

	// I32 is the payload of i32.const, widened so that out-of-range literals
	// handed over by a loader are representable and can be rejected.
	I32 int64
	I64 int64
	F32 float32
	F64 float64
}

// InstructionName returns the text-format name of the given opcode.
func InstructionName(op Opcode) string {
	switch op {
	case OpcodeUnreachable:
		return "unreachable"
	case OpcodeNop:
		return "nop"
	case OpcodeBlock:
		return "block"
	case OpcodeLoop:
		return "loop"
	case OpcodeIf:
		return "if"
	case OpcodeElse:
		return "else"
	case OpcodeEnd:
		return "end"
	case OpcodeBr:
		return "br"
	case OpcodeBrIf:
		return "br_if"
	case OpcodeBrTable:
		return "br_table"
	case OpcodeReturn:
		return "return"
	case OpcodeCall:
		return "call"
	case OpcodeCallIndirect:
		return "call_indirect"
	case OpcodeDrop:
		return "drop"
	case OpcodeSelect:
		return "select"
	case OpcodeLocalGet:
		return "local.get"
	case OpcodeLocalSet:
		return "local.set"
	case OpcodeLocalTee:
		return "local.tee"
	case OpcodeTableGet:
		return "table.get"
	case OpcodeTableSet:
		return "table.set"
	case OpcodeI32Load8U:
		return "i32.load8_u"
	case OpcodeI32Store8:
		return "i32.store8"
	case OpcodeI32Const:
		return "i32.const"
	case OpcodeI64Const:
		return "i64.const"
	case OpcodeF32Const:
		return "f32.const"
	case OpcodeF64Const:
		return "f64.const"
	case OpcodeI32Eqz:
		return "i32.eqz"
	case OpcodeI32Add:
		return "i32.add"
	case OpcodeI32Sub:
		return "i32.sub"
	case OpcodeRefNull:
		return "ref.null"
	case OpcodeRefIsNull:
		return "ref.is_null"
	case OpcodeRefFunc:
		return "ref.func"
	case OpcodeBrOnNull:
		return "br_on_null"
	case OpcodeBrOnNonNull:
		return "br_on_non_null"
	}
	return "unknown"
}

// MiscInstructionName returns the text-format name of an OpcodeMiscPrefix
// secondary opcode.
func MiscInstructionName(op OpcodeMisc) string {
	switch op {
	case OpcodeMiscTableInit:
		return "table.init"
	case OpcodeMiscTableGrow:
		return "table.grow"
	case OpcodeMiscTableSize:
		return "table.size"
	}
	return "unknown"
}

// name returns a diagnostic name for the instruction, resolving the misc
// prefix.
func (i *Instruction) name() string {
	if i.Opcode == OpcodeMiscPrefix {
		return MiscInstructionName(i.Misc)
	}
	return InstructionName(i.Opcode)
}
