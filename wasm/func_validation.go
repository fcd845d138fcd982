package wasm

import (
	"fmt"
)

// CodeBlock is the structure metadata recovered for one block, loop or if
// during validation. Interpreters use it to jump between the opening
// instruction, the optional else and the end without rescanning the body.
type CodeBlock struct {
	BlockType *FunctionType
	StartPC   int
	// ElsePC is -1 when an if has no else arm.
	ElsePC int
	EndPC  int
}

// localInits is a bitset over the function's locals, parameters included.
// A set bit means the local is definitely initialized on every path that
// reaches the current instruction. nil is the top element: every local
// initialized, contributed by arms that cannot complete.
type localInits []uint64

func newLocalInits(n int) localInits {
	return make(localInits, (n+63)/64)
}

func fullInits(n int) localInits {
	v := newLocalInits(n)
	for i := 0; i < n; i++ {
		v.set(i)
	}
	return v
}

func (v localInits) set(i int)      { v[i/64] |= 1 << (uint(i) % 64) }
func (v localInits) has(i int) bool { return v[i/64]&(1<<(uint(i)%64)) != 0 }

func (v localInits) clone() localInits {
	if v == nil {
		return nil
	}
	c := make(localInits, len(v))
	copy(c, v)
	return c
}

// intersectInits merges two path states at a join: a local stays initialized
// only when both paths initialized it. nil absorbs into the other operand.
func intersectInits(a, b localInits) localInits {
	if a == nil {
		return b.clone()
	}
	if b == nil {
		return a.clone()
	}
	c := make(localInits, len(a))
	for i := range a {
		c[i] = a[i] & b[i]
	}
	return c
}

// controlFrame is one entry of the validation-time control stack: the label
// introduced by a block, loop or if, or the implicit function-body label at
// the bottom.
type controlFrame struct {
	opcode    Opcode
	blockType *FunctionType
	// height is the operand stack height at frame entry; the frame's code may
	// not pop below it.
	height int
	// unreachable is set after br, br_table, return or unreachable; popping
	// below height then synthesizes bottom operands instead of failing.
	unreachable bool
	startPC     int
	elsePC      int
	elseSeen    bool
	// entryInits is the locals state at frame entry. An else arm restarts
	// from it, and a loop back-edge may assume no more than it.
	entryInits localInits
	// thenInits is the then arm's exit state, captured at else.
	thenInits localInits
	// branchInits accumulates the intersection of the locals states at every
	// branch targeting this label. nil until the first branch.
	branchInits localInits
	branchSeen  bool
}

// labelTypes returns the operand types a branch to this frame's label must
// supply: the block parameters for a loop, the block results otherwise.
func (f *controlFrame) labelTypes() []ValueType {
	if f.opcode == OpcodeLoop {
		return f.blockType.Params
	}
	return f.blockType.Results
}

// funcValidator holds the state of one function body's single validation
// pass: the operand type stack, the control stack, and the definite
// initialization state of the locals.
type funcValidator struct {
	module     *Module
	tables     []*TableType
	funcCount  uint32
	localTypes []ValueType

	stack  []ValueType
	frames []*controlFrame
	inits  localInits
	blocks map[int]*CodeBlock
}

// validateFunction type checks one function body against its declared
// signature.
func (m *Module) validateFunction(ft *FunctionType, code *Code, tables []*TableType) error {
	_, err := m.analyzeFunction(ft, code, tables)
	return err
}

// analyzeFunction validates the body and returns its block metadata for
// execution. The pass is strictly forward: each instruction is visited once,
// and joins merge with intersection rather than iterating to a fixed point.
func (m *Module) analyzeFunction(ft *FunctionType, code *Code, tables []*TableType) (map[int]*CodeBlock, error) {
	locals := make([]ValueType, 0, len(ft.Params)+len(code.LocalTypes))
	locals = append(locals, ft.Params...)
	locals = append(locals, code.LocalTypes...)

	inits := newLocalInits(len(locals))
	for i := range locals {
		if i < len(ft.Params) || locals[i].IsDefaultable() {
			inits.set(i)
		}
	}

	v := &funcValidator{
		module:     m,
		tables:     tables,
		funcCount:  m.ImportedFunctionCount() + uint32(len(m.FunctionSection)),
		localTypes: locals,
		inits:      inits,
		blocks:     map[int]*CodeBlock{},
	}
	v.frames = append(v.frames, &controlFrame{
		opcode:     OpcodeBlock,
		blockType:  ft,
		entryInits: inits.clone(),
		elsePC:     -1,
	})

	for pc := 0; pc < len(code.Body); pc++ {
		if len(v.frames) == 0 {
			return nil, invalidf(ErrTypeMismatch, "instructions after the function's final end")
		}
		if err := v.step(pc, &code.Body[pc]); err != nil {
			return nil, err
		}
	}
	if len(v.frames) != 0 {
		return nil, invalidf(ErrTypeMismatch, "function body is not terminated by end")
	}
	return v.blocks, nil
}

func (v *funcValidator) frame() *controlFrame {
	return v.frames[len(v.frames)-1]
}

func (v *funcValidator) push(t ValueType) {
	v.stack = append(v.stack, t)
}

// pop removes the top operand. Inside unreachable code an empty frame yields
// the bottom type, which is a subtype of everything.
func (v *funcValidator) pop() (ValueType, error) {
	f := v.frame()
	if len(v.stack) == f.height {
		if f.unreachable {
			return valueTypeBottom, nil
		}
		return ValueType{}, invalidf(ErrTypeMismatch, "popping from an empty stack")
	}
	t := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	return t, nil
}

// popExpect pops an operand and checks it against the expected type. The
// returned type is the actual popped one, which may be a strict subtype of
// want.
func (v *funcValidator) popExpect(want ValueType, in string) (ValueType, error) {
	got, err := v.pop()
	if err != nil {
		return got, err
	}
	if !isSubtype(got, want) {
		return got, invalidf(ErrTypeMismatch, "%s expected %s but got %s", in, want, got)
	}
	return got, nil
}

// popTypes pops the given types in reverse order and returns the actual
// operand types in declaration order.
func (v *funcValidator) popTypes(want []ValueType, in string) ([]ValueType, error) {
	actuals := make([]ValueType, len(want))
	for i := len(want) - 1; i >= 0; i-- {
		got, err := v.popExpect(want[i], in)
		if err != nil {
			return nil, err
		}
		actuals[i] = got
	}
	return actuals, nil
}

func (v *funcValidator) pushTypes(ts []ValueType) {
	v.stack = append(v.stack, ts...)
}

// markUnreachable discards the current frame's operands and switches it to
// bottom synthesis.
func (v *funcValidator) markUnreachable() {
	f := v.frame()
	f.unreachable = true
	v.stack = v.stack[:f.height]
}

func (v *funcValidator) targetFrame(depth Index, in string) (*controlFrame, error) {
	if int(depth) >= len(v.frames) {
		return nil, invalidf(ErrUnknownLabel, "%s targets label %d but only %d labels are in scope",
			in, depth, len(v.frames))
	}
	return v.frames[len(v.frames)-1-int(depth)], nil
}

// noteBranch folds the current locals state into the branch target. Loop
// labels are back edges and assume only the loop's entry state, which the
// current state always covers because initialization is monotone along a
// path.
func (v *funcValidator) noteBranch(target *controlFrame) {
	if v.frame().unreachable {
		return
	}
	if target.opcode == OpcodeLoop {
		return
	}
	if !target.branchSeen {
		target.branchInits = v.inits.clone()
		target.branchSeen = true
		return
	}
	target.branchInits = intersectInits(target.branchInits, v.inits)
}

func (v *funcValidator) step(pc int, instr *Instruction) error {
	switch instr.Opcode {
	case OpcodeUnreachable:
		v.markUnreachable()
	case OpcodeNop:
	case OpcodeBlock, OpcodeLoop:
		bt := instr.BlockType
		if _, err := v.popTypes(bt.Params, instr.name()); err != nil {
			return err
		}
		v.frames = append(v.frames, &controlFrame{
			opcode:     instr.Opcode,
			blockType:  bt,
			height:     len(v.stack),
			startPC:    pc,
			elsePC:     -1,
			entryInits: v.inits.clone(),
		})
		v.pushTypes(bt.Params)
	case OpcodeIf:
		bt := instr.BlockType
		if _, err := v.popExpect(ValueTypeI32, "if"); err != nil {
			return err
		}
		if _, err := v.popTypes(bt.Params, "if"); err != nil {
			return err
		}
		v.frames = append(v.frames, &controlFrame{
			opcode:     OpcodeIf,
			blockType:  bt,
			height:     len(v.stack),
			startPC:    pc,
			elsePC:     -1,
			entryInits: v.inits.clone(),
		})
		v.pushTypes(bt.Params)
	case OpcodeElse:
		f := v.frame()
		if f.opcode != OpcodeIf || f.elseSeen {
			return invalidf(ErrTypeMismatch, "else outside an if")
		}
		if err := v.closeArm(f, "if arm"); err != nil {
			return err
		}
		if f.unreachable {
			f.thenInits = nil
		} else {
			f.thenInits = v.inits.clone()
		}
		f.elseSeen = true
		f.elsePC = pc
		f.unreachable = false
		v.inits = f.entryInits.clone()
		v.pushTypes(f.blockType.Params)
	case OpcodeEnd:
		return v.endFrame(pc)
	case OpcodeBr:
		f, err := v.targetFrame(instr.Index, "br")
		if err != nil {
			return err
		}
		if _, err := v.popTypes(f.labelTypes(), "br"); err != nil {
			return err
		}
		v.noteBranch(f)
		v.markUnreachable()
	case OpcodeBrIf:
		if _, err := v.popExpect(ValueTypeI32, "br_if"); err != nil {
			return err
		}
		f, err := v.targetFrame(instr.Index, "br_if")
		if err != nil {
			return err
		}
		// The operands stay on the stack on the fallthrough path. Pushing
		// back the actual popped types rather than the label's reified types
		// keeps subtype information a later instruction may rely on.
		actuals, err := v.popTypes(f.labelTypes(), "br_if")
		if err != nil {
			return err
		}
		v.noteBranch(f)
		v.pushTypes(actuals)
	case OpcodeBrTable:
		if _, err := v.popExpect(ValueTypeI32, "br_table"); err != nil {
			return err
		}
		def, err := v.targetFrame(instr.Index, "br_table")
		if err != nil {
			return err
		}
		actuals, err := v.popTypes(def.labelTypes(), "br_table")
		if err != nil {
			return err
		}
		v.noteBranch(def)
		for _, depth := range instr.Targets {
			f, err := v.targetFrame(depth, "br_table")
			if err != nil {
				return err
			}
			want := f.labelTypes()
			if len(want) != len(actuals) {
				return invalidf(ErrTypeMismatch, "br_table targets have inconsistent label arity")
			}
			for i, a := range actuals {
				if !isSubtype(a, want[i]) {
					return invalidf(ErrTypeMismatch, "br_table label %d expected %s but got %s", depth, want[i], a)
				}
			}
			v.noteBranch(f)
		}
		v.markUnreachable()
	case OpcodeReturn:
		ret := v.frames[0].blockType.Results
		if _, err := v.popTypes(ret, "return"); err != nil {
			return err
		}
		v.markUnreachable()
	case OpcodeCall:
		if instr.Index >= v.funcCount {
			return invalidf(ErrUnknownFunction, "call targets function %d", instr.Index)
		}
		ft := v.module.TypeOfFunction(instr.Index)
		if _, err := v.popTypes(ft.Params, "call"); err != nil {
			return err
		}
		v.pushTypes(ft.Results)
	case OpcodeCallIndirect:
		if int(instr.Index) >= len(v.module.TypeSection) {
			return invalidf(ErrUnknownType, "call_indirect uses type %d", instr.Index)
		}
		if int(instr.TableIndex) >= len(v.tables) {
			return invalidf(ErrUnknownTable, "call_indirect uses table %d", instr.TableIndex)
		}
		table := v.tables[instr.TableIndex]
		if !isSubtype(table.ElemType, ValueTypeFuncref) {
			return invalidf(ErrTypeMismatch, "call_indirect on a table of %s", table.ElemType)
		}
		if _, err := v.popExpect(ValueTypeI32, "call_indirect"); err != nil {
			return err
		}
		ft := v.module.TypeSection[instr.Index]
		if _, err := v.popTypes(ft.Params, "call_indirect"); err != nil {
			return err
		}
		v.pushTypes(ft.Results)
	case OpcodeDrop:
		if _, err := v.pop(); err != nil {
			return err
		}
	case OpcodeSelect:
		if _, err := v.popExpect(ValueTypeI32, "select"); err != nil {
			return err
		}
		t1, err := v.pop()
		if err != nil {
			return err
		}
		t2, err := v.pop()
		if err != nil {
			return err
		}
		if t1.IsRef() || t2.IsRef() {
			return invalidf(ErrTypeMismatch, "select requires numeric operands, got %s and %s", t2, t1)
		}
		switch {
		case t1.Kind == valueKindBottom:
			v.push(t2)
		case t2.Kind == valueKindBottom:
			v.push(t1)
		case t1 != t2:
			return invalidf(ErrTypeMismatch, "select operands %s and %s differ", t2, t1)
		default:
			v.push(t1)
		}
	case OpcodeLocalGet:
		lt, err := v.localType(instr.Index, "local.get")
		if err != nil {
			return err
		}
		if !lt.IsDefaultable() && !v.inits.has(int(instr.Index)) {
			return invalidf(ErrUninitializedLocal, "local.get of local %d of type %s", instr.Index, lt)
		}
		v.push(lt)
	case OpcodeLocalSet:
		lt, err := v.localType(instr.Index, "local.set")
		if err != nil {
			return err
		}
		if _, err := v.popExpect(lt, "local.set"); err != nil {
			return err
		}
		v.inits.set(int(instr.Index))
	case OpcodeLocalTee:
		lt, err := v.localType(instr.Index, "local.tee")
		if err != nil {
			return err
		}
		got, err := v.popExpect(lt, "local.tee")
		if err != nil {
			return err
		}
		v.inits.set(int(instr.Index))
		v.push(got)
	case OpcodeTableGet:
		t, err := v.tableType(instr.Index, "table.get")
		if err != nil {
			return err
		}
		if _, err := v.popExpect(ValueTypeI32, "table.get"); err != nil {
			return err
		}
		v.push(t.ElemType)
	case OpcodeTableSet:
		t, err := v.tableType(instr.Index, "table.set")
		if err != nil {
			return err
		}
		if _, err := v.popExpect(t.ElemType, "table.set"); err != nil {
			return err
		}
		if _, err := v.popExpect(ValueTypeI32, "table.set"); err != nil {
			return err
		}
	case OpcodeI32Load8U:
		if len(v.module.MemorySection) == 0 {
			return invalidf(ErrTypeMismatch, "i32.load8_u without a memory")
		}
		if _, err := v.popExpect(ValueTypeI32, "i32.load8_u"); err != nil {
			return err
		}
		v.push(ValueTypeI32)
	case OpcodeI32Store8:
		if len(v.module.MemorySection) == 0 {
			return invalidf(ErrTypeMismatch, "i32.store8 without a memory")
		}
		if _, err := v.popExpect(ValueTypeI32, "i32.store8"); err != nil {
			return err
		}
		if _, err := v.popExpect(ValueTypeI32, "i32.store8"); err != nil {
			return err
		}
	case OpcodeI32Const:
		v.push(ValueTypeI32)
	case OpcodeI64Const:
		v.push(ValueTypeI64)
	case OpcodeF32Const:
		v.push(ValueTypeF32)
	case OpcodeF64Const:
		v.push(ValueTypeF64)
	case OpcodeI32Eqz:
		if _, err := v.popExpect(ValueTypeI32, "i32.eqz"); err != nil {
			return err
		}
		v.push(ValueTypeI32)
	case OpcodeI32Add, OpcodeI32Sub:
		if _, err := v.popExpect(ValueTypeI32, instr.name()); err != nil {
			return err
		}
		if _, err := v.popExpect(ValueTypeI32, instr.name()); err != nil {
			return err
		}
		v.push(ValueTypeI32)
	case OpcodeRefNull:
		v.push(RefNull(instr.Heap))
	case OpcodeRefIsNull:
		got, err := v.pop()
		if err != nil {
			return err
		}
		if !got.IsRef() && got.Kind != valueKindBottom {
			return invalidf(ErrTypeMismatch, "ref.is_null expected a reference but got %s", got)
		}
		v.push(ValueTypeI32)
	case OpcodeRefFunc:
		if instr.Index >= v.funcCount {
			return invalidf(ErrUnknownFunction, "ref.func targets function %d", instr.Index)
		}
		v.push(Ref(HeapTypeIndex(v.module.typeIndexOf(instr.Index))))
	case OpcodeBrOnNull:
		f, err := v.targetFrame(instr.Index, "br_on_null")
		if err != nil {
			return err
		}
		rt, err := v.pop()
		if err != nil {
			return err
		}
		if !rt.IsRef() && rt.Kind != valueKindBottom {
			return invalidf(ErrTypeMismatch, "br_on_null expected a reference but got %s", rt)
		}
		actuals, err := v.popTypes(f.labelTypes(), "br_on_null")
		if err != nil {
			return err
		}
		v.noteBranch(f)
		// On fallthrough the operand is known non-null, and the other
		// operands keep their actual types rather than the label's.
		v.pushTypes(actuals)
		v.push(nonNull(rt))
	case OpcodeBrOnNonNull:
		f, err := v.targetFrame(instr.Index, "br_on_non_null")
		if err != nil {
			return err
		}
		label := f.labelTypes()
		if len(label) == 0 {
			return invalidf(ErrTypeMismatch, "br_on_non_null label expects no values")
		}
		last := label[len(label)-1]
		if !last.IsRef() {
			return invalidf(ErrTypeMismatch, "br_on_non_null label expects %s, not a reference", last)
		}
		rt, err := v.pop()
		if err != nil {
			return err
		}
		if !rt.IsRef() && rt.Kind != valueKindBottom {
			return invalidf(ErrTypeMismatch, "br_on_non_null expected a reference but got %s", rt)
		}
		if !isSubtype(nonNull(rt), last) {
			return invalidf(ErrTypeMismatch, "br_on_non_null expected %s but got %s", last, rt)
		}
		actuals, err := v.popTypes(label[:len(label)-1], "br_on_non_null")
		if err != nil {
			return err
		}
		v.noteBranch(f)
		v.pushTypes(actuals)
	case OpcodeMiscPrefix:
		return v.stepMisc(instr)
	default:
		return invalidf(ErrTypeMismatch, "unsupported instruction 0x%x", instr.Opcode)
	}
	return nil
}

func (v *funcValidator) stepMisc(instr *Instruction) error {
	switch instr.Misc {
	case OpcodeMiscTableInit:
		if int(instr.Index) >= len(v.module.ElementSection) {
			return invalidf(ErrUnknownElem, "table.init uses segment %d", instr.Index)
		}
		t, err := v.tableType(instr.TableIndex, "table.init")
		if err != nil {
			return err
		}
		if !isSubtype(ValueTypeFuncref, t.ElemType) {
			return invalidf(ErrTypeMismatch, "table.init into a table of %s", t.ElemType)
		}
		for i := 0; i < 3; i++ {
			if _, err := v.popExpect(ValueTypeI32, "table.init"); err != nil {
				return err
			}
		}
	case OpcodeMiscTableGrow:
		t, err := v.tableType(instr.TableIndex, "table.grow")
		if err != nil {
			return err
		}
		if _, err := v.popExpect(ValueTypeI32, "table.grow"); err != nil {
			return err
		}
		if _, err := v.popExpect(t.ElemType, "table.grow"); err != nil {
			return err
		}
		v.push(ValueTypeI32)
	case OpcodeMiscTableSize:
		if _, err := v.tableType(instr.TableIndex, "table.size"); err != nil {
			return err
		}
		v.push(ValueTypeI32)
	default:
		return invalidf(ErrTypeMismatch, "unsupported instruction 0xfc 0x%x", instr.Misc)
	}
	return nil
}

func (v *funcValidator) localType(idx Index, in string) (ValueType, error) {
	if int(idx) >= len(v.localTypes) {
		return ValueType{}, invalidf(ErrUnknownLocal, "%s of local %d", in, idx)
	}
	return v.localTypes[idx], nil
}

func (v *funcValidator) tableType(idx Index, in string) (*TableType, error) {
	if int(idx) >= len(v.tables) {
		return nil, invalidf(ErrUnknownTable, "%s uses table %d", in, idx)
	}
	return v.tables[idx], nil
}

// closeArm checks that the current frame's operands are exactly its declared
// results: nothing missing, nothing extra.
func (v *funcValidator) closeArm(f *controlFrame, in string) error {
	if _, err := v.popTypes(f.blockType.Results, in); err != nil {
		return err
	}
	if len(v.stack) != f.height {
		return invalidf(ErrTypeMismatch, "%s leaves %d extra operands on the stack", in, len(v.stack)-f.height)
	}
	v.stack = v.stack[:f.height]
	return nil
}

// endFrame closes the innermost frame: it checks the fallthrough operands,
// merges the locals states of every path that reaches the next instruction,
// records the block metadata, and pushes the declared results for the
// enclosing frame.
func (v *funcValidator) endFrame(pc int) error {
	f := v.frame()
	if err := v.closeArm(f, fmt.Sprintf("%s fallthrough", InstructionName(f.opcode))); err != nil {
		return err
	}

	if f.opcode == OpcodeIf && !f.elseSeen {
		// A missing else arm falls through with the if's parameters, so they
		// must already satisfy the declared results.
		bt := f.blockType
		if len(bt.Params) != len(bt.Results) {
			return invalidf(ErrTypeMismatch, "if without else requires matching parameter and result arity")
		}
		for i := range bt.Params {
			if !isSubtype(bt.Params[i], bt.Results[i]) {
				return invalidf(ErrTypeMismatch, "if without else requires %s to satisfy %s", bt.Params[i], bt.Results[i])
			}
		}
	}

	fall := v.inits
	if f.unreachable {
		fall = nil
	}
	var merged localInits
	switch {
	case f.opcode == OpcodeLoop:
		// Branches to a loop label re-enter the loop, so only the fallthrough
		// path reaches the next instruction.
		merged = fall
	case f.opcode == OpcodeIf && f.elseSeen:
		merged = intersectInits(f.thenInits, fall)
		if f.branchSeen {
			merged = intersectInits(merged, f.branchInits)
		}
	case f.opcode == OpcodeIf:
		merged = intersectInits(f.entryInits, fall)
		if f.branchSeen {
			merged = intersectInits(merged, f.branchInits)
		}
	default:
		merged = fall
		if f.branchSeen {
			merged = intersectInits(merged, f.branchInits)
		}
	}
	if merged == nil {
		// Every path in is unreachable; the code after the end is dynamically
		// dead, so any locals state is sound.
		merged = fullInits(len(v.localTypes))
	}
	v.inits = merged

	v.frames = v.frames[:len(v.frames)-1]
	if f.startPC >= 0 && len(v.frames) > 0 {
		v.blocks[f.startPC] = &CodeBlock{
			BlockType: f.blockType,
			StartPC:   f.startPC,
			ElsePC:    f.elsePC,
			EndPC:     pc,
		}
	}
	v.pushTypes(f.blockType.Results)
	if len(v.frames) == 0 {
		// The function frame's results stay on the stack as the return
		// values; drop them so the final emptiness check is uniform.
		v.stack = v.stack[:0]
	}
	return nil
}
