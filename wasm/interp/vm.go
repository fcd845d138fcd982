// Package interp executes validated functions with a byte-dispatched
// handler table, a shared operand stack of runtime values and one frame per
// activation. It favors obviousness over speed.
package interp

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/refvm/refvm/wasm"
)

// callStackCeiling bounds recursion before the trap fires. The value is
// arbitrary but deep enough for any reasonable module.
const callStackCeiling = 2000

// Engine is a direct-threaded interpreter over validated instruction
// sequences. It carries no state of its own; each Call builds a fresh
// virtual machine.
type Engine struct{}

// NewEngine returns an interpreter engine for wasm.NewStore.
func NewEngine() *Engine {
	return &Engine{}
}

// Compile checks that the function carries the control metadata the
// interpreter jumps through. Bodies get no further preprocessing.
func (e *Engine) Compile(f *wasm.FunctionInstance) error {
	if f.HostFunction == nil && f.Blocks == nil {
		return fmt.Errorf("function %d has no control metadata", f.Index)
	}
	return nil
}

// Call runs the function to completion and returns its results. Traps
// propagate as panics inside the machine and are converted to errors here.
func (e *Engine) Call(f *wasm.FunctionInstance, args ...wasm.Value) (results []wasm.Value, err error) {
	defer func() {
		if v := recover(); v != nil {
			if trap, ok := v.(error); ok {
				err = trap
			} else {
				err = fmt.Errorf("wasm runtime error: %v", v)
			}
			wasm.Logger().Debug("call trapped",
				zap.Uint32("func", f.Index), zap.Error(err))
		}
	}()

	vm := &virtualMachine{operands: &operandStack{}}
	for _, arg := range args {
		vm.operands.push(arg)
	}
	vm.callIn(f)
	for vm.activeFrame != nil {
		vm.execute()
	}
	n := len(f.Signature.Results)
	results = make([]wasm.Value, n)
	for i := n - 1; i >= 0; i-- {
		results[i] = vm.operands.pop()
	}
	return results, nil
}

// virtualMachine is the state of one invocation: the call stack and the
// operand stack shared by every frame.
type virtualMachine struct {
	activeFrame *frame
	frames      []*frame
	operands    *operandStack
}

// frame is one function activation.
type frame struct {
	pc     int
	f      *wasm.FunctionInstance
	locals []wasm.Value
	labels []*label
	// base is the operand stack height under this activation's operands.
	base int
}

// label is one live control construct: where a branch to it lands and how
// many operands it carries across.
type label struct {
	// arity is the number of operands a branch transfers: the result count
	// of a block or if, the parameter count of a loop.
	arity int
	// height is the operand stack height to cut back to on a branch.
	height int
	// continuation is the pc to resume at after a branch.
	continuation int
	// keep is true for loop labels, which survive a branch to them.
	keep bool
}

// execute runs the instruction under the active frame's pc. Falling off the
// end of a body returns from the function.
func (vm *virtualMachine) execute() {
	f := vm.activeFrame
	if f.pc >= len(f.f.Body) {
		vm.returnOut()
		return
	}
	instr := &f.f.Body[f.pc]
	op := instr.Opcode
	if op == wasm.OpcodeMiscPrefix {
		h := miscHandlers[instr.Misc]
		if h == nil {
			panic(fmt.Errorf("unimplemented instruction: %s", wasm.MiscInstructionName(instr.Misc)))
		}
		h(vm, instr)
		return
	}
	h := handlers[op]
	if h == nil {
		panic(fmt.Errorf("unimplemented instruction: %s", wasm.InstructionName(op)))
	}
	h(vm, instr)
}

type handler func(vm *virtualMachine, instr *wasm.Instruction)

var (
	handlers     [256]handler
	miscHandlers [256]handler
)

func init() {
	handlers[wasm.OpcodeUnreachable] = unreachable
	handlers[wasm.OpcodeNop] = nop
	handlers[wasm.OpcodeBlock] = block
	handlers[wasm.OpcodeLoop] = loop
	handlers[wasm.OpcodeIf] = ifOp
	handlers[wasm.OpcodeElse] = elseOp
	handlers[wasm.OpcodeEnd] = end
	handlers[wasm.OpcodeBr] = br
	handlers[wasm.OpcodeBrIf] = brIf
	handlers[wasm.OpcodeBrTable] = brTable
	handlers[wasm.OpcodeReturn] = returnOp
	handlers[wasm.OpcodeCall] = call
	handlers[wasm.OpcodeCallIndirect] = callIndirect
	handlers[wasm.OpcodeDrop] = drop
	handlers[wasm.OpcodeSelect] = selectOp
	handlers[wasm.OpcodeLocalGet] = localGet
	handlers[wasm.OpcodeLocalSet] = localSet
	handlers[wasm.OpcodeLocalTee] = localTee
	handlers[wasm.OpcodeTableGet] = tableGet
	handlers[wasm.OpcodeTableSet] = tableSet
	handlers[wasm.OpcodeI32Load8U] = i32Load8U
	handlers[wasm.OpcodeI32Store8] = i32Store8
	handlers[wasm.OpcodeI32Const] = i32Const
	handlers[wasm.OpcodeI64Const] = i64Const
	handlers[wasm.OpcodeF32Const] = f32Const
	handlers[wasm.OpcodeF64Const] = f64Const
	handlers[wasm.OpcodeI32Eqz] = i32Eqz
	handlers[wasm.OpcodeI32Add] = i32Add
	handlers[wasm.OpcodeI32Sub] = i32Sub
	handlers[wasm.OpcodeRefNull] = refNull
	handlers[wasm.OpcodeRefIsNull] = refIsNull
	handlers[wasm.OpcodeRefFunc] = refFunc
	handlers[wasm.OpcodeBrOnNull] = brOnNull
	handlers[wasm.OpcodeBrOnNonNull] = brOnNonNull

	miscHandlers[wasm.OpcodeMiscTableInit] = tableInit
	miscHandlers[wasm.OpcodeMiscTableGrow] = tableGrow
	miscHandlers[wasm.OpcodeMiscTableSize] = tableSize
}

func nop(vm *virtualMachine, _ *wasm.Instruction) {
	vm.activeFrame.pc++
}

func unreachable(*virtualMachine, *wasm.Instruction) {
	panic(wasm.ErrRuntimeUnreachable)
}

func drop(vm *virtualMachine, _ *wasm.Instruction) {
	vm.operands.pop()
	vm.activeFrame.pc++
}

func selectOp(vm *virtualMachine, _ *wasm.Instruction) {
	cond := vm.operands.pop().U32()
	v2 := vm.operands.pop()
	v1 := vm.operands.pop()
	if cond != 0 {
		vm.operands.push(v1)
	} else {
		vm.operands.push(v2)
	}
	vm.activeFrame.pc++
}
