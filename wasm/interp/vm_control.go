package interp

import "github.com/refvm/refvm/wasm"

func block(vm *virtualMachine, instr *wasm.Instruction) {
	f := vm.activeFrame
	meta := f.f.Blocks[f.pc]
	f.labels = append(f.labels, &label{
		arity:        len(meta.BlockType.Results),
		height:       vm.operands.height() - len(meta.BlockType.Params),
		continuation: meta.EndPC + 1,
	})
	f.pc++
}

func loop(vm *virtualMachine, instr *wasm.Instruction) {
	f := vm.activeFrame
	meta := f.f.Blocks[f.pc]
	// A branch to a loop re-enters it with the block parameters, so the
	// label survives the branch and its continuation is the loop body.
	f.labels = append(f.labels, &label{
		arity:        len(meta.BlockType.Params),
		height:       vm.operands.height() - len(meta.BlockType.Params),
		continuation: f.pc + 1,
		keep:         true,
	})
	f.pc++
}

func ifOp(vm *virtualMachine, instr *wasm.Instruction) {
	f := vm.activeFrame
	meta := f.f.Blocks[f.pc]
	cond := vm.operands.pop().U32()
	f.labels = append(f.labels, &label{
		arity:        len(meta.BlockType.Results),
		height:       vm.operands.height() - len(meta.BlockType.Params),
		continuation: meta.EndPC + 1,
	})
	switch {
	case cond != 0:
		f.pc++
	case meta.ElsePC >= 0:
		f.pc = meta.ElsePC + 1
	default:
		// No else arm: fall to the end, whose handler pops the label.
		f.pc = meta.EndPC
	}
}

// elseOp is only reached by falling out of a then arm; jump over the else
// arm to the matching end. else carries no immediate, so the block is found
// by its recorded ElsePC.
func elseOp(vm *virtualMachine, _ *wasm.Instruction) {
	f := vm.activeFrame
	for _, meta := range f.f.Blocks {
		if meta.ElsePC == f.pc {
			f.pc = meta.EndPC
			return
		}
	}
	panic("no enclosing if for else")
}

// end pops the innermost label. The end terminating a function body has no
// label of its own and returns instead.
func end(vm *virtualMachine, _ *wasm.Instruction) {
	f := vm.activeFrame
	if len(f.labels) == 0 {
		vm.returnOut()
		return
	}
	f.labels = f.labels[:len(f.labels)-1]
	f.pc++
}

func br(vm *virtualMachine, instr *wasm.Instruction) {
	vm.branch(int(instr.Index))
}

func brIf(vm *virtualMachine, instr *wasm.Instruction) {
	if vm.operands.pop().U32() != 0 {
		vm.branch(int(instr.Index))
	} else {
		vm.activeFrame.pc++
	}
}

func brTable(vm *virtualMachine, instr *wasm.Instruction) {
	n := vm.operands.pop().U32()
	if uint64(n) < uint64(len(instr.Targets)) {
		vm.branch(int(instr.Targets[n]))
	} else {
		vm.branch(int(instr.Index))
	}
}

func returnOp(vm *virtualMachine, _ *wasm.Instruction) {
	vm.returnOut()
}

// branch transfers control to the label at the given depth: the label's
// operands are carried over, everything pushed since the label opened is
// discarded, and execution resumes at the label's continuation. A depth past
// the frame's labels means a branch out of the function body.
func (vm *virtualMachine) branch(depth int) {
	f := vm.activeFrame
	if depth >= len(f.labels) {
		vm.returnOut()
		return
	}
	idx := len(f.labels) - 1 - depth
	l := f.labels[idx]
	carried := vm.operands.cut(l.height, l.arity)
	for _, v := range carried {
		vm.operands.push(v)
	}
	if l.keep {
		f.labels = f.labels[:idx+1]
	} else {
		f.labels = f.labels[:idx]
	}
	f.pc = l.continuation
}

// returnOut pops the active frame, leaving exactly the function's results on
// the operand stack above the caller's operands.
func (vm *virtualMachine) returnOut() {
	f := vm.activeFrame
	results := vm.operands.cut(f.base, len(f.f.Signature.Results))
	for _, v := range results {
		vm.operands.push(v)
	}
	vm.frames = vm.frames[:len(vm.frames)-1]
	if len(vm.frames) == 0 {
		vm.activeFrame = nil
	} else {
		vm.activeFrame = vm.frames[len(vm.frames)-1]
	}
}

func brOnNull(vm *virtualMachine, instr *wasm.Instruction) {
	ref := vm.operands.pop().Ref
	if ref.Null {
		vm.branch(int(instr.Index))
		return
	}
	vm.operands.push(wasm.ValueRef(ref))
	vm.activeFrame.pc++
}

func brOnNonNull(vm *virtualMachine, instr *wasm.Instruction) {
	ref := vm.operands.pop().Ref
	if ref.Null {
		vm.activeFrame.pc++
		return
	}
	vm.operands.push(wasm.ValueRef(ref))
	vm.branch(int(instr.Index))
}
