package interp

import "github.com/refvm/refvm/wasm"

func tableGet(vm *virtualMachine, instr *wasm.Instruction) {
	f := vm.activeFrame
	table := f.f.ModuleInstance.Tables[instr.Index]
	idx := vm.operands.pop().U32()
	ref, err := table.Get(idx)
	if err != nil {
		panic(err)
	}
	vm.operands.push(wasm.ValueRef(ref))
	f.pc++
}

func tableSet(vm *virtualMachine, instr *wasm.Instruction) {
	f := vm.activeFrame
	table := f.f.ModuleInstance.Tables[instr.Index]
	ref := vm.operands.pop().Ref
	idx := vm.operands.pop().U32()
	if err := table.Set(idx, ref); err != nil {
		panic(err)
	}
	f.pc++
}

func tableInit(vm *virtualMachine, instr *wasm.Instruction) {
	f := vm.activeFrame
	table := f.f.ModuleInstance.Tables[instr.TableIndex]
	refs := f.f.ModuleInstance.Elements[instr.Index]
	n := vm.operands.pop().U32()
	src := vm.operands.pop().U32()
	dst := vm.operands.pop().U32()
	if err := table.Init(dst, src, n, refs); err != nil {
		panic(err)
	}
	f.pc++
}

func tableGrow(vm *virtualMachine, instr *wasm.Instruction) {
	f := vm.activeFrame
	table := f.f.ModuleInstance.Tables[instr.TableIndex]
	n := vm.operands.pop().U32()
	init := vm.operands.pop().Ref
	prev := table.Grow(n, init)
	vm.operands.push(wasm.ValueI32(int32(prev)))
	f.pc++
}

func tableSize(vm *virtualMachine, instr *wasm.Instruction) {
	f := vm.activeFrame
	table := f.f.ModuleInstance.Tables[instr.TableIndex]
	vm.operands.push(wasm.ValueI32(int32(table.Size())))
	f.pc++
}
