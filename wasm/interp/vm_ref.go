package interp

import "github.com/refvm/refvm/wasm"

func refNull(vm *virtualMachine, _ *wasm.Instruction) {
	vm.operands.push(wasm.ValueRef(wasm.NullRef))
	vm.activeFrame.pc++
}

func refIsNull(vm *virtualMachine, _ *wasm.Instruction) {
	ref := vm.operands.pop().Ref
	if ref.Null {
		vm.operands.push(wasm.ValueI32(1))
	} else {
		vm.operands.push(wasm.ValueI32(0))
	}
	vm.activeFrame.pc++
}

func refFunc(vm *virtualMachine, instr *wasm.Instruction) {
	f := vm.activeFrame
	vm.operands.push(wasm.ValueRef(wasm.FuncRef(f.f.ModuleInstance.Functions[instr.Index])))
	f.pc++
}
