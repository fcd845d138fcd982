package interp

import "github.com/refvm/refvm/wasm"

func localGet(vm *virtualMachine, instr *wasm.Instruction) {
	f := vm.activeFrame
	vm.operands.push(f.locals[instr.Index])
	f.pc++
}

func localSet(vm *virtualMachine, instr *wasm.Instruction) {
	f := vm.activeFrame
	f.locals[instr.Index] = vm.operands.pop()
	f.pc++
}

func localTee(vm *virtualMachine, instr *wasm.Instruction) {
	f := vm.activeFrame
	v := vm.operands.pop()
	f.locals[instr.Index] = v
	vm.operands.push(v)
	f.pc++
}
