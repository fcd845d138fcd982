package interp

import "github.com/refvm/refvm/wasm"

func i32Const(vm *virtualMachine, instr *wasm.Instruction) {
	vm.operands.push(wasm.ValueI32(int32(instr.I32)))
	vm.activeFrame.pc++
}

func i64Const(vm *virtualMachine, instr *wasm.Instruction) {
	vm.operands.push(wasm.ValueI64(instr.I64))
	vm.activeFrame.pc++
}

func f32Const(vm *virtualMachine, instr *wasm.Instruction) {
	vm.operands.push(wasm.ValueF32(instr.F32))
	vm.activeFrame.pc++
}

func f64Const(vm *virtualMachine, instr *wasm.Instruction) {
	vm.operands.push(wasm.ValueF64(instr.F64))
	vm.activeFrame.pc++
}

func i32Eqz(vm *virtualMachine, _ *wasm.Instruction) {
	v := vm.operands.pop().U32()
	if v == 0 {
		vm.operands.push(wasm.ValueI32(1))
	} else {
		vm.operands.push(wasm.ValueI32(0))
	}
	vm.activeFrame.pc++
}

func i32Add(vm *virtualMachine, _ *wasm.Instruction) {
	v2 := vm.operands.pop().U32()
	v1 := vm.operands.pop().U32()
	vm.operands.push(wasm.ValueI32(int32(v1 + v2)))
	vm.activeFrame.pc++
}

func i32Sub(vm *virtualMachine, _ *wasm.Instruction) {
	v2 := vm.operands.pop().U32()
	v1 := vm.operands.pop().U32()
	vm.operands.push(wasm.ValueI32(int32(v1 - v2)))
	vm.activeFrame.pc++
}
