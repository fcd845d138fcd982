package interp

import "github.com/refvm/refvm/wasm"

func i32Load8U(vm *virtualMachine, _ *wasm.Instruction) {
	f := vm.activeFrame
	addr := vm.operands.pop().U32()
	b, err := f.f.ModuleInstance.Memory.ReadByte(addr)
	if err != nil {
		panic(err)
	}
	vm.operands.push(wasm.ValueI32(int32(uint32(b))))
	f.pc++
}

func i32Store8(vm *virtualMachine, _ *wasm.Instruction) {
	f := vm.activeFrame
	v := vm.operands.pop().U32()
	addr := vm.operands.pop().U32()
	if err := f.f.ModuleInstance.Memory.WriteByte(addr, byte(v)); err != nil {
		panic(err)
	}
	f.pc++
}
