package interp

import (
	"reflect"

	"github.com/refvm/refvm/wasm"
)

func call(vm *virtualMachine, instr *wasm.Instruction) {
	f := vm.activeFrame
	f.pc++
	vm.callIn(f.f.ModuleInstance.Functions[instr.Index])
}

func callIndirect(vm *virtualMachine, instr *wasm.Instruction) {
	f := vm.activeFrame
	table := f.f.ModuleInstance.Tables[instr.TableIndex]
	idx := vm.operands.pop().U32()
	ref, err := table.Get(idx)
	if err != nil {
		panic(err)
	}
	if ref.Null {
		panic(wasm.ErrRuntimeNullRefDeref)
	}
	expected := f.f.ModuleInstance.Types[instr.Index]
	if !ref.Fn.Signature.EqualsSignature(expected.Params, expected.Results) {
		panic(wasm.ErrRuntimeIndirectCallTypeMismatch)
	}
	f.pc++
	vm.callIn(ref.Fn)
}

// callIn pushes a new activation for f, consuming its arguments from the
// operand stack. Host functions run to completion inline instead.
func (vm *virtualMachine) callIn(f *wasm.FunctionInstance) {
	if f.HostFunction != nil {
		vm.callHost(f)
		return
	}
	if len(vm.frames) >= callStackCeiling {
		panic(wasm.ErrRuntimeCallStackOverflow)
	}

	locals := make([]wasm.Value, len(f.Signature.Params)+len(f.LocalTypes))
	for i := len(f.Signature.Params) - 1; i >= 0; i-- {
		locals[i] = vm.operands.pop()
	}
	for i, lt := range f.LocalTypes {
		locals[len(f.Signature.Params)+i] = zeroValue(lt)
	}

	fr := &frame{
		f:      f,
		locals: locals,
		base:   vm.operands.height(),
	}
	vm.frames = append(vm.frames, fr)
	vm.activeFrame = fr
}

// zeroValue returns the default of a defaultable type. Validation guarantees
// a non-defaultable local is written before it is read, so its placeholder
// is never observed.
func zeroValue(t wasm.ValueType) wasm.Value {
	if t.IsRef() {
		return wasm.ValueRef(wasm.NullRef)
	}
	return wasm.Value{Kind: t.Kind}
}

// callHost invokes a Go-backed function via reflection, bridging operand
// values to Go arguments and back.
func (vm *virtualMachine) callHost(f *wasm.FunctionInstance) {
	fn := *f.HostFunction
	t := fn.Type()

	in := make([]reflect.Value, t.NumIn())
	for i := t.NumIn() - 1; i >= 1; i-- {
		in[i] = goValue(t.In(i), vm.operands.pop())
	}
	ctx := &wasm.HostFunctionCallContext{}
	if vm.activeFrame != nil {
		ctx.Memory = vm.activeFrame.f.ModuleInstance.Memory
	}
	in[0] = reflect.ValueOf(ctx)

	for _, out := range fn.Call(in) {
		vm.operands.push(wasmValue(out))
	}
}

func goValue(t reflect.Type, v wasm.Value) reflect.Value {
	switch t.Kind() {
	case reflect.Int32:
		return reflect.ValueOf(v.I32())
	case reflect.Uint32:
		return reflect.ValueOf(v.U32())
	case reflect.Int64:
		return reflect.ValueOf(v.I64())
	case reflect.Uint64:
		return reflect.ValueOf(v.Bits)
	case reflect.Float32:
		return reflect.ValueOf(v.F32())
	case reflect.Float64:
		return reflect.ValueOf(v.F64())
	}
	return reflect.ValueOf(v.Ref)
}

func wasmValue(v reflect.Value) wasm.Value {
	switch v.Kind() {
	case reflect.Int32:
		return wasm.ValueI32(int32(v.Int()))
	case reflect.Uint32:
		return wasm.ValueI32(int32(uint32(v.Uint())))
	case reflect.Int64:
		return wasm.ValueI64(v.Int())
	case reflect.Uint64:
		return wasm.ValueI64(int64(v.Uint()))
	case reflect.Float32:
		return wasm.ValueF32(float32(v.Float()))
	case reflect.Float64:
		return wasm.ValueF64(v.Float())
	}
	return wasm.ValueRef(v.Interface().(wasm.Reference))
}
