package wasm

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Store holds every instantiated module and the engine that executes their
// functions. Instantiation runs through Store so that imports resolve against
// modules instantiated earlier into the same store.
type Store struct {
	engine          Engine
	ModuleInstances map[string]*ModuleInstance
}

// ModuleInstance is one instantiated module: its resolved index spaces and
// its exports.
type ModuleInstance struct {
	Name      string
	Exports   map[string]*ExportInstance
	Functions []*FunctionInstance
	Tables    []*TableInstance
	Memory    *MemoryInstance
	Types     []*FunctionType
	// Elements holds each element segment's resolved references for
	// table.init.
	Elements [][]Reference
}

// FunctionInstance is one callable function: either a module function with a
// validated body, or a host function backed by a Go function value.
type FunctionInstance struct {
	Name           string
	ModuleInstance *ModuleInstance
	Signature      *FunctionType
	// Index is the function's position in its module's index space. It is
	// the identity that funcref equality observes.
	Index Index

	LocalTypes []ValueType
	Body       []Instruction
	// Blocks is the control metadata recovered during validation, keyed by
	// the program counter of the opening instruction.
	Blocks map[int]*CodeBlock

	HostFunction *reflect.Value
}

// ExportInstance resolves an export name to the instance it refers to.
type ExportInstance struct {
	Kind     ExportKind
	Function *FunctionInstance
	Table    *TableInstance
}

// HostFunctionCallContext is the first argument of every host function. It
// exposes the calling module's memory so hosts can exchange bulk data.
type HostFunctionCallContext struct {
	Memory *MemoryInstance
}

// NewStore returns an empty store backed by the given engine.
func NewStore(engine Engine) *Store {
	return &Store{
		engine:          engine,
		ModuleInstances: map[string]*ModuleInstance{},
	}
}

// Instantiate validates the module, resolves its imports, allocates its
// tables and memory, applies its element and data segments, runs its start
// function, and registers the result under name. All checks run before any
// segment is applied, so a failing module leaves the store unchanged except
// for effects of an already-running start function.
func (s *Store) Instantiate(module *Module, name string) error {
	if _, ok := s.ModuleInstances[name]; ok {
		return fmt.Errorf("module %q already instantiated", name)
	}
	if err := module.Validate(); err != nil {
		return err
	}

	instance := &ModuleInstance{
		Name:    name,
		Exports: map[string]*ExportInstance{},
		Types:   module.TypeSection,
	}

	if err := s.resolveImports(module, instance); err != nil {
		return err
	}
	if err := s.buildFunctions(module, instance); err != nil {
		return err
	}
	for _, t := range module.TableSection {
		instance.Tables = append(instance.Tables, newTableInstance(t))
	}
	for _, mem := range module.MemorySection {
		instance.Memory = newMemoryInstance(mem)
	}

	if err := validateSegments(module, instance); err != nil {
		return err
	}
	if err := buildExports(module, instance); err != nil {
		return err
	}
	applySegments(module, instance)

	for _, startIdx := range module.StartSections {
		f := instance.Functions[startIdx]
		logger.Debug("running start function",
			zap.String("module", name), zap.Uint32("func", startIdx))
		if _, err := s.engine.Call(f); err != nil {
			return fmt.Errorf("start function %d failed: %w", startIdx, err)
		}
	}

	s.ModuleInstances[name] = instance
	logger.Info("module instantiated",
		zap.String("module", name),
		zap.Int("functions", len(instance.Functions)),
		zap.Int("tables", len(instance.Tables)))
	return nil
}

func (s *Store) resolveImports(module *Module, instance *ModuleInstance) error {
	for _, imp := range module.ImportSection {
		em, ok := s.ModuleInstances[imp.Module]
		if !ok {
			return fmt.Errorf("unknown import: module %q not instantiated", imp.Module)
		}
		exp, ok := em.Exports[imp.Name]
		if !ok {
			return fmt.Errorf("unknown import: %q not exported by module %q", imp.Name, imp.Module)
		}
		switch imp.Kind {
		case ImportKindFunc:
			if exp.Kind != ExportKindFunc {
				return fmt.Errorf("incompatible import type: %q is not a function", imp.Name)
			}
			want := module.TypeSection[imp.DescFunc]
			if !exp.Function.Signature.EqualsSignature(want.Params, want.Results) {
				return fmt.Errorf("incompatible import type: function %q has signature %s, want %s",
					imp.Name, exp.Function.Signature, want)
			}
			instance.Functions = append(instance.Functions, exp.Function)
		case ImportKindTable:
			if exp.Kind != ExportKindTable {
				return fmt.Errorf("incompatible import type: %q is not a table", imp.Name)
			}
			want := imp.DescTable
			actual := exp.Table
			if !isSubtype(actual.Type, want.ElemType) ||
				actual.Size() < want.Limits.Min ||
				(want.Limits.Max != nil && (actual.Max == nil || *actual.Max > *want.Limits.Max)) {
				return fmt.Errorf("incompatible import type: table %q", imp.Name)
			}
			instance.Tables = append(instance.Tables, actual)
		}
	}
	return nil
}

func (s *Store) buildFunctions(module *Module, instance *ModuleInstance) error {
	importedFuncs := len(instance.Functions)
	for i, typeIdx := range module.FunctionSection {
		code := module.CodeSection[i]
		signature := module.TypeSection[typeIdx]
		tables := module.tableTypes()
		blocks, err := module.analyzeFunction(signature, code, tables)
		if err != nil {
			return fmt.Errorf("function %d: %w", importedFuncs+i, err)
		}
		f := &FunctionInstance{
			ModuleInstance: instance,
			Signature:      signature,
			Index:          Index(importedFuncs + i),
			LocalTypes:     code.LocalTypes,
			Body:           code.Body,
			Blocks:         blocks,
		}
		if err := s.engine.Compile(f); err != nil {
			return fmt.Errorf("compile function %d: %w", f.Index, err)
		}
		instance.Functions = append(instance.Functions, f)
	}
	return nil
}

// validateSegments checks every element and data segment's bounds against
// the already-sized tables and memory. Nothing is written here; application
// happens only after the whole module checks out.
func validateSegments(module *Module, instance *ModuleInstance) error {
	for i, elem := range module.ElementSection {
		table := instance.Tables[elem.TableIndex]
		offset := evalConstOffset(elem.Offset)
		if uint64(offset)+uint64(len(elem.Init)) > uint64(table.Size()) {
			return fmt.Errorf("element segment %d: %w", i, ErrRuntimeOutOfBoundsTableAccess)
		}
	}
	for i, data := range module.DataSection {
		if instance.Memory == nil {
			return fmt.Errorf("data segment %d: no memory", i)
		}
		offset := evalConstOffset(data.Offset)
		if uint64(offset)+uint64(len(data.Init)) > uint64(len(instance.Memory.Buffer)) {
			return fmt.Errorf("data segment %d: %w", i, ErrRuntimeOutOfBoundsMemoryAccess)
		}
	}
	return nil
}

func applySegments(module *Module, instance *ModuleInstance) {
	for _, elem := range module.ElementSection {
		refs := make([]Reference, len(elem.Init))
		for j, fidx := range elem.Init {
			refs[j] = FuncRef(instance.Functions[fidx])
		}
		instance.Elements = append(instance.Elements, refs)
		table := instance.Tables[elem.TableIndex]
		copy(table.References[evalConstOffset(elem.Offset):], refs)
	}
	for _, data := range module.DataSection {
		copy(instance.Memory.Buffer[evalConstOffset(data.Offset):], data.Init)
	}
}

// evalConstOffset evaluates an offset initializer. ValidateStructure has
// already confirmed the payload fits 32 bits; a negative literal denotes the
// top of the unsigned range.
func evalConstOffset(expr *ConstantExpression) uint32 {
	if expr == nil {
		return 0
	}
	return uint32(expr.I32)
}

func buildExports(module *Module, instance *ModuleInstance) error {
	names := maps.Keys(module.ExportSection)
	slices.Sort(names)
	for _, name := range names {
		exp := module.ExportSection[name]
		e := &ExportInstance{Kind: exp.Kind}
		switch exp.Kind {
		case ExportKindFunc:
			e.Function = instance.Functions[exp.Index]
			e.Function.Name = name
		case ExportKindTable:
			e.Table = instance.Tables[exp.Index]
		}
		instance.Exports[name] = e
	}
	return nil
}

// CallFunction invokes the exported function funcName of module moduleName.
func (s *Store) CallFunction(moduleName, funcName string, args ...Value) ([]Value, error) {
	m, ok := s.ModuleInstances[moduleName]
	if !ok {
		return nil, fmt.Errorf("module %q not instantiated", moduleName)
	}
	exp, ok := m.Exports[funcName]
	if !ok || exp.Kind != ExportKindFunc {
		return nil, fmt.Errorf("%w: no exported function %q in module %q", ErrUnknownFunction, funcName, moduleName)
	}
	f := exp.Function
	if len(args) != len(f.Signature.Params) {
		return nil, fmt.Errorf("%w: %q takes %d arguments but got %d",
			ErrTypeMismatch, funcName, len(f.Signature.Params), len(args))
	}
	return s.engine.Call(f, args...)
}

// Table returns the exported table funcName of module moduleName.
func (s *Store) Table(moduleName, tableName string) (*TableInstance, error) {
	m, ok := s.ModuleInstances[moduleName]
	if !ok {
		return nil, fmt.Errorf("module %q not instantiated", moduleName)
	}
	exp, ok := m.Exports[tableName]
	if !ok || exp.Kind != ExportKindTable {
		return nil, fmt.Errorf("%w: no exported table %q in module %q", ErrUnknownTable, tableName, moduleName)
	}
	return exp.Table, nil
}

// AddHostFunction exports a Go function under moduleName.funcName so modules
// instantiated later can import it. fn must take *HostFunctionCallContext as
// its first parameter; the remaining parameters and the results must be
// int32, int64, float32, float64 or Reference.
func (s *Store) AddHostFunction(moduleName, funcName string, fn interface{}) error {
	fv := reflect.ValueOf(fn)
	signature, err := signatureFromGoFunc(fv.Type())
	if err != nil {
		return fmt.Errorf("host function %s.%s: %w", moduleName, funcName, err)
	}
	m := s.hostModule(moduleName)
	f := &FunctionInstance{
		Name:           funcName,
		ModuleInstance: m,
		Signature:      signature,
		Index:          Index(len(m.Functions)),
		HostFunction:   &fv,
	}
	m.Functions = append(m.Functions, f)
	m.Exports[funcName] = &ExportInstance{Kind: ExportKindFunc, Function: f}
	return nil
}

// AddTableInstance exports a fresh table under moduleName.tableName.
func (s *Store) AddTableInstance(moduleName, tableName string, t *TableType) error {
	if err := validateLimits(t.Limits); err != nil {
		return err
	}
	m := s.hostModule(moduleName)
	table := newTableInstance(t)
	m.Tables = append(m.Tables, table)
	m.Exports[tableName] = &ExportInstance{Kind: ExportKindTable, Table: table}
	return nil
}

func (s *Store) hostModule(name string) *ModuleInstance {
	if m, ok := s.ModuleInstances[name]; ok {
		return m
	}
	m := &ModuleInstance{Name: name, Exports: map[string]*ExportInstance{}}
	s.ModuleInstances[name] = m
	return m
}

var (
	hostCtxType   = reflect.TypeOf(&HostFunctionCallContext{})
	referenceType = reflect.TypeOf(Reference{})
)

func signatureFromGoFunc(t reflect.Type) (*FunctionType, error) {
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("%v is not a function", t)
	}
	if t.NumIn() == 0 || t.In(0) != hostCtxType {
		return nil, fmt.Errorf("first parameter must be *HostFunctionCallContext")
	}
	signature := &FunctionType{}
	for i := 1; i < t.NumIn(); i++ {
		vt, err := valueTypeFromGoType(t.In(i))
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		signature.Params = append(signature.Params, vt)
	}
	for i := 0; i < t.NumOut(); i++ {
		vt, err := valueTypeFromGoType(t.Out(i))
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		signature.Results = append(signature.Results, vt)
	}
	return signature, nil
}

func valueTypeFromGoType(t reflect.Type) (ValueType, error) {
	switch t.Kind() {
	case reflect.Int32, reflect.Uint32:
		return ValueTypeI32, nil
	case reflect.Int64, reflect.Uint64:
		return ValueTypeI64, nil
	case reflect.Float32:
		return ValueTypeF32, nil
	case reflect.Float64:
		return ValueTypeF64, nil
	}
	if t == referenceType {
		return ValueTypeExternref, nil
	}
	return ValueType{}, fmt.Errorf("unsupported Go type %v", t)
}
