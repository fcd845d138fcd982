package wasm

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/slices"
)

// Index is an index into one of the module's index spaces. Any index is
// unsigned, so the full 32-bit range addresses valid entries.
type Index = uint32

// FunctionType is the signature of a function: parameter types in order,
// result types in order.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// EqualsSignature returns true when the receiver has exactly the given
// parameters and results.
func (f *FunctionType) EqualsSignature(params, results []ValueType) bool {
	return slices.Equal(f.Params, params) && slices.Equal(f.Results, results)
}

func (f *FunctionType) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, t := range f.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(t.String())
	}
	sb.WriteString(")->(")
	for i, t := range f.Results {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(t.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// Limits bounds the size of a table or memory. Max is nil when unbounded.
type Limits struct {
	Min uint32
	Max *uint32
}

// TableType declares a table: its element reference type and its limits.
// Name distinguishes multiple table declarations carried over from a text
// format; it may be empty.
type TableType struct {
	Name     string
	ElemType ValueType
	Limits   *Limits
}

// MemoryType declares a linear memory via its limits, in units of pages.
type MemoryType = Limits

// ImportKind distinguishes what an import or export refers to.
type ImportKind = byte

const (
	ImportKindFunc  ImportKind = 0x00
	ImportKindTable ImportKind = 0x01
)

// ExportKind mirrors ImportKind for exports.
type ExportKind = byte

const (
	ExportKindFunc  ExportKind = 0x00
	ExportKindTable ExportKind = 0x01
)

// Import names a value to resolve from another module at instantiation.
type Import struct {
	Module string
	Name   string
	Kind   ImportKind
	// DescFunc is the type index of a function import.
	DescFunc Index
	// DescTable is the declared type of a table import.
	DescTable *TableType
}

// Export exposes an index under a name.
type Export struct {
	Name  string
	Kind  ExportKind
	Index Index
}

// ConstantExpression is the single-instruction initializer form used by
// element segment offsets.
type ConstantExpression struct {
	Opcode Opcode
	// I32 carries the i32.const payload, widened to keep out-of-range
	// literals representable until ValidateStructure rejects them.
	I32 int64
	// Heap is the heap type of a ref.null initializer.
	Heap HeapType
	// FuncIndex is the function of a ref.func initializer.
	FuncIndex Index
}

// ElementSegment initializes a run of table slots with function references.
type ElementSegment struct {
	TableIndex Index
	Offset     *ConstantExpression
	// Init lists the functions whose references fill the run.
	Init []Index
}

// DataSegment initializes a run of memory bytes.
type DataSegment struct {
	Offset *ConstantExpression
	Init   []byte
}

// Code is a function body: the types of its declared locals followed by the
// instruction sequence. Parameters are not repeated in LocalTypes.
type Code struct {
	LocalTypes []ValueType
	Body       []Instruction
}

// Module is an already-decoded module held as its sections. StartSections is
// plural so that a loader can hand over the malformed multiple-start case for
// ValidateStructure to reject.
type Module struct {
	TypeSection     []*FunctionType
	ImportSection   []*Import
	FunctionSection []Index
	TableSection    []*TableType
	MemorySection   []*MemoryType
	ExportSection   map[string]*Export
	StartSections   []Index
	ElementSection  []*ElementSegment
	DataSection     []*DataSegment
	CodeSection     []*Code
}

// ImportedFunctionCount returns how many function imports precede the
// module's own functions in the function index space.
func (m *Module) ImportedFunctionCount() uint32 {
	var n uint32
	for _, imp := range m.ImportSection {
		if imp.Kind == ImportKindFunc {
			n++
		}
	}
	return n
}

func (m *Module) importedTableCount() uint32 {
	var n uint32
	for _, imp := range m.ImportSection {
		if imp.Kind == ImportKindTable {
			n++
		}
	}
	return n
}

// TypeOfFunction returns the signature of the function at the given index in
// the function index space, or nil when the index or its type is out of
// range.
func (m *Module) TypeOfFunction(funcIdx Index) *FunctionType {
	for _, imp := range m.ImportSection {
		if imp.Kind != ImportKindFunc {
			continue
		}
		if funcIdx == 0 {
			if int(imp.DescFunc) >= len(m.TypeSection) {
				return nil
			}
			return m.TypeSection[imp.DescFunc]
		}
		funcIdx--
	}
	if int(funcIdx) >= len(m.FunctionSection) {
		return nil
	}
	typeIdx := m.FunctionSection[funcIdx]
	if int(typeIdx) >= len(m.TypeSection) {
		return nil
	}
	return m.TypeSection[typeIdx]
}

// tableTypes returns the table index space: imported tables first, then the
// module's own declarations.
func (m *Module) tableTypes() []*TableType {
	var tables []*TableType
	for _, imp := range m.ImportSection {
		if imp.Kind == ImportKindTable {
			tables = append(tables, imp.DescTable)
		}
	}
	return append(tables, m.TableSection...)
}

// ValidateStructure checks the constraints that hold before any typing:
// section cardinality, limits ordering, literal ranges and name collisions.
func (m *Module) ValidateStructure() error {
	if len(m.StartSections) > 1 {
		return &StructureError{Kind: ErrMultipleStartSections}
	}
	seen := map[string]bool{}
	for _, t := range m.TableSection {
		if t.Name != "" {
			if seen[t.Name] {
				return malformedf(ErrDuplicateTable, "%s", t.Name)
			}
			seen[t.Name] = true
		}
		if err := validateLimits(t.Limits); err != nil {
			return err
		}
	}
	for _, imp := range m.ImportSection {
		if imp.Kind == ImportKindTable {
			if err := validateLimits(imp.DescTable.Limits); err != nil {
				return err
			}
		}
	}
	for _, mem := range m.MemorySection {
		if err := validateLimits(mem); err != nil {
			return err
		}
	}
	for _, elem := range m.ElementSection {
		if elem.Offset != nil {
			if err := validateConstExprRange(elem.Offset); err != nil {
				return err
			}
		}
	}
	for _, data := range m.DataSection {
		if data.Offset != nil {
			if err := validateConstExprRange(data.Offset); err != nil {
				return err
			}
		}
	}
	for _, code := range m.CodeSection {
		for i := range code.Body {
			instr := &code.Body[i]
			if instr.Opcode == OpcodeI32Const {
				if instr.I32 < math.MinInt32 || instr.I32 > math.MaxUint32 {
					return malformedf(ErrI32ConstOutOfRange, "%d", instr.I32)
				}
			}
		}
	}
	return nil
}

func validateLimits(l *Limits) error {
	if l.Max != nil && l.Min > *l.Max {
		return malformedf(ErrSizeMinGreaterThanMax, "%d > %d", l.Min, *l.Max)
	}
	return nil
}

func validateConstExprRange(expr *ConstantExpression) error {
	if expr.Opcode == OpcodeI32Const {
		if expr.I32 < math.MinInt32 || expr.I32 > math.MaxUint32 {
			return malformedf(ErrI32ConstOutOfRange, "%d", expr.I32)
		}
	}
	return nil
}

// Validate checks the whole module: structure first, then the typing of each
// declaration and each function body.
func (m *Module) Validate() error {
	if err := m.ValidateStructure(); err != nil {
		return err
	}

	functionCount := m.ImportedFunctionCount() + uint32(len(m.FunctionSection))
	tables := m.tableTypes()

	for _, imp := range m.ImportSection {
		if imp.Kind == ImportKindFunc {
			if int(imp.DescFunc) >= len(m.TypeSection) {
				return invalidf(ErrUnknownType, "import %s.%s uses type %d", imp.Module, imp.Name, imp.DescFunc)
			}
		}
	}

	if len(m.FunctionSection) != len(m.CodeSection) {
		return fmt.Errorf("function and code section length mismatch: %d != %d",
			len(m.FunctionSection), len(m.CodeSection))
	}
	for i, typeIdx := range m.FunctionSection {
		if int(typeIdx) >= len(m.TypeSection) {
			return invalidf(ErrUnknownType, "function %d uses type %d", i, typeIdx)
		}
	}

	for i, t := range m.TableSection {
		if !t.ElemType.IsRef() {
			return invalidf(ErrTypeMismatch, "table %d element type %s is not a reference type", i, t.ElemType)
		}
	}

	for i, elem := range m.ElementSection {
		if int(elem.TableIndex) >= len(tables) {
			return invalidf(ErrUnknownTable, "element segment %d targets table %d", i, elem.TableIndex)
		}
		table := tables[elem.TableIndex]
		for _, fidx := range elem.Init {
			if fidx >= functionCount {
				return invalidf(ErrUnknownFunction, "element segment %d references function %d", i, fidx)
			}
			refType := Ref(HeapTypeIndex(m.typeIndexOf(fidx)))
			if !isSubtype(refType, table.ElemType) {
				return invalidf(ErrTypeMismatch, "element segment %d: funcref is not a subtype of %s", i, table.ElemType)
			}
		}
	}

	for _, startIdx := range m.StartSections {
		ft := m.TypeOfFunction(startIdx)
		if ft == nil {
			return invalidf(ErrUnknownFunction, "start function %d", startIdx)
		}
		if len(ft.Params) != 0 || len(ft.Results) != 0 {
			return invalidf(ErrInvalidStartFunction, "must have an empty signature, got %s", ft)
		}
	}

	for name, exp := range m.ExportSection {
		switch exp.Kind {
		case ExportKindFunc:
			if exp.Index >= functionCount {
				return invalidf(ErrUnknownFunction, "export %q", name)
			}
		case ExportKindTable:
			if int(exp.Index) >= len(tables) {
				return invalidf(ErrUnknownTable, "export %q", name)
			}
		}
	}

	importedFuncs := m.ImportedFunctionCount()
	for i, code := range m.CodeSection {
		ft := m.TypeSection[m.FunctionSection[i]]
		if err := m.validateFunction(ft, code, tables); err != nil {
			return fmt.Errorf("function %d: %w", importedFuncs+uint32(i), err)
		}
	}
	return nil
}

// typeIndexOf returns the type index of the function at the given index in
// the function index space. The index must be in range.
func (m *Module) typeIndexOf(funcIdx Index) Index {
	for _, imp := range m.ImportSection {
		if imp.Kind != ImportKindFunc {
			continue
		}
		if funcIdx == 0 {
			return imp.DescFunc
		}
		funcIdx--
	}
	return m.FunctionSection[funcIdx]
}
