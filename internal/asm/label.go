package asm

// LabelKind is the encoding of a displacement referring to a Label.
type LabelKind byte

const (
	// LabelKindARMDisp19 is a signed count of 4-byte instructions stored at bits [23:5],
	// as used by b.cond, cbz and ldr (literal).
	LabelKindARMDisp19 LabelKind = iota + 1
	// LabelKindARMDisp26 is a signed count of 4-byte instructions stored at bits [25:0], as used by b.
	LabelKindARMDisp26
	// LabelKindX86Disp32 is a signed byte count relative to the end of a 4-byte field.
	LabelKindX86Disp32
)

// String implements fmt.Stringer.
func (k LabelKind) String() string {
	switch k {
	case LabelKindARMDisp19:
		return "arm-disp19"
	case LabelKindARMDisp26:
		return "arm-disp26"
	case LabelKindX86Disp32:
		return "x86-disp32"
	default:
		return "unknown"
	}
}

// Reference is a displacement field waiting for its label to be bound.
type Reference struct {
	Offset int
	Kind   LabelKind
}

// Label is a position in the code. Its zero value is an unbound label, which
// can be referenced by branches before being bound with Buffer.Label.
type Label struct {
	offset     int
	bound      bool
	references []Reference
}

// Bound returns whether the label was bound to an offset.
func (l *Label) Bound() bool {
	return l.bound
}

// Offset returns the offset the label is bound to.
func (l *Label) Offset() int {
	return l.offset
}

// References returns the displacement fields still waiting for the label to be bound.
func (l *Label) References() []Reference {
	return l.references
}
