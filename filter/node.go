package filter

// Node is the interface all nodes of a compiled filter tree implement.
// It uses a private marker method so only types defined in this package can
// be used as nodes, creating a controlled "sum type" behavior.
type Node interface {
	filterNode()
}

// MatchAll is the compiled form of the empty filter. It accepts every
// document in the collection.
type MatchAll struct{}

func (MatchAll) filterNode() {}

// Connective joins the children of a Logical node.
type Connective string

const (
	ConnectiveAnd Connective = "AND"
	ConnectiveOr  Connective = "OR"
)

// Logical combines one or more sub-filters with a single connective.
// The compiler never produces a Logical node without children.
type Logical struct {
	Connective Connective
	Children   []Node
}

func (Logical) filterNode() {}

// Comparison is a leaf node: one field compared against one concrete
// literal. Op is already resolved against the registry and Value has been
// through macro expansion, so serializing a Comparison requires no further
// lookups.
type Comparison struct {
	// Field is the document attribute path. Nested paths stay one opaque
	// string (e.g. "address.city"); the compiler does not decompose them.
	Field string

	// Op is the resolved registry entry for the comparison.
	Op Operator

	// Value is the concrete literal to compare against.
	Value any
}

func (Comparison) filterNode() {}
