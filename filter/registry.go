package filter

import (
	"sync/atomic"

	"github.com/thisisjab/angora/fault"
)

// Arity says how many right-hand values an operator consumes.
type Arity uint8

const (
	// ArityBinary compares the field against a single scalar.
	ArityBinary Arity = iota
	// ArityNAry compares the field against a list of values.
	ArityNAry
)

// TranslateFunc renders one comparison into a boolean query fragment.
// fieldExpr is the already rendered field reference and param the name of
// the bind parameter holding the literal. The function must be pure and
// must never inline the literal itself.
type TranslateFunc func(fieldExpr, param string) string

// Operator is one registry entry.
type Operator struct {
	Token     string
	Arity     Arity
	Translate TranslateFunc
}

// Registry maps operator tokens to their semantics. It is populated with
// the built-ins at construction and open for user registration until the
// first compile starts; after that it is read-only, so concurrent compiles
// can share it without locking. The frozen flag is atomic because every
// compile sets it, and compiles may run concurrently.
type Registry struct {
	entries map[string]Operator
	frozen  atomic.Bool
}

func binary(sqlOp string) TranslateFunc {
	return func(fieldExpr, param string) string {
		return fieldExpr + " " + sqlOp + " @" + param
	}
}

// NewRegistry returns a Registry with the built-in comparison operators.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]Operator)}

	for _, op := range []Operator{
		{Token: "$eq", Arity: ArityBinary, Translate: binary("=")},
		{Token: "$ne", Arity: ArityBinary, Translate: binary("!=")},
		{Token: "$lt", Arity: ArityBinary, Translate: binary("<")},
		{Token: "$lte", Arity: ArityBinary, Translate: binary("<=")},
		{Token: "$gt", Arity: ArityBinary, Translate: binary(">")},
		{Token: "$gte", Arity: ArityBinary, Translate: binary(">=")},
		// ClickHouse accepts IN against an array literal, which is what the
		// driver renders a bound slice as.
		{Token: "$in", Arity: ArityNAry, Translate: func(fieldExpr, param string) string {
			return fieldExpr + " IN @" + param
		}},
	} {
		r.entries[op.Token] = op
	}

	return r
}

// Register adds or overwrites an entry. Last write wins, so custom
// operators may shadow the built-ins. Registration is rejected once the
// registry is frozen by a compile pass.
func (r *Registry) Register(op Operator) error {
	if r.frozen.Load() {
		return fault.New(fault.BadInputCode, "registry is frozen; operators must be registered before compiling")
	}
	if op.Token == "" || op.Translate == nil {
		return fault.New(fault.BadInputCode, "operator needs a token and a translate function")
	}

	r.entries[op.Token] = op
	return nil
}

// Resolve looks a token up.
func (r *Registry) Resolve(token string) (Operator, error) {
	op, ok := r.entries[token]
	if !ok {
		return Operator{}, fault.Newf(fault.UnknownOperatorCode, "unknown operator %q", token).
			WithMetadata(map[string]any{"token": token})
	}
	return op, nil
}

// freeze makes the registry read-only. Called when a compile pass begins so
// every fragment generated within one compile sees a consistent operator
// set.
func (r *Registry) freeze() {
	r.frozen.Store(true)
}
