package filter

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/thisisjab/angora/fault"
	"github.com/thisisjab/angora/macro"
)

var testClock = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestCompiler() *Compiler {
	return NewCompiler(NewRegistry(), macro.NewEnv())
}

// nodesEqual compares trees structurally. Operators are compared by token
// since translate functions aren't comparable.
func nodesEqual(a, b Node) bool {
	switch an := a.(type) {
	case MatchAll:
		_, ok := b.(MatchAll)
		return ok

	case Comparison:
		bn, ok := b.(Comparison)
		if !ok {
			return false
		}
		return an.Field == bn.Field &&
			an.Op.Token == bn.Op.Token &&
			reflect.DeepEqual(an.Value, bn.Value)

	case Logical:
		bn, ok := b.(Logical)
		if !ok || an.Connective != bn.Connective || len(an.Children) != len(bn.Children) {
			return false
		}
		for i := range an.Children {
			if !nodesEqual(an.Children[i], bn.Children[i]) {
				return false
			}
		}
		return true
	}

	return false
}

func TestCompileEmptyFilter(t *testing.T) {
	node, err := newTestCompiler().Compile(map[string]any{}, testClock)
	if err != nil {
		t.Fatalf("Compile({}) returned error: %v", err)
	}
	if _, ok := node.(MatchAll); !ok {
		t.Fatalf("Compile({}) = %T, want MatchAll", node)
	}
}

func TestCompileSingleComparison(t *testing.T) {
	node, err := newTestCompiler().Compile(map[string]any{"age:$gt": 18}, testClock)
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}

	cmp, ok := node.(Comparison)
	if !ok {
		t.Fatalf("Compile = %T, want Comparison", node)
	}
	if cmp.Field != "age" || cmp.Op.Token != "$gt" || cmp.Value != 18 {
		t.Fatalf("Compile = %+v, want age $gt 18", cmp)
	}
}

func TestCompileDefaultsToEquality(t *testing.T) {
	node, err := newTestCompiler().Compile(map[string]any{"name": "sam"}, testClock)
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}

	cmp := node.(Comparison)
	if cmp.Op.Token != "$eq" {
		t.Fatalf("operator = %q, want $eq", cmp.Op.Token)
	}
}

func TestCompileImplicitAndLaw(t *testing.T) {
	implicit, err := newTestCompiler().Compile(map[string]any{
		"a": 1,
		"b": 2,
	}, testClock)
	if err != nil {
		t.Fatal(err)
	}

	explicit, err := newTestCompiler().Compile(map[string]any{
		"$and": []any{
			map[string]any{"a": 1},
			map[string]any{"b": 2},
		},
	}, testClock)
	if err != nil {
		t.Fatal(err)
	}

	if !nodesEqual(implicit, explicit) {
		t.Fatalf("implicit AND tree\n%+v\ndiffers from explicit\n%+v", implicit, explicit)
	}

	logical, ok := implicit.(Logical)
	if !ok || logical.Connective != ConnectiveAnd || len(logical.Children) != 2 {
		t.Fatalf("implicit AND compiled to %+v", implicit)
	}
}

func TestCompileEmptyLogicalIsRejected(t *testing.T) {
	for _, key := range []string{"$and", "$or"} {
		_, err := newTestCompiler().Compile(map[string]any{key: []any{}}, testClock)
		if !fault.HasCode(err, fault.InvalidFilterCode) {
			t.Fatalf("Compile({%q: []}) error = %v, want invalid_filter", key, err)
		}
	}
}

func TestCompileSingleChildLogicalCollapses(t *testing.T) {
	wrapped, err := newTestCompiler().Compile(map[string]any{
		"$or": []any{map[string]any{"a": 1}},
	}, testClock)
	if err != nil {
		t.Fatal(err)
	}

	direct, err := newTestCompiler().Compile(map[string]any{"a": 1}, testClock)
	if err != nil {
		t.Fatal(err)
	}

	if !nodesEqual(wrapped, direct) {
		t.Fatalf("single-child $or did not collapse: %+v vs %+v", wrapped, direct)
	}
}

func TestCompileOrGroup(t *testing.T) {
	node, err := newTestCompiler().Compile(map[string]any{
		"$or": []any{
			map[string]any{"city": "charlotte"},
			map[string]any{"city": "atlanta"},
		},
	}, testClock)
	if err != nil {
		t.Fatal(err)
	}

	logical, ok := node.(Logical)
	if !ok || logical.Connective != ConnectiveOr || len(logical.Children) != 2 {
		t.Fatalf("Compile = %+v, want OR with two children", node)
	}
}

func TestCompileMixedImplicitAndExplicit(t *testing.T) {
	// An explicit connective next to plain keys becomes one more sibling of
	// the enclosing implicit AND.
	node, err := newTestCompiler().Compile(map[string]any{
		"$or": []any{
			map[string]any{"role": "admin"},
			map[string]any{"role": "owner"},
		},
		"active": true,
	}, testClock)
	if err != nil {
		t.Fatal(err)
	}

	logical, ok := node.(Logical)
	if !ok || logical.Connective != ConnectiveAnd || len(logical.Children) != 2 {
		t.Fatalf("Compile = %+v, want AND with two children", node)
	}

	// Sibling keys compile in sorted order, so the $or group comes first.
	if or, ok := logical.Children[0].(Logical); !ok || or.Connective != ConnectiveOr {
		t.Fatalf("first child = %+v, want OR group", logical.Children[0])
	}
	if cmp, ok := logical.Children[1].(Comparison); !ok || cmp.Field != "active" {
		t.Fatalf("second child = %+v, want active comparison", logical.Children[1])
	}
}

func TestCompileNestedConnectiveInsideComparison(t *testing.T) {
	_, err := newTestCompiler().Compile(map[string]any{
		"a": map[string]any{"$or": []any{map[string]any{"b": 1}}},
	}, testClock)
	if !fault.HasCode(err, fault.InvalidFilterCode) {
		t.Fatalf("Compile error = %v, want invalid_filter", err)
	}
}

func TestCompileUnknownOperator(t *testing.T) {
	_, err := newTestCompiler().Compile(map[string]any{"name:$regex": "^a"}, testClock)
	if !fault.HasCode(err, fault.UnknownOperatorCode) {
		t.Fatalf("Compile error = %v, want unknown_operator", err)
	}
}

func TestCompileCustomOperator(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(Operator{
		Token: "$regex",
		Arity: ArityBinary,
		Translate: func(fieldExpr, param string) string {
			return "match(" + fieldExpr + ", @" + param + ")"
		},
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	node, err := NewCompiler(registry, macro.NewEnv()).Compile(map[string]any{"name:$regex": "^a"}, testClock)
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}

	cmp, ok := node.(Comparison)
	if !ok || cmp.Op.Token != "$regex" || cmp.Value != "^a" {
		t.Fatalf("Compile = %+v, want $regex comparison", node)
	}
}

func TestCompileArityMismatch(t *testing.T) {
	tests := map[string]map[string]any{
		"$in needs an array":       {"tags:$in": "vip"},
		"$eq needs a single value": {"tags": []any{"a", "b"}},
	}

	for name, filterDict := range tests {
		if _, err := newTestCompiler().Compile(filterDict, testClock); !fault.HasCode(err, fault.InvalidFilterCode) {
			t.Fatalf("%s: error = %v, want invalid_filter", name, err)
		}
	}
}

func TestCompileExpandsMacros(t *testing.T) {
	node, err := newTestCompiler().Compile(map[string]any{
		"_created_at:$lt": "@@CURRDATE() +2Days",
	}, testClock)
	if err != nil {
		t.Fatal(err)
	}

	cmp := node.(Comparison)
	if cmp.Value != "2024-01-03T00:00:00" {
		t.Fatalf("macro literal = %v, want %q", cmp.Value, "2024-01-03T00:00:00")
	}
}

func TestCompileExpandsMacrosInArrays(t *testing.T) {
	node, err := newTestCompiler().Compile(map[string]any{
		"day:$in": []any{"@@CURRDATE(DD)", "15"},
	}, testClock)
	if err != nil {
		t.Fatal(err)
	}

	cmp := node.(Comparison)
	if !reflect.DeepEqual(cmp.Value, []any{"01", "15"}) {
		t.Fatalf("macro array literal = %v", cmp.Value)
	}
}

func TestCompileMacroErrorCarriesPath(t *testing.T) {
	_, err := newTestCompiler().Compile(map[string]any{"x": "@@CURRDATE(QQ)"}, testClock)
	if !fault.HasCode(err, fault.MacroFormatCode) {
		t.Fatalf("Compile error = %v, want macro_format", err)
	}

	meta, ok := fault.MetadataOf(err).(map[string]any)
	if !ok || meta["path"] != "x" {
		t.Fatalf("error metadata = %v, want path %q", fault.MetadataOf(err), "x")
	}
}

func TestCompileInvalidField(t *testing.T) {
	for _, key := range []string{":$lt", "na me", "a;b"} {
		_, err := newTestCompiler().Compile(map[string]any{key: 1}, testClock)
		if !fault.HasCode(err, fault.InvalidFieldCode) {
			t.Fatalf("Compile({%q: 1}) error = %v, want invalid_field", key, err)
		}
	}
}

func TestCompileDepthGuard(t *testing.T) {
	filterDict := map[string]any{"a": 1}
	for i := 0; i < DefaultMaxDepth+5; i++ {
		filterDict = map[string]any{"$and": []any{filterDict}}
	}

	_, err := newTestCompiler().Compile(filterDict, testClock)
	if !fault.HasCode(err, fault.FilterTooDeepCode) {
		t.Fatalf("Compile error = %v, want filter_too_deep", err)
	}
}

func TestCompileConcurrentSharedRegistry(t *testing.T) {
	c := newTestCompiler()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Compile(map[string]any{"a": 1}, testClock); err != nil {
				t.Errorf("concurrent Compile returned error: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestCompileDeterminism(t *testing.T) {
	c := newTestCompiler()
	filterDict := map[string]any{
		"b": 2,
		"a": 1,
		"c": 3,
	}

	first, err := c.Compile(filterDict, testClock)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Compile(filterDict, testClock)
	if err != nil {
		t.Fatal(err)
	}

	if !nodesEqual(first, second) {
		t.Fatalf("two compiles of one filter diverged:\n%+v\n%+v", first, second)
	}
}
