package filter

import (
	"testing"
	"time"

	"github.com/thisisjab/angora/fault"
	"github.com/thisisjab/angora/macro"
)

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()

	for token, want := range map[string]string{
		"$eq":  "doc.a = @p",
		"$ne":  "doc.a != @p",
		"$lt":  "doc.a < @p",
		"$lte": "doc.a <= @p",
		"$gt":  "doc.a > @p",
		"$gte": "doc.a >= @p",
		"$in":  "doc.a IN @p",
	} {
		op, err := r.Resolve(token)
		if err != nil {
			t.Fatalf("Resolve(%q) returned error: %v", token, err)
		}
		if got := op.Translate("doc.a", "p"); got != want {
			t.Fatalf("%s fragment = %q, want %q", token, got, want)
		}
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	_, err := NewRegistry().Resolve("$regex")
	if !fault.HasCode(err, fault.UnknownOperatorCode) {
		t.Fatalf("Resolve error = %v, want unknown_operator", err)
	}

	meta, ok := fault.MetadataOf(err).(map[string]any)
	if !ok || meta["token"] != "$regex" {
		t.Fatalf("error metadata = %v, want token $regex", fault.MetadataOf(err))
	}
}

func TestRegistryShadowsBuiltins(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Operator{
		Token: "$eq",
		Arity: ArityBinary,
		Translate: func(fieldExpr, param string) string {
			return "equals(" + fieldExpr + ", @" + param + ")"
		},
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	op, err := r.Resolve("$eq")
	if err != nil {
		t.Fatal(err)
	}
	if got := op.Translate("doc.a", "p"); got != "equals(doc.a, @p)" {
		t.Fatalf("shadowed $eq fragment = %q", got)
	}
}

func TestRegistryRejectsIncompleteOperators(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(Operator{Token: "", Translate: binary("=")}); !fault.HasCode(err, fault.BadInputCode) {
		t.Fatalf("Register without token: error = %v, want bad_input", err)
	}
	if err := r.Register(Operator{Token: "$x"}); !fault.HasCode(err, fault.BadInputCode) {
		t.Fatalf("Register without translate: error = %v, want bad_input", err)
	}
}

func TestRegistryFreezesOnCompile(t *testing.T) {
	r := NewRegistry()
	c := NewCompiler(r, macro.NewEnv())

	if _, err := c.Compile(map[string]any{"a": 1}, time.Now()); err != nil {
		t.Fatal(err)
	}

	err := r.Register(Operator{Token: "$late", Arity: ArityBinary, Translate: binary("=")})
	if !fault.HasCode(err, fault.BadInputCode) {
		t.Fatalf("Register after compile: error = %v, want bad_input", err)
	}
}
