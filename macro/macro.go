// Package macro expands host-side macros embedded in filter values.
//
// A macro value looks like `@@CURRDATE(YYYY-MM-DD) +2Days`. Macros are
// resolved into concrete literals before any query text is emitted, against
// an injected reference clock. The store's own date arithmetic is never
// used; a compiled query is fully deterministic given the filter and clock.
package macro

import (
	"strconv"
	"strings"
	"time"

	"github.com/thisisjab/angora/fault"
)

// ShiftUnit is a calendar/clock unit usable in a shift suffix.
type ShiftUnit string

const (
	UnitYears  ShiftUnit = "years"
	UnitMonths ShiftUnit = "months"
	UnitDays   ShiftUnit = "days"
	UnitHours  ShiftUnit = "hours"
	UnitMins   ShiftUnit = "mins"
	UnitSecs   ShiftUnit = "secs"
)

// Shift is one signed term of a shift suffix, e.g. `-3Hours`.
type Shift struct {
	Sign      int // +1 or -1
	Magnitude int
	Unit      ShiftUnit
}

// Call is a parsed macro invocation. It exists only between parsing and
// evaluation; the result literal replaces it.
type Call struct {
	Name   string
	Args   []string
	Shifts []Shift
}

// Func evaluates a parsed macro call against the reference clock.
type Func func(call Call, now time.Time) (any, error)

// Shifter is a pluggable date-shift hook, addressed by name from the second
// positional argument of @@CURRDATE.
type Shifter func(t time.Time) (time.Time, error)

// Env holds the registered macros and shifter hooks. It is configured once
// at startup and is then safe for concurrent, read-only use by compiles.
type Env struct {
	macros   map[string]Func
	shifters map[string]Shifter
}

// NewEnv returns an Env with the built-in CURRDATE macro registered.
func NewEnv() *Env {
	e := &Env{
		macros:   make(map[string]Func),
		shifters: make(map[string]Shifter),
	}
	e.RegisterMacro("CURRDATE", e.evalCurrdate)
	return e
}

// RegisterMacro adds or overwrites a macro. Last write wins.
func (e *Env) RegisterMacro(name string, fn Func) {
	e.macros[name] = fn
}

// RegisterShifter adds or overwrites a named dateshifter hook.
func (e *Env) RegisterShifter(name string, s Shifter) {
	e.shifters[name] = s
}

// Expand resolves raw into a literal if it is a macro invocation, or returns
// it unchanged. A string only counts as an invocation when it starts with
// `@@NAME(` for a registered NAME; everything else is passed through, since
// macro syntax is an opt-in convention rather than mandatory escaping.
func (e *Env) Expand(raw string, now time.Time) (any, error) {
	if !strings.HasPrefix(raw, "@@") {
		return raw, nil
	}

	rest := raw[2:]
	open := strings.IndexByte(rest, '(')
	if open <= 0 {
		return raw, nil
	}

	name := rest[:open]
	fn, ok := e.macros[name]
	if !ok {
		return raw, nil
	}

	call, err := parseCall(name, rest[open:])
	if err != nil {
		return nil, err
	}

	return fn(call, now)
}

// parseCall parses the `(args...) [shift...]` tail of a macro invocation.
// in starts at the opening parenthesis.
func parseCall(name, in string) (Call, error) {
	close_ := strings.IndexByte(in, ')')
	if close_ < 0 {
		return Call{}, fault.Newf(fault.MacroSyntaxCode, "macro @@%s: unmatched parenthesis", name).
			WithMetadata(map[string]any{"value": in})
	}

	call := Call{Name: name}

	argList := in[1:close_]
	if strings.TrimSpace(argList) != "" {
		for _, a := range strings.Split(argList, ",") {
			call.Args = append(call.Args, strings.TrimSpace(a))
		}
	}

	suffix := strings.TrimSpace(in[close_+1:])
	if suffix != "" {
		shifts, err := ParseShifts(suffix)
		if err != nil {
			return Call{}, fault.Newf(fault.MacroSyntaxCode, "macro @@%s: malformed shift suffix %q", name, suffix).
				WithOriginal(err)
		}
		call.Shifts = shifts
	}

	return call, nil
}

// ParseShifts parses one or more whitespace separated shift terms, each of
// the form sign-digits-unit, e.g. `+2Days -3Hours`.
func ParseShifts(stmt string) ([]Shift, error) {
	var shifts []Shift
	for _, term := range strings.Fields(stmt) {
		s, err := parseShiftTerm(term)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, s)
	}
	return shifts, nil
}

func parseShiftTerm(term string) (Shift, error) {
	if len(term) < 3 {
		return Shift{}, fault.New(fault.MacroSyntaxCode, "shift term too short")
	}

	sign := 0
	switch term[0] {
	case '+':
		sign = 1
	case '-':
		sign = -1
	default:
		return Shift{}, fault.New(fault.MacroSyntaxCode, "shift term must start with '+' or '-'")
	}

	i := 1
	for i < len(term) && term[i] >= '0' && term[i] <= '9' {
		i++
	}
	if i == 1 {
		return Shift{}, fault.New(fault.MacroSyntaxCode, "shift magnitude is not numeric")
	}

	magnitude, err := strconv.Atoi(term[1:i])
	if err != nil {
		return Shift{}, fault.New(fault.MacroSyntaxCode, "shift magnitude is not numeric").WithOriginal(err)
	}

	unit := ShiftUnit(strings.ToLower(term[i:]))
	switch unit {
	case UnitYears, UnitMonths, UnitDays, UnitHours, UnitMins, UnitSecs:
	default:
		return Shift{}, fault.Newf(fault.MacroSyntaxCode, "unknown shift unit %q", term[i:])
	}

	return Shift{Sign: sign, Magnitude: magnitude, Unit: unit}, nil
}

// ApplyShifts applies the shift terms to t in order.
func ApplyShifts(t time.Time, shifts []Shift) time.Time {
	for _, s := range shifts {
		n := s.Sign * s.Magnitude
		switch s.Unit {
		case UnitYears:
			t = t.AddDate(n, 0, 0)
		case UnitMonths:
			t = t.AddDate(0, n, 0)
		case UnitDays:
			t = t.AddDate(0, 0, n)
		case UnitHours:
			t = t.Add(time.Duration(n) * time.Hour)
		case UnitMins:
			t = t.Add(time.Duration(n) * time.Minute)
		case UnitSecs:
			t = t.Add(time.Duration(n) * time.Second)
		}
	}
	return t
}
