package macro

import (
	"fmt"
	"strings"
	"time"

	"github.com/thisisjab/angora/fault"
)

// ISODateLayout is what the ISODATE format token renders.
const ISODateLayout = "2006-01-02T15:04:05"

// formatTokens maps a pattern token to the rendered field. Ordered longest
// first so YYYY is matched before any two-character token. MM and mm are
// distinct on purpose (month vs minute).
var formatTokens = []struct {
	token  string
	render func(t time.Time) string
}{
	{"YYYY", func(t time.Time) string { return fmt.Sprintf("%04d", t.Year()) }},
	{"MM", func(t time.Time) string { return fmt.Sprintf("%02d", int(t.Month())) }},
	{"DD", func(t time.Time) string { return fmt.Sprintf("%02d", t.Day()) }},
	{"HH", func(t time.Time) string { return fmt.Sprintf("%02d", t.Hour()) }},
	{"mm", func(t time.Time) string { return fmt.Sprintf("%02d", t.Minute()) }},
	{"ss", func(t time.Time) string { return fmt.Sprintf("%02d", t.Second()) }},
}

// evalCurrdate implements @@CURRDATE(format?, dateshifter?) [shift...].
//
// Resolution order: reference clock, then the named dateshifter hook (if
// any), then the arithmetic shift terms, then format rendering.
func (e *Env) evalCurrdate(call Call, now time.Time) (any, error) {
	format := "ISODATE"
	if len(call.Args) > 0 && call.Args[0] != "" {
		format = call.Args[0]
	}

	t := now
	if len(call.Args) > 1 && call.Args[1] != "" {
		shifter, ok := e.shifters[call.Args[1]]
		if !ok {
			return nil, fault.Newf(fault.MacroSyntaxCode, "macro @@%s: unknown dateshifter %q", call.Name, call.Args[1])
		}

		shifted, err := shifter(t)
		if err != nil {
			return nil, fault.Newf(fault.MacroSyntaxCode, "macro @@%s: dateshifter %q failed", call.Name, call.Args[1]).
				WithOriginal(err)
		}
		t = shifted
	}

	t = ApplyShifts(t, call.Shifts)

	return renderFormat(t, format)
}

// renderFormat substitutes every recognized token of pattern in place,
// leaving literal characters untouched. A pattern containing no recognized
// token at all is rejected.
func renderFormat(t time.Time, pattern string) (string, error) {
	if strings.EqualFold(pattern, "ISODATE") {
		return t.Format(ISODateLayout), nil
	}

	var out strings.Builder
	replaced := false

	for i := 0; i < len(pattern); {
		matched := false
		for _, ft := range formatTokens {
			if strings.HasPrefix(pattern[i:], ft.token) {
				out.WriteString(ft.render(t))
				i += len(ft.token)
				matched = true
				replaced = true
				break
			}
		}
		if !matched {
			out.WriteByte(pattern[i])
			i++
		}
	}

	if !replaced {
		return "", fault.Newf(fault.MacroFormatCode, "unknown format token %q", pattern)
	}

	return out.String(), nil
}
