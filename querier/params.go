package querier

import (
	"strconv"
	"strings"
)

// paramSet collects the bind parameters of one build. Field-derived names
// get an ordinal suffix so two comparisons on the same field never collide,
// and the counter (instead of a random nonce) keeps the query text
// reproducible for identical input.
type paramSet struct {
	params map[string]any
	n      int
}

func newParamSet() *paramSet {
	return &paramSet{params: make(map[string]any)}
}

// add binds value under a name derived from the field and returns the name.
func (p *paramSet) add(field string, value any) string {
	p.n++
	name := slug(field) + "_" + strconv.Itoa(p.n)
	p.params[name] = value
	return name
}

// set binds value under a fixed name (limit, offset). Fixed names never
// collide with field-derived ones because those always carry the ordinal
// suffix.
func (p *paramSet) set(name string, value any) {
	p.params[name] = value
}

// slug lowers a field path into a parameter-name-safe form.
func slug(field string) string {
	var out strings.Builder
	out.Grow(len(field))
	for _, r := range strings.ToLower(field) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out.WriteRune(r)
		} else {
			out.WriteByte('_')
		}
	}
	return out.String()
}
