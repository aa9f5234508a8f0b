package pilot

import (
	"strings"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Header is a single name/value pair as it appeared on the wire.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list. Lookup is case-insensitive, insertion
// order is kept for serialization and repeated names are kept as separate
// entries rather than merged.
type Headers []Header

// Get returns the first value for name, or "" when absent.
func (h Headers) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns every value recorded for name, in order.
func (h Headers) Values(name string) []string {
	var out []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

func (h Headers) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Add appends a header, keeping any existing entries with the same name.
func (h *Headers) Add(name, value string) {
	*h = append(*h, Header{Name: name, Value: value})
}

// Set replaces the first entry for name in place and removes the rest,
// or appends when the name is new.
func (h *Headers) Set(name, value string) {
	out := (*h)[:0]
	replaced := false
	for _, f := range *h {
		if strings.EqualFold(f.Name, name) {
			if replaced {
				continue
			}
			f.Value = value
			replaced = true
		}
		out = append(out, f)
	}
	if !replaced {
		out = append(out, Header{Name: name, Value: value})
	}
	*h = out
}

// Del removes all entries for name.
func (h *Headers) Del(name string) {
	out := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	*h = out
}

// ContainsToken reports whether any comma-separated element of any value of
// name equals token, ignoring case. Used for Connection and Transfer-Encoding.
func (h Headers) ContainsToken(name, token string) bool {
	return httpguts.HeaderValuesContainsToken(h.Values(name), token)
}

// Canonicalize rewrites every name into its canonical form.
func (h Headers) Canonicalize() {
	for i := range h {
		h[i].Name = CanonicalHeaderName(h[i].Name)
	}
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// CanonicalHeaderName title-cases each dash separated word of name, so
// "content-length" becomes "Content-Length". Names that are not valid
// tokens are returned unchanged.
func CanonicalHeaderName(name string) string {
	if !isToken(name) {
		return name
	}
	caser := cases.Title(language.English)
	parts := strings.Split(name, "-")
	for i, p := range parts {
		parts[i] = caser.String(p)
	}
	return strings.Join(parts, "-")
}

func isToken(s string) bool {
	return httpguts.ValidHeaderFieldName(s)
}

// lastToken returns the final comma separated element of a list header,
// trimmed and lower cased.
func lastToken(values []string) string {
	last := ""
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				last = p
			}
		}
	}
	return strings.ToLower(last)
}
