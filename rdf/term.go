// Package rdf provides the triple data model used to describe deltas against
// the remote triple store.
//
// Terms are a closed tagged union decided at construction time: an
// identifier (always namespace-qualified exactly once), a typed literal, or
// a wildcard that matches anything. Rendering never has to guess what a
// string is.
package rdf

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/ontosync/vocabulary/ontology"
)

// Kind identifies the variant held by a Term.
type Kind uint8

const (
	// KindInvalid is the zero Term. Builders reject it.
	KindInvalid Kind = iota
	// KindIdentifier is a namespace-qualified resource name.
	KindIdentifier
	// KindLiteral is a quoted value with an optional datatype.
	KindLiteral
	// KindWildcard matches any term and renders as a variable.
	KindWildcard
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindIdentifier:
		return "identifier"
	case KindLiteral:
		return "literal"
	case KindWildcard:
		return "wildcard"
	default:
		return "invalid"
	}
}

// IsAToken is the short form of rdf:type. Only the IsA predicate renders
// as it; Identifier("a") is an ordinary ontology resource.
const IsAToken = "a"

// Term is a subject, predicate or object slot of a Triple.
type Term struct {
	kind     Kind
	value    string
	datatype string
}

var (
	// IsA is the rdf:type predicate rendered in its short form.
	IsA = Term{kind: KindIdentifier, value: IsAToken}

	// Any is the wildcard term.
	Any = Term{kind: KindWildcard}
)

// Identifier returns an identifier term for name, qualifying it.
func Identifier(name string) Term {
	return Term{kind: KindIdentifier, value: Qualify(name)}
}

// Literal returns a literal with an explicit datatype such as "xsd:double".
// An empty datatype yields a plain string literal.
func Literal(value, datatype string) Term {
	return Term{kind: KindLiteral, value: value, datatype: datatype}
}

// String returns a plain string literal.
func String(v string) Term {
	return Literal(v, "")
}

// Bool returns an xsd:boolean literal.
func Bool(v bool) Term {
	return Literal(strconv.FormatBool(v), ontology.XSDBoolean)
}

// Double returns an xsd:double literal. Infinities and NaN use the XSD
// lexical forms INF, -INF and NaN.
func Double(v float64) Term {
	switch {
	case math.IsInf(v, 1):
		return Literal("INF", ontology.XSDDouble)
	case math.IsInf(v, -1):
		return Literal("-INF", ontology.XSDDouble)
	case math.IsNaN(v):
		return Literal("NaN", ontology.XSDDouble)
	}
	return Literal(strconv.FormatFloat(v, 'f', -1, 64), ontology.XSDDouble)
}

// Integer returns an xsd:integer literal.
func Integer(v int64) Term {
	return Literal(strconv.FormatInt(v, 10), ontology.XSDInteger)
}

// DateTime returns an xsd:dateTime literal in UTC.
func DateTime(t time.Time) Term {
	return Literal(t.UTC().Format(time.RFC3339Nano), ontology.XSDDateTime)
}

// Kind returns the variant held by the term.
func (t Term) Kind() Kind { return t.kind }

// Value returns the qualified name of an identifier or the lexical value of
// a literal.
func (t Term) Value() string { return t.value }

// Datatype returns the datatype of a literal.
func (t Term) Datatype() string { return t.datatype }

// IsZero reports whether t is the invalid zero Term.
func (t Term) IsZero() bool { return t.kind == KindInvalid }

// IsWildcard reports whether t matches anything.
func (t Term) IsWildcard() bool { return t.kind == KindWildcard }

// String renders the term in SPARQL syntax. Wildcards render as "?"; the
// builder replaces them with per-line variables.
func (t Term) String() string {
	switch t.kind {
	case KindIdentifier:
		return t.value
	case KindLiteral:
		quoted := `"` + EscapeLiteral(t.value) + `"`
		if t.datatype == "" {
			return quoted
		}
		return quoted + "^^" + t.datatype
	case KindWildcard:
		return "?"
	default:
		return ""
	}
}

// GoString aids test failure output.
func (t Term) GoString() string {
	return fmt.Sprintf("rdf.Term{%s %q}", t.kind, t.String())
}

var knownPrefixes = []string{ontology.Prefix + ":", "rdf:", "rdfs:", "owl:", "xsd:"}

// Qualify namespace-qualifies a resource name. It is idempotent: qualifying
// an already-qualified name returns it unchanged. Foreign absolute IRIs are
// wrapped in angle brackets and names in the ontology namespace are
// shortened to the ontology prefix. The is-a token gets no special case
// here: "a" names a resource like any other, and only IsA renders bare.
func Qualify(name string) string {
	switch {
	case strings.HasPrefix(name, "<") && strings.HasSuffix(name, ">"):
		return name
	case strings.HasPrefix(name, ontology.Namespace):
		return ontology.Prefix + ":" + escapeLocal(strings.TrimPrefix(name, ontology.Namespace))
	case strings.Contains(name, "://"):
		return "<" + name + ">"
	}
	for _, p := range knownPrefixes {
		if local, ok := strings.CutPrefix(name, p); ok {
			return p + normalizeLocal(local)
		}
	}
	return ontology.Prefix + ":" + escapeLocal(name)
}

// escapeLocal percent-encodes every byte not allowed in a prefixed local
// name, including '%' itself.
func escapeLocal(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		writeLocalByte(&sb, s, i)
	}
	return sb.String()
}

// normalizeLocal is escapeLocal for a local part that may already hold
// percent-encodings: a well-formed %HH is kept, so escapeLocal output is a
// fixed point.
func normalizeLocal(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			sb.WriteString(s[i : i+3])
			i += 2
			continue
		}
		writeLocalByte(&sb, s, i)
	}
	return sb.String()
}

func writeLocalByte(sb *strings.Builder, s string, i int) {
	c := s[i]
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		sb.WriteByte(c)
	case c == '-' && i > 0:
		sb.WriteByte(c)
	default:
		fmt.Fprintf(sb, "%%%02X", c)
	}
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

// EscapeLiteral escapes special characters for a quoted SPARQL literal.
func EscapeLiteral(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return s
}

// UnescapeLiteral reverses EscapeLiteral.
func UnescapeLiteral(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i == len(s)-1 {
			sb.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}
