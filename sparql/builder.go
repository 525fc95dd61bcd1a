// Package sparql renders change sets as SPARQL 1.1 Update expressions and
// talks to a triple store over the SPARQL protocol and the Graph Store
// protocol.
//
// Every rendered expression is a single request so that the store applies
// it atomically. Wildcard slots become variables that are unique per triple
// line and slot (?s2, ?p2, ?o2 for the second line). The WHERE clause binds
// them with a union: an empty branch, which guarantees one solution so the
// concrete lines and the INSERT template always apply, plus one branch per
// wildcard delete line. The solution count grows with the sum of the
// matches, not their product.
package sparql

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/c360studio/ontosync/rdf"
	"github.com/c360studio/ontosync/vocabulary/ontology"
)

// Builder renders triples into update expressions.
type Builder struct {
	header string
}

// NewBuilder creates a builder declaring the ontology prefixes.
func NewBuilder() *Builder {
	return NewBuilderWithPrefixes(ontology.Prefixes())
}

// NewBuilderWithPrefixes creates a builder declaring the given prefixes,
// keyed by label.
func NewBuilderWithPrefixes(prefixes map[string]string) *Builder {
	return &Builder{header: prefixHeader(prefixes)}
}

// Header returns the PREFIX declarations that start every expression.
func (b *Builder) Header() string {
	return b.header
}

// Render picks the expression form from which sets of cs are non-empty.
func (b *Builder) Render(cs rdf.ChangeSet) (string, error) {
	switch {
	case len(cs.Deletes) == 0 && len(cs.Inserts) == 0:
		return "", fmt.Errorf("%w: empty change set", ErrInvalidArgument)
	case len(cs.Deletes) == 0:
		if cs.Filter != "" {
			return "", fmt.Errorf("%w: filter without deletes", ErrInvalidArgument)
		}
		return b.InsertData(cs.Inserts)
	case len(cs.Inserts) == 0:
		return b.DeleteWhere(cs.Deletes, cs.Filter)
	default:
		return b.DeleteInsert(cs.Deletes, cs.Inserts, cs.Filter)
	}
}

// InsertData renders one INSERT DATA block. All triples must be concrete.
func (b *Builder) InsertData(inserts []rdf.Triple) (string, error) {
	if len(inserts) == 0 {
		return "", fmt.Errorf("%w: no triples to insert", ErrInvalidArgument)
	}
	body, err := concreteBlock(inserts)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(b.header)
	sb.WriteString("INSERT DATA {\n")
	sb.WriteString(body)
	sb.WriteString("}\n")
	return sb.String(), nil
}

// DeleteInsert renders one DELETE { } INSERT { } WHERE { } block.
func (b *Builder) DeleteInsert(deletes, inserts []rdf.Triple, filter string) (string, error) {
	if len(deletes) == 0 || len(inserts) == 0 {
		return "", fmt.Errorf("%w: delete and insert sets must both be non-empty", ErrInvalidArgument)
	}
	del, where, err := deleteTemplate(deletes, filter)
	if err != nil {
		return "", err
	}
	ins, err := concreteBlock(inserts)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(b.header)
	sb.WriteString("DELETE {\n")
	sb.WriteString(del)
	sb.WriteString("}\nINSERT {\n")
	sb.WriteString(ins)
	sb.WriteString("}\n")
	sb.WriteString(where)
	return sb.String(), nil
}

// DeleteWhere renders one DELETE { } WHERE { } block.
func (b *Builder) DeleteWhere(deletes []rdf.Triple, filter string) (string, error) {
	if len(deletes) == 0 {
		return "", fmt.Errorf("%w: no triples to delete", ErrInvalidArgument)
	}
	del, where, err := deleteTemplate(deletes, filter)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(b.header)
	sb.WriteString("DELETE {\n")
	sb.WriteString(del)
	sb.WriteString("}\n")
	sb.WriteString(where)
	return sb.String(), nil
}

// Ask renders an ASK query with the builder's prefixes.
func (b *Builder) Ask(pattern string) string {
	return b.header + "ASK { " + strings.TrimSpace(pattern) + " }"
}

// deleteTemplate renders the delete lines and the WHERE clause binding
// their variables.
func deleteTemplate(deletes []rdf.Triple, filter string) (string, string, error) {
	var del, branches strings.Builder
	for i, t := range deletes {
		if err := t.Validate(); err != nil {
			return "", "", fmt.Errorf("%w: delete %d: %v", ErrInvalidArgument, i+1, err)
		}
		line := renderPattern(t, i+1)
		del.WriteString("  " + line + " .\n")
		if t.HasWildcard() {
			branches.WriteString("  UNION { " + line + " }\n")
		}
	}

	filter = strings.TrimSpace(filter)
	if filter == "" && branches.Len() == 0 {
		return del.String(), "WHERE {}\n", nil
	}

	var where strings.Builder
	where.WriteString("WHERE {\n")
	if filter != "" {
		where.WriteString("  " + filter + "\n")
	}
	if branches.Len() > 0 {
		where.WriteString("  { }\n")
		where.WriteString(branches.String())
	}
	where.WriteString("}\n")
	return del.String(), where.String(), nil
}

func concreteBlock(triples []rdf.Triple) (string, error) {
	var sb strings.Builder
	for i, t := range triples {
		if err := t.Validate(); err != nil {
			return "", fmt.Errorf("%w: insert %d: %v", ErrInvalidArgument, i+1, err)
		}
		if t.HasWildcard() {
			return "", fmt.Errorf("%w: insert %d: wildcard in %s", ErrInvalidArgument, i+1, t)
		}
		sb.WriteString("  " + t.String() + " .\n")
	}
	return sb.String(), nil
}

// renderPattern renders a triple, naming wildcards after their slot and line.
func renderPattern(t rdf.Triple, line int) string {
	n := strconv.Itoa(line)
	slot := func(term rdf.Term, name string) string {
		if term.IsWildcard() {
			return "?" + name + n
		}
		return term.String()
	}
	return slot(t.Subject, "s") + " " + slot(t.Predicate, "p") + " " + slot(t.Object, "o")
}

func prefixHeader(prefixes map[string]string) string {
	labels := make([]string, 0, len(prefixes))
	for label := range prefixes {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var sb strings.Builder
	for _, label := range labels {
		fmt.Fprintf(&sb, "PREFIX %s: <%s>\n", label, prefixes[label])
	}
	return sb.String()
}
