// Package export serializes the instance triples the synchronizer would
// assert for a set of units, so a dataset can be seeded offline with a
// plain graph store upload.
package export

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/ontosync/delta"
	"github.com/c360studio/ontosync/rdf"
	"github.com/c360studio/ontosync/registry"
	"github.com/c360studio/ontosync/vocabulary/ontology"
)

// Exporter accumulates concrete triples and writes them in an RDF format.
type Exporter struct {
	prefixes map[string]string
	triples  []rdf.Triple
}

// NewExporter creates an exporter declaring the ontology prefixes.
func NewExporter() *Exporter {
	return &Exporter{prefixes: ontology.Prefixes()}
}

// Add appends triples. Patterns with wildcards cannot be exported.
func (e *Exporter) Add(triples ...rdf.Triple) error {
	for _, t := range triples {
		if !t.IsConcrete() {
			return fmt.Errorf("cannot export pattern %s", t)
		}
		if err := t.Validate(); err != nil {
			return err
		}
	}
	e.triples = append(e.triples, triples...)
	return nil
}

// AddUnits adds the identity, relations and current states of each unit as
// compiled by c. In history mode states become observation nodes stamped
// with now.
func (e *Exporter) AddUnits(c *delta.Compiler, units []registry.Unit, now time.Time) error {
	for _, unit := range units {
		cs, err := c.Compile(registry.UnitAdded{Unit: unit})
		if err != nil {
			return err
		}
		if err := e.Add(cs.Inserts...); err != nil {
			return err
		}

		states := unit.ServiceStates(now)
		if len(states) == 0 {
			continue
		}
		stateCS, err := c.CompileStates(unit.ID, states)
		if err != nil {
			return err
		}
		if err := e.Add(stateCS.Inserts...); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of triples added.
func (e *Exporter) Len() int { return len(e.triples) }

// Export serializes all triples to the specified format.
func (e *Exporter) Export(format Format) (string, error) {
	switch format {
	case FormatTurtle:
		return e.toTurtle(), nil
	case FormatNTriples:
		return e.toNTriples()
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// toTurtle groups predicate-object pairs under their subject in first-seen
// order.
func (e *Exporter) toTurtle() string {
	var sb strings.Builder

	keys := make([]string, 0, len(e.prefixes))
	for k := range e.prefixes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, prefix := range keys {
		fmt.Fprintf(&sb, "@prefix %s: <%s> .\n", prefix, e.prefixes[prefix])
	}

	var order []string
	bySubject := make(map[string][]rdf.Triple)
	for _, t := range e.triples {
		s := t.Subject.String()
		if _, seen := bySubject[s]; !seen {
			order = append(order, s)
		}
		bySubject[s] = append(bySubject[s], t)
	}

	for _, subject := range order {
		sb.WriteString("\n")
		sb.WriteString(subject)
		sb.WriteString("\n")
		triples := bySubject[subject]
		for i, t := range triples {
			terminator := " ;"
			if i == len(triples)-1 {
				terminator = " ."
			}
			fmt.Fprintf(&sb, "    %s %s%s\n", t.Predicate, t.Object, terminator)
		}
	}
	return sb.String()
}

// toNTriples writes one fully expanded triple per line.
func (e *Exporter) toNTriples() (string, error) {
	var sb strings.Builder
	for _, t := range e.triples {
		s, err := e.expandIdentifier(t.Subject.Value())
		if err != nil {
			return "", err
		}
		p, err := e.expandIdentifier(t.Predicate.Value())
		if err != nil {
			return "", err
		}
		o, err := e.objectNTriples(t.Object)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "%s %s %s .\n", s, p, o)
	}
	return sb.String(), nil
}

func (e *Exporter) objectNTriples(term rdf.Term) (string, error) {
	if term.Kind() == rdf.KindIdentifier {
		return e.expandIdentifier(term.Value())
	}
	quoted := `"` + rdf.EscapeLiteral(term.Value()) + `"`
	if term.Datatype() == "" {
		return quoted, nil
	}
	dt, err := e.expandIdentifier(term.Datatype())
	if err != nil {
		return "", err
	}
	return quoted + "^^" + dt, nil
}

// expandIdentifier turns a qualified name into an absolute <IRI>.
func (e *Exporter) expandIdentifier(name string) (string, error) {
	if name == rdf.IsAToken {
		return "<" + ontology.RDFNamespace + "type>", nil
	}
	if strings.HasPrefix(name, "<") && strings.HasSuffix(name, ">") {
		return name, nil
	}
	prefix, local, ok := strings.Cut(name, ":")
	if !ok {
		return "", fmt.Errorf("identifier %q is not qualified", name)
	}
	ns, known := e.prefixes[prefix]
	if !known {
		return "", fmt.Errorf("identifier %q uses undeclared prefix %q", name, prefix)
	}
	return "<" + ns + local + ">", nil
}
