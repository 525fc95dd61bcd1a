package rdf

import "fmt"

// Triple is a subject-predicate-object statement or pattern.
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// NewTriple builds a triple from three terms.
func NewTriple(s, p, o Term) Triple {
	return Triple{Subject: s, Predicate: p, Object: o}
}

// IsConcrete reports whether no slot is a wildcard or invalid.
func (t Triple) IsConcrete() bool {
	for _, term := range t.Terms() {
		if term.kind != KindIdentifier && term.kind != KindLiteral {
			return false
		}
	}
	return true
}

// HasWildcard reports whether any slot matches anything.
func (t Triple) HasWildcard() bool {
	return t.Subject.IsWildcard() || t.Predicate.IsWildcard() || t.Object.IsWildcard()
}

// Terms returns the slots in subject, predicate, object order.
func (t Triple) Terms() [3]Term {
	return [3]Term{t.Subject, t.Predicate, t.Object}
}

// Validate checks slot kinds: subjects and predicates may not be literals,
// IsA may only be a predicate, and no slot may be the zero Term.
func (t Triple) Validate() error {
	if t.Subject.IsZero() || t.Predicate.IsZero() || t.Object.IsZero() {
		return fmt.Errorf("triple %s: unset term", t)
	}
	if t.Subject == IsA || t.Object == IsA {
		return fmt.Errorf("triple %s: is-a outside the predicate slot", t)
	}
	if t.Subject.kind == KindLiteral {
		return fmt.Errorf("triple %s: literal subject", t)
	}
	if t.Predicate.kind == KindLiteral {
		return fmt.Errorf("triple %s: literal predicate", t)
	}
	return nil
}

// String renders the triple with wildcards shown as "?".
func (t Triple) String() string {
	return fmt.Sprintf("%s %s %s", t.Subject, t.Predicate, t.Object)
}

// ChangeSet is the delta produced for one registry change: triples to delete
// followed by triples to insert, with an optional WHERE pattern.
type ChangeSet struct {
	Deletes []Triple
	Inserts []Triple
	Filter  string
}

// IsEmpty reports whether the change set carries no triples.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Deletes) == 0 && len(c.Inserts) == 0
}

// Merge appends other's triples after c's, preserving delete-before-insert
// for both. Filters are joined with a space.
func (c ChangeSet) Merge(other ChangeSet) ChangeSet {
	merged := ChangeSet{
		Deletes: append(append([]Triple{}, c.Deletes...), other.Deletes...),
		Inserts: append(append([]Triple{}, c.Inserts...), other.Inserts...),
		Filter:  c.Filter,
	}
	if other.Filter != "" {
		if merged.Filter != "" {
			merged.Filter += " "
		}
		merged.Filter += other.Filter
	}
	return merged
}
