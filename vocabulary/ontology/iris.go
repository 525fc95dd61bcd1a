package ontology

// Namespace is the base IRI for ontology classes, properties and instances.
const Namespace = "http://www.openbase.org/bco/ontology#"

// Prefix is the prefix label bound to Namespace in rendered SPARQL.
const Prefix = "ont"

// Standard namespaces declared in every rendered expression.
const (
	RDFNamespace  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	RDFSNamespace = "http://www.w3.org/2000/01/rdf-schema#"
	OWLNamespace  = "http://www.w3.org/2002/07/owl#"
	XSDNamespace  = "http://www.w3.org/2001/XMLSchema#"
)

// Prefixes returns the prefix declarations used by rendered expressions,
// keyed by prefix label.
func Prefixes() map[string]string {
	return map[string]string{
		Prefix: Namespace,
		"rdf":  RDFNamespace,
		"rdfs": RDFSNamespace,
		"owl":  OWLNamespace,
		"xsd":  XSDNamespace,
	}
}

// Class local names.
const (
	ClassUnit         = "Unit"
	ClassLocation     = "Location"
	ClassConnection   = "Connection"
	ClassObservation  = "Observation"
	ClassTimeInterval = "TimeInterval"
	ClassStateValue   = "StateValue"
)

// Relation predicates between units and their attributes.
const (
	PredicateHasLocation   = "hasLocation"
	PredicateHasConnection = "hasConnection"
	PredicateHasLabel      = "hasLabel"
)

// Observation predicates, used when historical values are retained.
const (
	PredicateHasUnit         = "hasUnit"
	PredicateHasService      = "hasService"
	PredicateHasTimeInterval = "hasTimeInterval"
	PredicateHasStart        = "hasStart"
	PredicateHasEnd          = "hasEnd"
	PredicateHasTimestamp    = "hasTimestamp"
)

// XSD datatypes used for literals.
const (
	XSDString   = "xsd:string"
	XSDBoolean  = "xsd:boolean"
	XSDDouble   = "xsd:double"
	XSDInteger  = "xsd:integer"
	XSDDateTime = "xsd:dateTime"
)
