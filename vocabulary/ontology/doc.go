// Package ontology provides the vocabulary used to describe registry units
// in the remote triple store.
//
// The vocabulary covers three things:
//   - Namespaces and prefixes declared by every rendered SPARQL expression
//   - Class and predicate local names for units, locations and observations
//   - Mapping tables from registry unit types to ontology classes, and from
//     service types to the predicates carrying their state values
//
// # Service Mappings
//
// Services fall into two kinds:
//
//	Kind        Example                  Rendered as
//	Discrete    POWER_STATE_SERVICE      shared value resource (ont:PowerState_ON)
//	Continuous  COLOR_STATE_SERVICE      typed literals ("120.0"^^xsd:double)
//
// Discrete values share one named node per value so repeated observations
// point at the same resource. Continuous values are emitted inline.
//
// # Usage
//
//	mapping, ok := ontology.LookupService("COLOR_STATE_SERVICE")
//	if !ok {
//	    // unmapped service type, a configuration gap
//	}
//	for _, dim := range mapping.Dimensions {
//	    fmt.Println(dim.Name, dim.Predicate, dim.Datatype)
//	}
package ontology
