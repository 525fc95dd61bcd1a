package rdf

import "sort"

// Hierarchy records subclass and instance edges between classes and walks
// them without recursion. Cycles in the input are tolerated.
type Hierarchy struct {
	subclasses map[string][]string
	instances  map[string][]string
}

// NewHierarchy creates an empty hierarchy.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		subclasses: make(map[string][]string),
		instances:  make(map[string][]string),
	}
}

// AddSubclass records that sub is a direct subclass of super.
func (h *Hierarchy) AddSubclass(sub, super string) {
	h.subclasses[super] = append(h.subclasses[super], sub)
}

// AddInstance records that instance is directly typed with class.
func (h *Hierarchy) AddInstance(instance, class string) {
	h.instances[class] = append(h.instances[class], instance)
}

// Subclasses returns every transitive subclass of class, excluding class
// itself, in breadth-first order.
func (h *Hierarchy) Subclasses(class string) []string {
	visited := map[string]bool{class: true}
	queue := []string{class}
	var out []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, sub := range h.subclasses[current] {
			if visited[sub] {
				continue
			}
			visited[sub] = true
			out = append(out, sub)
			queue = append(queue, sub)
		}
	}
	return out
}

// Instances returns the instances of class and of all its subclasses,
// deduplicated and sorted.
func (h *Hierarchy) Instances(class string) []string {
	classes := append([]string{class}, h.Subclasses(class)...)
	seen := make(map[string]bool)
	var out []string
	for _, c := range classes {
		for _, inst := range h.instances[c] {
			if seen[inst] {
				continue
			}
			seen[inst] = true
			out = append(out, inst)
		}
	}
	sort.Strings(out)
	return out
}
