package storage

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedEntityType indicates that a backend has no storage for
	// the requested entity type.
	ErrUnsupportedEntityType = errors.New("unsupported entity type")
)

// DefaultNamespaces maps entity types to the page namespaces holding them.
var DefaultNamespaces = NamespaceLookup{
	"item":     120,
	"property": 122,
	"lexeme":   146,
}

// NamespaceLookup resolves the page namespace of an entity type.
type NamespaceLookup map[string]int

// Namespace returns the namespace for entityType.
func (n NamespaceLookup) Namespace(entityType string) (int, error) {
	ns, ok := n[entityType]
	if !ok {
		return 0, fmt.Errorf("%w: no namespace for %q", ErrUnsupportedEntityType, entityType)
	}
	return ns, nil
}

// EntityTypes returns the entity types with a namespace, sorted.
func (n NamespaceLookup) EntityTypes() []string {
	out := make([]string, 0, len(n))
	for t := range n {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Dedupe returns values without duplicates, keeping first occurrences.
func Dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
