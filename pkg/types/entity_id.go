package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidEntityID is returned when a serialized entity ID cannot be parsed.
var ErrInvalidEntityID = errors.New("invalid entity id")

// EntityID identifies an entity. It is an immutable value: an entity type, the
// local ID part (e.g. "Q42") and an optional repository prefix (e.g. "wd").
//
// Two EntityIDs are equal iff their serializations are equal. EntityID values
// are comparable and may be used directly as map keys, but the resolver keys
// its maps by Serialization() to match the storage layer.
type EntityID struct {
	repository string
	entityType string
	localPart  string
}

// NewEntityID builds an EntityID from its parts without validation.
// Prefer ParseEntityID for untrusted input.
func NewEntityID(repository, entityType, localPart string) EntityID {
	return EntityID{repository: repository, entityType: entityType, localPart: localPart}
}

// EntityType returns the entity type, e.g. "item".
func (id EntityID) EntityType() string { return id.entityType }

// LocalPart returns the serialization without the repository prefix.
func (id EntityID) LocalPart() string { return id.localPart }

// Repository returns the repository prefix, or "" for local entities.
func (id EntityID) Repository() string { return id.repository }

// IsZero reports whether id is the zero value.
func (id EntityID) IsZero() bool { return id.localPart == "" }

// Serialization returns the canonical string form, "repo:Q42" or "Q42".
func (id EntityID) Serialization() string {
	if id.repository == "" {
		return id.localPart
	}
	return id.repository + ":" + id.localPart
}

// String implements fmt.Stringer.
func (id EntityID) String() string { return id.Serialization() }

// Equals compares two ids by serialization.
func (id EntityID) Equals(other EntityID) bool {
	return id.Serialization() == other.Serialization()
}

// WithRepository returns a copy of id carrying the given repository prefix.
func (id EntityID) WithRepository(repository string) EntityID {
	id.repository = repository
	return id
}

// NumericID returns the number part of a numbered id such as "Q42".
// ok is false for ids whose local part is not <letter><digits>.
func (id EntityID) NumericID() (n int64, ok bool) {
	if len(id.localPart) < 2 {
		return 0, false
	}
	n, err := strconv.ParseInt(id.localPart[1:], 10, 32)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// EntityIDParser parses serialized entity ids.
type EntityIDParser interface {
	Parse(serialization string) (EntityID, error)
}

// BasicEntityIDParser parses "[repo:]<prefix><digits>" for the known entity types.
type BasicEntityIDParser struct{}

// Parse implements EntityIDParser.
func (BasicEntityIDParser) Parse(serialization string) (EntityID, error) {
	return ParseEntityID(serialization)
}

// ParseEntityID parses a serialized id such as "Q42", "P31" or "wd:Q42".
// Lower-case prefixes are normalised to upper case.
func ParseEntityID(serialization string) (EntityID, error) {
	s := strings.TrimSpace(serialization)
	repository := ""
	if i := strings.LastIndex(s, ":"); i >= 0 {
		repository, s = s[:i], s[i+1:]
		if repository == "" || strings.ContainsAny(repository, " \t") {
			return EntityID{}, fmt.Errorf("%w: %q", ErrInvalidEntityID, serialization)
		}
	}

	if len(s) < 2 {
		return EntityID{}, fmt.Errorf("%w: %q", ErrInvalidEntityID, serialization)
	}

	letter := strings.ToUpper(s[:1])
	entityType, ok := entityTypeByPrefix[letter]
	if !ok {
		return EntityID{}, fmt.Errorf("%w: unknown prefix in %q", ErrInvalidEntityID, serialization)
	}

	digits := s[1:]
	if digits[0] == '0' || strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return EntityID{}, fmt.Errorf("%w: %q", ErrInvalidEntityID, serialization)
	}
	if _, err := strconv.ParseInt(digits, 10, 32); err != nil {
		return EntityID{}, fmt.Errorf("%w: %q", ErrInvalidEntityID, serialization)
	}

	return EntityID{repository: repository, entityType: entityType, localPart: letter + digits}, nil
}

// ComposeEntityID builds the local id for a numeric id of the given type,
// e.g. ("property", 31) -> P31. It is the inverse of EntityID.NumericID.
func ComposeEntityID(entityType string, numericID int64) (EntityID, error) {
	prefix, ok := prefixByEntityType[entityType]
	if !ok {
		return EntityID{}, fmt.Errorf("%w: unknown entity type %q", ErrInvalidEntityID, entityType)
	}
	if numericID <= 0 {
		return EntityID{}, fmt.Errorf("%w: non-positive numeric id %d", ErrInvalidEntityID, numericID)
	}
	return EntityID{entityType: entityType, localPart: prefix + strconv.FormatInt(numericID, 10)}, nil
}

// SerializeEntityIDs returns the serializations of ids in order.
func SerializeEntityIDs(ids []EntityID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Serialization()
	}
	return out
}
