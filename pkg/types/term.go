package types

// TermKind is the kind of a term, e.g. a label or a description.
type TermKind string

const (
	// TermLabel is the display name of an entity in one language.
	TermLabel TermKind = "label"

	// TermDescription is the short disambiguating description in one language.
	TermDescription TermKind = "description"
)

// termKindFields maps term kinds to the record field holding their list.
var termKindFields = map[TermKind]string{
	TermLabel:       "labels",
	TermDescription: "descriptions",
}

// TermKinds returns the supported term kinds in a fixed order.
func TermKinds() []TermKind {
	return []TermKind{TermLabel, TermDescription}
}

// Valid reports whether k is a supported term kind.
func (k TermKind) Valid() bool {
	_, ok := termKindFields[k]
	return ok
}

// Field returns the record field name for the kind ("labels", "descriptions"),
// or "" for unknown kinds.
func (k TermKind) Field() string {
	return termKindFields[k]
}

// TermRow is a raw term as read from a term store and kept in the term cache.
type TermRow struct {
	EntityID string   `json:"term_full_entity_id"`
	Kind     TermKind `json:"term_type"`
	Language string   `json:"term_language"`
	Text     string   `json:"term_text"`
}

// Term is a language-tagged string value.
type Term struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

// TermList maps language codes to terms.
type TermList map[string]Term
