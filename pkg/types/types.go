// Package types defines the core data structures of the entity metadata
// resolver: entity ids, term rows, page info and the collected entity info
// records handed to rendering, search indexing and API layers.
package types

// Entity type constants. The set is closed: backends and the parser only
// understand these types.
const (
	EntityTypeItem     = "item"
	EntityTypeProperty = "property"
	EntityTypeLexeme   = "lexeme"
)

// ValidEntityTypes lists all known entity types.
var ValidEntityTypes = []string{
	EntityTypeItem,
	EntityTypeProperty,
	EntityTypeLexeme,
}

var prefixByEntityType = map[string]string{
	EntityTypeItem:     "Q",
	EntityTypeProperty: "P",
	EntityTypeLexeme:   "L",
}

var entityTypeByPrefix = map[string]string{
	"Q": EntityTypeItem,
	"P": EntityTypeProperty,
	"L": EntityTypeLexeme,
}

// IsValidEntityType reports whether entityType is one of ValidEntityTypes.
func IsValidEntityType(entityType string) bool {
	_, ok := prefixByEntityType[entityType]
	return ok
}

// PageInfo describes the page backing an entity. A provider only returns
// PageInfo for pages that exist; absence means the entity is missing.
type PageInfo struct {
	// PageID is the numeric page id in the backing store.
	PageID int64

	// RedirectTarget is set when the page is a redirect to another entity.
	RedirectTarget *EntityID
}

// IsRedirect reports whether the page redirects to another entity.
func (p PageInfo) IsRedirect() bool {
	return p.RedirectTarget != nil
}
