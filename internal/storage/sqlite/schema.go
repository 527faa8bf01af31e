// Package sqlite provides a SQLite implementation of the storage interfaces.
//
// The layout keeps terms in one table per entity type, keyed by the numeric
// part of the entity id (item_terms.item_id = 42 for Q42). Pages and
// redirects follow the usual page/redirect split.
package sqlite

// Schema creates the page, redirect and per-type term tables.
const Schema = `
CREATE TABLE IF NOT EXISTS page (
    page_id INTEGER PRIMARY KEY AUTOINCREMENT,
    page_namespace INTEGER NOT NULL,
    page_title TEXT NOT NULL,
    UNIQUE (page_namespace, page_title)
);

CREATE TABLE IF NOT EXISTS redirect (
    rd_from INTEGER PRIMARY KEY REFERENCES page(page_id) ON DELETE CASCADE,
    rd_title TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS item_terms (
    item_id INTEGER NOT NULL,
    term_type TEXT NOT NULL,
    language TEXT NOT NULL,
    text TEXT NOT NULL,
    PRIMARY KEY (item_id, term_type, language)
);

CREATE TABLE IF NOT EXISTS property_terms (
    property_id INTEGER NOT NULL,
    term_type TEXT NOT NULL,
    language TEXT NOT NULL,
    text TEXT NOT NULL,
    PRIMARY KEY (property_id, term_type, language)
);

CREATE TABLE IF NOT EXISTS lexeme_terms (
    lexeme_id INTEGER NOT NULL,
    term_type TEXT NOT NULL,
    language TEXT NOT NULL,
    text TEXT NOT NULL,
    PRIMARY KEY (lexeme_id, term_type, language)
);

CREATE INDEX IF NOT EXISTS idx_item_terms_language ON item_terms(language, term_type);
CREATE INDEX IF NOT EXISTS idx_property_terms_language ON property_terms(language, term_type);
CREATE INDEX IF NOT EXISTS idx_lexeme_terms_language ON lexeme_terms(language, term_type);
`

// termTable names the table and id column holding the terms of one entity type.
type termTable struct {
	name     string
	idColumn string
}

// termTables is the closed set of entity types with term storage.
var termTables = map[string]termTable{
	"item":     {name: "item_terms", idColumn: "item_id"},
	"property": {name: "property_terms", idColumn: "property_id"},
	"lexeme":   {name: "lexeme_terms", idColumn: "lexeme_id"},
}
