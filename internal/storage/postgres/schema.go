// Package postgres provides a PostgreSQL implementation of the storage interfaces.
//
// Unlike the SQLite backend, terms live in a single flat table keyed by the
// full entity id serialization, with the entity type stored alongside.
package postgres

// Schema creates the page, redirect and terms tables. All statements are
// idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS page (
    page_id BIGSERIAL PRIMARY KEY,
    page_namespace INTEGER NOT NULL,
    page_title TEXT NOT NULL,
    UNIQUE (page_namespace, page_title)
);

CREATE TABLE IF NOT EXISTS redirect (
    rd_from BIGINT PRIMARY KEY REFERENCES page(page_id) ON DELETE CASCADE,
    rd_title TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS terms (
    term_full_entity_id TEXT NOT NULL,
    term_entity_type TEXT NOT NULL,
    term_type TEXT NOT NULL,
    term_language TEXT NOT NULL,
    term_text TEXT NOT NULL,
    PRIMARY KEY (term_full_entity_id, term_type, term_language)
);

CREATE INDEX IF NOT EXISTS idx_terms_entity_type ON terms(term_entity_type, term_type, term_language);
`
