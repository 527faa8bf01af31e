// Package storage defines the collaborator interfaces the entity info resolver
// uses to reach the page and term stores.
//
// The interfaces are small and focused so that backends with different
// physical layouts (per-type term tables, a single flat term table) can
// implement them independently and be decorated (rate limiting, circuit
// breaking) without the resolver noticing.
package storage

import (
	"context"

	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

// PageInfoProvider looks up the pages backing entities.
type PageInfoProvider interface {
	// GetPageInfo returns page info for the given local ids of one entity type,
	// keyed by local id. Only ids with an existing page are present in the
	// result; a missing key means the entity does not exist.
	GetPageInfo(ctx context.Context, entityType string, localIDs []string) (map[string]types.PageInfo, error)
}

// TermBatchLoader loads terms in batches.
type TermBatchLoader interface {
	// LoadTerms returns all terms of the given kind for the cross product of
	// localIDs and languages, scoped to one entity type. Rows carry the local
	// serialization of the entity id. Entities without terms produce no rows.
	LoadTerms(ctx context.Context, entityType string, kind types.TermKind, localIDs []string, languages []string) ([]types.TermRow, error)
}

// EntityStore is a backend that serves both page info and terms.
type EntityStore interface {
	PageInfoProvider
	TermBatchLoader

	// Close releases any resources held by the store.
	Close() error
}
