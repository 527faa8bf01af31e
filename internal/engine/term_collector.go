package engine

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/termcache"
	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

// collectTerms fills labels and descriptions of every record for languages.
// Every record gets empty term lists first, even when no language is asked for.
func (b *EntityInfoBuilder) collectTerms(ctx context.Context, languages []string) error {
	for _, record := range b.entityInfo {
		for _, kind := range types.TermKinds() {
			record.EnsureTerms(kind)
		}
	}

	if len(languages) == 0 {
		return nil
	}

	for _, entityType := range b.trackedTypes() {
		if err := b.collectTermsForType(ctx, entityType, languages); err != nil {
			return err
		}
	}
	return nil
}

func (b *EntityInfoBuilder) collectTermsForType(ctx context.Context, entityType string, languages []string) error {
	group := b.idsByType[entityType]
	keys := make([]string, 0, len(group))
	for _, key := range group {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, kind := range types.TermKinds() {
		uncachedIDs, uncachedLanguages, err := b.getTermsFromCache(ctx, entityType, kind, keys, languages)
		if err != nil {
			return err
		}
		if len(uncachedLanguages) == 0 {
			continue
		}
		if err := b.loadTerms(ctx, entityType, kind, uncachedIDs, uncachedLanguages); err != nil {
			return err
		}
	}
	return nil
}

// getTermsFromCache injects every cached term of kind and returns the local
// ids and languages still to be loaded. A language counts as uncached as soon
// as one id misses it, so the load covers the full cross product.
func (b *EntityInfoBuilder) getTermsFromCache(ctx context.Context, entityType string, kind types.TermKind, keys, languages []string) (localIDs, uncachedLanguages []string, err error) {
	cacheKeys := make([]termcache.Key, 0, len(keys)*len(languages))
	for _, key := range keys {
		for _, lang := range languages {
			cacheKeys = append(cacheKeys, termcache.Key{EntityID: key, Language: lang, Kind: kind})
		}
	}

	cached, err := b.cache.GetMany(ctx, cacheKeys)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: term cache lookup for %s %ss: %w", entityType, kind, err)
	}

	missedIDs := map[string]bool{}
	missedLanguages := map[string]bool{}
	hits := 0
	for _, ck := range cacheKeys {
		if row, ok := cached[ck]; ok {
			hits++
			b.injectTerm(ck.EntityID, ck.Kind, ck.Language, row.Text)
			continue
		}
		missedIDs[b.entityIDs[ck.EntityID].LocalPart()] = true
		missedLanguages[ck.Language] = true
	}

	b.metrics.cacheProbe(hits, len(cacheKeys)-hits)
	emitToContext(ctx, EventCachePartitioned(entityType, string(kind), hits, len(cacheKeys)-hits))

	return sortedSet(missedIDs), sortedSet(missedLanguages), nil
}

// loadTerms loads terms of one kind from the store, injects them and writes
// them through to the cache.
func (b *EntityInfoBuilder) loadTerms(ctx context.Context, entityType string, kind types.TermKind, localIDs, languages []string) error {
	b.metrics.termSelect()
	rows, err := b.terms.LoadTerms(ctx, entityType, kind, localIDs, languages)
	if err != nil {
		return fmt.Errorf("engine: load %s %ss: %w", entityType, kind, err)
	}
	emitToContext(ctx, EventTermsLoaded(entityType, string(kind), len(rows)))

	entries := make([]termcache.Entry, 0, len(rows))
	for _, row := range rows {
		key, ok := b.keyForRow(ctx, entityType, row)
		if !ok {
			continue
		}
		if !b.injectTerm(key, row.Kind, row.Language, row.Text) {
			continue
		}

		row.EntityID = key
		entries = append(entries, termcache.Entry{Key: termcache.KeyFor(row), Row: row, TTL: b.ttl})
	}

	if len(entries) == 0 {
		return nil
	}
	if err := b.cache.SetMany(ctx, entries); err != nil {
		return fmt.Errorf("engine: term cache write for %s %ss: %w", entityType, kind, err)
	}
	return nil
}

// keyForRow maps a loaded row back to the key it was requested for.
func (b *EntityInfoBuilder) keyForRow(ctx context.Context, entityType string, row types.TermRow) (string, bool) {
	id, err := b.parser.Parse(row.EntityID)
	if err != nil {
		b.dropRow(ctx, row, fmt.Sprintf("unparsable entity id: %v", err))
		return "", false
	}
	if id.EntityType() != entityType {
		b.dropRow(ctx, row, fmt.Sprintf("entity type %s, want %s", id.EntityType(), entityType))
		return "", false
	}
	key, ok := b.idsByType[entityType][id.LocalPart()]
	if !ok {
		b.dropRow(ctx, row, "entity not tracked")
		return "", false
	}
	return key, true
}

func (b *EntityInfoBuilder) dropRow(ctx context.Context, row types.TermRow, reason string) {
	log.Printf("entityinfo: %s: dropping %s row %q/%s: %s", b.source.Name, row.Kind, row.EntityID, row.Language, reason)
	b.metrics.rowDropped()
	emitToContext(ctx, EventRowDropped(row.EntityID, reason))
}

// injectTerm sets the term of key's record. Unknown kinds are logged and
// ignored.
func (b *EntityInfoBuilder) injectTerm(key string, kind types.TermKind, language, text string) bool {
	record, ok := b.entityInfo[key]
	if !ok {
		return false
	}
	terms := record.EnsureTerms(kind)
	if terms == nil {
		log.Printf("entityinfo: %s: unknown term kind %q for %s", b.source.Name, kind, key)
		return false
	}
	terms[language] = types.Term{Language: language, Value: text}
	return true
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
