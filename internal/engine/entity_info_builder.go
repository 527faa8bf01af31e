// Package engine implements the entity info resolver: it turns a batch of
// entity ids into labels, descriptions and default fields, following one hop of
// redirects and looking terms up in a shared cache before the term store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/storage"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/termcache"
	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

// ErrMissingCollaborator is returned by NewEntityInfoBuilder when a required
// collaborator is not configured.
var ErrMissingCollaborator = errors.New("engine: missing collaborator")

// EntitySource describes the entities one builder serves. Ids of other types
// or other repositories are foreign and silently ignored.
type EntitySource struct {
	// Name identifies the source in logs.
	Name string

	// EntityTypes lists the served entity types. Empty means all known types.
	EntityTypes []string

	// Repository is the id prefix of the served entities; empty for local ones.
	Repository string
}

// Options configures an EntityInfoBuilder.
type Options struct {
	Source EntitySource

	// Pages and Terms are usually the same storage.EntityStore.
	Pages storage.PageInfoProvider
	Terms storage.TermBatchLoader

	// Cache is the shared term cache.
	Cache termcache.Cache

	// Parser parses entity ids of loaded term rows.
	// Default: types.BasicEntityIDParser
	Parser types.EntityIDParser

	// TTL is the lifetime of terms written to the cache.
	// Default: termcache.DefaultTTL
	TTL time.Duration

	// Metrics is optional.
	Metrics *Metrics
}

// EntityInfoBuilder collects entity info for batches of entity ids.
//
// Each CollectEntityInfo call starts from a clean state, so an instance may be
// reused for any number of batches. Calls on one instance are serialised.
type EntityInfoBuilder struct {
	mu sync.Mutex

	source  EntitySource
	served  map[string]bool
	pages   storage.PageInfoProvider
	terms   storage.TermBatchLoader
	cache   termcache.Cache
	parser  types.EntityIDParser
	ttl     time.Duration
	metrics *Metrics

	// entityIDs maps each key whose terms are collected to its id. Redirect
	// sources leave it when aliased, their targets join it.
	entityIDs map[string]types.EntityID

	// idsByType groups entityIDs by entity type, local part to key.
	idsByType map[string]map[string]string

	// entityInfo is the working map. Aliased keys share one *types.Record.
	entityInfo map[string]*types.Record

	// seen holds the id of every key that entered entityInfo in this pass.
	seen map[string]types.EntityID

	pageInfoByType map[string]map[string]types.PageInfo
	pagesChecked   map[string]map[string]bool

	redirects         map[string]types.EntityID
	aliases           map[string]types.EntityID
	redirectsResolved bool
}

// NewEntityInfoBuilder creates a builder from opts.
func NewEntityInfoBuilder(opts Options) (*EntityInfoBuilder, error) {
	switch {
	case opts.Pages == nil:
		return nil, fmt.Errorf("%w: page info provider", ErrMissingCollaborator)
	case opts.Terms == nil:
		return nil, fmt.Errorf("%w: term loader", ErrMissingCollaborator)
	case opts.Cache == nil:
		return nil, fmt.Errorf("%w: term cache", ErrMissingCollaborator)
	}

	entityTypes := opts.Source.EntityTypes
	if len(entityTypes) == 0 {
		entityTypes = types.ValidEntityTypes
	}
	served := make(map[string]bool, len(entityTypes))
	for _, t := range entityTypes {
		if !types.IsValidEntityType(t) {
			return nil, fmt.Errorf("engine: source %q: %w: %q", opts.Source.Name, storage.ErrUnsupportedEntityType, t)
		}
		served[t] = true
	}

	if opts.Parser == nil {
		opts.Parser = types.BasicEntityIDParser{}
	}
	if opts.TTL <= 0 {
		opts.TTL = termcache.DefaultTTL
	}

	b := &EntityInfoBuilder{
		source:  opts.Source,
		served:  served,
		pages:   opts.Pages,
		terms:   opts.Terms,
		cache:   opts.Cache,
		parser:  opts.Parser,
		ttl:     opts.TTL,
		metrics: opts.Metrics,
	}
	b.reset()
	return b, nil
}

// Reset drops all state of the previous pass.
func (b *EntityInfoBuilder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *EntityInfoBuilder) reset() {
	b.entityIDs = map[string]types.EntityID{}
	b.idsByType = map[string]map[string]string{}
	b.entityInfo = map[string]*types.Record{}
	b.seen = map[string]types.EntityID{}
	b.pageInfoByType = map[string]map[string]types.PageInfo{}
	b.pagesChecked = map[string]map[string]bool{}
	b.redirects = nil
	b.aliases = map[string]types.EntityID{}
	b.redirectsResolved = false
}

// CollectEntityInfo returns the info of every id in ids that is served by this
// builder and backed by an existing page. Redirected ids map to their target's
// record. Labels and descriptions are collected for languages and are present,
// possibly empty, on every record.
//
// Store and cache failures abort the pass; no partial result is returned.
func (b *EntityInfoBuilder) CollectEntityInfo(ctx context.Context, ids []types.EntityID, languages []string) (*types.EntityInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reset()
	defer b.reset()

	emitToContext(ctx, EventPassStarted(types.SerializeEntityIDs(ids), languages))

	filtered := b.filterIrrelevantEntityIDs(ids)
	emitToContext(ctx, EventIDsFiltered(len(filtered)))
	if len(filtered) == 0 {
		emitToContext(ctx, EventResultsReturned(nil))
		return types.NewEntityInfo(nil), nil
	}
	b.metrics.pass(len(filtered))

	b.setEntityIDs(filtered)

	if err := b.resolveRedirects(ctx); err != nil {
		return nil, err
	}
	if err := b.collectTerms(ctx, storage.Dedupe(languages)); err != nil {
		return nil, err
	}
	if err := b.removeMissing(ctx); err != nil {
		return nil, err
	}
	b.retainEntityInfo(filtered)

	info := types.NewEntityInfo(b.entityInfo)
	emitToContext(ctx, EventResultsReturned(info.IDs()))
	return info, nil
}

// filterIrrelevantEntityIDs keeps the ids of served types and repository, in
// input order and without duplicates.
func (b *EntityInfoBuilder) filterIrrelevantEntityIDs(ids []types.EntityID) []types.EntityID {
	seen := make(map[string]bool, len(ids))
	out := make([]types.EntityID, 0, len(ids))
	for _, id := range ids {
		if id.IsZero() || !b.served[id.EntityType()] || id.Repository() != b.source.Repository {
			continue
		}
		key := id.Serialization()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, id)
	}
	return out
}

func (b *EntityInfoBuilder) setEntityIDs(ids []types.EntityID) {
	for _, id := range ids {
		b.register(id)
		b.entityInfo[id.Serialization()] = types.NewRecord(id)
	}
}

// register makes id a key whose terms are collected.
func (b *EntityInfoBuilder) register(id types.EntityID) {
	key := id.Serialization()
	b.entityIDs[key] = id
	b.seen[key] = id

	group, ok := b.idsByType[id.EntityType()]
	if !ok {
		group = map[string]string{}
		b.idsByType[id.EntityType()] = group
	}
	group[id.LocalPart()] = key
}

func (b *EntityInfoBuilder) unregister(key string) {
	id, ok := b.entityIDs[key]
	if !ok {
		return
	}
	delete(b.entityIDs, key)

	group := b.idsByType[id.EntityType()]
	delete(group, id.LocalPart())
	if len(group) == 0 {
		delete(b.idsByType, id.EntityType())
	}
}

// trackedTypes returns the entity types with registered ids, sorted.
func (b *EntityInfoBuilder) trackedTypes() []string {
	out := make([]string, 0, len(b.idsByType))
	for t := range b.idsByType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// resolveRedirects aliases every redirected id to its target's record. It runs
// at most once per pass.
func (b *EntityInfoBuilder) resolveRedirects(ctx context.Context) error {
	if b.redirectsResolved {
		return nil
	}

	redirects, err := b.findRedirects(ctx)
	if err != nil {
		return err
	}
	b.redirects = redirects
	b.redirectsResolved = true

	keys := make([]string, 0, len(redirects))
	for key := range redirects {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		b.applyRedirect(ctx, key, redirects[key])
	}
	return nil
}

// findRedirects returns the redirect target of every registered id that is a
// redirect, keyed by the id's serialization.
func (b *EntityInfoBuilder) findRedirects(ctx context.Context) (map[string]types.EntityID, error) {
	redirects := map[string]types.EntityID{}

	for _, entityType := range b.trackedTypes() {
		pageInfo, err := b.getPageInfoForType(ctx, entityType)
		if err != nil {
			return nil, err
		}

		group := b.idsByType[entityType]
		for local, info := range pageInfo {
			key, ok := group[local]
			if !ok || !info.IsRedirect() {
				continue
			}

			target := *info.RedirectTarget
			if target.Repository() == "" {
				target = target.WithRepository(b.entityIDs[key].Repository())
			}
			if !b.served[target.EntityType()] || target.Repository() != b.source.Repository {
				log.Printf("entityinfo: %s: ignoring redirect %s -> %s to a foreign entity", b.source.Name, key, target)
				continue
			}
			redirects[key] = target
		}
	}

	return redirects, nil
}

// applyRedirect makes key an alias of target's record. The target's record is
// created from key's record unless the target already has one.
func (b *EntityInfoBuilder) applyRedirect(ctx context.Context, key string, target types.EntityID) {
	targetKey := target.Serialization()
	if key == targetKey {
		return
	}

	if _, ok := b.entityInfo[targetKey]; !ok {
		record := b.entityInfo[key].Clone()
		record.SetID(target)
		b.entityInfo[targetKey] = record
	}

	b.unregister(key)
	b.entityInfo[key] = b.entityInfo[targetKey]
	b.aliases[key] = target
	b.register(target)

	b.metrics.redirectApplied()
	emitToContext(ctx, EventRedirectApplied(key, targetKey))
}

// getPageInfoForType returns the page info of the registered ids of one type.
func (b *EntityInfoBuilder) getPageInfoForType(ctx context.Context, entityType string) (map[string]types.PageInfo, error) {
	group := b.idsByType[entityType]
	locals := make([]string, 0, len(group))
	for local := range group {
		locals = append(locals, local)
	}
	return b.getPageInfo(ctx, entityType, locals)
}

// getPageInfo returns the page info known for entityType after looking up
// those of localIDs that were not checked earlier in this pass.
func (b *EntityInfoBuilder) getPageInfo(ctx context.Context, entityType string, localIDs []string) (map[string]types.PageInfo, error) {
	checked, ok := b.pagesChecked[entityType]
	if !ok {
		checked = map[string]bool{}
		b.pagesChecked[entityType] = checked
	}
	known, ok := b.pageInfoByType[entityType]
	if !ok {
		known = map[string]types.PageInfo{}
		b.pageInfoByType[entityType] = known
	}

	var pending []string
	for _, local := range storage.Dedupe(localIDs) {
		if !checked[local] {
			pending = append(pending, local)
		}
	}
	if len(pending) == 0 {
		return known, nil
	}
	sort.Strings(pending)

	b.metrics.pageLookup()
	fetched, err := b.pages.GetPageInfo(ctx, entityType, pending)
	if err != nil {
		return nil, fmt.Errorf("engine: page info for %s: %w", entityType, err)
	}

	for _, local := range pending {
		checked[local] = true
	}
	for local, info := range fetched {
		known[local] = info
	}
	return known, nil
}

func (b *EntityInfoBuilder) pageExists(id types.EntityID) bool {
	_, ok := b.pageInfoByType[id.EntityType()][id.LocalPart()]
	return ok
}

// removeMissing drops every key without a page, and every alias whose target
// has no page.
func (b *EntityInfoBuilder) removeMissing(ctx context.Context) error {
	localsByType := map[string][]string{}
	for key := range b.entityInfo {
		id := b.seen[key]
		localsByType[id.EntityType()] = append(localsByType[id.EntityType()], id.LocalPart())
	}

	entityTypes := make([]string, 0, len(localsByType))
	for t := range localsByType {
		entityTypes = append(entityTypes, t)
	}
	sort.Strings(entityTypes)

	for _, entityType := range entityTypes {
		if _, err := b.getPageInfo(ctx, entityType, localsByType[entityType]); err != nil {
			return err
		}
	}

	var missing []string
	for key := range b.entityInfo {
		if !b.pageExists(b.seen[key]) {
			missing = append(missing, key)
			continue
		}
		if target, ok := b.aliases[key]; ok && !b.pageExists(target) {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)

	for _, key := range missing {
		b.unregister(key)
		delete(b.entityInfo, key)
		emitToContext(ctx, EventMissingRemoved(key))
	}
	b.metrics.missingRemoved(len(missing))
	return nil
}

// retainEntityInfo removes every key that is not one of ids.
func (b *EntityInfoBuilder) retainEntityInfo(ids []types.EntityID) {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id.Serialization()] = true
	}

	for key := range b.entityInfo {
		if !keep[key] {
			b.unregister(key)
			delete(b.entityInfo, key)
		}
	}
}
