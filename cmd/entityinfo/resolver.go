package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/connections"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/engine"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/termcache"
	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

// resolver fans a batch out to the builders of all enabled sources. Each
// builder ignores the ids it does not serve, so results never overlap unless
// two sources claim the same entities, in which case the first one wins.
type resolver struct {
	sources []*engine.EntityInfoBuilder
	names   []string
}

func newResolver(manager *connections.Manager, cache termcache.Cache, ttl time.Duration, metrics *engine.Metrics) (*resolver, error) {
	r := &resolver{}
	for _, conn := range manager.EnabledConnections() {
		store, err := manager.GetStore(conn.Name)
		if err != nil {
			return nil, err
		}
		b, err := engine.NewEntityInfoBuilder(engine.Options{
			Source: engine.EntitySource{
				Name:        conn.Name,
				EntityTypes: conn.EntityTypes,
				Repository:  conn.Repository,
			},
			Pages:   store,
			Terms:   store,
			Cache:   cache,
			TTL:     ttl,
			Metrics: metrics,
		})
		if err != nil {
			return nil, err
		}
		r.sources = append(r.sources, b)
		r.names = append(r.names, conn.Name)
	}
	if len(r.sources) == 0 {
		return nil, fmt.Errorf("no enabled entity sources")
	}
	return r, nil
}

// collect resolves ids against every source. With trace set, one pass
// summary per source is returned as well.
func (r *resolver) collect(ctx context.Context, ids []types.EntityID, languages []string, trace bool) (*types.EntityInfo, map[string]*engine.PassSummary, error) {
	merged := map[string]*types.Record{}
	var summaries map[string]*engine.PassSummary
	if trace {
		summaries = make(map[string]*engine.PassSummary, len(r.sources))
	}

	for i, b := range r.sources {
		var (
			info    *types.EntityInfo
			summary *engine.PassSummary
			err     error
		)
		if trace {
			info, summary, err = b.CollectWithTrace(ctx, ids, languages)
		} else {
			info, err = b.CollectEntityInfo(ctx, ids, languages)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("source %s: %w", r.names[i], err)
		}

		for key, record := range info.AsMap() {
			if _, ok := merged[key]; !ok {
				merged[key] = record
			}
		}
		if trace {
			summaries[r.names[i]] = summary
		}
	}

	return types.NewEntityInfo(merged), summaries, nil
}
