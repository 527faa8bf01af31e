package engine

import (
	"context"

	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

// PassSummary is the structured view of one traced resolver pass.
type PassSummary struct {
	// Requested lists the ids the caller asked for, and Languages the
	// requested languages.
	Requested []string `json:"requested"`
	Languages []string `json:"languages"`

	// Served is the number of ids left after dropping foreign entity types.
	Served int `json:"served"`

	// Redirects maps each aliased id to its target.
	Redirects map[string]string `json:"redirects"`

	// CacheHits and CacheMisses count probed (id, language, kind) tuples.
	CacheHits   int `json:"cache_hits"`
	CacheMisses int `json:"cache_misses"`

	// LoaderCalls is the number of term loader round trips, RowsLoaded the
	// rows they returned.
	LoaderCalls int `json:"loader_calls"`
	RowsLoaded  int `json:"rows_loaded"`

	// Dropped contains every term row that could not be injected and why.
	Dropped []DroppedRow `json:"dropped"`

	// Missing lists ids removed because no page backs them.
	Missing []string `json:"missing"`

	// Returned lists the keys of the final result.
	Returned []string `json:"returned"`

	// TimingMS is the total pass duration in milliseconds.
	TimingMS int64 `json:"timing_ms"`
}

// DroppedRow represents a term row that was discarded.
type DroppedRow struct {
	EntityID string `json:"entity_id"`
	Reason   string `json:"reason"`
}

// BuildPassSummary converts collected trace events into a PassSummary.
func BuildPassSummary(events []TraceEvent, elapsedMS int64) *PassSummary {
	s := &PassSummary{
		Redirects: make(map[string]string),
		TimingMS:  elapsedMS,
	}

	for _, e := range events {
		switch e.Kind {
		case KindPassStarted:
			s.Requested = e.EntityIDs
			s.Languages = e.Languages
		case KindIDsFiltered:
			s.Served = e.Count
		case KindRedirectApplied:
			s.Redirects[e.EntityID] = e.Target
		case KindCachePartitioned:
			s.CacheHits += e.Hits
			s.CacheMisses += e.Misses
		case KindTermsLoaded:
			s.LoaderCalls++
			s.RowsLoaded += e.Count
		case KindRowDropped:
			s.Dropped = append(s.Dropped, DroppedRow{EntityID: e.EntityID, Reason: e.Reason})
		case KindMissingRemoved:
			s.Missing = append(s.Missing, e.EntityID)
		case KindResultsReturned:
			s.Returned = e.EntityIDs
		}
	}

	// Guarantee non-nil slices for clean JSON output.
	if s.Requested == nil {
		s.Requested = []string{}
	}
	if s.Languages == nil {
		s.Languages = []string{}
	}
	if s.Dropped == nil {
		s.Dropped = []DroppedRow{}
	}
	if s.Missing == nil {
		s.Missing = []string{}
	}
	if s.Returned == nil {
		s.Returned = []string{}
	}

	return s
}

// CollectWithTrace runs a fully traced pass and returns both the collected
// info and the pass summary.
func (b *EntityInfoBuilder) CollectWithTrace(ctx context.Context, ids []types.EntityID, languages []string) (*types.EntityInfo, *PassSummary, error) {
	tc := NewTraceCollector()
	ctx = WithTraceCollector(ctx, tc)

	info, err := b.CollectEntityInfo(ctx, ids, languages)
	if err != nil {
		return nil, nil, err
	}

	return info, BuildPassSummary(tc.Events(), tc.ElapsedMS()), nil
}
