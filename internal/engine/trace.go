package engine

import (
	"context"
	"time"
)

// TraceEventKind classifies each trace event by type.
type TraceEventKind string

const (
	// KindPassStarted is emitted at the beginning of a resolver pass.
	KindPassStarted TraceEventKind = "pass_started"

	// KindIDsFiltered is emitted once the ids served by this source are known.
	KindIDsFiltered TraceEventKind = "ids_filtered"

	// KindRedirectApplied is emitted once per id aliased to its redirect target.
	KindRedirectApplied TraceEventKind = "redirect_applied"

	// KindCachePartitioned is emitted per entity type and term kind after the
	// term cache was probed.
	KindCachePartitioned TraceEventKind = "cache_partitioned"

	// KindTermsLoaded is emitted after each term loader round trip.
	KindTermsLoaded TraceEventKind = "terms_loaded"

	// KindRowDropped is emitted for every term row that could not be injected.
	KindRowDropped TraceEventKind = "row_dropped"

	// KindMissingRemoved is emitted for every id removed for lack of a page.
	KindMissingRemoved TraceEventKind = "missing_removed"

	// KindResultsReturned is emitted at the end of the pass with the final key set.
	KindResultsReturned TraceEventKind = "results_returned"
)

// TraceEvent is a single structured event emitted during a resolver pass.
type TraceEvent struct {
	// Kind identifies the event type.
	Kind TraceEventKind `json:"kind"`

	// At is the wall-clock time the event was recorded.
	At time.Time `json:"at"`

	// EntityID is populated for per-entity events.
	EntityID string `json:"entity_id,omitempty"`

	// Target is the redirect target for redirect_applied events.
	Target string `json:"target,omitempty"`

	// EntityType scopes cache_partitioned and terms_loaded events.
	EntityType string `json:"entity_type,omitempty"`

	// TermKind scopes cache_partitioned and terms_loaded events.
	TermKind string `json:"term_kind,omitempty"`

	// Count is used by ids_filtered, terms_loaded and results_returned.
	Count int `json:"count,omitempty"`

	// Hits and Misses are populated for cache_partitioned events.
	Hits   int `json:"hits,omitempty"`
	Misses int `json:"misses,omitempty"`

	// Reason explains row_dropped events.
	Reason string `json:"reason,omitempty"`

	// Languages holds the requested languages for pass_started events.
	Languages []string `json:"languages,omitempty"`

	// EntityIDs lists the requested ids for pass_started and the returned ids
	// for results_returned.
	EntityIDs []string `json:"entity_ids,omitempty"`
}

func newTraceEvent(kind TraceEventKind) TraceEvent {
	return TraceEvent{Kind: kind, At: time.Now()}
}

// EventPassStarted creates a pass_started trace event.
func EventPassStarted(ids, languages []string) TraceEvent {
	e := newTraceEvent(KindPassStarted)
	e.EntityIDs = ids
	e.Languages = languages
	e.Count = len(ids)
	return e
}

// EventIDsFiltered creates an ids_filtered trace event.
func EventIDsFiltered(kept int) TraceEvent {
	e := newTraceEvent(KindIDsFiltered)
	e.Count = kept
	return e
}

// EventRedirectApplied creates a redirect_applied trace event.
func EventRedirectApplied(entityID, target string) TraceEvent {
	e := newTraceEvent(KindRedirectApplied)
	e.EntityID = entityID
	e.Target = target
	return e
}

// EventCachePartitioned creates a cache_partitioned trace event.
func EventCachePartitioned(entityType, termKind string, hits, misses int) TraceEvent {
	e := newTraceEvent(KindCachePartitioned)
	e.EntityType = entityType
	e.TermKind = termKind
	e.Hits = hits
	e.Misses = misses
	return e
}

// EventTermsLoaded creates a terms_loaded trace event.
func EventTermsLoaded(entityType, termKind string, rows int) TraceEvent {
	e := newTraceEvent(KindTermsLoaded)
	e.EntityType = entityType
	e.TermKind = termKind
	e.Count = rows
	return e
}

// EventRowDropped creates a row_dropped trace event.
func EventRowDropped(entityID, reason string) TraceEvent {
	e := newTraceEvent(KindRowDropped)
	e.EntityID = entityID
	e.Reason = reason
	return e
}

// EventMissingRemoved creates a missing_removed trace event.
func EventMissingRemoved(entityID string) TraceEvent {
	e := newTraceEvent(KindMissingRemoved)
	e.EntityID = entityID
	return e
}

// EventResultsReturned creates a results_returned trace event.
func EventResultsReturned(ids []string) TraceEvent {
	e := newTraceEvent(KindResultsReturned)
	e.EntityIDs = ids
	e.Count = len(ids)
	return e
}

// contextKey is an unexported type for context keys owned by this package.
type contextKey string

const traceKey contextKey = "entity_info_trace"

// TraceCollector accumulates TraceEvents for a single resolver pass.
type TraceCollector struct {
	events    []TraceEvent
	startedAt time.Time
}

// NewTraceCollector returns a fresh collector.
func NewTraceCollector() *TraceCollector {
	return &TraceCollector{startedAt: time.Now()}
}

// Emit appends an event to the collector.
func (tc *TraceCollector) Emit(e TraceEvent) {
	tc.events = append(tc.events, e)
}

// Events returns the collected events in emission order.
func (tc *TraceCollector) Events() []TraceEvent {
	return tc.events
}

// ElapsedMS returns the elapsed time since the collector was created, in milliseconds.
func (tc *TraceCollector) ElapsedMS() int64 {
	return time.Since(tc.startedAt).Milliseconds()
}

// WithTraceCollector stores a collector in the context.
func WithTraceCollector(ctx context.Context, tc *TraceCollector) context.Context {
	return context.WithValue(ctx, traceKey, tc)
}

// TraceCollectorFromContext retrieves the collector from the context.
// Returns (nil, false) if none is present.
func TraceCollectorFromContext(ctx context.Context) (*TraceCollector, bool) {
	tc, ok := ctx.Value(traceKey).(*TraceCollector)
	return tc, ok
}

// emitToContext emits an event only when a collector is present in the context.
func emitToContext(ctx context.Context, e TraceEvent) {
	if tc, ok := TraceCollectorFromContext(ctx); ok {
		tc.Emit(e)
	}
}
