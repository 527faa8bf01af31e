package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/connections"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/engine"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/notify"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/storage/guard"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/storage/sqlite"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/termcache"
	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

const importFixture = `{"id": "Q1", "labels": {"en": "Cat", "de": "Katze"}, "descriptions": {"en": "small feline"}}

{"id": "P31", "labels": {"en": "instance of"}}
{"id": "Q3", "redirect": "Q1"}
`

type decodedResult struct {
	RequestID string `json:"request_id"`
	Entities  map[string]struct {
		ID           string                `json:"id"`
		Type         string                `json:"type"`
		Labels       map[string]types.Term `json:"labels"`
		Descriptions map[string]types.Term `json:"descriptions"`
	} `json:"entities"`
	Trace map[string]engine.PassSummary `json:"trace"`
}

func newImportedResolver(t *testing.T) *resolver {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.NewTermStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	w, err := writerFor(guard.NewStore("test", store, guard.Config{}))
	require.NoError(t, err)
	n, err := runImport(ctx, w, strings.NewReader(importFixture), nil, "")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	manager := connections.NewManagerWithStore(store, connections.Connection{
		Name:        "local",
		EntityTypes: []string{types.EntityTypeItem, types.EntityTypeProperty},
	})
	cache, err := termcache.NewLRU(100)
	require.NoError(t, err)

	r, err := newResolver(manager, cache, time.Minute, engine.NewMetrics())
	require.NoError(t, err)
	return r
}

func TestParseBatch(t *testing.T) {
	ids := parseBatch("Q1, P31\tbogus  wd:Q2,,")
	assert.Equal(t, []string{"Q1", "P31", "wd:Q2"}, types.SerializeEntityIDs(ids))
	assert.Empty(t, parseBatch("   "))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"en", "de"}, splitList(" en, ,de "))
	assert.Nil(t, splitList(""))
}

func TestRunResolvesArgs(t *testing.T) {
	r := newImportedResolver(t)

	var out bytes.Buffer
	err := run(context.Background(), r, []string{"Q1", "Q3,Q9", "P31"}, nil, &out, []string{"en"}, true, 5*time.Second)
	require.NoError(t, err)

	var got decodedResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Len(t, got.RequestID, 8)

	require.Contains(t, got.Entities, "Q1")
	assert.Equal(t, "item", got.Entities["Q1"].Type)
	assert.Equal(t, "Cat", got.Entities["Q1"].Labels["en"].Value)
	assert.Equal(t, "small feline", got.Entities["Q1"].Descriptions["en"].Value)
	assert.NotContains(t, got.Entities["Q1"].Labels, "de")

	require.Contains(t, got.Entities, "Q3")
	assert.Equal(t, "Q1", got.Entities["Q3"].ID)
	assert.Equal(t, "Cat", got.Entities["Q3"].Labels["en"].Value)

	assert.Equal(t, "instance of", got.Entities["P31"].Labels["en"].Value)
	assert.Empty(t, got.Entities["P31"].Descriptions)
	assert.NotContains(t, got.Entities, "Q9")

	require.Contains(t, got.Trace, "local")
	summary := got.Trace["local"]
	assert.Equal(t, "Q1", summary.Redirects["Q3"])
	assert.Contains(t, summary.Missing, "Q9")
}

func TestRunReadsBatchesFromInput(t *testing.T) {
	r := newImportedResolver(t)

	in := strings.NewReader("Q1\n\nP31 Q3\n")
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), r, nil, in, &out, []string{"de"}, false, 5*time.Second))

	dec := json.NewDecoder(&out)
	var first, second decodedResult
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.False(t, dec.More())

	assert.Equal(t, "Katze", first.Entities["Q1"].Labels["de"].Value)
	assert.Nil(t, first.Trace)
	assert.Len(t, second.Entities, 2)
	assert.NotEqual(t, first.RequestID, second.RequestID)
}

func TestRunImportAnnouncesChanges(t *testing.T) {
	store, err := sqlite.NewTermStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dir := t.TempDir()
	n, err := runImport(context.Background(), store, strings.NewReader(importFixture), notify.NewEventWriter(dir), "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	files, err := filepath.Glob(filepath.Join(dir, "events", "*.event"))
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestRunImportRejectsBadLines(t *testing.T) {
	store, err := sqlite.NewTermStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tests := []struct {
		name  string
		input string
	}{
		{name: "malformed json", input: "{\"id\": \"Q1\"\n"},
		{name: "invalid id", input: `{"id": "X1"}`},
		{name: "invalid redirect target", input: `{"id": "Q1", "redirect": "nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runImport(context.Background(), store, strings.NewReader(tt.input), nil, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "line 1")
		})
	}
}

func TestHandleImportUnknownSource(t *testing.T) {
	store, err := sqlite.NewTermStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	manager := connections.NewManagerWithStore(store, connections.Connection{Name: "local"})
	path := filepath.Join(t.TempDir(), "import.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(importFixture), 0o600))

	err = handleImport(context.Background(), nil, manager, path, "other")
	require.Error(t, err)
}

func TestHandleSnapshot(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.NewTermStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = runImport(ctx, store, strings.NewReader(importFixture), nil, "")
	require.NoError(t, err)

	manager := connections.NewManagerWithStore(guard.NewStore("local", store, guard.Config{}), connections.Connection{Name: "local"})
	dest := filepath.Join(t.TempDir(), "snapshot.db")
	require.NoError(t, handleSnapshot(ctx, manager, dest, ""))
	assert.NoError(t, sqlite.VerifySnapshot(ctx, dest))
}

func seedTerm(t *testing.T, cache *termcache.LRU, key string) {
	t.Helper()
	r := types.TermRow{EntityID: key, Kind: types.TermLabel, Language: "en", Text: "old"}
	require.NoError(t, cache.SetMany(context.Background(), []termcache.Entry{{Key: termcache.KeyFor(r), Row: r, TTL: time.Hour}}))
}

// drainEvents delivers every pending event file in dir to the cache.
func drainEvents(t *testing.T, dir string, cache *termcache.LRU) {
	t.Helper()
	watcher := notify.NewEventWatcher(dir, notify.InvalidateCache(cache))
	require.NoError(t, watcher.Start())
	watcher.Stop()
}

func TestRunImportInvalidatesCachedTerms(t *testing.T) {
	tests := []struct {
		name       string
		repository string
		cachedKey  string
	}{
		{name: "lower-case id", cachedKey: "Q1"},
		{name: "source with repository", repository: "wd", cachedKey: "wd:Q1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := sqlite.NewTermStore(":memory:", nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			cache, err := termcache.NewLRU(10)
			require.NoError(t, err)
			seedTerm(t, cache, tt.cachedKey)

			dir := t.TempDir()
			_, err = runImport(context.Background(), store, strings.NewReader(`{"id": "q1", "labels": {"en": "Cat"}}`), notify.NewEventWriter(dir), tt.repository)
			require.NoError(t, err)

			drainEvents(t, dir, cache)
			assert.Equal(t, 0, cache.Len())
		})
	}
}

func TestHandleInvalidateAnnouncesCacheKey(t *testing.T) {
	store, err := sqlite.NewTermStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	manager := connections.NewManagerWithStore(store, connections.Connection{Name: "wikidata", Repository: "wd"})
	cache, err := termcache.NewLRU(10)
	require.NoError(t, err)
	seedTerm(t, cache, "wd:Q1")
	seedTerm(t, cache, "Q1")

	dir := t.TempDir()
	key, err := handleInvalidate(manager, notify.NewEventWriter(dir), "q1", "")
	require.NoError(t, err)
	assert.Equal(t, "wd:Q1", key)

	drainEvents(t, dir, cache)
	assert.Equal(t, 1, cache.Len(), "only the source's own key is dropped")

	_, err = handleInvalidate(manager, notify.NewEventWriter(dir), "nope", "")
	assert.Error(t, err)
	_, err = handleInvalidate(manager, notify.NewEventWriter(dir), "Q1", "other")
	assert.Error(t, err)
}
