package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/termcache"
	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

// fakeStore is an in-memory page and term store. Term rows carry local ids.
type fakeStore struct {
	pages map[string]map[string]types.PageInfo
	terms []types.TermRow

	pageErr error
	termErr error

	pageCalls int
	termCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{pages: map[string]map[string]types.PageInfo{}}
}

func (s *fakeStore) addPage(t *testing.T, serialization string) {
	t.Helper()
	id := mustID(t, serialization)
	if s.pages[id.EntityType()] == nil {
		s.pages[id.EntityType()] = map[string]types.PageInfo{}
	}
	s.pages[id.EntityType()][id.LocalPart()] = types.PageInfo{PageID: int64(len(s.pages[id.EntityType()]) + 1)}
}

func (s *fakeStore) addRedirect(t *testing.T, from, to string) {
	t.Helper()
	s.addPage(t, from)
	id := mustID(t, from)
	target := mustID(t, to)
	info := s.pages[id.EntityType()][id.LocalPart()]
	info.RedirectTarget = &target
	s.pages[id.EntityType()][id.LocalPart()] = info
}

func (s *fakeStore) addTerm(serialization string, kind types.TermKind, lang, text string) {
	s.terms = append(s.terms, types.TermRow{EntityID: serialization, Kind: kind, Language: lang, Text: text})
}

func (s *fakeStore) GetPageInfo(_ context.Context, entityType string, localIDs []string) (map[string]types.PageInfo, error) {
	s.pageCalls++
	if s.pageErr != nil {
		return nil, s.pageErr
	}
	out := map[string]types.PageInfo{}
	for _, local := range localIDs {
		if info, ok := s.pages[entityType][local]; ok {
			out[local] = info
		}
	}
	return out, nil
}

func (s *fakeStore) LoadTerms(_ context.Context, entityType string, kind types.TermKind, localIDs []string, languages []string) ([]types.TermRow, error) {
	s.termCalls++
	if s.termErr != nil {
		return nil, s.termErr
	}
	ids := toSet(localIDs)
	langs := toSet(languages)

	var out []types.TermRow
	for _, row := range s.terms {
		id, err := types.ParseEntityID(row.EntityID)
		if err != nil || id.EntityType() != entityType {
			continue
		}
		if row.Kind == kind && ids[id.LocalPart()] && langs[row.Language] {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeStore) Close() error { return nil }

// mockLoader is a testify mock of storage.TermBatchLoader.
type mockLoader struct {
	mock.Mock
}

func (m *mockLoader) LoadTerms(ctx context.Context, entityType string, kind types.TermKind, localIDs []string, languages []string) ([]types.TermRow, error) {
	args := m.Called(ctx, entityType, kind, localIDs, languages)
	rows, _ := args.Get(0).([]types.TermRow)
	return rows, args.Error(1)
}

// failingCache fails every call with err.
type failingCache struct {
	err error
}

func (c failingCache) GetMany(context.Context, []termcache.Key) (map[termcache.Key]types.TermRow, error) {
	return nil, c.err
}

func (c failingCache) SetMany(context.Context, []termcache.Entry) error {
	return c.err
}

// fakeClock is a manually advanced clock for cache expiry.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

func mustID(t *testing.T, s string) types.EntityID {
	t.Helper()
	id, err := types.ParseEntityID(s)
	require.NoError(t, err)
	return id
}

func mustIDs(t *testing.T, ss ...string) []types.EntityID {
	t.Helper()
	out := make([]types.EntityID, len(ss))
	for i, s := range ss {
		out[i] = mustID(t, s)
	}
	return out
}

func newTestCache(t *testing.T, opts ...termcache.Option) *termcache.LRU {
	t.Helper()
	cache, err := termcache.NewLRU(1000, opts...)
	require.NoError(t, err)
	return cache
}

// newTestBuilder wires a builder serving items and properties to store and a
// fresh cache.
func newTestBuilder(t *testing.T, store *fakeStore) (*EntityInfoBuilder, *termcache.LRU) {
	t.Helper()
	cache := newTestCache(t)
	b, err := NewEntityInfoBuilder(Options{
		Source:  EntitySource{Name: "test", EntityTypes: []string{types.EntityTypeItem, types.EntityTypeProperty}},
		Pages:   store,
		Terms:   store,
		Cache:   cache,
		Metrics: NewMetrics(),
	})
	require.NoError(t, err)
	return b, cache
}

func seedCache(t *testing.T, cache termcache.Cache, serialization string, kind types.TermKind, lang, text string, ttl time.Duration) {
	t.Helper()
	row := types.TermRow{EntityID: serialization, Kind: kind, Language: lang, Text: text}
	require.NoError(t, cache.SetMany(context.Background(), []termcache.Entry{{Key: termcache.KeyFor(row), Row: row, TTL: ttl}}))
}
