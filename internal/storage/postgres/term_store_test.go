package postgres_test

import (
	"context"
	"errors"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/storage"
	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/storage/postgres"
	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh, empty TermStore connected to the test database.
func newTestStore(t *testing.T) *postgres.TermStore {
	t.Helper()

	store, err := postgres.NewTermStore(postgresTestDSN(t), nil)
	require.NoError(t, err, "NewTermStore should succeed")
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.TruncateForTest(context.Background()), "truncate tables")
	return store
}

func mustID(t *testing.T, s string) types.EntityID {
	t.Helper()
	id, err := types.ParseEntityID(s)
	require.NoError(t, err)
	return id
}

func TestPostgresGetPageInfo(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SavePage(ctx, mustID(t, "Q1"))
	require.NoError(t, err)
	require.NoError(t, store.SaveRedirect(ctx, mustID(t, "Q3"), mustID(t, "Q1")))

	info, err := store.GetPageInfo(ctx, types.EntityTypeItem, []string{"Q1", "Q2", "Q3"})
	require.NoError(t, err)

	require.Len(t, info, 2)
	assert.False(t, info["Q1"].IsRedirect())
	require.True(t, info["Q3"].IsRedirect())
	assert.Equal(t, "Q1", info["Q3"].RedirectTarget.Serialization())
}

func TestPostgresLoadTerms(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTerm(ctx, mustID(t, "Q1"), types.TermLabel, "en", "Cat"))
	require.NoError(t, store.SaveTerm(ctx, mustID(t, "Q1"), types.TermLabel, "de", "Katze"))
	require.NoError(t, store.SaveTerm(ctx, mustID(t, "Q1"), types.TermDescription, "en", "small feline"))
	require.NoError(t, store.SaveTerm(ctx, mustID(t, "Q2"), types.TermLabel, "en", "Dog"))

	rows, err := store.LoadTerms(ctx, types.EntityTypeItem, types.TermLabel, []string{"Q1", "Q2"}, []string{"en"})
	require.NoError(t, err)

	sort.Slice(rows, func(i, j int) bool { return rows[i].EntityID < rows[j].EntityID })
	assert.Equal(t, []types.TermRow{
		{EntityID: "Q1", Kind: types.TermLabel, Language: "en", Text: "Cat"},
		{EntityID: "Q2", Kind: types.TermLabel, Language: "en", Text: "Dog"},
	}, rows)
}

func TestPostgresLoadTermsUnknownType(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadTerms(context.Background(), "widget", types.TermLabel, []string{"W1"}, []string{"en"})
	assert.True(t, errors.Is(err, storage.ErrUnsupportedEntityType))
}
