package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

func TestIDCountBucket(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{1, "1"},
		{2, "2"},
		{3, "3-5"},
		{4, "3-5"},
		{5, "3-5"},
		{6, "6-11"},
		{8, "6-11"},
		{11, "6-11"},
		{12, "12-22"},
		{100, "91-181"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, idCountBucket(tt.n), "n=%d", tt.n)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.pass(3)
	m.termSelect()
}

func TestMetricsCountPass(t *testing.T) {
	store := newFakeStore()
	store.addPage(t, "Q1")
	store.addRedirect(t, "Q3", "Q1")
	store.addTerm("Q1", types.TermLabel, "en", "Dog")
	b, _ := newTestBuilder(t, store)

	_, err := b.CollectEntityInfo(context.Background(), mustIDs(t, "Q3", "Q1", "Q2"), []string{"en"})
	require.NoError(t, err)

	snap := b.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.Passes)
	assert.Equal(t, map[string]uint64{"3-5": 1}, snap.IDCounts)
	assert.Equal(t, uint64(1), snap.PageLookups)
	assert.Equal(t, uint64(1), snap.RedirectsApplied)
	assert.Equal(t, uint64(2), snap.TermSelects)
	assert.Equal(t, uint64(4), snap.CacheMisses)
	assert.Equal(t, uint64(1), snap.MissingRemoved)

	// Snapshots are copies.
	snap.IDCounts["3-5"] = 99
	assert.Equal(t, uint64(1), b.metrics.Snapshot().IDCounts["3-5"])
}
