package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/bizkb/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockIndexStore(t *testing.T) {
	ctx := context.Background()
	m := NewMockIndexStore()

	_, err := m.Search(ctx, "business_a", "q", 3)
	assert.ErrorIs(t, err, storage.ErrCollectionNotFound)

	require.NoError(t, m.CreateAndUpsert(ctx, "business_a", []storage.Row{
		{PK: 1, Text: "widget price list", DocID: "d1"},
		{PK: 2, Text: "widget", DocID: "d1"},
		{PK: 3, Text: "unrelated", DocID: "d2"},
	}))

	hits, err := m.Search(ctx, "business_a", "widget price", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, int64(1), hits[0].PK)

	boom := errors.New("boom")
	m.FailSearch("business_a", boom)
	_, err = m.Search(ctx, "business_a", "widget", 5)
	assert.ErrorIs(t, err, boom)

	require.NoError(t, m.Drop(ctx, "business_a"))
	exists, err := m.CollectionExists(ctx, "business_a")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 1, m.DropCount())
	assert.Equal(t, 3, m.SearchCount())
}
