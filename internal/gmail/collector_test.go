package gmail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func april2025() Window {
	return MonthWindow(2025, time.April, time.UTC)
}

func TestCollectFollowsContinuationTokens(t *testing.T) {
	fake := &fakeClient{pages: []ListPage{
		{Refs: refs("a", "b"), NextPageToken: "t1"},
		{Refs: refs("c"), NextPageToken: "t2"},
		{Refs: refs("d")},
	}}
	c := NewCollector(fake, 2, zap.NewNop().Sugar())

	got, err := c.Collect(context.Background(), april2025(), SearchFilters{})
	require.NoError(t, err)
	assert.Equal(t, refs("a", "b", "c", "d"), got)
	assert.Equal(t, []string{"", "t1", "t2"}, fake.tokens)
	assert.Equal(t, []int{2, 2, 2}, fake.pageSizes)
}

func TestCollectStopsOnEmptyPage(t *testing.T) {
	fake := &fakeClient{pages: []ListPage{
		{Refs: refs("a"), NextPageToken: "t1"},
		{NextPageToken: "t2"},
		{Refs: refs("never")},
	}}
	c := NewCollector(fake, 10, zap.NewNop().Sugar())

	got, err := c.Collect(context.Background(), april2025(), SearchFilters{})
	require.NoError(t, err)
	assert.Equal(t, refs("a"), got)
	assert.Equal(t, 2, fake.calls)
}

func TestCollectKeepsPartialResultsOnFailure(t *testing.T) {
	fake := &fakeClient{
		pages: []ListPage{
			{Refs: refs("a", "b"), NextPageToken: "t1"},
			{Refs: refs("c")},
		},
		failAt: 2,
	}
	c := NewCollector(fake, 10, zap.NewNop().Sugar())

	got, err := c.Collect(context.Background(), april2025(), SearchFilters{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPageFetchFailed))
	assert.True(t, errors.Is(err, errBoom))
	assert.Equal(t, refs("a", "b"), got)
}

func TestRefsRestartsPerCall(t *testing.T) {
	fake := &fakeClient{pages: []ListPage{
		{Refs: refs("a"), NextPageToken: "t1"},
		{Refs: refs("b")},
		{Refs: refs("a2")},
	}}
	c := NewCollector(fake, 10, zap.NewNop().Sugar())
	seq := c.Refs(context.Background(), april2025(), SearchFilters{})

	var first []MessageRef
	for ref, err := range seq {
		require.NoError(t, err)
		first = append(first, ref)
		break
	}
	assert.Equal(t, refs("a"), first)

	var second []MessageRef
	for ref, err := range seq {
		require.NoError(t, err)
		second = append(second, ref)
	}
	assert.Equal(t, refs("b"), second, "fake hands out pages in order")
	assert.Equal(t, []string{"", ""}, fake.tokens, "each iteration starts without a page token")
}

func TestCollectUsesWindowQuery(t *testing.T) {
	fake := &fakeClient{}
	c := NewCollector(fake, 0, zap.NewNop().Sugar())

	_, err := c.Collect(context.Background(), april2025(), SearchFilters{Extensions: []string{".json"}})
	require.NoError(t, err)
	require.Len(t, fake.queries, 1)
	assert.Equal(t, "has:attachment after:1743465600 before:1746057600 filename:json", fake.queries[0])
	assert.Equal(t, []int{DefaultPageSize}, fake.pageSizes)
}
