package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/calcore/internal/models"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
)

type fakeTokens struct {
	tokens map[string]string
	calls  int
}

func (f *fakeTokens) CurrentToken(_ context.Context, path string) (string, error) {
	f.calls++
	tok, ok := f.tokens[path]
	if !ok {
		return "", appErrors.Clone(appErrors.ErrCollectionNotFound, "")
	}
	return tok, nil
}

func testCollection(path string) *models.Collection {
	return &models.Collection{
		ID:      "col-" + path,
		Path:    path,
		Name:    path,
		Type:    models.ColCalendar,
		LastMod: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCacheHitWhileChecked(t *testing.T) {
	col := testCollection("/user/alice/calendar")
	tokens := &fakeTokens{tokens: map[string]string{col.Path: col.Token()}}
	c := New(tokens, nil)

	c.Put(col)
	got, err := c.Get(context.Background(), col.Path)
	require.NoError(t, err)
	assert.Same(t, col, got)
	// Checked entries are trusted verbatim, no token round trip.
	assert.Equal(t, 0, tokens.calls)
}

func TestCacheMissWhenEmpty(t *testing.T) {
	c := New(&fakeTokens{}, nil)
	got, err := c.Get(context.Background(), "/nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFlushForcesSingleRevalidation(t *testing.T) {
	col := testCollection("/user/alice/calendar")
	tokens := &fakeTokens{tokens: map[string]string{col.Path: col.Token()}}
	c := New(tokens, nil)
	c.Put(col)

	c.Flush()

	got, err := c.Get(context.Background(), col.Path)
	require.NoError(t, err)
	assert.Same(t, col, got)
	assert.Equal(t, 1, tokens.calls, "exactly one token comparison after flush")

	// The entry is checked again: further gets are free.
	_, err = c.Get(context.Background(), col.Path)
	require.NoError(t, err)
	assert.Equal(t, 1, tokens.calls)
}

func TestFlushDetectsChangedToken(t *testing.T) {
	col := testCollection("/user/alice/calendar")
	tokens := &fakeTokens{tokens: map[string]string{col.Path: col.Token()}}
	c := New(tokens, nil)
	c.Put(col)

	c.Flush()
	tokens.tokens[col.Path] = models.FormatSyncToken(col.LastMod.Add(time.Minute), col.Sequence+1)

	got, err := c.Get(context.Background(), col.Path)
	require.NoError(t, err)
	assert.Nil(t, got, "changed token is a miss")
	assert.Equal(t, 0, c.Len(), "stale entry evicted")
}

func TestFlushDetectsVanishedCollection(t *testing.T) {
	col := testCollection("/user/alice/calendar")
	tokens := &fakeTokens{tokens: map[string]string{}}
	c := New(tokens, nil)
	c.Put(col)
	c.Flush()

	got, err := c.Get(context.Background(), col.Path)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetTokenExactMatch(t *testing.T) {
	col := testCollection("/user/alice/calendar")
	c := New(&fakeTokens{}, nil)
	c.Put(col)

	assert.Same(t, col, c.GetToken(col.Path, col.Token()))
	assert.Nil(t, c.GetToken(col.Path, "0000000000000000-0"))
	assert.Nil(t, c.GetToken("/other", col.Token()))
}

func TestRemoveAndClear(t *testing.T) {
	a := testCollection("/a")
	b := testCollection("/b")
	c := New(&fakeTokens{}, nil)
	c.Put(a)
	c.Put(b)

	c.Remove("/a")
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
