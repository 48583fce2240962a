package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/worldsync"
	"github.com/zero-day-ai/worldsync/location"
)

func openTestCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "catalog.db")
	c, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, path
}

func testSeed() Seed {
	return Seed{
		Locations: []location.Entry{
			{Slug: "town_square", Name: "Town Square", Coordinates: location.NewPosition(0, 3, 0)},
			{Slug: "chipotle", Name: "Chipotle", Coordinates: location.NewPosition(8, 3, -12)},
		},
		Agents:      map[string]string{"Diamond": "agent-diamond"},
		Appearances: map[string]string{"Kaiden": "Tall, wears a red cloak"},
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, worldsync.ErrInvalidConfig)
}

func TestCatalog_ImportAndLookup(t *testing.T) {
	c, _ := openTestCatalog(t)
	ctx := context.Background()
	assert.Empty(t, c.Entries())

	require.NoError(t, c.Import(ctx, testSeed()))

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "town_square", entries[0].Slug)
	assert.Equal(t, "Chipotle", entries[1].Name)
	assert.Equal(t, location.NewPosition(8, 3, -12), entries[1].Coordinates)

	agent, ok := c.AgentID("Diamond")
	assert.True(t, ok)
	assert.Equal(t, "agent-diamond", agent)
	_, ok = c.AgentID("Kaiden")
	assert.False(t, ok)

	desc, err := c.Appearance(ctx, "Kaiden")
	require.NoError(t, err)
	assert.Equal(t, "Tall, wears a red cloak", desc)

	_, err = c.Appearance(ctx, "Nobody")
	assert.ErrorIs(t, err, worldsync.ErrNotFound)
	assert.Equal(t, worldsync.KindLookupMiss, worldsync.KindOf(err))
	assert.False(t, c.LoadedAt().IsZero())
}

func TestCatalog_ServesResolver(t *testing.T) {
	c, _ := openTestCatalog(t)
	require.NoError(t, c.Import(context.Background(), testSeed()))

	r := location.NewResolver(c)
	assert.Equal(t, "at the entrance to Chipotle", r.Narrative(location.NewPosition(9, 3, -11)))
}

func TestCatalog_ImportRejectsIncompleteLocation(t *testing.T) {
	c, _ := openTestCatalog(t)
	err := c.Import(context.Background(), Seed{Locations: []location.Entry{{Slug: "x"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, worldsync.ErrMalformedItem)
	assert.Empty(t, c.Entries())
}

func TestCatalog_RefreshPicksUpWrites(t *testing.T) {
	c, _ := openTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.SetAppearance(ctx, "Kaiden", "Short, green hood"))
	_, err := c.Appearance(ctx, "Kaiden")
	assert.Error(t, err, "cache only changes on refresh")

	require.NoError(t, c.Refresh(ctx))
	desc, err := c.Appearance(ctx, "Kaiden")
	require.NoError(t, err)
	assert.Equal(t, "Short, green hood", desc)
}

func TestCatalog_PersistsAcrossReopen(t *testing.T) {
	c, path := openTestCatalog(t)
	require.NoError(t, c.Import(context.Background(), testSeed()))
	require.NoError(t, c.Close())

	again, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer again.Close()

	assert.Len(t, again.Entries(), 2)
	_, ok := again.AgentID("Diamond")
	assert.True(t, ok)
}

func TestCatalog_Run(t *testing.T) {
	c, _ := openTestCatalog(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx, 10*time.Millisecond)
	require.NoError(t, c.SetAppearance(context.Background(), "Kaiden", "Short, green hood"))

	require.Eventually(t, func() bool {
		_, err := c.Appearance(context.Background(), "Kaiden")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}
