package location

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testDirectory() *StaticDirectory {
	return NewStaticDirectory(
		Entry{Slug: "chipotle", Name: "Chipotle", Coordinates: NewPosition(8, 3, -12)},
		Entry{Slug: "petes_stand", Name: "Pete's Merch Stand", Coordinates: NewPosition(-6.8, 3, -115)},
		Entry{Slug: "town_square", Name: "Town Square", Coordinates: NewPosition(0, 3, 0)},
	)
}

func TestResolver_Narrative(t *testing.T) {
	r := NewResolver(testDirectory())

	tests := []struct {
		name string
		pos  Position
		want string
	}{
		{name: "exact coordinates", pos: NewPosition(8, 3, -12), want: "at the entrance to Chipotle"},
		{name: "distance 10", pos: NewPosition(18, 3, -12), want: "right outside Chipotle"},
		{name: "distance exactly 5", pos: NewPosition(13, 3, -12), want: "right outside Chipotle"},
		{name: "vertical offset", pos: NewPosition(8, 10, -12), want: "right outside Chipotle"},
		{name: "at town square", pos: NewPosition(0, 3, 0), want: "at the entrance to Town Square"},
		{name: "beyond all tiers", pos: NewPosition(300, 3, 300), want: "at (300.0, 3.0, 300.0)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Narrative(tt.pos))
		})
	}
}

func TestResolver_TierBoundariesAreStrict(t *testing.T) {
	r := NewResolver(NewStaticDirectory(Entry{Slug: "hub", Name: "Hub", Coordinates: NewPosition(0, 0, 0)}))

	tests := []struct {
		distance float64
		want     string
	}{
		{4.999, "at the entrance to Hub"},
		{5, "right outside Hub"},
		{14.999, "right outside Hub"},
		{15, "near Hub"},
		{29.999, "near Hub"},
		{30, "in the vicinity of Hub"},
		{49.999, "in the vicinity of Hub"},
		{50, "at (50.0, 0.0, 0.0)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Narrative(NewPosition(tt.distance, 0, 0)), "distance %v", tt.distance)
	}
}

func TestResolver_TieBreaksByDirectoryOrder(t *testing.T) {
	r := NewResolver(NewStaticDirectory(
		Entry{Slug: "west", Name: "West Gate", Coordinates: NewPosition(-10, 0, 0)},
		Entry{Slug: "east", Name: "East Gate", Coordinates: NewPosition(10, 0, 0)},
	))

	assert.Equal(t, "right outside West Gate", r.Narrative(NewPosition(0, 0, 0)))
	assert.Equal(t, "West Gate", r.NearestName(NewPosition(0, 0, 0)))
}

func TestResolver_EmptyDirectory(t *testing.T) {
	r := NewResolver(NewStaticDirectory())

	assert.Equal(t, "at (1.0, 2.0, 3.0)", r.Narrative(NewPosition(1, 2, 3)))
	assert.Equal(t, UnknownArea, r.NearestName(NewPosition(1, 2, 3)))

	_, _, ok := r.Nearest(NewPosition(0, 0, 0))
	assert.False(t, ok)
}

func TestPosition_Rounding(t *testing.T) {
	p := NewPosition(7.87049, 3.0001, -12.0064)
	assert.Equal(t, Position{X: 7.87, Y: 3, Z: -12.006}, p)

	var decoded Position
	require.NoError(t, json.Unmarshal([]byte(`{"x":1.23456,"y":-0.0004,"z":9.9999}`), &decoded))
	assert.Equal(t, 1.235, decoded.X)
	assert.InDelta(t, 0, decoded.Y, 1e-9)
	assert.Equal(t, 10.0, decoded.Z)
}

func TestEntry_YAMLRoundsCoordinates(t *testing.T) {
	var entries []Entry
	doc := `
- slug: chipotle
  name: Chipotle
  coordinates: {x: 10.00049, y: 3, z: -12.1236}
`
	require.NoError(t, yaml.Unmarshal([]byte(doc), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "chipotle", entries[0].Slug)
	assert.Equal(t, Position{X: 10, Y: 3, Z: -12.124}, entries[0].Coordinates)
}

func TestStaticDirectory_ReplaceCopies(t *testing.T) {
	entries := []Entry{{Slug: "a", Name: "A"}}
	d := NewStaticDirectory(entries...)
	entries[0].Name = "mutated"

	require.Equal(t, 1, d.Len())
	assert.Equal(t, "A", d.Entries()[0].Name)

	d.Replace(nil)
	assert.Equal(t, 0, d.Len())
}
