package location

import "math"

// UnknownArea is returned by NearestName when the directory is empty.
const UnknownArea = "Unknown Area"

// tier maps a distance bound to the narrative used below it.
type tier struct {
	below  float64
	format func(name string) string
}

// tiers is strictly increasing; the first bound the distance is strictly
// below wins.
var tiers = []tier{
	{below: 5, format: func(n string) string { return "at the entrance to " + n }},
	{below: 15, format: func(n string) string { return "right outside " + n }},
	{below: 30, format: func(n string) string { return "near " + n }},
	{below: 50, format: func(n string) string { return "in the vicinity of " + n }},
}

// Resolver turns raw positions into location narratives.
type Resolver struct {
	dir Directory
}

// NewResolver creates a Resolver backed by dir.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Nearest returns the closest entry to p and its distance.
// ok is false when the directory is empty.
func (r *Resolver) Nearest(p Position) (entry Entry, distance float64, ok bool) {
	if r == nil || r.dir == nil {
		return Entry{}, 0, false
	}

	best := math.Inf(1)
	for _, e := range r.dir.Entries() {
		d := p.DistanceTo(e.Coordinates)
		if d < best {
			best = d
			entry = e
			ok = true
		}
	}
	return entry, best, ok
}

// Narrative describes p relative to the nearest known location, falling back
// to bare coordinates when nothing is within range or the directory is empty.
func (r *Resolver) Narrative(p Position) string {
	entry, distance, ok := r.Nearest(p)
	if !ok {
		return "at " + p.String()
	}
	for _, t := range tiers {
		if distance < t.below {
			return t.format(entry.Name)
		}
	}
	return "at " + p.String()
}

// NearestName is the short form: only the nearest location's name.
func (r *Resolver) NearestName(p Position) string {
	entry, _, ok := r.Nearest(p)
	if !ok {
		return UnknownArea
	}
	return entry.Name
}
