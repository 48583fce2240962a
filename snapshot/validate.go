package snapshot

import (
	"fmt"
	"math"

	"github.com/zero-day-ai/worldsync"
)

// Validate checks the semantic constraints JSON decoding cannot express.
// The returned error is a validation error wrapping worldsync.ErrMalformedItem.
func (b Batch) Validate() error {
	if b.Timestamp < 0 {
		return malformed("timestamp must not be negative")
	}
	for i, c := range b.Clusters {
		if c.NPCs < 0 || c.Players < 0 {
			return malformed(fmt.Sprintf("cluster %d has negative counts", i))
		}
	}
	for id, st := range b.Entities {
		if id == "" {
			return malformed("entity with empty id")
		}
		if err := st.validate(); err != nil {
			return malformed(fmt.Sprintf("entity %q: %v", id, err))
		}
	}
	return nil
}

func (s EntityState) validate() error {
	if h := s.Health; h != nil {
		if !finite(h.Current) || !finite(h.Max) {
			return fmt.Errorf("health is not finite")
		}
		if h.Max < 0 {
			return fmt.Errorf("health max %v is negative", h.Max)
		}
		if !h.State.Valid() {
			return fmt.Errorf("unknown activity %q", h.State)
		}
	}
	if p := s.Position; p != nil {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return fmt.Errorf("position is not finite")
		}
	}
	if g := s.Group; g != nil {
		for _, m := range g.Members {
			if m == "" {
				return fmt.Errorf("group has an empty member id")
			}
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func malformed(msg string) error {
	return worldsync.NewValidationError("Batch.Validate", fmt.Errorf("%w: %s", worldsync.ErrMalformedItem, msg))
}
