package location

import (
	"encoding/json"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// Position is a point in world space. Every axis is rounded to three
// decimals on construction and when decoded from JSON or YAML.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// NewPosition returns a Position with every axis rounded to three decimals.
func NewPosition(x, y, z float64) Position {
	return Position{X: round3(x), Y: round3(y), Z: round3(z)}
}

// UnmarshalJSON decodes {x,y,z} and applies the three-decimal rounding.
func (p *Position) UnmarshalJSON(data []byte) error {
	var raw struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode position: %w", err)
	}
	*p = NewPosition(raw.X, raw.Y, raw.Z)
	return nil
}

// UnmarshalYAML decodes {x,y,z} from catalog seed files with the same
// rounding.
func (p *Position) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		X float64 `yaml:"x"`
		Y float64 `yaml:"y"`
		Z float64 `yaml:"z"`
	}
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("decode position: %w", err)
	}
	*p = NewPosition(raw.X, raw.Y, raw.Z)
	return nil
}

// DistanceTo returns the Euclidean distance between p and o.
func (p Position) DistanceTo(o Position) float64 {
	dx := p.X - o.X
	dy := p.Y - o.Y
	dz := p.Z - o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// String renders the bare coordinate text used when no location is close enough.
func (p Position) String() string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f)", p.X, p.Y, p.Z)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
