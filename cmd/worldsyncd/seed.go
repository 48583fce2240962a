package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/worldsync"
	"github.com/zero-day-ai/worldsync/catalog"
)

// loadSeed reads a catalog seed file:
//
//	locations:
//	  - slug: chipotle
//	    name: Chipotle
//	    coordinates: {x: 10, y: 3, z: -12}
//	agents:
//	  npc_1: agent-0f3c
//	appearances:
//	  player_7: A tall figure in a red cloak
func loadSeed(path string) (catalog.Seed, error) {
	var seed catalog.Seed
	data, err := os.ReadFile(path)
	if err != nil {
		return seed, worldsync.NewConfigurationError("loadSeed", fmt.Errorf("failed to read seed file: %w", err))
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return seed, worldsync.NewConfigurationError("loadSeed", fmt.Errorf("%w: failed to parse seed file %s: %v", worldsync.ErrInvalidConfig, path, err))
	}
	return seed, nil
}
