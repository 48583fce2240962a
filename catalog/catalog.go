// Package catalog keeps the static world data the sync pipeline looks up:
// named locations, the memory agent behind each NPC and player appearance
// descriptions. Rows live in SQLite and are served from an in-memory cache
// that Refresh replaces wholesale.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zero-day-ai/worldsync"
	"github.com/zero-day-ai/worldsync/location"
)

// DefaultRefreshInterval is how often Run reloads the cache.
const DefaultRefreshInterval = time.Minute

// Seed is a bulk set of catalog rows.
type Seed struct {
	Locations   []location.Entry  `yaml:"locations" json:"locations"`
	Agents      map[string]string `yaml:"agents" json:"agents"`
	Appearances map[string]string `yaml:"appearances" json:"appearances"`
}

// Catalog is a SQLite-backed, cached view of the world catalog. It
// implements location.Directory, group.AppearanceLookup and
// snapshot.AgentResolver.
type Catalog struct {
	db     *sql.DB
	logger *slog.Logger

	locations *location.StaticDirectory

	mu          sync.RWMutex
	agents      map[string]string
	appearances map[string]string
	loadedAt    time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Open opens (creating if needed) the database at path and loads the cache.
// The special path ":memory:" keeps everything in memory.
func Open(ctx context.Context, path string, opts ...Option) (*Catalog, error) {
	if path == "" {
		return nil, worldsync.NewConfigurationError("catalog.Open",
			fmt.Errorf("%w: empty db path", worldsync.ErrInvalidConfig))
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	c := &Catalog{
		db:          db,
		logger:      slog.Default(),
		locations:   location.NewStaticDirectory(),
		agents:      map[string]string{},
		appearances: map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "catalog")

	if err := c.Refresh(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func initPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS locations (
			slug TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			ord INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS agents (
			entity_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS appearances (
			entity_id TEXT PRIMARY KEY,
			description TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("failed to create catalog schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Entries implements location.Directory.
func (c *Catalog) Entries() []location.Entry {
	return c.locations.Entries()
}

// AgentID implements snapshot.AgentResolver.
func (c *Catalog) AgentID(entityID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.agents[entityID]
	return id, ok
}

// Appearance implements group.AppearanceLookup. A missing entity is a lookup
// miss wrapping worldsync.ErrNotFound.
func (c *Catalog) Appearance(_ context.Context, entityID string) (string, error) {
	c.mu.RLock()
	desc, ok := c.appearances[entityID]
	c.mu.RUnlock()
	if !ok {
		return "", worldsync.NewLookupMiss("Catalog.Appearance",
			fmt.Errorf("%w: appearance for %s", worldsync.ErrNotFound, entityID))
	}
	return desc, nil
}

// LoadedAt returns when the cache was last refreshed.
func (c *Catalog) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// Refresh reloads every table into the cache. On error the previous cache
// stays in place.
func (c *Catalog) Refresh(ctx context.Context) error {
	entries, err := c.loadLocations(ctx)
	if err != nil {
		return err
	}
	agents, err := c.loadPairs(ctx, `SELECT entity_id, agent_id FROM agents`)
	if err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}
	appearances, err := c.loadPairs(ctx, `SELECT entity_id, description FROM appearances`)
	if err != nil {
		return fmt.Errorf("failed to load appearances: %w", err)
	}

	c.locations.Replace(entries)
	c.mu.Lock()
	c.agents = agents
	c.appearances = appearances
	c.loadedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug("catalog refreshed",
		"locations", len(entries),
		"agents", len(agents),
		"appearances", len(appearances))
	return nil
}

func (c *Catalog) loadLocations(ctx context.Context) ([]location.Entry, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT slug, name, x, y, z FROM locations ORDER BY ord, slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to load locations: %w", err)
	}
	defer rows.Close()

	var out []location.Entry
	for rows.Next() {
		var e location.Entry
		var x, y, z float64
		if err := rows.Scan(&e.Slug, &e.Name, &x, &y, &z); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		e.Coordinates = location.NewPosition(x, y, z)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load locations: %w", err)
	}
	return out, nil
}

func (c *Catalog) loadPairs(ctx context.Context, query string) (map[string]string, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Import writes seed rows in one transaction, replacing rows with the same
// key, then refreshes the cache. Locations keep their order in the seed.
func (c *Catalog) Import(ctx context.Context, seed Seed) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, e := range seed.Locations {
		if e.Slug == "" || e.Name == "" {
			return worldsync.NewValidationError("Catalog.Import",
				fmt.Errorf("%w: location %d needs slug and name", worldsync.ErrMalformedItem, i))
		}
		p := e.Coordinates
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO locations (slug, name, x, y, z, ord) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(slug) DO UPDATE SET name=excluded.name, x=excluded.x, y=excluded.y, z=excluded.z, ord=excluded.ord`,
			e.Slug, e.Name, p.X, p.Y, p.Z, i); err != nil {
			return fmt.Errorf("failed to import location %s: %w", e.Slug, err)
		}
	}
	for entity, agent := range seed.Agents {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agents (entity_id, agent_id) VALUES (?, ?)
			ON CONFLICT(entity_id) DO UPDATE SET agent_id=excluded.agent_id`,
			entity, agent); err != nil {
			return fmt.Errorf("failed to import agent %s: %w", entity, err)
		}
	}
	for entity, desc := range seed.Appearances {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO appearances (entity_id, description) VALUES (?, ?)
			ON CONFLICT(entity_id) DO UPDATE SET description=excluded.description`,
			entity, desc); err != nil {
			return fmt.Errorf("failed to import appearance %s: %w", entity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	return c.Refresh(ctx)
}

// SetAppearance stores one appearance description. The cache picks it up on
// the next Refresh.
func (c *Catalog) SetAppearance(ctx context.Context, entityID, description string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO appearances (entity_id, description) VALUES (?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET description=excluded.description`,
		entityID, description)
	if err != nil {
		return fmt.Errorf("failed to set appearance for %s: %w", entityID, err)
	}
	return nil
}

// Run refreshes the cache every interval until ctx is done. Failed refreshes
// are logged and the previous cache is kept.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("catalog refresh failed", "error", err)
			}
		}
	}
}
