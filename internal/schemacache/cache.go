package schemacache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nlpdb/nlpdb/internal/observability"
	"github.com/nlpdb/nlpdb/internal/schema"
)

const DefaultTTL = 5 * time.Minute

// Builder enumerates a live database. Implementations open and close their
// own connection.
type Builder interface {
	BuildSnapshot(ctx context.Context, database string) (schema.Snapshot, error)
}

type Options struct {
	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// Cache holds at most one snapshot. Looking up a different database evicts
// the current one. A single mutex serialises lookups and refreshes, which is
// enough for one interactive operator.
type Cache struct {
	builder Builder
	store   Store
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	loaded  bool
	slot    *schema.Snapshot
	invalid bool
}

func New(builder Builder, store Store, opts Options) *Cache {
	if store == nil {
		store = NewMemoryStore()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{builder: builder, store: store, ttl: opts.TTL, now: opts.Now, logger: opts.Logger}
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the snapshot for database, rebuilding it when absent, stale or
// held for another database.
func (c *Cache) Get(ctx context.Context, database string) (schema.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLocked(ctx)
	switch {
	case c.slot == nil || c.slot.Database != database:
		observability.ObserveSchemaCacheLookup(observability.CacheMiss)
	case c.invalid || !c.slot.FreshAt(c.now(), c.ttl):
		observability.ObserveSchemaCacheLookup(observability.CacheStale)
	default:
		observability.ObserveSchemaCacheLookup(observability.CacheHit)
		return *c.slot, nil
	}
	return c.rebuildLocked(ctx, database)
}

// Refresh rebuilds database unconditionally.
func (c *Cache) Refresh(ctx context.Context, database string) (schema.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLocked(ctx)
	return c.rebuildLocked(ctx, database)
}

// Invalidate marks the held snapshot stale so the next Get re-enumerates.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalid = true
}

// Current returns the held snapshot without refreshing it.
func (c *Cache) Current() (schema.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == nil {
		return schema.Snapshot{}, false
	}
	return *c.slot, true
}

// Clear empties memory and the persistent store.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slot = nil
	c.invalid = false
	c.loaded = true
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear schema cache store: %w", err)
	}
	return nil
}

func (c *Cache) rebuildLocked(ctx context.Context, database string) (schema.Snapshot, error) {
	start := c.now()
	snapshot, err := c.builder.BuildSnapshot(ctx, database)
	if err != nil {
		observability.ObserveSchemaCacheLookup(observability.CacheError)
		return schema.Snapshot{}, err
	}
	observability.ObserveSchemaBuild(c.now().Sub(start))

	snapshot.Database = database
	snapshot.LastUpdated = c.now().UTC()
	c.slot = &snapshot
	c.invalid = false

	c.persistLocked(ctx)
	c.logger.DebugContext(ctx, "schema_snapshot_built",
		slog.String("database", database),
		slog.Int("tables", len(snapshot.Tables)),
	)
	return snapshot, nil
}

func (c *Cache) persistLocked(ctx context.Context) {
	blob, err := encodeBlob(c.slot)
	if err == nil {
		err = c.store.Save(ctx, blob)
	}
	if err != nil {
		observability.IncrementSchemaCachePersistFailure()
		c.logger.WarnContext(ctx, "schema_cache_persist_failed",
			slog.String("database", c.slot.Database),
			slog.String("error", err.Error()),
		)
	}
}

// loadLocked reads the persisted blob once per process.
func (c *Cache) loadLocked(ctx context.Context) {
	if c.loaded {
		return
	}
	c.loaded = true

	blob, err := c.store.Load(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "schema_cache_load_failed", slog.String("error", err.Error()))
		return
	}
	snapshot, ok, err := decodeBlob(blob)
	if err != nil {
		c.logger.WarnContext(ctx, "schema_cache_decode_failed", slog.String("error", err.Error()))
		return
	}
	if ok {
		c.slot = &snapshot
	}
}

// The persisted blob is a JSON object keyed by database name.
func encodeBlob(snapshot *schema.Snapshot) ([]byte, error) {
	blob := map[string]schema.Snapshot{}
	if snapshot != nil {
		blob[snapshot.Database] = *snapshot
	}
	return json.Marshal(blob)
}

func decodeBlob(blob []byte) (schema.Snapshot, bool, error) {
	if len(blob) == 0 {
		return schema.Snapshot{}, false, nil
	}
	var decoded map[string]schema.Snapshot
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return schema.Snapshot{}, false, err
	}
	var (
		newest schema.Snapshot
		found  bool
	)
	for database, snapshot := range decoded {
		snapshot.Database = database
		if !found || snapshot.LastUpdated.After(newest.LastUpdated) {
			newest = snapshot
			found = true
		}
	}
	return newest, found, nil
}
