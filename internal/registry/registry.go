// Package registry holds the authoritative in-memory process table.
//
// Every mutation takes the write lock only for the read-modify-write of the
// map, then persists a full snapshot outside the lock. Snapshots carry a
// generation number so a slow, older save never overwrites a newer one.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/zapm/internal/process"
	"github.com/loykin/zapm/internal/store"
)

type Registry struct {
	store  store.Store
	logger *slog.Logger

	mu   sync.RWMutex
	recs map[string]process.Record
	gen  uint64

	saveMu  sync.Mutex
	savedAt uint64

	now func() time.Time
}

// New loads the table from s. A missing or unreadable table starts empty.
func New(ctx context.Context, s store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "registry")
	return &Registry{
		store:  s,
		logger: logger,
		recs:   store.LoadOrEmpty(ctx, s, logger),
		now:    time.Now,
	}
}

// Get returns a copy of the named record.
func (r *Registry) Get(name string) (process.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recs[name]
	if !ok {
		return process.Record{}, false
	}
	return rec.Clone(), true
}

// All returns a copy of the whole table.
func (r *Registry) All() map[string]process.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]process.Record, len(r.recs))
	for k, v := range r.recs {
		out[k] = v.Clone()
	}
	return out
}

// Names returns the record names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.recs))
	for k := range r.recs {
		names = append(names, k)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.recs)
}

// Upsert inserts rec or replaces the existing record of the same name.
// CreatedAt of an existing record is preserved; UpdatedAt is always bumped.
func (r *Registry) Upsert(ctx context.Context, rec process.Record) (process.Record, error) {
	r.mu.Lock()
	now := r.now()
	if old, ok := r.recs[rec.Name]; ok {
		rec.CreatedAt = old.CreatedAt
		now = notBefore(now, old.UpdatedAt)
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = process.StatusUnknown
	}
	r.recs[rec.Name] = rec.Clone()
	snap, gen := r.snapshotLocked()
	r.mu.Unlock()
	return rec, r.persist(ctx, snap, gen)
}

// Update applies fn to a copy of the named record and stores the result when
// fn returns true. The returned record is the stored value (or the unchanged
// one when fn declined).
func (r *Registry) Update(ctx context.Context, name string, fn func(*process.Record) bool) (process.Record, error) {
	r.mu.Lock()
	cur, ok := r.recs[name]
	if !ok {
		r.mu.Unlock()
		return process.Record{}, fmt.Errorf("%s: %w", name, process.ErrNotFound)
	}
	next := cur.Clone()
	if !fn(&next) {
		r.mu.Unlock()
		return cur.Clone(), nil
	}
	next.Name = name
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = notBefore(r.now(), cur.UpdatedAt)
	r.recs[name] = next
	snap, gen := r.snapshotLocked()
	r.mu.Unlock()
	return next.Clone(), r.persist(ctx, snap, gen)
}

// Delete removes the named record. It reports whether the record existed.
func (r *Registry) Delete(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	if _, ok := r.recs[name]; !ok {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.recs, name)
	snap, gen := r.snapshotLocked()
	r.mu.Unlock()
	return true, r.persist(ctx, snap, gen)
}

// Reload replaces the in-memory table with the store's content. It is used
// when another writer (the CLI) changed the store underneath a running server.
// Saves are held off while the table is swapped, so once writers are quiet the
// table and the store agree.
func (r *Registry) Reload(ctx context.Context) int {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	recs := store.LoadOrEmpty(ctx, r.store, r.logger)
	r.mu.Lock()
	r.recs = recs
	r.gen++
	gen := r.gen
	r.mu.Unlock()
	// snapshots taken before the swap describe a table that no longer exists
	if gen > r.savedAt {
		r.savedAt = gen
	}
	return len(recs)
}

// Flush persists the current table unconditionally.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	snap, gen := r.snapshotLocked()
	r.mu.Unlock()
	return r.persist(ctx, snap, gen)
}

func (r *Registry) snapshotLocked() (map[string]process.Record, uint64) {
	r.gen++
	snap := make(map[string]process.Record, len(r.recs))
	for k, v := range r.recs {
		snap[k] = v.Clone()
	}
	return snap, r.gen
}

func (r *Registry) persist(ctx context.Context, snap map[string]process.Record, gen uint64) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	if gen <= r.savedAt {
		// a newer snapshot already reached the store
		return nil
	}
	if err := r.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("save process table: %w", err)
	}
	r.savedAt = gen
	return nil
}

func notBefore(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}
