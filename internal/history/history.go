// Package history keeps the most recently connected vehicles, newest first.
package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/rcdrive/internal/store"
)

// DefaultCapacity is how many devices are remembered.
const DefaultCapacity = 5

// Entry is one remembered vehicle.
type Entry struct {
	ID            string    `json:"id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	Kind          string    `json:"kind" yaml:"kind"`
	Address       string    `json:"address" yaml:"address"`
	LastConnected time.Time `json:"lastConnected" yaml:"lastConnected"`
}

// History is an insert-or-bump list capped at a fixed size. Iteration order
// of the underlying map is oldest first; accessors return newest first.
type History struct {
	mu       sync.RWMutex
	entries  *orderedmap.OrderedMap[string, Entry]
	capacity int
	store    store.Store
	now      func() time.Time
}

// Option customizes a History.
type Option func(*History)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option {
	return func(h *History) {
		if n > 0 {
			h.capacity = n
		}
	}
}

// WithStore enables Load and Save.
func WithStore(s store.Store) Option {
	return func(h *History) { h.store = s }
}

// WithClock replaces time.Now for LastConnected stamps.
func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

func New(opts ...Option) *History {
	h := &History{
		entries:  orderedmap.New[string, Entry](),
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Record inserts e as the most recent entry, replacing any entry with the
// same ID, and evicts the oldest entries beyond capacity. A zero
// LastConnected is stamped with the current time.
func (h *History) Record(e Entry) {
	if e.ID == "" {
		return
	}
	if e.LastConnected.IsZero() {
		e.LastConnected = h.now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries.Delete(e.ID)
	h.entries.Set(e.ID, e)
	h.trim()
}

func (h *History) trim() {
	for h.entries.Len() > h.capacity {
		h.entries.Delete(h.entries.Oldest().Key)
	}
}

// Entries returns a snapshot, most recent first.
func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Entry, 0, h.entries.Len())
	for pair := h.entries.Newest(); pair != nil; pair = pair.Prev() {
		out = append(out, pair.Value)
	}
	return out
}

// Last returns the most recent entry.
func (h *History) Last() (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if pair := h.entries.Newest(); pair != nil {
		return pair.Value, true
	}
	return Entry{}, false
}

// Find looks an entry up by ID, or by its 1-based position in Entries().
func (h *History) Find(id string) (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if e, ok := h.entries.Get(id); ok {
		return e, true
	}

	pos, err := strconv.Atoi(id)
	if err != nil || strconv.Itoa(pos) != id {
		return Entry{}, false
	}
	i := 1
	for pair := h.entries.Newest(); pair != nil; pair = pair.Prev() {
		if i == pos {
			return pair.Value, true
		}
		i++
	}
	return Entry{}, false
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.entries.Len()
}

// Clear forgets every entry.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = orderedmap.New[string, Entry]()
}

// Replace swaps the contents for entries given most recent first.
func (h *History) Replace(entries []Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = orderedmap.New[string, Entry]()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.ID == "" {
			continue
		}
		h.entries.Delete(e.ID)
		h.entries.Set(e.ID, e)
	}
	h.trim()
}

// Load replaces the contents with the stored list. A missing key leaves the
// history empty.
func (h *History) Load(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	var entries []Entry
	if err := h.store.Load(ctx, store.KeyHistory, &entries); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Clear()
			return nil
		}
		return fmt.Errorf("failed to load device history: %w", err)
	}
	h.Replace(entries)
	return nil
}

// Save writes the list, most recent first.
func (h *History) Save(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	if err := h.store.Save(ctx, store.KeyHistory, h.Entries()); err != nil {
		return fmt.Errorf("failed to save device history: %w", err)
	}
	return nil
}
