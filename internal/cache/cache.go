// Package cache provides a bounded key/value cache that evicts in batches of
// the oldest-inserted entries once it is full.
//
// Lookups never reorder entries: eviction order is insertion order, not
// access recency.
package cache

import (
	"container/list"
	"fmt"
	"reflect"
	"sync"

	"github.com/ringstore/ringstore/internal/journal"
)

const (
	// DefaultMaxSize is used when Config.MaxSize is not positive.
	DefaultMaxSize = 1000
	// DefaultTrimSize is used when Config.TrimSize is not positive.
	DefaultTrimSize = 100
)

// Config configures a Cache.
type Config[V any] struct {
	MaxSize  int
	TrimSize int
	// Equal decides whether a Put is a no-op. Defaults to reflect.DeepEqual.
	Equal func(a, b V) bool
	// Journal receives one line per mutation. Defaults to journal.Nop().
	Journal journal.Sink
}

// Stats is a point-in-time copy of the cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Puts      int64
	Evictions uint64
	Size      int
	MaxSize   int
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Cache is a size-bounded map with FIFO batch eviction.
// All methods are safe for concurrent use.
type Cache[K comparable, V any] struct {
	maxSize  int
	trimSize int
	equal    func(a, b V) bool
	journal  journal.Sink

	entries map[K]*list.Element
	order   *list.List // front = oldest insertion

	hits      uint64
	misses    uint64
	puts      int64
	evictions uint64

	mu sync.Mutex
}

// New creates a cache from cfg, applying defaults.
func New[K comparable, V any](cfg Config[V]) *Cache[K, V] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.TrimSize <= 0 {
		cfg.TrimSize = DefaultTrimSize
	}
	if cfg.TrimSize > cfg.MaxSize {
		cfg.TrimSize = cfg.MaxSize
	}
	if cfg.Equal == nil {
		cfg.Equal = func(a, b V) bool { return reflect.DeepEqual(a, b) }
	}
	if cfg.Journal == nil {
		cfg.Journal = journal.Nop()
	}
	return &Cache[K, V]{
		maxSize:  cfg.MaxSize,
		trimSize: cfg.TrimSize,
		equal:    cfg.Equal,
		journal:  cfg.Journal,
		entries:  make(map[K]*list.Element),
		order:    list.New(),
	}
}

func checkKey[K comparable](key K) error {
	var zero K
	if key == zero {
		return fmt.Errorf("zero key: %w", ErrInvalidArgument)
	}
	return nil
}

func checkValue[V any](value V) error {
	if isNil(value) {
		return fmt.Errorf("nil value: %w", ErrInvalidArgument)
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Put stores value under key. It reports false when key already holds an
// equal value, in which case nothing changes. Admitting a new key into a
// full cache trims it first.
func (c *Cache[K, V]) Put(key K, value V) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	if err := checkValue(value); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.putLocked(key, value), nil
}

func (c *Cache[K, V]) putLocked(key K, value V) bool {
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[K, V])
		if c.equal(e.value, value) {
			return false
		}
		e.value = value
	} else {
		if len(c.entries) >= c.maxSize {
			c.trimLocked()
		}
		c.entries[key] = c.order.PushBack(&entry[K, V]{key: key, value: value})
	}
	c.puts++
	c.journal.Logf("The key %v and value %v added successfully", key, value)
	return true
}

// Update overwrites the value of an existing key in place, keeping its
// eviction position. An absent key is stored as by Put.
func (c *Cache[K, V]) Update(key K, value V) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.putLocked(key, value)
		return nil
	}
	e := el.Value.(*entry[K, V])
	c.journal.Logf("The key's %v value %v is updated with %v", key, e.value, value)
	e.value = value
	return nil
}

// Get returns the value for key and whether it was present.
func (c *Cache[K, V]) Get(key K) (V, bool, error) {
	var zero V
	if err := checkKey(key); err != nil {
		return zero, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false, nil
	}
	c.hits++
	return el.Value.(*entry[K, V]).value, true, nil
}

// Remove drops key without counting it as an eviction.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.entries, key)
	c.journal.Logf("The key %v removed", key)
	return true
}

// RemoveFunc drops every key for which match returns true and returns how
// many were removed.
func (c *Cache[K, V]) RemoveFunc(match func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry[K, V])
		if match(e.key) {
			c.order.Remove(el)
			delete(c.entries, e.key)
			removed++
		}
		el = next
	}
	if removed > 0 {
		c.journal.Logf("Removed %d keys", removed)
	}
	return removed
}

// trimLocked evicts the trimSize oldest entries (caller must hold lock).
func (c *Cache[K, V]) trimLocked() {
	for i := 0; i < c.trimSize; i++ {
		el := c.order.Front()
		if el == nil {
			break
		}
		c.order.Remove(el)
		delete(c.entries, el.Value.(*entry[K, V]).key)
		c.evictions++
		c.puts--
	}
	c.journal.Logf("Trimmed the cache size till %d", c.trimSize)
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the current counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Puts:      c.puts,
		Evictions: c.evictions,
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
	}
}
