// Package ring implements a consistent-hashing ring over an open-addressed
// slot table.
//
// A node lives in the slot given by hash(id) mod capacity, or in the first
// empty slot after it (wrapping). A key is served by the node in its own slot
// or, if that slot is empty, by the first occupied slot clockwise. When a
// registration finds no empty slot the table grows to 2*capacity+1 and every
// node is rehashed.
package ring

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1000

// HashFunc maps a key to a uniformly distributed 64-bit value. It must be
// deterministic.
type HashFunc func(key string) uint64

// Option configures a Ring.
type Option func(*Ring)

// WithHashFunc replaces the default xxhash-based hash.
func WithHashFunc(h HashFunc) Option {
	return func(r *Ring) {
		if h != nil {
			r.hash = h
		}
	}
}

// Ring is a fixed-capacity table of node slots. All methods are safe for
// concurrent use; growth happens under the write lock so no lookup ever sees
// a half-rehashed table.
type Ring struct {
	slots []*Node
	index map[string]int // node ID -> slot
	hash  HashFunc
	mu    sync.RWMutex
}

// New creates an empty ring with the given capacity.
func New(capacity int, opts ...Option) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Ring{
		slots: make([]*Node, capacity),
		index: make(map[string]int),
		hash:  xxhash.Sum64String,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Ring) slotFor(key string, capacity int) int {
	return int(r.hash(key) % uint64(capacity))
}

// probeEmpty returns the first empty slot at or after start, wrapping once.
func probeEmpty(slots []*Node, start int) (int, bool) {
	for off := 0; off < len(slots); off++ {
		i := (start + off) % len(slots)
		if slots[i] == nil {
			return i, true
		}
	}
	return -1, false
}

// Register places n on the ring. Registering an ID that is already present
// replaces that node in its current slot.
func (r *Ring) Register(n *Node) error {
	if n == nil {
		return fmt.Errorf("nil node: %w", ErrInvalidArgument)
	}
	if n.ID == "" {
		return fmt.Errorf("node without id: %w", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	node := *n
	if i, ok := r.index[node.ID]; ok {
		r.slots[i] = &node
		return nil
	}

	for !r.placeLocked(&node) {
		r.growLocked()
	}

	log.Debug().
		Str("node", node.ID).
		Int("slot", r.index[node.ID]).
		Int("capacity", len(r.slots)).
		Msg("Node registered")
	return nil
}

// placeLocked puts n in its canonical slot or the next empty one. It reports
// false when the table is full (caller must hold lock).
func (r *Ring) placeLocked(n *Node) bool {
	i, ok := probeEmpty(r.slots, r.slotFor(n.ID, len(r.slots)))
	if !ok {
		return false
	}
	r.slots[i] = n
	r.index[n.ID] = i
	return true
}

// growLocked resizes the table to 2*capacity+1 and rehashes every node
// (caller must hold lock).
func (r *Ring) growLocked() {
	oldCap := len(r.slots)
	newCap := 2*oldCap + 1
	slots := make([]*Node, newCap)
	index := make(map[string]int, len(r.index))

	for _, n := range r.slots {
		if n == nil {
			continue
		}
		// The new table is strictly larger than the node count, so a slot
		// is always found.
		i, _ := probeEmpty(slots, r.slotFor(n.ID, newCap))
		slots[i] = n
		index[n.ID] = i
	}

	r.slots = slots
	r.index = index

	log.Debug().
		Int("old_capacity", oldCap).
		Int("new_capacity", newCap).
		Int("nodes", len(index)).
		Msg("Ring grown")
}

// Lookup returns the node serving key: the node in the key's slot, else the
// first occupied slot clockwise. The node may be down; failover is the
// caller's decision. It reports false when the ring holds no live node.
func (r *Ring) Lookup(key string) (Node, bool) {
	return r.lookup(key, false)
}

// LookupLive is like Lookup but skips nodes that are down, returning the
// first live successor.
func (r *Ring) LookupLive(key string) (Node, bool) {
	return r.lookup(key, true)
}

func (r *Ring) lookup(key string, liveOnly bool) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.index) == 0 {
		return Node{}, false
	}
	start := r.slotFor(key, len(r.slots))
	var owner *Node
	for off := 0; off < len(r.slots); off++ {
		n := r.slots[(start+off)%len(r.slots)]
		if n == nil {
			continue
		}
		if !n.Down {
			if owner == nil || liveOnly {
				return *n, true
			}
			return *owner, true
		}
		if owner == nil {
			owner = n
		}
	}
	return Node{}, false
}

// SoftDelete marks the node down without freeing its slot, so keys keep
// mapping to the same position.
func (r *Ring) SoftDelete(id string) bool {
	return r.setDown(id, true)
}

// Revive clears the down flag set by SoftDelete.
func (r *Ring) Revive(id string) bool {
	return r.setDown(id, false)
}

func (r *Ring) setDown(id string, down bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return false
	}
	node := *r.slots[i]
	node.Down = down
	r.slots[i] = &node

	log.Debug().Str("node", id).Bool("down", down).Msg("Node liveness changed")
	return true
}

// HardDelete frees the node's slot for reuse.
func (r *Ring) HardDelete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return false
	}
	r.slots[i] = nil
	delete(r.index, id)

	log.Debug().Str("node", id).Int("slot", i).Msg("Node removed")
	return true
}

// Capacity returns the current number of slots.
func (r *Ring) Capacity() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// Len returns the number of occupied slots, down nodes included.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// DownCount returns how many registered nodes are marked down.
func (r *Ring) DownCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	down := 0
	for _, i := range r.index {
		if r.slots[i].Down {
			down++
		}
	}
	return down
}

// SlotOf returns the slot holding the node with the given ID.
func (r *Ring) SlotOf(id string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	return i, ok
}

// Nodes returns copies of all registered nodes in slot order.
func (r *Ring) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.index))
	for _, n := range r.slots {
		if n != nil {
			out = append(out, *n)
		}
	}
	return out
}
