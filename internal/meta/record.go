// Package meta holds the string-keyed metadata attached to buckets and objects.
package meta

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
)

// Record is a set of unique metadata keys mapped to values.
// It is safe for concurrent use.
type Record struct {
	entries map[string]Value
	mu      sync.RWMutex
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{entries: make(map[string]Value)}
}

func validate(key string, v Value) error {
	if key == "" {
		return fmt.Errorf("empty key: %w", ErrInvalidArgument)
	}
	if v.IsEmpty() {
		return fmt.Errorf("empty value for key %q: %w", key, ErrInvalidArgument)
	}
	if f, ok := v.Float(); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return fmt.Errorf("non-finite number for key %q: %w", key, ErrInvalidArgument)
	}
	return nil
}

// Add sets key to v, overwriting any existing entry.
func (r *Record) Add(key string, v Value) error {
	if err := validate(key, v); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = v
	return nil
}

// AddAll merges entries into the record, overwriting existing keys.
// Every entry is validated before any is applied.
func (r *Record) AddAll(entries map[string]Value) error {
	for k, v := range entries {
		if err := validate(k, v); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range entries {
		r.entries[k] = v
	}
	return nil
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (Value, error) {
	if key == "" {
		return Value{}, fmt.Errorf("empty key: %w", ErrInvalidArgument)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[key]
	if !ok {
		return Value{}, fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	return v, nil
}

// Update replaces the value of an existing key.
func (r *Record) Update(key string, v Value) error {
	if err := validate(key, v); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; !ok {
		return fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	r.entries[key] = v
	return nil
}

// Delete removes an existing key.
func (r *Record) Delete(key string) error {
	if key == "" {
		return fmt.Errorf("empty key: %w", ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; !ok {
		return fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	delete(r.entries, key)
	return nil
}

// All returns a copy of every entry. Later mutations of the record are not
// reflected in the returned map.
func (r *Record) All() map[string]Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Value, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of entries.
func (r *Record) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// MarshalJSON encodes the record as a flat JSON object.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.All())
}
