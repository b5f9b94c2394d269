// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package framework

import (
	"iter"
	"sort"

	"github.com/juju/errors"

	"github.com/juju/ops/storage"
)

// StoredMap is a map held in a StoredState.
type StoredMap struct {
	state *StoredState
	m     map[string]any
}

// Get returns the value under key, wrapped like StoredState.Get.
func (p *StoredMap) Get(key string) (any, bool) {
	value, ok := p.m[key]
	if !ok {
		return nil, false
	}
	return p.state.wrap(value, func() any { return p.m[key] }, func(v any) { p.m[key] = v }), true
}

// Set stores value under key.
func (p *StoredMap) Set(key string, value any) error {
	v, err := storedValue(value)
	if err != nil {
		return errors.Annotatef(err, "setting %q", key)
	}
	p.m[key] = v
	return errors.Trace(p.state.markChanged())
}

// Delete removes key.
func (p *StoredMap) Delete(key string) error {
	if _, ok := p.m[key]; !ok {
		return nil
	}
	delete(p.m, key)
	return errors.Trace(p.state.markChanged())
}

// Has reports whether key is present.
func (p *StoredMap) Has(key string) bool {
	_, ok := p.m[key]
	return ok
}

// Len returns the number of keys.
func (p *StoredMap) Len() int {
	return len(p.m)
}

// Keys returns the keys in sorted order.
func (p *StoredMap) Keys() []string {
	keys := make([]string, 0, len(p.m))
	for key := range p.m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// All iterates over the map in key order.
func (p *StoredMap) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, key := range p.Keys() {
			value, _ := p.Get(key)
			if !yield(key, value) {
				return
			}
		}
	}
}

// StoredList is a list held in a StoredState. Every proxy for the same
// list sees the changes made through the others.
type StoredList struct {
	state *StoredState
	load  func() any
	store func(any)
}

func (p *StoredList) current() []any {
	items, _ := p.load().([]any)
	return items
}

// Len returns the number of items.
func (p *StoredList) Len() int {
	return len(p.current())
}

// Index returns the item at i, wrapped like StoredState.Get.
func (p *StoredList) Index(i int) any {
	return p.state.wrap(p.current()[i], func() any {
		if items := p.current(); i < len(items) {
			return items[i]
		}
		return nil
	}, func(v any) {
		if items := p.current(); i < len(items) {
			items[i] = v
		}
	})
}

// SetIndex replaces the item at i.
func (p *StoredList) SetIndex(i int, value any) error {
	items := p.current()
	if i < 0 || i >= len(items) {
		return errors.NotValidf("index %d of list with %d items", i, len(items))
	}
	v, err := storedValue(value)
	if err != nil {
		return errors.Trace(err)
	}
	items[i] = v
	return errors.Trace(p.state.markChanged())
}

// Append adds values to the end of the list.
func (p *StoredList) Append(values ...any) error {
	added := make([]any, 0, len(values))
	for _, value := range values {
		v, err := storedValue(value)
		if err != nil {
			return errors.Trace(err)
		}
		added = append(added, v)
	}
	return errors.Trace(p.replace(append(p.current(), added...)))
}

// Insert puts value at i, moving later items along.
func (p *StoredList) Insert(i int, value any) error {
	items := p.current()
	if i < 0 || i > len(items) {
		return errors.NotValidf("index %d of list with %d items", i, len(items))
	}
	v, err := storedValue(value)
	if err != nil {
		return errors.Trace(err)
	}
	out := make([]any, 0, len(items)+1)
	out = append(out, items[:i]...)
	out = append(out, v)
	out = append(out, items[i:]...)
	return errors.Trace(p.replace(out))
}

// Remove deletes the item at i.
func (p *StoredList) Remove(i int) error {
	items := p.current()
	if i < 0 || i >= len(items) {
		return errors.NotValidf("index %d of list with %d items", i, len(items))
	}
	out := make([]any, 0, len(items)-1)
	out = append(out, items[:i]...)
	out = append(out, items[i+1:]...)
	return errors.Trace(p.replace(out))
}

func (p *StoredList) replace(items []any) error {
	p.store(items)
	return p.state.markChanged()
}

// All iterates over the list in order.
func (p *StoredList) All() iter.Seq2[int, any] {
	return func(yield func(int, any) bool) {
		for i := 0; i < p.Len(); i++ {
			if !yield(i, p.Index(i)) {
				return
			}
		}
	}
}

// StoredSet is a set held in a StoredState.
type StoredSet struct {
	state *StoredState
	set   storage.Set
}

// Len returns the number of members.
func (p *StoredSet) Len() int {
	return p.set.Len()
}

// Contains reports whether item is a member.
func (p *StoredSet) Contains(item any) bool {
	return p.set.Contains(item)
}

// Items returns the members in a stable order.
func (p *StoredSet) Items() []any {
	return p.set.Items()
}

// Add makes item a member.
func (p *StoredSet) Add(item any) error {
	if p.set.Contains(item) {
		return nil
	}
	if err := p.set.Add(item); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(p.state.markChanged())
}

// Discard removes item if it is a member.
func (p *StoredSet) Discard(item any) error {
	if !p.set.Remove(item) {
		return nil
	}
	return errors.Trace(p.state.markChanged())
}
