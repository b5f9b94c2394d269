// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storage

import (
	"sort"

	"github.com/juju/errors"
)

// Set is an unordered collection of distinct scalar values (bools,
// integers, floats and strings) that can be persisted in a snapshot.
type Set map[any]struct{}

// NewSet returns a set holding the given items. Integers are normalised
// to int and floats to float64 so that equal numbers are equal members.
// It panics if an item is not a scalar.
func NewSet(items ...any) Set {
	s := make(Set, len(items))
	for _, item := range items {
		if err := s.Add(item); err != nil {
			panic(err)
		}
	}
	return s
}

// Add inserts item into the set.
func (s Set) Add(item any) error {
	v, err := setMember(item)
	if err != nil {
		return err
	}
	s[v] = struct{}{}
	return nil
}

// Remove deletes item from the set. It reports whether the item was
// present.
func (s Set) Remove(item any) bool {
	v, err := setMember(item)
	if err != nil {
		return false
	}
	if _, ok := s[v]; !ok {
		return false
	}
	delete(s, v)
	return true
}

// Contains reports whether item is in the set.
func (s Set) Contains(item any) bool {
	v, err := setMember(item)
	if err != nil {
		return false
	}
	_, ok := s[v]
	return ok
}

// Len returns the number of members.
func (s Set) Len() int {
	return len(s)
}

// Items returns the members in a deterministic order: bools, then
// numbers, then strings, each in ascending order.
func (s Set) Items() []any {
	items := make([]any, 0, len(s))
	for item := range s {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return lessMember(items[i], items[j])
	})
	return items
}

func setMember(item any) (any, error) {
	switch v := item.(type) {
	case bool, string:
		return v, nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	if i, ok, err := toInt(item); ok {
		return i, err
	}
	return nil, errors.Errorf("set members must be bools, numbers or strings, not %T", item)
}

func memberRank(v any) int {
	switch v.(type) {
	case bool:
		return 0
	case int, float64:
		return 1
	default:
		return 2
	}
}

func lessMember(a, b any) bool {
	ra, rb := memberRank(a), memberRank(b)
	if ra != rb {
		return ra < rb
	}
	switch av := a.(type) {
	case bool:
		return !av && b.(bool)
	case string:
		return av < b.(string)
	}
	return numberOf(a) < numberOf(b)
}

func numberOf(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
