// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package framework

import (
	"sort"

	"github.com/juju/errors"

	"github.com/juju/ops/storage"
)

const storedStateKind = "StoredStateData"

// StoredStateData is the persisted form of a StoredState.
type StoredStateData struct {
	ObjectBase

	data  map[string]any
	dirty bool
}

// Snapshot is part of the Serializable interface.
func (d *StoredStateData) Snapshot() map[string]any {
	return d.data
}

// Restore is part of the Serializable interface.
func (d *StoredStateData) Restore(data map[string]any) error {
	if data == nil {
		data = make(map[string]any)
	}
	d.data = data
	return nil
}

type storedStateDataType struct{}

func (storedStateDataType) Name() string {
	return storedStateKind
}

func (storedStateDataType) Kind() string {
	return storedStateKind
}

func (storedStateDataType) New(fw *Framework, h *Handle) Serializable {
	return &StoredStateData{
		ObjectBase: ObjectBase{framework: fw, handle: h},
		data:       make(map[string]any),
	}
}

// loadStoredStateData returns the stored state called name owned by
// parent, empty if nothing was saved for it yet.
func loadStoredStateData(fw *Framework, parent Object, name string) (*StoredStateData, error) {
	fw.RegisterType(storedStateDataType{}, parent, storedStateKind)
	h := NewObjectBase(parent, storedStateKind, name).Handle()
	value, err := fw.LoadSnapshot(h)
	if IsNoSnapshotError(err) {
		data := storedStateDataType{}.New(fw, h).(*StoredStateData)
		if err := fw.track(data); err != nil {
			return nil, errors.Trace(err)
		}
		return data, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return value.(*StoredStateData), nil
}

// StoredStateChangedEvent is emitted whenever a StoredState, or one of
// the containers it holds, is modified.
type StoredStateChangedEvent struct {
	EventBase
}

var storedStateChangedEventType = NewEventType[StoredStateChangedEvent]()

// StoredState is a persistent set of named values owned by an object.
// Values are limited to what storage.Validate accepts. Changes are
// written to storage when the framework commits.
type StoredState struct {
	data    *StoredStateData
	on      *ObjectEvents
	changed *BoundEvent
}

// NewStoredState returns the stored state called name owned by parent,
// loading any previously committed values.
func NewStoredState(parent Object, name string) (*StoredState, error) {
	if parent == nil {
		return nil, errors.NotValidf("nil parent")
	}
	if name == "" {
		return nil, errors.NotValidf("empty stored state name")
	}
	fw := parent.Framework()
	data, err := loadStoredStateData(fw, parent, name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	on, err := NewObjectEvents(data, EventSource{Kind: "changed", Type: storedStateChangedEventType})
	if err != nil {
		return nil, errors.Trace(err)
	}
	s := &StoredState{
		data:    data,
		on:      on,
		changed: on.Event("changed"),
	}
	if err := fw.Observe(fw.commit, data, "on_commit", s.onCommit); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

func (s *StoredState) onCommit(Event) error {
	if !s.data.dirty {
		return nil
	}
	if err := s.data.framework.SaveSnapshot(s.data); err != nil {
		return errors.Trace(err)
	}
	s.data.dirty = false
	return nil
}

// Handle returns the handle the values are stored under.
func (s *StoredState) Handle() *Handle {
	return s.data.handle
}

// On returns the stored state's events. Its only event is "changed".
func (s *StoredState) On() *ObjectEvents {
	return s.on
}

// Changed is emitted after every modification.
func (s *StoredState) Changed() *BoundEvent {
	return s.changed
}

// Get returns the value stored under key. Maps, lists and sets are
// returned as *StoredMap, *StoredList and *StoredSet so that changes
// made through them are saved.
func (s *StoredState) Get(key string) (any, bool) {
	value, ok := s.data.data[key]
	if !ok {
		return nil, false
	}
	return s.wrap(value, func() any { return s.data.data[key] }, func(v any) { s.data.data[key] = v }), true
}

// Has reports whether key has a value.
func (s *StoredState) Has(key string) bool {
	_, ok := s.data.data[key]
	return ok
}

// Keys returns the stored keys in sorted order.
func (s *StoredState) Keys() []string {
	keys := make([]string, 0, len(s.data.data))
	for key := range s.data.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Set stores value under key.
func (s *StoredState) Set(key string, value any) error {
	if key == "on" {
		return errors.NotValidf("reserved stored state key %q", key)
	}
	if key == "" {
		return errors.NotValidf("empty stored state key")
	}
	v, err := storedValue(value)
	if err != nil {
		return errors.Annotatef(err, "setting %q", key)
	}
	s.data.data[key] = v
	return errors.Trace(s.markChanged())
}

// SetDefault stores each of the given values whose key is not set yet.
func (s *StoredState) SetDefault(defaults map[string]any) error {
	var changed bool
	keys := make([]string, 0, len(defaults))
	for key := range defaults {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if s.Has(key) {
			continue
		}
		if key == "on" {
			return errors.NotValidf("reserved stored state key %q", key)
		}
		v, err := storedValue(defaults[key])
		if err != nil {
			return errors.Annotatef(err, "setting default %q", key)
		}
		s.data.data[key] = v
		changed = true
	}
	if !changed {
		return nil
	}
	return errors.Trace(s.markChanged())
}

// Delete removes key.
func (s *StoredState) Delete(key string) error {
	if !s.Has(key) {
		return nil
	}
	delete(s.data.data, key)
	return errors.Trace(s.markChanged())
}

func (s *StoredState) markChanged() error {
	s.data.dirty = true
	return errors.Trace(s.changed.Emit())
}

// storedValue unwraps proxies in value and returns a normalised copy.
func storedValue(value any) (any, error) {
	v, err := storage.Normalize(unwrap(value))
	return v, errors.Trace(err)
}

func unwrap(value any) any {
	switch v := value.(type) {
	case *StoredMap:
		return v.m
	case *StoredList:
		return v.current()
	case *StoredSet:
		return v.set
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = unwrap(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = unwrap(item)
		}
		return out
	}
	return value
}

// wrap returns a proxy for container values. Lists are read through
// load on every call, since appending may replace the slice held by
// the parent.
func (s *StoredState) wrap(value any, load func() any, store func(any)) any {
	switch v := value.(type) {
	case map[string]any:
		return &StoredMap{state: s, m: v}
	case []any:
		return &StoredList{state: s, load: load, store: store}
	case storage.Set:
		return &StoredSet{state: s, set: v}
	}
	return value
}
