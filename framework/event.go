// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package framework

import (
	"reflect"

	"github.com/juju/errors"
)

// Serializable is implemented by anything the framework can persist and
// later rebuild from storage.
type Serializable interface {
	// Handle returns where the value lives.
	Handle() *Handle

	// Snapshot returns the value's state. It must only hold nil, bools,
	// numbers, strings, byte slices, []any, map[string]any and
	// storage.Set values.
	Snapshot() map[string]any

	// Restore loads state previously returned by Snapshot into a blank
	// value.
	Restore(map[string]any) error
}

// Event is an emitted event. Concrete events embed EventBase and
// override Snapshot and Restore to carry their own fields.
type Event interface {
	Serializable

	// Defer asks for the event to be delivered again to the current
	// observer the next time notices are replayed.
	Defer()

	// Deferred reports whether Defer was called during this delivery.
	Deferred() bool

	base() *EventBase
}

// EventBase holds the state every event shares.
type EventBase struct {
	handle   *Handle
	deferred bool
}

// Handle is part of the Serializable interface.
func (e *EventBase) Handle() *Handle {
	return e.handle
}

// Snapshot is part of the Serializable interface.
func (e *EventBase) Snapshot() map[string]any {
	return nil
}

// Restore is part of the Serializable interface.
func (e *EventBase) Restore(map[string]any) error {
	return nil
}

// Defer is part of the Event interface.
func (e *EventBase) Defer() {
	logger.Debugf("deferring %s", e.handle)
	e.deferred = true
}

// Deferred is part of the Event interface.
func (e *EventBase) Deferred() bool {
	return e.deferred
}

func (e *EventBase) base() *EventBase {
	return e
}

// EventType describes a concrete event type so that blank events can be
// built for emission and for restoring snapshots.
type EventType struct {
	name     string
	newEvent func(*Handle) Event
}

// NewEventType returns the EventType for *T.
func NewEventType[T any, PT interface {
	*T
	Event
}]() *EventType {
	return &EventType{
		name: reflect.TypeFor[T]().Name(),
		newEvent: func(h *Handle) Event {
			e := PT(new(T))
			e.base().handle = h
			return e
		},
	}
}

// Name is part of the Type interface.
func (t *EventType) Name() string {
	return t.name
}

// Kind is part of the Type interface. Events are always registered
// under the kind of the source that emits them, so this is only a
// fallback.
func (t *EventType) Kind() string {
	return t.name
}

// New is part of the Type interface.
func (t *EventType) New(_ *Framework, h *Handle) Serializable {
	return t.newEvent(h)
}

func (t *EventType) validate() error {
	if t == nil || t.newEvent == nil {
		return errors.NotValidf("event type")
	}
	return nil
}

// EventSource declares a named, typed event on an emitter.
type EventSource struct {
	Kind string
	Type *EventType
}

// EmitOption sets up a freshly built event before it is saved.
type EmitOption func(Event) error

// With returns an EmitOption that passes the event to fn when it is a T.
func With[T Event](fn func(T)) EmitOption {
	return func(e Event) error {
		t, ok := e.(T)
		if !ok {
			return errors.NotValidf("emit option for %s applied to %T", reflect.TypeFor[T](), e)
		}
		fn(t)
		return nil
	}
}

// BoundEvent is an event source bound to the emitter that owns it.
type BoundEvent struct {
	emitter *ObjectEvents
	kind    string
	typ     *EventType
}

// Kind returns the event kind, which is also the kind of every emitted
// event's handle.
func (b *BoundEvent) Kind() string {
	return b.kind
}

// Emitter returns the object events are emitted on.
func (b *BoundEvent) Emitter() Object {
	return b.emitter
}

// Type returns the type of the events.
func (b *BoundEvent) Type() *EventType {
	return b.typ
}

// Emit builds a new event, applies opts to it and notifies every
// matching observer.
func (b *BoundEvent) Emit(opts ...EmitOption) error {
	fw := b.emitter.Framework()
	e := b.typ.newEvent(b.emitter.Handle().Nest(b.kind, fw.nextEventKey()))
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Annotatef(fw.emit(e), "emitting %s", b.kind)
}
