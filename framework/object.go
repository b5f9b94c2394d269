// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package framework

import (
	"go/token"
	"reflect"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Object is anything with a place in the framework's handle tree.
type Object interface {
	Handle() *Handle
	Framework() *Framework
}

// ObjectBase implements Object. It is meant to be embedded.
type ObjectBase struct {
	framework *Framework
	handle    *Handle
}

// NewObjectBase returns an ObjectBase for a child of parent. Children of
// the Framework itself get top level handles.
func NewObjectBase(parent Object, kind, key string) ObjectBase {
	var h *Handle
	if _, ok := parent.(*Framework); ok {
		h = NewHandle(nil, kind, key)
	} else {
		h = parent.Handle().Nest(kind, key)
	}
	return ObjectBase{
		framework: parent.Framework(),
		handle:    h,
	}
}

// Handle is part of the Object interface.
func (o ObjectBase) Handle() *Handle {
	return o.handle
}

// Framework is part of the Object interface.
func (o ObjectBase) Framework() *Framework {
	return o.framework
}

// KindOf returns the name of v's type, looking through pointers. It is
// the usual handle kind for an object.
func KindOf(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

// reservedKinds cannot be used as event kinds.
var reservedKinds = set.NewStrings("events", "define_event", "framework", "handle", "on")

// ObjectEvents is the container of the events an object emits. Its
// handle is the owner's handle nested with kind "on". Every instance has
// its own table of event kinds.
type ObjectEvents struct {
	ObjectBase

	kinds  []string
	events map[string]*BoundEvent
}

// NewObjectEvents returns the events container for parent with the given
// sources defined on it.
func NewObjectEvents(parent Object, sources ...EventSource) (*ObjectEvents, error) {
	if parent == nil {
		return nil, errors.NotValidf("nil parent")
	}
	events := &ObjectEvents{
		ObjectBase: ObjectBase{
			framework: parent.Framework(),
			handle:    parent.Handle().Nest("on", ""),
		},
		events: make(map[string]*BoundEvent),
	}
	for _, source := range sources {
		if _, err := events.DefineEvent(source.Kind, source.Type); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return events, nil
}

// DefineEvent adds an event kind to this container and registers its
// type with the framework.
func (o *ObjectEvents) DefineEvent(kind string, typ *EventType) (*BoundEvent, error) {
	if !token.IsIdentifier(kind) {
		return nil, errors.NotValidf("event kind %q", kind)
	}
	if reservedKinds.Contains(kind) {
		return nil, errors.NotValidf("reserved event kind %q", kind)
	}
	if _, ok := o.events[kind]; ok {
		return nil, errors.NotValidf("event kind %q already defined on %s", kind, o.handle)
	}
	if err := typ.validate(); err != nil {
		return nil, errors.Annotatef(err, "defining %q", kind)
	}
	bound := &BoundEvent{
		emitter: o,
		kind:    kind,
		typ:     typ,
	}
	o.framework.RegisterType(typ, o, kind)
	o.kinds = append(o.kinds, kind)
	o.events[kind] = bound
	return bound, nil
}

// Event returns the event of the given kind, or nil.
func (o *ObjectEvents) Event(kind string) *BoundEvent {
	return o.events[kind]
}

// Events returns every defined event in definition order.
func (o *ObjectEvents) Events() []*BoundEvent {
	out := make([]*BoundEvent, len(o.kinds))
	for i, kind := range o.kinds {
		out[i] = o.events[kind]
	}
	return out
}

// Kinds returns the defined event kinds in definition order.
func (o *ObjectEvents) Kinds() []string {
	return append([]string(nil), o.kinds...)
}
