// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package framework implements the persistent event bus charms are
// built on. Emitted events and the notices owed to their observers are
// written to storage before any observer runs, and pending notices are
// replayed at the start of every hook invocation.
package framework

import (
	"reflect"
	"strconv"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/mohae/deepcopy"

	"github.com/juju/ops/storage"
)

var logger = loggo.GetLogger("juju.ops.framework")

// Logger is the logging interface used by the Framework.
type Logger interface {
	Debugf(string, ...interface{})
	Warningf(string, ...interface{})
}

// Type describes a Serializable type the framework can rebuild from a
// snapshot.
type Type interface {
	// Name identifies the type in errors and logs.
	Name() string

	// Kind is the handle kind used when registering without an explicit
	// kind.
	Kind() string

	// New returns a blank value bound to h, ready to have Restore
	// called on it.
	New(fw *Framework, h *Handle) Serializable
}

// Handler handles a delivered event.
type Handler func(Event) error

// MethodSet is implemented by observers that expose their handlers by
// name, so they can be subscribed with ObserveMethods.
type MethodSet interface {
	Object

	// Method returns the handler with the given name.
	Method(name string) (Handler, bool)
}

// Config holds the dependencies of a Framework.
type Config struct {
	// Storage is where snapshots and notices are kept.
	Storage storage.Storage

	// Logger is optional.
	Logger Logger
}

// Validate checks that the config is usable.
func (c Config) Validate() error {
	if c.Storage == nil {
		return errors.NotValidf("nil Storage")
	}
	return nil
}

// Framework owns the storage, the type registry and the observer
// subscriptions of one hook invocation.
type Framework struct {
	storage storage.Storage
	logger  Logger
	handle  *Handle

	on        *ObjectEvents
	preCommit *BoundEvent
	commit    *BoundEvent

	stored     *StoredStateData
	eventCount int

	types     map[typeKey]Type
	known     map[reflect.Type]bool
	observers []observer
	handlers  map[handlerKey]Handler
	objects   map[string]Serializable
}

type typeKey struct {
	parentPath string
	kind       string
}

// handlerKey identifies one subscription. An empty kind subscribes to
// every event on the emitter.
type handlerKey struct {
	observerPath string
	method       string
	emitterPath  string
	kind         string
}

type observer struct {
	observerPath string
	method       string
	emitterPath  string
	kind         string
}

// PreCommitEvent is emitted by Commit before CommitEvent.
type PreCommitEvent struct {
	EventBase
}

// CommitEvent is emitted by Commit just before stored state is written
// and the storage transaction is committed.
type CommitEvent struct {
	EventBase
}

var (
	preCommitEventType = NewEventType[PreCommitEvent]()
	commitEventType    = NewEventType[CommitEvent]()
)

// NewFramework returns a Framework using the configured storage. The
// event counter is loaded from storage so event handles stay unique
// across invocations.
func NewFramework(config Config) (*Framework, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	f := &Framework{
		storage:  config.Storage,
		logger:   config.Logger,
		handle:   NewHandle(nil, "Framework", ""),
		types:    make(map[typeKey]Type),
		known:    make(map[reflect.Type]bool),
		handlers: make(map[handlerKey]Handler),
		objects:  make(map[string]Serializable),
	}
	if f.logger == nil {
		f.logger = logger
	}

	var err error
	f.on, err = NewObjectEvents(f,
		EventSource{Kind: "pre_commit", Type: preCommitEventType},
		EventSource{Kind: "commit", Type: commitEventType},
	)
	if err != nil {
		return nil, errors.Trace(err)
	}
	f.preCommit = f.on.Event("pre_commit")
	f.commit = f.on.Event("commit")

	f.stored, err = loadStoredStateData(f, f, "_stored")
	if err != nil {
		return nil, errors.Trace(err)
	}
	if count, ok := f.stored.data["event_count"].(int); ok {
		f.eventCount = count
	}
	if err := f.skipPendingKeys(); err != nil {
		return nil, errors.Trace(err)
	}
	return f, nil
}

// skipPendingKeys moves the event counter past the keys of pending
// events, which may have been committed by an invocation that never
// reached Commit.
func (f *Framework) skipPendingKeys() error {
	for notice, err := range f.storage.Notices("") {
		if err != nil {
			return errors.Trace(err)
		}
		h, err := ParseHandle(notice.EventPath)
		if err != nil {
			continue
		}
		if key, err := strconv.Atoi(h.Key()); err == nil && key > f.eventCount {
			f.eventCount = key
		}
	}
	return nil
}

// Handle is part of the Object interface.
func (f *Framework) Handle() *Handle {
	return f.handle
}

// Framework is part of the Object interface.
func (f *Framework) Framework() *Framework {
	return f
}

// On returns the framework's own events, pre_commit and commit.
func (f *Framework) On() *ObjectEvents {
	return f.on
}

// PreCommit returns the event emitted first by Commit.
func (f *Framework) PreCommit() *BoundEvent {
	return f.preCommit
}

// CommitEvent returns the event emitted by Commit after pre_commit.
func (f *Framework) CommitEvent() *BoundEvent {
	return f.commit
}

func parentPath(parent Object) string {
	if parent == nil {
		return ""
	}
	if _, ok := parent.(*Framework); ok {
		return ""
	}
	return parent.Handle().Path()
}

// RegisterType records that snapshots stored under parent with the given
// kind are rebuilt using t. An empty kind means t.Kind(), and a nil or
// Framework parent means top level handles.
func (f *Framework) RegisterType(t Type, parent Object, kind string) {
	if kind == "" {
		kind = t.Kind()
	}
	f.types[typeKey{parentPath: parentPath(parent), kind: kind}] = t
	f.known[reflect.TypeOf(t.New(f, nil))] = true
}

// SaveSnapshot stores value's snapshot under its handle path.
func (f *Framework) SaveSnapshot(value Serializable) error {
	if !f.known[reflect.TypeOf(value)] {
		return errors.Errorf("cannot save %T values before registering that type", value)
	}
	path := value.Handle().Path()
	blob, err := storage.Encode(value.Snapshot())
	if err != nil {
		return errors.Annotatef(err, "snapshot of %s", path)
	}
	return errors.Trace(f.storage.SaveSnapshot(path, blob))
}

// LoadSnapshot rebuilds the value stored at h.
func (f *Framework) LoadSnapshot(h *Handle) (Serializable, error) {
	typ, data, err := f.loadData(h)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return f.restore(typ, h, data)
}

// DropSnapshot removes whatever is stored at h.
func (f *Framework) DropSnapshot(h *Handle) error {
	return errors.Trace(f.storage.DropSnapshot(h.Path()))
}

func (f *Framework) loadData(h *Handle) (Type, map[string]any, error) {
	typ, ok := f.types[typeKey{parentPath: h.Parent().Path(), kind: h.Kind()}]
	if !ok {
		return nil, nil, &NoTypeError{HandlePath: h.Path()}
	}
	blob, err := f.storage.LoadSnapshot(h.Path())
	if errors.Is(err, errors.NotFound) {
		return nil, nil, &NoSnapshotError{HandlePath: h.Path()}
	} else if err != nil {
		return nil, nil, errors.Trace(err)
	}
	data, err := storage.Decode(blob)
	if err != nil {
		return nil, nil, errors.Annotatef(err, "decoding snapshot of %s", h)
	}
	return typ, data, nil
}

func (f *Framework) restore(typ Type, h *Handle, data map[string]any) (Serializable, error) {
	value := typ.New(f, h)
	if err := value.Restore(data); err != nil {
		return nil, errors.Annotatef(err, "restoring %s", h)
	}
	if err := f.track(value); err != nil {
		return nil, errors.Trace(err)
	}
	return value, nil
}

func (f *Framework) track(value Serializable) error {
	path := value.Handle().Path()
	if _, ok := f.objects[path]; ok {
		return errors.Errorf("two objects claiming to be %s have been created", path)
	}
	f.objects[path] = value
	return nil
}

func (f *Framework) forget(value Serializable) {
	delete(f.objects, value.Handle().Path())
}

// Observe subscribes fn to event. The method name is what notices record
// for observer, so it must stay the same across charm versions for
// pending notices to be delivered. One method name may observe several
// events, each with its own handler, but not the same event twice
// through both Observe and ObserveAll.
func (f *Framework) Observe(event *BoundEvent, observer Object, method string, fn Handler) error {
	if event == nil {
		return errors.NotValidf("nil event")
	}
	return errors.Trace(f.observe(event.emitter, event, observer, method, fn))
}

// ObserveMethods subscribes observer's "on_<kind>" method to event.
func (f *Framework) ObserveMethods(event *BoundEvent, observer MethodSet) error {
	if event == nil {
		return errors.NotValidf("nil event")
	}
	if observer == nil {
		return errors.NotValidf("nil observer")
	}
	method := "on_" + event.kind
	fn, ok := observer.Method(method)
	if !ok {
		return errors.NotValidf("observer %s has no method %q", observer.Handle(), method)
	}
	return errors.Trace(f.observe(event.emitter, event, observer, method, fn))
}

// ObserveAll subscribes fn to every event emitted on events, including
// kinds defined after this call.
func (f *Framework) ObserveAll(events *ObjectEvents, observer Object, method string, fn Handler) error {
	if events == nil {
		return errors.NotValidf("nil events")
	}
	return errors.Trace(f.observe(events, nil, observer, method, fn))
}

// observe records a subscription to event on emitter, or to every event
// on emitter when event is nil.
func (f *Framework) observe(emitter *ObjectEvents, event *BoundEvent, o Object, method string, fn Handler) error {
	if o == nil {
		return errors.NotValidf("nil observer")
	}
	if method == "" {
		return errors.NotValidf("empty method name")
	}
	if fn == nil {
		return errors.NotValidf("nil handler for %q", method)
	}
	var kind string
	if event != nil {
		kind = event.kind
		f.RegisterType(event.typ, emitter, kind)
	}
	entry := observer{
		observerPath: o.Handle().Path(),
		method:       method,
		emitterPath:  emitter.Handle().Path(),
		kind:         kind,
	}
	for _, existing := range f.observers {
		if existing == entry {
			f.handlers[handlerKey(entry)] = fn
			return nil
		}
		if existing.observerPath == entry.observerPath && existing.method == method &&
			existing.emitterPath == entry.emitterPath && (existing.kind == "" || kind == "") {
			return errors.NotValidf("%s.%s observing %s twice", entry.observerPath, method, entry.emitterPath)
		}
	}
	f.handlers[handlerKey(entry)] = fn
	f.observers = append(f.observers, entry)
	return nil
}

func (f *Framework) nextEventKey() string {
	f.eventCount++
	f.stored.data["event_count"] = f.eventCount
	return strconv.Itoa(f.eventCount)
}

func (f *Framework) emit(e Event) error {
	h := e.Handle()
	eventPath := h.Path()
	emitterPath := h.Parent().Path()
	saved := false
	for _, o := range f.observers {
		if o.emitterPath != emitterPath || (o.kind != "" && o.kind != h.Kind()) {
			continue
		}
		if !saved {
			if err := f.SaveSnapshot(e); err != nil {
				return errors.Trace(err)
			}
			saved = true
		}
		if err := f.storage.SaveNotice(eventPath, o.observerPath, o.method); err != nil {
			return errors.Trace(err)
		}
	}
	if !saved {
		return nil
	}
	return errors.Trace(f.reemit(eventPath))
}

// Reemit delivers every pending notice in the order it was saved.
func (f *Framework) Reemit() error {
	return errors.Trace(f.reemit(""))
}

// pending is the decoded snapshot shared by every notice of one event.
type pending struct {
	handle *Handle
	typ    Type
	data   map[string]any
	err    error
}

func (f *Framework) reemit(eventPath string) error {
	var (
		current  *pending
		deferred bool
	)
	finish := func() error {
		if current == nil || deferred {
			return nil
		}
		return errors.Trace(f.DropSnapshot(current.handle))
	}
	for notice, err := range f.storage.Notices(eventPath) {
		if err != nil {
			return errors.Trace(err)
		}
		if current == nil || current.handle.Path() != notice.EventPath {
			if err := finish(); err != nil {
				return errors.Trace(err)
			}
			current, deferred = f.pendingEvent(notice.EventPath), false
		}
		if IsNoTypeError(current.err) {
			f.logger.Warningf("dropping notice for %s: %v", notice, current.err)
			if err := f.storage.DropNotice(notice.EventPath, notice.ObserverPath, notice.MethodName); err != nil {
				return errors.Trace(err)
			}
			continue
		} else if current.err != nil {
			return errors.Trace(current.err)
		}

		wasDeferred, err := f.deliver(current, notice)
		if err != nil {
			return errors.Trace(err)
		}
		if wasDeferred {
			deferred = true
			continue
		}
		if err := f.storage.DropNotice(notice.EventPath, notice.ObserverPath, notice.MethodName); err != nil {
			return errors.Trace(err)
		}
	}
	return finish()
}

func (f *Framework) pendingEvent(eventPath string) *pending {
	h, err := ParseHandle(eventPath)
	if err != nil {
		return &pending{handle: NewHandle(nil, eventPath, ""), err: errors.Trace(err)}
	}
	typ, data, err := f.loadData(h)
	return &pending{handle: h, typ: typ, data: data, err: err}
}

// deliver hands a fresh copy of the pending event to the notice's
// observer and reports whether the observer deferred it.
func (f *Framework) deliver(p *pending, notice storage.Notice) (bool, error) {
	data, _ := deepcopy.Copy(p.data).(map[string]any)
	value, err := f.restore(p.typ, p.handle, data)
	if err != nil {
		return false, errors.Trace(err)
	}
	defer f.forget(value)

	e, ok := value.(Event)
	if !ok {
		return false, errors.NotValidf("%s of type %T is not an event", p.handle, value)
	}
	e.base().deferred = false
	key := handlerKey{
		observerPath: notice.ObserverPath,
		method:       notice.MethodName,
		emitterPath:  p.handle.Parent().Path(),
		kind:         p.handle.Kind(),
	}
	fn, ok := f.handlers[key]
	if !ok {
		key.kind = ""
		fn, ok = f.handlers[key]
	}
	if !ok {
		f.logger.Debugf("no observer for %s in this process", notice)
		return false, nil
	}
	f.logger.Debugf("delivering %s to %s.%s", p.handle, notice.ObserverPath, notice.MethodName)
	if err := fn(e); err != nil {
		return false, errors.Annotatef(err, "%s.%s handling %s", notice.ObserverPath, notice.MethodName, p.handle)
	}
	return e.Deferred(), nil
}

// Commit emits pre_commit then commit, saves the framework's own state
// and makes everything durable.
func (f *Framework) Commit() error {
	if err := f.preCommit.Emit(); err != nil {
		return errors.Trace(err)
	}
	if err := f.commit.Emit(); err != nil {
		return errors.Trace(err)
	}
	if err := f.SaveSnapshot(f.stored); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(f.storage.Commit())
}

// Close releases the storage. Anything not committed is lost.
func (f *Framework) Close() error {
	return errors.Trace(f.storage.Close())
}
