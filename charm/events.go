// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"fmt"

	"github.com/juju/errors"

	"github.com/juju/ops/framework"
)

// HookEvent is embedded by every event that maps onto a Juju hook.
type HookEvent struct {
	framework.EventBase
}

type InstallEvent struct{ HookEvent }
type StartEvent struct{ HookEvent }
type StopEvent struct{ HookEvent }
type RemoveEvent struct{ HookEvent }
type UpdateStatusEvent struct{ HookEvent }
type ConfigChangedEvent struct{ HookEvent }
type UpgradeCharmEvent struct{ HookEvent }
type PreSeriesUpgradeEvent struct{ HookEvent }
type PostSeriesUpgradeEvent struct{ HookEvent }
type LeaderElectedEvent struct{ HookEvent }
type LeaderSettingsChangedEvent struct{ HookEvent }

// CollectMetricsEvent is emitted by the collect-metrics hook. Deferred
// events are not replayed before it, since that hook may only add
// metrics.
type CollectMetricsEvent struct{ HookEvent }

// RelationEvent is the base of every relation event. Relation, app and
// unit are identified by name, which keeps snapshots valid across
// invocations.
type RelationEvent struct {
	HookEvent

	RelationName string
	RelationID   int
	AppName      string
	UnitName     string
}

// Snapshot is part of the framework.Serializable interface.
func (e *RelationEvent) Snapshot() map[string]any {
	snapshot := map[string]any{
		"relation_name": e.RelationName,
		"relation_id":   e.RelationID,
	}
	if e.AppName != "" {
		snapshot["app_name"] = e.AppName
	}
	if e.UnitName != "" {
		snapshot["unit_name"] = e.UnitName
	}
	return snapshot
}

// Restore is part of the framework.Serializable interface.
func (e *RelationEvent) Restore(snapshot map[string]any) error {
	var err error
	if e.RelationName, err = stringField(snapshot, "relation_name"); err != nil {
		return errors.Trace(err)
	}
	if e.RelationID, err = intField(snapshot, "relation_id"); err != nil {
		return errors.Trace(err)
	}
	e.AppName, _ = snapshot["app_name"].(string)
	e.UnitName, _ = snapshot["unit_name"].(string)
	return nil
}

func (e *RelationEvent) relation() *RelationEvent {
	return e
}

type RelationCreatedEvent struct{ RelationEvent }
type RelationJoinedEvent struct{ RelationEvent }
type RelationChangedEvent struct{ RelationEvent }
type RelationBrokenEvent struct{ RelationEvent }

// RelationDepartedEvent also records which unit is leaving.
type RelationDepartedEvent struct {
	RelationEvent

	DepartingUnitName string
}

// Snapshot is part of the framework.Serializable interface.
func (e *RelationDepartedEvent) Snapshot() map[string]any {
	snapshot := e.RelationEvent.Snapshot()
	if e.DepartingUnitName != "" {
		snapshot["departing_unit"] = e.DepartingUnitName
	}
	return snapshot
}

// Restore is part of the framework.Serializable interface.
func (e *RelationDepartedEvent) Restore(snapshot map[string]any) error {
	if err := e.RelationEvent.Restore(snapshot); err != nil {
		return errors.Trace(err)
	}
	e.DepartingUnitName, _ = snapshot["departing_unit"].(string)
	return nil
}

// StorageEvent is the base of the storage events.
type StorageEvent struct {
	HookEvent

	StorageName string
	StorageID   string
	Location    string
}

// Snapshot is part of the framework.Serializable interface.
func (e *StorageEvent) Snapshot() map[string]any {
	return map[string]any{
		"storage_name": e.StorageName,
		"storage_id":   e.StorageID,
		"location":     e.Location,
	}
}

// Restore is part of the framework.Serializable interface.
func (e *StorageEvent) Restore(snapshot map[string]any) error {
	var err error
	if e.StorageName, err = stringField(snapshot, "storage_name"); err != nil {
		return errors.Trace(err)
	}
	e.StorageID, _ = snapshot["storage_id"].(string)
	e.Location, _ = snapshot["location"].(string)
	return nil
}

func (e *StorageEvent) storage() *StorageEvent {
	return e
}

type StorageAttachedEvent struct{ StorageEvent }
type StorageDetachingEvent struct{ StorageEvent }

// ActionEvent is emitted when an action is run on the unit.
type ActionEvent struct {
	framework.EventBase

	ActionName string
	ActionID   string
}

// Defer panics: actions are run once, synchronously, and cannot be
// deferred. The failure is logged first so it reaches juju-log even
// though the hook process dies.
func (e *ActionEvent) Defer() {
	msg := fmt.Sprintf("cannot defer action event %s", e.Handle())
	logger.Errorf("%s", msg)
	panic(msg)
}

// Snapshot is part of the framework.Serializable interface.
func (e *ActionEvent) Snapshot() map[string]any {
	return map[string]any{
		"action_name": e.ActionName,
		"action_id":   e.ActionID,
	}
}

// Restore is part of the framework.Serializable interface.
func (e *ActionEvent) Restore(snapshot map[string]any) error {
	var err error
	if e.ActionName, err = stringField(snapshot, "action_name"); err != nil {
		return errors.Trace(err)
	}
	e.ActionID, _ = snapshot["action_id"].(string)
	return nil
}

// WorkloadEvent is the base of events about a workload container.
type WorkloadEvent struct {
	HookEvent

	ContainerName string
}

// Snapshot is part of the framework.Serializable interface.
func (e *WorkloadEvent) Snapshot() map[string]any {
	return map[string]any{"container_name": e.ContainerName}
}

// Restore is part of the framework.Serializable interface.
func (e *WorkloadEvent) Restore(snapshot map[string]any) error {
	var err error
	e.ContainerName, err = stringField(snapshot, "container_name")
	return errors.Trace(err)
}

type PebbleReadyEvent struct{ WorkloadEvent }

var (
	InstallEventType               = framework.NewEventType[InstallEvent]()
	StartEventType                 = framework.NewEventType[StartEvent]()
	StopEventType                  = framework.NewEventType[StopEvent]()
	RemoveEventType                = framework.NewEventType[RemoveEvent]()
	UpdateStatusEventType          = framework.NewEventType[UpdateStatusEvent]()
	ConfigChangedEventType         = framework.NewEventType[ConfigChangedEvent]()
	UpgradeCharmEventType          = framework.NewEventType[UpgradeCharmEvent]()
	PreSeriesUpgradeEventType      = framework.NewEventType[PreSeriesUpgradeEvent]()
	PostSeriesUpgradeEventType     = framework.NewEventType[PostSeriesUpgradeEvent]()
	LeaderElectedEventType         = framework.NewEventType[LeaderElectedEvent]()
	LeaderSettingsChangedEventType = framework.NewEventType[LeaderSettingsChangedEvent]()
	CollectMetricsEventType        = framework.NewEventType[CollectMetricsEvent]()

	RelationCreatedEventType  = framework.NewEventType[RelationCreatedEvent]()
	RelationJoinedEventType   = framework.NewEventType[RelationJoinedEvent]()
	RelationChangedEventType  = framework.NewEventType[RelationChangedEvent]()
	RelationDepartedEventType = framework.NewEventType[RelationDepartedEvent]()
	RelationBrokenEventType   = framework.NewEventType[RelationBrokenEvent]()

	StorageAttachedEventType  = framework.NewEventType[StorageAttachedEvent]()
	StorageDetachingEventType = framework.NewEventType[StorageDetachingEvent]()

	ActionEventType = framework.NewEventType[ActionEvent]()

	PebbleReadyEventType = framework.NewEventType[PebbleReadyEvent]()
)

type relationEvent interface {
	framework.Event
	relation() *RelationEvent
}

type storageEvent interface {
	framework.Event
	storage() *StorageEvent
}

// WithRelation fills in the relation details of a relation event.
func WithRelation(name string, id int, app, unit string) framework.EmitOption {
	return framework.With(func(e relationEvent) {
		r := e.relation()
		r.RelationName = name
		r.RelationID = id
		r.AppName = app
		r.UnitName = unit
	})
}

// WithDepartingUnit sets the unit leaving a relation.
func WithDepartingUnit(unit string) framework.EmitOption {
	return framework.With(func(e *RelationDepartedEvent) {
		e.DepartingUnitName = unit
	})
}

// WithStorage fills in the details of a storage event.
func WithStorage(name, id, location string) framework.EmitOption {
	return framework.With(func(e storageEvent) {
		s := e.storage()
		s.StorageName = name
		s.StorageID = id
		s.Location = location
	})
}

// WithAction fills in the details of an action event.
func WithAction(name, id string) framework.EmitOption {
	return framework.With(func(e *ActionEvent) {
		e.ActionName = name
		e.ActionID = id
	})
}

// WithContainer sets the container of a workload event.
func WithContainer(name string) framework.EmitOption {
	return framework.With(func(e *PebbleReadyEvent) {
		e.ContainerName = name
	})
}

func stringField(snapshot map[string]any, key string) (string, error) {
	s, ok := snapshot[key].(string)
	if !ok {
		return "", errors.NotValidf("snapshot field %q", key)
	}
	return s, nil
}

func intField(snapshot map[string]any, key string) (int, error) {
	switch n := snapshot[key].(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	}
	return 0, errors.NotValidf("snapshot field %q", key)
}
