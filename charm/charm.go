// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package charm builds the charm object model on top of the framework:
// charm metadata, the standard Juju events and the Main entry point run
// by every hook.
package charm

import (
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/ops/framework"
)

var logger = loggo.GetLogger("juju.ops.charm")

// Kind is the handle kind of every charm, so the charm's events are
// found under "Charm/on".
const Kind = "Charm"

// CharmEvents holds the events every charm emits, plus the ones derived
// from its metadata.
type CharmEvents struct {
	*framework.ObjectEvents

	Install               *framework.BoundEvent
	Start                 *framework.BoundEvent
	Stop                  *framework.BoundEvent
	Remove                *framework.BoundEvent
	UpdateStatus          *framework.BoundEvent
	ConfigChanged         *framework.BoundEvent
	UpgradeCharm          *framework.BoundEvent
	PreSeriesUpgrade      *framework.BoundEvent
	PostSeriesUpgrade     *framework.BoundEvent
	LeaderElected         *framework.BoundEvent
	LeaderSettingsChanged *framework.BoundEvent
	CollectMetrics        *framework.BoundEvent
}

var standardEvents = []framework.EventSource{
	{Kind: "install", Type: InstallEventType},
	{Kind: "start", Type: StartEventType},
	{Kind: "stop", Type: StopEventType},
	{Kind: "remove", Type: RemoveEventType},
	{Kind: "update_status", Type: UpdateStatusEventType},
	{Kind: "config_changed", Type: ConfigChangedEventType},
	{Kind: "upgrade_charm", Type: UpgradeCharmEventType},
	{Kind: "pre_series_upgrade", Type: PreSeriesUpgradeEventType},
	{Kind: "post_series_upgrade", Type: PostSeriesUpgradeEventType},
	{Kind: "leader_elected", Type: LeaderElectedEventType},
	{Kind: "leader_settings_changed", Type: LeaderSettingsChangedEventType},
	{Kind: "collect_metrics", Type: CollectMetricsEventType},
}

// CharmBase is embedded by charm implementations.
type CharmBase struct {
	framework.ObjectBase

	On   *CharmEvents
	Meta *Meta
}

// NewCharmBase returns the charm object for fw, with an event for every
// relation, storage, action and container in meta.
func NewCharmBase(fw *framework.Framework, meta *Meta) (*CharmBase, error) {
	if meta == nil {
		return nil, errors.NotValidf("nil charm metadata")
	}
	c := &CharmBase{
		ObjectBase: framework.NewObjectBase(fw, Kind, ""),
		Meta:       meta,
	}
	on, err := framework.NewObjectEvents(c, standardEvents...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.On = &CharmEvents{
		ObjectEvents:          on,
		Install:               on.Event("install"),
		Start:                 on.Event("start"),
		Stop:                  on.Event("stop"),
		Remove:                on.Event("remove"),
		UpdateStatus:          on.Event("update_status"),
		ConfigChanged:         on.Event("config_changed"),
		UpgradeCharm:          on.Event("upgrade_charm"),
		PreSeriesUpgrade:      on.Event("pre_series_upgrade"),
		PostSeriesUpgrade:     on.Event("post_series_upgrade"),
		LeaderElected:         on.Event("leader_elected"),
		LeaderSettingsChanged: on.Event("leader_settings_changed"),
		CollectMetrics:        on.Event("collect_metrics"),
	}
	if err := c.defineMetaEvents(); err != nil {
		return nil, errors.Annotatef(err, "charm %q", meta.Name)
	}
	return c, nil
}

func (c *CharmBase) defineMetaEvents() error {
	var sources []framework.EventSource
	for _, name := range c.Meta.RelationNames() {
		prefix := EventName(name)
		sources = append(sources,
			framework.EventSource{Kind: prefix + "_relation_created", Type: RelationCreatedEventType},
			framework.EventSource{Kind: prefix + "_relation_joined", Type: RelationJoinedEventType},
			framework.EventSource{Kind: prefix + "_relation_changed", Type: RelationChangedEventType},
			framework.EventSource{Kind: prefix + "_relation_departed", Type: RelationDepartedEventType},
			framework.EventSource{Kind: prefix + "_relation_broken", Type: RelationBrokenEventType},
		)
	}
	for _, name := range sortedKeys(c.Meta.Storage) {
		prefix := EventName(name)
		sources = append(sources,
			framework.EventSource{Kind: prefix + "_storage_attached", Type: StorageAttachedEventType},
			framework.EventSource{Kind: prefix + "_storage_detaching", Type: StorageDetachingEventType},
		)
	}
	for _, name := range sortedKeys(c.Meta.Actions) {
		sources = append(sources,
			framework.EventSource{Kind: EventName(name) + "_action", Type: ActionEventType},
		)
	}
	for _, name := range sortedKeys(c.Meta.Containers) {
		sources = append(sources,
			framework.EventSource{Kind: EventName(name) + "_pebble_ready", Type: PebbleReadyEventType},
		)
	}
	for _, source := range sources {
		if _, err := c.On.DefineEvent(source.Kind, source.Type); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// EventName turns a hook, relation, storage or action name into the
// matching event kind.
func EventName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
