// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hook describes the hook invocation a charm is running in, as
// passed by the unit agent through environment variables.
package hook

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/names/v5"
)

// Environment holds the details of one hook invocation.
type Environment struct {
	CharmDir     string
	UnitName     string
	ModelName    string
	ContextID    string
	DispatchPath string
	HookName     string
	Version      string

	// RelationID is -1 outside relation hooks.
	RelationName  string
	RelationID    int
	RemoteApp     string
	RemoteUnit    string
	DepartingUnit string

	StorageName     string
	StorageID       string
	StorageLocation string

	ActionName string
	ActionID   string

	WorkloadName string
}

// FromOS reads the environment of the current process.
func FromOS() (*Environment, error) {
	return NewEnvironment(os.Getenv, os.Args[0])
}

// NewEnvironment builds an Environment from getenv. argv0 is the path the
// charm was run as, used to name the hook when the agent does not
// provide a dispatch path.
func NewEnvironment(getenv func(string) string, argv0 string) (*Environment, error) {
	env := &Environment{
		CharmDir:        getenv("JUJU_CHARM_DIR"),
		UnitName:        getenv("JUJU_UNIT_NAME"),
		ModelName:       getenv("JUJU_MODEL_NAME"),
		ContextID:       getenv("JUJU_CONTEXT_ID"),
		DispatchPath:    getenv("JUJU_DISPATCH_PATH"),
		HookName:        getenv("JUJU_HOOK_NAME"),
		Version:         getenv("JUJU_VERSION"),
		RelationName:    getenv("JUJU_RELATION"),
		RelationID:      -1,
		RemoteApp:       getenv("JUJU_REMOTE_APP"),
		RemoteUnit:      getenv("JUJU_REMOTE_UNIT"),
		DepartingUnit:   getenv("JUJU_DEPARTING_UNIT"),
		StorageID:       getenv("JUJU_STORAGE_ID"),
		StorageLocation: getenv("JUJU_STORAGE_LOCATION"),
		ActionName:      getenv("JUJU_ACTION_NAME"),
		ActionID:        getenv("JUJU_ACTION_UUID"),
		WorkloadName:    getenv("JUJU_WORKLOAD_NAME"),
	}
	if env.CharmDir == "" {
		env.CharmDir = getenv("CHARM_DIR")
	}
	if env.CharmDir == "" {
		return nil, errors.NotValidf("missing charm directory")
	}
	if !names.IsValidUnit(env.UnitName) {
		return nil, errors.NotValidf("unit name %q", env.UnitName)
	}
	if env.HookName == "" {
		path := env.DispatchPath
		if path == "" {
			path = argv0
		}
		env.HookName = filepath.Base(path)
	}

	if id := getenv("JUJU_RELATION_ID"); id != "" {
		// The agent passes "<relation name>:<id>".
		n, err := strconv.Atoi(id[strings.LastIndex(id, ":")+1:])
		if err != nil || n < 0 {
			return nil, errors.NotValidf("relation id %q", id)
		}
		env.RelationID = n
	}
	if env.RemoteUnit != "" {
		if !names.IsValidUnit(env.RemoteUnit) {
			return nil, errors.NotValidf("remote unit name %q", env.RemoteUnit)
		}
		if env.RemoteApp == "" {
			app, err := names.UnitApplication(env.RemoteUnit)
			if err != nil {
				return nil, errors.Trace(err)
			}
			env.RemoteApp = app
		}
	}
	if env.StorageID != "" {
		if !names.IsValidStorage(env.StorageID) {
			return nil, errors.NotValidf("storage id %q", env.StorageID)
		}
		storageName, err := names.StorageName(env.StorageID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		env.StorageName = storageName
	}
	return env, nil
}

// EventName returns the kind of event the invocation maps onto.
func (e *Environment) EventName() string {
	if e.ActionName != "" {
		return eventName(e.ActionName) + "_action"
	}
	return eventName(e.HookName)
}

// IsAction reports whether an action is being run.
func (e *Environment) IsAction() bool {
	return e.ActionName != ""
}

// Vars returns an os.Environ-style list of the variables describing e.
func (e *Environment) Vars() []string {
	vars := []string{
		"JUJU_CHARM_DIR=" + e.CharmDir,
		"JUJU_UNIT_NAME=" + e.UnitName,
		"JUJU_HOOK_NAME=" + e.HookName,
	}
	add := func(name, value string) {
		if value != "" {
			vars = append(vars, name+"="+value)
		}
	}
	add("JUJU_MODEL_NAME", e.ModelName)
	add("JUJU_CONTEXT_ID", e.ContextID)
	add("JUJU_DISPATCH_PATH", e.DispatchPath)
	add("JUJU_VERSION", e.Version)
	add("JUJU_RELATION", e.RelationName)
	if e.RelationID >= 0 {
		add("JUJU_RELATION_ID", e.RelationName+":"+strconv.Itoa(e.RelationID))
	}
	add("JUJU_REMOTE_APP", e.RemoteApp)
	add("JUJU_REMOTE_UNIT", e.RemoteUnit)
	add("JUJU_DEPARTING_UNIT", e.DepartingUnit)
	add("JUJU_STORAGE_ID", e.StorageID)
	add("JUJU_STORAGE_LOCATION", e.StorageLocation)
	add("JUJU_ACTION_NAME", e.ActionName)
	add("JUJU_ACTION_UUID", e.ActionID)
	add("JUJU_WORKLOAD_NAME", e.WorkloadName)
	return vars
}

func eventName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
