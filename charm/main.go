// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"io"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/ops/framework"
	"github.com/juju/ops/hook"
	"github.com/juju/ops/internal/hooktool"
	"github.com/juju/ops/internal/jujulog"
	"github.com/juju/ops/storage"
)

// StateFileName is the name of the local state database, kept in the
// charm directory.
const StateFileName = ".unit-state.db"

// Paths represents the set of filesystem paths a charm has reason to
// care about.
type Paths struct {
	// CharmDir is the directory the charm is deployed to.
	CharmDir string

	// StateFile holds the framework's snapshots and notices when they
	// are kept locally.
	StateFile string
}

// NewPaths returns the paths for a charm deployed to charmDir.
func NewPaths(charmDir string) Paths {
	return Paths{
		CharmDir:  charmDir,
		StateFile: filepath.Join(charmDir, StateFileName),
	}
}

// Config holds everything Main needs to dispatch one hook.
type Config struct {
	Environment *hook.Environment
	Paths       Paths

	// UseControllerStorage keeps state in the controller through the
	// state-get and state-set hook tools instead of the local file.
	UseControllerStorage bool

	// LogToJuju sends log output to juju-log.
	LogToJuju bool
	LogLevel  loggo.Level

	// Runner runs hook tools. It defaults to running them from PATH.
	Runner hooktool.Runner

	// Stderr receives log output juju-log could not take.
	Stderr io.Writer
}

// ConfigFromEnvironment returns the default Config for env.
func ConfigFromEnvironment(env *hook.Environment) Config {
	return Config{
		Environment: env,
		Paths:       NewPaths(env.CharmDir),
		LogToJuju:   hooktool.Available("juju-log"),
		LogLevel:    loggo.DEBUG,
		Runner:      hooktool.NewRunner(),
		Stderr:      os.Stderr,
	}
}

// Validate checks that the config is usable.
func (c Config) Validate() error {
	if c.Environment == nil {
		return errors.NotValidf("nil Environment")
	}
	if c.Paths.CharmDir == "" {
		return errors.NotValidf("empty CharmDir")
	}
	if !c.UseControllerStorage && c.Paths.StateFile == "" {
		return errors.NotValidf("empty StateFile")
	}
	return nil
}

// NewCharmFunc sets up a charm on base, typically by observing its
// events.
type NewCharmFunc func(base *CharmBase) error

// Main dispatches the hook described by config to the charm built by
// newCharm. Deferred events are replayed first, then the hook's event
// is emitted and everything is committed.
func Main(config Config, newCharm NewCharmFunc) (err error) {
	if err := config.Validate(); err != nil {
		return errors.Trace(err)
	}
	if config.Runner == nil {
		config.Runner = hooktool.NewRunner()
	}
	if config.LogToJuju {
		if err := jujulog.Install(config.Runner, config.Stderr, config.LogLevel); err != nil {
			return errors.Trace(err)
		}
	}
	env := config.Environment
	logger.Debugf("dispatching %s for %s", env.HookName, env.UnitName)

	meta, err := ReadDir(config.Paths.CharmDir)
	if err != nil {
		return errors.Annotate(err, "reading charm metadata")
	}
	store, err := openStorage(config)
	if err != nil {
		return errors.Trace(err)
	}
	fw, err := framework.NewFramework(framework.Config{Storage: store})
	if err != nil {
		_ = store.Close()
		return errors.Trace(err)
	}
	defer func() {
		if closeErr := fw.Close(); err == nil {
			err = errors.Trace(closeErr)
		}
	}()

	base, err := NewCharmBase(fw, meta)
	if err != nil {
		return errors.Trace(err)
	}
	if err := newCharm(base); err != nil {
		return errors.Annotate(err, "setting up charm")
	}

	kind := env.EventName()
	// collect-metrics may only add metrics, so deferred events wait.
	if kind != "collect_metrics" {
		if err := fw.Reemit(); err != nil {
			return errors.Trace(err)
		}
	}
	if event := base.On.Event(kind); event != nil {
		if err := event.Emit(emitOptions(env, event)...); err != nil {
			return errors.Trace(err)
		}
	} else {
		logger.Debugf("event %s not defined for charm %q", kind, meta.Name)
	}
	return errors.Trace(fw.Commit())
}

func openStorage(config Config) (storage.Storage, error) {
	if config.UseControllerStorage {
		return storage.NewJujuStorage(storage.NewHookToolBackend(config.Runner)), nil
	}
	store, err := storage.NewSQLiteStorage(config.Paths.StateFile)
	if err != nil {
		return nil, errors.Annotatef(err, "opening %s", config.Paths.StateFile)
	}
	return store, nil
}

func emitOptions(env *hook.Environment, event *framework.BoundEvent) []framework.EmitOption {
	switch event.Type() {
	case RelationCreatedEventType, RelationJoinedEventType, RelationChangedEventType, RelationBrokenEventType:
		return []framework.EmitOption{
			WithRelation(env.RelationName, env.RelationID, env.RemoteApp, env.RemoteUnit),
		}
	case RelationDepartedEventType:
		return []framework.EmitOption{
			WithRelation(env.RelationName, env.RelationID, env.RemoteApp, env.RemoteUnit),
			WithDepartingUnit(env.DepartingUnit),
		}
	case StorageAttachedEventType, StorageDetachingEventType:
		return []framework.EmitOption{
			WithStorage(env.StorageName, env.StorageID, env.StorageLocation),
		}
	case ActionEventType:
		return []framework.EmitOption{
			WithAction(env.ActionName, env.ActionID),
		}
	case PebbleReadyEventType:
		return []framework.EmitOption{
			WithContainer(env.WorkloadName),
		}
	}
	return nil
}
