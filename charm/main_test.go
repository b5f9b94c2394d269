// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm_test

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
	"gopkg.in/yaml.v3"

	"github.com/juju/ops/charm"
	"github.com/juju/ops/framework"
	"github.com/juju/ops/hook"
)

// fakeRunner keeps controller state in memory and records juju-log
// calls.
type fakeRunner struct {
	state map[string]string
	logs  []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{state: make(map[string]string)}
}

func (r *fakeRunner) Run(name string, stdin []byte, args ...string) ([]byte, error) {
	switch name {
	case "state-get":
		return []byte(r.state[args[0]]), nil
	case "state-set":
		var values map[string]string
		if err := yaml.Unmarshal(stdin, &values); err != nil {
			return nil, err
		}
		for key, value := range values {
			r.state[key] = value
		}
	case "state-delete":
		delete(r.state, args[0])
	case "juju-log":
		r.logs = append(r.logs, strings.Join(args, " "))
	default:
		return nil, errors.NotSupportedf("hook tool %q", name)
	}
	return nil, nil
}

type mainSuite struct {
	testing.IsolationSuite

	charmDir string
	runner   *fakeRunner

	// seen records every delivered event kind; deferring names the
	// kinds the charm defers.
	seen      []string
	deferring map[string]bool
	fail      map[string]bool
	events    []framework.Event
}

var _ = gc.Suite(&mainSuite{})

func (s *mainSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.charmDir = c.MkDir()
	err := os.WriteFile(filepath.Join(s.charmDir, "metadata.yaml"), []byte(mysqlMeta), 0644)
	c.Assert(err, jc.ErrorIsNil)
	err = os.WriteFile(filepath.Join(s.charmDir, "actions.yaml"), []byte("take-backup: {}\n"), 0644)
	c.Assert(err, jc.ErrorIsNil)
	s.runner = newFakeRunner()
	s.seen = nil
	s.events = nil
	s.deferring = make(map[string]bool)
	s.fail = make(map[string]bool)
}

func (s *mainSuite) config(c *gc.C, hookName string, extra map[string]string) charm.Config {
	vars := map[string]string{
		"JUJU_CHARM_DIR":     s.charmDir,
		"JUJU_UNIT_NAME":     "mysql/0",
		"JUJU_DISPATCH_PATH": "hooks/" + hookName,
	}
	for name, value := range extra {
		vars[name] = value
	}
	env, err := hook.NewEnvironment(func(name string) string { return vars[name] }, "dispatch")
	c.Assert(err, jc.ErrorIsNil)
	config := charm.ConfigFromEnvironment(env)
	config.Runner = s.runner
	config.LogToJuju = false
	return config
}

// newCharm observes every event of the charm, and keeps a counter in
// stored state.
func (s *mainSuite) newCharm(base *charm.CharmBase) error {
	fw := base.Framework()
	state, err := framework.NewStoredState(base, "_stored")
	if err != nil {
		return err
	}
	if err := state.SetDefault(map[string]any{"handled": 0}); err != nil {
		return err
	}
	for _, event := range base.On.Events() {
		kind := event.Kind()
		err := fw.Observe(event, base, "on_"+kind, func(e framework.Event) error {
			s.seen = append(s.seen, kind)
			s.events = append(s.events, e)
			if s.fail[kind] {
				return errors.Errorf("%s failed", kind)
			}
			if s.deferring[kind] {
				e.Defer()
				return nil
			}
			handled, _ := state.Get("handled")
			return state.Set("handled", handled.(int)+1)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *mainSuite) handled(c *gc.C) int {
	var handled int
	err := charm.Main(s.config(c, "update-status", nil), func(base *charm.CharmBase) error {
		state, err := framework.NewStoredState(base, "_stored")
		if err != nil {
			return err
		}
		value, _ := state.Get("handled")
		handled, _ = value.(int)
		return nil
	})
	c.Assert(err, jc.ErrorIsNil)
	return handled
}

func (s *mainSuite) TestDispatchesHook(c *gc.C) {
	err := charm.Main(s.config(c, "install", nil), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.seen, jc.DeepEquals, []string{"install"})
	c.Check(filepath.Join(s.charmDir, charm.StateFileName), jc.IsNonEmptyFile)
	c.Check(s.handled(c), gc.Equals, 1)
}

func (s *mainSuite) TestDeferredEventsReplayedFirst(c *gc.C) {
	s.deferring["config_changed"] = true
	err := charm.Main(s.config(c, "config-changed", nil), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)

	err = charm.Main(s.config(c, "start", nil), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.seen, jc.DeepEquals, []string{"config_changed", "config_changed", "start"})

	s.seen = nil
	delete(s.deferring, "config_changed")
	err = charm.Main(s.config(c, "update-status", nil), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.seen, jc.DeepEquals, []string{"config_changed", "update_status"})

	s.seen = nil
	err = charm.Main(s.config(c, "update-status", nil), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.seen, jc.DeepEquals, []string{"update_status"})
}

func (s *mainSuite) TestCollectMetricsSkipsReplay(c *gc.C) {
	s.deferring["config_changed"] = true
	err := charm.Main(s.config(c, "config-changed", nil), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)

	s.seen = nil
	err = charm.Main(s.config(c, "collect-metrics", nil), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.seen, jc.DeepEquals, []string{"collect_metrics"})

	s.seen = nil
	err = charm.Main(s.config(c, "start", nil), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.seen, jc.DeepEquals, []string{"config_changed", "start"})
}

func (s *mainSuite) TestRelationHook(c *gc.C) {
	err := charm.Main(s.config(c, "db-relation-departed", map[string]string{
		"JUJU_RELATION":       "db",
		"JUJU_RELATION_ID":    "db:4",
		"JUJU_REMOTE_UNIT":    "wordpress/1",
		"JUJU_DEPARTING_UNIT": "wordpress/1",
	}), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.events, gc.HasLen, 1)
	e := s.events[0].(*charm.RelationDepartedEvent)
	c.Check(e.RelationName, gc.Equals, "db")
	c.Check(e.RelationID, gc.Equals, 4)
	c.Check(e.AppName, gc.Equals, "wordpress")
	c.Check(e.UnitName, gc.Equals, "wordpress/1")
	c.Check(e.DepartingUnitName, gc.Equals, "wordpress/1")
}

func (s *mainSuite) TestStorageHook(c *gc.C) {
	err := charm.Main(s.config(c, "data-storage-attached", map[string]string{
		"JUJU_STORAGE_ID":       "data/2",
		"JUJU_STORAGE_LOCATION": "/var/lib/mysql",
	}), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.events, gc.HasLen, 1)
	e := s.events[0].(*charm.StorageAttachedEvent)
	c.Check(e.StorageName, gc.Equals, "data")
	c.Check(e.StorageID, gc.Equals, "data/2")
	c.Check(e.Location, gc.Equals, "/var/lib/mysql")
}

func (s *mainSuite) TestAction(c *gc.C) {
	err := charm.Main(s.config(c, "take-backup", map[string]string{
		"JUJU_DISPATCH_PATH": "actions/take-backup",
		"JUJU_ACTION_NAME":   "take-backup",
		"JUJU_ACTION_UUID":   "9",
	}), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.events, gc.HasLen, 1)
	e := s.events[0].(*charm.ActionEvent)
	c.Check(e.ActionName, gc.Equals, "take-backup")
	c.Check(e.ActionID, gc.Equals, "9")
}

func (s *mainSuite) TestWorkloadHook(c *gc.C) {
	err := charm.Main(s.config(c, "workload-pebble-ready", map[string]string{
		"JUJU_WORKLOAD_NAME": "workload",
	}), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.events, gc.HasLen, 1)
	c.Check(s.events[0].(*charm.PebbleReadyEvent).ContainerName, gc.Equals, "workload")
}

func (s *mainSuite) TestUnknownHook(c *gc.C) {
	err := charm.Main(s.config(c, "secret-changed", nil), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.seen, gc.HasLen, 0)
}

func (s *mainSuite) TestHandlerErrorDiscardsChanges(c *gc.C) {
	err := charm.Main(s.config(c, "install", nil), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)

	s.deferring["start"] = true
	s.fail["config_changed"] = true
	err = charm.Main(s.config(c, "start", nil), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	err = charm.Main(s.config(c, "config-changed", nil), s.newCharm)
	c.Assert(err, gc.ErrorMatches, `.*Charm.on_config_changed handling Charm/on/config_changed\[\d+\]: config_changed failed`)

	// The failed invocation left nothing behind, so start is still
	// pending and the count only grows by the events handled below.
	delete(s.deferring, "start")
	s.seen = nil
	err = charm.Main(s.config(c, "leader-elected", nil), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.seen, jc.DeepEquals, []string{"start", "leader_elected"})
	c.Check(s.handled(c), gc.Equals, 3)
}

func (s *mainSuite) TestSetupErrorClosesStorage(c *gc.C) {
	err := charm.Main(s.config(c, "install", nil), func(*charm.CharmBase) error {
		return errors.New("boom")
	})
	c.Assert(err, gc.ErrorMatches, "setting up charm: boom")

	// The state file is not left locked.
	err = charm.Main(s.config(c, "install", nil), s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *mainSuite) TestControllerStorage(c *gc.C) {
	s.deferring["config_changed"] = true
	config := s.config(c, "config-changed", nil)
	config.UseControllerStorage = true
	err := charm.Main(config, s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(filepath.Join(s.charmDir, charm.StateFileName), jc.DoesNotExist)
	c.Check(s.runner.state["#notices#"], gc.Not(gc.Equals), "")

	delete(s.deferring, "config_changed")
	s.seen = nil
	config = s.config(c, "start", nil)
	config.UseControllerStorage = true
	err = charm.Main(config, s.newCharm)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.seen, jc.DeepEquals, []string{"config_changed", "start"})
}

func (s *mainSuite) TestLogsToJuju(c *gc.C) {
	config := s.config(c, "install", nil)
	config.LogToJuju = true
	config.LogLevel = loggo.DEBUG
	err := charm.Main(config, s.newCharm)
	c.Assert(err, jc.ErrorIsNil)

	want := "--log-level DEBUG -- juju.ops.charm: dispatching install for mysql/0"
	c.Check(strings.Join(s.runner.logs, "\n"), jc.Contains, want)
}

func (s *mainSuite) TestMissingMetadata(c *gc.C) {
	err := os.Remove(filepath.Join(s.charmDir, "metadata.yaml"))
	c.Assert(err, jc.ErrorIsNil)
	err = charm.Main(s.config(c, "install", nil), s.newCharm)
	c.Check(err, gc.ErrorMatches, "reading charm metadata: .*")
}

func (s *mainSuite) TestConfigValidate(c *gc.C) {
	config := s.config(c, "install", nil)
	c.Check(config.Validate(), jc.ErrorIsNil)
	c.Check(config.Paths, jc.DeepEquals, charm.NewPaths(s.charmDir))

	for i, test := range []struct {
		change  func(*charm.Config)
		message string
	}{{
		change:  func(cfg *charm.Config) { cfg.Environment = nil },
		message: "nil Environment not valid",
	}, {
		change:  func(cfg *charm.Config) { cfg.Paths.CharmDir = "" },
		message: "empty CharmDir not valid",
	}, {
		change:  func(cfg *charm.Config) { cfg.Paths.StateFile = "" },
		message: "empty StateFile not valid",
	}} {
		c.Logf("test %d", i)
		cfg := s.config(c, "install", nil)
		test.change(&cfg)
		err := cfg.Validate()
		c.Check(err, jc.ErrorIs, errors.NotValid)
		c.Check(err, gc.ErrorMatches, test.message)
		c.Check(charm.Main(cfg, s.newCharm), gc.ErrorMatches, test.message)
	}

	cfg := s.config(c, "install", nil)
	cfg.Paths.StateFile = ""
	cfg.UseControllerStorage = true
	c.Check(cfg.Validate(), jc.ErrorIsNil)
}
