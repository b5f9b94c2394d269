// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm_test

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/ops/charm"
)

const dummyMeta = `
name: dummy
summary: That's a dummy charm.
description: |
    This is a longer description which
    potentially contains multiple lines.
`

const loggingMeta = `
name: logging
summary: Subordinate logging test charm
subordinate: true
provides:
    logging-client:
       interface: logging
requires:
    logging-directory:
       interface: logging
       scope: container
`

const riakMeta = `
name: riak
summary: K/V storage engine
provides:
  endpoint:
    interface: http
  admin:
    interface: http
peers:
  ring:
    interface: riak
`

const wordpressMeta = `
name: wordpress
provides:
  url:
    interface: http
    limit:
    optional: false
requires:
  db:
    interface: mysql
    limit: 1
    optional: false
  cache:
    interface: varnish
    limit: 2
    optional: true
`

type MetaSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&MetaSuite{})

func readMeta(c *gc.C, content string) *charm.Meta {
	meta, err := charm.ReadMeta(strings.NewReader(content))
	c.Assert(err, jc.ErrorIsNil)
	return meta
}

func (s *MetaSuite) TestReadMeta(c *gc.C) {
	meta := readMeta(c, dummyMeta)
	c.Assert(meta.Name, gc.Equals, "dummy")
	c.Assert(meta.Summary, gc.Equals, "That's a dummy charm.")
	c.Assert(meta.Description, gc.Equals,
		"This is a longer description which\npotentially contains multiple lines.\n")
	c.Assert(meta.Subordinate, jc.IsFalse)
	c.Assert(meta.RelationNames(), gc.HasLen, 0)
}

func (s *MetaSuite) TestSubordinate(c *gc.C) {
	meta := readMeta(c, loggingMeta)
	c.Assert(meta.Subordinate, jc.IsTrue)
}

func (s *MetaSuite) TestSubordinateWithoutContainerRelation(c *gc.C) {
	_, err := charm.ReadMeta(strings.NewReader(dummyMeta + "subordinate: true\n"))
	c.Assert(err, gc.ErrorMatches, `subordinate charm "dummy" lacks requires relation with container scope`)
}

func (s *MetaSuite) TestScopeConstraint(c *gc.C) {
	meta := readMeta(c, loggingMeta)
	c.Assert(meta.Provides["logging-client"].Scope, gc.Equals, charm.ScopeGlobal)
	c.Assert(meta.Requires["logging-directory"].Scope, gc.Equals, charm.ScopeContainer)
}

func (s *MetaSuite) TestParseMetaRelations(c *gc.C) {
	meta := readMeta(c, riakMeta)
	c.Assert(meta.Provides["endpoint"], gc.Equals, charm.Relation{
		Name: "endpoint", Role: charm.RoleProvider, Interface: "http", Scope: charm.ScopeGlobal,
	})
	c.Assert(meta.Provides["admin"], gc.Equals, charm.Relation{
		Name: "admin", Role: charm.RoleProvider, Interface: "http", Scope: charm.ScopeGlobal,
	})
	c.Assert(meta.Peers["ring"], gc.Equals, charm.Relation{
		Name: "ring", Role: charm.RolePeer, Interface: "riak", Limit: 1, Scope: charm.ScopeGlobal,
	})
	c.Assert(meta.Requires, gc.IsNil)

	meta = readMeta(c, wordpressMeta)
	c.Assert(meta.Provides["url"], gc.Equals, charm.Relation{
		Name: "url", Role: charm.RoleProvider, Interface: "http", Scope: charm.ScopeGlobal,
	})
	c.Assert(meta.Requires["db"], gc.Equals, charm.Relation{
		Name: "db", Role: charm.RoleRequirer, Interface: "mysql", Limit: 1, Scope: charm.ScopeGlobal,
	})
	c.Assert(meta.Requires["cache"], gc.Equals, charm.Relation{
		Name: "cache", Role: charm.RoleRequirer, Interface: "varnish", Limit: 2, Optional: true, Scope: charm.ScopeGlobal,
	})
	c.Assert(meta.Peers, gc.IsNil)
	c.Assert(meta.RelationNames(), jc.DeepEquals, []string{"cache", "db", "url"})
}

func (s *MetaSuite) TestStorage(c *gc.C) {
	meta := readMeta(c, `
name: storage
storage:
    data:
        type: filesystem
        location: /srv/data
    logs:
        type: filesystem
        description: log files
        read-only: true
        multiple:
            range: 2+
    disks:
        type: block
        shared: true
        multiple:
            range: 1-3
    cache:
        type: block
        multiple:
            range: 4
`)
	c.Assert(meta.Storage, jc.DeepEquals, map[string]charm.Storage{
		"data": {
			Name: "data", Type: charm.StorageFilesystem, Location: "/srv/data",
			CountMin: 1, CountMax: 1,
		},
		"logs": {
			Name: "logs", Description: "log files", Type: charm.StorageFilesystem, ReadOnly: true,
			CountMin: 2, CountMax: -1,
		},
		"disks": {
			Name: "disks", Type: charm.StorageBlock, Shared: true,
			CountMin: 1, CountMax: 3,
		},
		"cache": {
			Name: "cache", Type: charm.StorageBlock,
			CountMin: 4, CountMax: 4,
		},
	})
}

func (s *MetaSuite) TestStorageInvalid(c *gc.C) {
	for i, test := range []struct {
		about   string
		yaml    string
		message string
	}{{
		about:   "unknown type",
		yaml:    "name: x\nstorage:\n  data:\n    type: tape\n",
		message: `metadata: storage.*type: .*`,
	}, {
		about:   "missing type",
		yaml:    "name: x\nstorage:\n  data:\n    location: /srv\n",
		message: `metadata: storage.*type: .*`,
	}, {
		about:   "backwards range",
		yaml:    "name: x\nstorage:\n  data:\n    type: block\n    multiple:\n      range: 3-1\n",
		message: `metadata: storage.*range: storage range "3-1" not valid`,
	}, {
		about:   "junk range",
		yaml:    "name: x\nstorage:\n  data:\n    type: block\n    multiple:\n      range: lots\n",
		message: `metadata: storage.*range: storage range "lots" not valid`,
	}} {
		c.Logf("test %d: %s", i, test.about)
		_, err := charm.ReadMeta(strings.NewReader(test.yaml))
		c.Check(err, gc.ErrorMatches, test.message)
	}
}

func (s *MetaSuite) TestContainers(c *gc.C) {
	meta := readMeta(c, `
name: sidecar
storage:
    data:
        type: filesystem
containers:
    workload:
        resource: workload-image
        mounts:
            - storage: data
              location: /var/lib/data
    proxy: {}
`)
	c.Assert(meta.Containers, jc.DeepEquals, map[string]charm.Container{
		"workload": {
			Name:     "workload",
			Resource: "workload-image",
			Mounts:   []charm.Mount{{Storage: "data", Location: "/var/lib/data"}},
		},
		"proxy": {Name: "proxy"},
	})

	_, err := charm.ReadMeta(strings.NewReader(`
name: sidecar
containers:
    workload:
        mounts:
            - storage: data
`))
	c.Assert(err, jc.ErrorIs, errors.NotValid)
	c.Assert(err, gc.ErrorMatches, `container "workload" mounts undefined storage "data" not valid`)
}

func (s *MetaSuite) TestReadMetaErrors(c *gc.C) {
	_, err := charm.ReadMeta(strings.NewReader("summary: no name\n"))
	c.Check(err, gc.ErrorMatches, `metadata: name: .*`)

	_, err = charm.ReadMeta(strings.NewReader("name: [unterminated\n"))
	c.Check(err, gc.ErrorMatches, `metadata: .*`)
}

func (s *MetaSuite) TestReadActions(c *gc.C) {
	actions, err := charm.ReadActions(strings.NewReader(`
snapshot:
    description: Take a snapshot of the database.
    params:
        outfile:
            type: string
            description: The file to write out to.
    required: [outfile]
restart: {}
`))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(actions, gc.HasLen, 2)
	c.Check(actions["restart"], jc.DeepEquals, charm.Action{Name: "restart"})
	snapshot := actions["snapshot"]
	c.Check(snapshot.Name, gc.Equals, "snapshot")
	c.Check(snapshot.Description, gc.Equals, "Take a snapshot of the database.")
	c.Check(snapshot.Params, jc.DeepEquals, map[string]interface{}{
		"outfile": map[string]interface{}{
			"type":        "string",
			"description": "The file to write out to.",
		},
	})

	_, err = charm.ReadActions(strings.NewReader("Bad_Name: {}\n"))
	c.Check(err, jc.ErrorIs, errors.NotValid)
	c.Check(err, gc.ErrorMatches, `action name "Bad_Name" not valid`)
}

func (s *MetaSuite) TestReadDir(c *gc.C) {
	dir := c.MkDir()
	err := os.WriteFile(filepath.Join(dir, "metadata.yaml"), []byte(wordpressMeta), 0644)
	c.Assert(err, jc.ErrorIsNil)

	meta, err := charm.ReadDir(dir)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(meta.Name, gc.Equals, "wordpress")
	c.Check(meta.Actions, gc.IsNil)

	err = os.WriteFile(filepath.Join(dir, "actions.yaml"), []byte("backup: {}\n"), 0644)
	c.Assert(err, jc.ErrorIsNil)
	meta, err = charm.ReadDir(dir)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(meta.Actions, jc.DeepEquals, map[string]charm.Action{"backup": {Name: "backup"}})

	_, err = charm.ReadDir(c.MkDir())
	c.Check(err, jc.ErrorIs, os.ErrNotExist)
}

// Test rewriting of a given interface specification into long form.
//
// InterfaceExpander uses `coerce` to do one of two things:
//
//   - Rewrite shorthand to the long form used for actual storage
//   - Fills in defaults, including a configurable `limit`
//
// This test ensures test coverage on each of these branches, along
// with ensuring the conversion object properly raises SchemaError
// exceptions on invalid data.
func (s *MetaSuite) TestIfaceExpander(c *gc.C) {
	e := charm.IfaceExpander(nil)

	path := []string{"<pa", "th>"}

	// Shorthand is properly rewritten
	v, err := e.Coerce("http", path)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(v, jc.DeepEquals, map[string]interface{}{"interface": "http", "limit": nil, "optional": false, "scope": charm.ScopeGlobal})

	// Defaults are properly applied
	v, err = e.Coerce(map[string]interface{}{"interface": "http"}, path)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(v, jc.DeepEquals, map[string]interface{}{"interface": "http", "limit": nil, "optional": false, "scope": charm.ScopeGlobal})

	v, err = e.Coerce(map[string]interface{}{"interface": "http", "limit": 2}, path)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(v, jc.DeepEquals, map[string]interface{}{"interface": "http", "limit": int64(2), "optional": false, "scope": charm.ScopeGlobal})

	v, err = e.Coerce(map[string]interface{}{"interface": "http", "optional": true}, path)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(v, jc.DeepEquals, map[string]interface{}{"interface": "http", "limit": nil, "optional": true, "scope": charm.ScopeGlobal})

	// Invalid data raises an error.
	_, err = e.Coerce(42, path)
	c.Assert(err, gc.ErrorMatches, `<path>: expected map, got .*42.*`)

	_, err = e.Coerce(map[string]interface{}{"interface": "http", "optional": nil}, path)
	c.Assert(err, gc.ErrorMatches, "<path>.optional: expected bool, got nothing")

	_, err = e.Coerce(map[string]interface{}{"interface": "http", "limit": "none, really"}, path)
	c.Assert(err, gc.ErrorMatches, "<path>.limit: .*")

	// Can change default limit
	e = charm.IfaceExpander(1)
	v, err = e.Coerce(map[string]interface{}{"interface": "http"}, path)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(v, jc.DeepEquals, map[string]interface{}{"interface": "http", "limit": int64(1), "optional": false, "scope": charm.ScopeGlobal})
}
