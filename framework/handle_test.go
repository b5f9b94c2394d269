// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package framework_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/ops/framework"
)

type handleSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&handleSuite{})

func (s *handleSuite) TestPath(c *gc.C) {
	root := framework.NewHandle(nil, "Charm", "")
	c.Check(root.Path(), gc.Equals, "Charm")
	c.Check(root.Parent(), gc.IsNil)

	on := root.Nest("on", "")
	event := on.Nest("config_changed", "1")
	c.Check(event.Path(), gc.Equals, "Charm/on/config_changed[1]")
	c.Check(event.String(), gc.Equals, event.Path())
	c.Check(event.Kind(), gc.Equals, "config_changed")
	c.Check(event.Key(), gc.Equals, "1")
	c.Check(event.Parent().Equal(on), jc.IsTrue)

	var none *framework.Handle
	c.Check(none.Path(), gc.Equals, "")
}

func (s *handleSuite) TestRoundTrip(c *gc.C) {
	for i, h := range []*framework.Handle{
		framework.NewHandle(nil, "Framework", ""),
		framework.NewHandle(nil, "StoredStateData", "_stored"),
		framework.NewHandle(nil, "Charm", "").Nest("on", "").Nest("start", "12"),
		framework.NewHandle(nil, "app", "0").Nest("relation", "db:3").Nest("data", ""),
		framework.NewHandle(nil, "a-b", "x y").Nest("c.d", "e_f"),
	} {
		c.Logf("test %d: %s", i, h)
		parsed, err := framework.ParseHandle(h.Path())
		c.Assert(err, jc.ErrorIsNil)
		c.Check(parsed.Equal(h), jc.IsTrue)
		c.Check(parsed.Path(), gc.Equals, h.Path())
	}
}

func (s *handleSuite) TestParseInvalid(c *gc.C) {
	for i, path := range []string{
		"",
		"Charm//start",
		"Charm/on/",
		"Charm/[1]",
		"Charm/start[]",
		"Charm/start[1",
		"Charm/start]",
		"Charm/start[1]x",
		"Charm/start[[1]]",
	} {
		c.Logf("test %d: %q", i, path)
		_, err := framework.ParseHandle(path)
		c.Check(err, jc.ErrorIs, errors.NotValid)
	}
}

func (s *handleSuite) TestEqual(c *gc.C) {
	a := framework.NewHandle(nil, "Charm", "").Nest("on", "")
	b := framework.NewHandle(nil, "Charm", "").Nest("on", "")
	c.Check(a.Equal(b), jc.IsTrue)
	c.Check(a.Equal(a.Parent()), jc.IsFalse)
	c.Check(a.Nest("start", "1").Equal(b.Nest("start", "2")), jc.IsFalse)
	c.Check(framework.NewHandle(nil, "x", "").Equal(framework.NewHandle(nil, "x", "1")), jc.IsFalse)
	c.Check(a.Equal(nil), jc.IsFalse)
}
