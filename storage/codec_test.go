// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storage_test

import (
	"math"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/ops/storage"
)

type codecSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&codecSuite{})

func (s *codecSuite) TestRoundTripPreservesTypes(c *gc.C) {
	data := map[string]any{
		"none":    nil,
		"flag":    true,
		"count":   int64(42),
		"ratio":   float32(0.5),
		"whole":   2.0,
		"name":    "mysql",
		"raw":     []byte{0, 1, 2, 255},
		"members": []any{"a", 1, []any{}, map[string]any{"x": nil}},
		"settings": map[string]any{
			"port":  uint16(3306),
			"hosts": storage.NewSet("b", "a"),
		},
		"ids": storage.NewSet(3, 1, 2),
	}
	blob, err := storage.Encode(data)
	c.Assert(err, jc.ErrorIsNil)

	got, err := storage.Decode(blob)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, map[string]any{
		"none":    nil,
		"flag":    true,
		"count":   42,
		"ratio":   0.5,
		"whole":   2.0,
		"name":    "mysql",
		"raw":     []byte{0, 1, 2, 255},
		"members": []any{"a", 1, []any{}, map[string]any{"x": nil}},
		"settings": map[string]any{
			"port":  3306,
			"hosts": storage.NewSet("a", "b"),
		},
		"ids": storage.NewSet(1, 2, 3),
	})
}

func (s *codecSuite) TestStringsThatLookLikeOtherTypes(c *gc.C) {
	data := map[string]any{
		"a": "null",
		"b": "123",
		"c": "",
		"d": "true",
		"e": "1.5",
		"f": "line one\nline two\n",
		"g": " padded ",
	}
	blob, err := storage.Encode(data)
	c.Assert(err, jc.ErrorIsNil)
	got, err := storage.Decode(blob)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, data)
}

func (s *codecSuite) TestSpecialFloats(c *gc.C) {
	blob, err := storage.Encode(map[string]any{"inf": math.Inf(1), "ninf": math.Inf(-1), "nan": math.NaN()})
	c.Assert(err, jc.ErrorIsNil)
	got, err := storage.Decode(blob)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(math.IsInf(got["inf"].(float64), 1), jc.IsTrue)
	c.Check(math.IsInf(got["ninf"].(float64), -1), jc.IsTrue)
	c.Check(math.IsNaN(got["nan"].(float64)), jc.IsTrue)
}

func (s *codecSuite) TestNilData(c *gc.C) {
	blob, err := storage.Encode(nil)
	c.Assert(err, jc.ErrorIsNil)
	got, err := storage.Decode(blob)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, gc.IsNil)
}

func (s *codecSuite) TestDocumentIsVersioned(c *gc.C) {
	blob, err := storage.Encode(map[string]any{"event_count": 1})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(blob), gc.Equals, `
version: 1
data:
    event_count: 1
`[1:])

	_, err = storage.Decode([]byte(strings.Replace(string(blob), "version: 1", "version: 2", 1)))
	c.Assert(err, jc.ErrorIs, errors.NotSupported)
	c.Check(err, gc.ErrorMatches, "snapshot format version 2 not supported")

	_, err = storage.Decode([]byte("data: {}\n"))
	c.Assert(err, jc.ErrorIs, errors.NotSupported)
}

func (s *codecSuite) TestDecodeRejectsForeignDocuments(c *gc.C) {
	_, err := storage.Decode([]byte("version: 1\ndata: !!timestamp 2001-12-14\n"))
	c.Check(err, gc.NotNil)

	_, err = storage.Decode([]byte("version: 1\ndata: &a {x: *a}\n"))
	c.Check(err, gc.NotNil)

	_, err = storage.Decode([]byte("version: 1\ndata: [1, 2]\n"))
	c.Check(err, jc.ErrorIs, errors.NotValid)

	_, err = storage.Decode([]byte("version: 1\ndata: {1: a}\n"))
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *codecSuite) TestValidateRejectsComplexValues(c *gc.C) {
	type custom struct{}
	for i, test := range []struct {
		data    map[string]any
		message string
	}{{
		data:    map[string]any{"a": custom{}},
		message: `value of type storage_test.custom at \["a"\] not valid`,
	}, {
		data:    map[string]any{"a": []any{1, []string{"x"}}},
		message: `value of type \[\]string at \["a"\]\[1\] not valid`,
	}, {
		data:    map[string]any{"a": map[string]any{"b": map[int]any{}}},
		message: `value of type map\[int\]interface \{\} at \["a"\]\["b"\] not valid`,
	}, {
		data:    map[string]any{"a": uint64(math.MaxUint64)},
		message: `integer 18446744073709551615 out of range at \["a"\] not valid`,
	}, {
		data:    map[string]any{"a": string([]byte{0xff})},
		message: `non UTF-8 string at \["a"\] not valid`,
	}} {
		c.Logf("test %d", i)
		err := storage.Validate(test.data)
		c.Check(err, jc.ErrorIs, errors.NotValid)
		c.Check(err, gc.ErrorMatches, test.message)

		_, err = storage.Encode(test.data)
		c.Check(err, jc.ErrorIs, errors.NotValid)
	}
}

func (s *codecSuite) TestSet(c *gc.C) {
	set := storage.NewSet("b", int8(2), 1.5, true)
	c.Check(set.Len(), gc.Equals, 4)
	c.Check(set.Contains(2), jc.IsTrue)
	c.Check(set.Contains(int64(2)), jc.IsTrue)
	c.Check(set.Contains("c"), jc.IsFalse)
	c.Check(set.Items(), jc.DeepEquals, []any{true, 1.5, 2, "b"})

	c.Check(set.Remove("b"), jc.IsTrue)
	c.Check(set.Remove("b"), jc.IsFalse)
	c.Check(set.Add([]byte("x")), gc.ErrorMatches, `set members must be bools, numbers or strings, not \[\]uint8`)
}
