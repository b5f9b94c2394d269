// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package framework

import (
	"strings"

	"github.com/juju/errors"
)

// Handle identifies an object, an event or a piece of stored state
// within the tree rooted at the framework. Handles are immutable.
type Handle struct {
	parent *Handle
	kind   string
	key    string
	path   string
}

// NewHandle returns a handle for the given kind and key nested under
// parent. A nil parent makes a top level handle and an empty key means
// the handle has no key.
func NewHandle(parent *Handle, kind, key string) *Handle {
	segment := kind
	if key != "" {
		segment = kind + "[" + key + "]"
	}
	path := segment
	if parent != nil {
		path = parent.path + "/" + segment
	}
	return &Handle{
		parent: parent,
		kind:   kind,
		key:    key,
		path:   path,
	}
}

// ParseHandle is the inverse of Path.
func ParseHandle(path string) (*Handle, error) {
	if path == "" {
		return nil, errors.NotValidf("empty handle path")
	}
	var h *Handle
	for _, segment := range strings.Split(path, "/") {
		kind, key, err := parseSegment(segment)
		if err != nil {
			return nil, errors.Annotatef(err, "parsing handle path %q", path)
		}
		h = NewHandle(h, kind, key)
	}
	return h, nil
}

func parseSegment(segment string) (kind, key string, _ error) {
	open := strings.IndexByte(segment, '[')
	if open == -1 {
		if segment == "" || strings.IndexByte(segment, ']') != -1 {
			return "", "", errors.NotValidf("segment %q", segment)
		}
		return segment, "", nil
	}
	kind, key = segment[:open], segment[open+1:]
	if kind == "" || !strings.HasSuffix(key, "]") {
		return "", "", errors.NotValidf("segment %q", segment)
	}
	key = key[:len(key)-1]
	if key == "" || strings.ContainsAny(key, "[]") {
		return "", "", errors.NotValidf("segment %q", segment)
	}
	return kind, key, nil
}

// Nest returns a child handle of h.
func (h *Handle) Nest(kind, key string) *Handle {
	return NewHandle(h, kind, key)
}

// Parent returns the parent handle, or nil for a top level handle.
func (h *Handle) Parent() *Handle {
	if h == nil {
		return nil
	}
	return h.parent
}

// Kind returns the kind of object the handle refers to.
func (h *Handle) Kind() string {
	return h.kind
}

// Key returns the handle's key, or the empty string.
func (h *Handle) Key() string {
	return h.key
}

// Path returns the string form of the handle. The path of a nil handle
// is the empty string.
func (h *Handle) Path() string {
	if h == nil {
		return ""
	}
	return h.path
}

// String implements fmt.Stringer.
func (h *Handle) String() string {
	return h.Path()
}

// Equal reports whether two handles have the same kind and key under
// equal parents.
func (h *Handle) Equal(other *Handle) bool {
	if h == nil || other == nil {
		return h == other
	}
	return h.kind == other.kind && h.key == other.key && h.parent.Equal(other.parent)
}
