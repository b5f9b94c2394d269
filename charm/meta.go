// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"
)

const (
	ScopeGlobal    = "global"
	ScopeContainer = "container"
)

// RelationRole is the part a charm plays in a relation.
type RelationRole string

const (
	RoleProvider RelationRole = "provider"
	RoleRequirer RelationRole = "requirer"
	RolePeer     RelationRole = "peer"
)

// Relation represents a single relation defined in the charm
// metadata.yaml file.
type Relation struct {
	Name      string
	Role      RelationRole
	Interface string
	Optional  bool
	Limit     int
	Scope     string
}

// StorageType defines a storage type.
type StorageType string

const (
	StorageBlock      StorageType = "block"
	StorageFilesystem StorageType = "filesystem"
)

// Storage represents a charm's storage requirement.
type Storage struct {
	Name        string
	Description string
	Type        StorageType
	Shared      bool
	ReadOnly    bool
	Location    string

	// CountMin and CountMax bound the number of instances. A CountMax
	// of -1 means there is no upper bound.
	CountMin int
	CountMax int
}

// Mount is a storage mount within a container.
type Mount struct {
	Storage  string
	Location string
}

// Container is a workload container of a sidecar charm.
type Container struct {
	Name     string
	Resource string
	Mounts   []Mount
}

// Action is an action the charm can run, as declared in actions.yaml.
type Action struct {
	Name        string
	Description string
	Params      map[string]interface{}
}

// Meta represents all the known content that may be defined
// within a charm's metadata.yaml and actions.yaml files.
type Meta struct {
	Name        string
	Summary     string
	Description string
	Subordinate bool
	Provides    map[string]Relation
	Requires    map[string]Relation
	Peers       map[string]Relation
	Storage     map[string]Storage
	Containers  map[string]Container
	Actions     map[string]Action
}

// RelationNames returns the names of every relation endpoint, sorted.
func (m *Meta) RelationNames() []string {
	var names []string
	for _, relations := range []map[string]Relation{m.Provides, m.Requires, m.Peers} {
		for name := range relations {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ReadDir reads metadata.yaml, and actions.yaml if there is one, from a
// charm directory.
func ReadDir(dir string) (*Meta, error) {
	f, err := os.Open(filepath.Join(dir, "metadata.yaml"))
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	meta, err := ReadMeta(f)
	if err != nil {
		return nil, errors.Trace(err)
	}

	f, err = os.Open(filepath.Join(dir, "actions.yaml"))
	if os.IsNotExist(err) {
		return meta, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	if meta.Actions, err = ReadActions(f); err != nil {
		return nil, errors.Trace(err)
	}
	return meta, nil
}

// ReadMeta reads the content of a metadata.yaml file and returns
// its representation.
func ReadMeta(r io.Reader) (*Meta, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Annotate(err, "metadata")
	}
	v, err := charmSchema.Coerce(raw, nil)
	if err != nil {
		return nil, errors.New("metadata: " + err.Error())
	}
	m := v.(map[string]interface{})
	meta := &Meta{
		Name:        m["name"].(string),
		Summary:     m["summary"].(string),
		Description: m["description"].(string),
		Provides:    parseRelations(m["provides"], RoleProvider),
		Requires:    parseRelations(m["requires"], RoleRequirer),
		Peers:       parseRelations(m["peers"], RolePeer),
		Storage:     parseStorage(m["storage"]),
		Containers:  parseContainers(m["containers"]),
	}
	// Subordinate charms must have at least one relation that
	// has container scope, otherwise they can't relate to the
	// principal.
	if subordinate := m["subordinate"]; subordinate != nil {
		valid := false
		for _, relationData := range meta.Requires {
			if relationData.Scope == ScopeContainer {
				valid = true
				break
			}
		}
		if !valid {
			return nil, errors.Errorf("subordinate charm %q lacks requires relation with container scope", meta.Name)
		}
		meta.Subordinate = subordinate.(bool)
	}
	for name, container := range meta.Containers {
		for _, mount := range container.Mounts {
			if _, ok := meta.Storage[mount.Storage]; !ok {
				return nil, errors.NotValidf("container %q mounts undefined storage %q", name, mount.Storage)
			}
		}
	}
	return meta, nil
}

func parseRelations(relations interface{}, role RelationRole) map[string]Relation {
	if relations == nil {
		return nil
	}
	result := make(map[string]Relation)
	for name, rel := range relations.(map[string]interface{}) {
		relMap := rel.(map[string]interface{})
		relation := Relation{
			Name:      name,
			Role:      role,
			Interface: relMap["interface"].(string),
			Optional:  relMap["optional"].(bool),
		}
		if scope := relMap["scope"]; scope != nil {
			relation.Scope = scope.(string)
		}
		if relMap["limit"] != nil {
			// Schema defaults to int64, but we know
			// the int range should be more than enough.
			relation.Limit = int(relMap["limit"].(int64))
		}
		result[name] = relation
	}
	return result
}

func parseStorage(stores interface{}) map[string]Storage {
	if stores == nil {
		return nil
	}
	result := make(map[string]Storage)
	for name, store := range stores.(map[string]interface{}) {
		storeMap := store.(map[string]interface{})
		s := Storage{
			Name:        name,
			Description: storeMap["description"].(string),
			Type:        StorageType(storeMap["type"].(string)),
			Shared:      storeMap["shared"].(bool),
			ReadOnly:    storeMap["read-only"].(bool),
			CountMin:    1,
			CountMax:    1,
		}
		if location, ok := storeMap["location"].(string); ok {
			s.Location = location
		}
		if multiple, ok := storeMap["multiple"].(map[string]interface{}); ok {
			s.CountMin, s.CountMax = multiple["range"].(storageCount).min, multiple["range"].(storageCount).max
		}
		result[name] = s
	}
	return result
}

func parseContainers(containers interface{}) map[string]Container {
	if containers == nil {
		return nil
	}
	result := make(map[string]Container)
	for name, container := range containers.(map[string]interface{}) {
		containerMap := container.(map[string]interface{})
		c := Container{Name: name}
		if resource, ok := containerMap["resource"].(string); ok {
			c.Resource = resource
		}
		if mounts, ok := containerMap["mounts"].([]interface{}); ok {
			for _, mount := range mounts {
				mountMap := mount.(map[string]interface{})
				m := Mount{Storage: mountMap["storage"].(string)}
				if location, ok := mountMap["location"].(string); ok {
					m.Location = location
				}
				c.Mounts = append(c.Mounts, m)
			}
		}
		result[name] = c
	}
	return result
}

var actionNameRule = regexp.MustCompile("^[a-z](?:[a-z-]*[a-z])?$")

// ReadActions reads the content of an actions.yaml file.
func ReadActions(r io.Reader) (map[string]Action, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Annotate(err, "actions")
	}
	v, err := actionsSchema.Coerce(raw, nil)
	if err != nil {
		return nil, errors.New("actions: " + err.Error())
	}
	result := make(map[string]Action)
	for name, action := range v.(map[string]interface{}) {
		if !actionNameRule.MatchString(name) {
			return nil, errors.NotValidf("action name %q", name)
		}
		actionMap := action.(map[string]interface{})
		a := Action{
			Name:        name,
			Description: actionMap["description"].(string),
		}
		if params, ok := actionMap["params"].(map[string]interface{}); ok {
			a.Params = params
		}
		result[name] = a
	}
	return result, nil
}

// Schema coercer that expands the interface shorthand notation.
// A consistent format is easier to work with than considering the
// potential difference everywhere.
//
// Supports the following variants::
//
//	provides:
//	  server: riak
//	  admin: http
//	  foobar:
//	    interface: blah
//
//	provides:
//	  server:
//	    interface: mysql
//	    limit:
//	    optional: false
//
// In all input cases, the output is the fully specified interface
// representation as seen in the mysql interface description above.
func IfaceExpander(limit interface{}) schema.Checker {
	return ifaceExpC{limit}
}

type ifaceExpC struct {
	limit interface{}
}

var (
	stringC = schema.String()
	mapC    = schema.StringMap(schema.Any())
)

func (c ifaceExpC) Coerce(v interface{}, path []string) (newv interface{}, err error) {
	s, err := stringC.Coerce(v, path)
	if err == nil {
		newv = map[string]interface{}{
			"interface": s,
			"limit":     c.limit,
			"optional":  false,
			"scope":     ScopeGlobal,
		}
		return
	}

	// Optional values are context-sensitive and/or have
	// defaults, which is different than what KeyDict can
	// readily support. So just do it here first, then
	// coerce to the real schema.
	v, err = mapC.Coerce(v, path)
	if err != nil {
		return
	}
	m := v.(map[string]interface{})
	if _, ok := m["limit"]; !ok {
		m["limit"] = c.limit
	}
	return ifaceSchema.Coerce(m, path)
}

var ifaceSchema = schema.FieldMap(
	schema.Fields{
		"interface": schema.String(),
		"limit":     schema.OneOf(schema.Const(nil), schema.Int()),
		"scope":     schema.OneOf(schema.Const(ScopeGlobal), schema.Const(ScopeContainer)),
		"optional":  schema.Bool(),
	},
	schema.Defaults{
		"scope":    ScopeGlobal,
		"optional": false,
	},
)

// storageCount is a parsed "multiple: range:" value.
type storageCount struct {
	min, max int
}

// storageCountC accepts a count such as 2, or a range such as "1-3",
// "2+" or "0-".
type storageCountC struct{}

func (storageCountC) Coerce(v interface{}, path []string) (interface{}, error) {
	n, err := schema.Int().Coerce(v, path)
	if err == nil {
		count := int(n.(int64))
		return storageCount{min: count, max: count}, nil
	}
	s, err := stringC.Coerce(v, path)
	if err != nil {
		return nil, err
	}
	r := s.(string)
	invalid := errors.NotValidf("%s: storage range %q", strings.TrimPrefix(strings.Join(path, ""), "."), r)
	var lo, hi string
	switch {
	case strings.HasSuffix(r, "+"), strings.HasSuffix(r, "-"):
		lo, hi = r[:len(r)-1], ""
	case strings.Contains(r, "-"):
		lo, hi, _ = strings.Cut(r, "-")
	default:
		lo, hi = r, r
	}
	count := storageCount{max: -1}
	if count.min, err = strconv.Atoi(lo); err != nil || count.min < 0 {
		return nil, invalid
	}
	if hi != "" {
		if count.max, err = strconv.Atoi(hi); err != nil || count.max < count.min {
			return nil, invalid
		}
	}
	return count, nil
}

var storageSchema = schema.FieldMap(
	schema.Fields{
		"type":        schema.OneOf(schema.Const(string(StorageBlock)), schema.Const(string(StorageFilesystem))),
		"description": schema.String(),
		"shared":      schema.Bool(),
		"read-only":   schema.Bool(),
		"location":    schema.String(),
		"multiple": schema.FieldMap(
			schema.Fields{"range": storageCountC{}},
			schema.Defaults{},
		),
	},
	schema.Defaults{
		"description": "",
		"shared":      false,
		"read-only":   false,
		"location":    schema.Omit,
		"multiple":    schema.Omit,
	},
)

var containerSchema = schema.FieldMap(
	schema.Fields{
		"resource": schema.String(),
		"mounts": schema.List(schema.FieldMap(
			schema.Fields{
				"storage":  schema.String(),
				"location": schema.String(),
			},
			schema.Defaults{"location": schema.Omit},
		)),
	},
	schema.Defaults{
		"resource": schema.Omit,
		"mounts":   schema.Omit,
	},
)

var charmSchema = schema.FieldMap(
	schema.Fields{
		"name":        schema.String(),
		"summary":     schema.String(),
		"description": schema.String(),
		"peers":       schema.StringMap(IfaceExpander(int64(1))),
		"provides":    schema.StringMap(IfaceExpander(nil)),
		"requires":    schema.StringMap(IfaceExpander(int64(1))),
		"subordinate": schema.Bool(),
		"storage":     schema.StringMap(storageSchema),
		"containers":  schema.StringMap(containerSchema),
	},
	schema.Defaults{
		"summary":     "",
		"description": "",
		"peers":       schema.Omit,
		"provides":    schema.Omit,
		"requires":    schema.Omit,
		"subordinate": schema.Omit,
		"storage":     schema.Omit,
		"containers":  schema.Omit,
	},
)

var actionsSchema = schema.StringMap(schema.FieldMap(
	schema.Fields{
		"description": schema.String(),
		"params":      schema.StringMap(schema.Any()),
	},
	schema.Defaults{
		"description": "",
		"params":      schema.Omit,
	},
))
