// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storage

import (
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// FormatVersion is the version of the snapshot encoding written by
// Encode. Decode refuses any other version.
const FormatVersion = 1

const (
	nullTag   = "!!null"
	boolTag   = "!!bool"
	intTag    = "!!int"
	floatTag  = "!!float"
	strTag    = "!!str"
	binaryTag = "!!binary"
	seqTag    = "!!seq"
	mapTag    = "!!map"
	setTag    = "!!set"
)

// Validate checks that data only holds values that can be persisted:
// nil, bools, integers, floats, strings, byte slices, []any,
// map[string]any and Set, nested arbitrarily.
func Validate(data map[string]any) error {
	for _, key := range sortedKeys(data) {
		if err := validateValue(data[key], fmt.Sprintf("[%q]", key)); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(value any, path string) error {
	switch v := value.(type) {
	case nil, bool, float32, float64, []byte, Set:
		return nil
	case string:
		if !utf8.ValidString(v) {
			return errors.NotValidf("non UTF-8 string at %s", path)
		}
		return nil
	case []any:
		for i, item := range v {
			if err := validateValue(item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for _, key := range sortedKeys(v) {
			if err := validateValue(v[key], fmt.Sprintf("%s[%q]", path, key)); err != nil {
				return err
			}
		}
		return nil
	}
	if _, ok, err := toInt(value); ok {
		if err != nil {
			return errors.NotValidf("%v at %s", err, path)
		}
		return nil
	}
	return errors.NotValidf("value of type %T at %s", value, path)
}

// Normalize validates value and returns a deep copy of it in the form
// Decode would produce: integers become int and float32 becomes
// float64.
func Normalize(value any) (any, error) {
	if err := validateValue(value, "value"); err != nil {
		return nil, errors.Trace(err)
	}
	return normalize(value), nil
}

func normalize(value any) any {
	switch v := value.(type) {
	case float32:
		return float64(v)
	case []byte:
		return append([]byte{}, v...)
	case Set:
		out := make(Set, len(v))
		for item := range v {
			out[item] = struct{}{}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = normalize(item)
		}
		return out
	}
	if i, ok, _ := toInt(value); ok {
		return i
	}
	return value
}

// Encode validates data and renders it as a versioned YAML document
// with explicit tags, so that every value decodes back to the same
// type.
func Encode(data map[string]any) ([]byte, error) {
	if err := Validate(data); err != nil {
		return nil, errors.Trace(err)
	}
	var dataNode *yaml.Node
	if data == nil {
		dataNode = scalarNode(nullTag, "null")
	} else {
		var err error
		if dataNode, err = encodeValue(data); err != nil {
			return nil, errors.Trace(err)
		}
	}
	doc := &yaml.Node{
		Kind: yaml.MappingNode,
		Tag:  mapTag,
		Content: []*yaml.Node{
			scalarNode(strTag, "version"),
			scalarNode(intTag, strconv.Itoa(FormatVersion)),
			scalarNode(strTag, "data"),
			dataNode,
		},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Annotate(err, "encoding snapshot")
	}
	return out, nil
}

func scalarNode(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

func encodeValue(value any) (*yaml.Node, error) {
	switch v := value.(type) {
	case nil:
		return scalarNode(nullTag, "null"), nil
	case bool:
		return scalarNode(boolTag, strconv.FormatBool(v)), nil
	case float32:
		return scalarNode(floatTag, formatFloat(float64(v))), nil
	case float64:
		return scalarNode(floatTag, formatFloat(v)), nil
	case string:
		return scalarNode(strTag, v), nil
	case []byte:
		return scalarNode(binaryTag, base64.StdEncoding.EncodeToString(v)), nil
	case []any:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: seqTag}
		for _, item := range v {
			child, err := encodeValue(item)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, child)
		}
		return node, nil
	case map[string]any:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: mapTag}
		for _, key := range sortedKeys(v) {
			child, err := encodeValue(v[key])
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, scalarNode(strTag, key), child)
		}
		return node, nil
	case Set:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: setTag}
		for _, item := range v.Items() {
			child, err := encodeValue(item)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, child, scalarNode(nullTag, "null"))
		}
		return node, nil
	}
	if i, ok, err := toInt(value); ok {
		if err != nil {
			return nil, errors.Trace(err)
		}
		return scalarNode(intTag, strconv.Itoa(i)), nil
	}
	return nil, errors.NotValidf("value of type %T", value)
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// Decode parses a document produced by Encode.
func Decode(raw []byte) (map[string]any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Annotate(err, "decoding snapshot")
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.NotValidf("snapshot document")
	}
	var (
		version  = -1
		dataNode *yaml.Node
	)
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		switch root.Content[i].Value {
		case "version":
			if err := root.Content[i+1].Decode(&version); err != nil {
				return nil, errors.Annotate(err, "decoding snapshot version")
			}
		case "data":
			dataNode = root.Content[i+1]
		}
	}
	if version != FormatVersion {
		return nil, errors.NotSupportedf("snapshot format version %d", version)
	}
	if dataNode == nil {
		return nil, errors.NotValidf("snapshot without data")
	}
	value, err := decodeValue(dataNode)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	}
	return nil, errors.NotValidf("snapshot data of type %T", value)
}

func decodeValue(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.AliasNode:
		return nil, errors.NotSupportedf("yaml alias at line %d", node.Line)
	case yaml.SequenceNode:
		items := make([]any, 0, len(node.Content))
		for _, child := range node.Content {
			item, err := decodeValue(child)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	case yaml.MappingNode:
		if node.ShortTag() == setTag {
			set := make(Set, len(node.Content)/2)
			for i := 0; i < len(node.Content); i += 2 {
				item, err := decodeValue(node.Content[i])
				if err != nil {
					return nil, err
				}
				if err := set.Add(item); err != nil {
					return nil, errors.NotValidf("set member at line %d: %v", node.Content[i].Line, err)
				}
			}
			return set, nil
		}
		m := make(map[string]any, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if key.Kind != yaml.ScalarNode || key.ShortTag() != strTag {
				return nil, errors.NotValidf("mapping key at line %d", key.Line)
			}
			value, err := decodeValue(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			m[key.Value] = value
		}
		return m, nil
	case yaml.ScalarNode:
		return decodeScalar(node)
	}
	return nil, errors.NotValidf("yaml node kind %d at line %d", node.Kind, node.Line)
}

func decodeScalar(node *yaml.Node) (any, error) {
	switch tag := node.ShortTag(); tag {
	case nullTag:
		return nil, nil
	case boolTag:
		var b bool
		if err := node.Decode(&b); err != nil {
			return nil, errors.Trace(err)
		}
		return b, nil
	case intTag:
		var i int
		if err := node.Decode(&i); err != nil {
			return nil, errors.Trace(err)
		}
		return i, nil
	case floatTag:
		switch node.Value {
		case ".nan":
			return math.NaN(), nil
		case ".inf":
			return math.Inf(1), nil
		case "-.inf":
			return math.Inf(-1), nil
		}
		f, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return nil, errors.Annotatef(err, "float at line %d", node.Line)
		}
		return f, nil
	case strTag:
		return node.Value, nil
	case binaryTag:
		clean := strings.Join(strings.Fields(node.Value), "")
		b, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			return nil, errors.Annotatef(err, "binary at line %d", node.Line)
		}
		return b, nil
	default:
		return nil, errors.NotSupportedf("yaml tag %q at line %d", tag, node.Line)
	}
}

// toInt reports whether v is of an integer kind and, if so, its value as
// an int. An error is returned for unsigned values that do not fit.
func toInt(v any) (int, bool, error) {
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int8:
		return int(n), true, nil
	case int16:
		return int(n), true, nil
	case int32:
		return int(n), true, nil
	case int64:
		return int(n), true, nil
	case uint8:
		return int(n), true, nil
	case uint16:
		return int(n), true, nil
	case uint32:
		return int(n), true, nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, true, errors.Errorf("integer %d out of range", n)
		}
		return int(n), true, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, true, errors.Errorf("integer %d out of range", n)
		}
		return int(n), true, nil
	}
	return 0, false, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
