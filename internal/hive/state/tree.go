// Package state holds the character state tree: a closed union of scalars,
// trees and sequences, with a canonical JSON form, a content digest, and the
// op-based merge engine that mutates it.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrMalformedState is returned when a Go value cannot be represented as a
// state tree value.
var ErrMalformedState = errors.New("malformed state value")

type Kind uint8

const (
	KindScalar Kind = iota // null, bool, number, string
	KindTree
	KindSeq
)

// Value is one node of a state tree. The zero Value is the JSON null scalar.
type Value struct {
	kind   Kind
	scalar any // nil | bool | float64 | string
	tree   Tree
	seq    []Value
}

// Tree is an unordered mapping from keys to values.
type Tree map[string]Value

func (v Value) Kind() Kind { return v.kind }

func (v Value) Scalar() any { return v.scalar }

func (v Value) Tree() Tree { return v.tree }

func (v Value) Seq() []Value { return v.seq }

func (v Value) IsNull() bool { return v.kind == KindScalar && v.scalar == nil }

func TreeValue(t Tree) Value {
	if t == nil {
		t = Tree{}
	}
	return Value{kind: KindTree, tree: t}
}

func SeqValue(s []Value) Value {
	if s == nil {
		s = []Value{}
	}
	return Value{kind: KindSeq, seq: s}
}

// FromAny converts a plain Go value (as produced by encoding/json, plus the
// usual int widths) into a Value. Anything else signals ErrMalformedState.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case bool:
		return Value{scalar: t}, nil
	case string:
		return Value{scalar: t}, nil
	case float64:
		return Value{scalar: t}, nil
	case float32:
		return Value{scalar: float64(t)}, nil
	case int:
		return Value{scalar: float64(t)}, nil
	case int32:
		return Value{scalar: float64(t)}, nil
	case int64:
		return Value{scalar: float64(t)}, nil
	case uint64:
		return Value{scalar: float64(t)}, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
		}
		return Value{scalar: f}, nil
	case Value:
		return t, nil
	case Tree:
		return TreeValue(t), nil
	case []Value:
		return SeqValue(t), nil
	case map[string]any:
		out := make(Tree, len(t))
		for k, elem := range t {
			v, err := FromAny(elem)
			if err != nil {
				return Value{}, err
			}
			out[k] = v
		}
		return TreeValue(out), nil
	case []any:
		out := make([]Value, 0, len(t))
		for _, elem := range t {
			v, err := FromAny(elem)
			if err != nil {
				return Value{}, err
			}
			out = append(out, v)
		}
		return SeqValue(out), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported type %T", ErrMalformedState, x)
	}
}

// TreeFromAny converts a map into a Tree, signalling ErrMalformedState when
// the map (or anything below it) is not representable.
func TreeFromAny(m map[string]any) (Tree, error) {
	v, err := FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.tree, nil
}

// Decode parses JSON into a state tree. The top level must be an object.
func Decode(data []byte) (Tree, error) {
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if t == nil {
		t = Tree{}
	}
	return t, nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindTree:
		if v.tree == nil {
			return []byte("{}"), nil
		}
		return v.tree.MarshalJSON()
	case KindSeq:
		if len(v.seq) == 0 {
			return []byte("[]"), nil
		}
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range v.seq {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := elem.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return json.Marshal(v.scalar)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return errors.New("empty value")
	}
	switch trimmed[0] {
	case '{':
		var t Tree
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		if t == nil {
			t = Tree{}
		}
		*v = Value{kind: KindTree, tree: t}
		return nil
	case '[':
		var s []Value
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == nil {
			s = []Value{}
		}
		*v = Value{kind: KindSeq, seq: s}
		return nil
	default:
		var sc any
		if err := json.Unmarshal(data, &sc); err != nil {
			return err
		}
		*v = Value{scalar: sc}
		return nil
	}
}

// MarshalJSON writes the canonical form: keys sorted lexicographically, no
// extraneous whitespace. This is the byte stream the digest is computed over.
func (t Tree) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := t[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Clone returns a deep copy; mutations of the copy never reach the original.
func (t Tree) Clone() Tree {
	if t == nil {
		return Tree{}
	}
	out := make(Tree, len(t))
	for k, v := range t {
		out[k] = v.Clone()
	}
	return out
}

func (v Value) Clone() Value {
	switch v.kind {
	case KindTree:
		return Value{kind: KindTree, tree: v.tree.Clone()}
	case KindSeq:
		out := make([]Value, len(v.seq))
		for i, elem := range v.seq {
			out[i] = elem.Clone()
		}
		return Value{kind: KindSeq, seq: out}
	default:
		return v
	}
}
