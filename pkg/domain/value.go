package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind discriminates the closed set of dynamic value shapes.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// Value is a dynamic JSON-ish value restricted to a closed variant:
// string, number, bool, ordered map, ordered list, or null. Payloads,
// flags, and features are modeled as Values so that canonicalization
// for hashing stays deterministic. The zero Value is null.
type Value struct {
	kind    Kind
	boolVal bool
	numVal  float64
	strVal  string
	list    []Value
	keys    []string
	vals    []Value
}

// Field is one key/value pair of a map Value. Insertion order is preserved
// for serialization; canonical encoding sorts by key.
type Field struct {
	Key   string
	Value Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, boolVal: b} }

// Number wraps a float64.
func Number(f float64) Value { return Value{kind: KindNumber, numVal: f} }

// Int wraps an integer as a number Value.
func Int(i int64) Value { return Number(float64(i)) }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, strVal: s} }

// List builds a list Value from items.
func List(items ...Value) Value {
	return Value{kind: KindList, list: items}
}

// Map builds an ordered map Value from fields. Later duplicates of a key
// overwrite the earlier value but keep the original position.
func Map(fields ...Field) Value {
	v := Value{kind: KindMap}
	for _, f := range fields {
		v.setKey(f.Key, f.Value)
	}
	return v
}

func (v *Value) setKey(key string, val Value) {
	for i, k := range v.keys {
		if k == key {
			v.vals[i] = val
			return
		}
	}
	v.keys = append(v.keys, key)
	v.vals = append(v.vals, val)
}

// Kind returns the variant discriminator.
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether the value is null. It makes Value work with the
// encoding/json omitzero option.
func (v Value) IsZero() bool { return v.kind == KindNull }

// BoolValue returns the boolean payload when the value is a bool.
func (v Value) BoolValue() (bool, bool) { return v.boolVal, v.kind == KindBool }

// NumberValue returns the numeric payload when the value is a number.
func (v Value) NumberValue() (float64, bool) { return v.numVal, v.kind == KindNumber }

// StringValue returns the string payload when the value is a string.
func (v Value) StringValue() (string, bool) { return v.strVal, v.kind == KindString }

// Len returns the number of items (list) or fields (map), zero otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.keys)
	default:
		return 0
	}
}

// Index returns the i-th list item, or null when out of range.
func (v Value) Index(i int) Value {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return Null()
	}
	return v.list[i]
}

// Get looks up a map field by key.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Null(), false
	}
	for i, k := range v.keys {
		if k == key {
			return v.vals[i], true
		}
	}
	return Null(), false
}

// Keys returns the map keys in insertion order.
func (v Value) Keys() []string {
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Canonical returns the deterministic byte encoding used for hashing.
// Two Values that are structurally equal produce identical bytes, no
// matter how they were constructed: map fields are emitted sorted by key
// and numbers use the shortest round-trippable decimal form.
func (v Value) Canonical() []byte {
	return v.AppendCanonical(nil)
}

// AppendCanonical appends the canonical encoding to dst.
func (v Value) AppendCanonical(dst []byte) []byte {
	switch v.kind {
	case KindNull:
		return append(dst, 'z')
	case KindBool:
		if v.boolVal {
			return append(dst, 't')
		}
		return append(dst, 'f')
	case KindNumber:
		dst = append(dst, 'n')
		dst = strconv.AppendFloat(dst, v.numVal, 'g', -1, 64)
		return append(dst, ';')
	case KindString:
		dst = append(dst, 's')
		dst = strconv.AppendInt(dst, int64(len(v.strVal)), 10)
		dst = append(dst, ':')
		return append(dst, v.strVal...)
	case KindList:
		dst = append(dst, 'l')
		dst = strconv.AppendInt(dst, int64(len(v.list)), 10)
		dst = append(dst, ';')
		for _, item := range v.list {
			dst = item.AppendCanonical(dst)
		}
		return dst
	case KindMap:
		order := make([]int, len(v.keys))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool {
			return v.keys[order[a]] < v.keys[order[b]]
		})
		dst = append(dst, 'm')
		dst = strconv.AppendInt(dst, int64(len(v.keys)), 10)
		dst = append(dst, ';')
		for _, i := range order {
			dst = String(v.keys[i]).AppendCanonical(dst)
			dst = v.vals[i].AppendCanonical(dst)
		}
		return dst
	default:
		return dst
	}
}

// Equal reports structural equality (map order insensitive).
func (v Value) Equal(other Value) bool {
	return bytes.Equal(v.Canonical(), other.Canonical())
}

// MarshalJSON renders the value as plain JSON, preserving map insertion order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.boolVal))
	case KindNumber:
		b, err := json.Marshal(v.numVal)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindString:
		b, err := json.Marshal(v.strVal)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.vals[i].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// UnmarshalJSON parses arbitrary JSON into the closed variant, preserving
// object key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	parsed, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null(), err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), err
		}
		return Number(f), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Null(), err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil { // closing ]
				return Null(), err
			}
			return List(items...), nil
		case '{':
			out := Value{kind: KindMap}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Null(), err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Null(), fmt.Errorf("value: object key is not a string: %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Null(), err
				}
				out.setKey(key, val)
			}
			if _, err := dec.Token(); err != nil { // closing }
				return Null(), err
			}
			return out, nil
		}
	}
	return Null(), fmt.Errorf("value: unexpected token %v", tok)
}
