package vars

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind discriminates the variants a script value can take.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindNumber
	KindList
	KindSet
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindMap:
		return "map"
	}
	return "unknown"
}

// Value is the tagged union stored in the variable store and passed through
// script arguments. The zero value is the empty string.
type Value struct {
	kind  Kind
	str   string
	num   float64
	b     bool
	elems []Value
	m     *orderedmap.OrderedMap[string, Value]
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// ListOf returns an ordered list value.
func ListOf(elems ...Value) Value {
	return Value{kind: KindList, elems: append([]Value(nil), elems...)}
}

// SetOf returns a set value. Duplicate elements collapse; the first
// occurrence wins so iteration stays deterministic.
func SetOf(elems ...Value) Value {
	seen := make(map[string]bool, len(elems))
	out := make([]Value, 0, len(elems))
	for _, e := range elems {
		key := e.canonical()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return Value{kind: KindSet, elems: out}
}

// EmptyMap returns a new, empty insertion-ordered map value.
func EmptyMap() Value {
	return Value{kind: KindMap, m: orderedmap.New[string, Value]()}
}

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string payload. Only meaningful for KindString.
func (v Value) Str() string { return v.str }

// Num returns the numeric payload. Only meaningful for KindNumber.
func (v Value) Num() float64 { return v.num }

// Bool returns the boolean payload. Only meaningful for KindBool.
func (v Value) Bool() bool { return v.b }

// Items returns the elements of a list or set, in order.
func (v Value) Items() []Value {
	return append([]Value(nil), v.elems...)
}

// Len returns the number of elements or map entries.
func (v Value) Len() int {
	switch v.kind {
	case KindList, KindSet:
		return len(v.elems)
	case KindMap:
		if v.m == nil {
			return 0
		}
		return v.m.Len()
	}
	return 0
}

// Keys returns the map keys in insertion order.
func (v Value) Keys() []string {
	if v.kind != KindMap || v.m == nil {
		return nil
	}
	keys := make([]string, 0, v.m.Len())
	for pair := v.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Get looks up a map entry by key.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap || v.m == nil {
		return Value{}, false
	}
	return v.m.Get(key)
}

// Set inserts or replaces a map entry. It is a no-op on non-map values.
func (v Value) Set(key string, val Value) {
	if v.kind != KindMap || v.m == nil {
		return
	}
	v.m.Set(key, val)
}

// Equal reports deep equality. Map comparison ignores insertion order.
func (v Value) Equal(other Value) bool {
	return v.canonical() == other.canonical()
}

// Printable renders the value the way inline expansion substitutes it:
// numbers in plain decimal, booleans as "true"/"false", strings as their
// text. Containers render as their JSON encoding, which is deterministic.
func (v Value) Printable() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// canonical is a deterministic fingerprint used for equality and set
// de-duplication. Map keys are sorted so insertion order does not matter.
func (v Value) canonical() string {
	var b strings.Builder
	v.writeCanonical(&b)
	return b.String()
}

func (v Value) writeCanonical(b *strings.Builder) {
	switch v.kind {
	case KindString:
		b.WriteString("s:")
		b.WriteString(v.str)
	case KindBool:
		b.WriteString("b:")
		b.WriteString(v.Printable())
	case KindNumber:
		b.WriteString("n:")
		b.WriteString(v.Printable())
	case KindList:
		b.WriteString("l[")
		for _, e := range v.elems {
			e.writeCanonical(b)
			b.WriteByte(',')
		}
		b.WriteByte(']')
	case KindSet:
		parts := make([]string, 0, len(v.elems))
		for _, e := range v.elems {
			parts = append(parts, e.canonical())
		}
		sort.Strings(parts)
		b.WriteString("t{")
		for _, p := range parts {
			b.WriteString(p)
			b.WriteByte(',')
		}
		b.WriteByte('}')
	case KindMap:
		keys := v.Keys()
		sort.Strings(keys)
		b.WriteString("m{")
		for _, k := range keys {
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			entry, _ := v.Get(k)
			entry.writeCanonical(b)
			b.WriteByte(',')
		}
		b.WriteByte('}')
	}
}

// MarshalJSON encodes the value. Sets encode as arrays sorted by canonical
// form so the output is deterministic; maps keep insertion order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if v.num == float64(int64(v.num)) {
			return []byte(strconv.FormatInt(int64(v.num), 10)), nil
		}
		return []byte(strconv.FormatFloat(v.num, 'f', -1, 64)), nil
	case KindList:
		return marshalElems(v.elems)
	case KindSet:
		elems := append([]Value(nil), v.elems...)
		sort.Slice(elems, func(i, j int) bool {
			return elems[i].canonical() < elems[j].canonical()
		})
		return marshalElems(elems)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	}
	return nil, fmt.Errorf("vars: cannot marshal kind %v", v.kind)
}

func marshalElems(elems []Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range elems {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes JSON into the value sum type. Objects keep their
// key order; numbers decode as float64; null decodes as the empty string.
// JSON has no set syntax, so sets only ever arise from script execution.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("vars: empty JSON value")
	}
	switch trimmed[0] {
	case '{':
		om := orderedmap.New[string, Value]()
		if err := json.Unmarshal(trimmed, &om); err != nil {
			return err
		}
		*v = Value{kind: KindMap, m: om}
		return nil
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return err
		}
		elems := make([]Value, len(raws))
		for i, raw := range raws {
			if err := elems[i].UnmarshalJSON(raw); err != nil {
				return err
			}
		}
		*v = Value{kind: KindList, elems: elems}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case 'n':
		*v = String("")
		return nil
	default:
		var f float64
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return err
		}
		*v = Number(f)
		return nil
	}
}
