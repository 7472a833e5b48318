package market

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind tags the payload held by a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindNumber
	KindText
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindObject:
		return "object"
	default:
		return "none"
	}
}

// Value is a tagged field value: a number, a text, or a structured object.
// The zero Value is the "field absent" result.
type Value struct {
	kind Kind
	num  float64
	text string
	obj  map[string]Value
}

func Num(f float64) Value { return Value{kind: KindNumber, num: f} }
func Text(s string) Value { return Value{kind: KindText, text: s} }

func Object(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindObject, obj: cp}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsZero() bool   { return v.kind == KindNone }
func (v Value) IsNumber() bool { return v.kind == KindNumber }

// Float returns the numeric payload. Text values holding a number are parsed.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindText:
		f, err := strconv.ParseFloat(v.text, 64)
		return f, err == nil
	}
	return 0, false
}

// Str returns the text payload, or a formatted number.
func (v Value) Str() (string, bool) {
	switch v.kind {
	case KindText:
		return v.text, true
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64), true
	}
	return "", false
}

// Get looks up a member of an object value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	m, ok := v.obj[key]
	return m, ok
}

// Keys returns the sorted member names of an object value.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindText:
		return v.text == o.text
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, a := range v.obj {
			b, ok := o.obj[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber, KindText:
		s, _ := v.Str()
		return s
	case KindObject:
		b, _ := json.Marshal(v)
		return string(b)
	}
	return "<none>"
}

// Any converts the value to plain Go data (float64, string, map[string]any or nil).
func (v Value) Any() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindText:
		return v.text
	case KindObject:
		m := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			m[k] = e.Any()
		}
		return m
	}
	return nil
}

// FromAny converts plain Go data into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t, nil
	case float64:
		return Num(t), nil
	case float32:
		return Num(float64(t)), nil
	case int:
		return Num(float64(t)), nil
	case int64:
		return Num(float64(t)), nil
	case bool:
		if t {
			return Num(1), nil
		}
		return Num(0), nil
	case string:
		return Text(t), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", k, err)
			}
			m[k] = ev
		}
		return Value{kind: KindObject, obj: m}, nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var x any
	if err := json.Unmarshal(b, &x); err != nil {
		return err
	}
	nv, err := FromAny(x)
	if err != nil {
		return err
	}
	*v = nv
	return nil
}

// Fields is the open-ended fundamental/event field map of a bar.
type Fields map[string]Value

// Get returns the named field; ok is false when the field is absent.
func (f Fields) Get(name string) (Value, bool) {
	v, ok := f[name]
	return v, ok
}

// Number returns a numeric field, reporting false when absent or not numeric.
func (f Fields) Number(name string) (float64, bool) {
	v, ok := f[name]
	if !ok {
		return 0, false
	}
	return v.Float()
}
