package model

import (
	"encoding/json"
	"strings"
)

// RawValue is an untrusted field value as it arrived from the client:
// a single string or, for multi-valued inputs such as checkboxes, a list.
type RawValue struct {
	Strings []string
	List    bool
}

// RawString wraps a single submitted value.
func RawString(s string) RawValue { return RawValue{Strings: []string{s}} }

// RawList wraps a multi-valued submission.
func RawList(ss ...string) RawValue { return RawValue{Strings: ss, List: true} }

// First returns the first submitted string or "".
func (r RawValue) First() string {
	if len(r.Strings) == 0 {
		return ""
	}
	return r.Strings[0]
}

// IsEmpty reports whether nothing meaningful was submitted.
func (r RawValue) IsEmpty() bool {
	for _, s := range r.Strings {
		if strings.TrimSpace(strings.ReplaceAll(s, "\x00", "")) != "" {
			return false
		}
	}
	return true
}

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueString
	ValueNumber
	ValueList
)

// Value is a sanitized field value.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	List []string
}

func NullValue() Value { return Value{Kind: ValueNull} }
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }
func NumberValue(n float64) Value { return Value{Kind: ValueNumber, Num: n} }
func ListValue(list []string) Value { return Value{Kind: ValueList, List: list} }

// IsNull reports whether the field was left empty.
func (v Value) IsNull() bool { return v.Kind == ValueNull }

// MarshalJSON encodes the value in its natural JSON shape.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueString:
		return json.Marshal(v.Str)
	case ValueNumber:
		return json.Marshal(v.Num)
	case ValueList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes the natural JSON shape back into a Value.
func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = NullValue()
	case string:
		*v = StringValue(t)
	case float64:
		*v = NumberValue(t)
	case []any:
		list := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				list = append(list, s)
			}
		}
		*v = ListValue(list)
	default:
		*v = NullValue()
	}
	return nil
}
