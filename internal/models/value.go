package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind tags the payload held by a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
)

// Value is a small tagged scalar used for scraped, open-ended metadata.
// It marshals to the matching JSON scalar: string, number or null.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
}

func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func Null() Value            { return Value{} }

// Infer turns scraped text into a number when it parses as one, a string otherwise.
func Infer(s string) Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return Null()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Number(f)
	}
	return String(s)
}

func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	default:
		return ""
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return v.set(raw)
}

// MarshalYAML and UnmarshalYAML keep registry exports readable.
func (v Value) MarshalYAML() (any, error) {
	switch v.Kind {
	case KindString:
		return v.Str, nil
	case KindNumber:
		return v.Num, nil
	default:
		return nil, nil
	}
}

func (v *Value) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return v.set(raw)
}

func (v *Value) set(raw any) error {
	switch t := raw.(type) {
	case nil:
		*v = Null()
	case string:
		*v = String(t)
	case float64:
		*v = Number(t)
	case int:
		*v = Number(float64(t))
	case bool:
		*v = String(strconv.FormatBool(t))
	default:
		return fmt.Errorf("unsupported value type %T", raw)
	}
	return nil
}
