package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies the type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
)

// Value is a scalar from a policy document or a match context.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

func NullValue() Value              { return Value{} }
func StringValue(s string) Value    { return Value{kind: KindString, str: s} }
func NumberValue(f float64) Value   { return Value{kind: KindNumber, num: f} }
func IntValue(i int) Value          { return Value{kind: KindNumber, num: float64(i)} }
func BoolValue(b bool) Value        { return Value{kind: KindBool, b: b} }
func (v Value) Kind() Kind          { return v.kind }
func (v Value) IsNull() bool        { return v.kind == KindNull }
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// ValueOf converts a decoded JSON or YAML scalar. Objects and arrays are rejected.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case float64:
		return NumberValue(t), nil
	case float32:
		return NumberValue(float64(t)), nil
	case int:
		return IntValue(t), nil
	case int64:
		return NumberValue(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("number %q: %w", t, err)
		}
		return NumberValue(f), nil
	default:
		return Value{}, fmt.Errorf("unsupported value of type %T", x)
	}
}

// Equal reports whether v and o hold the same kind and value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	default:
		return true
	}
}

// Text is the string a glob pattern is matched against.
// Null, empty, zero and false all render as "".
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if v.num == 0 {
			return ""
		}
		if v.num == math.Trunc(v.num) && math.Abs(v.num) < 1e15 {
			return strconv.FormatInt(int64(v.num), 10)
		}
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		if v.b {
			return "true"
		}
		return ""
	default:
		return ""
	}
}

// Interface returns the Go value held by v: nil, string, float64 or bool.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	default:
		return nil
	}
}

func (v Value) String() string {
	if v.kind == KindString {
		return strconv.Quote(v.str)
	}
	if v.kind == KindNull {
		return "null"
	}
	return fmt.Sprint(v.Interface())
}

// Context keys populated by the evaluation pipeline.
const (
	KeyActionType      = "action_type"
	KeyActor           = "actor"
	KeyAgent           = "agent"
	KeyToolName        = "tool_name"
	KeyAWSService      = "aws_service"
	KeyAWSOperation    = "aws_operation"
	KeyRiskScore       = "risk_score"
	KeyDefaultDecision = "default_decision"
)

// MatchContext is the flat attribute set rules are matched against.
// Absent keys read as null.
type MatchContext map[string]Value

// Get returns the value for key, or null when absent.
func (c MatchContext) Get(key string) Value {
	return c[key]
}

// DefaultDecision returns the context's default_decision, falling back to ALLOW
// when it is missing or not a known effect.
func (c MatchContext) DefaultDecision() Effect {
	s, ok := c.Get(KeyDefaultDecision).Str()
	if !ok {
		return EffectAllow
	}
	if e := Effect(s); e.Valid() {
		return e
	}
	return EffectAllow
}
