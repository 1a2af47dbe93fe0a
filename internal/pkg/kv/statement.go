package kv

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// SetOp is the kind of assignment inside the SET clause.
type SetOp int

const (
	// SetValue assigns the value directly.
	SetValue SetOp = iota
	// SetAdd assigns if_not_exists(field, 0) + value.
	SetAdd
	// SetAppend assigns list_append(if_not_exists(field, []), value).
	SetAppend
)

// Assignment is one entry of the SET clause.
type Assignment struct {
	Field string
	Op    SetOp
	Value any
}

// UpdateStatement is a single update: one SET clause and one REMOVE clause.
type UpdateStatement struct {
	Set    []Assignment
	Remove []string
}

func (s UpdateStatement) IsEmpty() bool {
	return len(s.Set) == 0 && len(s.Remove) == 0
}

// Fields returns every attribute the statement touches, sorted.
func (s UpdateStatement) Fields() []string {
	out := make([]string, 0, len(s.Set)+len(s.Remove))
	for _, a := range s.Set {
		out = append(out, a.Field)
	}
	out = append(out, s.Remove...)
	sort.Strings(out)
	return out
}

// String renders the statement in DynamoDB-like syntax for logs.
func (s UpdateStatement) String() string {
	var b strings.Builder
	if len(s.Set) > 0 {
		b.WriteString("SET ")
		for i, a := range s.Set {
			if i > 0 {
				b.WriteString(", ")
			}
			switch a.Op {
			case SetAdd:
				fmt.Fprintf(&b, "%s = if_not_exists(%s, 0) + %v", a.Field, a.Field, a.Value)
			case SetAppend:
				fmt.Fprintf(&b, "%s = list_append(if_not_exists(%s, []), %v)", a.Field, a.Field, a.Value)
			default:
				fmt.Fprintf(&b, "%s = %v", a.Field, a.Value)
			}
		}
	}
	if len(s.Remove) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("REMOVE ")
		b.WriteString(strings.Join(s.Remove, ", "))
	}
	return b.String()
}

// ApplyUpdate evaluates stmt against a copy of current and returns the result.
// A nil current is treated as an empty item.
func ApplyUpdate(current Item, stmt UpdateStatement) (Item, error) {
	next := current.Clone()
	if next == nil {
		next = Item{}
	}
	for _, a := range stmt.Set {
		switch a.Op {
		case SetValue:
			next[a.Field] = Normalize(a.Value)
		case SetAdd:
			delta, ok := toFloat(a.Value)
			if !ok {
				return nil, fmt.Errorf("add %s: value %v is not a number", a.Field, a.Value)
			}
			base := 0.0
			if v, exists := next[a.Field]; exists {
				if base, ok = toFloat(v); !ok {
					return nil, fmt.Errorf("add %s: stored value is not a number", a.Field)
				}
			}
			next[a.Field] = base + delta
		case SetAppend:
			tail, ok := Normalize(a.Value).([]any)
			if !ok {
				return nil, fmt.Errorf("append %s: value is not a list", a.Field)
			}
			var head []any
			if v, exists := next[a.Field]; exists {
				if head, ok = v.([]any); !ok {
					return nil, fmt.Errorf("append %s: stored value is not a list", a.Field)
				}
			}
			merged := make([]any, 0, len(head)+len(tail))
			merged = append(merged, head...)
			merged = append(merged, tail...)
			next[a.Field] = merged
		default:
			return nil, fmt.Errorf("unknown set op %d on %s", a.Op, a.Field)
		}
	}
	for _, f := range stmt.Remove {
		delete(next, f)
	}
	return next, nil
}

// CheckCondition reports whether current (nil when absent) satisfies cond.
func CheckCondition(current Item, cond Condition) bool {
	exists := current != nil
	switch cond.Require {
	case MustExist:
		if !exists {
			return false
		}
	case MustNotExist:
		if exists {
			return false
		}
	}
	if len(cond.Equals) > 0 {
		if !exists {
			return false
		}
		for name, want := range cond.Equals {
			got, ok := current[name]
			if !ok || !valuesEqual(got, want) {
				return false
			}
		}
	}
	return true
}

// Normalize converts Go values into the canonical Item representation:
// integers and floats to float64, typed slices to []any, typed maps to map[string]any.
func Normalize(v any) any {
	if v == nil {
		return nil
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	switch t := v.(type) {
	case string, bool:
		return t
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = Normalize(t[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case Item:
		return Normalize(map[string]any(t))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.String:
		return rv.String()
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func valuesEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return math.Abs(fa-fb) < 1e-9
	}
	return reflect.DeepEqual(Normalize(a), Normalize(b))
}
