package fieldaction

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sync"

	"github.com/mwork/booking-ledger/internal/pkg/kv"
	"github.com/mwork/booking-ledger/internal/pkg/validator"
)

// RuleKind selects the rule variant.
type RuleKind string

const (
	RuleType   RuleKind = "type"
	RuleRange  RuleKind = "range"
	RuleEnum   RuleKind = "enum"
	RuleRegex  RuleKind = "regex"
	RuleFormat RuleKind = "format"
)

// ValueType is what a type rule expects.
type ValueType string

const (
	TypeString ValueType = "string"
	TypeNumber ValueType = "number"
	TypeBool   ValueType = "bool"
	TypeList   ValueType = "list"
	TypeMap    ValueType = "map"
)

// Rule is a tagged validator variant. Only the fields of its Kind are read:
// Type for type, Min/Max for range, Values for enum, Pattern for regex and
// Format (a go-playground validator tag such as "uuid4" or "email") for format.
type Rule struct {
	Kind    RuleKind  `json:"kind"`
	Type    ValueType `json:"type,omitempty"`
	Min     *float64  `json:"min,omitempty"`
	Max     *float64  `json:"max,omitempty"`
	Values  []string  `json:"values,omitempty"`
	Pattern string    `json:"pattern,omitempty"`
	Format  string    `json:"format,omitempty"`
}

func IsType(t ValueType) Rule { return Rule{Kind: RuleType, Type: t} }

func InRange(min, max float64) Rule { return Rule{Kind: RuleRange, Min: &min, Max: &max} }

func AtLeast(min float64) Rule { return Rule{Kind: RuleRange, Min: &min} }

func OneOf(values ...string) Rule { return Rule{Kind: RuleEnum, Values: values} }

func Matches(pattern string) Rule { return Rule{Kind: RuleRegex, Pattern: pattern} }

func Format(tag string) Rule { return Rule{Kind: RuleFormat, Format: tag} }

var patternCache sync.Map

func compilePattern(p string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	patternCache.Store(p, re)
	return re, nil
}

// Check runs the rule against one field. Remove actions carry no value and
// always pass.
func (r Rule) Check(f Field) error {
	if f.Action == ActionRemove {
		return nil
	}
	v := kv.Normalize(f.Value)
	switch r.Kind {
	case RuleType:
		if !matchesType(v, r.Type) {
			return fmt.Errorf("must be of type %s", r.Type)
		}
	case RuleRange:
		n, ok := v.(float64)
		if !ok {
			return errors.New("must be a number")
		}
		if r.Min != nil && n < *r.Min {
			return fmt.Errorf("must be at least %v", *r.Min)
		}
		if r.Max != nil && n > *r.Max {
			return fmt.Errorf("must be at most %v", *r.Max)
		}
	case RuleEnum:
		s, ok := v.(string)
		if !ok {
			return errors.New("must be a string")
		}
		for _, allowed := range r.Values {
			if s == allowed {
				return nil
			}
		}
		return fmt.Errorf("must be one of %v", r.Values)
	case RuleRegex:
		s, ok := v.(string)
		if !ok {
			return errors.New("must be a string")
		}
		re, err := compilePattern(r.Pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern %q: %w", r.Pattern, err)
		}
		if !re.MatchString(s) {
			return fmt.Errorf("must match %s", r.Pattern)
		}
	case RuleFormat:
		if err := validator.ValidateVar(f.Value, r.Format); err != nil {
			return fmt.Errorf("must satisfy format %q", r.Format)
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	return nil
}

func matchesType(v any, t ValueType) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeList:
		_, ok := v.([]any)
		return ok
	case TypeMap:
		if v == nil {
			return false
		}
		return reflect.TypeOf(v).Kind() == reflect.Map
	}
	return false
}
