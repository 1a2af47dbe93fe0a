// Package fieldaction validates declarative field updates against a schema
// and compiles them into a single kv.UpdateStatement (or a new kv.Item on
// the create path).
package fieldaction

import (
	"sort"
	"time"
)

// Action says how a field is applied.
type Action string

const (
	ActionSet    Action = "set"
	ActionAdd    Action = "add"
	ActionAppend Action = "append"
	ActionRemove Action = "remove"
)

func (a Action) valid() bool {
	switch a {
	case ActionSet, ActionAdd, ActionAppend, ActionRemove:
		return true
	}
	return false
}

// Attributes injected by the auto options.
const (
	FieldLastUpdated  = "lastUpdated"
	FieldCreationDate = "creationDate"
	FieldVersion      = "version"
)

// TimeLayout is how timestamps are written to records.
const TimeLayout = time.RFC3339Nano

// Field is one requested change. An empty Action means ActionSet.
type Field struct {
	Name   string `json:"name"`
	Value  any    `json:"value"`
	Action Action `json:"action,omitempty"`
}

// FieldValue is the map form of a change: {"value": ..., "action": ...}.
type FieldValue struct {
	Value  any    `json:"value"`
	Action Action `json:"action,omitempty"`
}

// FromMap converts the map form into fields ordered by name.
func FromMap(m map[string]FieldValue) []Field {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]Field, 0, len(m))
	for _, name := range names {
		fields = append(fields, Field{Name: name, Value: m[name].Value, Action: m[name].Action})
	}
	return fields
}

// Set, Add, Append and Remove build fields inline.
func Set(name string, value any) Field   { return Field{Name: name, Value: value, Action: ActionSet} }
func Add(name string, delta any) Field   { return Field{Name: name, Value: delta, Action: ActionAdd} }
func Append(name string, list any) Field { return Field{Name: name, Value: list, Action: ActionAppend} }
func Remove(name string) Field           { return Field{Name: name, Action: ActionRemove} }

// FieldSpec declares what a field accepts. Empty Actions allows every action.
type FieldSpec struct {
	IsMandatory bool     `json:"isMandatory,omitempty"`
	Actions     []Action `json:"actions,omitempty"`
	Rules       []Rule   `json:"rules,omitempty"`
}

func (fs FieldSpec) allows(a Action) bool {
	if len(fs.Actions) == 0 {
		return true
	}
	for _, allowed := range fs.Actions {
		if allowed == a {
			return true
		}
	}
	return false
}

// Schema is plain data so it can be serialised and tested on its own.
type Schema struct {
	Fields        map[string]FieldSpec `json:"fields"`
	AutoTimestamp bool                 `json:"autoTimestamp,omitempty"`
	AutoVersion   bool                 `json:"autoVersion,omitempty"`
	FailOnError   bool                 `json:"failOnError,omitempty"`
	DeveloperMode bool                 `json:"developerMode,omitempty"`
}
