package fieldaction

import (
	"sort"
	"time"

	"github.com/mwork/booking-ledger/internal/pkg/apperr"
	"github.com/mwork/booking-ledger/internal/pkg/kv"
)

// Compiler turns validated fields into store writes. The clock is injected so
// auto timestamps are deterministic in tests.
type Compiler struct {
	now func() time.Time
}

func NewCompiler(now func() time.Time) *Compiler {
	if now == nil {
		now = time.Now
	}
	return &Compiler{now: now}
}

// Now returns the compiler clock's current time in UTC.
func (c *Compiler) Now() time.Time {
	return c.now().UTC()
}

// Timestamp formats the compiler clock's current time with TimeLayout.
func (c *Compiler) Timestamp() string {
	return c.Now().Format(TimeLayout)
}

func normalizeActions(fields []Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		if f.Action == "" {
			f.Action = ActionSet
		}
		out[i] = f
	}
	return out
}

// Validate checks fields against the schema and returns the first violation
// as a 400 validation error. DeveloperMode skips the schema rules but unknown
// actions are always rejected.
func Validate(fields []Field, schema Schema) error {
	fields = normalizeActions(fields)
	for _, f := range fields {
		if !f.Action.valid() {
			return apperr.Validation("field %q: unknown action %q", f.Name, f.Action)
		}
	}
	if schema.DeveloperMode {
		return nil
	}

	present := make(map[string]bool, len(fields))
	for _, f := range fields {
		present[f.Name] = true
	}
	mandatory := make([]string, 0)
	for name, spec := range schema.Fields {
		if spec.IsMandatory {
			mandatory = append(mandatory, name)
		}
	}
	sort.Strings(mandatory)
	for _, name := range mandatory {
		if !present[name] {
			return apperr.Validation("field %q: is mandatory", name)
		}
	}

	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Name] {
			return apperr.Validation("field %q: duplicated", f.Name)
		}
		seen[f.Name] = true
	}

	for _, f := range fields {
		if _, ok := schema.Fields[f.Name]; !ok {
			return apperr.Validation("field %q: not allowed", f.Name)
		}
	}

	for _, f := range fields {
		spec := schema.Fields[f.Name]
		if !spec.allows(f.Action) {
			return apperr.Validation("field %q: action %q not allowed", f.Name, f.Action)
		}
		for _, r := range spec.Rules {
			if err := r.Check(f); err != nil {
				return apperr.Validation("field %q: %v", f.Name, err)
			}
		}
	}
	return nil
}

func hasField(fields []Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Compile validates fields and merges them into one statement: set, add and
// append fields share the SET clause, remove fields form the REMOVE clause.
// AutoTimestamp and AutoVersion inject lastUpdated and version after validation.
func (c *Compiler) Compile(fields []Field, schema Schema) (kv.UpdateStatement, error) {
	if err := Validate(fields, schema); err != nil {
		return kv.UpdateStatement{}, err
	}
	fields = normalizeActions(fields)
	if schema.AutoTimestamp && !hasField(fields, FieldLastUpdated) {
		fields = append(fields, Set(FieldLastUpdated, c.Timestamp()))
	}
	if schema.AutoVersion && !hasField(fields, FieldVersion) {
		fields = append(fields, Add(FieldVersion, 1))
	}

	var stmt kv.UpdateStatement
	for _, f := range fields {
		switch f.Action {
		case ActionSet:
			stmt.Set = append(stmt.Set, kv.Assignment{Field: f.Name, Op: kv.SetValue, Value: f.Value})
		case ActionAdd:
			stmt.Set = append(stmt.Set, kv.Assignment{Field: f.Name, Op: kv.SetAdd, Value: f.Value})
		case ActionAppend:
			stmt.Set = append(stmt.Set, kv.Assignment{Field: f.Name, Op: kv.SetAppend, Value: f.Value})
		case ActionRemove:
			stmt.Remove = append(stmt.Remove, f.Name)
		}
	}
	if stmt.IsEmpty() {
		return stmt, apperr.Validation("no fields to update")
	}
	return stmt, nil
}

// CompileCreate builds a brand-new item. Every field is forced to set;
// AutoTimestamp writes creationDate and lastUpdated, AutoVersion writes version 1.
func (c *Compiler) CompileCreate(fields []Field, schema Schema) (kv.Item, error) {
	forced := make([]Field, len(fields))
	for i, f := range fields {
		f.Action = ActionSet
		forced[i] = f
	}
	if err := Validate(forced, schema); err != nil {
		return nil, err
	}
	item := kv.Item{}
	for _, f := range forced {
		item[f.Name] = kv.Normalize(f.Value)
	}
	if schema.AutoTimestamp {
		ts := c.Timestamp()
		item[FieldCreationDate] = ts
		item[FieldLastUpdated] = ts
	}
	if schema.AutoVersion {
		item[FieldVersion] = float64(1)
	}
	return item, nil
}

// CreateOp compiles a create-path put guarded by "must not already exist".
func (c *Compiler) CreateOp(key kv.Key, fields []Field, schema Schema) (kv.WriteOp, error) {
	item, err := c.CompileCreate(fields, schema)
	if err != nil {
		return kv.WriteOp{}, err
	}
	return kv.WriteOp{
		Kind:        kv.OpPut,
		Key:         key,
		Item:        item,
		Condition:   kv.Condition{Require: kv.MustNotExist},
		FailOnError: schema.FailOnError,
	}, nil
}

// UpdateOp compiles an update guarded by "must already exist" plus any
// attribute equalities (typically the observed version).
func (c *Compiler) UpdateOp(key kv.Key, fields []Field, schema Schema, equals map[string]any) (kv.WriteOp, error) {
	stmt, err := c.Compile(fields, schema)
	if err != nil {
		return kv.WriteOp{}, err
	}
	return kv.WriteOp{
		Kind:        kv.OpUpdate,
		Key:         key,
		Update:      stmt,
		Condition:   kv.Condition{Require: kv.MustExist, Equals: equals},
		FailOnError: schema.FailOnError,
	}, nil
}
