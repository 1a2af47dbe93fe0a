package kv

import (
	"strings"
	"testing"
)

func TestApplyUpdateCombinesSetAddAppendRemove(t *testing.T) {
	current := Item{
		"status":        "in progress",
		"version":       2.0,
		"refundAmounts": []any{map[string]any{"RF-1": 10.0}},
		"pending":       "partial refund",
	}
	stmt := UpdateStatement{
		Set: []Assignment{
			{Field: "status", Op: SetValue, Value: "paid"},
			{Field: "version", Op: SetAdd, Value: 1},
			{Field: "refundAmounts", Op: SetAppend, Value: []map[string]any{{"RF-2": 5}}},
			{Field: "counter", Op: SetAdd, Value: int64(3)},
			{Field: "log", Op: SetAppend, Value: []string{"a"}},
		},
		Remove: []string{"pending"},
	}

	next, err := ApplyUpdate(current, stmt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.String("status") != "paid" {
		t.Fatalf("expected status paid, got %v", next["status"])
	}
	if next.Int64("version") != 3 {
		t.Fatalf("expected version 3, got %v", next["version"])
	}
	if next.Int64("counter") != 3 {
		t.Fatalf("expected counter defaulted from 0 to 3, got %v", next["counter"])
	}
	if got := len(next.List("refundAmounts")); got != 2 {
		t.Fatalf("expected 2 refund amounts, got %d", got)
	}
	if got := next.List("log"); len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected log [a], got %v", got)
	}
	if next.Has("pending") {
		t.Fatal("expected pending to be removed")
	}
	if current.Int64("version") != 2 || len(current.List("refundAmounts")) != 1 {
		t.Fatal("ApplyUpdate must not mutate its input")
	}
}

func TestApplyUpdateRejectsTypeMismatch(t *testing.T) {
	_, err := ApplyUpdate(Item{"status": "paid"}, UpdateStatement{
		Set: []Assignment{{Field: "status", Op: SetAdd, Value: 1}},
	})
	if err == nil {
		t.Fatal("expected error adding to a string attribute")
	}
	_, err = ApplyUpdate(nil, UpdateStatement{
		Set: []Assignment{{Field: "items", Op: SetAppend, Value: "x"}},
	})
	if err == nil {
		t.Fatal("expected error appending a non-list value")
	}
}

func TestCheckCondition(t *testing.T) {
	stored := Item{"version": 4.0, "status": "paid"}
	cases := []struct {
		name    string
		current Item
		cond    Condition
		want    bool
	}{
		{"unconditional missing", nil, Condition{}, true},
		{"must exist missing", nil, Condition{Require: MustExist}, false},
		{"must exist present", stored, Condition{Require: MustExist}, true},
		{"must not exist present", stored, Condition{Require: MustNotExist}, false},
		{"must not exist missing", nil, Condition{Require: MustNotExist}, true},
		{"version matches int", stored, Condition{Equals: map[string]any{"version": 4}}, true},
		{"version mismatch", stored, Condition{Equals: map[string]any{"version": 5}}, false},
		{"equals on missing item", nil, Condition{Equals: map[string]any{"version": 4}}, false},
		{"string equals", stored, Condition{Require: MustExist, Equals: map[string]any{"status": "paid"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CheckCondition(tc.current, tc.cond); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestUpdateStatementString(t *testing.T) {
	stmt := UpdateStatement{
		Set:    []Assignment{{Field: "a", Op: SetValue, Value: 1}, {Field: "v", Op: SetAdd, Value: 1}},
		Remove: []string{"b"},
	}
	s := stmt.String()
	if !strings.HasPrefix(s, "SET a = 1, v = if_not_exists(v, 0) + 1") || !strings.HasSuffix(s, "REMOVE b") {
		t.Fatalf("unexpected rendering %q", s)
	}
}

type status string

func TestNormalize(t *testing.T) {
	got := Normalize(map[string]any{
		"n":      int64(7),
		"s":      status("paid"),
		"list":   []int{1, 2},
		"nested": map[string]int{"x": 1},
	}).(map[string]any)
	if got["n"] != 7.0 {
		t.Fatalf("expected float64 7, got %#v", got["n"])
	}
	if got["s"] != "paid" {
		t.Fatalf("expected named string to normalize to string, got %#v", got["s"])
	}
	if l := got["list"].([]any); l[1] != 2.0 {
		t.Fatalf("unexpected list %#v", l)
	}
	if m := got["nested"].(map[string]any); m["x"] != 1.0 {
		t.Fatalf("unexpected nested map %#v", m)
	}
}
