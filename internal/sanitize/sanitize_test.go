package sanitize

import "testing"

func TestRecordCoercesEmptyStrings(t *testing.T) {
	in := map[string]any{
		"title":       "Groceries",
		"description": "",
		"position":    3,
	}
	out := Record(in)

	if out["title"] != "Groceries" {
		t.Errorf("title changed: %v", out["title"])
	}
	if v, ok := out["description"]; !ok || v != nil {
		t.Errorf("empty string should become nil, got %v (present=%v)", v, ok)
	}
	if out["position"] != 3 {
		t.Errorf("non-string value changed: %v", out["position"])
	}
}

func TestRecordDropsInternalFields(t *testing.T) {
	in := map[string]any{
		"id":       "t-1",
		"_dirty":   true,
		"_version": 4,
	}
	out := Record(in)

	if _, ok := out["_dirty"]; ok {
		t.Error("_dirty should be dropped")
	}
	if _, ok := out["_version"]; ok {
		t.Error("_version should be dropped")
	}
	if out["id"] != "t-1" {
		t.Errorf("id changed: %v", out["id"])
	}
}

func TestRecordDoesNotMutateInput(t *testing.T) {
	in := map[string]any{"note": "", "_local": 1}
	Record(in)

	if in["note"] != "" {
		t.Error("input map was mutated")
	}
	if _, ok := in["_local"]; !ok {
		t.Error("input map was mutated")
	}
}

func TestRecordNil(t *testing.T) {
	if Record(nil) != nil {
		t.Error("nil in, nil out")
	}
}
