package tables

import "testing"

func TestForwardOrder(t *testing.T) {
	fwd := Forward()
	if len(fwd) != 10 {
		t.Fatalf("expected 10 syncable tables, got %d", len(fwd))
	}

	pos := make(map[string]int, len(fwd))
	for i, tbl := range fwd {
		pos[tbl.Name] = i
	}

	// Parents must come before children.
	deps := map[string][]string{
		"categories":       {"users"},
		"themes":           {"categories"},
		"subjects":         {"themes"},
		"labels":           {"subjects"},
		"tasks":            {"labels"},
		"task_labels":      {"tasks", "labels"},
		"task_attachments": {"tasks"},
		"pending_items":    {"tasks"},
		"user_preferences": {"users"},
	}
	for child, parents := range deps {
		for _, parent := range parents {
			if pos[parent] >= pos[child] {
				t.Errorf("%s (pos %d) must precede %s (pos %d)", parent, pos[parent], child, pos[child])
			}
		}
	}
}

func TestReverseIsMirrorOfForward(t *testing.T) {
	fwd := Forward()
	rev := Reverse()
	for i := range fwd {
		if fwd[i].Name != rev[len(rev)-1-i].Name {
			t.Fatalf("reverse order is not the mirror of forward at index %d", i)
		}
	}
}

func TestLookup(t *testing.T) {
	join, ok := Lookup("task_labels")
	if !ok {
		t.Fatal("task_labels not in catalog")
	}
	if !join.Join {
		t.Error("task_labels should be marked as a join table")
	}
	if join.OwnerColumn != "" {
		t.Errorf("join table should have no owner column, got %q", join.OwnerColumn)
	}
	if len(join.KeyColumns) != 2 {
		t.Errorf("join table should have a composite key, got %v", join.KeyColumns)
	}

	profile, ok := Lookup("users")
	if !ok {
		t.Fatal("users not in catalog")
	}
	if !profile.Profile {
		t.Error("users should be marked as the profile table")
	}

	if _, ok := Lookup("local_drafts"); ok {
		t.Error("unknown table must not be syncable")
	}
	if IsSyncable("local_drafts") {
		t.Error("IsSyncable must reject unknown tables")
	}
}

func TestOwnedTablesCarryOwnerColumn(t *testing.T) {
	for _, tbl := range Forward() {
		if tbl.Profile || tbl.Join {
			continue
		}
		if tbl.OwnerColumn != "user_id" {
			t.Errorf("table %s: expected owner column user_id, got %q", tbl.Name, tbl.OwnerColumn)
		}
	}
}
