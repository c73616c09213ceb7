package jsondb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ESPToolKit/esp-jsondb/src/dbtypes"
	"github.com/ESPToolKit/esp-jsondb/src/document"
	"github.com/ESPToolKit/esp-jsondb/src/schema"
)

func testConfig(t *testing.T, dir string) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseDir = dir
	cfg.Autosync = false
	return cfg
}

// TestCreateFindUpdateRemoveRoundtrip covers scenario 1.
func TestCreateFindUpdateRemoveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	db, st := Open(testConfig(t, dir))
	if !st.IsOK() {
		t.Fatalf("Open failed: %v", st)
	}

	users, st := db.Collection("users")
	if !st.IsOK() {
		t.Fatalf("Collection failed: %v", st)
	}

	id, st := users.Create(map[string]interface{}{"email": "a@b", "username": "u"})
	if !st.IsOK() {
		t.Fatalf("Create failed: %v", st)
	}

	v, st := users.FindByID(id)
	if !st.IsOK() {
		t.Fatalf("FindByID failed: %v", st)
	}
	if v.GetConst("username") != "u" {
		t.Fatalf("expected username u, got %v", v.GetConst("username"))
	}

	if st := users.UpdateByID(id, func(view *document.View) {
		view.Set("username", "u2")
	}); !st.IsOK() {
		t.Fatalf("UpdateByID failed: %v", st)
	}

	if st := db.SyncNow(); !st.IsOK() {
		t.Fatalf("SyncNow failed: %v", st)
	}

	db2cfg := testConfig(t, dir)
	db2cfg.ColdSync = true
	db2, st := Open(db2cfg)
	if !st.IsOK() {
		t.Fatalf("re-open failed: %v", st)
	}
	users2, st := db2.Collection("users")
	if !st.IsOK() {
		t.Fatalf("re-open Collection failed: %v", st)
	}
	v2, st := users2.FindByID(id)
	if !st.IsOK() {
		t.Fatalf("re-open FindByID failed: %v", st)
	}
	if v2.GetConst("username") != "u2" {
		t.Fatalf("expected username u2 after reload, got %v", v2.GetConst("username"))
	}

	if st := users2.RemoveByID(id); !st.IsOK() {
		t.Fatalf("RemoveByID failed: %v", st)
	}
	if st := db2.SyncNow(); !st.IsOK() {
		t.Fatalf("SyncNow after remove failed: %v", st)
	}

	path := filepath.Join(dir, "users", id+".mp")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file %s to be gone, stat err = %v", path, err)
	}
}

// TestUniqueConstraint covers scenario 2.
func TestUniqueConstraint(t *testing.T) {
	dir := t.TempDir()
	db, st := Open(testConfig(t, dir))
	if !st.IsOK() {
		t.Fatalf("Open failed: %v", st)
	}
	db.RegisterSchema("users", schema.Schema{
		Fields: []schema.Field{{Name: "email", Type: schema.String, Unique: true}},
	})
	users, _ := db.Collection("users")

	if _, st := users.Create(map[string]interface{}{"email": "x"}); !st.IsOK() {
		t.Fatalf("first create failed: %v", st)
	}
	if _, st := users.Create(map[string]interface{}{"email": "x"}); st.Code != dbtypes.ValidationFailed {
		t.Fatalf("expected duplicate create to fail, got %v", st)
	}
	id2, st := users.Create(map[string]interface{}{"email": "y"})
	if !st.IsOK() {
		t.Fatalf("second create failed: %v", st)
	}

	st = users.UpdateByID(id2, func(v *document.View) {
		v.Set("email", "x")
	})
	if st.Code != dbtypes.ValidationFailed {
		t.Fatalf("expected update to fail unique check, got %v", st)
	}
	v, _ := users.FindByID(id2)
	if v.GetConst("email") != "y" {
		t.Errorf("expected email to remain y after failed update, got %v", v.GetConst("email"))
	}
}

// TestUpsertEmitsDocumentCreated covers scenario 3.
func TestUpsertEmitsDocumentCreated(t *testing.T) {
	dir := t.TempDir()
	db, _ := Open(testConfig(t, dir))

	var events []dbtypes.EventType
	db.OnEvent(func(e dbtypes.EventType) { events = append(events, e) })

	users, _ := db.Collection("users")
	st := users.UpdateOneFilter(
		map[string]interface{}{"username": "new"},
		map[string]interface{}{"role": "admin"},
		true,
	)
	if !st.IsOK() {
		t.Fatalf("upsert failed: %v", st)
	}

	v, st := users.FindOneFilter(map[string]interface{}{"username": "new"})
	if !st.IsOK() {
		t.Fatalf("find after upsert failed: %v", st)
	}
	if v.GetConst("role") != "admin" {
		t.Errorf("expected role admin, got %v", v.GetConst("role"))
	}

	foundCreated := false
	for _, e := range events {
		if e == dbtypes.EventDocumentCreated {
			foundCreated = true
		}
		if e == dbtypes.EventDocumentUpdated {
			t.Errorf("upsert that created a document should not emit DocumentUpdated")
		}
	}
	if !foundCreated {
		t.Error("expected a DocumentCreated event from the upsert")
	}
}

// TestSnapshotRestoreRoundtrip covers scenario 6.
func TestSnapshotRestoreRoundtrip(t *testing.T) {
	dir := t.TempDir()
	db, _ := Open(testConfig(t, dir))

	users, _ := db.Collection("users")
	posts, _ := db.Collection("posts")
	uid, _ := users.Create(map[string]interface{}{"name": "alice"})
	pid, _ := posts.Create(map[string]interface{}{"title": "hello", "author": uid})

	if st := db.SyncNow(); !st.IsOK() {
		t.Fatalf("SyncNow before snapshot failed: %v", st)
	}

	snap, st := db.GetSnapshot()
	if !st.IsOK() {
		t.Fatalf("GetSnapshot failed: %v", st)
	}

	if st := db.RestoreFromSnapshot(snap); !st.IsOK() {
		t.Fatalf("RestoreFromSnapshot failed: %v", st)
	}

	users2, _ := db.Collection("users")
	v, st := users2.FindByID(uid)
	if !st.IsOK() {
		t.Fatalf("find users after restore failed: %v", st)
	}
	if v.GetConst("name") != "alice" {
		t.Errorf("expected alice after restore, got %v", v.GetConst("name"))
	}

	posts2, _ := db.Collection("posts")
	pv, st := posts2.FindByID(pid)
	if !st.IsOK() {
		t.Fatalf("find posts after restore failed: %v", st)
	}
	if pv.GetConst("title") != "hello" {
		t.Errorf("expected hello after restore, got %v", pv.GetConst("title"))
	}

	diag := db.GetDiag()
	if diag.DocsPerCollection["users"] != 1 || diag.DocsPerCollection["posts"] != 1 {
		t.Errorf("expected one doc per collection, got %#v", diag.DocsPerCollection)
	}
}

// TestDropCollectionUnknownNameIsOK covers the boundary behavior in §8.
func TestDropCollectionUnknownNameIsOK(t *testing.T) {
	dir := t.TempDir()
	db, _ := Open(testConfig(t, dir))
	if st := db.DropCollection("nope"); !st.IsOK() {
		t.Errorf("expected Ok dropping an unknown collection, got %v", st)
	}
}
