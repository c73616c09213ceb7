package document

import (
	"testing"

	"github.com/ESPToolKit/esp-jsondb/src/dbtypes"
)

// TestAsObjectConstOnEmptyBlob covers the "empty blob decodes to an empty
// object" boundary behavior.
func TestAsObjectConstOnEmptyBlob(t *testing.T) {
	rec := &Record{Meta: Meta{ID: "abc"}}
	v := New(rec, nil, nil, nil, nil, nil)
	obj := v.AsObjectConst()
	if len(obj) != 0 {
		t.Errorf("expected empty object, got %#v", obj)
	}
}

// TestCommitNoopWhenNothingDecoded checks that Commit is a pure no-op if
// nothing was ever accessed through the view.
func TestCommitNoopWhenNothingDecoded(t *testing.T) {
	rec := &Record{Meta: Meta{ID: "abc"}, Blob: []byte{0x80}}
	v := New(rec, nil, nil, nil, nil, nil)
	st := v.Commit()
	if !st.IsOK() {
		t.Fatalf("expected Ok, got %v", st)
	}
	if rec.Meta.Dirty {
		t.Error("commit without decode should not mark dirty")
	}
}

// TestCommitIdempotenceOnUnchangedDocument covers scenario 4 / the
// idempotence invariant: asObject() without mutation must not bump
// UpdatedAt or set Dirty.
func TestCommitIdempotenceOnUnchangedDocument(t *testing.T) {
	encoded, err := encodeForTest(map[string]interface{}{"username": "u"})
	if err != nil {
		t.Fatalf("setup encode failed: %v", err)
	}
	rec := &Record{Meta: Meta{ID: "abc", UpdatedAt: 1000}, Blob: encoded}
	v := New(rec, nil, nil, nil, nil, nil)

	_ = v.AsObject() // decode only, no mutation

	st := v.Commit()
	if !st.IsOK() {
		t.Fatalf("expected Ok, got %v", st)
	}
	if rec.Meta.Dirty {
		t.Error("commit on unchanged document should not set Dirty")
	}
	if rec.Meta.UpdatedAt != 1000 {
		t.Errorf("commit on unchanged document should not bump UpdatedAt, got %d", rec.Meta.UpdatedAt)
	}
}

// TestCommitWritesChangedDocument checks the mutating path bumps metadata.
func TestCommitWritesChangedDocument(t *testing.T) {
	rec := &Record{Meta: Meta{ID: "abc"}}
	v := New(rec, nil, nil, nil, nil, nil)
	v.Set("username", "u2")

	st := v.Commit()
	if !st.IsOK() {
		t.Fatalf("expected Ok, got %v", st)
	}
	if !rec.Meta.Dirty {
		t.Error("commit on changed document should set Dirty")
	}
	if len(rec.Blob) == 0 {
		t.Error("commit on changed document should produce a non-empty blob")
	}
}

// TestCommitOnRemovedRecordFails covers "views whose record is removed
// fail their next commit with NotFound".
func TestCommitOnRemovedRecordFails(t *testing.T) {
	rec := &Record{Meta: Meta{ID: "abc", Removed: true}}
	v := New(rec, nil, nil, nil, nil, nil)
	v.Set("x", 1)

	st := v.Commit()
	if st.Code != dbtypes.NotFound {
		t.Errorf("expected NotFound, got %v", st)
	}
}

// TestPopulateRejectsZeroDepth covers the maxDepth==0 failure mode.
func TestPopulateRejectsZeroDepth(t *testing.T) {
	rec := &Record{Meta: Meta{ID: "abc"}}
	v := New(rec, nil, nil, nil, nil, nil)
	v.Set("author", map[string]interface{}{"collection": "users", "_id": "u1"})

	_, st := v.Populate("author", 0)
	if st.Code != dbtypes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", st)
	}
}

// TestPopulateRejectsNonRefField covers the non-ref-field failure mode.
func TestPopulateRejectsNonRefField(t *testing.T) {
	rec := &Record{Meta: Meta{ID: "abc"}}
	v := New(rec, nil, nil, nil, nil, nil)
	v.Set("title", "hello")

	_, st := v.Populate("title", 4)
	if st.Code != dbtypes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", st)
	}
}

type stubResolver struct {
	byID map[string]*Record
}

func (s *stubResolver) FindByID(collection, id string) (View, dbtypes.Status) {
	rec, ok := s.byID[collection+"/"+id]
	if !ok {
		return View{}, dbtypes.New(dbtypes.NotFound, "not found")
	}
	return New(rec, nil, nil, s, nil, nil), dbtypes.OK()
}

// TestPopulateResolvesAndEmbeds covers scenario 7: populate should resolve
// the referenced document and, at depth > 1, embed nested references too.
func TestPopulateResolvesAndEmbeds(t *testing.T) {
	resolver := &stubResolver{byID: map[string]*Record{}}

	userRec := &Record{Meta: Meta{ID: "u1"}}
	uv := New(userRec, nil, nil, resolver, nil, nil)
	uv.Set("name", "alice")
	uv.Commit()
	resolver.byID["users/u1"] = userRec

	postRec := &Record{Meta: Meta{ID: "p1"}}
	pv := New(postRec, nil, nil, resolver, nil, nil)
	pv.Set("author", map[string]interface{}{"collection": "users", "_id": "u1"})
	pv.Commit()
	resolver.byID["posts/p1"] = postRec

	commentRec := &Record{Meta: Meta{ID: "c1"}}
	cv := New(commentRec, nil, nil, resolver, nil, nil)
	cv.Set("post", map[string]interface{}{"collection": "posts", "_id": "p1"})
	cv.Commit()

	populated, st := cv.Populate("post", 2)
	if !st.IsOK() {
		t.Fatalf("populate failed: %v", st)
	}
	if populated.IsEmpty() {
		t.Fatal("expected a populated view")
	}
	author, ok := populated.GetConst("author").(map[string]interface{})
	if !ok {
		t.Fatalf("expected nested author to be embedded as a map, got %#v", populated.GetConst("author"))
	}
	if author["name"] != "alice" {
		t.Errorf("expected embedded author name to be alice, got %#v", author)
	}
}

func encodeForTest(obj map[string]interface{}) ([]byte, error) {
	rec := &Record{}
	v := New(rec, nil, nil, nil, nil, nil)
	for k, val := range obj {
		v.Set(k, val)
	}
	if st := v.Commit(); !st.IsOK() {
		return nil, st
	}
	return rec.Blob, nil
}
