package document

import (
	"bytes"
	"sync"

	"go.uber.org/zap"

	"github.com/ESPToolKit/esp-jsondb/src/dbtypes"
	"github.com/ESPToolKit/esp-jsondb/src/helpers"
	"github.com/ESPToolKit/esp-jsondb/src/msgpack"
	"github.com/ESPToolKit/esp-jsondb/src/refs"
	"github.com/ESPToolKit/esp-jsondb/src/schema"
)

// Resolver lets a View follow a DocRef without the document package
// importing collection/jsondb — Collection and Database implement it and
// hand themselves in when they build a View. This is the explicit
// back-pointer the design notes call for in place of a process-wide global.
type Resolver interface {
	FindByID(collection, id string) (View, dbtypes.Status)
}

// CommitSink is invoked by Commit in cache-off mode to write the record
// through immediately. On success it must clear Record.Meta.Dirty itself.
type CommitSink func(*Record) error

// View is a short-lived, lazily-decoded handle over a shared Record. It is
// cheap to return by value; callers should treat it as a one-shot object
// and not retain it past its owning Collection/Database's lifetime.
type View struct {
	rec      *Record
	schema   *schema.Schema
	mu       *sync.Mutex
	resolver Resolver
	sink     CommitSink
	logger   *zap.SugaredLogger

	doc          map[string]interface{}
	dirtyLocally bool
}

// New builds a View over rec. mu, resolver, sink and logger are all
// optional; a nil logger is replaced with a no-op one so callers never need
// to guard against it.
func New(rec *Record, sch *schema.Schema, mu *sync.Mutex, resolver Resolver, sink CommitSink, logger *zap.SugaredLogger) View {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return View{rec: rec, schema: sch, mu: mu, resolver: resolver, sink: sink, logger: logger}
}

func (v *View) withLock(fn func()) {
	if v.mu != nil {
		v.mu.Lock()
		defer v.mu.Unlock()
	}
	fn()
}

// decode lazily materializes the blob into a map, running Schema.PostLoad
// exactly once. It's idempotent: a second call is a no-op.
func (v *View) decode() dbtypes.Status {
	if v.doc != nil {
		return dbtypes.OK()
	}
	if v.rec == nil {
		v.doc = map[string]interface{}{}
		return dbtypes.OK()
	}
	var st dbtypes.Status
	v.withLock(func() {
		decoded, err := msgpack.Unmarshal(v.rec.Blob)
		if err != nil {
			v.logger.Warnw("document decode failed", "id", v.rec.Meta.ID, "error", err)
			st = dbtypes.New(dbtypes.Corrupted, "msgpack decode failed: "+err.Error())
			return
		}
		if v.schema != nil {
			v.schema.RunPostLoad(decoded)
		}
		v.doc = decoded
		st = dbtypes.OK()
	})
	return st
}

// Get triggers lazy decode and marks the view locally-dirty: it's the
// mutable accessor, matching "mutable access marks the view as
// locally-dirty" in §4.E. Since decoded documents are plain Go maps, the
// caller is handed the live map and may mutate nested structure directly.
func (v *View) Get(key string) interface{} {
	if st := v.decode(); !st.IsOK() {
		return nil
	}
	v.dirtyLocally = true
	return v.doc[key]
}

// GetConst triggers lazy decode without marking the view dirty.
func (v *View) GetConst(key string) interface{} {
	if st := v.decode(); !st.IsOK() {
		return nil
	}
	return v.doc[key]
}

// Set writes a field and marks the view locally-dirty.
func (v *View) Set(key string, value interface{}) {
	if st := v.decode(); !st.IsOK() {
		return
	}
	v.doc[key] = value
	v.dirtyLocally = true
}

// AsObject returns the mutable decoded document, lazily decoding on first
// call. An absent record or empty blob yields an empty object.
func (v *View) AsObject() map[string]interface{} {
	v.decode()
	if v.doc == nil {
		v.doc = map[string]interface{}{}
	}
	v.dirtyLocally = true
	return v.doc
}

// AsObjectConst is the immutable counterpart of AsObject — it still
// decodes, it just doesn't flip the local-dirty bit.
func (v *View) AsObjectConst() map[string]interface{} {
	v.decode()
	if v.doc == nil {
		return map[string]interface{}{}
	}
	return v.doc
}

// Value is AsObjectConst under a name that reads better when the whole
// decoded document is being handed elsewhere (e.g. into Populate's
// embedding step) rather than inspected field by field.
func (v *View) Value() map[string]interface{} {
	return v.AsObjectConst()
}

// GetRef interprets field as a {collection,_id} reference, returning an
// invalid (zero) DocRef on type mismatch or absence.
func (v *View) GetRef(field string) refs.DocRef {
	return refs.FromValue(v.GetConst(field))
}

// Populate resolves field as a DocRef through the bound resolver and
// recursively populates the resolved document's own reference fields up to
// maxDepth. See SPEC_FULL.md §9 for why this embeds the resolved document
// rather than discarding it as the original C++ did.
func (v *View) Populate(field string, maxDepth int) (View, dbtypes.Status) {
	if maxDepth == 0 {
		return View{}, dbtypes.New(dbtypes.InvalidArgument, "populate: max depth reached")
	}
	ref := v.GetRef(field)
	if !ref.Valid() {
		return View{}, dbtypes.New(dbtypes.InvalidArgument, "populate: field is not a reference")
	}
	if v.resolver == nil {
		return View{}, dbtypes.New(dbtypes.InvalidArgument, "populate: view has no resolver bound")
	}

	nested, st := v.resolver.FindByID(ref.Collection, ref.ID)
	if !st.IsOK() {
		// Absence of the referenced document is not itself an error, per
		// §4.E: "returns an empty view on lookup failure".
		return View{}, dbtypes.OK()
	}

	if maxDepth > 1 {
		obj := nested.AsObject()
		for key, val := range obj {
			if nestedRef := refs.FromValue(val); nestedRef.Valid() {
				if resolved, rst := nested.Populate(key, maxDepth-1); rst.IsOK() && !resolved.IsEmpty() {
					obj[key] = resolved.Value()
				}
			}
		}
	}
	return nested, dbtypes.OK()
}

// Commit writes the decoded document back to the blob, skipping the write
// entirely if nothing was ever decoded, and skipping the byte-write if the
// re-encoded form is identical to what's already there.
func (v *View) Commit() dbtypes.Status {
	if v.doc == nil {
		return dbtypes.OK()
	}

	var result dbtypes.Status
	wrote := false
	v.withLock(func() {
		if v.rec == nil || v.rec.Meta.Removed {
			result = dbtypes.New(dbtypes.NotFound, "document not found")
			return
		}

		encoded, err := msgpack.Marshal(v.doc)
		if err != nil {
			v.logger.Warnw("document encode failed", "id", v.rec.Meta.ID, "error", err)
			result = dbtypes.New(dbtypes.IoError, "msgpack encode failed: "+err.Error())
			return
		}

		if bytes.Equal(encoded, v.rec.Blob) {
			v.dirtyLocally = false
			result = dbtypes.OK()
			return
		}

		v.rec.Blob = encoded
		v.rec.Meta.UpdatedAt = helpers.NowUTCMillis()
		v.rec.Meta.Dirty = true
		v.dirtyLocally = false
		wrote = true
		result = dbtypes.OK()
	})

	// The sink runs after the lock is released: in cache-off mode it takes
	// the collection lock itself while persisting.
	if wrote && v.sink != nil {
		if err := v.sink(v.rec); err != nil {
			return dbtypes.New(dbtypes.IoError, err.Error())
		}
	}
	return result
}

// Discard drops the decoded document; the blob is unchanged.
func (v *View) Discard() {
	v.doc = nil
	v.dirtyLocally = false
}

// ID returns the id of the underlying record, or "" if the view is empty.
func (v *View) ID() string {
	if v.rec == nil {
		return ""
	}
	return v.rec.Meta.ID
}

// IsEmpty reports whether this view has no backing record (e.g. the
// zero-value View returned by a failed lookup or Populate).
func (v *View) IsEmpty() bool {
	return v.rec == nil
}
