// Package collection implements the in-memory cache and filesystem-backed
// store for one named group of documents: the unique-constraint checker and
// the create/find/update/remove dispatcher.
package collection

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ESPToolKit/esp-jsondb/src/dbtypes"
	"github.com/ESPToolKit/esp-jsondb/src/document"
	"github.com/ESPToolKit/esp-jsondb/src/fsx"
	"github.com/ESPToolKit/esp-jsondb/src/helpers"
	"github.com/ESPToolKit/esp-jsondb/src/msgpack"
	"github.com/ESPToolKit/esp-jsondb/src/objectid"
	"github.com/ESPToolKit/esp-jsondb/src/schema"
)

// Predicate tests a view, typically via its const accessors.
type Predicate func(*document.View) bool

// Mutator applies changes to a view in place.
type Mutator func(*document.View)

// Collection is one named group of documents, backed by a directory of
// <id>.mp files, with an optional in-memory cache.
type Collection struct {
	name     string
	schema   schema.Schema
	baseDir  string
	fs       *fsx.Coordinator
	resolver document.Resolver
	emit     func(dbtypes.EventType)
	logger   *zap.SugaredLogger

	mu           sync.Mutex
	cacheEnabled bool
	docs         map[string]*document.Record
	deletedIDs   []string
	dirty        bool
}

// New constructs a Collection. emit is called outside any lock to fan out
// document-level events; it may be nil.
func New(name string, sch schema.Schema, baseDir string, cacheEnabled bool, fs *fsx.Coordinator, resolver document.Resolver, emit func(dbtypes.EventType), logger *zap.SugaredLogger) *Collection {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if emit == nil {
		emit = func(dbtypes.EventType) {}
	}
	return &Collection{
		name:         name,
		schema:       sch,
		baseDir:      baseDir,
		fs:           fs,
		resolver:     resolver,
		emit:         emit,
		logger:       logger,
		cacheEnabled: cacheEnabled,
		docs:         make(map[string]*document.Record),
	}
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) dir() string {
	return helpers.JoinPath(c.baseDir, c.name)
}

func (c *Collection) path(id string) string {
	return helpers.JoinPath(c.dir(), id+".mp")
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func deepEqual(a, b interface{}) bool {
	return reflect.DeepEqual(a, b)
}

// viewOuter builds a view that locks the collection mutex on demand — for
// views returned to the caller, or built inside a critical section that has
// already ended by the time Commit/decode run.
func (c *Collection) viewOuter(rec *document.Record) document.View {
	var sink document.CommitSink
	if !c.cacheEnabled {
		sink = func(r *document.Record) error {
			st := c.persistImmediate(r)
			if !st.IsOK() {
				return fmt.Errorf("%s", st.Message)
			}
			return nil
		}
	}
	return document.New(rec, &c.schema, &c.mu, c.resolver, sink, c.logger)
}

// viewInner builds a view with no lock handle, for use only while c.mu is
// already held by the caller across the whole mutate-validate-commit
// sequence (cache-on write paths).
func (c *Collection) viewInner(rec *document.Record) document.View {
	return document.New(rec, &c.schema, nil, c.resolver, nil, c.logger)
}

// ---- unique constraint checking (§4.F) ----

// checkUniqueFieldsInCache assumes the caller already holds c.mu.
func (c *Collection) checkUniqueFieldsInCache(obj map[string]interface{}, selfID string) dbtypes.Status {
	for _, f := range c.schema.Fields {
		if !f.Unique || f.Type == schema.Object || f.Type == schema.Array {
			continue
		}
		v, present := obj[f.Name]
		if !present || v == nil {
			continue
		}
		for id, rec := range c.docs {
			if selfID != "" && id == selfID {
				continue
			}
			other := c.viewInner(rec)
			ov := other.GetConst(f.Name)
			if ov != nil && deepEqual(ov, v) {
				return dbtypes.New(dbtypes.ValidationFailed, "unique constraint violated")
			}
		}
	}
	return dbtypes.OK()
}

// checkUniqueFieldsOnDisk scans the collection's directory without holding
// c.mu, per §5: long-running scans release the collection lock before
// touching the filesystem.
func (c *Collection) checkUniqueFieldsOnDisk(obj map[string]interface{}, selfID string) dbtypes.Status {
	hasUnique := false
	for _, f := range c.schema.Fields {
		if f.Unique {
			hasUnique = true
			break
		}
	}
	if !hasUnique {
		return dbtypes.OK()
	}

	ids, st := c.listDocumentIDsFromFS()
	if !st.IsOK() {
		return st
	}

	var scanErrs error
	for _, id := range ids {
		if selfID != "" && id == selfID {
			continue
		}
		rec, st := c.readDocFromFile(id)
		if !st.IsOK() {
			scanErrs = multierr.Append(scanErrs, fmt.Errorf("%s: %s", id, st.Message))
			continue
		}
		view := document.New(rec, &c.schema, nil, nil, nil, c.logger)
		for _, f := range c.schema.Fields {
			if !f.Unique || f.Type == schema.Object || f.Type == schema.Array {
				continue
			}
			newVal, present := obj[f.Name]
			if !present || newVal == nil {
				continue
			}
			existing := view.GetConst(f.Name)
			if existing != nil && deepEqual(existing, newVal) {
				return dbtypes.New(dbtypes.ValidationFailed, "unique constraint violated")
			}
		}
	}
	if scanErrs != nil {
		c.logger.Warnw("unique scan skipped unreadable files", "collection", c.name, "errors", scanErrs)
	}
	return dbtypes.OK()
}

func (c *Collection) checkUniqueFields(obj map[string]interface{}, selfID string) dbtypes.Status {
	if c.cacheEnabled {
		return c.checkUniqueFieldsInCache(obj, selfID)
	}
	return c.checkUniqueFieldsOnDisk(obj, selfID)
}

// ---- create ----

func (c *Collection) newRecord(obj map[string]interface{}) (*document.Record, dbtypes.Status) {
	encoded, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, dbtypes.New(dbtypes.IoError, "serialize msgpack failed: "+err.Error())
	}
	now := helpers.NowUTCMillis()
	return &document.Record{
		Meta: document.Meta{ID: objectid.New().Hex(), CreatedAt: now, UpdatedAt: now, Dirty: true},
		Blob: encoded,
	}, dbtypes.OK()
}

// Create validates, unique-checks, and persists a new document.
func (c *Collection) Create(data map[string]interface{}) (string, dbtypes.Status) {
	obj := copyMap(data)
	if c.schema.HasValidate() {
		if err := c.schema.RunPreSave(obj); err != nil {
			return "", dbtypes.New(dbtypes.ValidationFailed, err.Error())
		}
	}

	var rec *document.Record
	var st dbtypes.Status

	if c.cacheEnabled {
		c.mu.Lock()
		if st = c.checkUniqueFieldsInCache(obj, ""); !st.IsOK() {
			c.mu.Unlock()
			return "", st
		}
		rec, st = c.newRecord(obj)
		if !st.IsOK() {
			c.mu.Unlock()
			return "", st
		}
		c.docs[rec.Meta.ID] = rec
		c.dirty = true
		c.mu.Unlock()
	} else {
		if st = c.checkUniqueFieldsOnDisk(obj, ""); !st.IsOK() {
			return "", st
		}
		rec, st = c.newRecord(obj)
		if !st.IsOK() {
			return "", st
		}
		if st = c.persistImmediate(rec); !st.IsOK() {
			return "", st
		}
	}

	c.emit(dbtypes.EventDocumentCreated)
	return rec.Meta.ID, dbtypes.OK()
}

// CreateMany iterates items, skipping non-object entries, and reports the
// ids of every document actually created.
func (c *Collection) CreateMany(items []interface{}) ([]string, dbtypes.Status) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if id, st := c.Create(obj); st.IsOK() {
			ids = append(ids, id)
		}
	}
	return ids, dbtypes.OK()
}

// ---- find ----

// FindByID returns a view sharing the record, from cache if present, else
// from disk (optionally populating the cache on a miss).
func (c *Collection) FindByID(id string) (document.View, dbtypes.Status) {
	if c.cacheEnabled {
		c.mu.Lock()
		if rec, ok := c.docs[id]; ok {
			v := c.viewOuter(rec)
			c.mu.Unlock()
			return v, dbtypes.OK()
		}
		c.mu.Unlock()
	}

	rec, st := c.readDocFromFile(id)
	if !st.IsOK() {
		return document.View{}, st
	}
	if c.cacheEnabled {
		c.mu.Lock()
		c.docs[id] = rec
		c.mu.Unlock()
	}
	return c.viewOuter(rec), dbtypes.OK()
}

// FindMany returns a view for every document matching pred (or every
// document, if pred is nil).
func (c *Collection) FindMany(pred Predicate) ([]document.View, dbtypes.Status) {
	var out []document.View
	if c.cacheEnabled {
		c.mu.Lock()
		for _, rec := range c.docs {
			test := c.viewInner(rec)
			if pred == nil || pred(&test) {
				out = append(out, c.viewOuter(rec))
			}
		}
		c.mu.Unlock()
		return out, dbtypes.OK()
	}

	ids, st := c.listDocumentIDsFromFS()
	if !st.IsOK() {
		return nil, st
	}
	for _, id := range ids {
		rec, st := c.readDocFromFile(id)
		if !st.IsOK() {
			continue
		}
		v := c.viewOuter(rec)
		if pred == nil || pred(&v) {
			out = append(out, v)
		}
	}
	return out, dbtypes.OK()
}

// FindOne returns the first view matching pred.
func (c *Collection) FindOne(pred Predicate) (document.View, dbtypes.Status) {
	if c.cacheEnabled {
		c.mu.Lock()
		for _, rec := range c.docs {
			test := c.viewInner(rec)
			if pred == nil || pred(&test) {
				v := c.viewOuter(rec)
				c.mu.Unlock()
				return v, dbtypes.OK()
			}
		}
		c.mu.Unlock()
	} else {
		ids, st := c.listDocumentIDsFromFS()
		if !st.IsOK() {
			return document.View{}, st
		}
		for _, id := range ids {
			rec, st := c.readDocFromFile(id)
			if !st.IsOK() {
				continue
			}
			v := c.viewOuter(rec)
			if pred == nil || pred(&v) {
				return v, dbtypes.OK()
			}
		}
	}
	return document.View{}, dbtypes.New(dbtypes.NotFound, "document not found")
}

// FindOneFilter matches when every {key,value} pair in filter equals the
// document's field value.
func (c *Collection) FindOneFilter(filter map[string]interface{}) (document.View, dbtypes.Status) {
	return c.FindOne(func(v *document.View) bool {
		for k, want := range filter {
			if !deepEqual(v.GetConst(k), want) {
				return false
			}
		}
		return true
	})
}

// ---- update ----

// UpdateByID applies mutator to the document with id, validating and
// unique-checking before commit.
func (c *Collection) UpdateByID(id string, mutator Mutator) dbtypes.Status {
	if !c.cacheEnabled {
		return c.updateByIDNoCache(id, mutator)
	}

	c.mu.Lock()
	rec, ok := c.docs[id]
	if !ok {
		c.mu.Unlock()
		return dbtypes.New(dbtypes.NotFound, "document not found")
	}
	v := c.viewInner(rec)
	mutator(&v)
	if st := c.validateAndCheckUnique(&v, rec.Meta.ID); !st.IsOK() {
		c.mu.Unlock()
		return st
	}
	st := v.Commit()
	if !st.IsOK() {
		c.mu.Unlock()
		return st
	}
	updated := rec.Meta.Dirty
	if updated {
		c.dirty = true
	}
	c.mu.Unlock()
	if updated {
		c.emit(dbtypes.EventDocumentUpdated)
	}
	return dbtypes.OK()
}

func (c *Collection) updateByIDNoCache(id string, mutator Mutator) dbtypes.Status {
	rec, st := c.readDocFromFile(id)
	if !st.IsOK() {
		return st
	}
	v := c.viewOuter(rec)
	mutator(&v)
	if st := c.validateAndCheckUniqueDisk(&v, id); !st.IsOK() {
		return st
	}
	if st := v.Commit(); !st.IsOK() {
		return st
	}
	c.emit(dbtypes.EventDocumentUpdated)
	return dbtypes.OK()
}

// validateAndCheckUnique assumes c.mu is held (cache-on path).
func (c *Collection) validateAndCheckUnique(v *document.View, selfID string) dbtypes.Status {
	if !c.schema.HasValidate() {
		return dbtypes.OK()
	}
	obj := v.AsObject()
	if err := c.schema.RunPreSave(obj); err != nil {
		v.Discard()
		return dbtypes.New(dbtypes.ValidationFailed, err.Error())
	}
	if st := c.checkUniqueFieldsInCache(obj, selfID); !st.IsOK() {
		v.Discard()
		return st
	}
	return dbtypes.OK()
}

func (c *Collection) validateAndCheckUniqueDisk(v *document.View, selfID string) dbtypes.Status {
	if !c.schema.HasValidate() {
		return dbtypes.OK()
	}
	obj := v.AsObject()
	if err := c.schema.RunPreSave(obj); err != nil {
		v.Discard()
		return dbtypes.New(dbtypes.ValidationFailed, err.Error())
	}
	if st := c.checkUniqueFieldsOnDisk(obj, selfID); !st.IsOK() {
		v.Discard()
		return st
	}
	return dbtypes.OK()
}

// UpdateOne locates the first document matching pred and applies mutator;
// if create is true and nothing matched, it allocates a new document and
// applies mutator to it instead.
func (c *Collection) UpdateOne(pred Predicate, mutator Mutator, create bool) dbtypes.Status {
	if !c.cacheEnabled {
		return c.updateOneNoCache(pred, mutator, create)
	}

	c.mu.Lock()
	for id, rec := range c.docs {
		test := c.viewInner(rec)
		if pred != nil && !pred(&test) {
			continue
		}
		v := c.viewInner(rec)
		mutator(&v)
		if st := c.validateAndCheckUnique(&v, id); !st.IsOK() {
			c.mu.Unlock()
			return st
		}
		st := v.Commit()
		if !st.IsOK() {
			c.mu.Unlock()
			return st
		}
		updated := rec.Meta.Dirty
		if updated {
			c.dirty = true
		}
		c.mu.Unlock()
		if updated {
			c.emit(dbtypes.EventDocumentUpdated)
		}
		return dbtypes.OK()
	}

	if !create {
		c.mu.Unlock()
		return dbtypes.New(dbtypes.NotFound, "document not found")
	}

	rec, st := c.newRecord(map[string]interface{}{})
	if !st.IsOK() {
		c.mu.Unlock()
		return st
	}
	v := c.viewInner(rec)
	v.AsObject()
	mutator(&v)
	if st := c.validateAndCheckUnique(&v, rec.Meta.ID); !st.IsOK() {
		c.mu.Unlock()
		return st
	}
	if st := v.Commit(); !st.IsOK() {
		c.mu.Unlock()
		return st
	}
	c.docs[rec.Meta.ID] = rec
	c.dirty = true
	c.mu.Unlock()
	c.emit(dbtypes.EventDocumentCreated)
	return dbtypes.OK()
}

func (c *Collection) updateOneNoCache(pred Predicate, mutator Mutator, create bool) dbtypes.Status {
	ids, st := c.listDocumentIDsFromFS()
	if !st.IsOK() {
		return st
	}
	for _, id := range ids {
		rec, st := c.readDocFromFile(id)
		if !st.IsOK() {
			continue
		}
		v := c.viewOuter(rec)
		if pred != nil && !pred(&v) {
			continue
		}
		mutator(&v)
		if st := c.validateAndCheckUniqueDisk(&v, id); !st.IsOK() {
			return st
		}
		if st := v.Commit(); !st.IsOK() {
			return st
		}
		c.emit(dbtypes.EventDocumentUpdated)
		return dbtypes.OK()
	}
	if !create {
		return dbtypes.New(dbtypes.NotFound, "document not found")
	}
	rec, st := c.newRecord(map[string]interface{}{})
	if !st.IsOK() {
		return st
	}
	v := c.viewOuter(rec)
	v.AsObject()
	mutator(&v)
	if st := c.validateAndCheckUniqueDisk(&v, rec.Meta.ID); !st.IsOK() {
		return st
	}
	if st := v.Commit(); !st.IsOK() {
		return st
	}
	c.emit(dbtypes.EventDocumentCreated)
	return dbtypes.OK()
}

// UpdateOneFilter matches on filter, applies patch, and optionally upserts.
func (c *Collection) UpdateOneFilter(filter, patch map[string]interface{}, create bool) dbtypes.Status {
	if !c.cacheEnabled {
		return c.updateOneFilterNoCache(filter, patch, create)
	}

	c.mu.Lock()
	for id, rec := range c.docs {
		test := c.viewInner(rec)
		if !matchesFilter(&test, filter) {
			continue
		}
		v := c.viewInner(rec)
		applyPatch(&v, patch)
		if st := c.validateAndCheckUnique(&v, id); !st.IsOK() {
			c.mu.Unlock()
			return st
		}
		st := v.Commit()
		if !st.IsOK() {
			c.mu.Unlock()
			return st
		}
		updated := rec.Meta.Dirty
		if updated {
			c.dirty = true
		}
		c.mu.Unlock()
		if updated {
			c.emit(dbtypes.EventDocumentUpdated)
		}
		return dbtypes.OK()
	}

	if !create {
		c.mu.Unlock()
		return dbtypes.New(dbtypes.NotFound, "document not found")
	}

	rec, st := c.newRecord(map[string]interface{}{})
	if !st.IsOK() {
		c.mu.Unlock()
		return st
	}
	v := c.viewInner(rec)
	obj := v.AsObject()
	for k, val := range filter {
		obj[k] = val
	}
	for k, val := range patch {
		obj[k] = val
	}
	if st := c.validateAndCheckUnique(&v, rec.Meta.ID); !st.IsOK() {
		c.mu.Unlock()
		return st
	}
	if st := v.Commit(); !st.IsOK() {
		c.mu.Unlock()
		return st
	}
	c.docs[rec.Meta.ID] = rec
	c.dirty = true
	c.mu.Unlock()
	c.emit(dbtypes.EventDocumentCreated)
	return dbtypes.OK()
}

func (c *Collection) updateOneFilterNoCache(filter, patch map[string]interface{}, create bool) dbtypes.Status {
	ids, st := c.listDocumentIDsFromFS()
	if !st.IsOK() {
		return st
	}
	for _, id := range ids {
		rec, st := c.readDocFromFile(id)
		if !st.IsOK() {
			continue
		}
		v := c.viewOuter(rec)
		if !matchesFilter(&v, filter) {
			continue
		}
		applyPatch(&v, patch)
		if st := c.validateAndCheckUniqueDisk(&v, id); !st.IsOK() {
			return st
		}
		if st := v.Commit(); !st.IsOK() {
			return st
		}
		c.emit(dbtypes.EventDocumentUpdated)
		return dbtypes.OK()
	}
	if !create {
		return dbtypes.New(dbtypes.NotFound, "document not found")
	}
	rec, st := c.newRecord(map[string]interface{}{})
	if !st.IsOK() {
		return st
	}
	v := c.viewOuter(rec)
	obj := v.AsObject()
	for k, val := range filter {
		obj[k] = val
	}
	for k, val := range patch {
		obj[k] = val
	}
	if st := c.validateAndCheckUniqueDisk(&v, rec.Meta.ID); !st.IsOK() {
		return st
	}
	if st := v.Commit(); !st.IsOK() {
		return st
	}
	c.emit(dbtypes.EventDocumentCreated)
	return dbtypes.OK()
}

func matchesFilter(v *document.View, filter map[string]interface{}) bool {
	for k, want := range filter {
		if !deepEqual(v.GetConst(k), want) {
			return false
		}
	}
	return true
}

func applyPatch(v *document.View, patch map[string]interface{}) {
	for k, val := range patch {
		v.Set(k, val)
	}
}

// UpdateMany applies mutator to every document matching pred, running
// validation and the unique check on each, and returns how many committed.
func (c *Collection) UpdateMany(pred Predicate, mutator Mutator) (int, dbtypes.Status) {
	if !c.cacheEnabled {
		return c.updateManyNoCache(pred, mutator)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for id, rec := range c.docs {
		test := c.viewInner(rec)
		if pred != nil && !pred(&test) {
			continue
		}
		v := c.viewInner(rec)
		mutator(&v)
		if st := c.validateAndCheckUnique(&v, id); !st.IsOK() {
			continue
		}
		if st := v.Commit(); st.IsOK() {
			count++
		}
	}
	if count > 0 {
		c.dirty = true
	}
	return count, dbtypes.OK()
}

func (c *Collection) updateManyNoCache(pred Predicate, mutator Mutator) (int, dbtypes.Status) {
	ids, st := c.listDocumentIDsFromFS()
	if !st.IsOK() {
		return 0, st
	}
	count := 0
	for _, id := range ids {
		rec, st := c.readDocFromFile(id)
		if !st.IsOK() {
			continue
		}
		v := c.viewOuter(rec)
		if pred != nil && !pred(&v) {
			continue
		}
		mutator(&v)
		if st := c.validateAndCheckUniqueDisk(&v, id); !st.IsOK() {
			continue
		}
		if st := v.Commit(); st.IsOK() {
			count++
		}
	}
	return count, dbtypes.OK()
}

// UpdateManyFilter applies patch to every document matching filter.
func (c *Collection) UpdateManyFilter(filter, patch map[string]interface{}) (int, dbtypes.Status) {
	return c.UpdateMany(func(v *document.View) bool {
		return matchesFilter(v, filter)
	}, func(v *document.View) {
		applyPatch(v, patch)
	})
}

// ---- remove ----

// RemoveByID tombstones the record (cache-on) or deletes the file directly
// (cache-off).
func (c *Collection) RemoveByID(id string) dbtypes.Status {
	if !c.cacheEnabled {
		return c.removeByIDNoCache(id)
	}
	c.mu.Lock()
	rec, ok := c.docs[id]
	if !ok {
		c.mu.Unlock()
		return dbtypes.New(dbtypes.NotFound, "document not found")
	}
	rec.Meta.Removed = true
	c.deletedIDs = append(c.deletedIDs, id)
	delete(c.docs, id)
	c.dirty = true
	c.mu.Unlock()
	c.emit(dbtypes.EventDocumentDeleted)
	return dbtypes.OK()
}

func (c *Collection) removeByIDNoCache(id string) dbtypes.Status {
	path := c.path(id)
	data, st := c.fs.ReadFile(path)
	_ = data
	if st.Code == dbtypes.NotFound {
		return st
	}
	if st := c.fs.Remove(path); !st.IsOK() {
		return st
	}
	c.emit(dbtypes.EventDocumentDeleted)
	return dbtypes.OK()
}

// RemoveMany collects matching ids and applies RemoveByID semantics to
// each, returning the count removed.
func (c *Collection) RemoveMany(pred Predicate) (int, dbtypes.Status) {
	if c.cacheEnabled {
		c.mu.Lock()
		var toRemove []string
		for id, rec := range c.docs {
			test := c.viewInner(rec)
			if pred == nil || pred(&test) {
				toRemove = append(toRemove, id)
			}
		}
		for _, id := range toRemove {
			rec := c.docs[id]
			rec.Meta.Removed = true
			c.deletedIDs = append(c.deletedIDs, id)
			delete(c.docs, id)
		}
		if len(toRemove) > 0 {
			c.dirty = true
		}
		c.mu.Unlock()
		for range toRemove {
			c.emit(dbtypes.EventDocumentDeleted)
		}
		return len(toRemove), dbtypes.OK()
	}

	ids, st := c.listDocumentIDsFromFS()
	if !st.IsOK() {
		return 0, st
	}
	count := 0
	for _, id := range ids {
		rec, st := c.readDocFromFile(id)
		if !st.IsOK() {
			continue
		}
		v := c.viewOuter(rec)
		if pred != nil && !pred(&v) {
			continue
		}
		if st := c.removeByIDNoCache(id); st.IsOK() {
			count++
		}
	}
	return count, dbtypes.OK()
}

// ---- cache mode / sizing ----

// SetCacheEnabled flips cache mode; switching off flushes pending work
// first, switching on does not retroactively load files (see §8 scenario 8).
func (c *Collection) SetCacheEnabled(enabled bool) {
	c.mu.Lock()
	if c.cacheEnabled == enabled {
		c.mu.Unlock()
		return
	}
	if !enabled {
		c.mu.Unlock()
		if _, st := c.FlushDirtyToFS(); !st.IsOK() {
			return
		}
		c.mu.Lock()
		c.docs = make(map[string]*document.Record)
		c.deletedIDs = nil
		c.dirty = false
	}
	c.cacheEnabled = enabled
	c.mu.Unlock()
}

// Size reports the record count if cacheEnabled, else the number of .mp
// files on disk.
func (c *Collection) Size() int {
	c.mu.Lock()
	cacheEnabled := c.cacheEnabled
	n := len(c.docs)
	c.mu.Unlock()
	if cacheEnabled {
		return n
	}
	ids, st := c.listDocumentIDsFromFS()
	if !st.IsOK() {
		return 0
	}
	return len(ids)
}

// MarkAllRemoved flips every cached record's Removed flag, used by
// DropCollection to invalidate outstanding views for safety.
func (c *Collection) MarkAllRemoved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range c.docs {
		rec.Meta.Removed = true
	}
}

func (c *Collection) IsDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// ---- filesystem plumbing ----

func (c *Collection) writeDocToFile(rec *document.Record) dbtypes.Status {
	return c.fs.AtomicWrite(c.path(rec.Meta.ID), rec.Blob)
}

func (c *Collection) readDocFromFile(id string) (*document.Record, dbtypes.Status) {
	data, st := c.fs.ReadFile(c.path(id))
	if !st.IsOK() {
		return nil, st
	}
	now := helpers.NowUTCMillis()
	return &document.Record{
		Meta: document.Meta{ID: id, CreatedAt: now, UpdatedAt: now, Dirty: false},
		Blob: data,
	}, dbtypes.OK()
}

func (c *Collection) listDocumentIDsFromFS() ([]string, dbtypes.Status) {
	names, st := c.fs.ListFiles(c.dir(), ".mp")
	if !st.IsOK() {
		return nil, st
	}
	ids := make([]string, len(names))
	for i, name := range names {
		ids[i] = name[:len(name)-len(".mp")]
	}
	return ids, dbtypes.OK()
}

// persistImmediate writes rec through to disk and clears its dirty/removed
// flags on success — the cache-off write-through path.
func (c *Collection) persistImmediate(rec *document.Record) dbtypes.Status {
	if rec == nil {
		return dbtypes.New(dbtypes.InvalidArgument, "no record")
	}
	if st := c.writeDocToFile(rec); !st.IsOK() {
		return st
	}
	c.mu.Lock()
	rec.Meta.Dirty = false
	rec.Meta.Removed = false
	c.dirty = false
	c.mu.Unlock()
	return dbtypes.OK()
}

// LoadFromFS enumerates <baseDir>/<name>/*.mp and populates the cache. A
// missing directory is not an error; per-file read errors are skipped and
// aggregated for logging rather than aborting the load.
func (c *Collection) LoadFromFS() dbtypes.Status {
	if !c.cacheEnabled {
		return dbtypes.OK()
	}
	ids, st := c.listDocumentIDsFromFS()
	if !st.IsOK() {
		return st
	}
	var scanErrs error
	for _, id := range ids {
		rec, st := c.readDocFromFile(id)
		if !st.IsOK() {
			scanErrs = multierr.Append(scanErrs, fmt.Errorf("%s: %s", id, st.Message))
			continue
		}
		c.mu.Lock()
		c.docs[id] = rec
		c.mu.Unlock()
	}
	if scanErrs != nil {
		c.logger.Warnw("load skipped unreadable files", "collection", c.name, "errors", scanErrs)
	}
	return dbtypes.OK()
}

// FlushDirtyToFS writes every dirty record and removes every tombstoned
// file, clearing dirty flags before the writes happen (see SPEC_FULL.md
// §4.F). If a removal or write fails, the tombstones and records the cycle
// did not get to are queued and marked dirty again for the next cycle.
func (c *Collection) FlushDirtyToFS() (bool, dbtypes.Status) {
	if !c.cacheEnabled {
		return false, dbtypes.OK()
	}

	type pendingWrite struct {
		id   string
		blob []byte
	}

	c.mu.Lock()
	toDelete := c.deletedIDs
	c.deletedIDs = nil
	var toWrite []pendingWrite
	for id, rec := range c.docs {
		if rec.Meta.Dirty {
			toWrite = append(toWrite, pendingWrite{id: id, blob: rec.Blob})
			rec.Meta.Dirty = false
		}
	}
	c.dirty = false
	c.mu.Unlock()

	requeue := func(ids []string, writes []pendingWrite) {
		c.mu.Lock()
		c.deletedIDs = append(append([]string(nil), ids...), c.deletedIDs...)
		for _, pw := range writes {
			if rec, ok := c.docs[pw.id]; ok {
				rec.Meta.Dirty = true
			}
		}
		c.dirty = true
		c.mu.Unlock()
	}

	didWork := false

	for i, id := range toDelete {
		didWork = true
		if st := c.fs.Remove(c.path(id)); !st.IsOK() {
			requeue(toDelete[i:], toWrite)
			return didWork, st
		}
	}

	for i, pw := range toWrite {
		if st := c.fs.AtomicWrite(c.path(pw.id), pw.blob); !st.IsOK() {
			requeue(nil, toWrite[i:])
			return didWork, st
		}
		didWork = true
	}

	return didWork, dbtypes.OK()
}
