package jsondb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ESPToolKit/esp-jsondb/src/collection"
	"github.com/ESPToolKit/esp-jsondb/src/dbtypes"
	"github.com/ESPToolKit/esp-jsondb/src/document"
	"github.com/ESPToolKit/esp-jsondb/src/fsx"
	"github.com/ESPToolKit/esp-jsondb/src/helpers"
	"github.com/ESPToolKit/esp-jsondb/src/msgpack"
	"github.com/ESPToolKit/esp-jsondb/src/schema"
)

// EventListener receives every fan-out event outside any internal lock.
type EventListener func(dbtypes.EventType)

// ErrorListener receives every non-Ok terminal status.
type ErrorListener func(dbtypes.Status)

// DiagSnapshot is the value GetDiag returns: the per-collection document
// counts from the last disk scan (refreshDiag) plus the config values it
// recorded. Live in-memory collection sizes are not consulted, so
// documents not yet flushed to disk are not counted.
type DiagSnapshot struct {
	DocsPerCollection map[string]int
	Total             int
	LastRefreshMs     int64
	PartitionLabel    string
	CacheEnabled      bool
	Autosync          bool
	IntervalMs        int64
}

// Database is the registry of collections and schemas, the periodic flush
// scheduler, and the snapshot/restore and event/error fan-out surface
// described in §4.G. The zero value is not usable; construct with Open.
type Database struct {
	cfg Config
	fs  *fsx.Coordinator
	log *zap.SugaredLogger

	mu           sync.Mutex
	baseDir      string
	collections  map[string]*collection.Collection
	schemas      map[string]schema.Schema
	pendingDrops []string
	diag         DiagSnapshot
	lastErr      dbtypes.Status

	eventListeners []EventListener
	errorListeners []ErrorListener

	syncMu     sync.Mutex
	running    bool
	cancelSync context.CancelFunc
	syncDone   chan struct{}
}

// Open constructs a Database against cfg. It normalizes BaseDir per §6.1,
// optionally mounts the filesystem (InitFileSystem), optionally eager-loads
// every collection already on disk (ColdSync), and starts the background
// flush goroutine if Autosync is set.
func Open(cfg Config) (*Database, dbtypes.Status) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	fsCoord := cfg.FS
	if fsCoord == nil {
		fsCoord = fsx.New(logger)
	}

	db := &Database{
		cfg:         cfg,
		fs:          fsCoord,
		log:         logger,
		baseDir:     helpers.NormalizeBaseDir(cfg.BaseDir),
		collections: make(map[string]*collection.Collection),
		schemas:     make(map[string]schema.Schema),
		diag:        DiagSnapshot{DocsPerCollection: map[string]int{}},
	}

	if cfg.InitFileSystem {
		if st := fsCoord.EnsureDir(db.baseDir); !st.IsOK() {
			if cfg.FormatOnFail {
				fsCoord.RemoveTree(db.baseDir)
				if st2 := fsCoord.EnsureDir(db.baseDir); !st2.IsOK() {
					db.recordStatus(st2)
					return nil, st2
				}
			} else {
				db.recordStatus(st)
				return nil, st
			}
		}
	}

	if cfg.ColdSync {
		if st := db.coldSync(); !st.IsOK() {
			db.recordStatus(st)
		}
	}

	db.refreshDiag()

	if cfg.Autosync {
		db.startSync()
	}

	return db, dbtypes.OK()
}

// coldSync eager-loads every existing collection directory on disk, per
// the ColdSync config knob.
func (db *Database) coldSync() dbtypes.Status {
	names, st := db.fs.ListDirs(db.baseDir)
	if !st.IsOK() {
		return st
	}
	var errs error
	for _, name := range names {
		if _, st := db.Collection(name); !st.IsOK() {
			errs = multierr.Append(errs, fmt.Errorf("%s: %s", name, st.Message))
		}
	}
	if errs != nil {
		return dbtypes.Wrap(dbtypes.IoError, errs)
	}
	return dbtypes.OK()
}

// recordStatus lets inner components set lastErr without going through the
// façade, and fans it out to error listeners when non-Ok.
func (db *Database) recordStatus(st dbtypes.Status) {
	db.mu.Lock()
	db.lastErr = st
	db.mu.Unlock()
	if !st.IsOK() {
		db.emitError(st)
	}
}

// LastError returns the most recent terminal status recorded by any
// operation on this Database.
func (db *Database) LastError() dbtypes.Status {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.lastErr
}

// ---- collections & schemas ----

// RegisterSchema associates a schema with a collection name. It must be
// called before the collection is first referenced for the schema to take
// effect, since schemas are read once at Collection construction.
func (db *Database) RegisterSchema(name string, s schema.Schema) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.schemas[name] = s
}

// UnregisterSchema removes a previously registered schema. It has no
// effect on collections already constructed.
func (db *Database) UnregisterSchema(name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.schemas, name)
}

// Collection returns the named collection, constructing it (and running
// LoadFromFS) on first reference. CollectionCreated is emitted only when
// the construction is actually new.
func (db *Database) Collection(name string) (*collection.Collection, dbtypes.Status) {
	db.mu.Lock()
	if c, ok := db.collections[name]; ok {
		db.mu.Unlock()
		return c, dbtypes.OK()
	}
	sch := db.schemas[name]
	cacheEnabled := db.cfg.CacheEnabled
	c := collection.New(name, sch, db.baseDir, cacheEnabled, db.fs, db, db.emitEventFunc(), db.log)
	db.collections[name] = c
	db.mu.Unlock()

	if st := c.LoadFromFS(); !st.IsOK() {
		db.recordStatus(st)
	}
	db.emit(dbtypes.EventCollectionCreated)
	return c, dbtypes.OK()
}

// DropCollection removes name from the registry immediately, marks every
// cached record Removed for the safety of outstanding views, and queues
// the on-disk directory for removal at the next sync. An unknown name is
// not an error.
func (db *Database) DropCollection(name string) dbtypes.Status {
	db.mu.Lock()
	c, ok := db.collections[name]
	if ok {
		c.MarkAllRemoved()
		delete(db.collections, name)
		db.pendingDrops = append(db.pendingDrops, name)
		delete(db.diag.DocsPerCollection, name)
	}
	db.mu.Unlock()
	return dbtypes.OK()
}

// ---- sync scheduler ----

// startSync launches the background flush goroutine. Callers must hold no
// lock; it's idempotent while already running.
func (db *Database) startSync() {
	db.syncMu.Lock()
	defer db.syncMu.Unlock()
	if db.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	db.cancelSync = cancel
	db.syncDone = make(chan struct{})
	db.running = true
	interval := time.Duration(db.cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go db.syncLoop(ctx, interval, db.syncDone)
}

// stopSync tears the flush goroutine down synchronously: a stop request
// mid-cycle completes the current SyncNow before the goroutine exits.
func (db *Database) stopSync() {
	db.syncMu.Lock()
	if !db.running {
		db.syncMu.Unlock()
		return
	}
	cancel := db.cancelSync
	done := db.syncDone
	db.running = false
	db.syncMu.Unlock()

	cancel()
	<-done
}

func (db *Database) syncLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if st := db.SyncNow(); !st.IsOK() {
				db.recordStatus(st)
			}
		}
	}
}

// ChangeConfig adjusts the live configuration: toggling Autosync starts or
// stops the flush goroutine, and CacheEnabled is propagated to every live
// collection.
func (db *Database) ChangeConfig(cfg Config) {
	db.mu.Lock()
	wasAutosync := db.cfg.Autosync
	db.cfg.Autosync = cfg.Autosync
	db.cfg.IntervalMs = cfg.IntervalMs
	db.cfg.CacheEnabled = cfg.CacheEnabled
	cols := make([]*collection.Collection, 0, len(db.collections))
	for _, c := range db.collections {
		cols = append(cols, c)
	}
	db.mu.Unlock()

	for _, c := range cols {
		c.SetCacheEnabled(cfg.CacheEnabled)
	}

	if cfg.Autosync && !wasAutosync {
		db.startSync()
	} else if !cfg.Autosync && wasAutosync {
		db.stopSync()
	}
}

// Close stops the sync goroutine (synchronous teardown) without touching
// on-disk data. It's a supplemental operation not named by the distilled
// specification — a Go process needs a deterministic way to release the
// background goroutine it started.
func (db *Database) Close() {
	db.stopSync()
}

// SyncNow performs one flush cycle: process pending collection drops, then
// flush every live collection's dirty records and tombstones, aborting on
// the first IoError. It emits Sync exactly once, only if some sub-step
// reported work.
func (db *Database) SyncNow() dbtypes.Status {
	db.mu.Lock()
	drops := db.pendingDrops
	db.pendingDrops = nil
	cols := make([]*collection.Collection, 0, len(db.collections))
	for _, c := range db.collections {
		cols = append(cols, c)
	}
	db.mu.Unlock()

	didWork := false

	for _, name := range drops {
		didWork = true
		if st := db.fs.RemoveTree(helpers.JoinPath(db.baseDir, name)); !st.IsOK() {
			db.recordStatus(st)
			return st
		}
		db.emit(dbtypes.EventCollectionDropped)
	}

	for _, c := range cols {
		work, st := c.FlushDirtyToFS()
		if !st.IsOK() {
			db.recordStatus(st)
			return st
		}
		if work {
			didWork = true
		}
	}

	if didWork {
		db.refreshDiag()
		db.emit(dbtypes.EventSync)
	}
	return dbtypes.OK()
}

// DropAll stops the sync task, clears every in-memory collection and
// pending drop (registered schemas are kept), recursively removes the base
// directory and re-creates it, then
// restarts the sync task if it was running and emits one Sync.
func (db *Database) DropAll() dbtypes.Status {
	db.syncMu.Lock()
	wasRunning := db.running
	db.syncMu.Unlock()
	if wasRunning {
		db.stopSync()
	}

	db.mu.Lock()
	db.collections = make(map[string]*collection.Collection)
	db.pendingDrops = nil
	db.mu.Unlock()

	if st := db.fs.RemoveTree(db.baseDir); !st.IsOK() {
		db.recordStatus(st)
		return st
	}
	if st := db.fs.EnsureDir(db.baseDir); !st.IsOK() {
		db.recordStatus(st)
		return st
	}

	db.refreshDiag()
	if wasRunning {
		db.startSync()
	}
	db.emit(dbtypes.EventSync)
	return dbtypes.OK()
}

// ---- diagnostics ----

// refreshDiag rebuilds the diagnostics cache by scanning disk, the way
// SyncNow's "refresh the diagnostics cache from disk" step does: a
// collection dropped and restored without ever being re-registered in
// db.collections must still show up correctly in the next GetDiag.
func (db *Database) refreshDiag() {
	db.mu.Lock()
	baseDir := db.baseDir
	cfg := db.cfg
	db.mu.Unlock()

	names, st := db.fs.ListDirs(baseDir)
	counts := make(map[string]int, len(names))
	total := 0
	if st.IsOK() {
		for _, name := range names {
			files, st := db.fs.ListFiles(helpers.JoinPath(baseDir, name), ".mp")
			if !st.IsOK() {
				continue
			}
			counts[name] = len(files)
			total += len(files)
		}
	}

	db.mu.Lock()
	db.diag = DiagSnapshot{
		DocsPerCollection: counts,
		Total:             total,
		LastRefreshMs:     helpers.NowUTCMillis(),
		PartitionLabel:    cfg.PartitionLabel,
		CacheEnabled:      cfg.CacheEnabled,
		Autosync:          cfg.Autosync,
		IntervalMs:        cfg.IntervalMs,
	}
	db.mu.Unlock()
}

// GetDiag returns the cached diagnostics snapshot. It never touches the
// filesystem itself; refreshDiag is what does that, from SyncNow/DropAll.
func (db *Database) GetDiag() DiagSnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	counts := make(map[string]int, len(db.diag.DocsPerCollection))
	for k, v := range db.diag.DocsPerCollection {
		counts[k] = v
	}
	out := db.diag
	out.DocsPerCollection = counts
	return out
}

// ---- events ----

func (db *Database) emitEventFunc() func(dbtypes.EventType) {
	return db.emit
}

// emit fans an event out to every listener, outside any internal lock, per
// §5's "never hold collection.lock while invoking a listener" rule.
func (db *Database) emit(ev dbtypes.EventType) {
	db.mu.Lock()
	listeners := make([]EventListener, len(db.eventListeners))
	copy(listeners, db.eventListeners)
	db.mu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

func (db *Database) emitError(st dbtypes.Status) {
	db.mu.Lock()
	listeners := make([]ErrorListener, len(db.errorListeners))
	copy(listeners, db.errorListeners)
	db.mu.Unlock()
	for _, l := range listeners {
		l(st)
	}
}

// OnEvent registers a listener invoked for every event, including Sync.
func (db *Database) OnEvent(cb EventListener) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.eventListeners = append(db.eventListeners, cb)
}

// OnSync is shorthand for OnEvent filtered to EventSync.
func (db *Database) OnSync(cb func()) {
	db.OnEvent(func(ev dbtypes.EventType) {
		if ev == dbtypes.EventSync {
			cb()
		}
	})
}

// OnError registers a listener invoked for every non-Ok terminal status.
func (db *Database) OnError(cb ErrorListener) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.errorListeners = append(db.errorListeners, cb)
}

// ---- document.Resolver ----

// FindByID implements document.Resolver so a View's Populate can follow a
// DocRef into any collection of this Database, without the document
// package importing jsondb or collection.
func (db *Database) FindByID(colName, id string) (document.View, dbtypes.Status) {
	c, st := db.Collection(colName)
	if !st.IsOK() {
		return document.View{}, st
	}
	return c.FindByID(id)
}

// ---- snapshot / restore ----

// GetSnapshot walks every collection directory, decodes each document, and
// embeds it (with its id appended as "_id") into collections[name][].
func (db *Database) GetSnapshot() (map[string]interface{}, dbtypes.Status) {
	db.mu.Lock()
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	db.mu.Unlock()

	extra, st := db.fs.ListDirs(db.baseDir)
	if st.IsOK() {
		seen := map[string]bool{}
		for _, n := range names {
			seen[n] = true
		}
		for _, n := range extra {
			if !seen[n] {
				names = append(names, n)
			}
		}
	}

	out := map[string]interface{}{}
	for _, name := range names {
		dir := helpers.JoinPath(db.baseDir, name)
		files, st := db.fs.ListFiles(dir, ".mp")
		if !st.IsOK() {
			return nil, st
		}
		var docs []interface{}
		for _, f := range files {
			id := f[:len(f)-len(".mp")]
			data, st := db.fs.ReadFile(helpers.JoinPath(dir, f))
			if !st.IsOK() {
				continue
			}
			decoded, err := msgpack.Unmarshal(data)
			if err != nil {
				db.log.Warnw("snapshot skipped undecodable document", "collection", name, "id", id, "error", err)
				continue
			}
			decoded["_id"] = id
			docs = append(docs, decoded)
		}
		out[name] = docs
	}
	return map[string]interface{}{"collections": out}, dbtypes.OK()
}

// RestoreFromSnapshot validates doc's shape, calls DropAll, then
// atomic-writes every document back to its collection directory. It
// aborts on the first IoError and refreshes diagnostics, emitting one Sync
// on success.
func (db *Database) RestoreFromSnapshot(doc map[string]interface{}) dbtypes.Status {
	rawCollections, ok := doc["collections"]
	if !ok {
		return dbtypes.New(dbtypes.InvalidArgument, "snapshot missing \"collections\"")
	}
	collections, ok := rawCollections.(map[string]interface{})
	if !ok {
		return dbtypes.New(dbtypes.InvalidArgument, "snapshot \"collections\" must be an object")
	}

	if st := db.DropAll(); !st.IsOK() {
		return st
	}

	for name, rawItems := range collections {
		items, ok := rawItems.([]interface{})
		if !ok {
			continue
		}
		dir := helpers.JoinPath(db.baseDir, name)
		if st := db.fs.EnsureDir(dir); !st.IsOK() {
			db.recordStatus(st)
			return st
		}
		for _, rawItem := range items {
			obj, ok := rawItem.(map[string]interface{})
			if !ok {
				continue
			}
			id, _ := obj["_id"].(string)
			if id == "" {
				continue
			}
			clean := make(map[string]interface{}, len(obj))
			for k, v := range obj {
				if k == "_id" {
					continue
				}
				clean[k] = v
			}
			encoded, err := msgpack.Marshal(clean)
			if err != nil {
				st := dbtypes.New(dbtypes.IoError, "msgpack encode failed: "+err.Error())
				db.recordStatus(st)
				return st
			}
			if st := db.fs.AtomicWrite(helpers.JoinPath(dir, id+".mp"), encoded); !st.IsOK() {
				db.recordStatus(st)
				return st
			}
		}
	}

	db.refreshDiag()
	db.emit(dbtypes.EventSync)
	return dbtypes.OK()
}
