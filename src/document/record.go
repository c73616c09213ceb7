// Package document implements DocumentRecord and DocView: the shared,
// owning container for a document's blob, and the short-lived, lazily
// decoded handle applications actually interact with.
package document

// Meta carries everything about a record that isn't the blob itself.
type Meta struct {
	ID        string
	CreatedAt int64
	UpdatedAt int64
	Dirty     bool
	Removed   bool
}

// Record is the owning container {meta, blob}. The blob is the
// authoritative representation; any decoded form living in a View is a
// cache over it. Record is shared by pointer between a Collection's cache
// and any live View — there's no separate refcount, the garbage collector
// retires it once both holders let go.
type Record struct {
	Meta Meta
	Blob []byte
}
