// Package refs implements the typed cross-document reference used by
// DocView.Populate: a {collection, id} pair encoded in a document as
// {"collection": ..., "_id": ...}.
package refs

// DocRef points at another document in another (or the same) collection.
type DocRef struct {
	Collection string
	ID         string
}

func (r DocRef) Valid() bool {
	return r.Collection != "" && r.ID != ""
}

// FromValue interprets a decoded field value as a DocRef. Any shape other
// than map[string]interface{} with string "collection"/"_id" fields yields
// an invalid (zero) DocRef, matching the original's type-mismatch behavior.
func FromValue(v interface{}) DocRef {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return DocRef{}
	}
	col, _ := obj["collection"].(string)
	id, _ := obj["_id"].(string)
	return DocRef{Collection: col, ID: id}
}

// ToValue renders the ref back into the document shape it's encoded as.
func (r DocRef) ToValue() map[string]interface{} {
	return map[string]interface{}{
		"collection": r.Collection,
		"_id":        r.ID,
	}
}
