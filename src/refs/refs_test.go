package refs

import "testing"

// TestFromValueValidRef checks the happy path of parsing a reference field.
func TestFromValueValidRef(t *testing.T) {
	v := map[string]interface{}{"collection": "users", "_id": "abc123"}
	r := FromValue(v)
	if !r.Valid() {
		t.Fatalf("expected valid ref, got %+v", r)
	}
	if r.Collection != "users" || r.ID != "abc123" {
		t.Errorf("unexpected ref fields: %+v", r)
	}
}

// TestFromValueTypeMismatch covers non-object and partially-populated values.
func TestFromValueTypeMismatch(t *testing.T) {
	cases := []interface{}{
		"not a ref",
		42,
		nil,
		map[string]interface{}{"collection": "users"},
		map[string]interface{}{"_id": "abc"},
	}
	for _, c := range cases {
		if r := FromValue(c); r.Valid() {
			t.Errorf("FromValue(%#v) should not be valid, got %+v", c, r)
		}
	}
}

// TestToValueRoundTrip checks that ToValue produces the shape FromValue expects.
func TestToValueRoundTrip(t *testing.T) {
	r := DocRef{Collection: "posts", ID: "xyz"}
	back := FromValue(r.ToValue())
	if back != r {
		t.Errorf("round trip mismatch: got %+v, want %+v", back, r)
	}
}
