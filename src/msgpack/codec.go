// Package msgpack wraps github.com/ugorji/go/codec for the one shape this
// database ever encodes: a JSON-like map[string]interface{} document. It
// plays the same role the teacher's helpers.EncodeBSON/DecodeBSON pair
// plays for BSON, swapped to MessagePack per the wire format.
package msgpack

import (
	"bytes"
	"reflect"

	"github.com/ugorji/go/codec"
)

var handle = newHandle()

func newHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]interface{}{})
	h.RawToString = true
	return h
}

// Marshal encodes obj to MessagePack bytes. obj is typically
// map[string]interface{} but any codec-compatible value works.
func Marshal(obj interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, handle)
	if err := enc.Encode(obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes MessagePack bytes into a map[string]interface{}. An
// empty input decodes to an empty, non-nil map.
func Unmarshal(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return map[string]interface{}{}, nil
	}
	out := map[string]interface{}{}
	dec := codec.NewDecoder(bytes.NewReader(data), handle)
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}
