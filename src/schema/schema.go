// Package schema implements the declared field list with types, defaults
// and uniqueness, plus the pre-save/post-load/validate hooks that
// Collection runs around every write and read.
package schema

import "fmt"

// FieldType enumerates the JSON-shaped types a field may declare.
type FieldType int

const (
	String FieldType = iota
	Int
	Float
	Bool
	Object
	Array
)

func (t FieldType) String() string {
	switch t {
	case String:
		return "String"
	case Int:
		return "Int"
	case Float:
		return "Float"
	case Bool:
		return "Bool"
	case Object:
		return "Object"
	case Array:
		return "Array"
	default:
		return "Unknown"
	}
}

// Field declares one member of the document shape. Default, unlike the
// original C++'s always-a-string defaultValue, is a typed Go value — there
// is no ArduinoJson C-string boundary to cross here, so a bool default is
// just a bool rather than the strings "true"/"1" parsed at apply-time.
type Field struct {
	Name    string
	Type    FieldType
	Default interface{}
	Unique  bool
}

// ValidateFunc inspects a whole document and reports whether it's valid.
type ValidateFunc func(obj map[string]interface{}) error

// PreSaveFunc runs after defaults/type validation, immediately before a
// document is persisted. It may mutate obj in place.
type PreSaveFunc func(obj map[string]interface{}) error

// PostLoadFunc runs after a document is decoded from its blob.
type PostLoadFunc func(obj map[string]interface{})

// Schema is an ordered field list plus optional hooks.
type Schema struct {
	Fields   []Field
	PreSave  PreSaveFunc
	PostLoad PostLoadFunc
	Validate ValidateFunc
}

// HasValidate reports whether this schema does anything at all: a schema
// with no fields and no hooks is a pass-through.
func (s Schema) HasValidate() bool {
	return s.Validate != nil || s.PreSave != nil || len(s.Fields) > 0
}

// ApplyDefaults inserts the typed default for every field missing from obj.
// Object/Array defaults are always empty containers, regardless of Default.
func (s Schema) ApplyDefaults(obj map[string]interface{}) {
	for _, f := range s.Fields {
		if _, present := obj[f.Name]; present {
			continue
		}
		switch f.Type {
		case Object:
			obj[f.Name] = map[string]interface{}{}
		case Array:
			obj[f.Name] = []interface{}{}
		default:
			if f.Default != nil {
				obj[f.Name] = f.Default
			}
		}
	}
}

// ValidateTypes checks every present field against its declared type,
// failing closed (returning an error) on the first mismatch.
func (s Schema) ValidateTypes(obj map[string]interface{}) error {
	for _, f := range s.Fields {
		v, present := obj[f.Name]
		if !present || v == nil {
			continue
		}
		if !typeMatches(f.Type, v) {
			return fmt.Errorf("schema: field %q: invalid type, want %s", f.Name, f.Type)
		}
	}
	return nil
}

func typeMatches(t FieldType, v interface{}) bool {
	switch t {
	case String:
		_, ok := v.(string)
		return ok
	case Int:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		default:
			return false
		}
	case Float:
		switch v.(type) {
		case float32, float64:
			return true
		default:
			return false
		}
	case Bool:
		_, ok := v.(bool)
		return ok
	case Object:
		_, ok := v.(map[string]interface{})
		return ok
	case Array:
		_, ok := v.([]interface{})
		return ok
	default:
		return false
	}
}

// RunPreSave applies defaults, validates types, then runs PreSave if set,
// else Validate if set. It mirrors the C++ dispatch order exactly.
func (s Schema) RunPreSave(obj map[string]interface{}) error {
	s.ApplyDefaults(obj)
	if err := s.ValidateTypes(obj); err != nil {
		return err
	}
	if s.PreSave != nil {
		return s.PreSave(obj)
	}
	if s.Validate != nil {
		return s.Validate(obj)
	}
	return nil
}

// RunValidate type-checks and, if set, runs Validate, without PreSave's
// defaulting behavior.
func (s Schema) RunValidate(obj map[string]interface{}) error {
	if err := s.ValidateTypes(obj); err != nil {
		return err
	}
	if s.Validate != nil {
		return s.Validate(obj)
	}
	return nil
}

// RunPostLoad invokes PostLoad if set.
func (s Schema) RunPostLoad(obj map[string]interface{}) {
	if s.PostLoad != nil {
		s.PostLoad(obj)
	}
}
