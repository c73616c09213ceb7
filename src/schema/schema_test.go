package schema

import "testing"

// TestApplyDefaultsFillsMissingFields checks scalar and container defaults.
func TestApplyDefaultsFillsMissingFields(t *testing.T) {
	s := Schema{Fields: []Field{
		{Name: "role", Type: String, Default: "member"},
		{Name: "tags", Type: Array},
		{Name: "meta", Type: Object},
		{Name: "age", Type: Int, Default: 0},
	}}
	obj := map[string]interface{}{"age": 30}
	s.ApplyDefaults(obj)

	if obj["role"] != "member" {
		t.Errorf("role default not applied: %+v", obj)
	}
	if obj["age"] != 30 {
		t.Errorf("existing field was overwritten: %+v", obj)
	}
	tags, ok := obj["tags"].([]interface{})
	if !ok || len(tags) != 0 {
		t.Errorf("tags default should be an empty array, got %#v", obj["tags"])
	}
	meta, ok := obj["meta"].(map[string]interface{})
	if !ok || len(meta) != 0 {
		t.Errorf("meta default should be an empty object, got %#v", obj["meta"])
	}
}

// TestValidateTypesFailsClosed ensures a type mismatch is rejected.
func TestValidateTypesFailsClosed(t *testing.T) {
	s := Schema{Fields: []Field{{Name: "email", Type: String}}}
	if err := s.ValidateTypes(map[string]interface{}{"email": 42}); err == nil {
		t.Error("expected a type error for email=42")
	}
	if err := s.ValidateTypes(map[string]interface{}{"email": "a@b"}); err != nil {
		t.Errorf("unexpected error for valid field: %v", err)
	}
	if err := s.ValidateTypes(map[string]interface{}{}); err != nil {
		t.Errorf("missing field should not fail validation: %v", err)
	}
}

// TestRunPreSaveOrder verifies defaults are applied before Validate runs when PreSave is unset.
func TestRunPreSaveOrder(t *testing.T) {
	var sawValidate bool
	s := Schema{
		Fields:  []Field{{Name: "role", Type: String, Default: "member"}},
		Validate: func(obj map[string]interface{}) error {
			sawValidate = true
			if obj["role"] != "member" {
				t.Errorf("validate ran before defaults were applied: %+v", obj)
			}
			return nil
		},
	}
	obj := map[string]interface{}{}
	if err := s.RunPreSave(obj); err != nil {
		t.Fatalf("RunPreSave returned error: %v", err)
	}
	if !sawValidate {
		t.Error("Validate should run when PreSave is unset")
	}
}

// TestRunPreSavePrefersPreSaveOverValidate checks the else-branch dispatch.
func TestRunPreSavePrefersPreSaveOverValidate(t *testing.T) {
	var ranPreSave, ranValidate bool
	s := Schema{
		PreSave:  func(obj map[string]interface{}) error { ranPreSave = true; return nil },
		Validate: func(obj map[string]interface{}) error { ranValidate = true; return nil },
	}
	if err := s.RunPreSave(map[string]interface{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ranPreSave || ranValidate {
		t.Errorf("expected PreSave only, got preSave=%v validate=%v", ranPreSave, ranValidate)
	}
}

// TestHasValidate covers the three ways a schema becomes "validating".
func TestHasValidate(t *testing.T) {
	if (Schema{}).HasValidate() {
		t.Error("empty schema should not have validate")
	}
	if !(Schema{Fields: []Field{{Name: "x", Type: String}}}).HasValidate() {
		t.Error("schema with fields should have validate")
	}
	if !(Schema{Validate: func(map[string]interface{}) error { return nil }}).HasValidate() {
		t.Error("schema with Validate hook should have validate")
	}
	if !(Schema{PreSave: func(map[string]interface{}) error { return nil }}).HasValidate() {
		t.Error("schema with PreSave hook should have validate")
	}
}
