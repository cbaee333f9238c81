package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FieldKind is the closed set of field types a form can declare.
type FieldKind string

const (
	KindText      FieldKind = "text"
	KindTextarea  FieldKind = "textarea"
	KindEmail     FieldKind = "email"
	KindNumber    FieldKind = "number"
	KindAadhar    FieldKind = "aadhar"
	KindPhone     FieldKind = "phone"
	KindDate      FieldKind = "date"
	KindSelect    FieldKind = "select"
	KindRadio     FieldKind = "radio"
	KindCheckbox  FieldKind = "checkbox"
	KindFile      FieldKind = "file"
	KindPhoto     FieldKind = "photo"
	KindSignature FieldKind = "signature"
)

var knownKinds = map[FieldKind]struct{}{
	KindText: {}, KindTextarea: {}, KindEmail: {}, KindNumber: {}, KindAadhar: {},
	KindPhone: {}, KindDate: {}, KindSelect: {}, KindRadio: {}, KindCheckbox: {},
	KindFile: {}, KindPhoto: {}, KindSignature: {},
}

// ErrUnknownFieldKind is returned when a schema names a field type the validator cannot check.
var ErrUnknownFieldKind = errors.New("unknown field kind")

// ParseFieldKind normalizes s and rejects kinds outside the closed set.
func ParseFieldKind(s string) (FieldKind, error) {
	k := FieldKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownKinds[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFieldKind, s)
	}
	return k, nil
}

// UnmarshalJSON rejects unknown kinds at decode time.
func (k *FieldKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseFieldKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// IsFile reports whether values of this kind arrive as uploads.
func (k FieldKind) IsFile() bool {
	return k == KindFile || k == KindPhoto || k == KindSignature
}

// Constraints carries the type-specific limits of a field. Zero values mean "not set".
type Constraints struct {
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	MinLength    *int     `json:"minLength,omitempty"`
	MaxLength    *int     `json:"maxLength,omitempty"`
	Integer      bool     `json:"integer,omitempty"`
	Options      []string `json:"options,omitempty"`
	Pattern      string   `json:"pattern,omitempty"`
	AllowedTypes []string `json:"allowedTypes,omitempty"`
	MaxSizeMB    float64  `json:"maxSizeMB,omitempty"`
}

// FieldSpec describes one input of a form.
type FieldSpec struct {
	ID          string      `json:"id"`
	Kind        FieldKind   `json:"type"`
	Label       string      `json:"label"`
	Required    bool        `json:"required,omitempty"`
	Constraints Constraints `json:"constraints"`
}

// HasOption reports exact membership of v in the field's option set.
func (f FieldSpec) HasOption(v string) bool {
	for _, o := range f.Constraints.Options {
		if o == v {
			return true
		}
	}
	return false
}

// FormSchema is the ordered field list of a form definition.
type FormSchema struct {
	FormID string      `json:"form_id"`
	Title  string      `json:"title"`
	Fields []FieldSpec `json:"fields"`
}

// Validate checks structural invariants of the schema itself.
func (s *FormSchema) Validate() error {
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if strings.TrimSpace(f.ID) == "" {
			return errors.New("field id is required")
		}
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("duplicate field id %q", f.ID)
		}
		seen[f.ID] = struct{}{}
		if _, ok := knownKinds[f.Kind]; !ok {
			return fmt.Errorf("%w: field %q", ErrUnknownFieldKind, f.ID)
		}
	}
	return nil
}

// FileFields returns the upload fields in schema order.
func (s *FormSchema) FileFields() []FieldSpec {
	out := make([]FieldSpec, 0)
	for _, f := range s.Fields {
		if f.Kind.IsFile() {
			out = append(out, f)
		}
	}
	return out
}

// Field looks up a field by id.
func (s *FormSchema) Field(id string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return FieldSpec{}, false
}
