package validator

import (
	"context"
	"testing"

	"formgate/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) ValidationFailure(ctx context.Context, formID, fieldID, kind, reason string) {
	m.Called(ctx, formID, fieldID, kind, reason)
}

func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }

func newValidator() *Validator {
	return New([]string{"mailinator.com", "Tempmail.org "}, nil)
}

func TestValidateField(t *testing.T) {
	v := newValidator()

	tests := []struct {
		name      string
		field     model.FieldSpec
		raw       model.RawValue
		wantValid bool
		wantValue model.Value
		wantError string
		reason    Reason
	}{
		{
			name:      "required text missing",
			field:     model.FieldSpec{ID: "name", Label: "Name", Kind: model.KindText, Required: true},
			raw:       model.RawString("   "),
			wantError: "Name is required",
			reason:    ReasonRequired,
		},
		{
			name:      "optional empty is null",
			field:     model.FieldSpec{ID: "nick", Kind: model.KindText},
			raw:       model.RawValue{},
			wantValid: true,
			wantValue: model.NullValue(),
		},
		{
			name:      "text is trimmed and encoded",
			field:     model.FieldSpec{ID: "name", Kind: model.KindText},
			raw:       model.RawString("  Tom & Jerry\x00 "),
			wantValid: true,
			wantValue: model.StringValue("Tom &amp; Jerry"),
		},
		{
			name:      "text length counts characters before encoding",
			field:     model.FieldSpec{ID: "name", Kind: model.KindText, Constraints: model.Constraints{MaxLength: intPtr(3)}},
			raw:       model.RawString("a&b"),
			wantValid: true,
			wantValue: model.StringValue("a&amp;b"),
		},
		{
			name:      "text too short",
			field:     model.FieldSpec{ID: "name", Label: "Name", Kind: model.KindText, Constraints: model.Constraints{MinLength: intPtr(2)}},
			raw:       model.RawString("a"),
			wantError: "Name must be at least 2 characters",
			reason:    ReasonRange,
		},
		{
			name:      "textarea too long",
			field:     model.FieldSpec{ID: "bio", Label: "Bio", Kind: model.KindTextarea, Constraints: model.Constraints{MaxLength: intPtr(5)}},
			raw:       model.RawString("abcdef"),
			wantError: "Bio must not exceed 5 characters",
			reason:    ReasonRange,
		},
		{
			name:      "pattern mismatch",
			field:     model.FieldSpec{ID: "pin", Label: "PIN", Kind: model.KindText, Constraints: model.Constraints{Pattern: `[0-9]{6}`}},
			raw:       model.RawString("12345a"),
			wantError: "PIN format is invalid",
			reason:    ReasonPattern,
		},
		{
			name:      "pattern is anchored",
			field:     model.FieldSpec{ID: "pin", Label: "PIN", Kind: model.KindText, Constraints: model.Constraints{Pattern: `[0-9]{6}`}},
			raw:       model.RawString("1234567"),
			wantError: "PIN format is invalid",
			reason:    ReasonPattern,
		},
		{
			name:      "script tag rejected for every kind",
			field:     model.FieldSpec{ID: "n", Kind: model.KindNumber},
			raw:       model.RawString("<script>alert(1)</script>"),
			wantError: "Invalid input",
			reason:    ReasonSignature,
		},
		{
			name:      "sql signature rejected",
			field:     model.FieldSpec{ID: "name", Kind: model.KindText},
			raw:       model.RawString("' OR '1'='1"),
			wantError: "Invalid input",
			reason:    ReasonSignature,
		},
		{
			name:      "email domain lowercased",
			field:     model.FieldSpec{ID: "email", Kind: model.KindEmail},
			raw:       model.RawString(" Jane.Doe@Example.COM "),
			wantValid: true,
			wantValue: model.StringValue("Jane.Doe@example.com"),
		},
		{
			name:      "email malformed",
			field:     model.FieldSpec{ID: "email", Kind: model.KindEmail},
			raw:       model.RawString("not-an-email"),
			wantError: "Please enter a valid email address",
			reason:    ReasonFormat,
		},
		{
			name:      "email with display name rejected",
			field:     model.FieldSpec{ID: "email", Kind: model.KindEmail},
			raw:       model.RawString("Jane <jane@example.com>"),
			wantError: "Please enter a valid email address",
			reason:    ReasonFormat,
		},
		{
			name:      "disposable email rejected",
			field:     model.FieldSpec{ID: "email", Kind: model.KindEmail},
			raw:       model.RawString("x@mailinator.com"),
			wantError: "Disposable email addresses are not allowed",
			reason:    ReasonFormat,
		},
		{
			name:      "disposable subdomain rejected",
			field:     model.FieldSpec{ID: "email", Kind: model.KindEmail},
			raw:       model.RawString("x@eu.tempmail.org"),
			wantError: "Disposable email addresses are not allowed",
			reason:    ReasonFormat,
		},
		{
			name:      "number in range",
			field:     model.FieldSpec{ID: "age", Kind: model.KindNumber, Constraints: model.Constraints{Min: floatPtr(18), Max: floatPtr(99)}},
			raw:       model.RawString("42"),
			wantValid: true,
			wantValue: model.NumberValue(42),
		},
		{
			name:      "number boundaries are inclusive",
			field:     model.FieldSpec{ID: "age", Kind: model.KindNumber, Constraints: model.Constraints{Min: floatPtr(18), Max: floatPtr(99)}},
			raw:       model.RawString("99"),
			wantValid: true,
			wantValue: model.NumberValue(99),
		},
		{
			name:      "number below min",
			field:     model.FieldSpec{ID: "age", Label: "Age", Kind: model.KindNumber, Constraints: model.Constraints{Min: floatPtr(18)}},
			raw:       model.RawString("17.5"),
			wantError: "Age must be at least 18",
			reason:    ReasonRange,
		},
		{
			name:      "number not integer",
			field:     model.FieldSpec{ID: "qty", Label: "Quantity", Kind: model.KindNumber, Constraints: model.Constraints{Integer: true}},
			raw:       model.RawString("2.5"),
			wantError: "Quantity must be a whole number",
			reason:    ReasonFormat,
		},
		{
			name:      "number NaN rejected",
			field:     model.FieldSpec{ID: "qty", Label: "Quantity", Kind: model.KindNumber},
			raw:       model.RawString("NaN"),
			wantError: "Quantity must be a number",
			reason:    ReasonFormat,
		},
		{
			name:      "aadhar grouped",
			field:     model.FieldSpec{ID: "aadhar", Kind: model.KindAadhar},
			raw:       model.RawString("2345 6789\t0123"),
			wantValid: true,
			wantValue: model.StringValue("2345 6789 0123"),
		},
		{
			name:      "aadhar all same digit",
			field:     model.FieldSpec{ID: "aadhar", Label: "Aadhar", Kind: model.KindAadhar},
			raw:       model.RawString("222222222222"),
			wantError: "Please enter a valid Aadhar",
			reason:    ReasonFormat,
		},
		{
			name:      "aadhar leading one",
			field:     model.FieldSpec{ID: "aadhar", Label: "Aadhar", Kind: model.KindAadhar},
			raw:       model.RawString("123456789012"),
			wantError: "Please enter a valid Aadhar",
			reason:    ReasonFormat,
		},
		{
			name:      "aadhar wrong length",
			field:     model.FieldSpec{ID: "aadhar", Label: "Aadhar", Kind: model.KindAadhar},
			raw:       model.RawString("23456789012"),
			wantError: "Aadhar must be exactly 12 digits",
			reason:    ReasonFormat,
		},
		{
			name:      "phone normalized",
			field:     model.FieldSpec{ID: "phone", Kind: model.KindPhone},
			raw:       model.RawString("+91 (98) 765-43210"),
			wantValid: true,
			wantValue: model.StringValue("+919876543210"),
		},
		{
			name:      "phone too short",
			field:     model.FieldSpec{ID: "phone", Label: "Phone", Kind: model.KindPhone},
			raw:       model.RawString("12345"),
			wantError: "Please enter a valid Phone",
			reason:    ReasonFormat,
		},
		{
			name:      "date valid",
			field:     model.FieldSpec{ID: "dob", Kind: model.KindDate},
			raw:       model.RawString("1990-02-28"),
			wantValid: true,
			wantValue: model.StringValue("1990-02-28"),
		},
		{
			name:      "date impossible",
			field:     model.FieldSpec{ID: "dob", Label: "Date of birth", Kind: model.KindDate},
			raw:       model.RawString("1990-02-30"),
			wantError: "Date of birth must be a date (YYYY-MM-DD)",
			reason:    ReasonFormat,
		},
		{
			name:      "select exact membership",
			field:     model.FieldSpec{ID: "size", Kind: model.KindSelect, Constraints: model.Constraints{Options: []string{"S", "M", "L"}}},
			raw:       model.RawString("M"),
			wantValid: true,
			wantValue: model.StringValue("M"),
		},
		{
			name:      "select is case sensitive",
			field:     model.FieldSpec{ID: "size", Label: "Size", Kind: model.KindSelect, Constraints: model.Constraints{Options: []string{"S", "M", "L"}}},
			raw:       model.RawString("m"),
			wantError: "Please select a valid option for Size",
			reason:    ReasonOption,
		},
		{
			name:      "radio outside options",
			field:     model.FieldSpec{ID: "tier", Label: "Tier", Kind: model.KindRadio, Constraints: model.Constraints{Options: []string{"gold"}}},
			raw:       model.RawString("platinum"),
			wantError: "Please select a valid option for Tier",
			reason:    ReasonOption,
		},
		{
			name:      "checkbox filters unknown options",
			field:     model.FieldSpec{ID: "tags", Kind: model.KindCheckbox, Constraints: model.Constraints{Options: []string{"a", "b", "c"}}},
			raw:       model.RawList("a", "zzz", "c", "a"),
			wantValid: true,
			wantValue: model.ListValue([]string{"a", "c"}),
		},
		{
			name:      "required checkbox with nothing valid",
			field:     model.FieldSpec{ID: "tags", Label: "Tags", Kind: model.KindCheckbox, Required: true, Constraints: model.Constraints{Options: []string{"a"}}},
			raw:       model.RawList("x", "y"),
			wantError: "Please select at least one option for Tags",
			reason:    ReasonRequired,
		},
		{
			name:      "file kinds are not validated here",
			field:     model.FieldSpec{ID: "photo", Label: "Photo", Kind: model.KindPhoto},
			raw:       model.RawString("x"),
			wantError: "Photo must be uploaded as a file",
			reason:    ReasonKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.ValidateField(tt.field, tt.raw)
			assert.Equal(t, tt.wantValid, res.Valid)
			assert.Equal(t, tt.reason, res.Reason)
			if tt.wantValid {
				assert.Equal(t, tt.wantValue, res.Value)
				assert.Empty(t, res.Error)
			} else {
				assert.Equal(t, tt.wantError, res.Error)
			}
		})
	}
}

func TestValidateField_Pure(t *testing.T) {
	v := newValidator()
	f := model.FieldSpec{ID: "name", Kind: model.KindText, Constraints: model.Constraints{Pattern: `[A-Za-z ]+`}}
	first := v.ValidateField(f, model.RawString("Ada Lovelace"))
	second := v.ValidateField(f, model.RawString("Ada Lovelace"))
	assert.Equal(t, first, second)
}

func TestValidateField_ErrorNeverEchoesInput(t *testing.T) {
	v := newValidator()
	payload := "<img src=x onerror=alert(document.cookie)>"
	for _, kind := range []model.FieldKind{model.KindText, model.KindEmail, model.KindNumber, model.KindSelect, model.KindDate} {
		res := v.ValidateField(model.FieldSpec{ID: "f", Kind: kind}, model.RawString(payload))
		require.False(t, res.Valid, kind)
		assert.NotContains(t, res.Error, "onerror", kind)
		assert.NotContains(t, res.Error, "<img", kind)
	}
}

func TestValidateField_BadPatternFailsClosed(t *testing.T) {
	v := newValidator()
	f := model.FieldSpec{ID: "x", Label: "X", Kind: model.KindText, Constraints: model.Constraints{Pattern: `([`}}
	res := v.ValidateField(f, model.RawString("anything"))
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonPattern, res.Reason)
}

func TestValidateForm(t *testing.T) {
	ctx := context.Background()
	schema := &model.FormSchema{
		FormID: "contact",
		Fields: []model.FieldSpec{
			{ID: "name", Label: "Name", Kind: model.KindText, Required: true},
			{ID: "email", Label: "Email", Kind: model.KindEmail, Required: true},
			{ID: "note", Kind: model.KindTextarea},
			{ID: "photo", Kind: model.KindPhoto, Required: true},
		},
	}

	t.Run("all valid", func(t *testing.T) {
		rep := new(mockReporter)
		v := New(nil, rep)
		values, errs := v.ValidateForm(ctx, schema, map[string]model.RawValue{
			"name":  model.RawString("Ada"),
			"email": model.RawString("ada@example.com"),
		})
		assert.Empty(t, errs)
		assert.Equal(t, model.StringValue("Ada"), values["name"])
		assert.True(t, values["note"].IsNull())
		_, hasPhoto := values["photo"]
		assert.False(t, hasPhoto, "file fields are resolved elsewhere")
		rep.AssertNotCalled(t, "ValidationFailure", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("signature failures are reported without the value", func(t *testing.T) {
		rep := new(mockReporter)
		rep.On("ValidationFailure", ctx, "contact", "name", "text", "signature").Once()
		v := New(nil, rep)
		_, errs := v.ValidateForm(ctx, schema, map[string]model.RawValue{
			"name": model.RawString("<script>x</script>"),
		})
		assert.Equal(t, map[string]string{
			"name":  "Invalid input",
			"email": "Email is required",
		}, errs)
		rep.AssertExpectations(t)
	})
}
