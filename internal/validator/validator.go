// Package validator maps untrusted field values onto sanitized values according to a form schema.
package validator

import (
	"context"
	"fmt"
	"math"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"formgate/internal/model"
	"formgate/internal/security"
)

// Reason classifies why a field was rejected.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonRequired  Reason = "required"
	ReasonSignature Reason = "signature"
	ReasonPattern   Reason = "pattern"
	ReasonFormat    Reason = "format"
	ReasonRange     Reason = "range"
	ReasonOption    Reason = "option"
	ReasonKind      Reason = "kind"
)

// invalidInput is deliberately generic so attacker payloads are never reflected.
const invalidInput = "Invalid input"

// Result is the outcome of validating one field.
type Result struct {
	Valid  bool
	Value  model.Value
	Error  string
	Reason Reason
}

func ok(v model.Value) Result { return Result{Valid: true, Value: v} }

func fail(reason Reason, format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...), Reason: reason}
}

// Reporter receives notable validation failures. *audit.Logger implements it.
type Reporter interface {
	ValidationFailure(ctx context.Context, formID, fieldID, kind, reason string)
}

// Validator holds the policy the per-type rules depend on.
type Validator struct {
	disposable map[string]struct{}
	reporter   Reporter
	patterns   sync.Map // pattern string -> *regexp.Regexp (nil when it does not compile)
}

// New constructs a Validator. reporter may be nil.
func New(disposableDomains []string, reporter Reporter) *Validator {
	set := make(map[string]struct{}, len(disposableDomains))
	for _, d := range disposableDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			set[d] = struct{}{}
		}
	}
	return &Validator{disposable: set, reporter: reporter}
}

// ValidateForm validates every non-file field of schema. It returns the sanitized values
// (one entry per non-file field, null for empty optional ones) and a fieldID -> message map
// that is empty when everything passed.
func (v *Validator) ValidateForm(ctx context.Context, schema *model.FormSchema, values map[string]model.RawValue) (map[string]model.Value, map[string]string) {
	out := make(map[string]model.Value, len(schema.Fields))
	errs := make(map[string]string)
	for _, f := range schema.Fields {
		if f.Kind.IsFile() {
			continue
		}
		res := v.ValidateField(f, values[f.ID])
		if !res.Valid {
			errs[f.ID] = res.Error
			if v.reporter != nil && (res.Reason == ReasonSignature || res.Reason == ReasonPattern) {
				v.reporter.ValidationFailure(ctx, schema.FormID, f.ID, string(f.Kind), string(res.Reason))
			}
			continue
		}
		out[f.ID] = res.Value
	}
	return out, errs
}

// ValidateField applies the baseline sanitizer and the rule of the field's kind to raw.
func (v *Validator) ValidateField(f model.FieldSpec, raw model.RawValue) Result {
	if f.Kind.IsFile() {
		return fail(ReasonKind, "%s must be uploaded as a file", label(f))
	}
	if raw.IsEmpty() {
		if f.Required {
			return fail(ReasonRequired, "%s is required", label(f))
		}
		return ok(model.NullValue())
	}
	for _, s := range raw.Strings {
		if security.IsMalicious(security.StripNUL(s)) {
			return fail(ReasonSignature, invalidInput)
		}
	}

	switch f.Kind {
	case model.KindCheckbox:
		return v.checkbox(f, raw)
	case model.KindText, model.KindTextarea:
		return v.text(f, clean(raw.First()))
	case model.KindEmail:
		return v.email(f, clean(raw.First()))
	case model.KindNumber:
		return number(f, clean(raw.First()))
	case model.KindAadhar:
		return aadhar(f, clean(raw.First()))
	case model.KindPhone:
		return phone(f, clean(raw.First()))
	case model.KindDate:
		return date(f, clean(raw.First()))
	case model.KindSelect, model.KindRadio:
		return choice(f, clean(raw.First()))
	}
	return fail(ReasonKind, invalidInput)
}

// clean strips NUL bytes and surrounding whitespace without encoding.
func clean(s string) string {
	return strings.TrimSpace(security.StripNUL(s))
}

func label(f model.FieldSpec) string {
	if f.Label != "" {
		return f.Label
	}
	return f.ID
}

func (v *Validator) text(f model.FieldSpec, s string) Result {
	n := utf8.RuneCountInString(s)
	c := f.Constraints
	if c.MinLength != nil && n < *c.MinLength {
		return fail(ReasonRange, "%s must be at least %d characters", label(f), *c.MinLength)
	}
	if c.MaxLength != nil && n > *c.MaxLength {
		return fail(ReasonRange, "%s must not exceed %d characters", label(f), *c.MaxLength)
	}
	if c.Pattern != "" {
		re := v.compile(c.Pattern)
		if re == nil || !re.MatchString(s) {
			return fail(ReasonPattern, "%s format is invalid", label(f))
		}
	}
	return ok(model.StringValue(security.SanitizeInput(s)))
}

func (v *Validator) compile(pattern string) *regexp.Regexp {
	if cached, found := v.patterns.Load(pattern); found {
		re, _ := cached.(*regexp.Regexp)
		return re
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		re = nil
	}
	v.patterns.Store(pattern, re)
	return re
}

func (v *Validator) email(f model.FieldSpec, s string) Result {
	if len(s) > 254 {
		return fail(ReasonFormat, "Please enter a valid email address")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return fail(ReasonFormat, "Please enter a valid email address")
	}
	at := strings.LastIndexByte(s, '@')
	local, domain := s[:at], strings.ToLower(s[at+1:])
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return fail(ReasonFormat, "Please enter a valid email address")
	}
	if v.isDisposable(domain) {
		return fail(ReasonFormat, "Disposable email addresses are not allowed")
	}
	return ok(model.StringValue(security.SanitizeInput(local + "@" + domain)))
}

// isDisposable matches the domain itself or any parent domain in the deny-list.
func (v *Validator) isDisposable(domain string) bool {
	for d := domain; d != ""; {
		if _, hit := v.disposable[d]; hit {
			return true
		}
		dot := strings.IndexByte(d, '.')
		if dot < 0 {
			break
		}
		d = d[dot+1:]
	}
	return false
}

func number(f model.FieldSpec, s string) Result {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return fail(ReasonFormat, "%s must be a number", label(f))
	}
	c := f.Constraints
	if c.Integer && n != math.Trunc(n) {
		return fail(ReasonFormat, "%s must be a whole number", label(f))
	}
	if c.Min != nil && n < *c.Min {
		return fail(ReasonRange, "%s must be at least %s", label(f), formatNum(*c.Min))
	}
	if c.Max != nil && n > *c.Max {
		return fail(ReasonRange, "%s must not exceed %s", label(f), formatNum(*c.Max))
	}
	return ok(model.NumberValue(n))
}

func formatNum(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

var twelveDigits = regexp.MustCompile(`^[0-9]{12}$`)

func aadhar(f model.FieldSpec, s string) Result {
	digits := strings.Join(strings.Fields(s), "")
	if !twelveDigits.MatchString(digits) {
		return fail(ReasonFormat, "%s must be exactly 12 digits", label(f))
	}
	if strings.Count(digits, digits[:1]) == len(digits) {
		return fail(ReasonFormat, "Please enter a valid %s", label(f))
	}
	if digits[0] == '0' || digits[0] == '1' {
		return fail(ReasonFormat, "Please enter a valid %s", label(f))
	}
	return ok(model.StringValue(digits[0:4] + " " + digits[4:8] + " " + digits[8:12]))
}

var phoneDigits = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

func phone(f model.FieldSpec, s string) Result {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, s)
	if !phoneDigits.MatchString(compact) {
		return fail(ReasonFormat, "Please enter a valid %s", label(f))
	}
	return ok(model.StringValue(compact))
}

func date(f model.FieldSpec, s string) Result {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return fail(ReasonFormat, "%s must be a date (YYYY-MM-DD)", label(f))
	}
	return ok(model.StringValue(t.Format("2006-01-02")))
}

func choice(f model.FieldSpec, s string) Result {
	if !f.HasOption(s) {
		return fail(ReasonOption, "Please select a valid option for %s", label(f))
	}
	return ok(model.StringValue(s))
}

func (v *Validator) checkbox(f model.FieldSpec, raw model.RawValue) Result {
	selected := make([]string, 0, len(raw.Strings))
	seen := make(map[string]struct{}, len(raw.Strings))
	for _, s := range raw.Strings {
		s = clean(s)
		if _, dup := seen[s]; dup || !f.HasOption(s) {
			continue
		}
		seen[s] = struct{}{}
		selected = append(selected, s)
	}
	if f.Required && len(selected) == 0 {
		return fail(ReasonRequired, "Please select at least one option for %s", label(f))
	}
	return ok(model.ListValue(selected))
}
