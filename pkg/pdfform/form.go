// Package pdfform fills AcroForm fields of a PDF template.
//
// The filler only knows the FormField capability; the concrete kinds decide
// how a value is coerced. Documents backed by pdfcpu are opened with OpenPDF.
package pdfform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/AnTengye/cerfaflow/pkg/fieldmap"
)

// Kind is the kind of a form field.
type Kind string

const (
	KindText     Kind = "text"
	KindCheckbox Kind = "checkbox"
	KindOther    Kind = "other"
)

// FormField is a single field of a loaded form.
type FormField interface {
	Name() string
	Kind() Kind
	// Apply writes value to the field and reports whether the field changed.
	Apply(value any) bool
}

// Form resolves field names to fields.
type Form interface {
	Field(name string) (FormField, bool)
}

// FieldInfo describes a template field.
type FieldInfo struct {
	Name string `json:"name"`
	Kind Kind   `json:"type"`
}

// Document is a loaded template whose form can be filled and serialized.
type Document interface {
	Form
	Fields() []FieldInfo
	Bytes() ([]byte, error)
}

// Opener loads a document from template bytes.
type Opener func(template []byte) (Document, error)

// TextField sets its text to the string form of the applied value.
type TextField struct {
	name string
	set  func(string)
}

// NewTextField returns a text field that hands coerced values to set.
func NewTextField(name string, set func(string)) *TextField {
	return &TextField{name: name, set: set}
}

func (f *TextField) Name() string { return f.name }
func (f *TextField) Kind() Kind   { return KindText }

func (f *TextField) Apply(value any) bool {
	f.set(Stringify(value))
	return true
}

// CheckboxField is checked when the applied value is one of the truthy
// tokens. Any other value leaves the template default in place.
type CheckboxField struct {
	name  string
	check func()
}

// NewCheckboxField returns a checkbox that calls check when a truthy value is applied.
func NewCheckboxField(name string, check func()) *CheckboxField {
	return &CheckboxField{name: name, check: check}
}

func (f *CheckboxField) Name() string { return f.name }
func (f *CheckboxField) Kind() Kind   { return KindCheckbox }

func (f *CheckboxField) Apply(value any) bool {
	if !Truthy(value) {
		return false
	}
	f.check()
	return true
}

// OtherField stands for radio groups, list and combo boxes. Values are never applied.
type OtherField struct {
	name string
}

func NewOtherField(name string) *OtherField { return &OtherField{name: name} }

func (f *OtherField) Name() string     { return f.name }
func (f *OtherField) Kind() Kind       { return KindOther }
func (f *OtherField) Apply(_ any) bool { return false }

// Truthy reports whether value checks a checkbox: boolean true or exactly
// one of "true", "OUI", "on".
func Truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "OUI" || v == "on"
	}
	return false
}

// Stringify coerces a data value to field text without locale formatting.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = Stringify(item)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(value)
}

// Outcome is what happened to one resolved pair.
type Outcome string

const (
	OutcomeFilled    Outcome = "filled"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeMissing   Outcome = "missing"
	OutcomeIgnored   Outcome = "ignored"
)

// Result records the outcome of one pair.
type Result struct {
	Key     string
	Field   string
	Outcome Outcome
}

// Report collects per-field results of a fill.
type Report struct {
	Results []Result
	Filled  int
}

// Count returns the number of results with the given outcome.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Missing lists the field names that the form does not contain.
func (r Report) Missing() []string {
	var names []string
	for _, res := range r.Results {
		if res.Outcome == OutcomeMissing {
			names = append(names, res.Field)
		}
	}
	return names
}

// Fill applies every pair to the form. Unknown field names and unsupported
// kinds are recorded and skipped; one pair never affects another.
func Fill(form Form, pairs []fieldmap.Pair) Report {
	report := Report{Results: make([]Result, 0, len(pairs))}
	for _, p := range pairs {
		res := Result{Key: p.Key, Field: p.Field}
		field, ok := form.Field(p.Field)
		switch {
		case !ok:
			res.Outcome = OutcomeMissing
		case field.Kind() == KindOther:
			res.Outcome = OutcomeIgnored
		case field.Apply(p.Value):
			res.Outcome = OutcomeFilled
			report.Filled++
		default:
			res.Outcome = OutcomeUnchanged
		}
		report.Results = append(report.Results, res)
	}
	return report
}
