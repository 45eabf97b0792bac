package pdfform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/form"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// fillGroup mirrors the JSON document accepted by pdfcpu's form filling.
type fillGroup struct {
	Forms []fillForm `json:"forms"`
}

type fillForm struct {
	TextFields []fillText     `json:"textfield,omitempty"`
	DateFields []fillText     `json:"datefield,omitempty"`
	CheckBoxes []fillCheckBox `json:"checkbox,omitempty"`
}

type fillText struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

type fillCheckBox struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

type pdfDocument struct {
	template []byte
	fields   map[string]form.Field
	order    []string

	text    map[string]string
	checked map[string]bool
}

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// OpenPDF loads the AcroForm fields of template. The template bytes are
// kept and only read again when the document is serialized.
func OpenPDF(template []byte) (Document, error) {
	fields, err := api.FormFields(bytes.NewReader(template), newConfiguration())
	if err != nil {
		return nil, fmt.Errorf("failed to read form fields: %w", err)
	}

	doc := &pdfDocument{
		template: template,
		fields:   make(map[string]form.Field, len(fields)),
		text:     make(map[string]string),
		checked:  make(map[string]bool),
	}
	for _, f := range fields {
		if _, dup := doc.fields[f.Name]; dup {
			continue
		}
		doc.fields[f.Name] = f
		doc.order = append(doc.order, f.Name)
	}
	return doc, nil
}

func kindOf(t form.FieldType) Kind {
	switch t {
	case form.FTText, form.FTDate:
		return KindText
	case form.FTCheckBox:
		return KindCheckbox
	default:
		return KindOther
	}
}

func (d *pdfDocument) Field(name string) (FormField, bool) {
	f, ok := d.fields[name]
	if !ok {
		return nil, false
	}
	switch kindOf(f.Typ) {
	case KindText:
		return NewTextField(name, func(v string) { d.text[name] = v }), true
	case KindCheckbox:
		return NewCheckboxField(name, func() { d.checked[name] = true }), true
	default:
		return NewOtherField(name), true
	}
}

func (d *pdfDocument) Fields() []FieldInfo {
	infos := make([]FieldInfo, 0, len(d.order))
	for _, name := range d.order {
		infos = append(infos, FieldInfo{Name: name, Kind: kindOf(d.fields[name].Typ)})
	}
	return infos
}

func (d *pdfDocument) group() fillGroup {
	var ff fillForm

	names := make([]string, 0, len(d.text))
	for name := range d.text {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := d.fields[name]
		entry := fillText{ID: f.ID, Name: name, Value: d.text[name]}
		if f.Typ == form.FTDate {
			ff.DateFields = append(ff.DateFields, entry)
			continue
		}
		ff.TextFields = append(ff.TextFields, entry)
	}

	names = names[:0]
	for name := range d.checked {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ff.CheckBoxes = append(ff.CheckBoxes, fillCheckBox{ID: d.fields[name].ID, Name: name, Value: true})
	}

	return fillGroup{Forms: []fillForm{ff}}
}

func (d *pdfDocument) Bytes() ([]byte, error) {
	if len(d.text) == 0 && len(d.checked) == 0 {
		return bytes.Clone(d.template), nil
	}

	payload, err := json.Marshal(d.group())
	if err != nil {
		return nil, fmt.Errorf("failed to encode form data: %w", err)
	}

	var out bytes.Buffer
	if err := api.FillForm(bytes.NewReader(d.template), bytes.NewReader(payload), &out, newConfiguration()); err != nil {
		return nil, fmt.Errorf("failed to write filled form: %w", err)
	}
	return out.Bytes(), nil
}
