package pdfform

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/form"

	"github.com/AnTengye/cerfaflow/pkg/fieldmap"
)

func newTestDocument() *pdfDocument {
	doc := &pdfDocument{
		fields:  map[string]form.Field{},
		text:    map[string]string{},
		checked: map[string]bool{},
	}
	for _, f := range []form.Field{
		{ID: "10", Name: "Zone de texte 21", Typ: form.FTText},
		{ID: "11", Name: "Zone de texte 8", Typ: form.FTText},
		{ID: "12", Name: "Date naissance", Typ: form.FTDate},
		{ID: "13", Name: "Case #C3#A0 cocher 3", Typ: form.FTCheckBox},
		{ID: "14", Name: "Liste", Typ: form.FTListBox},
	} {
		doc.fields[f.Name] = f
		doc.order = append(doc.order, f.Name)
	}
	return doc
}

func TestDocumentFieldKinds(t *testing.T) {
	doc := newTestDocument()

	tests := []struct {
		name string
		kind Kind
	}{
		{"Zone de texte 21", KindText},
		{"Date naissance", KindText},
		{"Case #C3#A0 cocher 3", KindCheckbox},
		{"Liste", KindOther},
	}
	for _, tt := range tests {
		f, ok := doc.Field(tt.name)
		if !ok {
			t.Fatalf("Expected field %s", tt.name)
		}
		if f.Kind() != tt.kind {
			t.Errorf("%s: expected kind %s, got %s", tt.name, tt.kind, f.Kind())
		}
	}

	if _, ok := doc.Field("absent"); ok {
		t.Error("Expected absent field lookup to fail")
	}

	infos := doc.Fields()
	if len(infos) != 5 || infos[0].Name != "Zone de texte 21" || infos[4].Kind != KindOther {
		t.Errorf("Unexpected field infos: %+v", infos)
	}
}

func TestDocumentGroup(t *testing.T) {
	doc := newTestDocument()
	for name, value := range map[string]any{
		"Zone de texte 8":      "123",
		"Zone de texte 21":     "Dupont",
		"Date naissance":       "01/02/2005",
		"Case #C3#A0 cocher 3": "on",
	} {
		f, _ := doc.Field(name)
		f.Apply(value)
	}

	raw, err := json.Marshal(doc.group())
	if err != nil {
		t.Fatalf("Failed to encode group: %v", err)
	}

	expected := `{"forms":[{` +
		`"textfield":[{"id":"10","name":"Zone de texte 21","value":"Dupont"},{"id":"11","name":"Zone de texte 8","value":"123"}],` +
		`"datefield":[{"id":"12","name":"Date naissance","value":"01/02/2005"}],` +
		`"checkbox":[{"id":"13","name":"Case #C3#A0 cocher 3","value":true}]}]}`
	if string(raw) != expected {
		t.Errorf("Expected %s, got %s", expected, raw)
	}
}

func TestDocumentBytesWithoutValues(t *testing.T) {
	doc := newTestDocument()
	doc.template = []byte("%PDF-1.7 template")

	out, err := doc.Bytes()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !bytes.Equal(out, doc.template) {
		t.Errorf("Expected untouched template, got %q", out)
	}
}

func TestOpenPDFInvalid(t *testing.T) {
	if _, err := OpenPDF([]byte("not a pdf")); err == nil {
		t.Error("Expected error for invalid PDF")
	}
}

const testFormJSON = `{
	"paper": "A4P",
	"origin": "LowerLeft",
	"fonts": {
		"input": {"name": "Helvetica", "size": 12}
	},
	"pages": {
		"1": {
			"content": {
				"textfield": [
					{"id": "nom", "pos": [100, 700], "width": 150}
				],
				"datefield": [
					{"id": "naissance", "pos": [100, 660], "width": 100, "format": "dd/mm/yyyy"}
				],
				"checkbox": [
					{"id": "majeur", "pos": [100, 620], "width": 12, "value": false},
					{"id": "mineur", "pos": [100, 600], "width": 12, "value": false}
				]
			}
		}
	}
}`

func newTestTemplate(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := api.Create(nil, strings.NewReader(testFormJSON), &buf, newConfiguration()); err != nil {
		t.Fatalf("Failed to create template: %v", err)
	}
	return buf.Bytes()
}

func TestOpenPDFFillRoundTrip(t *testing.T) {
	doc, err := OpenPDF(newTestTemplate(t))
	if err != nil {
		t.Fatalf("Failed to open template: %v", err)
	}

	kinds := map[string]Kind{}
	for _, info := range doc.Fields() {
		kinds[info.Name] = info.Kind
	}
	for name, kind := range map[string]Kind{
		"nom":       KindText,
		"naissance": KindText,
		"majeur":    KindCheckbox,
		"mineur":    KindCheckbox,
	} {
		if kinds[name] != kind {
			t.Errorf("%s: expected kind %s, got %q", name, kind, kinds[name])
		}
	}

	report := Fill(doc, []fieldmap.Pair{
		{Key: "apprenti.nom", Field: "nom", Value: "Dupont"},
		{Key: "apprenti.naissance", Field: "naissance", Value: "15/03/2005"},
		{Key: "apprenti.majeur", Field: "majeur", Value: "OUI"},
		{Key: "apprenti.mineur", Field: "mineur", Value: "oui"},
	})
	if report.Filled != 3 || report.Count(OutcomeUnchanged) != 1 {
		t.Errorf("Unexpected report: %+v", report)
	}

	out, err := doc.Bytes()
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	fields, err := api.FormFields(bytes.NewReader(out), newConfiguration())
	if err != nil {
		t.Fatalf("Failed to read filled form: %v", err)
	}
	values := map[string]string{}
	for _, f := range fields {
		values[f.Name] = f.V
	}

	expected := map[string]string{
		"nom":       "Dupont",
		"naissance": "15/03/2005",
		"majeur":    "Yes",
		"mineur":    "",
	}
	for name, v := range expected {
		got, ok := values[name]
		if !ok {
			t.Errorf("Expected field %s in output", name)
			continue
		}
		if got != v {
			t.Errorf("%s: expected %q, got %q", name, v, got)
		}
	}
}
