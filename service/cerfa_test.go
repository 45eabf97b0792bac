package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/AnTengye/cerfaflow/model"
	"github.com/AnTengye/cerfaflow/pkg/fieldmap"
	"github.com/AnTengye/cerfaflow/pkg/metrics"
	"github.com/AnTengye/cerfaflow/pkg/pdfform"
)

// fakeDocument renders its values as sorted "name=value" lines.
type fakeDocument struct {
	kinds    map[string]pdfform.Kind
	values   map[string]string
	bytesErr error
}

func (d *fakeDocument) Field(name string) (pdfform.FormField, bool) {
	kind, ok := d.kinds[name]
	if !ok {
		return nil, false
	}
	switch kind {
	case pdfform.KindText:
		return pdfform.NewTextField(name, func(v string) { d.values[name] = v }), true
	case pdfform.KindCheckbox:
		return pdfform.NewCheckboxField(name, func() { d.values[name] = "[x]" }), true
	}
	return pdfform.NewOtherField(name), true
}

func (d *fakeDocument) Fields() []pdfform.FieldInfo {
	infos := make([]pdfform.FieldInfo, 0, len(d.kinds))
	for name, kind := range d.kinds {
		infos = append(infos, pdfform.FieldInfo{Name: name, Kind: kind})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (d *fakeDocument) Bytes() ([]byte, error) {
	if d.bytesErr != nil {
		return nil, d.bytesErr
	}
	lines := make([]string, 0, len(d.values))
	for k, v := range d.values {
		lines = append(lines, k+"="+v)
	}
	sort.Strings(lines)
	return []byte(strings.Join(lines, "\n")), nil
}

var testKinds = map[string]pdfform.Kind{
	"Zone de texte 21":     pdfform.KindText,
	"Zone de texte 8_2":    pdfform.KindText,
	"Case #C3#A0 cocher 3": pdfform.KindCheckbox,
	"Liste 1":              pdfform.KindOther,
}

func fakeOpener(bytesErr error) pdfform.Opener {
	return func(template []byte) (pdfform.Document, error) {
		if string(template) != "%PDF-1.7 test" {
			return nil, fmt.Errorf("unexpected template %q", template)
		}
		return &fakeDocument{kinds: testKinds, values: map[string]string{}, bytesErr: bytesErr}, nil
	}
}

func newTestAssets(t *testing.T) *Assets {
	t.Helper()
	mapping, err := ParseMapping(context.Background(), []byte(`{
		"apprenti": {"nom": "Zone de texte 21", "handicap": "Case #C3#A0 cocher 3", "region": "Liste 1"},
		"employeur": {"siret": "Zone de texte 8_2", "naf": "Zone de texte 99"}
	}`))
	if err != nil {
		t.Fatalf("Failed to parse mapping: %v", err)
	}
	return &Assets{
		PDF:         []byte("%PDF-1.7 test"),
		Mapping:     mapping,
		FlatMapping: fieldmap.FlattenMapping(mapping),
	}
}

func readyContract() *model.Contract {
	c := newTestContract("0123456789abcdef", time.Now())
	c.SetData(model.RoleEmployer, map[string]any{
		"employeur": map[string]any{"siret": "12345678901234", "naf": "6201Z"},
		"apprenti":  map[string]any{"nom": "Employer side"},
	})
	c.SetData(model.RoleStudent, map[string]any{
		"apprenti": map[string]any{"nom": "Dupont", "handicap": "OUI", "region": "IDF"},
	})
	return c
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(w.Body)
	if err != nil {
		t.Fatalf("Failed to read metrics: %v", err)
	}
	return string(body)
}

func TestContractFilename(t *testing.T) {
	if got := ContractFilename("0123456789abcdef"); got != "cerfa_contrat_01234567.pdf" {
		t.Errorf("Unexpected filename %s", got)
	}
	if got := ContractFilename("abc"); got != "cerfa_contrat_abc.pdf" {
		t.Errorf("Unexpected filename %s", got)
	}
}

func TestCerfaServiceGenerate(t *testing.T) {
	m := metrics.New()
	svc := NewCerfaService(newTestAssets(t), fakeOpener(nil), nil, m)

	gen, err := svc.Generate(context.Background(), readyContract())
	if err != nil {
		t.Fatalf("Failed to generate: %v", err)
	}

	if gen.Filename != "cerfa_contrat_01234567.pdf" {
		t.Errorf("Unexpected filename %s", gen.Filename)
	}
	if gen.ID == "" {
		t.Error("Expected generation id")
	}

	want := strings.Join([]string{
		"Case #C3#A0 cocher 3=[x]",
		"Zone de texte 21=Dupont",
		"Zone de texte 8_2=12345678901234",
	}, "\n")
	if string(gen.PDF) != want {
		t.Errorf("Unexpected pdf content:\n%s\nexpected:\n%s", gen.PDF, want)
	}

	// handicap, nom and siret
	if gen.Report.Filled != 3 {
		t.Errorf("Expected 3 filled fields, got %d", gen.Report.Filled)
	}
	if got := gen.Report.Missing(); len(got) != 1 || got[0] != "Zone de texte 99" {
		t.Errorf("Expected missing 'Zone de texte 99', got %v", got)
	}
	if gen.Report.Count(pdfform.OutcomeIgnored) != 1 {
		t.Errorf("Expected the list box to be ignored")
	}

	exposition := scrape(t, m)
	for _, want := range []string{
		`cerfa_generations_total{result="success"} 1`,
		`cerfa_fields_total{outcome="filled"} 3`,
		`cerfa_fields_total{outcome="missing"} 1`,
	} {
		if !strings.Contains(exposition, want) {
			t.Errorf("Expected %s in metrics", want)
		}
	}
}

func TestCerfaServiceGenerateNotReady(t *testing.T) {
	m := metrics.New()
	svc := NewCerfaService(newTestAssets(t), fakeOpener(nil), nil, m)

	c := newTestContract("c1", time.Now())
	c.SetData(model.RoleStudent, map[string]any{"apprenti": map[string]any{"nom": "Dupont"}})

	if _, err := svc.Generate(context.Background(), c); !errors.Is(err, ErrContractNotReady) {
		t.Errorf("Expected ErrContractNotReady, got %v", err)
	}
	if want := `cerfa_generations_total{result="not_ready"} 1`; !strings.Contains(scrape(t, m), want) {
		t.Errorf("Expected %s in metrics", want)
	}
}

func TestCerfaServiceGenerateSerializationError(t *testing.T) {
	svc := NewCerfaService(newTestAssets(t), fakeOpener(errors.New("broken xref")), nil, nil)

	_, err := svc.Generate(context.Background(), readyContract())
	if err == nil || !strings.Contains(err.Error(), "broken xref") {
		t.Errorf("Expected serialization error, got %v", err)
	}
}

func TestCerfaServiceWithoutAssets(t *testing.T) {
	svc := NewCerfaService(nil, fakeOpener(nil), nil, nil)

	if _, err := svc.Generate(context.Background(), readyContract()); !errors.Is(err, ErrTemplateUnavailable) {
		t.Errorf("Expected ErrTemplateUnavailable, got %v", err)
	}
	if _, err := svc.Fields(); !errors.Is(err, ErrTemplateUnavailable) {
		t.Errorf("Expected ErrTemplateUnavailable, got %v", err)
	}
}

func TestCerfaServiceArchive(t *testing.T) {
	objects := newFakeObjectStore()
	svc := NewCerfaService(newTestAssets(t), fakeOpener(nil), objects, nil)
	c := readyContract()

	gen, err := svc.Generate(context.Background(), c)
	if err != nil {
		t.Fatalf("Failed to generate: %v", err)
	}

	name := ArchiveObjectName(c.ID, gen.ID)
	if string(objects.objects[name]) != string(gen.PDF) {
		t.Errorf("Expected archived pdf under %s", name)
	}
	if gen.ArchiveURL != "http://minio.test/cerfa/"+name+"?X-Amz-Signature=test" {
		t.Errorf("Unexpected archive url %s", gen.ArchiveURL)
	}

	svc.DeleteArchive(context.Background(), c.ID)
	if len(objects.objects) != 0 {
		t.Errorf("Expected archive to be removed, got %d objects", len(objects.objects))
	}
}

func TestCerfaServiceArchiveFailureIsNotFatal(t *testing.T) {
	objects := newFakeObjectStore()
	objects.uploadErr = errors.New("bucket unavailable")
	svc := NewCerfaService(newTestAssets(t), fakeOpener(nil), objects, nil)

	gen, err := svc.Generate(context.Background(), readyContract())
	if err != nil {
		t.Fatalf("Expected generation to succeed, got %v", err)
	}
	if gen.ArchiveURL != "" {
		t.Errorf("Expected no archive url, got %s", gen.ArchiveURL)
	}
}

func TestCerfaServiceArchivePublicURLFallback(t *testing.T) {
	objects := newFakeObjectStore()
	objects.presignErr = errors.New("signature unavailable")
	svc := NewCerfaService(newTestAssets(t), fakeOpener(nil), objects, nil)
	c := readyContract()

	gen, err := svc.Generate(context.Background(), c)
	if err != nil {
		t.Fatalf("Failed to generate: %v", err)
	}
	name := ArchiveObjectName(c.ID, gen.ID)
	if _, ok := objects.objects[name]; !ok {
		t.Fatalf("Expected archived pdf under %s", name)
	}
	if gen.ArchiveURL != "http://minio.test/cerfa/"+name {
		t.Errorf("Expected public url fallback, got %s", gen.ArchiveURL)
	}
}

func TestCerfaServiceFill(t *testing.T) {
	svc := NewCerfaService(newTestAssets(t), fakeOpener(nil), nil, nil)

	gen, err := svc.Fill(context.Background(), map[string]any{
		"apprenti": map[string]any{"nom": "Martin", "handicap": "oui"},
	})
	if err != nil {
		t.Fatalf("Failed to fill: %v", err)
	}
	if gen.Filename != DirectFilename {
		t.Errorf("Unexpected filename %s", gen.Filename)
	}
	// "oui" is not truthy: the box keeps its default
	if string(gen.PDF) != "Zone de texte 21=Martin" {
		t.Errorf("Unexpected pdf content %q", gen.PDF)
	}
	if gen.Report.Count(pdfform.OutcomeUnchanged) != 1 {
		t.Errorf("Expected one unchanged checkbox, got %+v", gen.Report.Results)
	}
}

func TestCerfaServiceFields(t *testing.T) {
	svc := NewCerfaService(newTestAssets(t), fakeOpener(nil), nil, nil)

	fields, err := svc.Fields()
	if err != nil {
		t.Fatalf("Failed to list fields: %v", err)
	}
	if len(fields) != len(testKinds) {
		t.Fatalf("Expected %d fields, got %d", len(testKinds), len(fields))
	}
	for _, f := range fields {
		if testKinds[f.Name] != f.Kind {
			t.Errorf("Field %s: expected kind %s, got %s", f.Name, testKinds[f.Name], f.Kind)
		}
	}
}

func TestDebugLabel(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"Zone de texte 8_2", "8_2"},
		{"Zone de texte 21_15", "21_15"},
		{"Case #C3#A0 cocher 3", "C3"},
		{"Signature", "Signature"},
	}

	for _, tt := range tests {
		if got := DebugLabel(tt.name); got != tt.expected {
			t.Errorf("DebugLabel(%q) = %q, expected %q", tt.name, got, tt.expected)
		}
	}
}

func TestCerfaServiceDebugPDF(t *testing.T) {
	svc := NewCerfaService(newTestAssets(t), fakeOpener(nil), nil, nil)

	gen, err := svc.DebugPDF(context.Background())
	if err != nil {
		t.Fatalf("Failed to generate debug pdf: %v", err)
	}
	if gen.Filename != DebugFilename {
		t.Errorf("Unexpected filename %s", gen.Filename)
	}
	want := strings.Join([]string{
		"Case #C3#A0 cocher 3=[x]",
		"Zone de texte 21=21",
		"Zone de texte 8_2=8_2",
	}, "\n")
	if string(gen.PDF) != want {
		t.Errorf("Unexpected pdf content:\n%s", gen.PDF)
	}
	if gen.Report.Filled != 3 {
		t.Errorf("Expected 3 filled fields, got %d", gen.Report.Filled)
	}
}
