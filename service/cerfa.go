package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AnTengye/cerfaflow/model"
	"github.com/AnTengye/cerfaflow/pkg/fieldmap"
	"github.com/AnTengye/cerfaflow/pkg/ids"
	"github.com/AnTengye/cerfaflow/pkg/logger"
	"github.com/AnTengye/cerfaflow/pkg/metrics"
	"github.com/AnTengye/cerfaflow/pkg/pdfform"
)

var (
	ErrContractNotReady    = errors.New("contract is not complete")
	ErrTemplateUnavailable = errors.New("template assets are not loaded")
)

// Generation results
const (
	ResultSuccess  = "success"
	ResultNotReady = "not_ready"
	ResultError    = "error"
)

const (
	DirectFilename = "cerfa_rempli.pdf"
	DebugFilename  = "cerfa_mapping_numeros.pdf"
)

// Generation is one filled PDF.
type Generation struct {
	ID         string
	Filename   string
	PDF        []byte
	Report     pdfform.Report
	ArchiveURL string
}

// CerfaService fills the CERFA template from contract data.
type CerfaService struct {
	assets  *Assets
	open    pdfform.Opener
	archive ObjectStore
	metrics *metrics.Metrics
}

// NewCerfaService creates the generator. archive may be nil to disable
// archiving; m may be nil to disable metrics.
func NewCerfaService(assets *Assets, open pdfform.Opener, archive ObjectStore, m *metrics.Metrics) *CerfaService {
	if open == nil {
		open = pdfform.OpenPDF
	}
	return &CerfaService{
		assets:  assets,
		open:    open,
		archive: archive,
		metrics: m,
	}
}

// Assets returns the loaded template assets, nil if none.
func (s *CerfaService) Assets() *Assets {
	return s.assets
}

// ContractFilename is the attachment name of a contract PDF.
func ContractFilename(contractID string) string {
	short := contractID
	if len(short) > 8 {
		short = short[:8]
	}
	return "cerfa_contrat_" + short + ".pdf"
}

// Generate fills the template with the merged data of a ready contract.
func (s *CerfaService) Generate(ctx context.Context, c *model.Contract) (*Generation, error) {
	ctx = logger.WithContract(ctx, c.ID, "")
	if !c.Ready() {
		s.metrics.Generation(ResultNotReady)
		return nil, ErrContractNotReady
	}

	merged := fieldmap.Merge(c.Employer, c.Student)
	gen, err := s.fill(ctx, merged)
	if err != nil {
		return nil, err
	}
	gen.Filename = ContractFilename(c.ID)

	if s.archive != nil {
		gen.ArchiveURL = s.store(ctx, ArchiveObjectName(c.ID, gen.ID), gen.PDF)
	}
	return gen, nil
}

// Fill fills the template from an arbitrary nested data object.
func (s *CerfaService) Fill(ctx context.Context, data map[string]any) (*Generation, error) {
	gen, err := s.fill(ctx, data)
	if err != nil {
		return nil, err
	}
	gen.Filename = DirectFilename
	return gen, nil
}

func (s *CerfaService) fill(ctx context.Context, data map[string]any) (*Generation, error) {
	doc, err := s.openTemplate()
	if err != nil {
		s.metrics.Generation(ResultError)
		return nil, err
	}

	pairs := fieldmap.Resolve(fieldmap.Flatten(data), s.assets.FlatMapping)
	report := pdfform.Fill(doc, pairs)

	pdf, err := doc.Bytes()
	if err != nil {
		s.metrics.Generation(ResultError)
		logger.Error(ctx, "pdf serialization failed", "error", err)
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}

	gen := &Generation{ID: ids.New(), PDF: pdf, Report: report}
	s.observe(ctx, gen)
	return gen, nil
}

func (s *CerfaService) openTemplate() (pdfform.Document, error) {
	if !s.assets.Found() {
		return nil, ErrTemplateUnavailable
	}
	doc, err := s.open(s.assets.PDF)
	if err != nil {
		return nil, fmt.Errorf("failed to open template: %w", err)
	}
	return doc, nil
}

func (s *CerfaService) observe(ctx context.Context, gen *Generation) {
	s.metrics.Generation(ResultSuccess)
	for _, o := range []pdfform.Outcome{pdfform.OutcomeFilled, pdfform.OutcomeUnchanged, pdfform.OutcomeMissing, pdfform.OutcomeIgnored} {
		s.metrics.Fields(string(o), gen.Report.Count(o))
	}

	if missing := gen.Report.Missing(); len(missing) > 0 {
		logger.Debug(ctx, "mapped fields not in template", "fields", missing)
	}
	logger.Info(ctx, "pdf generated",
		"generation_id", gen.ID,
		"filled", gen.Report.Filled,
		"pairs", len(gen.Report.Results),
		"bytes", len(gen.PDF),
	)
}

// store archives a PDF and returns a download URL. Failures are logged and
// yield an empty URL.
func (s *CerfaService) store(ctx context.Context, objectName string, pdf []byte) string {
	err := s.archive.UploadFile(ctx, objectName, bytes.NewReader(pdf), int64(len(pdf)), "application/pdf")
	if err != nil {
		logger.Warn(ctx, "pdf archive failed", "object", objectName, "error", err)
		return ""
	}
	url, err := s.archive.GetPresignedURL(ctx, objectName)
	if err != nil {
		logger.Warn(ctx, "presigned url failed, using public url", "object", objectName, "error", err)
		return s.archive.GetPublicURL(objectName)
	}
	return url
}

// DeleteArchive removes every archived PDF of a contract.
func (s *CerfaService) DeleteArchive(ctx context.Context, contractID string) {
	if s.archive == nil {
		return
	}
	ctx = logger.WithContract(ctx, contractID, "")
	n, err := s.archive.RemovePrefix(ctx, ArchivePrefix(contractID))
	if err != nil {
		logger.Warn(ctx, "archive cleanup failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info(ctx, "archive removed", "objects", n)
	}
}

// Fields lists the fields of the template.
func (s *CerfaService) Fields() ([]pdfform.FieldInfo, error) {
	doc, err := s.openTemplate()
	if err != nil {
		return nil, err
	}
	return doc.Fields(), nil
}

// DebugLabel is the short text written into a field by DebugPDF.
//
//	"Zone de texte 8_2"    -> "8_2"
//	"Case #C3#A0 cocher 3" -> "C3"
func DebugLabel(name string) string {
	switch {
	case strings.Contains(name, "Zone de texte"):
		return strings.Replace(name, "Zone de texte ", "", 1)
	case strings.Contains(name, "Case"):
		return strings.Replace(name, "Case #C3#A0 cocher ", "C", 1)
	}
	return name
}

// DebugPDF writes its label into every text field and checks every box, so
// that fields can be located on the printed form.
func (s *CerfaService) DebugPDF(ctx context.Context) (*Generation, error) {
	doc, err := s.openTemplate()
	if err != nil {
		return nil, err
	}

	report := pdfform.Report{}
	for _, info := range doc.Fields() {
		field, ok := doc.Field(info.Name)
		if !ok {
			continue
		}
		res := pdfform.Result{Key: info.Name, Field: info.Name, Outcome: pdfform.OutcomeIgnored}
		switch field.Kind() {
		case pdfform.KindText:
			field.Apply(DebugLabel(info.Name))
			res.Outcome = pdfform.OutcomeFilled
		case pdfform.KindCheckbox:
			field.Apply(true)
			res.Outcome = pdfform.OutcomeFilled
		}
		if res.Outcome == pdfform.OutcomeFilled {
			report.Filled++
		}
		report.Results = append(report.Results, res)
	}

	pdf, err := doc.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	logger.Info(ctx, "debug pdf generated", "fields", len(report.Results), "filled", report.Filled)
	return &Generation{ID: ids.New(), Filename: DebugFilename, PDF: pdf, Report: report}, nil
}
