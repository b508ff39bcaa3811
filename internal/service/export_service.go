package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
	"github.com/noah-isme/sma-records-api/pkg/export"
	"github.com/noah-isme/sma-records-api/pkg/storage"
)

type calculationLister interface {
	List(ctx context.Context, filter models.CalculationFilter) ([]models.AverageCalculation, error)
}

type promotionLister interface {
	List(ctx context.Context, filter models.PromotionFilter) ([]models.PromotionResult, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds class registers and persists rendered files.
type ExportService struct {
	calculations calculationLister
	promotions   promotionLister
	storage      fileStorage
	csv          csvRenderer
	pdf          pdfRenderer
	signer       *storage.SignedURLSigner
	logger       *zap.Logger
	cfg          ExportConfig
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// NewExportService constructs an ExportService.
func NewExportService(calculations calculationLister, promotions promotionLister, storage fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		calculations: calculations,
		promotions:   promotions,
		storage:      storage,
		csv:          csv,
		pdf:          pdf,
		signer:       signer,
		logger:       logger,
		cfg:          cfg,
	}
}

// Generate builds the register described by job and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %s", job.Params.Format))
	}
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(s.buildFilename(job), payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Debug("register rendered", zap.String("job_id", job.ID), zap.String("path", relPath), zap.Int("rows", len(dataset.Rows)))

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	scope := job.Params.TermID
	if scope == "" {
		scope = job.Params.SchoolYear
	}
	return fmt.Sprintf("%s_%s_%s_%s.%s",
		strings.ToLower(string(job.Type)),
		sanitizeFilename(job.Params.ClassID),
		sanitizeFilename(scope),
		timestamp,
		job.Params.Format,
	)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeAverages:
		return s.buildAveragesDataset(ctx, job.Params)
	case models.ReportTypePromotions:
		return s.buildPromotionsDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported report type %s", job.Type))
	}
}

// buildAveragesDataset lays out one row per student with a column per subject.
func (s *ExportService) buildAveragesDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	filter := models.CalculationFilter{ClassID: params.ClassID, SchoolYear: params.SchoolYear, Scope: models.CalculationScopeYear}
	title := fmt.Sprintf("Year Averages %s %s", params.ClassID, params.SchoolYear)
	if params.TermID != "" {
		filter.Scope = models.CalculationScopePeriod
		filter.TermID = params.TermID
		title = fmt.Sprintf("Term Averages %s %s", params.ClassID, params.TermID)
	}
	calcs, err := s.calculations.List(ctx, filter)
	if err != nil {
		return export.Dataset{}, "", err
	}

	subjectSet := map[string]struct{}{}
	for _, calc := range calcs {
		for _, subject := range calc.Subjects {
			subjectSet[subject.SubjectID] = struct{}{}
		}
	}
	subjects := make([]string, 0, len(subjectSet))
	for id := range subjectSet {
		subjects = append(subjects, id)
	}
	sort.Strings(subjects)

	headers := append([]string{"Student ID"}, subjects...)
	headers = append(headers, "General Average", "Status")
	numeric := map[string]bool{"General Average": true}
	for _, id := range subjects {
		numeric[id] = true
	}
	rows := make([]map[string]string, 0, len(calcs))
	finalized := 0
	for _, calc := range calcs {
		row := map[string]string{
			"Student ID":      calc.StudentID,
			"General Average": fmt.Sprintf("%.2f", calc.GeneralAverage),
			"Status":          "DRAFT",
		}
		if calc.IsFinalized {
			row["Status"] = "FINALIZED"
			finalized++
		}
		for _, subject := range calc.Subjects {
			row[subject.SubjectID] = fmt.Sprintf("%.2f", subject.Average)
		}
		rows = append(rows, row)
	}
	return export.Dataset{
		Headers: headers,
		Rows:    rows,
		Numeric: numeric,
		Summary: []string{fmt.Sprintf("Finalized: %d of %d", finalized, len(calcs))},
	}, title, nil
}

func (s *ExportService) buildPromotionsDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	results, err := s.promotions.List(ctx, models.PromotionFilter{ClassID: params.ClassID, SchoolYear: params.SchoolYear})
	if err != nil {
		return export.Dataset{}, "", err
	}
	rows := make([]map[string]string, 0, len(results))
	counts := map[models.PromotionDecision]int{}
	for _, result := range results {
		counts[result.Decision]++
		rows = append(rows, map[string]string{
			"Student ID":    result.StudentID,
			"Final Average": fmt.Sprintf("%.2f", result.FinalAverage),
			"Threshold":     fmt.Sprintf("%.2f", result.PromotionThreshold),
			"Decision":      string(result.Decision),
			"Next Class":    deref(result.ToClassID),
			"Notes":         deref(result.Notes),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Student ID", "Final Average", "Threshold", "Decision", "Next Class", "Notes"},
		Rows:    rows,
		Numeric: map[string]bool{"Final Average": true, "Threshold": true},
		Summary: []string{fmt.Sprintf("Promoted: %d  Repeated: %d  Special case: %d",
			counts[models.DecisionPromoted], counts[models.DecisionRepeated], counts[models.DecisionSpecialCase])},
	}
	title := fmt.Sprintf("Promotion Register %s %s", params.ClassID, params.SchoolYear)
	return dataset, title, nil
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
