package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/sheetsync/internal/logging"
	"github.com/google/uuid"
)

// ServiceConfig tunes the ingestion pipeline.
type ServiceConfig struct {
	Extract    ExtractConfig
	Locator    LocatorConfig
	Validation ValidationConfig

	// MaxFileSize rejects larger uploads; zero disables the check.
	MaxFileSize   int64
	MaxConcurrent int
	MaxWait       time.Duration
	// Timeout bounds reading and validation. Writes are not cancelled once
	// the transaction has begun.
	Timeout time.Duration
	// PreviewRows is the number of records returned by validate-only runs.
	PreviewRows int
}

// DefaultServiceConfig returns the settings used when none are configured.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Extract:       DefaultExtractConfig(),
		Locator:       DefaultLocatorConfig(),
		Validation:    DefaultValidationConfig(),
		MaxFileSize:   50 << 20,
		MaxConcurrent: DefaultMaxConcurrentIngestions,
		MaxWait:       DefaultMaxWaitTime,
		Timeout:       10 * time.Minute,
		PreviewRows:   5,
	}
}

// Service runs ingestions, previews and template generation.
type Service struct {
	store      Store
	catalog    *Catalog
	cfg        ServiceConfig
	locator    *RegionLocator
	limiter    *IngestLimiter
	reconciler *Reconciler
}

// NewService creates a Service. A nil catalog loads the embedded
// vocabularies. store may be nil, in which case only validate-only
// ingestion, previews and templates are available.
func NewService(store Store, catalog *Catalog, cfg ServiceConfig) (*Service, error) {
	if catalog == nil {
		var err error
		if catalog, err = DefaultCatalog(); err != nil {
			return nil, fmt.Errorf("load vocabularies: %w", err)
		}
	}
	return &Service{
		store:      store,
		catalog:    catalog,
		cfg:        cfg,
		locator:    NewRegionLocator(cfg.Locator, catalog.Locator, nil),
		limiter:    NewIngestLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		reconciler: NewReconciler(),
	}, nil
}

// Limiter exposes the concurrency limiter for shutdown draining and health.
func (s *Service) Limiter() *IngestLimiter { return s.limiter }

// Ping checks the store. A service without a store reports ErrNoStore.
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return ErrNoStore
	}
	return s.store.Ping(ctx)
}

// KindInfo describes a registered entity kind.
type KindInfo struct {
	Kind     EntityKind `json:"kind"`
	Role     string     `json:"role"`
	Label    string     `json:"label"`
	Headers  []string   `json:"headers"`
	Required []string   `json:"required"`
}

// Kinds lists the registered entity kinds, parents first.
func (s *Service) Kinds() []KindInfo {
	var out []KindInfo
	for _, def := range All() {
		vocab, err := s.catalog.Vocabulary(def.Kind)
		if err != nil {
			continue
		}
		out = append(out, KindInfo{
			Kind:     def.Kind,
			Role:     def.Role.String(),
			Label:    def.Label,
			Headers:  vocab.Headers(),
			Required: def.Rules.Required,
		})
	}
	return out
}

// IngestOptions controls one ingestion call.
type IngestOptions struct {
	Kind EntityKind
	// ValidateOnly runs the pipeline up to validation and persists nothing.
	ValidateOnly bool
	// SkipErrorRows persists the valid rows of a batch that has errors.
	SkipErrorRows bool
	// Sheet selects a worksheet by name; empty picks one by kind keywords.
	Sheet string
	// FileName is used for logging only.
	FileName string
}

// IngestResult reports the outcome of one ingestion call.
type IngestResult struct {
	IngestionID    string            `json:"ingestion_id"`
	Kind           EntityKind        `json:"kind"`
	Sheet          string            `json:"sheet"`
	HeaderRow      int               `json:"header_row"`
	Success        bool              `json:"success"`
	Message        string            `json:"message,omitempty"`
	TotalRows      int               `json:"total_rows"`
	ProcessedRows  int               `json:"processed_rows"`
	UpdatedRows    int               `json:"updated_rows"`
	SkippedRows    int               `json:"skipped_rows"`
	CreatedParents int               `json:"created_parents"`
	Errors         []ValidationIssue `json:"errors"`
	Warnings       []ValidationIssue `json:"warnings"`
	Unmapped       []UnmappedHeader  `json:"unmapped_headers,omitempty"`
	PreviewData    []map[string]any  `json:"preview_data,omitempty"`
	DurationMs     int64             `json:"duration_ms"`
}

// Ingest reads data as a workbook of opts.Kind records and, unless
// ValidateOnly is set, reconciles the valid records into the store in one
// transaction.
//
// Diagnostics about the file are returned in the result. An error is
// returned only when the call could not run (unknown kind, unreadable
// file, busy) or when the write failed; in the latter case the store is
// unchanged.
func (s *Service) Ingest(ctx context.Context, data []byte, opts IngestOptions) (*IngestResult, error) {
	start := time.Now()

	def, ok := Lookup(opts.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
	}
	vocab, err := s.catalog.Vocabulary(def.Kind)
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxFileSize > 0 && int64(len(data)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(data), s.cfg.MaxFileSize)
	}
	if !opts.ValidateOnly && s.store == nil {
		return nil, ErrNoStore
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	readCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	id := uuid.NewString()
	log := logging.WithFields(ctx, "ingestion_id", id, "kind", def.Kind, "file", opts.FileName)
	ctx = logging.WithLogger(ctx, log)
	log.Info("ingestion started", "bytes", len(data), "validate_only", opts.ValidateOnly)

	wb, err := OpenWorkbook(data)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	sheet, err := wb.SelectSheet(opts.Sheet, vocab.SheetKeywords)
	if err != nil {
		return nil, err
	}

	res := &IngestResult{
		IngestionID: id,
		Kind:        def.Kind,
		Sheet:       sheet.Name(),
		Errors:      []ValidationIssue{},
		Warnings:    []ValidationIssue{},
	}
	finish := func() *IngestResult {
		res.DurationMs = time.Since(start).Milliseconds()
		log.Info("ingestion completed",
			"success", res.Success,
			"total_rows", res.TotalRows,
			"processed_rows", res.ProcessedRows,
			"updated_rows", res.UpdatedRows,
			"skipped_rows", res.SkippedRows,
			"created_parents", res.CreatedParents,
			"errors", len(res.Errors),
			"warnings", len(res.Warnings),
			"duration_ms", res.DurationMs,
		)
		return res
	}

	header, err := s.locator.Locate(sheet)
	if err != nil {
		return nil, err
	}
	log.Info("header located", "sheet", sheet.Name(), "row", header.Line(), "score", header.Score, "method", header.Method)

	if !header.Found() {
		res.Success = true
		res.Message = "the sheet is empty"
		res.Warnings = append(res.Warnings, ValidationIssue{
			Message:  fmt.Sprintf("%v: no content in the first %d rows", ErrNoHeaderRow, s.cfg.Locator.ScanRows),
			Severity: SeverityWarning,
			Code:     CodeNoHeader,
		})
		return finish(), nil
	}
	res.HeaderRow = header.Line()
	if header.Method != HeaderByKeyword {
		res.Warnings = append(res.Warnings, ValidationIssue{
			Row:      header.Line(),
			Message:  fmt.Sprintf("%v by keyword; header row guessed by %s heuristic", ErrNoHeaderRow, header.Method),
			Severity: SeverityWarning,
			Code:     CodeNoHeader,
		})
	}

	mapping := MapHeaders(header.Cells, vocab)
	res.Unmapped = mapping.Unmapped
	res.Warnings = append(res.Warnings, mappingIssues(header, mapping)...)
	if mapping.MappedCount() == 0 {
		res.Message = "no column matches a known field"
		res.Errors = append(res.Errors, ValidationIssue{
			Row:      header.Line(),
			Message:  res.Message,
			Severity: SeverityError,
			Code:     CodeNoMappedColumns,
		})
		return finish(), nil
	}

	records, st, err := NewExtractor(sheet, def, header, mapping, s.cfg.Extract).ExtractAll(readCtx)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", sheet.Name(), err)
	}
	res.TotalRows = len(records)
	res.Warnings = append(res.Warnings, extractionIssues(st, s.cfg.Extract)...)

	issues := append(st.Issues, NewValidator(def, vocab, mapping, s.cfg.Validation).Validate(records)...)
	errs, warns := SplitIssues(issues)
	res.Errors = append(res.Errors, errs...)
	res.Warnings = append(res.Warnings, warns...)

	bad := ErrorRows(issues)
	eligible := make([]Record, 0, len(records))
	for _, rec := range records {
		if !bad[rec.Line()] {
			eligible = append(eligible, rec)
		}
	}

	if opts.ValidateOnly {
		res.Success = len(res.Errors) == 0
		res.ProcessedRows = len(eligible)
		res.SkippedRows = len(records) - len(eligible)
		fields := vocab.FieldNames()
		for _, rec := range eligible[:min(len(eligible), s.cfg.PreviewRows)] {
			res.PreviewData = append(res.PreviewData, RecordValues(rec, fields))
		}
		return finish(), nil
	}

	if len(res.Errors) > 0 && !opts.SkipErrorRows {
		res.Message = fmt.Sprintf("%d rows have errors; nothing was imported", len(bad))
		res.SkippedRows = len(records)
		return finish(), nil
	}

	counts, err := s.persist(ctx, def, eligible)
	if err != nil {
		log.Error("ingestion failed", "error", err, "retryable", IsRetryable(err))
		return nil, err
	}
	res.Success = true
	res.ProcessedRows = counts.Created
	res.UpdatedRows = counts.Updated
	res.CreatedParents = counts.ParentsCreated
	res.SkippedRows = len(records) - len(eligible)
	return finish(), nil
}

// persist runs the kind's reconciliation inside one transaction. The write
// phase ignores cancellation of ctx so a batch either commits or rolls back.
func (s *Service) persist(ctx context.Context, def EntityDef, records []Record) (WriteCounts, error) {
	if len(records) == 0 {
		return WriteCounts{}, nil
	}
	ctx = context.WithoutCancel(ctx)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return WriteCounts{}, storeErr("begin transaction", err)
	}

	counts, err := def.Persist(ctx, s.reconciler, tx, records)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return WriteCounts{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return WriteCounts{}, storeErr("commit", err)
	}
	return counts, nil
}

// Preview analyzes data without persisting anything. sheet selects a
// worksheet by name; empty uses the first sheet.
func (s *Service) Preview(ctx context.Context, data []byte, sheet string) (*PreviewResult, error) {
	if s.cfg.MaxFileSize > 0 && int64(len(data)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(data), s.cfg.MaxFileSize)
	}
	wb, err := OpenWorkbook(data)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	ws, err := wb.SelectSheet(sheet, nil)
	if err != nil {
		return nil, err
	}
	res, err := previewSheet(s.catalog, s.locator, ws, wb.SheetNames())
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("preview analyzed",
		"sheet", res.Sheet,
		"detected_kind", res.DetectedKind,
		"header_row", res.HeaderRow,
		"quality", res.QualityScore,
	)
	return res, nil
}

// GenerateTemplate returns an xlsx template for kind.
func (s *Service) GenerateTemplate(kind EntityKind, includeSample bool) ([]byte, error) {
	def, ok := Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	vocab, err := s.catalog.Vocabulary(kind)
	if err != nil {
		return nil, err
	}
	return GenerateTemplate(def, vocab, includeSample)
}

// GenerateCombinedTemplate returns one xlsx workbook holding a template
// sheet for every registered kind, parents first.
func (s *Service) GenerateCombinedTemplate(includeSample bool) ([]byte, error) {
	return GenerateCombinedTemplate(All(), s.catalog, includeSample)
}

func mappingIssues(header HeaderCandidate, m *FieldMapping) []ValidationIssue {
	var out []ValidationIssue
	for _, u := range m.Unmapped {
		out = append(out, ValidationIssue{
			Row:      header.Line(),
			Column:   u.Header,
			Message:  "column ignored: " + u.Reason,
			Severity: SeverityWarning,
			Code:     CodeUnmappedColumn,
		})
	}
	if m.Fuzzy && m.MappedCount() > 0 {
		out = append(out, ValidationIssue{
			Row:      header.Line(),
			Message:  fmt.Sprintf("%d columns matched by keyword only", m.MappedCount()),
			Severity: SeverityWarning,
			Code:     CodeFuzzyMapping,
		})
	}
	return out
}

func extractionIssues(st *ExtractionState, cfg ExtractConfig) []ValidationIssue {
	var out []ValidationIssue
	if st.StopReason == StopMaxRows {
		out = append(out, ValidationIssue{
			Row:      st.NextRow,
			Message:  fmt.Sprintf("row limit of %d reached; later rows were not read", cfg.MaxRows),
			Severity: SeverityWarning,
			Code:     CodeRowLimit,
		})
	}
	if st.Narrowed {
		out = append(out, ValidationIssue{
			Row:      st.UpperBound,
			Message:  "mostly empty tail detected; rows below were not read",
			Severity: SeverityWarning,
			Code:     CodeRegionNarrowed,
		})
	}
	return out
}
