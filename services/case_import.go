package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"path/filepath"
	"strings"
	"time"

	"casefile_billing_go/config"
	"casefile_billing_go/models"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// ImportOptions selects the case file a batch is imported into. Either
// CaseID names an existing case, or ClientName (and optionally CaseName)
// find or create the client and open a new case for it.
type ImportOptions struct {
	CaseID     int64
	ClientName string
	CaseName   string
	DryRun     bool
}

// ImportResult contains the summary of the import process
type ImportResult struct {
	BatchID       string        `json:"batch_id"`
	Source        string        `json:"source"`
	CaseID        int64         `json:"case_id"`
	ClientCreated bool          `json:"client_created"`
	CaseCreated   bool          `json:"case_created"`
	RowsRead      int           `json:"rows_read"`
	EntriesAdded  int           `json:"entries_added"`
	BillingAdded  int           `json:"billing_entries_added"`
	Skipped       int           `json:"rows_skipped"`
	DryRun        bool          `json:"dry_run"`
	Findings      []Finding     `json:"findings"`
	Duration      time.Duration `json:"duration_ns"`
}

// Importer loads a tabular source into one case file as a single batch
type Importer struct {
	Normalizer *Normalizer
	Billing    *Deriver
}

// NewImporter builds an importer from configuration
func NewImporter(cfg *config.Config) (*Importer, error) {
	normalizer, err := NewNormalizer(cfg)
	if err != nil {
		return nil, err
	}
	return &Importer{Normalizer: normalizer, Billing: normalizer.Billing}, nil
}

// Import normalizes every row of source, stores the entries and their
// billing entries and validates the case, all in one transaction. Any
// integrity, constraint or date error, a read error or cancellation of ctx
// rolls the whole batch back. Validation findings never abort.
func (im *Importer) Import(ctx context.Context, dbConn *gorm.DB, source RowSource, opts ImportOptions) (*ImportResult, error) {
	started := time.Now()
	result := &ImportResult{
		BatchID:  uuid.New().String(),
		Source:   source.Name(),
		DryRun:   opts.DryRun,
		Findings: []Finding{},
	}

	tx := dbConn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin import: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	fail := func(err error) (*ImportResult, error) {
		tx.Rollback()
		log.Printf("[IMPORT] batch %s from %s rolled back: %v", result.BatchID, result.Source, err)
		return nil, err
	}

	store := NewStore(tx)
	caseFile, err := im.resolveCase(store, opts, result)
	if err != nil {
		return fail(err)
	}
	result.CaseID = caseFile.CaseID

	counted := &countingSource{RowSource: source}
	for rec, err := range im.Normalizer.Records(counted, caseFile.CaseID) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(fmt.Errorf("import cancelled: %w", ctxErr))
		}
		if err != nil {
			return fail(err)
		}

		entry := rec.Entry
		if err := store.CreateEntry(&entry); err != nil {
			return fail(&RowError{Line: rec.Line, Err: err})
		}
		result.EntriesAdded++

		billing, err := im.Billing.DeriveAndStore(store, &entry)
		if err != nil {
			return fail(&RowError{Line: rec.Line, Err: err})
		}
		if billing != nil {
			result.BillingAdded++
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fail(fmt.Errorf("import cancelled: %w", ctxErr))
	}
	result.RowsRead = counted.rows
	result.Skipped = counted.rows - result.EntriesAdded

	// The batch may only land in a case that belongs to a client
	resolved, err := store.GetCaseFile(caseFile.CaseID)
	if err != nil {
		return fail(err)
	}
	if !resolved.HasClient() {
		return fail(&ConstraintError{Table: "case_files", Field: "client_id", Reason: "case file has no client"})
	}

	report, err := NewValidator(tx, im.Billing).Validate(&caseFile.CaseID)
	if err != nil {
		return fail(err)
	}
	result.Findings = report.Findings

	if opts.DryRun {
		tx.Rollback()
	} else if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}

	result.Duration = time.Since(started)
	mode := "committed"
	if opts.DryRun {
		mode = "dry run"
	}
	log.Printf("[IMPORT] batch %s %s: %d entries, %d billing entries, %d skipped from %s into case %d in %s",
		result.BatchID, mode, result.EntriesAdded, result.BillingAdded, result.Skipped,
		result.Source, result.CaseID, result.Duration.Round(time.Millisecond))
	if !report.Passed() {
		log.Printf("[WARNING] batch %s: %s", result.BatchID, report.Summary())
	}
	return result, nil
}

func (im *Importer) resolveCase(store *Store, opts ImportOptions, result *ImportResult) (*models.CaseFile, error) {
	clientName := strings.TrimSpace(opts.ClientName)

	if opts.CaseID != 0 {
		caseFile, err := store.GetCaseFile(opts.CaseID)
		if errors.Is(err, ErrNotFound) {
			return nil, &IntegrityError{Table: "case_file_entries", Column: "case_id", Key: opts.CaseID}
		}
		if err != nil {
			return nil, err
		}
		if clientName == "" {
			return caseFile, nil
		}
		if caseFile.Client != nil {
			if !strings.EqualFold(caseFile.Client.ClientName, clientName) {
				return nil, &ConstraintError{
					Table:  "case_files",
					Field:  "client_id",
					Reason: fmt.Sprintf("case file %d belongs to %q", caseFile.CaseID, caseFile.Client.ClientName),
				}
			}
			return caseFile, nil
		}
		client, created, err := store.FindOrCreateClient(clientName, nil)
		if err != nil {
			return nil, err
		}
		result.ClientCreated = created
		if err := store.AssignClient(caseFile.CaseID, client.ClientID); err != nil {
			return nil, err
		}
		caseFile.ClientID = &client.ClientID
		return caseFile, nil
	}

	if clientName == "" {
		return nil, &ConstraintError{Table: "case_files", Field: "client_name", Reason: "import needs a case id or a client name"}
	}

	client, created, err := store.FindOrCreateClient(clientName, nil)
	if err != nil {
		return nil, err
	}
	result.ClientCreated = created

	caseName := strings.TrimSpace(opts.CaseName)
	if caseName == "" {
		caseName = strings.TrimSuffix(result.Source, filepath.Ext(result.Source))
	}
	caseFile := &models.CaseFile{ClientID: &client.ClientID, CaseName: caseName, CaseStatus: models.CaseStatusOpen}
	if err := store.CreateCaseFile(caseFile); err != nil {
		return nil, err
	}
	result.CaseCreated = true
	return caseFile, nil
}

// countingSource counts the rows its source yields
type countingSource struct {
	RowSource
	rows int
}

func (c *countingSource) Rows() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for row, err := range c.RowSource.Rows() {
			if err == nil {
				c.rows++
			}
			if !yield(row, err) {
				return
			}
		}
	}
}

// templateHeaders are the column headers of the import template, in order
var templateHeaders = []string{
	"Type", "Date", "Title", "From", "To", "CC", "Content", "Attachments",
	"Synopsis", "Comments", "Billing Start", "Billing Stop", "Billing Hrs",
}

// GenerateImportTemplate builds the spreadsheet operators fill in for an
// import. The first sheet holds the entries; the second lists the rules.
func GenerateImportTemplate() (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheetEntries = "Entries"
	const sheetInstructions = "Instructions"

	if err := f.SetSheetName("Sheet1", sheetEntries); err != nil {
		return nil, fmt.Errorf("failed to name entries sheet: %w", err)
	}
	for i, header := range templateHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetEntries, cell, header)
	}

	// Example rows
	example := [][]interface{}{
		{models.EntryTypeEmail, "2024-01-05", "Re: settlement", "A. Smith", "Client Co", "", "Draft terms attached", "terms.pdf", "", "", "", "", ""},
		{models.EntryTypeBilling, "2024-01-05", "Billing: Court Appearance", "", "", "", "Hearing on motion", "", "", "", "09:00", "10:30", ""},
	}
	for i, row := range example {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := row
		f.SetSheetRow(sheetEntries, cell, &values)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	lastHeader, _ := excelize.CoordinatesToCellName(len(templateHeaders), 1)
	f.SetCellStyle(sheetEntries, "A1", lastHeader, headerStyle)
	f.SetColWidth(sheetEntries, "A", "M", 18)

	// --- Instructions Sheet ---
	f.NewSheet(sheetInstructions)
	lines := []string{
		"Case file entry import",
		"",
		"- One row per event. Blank rows are skipped.",
		"- Dates: YYYY-MM-DD or YYYY-MM-DD HH:MM. Slash dates such as 03/04/2024 are rejected unless DATE_ORDER is set.",
		"- Billing Start and Billing Stop may be a time of day; they are placed on the row's Date.",
		"- Billing Hrs may be left blank; it is computed from the billing window.",
		"- Attachments: separate references with ; or ,",
		"- Columns not listed here are kept in Comments.",
		"",
		"Entry types",
	}
	for _, t := range models.EntryTypes {
		lines = append(lines, "- "+t)
	}
	for i, line := range lines {
		f.SetCellValue(sheetInstructions, fmt.Sprintf("A%d", i+1), line)
	}
	titleStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	f.SetCellStyle(sheetInstructions, "A1", "A1", titleStyle)
	f.SetColWidth(sheetInstructions, "A", "A", 100)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write excel buffer: %w", err)
	}
	return buf, nil
}
