package services

import (
	"fmt"
	"log"
	"strings"
	"time"

	"casefile_billing_go/models"

	"gorm.io/gorm"
)

// Finding severities
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Check names reported in findings
const (
	CheckOrphanEntry       = "orphan_entry"
	CheckOrphanBilling     = "orphan_billing"
	CheckInvertedWindow    = "inverted_window"
	CheckCaseWithoutClient = "case_without_client"
	CheckDuplicateBilling  = "duplicate_billing"
	CheckCrossCaseBilling  = "cross_case_billing"
	CheckHoursMismatch     = "hours_mismatch"
	CheckUnknownEntryType  = "unknown_entry_type"
	CheckUnknownCategory   = "unknown_billing_category"
)

// Finding is a single problem found by the validator
type Finding struct {
	Check    string  `json:"check"`
	Severity string  `json:"severity"`
	Table    string  `json:"table"`
	Keys     []int64 `json:"keys"`
	Message  string  `json:"message"`
}

// Report is the result of a validation run
type Report struct {
	CaseID    *int64    `json:"case_id,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
	Findings  []Finding `json:"findings"`
}

// Passed reports whether the run found no errors. Warnings do not fail it.
func (r *Report) Passed() bool {
	return len(r.Errors()) == 0
}

// Errors returns the error findings
func (r *Report) Errors() []Finding {
	return r.filter(SeverityError)
}

// Warnings returns the warning findings
func (r *Report) Warnings() []Finding {
	return r.filter(SeverityWarning)
}

// Summary describes the report in one line
func (r *Report) Summary() string {
	status := "passed"
	if !r.Passed() {
		status = "failed"
	}
	return fmt.Sprintf("validation %s: %d errors, %d warnings", status, len(r.Errors()), len(r.Warnings()))
}

func (r *Report) filter(severity string) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == severity {
			out = append(out, f)
		}
	}
	return out
}

func (r *Report) add(check, severity, table string, message string, keys ...int64) {
	r.Findings = append(r.Findings, Finding{
		Check:    check,
		Severity: severity,
		Table:    table,
		Keys:     keys,
		Message:  message,
	})
}

// Validator checks the store for integrity problems. It only reads.
type Validator struct {
	db      *gorm.DB
	billing *Deriver
}

// NewValidator creates a validator. deriver supplies the hours tolerance
// and the known entry types and billing categories.
func NewValidator(db *gorm.DB, deriver *Deriver) *Validator {
	if deriver == nil {
		deriver = DefaultDeriver()
	}
	return &Validator{db: db, billing: deriver}
}

// Validate runs every check, scoped to one case file when caseID is set
func (v *Validator) Validate(caseID *int64) (*Report, error) {
	report := &Report{CaseID: caseID, CheckedAt: time.Now().UTC(), Findings: []Finding{}}

	checks := []func(*Report, *int64) error{
		v.checkOrphanEntries,
		v.checkOrphanBilling,
		v.checkInvertedWindows,
		v.checkCasesWithoutClient,
		v.checkDuplicateBilling,
		v.checkCrossCaseBilling,
		v.checkHoursMismatch,
		v.checkEntryTypes,
		v.checkBillingCategories,
	}
	for _, check := range checks {
		if err := check(report, caseID); err != nil {
			return nil, err
		}
	}

	log.Printf("[VALIDATE] %s", report.Summary())
	return report, nil
}

func scoped(query, column string, caseID *int64) (string, []interface{}) {
	if caseID == nil {
		return query, nil
	}
	return query + " AND " + column + " = ?", []interface{}{*caseID}
}

func (v *Validator) keys(query, column string, caseID *int64) ([]int64, error) {
	sql, args := scoped(query, column, caseID)
	var ids []int64
	if err := v.db.Raw(sql+" ORDER BY 1", args...).Scan(&ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (v *Validator) checkOrphanEntries(r *Report, caseID *int64) error {
	ids, err := v.keys(`
		SELECT e.entry_id FROM case_file_entries e
		LEFT JOIN case_files c ON e.case_id = c.case_id
		WHERE c.case_id IS NULL`, "e.case_id", caseID)
	if err != nil {
		return fmt.Errorf("failed to check orphan entries: %w", err)
	}
	for _, id := range ids {
		r.add(CheckOrphanEntry, SeverityError, "case_file_entries",
			fmt.Sprintf("entry %d references a case file that does not exist", id), id)
	}
	return nil
}

func (v *Validator) checkOrphanBilling(r *Report, caseID *int64) error {
	ids, err := v.keys(`
		SELECT b.billing_id FROM billing_entries b
		LEFT JOIN case_files c ON b.case_id = c.case_id
		LEFT JOIN case_file_entries e ON b.entry_id = e.entry_id
		WHERE (c.case_id IS NULL OR (b.entry_id IS NOT NULL AND e.entry_id IS NULL))`, "b.case_id", caseID)
	if err != nil {
		return fmt.Errorf("failed to check orphan billing entries: %w", err)
	}
	for _, id := range ids {
		r.add(CheckOrphanBilling, SeverityError, "billing_entries",
			fmt.Sprintf("billing entry %d references a case file or entry that does not exist", id), id)
	}
	return nil
}

func (v *Validator) checkInvertedWindows(r *Report, caseID *int64) error {
	entries, err := v.windowedEntries(caseID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.HasInvertedWindow() {
			r.add(CheckInvertedWindow, SeverityError, "case_file_entries",
				fmt.Sprintf("entry %d stops billing before it starts", e.EntryID), e.EntryID)
		}
	}

	lines, err := v.windowedBilling(caseID)
	if err != nil {
		return err
	}
	for _, b := range lines {
		if b.HasInvertedWindow() {
			r.add(CheckInvertedWindow, SeverityError, "billing_entries",
				fmt.Sprintf("billing entry %d stops before it starts", b.BillingID), b.BillingID)
		}
	}
	return nil
}

func (v *Validator) checkCasesWithoutClient(r *Report, caseID *int64) error {
	ids, err := v.keys(`
		SELECT cf.case_id FROM case_files cf
		LEFT JOIN clients c ON cf.client_id = c.client_id
		WHERE (cf.client_id IS NULL OR c.client_id IS NULL)`, "cf.case_id", caseID)
	if err != nil {
		return fmt.Errorf("failed to check case clients: %w", err)
	}
	for _, id := range ids {
		r.add(CheckCaseWithoutClient, SeverityError, "case_files",
			fmt.Sprintf("case file %d has no client", id), id)
	}
	return nil
}

func (v *Validator) checkDuplicateBilling(r *Report, caseID *int64) error {
	lines, err := v.billingLines(caseID)
	if err != nil {
		return err
	}

	type billingKey struct {
		caseID, entryID int64
		start, stop     int64
	}
	groups := make(map[billingKey][]int64)
	var order []billingKey
	for _, b := range lines {
		// Manual lines without a window carry nothing to compare
		if b.EntryID == nil && (b.BillingStart == nil || b.BillingStop == nil) {
			continue
		}
		k := billingKey{caseID: b.CaseID, entryID: -1, start: -1, stop: -1}
		if b.EntryID != nil {
			k.entryID = *b.EntryID
		}
		if b.BillingStart != nil {
			k.start = b.BillingStart.UnixNano()
		}
		if b.BillingStop != nil {
			k.stop = b.BillingStop.UnixNano()
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], b.BillingID)
	}

	for _, k := range order {
		ids := groups[k]
		if len(ids) < 2 {
			continue
		}
		r.add(CheckDuplicateBilling, SeverityWarning, "billing_entries",
			fmt.Sprintf("billing entries %v bill the same entry and window", ids), ids...)
	}
	return nil
}

func (v *Validator) checkCrossCaseBilling(r *Report, caseID *int64) error {
	ids, err := v.keys(`
		SELECT b.billing_id FROM billing_entries b
		JOIN case_file_entries e ON b.entry_id = e.entry_id
		WHERE b.case_id <> e.case_id`, "b.case_id", caseID)
	if err != nil {
		return fmt.Errorf("failed to check cross-case billing: %w", err)
	}
	for _, id := range ids {
		r.add(CheckCrossCaseBilling, SeverityError, "billing_entries",
			fmt.Sprintf("billing entry %d bills an entry from another case file", id), id)
	}
	return nil
}

func (v *Validator) checkHoursMismatch(r *Report, caseID *int64) error {
	entries, err := v.windowedEntries(caseID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.BillingHrs == nil || e.HasInvertedWindow() {
			continue
		}
		if !v.billing.Consistent(*e.BillingHrs, *e.BillingStart, *e.BillingStop) {
			r.add(CheckHoursMismatch, SeverityWarning, "case_file_entries",
				fmt.Sprintf("entry %d records %.2f hours for a %.2f hour window", e.EntryID, *e.BillingHrs, e.BillingDuration().Hours()),
				e.EntryID)
		}
	}
	return nil
}

// Blank types and categories are left alone; only unrecognised values warn
func (v *Validator) checkEntryTypes(r *Report, caseID *int64) error {
	q := v.db.Model(&models.CaseFileEntry{}).Select("entry_id", "type").Where("TRIM(COALESCE(type, '')) <> ''")
	if caseID != nil {
		q = q.Where("case_id = ?", *caseID)
	}
	var entries []models.CaseFileEntry
	if err := q.Order("entry_id").Find(&entries).Error; err != nil {
		return fmt.Errorf("failed to check entry types: %w", err)
	}
	for _, e := range entries {
		if !v.billing.KnownType(e.Type) {
			r.add(CheckUnknownEntryType, SeverityWarning, "case_file_entries",
				fmt.Sprintf("entry %d has unknown type %q", e.EntryID, e.Type), e.EntryID)
		}
	}
	return nil
}

func (v *Validator) checkBillingCategories(r *Report, caseID *int64) error {
	lines, err := v.billingLines(caseID)
	if err != nil {
		return err
	}
	for _, b := range lines {
		if strings.TrimSpace(b.BillingCategory) == "" || v.billing.KnownCategory(b.BillingCategory) {
			continue
		}
		r.add(CheckUnknownCategory, SeverityWarning, "billing_entries",
			fmt.Sprintf("billing entry %d has unknown category %q", b.BillingID, b.BillingCategory), b.BillingID)
	}
	return nil
}

func (v *Validator) windowedEntries(caseID *int64) ([]models.CaseFileEntry, error) {
	q := v.db.Model(&models.CaseFileEntry{}).
		Select("entry_id", "case_id", "billing_start", "billing_stop", "billing_hrs").
		Where("billing_start IS NOT NULL AND billing_stop IS NOT NULL")
	if caseID != nil {
		q = q.Where("case_id = ?", *caseID)
	}
	var entries []models.CaseFileEntry
	if err := q.Order("entry_id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load billing windows: %w", err)
	}
	return entries, nil
}

func (v *Validator) windowedBilling(caseID *int64) ([]models.BillingEntry, error) {
	lines, err := v.billingLines(caseID)
	if err != nil {
		return nil, err
	}
	out := lines[:0]
	for _, b := range lines {
		if b.BillingStart != nil && b.BillingStop != nil {
			out = append(out, b)
		}
	}
	return out, nil
}

func (v *Validator) billingLines(caseID *int64) ([]models.BillingEntry, error) {
	q := v.db.Model(&models.BillingEntry{})
	if caseID != nil {
		q = q.Where("case_id = ?", *caseID)
	}
	var lines []models.BillingEntry
	if err := q.Order("billing_id").Find(&lines).Error; err != nil {
		return nil, fmt.Errorf("failed to load billing entries: %w", err)
	}
	return lines, nil
}
