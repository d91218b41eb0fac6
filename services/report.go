package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// Export formats for billing reports
const (
	ReportFormatJSON = "json"
	ReportFormatCSV  = "csv"
	ReportFormatXLSX = "xlsx"
)

// BillingReportLine is one billing entry as it appears on a report
type BillingReportLine struct {
	BillingID   int64      `gorm:"column:billing_id" json:"billing_id"`
	EntryID     *int64     `gorm:"column:entry_id" json:"entry_id,omitempty"`
	EntryDate   *time.Time `gorm:"column:entry_date" json:"entry_date,omitempty"`
	Category    string     `gorm:"column:billing_category" json:"category"`
	Start       *time.Time `gorm:"column:billing_start" json:"start,omitempty"`
	Stop        *time.Time `gorm:"column:billing_stop" json:"stop,omitempty"`
	Hours       float64    `gorm:"column:billing_hours" json:"hours"`
	Description string     `gorm:"column:billing_description" json:"description"`
}

// Date returns the date the line is reported under: the source entry's
// date, or the start of the billing window for manual lines
func (l *BillingReportLine) Date() *time.Time {
	if l.EntryDate != nil {
		return l.EntryDate
	}
	return l.Start
}

// BillingReport holds the billing data of one case file
type BillingReport struct {
	CaseID      int64               `json:"case_id"`
	CaseName    string              `json:"case_name"`
	CaseStatus  string              `json:"case_status"`
	ClientID    *int64              `json:"client_id,omitempty"`
	ClientName  string              `json:"client_name"`
	Lines       []BillingReportLine `json:"lines"`
	TotalHours  float64             `json:"total_hours"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// BuildBillingReport collects the billing entries of a case file, ordered
// by date, with their total
func BuildBillingReport(db *gorm.DB, caseID int64) (*BillingReport, error) {
	caseFile, err := NewStore(db).GetCaseFile(caseID)
	if err != nil {
		return nil, err
	}

	report := &BillingReport{
		CaseID:      caseFile.CaseID,
		CaseName:    caseFile.CaseName,
		CaseStatus:  caseFile.CaseStatus,
		ClientID:    caseFile.ClientID,
		Lines:       []BillingReportLine{},
		GeneratedAt: time.Now().UTC(),
	}
	if caseFile.Client != nil {
		report.ClientName = caseFile.Client.ClientName
	}

	err = db.Table("billing_entries AS b").
		Select("b.billing_id, b.entry_id, e.date AS entry_date, b.billing_category, b.billing_start, b.billing_stop, b.billing_hours, b.billing_description").
		Joins("LEFT JOIN case_file_entries e ON e.entry_id = b.entry_id").
		Where("b.case_id = ?", caseID).
		Order("COALESCE(e.date, b.billing_start), b.billing_id").
		Scan(&report.Lines).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load billing entries: %w", err)
	}

	hours := make([]decimal.Decimal, 0, len(report.Lines))
	for _, line := range report.Lines {
		hours = append(hours, decimal.NewFromFloat(line.Hours))
	}
	if len(hours) > 0 {
		total := decimal.Sum(hours[0], hours[1:]...)
		report.TotalHours = total.Round(2).InexactFloat64()
	}
	return report, nil
}

var reportHeaders = []string{"Date", "Category", "Start", "Stop", "Hours", "Description", "Billing ID", "Entry ID"}

// WriteBillingReportCSV writes the report as CSV with a closing total row
func WriteBillingReportCSV(w io.Writer, r *BillingReport) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(reportHeaders); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, line := range r.Lines {
		entryID := ""
		if line.EntryID != nil {
			entryID = strconv.FormatInt(*line.EntryID, 10)
		}
		record := []string{
			formatReportDate(line.Date()),
			line.Category,
			formatReportTime(line.Start),
			formatReportTime(line.Stop),
			strconv.FormatFloat(line.Hours, 'f', 2, 64),
			line.Description,
			strconv.FormatInt(line.BillingID, 10),
			entryID,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	if err := writer.Write([]string{"Total", "", "", "", strconv.FormatFloat(r.TotalHours, 'f', 2, 64), "", "", ""}); err != nil {
		return fmt.Errorf("failed to write csv total: %w", err)
	}

	writer.Flush()
	return writer.Error()
}

// BillingReportXLSX renders the report as a workbook with one sheet
func BillingReportXLSX(r *BillingReport) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Billing"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to name billing sheet: %w", err)
	}

	f.SetCellValue(sheet, "A1", r.CaseName)
	f.SetCellValue(sheet, "A2", "Client: "+r.ClientName)
	f.SetCellValue(sheet, "A3", "Generated: "+r.GeneratedAt.Format("2006-01-02 15:04 MST"))

	const headerRow = 5
	for i, header := range reportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		f.SetCellValue(sheet, cell, header)
	}

	row := headerRow + 1
	for _, line := range r.Lines {
		var entryID interface{}
		if line.EntryID != nil {
			entryID = *line.EntryID
		}
		values := []interface{}{
			formatReportDate(line.Date()),
			line.Category,
			formatReportTime(line.Start),
			formatReportTime(line.Stop),
			line.Hours,
			line.Description,
			line.BillingID,
			entryID,
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		f.SetSheetRow(sheet, cell, &values)
		row++
	}
	f.SetCellValue(sheet, fmt.Sprintf("A%d", row), "Total")
	f.SetCellValue(sheet, fmt.Sprintf("E%d", row), r.TotalHours)

	titleStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	f.SetCellStyle(sheet, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", headerRow), fmt.Sprintf("H%d", headerRow), headerStyle)

	hoursStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 2})
	f.SetCellStyle(sheet, fmt.Sprintf("E%d", headerRow+1), fmt.Sprintf("E%d", row), hoursStyle)

	totalStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, NumFmt: 2})
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("E%d", row), totalStyle)

	f.SetColWidth(sheet, "A", "E", 16)
	f.SetColWidth(sheet, "F", "F", 60)
	f.SetColWidth(sheet, "G", "H", 12)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write excel buffer: %w", err)
	}
	return buf, nil
}

// ExportBillingReport renders the report in the given format and returns
// the bytes with their content type
func ExportBillingReport(r *BillingReport, format string) ([]byte, string, error) {
	switch strings.ToLower(format) {
	case ReportFormatJSON, "":
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode report: %w", err)
		}
		return data, contentTypeFor(".json"), nil
	case ReportFormatCSV:
		var buf bytes.Buffer
		if err := WriteBillingReportCSV(&buf, r); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), contentTypeFor(".csv"), nil
	case ReportFormatXLSX:
		buf, err := BillingReportXLSX(r)
		if err != nil {
			return nil, "", err
		}
		return buf.Bytes(), contentTypeFor(".xlsx"), nil
	}
	return nil, "", &ConstraintError{Table: "billing_entries", Field: "format", Reason: fmt.Sprintf("unsupported report format %q", format)}
}

// PublishReport exports the report and uploads it to storage under the
// case's report prefix
func PublishReport(ctx context.Context, storage StorageProvider, r *BillingReport, format string) (*StorageResult, error) {
	if format == "" {
		format = ReportFormatJSON
	}
	data, contentType, err := ExportBillingReport(r, format)
	if err != nil {
		return nil, err
	}

	key := GenerateReportKey(r.CaseID, strings.ToLower(format))
	result, err := storage.UploadReader(ctx, bytes.NewReader(data), key, contentType, int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to upload report: %w", err)
	}
	log.Printf("[REPORT] case %d billing report (%s, %d lines, %.2fh) stored at %s",
		r.CaseID, format, len(r.Lines), r.TotalHours, result.Key)
	return result, nil
}

func formatReportDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func formatReportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}
