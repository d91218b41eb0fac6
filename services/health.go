package services

import (
	"fmt"
	"sort"

	"casefile_billing_go/models"

	"gorm.io/gorm"
)

// SchemaDiscrepancy describes a table whose columns differ from the
// expected schema
type SchemaDiscrepancy struct {
	Table   string   `json:"table"`
	Issue   string   `json:"issue"` // missing_columns or extra_columns
	Columns []string `json:"columns"`
}

// HealthReport summarizes the state of the case file database
type HealthReport struct {
	CanConnect    bool                `json:"can_connect"`
	Tables        []string            `json:"tables"`
	SchemaExists  bool                `json:"schema_exists"`
	SchemaValid   bool                `json:"schema_valid"`
	MissingTables []string            `json:"missing_tables,omitempty"`
	Discrepancies []SchemaDiscrepancy `json:"discrepancies"`
	RowCounts     map[string]int64    `json:"row_counts,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// Healthy reports whether the schema is present and matches
func (h *HealthReport) Healthy() bool {
	return h.CanConnect && h.SchemaExists && h.SchemaValid
}

// schemaTables lists the expected tables in dependency order
var schemaTables = []string{"clients", "case_files", "case_file_entries", "billing_entries"}

// CheckHealth inspects the database schema without changing it
func CheckHealth(db *gorm.DB) *HealthReport {
	report := &HealthReport{Tables: []string{}, Discrepancies: []SchemaDiscrepancy{}}

	sqlDB, err := db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		report.Error = fmt.Sprintf("failed to connect: %v", err)
		return report
	}
	report.CanConnect = true

	var tables []string
	if err := db.Raw("SELECT name FROM sqlite_master WHERE type = 'table' AND name <> 'sqlite_sequence' ORDER BY name").Scan(&tables).Error; err != nil {
		report.Error = fmt.Sprintf("failed to list tables: %v", err)
		return report
	}
	report.Tables = append(report.Tables, tables...)

	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[t] = true
	}
	for _, t := range schemaTables {
		if !present[t] {
			report.MissingTables = append(report.MissingTables, t)
		}
	}
	report.SchemaExists = len(report.MissingTables) == 0
	if !report.SchemaExists {
		return report
	}

	report.SchemaValid = true
	report.RowCounts = make(map[string]int64, len(schemaTables))
	for _, table := range schemaTables {
		var columns []string
		if err := db.Raw("SELECT name FROM pragma_table_info(?)", table).Scan(&columns).Error; err != nil {
			report.Error = fmt.Sprintf("failed to read columns of %s: %v", table, err)
			report.SchemaValid = false
			return report
		}

		missing, extra := diffColumns(models.ExpectedColumns[table], columns)
		if len(missing) > 0 {
			report.SchemaValid = false
			report.Discrepancies = append(report.Discrepancies, SchemaDiscrepancy{Table: table, Issue: "missing_columns", Columns: missing})
		}
		if len(extra) > 0 {
			report.SchemaValid = false
			report.Discrepancies = append(report.Discrepancies, SchemaDiscrepancy{Table: table, Issue: "extra_columns", Columns: extra})
		}

		var count int64
		if err := db.Table(table).Count(&count).Error; err == nil {
			report.RowCounts[table] = count
		}
	}
	return report
}

func diffColumns(expected, actual []string) (missing, extra []string) {
	want := make(map[string]bool, len(expected))
	for _, c := range expected {
		want[c] = true
	}
	have := make(map[string]bool, len(actual))
	for _, c := range actual {
		have[c] = true
		if !want[c] {
			extra = append(extra, c)
		}
	}
	for _, c := range expected {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}
