package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"casefile_billing_go/config"
	"casefile_billing_go/models"
	"casefile_billing_go/services"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// setupCLI points the commands at a fresh database file and returns its path
func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "casefiles.db")

	orig := loadConfig
	loadConfig = func() *config.Config {
		cfg := config.Default()
		cfg.DBPath = path
		cfg.UploadDir = filepath.Join(dir, "storage")
		return cfg
	}
	t.Cleanup(func() { loadConfig = orig })
	return path
}

// resetFlags restores every flag to its default; cobra keeps parsed values
// between Execute calls
func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--no-color"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_, database, closeDB, err := environment(false)
	require.NoError(t, err)
	t.Cleanup(closeDB)
	return database
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestInitAndHealth(t *testing.T) {
	path := setupCLI(t)

	_, err := execute(t, "health")
	assert.Error(t, err, "empty database has no schema")

	_, err = execute(t, "init")
	require.NoError(t, err)
	assert.FileExists(t, path)

	out, err := execute(t, "health", "--json")
	require.NoError(t, err)
	var report services.HealthReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Healthy())
	assert.Equal(t, int64(0), report.RowCounts["case_files"])
}

func TestClientAndCaseCommands(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "client", "add", "Client", "Co", "--contact", "office@client.co")
	require.NoError(t, err)

	out, err := execute(t, "client", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Client Co")
	assert.Contains(t, out, "office@client.co")

	_, err = execute(t, "case", "create", "--client", "Client Co", "--name", "Smith matter")
	require.NoError(t, err)
	_, err = execute(t, "case", "create", "--client", "Initech", "--name", "Appeal", "--status", "pending")
	require.NoError(t, err)

	_, err = execute(t, "case", "create", "--name", "Orphan")
	assert.Error(t, err)

	out, err = execute(t, "case", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Smith matter")
	assert.Contains(t, out, "Initech")
	assert.Contains(t, out, "pending")

	database := openTestDB(t)
	var clients int64
	require.NoError(t, database.Model(&models.Client{}).Count(&clients).Error)
	assert.Equal(t, int64(2), clients, "existing client is reused by name")

	_, err = execute(t, "case", "status", "1", "closed")
	require.NoError(t, err)
	cf, err := services.NewStore(database).GetCaseFile(1)
	require.NoError(t, err)
	assert.Equal(t, "closed", cf.CaseStatus)

	_, err = execute(t, "case", "status", "abc", "closed")
	assert.Error(t, err)

	_, err = execute(t, "case", "delete", "2")
	assert.Error(t, err, "delete needs --yes")

	_, err = execute(t, "case", "delete", "2", "--yes")
	require.NoError(t, err)
	_, err = services.NewStore(database).GetCaseFile(2)
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = execute(t, "case", "delete", "2", "--yes")
	assert.True(t, services.IsIntegrityError(err))
}

func TestImportEntriesAndReport(t *testing.T) {
	setupCLI(t)
	_, err := execute(t, "case", "create", "--client", "Client Co", "--name", "Smith matter")
	require.NoError(t, err)

	file := writeFile(t, "log.tsv", strings.Join([]string{
		"Date\tTitle\tFrom\tBilling Start\tBilling Stop",
		"2024-01-05\tKickoff call\tA. Smith\t09:00\t10:30",
		"2024-01-06\tMemo\t\t\t",
	}, "\n")+"\n")

	out, err := execute(t, "import", file, "--case", "1", "--dry-run", "--json")
	require.NoError(t, err)
	var preview services.ImportResult
	require.NoError(t, json.Unmarshal([]byte(out), &preview))
	assert.True(t, preview.DryRun)
	assert.Equal(t, 2, preview.EntriesAdded)

	database := openTestDB(t)
	store := services.NewStore(database)
	entries, err := store.ListEntries(1)
	require.NoError(t, err)
	assert.Empty(t, entries, "dry run stores nothing")

	out, err = execute(t, "import", file, "--case", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Entries added")

	entries, err = store.ListEntries(1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	billing, err := store.ListBillingEntries(1)
	require.NoError(t, err)
	require.Len(t, billing, 1)
	assert.InDelta(t, 1.5, billing[0].BillingHours, 0.0001)

	out, err = execute(t, "entries", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Kickoff call")
	assert.Contains(t, out, "1.50h")

	out, err = execute(t, "report", "1")
	require.NoError(t, err)
	var report services.BillingReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "Client Co", report.ClientName)
	assert.InDelta(t, 1.5, report.TotalHours, 0.0001)

	out, err = execute(t, "report", "1", "--format", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "Total")

	_, err = execute(t, "report", "1", "--format", "xlsx")
	assert.Error(t, err, "xlsx needs --out")

	xlsxPath := filepath.Join(t.TempDir(), "billing.xlsx")
	_, err = execute(t, "report", "1", "--format", "xlsx", "--out", xlsxPath)
	require.NoError(t, err)
	f, err := excelize.OpenFile(xlsxPath)
	require.NoError(t, err)
	defer f.Close()
	title, err := f.GetCellValue("Billing", "A6")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05", title)

	_, err = execute(t, "report", "1", "--format", "pdf")
	assert.True(t, services.IsConstraintError(err))

	_, err = execute(t, "report", "1", "--publish")
	require.NoError(t, err)
}

func TestImportNewCaseForClient(t *testing.T) {
	setupCLI(t)
	file := writeFile(t, "initech.csv", "Date,Title\n2024-02-01,Kickoff\n")

	_, err := execute(t, "import", file, "--client", "Initech", "--name", "Initech 2024")
	require.NoError(t, err)

	database := openTestDB(t)
	cf, err := services.NewStore(database).GetCaseFile(1)
	require.NoError(t, err)
	assert.Equal(t, "Initech 2024", cf.CaseName)
	require.NotNil(t, cf.Client)
	assert.Equal(t, "Initech", cf.Client.ClientName)
}

func TestImportRejectsBatch(t *testing.T) {
	setupCLI(t)
	_, err := execute(t, "case", "create", "--client", "Client Co", "--name", "Smith matter")
	require.NoError(t, err)

	_, err = execute(t, "import", "log.tsv")
	assert.Error(t, err, "needs --case or --client")

	file := writeFile(t, "dates.tsv", "Date\tTitle\n2024-01-05\tFine\n03/04/2024\tAmbiguous\n")
	_, err = execute(t, "import", file, "--case", "1")
	require.Error(t, err)
	assert.True(t, services.IsDateParseError(err))

	entries, err := services.NewStore(openTestDB(t)).ListEntries(1)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = execute(t, "import", writeFile(t, "notes.pdf", "%PDF"), "--case", "1")
	assert.ErrorIs(t, err, services.ErrUnsupportedSource)
}

func TestValidateCommand(t *testing.T) {
	setupCLI(t)
	_, err := execute(t, "case", "create", "--client", "Client Co", "--name", "Smith matter")
	require.NoError(t, err)

	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "validation passed")

	// An inverted window written around the store
	database := openTestDB(t)
	start := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	stop := start.Add(-time.Hour)
	require.NoError(t, database.Create(&models.CaseFileEntry{
		CaseID: 1, Title: "Backwards", BillingStart: &start, BillingStop: &stop,
	}).Error)

	out, err = execute(t, "validate", "--json")
	assert.ErrorIs(t, err, errValidationFailed)
	var report services.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Passed())

	_, err = execute(t, "validate", "--case", "1", "--notify")
	assert.ErrorIs(t, err, errValidationFailed)

	out, err = execute(t, "schedule", "--once")
	assert.ErrorIs(t, err, errValidationFailed)
	assert.Contains(t, out, "validation failed")
}

func TestParseCaseID(t *testing.T) {
	id, err := parseCaseID("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	for _, bad := range []string{"", "0", "-3", "x"} {
		_, err := parseCaseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestArchiveCommand(t *testing.T) {
	setupCLI(t)
	_, err := execute(t, "case", "create", "--client", "Client Co", "--name", "Smith matter")
	require.NoError(t, err)
	file := writeFile(t, "log.tsv", "Date\tTitle\tBilling Start\tBilling Stop\n2024-01-05\tKickoff call\t09:00\t10:30\n")
	_, err = execute(t, "import", file, "--case", "1")
	require.NoError(t, err)

	out, err := execute(t, "archive", "1")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))

	_, err = execute(t, "report", "1", "--format", "csv", "--publish")
	require.NoError(t, err)

	out, err = execute(t, "archive", "1")
	require.NoError(t, err)
	name := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(name, "reports/"), name)
	assert.True(t, strings.HasSuffix(name, ".csv"), name)

	out, err = execute(t, "archive", "1", name)
	require.NoError(t, err)
	assert.Contains(t, out, "Total")

	saved := filepath.Join(t.TempDir(), "billing.csv")
	_, err = execute(t, "archive", "1", name, "--out", saved)
	require.NoError(t, err)
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Total")

	_, err = execute(t, "archive", "1", "../2/reports/x.csv")
	assert.True(t, services.IsConstraintError(err))
	_, err = execute(t, "archive", "1", "reports/missing.csv")
	assert.ErrorIs(t, err, services.ErrNotFound)
	_, err = execute(t, "archive", "9")
	assert.Error(t, err)

	_, err = execute(t, "case", "delete", "1", "--yes")
	require.NoError(t, err)
	objects, err := services.ListCaseArchive(context.Background(), services.NewStorage(loadConfig()), 1)
	require.NoError(t, err)
	assert.Empty(t, objects, "delete purges the case archive")
}
