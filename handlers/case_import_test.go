package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"casefile_billing_go/models"
	"casefile_billing_go/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const emailLog = "From\tTo\tDate\tBillingStart\tBillingStop\nA. Smith\tClient Co\t2024-01-05\t09:00\t10:30\n"

func TestGetImportTemplateHandler(t *testing.T) {
	_, e := setupTestAPI(t)

	rec := doRequest(e, http.MethodGet, "/api/import-template", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "case_file_import_template.xlsx")
	assert.NotZero(t, rec.Body.Len())
}

func TestImportEntriesHandler(t *testing.T) {
	api, e := setupTestAPI(t)
	cf := seedCaseFile(t, api, "Client Co", "Smith matter")
	path := fmt.Sprintf("/api/case-files/%d/import", cf.CaseID)

	t.Run("Committed batch is archived", func(t *testing.T) {
		rec := uploadFile(t, e, path, "log.tsv", []byte(emailLog), nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp struct {
			BatchID      string `json:"batch_id"`
			EntriesAdded int    `json:"entries_added"`
			BillingAdded int    `json:"billing_entries_added"`
			ArchiveKey   string `json:"archive_key"`
		}
		decodeJSON(t, rec, &resp)
		assert.Equal(t, 1, resp.EntriesAdded)
		assert.Equal(t, 1, resp.BillingAdded)
		assert.Equal(t, resp.BatchID, rec.Header().Get("X-Import-Batch"))
		assert.True(t, strings.HasPrefix(resp.ArchiveKey, fmt.Sprintf("cases/%d/imports/", cf.CaseID)))

		archived, err := os.ReadFile(filepath.Join(api.Config.UploadDir, resp.ArchiveKey))
		require.NoError(t, err)
		assert.Equal(t, emailLog, string(archived))

		lines, err := services.NewStore(api.DB).ListBillingEntries(cf.CaseID)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.InDelta(t, 1.5, lines[0].BillingHours, 1e-9)
	})

	t.Run("Dry run", func(t *testing.T) {
		rec := uploadFile(t, e, path, "log.tsv", []byte(emailLog), map[string]string{"dry_run": "true"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp map[string]interface{}
		decodeJSON(t, rec, &resp)
		assert.Equal(t, true, resp["dry_run"])
		assert.NotContains(t, resp, "archive_key")

		entries, err := services.NewStore(api.DB).ListEntries(cf.CaseID)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "only the committed batch is stored")
	})

	t.Run("Bad row rolls back", func(t *testing.T) {
		content := "Date\tTitle\tBilling Start\tBilling Stop\n2024-01-06\tGood\t09:00\t10:00\n2024-01-06\tBad\t10:30\t09:00\n"
		rec := uploadFile(t, e, path, "bad.tsv", []byte(content), nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "row 3")

		var count int64
		api.DB.Model(&models.CaseFileEntry{}).Where("case_id = ?", cf.CaseID).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("Ambiguous date", func(t *testing.T) {
		rec := uploadFile(t, e, path, "dates.csv", []byte("Date,Title\n03/04/2024,Call\n"), nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "ambiguous")
	})

	t.Run("Unsupported file", func(t *testing.T) {
		rec := uploadFile(t, e, path, "notes.pdf", []byte("%PDF-1.4"), nil)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("Unknown case", func(t *testing.T) {
		rec := uploadFile(t, e, "/api/case-files/999/import", "log.tsv", []byte(emailLog), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("No file", func(t *testing.T) {
		rec := doRequest(e, http.MethodPost, path, strings.NewReader(""), "multipart/form-data; boundary=x")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Client mismatch", func(t *testing.T) {
		rec := uploadFile(t, e, path, "log.tsv", []byte(emailLog), map[string]string{"client_name": "Globex"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}
