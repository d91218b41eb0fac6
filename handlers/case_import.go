package handlers

import (
	"log"
	"net/http"
	"strconv"

	"casefile_billing_go/services"

	"github.com/labstack/echo/v4"
)

// ImportResponse is the result of an upload, with the key the uploaded
// file was archived under
type ImportResponse struct {
	*services.ImportResult
	ArchiveKey string `json:"archive_key,omitempty"`
}

// GetImportTemplateHandler generates and serves the Excel template
func (a *API) GetImportTemplateHandler(c echo.Context) error {
	buf, err := services.GenerateImportTemplate()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate template")
	}

	c.Response().Header().Set("Content-Disposition", "attachment; filename=case_file_import_template.xlsx")
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// ImportEntriesHandler imports an uploaded spreadsheet or delimited file
// into a case file as one batch. Form fields: file, client_name, sheet,
// dry_run. A committed batch is archived to storage.
func (a *API) ImportEntriesHandler(c echo.Context) error {
	caseID, err := caseIDParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	if _, err := services.NewStore(a.DB.WithContext(ctx)).GetCaseFile(caseID); err != nil {
		return apiError(err)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No file uploaded")
	}
	dryRun, _ := strconv.ParseBool(c.FormValue("dry_run"))

	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to open file")
	}
	defer src.Close()

	source, err := services.ReaderSource(file.Filename, src, services.SourceOptions{
		Sheet:     c.FormValue("sheet"),
		Delimiter: a.Config.Delimiter(),
	})
	if err != nil {
		return apiError(err)
	}

	result, err := a.Importer.Import(ctx, a.DB, source, services.ImportOptions{
		CaseID:     caseID,
		ClientName: c.FormValue("client_name"),
		DryRun:     dryRun,
	})
	if err != nil {
		return apiError(err)
	}

	response := ImportResponse{ImportResult: result}
	if !dryRun && a.Storage != nil {
		stored, err := a.Storage.Upload(ctx, file, services.GenerateImportArchiveKey(caseID, file.Filename))
		if err != nil {
			// The batch is committed; a missing archive copy is not fatal
			log.Printf("[WARNING] batch %s: failed to archive %s: %v", result.BatchID, file.Filename, err)
		} else {
			response.ArchiveKey = stored.Key
		}
	}

	status := http.StatusCreated
	if dryRun {
		status = http.StatusOK
	}
	c.Response().Header().Set("X-Import-Batch", result.BatchID)
	return c.JSON(status, response)
}
