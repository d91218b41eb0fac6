package handlers

import (
	"net/http"
	"path"

	"casefile_billing_go/services"

	"github.com/labstack/echo/v4"
)

// ListArchiveHandler lists the imports and reports archived for a case file
func (a *API) ListArchiveHandler(c echo.Context) error {
	caseID, err := caseIDParam(c)
	if err != nil {
		return err
	}
	if a.Storage == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Storage not configured")
	}
	ctx := c.Request().Context()

	if _, err := services.NewStore(a.DB.WithContext(ctx)).GetCaseFile(caseID); err != nil {
		return apiError(err)
	}
	objects, err := services.ListCaseArchive(ctx, a.Storage, caseID)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, objects)
}

// GetArchiveFileHandler streams one archived file. The path after
// /archive/ is relative to the case file's archive.
func (a *API) GetArchiveFileHandler(c echo.Context) error {
	caseID, err := caseIDParam(c)
	if err != nil {
		return err
	}
	if a.Storage == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Storage not configured")
	}

	key, err := services.CaseArchiveKey(caseID, c.Param("*"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	reader, contentType, err := a.Storage.Get(c.Request().Context(), key)
	if err != nil {
		return apiError(err)
	}
	defer reader.Close()

	c.Response().Header().Set("Content-Disposition", "attachment; filename="+path.Base(key))
	return c.Stream(http.StatusOK, contentType, reader)
}
