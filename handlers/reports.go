package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"casefile_billing_go/services"

	"github.com/labstack/echo/v4"
)

// BillingReportHandler returns the billing report of a case file as JSON,
// or as a download with ?format=csv or ?format=xlsx
func (a *API) BillingReportHandler(c echo.Context) error {
	caseID, err := caseIDParam(c)
	if err != nil {
		return err
	}

	report, err := services.BuildBillingReport(a.DB.WithContext(c.Request().Context()), caseID)
	if err != nil {
		return apiError(err)
	}

	format := strings.ToLower(c.QueryParam("format"))
	if format == "" || format == services.ReportFormatJSON {
		return c.JSON(http.StatusOK, report)
	}

	data, contentType, err := services.ExportBillingReport(report, format)
	if err != nil {
		return apiError(err)
	}
	filename := fmt.Sprintf("case_%d_billing_%s.%s", caseID, time.Now().Format("20060102_150405"), format)
	c.Response().Header().Set("Content-Disposition", "attachment; filename="+filename)
	return c.Blob(http.StatusOK, contentType, data)
}

// PublishBillingReportHandler exports the billing report to storage and
// returns where it was stored
func (a *API) PublishBillingReportHandler(c echo.Context) error {
	caseID, err := caseIDParam(c)
	if err != nil {
		return err
	}
	if a.Storage == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Storage not configured")
	}
	ctx := c.Request().Context()

	report, err := services.BuildBillingReport(a.DB.WithContext(ctx), caseID)
	if err != nil {
		return apiError(err)
	}

	stored, err := services.PublishReport(ctx, a.Storage, report, c.QueryParam("format"))
	if err != nil {
		return apiError(err)
	}

	url := a.Storage.GetPublicURL(stored.Key)
	if url == "" {
		if signed, err := a.Storage.GetSignedURL(ctx, stored.Key, 24*time.Hour); err == nil {
			url = signed
		}
	}
	stored.URL = url
	return c.JSON(http.StatusCreated, stored)
}
