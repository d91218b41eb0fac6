package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"casefile_billing_go/config"
	"casefile_billing_go/middleware"
	"casefile_billing_go/services"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"
)

// API serves the case file pipeline over JSON. Every handler works on the
// handles it was built with.
type API struct {
	DB       *gorm.DB
	Config   *config.Config
	Storage  services.StorageProvider
	Importer *services.Importer
}

// NewAPI builds the API from configuration
func NewAPI(database *gorm.DB, cfg *config.Config, storage services.StorageProvider) (*API, error) {
	importer, err := services.NewImporter(cfg)
	if err != nil {
		return nil, err
	}
	return &API{DB: database, Config: cfg, Storage: storage, Importer: importer}, nil
}

// Register mounts the API routes under /api
func (a *API) Register(e *echo.Echo) {
	api := e.Group("/api")

	api.GET("/health", a.HealthHandler)

	api.GET("/clients", a.ListClientsHandler)
	api.POST("/clients", a.CreateClientHandler)

	api.GET("/case-files", a.ListCaseFilesHandler)
	api.POST("/case-files", a.CreateCaseFileHandler)
	api.GET("/case-files/:id", a.GetCaseFileHandler)
	api.PATCH("/case-files/:id/status", a.SetCaseStatusHandler)
	api.DELETE("/case-files/:id", a.DeleteCaseFileHandler)
	api.GET("/case-files/:id/entries", a.ListEntriesHandler)

	// Imports run one at a time
	imports := api.Group("",
		middleware.NewImportLimiter(a.Config.ImportsPerMinute).Middleware(),
		echomiddleware.BodyLimit("32M"),
		middleware.Serialize(),
	)
	imports.POST("/case-files/:id/import", a.ImportEntriesHandler)
	api.GET("/import-template", a.GetImportTemplateHandler)

	api.GET("/case-files/:id/billing-report", a.BillingReportHandler)
	api.POST("/case-files/:id/billing-report/publish", a.PublishBillingReportHandler)

	api.GET("/case-files/:id/archive", a.ListArchiveHandler)
	api.GET("/case-files/:id/archive/*", a.GetArchiveFileHandler)

	api.GET("/validation", a.ValidationHandler)
}

// NewServer creates the echo instance serving the API
func NewServer(a *API) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(echomiddleware.RequestLogger())
	e.Use(echomiddleware.Recover())

	a.Register(e)
	return e
}

// HealthHandler reports the schema health; 503 when the schema is missing
// or differs
func (a *API) HealthHandler(c echo.Context) error {
	report := services.CheckHealth(a.DB)
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

// ValidationHandler runs the validator over every case file, or over one
// with ?case_id=
func (a *API) ValidationHandler(c echo.Context) error {
	var caseID *int64
	if raw := c.QueryParam("case_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid case_id")
		}
		caseID = &id
	}

	report, err := services.NewValidator(a.DB.WithContext(c.Request().Context()), a.Importer.Billing).Validate(caseID)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// caseIDParam parses the :id path parameter
func caseIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid case file id")
	}
	return id, nil
}

// apiError maps pipeline errors to HTTP errors
func apiError(err error) error {
	var integrity *services.IntegrityError
	var constraint *services.ConstraintError
	var dateErr *services.DateParseError

	switch {
	case errors.Is(err, services.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &integrity):
		if integrity.Reason == "" {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &constraint), errors.As(err, &dateErr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, services.ErrUnsupportedSource):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Request cancelled")
	}
	log.Printf("[API] internal error: %v", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
}
