package handlers

import (
	"log"
	"net/http"
	"strings"

	"casefile_billing_go/models"
	"casefile_billing_go/services"

	"github.com/labstack/echo/v4"
)

// CreateClientRequest is the body of POST /api/clients
type CreateClientRequest struct {
	ClientName  string  `json:"client_name"`
	ContactInfo *string `json:"contact_info"`
}

// CreateCaseFileRequest is the body of POST /api/case-files. A client is
// named by id, or by name to find or create it.
type CreateCaseFileRequest struct {
	ClientID   *int64 `json:"client_id"`
	ClientName string `json:"client_name"`
	CaseName   string `json:"case_name"`
	CaseStatus string `json:"case_status"`
}

// SetCaseStatusRequest is the body of PATCH /api/case-files/:id/status
type SetCaseStatusRequest struct {
	CaseStatus string `json:"case_status"`
}

// ListClientsHandler lists every client
func (a *API) ListClientsHandler(c echo.Context) error {
	clients, err := services.NewStore(a.DB.WithContext(c.Request().Context())).ListClients()
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, clients)
}

// CreateClientHandler adds a client
func (a *API) CreateClientHandler(c echo.Context) error {
	var req CreateClientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	client := &models.Client{ClientName: req.ClientName, ContactInfo: req.ContactInfo}
	if err := services.NewStore(a.DB.WithContext(c.Request().Context())).CreateClient(client); err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusCreated, client)
}

// ListCaseFilesHandler lists case files with their counters
func (a *API) ListCaseFilesHandler(c echo.Context) error {
	summaries, err := services.NewStore(a.DB.WithContext(c.Request().Context())).ListCaseFiles()
	if err != nil {
		return apiError(err)
	}
	if summaries == nil {
		summaries = []services.CaseFileSummary{}
	}
	return c.JSON(http.StatusOK, summaries)
}

// CreateCaseFileHandler opens a case file for a client
func (a *API) CreateCaseFileHandler(c echo.Context) error {
	var req CreateCaseFileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	caseFile := &models.CaseFile{
		ClientID:   req.ClientID,
		CaseName:   strings.TrimSpace(req.CaseName),
		CaseStatus: strings.TrimSpace(req.CaseStatus),
	}

	store := services.NewStore(a.DB.WithContext(c.Request().Context()))
	err := store.WithTx(func(tx *services.Store) error {
		if caseFile.ClientID == nil && strings.TrimSpace(req.ClientName) != "" {
			client, _, err := tx.FindOrCreateClient(req.ClientName, nil)
			if err != nil {
				return err
			}
			caseFile.ClientID = &client.ClientID
		}
		if caseFile.ClientID == nil {
			return &services.ConstraintError{Table: "case_files", Field: "client_id", Reason: "a case file needs a client"}
		}
		return tx.CreateCaseFile(caseFile)
	})
	if err != nil {
		return apiError(err)
	}

	created, err := store.GetCaseFile(caseFile.CaseID)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// GetCaseFileHandler returns one case file with its client
func (a *API) GetCaseFileHandler(c echo.Context) error {
	caseID, err := caseIDParam(c)
	if err != nil {
		return err
	}

	caseFile, err := services.NewStore(a.DB.WithContext(c.Request().Context())).GetCaseFile(caseID)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, caseFile)
}

// SetCaseStatusHandler changes the status of a case file
func (a *API) SetCaseStatusHandler(c echo.Context) error {
	caseID, err := caseIDParam(c)
	if err != nil {
		return err
	}
	var req SetCaseStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	store := services.NewStore(a.DB.WithContext(c.Request().Context()))
	if err := store.SetCaseStatus(caseID, req.CaseStatus); err != nil {
		return apiError(err)
	}
	caseFile, err := store.GetCaseFile(caseID)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, caseFile)
}

// DeleteCaseFileHandler removes a case file with its entries and billing,
// then its archived imports and reports
func (a *API) DeleteCaseFileHandler(c echo.Context) error {
	caseID, err := caseIDParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := services.NewStore(a.DB.WithContext(ctx)).DeleteCaseFile(caseID); err != nil {
		return apiError(err)
	}

	if a.Storage != nil {
		// The rows are gone; leftover archive files are only logged
		if _, err := services.PurgeCaseArchive(ctx, a.Storage, caseID); err != nil {
			log.Printf("[WARNING] case %d: failed to purge archive: %v", caseID, err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// ListEntriesHandler lists the entries of a case file in date order
func (a *API) ListEntriesHandler(c echo.Context) error {
	caseID, err := caseIDParam(c)
	if err != nil {
		return err
	}

	store := services.NewStore(a.DB.WithContext(c.Request().Context()))
	if _, err := store.GetCaseFile(caseID); err != nil {
		return apiError(err)
	}
	entries, err := store.ListEntries(caseID)
	if err != nil {
		return apiError(err)
	}
	if entries == nil {
		entries = []models.CaseFileEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}
