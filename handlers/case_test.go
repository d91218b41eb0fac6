package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"casefile_billing_go/models"
	"casefile_billing_go/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientHandlers(t *testing.T) {
	_, e := setupTestAPI(t)

	t.Run("Create", func(t *testing.T) {
		rec := doJSON(t, e, http.MethodPost, "/api/clients", map[string]string{"client_name": " Acme ", "contact_info": "acme@example.com"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var client models.Client
		decodeJSON(t, rec, &client)
		assert.NotZero(t, client.ClientID)
		assert.Equal(t, "Acme", client.ClientName)
		assert.Equal(t, "acme@example.com", client.GetContactInfo())
	})

	t.Run("Name required", func(t *testing.T) {
		rec := doJSON(t, e, http.MethodPost, "/api/clients", map[string]string{"client_name": ""})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("List", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, "/api/clients", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var clients []models.Client
		decodeJSON(t, rec, &clients)
		assert.Len(t, clients, 1)
	})
}

func TestCaseFileHandlers(t *testing.T) {
	api, e := setupTestAPI(t)

	var created models.CaseFile
	t.Run("Create by client name", func(t *testing.T) {
		rec := doJSON(t, e, http.MethodPost, "/api/case-files", map[string]string{"client_name": "Initech", "case_name": "Initech v. Lumbergh"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		decodeJSON(t, rec, &created)
		assert.Equal(t, models.CaseStatusOpen, created.CaseStatus)
		require.NotNil(t, created.Client)
		assert.Equal(t, "Initech", created.Client.ClientName)
	})

	t.Run("Client is reused", func(t *testing.T) {
		rec := doJSON(t, e, http.MethodPost, "/api/case-files", map[string]string{"client_name": "Initech", "case_name": "Second"})
		require.Equal(t, http.StatusCreated, rec.Code)

		clients, err := services.NewStore(api.DB).ListClients()
		require.NoError(t, err)
		assert.Len(t, clients, 1)
	})

	t.Run("Client required", func(t *testing.T) {
		rec := doJSON(t, e, http.MethodPost, "/api/case-files", map[string]string{"case_name": "Orphan"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("Unknown client id", func(t *testing.T) {
		rec := doJSON(t, e, http.MethodPost, "/api/case-files", map[string]interface{}{"client_id": 99, "case_name": "Ghost"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Get", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, fmt.Sprintf("/api/case-files/%d", created.CaseID), nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got models.CaseFile
		decodeJSON(t, rec, &got)
		assert.Equal(t, "Initech v. Lumbergh", got.CaseName)
	})

	t.Run("Get invalid and missing", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, doRequest(e, http.MethodGet, "/api/case-files/abc", nil, "").Code)
		assert.Equal(t, http.StatusNotFound, doRequest(e, http.MethodGet, "/api/case-files/999", nil, "").Code)
	})

	t.Run("List with counters", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, "/api/case-files", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var summaries []services.CaseFileSummary
		decodeJSON(t, rec, &summaries)
		require.Len(t, summaries, 2)
		require.NotNil(t, summaries[0].ClientName)
		assert.Equal(t, "Initech", *summaries[0].ClientName)
		assert.Zero(t, summaries[0].EntryCount)
	})

	t.Run("Entries", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, fmt.Sprintf("/api/case-files/%d/entries", created.CaseID), nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())

		assert.Equal(t, http.StatusNotFound, doRequest(e, http.MethodGet, "/api/case-files/999/entries", nil, "").Code)
	})

	t.Run("Set status", func(t *testing.T) {
		rec := doJSON(t, e, http.MethodPatch, fmt.Sprintf("/api/case-files/%d/status", created.CaseID), map[string]string{"case_status": "closed"})
		require.Equal(t, http.StatusOK, rec.Code)

		var got models.CaseFile
		decodeJSON(t, rec, &got)
		assert.True(t, got.IsClosed())

		rec = doJSON(t, e, http.MethodPatch, fmt.Sprintf("/api/case-files/%d/status", created.CaseID), map[string]string{"case_status": " "})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		path := fmt.Sprintf("/api/case-files/%d", created.CaseID)
		assert.Equal(t, http.StatusNoContent, doRequest(e, http.MethodDelete, path, nil, "").Code)
		assert.Equal(t, http.StatusNotFound, doRequest(e, http.MethodGet, path, nil, "").Code)
		assert.Equal(t, http.StatusNotFound, doRequest(e, http.MethodDelete, path, nil, "").Code)
	})
}
