package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"casefile_billing_go/config"
	"casefile_billing_go/models"
	"casefile_billing_go/services"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, testDB.AutoMigrate(models.All()...))
	return testDB
}

// setupTestAPI builds an API over an in-memory database and a temporary
// local storage directory, mounted on a bare echo instance
func setupTestAPI(t *testing.T) (*API, *echo.Echo) {
	t.Helper()
	cfg := config.Default()
	cfg.UploadDir = t.TempDir()

	api, err := NewAPI(setupTestDB(t), cfg, services.NewLocalStorage(cfg.UploadDir))
	require.NoError(t, err)

	e := echo.New()
	api.Register(e)
	return api, e
}

func doRequest(e *echo.Echo, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, e *echo.Echo, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return doRequest(e, method, path, body, echo.MIMEApplicationJSON)
}

// uploadFile posts a multipart form with the file and extra fields
func uploadFile(t *testing.T, e *echo.Echo, path, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return doRequest(e, http.MethodPost, path, &buf, w.FormDataContentType())
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func seedCaseFile(t *testing.T, api *API, clientName, caseName string) *models.CaseFile {
	t.Helper()
	store := services.NewStore(api.DB)
	client, _, err := store.FindOrCreateClient(clientName, nil)
	require.NoError(t, err)
	cf := &models.CaseFile{ClientID: &client.ClientID, CaseName: caseName}
	require.NoError(t, store.CreateCaseFile(cf))
	return cf
}
