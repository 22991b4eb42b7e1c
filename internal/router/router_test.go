package router_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"registrar/internal/config"
	"registrar/internal/domain"
	"registrar/internal/handler"
	"registrar/internal/logging"
	"registrar/internal/registry"
	"registrar/internal/router"
	"registrar/internal/signature"
	"registrar/mocks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setup(t *testing.T, svc *mocks.MockExtractionService) *gin.Engine {
	t.Helper()
	catalog, err := signature.Default()
	require.NoError(t, err)
	cfg := &config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}}}
	return router.Setup(cfg, logging.Discard(),
		handler.NewExtractionHandler(svc),
		handler.NewRegistryHandler(registry.Default(), catalog),
		handler.NewHealthHandler(nil),
	)
}

func TestRouter_Routes(t *testing.T) {
	svc := new(mocks.MockExtractionService)
	r := setup(t, svc)

	id := uuid.New()
	svc.On("GetByID", mock.Anything, id).Return(&domain.ExtractionRecord{ID: id}, nil)
	svc.On("List", mock.Anything, 0, 20).Return([]domain.ExtractionRecord{}, 0, nil)
	svc.On("Extract", mock.Anything, mock.Anything).Return(&domain.ExtractionRecord{ID: id, Document: domain.NewIneligibleDocument()}, nil)

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodGet, "/api/v1/registry", "", http.StatusOK},
		{http.MethodGet, "/api/v1/signatures/ReportJsonize", "", http.StatusOK},
		{http.MethodGet, "/api/v1/extractions", "", http.StatusOK},
		{http.MethodGet, "/api/v1/extractions/" + id.String(), "", http.StatusOK},
		{http.MethodPost, "/api/v1/extractions", `{"report":"text"}`, http.StatusCreated},
		{http.MethodDelete, "/api/v1/extractions/" + id.String(), "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}
