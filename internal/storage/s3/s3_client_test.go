package s3_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registrar/internal/config"
	"registrar/internal/port"
	"registrar/internal/storage/s3"
)

type recordedRequest struct {
	Method string
	Path   string
	Type   string
}

func fakeS3(t *testing.T) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{Method: r.Method, Path: r.URL.Path, Type: r.Header.Get("Content-Type")})
		mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			w.Header().Set("ETag", `"abc123"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func testConfig(endpoint, prefix string) *config.S3Config {
	return &config.S3Config{
		Enabled:   true,
		Region:    "us-east-1",
		Bucket:    "registrar-results",
		Endpoint:  endpoint,
		AccessKey: "test",
		SecretKey: "test",
		Prefix:    prefix,
	}
}

func TestS3Client_UploadUsesPrefix(t *testing.T) {
	srv, requests := fakeS3(t)
	store, err := s3.NewS3Client(context.Background(), testConfig(srv.URL, "/runs/"))
	require.NoError(t, err)

	body := []byte(`{"cancer_excision_report":false}`)
	out, err := store.Upload(context.Background(), port.UploadInput{
		Key:         "extractions/1/case_output.json",
		Body:        bytes.NewReader(body),
		ContentType: "application/json",
		Size:        int64(len(body)),
	})
	require.NoError(t, err)
	assert.Equal(t, "runs/extractions/1/case_output.json", out.Key)
	assert.Equal(t, `"abc123"`, out.ETag)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, "/registrar-results/runs/extractions/1/case_output.json", reqs[0].Path)
	assert.Equal(t, "application/json", reqs[0].Type)
}

func TestS3Client_Delete(t *testing.T) {
	srv, requests := fakeS3(t)
	store, err := s3.NewS3Client(context.Background(), testConfig(srv.URL, ""))
	require.NoError(t, err)

	require.NoError(t, store.Delete(context.Background(), "extractions/1/case_output.json"))

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodDelete, reqs[0].Method)
	assert.Equal(t, "/registrar-results/extractions/1/case_output.json", reqs[0].Path)
}

func TestNewS3Client_RequiresBucket(t *testing.T) {
	cfg := testConfig("", "")
	cfg.Bucket = ""
	_, err := s3.NewS3Client(context.Background(), cfg)
	assert.ErrorContains(t, err, "bucket is required")
}
