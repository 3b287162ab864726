// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	p2pcontext "github.com/azure/peercdn/internal/context"
	"github.com/azure/peercdn/internal/orchestrator"
	"github.com/azure/peercdn/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var simpleOKHandler = gin.HandlerFunc(func(c *gin.Context) {
	c.Status(http.StatusOK)
})

var simpleOKHTTPHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

type missingFetcher struct{}

func (missingFetcher) Fetch(ctx context.Context, key string) (*orchestrator.Result, error) {
	return nil, errors.New("unavailable")
}

func (missingFetcher) Descriptor(ctx context.Context, key string) ([]byte, error) {
	return nil, nil
}

func TestRoutesRegistrations(t *testing.T) {
	recorder := httptest.NewRecorder()
	_, me := gin.CreateTestContext(recorder)
	registerRoutes(me, simpleOKHandler, simpleOKHandler, simpleOKHTTPHandler)

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{
			name:           "content",
			method:         http.MethodGet,
			path:           "/content/https://media.example.com/videos/video-1.mp4",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "content head",
			method:         http.MethodHead,
			path:           "/content/https://media.example.com/videos/video-1.mp4",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "content with query",
			method:         http.MethodGet,
			path:           "/content/https://media.example.com/videos/video-1.mp4?sig=abc",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "descriptors",
			method:         http.MethodGet,
			path:           "/descriptors/https://media.example.com/videos/video-1.mp4",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "metrics",
			method:         http.MethodGet,
			path:           "/metrics",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unknown",
			method:         http.MethodGet,
			path:           "/blobs/https://media.example.com/videos/video-1.mp4",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "descriptors post",
			method:         http.MethodPost,
			path:           "/descriptors/https://media.example.com/videos/video-1.mp4",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}

			rec := httptest.NewRecorder()
			me.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("%s: expected status code %d, got %d", tt.name, tt.expectedStatus, rec.Code)
			}
		})
	}
}

func TestNewEngine(t *testing.T) {
	engine := newEngine(context.Background())
	if engine == nil {
		t.Fatal("Expected non-nil engine, got nil")
	}

	if len(engine.Handlers) != 2 {
		t.Errorf("Expected 2 middleware, got %d", len(engine.Handlers))
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPromMetrics(reg, "node-1", "peercdn")
	m.RecordCacheLookup(metrics.LookupHit)

	h := Handler(context.Background(), missingFetcher{}, m, reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "peercdn_cache_lookups_total"), rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/descriptors/https://media.example.com/missing.mp4", nil)
	req.Header.Set(p2pcontext.CorrelationHeaderKey, "corr-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/content/https://media.example.com/video.mp4", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
