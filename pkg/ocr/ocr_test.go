package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/document"
	"github.com/magpielabs/magpie/pkg/fault"
)

func writeTempPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fixture"), 0o644))
	return path
}

func testConfig(endpoint string) *config.OCRConfig {
	return &config.OCRConfig{
		Endpoint:     endpoint,
		APIKey:       "secret",
		PollInterval: time.Millisecond,
		Timeout:      time.Second,
	}
}

// layoutServer fakes the analysis service: the submit returns an
// operation location, polls return each status in turn and the last
// one repeats.
func layoutServer(t *testing.T, polls *atomic.Int32, statuses ...analyzeStatus) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":analyze"):
			assert.Equal(t, "secret", r.Header.Get("Ocp-Apim-Subscription-Key"))
			assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
			w.Header().Set("Operation-Location", server.URL+"/operations/op-1")
			w.WriteHeader(http.StatusAccepted)
		case r.Method == http.MethodGet && r.URL.Path == "/operations/op-1":
			assert.Equal(t, "secret", r.Header.Get("Ocp-Apim-Subscription-Key"))
			n := int(polls.Add(1))
			if n > len(statuses) {
				n = len(statuses)
			}
			_ = json.NewEncoder(w).Encode(statuses[n-1])
		default:
			http.NotFound(w, r)
		}
	}))
	return server
}

func TestAnalyzeSubmitsAndPolls(t *testing.T) {
	succeeded := analyzeStatus{
		Status: "succeeded",
		AnalyzeResult: &analyzeResult{
			Pages: []analyzePage{
				{
					PageNumber: 1,
					Width:      8.5,
					Height:     11.0,
					Unit:       "inch",
					Lines: []analyzeLine{
						// A rectangle from (0.85, 1.1) to (4.25, 2.2).
						{Content: "Revenue grew 12%", Polygon: []float64{0.85, 1.1, 4.25, 1.1, 4.25, 2.2, 0.85, 2.2}},
						{Content: "   ", Polygon: []float64{0, 0, 1, 0, 1, 1, 0, 1}},
						{Content: "no polygon line"},
					},
				},
				{PageNumber: 2, Width: 8.5, Height: 11.0, Unit: "inch"},
			},
		},
	}

	var polls atomic.Int32
	server := layoutServer(t, &polls, analyzeStatus{Status: "running"}, succeeded)
	defer server.Close()

	client, err := New(testConfig(server.URL))
	require.NoError(t, err)

	pages, err := client.Analyze(context.Background(), writeTempPDF(t))
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))

	require.Len(t, pages[0].Lines, 2)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "Revenue grew 12%", pages[0].Lines[0].Text)

	bounds := pages[0].Lines[0].Bounds
	require.NotNil(t, bounds)
	assert.InDelta(t, 10.0, bounds.Left, 1e-9)
	assert.InDelta(t, 10.0, bounds.Top, 1e-9)
	assert.InDelta(t, 40.0, bounds.Width, 1e-9)
	assert.InDelta(t, 10.0, bounds.Height, 1e-9)

	// The line without a polygon still carries its text.
	assert.Equal(t, "no polygon line", pages[0].Lines[1].Text)
	assert.Nil(t, pages[0].Lines[1].Bounds)

	assert.Empty(t, pages[1].Lines)
	assert.Equal(t, 2, pages[1].Number)
}

func TestAnalyzeRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"InvalidRequest"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := New(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.Analyze(context.Background(), writeTempPDF(t))
	require.Error(t, err)
	assert.Equal(t, fault.KindExternalService, fault.KindOf(err))
}

func TestAnalyzeFailedOperation(t *testing.T) {
	failed := analyzeStatus{Status: "failed"}
	failed.Error = &struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: "InvalidContent", Message: "corrupt pdf"}

	var polls atomic.Int32
	server := layoutServer(t, &polls, failed)
	defer server.Close()

	client, err := New(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.Analyze(context.Background(), writeTempPDF(t))
	require.Error(t, err)
	assert.Equal(t, fault.KindExternalService, fault.KindOf(err))
	assert.Contains(t, err.Error(), "corrupt pdf")
}

func TestAnalyzeTimesOutWhileRunning(t *testing.T) {
	var polls atomic.Int32
	server := layoutServer(t, &polls, analyzeStatus{Status: "running"})
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Timeout = 50 * time.Millisecond
	client, err := New(cfg)
	require.NoError(t, err)

	_, err = client.Analyze(context.Background(), writeTempPDF(t))
	require.Error(t, err)
	assert.Equal(t, fault.KindExternalService, fault.KindOf(err))
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(&config.OCRConfig{})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestBoundsFrom(t *testing.T) {
	tests := []struct {
		name    string
		polygon []float64
		width   float64
		height  float64
		want    *document.Bounds
	}{
		{
			name:    "full page",
			polygon: []float64{0, 0, 8.5, 0, 8.5, 11, 0, 11},
			width:   8.5, height: 11,
			want: &document.Bounds{Left: 0, Top: 0, Width: 100, Height: 100},
		},
		{
			name:    "overflow clamps",
			polygon: []float64{-1, -1, 10, -1, 10, 12, -1, 12},
			width:   8.5, height: 11,
			want: &document.Bounds{Left: 0, Top: 0, Width: 100, Height: 100},
		},
		{name: "odd polygon", polygon: []float64{1, 2, 3}, width: 8.5, height: 11, want: nil},
		{name: "empty polygon", polygon: nil, width: 8.5, height: 11, want: nil},
		{name: "zero page", polygon: []float64{0, 0, 1, 0, 1, 1, 0, 1}, width: 0, height: 11, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := boundsFrom(tt.polygon, tt.width, tt.height)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, tt.want.Left, got.Left, 1e-9)
			assert.InDelta(t, tt.want.Top, got.Top, 1e-9)
			assert.InDelta(t, tt.want.Width, got.Width, 1e-9)
			assert.InDelta(t, tt.want.Height, got.Height, 1e-9)
		})
	}
}
