package converter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

func writeTempDoc(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memo.doc")
	require.NoError(t, os.WriteFile(path, []byte("legacy word bytes"), 0o644))
	return path
}

func TestConvert(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/forms/libreoffice/convert", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("files")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "memo.doc", header.Filename)
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "legacy word bytes", string(content))

		_, _ = w.Write([]byte("%PDF-1.7 converted"))
	}))
	defer server.Close()

	client, err := New(&config.ConverterConfig{Endpoint: server.URL})
	require.NoError(t, err)

	pdf, err := client.Convert(context.Background(), writeTempDoc(t))
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 converted"), pdf)
}

func TestConvertRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported format", http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := New(&config.ConverterConfig{Endpoint: server.URL})
	require.NoError(t, err)

	_, err = client.Convert(context.Background(), writeTempDoc(t))
	require.Error(t, err)
	assert.Equal(t, fault.KindExternalService, fault.KindOf(err))
	assert.Contains(t, err.Error(), "memo.doc")
}

func TestConvertMissingFile(t *testing.T) {
	client, err := New(&config.ConverterConfig{Endpoint: "http://localhost:1"})
	require.NoError(t, err)

	_, err = client.Convert(context.Background(), filepath.Join(t.TempDir(), "absent.doc"))
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))

	client, err := New(&config.ConverterConfig{Endpoint: server.URL})
	require.NoError(t, err)
	assert.True(t, client.Healthy(context.Background()))

	server.Close()
	assert.False(t, client.Healthy(context.Background()))
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(&config.ConverterConfig{})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}
