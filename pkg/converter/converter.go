// Package converter turns legacy office documents into PDFs through a
// gotenberg-compatible conversion service. Converted PDFs feed the
// regular PDF parse path.
package converter

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/httpclient"
)

const op = "converter"

// Client talks to the conversion service.
type Client struct {
	client   *httpclient.Client
	health   *http.Client
	logger   *slog.Logger
	endpoint string
}

// New creates the converter client.
func New(cfg *config.ConverterConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fault.New(fault.KindValidation, "converter endpoint is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		client:   httpclient.New(httpclient.WithHTTPClient(&http.Client{Timeout: timeout})),
		health:   &http.Client{Timeout: 5 * time.Second},
		logger:   slog.Default(),
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
	}, nil
}

// Convert uploads the file at path and returns the PDF bytes.
func (c *Client) Convert(ctx context.Context, path string) ([]byte, error) {
	name := filepath.Base(path)

	file, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, op, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("files", name)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, op, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fault.Wrap(fault.KindInternal, op, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fault.Wrap(fault.KindInternal, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/forms/libreoffice/convert", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fault.Wrapf(fault.KindExternalService, op, err, "pdf conversion failed for %s", name)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrapf(fault.KindExternalService, op, err, "pdf conversion failed for %s", name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fault.Newf(fault.KindExternalService,
			"pdf conversion failed for %s: status %d: %s", name, resp.StatusCode, truncate(data, 200))
	}

	c.logger.Info("converted document to pdf", "file", name, "bytes", len(data))
	return data, nil
}

// Healthy reports whether the service answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.health.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n])
}
