// Package ocr extracts per-page text lines with layout bounds from
// PDFs through an external document analysis service. Analysis is
// asynchronous: the document is submitted, then the result is polled
// until it succeeds or fails.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/document"
	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/httpclient"
	"github.com/magpielabs/magpie/pkg/parser"
)

const (
	op         = "ocr"
	apiVersion = "2024-11-30"
)

// Client talks to the layout analysis service.
type Client struct {
	client       *httpclient.Client
	logger       *slog.Logger
	endpoint     string
	apiKey       string
	model        string
	pollInterval time.Duration
	timeout      time.Duration
}

// analyzeStatus is the poll response envelope.
type analyzeStatus struct {
	Status        string         `json:"status"`
	AnalyzeResult *analyzeResult `json:"analyzeResult,omitempty"`
	Error         *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type analyzeResult struct {
	Pages []analyzePage `json:"pages"`
}

// analyzePage carries page dimensions in the service's measurement
// unit (inches for PDFs) plus the recognized lines.
type analyzePage struct {
	PageNumber int           `json:"pageNumber"`
	Width      float64       `json:"width"`
	Height     float64       `json:"height"`
	Unit       string        `json:"unit"`
	Lines      []analyzeLine `json:"lines"`
}

// analyzeLine is one recognized line: its text and the flat
// [x1,y1,x2,y2,...] polygon of its bounding region.
type analyzeLine struct {
	Content string    `json:"content"`
	Polygon []float64 `json:"polygon"`
}

// New creates the layout client.
func New(cfg *config.OCRConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fault.New(fault.KindValidation, "ocr endpoint is required")
	}

	model := cfg.Model
	if model == "" {
		model = "prebuilt-layout"
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	return &Client{
		client:       httpclient.New(),
		logger:       slog.Default(),
		endpoint:     strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:       cfg.APIKey,
		model:        model,
		pollInterval: pollInterval,
		timeout:      timeout,
	}, nil
}

// Analyze submits the PDF at path and polls until the service returns
// its pages. Satisfies parser.OCR.
func (c *Client) Analyze(ctx context.Context, path string) ([]parser.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	location, err := c.submit(ctx, data)
	if err != nil {
		return nil, err
	}

	result, err := c.poll(ctx, location)
	if err != nil {
		return nil, err
	}

	pages := pagesFrom(result)
	c.logger.Debug("layout analysis complete", "pages", len(pages))
	return pages, nil
}

// submit posts the document and returns the operation URL to poll.
func (c *Client) submit(ctx context.Context, data []byte) (string, error) {
	url := fmt.Sprintf("%s/documentintelligence/documentModels/%s:analyze?api-version=%s",
		c.endpoint, c.model, apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	if c.apiKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fault.Wrap(fault.KindExternalService, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return "", fault.Newf(fault.KindExternalService,
			"layout service rejected the document: status %d: %s", resp.StatusCode, string(body))
	}

	location := resp.Header.Get("Operation-Location")
	if location == "" {
		return "", fault.New(fault.KindExternalService, "layout service returned no operation location")
	}
	return location, nil
}

// poll fetches the operation until it leaves the running states.
func (c *Client) poll(ctx context.Context, location string) (*analyzeResult, error) {
	for {
		status, err := c.fetch(ctx, location)
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case "succeeded":
			if status.AnalyzeResult == nil {
				return nil, fault.New(fault.KindExternalService, "layout service returned no result")
			}
			return status.AnalyzeResult, nil
		case "failed":
			msg := "unknown error"
			if status.Error != nil {
				msg = status.Error.Message
			}
			return nil, fault.Newf(fault.KindExternalService, "layout analysis failed: %s", msg)
		}

		select {
		case <-ctx.Done():
			return nil, fault.Wrap(fault.KindExternalService, op, ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *Client) fetch(ctx context.Context, location string) (*analyzeStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, op, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindExternalService, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindExternalService, op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fault.Newf(fault.KindExternalService,
			"layout poll returned status %d: %s", resp.StatusCode, string(body))
	}

	var status analyzeStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fault.Wrap(fault.KindExternalService, op, err)
	}
	return &status, nil
}

// pagesFrom maps service pages onto parser pages, dropping blank lines.
func pagesFrom(result *analyzeResult) []parser.Page {
	pages := make([]parser.Page, 0, len(result.Pages))
	for i, p := range result.Pages {
		number := p.PageNumber
		if number == 0 {
			number = i + 1
		}
		page := parser.Page{Number: number}
		for _, line := range p.Lines {
			if strings.TrimSpace(line.Content) == "" {
				continue
			}
			page.Lines = append(page.Lines, parser.Line{
				Text:   line.Content,
				Bounds: boundsFrom(line.Polygon, p.Width, p.Height),
			})
		}
		pages = append(pages, page)
	}
	return pages
}

// boundsFrom converts an inch polygon to percent-of-page bounds.
// Lines without a usable polygon or page dimensions carry no bounds.
func boundsFrom(polygon []float64, pageWidth, pageHeight float64) *document.Bounds {
	if len(polygon) < 4 || len(polygon)%2 != 0 || pageWidth <= 0 || pageHeight <= 0 {
		return nil
	}

	minX, minY := polygon[0], polygon[1]
	maxX, maxY := polygon[0], polygon[1]
	for i := 2; i < len(polygon); i += 2 {
		minX = math.Min(minX, polygon[i])
		maxX = math.Max(maxX, polygon[i])
		minY = math.Min(minY, polygon[i+1])
		maxY = math.Max(maxY, polygon[i+1])
	}

	return &document.Bounds{
		Left:   clampPercent(minX / pageWidth * 100),
		Top:    clampPercent(minY / pageHeight * 100),
		Width:  clampPercent((maxX - minX) / pageWidth * 100),
		Height: clampPercent((maxY - minY) / pageHeight * 100),
	}
}

func clampPercent(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}
