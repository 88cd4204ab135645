package renewal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	v1 "github.com/aevon-lab/project-carryover/internal/api/v1"
	"github.com/aevon-lab/project-carryover/internal/reliable"
)

// Collector fetches and reports usage documents.
type Collector interface {
	// GetUsage returns the document and the response status. A transport error, a
	// status other than 200 or a document missing the renewed fields is returned as an error.
	GetUsage(ctx context.Context, id string) (*v1.UsageDocument, int, error)

	// ReportUsage submits a document and returns the response status.
	// Only transport errors are returned as errors; the caller interprets the status.
	ReportUsage(ctx context.Context, doc *v1.UsageDocument) (int, error)
}

// Caller is the slice of the reliable client the collector needs.
type Caller interface {
	Get(ctx context.Context, url string) (*reliable.Response, error)
	Post(ctx context.Context, url string, body interface{}) (*reliable.Response, error)
}

// HTTPCollector talks to the collector service through a reliable client.
type HTTPCollector struct {
	baseURL string
	client  Caller
}

// NewHTTPCollector creates a collector client rooted at baseURL.
func NewHTTPCollector(baseURL string, client Caller) *HTTPCollector {
	return &HTTPCollector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (c *HTTPCollector) usageURL() string {
	return c.baseURL + "/v1/metering/collected/usage"
}

func (c *HTTPCollector) GetUsage(ctx context.Context, id string) (*v1.UsageDocument, int, error) {
	resp, err := c.client.Get(ctx, c.usageURL()+"/"+url.PathEscape(id))
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var doc v1.UsageDocument
	if err := resp.Decode(&doc); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to decode usage document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: %w", ErrInvalidUsage, err)
	}
	if doc.ID == "" {
		doc.ID = id
	}
	return &doc, resp.StatusCode, nil
}

func (c *HTTPCollector) ReportUsage(ctx context.Context, doc *v1.UsageDocument) (int, error) {
	resp, err := c.client.Post(ctx, c.usageURL(), doc)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}
