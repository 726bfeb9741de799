package uploader

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/k3a/html2text"
)

// maxResponseBody bounds how much of a response body is kept for errors.
const maxResponseBody = 64 * 1024

// Receipt describes an accepted upload.
type Receipt struct {
	StatusCode int
	Bytes      int64
	Duration   time.Duration
}

// Sender uploads a submission without touching any view.
type Sender interface {
	Send(ctx context.Context, sub Submission, progress ProgressFunc) (*Receipt, error)
}

// Client posts submissions to the evidence proxy.
type Client struct {
	endpoint  string
	fileField string
	http      *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithFileField sets the multipart field name used for file parts.
func WithFileField(name string) ClientOption {
	return func(c *Client) { c.fileField = name }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Client for endpoint. Uploads have no timeout unless
// the HTTP client or the request context sets one.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:  endpoint,
		fileField: "files",
		http:      &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the upload URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Send streams sub as multipart/form-data. A response in [200,300) is
// success; any other status is a *ServerError and a failed round trip is a
// *TransportError.
func (c *Client) Send(ctx context.Context, sub Submission, progress ProgressFunc) (*Receipt, error) {
	p, err := newPayload(sub, c.fileField, progress)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, p)
	if err != nil {
		return nil, err
	}
	req.ContentLength = p.length
	req.Header.Set("Content-Type", p.contentType)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServerError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       plainText(resp.Header.Get("Content-Type"), body),
		}
	}

	return &Receipt{
		StatusCode: resp.StatusCode,
		Bytes:      p.Sent(),
		Duration:   time.Since(start),
	}, nil
}

// plainText renders HTML error pages (proxies love those) as text for logs.
func plainText(contentType string, body []byte) string {
	mt, _, _ := mime.ParseMediaType(contentType)
	if mt == "text/html" || mt == "application/xhtml+xml" {
		return strings.TrimSpace(html2text.HTML2Text(string(body)))
	}
	return strings.TrimSpace(string(body))
}
