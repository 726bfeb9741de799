// Package offline is the offline cache worker: it sits in front of the origin
// that hosts the upload form, keeps the app shell in a versioned cache bucket
// and answers requests from that cache when the network is unavailable.
package offline

import (
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nccevidence/evidencedesk/internal/errors"
)

// ErrCacheMiss is returned by Match when no bucket holds the key. It never
// reaches the page; the worker turns it into a fallback response.
var ErrCacheMiss = errors.NewStd("cache miss")

// Response is a captured HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
	StoredAt   time.Time

	// stream holds the rest of a body too large to buffer.
	stream io.ReadCloser
}

// Streaming reports whether the body continues past Body on the live
// connection. Streaming responses are never cached; write or Close them.
func (r *Response) Streaming() bool {
	return r.stream != nil
}

// Close releases the live body of a streaming response.
func (r *Response) Close() error {
	if r.stream == nil {
		return nil
	}
	err := r.stream.Close()
	r.stream = nil
	return err
}

// OK reports a status in [200,300).
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Clone returns a deep copy so cached values are never shared.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	c.Body = slices.Clone(r.Body)
	c.stream = nil
	return &c
}

// hopHeaders are connection-scoped and never stored or replayed.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Set-Cookie",
}

func storableHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}
	for _, k := range hopHeaders {
		out.Del(k)
	}
	return out
}

// liveHeader is storableHeader keeping Set-Cookie, for responses that go
// straight to the page.
func liveHeader(h http.Header) http.Header {
	out := storableHeader(h)
	if c := h.Values("Set-Cookie"); len(c) > 0 {
		out["Set-Cookie"] = slices.Clone(c)
	}
	return out
}

// write sends the response to the page.
func (r *Response) write(w http.ResponseWriter) {
	h := w.Header()
	for _, k := range slices.Sorted(maps.Keys(r.Header)) {
		h[k] = slices.Clone(r.Header[k])
	}
	if r.stream == nil {
		h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	status := r.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(r.Body)
	if r.stream != nil {
		_, _ = io.Copy(w, r.stream)
		_ = r.Close()
	}
}

// RequestKey is the cache key for a request: the method and the absolute URL
// without its fragment.
func RequestKey(method string, u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return strings.ToUpper(method) + " " + c.String()
}

// Placeholder bodies for asset requests nothing else can answer.
const (
	placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="1" height="1" viewBox="0 0 1 1"></svg>`
)

func imagePlaceholder(u string) *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Content-Type":  {"image/svg+xml"},
			"Cache-Control": {"no-store"},
		},
		Body: []byte(placeholderSVG),
		URL:  u,
	}
}

func stylePlaceholder(u string) *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Content-Type":  {"text/css; charset=utf-8"},
			"Cache-Control": {"no-store"},
		},
		Body: []byte{},
		URL:  u,
	}
}

// misdirectedResponse answers HandleFetch calls for requests the worker does
// not intercept.
func misdirectedResponse(u, reason string) *Response {
	return &Response{
		StatusCode: http.StatusMisdirectedRequest,
		Header: http.Header{
			"Content-Type":  {"text/plain; charset=utf-8"},
			"Cache-Control": {"no-store"},
		},
		Body: []byte(reason + "\n"),
		URL:  u,
	}
}

func offlineResponse(u string) *Response {
	return &Response{
		StatusCode: http.StatusServiceUnavailable,
		Header: http.Header{
			"Content-Type":  {"text/plain; charset=utf-8"},
			"Cache-Control": {"no-store"},
		},
		Body: []byte("You are offline and this page has not been cached yet.\n"),
		URL:  u,
	}
}
