package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
)

// maxCatalogSize bounds the indicators.json body.
const maxCatalogSize = 1 << 20

// Catalog maps categories to their indicators, keeping the category order of
// the source document.
type Catalog struct {
	categories []string
	indicators map[string][]string
}

// ParseCatalog reads a JSON object of category → indicator list.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read indicators: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("indicators must be a JSON object")
	}

	c := &Catalog{indicators: make(map[string][]string)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read category: %w", err)
		}
		category, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var list []string
		if err := dec.Decode(&list); err != nil {
			return nil, fmt.Errorf("category %q: %w", category, err)
		}
		// A repeated key keeps its first position and its last value.
		if _, seen := c.indicators[category]; !seen {
			c.categories = append(c.categories, category)
		}
		c.indicators[category] = list
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read indicators: %w", err)
	}
	return c, nil
}

// Categories returns the category names in document order.
func (c *Catalog) Categories() []string {
	return slices.Clone(c.categories)
}

// Indicators returns the indicators of a category, or nil.
func (c *Catalog) Indicators(category string) []string {
	return slices.Clone(c.indicators[category])
}

// CatalogLoader fetches the catalog once and keeps it for the session.
// A failed fetch is not cached; the next call tries again.
type CatalogLoader struct {
	url    string
	client *http.Client

	mu      sync.Mutex
	catalog *Catalog
}

// NewCatalogLoader creates a loader for an absolute indicators URL.
func NewCatalogLoader(url string, client *http.Client) *CatalogLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &CatalogLoader{url: url, client: client}
}

// Load returns the catalog, fetching it on first use.
func (l *CatalogLoader) Load(ctx context.Context) (*Catalog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.catalog != nil {
		return l.catalog, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServerError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	catalog, err := ParseCatalog(io.LimitReader(resp.Body, maxCatalogSize))
	if err != nil {
		return nil, err
	}
	l.catalog = catalog
	return catalog, nil
}

// Cached returns the loaded catalog without fetching, or nil.
func (l *CatalogLoader) Cached() *Catalog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.catalog
}
