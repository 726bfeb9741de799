package uploader

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indicatorsJSON = `{
  "Health": ["Clinics inspected", "Drugs audited"],
  "Education": ["Schools visited"],
  "Agriculture": []
}`

func TestParseCatalog_KeepsDocumentOrder(t *testing.T) {
	t.Parallel()

	c, err := ParseCatalog(strings.NewReader(indicatorsJSON))
	require.NoError(t, err)

	assert.Equal(t, []string{"Health", "Education", "Agriculture"}, c.Categories())
	assert.Equal(t, []string{"Clinics inspected", "Drugs audited"}, c.Indicators("Health"))
	assert.Empty(t, c.Indicators("Agriculture"))
	assert.Nil(t, c.Indicators("Unknown"))
}

func TestParseCatalog_Rejects(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"array":          `["Health"]`,
		"non-list value": `{"Health": "Clinics"}`,
		"truncated":      `{"Health": ["a"]`,
		"empty":          ``,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseCatalog(strings.NewReader(body))
			assert.Error(t, err)
		})
	}
}

func TestCatalogLoader_CachesOnlySuccess(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(indicatorsJSON))
	}))
	defer srv.Close()

	l := NewCatalogLoader(srv.URL+"/indicators.json", srv.Client())

	_, err := l.Load(t.Context())
	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusServiceUnavailable, serr.StatusCode)
	assert.Nil(t, l.Cached())

	c, err := l.Load(t.Context())
	require.NoError(t, err)
	assert.Len(t, c.Categories(), 3)

	_, err = l.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "loaded catalog must be reused")
	assert.Same(t, c, l.Cached())
}
