package errors

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withCapture enables telemetry with a recording reporter for one test.
func withCapture(t *testing.T) *[]*EnhancedError {
	t.Helper()
	var captured []*EnhancedError

	telemetryMu.Lock()
	prevEnabled, prevReporter := telemetryEnabled, reporter
	telemetryEnabled = true
	reporter = func(e *EnhancedError) { captured = append(captured, e) }
	telemetryMu.Unlock()

	t.Cleanup(func() {
		telemetryMu.Lock()
		telemetryEnabled, reporter = prevEnabled, prevReporter
		telemetryMu.Unlock()
	})
	return &captured
}

func TestBuilder_CarriesMetadata(t *testing.T) {
	captured := withCapture(t)

	err := Newf("manifest fetch failed: %s", "./index.html").
		Component("offline").
		Category(CategoryNetwork).
		Context("url", "./index.html").
		Build()

	assert.Equal(t, "manifest fetch failed: ./index.html", err.Error())
	assert.Equal(t, "offline", err.GetComponent())
	assert.Equal(t, CategoryNetwork, err.GetCategory())
	assert.Equal(t, "./index.html", err.GetContext()["url"])
	require.Len(t, *captured, 1)
}

func TestBuilder_ValidationNotReported(t *testing.T) {
	captured := withCapture(t)

	_ = Newf("bad input").Category(CategoryValidation).Build()

	assert.Empty(t, *captured)
}

func TestBuilder_WrapsAndUnwraps(t *testing.T) {
	withCapture(t)

	err := New(io.ErrUnexpectedEOF).Component("datastore").Category(CategoryDatabase).Build()

	assert.True(t, Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, CategoryDatabase, CategoryOf(err))
	assert.Equal(t, CategoryGeneric, CategoryOf(io.EOF))
}

func TestInitTelemetry_DisabledWithoutDSN(t *testing.T) {
	require.NoError(t, InitTelemetry(TelemetryConfig{Enabled: true}))

	telemetryMu.RLock()
	defer telemetryMu.RUnlock()
	assert.False(t, telemetryEnabled)
}
