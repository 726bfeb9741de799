package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nccevidence/evidencedesk/internal/uploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic   string
	payload string
}

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	publishErr error
	connects   int
	messages   []published
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Publish(_ context.Context, topic, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.messages = append(f.messages, published{topic: topic, payload: payload})
	return nil
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func TestPublisher_PublishesOutcomeJSON(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	p := NewPublisher(fc, "evidencedesk/uploads", nil)

	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	p.ObserveOutcome(t.Context(), uploader.Outcome{
		Result:       uploader.ResultServer,
		EvidenceName: "Q3 Audit",
		SubCounty:    "Westlands",
		Files:        3,
		Duration:     1500 * time.Millisecond,
		QueuedID:     "abc",
		Err:          errors.New("upload rejected: 500 Internal Server Error"),
		At:           at,
	})

	require.Len(t, fc.messages, 1)
	assert.Equal(t, 1, fc.connects, "publisher connects lazily")
	assert.Equal(t, "evidencedesk/uploads", fc.messages[0].topic)

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(fc.messages[0].payload), &ev))
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "server_error", ev.Result)
	assert.Equal(t, "Q3 Audit", ev.EvidenceName)
	assert.Equal(t, 3, ev.Files)
	assert.Equal(t, int64(1500), ev.DurationMs)
	assert.Equal(t, "abc", ev.QueuedID)
	assert.Contains(t, ev.Error, "500")
	assert.True(t, at.Equal(ev.Timestamp))
}

func TestPublisher_FailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		client *fakeClient
	}{
		{"connect fails", &fakeClient{connectErr: errors.New("broker down")}},
		{"publish fails", &fakeClient{connected: true, publishErr: errors.New("timeout")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewPublisher(tt.client, "t", nil)
			assert.NotPanics(t, func() {
				p.ObserveOutcome(t.Context(), uploader.Outcome{Result: uploader.ResultSuccess})
			})
			assert.Empty(t, tt.client.messages)
		})
	}
}

func TestNewClient_RequiresBroker(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, nil)
	require.Error(t, err)
}

func TestClient_PublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{Broker: "tcp://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	assert.False(t, c.IsConnected())

	err = c.Publish(t.Context(), "evidencedesk/uploads", "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestClient_ConnectWithCancelledContext(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{Broker: "tcp://127.0.0.1:1"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, c.Connect(ctx), context.Canceled)
}
