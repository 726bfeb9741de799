package offline

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/nccevidence/evidencedesk/internal/notification"
	"github.com/nccevidence/evidencedesk/internal/observability/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheStorage_RoundTrip(t *testing.T) {
	for name, newStorage := range storageFactories {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			storage := newStorage(t)

			c, err := storage.Open(ctx, "evidence-upload-v4")
			require.NoError(t, err)

			stored := &Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": {"text/css"}, "Etag": {`"abc"`}},
				Body:       []byte("body{}"),
				URL:        "http://origin.test/site.css",
				StoredAt:   time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, c.Put(ctx, "GET http://origin.test/site.css", stored))

			got, err := c.Match(ctx, "GET http://origin.test/site.css")
			require.NoError(t, err)
			assert.Equal(t, stored.StatusCode, got.StatusCode)
			assert.Equal(t, stored.Header, got.Header)
			assert.Equal(t, stored.Body, got.Body)
			assert.Equal(t, stored.URL, got.URL)
			assert.True(t, stored.StoredAt.Equal(got.StoredAt))

			// Replacing a key keeps a single entry.
			stored.Body = []byte("body{color:red}")
			require.NoError(t, c.Put(ctx, "GET http://origin.test/site.css", stored))
			keys, err := c.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"GET http://origin.test/site.css"}, keys)

			got, err = storage.Match(ctx, "GET http://origin.test/site.css")
			require.NoError(t, err)
			assert.Equal(t, "body{color:red}", string(got.Body))

			deleted, err := c.Delete(ctx, "GET http://origin.test/site.css")
			require.NoError(t, err)
			assert.True(t, deleted)
			deleted, err = c.Delete(ctx, "GET http://origin.test/site.css")
			require.NoError(t, err)
			assert.False(t, deleted)

			_, err = c.Match(ctx, "GET http://origin.test/site.css")
			assert.ErrorIs(t, err, ErrCacheMiss)
		})
	}
}

func TestCacheStorage_BucketLifecycle(t *testing.T) {
	for name, newStorage := range storageFactories {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			storage := newStorage(t)

			has, err := storage.Has(ctx, "evidence-upload-v4")
			require.NoError(t, err)
			assert.False(t, has)

			_, err = storage.Open(ctx, "evidence-upload-v3")
			require.NoError(t, err)
			_, err = storage.Open(ctx, "evidence-upload-v4")
			require.NoError(t, err)

			names, err := storage.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"evidence-upload-v3", "evidence-upload-v4"}, names)

			deleted, err := storage.Delete(ctx, "evidence-upload-v3")
			require.NoError(t, err)
			assert.True(t, deleted)
			deleted, err = storage.Delete(ctx, "evidence-upload-v3")
			require.NoError(t, err)
			assert.False(t, deleted)

			_, err = storage.Match(ctx, "GET http://origin.test/")
			assert.ErrorIs(t, err, ErrCacheMiss)
		})
	}
}

func TestMemoryStorage_MatchReturnsCopies(t *testing.T) {
	storage := NewMemoryStorage()
	c, err := storage.Open(t.Context(), "b")
	require.NoError(t, err)
	require.NoError(t, c.Put(t.Context(), "k", &Response{StatusCode: 200, Body: []byte("abc")}))

	got, err := c.Match(t.Context(), "k")
	require.NoError(t, err)
	got.Body[0] = 'X'

	again, err := c.Match(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again.Body))
}

func TestNewStorage(t *testing.T) {
	s, err := NewStorage("memory", nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)

	_, err = NewStorage("sql", nil)
	assert.Error(t, err)

	_, err = NewStorage("redis", nil)
	assert.Error(t, err)
}

type fakePusher struct {
	err error
}

func (f fakePusher) Push(context.Context) (*notification.Notification, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &notification.Notification{ID: "push-1", Title: "Evidence Upload"}, nil
}

func TestPushNotifier(t *testing.T) {
	m := metrics.New()

	n := NewPushNotifier(fakePusher{}, m, nil)
	note, err := n.Push(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "push-1", note.ID)

	n = NewPushNotifier(fakePusher{err: errors.New("ntfy down")}, m, nil)
	_, err = n.Push(t.Context())
	require.Error(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.NotificationsSent.WithLabelValues(metrics.ResultSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.NotificationsSent.WithLabelValues(metrics.ResultFailed)), 0)

	_, err = NewPushNotifier(nil, nil, nil).Push(t.Context())
	assert.Error(t, err)
}
