package uploader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// senderFunc adapts a function to Sender.
type senderFunc func(ctx context.Context, sub Submission, progress ProgressFunc) (*Receipt, error)

func (f senderFunc) Send(ctx context.Context, sub Submission, progress ProgressFunc) (*Receipt, error) {
	return f(ctx, sub, progress)
}

type recordingOutbox struct {
	mu    sync.Mutex
	items []Submission
	err   error
}

func (o *recordingOutbox) Enqueue(_ context.Context, sub Submission, _ error) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return "", o.err
	}
	o.items = append(o.items, sub)
	return "queued-1", nil
}

func collectOutcomes() (Observer, func() []Outcome) {
	var (
		mu  sync.Mutex
		got []Outcome
	)
	obs := ObserverFunc(func(_ context.Context, o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, o)
	})
	return obs, func() []Outcome {
		mu.Lock()
		defer mu.Unlock()
		return append([]Outcome(nil), got...)
	}
}

func TestController_SubmitSuccessResetsForm(t *testing.T) {
	t.Parallel()

	rec := &multipartRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	view := &fakeView{values: validSubmission(2)}
	view.values.EvidenceName = "  Q3 Audit  "
	obs, outcomes := collectOutcomes()
	c := NewController(view, NewClient(srv.URL, WithHTTPClient(srv.Client())), WithObserver(obs))

	require.NoError(t, c.Submit(t.Context()))

	states := view.states()
	assert.Equal(t, StateValidating, states[0])
	assert.Equal(t, StateUploading, states[1])
	assert.Equal(t, Status{
		State:    StateSuccess,
		Progress: 1,
		Message:  "Q3 Audit_Westlands.pdf submitted successfully. You will receive an email confirmation.",
	}, view.last())
	assert.Equal(t, 1, view.resets)
	assert.Equal(t, Submission{}, view.FieldValues())

	rec.mu.Lock()
	assert.Equal(t, "Q3 Audit", rec.values[FieldEvidenceName], "free-text fields are trimmed")
	rec.mu.Unlock()

	got := outcomes()
	require.Len(t, got, 1)
	assert.Equal(t, ResultSuccess, got[0].Result)
	assert.Equal(t, 2, got[0].Files)
	assert.Positive(t, got[0].Bytes)
}

func TestController_SubmitFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantMsg    string
		wantResult Result
	}{
		{
			name:       "server rejects",
			err:        &ServerError{StatusCode: http.StatusInternalServerError},
			wantMsg:    MsgUploadFailed,
			wantResult: ResultServer,
		},
		{
			name:       "network down",
			err:        &TransportError{Err: errors.New("no route to host")},
			wantMsg:    MsgNetworkError,
			wantResult: ResultTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			view := &fakeView{values: validSubmission(1)}
			box := &recordingOutbox{}
			obs, outcomes := collectOutcomes()
			sender := senderFunc(func(_ context.Context, _ Submission, progress ProgressFunc) (*Receipt, error) {
				progress(0.5)
				return nil, tt.err
			})
			c := NewController(view, sender, WithOutbox(box), WithObserver(obs))

			err := c.Submit(t.Context())
			require.ErrorIs(t, err, tt.err)

			assert.Equal(t, Failed(tt.wantMsg), view.last())
			assert.Zero(t, view.resets, "fields stay intact after a failure")
			assert.Equal(t, validSubmission(1).EvidenceName, view.FieldValues().EvidenceName)

			require.Len(t, box.items, 1)
			got := outcomes()
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantResult, got[0].Result)
			assert.Equal(t, "queued-1", got[0].QueuedID)
		})
	}
}

func TestController_ValidationStopsBeforeUpload(t *testing.T) {
	t.Parallel()

	view := &fakeView{values: validSubmission(0)}
	box := &recordingOutbox{}
	called := false
	sender := senderFunc(func(context.Context, Submission, ProgressFunc) (*Receipt, error) {
		called = true
		return &Receipt{}, nil
	})
	c := NewController(view, sender, WithOutbox(box))

	err := c.Submit(t.Context())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.False(t, called)
	assert.Equal(t, []State{StateValidating, StateError}, view.states())
	assert.Equal(t, MsgMissingFields, view.last().Message)
	assert.Empty(t, box.items, "invalid submissions are never queued")
}

func TestController_LateProgressIsDropped(t *testing.T) {
	t.Parallel()

	view := &fakeView{values: validSubmission(1)}
	var late ProgressFunc
	sender := senderFunc(func(_ context.Context, _ Submission, progress ProgressFunc) (*Receipt, error) {
		late = progress
		return &Receipt{StatusCode: http.StatusOK}, nil
	})
	c := NewController(view, sender)

	require.NoError(t, c.Submit(t.Context()))
	late(0.9)

	assert.Equal(t, StateSuccess, view.last().State)
}

func TestController_OutboxFailureDoesNotMaskUploadError(t *testing.T) {
	t.Parallel()

	view := &fakeView{values: validSubmission(1)}
	box := &recordingOutbox{err: errors.New("disk full")}
	sender := senderFunc(func(context.Context, Submission, ProgressFunc) (*Receipt, error) {
		return nil, &TransportError{Err: errors.New("offline")}
	})
	c := NewController(view, sender, WithOutbox(box))

	err := c.Submit(t.Context())
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, Failed(MsgNetworkError), view.last())
}

func TestController_IndicatorOptions(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(indicatorsJSON))
	}))
	defer srv.Close()

	view := &fakeView{}
	c := NewController(view, senderFunc(nil), WithCatalog(NewCatalogLoader(srv.URL, srv.Client())))

	c.OnCategoryChange("Health")
	assert.Empty(t, view.indicators, "catalog not loaded yet")

	require.NoError(t, c.LoadIndicatorOptions(t.Context()))
	assert.Equal(t, []string{"Health", "Education", "Agriculture"}, view.categories)

	c.OnCategoryChange("Education")
	assert.Equal(t, []string{"Schools visited"}, view.indicators)

	c.OnCategoryChange("")
	assert.Empty(t, view.indicators)

	c.OnCategoryChange("Mining")
	assert.Empty(t, view.indicators)
}

func TestController_IndicatorLoadFailureLeavesStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	view := &fakeView{}
	c := NewController(view, senderFunc(nil), WithCatalog(NewCatalogLoader(srv.URL, srv.Client())))

	err := c.LoadIndicatorOptions(t.Context())
	require.Error(t, err)
	assert.Empty(t, view.statuses)
	assert.Empty(t, view.categories)
}
