package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/blinkrelay/errors"
	"github.com/c360/blinkrelay/pkg/retry"
)

func fastConfig(url string) Config {
	return Config{
		URL:     url,
		Timeout: 2 * time.Second,
		Retry:   retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
}

func TestClient_Advise(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"adjustedScanningSpeed": 850}`))
	}))
	defer srv.Close()

	client, err := NewClient(fastConfig(srv.URL), nil, nil)
	require.NoError(t, err)

	resp, err := client.Advise(context.Background(), Request{PreviousAccuracy: 0.8, PreviousResponseTime: 420})
	require.NoError(t, err)
	assert.Equal(t, 850.0, resp.AdjustedScanningSpeed)
	assert.Equal(t, 850*time.Millisecond, resp.Interval())
	assert.Equal(t, Request{PreviousAccuracy: 0.8, PreviousResponseTime: 420}, got)
}

func TestClient_RequestFieldNames(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"adjustedScanningSpeed": 1200}`))
	}))
	defer srv.Close()

	client, err := NewClient(fastConfig(srv.URL), nil, nil)
	require.NoError(t, err)
	_, err = client.Advise(context.Background(), Request{PreviousAccuracy: 1, PreviousResponseTime: 0})
	require.NoError(t, err)

	assert.Contains(t, raw, "previousAccuracy")
	assert.Contains(t, raw, "previousResponseTime")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"adjustedScanningSpeed": 700}`))
	}))
	defer srv.Close()

	client, err := NewClient(fastConfig(srv.URL), nil, nil)
	require.NoError(t, err)

	resp, err := client.Advise(context.Background(), Request{PreviousAccuracy: 0.5, PreviousResponseTime: 900})
	require.NoError(t, err)
	assert.Equal(t, 700.0, resp.AdjustedScanningSpeed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ServerErrorsExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(fastConfig(srv.URL), nil, nil)
	require.NoError(t, err)

	_, err = client.Advise(context.Background(), Request{PreviousAccuracy: 0.5})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_PermanentFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"client error", http.StatusBadRequest, `{"error":"bad"}`},
		{"not json", http.StatusOK, `speed: fast`},
		{"zero speed", http.StatusOK, `{"adjustedScanningSpeed": 0}`},
		{"negative speed", http.StatusOK, `{"adjustedScanningSpeed": -50}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := NewClient(fastConfig(srv.URL), nil, nil)
			require.NoError(t, err)

			_, err = client.Advise(context.Background(), Request{PreviousAccuracy: 0.5})
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrMalformedReply)
			assert.Equal(t, int32(1), calls.Load(), "permanent failures are not retried")
		})
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"zero", Request{}, false},
		{"perfect", Request{PreviousAccuracy: 1, PreviousResponseTime: 350}, false},
		{"accuracy above one", Request{PreviousAccuracy: 1.5}, true},
		{"negative accuracy", Request{PreviousAccuracy: -0.1}, true},
		{"nan accuracy", Request{PreviousAccuracy: math.NaN()}, true},
		{"negative response", Request{PreviousResponseTime: -1}, true},
		{"infinite response", Request{PreviousResponseTime: math.Inf(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidData)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClient_InvalidRequestNotSent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	client, err := NewClient(fastConfig(srv.URL), nil, nil)
	require.NoError(t, err)

	_, err = client.Advise(context.Background(), Request{PreviousAccuracy: 2})
	assert.True(t, errors.IsInvalid(err))
	assert.Zero(t, calls.Load())
}

func TestConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, Config{}.Validate(), errors.ErrMissingConfig)
	assert.ErrorIs(t, Config{URL: "ftp://x"}.Validate(), errors.ErrInvalidConfig)
	assert.ErrorIs(t, Config{URL: "http://x", Timeout: -1}.Validate(), errors.ErrInvalidConfig)
	assert.NoError(t, Config{URL: "https://advisor.local/speed"}.Validate())
}

type stubAdviser struct {
	resp Response
	err  error
	last Request
}

func (s *stubAdviser) Advise(_ context.Context, req Request) (Response, error) {
	s.last = req
	return s.resp, s.err
}

func TestAdvisor_KeepsSpeedOnFailure(t *testing.T) {
	stub := &stubAdviser{resp: Response{AdjustedScanningSpeed: 800}}
	a := NewAdvisor(stub)
	assert.Equal(t, InitialScanSpeed, a.Current())

	speed, err := a.Adjust(context.Background(), 0.75, 600*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 800*time.Millisecond, speed)
	assert.Equal(t, 800*time.Millisecond, a.Current())
	assert.Equal(t, 600.0, stub.last.PreviousResponseTime)
	assert.Equal(t, 0.75, stub.last.PreviousAccuracy)

	stub.err = fmt.Errorf("advisory down")
	speed, err = a.Adjust(context.Background(), 0.1, 2*time.Second)
	require.Error(t, err)
	assert.Equal(t, 800*time.Millisecond, speed)
	assert.Equal(t, 800*time.Millisecond, a.Current())
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		target, typed string
		expected      float64
	}{
		{"HELLO", "HELLO", 1},
		{"HELLO", "HELP", 0.6},
		{"HELLO", "", 0},
		{"", "ABC", 0},
		{"CAT", "CATS", 1},
		{"ÉTÉ", "ÉTA", 2.0 / 3.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.expected, Accuracy(tt.target, tt.typed), 1e-9, "%s/%s", tt.target, tt.typed)
	}
}

func TestMeanResponse(t *testing.T) {
	assert.Equal(t, time.Duration(0), MeanResponse(nil))
	assert.Equal(t, 300*time.Millisecond,
		MeanResponse([]time.Duration{200 * time.Millisecond, 400 * time.Millisecond}))
}
