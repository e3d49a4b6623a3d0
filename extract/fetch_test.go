package extract

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/config"
)

func testConfig(retryMax int) *config.Config {
	return &config.Config{
		Extract: config.ExtractConfig{
			Timeout: 5 * time.Second,
			Backoff: config.BackoffConfig{
				RetryWaitMin: time.Millisecond,
				RetryWaitMax: 5 * time.Millisecond,
				RetryMax:     retryMax,
			},
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetRetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	client := NewClient(testConfig(3), discardLogger())

	body, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestGetFailsWhenRetryBudgetExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(testConfig(1), discardLogger())

	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.True(t, fetchErr.Transient)
	assert.True(t, IsTransient(err))
	// One initial attempt plus one retry.
	assert.Equal(t, int32(2), attempts.Load())
}

func TestGetDoesNotRetryPermanentFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such dataset"))
	}))
	defer server.Close()

	client := NewClient(testConfig(5), discardLogger())

	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.False(t, fetchErr.Transient)
	assert.False(t, IsTransient(err))
	assert.Equal(t, http.StatusNotFound, fetchErr.Status)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good":
			w.Write([]byte(`[{"date":"2024-12-25","name":"Christmas Day"}]`))
		case "/bad":
			w.Write([]byte(`this is not json`))
		}
	}))
	defer server.Close()

	client := NewClient(testConfig(1), discardLogger())

	var days []map[string]any
	err := client.GetJSON(context.Background(), server.URL+"/good", &days)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, "Christmas Day", days[0]["name"])

	err = client.GetJSON(context.Background(), server.URL+"/bad", &days)
	require.Error(t, err)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.False(t, fetchErr.Transient)
}

func TestGetHonoursCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(testConfig(10), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Get(ctx, server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
