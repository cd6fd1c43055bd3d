package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendAndParseRetriesTemporaryFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"price":"101.5"}`))
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(time.Second), WithRetry(5*time.Second))
	var out struct {
		Price string `json:"price"`
	}
	if err := c.SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, &out); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if out.Price != "101.5" || calls.Load() != 3 {
		t.Fatalf("expected success on third call, got %q after %d calls", out.Price, calls.Load())
	}
}

func TestSendAndParseDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(WithRetry(5 * time.Second))
	err := c.SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestSendAndParseQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Query().Get("symbol")))
	}))
	defer srv.Close()

	var body []byte
	c := NewClient(WithRateLimit(100, 1))
	opts := &RequestOptions{Method: MethodGet, URL: srv.URL, QueryParams: map[string][]string{"symbol": {"BTCUSDT"}}}
	if err := c.SendAndParse(context.Background(), opts, &body); err != nil || string(body) != "BTCUSDT" {
		t.Fatalf("unexpected body %q, %v", body, err)
	}
}
