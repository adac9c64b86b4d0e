package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

const zonesPage = `{
	"success": true,
	"errors": [],
	"messages": [],
	"result": [{"id": "z1", "name": "example.com", "status": "active"}],
	"result_info": {"page": 1, "per_page": 50, "count": 1, "total_count": 1, "total_pages": 1}
}`

const recordsPage = `{
	"success": true,
	"errors": [],
	"messages": [],
	"result": [{
		"id": "rec-1",
		"type": "A",
		"name": "a.example.com",
		"content": "203.0.113.9",
		"proxied": true,
		"ttl": 1
	}],
	"result_info": {"page": 1, "per_page": 100, "count": 1, "total_count": 1, "total_pages": 1}
}`

func apiError(code int, message string) string {
	return fmt.Sprintf(`{"success": false, "errors": [{"code": %d, "message": %q}], "messages": [], "result": null}`, code, message)
}

// newTestClient points a client at srv with retries observable and the
// retry delay replaced by a recording sleeper.
func newTestClient(t *testing.T, srv *httptest.Server, maxRetries int) (*Cloudflare, *[]time.Duration) {
	t.Helper()
	var slept []time.Duration
	c, err := NewCloudflare("test-token",
		WithBaseURL(srv.URL),
		WithMaxRetries(maxRetries),
		WithLimiter(rate.NewLimiter(rate.Inf, 0)),
		withSleep(func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("NewCloudflare failed: %s", err)
	}
	return c, &slept
}

func TestListZones(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, zonesPage)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, 0)
	zones, err := c.ListZones(context.Background())
	if err != nil {
		t.Fatalf("ListZones failed: %s", err)
	}
	if len(zones) != 1 || zones[0].ID != "z1" || zones[0].Name != "example.com" {
		t.Fatalf("unexpected zones: %+v", zones)
	}
}

func TestListRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, recordsPage)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, 0)
	records, err := c.ListRecords(context.Background(), "z1", "a.example.com", "A")
	if err != nil {
		t.Fatalf("ListRecords failed: %s", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	rec := records[0]
	if rec.ID != "rec-1" || rec.Content != "203.0.113.9" || !rec.Proxied || rec.TTL != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestRateLimitedCallIsRetried(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, apiError(10000, "rate limited"))
			return
		}
		io.WriteString(w, zonesPage)
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv, 2)
	zones, err := c.ListZones(context.Background())
	if err != nil {
		t.Fatalf("expected retry to succeed: %s", err)
	}
	if len(zones) != 1 {
		t.Fatalf("unexpected zones: %+v", zones)
	}
	if got := atomic.LoadInt32(&requests); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
	if len(*slept) != 1 {
		t.Fatalf("expected one backoff sleep, got %d", len(*slept))
	}
}

func TestRateLimitRetriesAreBounded(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, apiError(10000, "rate limited"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, 1)
	_, err := c.ListZones(context.Background())
	if err == nil {
		t.Fatal("expected error after retry budget exhausted")
	}
	if kind := KindOf(err); kind != KindRateLimited {
		t.Fatalf("expected rate_limited, got %s", kind)
	}
	if got := atomic.LoadInt32(&requests); got != 2 {
		t.Fatalf("expected 2 requests (1 try + 1 retry), got %d", got)
	}
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, apiError(10000, "invalid api token"))
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv, 3)
	_, err := c.ListZones(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if kind := KindOf(err); kind != KindUnauthorized {
		t.Fatalf("expected unauthorized, got %s", kind)
	}
	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Fatalf("credential errors must not be retried; got %d requests", got)
	}
	if len(*slept) != 0 {
		t.Fatalf("expected no backoff sleeps, got %d", len(*slept))
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, apiError(10000, "internal error"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, 1)
	_, err := c.ListZones(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if kind := KindOf(err); kind != KindTransient {
		t.Fatalf("expected transient, got %s", kind)
	}
	if got := atomic.LoadInt32(&requests); got != 2 {
		t.Fatalf("expected transient error to be retried once, got %d requests", got)
	}
}

func TestVerifyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success": true, "errors": [], "messages": [], "result": {"id": "tok", "status": "active"}}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, 0)
	status, err := c.VerifyToken(context.Background())
	if err != nil {
		t.Fatalf("VerifyToken failed: %s", err)
	}
	if status != "active" {
		t.Fatalf("expected active, got %q", status)
	}
}

func TestClassifyContextErrors(t *testing.T) {
	if kind := classify(context.DeadlineExceeded); kind != KindTransient {
		t.Fatalf("deadline exceeded should classify transient, got %s", kind)
	}
	if kind := classify(fmt.Errorf("wrapping: %w", context.Canceled)); kind != KindTransient {
		t.Fatalf("canceled should classify transient, got %s", kind)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if kind := KindOf(errors.New("boom")); kind != KindTransient {
		t.Fatalf("plain errors default to transient, got %s", kind)
	}
}

func TestBackoffIsBoundedAndGrows(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := backoff(attempt)
		if d <= 0 {
			t.Fatalf("attempt %d: non-positive delay %s", attempt, d)
		}
		if d > maxDelay+maxDelay/2 {
			t.Fatalf("attempt %d: delay %s exceeds cap", attempt, d)
		}
	}
	if backoff(3) < baseDelay {
		t.Fatal("later attempts should not undercut the base delay")
	}
}
