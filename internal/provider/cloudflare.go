package provider

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const recordComment = "managed by cfddns"

const (
	baseDelay = 500 * time.Millisecond
	maxDelay  = 8 * time.Second
)

// Cloudflare implements Client against the Cloudflare v4 API.
//
// All outbound calls share one token bucket so a run reconciling many
// domains cannot burn through the account's API rate-limit budget,
// and every call gets the same bounded retry treatment.
type Cloudflare struct {
	api        *cloudflare.API
	limiter    *rate.Limiter
	logger     *logrus.Entry
	timeout    time.Duration
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*Cloudflare) error

// WithLimiter sets the token bucket governing outbound API calls.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Cloudflare) error {
		if l != nil {
			c.limiter = l
		}
		return nil
	}
}

// WithLogger routes client logs to the given entry.
func WithLogger(logger *logrus.Entry) Option {
	return func(c *Cloudflare) error {
		if logger != nil {
			c.logger = logger.WithField("component", "provider")
		}
		return nil
	}
}

// WithTimeout bounds each individual API call.
func WithTimeout(d time.Duration) Option {
	return func(c *Cloudflare) error {
		if d > 0 {
			c.timeout = d
		}
		return nil
	}
}

// WithMaxRetries sets the retry budget for rate-limited and transient calls.
func WithMaxRetries(n int) Option {
	return func(c *Cloudflare) error {
		if n >= 0 {
			c.maxRetries = n
		}
		return nil
	}
}

// WithHTTPClient overrides the HTTP client used for API calls.
func WithHTTPClient(httpclient *http.Client) Option {
	return func(c *Cloudflare) error {
		if httpclient == nil {
			httpclient = http.DefaultClient
		}
		return cloudflare.HTTPClient(httpclient)(c.api)
	}
}

// WithBaseURL points the client at a different API endpoint. Used in tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Cloudflare) error {
		return cloudflare.BaseURL(baseURL)(c.api)
	}
}

// withSleep replaces the retry delay function so tests can simulate
// elapsed time without sleeping.
func withSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Cloudflare) error {
		c.sleep = sleep
		return nil
	}
}

// NewCloudflare constructs a Cloudflare client from an API token.
//
// The library's built-in retry and rate limiting are disabled: this
// client owns both so they stay configurable and testable in one place.
func NewCloudflare(token string, options ...Option) (*Cloudflare, error) {
	api, err := cloudflare.NewWithAPIToken(token,
		cloudflare.UsingRetryPolicy(0, 0, 0),
		cloudflare.UsingRateLimit(50),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	c := &Cloudflare{
		api:        api,
		limiter:    rate.NewLimiter(rate.Limit(4), 1),
		logger:     logrus.NewEntry(discardLogger()),
		timeout:    10 * time.Second,
		maxRetries: 3,
		sleep:      sleepContext,
	}
	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("provider.NewCloudflare: option %d returned an error: %w", i, err)
		}
	}
	return c, nil
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ListZones implements Client.
func (c *Cloudflare) ListZones(ctx context.Context) ([]Zone, error) {
	var raw []cloudflare.Zone
	err := c.do(ctx, "list zones", func(ctx context.Context) error {
		var err error
		raw, err = c.api.ListZones(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	zones := make([]Zone, 0, len(raw))
	for _, z := range raw {
		zones = append(zones, Zone{ID: z.ID, Name: z.Name})
	}
	return zones, nil
}

// ListRecords implements Client.
func (c *Cloudflare) ListRecords(ctx context.Context, zoneID, name, recordType string) ([]Record, error) {
	rc := cloudflare.ZoneIdentifier(zoneID)
	params := cloudflare.ListDNSRecordsParams{
		Type: recordType,
		Name: name,
	}
	var records []Record
	err := c.do(ctx, "list records", func(ctx context.Context) error {
		records = records[:0]
		params.ResultInfo = cloudflare.ResultInfo{}
		for {
			raw, info, err := c.api.ListDNSRecords(ctx, rc, params)
			if err != nil {
				return err
			}
			for _, r := range raw {
				records = append(records, fromAPIRecord(r))
			}
			if info == nil || info.TotalPages == 0 || info.Page >= info.TotalPages {
				return nil
			}
			params.ResultInfo.Page = info.Page + 1
			params.ResultInfo.PerPage = info.PerPage
		}
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// CreateRecord implements Client.
func (c *Cloudflare) CreateRecord(ctx context.Context, zoneID string, record Record) error {
	rc := cloudflare.ZoneIdentifier(zoneID)
	proxied := record.Proxied
	return c.do(ctx, "create record", func(ctx context.Context) error {
		_, err := c.api.CreateDNSRecord(ctx, rc, cloudflare.CreateDNSRecordParams{
			Type:    record.Type,
			Name:    record.Name,
			Content: record.Content,
			TTL:     record.TTL,
			Proxied: &proxied,
			Comment: recordComment,
		})
		return err
	})
}

// UpdateRecord implements Client.
func (c *Cloudflare) UpdateRecord(ctx context.Context, zoneID string, record Record) error {
	rc := cloudflare.ZoneIdentifier(zoneID)
	proxied := record.Proxied
	return c.do(ctx, "update record", func(ctx context.Context) error {
		_, err := c.api.UpdateDNSRecord(ctx, rc, cloudflare.UpdateDNSRecordParams{
			ID:      record.ID,
			Type:    record.Type,
			Name:    record.Name,
			Content: record.Content,
			TTL:     record.TTL,
			Proxied: &proxied,
		})
		return err
	})
}

// VerifyToken checks the credential against the API and returns its status.
func (c *Cloudflare) VerifyToken(ctx context.Context) (string, error) {
	var status string
	err := c.do(ctx, "verify token", func(ctx context.Context) error {
		result, err := c.api.VerifyAPIToken(ctx)
		if err != nil {
			return err
		}
		status = result.Status
		return nil
	})
	return status, err
}

// do runs fn under the rate limiter and per-call timeout, retrying
// rate-limited and transient failures with exponential backoff and jitter.
// Terminal failures propagate immediately as *Error.
func (c *Cloudflare) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Kind: KindTransient, Op: op, Err: err}
		}
		err := c.call(ctx, fn)
		if err == nil {
			return nil
		}
		kind := classify(err)
		if !retryable(kind) || attempt >= c.maxRetries {
			return &Error{Kind: kind, Op: op, Err: err}
		}
		delay := backoff(attempt)
		c.logger.WithFields(logrus.Fields{
			"op":      op,
			"kind":    kind,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Warn("provider call failed, retrying")
		if err := c.sleep(ctx, delay); err != nil {
			return &Error{Kind: KindTransient, Op: op, Err: err}
		}
	}
}

func (c *Cloudflare) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return fn(ctx)
}

// backoff returns baseDelay doubled per attempt, capped at maxDelay,
// with up to 50% random jitter added to avoid thundering-herd retries.
func backoff(attempt int) time.Duration {
	d := baseDelay << attempt
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func fromAPIRecord(r cloudflare.DNSRecord) Record {
	rec := Record{
		ID:      r.ID,
		Name:    r.Name,
		Type:    r.Type,
		Content: r.Content,
		TTL:     r.TTL,
	}
	if r.Proxied != nil {
		rec.Proxied = *r.Proxied
	}
	return rec
}
