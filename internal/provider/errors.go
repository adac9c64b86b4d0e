package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudflare/cloudflare-go"
)

// Kind classifies provider failures so callers can decide whether to
// retry, skip a domain, or abort the whole run.
type Kind string

const (
	// KindUnauthorized means the credential was rejected. Never retried;
	// the run coordinator treats it as fatal for the entire run.
	KindUnauthorized Kind = "unauthorized"
	// KindRateLimited means the provider asked us to slow down. Retried
	// with backoff up to the retry budget.
	KindRateLimited Kind = "rate_limited"
	// KindTransient covers network failures, timeouts and provider 5xx
	// responses. Retried with backoff up to the retry budget.
	KindTransient Kind = "transient"
	// KindNotFound means the requested entity does not exist.
	KindNotFound Kind = "not_found"
	// KindConflict means the write raced with another actor mutating the
	// same record. Surfaced, never retried.
	KindConflict Kind = "conflict"
	// KindZoneNotFound means no managed zone matches the domain.
	KindZoneNotFound Kind = "zone_not_found"
	// KindAmbiguousRecord means more than one record matched a
	// (name, type) pair that should identify exactly one.
	KindAmbiguousRecord Kind = "ambiguous_record"
)

// Error is the error type returned by every Client method.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, or KindTransient if err carries none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// retryable reports whether a call failing with kind is worth repeating.
func retryable(kind Kind) bool {
	return kind == KindRateLimited || kind == KindTransient
}

// Cloudflare record error codes indicating the record was created or
// changed underneath us between our read and our write.
var conflictCodes = []int{81053, 81057, 81058}

// classify maps errors coming out of cloudflare-go onto our taxonomy.
// Anything unrecognized is treated as transient so it gets the bounded
// retry budget and then surfaces with the underlying error intact.
func classify(err error) Kind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var authnErr cloudflare.AuthenticationError
	var authzErr cloudflare.AuthorizationError
	var ratelimitErr cloudflare.RatelimitError
	var notFoundErr cloudflare.NotFoundError
	var serviceErr cloudflare.ServiceError
	var requestErr cloudflare.RequestError

	switch {
	case errors.As(err, &authnErr), errors.As(err, &authzErr):
		return KindUnauthorized
	case errors.As(err, &ratelimitErr):
		return KindRateLimited
	case errors.As(err, &notFoundErr):
		return KindNotFound
	case errors.As(err, &serviceErr):
		return KindTransient
	case errors.As(err, &requestErr):
		for _, code := range conflictCodes {
			if requestErr.InternalErrorCodeIs(code) {
				return KindConflict
			}
		}
		return KindTransient
	}
	return KindTransient
}
