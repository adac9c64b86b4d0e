package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quarterhalt/cfddns/internal/detect"
	"github.com/quarterhalt/cfddns/internal/provider"
)

// Detector yields the detected addresses shared by every domain in a pass.
type Detector interface {
	Detect(ctx context.Context) detect.Result
}

// ErrUnauthorized aborts a pass: a rejected credential applies to every
// remaining domain, so there is no point attempting them.
var ErrUnauthorized = errors.New("provider rejected the API credential")

// Runner drives one reconciliation pass: detect addresses once, then
// resolve, decide, and apply per domain. Domains are isolated from each
// other; a failure in one records its outcome and the pass moves on.
type Runner struct {
	Client   provider.Client
	Detector Detector
	Logger   *logrus.Entry
	Domains  []string
	Proxied  bool
	TTL      int
	Workers  int
}

// Run executes one pass and returns the report. The returned error is
// non-nil only when the pass as a whole aborted (bad credential or
// canceled context); per-domain failures live in the report instead.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	log := r.Logger.WithField("component", "reconcile")
	report := newReport()
	defer func() { report.FinishedAt = time.Now() }()

	result := r.Detector.Detect(ctx)
	if a := result.IPv4; a != nil {
		log.WithFields(logrus.Fields{"family": a.Family, "address": a.Addr.String(), "source": a.Source}).Info("detected address")
	}
	if a := result.IPv6; a != nil {
		log.WithFields(logrus.Fields{"family": a.Family, "address": a.Addr.String(), "source": a.Source}).Info("detected address")
	}

	resolver := newZoneResolver(r.Client)
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, domain := range r.Domains {
		domain := domain
		g.Go(func() error {
			return r.reconcileDomain(gctx, log, resolver, domain, result, report)
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("pass aborted")
		return report, err
	}
	log.WithFields(logrus.Fields{
		"domains":  len(r.Domains),
		"failures": report.Failures(),
		"elapsed":  time.Since(report.StartedAt).String(),
	}).Info("pass complete")
	return report, nil
}

// reconcileDomain runs resolve -> decide -> apply for every enabled family
// of one domain. It returns an error only for failures that must abort the
// whole pass; everything else is recorded in the report.
func (r *Runner) reconcileDomain(ctx context.Context, log *logrus.Entry, resolver *zoneResolver, domain string, result detect.Result, report *Report) error {
	if err := ctx.Err(); err != nil {
		// The pass was aborted before this domain started; leave it out
		// of the report rather than recording a misleading failure.
		return err
	}
	zone, err := resolver.zoneFor(ctx, domain)
	if err != nil {
		if kind := provider.KindOf(err); kind != provider.KindUnauthorized {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			for _, fam := range []detect.Family{detect.IPv4, detect.IPv6} {
				if result.Enabled(fam) {
					r.record(log, report, domain, fam, FamilyResult{Outcome: OutcomeFailed, Reason: err.Error(), Kind: kind})
				}
			}
			return nil
		}
		return ErrUnauthorized
	}

	for _, fam := range []detect.Family{detect.IPv4, detect.IPv6} {
		if !result.Enabled(fam) {
			continue
		}
		addr := result.Address(fam)
		if addr == nil {
			// Writing a record with no known-good content would be wrong;
			// the next scheduled pass will try detection again.
			r.record(log, report, domain, fam, FamilyResult{Outcome: OutcomeUnchanged, Reason: ReasonNoAddress})
			continue
		}
		if err := r.reconcilePair(ctx, log, resolver, zone, domain, *addr, report); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) reconcilePair(ctx context.Context, log *logrus.Entry, resolver *zoneResolver, zone provider.Zone, domain string, addr detect.Address, report *Report) error {
	fail := func(err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		kind := provider.KindOf(err)
		if kind == provider.KindUnauthorized {
			return ErrUnauthorized
		}
		r.record(log, report, domain, addr.Family, FamilyResult{Outcome: OutcomeFailed, Reason: err.Error(), Kind: kind})
		return nil
	}

	existing, err := resolver.existingRecord(ctx, zone, domain, addr.Family)
	if err != nil {
		return fail(err)
	}

	decision := Decide(domain, addr, existing, r.Proxied, r.TTL)
	switch decision.Action {
	case ActionNone:
		r.record(log, report, domain, addr.Family, FamilyResult{Outcome: OutcomeUnchanged, Reason: decision.Reason})
	case ActionCreate:
		if err := r.Client.CreateRecord(ctx, zone.ID, decision.Desired); err != nil {
			return fail(err)
		}
		r.record(log, report, domain, addr.Family, FamilyResult{Outcome: OutcomeCreated, Reason: decision.Reason})
	case ActionUpdate:
		if err := r.Client.UpdateRecord(ctx, zone.ID, decision.Desired); err != nil {
			return fail(err)
		}
		r.record(log, report, domain, addr.Family, FamilyResult{Outcome: OutcomeUpdated, Reason: decision.Reason})
	}
	return nil
}

// record stores the outcome and emits the one structured log line per
// (domain, family) pair that operators and log scrapers rely on.
func (r *Runner) record(log *logrus.Entry, report *Report, domain string, fam detect.Family, res FamilyResult) {
	report.record(domain, fam, res)
	entry := log.WithFields(logrus.Fields{
		"domain":  domain,
		"type":    fam,
		"outcome": res.Outcome,
		"reason":  res.Reason,
	})
	if res.Outcome == OutcomeFailed {
		entry.WithField("kind", res.Kind).Warn("record reconciliation failed")
		return
	}
	entry.Info("record reconciled")
}

// RunEvery re-runs the pass on a fixed interval until ctx is canceled.
// Intervals under one minute are clamped to avoid hammering the detection
// services and the provider API.
func (r *Runner) RunEvery(ctx context.Context, interval time.Duration) {
	if interval < 1*time.Minute {
		interval = 1 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.Logger.WithError(err).Error("scheduled pass aborted")
			}
		}
	}
}
