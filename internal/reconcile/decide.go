// Package reconcile compares detected addresses against provider state and
// applies the minimal set of record mutations.
package reconcile

import (
	"github.com/quarterhalt/cfddns/internal/detect"
	"github.com/quarterhalt/cfddns/internal/provider"
)

// Action is what the decision core wants done for one (domain, family) pair.
type Action int

const (
	ActionNone Action = iota
	ActionCreate
	ActionUpdate
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	default:
		return "noop"
	}
}

// Decision is the outcome of comparing desired against observed state.
type Decision struct {
	Domain  string
	Family  detect.Family
	Action  Action
	Reason  string
	Desired provider.Record
}

// Cloudflare forces TTL 1 ("automatic") on proxied records, so sending a
// custom TTL for them would report spurious drift on the next pass.
func effectiveTTL(proxied bool, ttl int) int {
	if proxied {
		return 1
	}
	if ttl <= 0 {
		return 1
	}
	return ttl
}

// Decide is the pure decision core. Given the detected address for one
// family, the existing record (nil if absent), and the desired proxy flag,
// it picks the single action that converges the record.
//
// Content drift is checked before proxy drift so that one update call
// corrects both dimensions at once.
func Decide(domain string, addr detect.Address, existing *provider.Record, proxied bool, ttl int) Decision {
	desired := provider.Record{
		Name:    domain,
		Type:    string(addr.Family),
		Content: addr.Addr.String(),
		Proxied: proxied,
		TTL:     effectiveTTL(proxied, ttl),
	}
	d := Decision{Domain: domain, Family: addr.Family, Desired: desired}

	switch {
	case existing == nil:
		d.Action = ActionCreate
		d.Reason = "no existing record"
	case existing.Content != desired.Content:
		d.Action = ActionUpdate
		d.Desired.ID = existing.ID
		d.Reason = "address changed"
	case existing.Proxied != proxied:
		d.Action = ActionUpdate
		d.Desired.ID = existing.ID
		d.Reason = "proxied flag changed"
	default:
		d.Action = ActionNone
		d.Reason = "record up to date"
	}
	return d
}
