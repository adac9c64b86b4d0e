package reconcile

import (
	"sync"
	"time"

	"github.com/quarterhalt/cfddns/internal/detect"
	"github.com/quarterhalt/cfddns/internal/provider"
)

// Outcome is the terminal state of one (domain, family) pair for a pass.
type Outcome string

const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeUpdated   Outcome = "updated"
	OutcomeCreated   Outcome = "created"
	OutcomeFailed    Outcome = "failed"
)

// ReasonNoAddress marks a pair that was skipped because its family's
// address could not be detected this pass.
const ReasonNoAddress = "no address available"

// FamilyResult records how one (domain, family) pair ended.
type FamilyResult struct {
	Outcome Outcome
	Reason  string
	Kind    provider.Kind // set when Outcome is OutcomeFailed
}

// Report aggregates per-domain outcomes for one pass. It is append-only
// while the pass runs and immutable once the pass completes.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time

	mu      sync.Mutex
	domains map[string]map[detect.Family]FamilyResult
}

func newReport() *Report {
	return &Report{
		StartedAt: time.Now(),
		domains:   make(map[string]map[detect.Family]FamilyResult),
	}
}

func (r *Report) record(domain string, family detect.Family, res FamilyResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.domains[domain] == nil {
		r.domains[domain] = make(map[detect.Family]FamilyResult)
	}
	r.domains[domain][family] = res
}

// Domains returns a copy of the per-domain results.
func (r *Report) Domains() map[string]map[detect.Family]FamilyResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]map[detect.Family]FamilyResult, len(r.domains))
	for domain, families := range r.domains {
		fc := make(map[detect.Family]FamilyResult, len(families))
		for fam, res := range families {
			fc[fam] = res
		}
		out[domain] = fc
	}
	return out
}

// Failures counts pairs that ended in OutcomeFailed.
func (r *Report) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, families := range r.domains {
		for _, res := range families {
			if res.Outcome == OutcomeFailed {
				n++
			}
		}
	}
	return n
}
