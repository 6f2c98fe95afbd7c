// Package rotation implements the per-campaign relay health tracker and
// selection policy (component D). A Tracker is private to one campaign;
// nothing outside its owning executor mutates it, unlike the teacher's
// Redis-shared ESP health map this is adapted from.
package rotation

import (
	"sort"
	"sync"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

const cooldown = 30 * time.Minute

// Tracker holds the ordered list of relay runtime states for one campaign
// and selects the next relay to use. All methods are safe for concurrent
// use, though in practice only the owning executor calls them.
type Tracker struct {
	mu      sync.Mutex
	relays  []*domain.RelayState
	current int // advisory index into relays; Select neither reads nor updates it
	now     func() time.Time
}

// New builds a Tracker from a campaign's relay list, each starting active
// with zero counters.
func New(relays []domain.Relay) *Tracker {
	states := make([]*domain.RelayState, len(relays))
	for i, r := range relays {
		states[i] = &domain.RelayState{Relay: r, Active: true}
	}
	return &Tracker{relays: states, now: time.Now}
}

// Select executes the selection policy atomically: first expires any
// cooldown that has elapsed, then returns the active, under-quota relay
// with the lexicographically smallest (failure_count, sent_count,
// response_time), ties broken by original list order. Returns nil if no
// relay qualifies.
func (t *Tracker) Select() *domain.RelayState {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for _, rs := range t.relays {
		if !rs.Active && rs.LastFailure != nil && now.Sub(*rs.LastFailure) >= cooldown {
			rs.Active = true
			rs.FailureCount = 0
		}
	}

	candidates := make([]*domain.RelayState, 0, len(t.relays))
	for _, rs := range t.relays {
		if rs.Active && rs.SentCount < rs.Relay.NormalizedDailyLimit() {
			candidates = append(candidates, rs)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.FailureCount != b.FailureCount {
			return a.FailureCount < b.FailureCount
		}
		if a.SentCount != b.SentCount {
			return a.SentCount < b.SentCount
		}
		return a.ResponseTime < b.ResponseTime
	})

	return candidates[0]
}

// MarkSuccess records a successful send on the relay identified by id:
// sent_count increments, last_used advances, and failure_count decays by
// one (bounded at zero) so a recent success gradually restores trust.
// latency is the observed send duration, fed forward for the response-time
// tiebreak in Select.
func (t *Tracker) MarkSuccess(id string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs := t.find(id)
	if rs == nil {
		return
	}
	rs.SentCount++
	now := t.now()
	rs.LastUsed = &now
	rs.ResponseTime = latency
	if rs.FailureCount > 0 {
		rs.FailureCount--
	}
}

// MarkFailure records a failed send attempt on the relay identified by id.
// failure_count increments and last_failure advances; once failure_count
// reaches maxFailures the relay is deactivated until cooldown expiry.
func (t *Tracker) MarkFailure(id string, maxFailures int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs := t.find(id)
	if rs == nil {
		return
	}
	rs.FailureCount++
	now := t.now()
	rs.LastFailure = &now
	if rs.FailureCount >= maxFailures {
		rs.Active = false
	}
}

func (t *Tracker) find(id string) *domain.RelayState {
	for _, rs := range t.relays {
		if rs.Relay.ID == id {
			return rs
		}
	}
	return nil
}

// Snapshot returns a point-in-time, independently-mutable copy of every
// relay's runtime state for status reporting.
func (t *Tracker) Snapshot() []domain.RelayState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.RelayState, len(t.relays))
	for i, rs := range t.relays {
		out[i] = *rs
	}
	return out
}
