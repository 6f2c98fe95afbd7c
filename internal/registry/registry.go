// Package registry implements the process-wide campaign collection
// (component F): admission with a concurrency cap, ID assignment, lookup,
// stop, aggregate stats and a retention GC. It is the one place that owns
// domain.Campaign records; everything else observes or mutates through it.
package registry

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/executor"
	"github.com/ignite/campaign-engine/internal/personalize"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/rotation"
	"github.com/ignite/campaign-engine/internal/transport"
)

// ErrAtCapacity is returned by Submit when max_concurrent campaigns are
// already running.
var ErrAtCapacity = errors.New("maximum concurrent campaigns reached")

const (
	defaultMaxConcurrent = 3
	gcInterval           = time.Hour
	gcAge                = 2 * time.Hour
)

// Registry is the process-wide singleton described in §9: created at
// startup, its GC ticker started alongside it, drained and closed at
// shutdown. Callers receive it as an explicit dependency rather than
// reaching for ambient state.
type Registry struct {
	mu        sync.RWMutex
	campaigns map[string]*campaignEntry

	cache         *transport.Cache
	personalizer  *personalize.Personalizer
	maxConcurrent int

	activeMu sync.Mutex
	active   int

	stopGC chan struct{}
	wg     sync.WaitGroup
}

type campaignEntry struct {
	campaign *domain.Campaign
	tracker  *rotation.Tracker
}

// New creates an empty registry backed by the given transport cache and
// personalizer, admitting up to defaultMaxConcurrent campaigns at once, and
// starts its hourly GC ticker.
func New(cache *transport.Cache, personalizer *personalize.Personalizer) *Registry {
	return NewWithCap(cache, personalizer, defaultMaxConcurrent)
}

// NewWithCap is New with an explicit concurrency cap, for callers wiring
// config.RegistryConfig.MaxConcurrent from configuration.
func NewWithCap(cache *transport.Cache, personalizer *personalize.Personalizer, maxConcurrent int) *Registry {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	r := &Registry{
		campaigns:     make(map[string]*campaignEntry),
		cache:         cache,
		personalizer:  personalizer,
		maxConcurrent: maxConcurrent,
		stopGC:        make(chan struct{}),
	}
	r.wg.Add(1)
	go r.gcLoop()
	return r
}

// Submit validates nothing itself (callers run package validate first).
// It first checks the concurrency cap, returning ErrAtCapacity when full;
// otherwise it allocates an ID, constructs the pending record and starts
// an Executor for it.
func (r *Registry) Submit(cfg domain.Config) (string, error) {
	r.activeMu.Lock()
	if r.active >= r.maxConcurrent {
		r.activeMu.Unlock()
		return "", ErrAtCapacity
	}
	r.active++
	r.activeMu.Unlock()

	id := newCampaignID()
	campaign := domain.NewCampaign(id, cfg)
	tracker := rotation.New(cfg.Relays)

	r.mu.Lock()
	r.campaigns[id] = &campaignEntry{campaign: campaign, tracker: tracker}
	r.mu.Unlock()

	exec := executor.New(campaign, tracker, r.cache, r.personalizer, func() {
		r.activeMu.Lock()
		r.active--
		r.activeMu.Unlock()
	})
	logger.Info("campaign submitted", "campaign_id", id, "relays", len(cfg.Relays), "recipients", len(cfg.Recipients))
	go exec.Run()

	return id, nil
}

// Get returns the live campaign record for id, or nil if absent.
func (r *Registry) Get(id string) *domain.Campaign {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.campaigns[id]
	if !ok {
		return nil
	}
	return entry.campaign
}

// RotationSnapshot returns the per-relay runtime state for id, or nil if
// the campaign doesn't exist.
func (r *Registry) RotationSnapshot(id string) []domain.RelayState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.campaigns[id]
	if !ok {
		return nil
	}
	return entry.tracker.Snapshot()
}

// Stop requests that campaign id stop. Returns whether a transition
// occurred: false if the campaign doesn't exist or is already terminal.
func (r *Registry) Stop(id string) bool {
	r.mu.RLock()
	entry, ok := r.campaigns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	stopped := entry.campaign.TryStop()
	if stopped {
		logger.Info("campaign stopped", "campaign_id", id)
	}
	return stopped
}

// Stats is the aggregate view across all live records, for /api/stats.
type Stats struct {
	TotalCampaigns int
	Active         int
	Completed      int
	Stopped        int
	Errored        int
	TotalSent      int64
	TotalSuccess   int64
	TotalFailed    int64
}

// Stats aggregates counters and statuses across every live campaign.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	s.TotalCampaigns = len(r.campaigns)
	for _, entry := range r.campaigns {
		counters := entry.campaign.Counters()
		s.TotalSent += counters.Sent
		s.TotalSuccess += counters.Success
		s.TotalFailed += counters.Failed
		switch entry.campaign.Status() {
		case domain.StatusRunning, domain.StatusPending:
			s.Active++
		case domain.StatusCompleted:
			s.Completed++
		case domain.StatusStopped:
			s.Stopped++
		case domain.StatusError:
			s.Errored++
		}
	}
	return s
}

// gc deletes terminal records older than gcAge. It is unexported; gcLoop
// calls it on every tick, and tests in this package may call it directly
// to trigger a sweep without waiting for the ticker.
func (r *Registry) gc() {
	cutoff := time.Now().Add(-gcAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.campaigns {
		if entry.campaign.Status().IsTerminal() && entry.campaign.StartTime.Before(cutoff) {
			delete(r.campaigns, id)
			logger.Debug("campaign reclaimed", "campaign_id", id)
		}
	}
}

func (r *Registry) gcLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.gc()
		case <-r.stopGC:
			return
		}
	}
}

// Shutdown signals all executors to stop, waits up to the given drain
// timeout, then returns regardless (the caller force-exits after that).
// It also stops the GC loop and closes the shared transport cache.
func (r *Registry) Shutdown(drain time.Duration) {
	logger.Info("registry shutdown requested", "drain", drain.String())
	r.mu.RLock()
	for _, entry := range r.campaigns {
		entry.campaign.TryStop()
	}
	r.mu.RUnlock()

	close(r.stopGC)
	r.wg.Wait()

	deadline := time.Now().Add(drain)
	for time.Now().Before(deadline) {
		r.activeMu.Lock()
		remaining := r.active
		r.activeMu.Unlock()
		if remaining == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	r.cache.Shutdown()
}

// newCampaignID returns an ID of the form campaign_<epoch_ms>_<9-char-random>,
// the random suffix taken from a freshly generated UUID.
func newCampaignID() string {
	ms := time.Now().UnixMilli()
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:9]
	return "campaign_" + strconv.FormatInt(ms, 10) + "_" + suffix
}
