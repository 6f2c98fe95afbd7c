package executor

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/personalize"
	"github.com/ignite/campaign-engine/internal/rotation"
	"github.com/ignite/campaign-engine/internal/transport"
)

// fakeSendCloser implements mail.SendCloser without opening a real
// connection, so tests can drive Executor against a scripted outcome.
type fakeSendCloser struct {
	mu      sync.Mutex
	sent    int
	failIDs map[string]error // recipient (To) -> error to return
}

func (f *fakeSendCloser) Send(from string, to []string, msg io.WriterTo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	if len(to) > 0 {
		if err, ok := f.failIDs[to[0]]; ok {
			return err
		}
	}
	var discard discardWriter
	_, err := msg.WriteTo(discard)
	return err
}

func (f *fakeSendCloser) Close() error { return nil }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// fakeCache returns a transport.Handle wrapping a single shared
// fakeSendCloser, regardless of which relay is requested.
type fakeCache struct {
	closer    *fakeSendCloser
	acquireErr error
}

func (c *fakeCache) Acquire(transport.Relay) (*transport.Handle, error) {
	if c.acquireErr != nil {
		return nil, c.acquireErr
	}
	return transport.NewHandle(c.closer), nil
}

func newTestCampaign(recipients []string, relays []domain.Relay) *domain.Campaign {
	cfg := domain.Config{
		Recipients:          recipients,
		SubjectTemplate:     "Hello {{name}}",
		BodyTemplate:        "Body for {{email}}",
		DelaySeconds:        0,
		MaxFailuresPerRelay: 3,
		Relays:              relays,
	}
	return domain.NewCampaign("campaign_test_000000001", cfg)
}

func TestExecutorRunCompletesOnAllSuccess(t *testing.T) {
	campaign := newTestCampaign(
		[]string{"a@example.com", "b@example.com"},
		[]domain.Relay{{ID: "r1", Name: "relay-one", Host: "smtp.test", Port: 587, User: "u1", Secret: "s1", DailyLimit: 100}},
	)
	tracker := rotation.New(campaign.Config.Relays)
	cache := &fakeCache{closer: &fakeSendCloser{failIDs: map[string]error{}}}
	personalizer := personalize.New()

	done := make(chan struct{})
	exec := New(campaign, tracker, cache, personalizer, func() { close(done) })
	exec.Run()
	<-done

	if campaign.Status() != domain.StatusCompleted {
		t.Fatalf("Status() = %s, want %s", campaign.Status(), domain.StatusCompleted)
	}
	counters := campaign.Counters()
	if counters.Sent != 2 || counters.Success != 2 || counters.Failed != 0 {
		t.Errorf("Counters() = %+v, want sent=2 success=2 failed=0", counters)
	}
}

func TestExecutorRetriesTransientFailureThenSucceeds(t *testing.T) {
	campaign := newTestCampaign(
		[]string{"flaky@example.com"},
		[]domain.Relay{{ID: "r1", Name: "relay-one", Host: "smtp.test", Port: 587, User: "u1", Secret: "s1", DailyLimit: 100}},
	)
	tracker := rotation.New(campaign.Config.Relays)

	closer := &fakeSendCloser{failIDs: map[string]error{"flaky@example.com": errors.New("421 try again later")}}
	cache := &fakeCache{closer: closer}
	personalizer := personalize.New()

	done := make(chan struct{})
	exec := New(campaign, tracker, cache, personalizer, func() { close(done) })

	// Clear the scripted failure before the retry pass runs, by removing it
	// once the main loop has made its one attempt.
	go func() {
		time.Sleep(20 * time.Millisecond)
		closer.mu.Lock()
		delete(closer.failIDs, "flaky@example.com")
		closer.mu.Unlock()
	}()

	exec.Run()
	<-done

	counters := campaign.Counters()
	if counters.Success != 1 {
		t.Errorf("Counters().Success = %d, want 1 after retry pass succeeds", counters.Success)
	}
	errs := campaign.Errors.Last(10)
	if len(errs) == 0 {
		t.Error("expected at least one recorded error from the first attempt")
	}
}

func TestExecutorPermanentFailureIsNotRetried(t *testing.T) {
	campaign := newTestCampaign(
		[]string{"rejected@example.com"},
		[]domain.Relay{{ID: "r1", Name: "relay-one", Host: "smtp.test", Port: 587, User: "u1", Secret: "s1", DailyLimit: 100}},
	)
	tracker := rotation.New(campaign.Config.Relays)
	closer := &fakeSendCloser{failIDs: map[string]error{"rejected@example.com": errors.New("550 no such user")}}
	cache := &fakeCache{closer: closer}
	personalizer := personalize.New()

	done := make(chan struct{})
	exec := New(campaign, tracker, cache, personalizer, func() { close(done) })
	exec.Run()
	<-done

	counters := campaign.Counters()
	if counters.Failed != 1 || counters.Success != 0 {
		t.Errorf("Counters() = %+v, want failed=1 success=0", counters)
	}
	if campaign.Status() != domain.StatusCompleted {
		t.Errorf("Status() = %s, want completed (permanent failure does not abort the campaign)", campaign.Status())
	}
}

func TestExecutorErrorsWhenNoRelayAvailable(t *testing.T) {
	campaign := newTestCampaign([]string{"a@example.com"}, nil)
	tracker := rotation.New(nil)
	cache := &fakeCache{closer: &fakeSendCloser{}}
	personalizer := personalize.New()

	done := make(chan struct{})
	exec := New(campaign, tracker, cache, personalizer, func() { close(done) })
	exec.Run()
	<-done

	if campaign.Status() != domain.StatusError {
		t.Fatalf("Status() = %s, want %s", campaign.Status(), domain.StatusError)
	}
}

func TestExecutorStopMidRunHaltsRemainingRecipients(t *testing.T) {
	campaign := newTestCampaign(
		[]string{"a@example.com", "b@example.com", "c@example.com"},
		[]domain.Relay{{ID: "r1", Name: "relay-one", Host: "smtp.test", Port: 587, User: "u1", Secret: "s1", DailyLimit: 100}},
	)
	campaign.Config.DelaySeconds = 1
	tracker := rotation.New(campaign.Config.Relays)
	cache := &fakeCache{closer: &fakeSendCloser{failIDs: map[string]error{}}}
	personalizer := personalize.New()

	done := make(chan struct{})
	exec := New(campaign, tracker, cache, personalizer, func() { close(done) })

	go exec.Run()
	time.Sleep(50 * time.Millisecond)
	campaign.TryStop()
	<-done

	if campaign.Status() != domain.StatusStopped {
		t.Fatalf("Status() = %s, want %s", campaign.Status(), domain.StatusStopped)
	}
	counters := campaign.Counters()
	if counters.Sent >= 3 {
		t.Errorf("Counters().Sent = %d, want fewer than all 3 recipients processed after stop", counters.Sent)
	}
}

func TestExecutorAcquireFailureIsNotRetried(t *testing.T) {
	campaign := newTestCampaign(
		[]string{"a@example.com"},
		[]domain.Relay{{ID: "r1", Name: "relay-one", Host: "smtp.test", Port: 587, User: "u1", Secret: "s1", DailyLimit: 100}},
	)
	tracker := rotation.New(campaign.Config.Relays)
	cache := &fakeCache{acquireErr: errors.New("dial tcp: connection refused")}
	personalizer := personalize.New()

	done := make(chan struct{})
	exec := New(campaign, tracker, cache, personalizer, func() { close(done) })
	exec.Run()
	<-done

	counters := campaign.Counters()
	if counters.Failed != 1 {
		t.Errorf("Counters().Failed = %d, want 1", counters.Failed)
	}
}

func TestDerive(t *testing.T) {
	start := time.Now().Add(-2 * time.Minute)
	counters := domain.Counters{Sent: 10, Success: 9, Failed: 1}

	derived := Derive(counters, 20, start)
	if derived.Remaining != 10 {
		t.Errorf("Remaining = %d, want 10", derived.Remaining)
	}
	if derived.SpeedPerMinute <= 0 {
		t.Errorf("SpeedPerMinute = %f, want > 0", derived.SpeedPerMinute)
	}
	if derived.ETAMinutes <= 0 {
		t.Errorf("ETAMinutes = %d, want > 0", derived.ETAMinutes)
	}
}

func TestDeriveClampsNegativeRemaining(t *testing.T) {
	derived := Derive(domain.Counters{Sent: 25}, 20, time.Now().Add(-time.Minute))
	if derived.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0 when sent exceeds total", derived.Remaining)
	}
}
