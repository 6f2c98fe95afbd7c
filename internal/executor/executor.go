// Package executor drives one campaign from pending to a terminal state
// (component E): iterate recipients in order, select a relay, personalize,
// send, update counters, honor the pacing delay, then run a bounded retry
// pass over transient failures.
package executor

import (
	"fmt"
	"math"
	"net/url"
	"time"

	mail "github.com/go-mail/mail/v2"

	"github.com/ignite/campaign-engine/internal/classify"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/personalize"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/rotation"
	"github.com/ignite/campaign-engine/internal/transport"
)

const (
	retryPassCap   = 5
	retryPassDelay = 2 * time.Second
	mailerHeader   = "campaign-engine"
)

// Cache is the subset of *transport.Cache the executor needs. Narrowed to
// an interface so tests can supply a fake transport without opening real
// connections.
type Cache interface {
	Acquire(transport.Relay) (*transport.Handle, error)
}

// Executor owns one campaign's run from start to terminal state.
type Executor struct {
	campaign     *domain.Campaign
	tracker      *rotation.Tracker
	cache        Cache
	personalizer *personalize.Personalizer
	onDone       func()
}

// New builds an Executor for campaign, backed by tracker (already seeded
// from the campaign's relay list) and the shared transport cache.
// onDone is called exactly once when the run reaches a terminal state,
// so the Registry can decrement its active-campaign count.
func New(campaign *domain.Campaign, tracker *rotation.Tracker, cache Cache, personalizer *personalize.Personalizer, onDone func()) *Executor {
	return &Executor{campaign: campaign, tracker: tracker, cache: cache, personalizer: personalizer, onDone: onDone}
}

// Run executes the campaign synchronously; callers that want concurrent
// campaigns invoke Run in its own goroutine (this is what Registry.
// Submit does).
func (e *Executor) Run() {
	c := e.campaign
	c.StartTime = time.Now()
	c.SetStatus(domain.StatusRunning)
	logger.Info("campaign started", "campaign_id", c.ID, "recipients", len(c.Config.Recipients))

	if e.tracker.Select() == nil {
		c.Log.Append("fatal: no active relay available at start")
		logger.Error("campaign aborted", "campaign_id", c.ID, "reason", "no active relay at start")
		c.SetStatus(domain.StatusError)
		e.finish()
		return
	}

	recipients := c.Config.Recipients
	delay := time.Duration(c.Config.DelaySeconds) * time.Second

	for i, recipient := range recipients {
		if c.Status() != domain.StatusRunning {
			break
		}
		c.SetCurrentRecipient(recipient)

		e.attempt(recipient)

		if i < len(recipients)-1 && c.Status() == domain.StatusRunning {
			time.Sleep(delay)
		}
	}

	if c.Status() == domain.StatusRunning {
		e.retryPass()
	}

	if c.Status() == domain.StatusRunning {
		c.SetStatus(domain.StatusCompleted)
	}
	counters := c.Counters()
	c.Log.Append(fmt.Sprintf("campaign finished: status=%s sent=%d success=%d failed=%d",
		c.Status(), counters.Sent, counters.Success, counters.Failed))
	logger.Info("campaign finished", "campaign_id", c.ID, "status", string(c.Status()),
		"sent", counters.Sent, "success", counters.Success, "failed", counters.Failed)
	c.SetCurrentRecipient("<terminated>")
	e.finish()
}

func (e *Executor) finish() {
	if e.onDone != nil {
		e.onDone()
	}
}

// attempt performs one select/acquire/personalize/send cycle for a single
// recipient, updating counters, logs and the retry queue. It never returns
// an error; all failures are absorbed into campaign state per §7's
// "per-recipient errors... do not terminate the campaign".
func (e *Executor) attempt(recipient string) {
	c := e.campaign

	relay := e.tracker.Select()
	if relay == nil {
		c.Log.Append("fatal: no active relay available")
		c.SetStatus(domain.StatusError)
		return
	}

	handle, err := e.cache.Acquire(transport.Relay{
		Host: relay.Relay.Host, Port: relay.Relay.Port,
		User: relay.Relay.User, Secret: relay.Relay.Secret,
	})
	if err != nil {
		e.recordFailure(relay, recipient, err, false)
		return
	}

	tmpl := personalize.Template{
		SubjectTemplate: c.Config.SubjectTemplate,
		BodyTemplate:    c.Config.BodyTemplate,
		CustomSubjects:  c.Config.CustomSubjects,
		CustomSenders:   c.Config.CustomSenders,
		CampaignID:      c.ID,
	}
	msg, err := e.personalizer.Personalize(tmpl, recipient, relay.Relay.User)
	if err != nil {
		e.recordFailure(relay, recipient, err, false)
		return
	}

	envelope := e.buildMessage(relay.Relay, recipient, msg)

	start := time.Now()
	sendErr := handle.Send(envelope)
	latency := time.Since(start)

	if sendErr != nil {
		e.recordFailure(relay, recipient, sendErr, true)
		return
	}

	e.tracker.MarkSuccess(relay.Relay.ID, latency)
	c.IncrSuccess()
	c.IncrSent()
	c.Log.Append(fmt.Sprintf("sent to %s via %s", recipient, relay.Relay.Name))
	logger.Debug("send succeeded", "campaign_id", c.ID, "recipient", logger.RedactEmail(recipient), "relay", relay.Relay.Name, "latency_ms", latency.Milliseconds())
}

// recordFailure applies the shared bookkeeping for a failed attempt:
// rotation tracker update, counters, error/log records, and retry
// enqueuing when the classified error is transient. considerRetry is false
// for acquire failures outside the classifier's send-error scope (mirrors
// §4.E step 4, which treats acquire failures as relay failures but does
// not classify them for retry).
func (e *Executor) recordFailure(relay *domain.RelayState, recipient string, err error, considerRetry bool) {
	c := e.campaign
	e.tracker.MarkFailure(relay.Relay.ID, c.Config.MaxFailuresPerRelay)
	c.IncrFailed()
	c.IncrSent()

	classified := classify.Classify(err)
	c.Errors.Append(domain.ErrorRecord{
		Recipient: recipient,
		Message:   classified.UserMessage,
		RelayName: relay.Relay.Name,
		Timestamp: time.Now(),
	})
	c.Log.Append(fmt.Sprintf("failed to send to %s via %s: %s", recipient, relay.Relay.Name, classified.UserMessage))
	logger.Warn("send failed", "campaign_id", c.ID, "recipient", logger.RedactEmail(recipient),
		"relay", relay.Relay.Name, "code", string(classified.Code), "retryable", classified.Retryable)

	if considerRetry && classified.Retryable {
		c.PushRetry(recipient)
	}
}

// buildMessage constructs the outbound envelope: from = "<from_name>
// <relay.user>", reply-to falls back through custom_reply_to then
// relay.reply_to then relay.user, and headers carry the campaign ID,
// mailer identity and an unsubscribe URL per §4.E step 5.
func (e *Executor) buildMessage(relay domain.Relay, recipient string, p personalize.Result) *mail.Message {
	c := e.campaign
	m := mail.NewMessage()

	from := fmt.Sprintf("%s <%s>", p.FromName, relay.User)
	m.SetHeader("From", from)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", p.Subject)

	replyTo := c.Config.CustomReplyTo
	if replyTo == "" {
		replyTo = relay.ReplyTo
	}
	if replyTo == "" {
		replyTo = relay.User
	}
	m.SetHeader("Reply-To", replyTo)

	m.SetHeader("X-Campaign-ID", c.ID)
	m.SetHeader("X-Mailer", mailerHeader)
	m.SetHeader("List-Unsubscribe", fmt.Sprintf("<%s>", unsubscribeHeaderURL(recipient)))

	contentType := "text/plain"
	if c.Config.IsHTML {
		contentType = "text/html"
	}
	m.SetBody(contentType, p.Body)

	return m
}

func unsubscribeHeaderURL(recipient string) string {
	return "https://unsubscribe.invalid/?email=" + url.QueryEscape(recipient)
}

// retryPass drains up to retryPassCap entries from the campaign's retry
// queue and re-runs the select/acquire/send cycle for each, waiting the
// fixed retryPassDelay before every retry send, without re-enqueueing on
// repeated failure.
func (e *Executor) retryPass() {
	c := e.campaign
	for _, recipient := range c.DrainRetry(retryPassCap) {
		time.Sleep(retryPassDelay)
		if c.Status() != domain.StatusRunning {
			return
		}
		c.SetCurrentRecipient(recipient)
		e.retryAttempt(recipient)
	}
}

// retryAttempt is attempt without re-enqueueing, per "do not re-enqueue on
// repeated failure".
func (e *Executor) retryAttempt(recipient string) {
	c := e.campaign
	relay := e.tracker.Select()
	if relay == nil {
		c.Log.Append("fatal: no active relay available during retry pass")
		c.SetStatus(domain.StatusError)
		return
	}
	handle, err := e.cache.Acquire(transport.Relay{
		Host: relay.Relay.Host, Port: relay.Relay.Port,
		User: relay.Relay.User, Secret: relay.Relay.Secret,
	})
	if err != nil {
		e.recordFailure(relay, recipient, err, false)
		return
	}

	tmpl := personalize.Template{
		SubjectTemplate: c.Config.SubjectTemplate,
		BodyTemplate:    c.Config.BodyTemplate,
		CustomSubjects:  c.Config.CustomSubjects,
		CustomSenders:   c.Config.CustomSenders,
		CampaignID:      c.ID,
	}
	msg, err := e.personalizer.Personalize(tmpl, recipient, relay.Relay.User)
	if err != nil {
		e.recordFailure(relay, recipient, err, false)
		return
	}
	envelope := e.buildMessage(relay.Relay, recipient, msg)

	start := time.Now()
	sendErr := handle.Send(envelope)
	latency := time.Since(start)
	if sendErr != nil {
		e.recordFailure(relay, recipient, sendErr, false)
		return
	}
	e.tracker.MarkSuccess(relay.Relay.ID, latency)
	c.IncrSuccess()
	c.IncrSent()
	c.Log.Append(fmt.Sprintf("retry: sent to %s via %s", recipient, relay.Relay.Name))
}

// DerivedStats is the speed/remaining/ETA trio computed on demand for the
// status endpoint.
type DerivedStats struct {
	SpeedPerMinute float64
	Remaining      int
	ETAMinutes     int
}

// Derive computes speed/remaining/ETA for a campaign snapshot.
func Derive(counters domain.Counters, totalRecipients int, startTime time.Time) DerivedStats {
	elapsed := time.Since(startTime).Minutes()
	if elapsed <= 0 {
		elapsed = 1.0 / 60.0
	}
	speed := float64(counters.Sent) / elapsed
	remaining := totalRecipients - int(counters.Sent)
	if remaining < 0 {
		remaining = 0
	}
	eta := 0
	if speed > 0 {
		eta = int(math.Ceil(float64(remaining) / speed))
	}
	return DerivedStats{SpeedPerMinute: speed, Remaining: remaining, ETAMinutes: eta}
}
