// Package api implements the HTTP control plane (§6): a thin adapter over
// the core engine, translating JSON requests into validate/registry calls
// and campaign state into the documented response envelopes.
package api

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	mail "github.com/go-mail/mail/v2"

	"github.com/ignite/campaign-engine/internal/executor"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/registry"
	"github.com/ignite/campaign-engine/internal/transport"
	"github.com/ignite/campaign-engine/internal/validate"
)

// Handlers holds the dependencies every route needs: the campaign
// registry and the shared transport cache backing /api/smtp/test.
type Handlers struct {
	registry  *registry.Registry
	cache     *transport.Cache
	startTime time.Time
}

// NewHandlers builds the handler set for SetupRoutes.
func NewHandlers(reg *registry.Registry, cache *transport.Cache) *Handlers {
	return &Handlers{registry: reg, cache: cache, startTime: time.Now()}
}

// HandleIndex serves the service descriptor at GET /.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"success": true,
		"service": "campaign-engine",
		"uptime":  time.Since(h.startTime).String(),
	})
}

// HandleHealth serves liveness, uptime, memory and campaign counts at
// GET /api/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	stats := h.registry.Stats()

	httputil.OK(w, map[string]any{
		"success": true,
		"status":  "healthy",
		"uptime":  time.Since(h.startTime).String(),
		"memory": map[string]any{
			"allocBytes":      m.Alloc,
			"totalAllocBytes": m.TotalAlloc,
			"sysBytes":        m.Sys,
			"numGoroutine":    runtime.NumGoroutine(),
		},
		"campaigns": map[string]any{
			"total":  stats.TotalCampaigns,
			"active": stats.Active,
		},
	})
}

// HandleSMTPTest verifies a relay and, when sendTo is supplied, sends a
// live test message over the same verified handle.
func (h *Handlers) HandleSMTPTest(w http.ResponseWriter, r *http.Request) {
	var req smtpTestRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	if err := validate.SMTPTest(validate.RelayInput{Host: req.Host, Port: req.Port, User: req.User, Secret: req.Secret}); err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	handle, err := h.cache.Acquire(transport.Relay{Host: req.Host, Port: req.Port, User: req.User, Secret: req.Secret})
	if err != nil {
		httputil.JSON(w, http.StatusOK, map[string]any{"success": false, "verified": false, "error": err.Error()})
		return
	}

	resp := map[string]any{"success": true, "verified": true}

	if req.SendTo != "" {
		m := mail.NewMessage()
		m.SetHeader("From", req.User)
		m.SetHeader("To", req.SendTo)
		m.SetHeader("Subject", "SMTP relay test")
		m.SetBody("text/plain", "This is a test message from the campaign engine's SMTP test endpoint.")
		if sendErr := handle.Send(m); sendErr != nil {
			resp["sent"] = false
			resp["sendError"] = sendErr.Error()
		} else {
			resp["sent"] = true
		}
	}

	httputil.OK(w, resp)
}

// HandleCampaignStart validates and submits a campaign at
// POST /api/campaign/start.
func (h *Handlers) HandleCampaignStart(w http.ResponseWriter, r *http.Request) {
	var req campaignStartRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	submission := validate.Submission{
		UseSMTPRotation:      req.UseSMTPRotation,
		RotationFrequency:    req.RotationFrequency,
		Recipients:           req.Recipients,
		Subject:              req.Subject,
		Content:              req.Content,
		IsHTML:               req.IsHTML,
		DelayBetweenEmails:   req.DelayBetweenEmails,
		UseCustomSubjects:    req.UseCustomSubjects,
		CustomSubjects:       req.CustomSubjects,
		UseCustomSenders:     req.UseCustomSenders,
		CustomSenders:        req.CustomSenders,
		CustomReplyTo:        req.CustomReplyTo,
		MaxFailuresPerServer: req.MaxFailuresPerServer,
	}
	if req.SMTPServer != nil {
		ri := relayToInput(*req.SMTPServer)
		submission.SMTPServer = &ri
	}
	for _, s := range req.SMTPServers {
		submission.SMTPServers = append(submission.SMTPServers, relayToInput(s))
	}

	cfg, err := validate.Campaign(submission)
	if err != nil {
		httputil.JSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}

	id, err := h.registry.Submit(cfg)
	if err != nil {
		httputil.JSON(w, http.StatusTooManyRequests, map[string]any{"success": false, "error": err.Error()})
		return
	}

	httputil.OK(w, campaignStartResponse{Success: true, CampaignID: id})
}

func relayToInput(d relayDTO) validate.RelayInput {
	return validate.RelayInput{
		ID: d.ID, Name: d.Name, Host: d.Host, Port: d.Port,
		User: d.User, Secret: d.Secret, ReplyTo: d.ReplyTo, DailyLimit: d.DailyLimit,
	}
}

// HandleCampaignStatus serves GET /api/campaign/:id/status.
func (h *Handlers) HandleCampaignStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c := h.registry.Get(id)
	if c == nil {
		httputil.NotFound(w, "campaign not found")
		return
	}

	counters := c.Counters()
	derived := executor.Derive(counters, len(c.Config.Recipients), c.StartTime)

	logLines := c.Log.Last(50)
	errRecords := c.Errors.Last(10)
	errDTOs := make([]errorDTO, len(errRecords))
	for i, e := range errRecords {
		errDTOs[i] = errorDTO{Recipient: e.Recipient, Message: e.Message, RelayName: e.RelayName, Timestamp: e.Timestamp.Format(time.RFC3339)}
	}

	httputil.OK(w, statusResponse{
		Success:          true,
		ID:               c.ID,
		Status:           string(c.Status()),
		Sent:             counters.Sent,
		Success_:         counters.Success,
		Failed:           counters.Failed,
		CurrentRecipient: c.CurrentRecipient(),
		SpeedPerMinute:   derived.SpeedPerMinute,
		Remaining:        derived.Remaining,
		ETAMinutes:       derived.ETAMinutes,
		Log:              logLines,
		Errors:           errDTOs,
	})
}

// HandleCampaignRotation serves GET /api/campaign/:id/smtp-rotation.
func (h *Handlers) HandleCampaignRotation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c := h.registry.Get(id)
	if c == nil {
		httputil.NotFound(w, "campaign not found")
		return
	}
	snapshot := h.registry.RotationSnapshot(id)
	out := make([]relayStateDTO, len(snapshot))
	for i, rs := range snapshot {
		out[i] = relayStateDTO{
			ID: rs.Relay.ID, Name: rs.Relay.Name, Active: rs.Active,
			FailureCount: rs.FailureCount, SentCount: rs.SentCount,
			DailyLimit: rs.Relay.NormalizedDailyLimit(),
		}
	}
	httputil.OK(w, map[string]any{"success": true, "relays": out})
}

// HandleCampaignStop serves POST /api/campaign/:id/stop.
func (h *Handlers) HandleCampaignStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.registry.Get(id) == nil {
		httputil.NotFound(w, "campaign not found")
		return
	}
	stopped := h.registry.Stop(id)
	httputil.OK(w, map[string]any{"success": true, "stopped": stopped})
}

// HandleStats serves GET /api/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	s := h.registry.Stats()
	httputil.OK(w, statsResponse{
		Success: true, TotalCampaigns: s.TotalCampaigns, Active: s.Active,
		Completed: s.Completed, Stopped: s.Stopped, Errored: s.Errored,
		TotalSent: s.TotalSent, TotalSuccess: s.TotalSuccess, TotalFailed: s.TotalFailed,
	})
}

// HandleNotFound serves unknown paths with a short descriptor and 404,
// per §6 "unknown paths return 404 with a short descriptor".
func HandleNotFound(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusNotFound, map[string]any{
		"success": false,
		"error":   fmt.Sprintf("no such route: %s %s", r.Method, r.URL.Path),
	})
}
