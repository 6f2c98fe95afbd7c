package validate

import (
	"strings"
	"testing"
)

func validSubmission() Submission {
	return Submission{
		SMTPServer: &RelayInput{Host: "smtp.test", Port: 587, User: "u1", Secret: "s1"},
		Recipients: []string{"a@x.io", "b@x.io"},
		Subject:    "hello",
		Content:    "world",
	}
}

func TestCampaignAcceptsValidSubmission(t *testing.T) {
	cfg, err := Campaign(validSubmission())
	if err != nil {
		t.Fatalf("Campaign() error = %v, want nil", err)
	}
	if len(cfg.Relays) != 1 || cfg.Relays[0].Host != "smtp.test" {
		t.Errorf("Relays = %+v, want one relay for smtp.test", cfg.Relays)
	}
	if cfg.DelaySeconds != defaultDelaySeconds {
		t.Errorf("DelaySeconds = %d, want default %d", cfg.DelaySeconds, defaultDelaySeconds)
	}
	if cfg.MaxFailuresPerRelay != defaultMaxFailuresPerRelay {
		t.Errorf("MaxFailuresPerRelay = %d, want default %d", cfg.MaxFailuresPerRelay, defaultMaxFailuresPerRelay)
	}
}

func TestCampaignRejectsMissingRelay(t *testing.T) {
	s := validSubmission()
	s.SMTPServer = nil
	_, err := Campaign(s)
	if err == nil {
		t.Fatal("expected error when no relay is supplied")
	}
	if !strings.Contains(err.Error(), "smtpServer or smtpServers") {
		t.Errorf("error = %q, want mention of smtpServer/smtpServers", err.Error())
	}
}

func TestCampaignRejectsBadRecipients(t *testing.T) {
	s := validSubmission()
	s.Recipients = []string{"bad-email", "ok@x.io"}
	_, err := Campaign(s)
	if err == nil {
		t.Fatal("expected error for a malformed recipient")
	}
	if !strings.Contains(err.Error(), "bad-email") {
		t.Errorf("error = %q, want the offending recipient named", err.Error())
	}
}

func TestCampaignRejectsEmptySubjectAndContent(t *testing.T) {
	s := validSubmission()
	s.Subject = "   "
	s.Content = ""
	_, err := Campaign(s)
	if err == nil {
		t.Fatal("expected error for blank subject/content")
	}
	errs := err.(Errors)
	if len(errs) != 2 {
		t.Errorf("got %d errors, want 2 (subject and content both flagged)", len(errs))
	}
}

func TestCampaignAccumulatesAllErrors(t *testing.T) {
	s := Submission{Recipients: []string{"bad"}}
	_, err := Campaign(s)
	errs, ok := err.(Errors)
	if !ok {
		t.Fatalf("err is %T, want Errors", err)
	}
	// relay missing, bad recipient, empty subject, empty content.
	if len(errs) < 4 {
		t.Errorf("got %d errors, want at least 4 accumulated", len(errs))
	}
}

func TestCampaignRejectsDuplicateRelayID(t *testing.T) {
	s := validSubmission()
	s.SMTPServers = []RelayInput{
		{ID: "dup", Host: "a.test", Port: 587, User: "u", Secret: "s"},
		{ID: "dup", Host: "b.test", Port: 587, User: "u2", Secret: "s2"},
	}
	s.SMTPServer = nil
	_, err := Campaign(s)
	if err == nil || !strings.Contains(err.Error(), "duplicate relay id") {
		t.Fatalf("err = %v, want duplicate relay id error", err)
	}
}

func TestCampaignHonorsExplicitDelayAndMaxFailures(t *testing.T) {
	s := validSubmission()
	delay := 0
	maxFailures := 7
	s.DelayBetweenEmails = &delay
	s.MaxFailuresPerServer = &maxFailures

	cfg, err := Campaign(s)
	if err != nil {
		t.Fatalf("Campaign() error = %v", err)
	}
	if cfg.DelaySeconds != 0 {
		t.Errorf("DelaySeconds = %d, want 0", cfg.DelaySeconds)
	}
	if cfg.MaxFailuresPerRelay != 7 {
		t.Errorf("MaxFailuresPerRelay = %d, want 7", cfg.MaxFailuresPerRelay)
	}
}

func TestCampaignDropsCustomPoolsWhenDisabled(t *testing.T) {
	s := validSubmission()
	s.CustomSubjects = []string{"should be ignored"}
	s.CustomSenders = []string{"should be ignored"}
	cfg, err := Campaign(s)
	if err != nil {
		t.Fatalf("Campaign() error = %v", err)
	}
	if cfg.CustomSubjects != nil {
		t.Errorf("CustomSubjects = %v, want nil when UseCustomSubjects is false", cfg.CustomSubjects)
	}
	if cfg.CustomSenders != nil {
		t.Errorf("CustomSenders = %v, want nil when UseCustomSenders is false", cfg.CustomSenders)
	}
}

func TestSMTPTestRequiresAllFields(t *testing.T) {
	err := SMTPTest(RelayInput{Host: "h"})
	if err == nil {
		t.Fatal("expected error when port/user/secret are missing")
	}
	errs := err.(Errors)
	if len(errs) != 3 {
		t.Errorf("got %d errors, want 3 (port, user, secret)", len(errs))
	}
}

func TestSMTPTestAcceptsCompleteRequest(t *testing.T) {
	err := SMTPTest(RelayInput{Host: "h", Port: 587, User: "u", Secret: "s"})
	if err != nil {
		t.Errorf("SMTPTest() error = %v, want nil", err)
	}
}
