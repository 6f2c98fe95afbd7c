// Package validate implements structural validation of campaign
// submissions and SMTP test requests (component G). Errors accumulate and
// are returned all at once rather than failing fast on the first problem.
package validate

import (
	"regexp"
	"strings"

	"github.com/ignite/campaign-engine/internal/domain"
)

var recipientPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Errors is a list of validation problems. A non-empty Errors is the
// signal to the caller that the submission was rejected.
type Errors []string

func (e Errors) Error() string {
	return strings.Join(e, "; ")
}

const defaultMaxFailuresPerRelay = 3
const defaultDelaySeconds = 5

// Submission mirrors the campaign submission schema from §6. Pointer
// fields distinguish "not provided" from the zero value so defaults only
// apply when the operator omitted them.
type Submission struct {
	SMTPServer           *RelayInput
	SMTPServers          []RelayInput
	UseSMTPRotation      bool
	RotationFrequency    int
	Recipients           []string
	Subject              string
	Content              string
	IsHTML               bool
	DelayBetweenEmails   *int
	UseCustomSubjects    bool
	CustomSubjects       []string
	UseCustomSenders     bool
	CustomSenders        []string
	CustomReplyTo        string
	MaxFailuresPerServer *int
}

// RelayInput is one relay entry within a submission.
type RelayInput struct {
	ID      string
	Name    string
	Host    string
	Port    int
	User    string
	Secret  string
	ReplyTo    string
	DailyLimit int
}

// Campaign validates a campaign submission and, if valid, returns the
// domain.Config ready for Registry.Submit. Rejects unless: a relay (or
// relay list, if rotation) is present; recipients is non-empty and each
// matches the recipient pattern; subject and content are non-empty after
// trimming.
func Campaign(s Submission) (domain.Config, error) {
	var errs Errors

	relays := s.SMTPServers
	if s.SMTPServer != nil {
		relays = append([]RelayInput{*s.SMTPServer}, relays...)
	}
	if len(relays) == 0 {
		errs = append(errs, "smtpServer or smtpServers is required")
	}
	seen := make(map[string]bool, len(relays))
	for i := range relays {
		if relays[i].ID == "" {
			relays[i].ID = strings.TrimSpace(relays[i].Host) + ":" + relays[i].User
		}
		if seen[relays[i].ID] {
			errs = append(errs, "duplicate relay id: "+relays[i].ID)
		}
		seen[relays[i].ID] = true
		if relays[i].Host == "" || relays[i].Port == 0 || relays[i].User == "" || relays[i].Secret == "" {
			errs = append(errs, "relay "+relays[i].ID+" is missing host/port/user/secret")
		}
	}

	if len(s.Recipients) == 0 {
		errs = append(errs, "recipients must be a non-empty list")
	}
	for _, r := range s.Recipients {
		if !recipientPattern.MatchString(r) {
			errs = append(errs, "invalid recipient: "+r)
		}
	}

	if strings.TrimSpace(s.Subject) == "" {
		errs = append(errs, "subject must not be empty")
	}
	if strings.TrimSpace(s.Content) == "" {
		errs = append(errs, "content must not be empty")
	}

	if len(errs) > 0 {
		return domain.Config{}, errs
	}

	delay := defaultDelaySeconds
	if s.DelayBetweenEmails != nil {
		delay = *s.DelayBetweenEmails
	}
	maxFailures := defaultMaxFailuresPerRelay
	if s.MaxFailuresPerServer != nil {
		maxFailures = *s.MaxFailuresPerServer
	}

	domainRelays := make([]domain.Relay, len(relays))
	for i, r := range relays {
		domainRelays[i] = domain.Relay{
			ID: r.ID, Name: r.Name, Host: r.Host, Port: r.Port,
			User: r.User, Secret: r.Secret, ReplyTo: r.ReplyTo, DailyLimit: r.DailyLimit,
		}
	}

	var customSubjects, customSenders []string
	if s.UseCustomSubjects {
		customSubjects = s.CustomSubjects
	}
	if s.UseCustomSenders {
		customSenders = s.CustomSenders
	}

	return domain.Config{
		Recipients:          s.Recipients,
		SubjectTemplate:     s.Subject,
		BodyTemplate:        s.Content,
		IsHTML:              s.IsHTML,
		DelaySeconds:        delay,
		UseRotation:         s.UseSMTPRotation,
		RotationFrequency:   s.RotationFrequency,
		CustomSubjects:      customSubjects,
		CustomSenders:       customSenders,
		CustomReplyTo:       s.CustomReplyTo,
		MaxFailuresPerRelay: maxFailures,
		Relays:              domainRelays,
	}, nil
}

// SMTPTest validates an SMTP test request, requiring host/port/user/secret.
func SMTPTest(r RelayInput) error {
	var errs Errors
	if r.Host == "" {
		errs = append(errs, "host is required")
	}
	if r.Port == 0 {
		errs = append(errs, "port is required")
	}
	if r.User == "" {
		errs = append(errs, "user is required")
	}
	if r.Secret == "" {
		errs = append(errs, "secret is required")
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
