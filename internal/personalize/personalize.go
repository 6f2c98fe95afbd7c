// Package personalize derives a per-recipient subject, body and from-name
// from a campaign's templates (component B). Substitution is driven by
// osteele/liquid running in lax mode, so a template referencing a variable
// outside the fixed set below simply renders empty instead of erroring —
// the engine only ever supplies the documented token set.
package personalize

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/osteele/liquid"
)

// Result is the per-recipient message derived by Personalize.
type Result struct {
	Subject  string
	Body     string
	FromName string
}

// Template holds the fields of a campaign that feed personalization. It is
// a narrow view so this package does not depend on package domain's full
// Config.
type Template struct {
	SubjectTemplate string
	BodyTemplate    string
	CustomSubjects  []string
	CustomSenders   []string
	CampaignID      string
	UnsubscribeBase string // base URL; recipient is appended as a query param
}

// Personalizer renders templates for individual recipients. The zero value
// is not usable; use New.
type Personalizer struct {
	engine *liquid.Engine
}

// New builds a Personalizer with a liquid engine configured for lax
// rendering: unresolved variables render as empty strings rather than
// failing the render, matching "substitute literal {{token}} markers,
// leaving the rest of the text untouched".
func New() *Personalizer {
	return &Personalizer{engine: liquid.NewEngine()}
}

// Personalize derives the subject/body/from-name for one recipient.
// fromUser is the relay's authenticated user, used to derive a fallback
// from-name when the campaign has no custom sender pool.
func (p *Personalizer) Personalize(t Template, recipient, fromUser string) (Result, error) {
	name, domain := splitRecipient(recipient)

	subject := t.SubjectTemplate
	if len(t.CustomSubjects) > 0 {
		subject = pickRandom(t.CustomSubjects)
	}

	fromName := userLocalPart(fromUser)
	if len(t.CustomSenders) > 0 {
		fromName = pickRandom(t.CustomSenders)
	}

	now := time.Now()
	bindings := map[string]interface{}{
		"name":        name,
		"email":       recipient,
		"domain":      domain,
		"unsubscribe": unsubscribeURL(t.UnsubscribeBase, recipient),
		"date":        now.Format("January 2, 2006"),
		"time":        now.Format("3:04 PM"),
		"campaign_id": t.CampaignID,
		"ref":         refToken(),
	}

	renderedSubject, err := p.render(subject, bindings)
	if err != nil {
		return Result{}, fmt.Errorf("personalize subject: %w", err)
	}
	renderedBody, err := p.render(t.BodyTemplate, bindings)
	if err != nil {
		return Result{}, fmt.Errorf("personalize body: %w", err)
	}

	return Result{Subject: renderedSubject, Body: renderedBody, FromName: fromName}, nil
}

func (p *Personalizer) render(tpl string, bindings map[string]interface{}) (string, error) {
	if tpl == "" {
		return "", nil
	}
	out, err := p.engine.ParseAndRenderString(tpl, bindings)
	if err != nil {
		// A template that isn't valid Liquid is treated as a literal string
		// with no substitution, rather than failing the whole send.
		return tpl, nil
	}
	return out, nil
}

// splitRecipient derives name/domain per "name = recipient[:'@'], domain =
// recipient['@':]".
func splitRecipient(recipient string) (name, domain string) {
	i := strings.IndexByte(recipient, '@')
	if i < 0 {
		return recipient, ""
	}
	return recipient[:i], recipient[i+1:]
}

// userLocalPart returns the portion of an SMTP user before '@', or the
// whole string if it isn't address-shaped.
func userLocalPart(user string) string {
	if i := strings.IndexByte(user, '@'); i >= 0 {
		return user[:i]
	}
	return user
}

func unsubscribeURL(base, recipient string) string {
	if base == "" {
		base = "https://unsubscribe.invalid/"
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "email=" + url.QueryEscape(recipient)
}

// pickRandom chooses uniformly at random among choices. Falls back to the
// first entry if the CSPRNG is unavailable, which never happens in
// practice but keeps the function total.
func pickRandom(choices []string) string {
	if len(choices) == 1 {
		return choices[0]
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(choices))))
	if err != nil {
		return choices[0]
	}
	return choices[n.Int64()]
}

// refToken generates a short pseudo-random token, regenerated per send.
func refToken() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "ref"
	}
	return hex.EncodeToString(b)
}
