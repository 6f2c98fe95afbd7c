// Package transport implements the keyed pool of verified SMTP client
// handles shared across campaigns (component A). A handle is opened once
// per (host,port,user), verified against the relay on first use, and then
// reused for every subsequent send to that relay.
package transport

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	mail "github.com/go-mail/mail/v2"
	"golang.org/x/sync/singleflight"
)

const (
	dialTimeout     = 30 * time.Second
	greetingTimeout = 15 * time.Second
	socketTimeout   = 30 * time.Second
)

// Handle is the capability the core drives: send a built message, or close
// the underlying connection. It wraps a single open, authenticated SMTP
// connection; SMTP is single-threaded per connection, so Handle serializes
// concurrent Send calls with its own mutex.
type Handle struct {
	mu     sync.Mutex
	dialer *mail.Dialer
	closer mail.SendCloser
	key    string
}

// NewHandle wraps an already-established SendCloser, for tests that need a
// Handle backed by a fake connection instead of a real dial.
func NewHandle(closer mail.SendCloser) *Handle {
	return &Handle{closer: closer}
}

// Send transmits one message over the cached connection.
func (h *Handle) Send(m *mail.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return mail.Send(h.closer, m)
}

// Close releases the underlying connection. Calls after the first are
// no-ops that return nil; the cache calls it during Shutdown.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closer == nil {
		return nil
	}
	err := h.closer.Close()
	h.closer = nil
	return err
}

// Relay is the minimal addressing/credential info the cache needs to dial.
// Callers pass in their own relay descriptor shape via this narrow view.
type Relay struct {
	Host   string
	Port   int
	User   string
	Secret string
}

func cacheKey(r Relay) string {
	return fmt.Sprintf("%s:%d:%s", r.Host, r.Port, r.User)
}

// Cache is the process-wide transport cache. Zero value is not usable; use
// New.
type Cache struct {
	mu       sync.Mutex
	handles  map[string]*Handle
	group    singleflight.Group
	dialFunc func(key string, r Relay) (*Handle, error)
}

// New creates an empty transport cache.
func New() *Cache {
	return &Cache{handles: make(map[string]*Handle), dialFunc: dial}
}

// Acquire returns a verified, ready-to-send handle for relay. Concurrent
// Acquire calls for the same key serialize on the first miss so only one
// connection is opened per (host,port,user); callers that lose the race
// receive the same handle the winner produced. A cache hit returns
// immediately without re-verifying. A failed dial is not cached and is
// retried on the next Acquire for that key.
func (c *Cache) Acquire(r Relay) (*Handle, error) {
	key := cacheKey(r)

	c.mu.Lock()
	if h, ok := c.handles[key]; ok {
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.Lock()
		if h, ok := c.handles[key]; ok {
			c.mu.Unlock()
			return h, nil
		}
		c.mu.Unlock()

		h, err := c.dialFunc(key, r)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.handles[key] = h
		c.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// dial opens and verifies a connection to relay, choosing TLS mode by port:
// 465 implicit TLS, 587 mandatory STARTTLS, otherwise plaintext with
// opportunistic upgrade. Relays here are operator-trusted, so certificate
// verification is disabled rather than requiring the operator to supply a
// trust chain for every internal relay.
func dial(key string, r Relay) (*Handle, error) {
	d := mail.NewDialer(r.Host, r.Port, r.User, r.Secret)
	d.Timeout = dialTimeout
	d.TLSConfig = &tls.Config{ServerName: r.Host, InsecureSkipVerify: true}

	switch r.Port {
	case 465:
		d.SSL = true
	case 587:
		d.StartTLSPolicy = mail.MandatoryStartTLS
	default:
		d.StartTLSPolicy = mail.OpportunisticStartTLS
	}

	closer, err := dialWithGreetingTimeout(d)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}

	return &Handle{dialer: d, closer: closer, key: key}, nil
}

// dialWithGreetingTimeout bounds the whole Dial (connect, greeting, TLS
// and AUTH) by greetingTimeout+socketTimeout, so a relay that accepts a
// TCP connection but never completes the SMTP greeting/AUTH exchange fails
// after that bound instead of hanging. There is no separate per-phase
// greeting timeout, and socketTimeout is not applied to later sends.
func dialWithGreetingTimeout(d *mail.Dialer) (mail.SendCloser, error) {
	type result struct {
		closer mail.SendCloser
		err    error
	}
	done := make(chan result, 1)
	go func() {
		closer, err := d.Dial()
		done <- result{closer, err}
	}()

	select {
	case res := <-done:
		return res.closer, res.err
	case <-time.After(greetingTimeout + socketTimeout):
		return nil, fmt.Errorf("handshake timed out")
	}
}

// Shutdown closes every cached handle. Intended for process shutdown.
func (c *Cache) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, h := range c.handles {
		_ = h.Close()
		delete(c.handles, key)
	}
}
