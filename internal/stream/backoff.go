package stream

import (
	"math/rand/v2"
	"time"
)

// stableAfter is how long a connection must stay up before the attempt
// counter starts over.
const stableAfter = 60 * time.Second

// Policy controls reconnects and keepalive of a connection.
type Policy struct {
	Reconnect    bool
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int // 0 retries forever
	PingInterval time.Duration
}

// DefaultPolicy reconnects up to ten times, backing off from 1s to 30s.
func DefaultPolicy() Policy {
	return Policy{
		Reconnect:    true,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  10,
		PingInterval: pingPeriod,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.PingInterval <= 0 {
		p.PingInterval = d.PingInterval
	}
	return p
}

// backoff counts consecutive failed dials of one connection.
type backoff struct {
	policy  Policy
	attempt int
	upSince time.Time
	now     func() time.Time
}

func newBackoff(p Policy) *backoff {
	return &backoff{policy: p, now: time.Now}
}

// up records a successful dial.
func (b *backoff) up() {
	b.upSince = b.now()
}

// next is called after the connection is lost or a dial fails. It returns
// the wait before the next dial, or false once the attempts are used up.
// A connection that stayed up for stableAfter earns a fresh set of attempts.
func (b *backoff) next() (time.Duration, bool) {
	if !b.upSince.IsZero() && b.now().Sub(b.upSince) >= stableAfter {
		b.reset()
	}
	b.upSince = time.Time{}
	if b.policy.MaxAttempts > 0 && b.attempt >= b.policy.MaxAttempts {
		return 0, false
	}
	d := b.delay()
	b.attempt++
	return d, true
}

// delay doubles BaseDelay per attempt, adds up to half of BaseDelay of
// jitter and caps the result at MaxDelay.
func (b *backoff) delay() time.Duration {
	base, ceiling := b.policy.BaseDelay, b.policy.MaxDelay
	d := base
	for i := 0; i < b.attempt && d < ceiling; i++ {
		d *= 2
	}
	d += time.Duration(rand.Int64N(int64(base)/2 + 1))
	return min(d, ceiling)
}

func (b *backoff) reset() {
	b.attempt = 0
	b.upSince = time.Time{}
}
