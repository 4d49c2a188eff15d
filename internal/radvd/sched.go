package radvd

import (
	cryptorand "crypto/rand"
	"fmt"
	"math/rand/v2"
	"time"
)

// Protocol constants from RFC 4861, section 10.
const (
	// maxRtrAdvDelay is the largest random delay before answering a Router
	// Solicitation (MAX_RA_DELAY_TIME).
	maxRtrAdvDelay = 500 * time.Millisecond

	// minDelayBetweenRAs is the smallest gap between two consecutive
	// advertisements (MIN_DELAY_BETWEEN_RAS).
	minDelayBetweenRAs = 3 * time.Second
)

// randDurFunc returns a uniformly distributed duration in [minDur, maxDur).
type randDurFunc func(minDur, maxDur time.Duration) (d time.Duration)

// newRandDur returns a randDurFunc backed by src.
func newRandDur(src *rand.Rand) (f randDurFunc) {
	return func(minDur, maxDur time.Duration) (d time.Duration) {
		if maxDur <= minDur {
			return minDur
		}

		return minDur + time.Duration(src.Int64N(int64(maxDur-minDur)))
	}
}

// newAdvertRand returns the daemon's random source, seeded once from the OS
// entropy source.  A seeding failure is fatal to the caller.
func newAdvertRand() (src *rand.Rand, err error) {
	var seed [32]byte
	_, err = cryptorand.Read(seed[:])
	if err != nil {
		return nil, fmt.Errorf("seeding prng: %w", err)
	}

	return rand.New(rand.NewChaCha8(seed)), nil
}

// advertScheduler tracks when the next Router Advertisement goes out.  The
// deadline merging rule is asymmetric: a triggered advertisement may only
// pull the deadline earlier, while the periodic rescheduling after a send
// replaces it unconditionally.  earliest is a hard lower clamp on both.
type advertScheduler struct {
	randDur randDurFunc

	// minInterval and maxInterval bound the periodic advertisement window.
	minInterval time.Duration
	maxInterval time.Duration

	// solicitDelay is the jitter window for triggered advertisements.
	solicitDelay time.Duration

	// sendGap is the minimum delay between two advertisements.
	sendGap time.Duration

	// next is the absolute time of the next scheduled advertisement.  The
	// zero value means nothing is scheduled.
	next time.Time

	// earliest is the absolute time before which no advertisement may be
	// sent.
	earliest time.Time
}

// newAdvertScheduler returns a scheduler for the given configuration.
func newAdvertScheduler(conf *Config, randDur randDurFunc) (s *advertScheduler) {
	return &advertScheduler{
		randDur:      randDur,
		minInterval:  conf.MinRtrAdvInterval(),
		maxInterval:  conf.MaxRtrAdvInterval,
		solicitDelay: maxRtrAdvDelay,
		sendGap:      minDelayBetweenRAs,
	}
}

// scheduleImmediate requests an advertisement as soon as allowed: at a
// random point within the solicitation jitter window, but no earlier than
// the inter-advertisement floor, and never later than an already pending
// deadline.
func (s *advertScheduler) scheduleImmediate(now time.Time) {
	t := now.Add(s.randDur(0, s.solicitDelay))
	if t.Before(s.earliest) {
		t = s.earliest
	}

	if s.next.IsZero() || t.Before(s.next) {
		s.next = t
	}
}

// schedulePeriodic replaces the deadline with a random point in the periodic
// advertisement window, clamped from below by the inter-advertisement floor.
func (s *advertScheduler) schedulePeriodic(now time.Time) {
	t := now.Add(s.randDur(s.minInterval, s.maxInterval))
	if t.Before(s.earliest) {
		t = s.earliest
	}

	s.next = t
}

// sent records a successful send, pushing the floor for the next one.
func (s *advertScheduler) sent(now time.Time) {
	s.earliest = now.Add(s.sendGap)
}

// reset drops any pending deadline, for example when the interface stops
// being usable.
func (s *advertScheduler) reset() {
	s.next = time.Time{}
}

// due reports whether an advertisement should be sent now.
func (s *advertScheduler) due(now time.Time) (ok bool) {
	return !s.next.IsZero() && !now.Before(s.next)
}

// deadline returns the pending deadline and whether there is one.
func (s *advertScheduler) deadline() (t time.Time, ok bool) {
	return s.next, !s.next.IsZero()
}
