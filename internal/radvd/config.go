package radvd

import (
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/AdguardTeam/uradvd/internal/ramsg"
	"golang.org/x/sys/unix"
)

// Limits on the configuration.
const (
	// MaxPrefixes is the maximum number of advertised prefixes.
	MaxPrefixes = 8

	// MaxRDNSS is the maximum number of advertised recursive DNS servers.
	MaxRDNSS = 3
)

// Bounds on the maximum router advertisement interval.  See RFC 4861,
// section 6.2.1.
const (
	minMaxRtrAdvInterval = 4 * time.Second
	maxMaxRtrAdvInterval = 1800 * time.Second
)

// minMinRtrAdvInterval is the lowest allowed derived minimum advertisement
// interval.
const minMinRtrAdvInterval = 3 * time.Second

// Default lifetimes, in seconds.
const (
	// DefaultValidLifetime is the default valid lifetime of advertised
	// prefixes.
	DefaultValidLifetime = 86400

	// DefaultPreferredLifetime is the default preferred lifetime of
	// advertised prefixes.
	DefaultPreferredLifetime = 14400
)

// DefaultMaxRtrAdvInterval is the default maximum interval between
// unsolicited advertisements.
const DefaultMaxRtrAdvInterval = 600 * time.Second

// Config is the immutable runtime configuration of the daemon.  It is fixed
// at startup; there is no reconfiguration.
type Config struct {
	// Logger is used to log the operation of the daemon.  It must not be
	// nil.
	Logger *slog.Logger

	// IfName is the name of the network interface to advertise on.  It must
	// not be empty.
	IfName string

	// Prefixes are the advertised prefixes.  There must be between 1 and
	// [MaxPrefixes] of them, each a /64 in its masked form.
	Prefixes []ramsg.Prefix

	// RDNSS are the advertised recursive DNS servers, at most [MaxRDNSS].
	RDNSS []netip.Addr

	// DefaultLifetime is the advertised router lifetime, in seconds.  Zero
	// means the daemon does not announce itself as a default router.
	DefaultLifetime uint16

	// ValidLifetime is the valid lifetime of the advertised prefixes, in
	// seconds.
	ValidLifetime uint32

	// PreferredLifetime is the preferred lifetime of the advertised
	// prefixes, in seconds.  It must not exceed ValidLifetime.
	PreferredLifetime uint32

	// MaxRtrAdvInterval is the maximum interval between unsolicited
	// advertisements.
	MaxRtrAdvInterval time.Duration
}

// type check
var _ validate.Interface = (*Config)(nil)

// Validate implements the [validate.Interface] interface for *Config.
func (conf *Config) Validate() (err error) {
	if conf == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotNil("Logger", conf.Logger),
		validate.NotEmpty("IfName", conf.IfName),
		validate.Positive("MaxRtrAdvInterval", conf.MaxRtrAdvInterval),
	}

	if len(conf.IfName) >= unix.IFNAMSIZ {
		errs = append(errs, fmt.Errorf("IfName: %q: too long", conf.IfName))
	}

	if n := len(conf.Prefixes); n == 0 {
		errs = append(errs, fmt.Errorf("Prefixes: %w", errors.ErrEmptyValue))
	} else if n > MaxPrefixes {
		errs = append(errs, fmt.Errorf("Prefixes: at most %d prefixes are allowed, got %d", MaxPrefixes, n))
	}

	for i, p := range conf.Prefixes {
		err = validatePrefix(p.Prefix)
		if err != nil {
			errs = append(errs, fmt.Errorf("Prefixes: at index %d: %w", i, err))
		}
	}

	if n := len(conf.RDNSS); n > MaxRDNSS {
		errs = append(errs, fmt.Errorf("RDNSS: at most %d servers are allowed, got %d", MaxRDNSS, n))
	}

	for i, s := range conf.RDNSS {
		if !s.Is6() || s.Is4In6() {
			errs = append(errs, fmt.Errorf("RDNSS: at index %d: %s is not a valid ipv6 address", i, s))
		}
	}

	if conf.PreferredLifetime > conf.ValidLifetime {
		errs = append(errs, fmt.Errorf(
			"PreferredLifetime: %d must not exceed valid lifetime %d",
			conf.PreferredLifetime,
			conf.ValidLifetime,
		))
	}

	if conf.MaxRtrAdvInterval > 0 &&
		(conf.MaxRtrAdvInterval < minMaxRtrAdvInterval || conf.MaxRtrAdvInterval > maxMaxRtrAdvInterval) {
		errs = append(errs, fmt.Errorf(
			"MaxRtrAdvInterval: %s is outside of [%s, %s]",
			conf.MaxRtrAdvInterval,
			minMaxRtrAdvInterval,
			maxMaxRtrAdvInterval,
		))
	}

	return errors.Join(errs...)
}

// MinRtrAdvInterval returns the derived minimum interval between unsolicited
// advertisements: a third of the maximum, clamped from below.
func (conf *Config) MinRtrAdvInterval() (d time.Duration) {
	return max(conf.MaxRtrAdvInterval/3, minMinRtrAdvInterval)
}

// validatePrefix checks that p is an advertisable prefix: a valid IPv6 /64
// with the interface-identifier bits all zero.
func validatePrefix(p netip.Prefix) (err error) {
	addr := p.Addr()
	switch {
	case !p.IsValid():
		return fmt.Errorf("prefix %s: %w", p, errors.ErrNoValue)
	case !addr.Is6() || addr.Is4In6():
		return fmt.Errorf("prefix %s is not an ipv6 prefix", p)
	case p.Bits() != 64:
		return fmt.Errorf("prefix %s must have length 64", p)
	}

	if b := addr.As16(); [8]byte(b[8:]) != [8]byte{} {
		return fmt.Errorf("prefix %s has non-zero bits past its length", p)
	}

	return nil
}
