package cmd

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/netip"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/uradvd/internal/radvd"
	"github.com/AdguardTeam/uradvd/internal/ramsg"
)

// options contains all command-line options for the uradvd binary.
type options struct {
	// ifName is the name of the network interface to advertise on.
	ifName string

	// prefixes are the advertised prefixes in the order given on the
	// command line, collected from both the plain and the on-link flags.
	prefixes []ramsg.Prefix

	// rdnss are the advertised recursive DNS servers.
	rdnss []netip.Addr

	// defaultLifetime is the advertised router lifetime, in seconds.
	defaultLifetime uint

	// validLifetime is the valid lifetime of the advertised prefixes, in
	// seconds.
	validLifetime uint

	// preferredLifetime is the preferred lifetime of the advertised
	// prefixes, in seconds.
	preferredLifetime uint

	// maxRtrAdvInterval is the maximum interval between unsolicited
	// advertisements, in seconds.
	maxRtrAdvInterval uint

	// help, if true, instructs uradvd to print the command-line option help
	// message and quit with a successful exit code.
	help bool

	// verbose, if true, enables verbose logging.
	verbose bool
}

// Indexes to help with the [commandLineOptions] initialization.
const (
	ifNameIdx = iota
	prefixIdx
	prefixOnLinkIdx
	rdnssIdx
	defaultLifetimeIdx
	validLifetimeIdx
	preferredLifetimeIdx
	maxRtrAdvIntervalIdx
	helpIdx
	verboseIdx
)

// commandLineOption contains information about a command-line option: its
// long and, if there is one, short forms, the value type, the description,
// and the default value.
type commandLineOption struct {
	defaultValue any
	description  string
	long         string
	short        string
	valueType    string
}

// commandLineOptions are all command-line options currently supported by
// uradvd.
var commandLineOptions = []*commandLineOption{
	ifNameIdx: {
		defaultValue: "",
		description:  "Name of the network interface to advertise on.  Required.",
		long:         "interface",
		short:        "i",
		valueType:    "name",
	},

	prefixIdx: {
		defaultValue: nil,
		description:  "Advertise an IPv6 /64 prefix for SLAAC.  Repeatable.",
		long:         "prefix",
		short:        "a",
		valueType:    "prefix",
	},

	prefixOnLinkIdx: {
		defaultValue: nil,
		description:  "Advertise an IPv6 /64 prefix for SLAAC and as on-link.  Repeatable.",
		long:         "prefix-onlink",
		short:        "p",
		valueType:    "prefix",
	},

	rdnssIdx: {
		defaultValue: nil,
		description:  "Advertise a recursive DNS server.  Repeatable.",
		long:         "rdnss",
		short:        "",
		valueType:    "ipv6",
	},

	defaultLifetimeIdx: {
		defaultValue: uint(0),
		description: "Router lifetime to advertise, in seconds.  " +
			"Zero means not a default router.",
		long:      "default-lifetime",
		short:     "",
		valueType: "seconds",
	},

	validLifetimeIdx: {
		defaultValue: uint(radvd.DefaultValidLifetime),
		description:  "Valid lifetime of the advertised prefixes, in seconds.",
		long:         "valid-lifetime",
		short:        "",
		valueType:    "seconds",
	},

	preferredLifetimeIdx: {
		defaultValue: uint(radvd.DefaultPreferredLifetime),
		description:  "Preferred lifetime of the advertised prefixes, in seconds.",
		long:         "preferred-lifetime",
		short:        "",
		valueType:    "seconds",
	},

	maxRtrAdvIntervalIdx: {
		defaultValue: uint(radvd.DefaultMaxRtrAdvInterval / time.Second),
		description:  "Maximum interval between unsolicited advertisements, in seconds.",
		long:         "max-router-adv-interval",
		short:        "",
		valueType:    "seconds",
	},

	helpIdx: {
		defaultValue: false,
		description:  "Print this help message and quit.",
		long:         "help",
		short:        "h",
		valueType:    "",
	},

	verboseIdx: {
		defaultValue: false,
		description:  "Enable verbose logging.",
		long:         "verbose",
		short:        "v",
		valueType:    "",
	},
}

// parseOptions parses the command-line options for uradvd.
func parseOptions(cmdName string, args []string) (opts *options, err error) {
	flags := flag.NewFlagSet(cmdName, flag.ContinueOnError)

	opts = &options{}
	for i, fieldPtr := range []any{
		ifNameIdx:            &ifNameValue{name: &opts.ifName},
		prefixIdx:            &prefixValue{prefixes: &opts.prefixes},
		prefixOnLinkIdx:      &prefixValue{prefixes: &opts.prefixes, onLink: true},
		rdnssIdx:             &rdnssValue{addrs: &opts.rdnss},
		defaultLifetimeIdx:   &opts.defaultLifetime,
		validLifetimeIdx:     &opts.validLifetime,
		preferredLifetimeIdx: &opts.preferredLifetime,
		maxRtrAdvIntervalIdx: &opts.maxRtrAdvInterval,
		helpIdx:              &opts.help,
		verboseIdx:           &opts.verbose,
	} {
		addOption(flags, fieldPtr, commandLineOptions[i])
	}

	flags.Usage = func() { usage(cmdName, os.Stderr) }

	err = flags.Parse(args)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return opts, nil
}

// addOption adds the command-line option described by o to flags using
// fieldPtr as the pointer to the value.
func addOption(flags *flag.FlagSet, fieldPtr any, o *commandLineOption) {
	switch fieldPtr := fieldPtr.(type) {
	case *uint:
		flags.UintVar(fieldPtr, o.long, o.defaultValue.(uint), o.description)
		if o.short != "" {
			flags.UintVar(fieldPtr, o.short, o.defaultValue.(uint), o.description)
		}
	case *bool:
		flags.BoolVar(fieldPtr, o.long, o.defaultValue.(bool), o.description)
		if o.short != "" {
			flags.BoolVar(fieldPtr, o.short, o.defaultValue.(bool), o.description)
		}
	case flag.Value:
		flags.Var(fieldPtr, o.long, o.description)
		if o.short != "" {
			flags.Var(fieldPtr, o.short, o.description)
		}
	default:
		panic(fmt.Errorf("unexpected field pointer type %T", fieldPtr))
	}
}

// processOptions decides if uradvd should exit depending on the results of
// command-line option parsing.
func processOptions(opts *options, cmdName string, parseErr error) (exitCode int, needExit bool) {
	if parseErr != nil {
		// Assume that usage has already been printed by the flag package.
		return osutil.ExitCodeFailure, true
	}

	if opts.help {
		usage(cmdName, os.Stderr)

		return osutil.ExitCodeSuccess, true
	}

	return osutil.ExitCodeSuccess, false
}

// toConfig converts the options into a daemon configuration using
// baseLogger.  The out-of-range numeric values the configuration types
// cannot express are rejected here; everything else is left to the
// configuration's own validation.
func (opts *options) toConfig(baseLogger *slog.Logger) (conf *radvd.Config, err error) {
	var errs []error
	if opts.defaultLifetime > math.MaxUint16 {
		errs = append(errs, fmt.Errorf("default-lifetime: %d is out of range", opts.defaultLifetime))
	}

	if opts.validLifetime > math.MaxUint32 {
		errs = append(errs, fmt.Errorf("valid-lifetime: %d is out of range", opts.validLifetime))
	}

	if opts.preferredLifetime > math.MaxUint32 {
		errs = append(errs, fmt.Errorf("preferred-lifetime: %d is out of range", opts.preferredLifetime))
	}

	err = errors.Join(errs...)
	if err != nil {
		return nil, err
	}

	return &radvd.Config{
		Logger:            baseLogger,
		IfName:            opts.ifName,
		Prefixes:          opts.prefixes,
		RDNSS:             opts.rdnss,
		DefaultLifetime:   uint16(opts.defaultLifetime),
		ValidLifetime:     uint32(opts.validLifetime),
		PreferredLifetime: uint32(opts.preferredLifetime),
		MaxRtrAdvInterval: time.Duration(opts.maxRtrAdvInterval) * time.Second,
	}, nil
}

// usage prints a usage message similar to the one printed by package flag
// but taking long vs. short versions into account as well as using more
// informative value hints.
func usage(cmdName string, output io.Writer) {
	options := slices.Clone(commandLineOptions)
	slices.SortStableFunc(options, func(a, b *commandLineOption) (res int) {
		return strings.Compare(a.long, b.long)
	})

	b := &strings.Builder{}
	_, _ = fmt.Fprintf(b, "Usage:\n\n  %s [options]\n\nOptions:\n", cmdName)

	for _, o := range options {
		if o.short != "" {
			_, _ = fmt.Fprintf(b, "  -%s, --%s", o.short, o.long)
		} else {
			_, _ = fmt.Fprintf(b, "  --%s", o.long)
		}

		if o.valueType != "" {
			_, _ = fmt.Fprintf(b, " <%s>", o.valueType)
		}

		_, _ = fmt.Fprintf(b, "\n        %s\n", o.description)
	}

	_, _ = io.WriteString(output, b.String())
}

// ifNameValue is a [flag.Value] that may be set at most once.
type ifNameValue struct {
	name *string
}

// type check
var _ flag.Value = (*ifNameValue)(nil)

// String implements the [flag.Value] interface for *ifNameValue.
func (v *ifNameValue) String() (s string) {
	if v == nil || v.name == nil {
		return ""
	}

	return *v.name
}

// Set implements the [flag.Value] interface for *ifNameValue.
func (v *ifNameValue) Set(s string) (err error) {
	if *v.name != "" {
		return errors.Error("option may be specified at most once")
	}

	*v.name = s

	return nil
}

// prefixValue is a repeatable [flag.Value] collecting /64 prefixes.
type prefixValue struct {
	prefixes *[]ramsg.Prefix
	onLink   bool
}

// type check
var _ flag.Value = (*prefixValue)(nil)

// String implements the [flag.Value] interface for *prefixValue.
func (v *prefixValue) String() (s string) {
	if v == nil || v.prefixes == nil {
		return ""
	}

	strs := make([]string, 0, len(*v.prefixes))
	for _, p := range *v.prefixes {
		strs = append(strs, p.Prefix.String())
	}

	return strings.Join(strs, ",")
}

// Set implements the [flag.Value] interface for *prefixValue.
func (v *prefixValue) Set(s string) (err error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		// Don't wrap the error, because it already contains enough context.
		return err
	}

	*v.prefixes = append(*v.prefixes, ramsg.Prefix{
		Prefix: p,
		OnLink: v.onLink,
	})

	return nil
}

// rdnssValue is a repeatable [flag.Value] collecting IPv6 addresses.
type rdnssValue struct {
	addrs *[]netip.Addr
}

// type check
var _ flag.Value = (*rdnssValue)(nil)

// String implements the [flag.Value] interface for *rdnssValue.
func (v *rdnssValue) String() (s string) {
	if v == nil || v.addrs == nil {
		return ""
	}

	strs := make([]string, 0, len(*v.addrs))
	for _, a := range *v.addrs {
		strs = append(strs, a.String())
	}

	return strings.Join(strs, ",")
}

// Set implements the [flag.Value] interface for *rdnssValue.
func (v *rdnssValue) Set(s string) (err error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		// Don't wrap the error, because it already contains enough context.
		return err
	}

	*v.addrs = append(*v.addrs, a)

	return nil
}
