// Package cmd is the uradvd entry point.  It parses the command-line
// options, assembles the daemon, and sets up the signal processing logic.
package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/uradvd/internal/radvd"
	"github.com/AdguardTeam/uradvd/internal/version"
)

// Main is the entry point of uradvd.
func Main() {
	ctx := context.Background()

	cmdName := os.Args[0]
	opts, err := parseOptions(cmdName, os.Args[1:])
	exitCode, needExit := processOptions(opts, cmdName, err)
	if needExit {
		os.Exit(exitCode)
	}

	baseLogger := newBaseLogger(opts)
	logger := baseLogger.With(slogutil.KeyPrefix, "cmd")

	conf, err := opts.toConfig(baseLogger)
	check(ctx, logger, err)

	d, err := radvd.New(conf)
	check(ctx, logger, err)

	err = d.Start(ctx)
	check(ctx, logger, err)

	logger.InfoContext(
		ctx,
		"starting uradvd",
		"version", version.Version(),
		"pid", os.Getpid(),
		"iface", conf.IfName,
	)

	sigHdlr := newSignalHandler(
		baseLogger.With(slogutil.KeyPrefix, service.SignalHandlerPrefix),
		d,
	)

	os.Exit(sigHdlr.handle(ctx))
}

// check exits the process with a failure code if err is not nil.  It must
// only be used within Main.
func check(ctx context.Context, logger *slog.Logger, err error) {
	if err != nil {
		logger.ErrorContext(ctx, "fatal error", slogutil.KeyError, err)

		os.Exit(osutil.ExitCodeFailure)
	}
}
