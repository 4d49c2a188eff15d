package cmd

import (
	"log/slog"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// newBaseLogger constructs the base logger based on the command-line
// options.
func newBaseLogger(opts *options) (baseLogger *slog.Logger) {
	lvl := slog.LevelInfo
	if opts.verbose {
		lvl = slog.LevelDebug
	}

	return slogutil.New(&slogutil.Config{
		Format:       slogutil.FormatDefault,
		Level:        lvl,
		AddTimestamp: true,
	})
}
