package cmd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/service"
)

// signalHandler processes incoming signals and shuts services down.
type signalHandler struct {
	// logger is used for logging the operation of the signal handler.
	logger *slog.Logger

	// signal is the channel to which OS signals are sent.
	signal chan os.Signal

	// services are the services that are shut down before the application
	// exits.
	services []service.Interface

	// shutdownTimeout is the timeout for the shutdown operation.
	shutdownTimeout time.Duration
}

// defaultTimeoutShutdown is the default timeout for shutting the services
// down.
const defaultTimeoutShutdown = 5 * time.Second

// newSignalHandler returns a new signalHandler that shuts down svcs.  logger
// must not be nil.
func newSignalHandler(logger *slog.Logger, svcs ...service.Interface) (h *signalHandler) {
	h = &signalHandler{
		logger:          logger,
		signal:          make(chan os.Signal, 1),
		services:        svcs,
		shutdownTimeout: defaultTimeoutShutdown,
	}

	notifier := osutil.DefaultSignalNotifier{}
	osutil.NotifyShutdownSignal(notifier, h.signal)

	return h
}

// handle processes OS signals.  It blocks until a termination signal is
// received, after which it shuts down all services.  ctx is used for logging
// and serves as the base for the shutdown timeout.  status is
// [osutil.ExitCodeSuccess] on success and [osutil.ExitCodeFailure] on error.
func (h *signalHandler) handle(ctx context.Context) (status osutil.ExitCode) {
	defer slogutil.RecoverAndLog(ctx, h.logger)

	for sig := range h.signal {
		h.logger.InfoContext(ctx, "received", "signal", sig)

		if osutil.IsShutdownSignal(sig) {
			return h.shutdown(ctx)
		}
	}

	// Shouldn't happen, since h.signal is currently never closed.
	panic("unexpected close of h.signal")
}

// shutdown gracefully shuts down all services.
func (h *signalHandler) shutdown(ctx context.Context) (status osutil.ExitCode) {
	ctx, cancel := context.WithTimeout(ctx, h.shutdownTimeout)
	defer cancel()

	status = osutil.ExitCodeSuccess

	h.logger.InfoContext(ctx, "shutting down")
	for i, svc := range h.services {
		err := svc.Shutdown(ctx)
		if err != nil {
			h.logger.ErrorContext(ctx, "shutting down service", "idx", i, slogutil.KeyError, err)
			status = osutil.ExitCodeFailure
		}
	}

	return status
}
