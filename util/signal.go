// Package util carries small process-level helpers shared by the
// binaries.
package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// HandleSignal cancels the given cancel func on SIGINT or SIGTERM.
// SIGHUP is logged and ignored so a terminal hangup does not stop the
// service.
func HandleSignal(ctx context.Context, cancel context.CancelFunc) {
	// Buffered so a signal arriving before the goroutine runs is not
	// dropped.
	c := make(chan os.Signal, 1)
	signal.Notify(c,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-c:
				log.Info().Msgf("caught signal %s", s)
				if s == syscall.SIGHUP {
					continue
				}
				cancel()
			}
		}
	}()
}
