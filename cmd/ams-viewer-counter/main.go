package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/streamwell/ams-console/viewerstats"
)

// maxSegmentDuration is the maximum duration of a segment to expect
const maxSegmentDuration = time.Second * 5

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("counter failed")
		os.Exit(1)
	}
}

func run() error {
	config := defaultConfig()
	configPath := flag.String("config", "", "path to optional toml config")
	debug := flag.Bool("debug", false, "enable debug mode")
	flag.DurationVar(&config.SlidingWindow, "sliding-window-duration", config.SlidingWindow, "duration of the sliding window for the counting")
	flag.StringVar(&config.PrometheusListen, "prometheus-listen", config.PrometheusListen, "listen address of the prometheus endpoint")
	flag.StringVar(&config.Socket, "socket", config.Socket, "syslog socket")
	flag.StringVar(&config.StreamFilter, "stream-filter", config.StreamFilter, "wildcard pattern of stream names to count")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer cancel()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *configPath != "" {
		if err := parseConfig(*configPath, &config); err != nil {
			return errors.Wrap(err, "read config")
		}
	}
	log.Debug().Msgf("config: %+v", config)

	reg := prometheus.NewPedanticRegistry()

	// Add the standard process and Go metrics to the custom registry.
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	counter, err := viewerstats.New(ctx, viewerstats.Config{
		SocketPath:    config.Socket,
		SlidingWindow: config.SlidingWindow,
		MinSegments:   int(config.SlidingWindow/maxSegmentDuration) / 2,
		StreamFilter:  config.StreamFilter,
		Registerer:    reg,
	})
	if err != nil {
		return err
	}

	// serve metrics
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := http.Server{
		Handler: mux,
	}

	listener, err := net.Listen("tcp", config.PrometheusListen)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", config.PrometheusListen)
	}
	defer listener.Close()
	log.Info().Msgf("serving metrics on %s", config.PrometheusListen)

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("serve prometheus metrics")
			cancel()
		}
	}()
	<-ctx.Done()
	counter.Wait()
	return nil
}
