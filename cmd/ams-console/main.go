package main

import (
	"context"
	"flag"
	"os"
	"time"

	"net/http"
	_ "net/http/pprof"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Showmax/go-fqdn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streamwell/ams-console/config"
	"github.com/streamwell/ams-console/console"
	"github.com/streamwell/ams-console/discovery"
	"github.com/streamwell/ams-console/mediaserver"
	"github.com/streamwell/ams-console/probe"
	"github.com/streamwell/ams-console/util"
	"github.com/streamwell/ams-console/viewerstats"
)

// maxSegmentDuration is the longest segment the packager produces. It
// bounds how many fetches a viewer can make inside the sliding window.
const maxSegmentDuration = time.Second * 5

func getHostname() string {
	name, err := fqdn.FqdnHostname()
	if err != nil {
		log.Error().Err(err).Msg("fqdn")
		if err != fqdn.ErrFqdnNotFound {
			return name
		}

		name, err = os.Hostname()
		if err != nil {
			log.Fatal().Err(err).Msg("hostname")
		}
	}
	return name
}

type Service interface {
	Wait()
}

func main() {
	name := getHostname()
	configPath := flag.String("config", "config.yml", "path to configuration file")
	debug := flag.Bool("debug", false, "sets log level to debug")
	profile := flag.String("profile", "", "set pprof address")
	flag.StringVar(&name, "name", name, "set instance name (defaults to fqdn)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	log.Logger = log.With().Str("instance", name).Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *profile != "" {
		go http.ListenAndServe(*profile, nil)
	}

	cfg, err := config.Parse(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	cfg.Name = name

	ctx, cancel := context.WithCancel(context.Background())
	util.HandleSignal(ctx, cancel)
	defer cancel()
	var services []Service

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	// setup discovery
	var watcher *discovery.Watcher
	if cfg.Discovery.Enable {
		log.Debug().Msgf("Creating discovery %v", cfg.Discovery)
		watcher, err = discovery.New(ctx, cfg.Discovery)
		if err != nil {
			log.Fatal().Err(err).Msg("discovery:")
		}
		services = append(services, watcher)
	}

	// setup viewer stats
	var counter *viewerstats.Counter
	if cfg.ViewerStats.Enable {
		log.Debug().Msgf("Creating viewer stats %v", cfg.ViewerStats)
		window := cfg.ViewerStats.SlidingWindow.Std()
		counter, err = viewerstats.New(ctx, viewerstats.Config{
			SocketPath:    cfg.ViewerStats.SocketPath,
			SlidingWindow: window,
			MinSegments:   int(window/maxSegmentDuration) / 2,
			StreamFilter:  cfg.ViewerStats.StreamFilter,
			Registerer:    reg,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("viewerstats:")
		}
		services = append(services, counter)
	}

	// setup console
	if cfg.Console.Enable {
		log.Debug().Msgf("Creating console %v", cfg.Console)
		var hc *http.Client
		if cfg.Server.Timeout > 0 {
			hc = &http.Client{Timeout: cfg.Server.Timeout.Std()}
		}
		api := mediaserver.NewBreakerClient(mediaserver.New(mediaserver.Config{
			ServerURL:  cfg.Server.URL,
			App:        cfg.Server.App,
			ProxyToken: cfg.Server.ProxyToken,
			HTTPClient: hc,
		}))
		deps := console.Deps{
			API:        api,
			Prober:     probe.New(cfg.Probe.Timeout.Std()),
			Discovery:  watcher,
			Registerer: reg,
			Gatherer:   reg,
		}
		if counter != nil {
			deps.Viewers = counter
		}
		c, err := console.New(ctx, cfg.Console, deps)
		if err != nil {
			log.Fatal().Err(err).Msg("console:")
		}
		services = append(services, c)
	}

	if len(services) == 0 {
		log.Fatal().Msg("no services enabled, check the config")
	}

	// Wait for graceful shutdown
	<-ctx.Done()
	for _, service := range services {
		service.Wait()
	}
}
