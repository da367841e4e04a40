// Command amsctl is a small operations CLI for the media server's REST
// API. It talks to the server directly, without going through a running
// console, and prints JSON so output can be piped into jq.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/streamwell/ams-console/mediaserver"
)

const usageText = `usage: amsctl [flags] <command> [args]

commands:
  broadcasts  list|get|create|start|stop|delete|stats|record|add-endpoint|remove-endpoint
  vods        list|get|delete|upload|import|unlink|stalker
  settings    get|update
  profiles    add|update|remove
  probe       hls|dash|camera
  setup       first-user

run "amsctl <command>" without arguments for per-command usage.

flags:
`

// rcFile holds persistent CLI defaults so the server flags don't have
// to be repeated on every invocation.
type rcFile struct {
	Server     string `toml:"server"`
	App        string `toml:"app"`
	ProxyToken string `toml:"proxy_token"`
}

// loadRC reads amsctl.toml from the user config directory. A missing
// file yields the built-in defaults.
func loadRC() (rcFile, error) {
	rc := rcFile{Server: "http://localhost:5080", App: "LiveApp"}
	dir, err := os.UserConfigDir()
	if err != nil {
		return rc, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, "amsctl.toml"))
	if err != nil {
		if os.IsNotExist(err) {
			return rc, nil
		}
		return rc, errors.Wrap(err, "read rc file")
	}
	if err := toml.Unmarshal(data, &rc); err != nil {
		return rc, errors.Wrap(err, "parse rc file")
	}
	return rc, nil
}

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("amsctl")
		os.Exit(1)
	}
}

func run() error {
	rc, err := loadRC()
	if err != nil {
		return err
	}
	serverURL := flag.String("server", rc.Server, "media server base URL")
	app := flag.String("app", rc.App, "application name")
	proxyToken := flag.String("proxy-token", rc.ProxyToken, "ProxyAuthorization token for settings calls")
	timeout := flag.Duration("timeout", time.Second*30, "request deadline, 0 disables")
	debug := flag.Bool("debug", false, "sets log level to debug")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usageText)
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer cancel()
	if *timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, *timeout)
		defer tcancel()
	}

	api := mediaserver.New(mediaserver.Config{
		ServerURL:  *serverURL,
		App:        *app,
		ProxyToken: *proxyToken,
	})

	switch args[0] {
	case "broadcasts":
		return broadcastsCmd(ctx, api, args[1:])
	case "vods":
		return vodsCmd(ctx, api, args[1:])
	case "settings":
		return settingsCmd(ctx, api, args[1:])
	case "profiles":
		return profilesCmd(ctx, api, args[1:])
	case "probe":
		return probeCmd(ctx, args[1:], *timeout)
	case "setup":
		return setupCmd(ctx, api, args[1:])
	default:
		flag.Usage()
		return errors.Errorf("unknown command %q", args[0])
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode output")
	}
	fmt.Println(string(out))
	return nil
}
