// Package console serves the operator dashboard for a media server: a
// token-protected JSON API over the server's REST interface, a websocket
// feed pushing poller state to connected dashboards, and prometheus
// metrics about the server and the console itself.
package console

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamwell/ams-console/config"
	"github.com/streamwell/ams-console/discovery"
	"github.com/streamwell/ams-console/mediaserver"
	"github.com/streamwell/ams-console/probe"
)

// ViewerSource reports edge viewer counts per stream. The in-process
// viewer counter implements it.
type ViewerSource interface {
	Snapshot(app string) map[string]int
}

// Deps wires the console to its collaborators. Discovery is optional,
// without it the instances endpoint stays empty. Viewers is optional,
// without it broadcast listings carry only the server's own counts.
type Deps struct {
	API        *mediaserver.BreakerClient
	Prober     *probe.Prober
	Discovery  *discovery.Watcher
	Viewers    ViewerSource
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

type Console struct {
	server *server
	poller *poller
}

func New(ctx context.Context, conf config.Console, deps Deps) (*Console, error) {
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	poller, err := newPoller(ctx, conf, deps)
	if err != nil {
		return nil, err
	}
	sessions := newSessionManager(conf.JWTSecret, conf.SessionTTL.Std())
	return &Console{
		server: newServer(ctx, conf, deps, sessions, poller.listen()),
		poller: poller,
	}, nil
}

func (c *Console) Wait() {
	c.poller.Wait()
	c.server.Wait()
}
