package console

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/streamwell/ams-console/config"
	"github.com/streamwell/ams-console/discovery"
	"github.com/streamwell/ams-console/mediaserver"
)

// poller keeps the dashboard state fresh: it pages the broadcast list,
// tracks totals and republishes consul instance snapshots. All reads go
// through the circuit breaker so a dead media server stops the polling
// pressure instead of piling up timeouts.
type poller struct {
	api      *mediaserver.BreakerClient
	disco    *discovery.Watcher
	interval time.Duration

	updates chan map[string]interface{}
	done    sync.WaitGroup

	// metrics
	broadcasts *prometheus.GaugeVec
	vods       prometheus.Gauge
	up         prometheus.Gauge
	pollErrors prometheus.Counter
}

func newPoller(ctx context.Context, conf config.Console, deps Deps) (*poller, error) {
	interval := conf.PollInterval.Std()
	if interval == 0 {
		interval = 5 * time.Second
	}
	p := &poller{
		api:      deps.API,
		disco:    deps.Discovery,
		interval: interval,
		updates:  make(chan map[string]interface{}, 1),
		broadcasts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ams_console_broadcasts",
			Help: "Broadcasts known to the media server by status.",
		}, []string{"status"}),
		vods: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ams_console_vods",
			Help: "VoD records known to the media server.",
		}),
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ams_console_up",
			Help: "Whether the last media server poll succeeded.",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ams_console_poll_errors_total",
			Help: "Media server polls that failed.",
		}),
	}
	for _, collector := range []prometheus.Collector{p.broadcasts, p.vods, p.up, p.pollErrors} {
		if err := deps.Registerer.Register(collector); err != nil {
			return nil, errors.Wrap(err, "register metrics")
		}
	}

	p.done.Add(1)
	go p.run(ctx)
	return p, nil
}

func (p *poller) listen() <-chan map[string]interface{} {
	return p.updates
}

func (p *poller) Wait() {
	p.done.Wait()
}

func (p *poller) run(ctx context.Context) {
	defer p.done.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var instances <-chan []discovery.Instance
	if p.disco != nil {
		instances = p.disco.Updates()
	}

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		case snapshot := <-instances:
			p.sendUpdate(ctx, "instances", snapshot)
		}
	}
}

func (p *poller) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	broadcasts, err := p.api.ListBroadcasts(ctx, 0, mediaserver.MaxPageSize, mediaserver.ListFilter{})
	if err != nil {
		p.fail(err, "poll broadcasts")
		return
	}
	broadcastCount, err := p.api.CountBroadcasts(ctx)
	if err != nil {
		p.fail(err, "count broadcasts")
		return
	}
	vodCount, err := p.api.CountVoDs(ctx)
	if err != nil {
		p.fail(err, "count vods")
		return
	}

	p.up.Set(1)
	byStatus := make(map[string]int)
	for _, b := range broadcasts {
		byStatus[b.Status]++
	}
	p.broadcasts.Reset()
	for status, n := range byStatus {
		p.broadcasts.WithLabelValues(status).Set(float64(n))
	}
	p.vods.Set(float64(vodCount))

	p.sendUpdate(ctx, "broadcasts", broadcasts)
	p.sendUpdate(ctx, "counts", map[string]int64{
		"broadcasts": broadcastCount,
		"vods":       vodCount,
	})
}

func (p *poller) fail(err error, msg string) {
	p.up.Set(0)
	p.pollErrors.Inc()
	log.Warn().Err(err).Msg(msg)
}

// sendUpdate relays a state update unless shutdown got there first.
func (p *poller) sendUpdate(ctx context.Context, key string, update interface{}) {
	tmp := make(map[string]interface{})
	tmp[key] = update
	select {
	case p.updates <- tmp:
	case <-ctx.Done():
	}
}
