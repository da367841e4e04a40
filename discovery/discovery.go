// Package discovery tracks the healthy media-server instances registered
// in consul. The console uses it to show cluster membership next to the
// application state; everything here is optional and off by default.
package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/streamwell/ams-console/config"
)

// Instance is one healthy media-server node from the consul catalog.
type Instance struct {
	ID      string   `json:"id"`
	Node    string   `json:"node"`
	Address string   `json:"address"`
	Port    int      `json:"port"`
	Tags    []string `json:"tags,omitempty"`
}

// Watcher polls consul for healthy instances of one service and fans out
// a snapshot whenever the set changes.
type Watcher struct {
	client   *api.Client
	service  string
	interval time.Duration

	mu        sync.RWMutex
	instances []Instance

	updates chan []Instance
	done    sync.WaitGroup
}

// New connects to the local consul agent and starts the poll loop.
func New(ctx context.Context, conf config.Discovery) (*Watcher, error) {
	client, err := api.NewClient(api.DefaultConfig())
	if err != nil {
		return nil, errors.Wrap(err, "consul client")
	}
	return newWithClient(ctx, client, conf), nil
}

func newWithClient(ctx context.Context, client *api.Client, conf config.Discovery) *Watcher {
	w := &Watcher{
		client:   client,
		service:  conf.Service,
		interval: conf.Interval.Std(),
		updates:  make(chan []Instance, 1),
	}
	w.done.Add(1)
	go w.run(ctx)
	return w
}

// Wait blocks until the poll loop has stopped.
func (w *Watcher) Wait() {
	w.done.Wait()
}

// Instances returns the current healthy set.
func (w *Watcher) Instances() []Instance {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Instance, len(w.instances))
	copy(out, w.instances)
	return out
}

// Updates yields a snapshot whenever the healthy set changes. Slow
// readers miss intermediate snapshots, never the latest.
func (w *Watcher) Updates() <-chan []Instance {
	return w.updates
}

func (w *Watcher) run(ctx context.Context) {
	defer w.done.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	entries, _, err := w.client.Health().Service(w.service, "", true, opts)
	if err != nil {
		log.Warn().Err(err).Msg("discovery: consul query failed")
		return
	}

	instances := make([]Instance, 0, len(entries))
	for _, entry := range entries {
		addr := entry.Service.Address
		if addr == "" {
			addr = entry.Node.Address
		}
		instances = append(instances, Instance{
			ID:      entry.Service.ID,
			Node:    entry.Node.Node,
			Address: addr,
			Port:    entry.Service.Port,
			Tags:    entry.Service.Tags,
		})
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })

	w.mu.Lock()
	changed := !sameInstances(w.instances, instances)
	w.instances = instances
	w.mu.Unlock()
	if !changed {
		return
	}

	log.Info().Int("count", len(instances)).Str("service", w.service).Msg("discovery: instance set changed")
	// drop a stale pending snapshot so the channel always holds the freshest
	select {
	case <-w.updates:
	default:
	}
	w.updates <- instances
}

func sameInstances(a, b []Instance) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Node != b[i].Node ||
			a[i].Address != b[i].Address || a[i].Port != b[i].Port {
			return false
		}
		if len(a[i].Tags) != len(b[i].Tags) {
			return false
		}
		for j := range a[i].Tags {
			if a[i].Tags[j] != b[i].Tags[j] {
				return false
			}
		}
	}
	return true
}
