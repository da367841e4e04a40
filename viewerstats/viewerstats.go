// Package viewerstats counts concurrent viewers per stream from the
// access log of an nginx edge in front of the media server. nginx ships
// each access entry as a JSON payload over a syslog unixgram socket; the
// counter attributes segment fetches to viewers and exposes the result
// as prometheus gauges.
package viewerstats

import (
	"context"
	"net"
	"net/http"
	"os"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/influxdata/go-syslog/v3"
	"github.com/influxdata/go-syslog/v3/rfc3164"
	"github.com/minio/pkg/wildcard"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

type Config struct {
	// path of the unixgram socket nginx logs to
	SocketPath string

	// how long a fetched segment keeps its viewer counted
	SlidingWindow time.Duration

	// minimum segment fetches inside the window before a viewer counts
	MinSegments int

	// wildcard pattern selecting which stream ids are counted
	StreamFilter string

	Registerer prometheus.Registerer
}

// AccessEntry is the JSON body nginx is configured to log per request.
type AccessEntry struct {
	Address   string `json:"remote_addr"`
	Method    string `json:"method"`
	URI       string `json:"uri"`
	Status    string `json:"status"`
	BytesSent string `json:"bytes_sent"`
	UserAgent string `json:"user_agent"`
}

type viewerKey struct {
	Address string
	Agent   string
}

type streamKey struct {
	App      string
	Stream   string
	Protocol string
	Quality  string
}

type segmentHit struct {
	at     time.Time
	stream streamKey
}

// Counter listens on the syslog socket and keeps a sliding window of
// segment fetches per viewer.
type Counter struct {
	listener net.PacketConn
	conf     Config
	syslog   syslog.Machine

	mu       sync.Mutex
	segments map[viewerKey][]segmentHit

	metricMu  sync.Mutex
	viewers   map[streamKey]int
	clients   map[string]int
	lastCount time.Time

	done sync.WaitGroup
}

func newCounter(conf Config) *Counter {
	return &Counter{
		conf:     conf,
		syslog:   rfc3164.NewParser(),
		segments: make(map[viewerKey][]segmentHit),
		viewers:  make(map[streamKey]int),
		clients:  make(map[string]int),
	}
}

func New(ctx context.Context, conf Config) (*Counter, error) {
	if conf.StreamFilter == "" {
		conf.StreamFilter = "*"
	}
	if conf.MinSegments == 0 {
		conf.MinSegments = 1
	}

	_ = os.RemoveAll(conf.SocketPath)
	// nginx workers run as an unprivileged user and must be able to
	// write to the socket
	unix.Umask(0)
	listener, err := net.ListenPacket("unixgram", conf.SocketPath)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}
	unix.Umask(0o022)

	c := newCounter(conf)
	c.listener = listener
	if conf.Registerer != nil {
		if err := conf.Registerer.Register(c); err != nil {
			listener.Close()
			return nil, errors.Wrap(err, "register metrics")
		}
	}
	log.Info().Msgf("viewer counter listening on %s", listener.LocalAddr())

	c.done.Add(1)
	go c.run(ctx)
	return c, nil
}

// Wait blocks until the receive loop has shut down.
func (c *Counter) Wait() {
	c.done.Wait()
}

func (c *Counter) run(ctx context.Context) {
	defer c.done.Done()
	defer c.listener.Close()

	buf := make([]byte, 16384)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.listener.SetReadDeadline(time.Now().Add(300 * time.Millisecond)); err != nil {
			log.Error().Err(err).Msg("set read deadline")
		}
		n, _, err := c.listener.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			log.Error().Err(err).Msg("read datagram")
			continue
		}
		c.handleMessage(buf[:n])
	}
}

func (c *Counter) handleMessage(raw []byte) {
	m, err := c.syslog.Parse(raw)
	if err != nil {
		log.Debug().Err(err).Msg("parse syslog")
		return
	}
	parsed, ok := m.(*rfc3164.SyslogMessage)
	if !ok || parsed == nil || parsed.Message == nil {
		log.Debug().Msg("syslog message without payload")
		return
	}

	var entry AccessEntry
	if err := json.Unmarshal([]byte(*parsed.Message), &entry); err != nil {
		log.Debug().Err(err).Msg("parse access entry")
		return
	}
	c.record(entry)
}

var (
	streamURI  = regexp.MustCompile(`^/([^/]+)/streams/(.+)$`)
	hlsSegment = regexp.MustCompile(`^(.+?)(?:_([0-9]+p))?([0-9]+)?\.ts$`)
)

func (c *Counter) record(entry AccessEntry) {
	if entry.Method != http.MethodGet || !strings.HasPrefix(entry.Status, "2") {
		return
	}
	key, ok := splitSegmentURI(entry.URI)
	if !ok {
		return
	}
	if !wildcard.MatchSimple(c.conf.StreamFilter, key.Stream) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	viewer := viewerKey{Address: entry.Address, Agent: entry.UserAgent}
	c.segments[viewer] = append(c.segments[viewer], segmentHit{at: time.Now(), stream: key})
}

// splitSegmentURI maps a request path to the stream it belongs to.
// Playlists and manifests are ignored, only segment fetches count
// towards viewers.
func splitSegmentURI(uri string) (streamKey, bool) {
	groups := streamURI.FindStringSubmatch(uri)
	if groups == nil {
		return streamKey{}, false
	}
	app, file := groups[1], groups[2]

	switch {
	case strings.HasSuffix(file, ".m4s"):
		// dash segments live in a per-stream directory
		stream, _, found := strings.Cut(file, "/")
		if !found {
			return streamKey{}, false
		}
		return streamKey{App: app, Stream: stream, Protocol: "dash"}, true
	case strings.HasSuffix(file, ".ts"):
		m := hlsSegment.FindStringSubmatch(file)
		if m == nil {
			return streamKey{}, false
		}
		return streamKey{App: app, Stream: m[1], Protocol: "hls", Quality: m[2]}, true
	}
	return streamKey{}, false
}

var viewersDesc = prometheus.NewDesc(
	"ams_stream_viewers",
	"Current viewer count per stream on this edge.",
	[]string{"app", "stream", "protocol", "quality"}, nil,
)

var clientsDesc = prometheus.NewDesc(
	"ams_viewer_clients",
	"Current viewer count by player type on this edge.",
	[]string{"client"}, nil,
)

func (c *Counter) Describe(ch chan<- *prometheus.Desc) {
	ch <- viewersDesc
	ch <- clientsDesc
}

func (c *Counter) Collect(ch chan<- prometheus.Metric) {
	c.metricMu.Lock()
	defer c.metricMu.Unlock()
	c.refresh()
	for key, count := range c.viewers {
		ch <- prometheus.MustNewConstMetric(viewersDesc, prometheus.GaugeValue, float64(count),
			key.App, key.Stream, key.Protocol, key.Quality)
	}
	for client, count := range c.clients {
		ch <- prometheus.MustNewConstMetric(clientsDesc, prometheus.GaugeValue, float64(count), client)
	}
}

// Snapshot returns the current viewers per stream for one application,
// summed across protocols and qualities. The console merges these counts
// into broadcast listings.
func (c *Counter) Snapshot(app string) map[string]int {
	c.metricMu.Lock()
	defer c.metricMu.Unlock()
	c.refresh()
	out := make(map[string]int)
	for key, count := range c.viewers {
		if key.App == app {
			out[key.Stream] += count
		}
	}
	return out
}

// refresh recounts at most every few seconds, callers in between reuse
// the last result. Callers must hold metricMu.
func (c *Counter) refresh() {
	if time.Since(c.lastCount) > 3*time.Second {
		c.count()
	}
}

// count rebuilds the viewer gauges from the segment window. A viewer is
// attributed to the stream they fetched most segments from, so quality
// switches don't double count.
func (c *Counter) count() {
	c.lastCount = time.Now()
	c.viewers = make(map[streamKey]int)
	c.clients = make(map[string]int)

	c.mu.Lock()
	defer c.mu.Unlock()
	for viewer, segments := range c.segments {
		watched := make(map[streamKey]int)
		expired := 0
		for i, hit := range segments {
			if time.Since(hit.at) > c.conf.SlidingWindow {
				expired = i + 1
				continue
			}
			watched[hit.stream]++
		}

		if expired == len(segments) {
			delete(c.segments, viewer)
			continue
		}
		c.segments[viewer] = slices.Delete(segments, 0, expired)

		stream, ok := c.mostWatched(watched)
		if !ok {
			continue
		}
		c.viewers[stream]++
		c.clients[clientLabel(viewer.Agent)]++
	}
}

func (c *Counter) mostWatched(watched map[streamKey]int) (streamKey, bool) {
	best := 0
	bestKey := streamKey{}
	for key, count := range watched {
		if count > best {
			best = count
			bestKey = key
		}
	}
	return bestKey, best >= c.conf.MinSegments
}
