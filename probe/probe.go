// Package probe checks that the media server's playback outputs are
// actually consumable: it fetches HLS playlists and DASH manifests the
// way a player would and summarizes them, and it verifies that ipCamera
// sources answer behind digest auth before a broadcast is scheduled.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/icholy/digest"
	"github.com/pkg/errors"
	"github.com/quangngotan95/go-m3u8/m3u8"
	"github.com/zencoder/go-dash/mpd"
)

// Playlists larger than this are rejected instead of parsed.
const maxManifestSize = 4 << 20

// Variant is one rendition advertised by a master playlist or manifest.
type Variant struct {
	Name      string `json:"name"`
	Bandwidth int64  `json:"bandwidth,omitempty"`
	Width     int64  `json:"width,omitempty"`
	Height    int64  `json:"height,omitempty"`
}

// Health summarizes a playback manifest.
type Health struct {
	URL            string    `json:"url"`
	Format         string    `json:"format"` // hls | dash
	Live           bool      `json:"live"`
	Variants       []Variant `json:"variants,omitempty"`
	Segments       int       `json:"segments,omitempty"`
	TargetDuration int       `json:"targetDuration,omitempty"`
	LastSegment    string    `json:"lastSegment,omitempty"`
}

// Prober fetches manifests with a bounded per-request timeout.
type Prober struct {
	client  *http.Client
	timeout time.Duration
}

func New(timeout time.Duration) *Prober {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// HLS fetches and parses an HLS playlist. Master playlists report their
// variants, media playlists report segment progress and liveness.
func (p *Prober) HLS(ctx context.Context, rawURL string) (*Health, error) {
	content, err := p.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	playlist, err := m3u8.ReadString(content)
	if err != nil {
		return nil, errors.Wrap(err, "parse playlist")
	}

	health := &Health{URL: rawURL, Format: "hls"}
	if playlist.IsMaster() {
		for _, item := range playlist.Items {
			val, ok := item.(*m3u8.PlaylistItem)
			if !ok {
				continue
			}
			variant := Variant{Name: val.URI, Bandwidth: int64(val.Bandwidth)}
			if val.Width != nil {
				variant.Width = int64(*val.Width)
			}
			if val.Height != nil {
				variant.Height = int64(*val.Height)
			}
			health.Variants = append(health.Variants, variant)
		}
		return health, nil
	}

	health.Live = !strings.Contains(content, "#EXT-X-ENDLIST")
	health.TargetDuration = playlist.Target
	for _, item := range playlist.Items {
		if segment, ok := item.(*m3u8.SegmentItem); ok {
			health.Segments++
			health.LastSegment = segment.Segment
		}
	}
	return health, nil
}

// DASH fetches and parses a DASH manifest.
func (p *Prober) DASH(ctx context.Context, rawURL string) (*Health, error) {
	content, err := p.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	manifest, err := mpd.ReadFromString(content)
	if err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}

	health := &Health{URL: rawURL, Format: "dash"}
	if manifest.Type != nil && *manifest.Type == "dynamic" {
		health.Live = true
	}
	for _, period := range manifest.Periods {
		for _, set := range period.AdaptationSets {
			if set == nil {
				continue
			}
			for _, rep := range set.Representations {
				if rep == nil {
					continue
				}
				variant := Variant{}
				if rep.ID != nil {
					variant.Name = *rep.ID
				}
				if rep.Bandwidth != nil {
					variant.Bandwidth = *rep.Bandwidth
				}
				if rep.Width != nil {
					variant.Width = *rep.Width
				}
				if rep.Height != nil {
					variant.Height = *rep.Height
				}
				health.Variants = append(health.Variants, variant)
			}
		}
	}
	return health, nil
}

// Camera checks that an ipCamera source answers, negotiating digest auth
// the way the server's onvif pull does.
func (p *Prober) Camera(ctx context.Context, rawURL, username, password string) error {
	client := &http.Client{
		Timeout: p.timeout,
		Transport: &digest.Transport{
			Username: username,
			Password: password,
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "get")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("camera answered status %d", resp.StatusCode)
	}
	return nil
}

func (p *Prober) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", errors.Wrap(err, "create request")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "get")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("status %d", resp.StatusCode)
	}
	content, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return "", errors.Wrap(err, "read")
	}
	return string(content), nil
}

// PlaybackURLs derives the manifest locations the server publishes for a
// stream.
func PlaybackURLs(serverURL, app, streamID string) (hls, dash string) {
	base := strings.TrimSuffix(serverURL, "/")
	hls = fmt.Sprintf("%s/%s/streams/%s.m3u8", base, app, streamID)
	dash = fmt.Sprintf("%s/%s/streams/%s/%s.mpd", base, app, streamID, streamID)
	return hls, dash
}
