package mediaserver

import (
	"context"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
)

// EncoderProfile is one adaptive-bitrate rendition. Profiles are keyed
// uniquely by Height within an application's settings.
type EncoderProfile struct {
	Height       int  `json:"height"`
	VideoBitrate int  `json:"videoBitrate"`
	AudioBitrate int  `json:"audioBitrate"`
	ForceEncode  bool `json:"forceEncode"`
}

// AppSettings is an application's configuration. Booleans and the encoder
// list are always written so false and empty survive the write-back; the
// long tail of server settings rides along in Extra.
type AppSettings struct {
	MP4MuxingEnabled  bool             `json:"mp4MuxingEnabled"`
	WebMMuxingEnabled bool             `json:"webMMuxingEnabled"`
	HLSMuxingEnabled  bool             `json:"hlsMuxingEnabled"`
	DASHMuxingEnabled bool             `json:"dashMuxingEnabled"`
	WebRTCEnabled     bool             `json:"webRTCEnabled"`
	EncoderSettings   []EncoderProfile `json:"encoderSettings"`
	RemoteAllowedCIDR string           `json:"remoteAllowedCIDR,omitempty"`

	// Extra carries server fields not modeled above.
	Extra map[string]json.RawMessage `json:"-"`
}

type appSettingsJSON AppSettings

func (s *AppSettings) UnmarshalJSON(data []byte) error {
	var known appSettingsJSON
	extra, err := decodeExtra(data, &known)
	if err != nil {
		return err
	}
	*s = AppSettings(known)
	s.Extra = extra
	return nil
}

func (s AppSettings) MarshalJSON() ([]byte, error) {
	return encodeExtra(appSettingsJSON(s), s.Extra)
}

// GetSettings fetches the application's settings. The configured proxy
// token, if any, rides along as the ProxyAuthorization header.
func (c *Client) GetSettings(ctx context.Context) (*AppSettings, error) {
	var s AppSettings
	err := c.send(ctx, http.MethodGet, c.serverPath("/rest/v2/applications/settings/"+c.app, nil), nil, "", c.settingsHeader(), &s)
	if err != nil {
		return nil, notFound(err, "application", c.app)
	}
	return &s, nil
}

// UpdateSettings writes the settings object back. The server merges it
// over the stored configuration.
func (c *Client) UpdateSettings(ctx context.Context, s *AppSettings) (*Result, error) {
	var res Result
	err := c.sendJSON(ctx, http.MethodPost, c.serverPath("/rest/v2/applications/settings/"+c.app, nil), s, c.settingsHeader(), &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// The encoder profile helpers below are read-modify-write: they fetch the
// settings, mutate the profile list by height and write the whole object
// back. The server has no partial-list endpoint, so two concurrent
// mutations race and the last write wins. Callers that need stronger
// guarantees must serialize on their side.

// AddEncoderProfile inserts the profile, replacing any existing profile
// at the same height. Returns the settings as written.
func (c *Client) AddEncoderProfile(ctx context.Context, p EncoderProfile) (*AppSettings, error) {
	s, err := c.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	replaced := false
	for i := range s.EncoderSettings {
		if s.EncoderSettings[i].Height == p.Height {
			s.EncoderSettings[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		s.EncoderSettings = append(s.EncoderSettings, p)
	}
	if _, err := c.UpdateSettings(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateEncoderProfile replaces the profile at p.Height. When no profile
// exists at that height it fails with NotFoundError and writes nothing.
func (c *Client) UpdateEncoderProfile(ctx context.Context, p EncoderProfile) (*AppSettings, error) {
	s, err := c.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for i := range s.EncoderSettings {
		if s.EncoderSettings[i].Height == p.Height {
			s.EncoderSettings[i] = p
			found = true
			break
		}
	}
	if !found {
		return nil, &NotFoundError{Kind: "encoder profile", ID: strconv.Itoa(p.Height)}
	}
	if _, err := c.UpdateSettings(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// RemoveEncoderProfile filters out the profile at the given height. A
// height with no profile is a no-op success: the unchanged list is still
// written back.
func (c *Client) RemoveEncoderProfile(ctx context.Context, height int) (*AppSettings, error) {
	s, err := c.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	kept := s.EncoderSettings[:0]
	for _, p := range s.EncoderSettings {
		if p.Height != height {
			kept = append(kept, p)
		}
	}
	s.EncoderSettings = kept
	if _, err := c.UpdateSettings(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}
