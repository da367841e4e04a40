package mediaserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
)

// Broadcast lifecycle statuses reported by the server.
const (
	StatusCreated      = "created"
	StatusPreparing    = "preparing"
	StatusBroadcasting = "broadcasting"
	StatusFinished     = "finished"
	StatusError        = "error"
	StatusFailed       = "failed"
)

// Broadcast types.
const (
	TypeLiveStream   = "liveStream"
	TypeIPCamera     = "ipCamera"
	TypeStreamSource = "streamSource"
	TypeVoD          = "VoD"
	TypePlaylist     = "playlist"
)

// Publish transports.
const (
	PublishWebRTC = "WebRTC"
	PublishRTMP   = "RTMP"
	PublishPull   = "Pull"
	PublishSRT    = "SRT"
)

// MaxPageSize is the server-enforced ceiling on list page sizes. Larger
// requests are clamped.
const MaxPageSize = 50

// Endpoint is an RTMP republish target attached to a broadcast.
type Endpoint struct {
	EndpointServiceID string `json:"endpointServiceId,omitempty"`
	RTMPURL           string `json:"rtmpUrl,omitempty"`
	Status            string `json:"status,omitempty"`
}

// Broadcast is a server-tracked live or virtual stream. Zero-valued
// fields stay out of request bodies, matching the server's ignore-missing
// update semantics.
type Broadcast struct {
	StreamID          string     `json:"streamId,omitempty"`
	Status            string     `json:"status,omitempty"`
	Type              string     `json:"type,omitempty"`
	PublishType       string     `json:"publishType,omitempty"`
	Name              string     `json:"name,omitempty"`
	Description       string     `json:"description,omitempty"`
	Publish           bool       `json:"publish,omitempty"`
	Date              int64      `json:"date,omitempty"`
	PlannedStartDate  int64      `json:"plannedStartDate,omitempty"`
	PlannedEndDate    int64      `json:"plannedEndDate,omitempty"`
	Duration          int64      `json:"duration,omitempty"`
	IPAddr            string     `json:"ipAddr,omitempty"`
	Username          string     `json:"username,omitempty"`
	Password          string     `json:"password,omitempty"`
	StreamURL         string     `json:"streamUrl,omitempty"`
	RTMPURL           string     `json:"rtmpURL,omitempty"`
	OriginAddress     string     `json:"originAdress,omitempty"` // the server omits the second d
	MP4Enabled        int        `json:"mp4Enabled,omitempty"`
	WebMEnabled       int        `json:"webMEnabled,omitempty"`
	EndPointList      []Endpoint `json:"endPointList,omitempty"`
	HLSViewerCount    int        `json:"hlsViewerCount,omitempty"`
	DASHViewerCount   int        `json:"dashViewerCount,omitempty"`
	WebRTCViewerCount int        `json:"webRTCViewerCount,omitempty"`
	RTMPViewerCount   int        `json:"rtmpViewerCount,omitempty"`
	Speed             float64    `json:"speed,omitempty"`
	Bitrate           int64      `json:"bitrate,omitempty"`
	UpdateTime        int64      `json:"updateTime,omitempty"`
	MetaData          string     `json:"metaData,omitempty"`

	// Extra carries server fields not modeled above. On encode, typed
	// fields win over entries of the same name.
	Extra map[string]json.RawMessage `json:"-"`
}

type broadcastJSON Broadcast

func (b *Broadcast) UnmarshalJSON(data []byte) error {
	var known broadcastJSON
	extra, err := decodeExtra(data, &known)
	if err != nil {
		return err
	}
	*b = Broadcast(known)
	b.Extra = extra
	return nil
}

func (b Broadcast) MarshalJSON() ([]byte, error) {
	return encodeExtra(broadcastJSON(b), b.Extra)
}

// BroadcastStatistics is the per-broadcast viewer count summary. The
// server reports -1 for transports it does not track.
type BroadcastStatistics struct {
	TotalRTMPViewers   int `json:"totalRTMPWatchersCount"`
	TotalHLSViewers    int `json:"totalHLSWatchersCount"`
	TotalWebRTCViewers int `json:"totalWebRTCWatchersCount"`
	TotalDASHViewers   int `json:"totalDASHWatchersCount"`
}

// ListFilter narrows and orders broadcast listings. Zero fields stay out
// of the query string entirely.
type ListFilter struct {
	TypeBy  string // broadcast type, e.g. liveStream
	SortBy  string // date | name | status
	OrderBy string // asc | desc
	Search  string
}

func (f ListFilter) query() url.Values {
	q := url.Values{}
	if f.TypeBy != "" {
		q.Set("typeBy", f.TypeBy)
	}
	if f.SortBy != "" {
		q.Set("sortBy", f.SortBy)
	}
	if f.OrderBy != "" {
		q.Set("orderBy", f.OrderBy)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	return q
}

// CreateBroadcast registers a new broadcast and returns the stored object
// with the assigned stream id. With autoStart the server begins pulling
// stream sources immediately; the flag is always present in the query.
func (c *Client) CreateBroadcast(ctx context.Context, b *Broadcast, autoStart bool) (*Broadcast, error) {
	q := url.Values{}
	q.Set("autoStart", strconv.FormatBool(autoStart))
	var created Broadcast
	if err := c.postJSON(ctx, c.appPath("/rest/v2/broadcasts/create", q), b, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListBroadcasts returns one page of broadcasts ordered by the filter.
func (c *Client) ListBroadcasts(ctx context.Context, offset, size int, filter ListFilter) ([]Broadcast, error) {
	if size > MaxPageSize {
		size = MaxPageSize
	}
	path := fmt.Sprintf("/rest/v2/broadcasts/list/%d/%d", offset, size)
	var broadcasts []Broadcast
	if err := c.getJSON(ctx, c.appPath(path, filter.query()), &broadcasts); err != nil {
		return nil, err
	}
	return broadcasts, nil
}

// GetBroadcast fetches a single broadcast. An unknown id yields a
// NotFoundError rather than a generic HTTPError.
func (c *Client) GetBroadcast(ctx context.Context, id string) (*Broadcast, error) {
	var b Broadcast
	if err := c.getJSON(ctx, c.appPath("/rest/v2/broadcasts/"+id, nil), &b); err != nil {
		return nil, notFound(err, "broadcast", id)
	}
	return &b, nil
}

// UpdateBroadcast writes the set fields of b to the broadcast. The server
// leaves fields missing from the body untouched.
func (c *Client) UpdateBroadcast(ctx context.Context, id string, b *Broadcast) (*Result, error) {
	var res Result
	if err := c.putJSON(ctx, c.appPath("/rest/v2/broadcasts/"+id, nil), b, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteBroadcast removes the broadcast and stops any active transport.
// With deleteSubtracks the server also removes dependent sub-tracks.
func (c *Client) DeleteBroadcast(ctx context.Context, id string, deleteSubtracks bool) (*Result, error) {
	var q url.Values
	if deleteSubtracks {
		q = url.Values{"deleteSubtracks": []string{"true"}}
	}
	var res Result
	if err := c.deleteJSON(ctx, c.appPath("/rest/v2/broadcasts/"+id, q), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CountBroadcasts returns the application's total broadcast count.
func (c *Client) CountBroadcasts(ctx context.Context) (int64, error) {
	var stat SimpleStat
	if err := c.getJSON(ctx, c.appPath("/rest/v2/broadcasts/count", nil), &stat); err != nil {
		return 0, err
	}
	return stat.Number, nil
}

// StartBroadcast asks the server to start pulling the broadcast's source.
func (c *Client) StartBroadcast(ctx context.Context, id string) (*Result, error) {
	var res Result
	if err := c.postJSON(ctx, c.appPath("/rest/v2/broadcasts/"+id+"/start", nil), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StopBroadcast stops an active broadcast.
func (c *Client) StopBroadcast(ctx context.Context, id string) (*Result, error) {
	var res Result
	if err := c.postJSON(ctx, c.appPath("/rest/v2/broadcasts/"+id+"/stop", nil), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetBroadcastStatistics returns current viewer counts for one broadcast.
func (c *Client) GetBroadcastStatistics(ctx context.Context, id string) (*BroadcastStatistics, error) {
	var stats BroadcastStatistics
	if err := c.getJSON(ctx, c.appPath("/rest/v2/broadcasts/"+id+"/broadcast-statistics", nil), &stats); err != nil {
		return nil, notFound(err, "broadcast", id)
	}
	return &stats, nil
}

// AddRTMPEndpoint attaches an RTMP republish target. The returned DataID
// identifies the endpoint for removal.
func (c *Client) AddRTMPEndpoint(ctx context.Context, id, rtmpURL string) (*Result, error) {
	var res Result
	endpoint := Endpoint{RTMPURL: rtmpURL}
	if err := c.postJSON(ctx, c.appPath("/rest/v2/broadcasts/"+id+"/rtmp-endpoint", nil), &endpoint, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RemoveRTMPEndpoint detaches a previously added republish target.
func (c *Client) RemoveRTMPEndpoint(ctx context.Context, id, endpointServiceID string) (*Result, error) {
	q := url.Values{}
	q.Set("endpointServiceId", endpointServiceID)
	var res Result
	if err := c.deleteJSON(ctx, c.appPath("/rest/v2/broadcasts/"+id+"/rtmp-endpoint", q), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RecordingOptions tunes SetRecording. Zero values stay out of the query
// and fall back to the server defaults.
type RecordingOptions struct {
	RecordType       string // mp4 | webm, defaults to mp4
	ResolutionHeight int    // record one rendition instead of the source
	FileName         string
}

// SetRecording toggles recording for a broadcast. The enabled flag is a
// path segment, not a query parameter.
func (c *Client) SetRecording(ctx context.Context, id string, enabled bool, opts RecordingOptions) (*Result, error) {
	if opts.RecordType == "" {
		opts.RecordType = "mp4"
	}
	q := url.Values{}
	q.Set("recordType", opts.RecordType)
	if opts.ResolutionHeight > 0 {
		q.Set("resolutionHeight", strconv.Itoa(opts.ResolutionHeight))
	}
	if opts.FileName != "" {
		q.Set("fileName", opts.FileName)
	}
	path := fmt.Sprintf("/rest/v2/broadcasts/%s/recording/%t", id, enabled)
	var res Result
	if err := c.putJSON(ctx, c.appPath(path, q), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// notFound converts a 404 HTTPError into a NotFoundError for the given
// resource. Other errors pass through unchanged.
func notFound(err error, kind, id string) error {
	var herr *HTTPError
	if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return err
}
