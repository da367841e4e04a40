package mediaserver

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

// VoD origin types.
const (
	VoDTypeStream   = "streamVod" // produced by server-side recording
	VoDTypeUploaded = "uploadedVod"
	VoDTypeUser     = "userVod" // linked from an imported directory
)

// VoD is a recorded or imported video-on-demand file tracked by the
// server's datastore.
type VoD struct {
	VodID           string `json:"vodId,omitempty"`
	StreamID        string `json:"streamId,omitempty"`
	VodName         string `json:"vodName,omitempty"`
	StreamName      string `json:"streamName,omitempty"`
	FilePath        string `json:"filePath,omitempty"`
	PreviewFilePath string `json:"previewFilePath,omitempty"`
	FileSize        int64  `json:"fileSize,omitempty"`
	Duration        int64  `json:"duration,omitempty"`
	CreationDate    int64  `json:"creationDate,omitempty"`
	Type            string `json:"type,omitempty"`
	Metadata        string `json:"metadata,omitempty"`

	// Extra carries server fields not modeled above.
	Extra map[string]json.RawMessage `json:"-"`
}

type vodJSON VoD

func (v *VoD) UnmarshalJSON(data []byte) error {
	var known vodJSON
	extra, err := decodeExtra(data, &known)
	if err != nil {
		return err
	}
	*v = VoD(known)
	v.Extra = extra
	return nil
}

func (v VoD) MarshalJSON() ([]byte, error) {
	return encodeExtra(vodJSON(v), v.Extra)
}

// VoDFilter narrows and orders VoD listings. Zero fields stay out of the
// query string.
type VoDFilter struct {
	SortBy   string // name | date
	OrderBy  string // asc | desc
	StreamID string // only recordings of this broadcast
	Search   string
}

func (f VoDFilter) query() url.Values {
	q := url.Values{}
	if f.SortBy != "" {
		q.Set("sortBy", f.SortBy)
	}
	if f.OrderBy != "" {
		q.Set("orderBy", f.OrderBy)
	}
	if f.StreamID != "" {
		q.Set("streamId", f.StreamID)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	return q
}

// ListVoDs returns one page of VoD records.
func (c *Client) ListVoDs(ctx context.Context, offset, size int, filter VoDFilter) ([]VoD, error) {
	if size > MaxPageSize {
		size = MaxPageSize
	}
	path := fmt.Sprintf("/rest/v2/vods/list/%d/%d", offset, size)
	var vods []VoD
	if err := c.getJSON(ctx, c.appPath(path, filter.query()), &vods); err != nil {
		return nil, err
	}
	return vods, nil
}

// CountVoDs returns the application's total VoD count.
func (c *Client) CountVoDs(ctx context.Context) (int64, error) {
	var stat SimpleStat
	if err := c.getJSON(ctx, c.appPath("/rest/v2/vods/count", nil), &stat); err != nil {
		return 0, err
	}
	return stat.Number, nil
}

// GetVoD fetches a single VoD record. An unknown id yields NotFoundError.
func (c *Client) GetVoD(ctx context.Context, id string) (*VoD, error) {
	var v VoD
	if err := c.getJSON(ctx, c.appPath("/rest/v2/vods/"+id, nil), &v); err != nil {
		return nil, notFound(err, "vod", id)
	}
	return &v, nil
}

// DeleteVoD removes one VoD record and its file.
func (c *Client) DeleteVoD(ctx context.Context, id string) (*Result, error) {
	var res Result
	if err := c.deleteJSON(ctx, c.appPath("/rest/v2/vods/"+id, nil), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteVoDs removes several VoD records in one call. The ids travel as a
// single comma-joined query value.
func (c *Client) DeleteVoDs(ctx context.Context, ids []string) (*Result, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	var res Result
	if err := c.deleteJSON(ctx, c.appPath("/rest/v2/vods/bulk", q), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// UnlinkVoDDirectory drops the database records for VoDs linked from the
// directory. The files themselves stay on disk.
func (c *Client) UnlinkVoDDirectory(ctx context.Context, directory string) (*Result, error) {
	q := url.Values{}
	q.Set("directory", directory)
	var res Result
	if err := c.deleteJSON(ctx, c.appPath("/rest/v2/vods/directory", q), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ImportVoDDirectory links every media file below the directory as a VoD.
func (c *Client) ImportVoDDirectory(ctx context.Context, directory string) (*Result, error) {
	q := url.Values{}
	q.Set("directory", directory)
	var res Result
	if err := c.postJSON(ctx, c.appPath("/rest/v2/vods/directory", q), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ImportVoDsToStalker pushes the application's VoD catalog to the
// configured Stalker portal.
func (c *Client) ImportVoDsToStalker(ctx context.Context) (*Result, error) {
	var res Result
	if err := c.postJSON(ctx, c.appPath("/rest/v2/vods/import-to-stalker", nil), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// UploadVoD streams a media file into the application's VoD store as a
// multipart form. The server derives the container format from the name's
// extension. metadata, when non-empty, must be a JSON document and travels
// as a second form field. The returned DataID is the new vod id.
func (c *Client) UploadVoD(ctx context.Context, name string, file io.Reader, metadata string) (*Result, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		if metadata != "" {
			if err := mw.WriteField("metadata", metadata); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()

	q := url.Values{}
	q.Set("name", name)
	var res Result
	err := c.send(ctx, http.MethodPost, c.appPath("/rest/v2/vods/create", q), pr, mw.FormDataContentType(), nil, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
