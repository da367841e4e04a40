// Package mediaserver implements a typed client for the REST v2 API of
// Ant-Media-compatible streaming servers. A Client is bound to one server
// and one application; every call is a single request/response with no
// retries and no cached state, so concurrent use is safe while multi-step
// helpers (encoder profiles) stay read-modify-write with last write wins.
package mediaserver

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

// ProxyAuthHeader carries the pre-shared proxy token on application
// settings calls.
const ProxyAuthHeader = "ProxyAuthorization"

// Error bodies larger than this are not inspected for a server message.
const maxErrorBody = 64 << 10

// Config binds a Client to a server and application.
type Config struct {
	// ServerURL is the base URL, e.g. http://localhost:5080.
	ServerURL string
	// App scopes broadcast and VoD calls, e.g. LiveApp.
	App string
	// ProxyToken is sent as ProxyAuthorization on settings calls when set.
	ProxyToken string
	// HTTPClient overrides the default client. The default enforces no
	// timeout; bound individual calls through the context instead.
	HTTPClient *http.Client
}

// Client issues REST v2 calls for one application on a media server.
type Client struct {
	serverURL  string
	app        string
	proxyToken string
	hc         *http.Client
}

func New(conf Config) *Client {
	hc := conf.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		serverURL:  strings.TrimSuffix(conf.ServerURL, "/"),
		app:        conf.App,
		proxyToken: conf.ProxyToken,
		hc:         hc,
	}
}

// ServerURL returns the configured base URL without a trailing slash.
func (c *Client) ServerURL() string { return c.serverURL }

// App returns the application scope.
func (c *Client) App() string { return c.app }

// Result is the server's generic mutation response envelope.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	DataID  string `json:"dataId,omitempty"`
	ErrorID int    `json:"errorId,omitempty"`
}

// SimpleStat is the server's numeric stat envelope.
type SimpleStat struct {
	Number int64 `json:"number"`
}

// serverPath builds a URL below the server root.
func (c *Client) serverPath(p string, q url.Values) string {
	u := c.serverURL + p
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// appPath builds a URL below the application scope.
func (c *Client) appPath(p string, q url.Values) string {
	return c.serverPath("/"+c.app+p, q)
}

// settingsHeader returns the extra header set for privileged settings
// calls, or nil when no proxy token is configured.
func (c *Client) settingsHeader() http.Header {
	if c.proxyToken == "" {
		return nil
	}
	return http.Header{ProxyAuthHeader: []string{c.proxyToken}}
}

// send performs one request and decodes a 2xx JSON body into out when out
// is non-nil. Failures map onto the package error types: RequestError for
// transport problems, HTTPError for non-2xx responses and ParseError for
// undecodable success bodies.
func (c *Client) send(ctx context.Context, method, rawURL string, body io.Reader, contentType string, extra http.Header, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return &RequestError{URL: rawURL, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range extra {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return &RequestError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return httpError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ParseError{URL: rawURL, Err: err}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	return c.send(ctx, http.MethodGet, rawURL, nil, "", nil, out)
}

func (c *Client) postJSON(ctx context.Context, rawURL string, in, out interface{}) error {
	return c.sendJSON(ctx, http.MethodPost, rawURL, in, nil, out)
}

func (c *Client) putJSON(ctx context.Context, rawURL string, in, out interface{}) error {
	return c.sendJSON(ctx, http.MethodPut, rawURL, in, nil, out)
}

func (c *Client) deleteJSON(ctx context.Context, rawURL string, out interface{}) error {
	return c.send(ctx, http.MethodDelete, rawURL, nil, "", nil, out)
}

// sendJSON marshals in as the request body. A nil in sends no body but
// keeps the JSON content type, which the server expects on bare mutations.
func (c *Client) sendJSON(ctx context.Context, method, rawURL string, in interface{}, extra http.Header, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return &RequestError{URL: rawURL, Err: err}
		}
		body = bytes.NewReader(buf)
	}
	return c.send(ctx, method, rawURL, body, "application/json", extra, out)
}

// httpError drains up to maxErrorBody of the response looking for the
// server's message field.
func httpError(resp *http.Response) *HTTPError {
	herr := &HTTPError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return herr
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		herr.Message = payload.Message
	}
	return herr
}
