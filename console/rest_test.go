package console

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"gotest.tools/v3/assert"

	"github.com/streamwell/ams-console/mediaserver"
	"github.com/streamwell/ams-console/probe"
)

type consoleFixture struct {
	*httptest.Server
	s *server
}

func newTestConsole(t *testing.T, upstream string) *consoleFixture {
	t.Helper()
	client := mediaserver.New(mediaserver.Config{ServerURL: upstream, App: "LiveApp"})
	s := &server{
		api:          mediaserver.NewBreakerClient(client),
		prober:       probe.New(time.Second),
		sessions:     newSessionManager(testSecret, time.Hour),
		addClient:    make(chan *websocket.Conn, 1),
		removeClient: make(chan *websocket.Conn, 1),
		state:        make(map[string]interface{}),
	}
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return &consoleFixture{Server: ts, s: s}
}

func (f *consoleFixture) token(t *testing.T) string {
	t.Helper()
	token, err := f.s.sessions.issue("admin@example.com")
	assert.NilError(t, err)
	return token
}

func (f *consoleFixture) request(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.URL+path, rd)
	assert.NilError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token(t))
	resp, err := f.Client().Do(req)
	assert.NilError(t, err)
	return resp
}

func TestLoginFlow(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v2/users/authenticate" {
			http.NotFound(w, r)
			return
		}
		var user map[string]string
		json.NewDecoder(r.Body).Decode(&user)
		if user["password"] == "correct" {
			fmt.Fprint(w, `{"success":true}`)
		} else {
			fmt.Fprint(w, `{"success":false}`)
		}
	}))
	defer upstream.Close()
	f := newTestConsole(t, upstream.URL)

	resp, err := http.Post(f.URL+"/api/login", "application/json",
		strings.NewReader(`{"email":"admin@example.com","password":"correct"}`))
	assert.NilError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	var login loginResponse
	assert.NilError(t, json.NewDecoder(resp.Body).Decode(&login))
	assert.Assert(t, login.Token != "")

	// the minted token opens the api
	req, err := http.NewRequest(http.MethodGet, f.URL+"/api/state", nil)
	assert.NilError(t, err)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	stateResp, err := f.Client().Do(req)
	assert.NilError(t, err)
	stateResp.Body.Close()
	assert.Equal(t, stateResp.StatusCode, http.StatusOK)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"message":"E-mail and/or password is invalid."}`)
	}))
	defer upstream.Close()
	f := newTestConsole(t, upstream.URL)

	resp, err := http.Post(f.URL+"/api/login", "application/json",
		strings.NewReader(`{"email":"admin@example.com","password":"wrong"}`))
	assert.NilError(t, err)
	resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)
}

func TestLoginMapsUpstreamRejection(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer upstream.Close()
	f := newTestConsole(t, upstream.URL)

	resp, err := http.Post(f.URL+"/api/login", "application/json",
		strings.NewReader(`{"email":"admin@example.com","password":"x"}`))
	assert.NilError(t, err)
	resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)
}

func TestAPIRequiresToken(t *testing.T) {
	f := newTestConsole(t, "http://localhost:1")

	resp, err := http.Get(f.URL + "/api/broadcasts")
	assert.NilError(t, err)
	resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)
}

func TestListBroadcastsProxiesFilter(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotQuery string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		mu.Unlock()
		fmt.Fprint(w, `[{"streamId":"s1","status":"broadcasting","name":"One"}]`)
	}))
	defer upstream.Close()
	f := newTestConsole(t, upstream.URL)

	resp := f.request(t, http.MethodGet, "/api/broadcasts?search=One&sortBy=name", "")
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	var broadcasts []mediaserver.Broadcast
	assert.NilError(t, json.NewDecoder(resp.Body).Decode(&broadcasts))
	assert.Equal(t, len(broadcasts), 1)
	assert.Equal(t, broadcasts[0].StreamID, "s1")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, gotPath, "/LiveApp/rest/v2/broadcasts/list/0/50")
	assert.Equal(t, gotQuery, "search=One&sortBy=name")
}

func TestGetBroadcastMapsNotFound(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer upstream.Close()
	f := newTestConsole(t, upstream.URL)

	resp := f.request(t, http.MethodGet, "/api/broadcasts/missing", "")
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusNotFound)

	body, err := io.ReadAll(resp.Body)
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(string(body), `broadcast "missing" not found`))
}

func TestUpstreamDownMapsToBadGateway(t *testing.T) {
	f := newTestConsole(t, "http://localhost:1")

	resp := f.request(t, http.MethodGet, "/api/broadcasts", "")
	resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusBadGateway)
}

func TestCreateBroadcastForwardsAutoStart(t *testing.T) {
	var mu sync.Mutex
	var gotQuery, gotName string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b map[string]interface{}
		json.NewDecoder(r.Body).Decode(&b)
		mu.Lock()
		gotQuery = r.URL.RawQuery
		gotName, _ = b["name"].(string)
		mu.Unlock()
		fmt.Fprint(w, `{"streamId":"new1","status":"created","name":"cam"}`)
	}))
	defer upstream.Close()
	f := newTestConsole(t, upstream.URL)

	resp := f.request(t, http.MethodPost, "/api/broadcasts?autoStart=true", `{"name":"cam","type":"ipCamera"}`)
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	var created mediaserver.Broadcast
	assert.NilError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, created.StreamID, "new1")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, gotQuery, "autoStart=true")
	assert.Equal(t, gotName, "cam")
}

type fakeSettings struct {
	mu     sync.Mutex
	stored []byte
	writes int
}

func (f *fakeSettings) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v2/applications/settings/LiveApp" {
			http.NotFound(w, r)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			w.Write(f.stored)
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			f.stored = body
			f.writes++
			fmt.Fprint(w, `{"success":true}`)
		}
	}
}

func (f *fakeSettings) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func TestProfileEndpoints(t *testing.T) {
	fake := &fakeSettings{stored: []byte(`{"hlsMuxingEnabled":true,"encoderSettings":[{"height":240,"videoBitrate":500000,"audioBitrate":96000,"forceEncode":false}]}`)}
	upstream := httptest.NewServer(fake.handler())
	defer upstream.Close()
	f := newTestConsole(t, upstream.URL)

	resp := f.request(t, http.MethodPost, "/api/settings/profiles",
		`{"height":720,"videoBitrate":2500000,"audioBitrate":128000}`)
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	var settings mediaserver.AppSettings
	assert.NilError(t, json.NewDecoder(resp.Body).Decode(&settings))
	assert.Equal(t, len(settings.EncoderSettings), 2)
	assert.Equal(t, fake.writeCount(), 1)

	// updating a height that has no profile writes nothing and maps to 404
	missing := f.request(t, http.MethodPut, "/api/settings/profiles/540", `{"videoBitrate":1000000}`)
	missing.Body.Close()
	assert.Equal(t, missing.StatusCode, http.StatusNotFound)
	assert.Equal(t, fake.writeCount(), 1)

	removed := f.request(t, http.MethodDelete, "/api/settings/profiles/240", "")
	defer removed.Body.Close()
	assert.Equal(t, removed.StatusCode, http.StatusOK)
	assert.NilError(t, json.NewDecoder(removed.Body).Decode(&settings))
	assert.Equal(t, len(settings.EncoderSettings), 1)
	assert.Equal(t, settings.EncoderSettings[0].Height, 720)
	assert.Equal(t, fake.writeCount(), 2)
}

func TestUploadVoDPassthrough(t *testing.T) {
	var mu sync.Mutex
	var gotName, gotFilename, gotPayload string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/LiveApp/rest/v2/vods/create" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		payload, _ := io.ReadAll(file)
		mu.Lock()
		gotName = r.URL.Query().Get("name")
		gotFilename = header.Filename
		gotPayload = string(payload)
		mu.Unlock()
		fmt.Fprint(w, `{"success":true,"dataId":"vod1"}`)
	}))
	defer upstream.Close()
	f := newTestConsole(t, upstream.URL)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "movie.mp4")
	assert.NilError(t, err)
	part.Write([]byte("MOVIEDATA"))
	assert.NilError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, f.URL+"/api/vods/upload", &buf)
	assert.NilError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.token(t))
	resp, err := f.Client().Do(req)
	assert.NilError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	var res mediaserver.Result
	assert.NilError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, res.DataID, "vod1")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, gotName, "movie.mp4")
	assert.Equal(t, gotFilename, "movie.mp4")
	assert.Equal(t, gotPayload, "MOVIEDATA")
}

func TestBroadcastHealthProbes(t *testing.T) {
	const playlist = "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n" +
		"#EXTINF:4.000,\ns1_720p0000000001.ts\n#EXTINF:4.000,\ns1_720p0000000002.ts\n"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/LiveApp/rest/v2/broadcasts/s1":
			fmt.Fprint(w, `{"streamId":"s1","status":"broadcasting"}`)
		case "/LiveApp/streams/s1.m3u8":
			fmt.Fprint(w, playlist)
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()
	f := newTestConsole(t, upstream.URL)

	resp := f.request(t, http.MethodGet, "/api/broadcasts/s1/health", "")
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	var report playbackReport
	assert.NilError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Assert(t, report.HLS != nil)
	assert.Equal(t, report.HLS.Segments, 2)
	assert.Assert(t, report.HLS.Live)
	assert.Assert(t, strings.Contains(report.DASHError, "status 404"))
}

func TestInstancesEmptyWithoutDiscovery(t *testing.T) {
	f := newTestConsole(t, "http://localhost:1")

	resp := f.request(t, http.MethodGet, "/api/instances", "")
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	body, err := io.ReadAll(resp.Body)
	assert.NilError(t, err)
	assert.Equal(t, strings.TrimSpace(string(body)), "[]")
}

func TestCountEndpoints(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/LiveApp/rest/v2/broadcasts/count":
			fmt.Fprint(w, `{"number":12}`)
		case "/LiveApp/rest/v2/vods/count":
			fmt.Fprint(w, `{"number":7}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()
	f := newTestConsole(t, upstream.URL)

	resp := f.request(t, http.MethodGet, "/api/broadcasts/count", "")
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)
	var stat mediaserver.SimpleStat
	assert.NilError(t, json.NewDecoder(resp.Body).Decode(&stat))
	assert.Equal(t, stat.Number, int64(12))

	vods := f.request(t, http.MethodGet, "/api/vods/count", "")
	defer vods.Body.Close()
	assert.NilError(t, json.NewDecoder(vods.Body).Decode(&stat))
	assert.Equal(t, stat.Number, int64(7))
}

type staticViewers map[string]int

func (v staticViewers) Snapshot(app string) map[string]int { return v }

func TestListBroadcastsMergesEdgeViewers(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"streamId":"s1","name":"One"},{"streamId":"s2","name":"Two"}]`)
	}))
	defer upstream.Close()
	f := newTestConsole(t, upstream.URL)
	f.s.viewers = staticViewers{"s1": 3}

	resp := f.request(t, http.MethodGet, "/api/broadcasts", "")
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	var broadcasts []map[string]interface{}
	assert.NilError(t, json.NewDecoder(resp.Body).Decode(&broadcasts))
	assert.Equal(t, len(broadcasts), 2)
	assert.Equal(t, broadcasts[0]["edgeViewers"], float64(3))
	_, present := broadcasts[1]["edgeViewers"]
	assert.Assert(t, !present)
}

func TestIndexServesStatusPage(t *testing.T) {
	f := newTestConsole(t, "http://localhost:1")

	resp, err := http.Get(f.URL + "/")
	assert.NilError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)
	assert.Assert(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))

	body, err := io.ReadAll(resp.Body)
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(string(body), "<title>ams-console</title>"))
}
