package console

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/streamwell/ams-console/discovery"
	"github.com/streamwell/ams-console/mediaserver"
	"github.com/streamwell/ams-console/probe"
)

func decodeJSON(rd io.Reader, out interface{}) error {
	content, err := io.ReadAll(io.LimitReader(rd, 1048576))
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(content, out)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

// writeError maps upstream client failures onto dashboard status codes:
// missing resources stay 404, upstream rejections keep their status, and
// everything that never produced a valid answer becomes 502.
func writeError(w http.ResponseWriter, err error) {
	var (
		notFoundErr *mediaserver.NotFoundError
		authErr     *mediaserver.AuthenticationError
		httpErr     *mediaserver.HTTPError
	)
	status := http.StatusBadGateway
	switch {
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
	case errors.As(err, &httpErr):
		status = httpErr.StatusCode
	}
	http.Error(w, err.Error(), status)
}

func badRequest(w http.ResponseWriter, err error) {
	http.Error(w, fmt.Sprintf("parse failed: %s", err), http.StatusUnprocessableEntity)
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req loginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.client().Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	if !res.Success {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token, err := s.sessions.issue(req.Email)
	if err != nil {
		log.Error().Err(err).Msg("issue session")
		http.Error(w, "session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, loginResponse{Token: token, ExpiresIn: int64(s.sessions.ttl.Seconds())})
}

func (s *server) handleListBroadcasts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := mediaserver.ListFilter{
		TypeBy:  q.Get("typeBy"),
		SortBy:  q.Get("sortBy"),
		OrderBy: q.Get("orderBy"),
		Search:  q.Get("search"),
	}
	broadcasts, err := s.api.ListBroadcasts(r.Context(),
		intQuery(r, "offset", 0), intQuery(r, "size", mediaserver.MaxPageSize), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if broadcasts == nil {
		broadcasts = []mediaserver.Broadcast{}
	}
	s.mergeViewers(broadcasts)
	writeJSON(w, broadcasts)
}

// mergeViewers overlays edge viewer counts onto listed broadcasts.
// Edge-delivered HLS sessions never reach the media server, so its own
// hlsViewerCount misses them.
func (s *server) mergeViewers(broadcasts []mediaserver.Broadcast) {
	if s.viewers == nil {
		return
	}
	counts := s.viewers.Snapshot(s.client().App())
	if len(counts) == 0 {
		return
	}
	for i := range broadcasts {
		n, ok := counts[broadcasts[i].StreamID]
		if !ok {
			continue
		}
		if broadcasts[i].Extra == nil {
			broadcasts[i].Extra = make(map[string]json.RawMessage)
		}
		broadcasts[i].Extra["edgeViewers"] = json.RawMessage(strconv.Itoa(n))
	}
}

func (s *server) handleCountBroadcasts(w http.ResponseWriter, r *http.Request) {
	n, err := s.api.CountBroadcasts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, mediaserver.SimpleStat{Number: n})
}

func (s *server) handleCountVoDs(w http.ResponseWriter, r *http.Request) {
	n, err := s.api.CountVoDs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, mediaserver.SimpleStat{Number: n})
}

func (s *server) handleCreateBroadcast(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var b mediaserver.Broadcast
	if err := decodeJSON(r.Body, &b); err != nil {
		badRequest(w, err)
		return
	}
	autoStart := r.URL.Query().Get("autoStart") == "true"
	created, err := s.client().CreateBroadcast(r.Context(), &b, autoStart)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, created)
}

func (s *server) handleGetBroadcast(w http.ResponseWriter, r *http.Request) {
	b, err := s.client().GetBroadcast(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, b)
}

func (s *server) handleUpdateBroadcast(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var b mediaserver.Broadcast
	if err := decodeJSON(r.Body, &b); err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.client().UpdateBroadcast(r.Context(), mux.Vars(r)["id"], &b)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleDeleteBroadcast(w http.ResponseWriter, r *http.Request) {
	deleteSubtracks := r.URL.Query().Get("deleteSubtracks") == "true"
	res, err := s.client().DeleteBroadcast(r.Context(), mux.Vars(r)["id"], deleteSubtracks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleStartBroadcast(w http.ResponseWriter, r *http.Request) {
	res, err := s.client().StartBroadcast(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleStopBroadcast(w http.ResponseWriter, r *http.Request) {
	res, err := s.client().StopBroadcast(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleBroadcastStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.api.GetBroadcastStatistics(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stats)
}

type playbackReport struct {
	HLS       *probe.Health `json:"hls,omitempty"`
	HLSError  string        `json:"hlsError,omitempty"`
	DASH      *probe.Health `json:"dash,omitempty"`
	DASHError string        `json:"dashError,omitempty"`
}

func (s *server) handleBroadcastHealth(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	// resolve the id first so unknown broadcasts answer 404 instead of
	// two probe failures
	if _, err := s.client().GetBroadcast(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	hlsURL, dashURL := probe.PlaybackURLs(s.client().ServerURL(), s.client().App(), id)
	var report playbackReport
	if health, err := s.prober.HLS(r.Context(), hlsURL); err != nil {
		report.HLSError = err.Error()
	} else {
		report.HLS = health
	}
	if health, err := s.prober.DASH(r.Context(), dashURL); err != nil {
		report.DASHError = err.Error()
	} else {
		report.DASH = health
	}
	writeJSON(w, report)
}

type recordingRequest struct {
	Enabled          bool   `json:"enabled"`
	RecordType       string `json:"recordType,omitempty"`
	ResolutionHeight int    `json:"resolutionHeight,omitempty"`
	FileName         string `json:"fileName,omitempty"`
}

func (s *server) handleSetRecording(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req recordingRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		badRequest(w, err)
		return
	}
	opts := mediaserver.RecordingOptions{
		RecordType:       req.RecordType,
		ResolutionHeight: req.ResolutionHeight,
		FileName:         req.FileName,
	}
	res, err := s.client().SetRecording(r.Context(), mux.Vars(r)["id"], req.Enabled, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleAddEndpoint(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var endpoint mediaserver.Endpoint
	if err := decodeJSON(r.Body, &endpoint); err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.client().AddRTMPEndpoint(r.Context(), mux.Vars(r)["id"], endpoint.RTMPURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleRemoveEndpoint(w http.ResponseWriter, r *http.Request) {
	serviceID := r.URL.Query().Get("endpointServiceId")
	if serviceID == "" {
		badRequest(w, errors.New("endpointServiceId is required"))
		return
	}
	res, err := s.client().RemoveRTMPEndpoint(r.Context(), mux.Vars(r)["id"], serviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleListVoDs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := mediaserver.VoDFilter{
		SortBy:   q.Get("sortBy"),
		OrderBy:  q.Get("orderBy"),
		StreamID: q.Get("streamId"),
		Search:   q.Get("search"),
	}
	vods, err := s.client().ListVoDs(r.Context(),
		intQuery(r, "offset", 0), intQuery(r, "size", mediaserver.MaxPageSize), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if vods == nil {
		vods = []mediaserver.VoD{}
	}
	writeJSON(w, vods)
}

func (s *server) handleGetVoD(w http.ResponseWriter, r *http.Request) {
	vod, err := s.client().GetVoD(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, vod)
}

func (s *server) handleDeleteVoD(w http.ResponseWriter, r *http.Request) {
	res, err := s.client().DeleteVoD(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleDeleteVoDs(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["ids"]
	if len(ids) == 0 {
		badRequest(w, errors.New("ids is required"))
		return
	}
	res, err := s.client().DeleteVoDs(r.Context(), ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

// handleUploadVoD relays a multipart upload into the VoD store without
// holding the whole file in memory.
func (s *server) handleUploadVoD(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, err)
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	res, err := s.client().UploadVoD(r.Context(), name, file, r.FormValue("metadata"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleImportDirectory(w http.ResponseWriter, r *http.Request) {
	directory := r.URL.Query().Get("directory")
	if directory == "" {
		badRequest(w, errors.New("directory is required"))
		return
	}
	res, err := s.client().ImportVoDDirectory(r.Context(), directory)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleUnlinkDirectory(w http.ResponseWriter, r *http.Request) {
	directory := r.URL.Query().Get("directory")
	if directory == "" {
		badRequest(w, errors.New("directory is required"))
		return
	}
	res, err := s.client().UnlinkVoDDirectory(r.Context(), directory)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleStalkerImport(w http.ResponseWriter, r *http.Request) {
	res, err := s.client().ImportVoDsToStalker(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.client().GetSettings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, settings)
}

func (s *server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var settings mediaserver.AppSettings
	if err := decodeJSON(r.Body, &settings); err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.client().UpdateSettings(r.Context(), &settings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleAddProfile(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var profile mediaserver.EncoderProfile
	if err := decodeJSON(r.Body, &profile); err != nil {
		badRequest(w, err)
		return
	}
	settings, err := s.client().AddEncoderProfile(r.Context(), profile)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, settings)
}

func (s *server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	height, err := strconv.Atoi(mux.Vars(r)["height"])
	if err != nil {
		badRequest(w, err)
		return
	}
	var profile mediaserver.EncoderProfile
	if err := decodeJSON(r.Body, &profile); err != nil {
		badRequest(w, err)
		return
	}
	profile.Height = height
	settings, err := s.client().UpdateEncoderProfile(r.Context(), profile)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, settings)
}

func (s *server) handleRemoveProfile(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.Atoi(mux.Vars(r)["height"])
	if err != nil {
		badRequest(w, err)
		return
	}
	settings, err := s.client().RemoveEncoderProfile(r.Context(), height)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, settings)
}

func (s *server) handleInstances(w http.ResponseWriter, r *http.Request) {
	if s.disco == nil {
		writeJSON(w, []discovery.Instance{})
		return
	}
	writeJSON(w, s.disco.Instances())
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshotState())
}
