package console

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/streamwell/ams-console/config"
	"github.com/streamwell/ams-console/discovery"
	"github.com/streamwell/ams-console/mediaserver"
	"github.com/streamwell/ams-console/probe"
)

type clientMap map[*websocket.Conn]bool

type server struct {
	conf     config.Console
	api      *mediaserver.BreakerClient
	prober   *probe.Prober
	disco    *discovery.Watcher
	viewers  ViewerSource
	sessions *sessionManager
	gatherer prometheus.Gatherer

	upgrader websocket.Upgrader
	done     sync.WaitGroup

	// update channels
	addClient    chan *websocket.Conn
	removeClient chan *websocket.Conn
	updates      <-chan map[string]interface{}

	// last state per key, pushed to new websocket clients and served
	// on /api/state
	stateMu sync.Mutex
	state   map[string]interface{}
}

func newServer(ctx context.Context, conf config.Console, deps Deps, sessions *sessionManager, updates <-chan map[string]interface{}) *server {
	s := &server{
		conf:     conf,
		api:      deps.API,
		prober:   deps.Prober,
		disco:    deps.Discovery,
		viewers:  deps.Viewers,
		sessions: sessions,
		gatherer: deps.Gatherer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		updates:      updates,
		addClient:    make(chan *websocket.Conn, 1),
		removeClient: make(chan *websocket.Conn, 1),
		state:        make(map[string]interface{}),
	}
	s.done.Add(1)
	go s.run(ctx)
	return s
}

func (s *server) Wait() {
	s.done.Wait()
}

// client returns the plain upstream client for interactive calls. The
// breaker only guards the poll path, operator actions must always reach
// the server.
func (s *server) client() *mediaserver.Client {
	return s.api.Client()
}

func (s *server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", indexHandler()).Methods(http.MethodGet)
	router.HandleFunc("/api/login", s.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.wsHandler)
	if s.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.sessions.middleware)
	api.HandleFunc("/broadcasts", s.handleListBroadcasts).Methods(http.MethodGet)
	api.HandleFunc("/broadcasts", s.handleCreateBroadcast).Methods(http.MethodPost)
	api.HandleFunc("/broadcasts/count", s.handleCountBroadcasts).Methods(http.MethodGet)
	api.HandleFunc("/broadcasts/{id}", s.handleGetBroadcast).Methods(http.MethodGet)
	api.HandleFunc("/broadcasts/{id}", s.handleUpdateBroadcast).Methods(http.MethodPut)
	api.HandleFunc("/broadcasts/{id}", s.handleDeleteBroadcast).Methods(http.MethodDelete)
	api.HandleFunc("/broadcasts/{id}/start", s.handleStartBroadcast).Methods(http.MethodPost)
	api.HandleFunc("/broadcasts/{id}/stop", s.handleStopBroadcast).Methods(http.MethodPost)
	api.HandleFunc("/broadcasts/{id}/statistics", s.handleBroadcastStatistics).Methods(http.MethodGet)
	api.HandleFunc("/broadcasts/{id}/health", s.handleBroadcastHealth).Methods(http.MethodGet)
	api.HandleFunc("/broadcasts/{id}/recording", s.handleSetRecording).Methods(http.MethodPut)
	api.HandleFunc("/broadcasts/{id}/endpoints", s.handleAddEndpoint).Methods(http.MethodPost)
	api.HandleFunc("/broadcasts/{id}/endpoints", s.handleRemoveEndpoint).Methods(http.MethodDelete)
	api.HandleFunc("/vods", s.handleListVoDs).Methods(http.MethodGet)
	api.HandleFunc("/vods", s.handleDeleteVoDs).Methods(http.MethodDelete)
	api.HandleFunc("/vods/count", s.handleCountVoDs).Methods(http.MethodGet)
	api.HandleFunc("/vods/upload", s.handleUploadVoD).Methods(http.MethodPost)
	api.HandleFunc("/vods/directory", s.handleImportDirectory).Methods(http.MethodPost)
	api.HandleFunc("/vods/directory", s.handleUnlinkDirectory).Methods(http.MethodDelete)
	api.HandleFunc("/vods/stalker", s.handleStalkerImport).Methods(http.MethodPost)
	api.HandleFunc("/vods/{id}", s.handleGetVoD).Methods(http.MethodGet)
	api.HandleFunc("/vods/{id}", s.handleDeleteVoD).Methods(http.MethodDelete)
	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPost)
	api.HandleFunc("/settings/profiles", s.handleAddProfile).Methods(http.MethodPost)
	api.HandleFunc("/settings/profiles/{height}", s.handleUpdateProfile).Methods(http.MethodPut)
	api.HandleFunc("/settings/profiles/{height}", s.handleRemoveProfile).Methods(http.MethodDelete)
	api.HandleFunc("/instances", s.handleInstances).Methods(http.MethodGet)
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	return router
}

func (s *server) run(ctx context.Context) {
	srv := &http.Server{Addr: s.conf.Address, Handler: s.routes()}

	s.done.Add(1)
	go func() {
		defer s.done.Done()
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Msgf("ListenAndServe(): %v", err)
		}
	}()

	s.loop(ctx, srv)
}

// loop owns the websocket client set. srv may be nil in tests.
func (s *server) loop(ctx context.Context, srv *http.Server) {
	defer s.done.Done()

	clients := make(clientMap)
	for {
		select {
		case <-ctx.Done():
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("server shutdown")
				}
			}
			return
		case ws := <-s.addClient:
			if err := ws.WriteJSON(s.snapshotState()); err != nil {
				log.Error().Err(err).Msg("write state")
			}
			clients[ws] = true
		case ws := <-s.removeClient:
			delete(clients, ws)
		case update := <-s.updates:
			s.stateMu.Lock()
			for k, v := range update {
				s.state[k] = v
			}
			s.stateMu.Unlock()
			s.broadcast(clients, update)
		}
	}
}

func (s *server) snapshotState() map[string]interface{} {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	state := make(map[string]interface{}, len(s.state))
	for k, v := range s.state {
		state[k] = v
	}
	return state
}

func (s *server) broadcast(clients clientMap, v interface{}) {
	for ws := range clients {
		if err := ws.WriteJSON(v); err != nil {
			log.Error().Err(err).Msg("write")
		}
	}
}

func (s *server) wsHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sessions.verify(tokenFromRequest(r)); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer c.Close()

	// register client
	s.addClient <- c
	defer func() { s.removeClient <- c }()

	for {
		_, _, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("ws read")
			}
			break
		}
	}
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func indexHandler() http.HandlerFunc {
	data, err := static.ReadFile("static/index.html")
	if err != nil {
		log.Fatal().Err(err).Msg("index read")
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(data)
	}
}
