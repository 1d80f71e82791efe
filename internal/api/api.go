// Package api provides HTTP handlers and the main API server logic for
// Reverie.
//
// It exposes RESTful endpoints for the guided-reflection loop: session
// lifecycle, reflection turns, the encounter mini-game, artifact
// composition, and relays. The API wires together the store, GenAI,
// reflection engine, and encounter modules.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/reverie-app/reverie/internal/encounter"
	"github.com/reverie-app/reverie/internal/genai"
	"github.com/reverie-app/reverie/internal/loop"
	"github.com/reverie-app/reverie/internal/store"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration for the API server.
type Opts struct {
	Addr           string
	OpeningTimeout time.Duration
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithOpeningTimeout sets the opening greeting timeout for the engine.
func WithOpeningTimeout(d time.Duration) Option {
	return func(o *Opts) { o.OpeningTimeout = d }
}

// Server carries the dependencies shared by all handlers.
type Server struct {
	st        store.Store
	gaClient  genai.ClientInterface
	engine    *loop.Engine
	generator *encounter.Generator
	locks     sessionLocks
}

// sessionLocks serializes mutating handlers per session so concurrent turns
// or encounter moves cannot interleave read-modify-write cycles.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (l *sessionLocks) lock(sessionID int64) *sync.Mutex {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[int64]*sync.Mutex)
	}
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m
}

// NewServer creates an API server around its dependencies. The GenAI client
// may be nil; turn processing then reports 503 and generated content falls
// back to static text.
func NewServer(st store.Store, gaClient genai.ClientInterface, engine *loop.Engine, generator *encounter.Generator) *Server {
	return &Server{
		st:        st,
		gaClient:  gaClient,
		engine:    engine,
		generator: generator,
	}
}

// Routes builds the chi router for the API.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/shadows", s.shadowsHandler)

		r.Post("/sessions", s.createSessionHandler)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.getSessionHandler)
			r.Put("/", s.updateSessionHandler)
			r.Get("/messages", s.messagesHandler)
			r.Post("/turn", s.turnHandler)
			r.Post("/encounter/start", s.encounterStartHandler)
			r.Post("/encounter/scene", s.encounterSceneHandler)
			r.Post("/encounter/choice", s.encounterChoiceHandler)
			r.Post("/artifact", s.composeArtifactHandler)
		})

		r.Post("/relays", s.createRelayHandler)
		r.Get("/relays", s.listRelaysHandler)
	})

	return r
}

// Run builds the store, GenAI client, and engine from options and serves
// the API until the listener fails.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	var storeCfg store.Opts
	for _, opt := range storeOpts {
		opt(&storeCfg)
	}

	var st store.Store
	var err error
	switch {
	case storeCfg.DSN == "":
		slog.Warn("api.Run: no database DSN configured, using in-memory store")
		st = store.NewInMemoryStore()
	case store.DetectDSNType(storeCfg.DSN) == "postgres":
		st, err = store.NewPostgresStore(storeOpts...)
	default:
		st, err = store.NewSQLiteStore(storeOpts...)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	var gaClient genai.ClientInterface
	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Warn("api.Run: GenAI client unavailable, turn processing disabled", "error", err)
	} else {
		gaClient = client
	}

	var engineOpts []loop.Option
	if cfg.OpeningTimeout > 0 {
		engineOpts = append(engineOpts, loop.WithOpeningTimeout(cfg.OpeningTimeout))
	}
	engine := loop.NewEngine(gaClient, engineOpts...)
	generator := encounter.NewGenerator(gaClient)

	server := NewServer(st, gaClient, engine, generator)
	slog.Info("api.Run: Reverie API listening", "addr", cfg.Addr)
	return http.ListenAndServe(cfg.Addr, server.Routes())
}
