package app

import (
	"context"
	"net/http"

	"github.com/aserto-dev/logger"
	"github.com/rs/zerolog"

	"github.com/acmecorp/people-sync/pkg/auth"
	"github.com/acmecorp/people-sync/pkg/config"
	"github.com/acmecorp/people-sync/pkg/index"
	"github.com/acmecorp/people-sync/pkg/keycloak"
	syncer "github.com/acmecorp/people-sync/pkg/sync"
)

// Server owns the HTTP boundary and the wired sync pipeline behind it.
type Server struct {
	server       *http.Server
	log          *zerolog.Logger
	cfg          *config.Config
	gate         *auth.Gate
	orchestrator *syncer.Orchestrator
}

// NewServer loads configuration from cfgPath and wires the full service.
func NewServer(cfgPath string, logWriter logger.Writer, errWriter logger.ErrWriter) (*Server, error) {
	cfg, err := config.NewConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	appLogger, err := logger.NewLogger(logWriter, errWriter, &cfg.Logging)
	if err != nil {
		return nil, err
	}

	return New(cfg, appLogger)
}

// New wires the service from an already-loaded configuration.
//
// The owning project is resolved here, once; a failed resolution is logged
// and surfaces as a configuration error on /sync rather than killing the
// process, so /health stays reachable.
func New(cfg *config.Config, log *zerolog.Logger) (*Server, error) {
	var project string

	if cfg.Auth.Enabled {
		resolved, err := auth.ResolveProject(context.Background(), &cfg.Auth, log)
		if err != nil {
			log.Error().Err(err).Msg("project resolution failed, sync trigger will reject with a configuration error")
		} else {
			project = resolved
		}
	}

	gate := auth.NewGate(&cfg.Auth, project, log)
	source := keycloak.New(&cfg.Source, log)

	var deliverer index.Deliverer

	if cfg.Sync.DryRun {
		log.Info().Msg("dry run enabled, no records will be written to the index")
		deliverer = index.NewDryRun(log)
	} else {
		var err error

		deliverer, err = index.NewDeliverer(&cfg.Target, log)
		if err != nil {
			return nil, err
		}
	}

	s := &Server{
		log:          log,
		cfg:          cfg,
		gate:         gate,
		orchestrator: syncer.New(source, deliverer, &cfg.Sync, log),
	}

	s.server = &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           s.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	return s, nil
}

// Handler builds the route table. Auth is ordinary middleware composition
// around the handlers, not an annotation on them.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.optionalAuth(s.handleHealth))
	mux.HandleFunc("POST /sync", s.requireAuth(s.handleSync))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})

	return mux
}

func (s *Server) Run() error {
	s.log.Info().Str("address", s.cfg.Server.ListenAddress).Msg("starting people-sync server")

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.log.Info().Msg("shutting down people-sync server")

	return s.server.Shutdown(ctx)
}
