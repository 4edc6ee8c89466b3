package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/glowbridge/internal/config"
	"github.com/dokzlo13/glowbridge/internal/db"
	"github.com/dokzlo13/glowbridge/internal/eventbus"
	"github.com/dokzlo13/glowbridge/internal/fulfillment"
	"github.com/dokzlo13/glowbridge/internal/httpd"
	"github.com/dokzlo13/glowbridge/internal/identity"
	"github.com/dokzlo13/glowbridge/internal/store/sqlitestore"
	"github.com/dokzlo13/glowbridge/internal/syncapi"
	"github.com/dokzlo13/glowbridge/internal/tokens"
)

// Services is a container for all cloud services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Cloud

	// Core infrastructure
	DB   *db.DB
	Bus  *eventbus.Bus
	Docs *sqlitestore.Store

	// Authorization
	Verifier     identity.Verifier
	TokenStore   *tokens.Store
	TokenService *tokens.Service

	// HTTP surface
	Dispatcher *fulfillment.Dispatcher
	SyncAPI    *syncapi.Server
	HTTP       *httpd.Server
}

// NewServices creates all services with explicit dependency injection.
func NewServices(cfg *config.Cloud) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Docs = sqlitestore.New(database.DB, s.Bus)

	s.Verifier = identity.NewTokenInfoVerifier(cfg.OAuth.TokenInfoURL, cfg.OAuth.HTTPTimeout.Duration())
	s.TokenStore = tokens.NewStore(s.Docs)
	s.TokenService = tokens.NewService(cfg.OAuth.ClientID, cfg.OAuth.RedirectURI, s.Verifier, s.TokenStore)

	s.Dispatcher = fulfillment.NewDispatcher(s.Docs, s.TokenStore)
	s.SyncAPI = syncapi.NewServer(s.Docs, s.Verifier)

	s.HTTP = httpd.NewServer(
		cfg.HTTP.Addr(),
		tokens.NewHandler(s.TokenService),
		s.Dispatcher,
		s.SyncAPI.Routes(),
		database.PingContext,
	)

	return s, nil
}

// Start starts the HTTP server. A listener failure is fatal for the
// whole process.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	go func() {
		if err := s.HTTP.Run(ctx, s.cfg.HTTP.ShutdownTimeout.Duration()); err != nil {
			onFatalError(err)
		}
	}()

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}
}
