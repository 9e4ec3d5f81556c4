// Package syncrelay composes the relay service: core record store, HTTP
// API with live streams, operator auth, snapshot persistence, and the
// optional encrypted archive.
package syncrelay

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"pkt.systems/pslog"

	"pkt.systems/syncrelay/core"
	"pkt.systems/syncrelay/httpapi"
	"pkt.systems/syncrelay/internal/archive"
	"pkt.systems/syncrelay/internal/auth"
	"pkt.systems/syncrelay/internal/eventbus"
	"pkt.systems/syncrelay/internal/persist"
	"pkt.systems/syncrelay/schema"
)

// Server composes the relay services.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service    schema.ServiceConfig
	HTTP       httpapi.Config
	Auth       AuthConfig
	Archive    ArchiveConfig
	StateDir   string
	HubHistory int
}

// AuthConfig defines authentication storage settings.
type AuthConfig struct {
	UserFile  string
	SeedUsers []SeedUser
}

// SeedUser seeds an initial user record.
type SeedUser struct {
	Username     string
	PasswordHash string
	TOTPSecret   string
}

// ArchiveConfig configures the encrypted final-record archive.
type ArchiveConfig struct {
	Enabled  bool
	KeyStore string
	Dir      string
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	ServiceDeps core.ServiceDeps
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP bool
	enableBus  bool
}

// WithHTTP enables the HTTP API server.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithEventBus enables the in-process event bus for embedders.
func WithEventBus() ServerOption {
	return func(o *serverOptions) { o.enableBus = true }
}

// New constructs a composable relay server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP && !options.enableBus {
		return nil, errors.New("no services enabled")
	}

	normalized, err := schema.NormalizeServiceConfig(cfg.Service)
	if err != nil {
		return nil, err
	}
	cfg.Service = normalized

	serviceDeps := deps.ServiceDeps
	logger := serviceDeps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
		serviceDeps.Logger = logger
	}

	var hub *httpapi.Hub
	var bus *eventbus.Bus
	if options.enableHTTP {
		hub = httpapi.NewHub(cfg.HubHistory)
	}
	if options.enableBus {
		bus = eventbus.New(logger)
	}

	sinks := make([]core.EventSink, 0, 3)
	if serviceDeps.EventSink != nil {
		sinks = append(sinks, serviceDeps.EventSink)
	}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	if bus != nil {
		sinks = append(sinks, bus)
	}
	switch len(sinks) {
	case 0:
	case 1:
		serviceDeps.EventSink = sinks[0]
	default:
		serviceDeps.EventSink = eventFanout{sinks: sinks}
	}

	if serviceDeps.Snapshots == nil && cfg.StateDir != "" {
		store, err := persist.NewStoreWithLogger(filepath.Join(cfg.StateDir, "records"), logger)
		if err != nil {
			return nil, err
		}
		serviceDeps.Snapshots = store
	}

	if serviceDeps.Archiver == nil && cfg.Archive.Enabled {
		vault, err := archive.NewVaultWithLogger(cfg.Archive.KeyStore, cfg.Archive.Dir, logger)
		if err != nil {
			return nil, err
		}
		serviceDeps.Archiver = vault
	}

	service, err := core.NewService(cfg.Service, serviceDeps)
	if err != nil {
		return nil, err
	}

	var httpSrv *httpapi.Server
	if options.enableHTTP {
		seeds := toSeedUsers(cfg.Auth.SeedUsers)
		authStore, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, seeds, logger)
		if err != nil {
			return nil, err
		}
		httpSrv = httpapi.NewServer(cfg.HTTP, service, authStore, hub)
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		service: service,
		httpSrv: httpSrv,
		bus:     bus,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	service core.Service
	httpSrv *httpapi.Server
	bus     *eventbus.Bus
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

// Service exposes the core service to embedders.
func (s *compositeServer) Service() core.Service {
	return s.service
}

// Bus exposes the in-process event bus when enabled.
func (s *compositeServer) Bus() *eventbus.Bus {
	return s.bus
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http", s.options.enableHTTP,
		"bus", s.options.enableBus,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_url", s.cfg.HTTP.BaseURL,
		"http_base_path", s.cfg.HTTP.BasePath,
		"archive", s.cfg.Archive.Enabled,
	)
	if s.options.enableHTTP && s.httpSrv != nil {
		go func() {
			if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}

func toSeedUsers(users []SeedUser) []auth.SeedUser {
	if len(users) == 0 {
		return nil
	}
	out := make([]auth.SeedUser, 0, len(users))
	for _, user := range users {
		out = append(out, auth.SeedUser{
			Username:     user.Username,
			PasswordHash: user.PasswordHash,
			TOTPSecret:   user.TOTPSecret,
		})
	}
	return out
}
