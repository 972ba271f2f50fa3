package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kbukum/noticemux/component"
	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/mux"
	"github.com/kbukum/noticemux/tabbus"
)

// Route paths.
const (
	pathShared  = "/shared"
	pathBus     = "/bus/:channel"
	pathHealth  = "/health"
	pathWorkers = "/workers"
)

// HealthChecker returns the health of registered components.
type HealthChecker func(ctx context.Context) []component.Health

// Deps are the collaborators the gateway serves.
type Deps struct {
	// Pool provides the multiplexers behind /shared.
	Pool *mux.Pool
	// Bus selects the tab bus transport behind /bus.
	Bus tabbus.Env
	// Health feeds /health. Nil reports healthy with no components.
	Health HealthChecker
	// Service and Version are reported by /health.
	Service string
	Version string
}

// Server exposes multiplexer ports and tab bus channels over websockets.
type Server struct {
	cfg    Config
	deps   Deps
	log    *logger.Logger
	engine *gin.Engine
	http   *http.Server

	base          context.Context
	closeSessions context.CancelFunc
	sessions      sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
}

// New creates a gateway with its routes registered.
func New(cfg Config, deps Deps, log *logger.Logger) *Server {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.WithComponent("gateway")
	}
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		engine: gin.New(),
	}
	s.base, s.closeSessions = context.WithCancel(context.Background())
	s.engine.Use(recovery(log), requestID(), cors(cfg.AllowedOrigins), requestLogger(log))
	s.engine.GET(pathShared, s.serveShared)
	s.engine.GET(pathBus, s.serveBus)
	s.engine.GET(pathHealth, s.serveHealth)
	s.engine.GET(pathWorkers, s.serveWorkers)

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.IdleTimeout) * time.Second,
	}
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.engine }

// Start binds the port and serves in the background. It returns once the
// listener is bound.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("gateway failed to bind %s: %w", s.http.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("Gateway server error", logger.Fields(logger.FieldError, err.Error()))
		}
	}()
	s.log.Info("Gateway started", logger.Fields("addr", ln.Addr().String()))
	return nil
}

// Stop shuts the server down. Websocket sessions are hijacked connections
// that Shutdown does not wait for, so they are cancelled through the
// server's base context and awaited separately.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.ShutdownTimeout)*time.Second)
	defer cancel()

	s.log.Info("Shutting down gateway")
	err := s.http.Shutdown(ctx)
	s.closeSessions()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("Gateway sessions still open at shutdown deadline")
	}
	if err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}

// session derives the context of one websocket session: it ends with the
// request or when the server stops. done must be called when the session
// is over.
func (s *Server) session(r *http.Request) (ctx context.Context, done func()) {
	s.sessions.Add(1)
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(s.base, cancel)
	return ctx, func() {
		stop()
		cancel()
		s.sessions.Done()
	}
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.http.Addr
}
