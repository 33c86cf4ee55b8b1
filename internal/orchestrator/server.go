// Package orchestrator implements the Request Orchestrator (C9): it
// accepts the request, looks up the compiler by id, proxies transparently
// to a remote peer when the descriptor names one, otherwise drives the
// Compiler Driver through the Result Cache and shapes the response per
// the client's accepted content type.
package orchestrator

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"apex-build/internal/brokerconfig"
	"apex-build/internal/compiler"
	"apex-build/internal/logging"
	"apex-build/internal/middleware"
	"apex-build/internal/registry"
	"apex-build/internal/resultcache"
)

// Server wires the broker's HTTP surface together. It holds no state of
// its own beyond its collaborators — the registry snapshot, cache, and
// driver are each independently owned and safe for concurrent use.
type Server struct {
	cfg      *brokerconfig.Config
	registry *registry.Registry
	cache    *resultcache.Cache
	driver   *compiler.Driver

	httpClient *http.Client
	engine     *gin.Engine
}

// New builds the gin engine and registers every route from §6's HTTP
// surface table.
func New(cfg *brokerconfig.Config, reg *registry.Registry, cache *resultcache.Cache, drv *compiler.Driver) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		registry: reg,
		cache:    cache,
		driver:   drv,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.ProxyTimeoutMs) * time.Millisecond,
		},
	}

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(), middleware.ErrorHandler(), middleware.Metrics(), middleware.CORS(nil), middleware.RateLimit())
	r.MaxMultipartMemory = int64(cfg.BodyParserLimit)

	r.GET("/healthcheck", s.handleHealthcheck)
	r.GET("/api/compilers", s.handleListCompilers)
	r.GET("/client-options.json", s.handleClientOptions)
	r.POST("/api/compiler/:id/compile", s.handleCompile)
	r.POST("/compile", s.handleLegacyCompile)
	r.GET("/api/asm/:opcode", s.handleAsmDoc)
	r.GET("/source/:handler/:action/*rest", s.handleSourceStub)
	r.GET("/metrics", gin.WrapH(metricsHandler()))

	s.engine = r
	return s
}

// Run starts the HTTP listener and blocks until the context is canceled
// or the server fails to bind, matching the core spec's "HTTP server
// fails to bind" infrastructure-fault contract: a bind failure here is
// fatal and the caller should exit non-zero.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		logging.L().Sugar().Infow("orchestrator: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
