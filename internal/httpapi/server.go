package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"kolpulse/internal/observability/metrics"
	"kolpulse/internal/runtime/supervisor"
	"kolpulse/pkg/logx"
)

const (
	defaultAddr            = "127.0.0.1:8080"
	defaultShutdownTimeout = 5 * time.Second
)

var ErrInsecureBind = errors.New("httpapi: non-loopback addr requires token or allow_insecure")

type Config struct {
	Addr          string
	Token         string
	Pprof         bool
	AllowInsecure bool

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server owns the HTTP listener. Routes are fixed at construction; changing
// Config requires a restart.
type Server struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	handler http.Handler
	sup     *supervisor.Supervisor
	srv     *http.Server
	ln      net.Listener
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func New(cfg Config, h *Handlers, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	log = log.With(logx.String("comp", "httpapi"))
	return &Server{cfg: cfg, log: log, handler: NewRouter(cfg, h, log)}
}

// NewRouter wires middleware and routes. /healthz and /metrics stay open;
// everything else sits behind the bearer token when one is set.
func NewRouter(cfg Config, h *Handlers, log logx.Logger) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(log), Observability(log))

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/", BearerAuth(cfg.Token))
	api.POST("/posts/:id/refresh", h.RefreshPost)
	api.GET("/posts/:id/snapshots", h.PostSnapshots)
	api.POST("/campaigns/:id/refresh", h.RefreshCampaign)
	api.GET("/campaigns/:id/progress", h.CampaignProgress)
	api.GET("/campaigns/:id/kols/:kol/progress", h.KOLProgress)
	api.POST("/broadcasts", h.CreateBroadcast)
	api.GET("/broadcasts/:id", h.GetBroadcast)

	if cfg.Pprof {
		mountPprof(api)
	}
	return r
}

func mountPprof(r *gin.RouterGroup) {
	g := r.Group("/debug/pprof")
	g.GET("/", gin.WrapF(hpprof.Index))
	g.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	g.GET("/profile", gin.WrapF(hpprof.Profile))
	g.GET("/symbol", gin.WrapF(hpprof.Symbol))
	g.POST("/symbol", gin.WrapF(hpprof.Symbol))
	g.GET("/trace", gin.WrapF(hpprof.Trace))
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		g.GET("/"+name, gin.WrapH(hpprof.Handler(name)))
	}
}

func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// Start binds synchronously so address errors surface to the caller, then
// serves under a supervisor. Start is idempotent.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}

	cfg := s.cfg
	if !cfg.AllowInsecure && cfg.Token == "" && !isLoopbackAddr(cfg.Addr) {
		s.log.Error("http refused to start", logx.String("addr", cfg.Addr), logx.Err(ErrInsecureBind))
		return ErrInsecureBind
	}
	if cfg.Token == "" && !isLoopbackAddr(cfg.Addr) {
		s.log.Warn("http running without token on non-loopback addr (insecure)", logx.String("addr", cfg.Addr))
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
	sup := supervisor.New(ctx,
		supervisor.WithLogger(s.log),
		supervisor.WithCancelOnError(false),
	)
	s.ln, s.srv, s.sup = ln, srv, sup

	sup.Go("http.serve", func(c context.Context) error {
		err := srv.Serve(ln)
		if c.Err() != nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	sup.Go0("http.shutdown_on_cancel", func(c context.Context) {
		<-c.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})

	s.log.Info("http started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cfg.Token != ""),
		logx.Bool("pprof", cfg.Pprof),
	)
	return nil
}

// Stop drains in-flight requests for up to ShutdownTimeout, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	timeout := s.cfg.ShutdownTimeout
	s.srv, s.ln, s.sup = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := srv.Shutdown(sctx)
	if err != nil {
		_ = srv.Close()
	}
	sup.Cancel()
	if werr := sup.Wait(ctx); werr != nil && err == nil {
		err = werr
	}
	s.log.Info("http stopped")
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
