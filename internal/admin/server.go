// Package admin serves a small read-only status API over HTTP.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"memebot/internal/storage"
	logx "memebot/pkg/logx"
)

type Config struct {
	Addr  string
	Token string
	// Pprof mounts net/http/pprof under /debug/pprof behind the same token.
	Pprof bool
}

// StatusFunc reports the current bot state; the result must be JSON-serializable.
type StatusFunc func(ctx context.Context) any

// AuditReader is satisfied by storage.Store.
type AuditReader interface {
	RecentAudit(ctx context.Context, n int) ([]storage.AuditEntry, error)
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Server manages the lifecycle of the status listener.
type Server struct {
	cfg    Config
	log    logx.Logger
	status StatusFunc
	audit  AuditReader

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
}

func New(cfg Config, status StatusFunc, audit AuditReader, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8086"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log, status: status, audit: audit}
}

// Router builds the gin engine. Exposed for tests.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/api")
	if s.cfg.Token != "" {
		api.Use(bearerAuth(s.cfg.Token))
	}
	api.GET("/status", func(c *gin.Context) {
		if s.status == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, s.status(c.Request.Context()))
	})
	api.GET("/audit", func(c *gin.Context) {
		if s.audit == nil {
			respondError(c, http.StatusNotFound, "audit storage disabled")
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 || limit > 1000 {
			respondError(c, http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		entries, err := s.audit.RecentAudit(c.Request.Context(), limit)
		if err != nil {
			s.log.Warn("audit read failed", logx.Err(err))
			respondError(c, http.StatusInternalServerError, "audit read failed")
			return
		}
		if entries == nil {
			entries = []storage.AuditEntry{}
		}
		c.JSON(http.StatusOK, entries)
	})

	if s.cfg.Pprof {
		dbg := r.Group("/debug/pprof")
		if s.cfg.Token != "" {
			dbg.Use(bearerAuth(s.cfg.Token))
		}
		dbg.GET("/", gin.WrapF(hpprof.Index))
		dbg.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
		dbg.GET("/profile", gin.WrapF(hpprof.Profile))
		dbg.GET("/symbol", gin.WrapF(hpprof.Symbol))
		dbg.POST("/symbol", gin.WrapF(hpprof.Symbol))
		dbg.GET("/trace", gin.WrapF(hpprof.Trace))
		dbg.GET("/:name", gin.WrapF(hpprof.Index))
	}
	return r
}

func respondError(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, ErrorResponse{Error: msg, Code: code})
}

func bearerAuth(token string) gin.HandlerFunc {
	want := []byte("Bearer " + token)
	return func(c *gin.Context) {
		got := []byte(strings.TrimSpace(c.GetHeader("Authorization")))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			respondError(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.srv, s.ln, s.addr = srv, ln, ln.Addr().String()
	addr := s.addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("admin server started", logx.String("addr", addr), logx.Bool("auth", s.cfg.Token != ""), logx.Bool("pprof", s.cfg.Pprof))
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	srv, addr := s.srv, s.addr
	s.srv, s.ln, s.addr = nil, nil, ""
	err := srv.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	s.log.Info("admin server stopped", logx.String("addr", addr))
	return err
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
