package service

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// HealthzServer answers liveness probes while a run is in progress
type HealthzServer struct {
	log    log.Logger
	server *http.Server
	addr   atomic.Pointer[net.TCPAddr]
}

func (h *HealthzServer) handler() http.Handler {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(hdlr)
}

// NewHealthzServer creates a healthz server
func NewHealthzServer(logger log.Logger) *HealthzServer {
	h := &HealthzServer{log: logger}
	h.server = &http.Server{Handler: h.handler()}
	return h
}

// Start listens on addr and serves until Shutdown
func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	return serve(ctx, h.server, addr, &h.addr)
}

// Addr returns the bound address, or nil before the server listens
func (h *HealthzServer) Addr() *net.TCPAddr {
	return h.addr.Load()
}

// Shutdown stops the server
func (h *HealthzServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	if h.log != nil {
		h.log.Debug("Received health check request", "path", r.URL.Path)
	}
	w.Write([]byte("OK")) //nolint:errcheck
}

// serve binds addr and serves until the server is shut down. A server shut down
// before it listens returns http.ErrServerClosed right away.
func serve(ctx context.Context, server *http.Server, addr string, bound *atomic.Pointer[net.TCPAddr]) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		bound.Store(tcp)
	}
	return server.Serve(ln)
}
