package service

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the harness metrics for scraping
type MetricsServer struct {
	server *http.Server
	addr   atomic.Pointer[net.TCPAddr]
}

// NewMetricsServer serves gatherer, or the global registry when gatherer is nil
func NewMetricsServer(gatherer prometheus.Gatherer) *MetricsServer {
	hdlr := http.NewServeMux()
	if gatherer != nil {
		hdlr.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	} else {
		hdlr.Handle("/metrics", promhttp.Handler())
	}
	return &MetricsServer{server: &http.Server{Handler: hdlr}}
}

// Start listens on addr and serves until Shutdown
func (m *MetricsServer) Start(ctx context.Context, addr string) error {
	return serve(ctx, m.server, addr, &m.addr)
}

// Addr returns the bound address, or nil before the server listens
func (m *MetricsServer) Addr() *net.TCPAddr {
	return m.addr.Load()
}

// Shutdown stops the server
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}
