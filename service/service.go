package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum/go-ethereum/log"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = "8080"

	MetricsHost = "0.0.0.0"
	MetricsPort = "7300"

	shutdownTimeout = 5 * time.Second
)

// Config selects the listen addresses. An empty address disables that server.
type Config struct {
	HealthzAddr string
	MetricsAddr string
}

// DefaultConfig listens on the standard ports on all interfaces
func DefaultConfig() Config {
	return Config{
		HealthzAddr: net.JoinHostPort(HealthzHost, HealthzPort),
		MetricsAddr: net.JoinHostPort(MetricsHost, MetricsPort),
	}
}

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer

	log log.Logger
	cfg Config
	wg  sync.WaitGroup
}

func New(logger log.Logger, cfg Config) *Service {
	return &Service{
		Healthz: NewHealthzServer(logger),
		Metrics: NewMetricsServer(nil),
		log:     logger,
		cfg:     cfg,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.log.Info("service starting")

	if addr := s.cfg.HealthzAddr; addr != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.log.Info("starting healthz server", "addr", addr)
			if err := s.Healthz.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting healthz server", "err", err)
				metrics.RecordErrorDetails("error starting healthz server", err)
			}
		}()
	}

	if addr := s.cfg.MetricsAddr; addr != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.log.Info("starting metrics server", "addr", addr)
			if err := s.Metrics.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting metrics server", "err", err)
				metrics.RecordErrorDetails("error starting metrics server", err)
			}
		}()
	}

	s.log.Info("service started")
}

// Shutdown stops both servers and waits for them to exit
func (s *Service) Shutdown() {
	s.log.Info("service shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	_ = s.Healthz.Shutdown(ctx)
	s.log.Info("healthz stopped")

	_ = s.Metrics.Shutdown(ctx)
	s.log.Info("metrics stopped")

	s.wg.Wait()
	s.log.Info("service stopped")
}
