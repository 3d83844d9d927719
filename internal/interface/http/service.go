package httpservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/arkade-os/escrowd/internal/config"
	"github.com/arkade-os/escrowd/internal/core/application"
	interfaces "github.com/arkade-os/escrowd/internal/interface"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

type service struct {
	config        Config
	appSvc        application.Service
	server        *http.Server
	listener      net.Listener
	readiness     *readiness
	appSvcStarted atomic.Bool
}

func NewService(svcConfig Config, appConfig *config.Config) (interfaces.Service, error) {
	if err := svcConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %s", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app config: %s", err)
	}

	appSvc, err := appConfig.AppService()
	if err != nil {
		return nil, fmt.Errorf("failed to create app service: %w", err)
	}
	return newService(svcConfig, appSvc), nil
}

func newService(svcConfig Config, appSvc application.Service) *service {
	return &service{
		config:    svcConfig,
		appSvc:    appSvc,
		readiness: &readiness{},
	}
}

func (s *service) Start() error {
	if err := s.start(); err != nil {
		return err
	}
	log.Infof("started listening at %s", s.listener.Addr())

	return s.startAppServices()
}

func (s *service) Stop() {
	s.stop()
	log.Info("shutdown service")
}

func (s *service) start() error {
	listener, err := net.Listen("tcp", s.config.address())
	if err != nil {
		return fmt.Errorf("failed to listen at %s: %w", s.config.address(), err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler: newRouter(
			s.appSvc, s.readiness, newSignatureVerifier(s.config.WebhookSecret),
			s.config.requestTimeout(), s.config.EnableMetrics,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()
	return nil
}

func (s *service) stop() {
	if s.appSvcStarted.CompareAndSwap(true, false) {
		s.readiness.markStopped()
		s.appSvc.Stop()
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("failed to gracefully shutdown http server")
			_ = s.server.Close()
		}
	}
}

func (s *service) startAppServices() error {
	if !s.appSvcStarted.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.appSvc.Start(); err != nil {
		s.appSvcStarted.Store(false)
		return fmt.Errorf("failed to start app service: %w", err)
	}
	log.Info("started app service")

	s.readiness.markStarted()
	log.Info("escrow service is now ready")
	return nil
}
