// internal/app/shutdown.go
// Package app carries process-level plumbing shared by the binaries.
package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CloseFunc allows using a function as an io.Closer.
type CloseFunc func() error

func (f CloseFunc) Close() error { return f() }

// ShutdownHandler manages graceful shutdown of multiple services.
// Services are closed in reverse registration order, so register
// foundations first (store) and outermost surfaces last (HTTP).
type ShutdownHandler struct {
	logger   *zap.Logger
	mu       sync.Mutex
	services []namedService
	timeout  time.Duration
}

type namedService struct {
	name   string
	closer io.Closer
}

// NewShutdownHandler creates a shutdown handler with the given total timeout.
func NewShutdownHandler(logger *zap.Logger, timeout time.Duration) *ShutdownHandler {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownHandler{
		logger:  logger.Named("shutdown"),
		timeout: timeout,
	}
}

// Add registers a service for shutdown.
func (sh *ShutdownHandler) Add(name string, closer io.Closer) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.services = append(sh.services, namedService{name: name, closer: closer})
	sh.logger.Debug("Registered service for shutdown", zap.String("service", name))
}

// AddFunc registers a shutdown function.
func (sh *ShutdownHandler) AddFunc(name string, fn func() error) {
	sh.Add(name, CloseFunc(fn))
}

// Run blocks until the context is cancelled, then closes every registered
// service within the handler's timeout.
func (sh *ShutdownHandler) Run(ctx context.Context) {
	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), sh.timeout)
	defer cancel()
	sh.Shutdown(sctx)
}

// Shutdown closes all registered services in reverse order.
func (sh *ShutdownHandler) Shutdown(ctx context.Context) {
	sh.mu.Lock()
	services := make([]namedService, len(sh.services))
	copy(services, sh.services)
	sh.mu.Unlock()

	sh.logger.Info("Starting graceful shutdown", zap.Int("services", len(services)))

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]

		done := make(chan error, 1)
		go func() { done <- svc.closer.Close() }()

		select {
		case err := <-done:
			if err != nil {
				sh.logger.Error("Failed to shut down service",
					zap.String("service", svc.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", svc.name, err))
			} else {
				sh.logger.Info("Service shutdown complete",
					zap.String("service", svc.name))
			}
		case <-ctx.Done():
			sh.logger.Error("Shutdown timeout for service",
				zap.String("service", svc.name))
			errs = append(errs, fmt.Errorf("%s: shutdown timeout", svc.name))
		}
	}

	if len(errs) > 0 {
		sh.logger.Error("Shutdown completed with errors", zap.Int("errors", len(errs)))
		return
	}
	sh.logger.Info("Graceful shutdown completed")
}
