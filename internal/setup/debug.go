package setup

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	// #nosec G108 -- pprof debugging is intentionally enabled only on localhost
	_ "net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// debugServer represents a background HTTP server for pprof or metrics.
type debugServer struct {
	name     string
	srv      *http.Server
	listener net.Listener
}

// startPprofServer starts the pprof HTTP server on localhost.
func startPprofServer(port int, logger *zap.Logger) (*debugServer, error) {
	return startDebugServer("pprof", fmt.Sprintf("localhost:%d", port), http.DefaultServeMux, logger)
}

// startMetricsServer serves the Prometheus registry on /metrics.
func startMetricsServer(addr string, logger *zap.Logger) (*debugServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return startDebugServer("metrics", addr, mux, logger)
}

func startDebugServer(name, addr string, handler http.Handler, logger *zap.Logger) (*debugServer, error) {
	// Create secure server with timeouts
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s listener: %w", name, err)
	}

	// Start server in background
	go func() {
		logger.Info("Starting debug server", zap.String("name", name), zap.String("address", listener.Addr().String()))
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Debug server failed", zap.String("name", name), zap.Error(err))
		}
	}()

	return &debugServer{
		name:     name,
		srv:      srv,
		listener: listener,
	}, nil
}

// Addr returns the address the server is listening on.
func (d *debugServer) Addr() string {
	return d.listener.Addr().String()
}
