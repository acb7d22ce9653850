package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/thermoctl/internal/logger"
)

// HTTPServer serves /metrics and /health for the daemon.
type HTTPServer struct {
	Server *http.Server
	log    *logger.Logger
}

func NewHTTPServer(addr string, registry *prometheus.Registry, health http.Handler, log *logger.Logger) *HTTPServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(registry))
	mux.Handle("/health", health)
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPServer{
		Server: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log:    log,
	}
}

// Start listens in the background until ctx is done. The listen error is
// returned synchronously so a bad address fails fast.
func (s *HTTPServer) Start(ctx context.Context) (net.Addr, error) {
	ln, err := net.Listen("tcp", s.Server.Addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := s.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("metrics server stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Server.Shutdown(shutdownCtx)
	}()
	s.log.Infow("metrics server listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}
