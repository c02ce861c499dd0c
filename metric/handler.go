package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/blinkrelay/errors"
	"github.com/c360/blinkrelay/health"
)

// Server serves /metrics, /health and a small index page.
type Server struct {
	port     int
	path     string
	registry *MetricsRegistry
	monitor  *health.Monitor

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a metrics server. monitor may be nil, in which case
// /health always answers healthy.
func NewServer(port int, path string, registry *MetricsRegistry, monitor *health.Monitor) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{
		port:     port,
		path:     path,
		registry: registry,
		monitor:  monitor,
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		status := health.NewHealthy("blinkrelay", "No checks registered")
		if s.monitor != nil {
			status = s.monitor.Check()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status.HTTPCode())
		_ = json.NewEncoder(w).Encode(status)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html>
<head><title>blinkrelay</title></head>
<body>
<h1>blinkrelay</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="/health">Health</a></p>
</body>
</html>`, s.path)
	})

	return mux
}

// Listen binds the configured port. Port 0 picks a free port.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "MetricsServer", "Listen", "bind metrics port")
	}
	if s.registry == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "MetricsServer", "Listen", "metrics registry not provided")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrBindFailed, err), "MetricsServer", "Listen",
			fmt.Sprintf("bind port %d", s.port))
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// Serve blocks until the server is shut down. Listen must be called first.
func (s *Server) Serve() error {
	s.mu.Lock()
	srv, ln := s.server, s.listener
	s.mu.Unlock()

	if srv == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "MetricsServer", "Serve", "serve metrics")
	}
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.WrapTransient(err, "MetricsServer", "Serve", "serve metrics")
	}
	return nil
}

// Stop shuts the server down, waiting up to timeout for open requests.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	srv := s.server
	s.server, s.listener = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "MetricsServer", "Stop", "shut down HTTP server")
	}
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
