// Package health serves the liveness endpoint and Prometheus metrics.
package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mcadmsolutions/MiBotBinance/internal/bot"
)

// Source supplies the loop's last completed cycle snapshot. Reads are atomic
// loads on the runner side, so handlers never block on a cycle in flight.
type Source interface {
	Status() bot.Status
}

// Server answers liveness queries independently of loop timing. It is not a
// control surface; the loop cannot be started or stopped through it.
type Server struct {
	service string
	source  Source
	router  *gin.Engine
	log     zerolog.Logger
}

// NewServer builds the HTTP surface: `/` and `/healthz` report the status
// record, `/metrics` serves Prometheus.
func NewServer(service string, source Source, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{service: service, source: source, router: router, log: log}
	router.GET("/", s.handleStatus)
	router.GET("/healthz", s.handleStatus)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return s
}

// Handler exposes the router for embedding in an http.Server.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on the given address until the context is canceled, then drains
// in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.log.Info().Str("addr", addr).Msg("health server listening")
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.source.Status()
	status := "running"
	lastCheck := ""
	if st.LastCycle.IsZero() {
		status = "starting"
	} else {
		lastCheck = st.LastCycle.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"service":    s.service,
		"last_check": lastCheck,
		"last_error": st.LastError,
	})
}
