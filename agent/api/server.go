package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	orchestratorx "github.com/tanpawarit/Agent-Before-Ambulance/agent/agents/orchestrator"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
	metricsx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/metrics"
)

type Config struct {
	Addr           string        `envconfig:"ADDR" default:":8000"`
	RatePerSecond  float64       `envconfig:"RATE_PER_SECOND" split_words:"true" default:"1"`
	RateBurst      int           `envconfig:"RATE_BURST" split_words:"true" default:"5"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" split_words:"true" default:"120s"`
	LimiterIdle    time.Duration `envconfig:"LIMITER_IDLE" split_words:"true" default:"30m"`
}

// Supervisor is the conversational core the transport drives.
type Supervisor interface {
	Handle(ctx context.Context, sessionID string, text string) (orchestratorx.Turn, error)
	NewSession(ctx context.Context) (string, error)
	Session(ctx context.Context, sessionID string) (*statex.SessionState, statex.Stage, error)
	EndSession(ctx context.Context, sessionID string) error
}

type Server struct {
	echo    *echo.Echo
	sup     Supervisor
	limiter *SessionLimiter
	metrics *metricsx.Recorder
	cfg     Config
}

func NewServer(sup Supervisor, cfg Config, rec *metricsx.Recorder, gatherer prometheus.Gatherer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		sup:     sup,
		limiter: NewSessionLimiter(cfg.RatePerSecond, cfg.RateBurst),
		metrics: rec,
		cfg:     cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"*"},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Debug()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("http request")
			return nil
		},
	}))

	e.POST("/new-session", s.newSession)
	e.POST("/agent", s.agent)
	e.GET("/sessions/:id", s.getSession)
	e.DELETE("/sessions/:id", s.deleteSession)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.pruneLimiters(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		errCh <- s.echo.Start(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) pruneLimiters(ctx context.Context) {
	idle := s.cfg.LimiterIdle
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Prune(idle); n > 0 {
				log.Debug().Int("removed", n).Msg("pruned idle rate limiters")
			}
		}
	}
}
