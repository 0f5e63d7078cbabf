package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"waveq/internal/config"
	"waveq/internal/dispatch"
	"waveq/internal/logging"
	"waveq/internal/orchestrator"
	"waveq/internal/queue"
	"waveq/internal/services"
)

const shutdownTimeout = 5 * time.Second

// Jobs is the single-job surface served under /api/v1/jobs.
type Jobs interface {
	Submit(ctx context.Context, req dispatch.SubmitRequest) (*queue.Job, error)
	Status(ctx context.Context, id string) (*queue.Job, error)
	List(ctx context.Context, filter queue.Filter) ([]*queue.Job, error)
	Cancel(ctx context.Context, id string) (*queue.Job, error)
	Stats(ctx context.Context) (dispatch.Stats, error)
}

// Workflows is the workflow surface served under /api/v1/workflows.
type Workflows interface {
	Plan(ctx context.Context, req orchestrator.Request) (*orchestrator.Plan, error)
	Start(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	Get(id string) (*orchestrator.Result, error)
	List() []*orchestrator.Result
}

// Server hosts the HTTP API.
type Server struct {
	bind      string
	token     string
	origins   []string
	parallel  bool
	dirs      map[string]string
	version   string
	jobs      Jobs
	workflows Workflows
	logger    *slog.Logger
	echo      *echo.Echo

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New builds the API server and registers its routes.
func New(cfg *config.Config, jobs Jobs, workflows Workflows, version string, logger *slog.Logger) *Server {
	s := &Server{
		bind:      strings.TrimSpace(cfg.Paths.APIBind),
		token:     strings.TrimSpace(cfg.Paths.APIToken),
		origins:   append([]string(nil), cfg.Paths.CORSOrigins...),
		parallel:  cfg.Workflow.ParallelDispatch,
		dirs:      map[string]string{"uploads": cfg.Paths.UploadDir, "outputs": cfg.Paths.OutputDir},
		version:   version,
		jobs:      jobs,
		workflows: workflows,
		logger:    logging.NewComponentLogger(logger, "api"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestContext)
	e.Use(s.requestLogger())
	e.Use(middleware.Recover())
	if len(s.origins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
		}))
	}
	if s.token != "" {
		e.Use(s.auth())
	}

	e.GET("/health", s.handleHealth)

	v1 := e.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/jobs", s.handleSubmitJob)
	v1.GET("/jobs", s.handleListJobs)
	v1.GET("/jobs/:id", s.handleGetJob)
	v1.DELETE("/jobs/:id", s.handleCancelJob)
	v1.POST("/workflows", s.handleStartWorkflow)
	v1.POST("/workflows/plan", s.handlePlanWorkflow)
	v1.GET("/workflows", s.handleListWorkflows)
	v1.GET("/workflows/:id", s.handleGetWorkflow)

	s.echo = e
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on the configured bind address and serves until Stop or ctx
// is done.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return services.Wrap(services.ErrConfiguration, "api", "start", "paths.api_bind is empty", nil)
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.server = server
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that paths.api_bind is free"),
			)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.token != ""),
	)
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// requestContext copies the request id into the request context so service
// logs carry it as correlation_id.
func requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
			req := c.Request()
			c.SetRequest(req.WithContext(services.WithRequestID(req.Context(), id)))
		}
		return next(c)
	}
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []logging.Attr{
				logging.String("method", v.Method),
				logging.String("uri", v.URI),
				logging.Int("status", v.Status),
				logging.Duration("latency", v.Latency),
				logging.String(logging.FieldCorrelationID, v.RequestID),
			}
			if v.Status >= http.StatusInternalServerError {
				s.logger.Warn("api request", logging.Args(attrs...)...)
				return nil
			}
			s.logger.Debug("api request", logging.Args(attrs...)...)
			return nil
		},
	})
}

// auth requires a bearer token on every route except /health.
func (s *Server) auth() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(s.token)) == 1, nil
		},
		ErrorHandler: func(_ error, c echo.Context) error {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Kind: "unauthorized"})
		},
	})
}
