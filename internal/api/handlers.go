package api

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"waveq/internal/cleanup"
	"waveq/internal/dispatch"
	"waveq/internal/orchestrator"
	"waveq/internal/queue"
	"waveq/internal/services"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.version})
}

func (s *Server) handleStatus(c echo.Context) error {
	stats, err := s.jobs.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Version:          s.version,
		Dispatcher:       stats,
		Workflows:        len(s.workflows.List()),
		ParallelDispatch: s.parallel,
		Storage:          s.storage(),
	})
}

// storage reports artifact directory usage. Unreadable directories are
// reported with zero usage.
func (s *Server) storage() []DirUsage {
	names := make([]string, 0, len(s.dirs))
	for name := range s.dirs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]DirUsage, 0, len(names))
	for _, name := range names {
		path := s.dirs[name]
		if path == "" {
			continue
		}
		entries, bytes, _ := cleanup.Usage(path)
		out = append(out, DirUsage{Name: name, Path: path, Entries: entries, Bytes: bytes})
	}
	return out
}

func (s *Server) handleSubmitJob(c echo.Context) error {
	var req SubmitJobRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := validateCallback(req.CallbackURL); err != nil {
		return err
	}
	job, err := s.jobs.Submit(c.Request().Context(), dispatch.SubmitRequest{
		Operation:   queue.Operation(strings.TrimSpace(req.Operation)),
		InputRef:    req.InputRef,
		Config:      req.Config,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, SubmitJobResponse{TaskID: job.ID, Status: job.Status})
}

func (s *Server) handleListJobs(c echo.Context) error {
	filter := queue.Filter{WorkflowID: strings.TrimSpace(c.QueryParam("workflow_id"))}
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, err := queue.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				return err
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return services.Wrap(services.ErrValidation, "api", "list jobs", fmt.Sprintf("invalid limit %q", raw), nil)
		}
		filter.Limit = limit
	}
	jobs, err := s.jobs.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}
	return c.JSON(http.StatusOK, JobListResponse{Jobs: jobs})
}

func (s *Server) handleGetJob(c echo.Context) error {
	job, err := s.jobs.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancelJob(c echo.Context) error {
	job, err := s.jobs.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CancelJobResponse{
		TaskID:  job.ID,
		Status:  job.Status,
		Message: "job cancelled",
	})
}

func (s *Server) handleStartWorkflow(c echo.Context) error {
	var req orchestrator.Request
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := validateCallback(req.CallbackURL); err != nil {
		return err
	}
	result, err := s.workflows.Start(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, result)
}

func (s *Server) handlePlanWorkflow(c echo.Context) error {
	var req orchestrator.Request
	if err := c.Bind(&req); err != nil {
		return err
	}
	plan, err := s.workflows.Plan(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plan)
}

func (s *Server) handleListWorkflows(c echo.Context) error {
	return c.JSON(http.StatusOK, WorkflowListResponse{Workflows: s.workflows.List()})
}

func (s *Server) handleGetWorkflow(c echo.Context) error {
	result, err := s.workflows.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// validateCallback accepts an empty value or an absolute http(s) URL.
func validateCallback(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return services.Wrap(services.ErrValidation, "api", "callback_url", fmt.Sprintf("invalid callback url %q", raw), nil)
	}
	return nil
}
