// Package api exposes hybrid runs over HTTP: runs are submitted, queued,
// executed one at a time, and observed by polling or over a WebSocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/hybridstencil/internal/accel"
	"github.com/samcharles93/hybridstencil/internal/harness"
	"github.com/samcharles93/hybridstencil/internal/hybrid"
	"github.com/samcharles93/hybridstencil/internal/logger"
	"github.com/samcharles93/hybridstencil/internal/stencil"
)

// DefaultQueueSize is the number of runs that may wait for the runner.
const DefaultQueueSize = 16

// DefaultMaxCells caps the padded grid size of a submitted run.
const DefaultMaxCells = 1 << 26

const maxRequestBytes = 1 << 20

// RunFunc executes one run. harness.Run is the production implementation.
type RunFunc func(ctx context.Context, opts harness.Options) (*harness.Report, error)

// Options configures a Server.
type Options struct {
	// Defaults fills the fields a submission omits.
	Defaults RunRequest

	// Device carries the kernel location shared by every run.
	Device harness.DeviceOptions

	// RunsPerMinute throttles submissions; zero disables the limit.
	RunsPerMinute int
	QueueSize     int
	Workers       int

	// MaxCells bounds the padded grid of a submission; zero means
	// DefaultMaxCells.
	MaxCells int

	Logger logger.Logger
	Run    RunFunc
}

// Server owns the run store and the runner goroutine.
type Server struct {
	opts    Options
	store   *RunStore
	limiter *rate.Limiter
	queue   chan string
	log     logger.Logger
	clock   func() time.Time

	wg sync.WaitGroup
}

func NewServer(opts Options) *Server {
	if opts.Run == nil {
		opts.Run = harness.Run
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MaxCells <= 0 {
		opts.MaxCells = DefaultMaxCells
	}
	if opts.Defaults.XDim == 0 && opts.Defaults.YDim == 0 {
		opts.Defaults.Config = hybrid.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RunsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RunsPerMinute)), opts.RunsPerMinute)
	}
	return &Server{
		opts:    opts,
		store:   NewRunStore(),
		limiter: limiter,
		queue:   make(chan string, opts.QueueSize),
		log:     log.With("component", "api"),
		clock:   time.Now,
	}
}

// Store exposes the run store.
func (s *Server) Store() *RunStore {
	return s.store
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/runs", s.handleCreateRun)
	e.GET("/v1/runs", s.handleListRuns)
	e.GET("/v1/runs/:id", s.handleGetRun)
	e.GET("/v1/runs/:id/events", s.handleRunEvents)
	e.GET("/v1/devices", s.handleDevices)
}

// Start launches the runner goroutine. It drains the queue one run at a
// time until ctx is done; runs still queued at that point stay queued.
func (s *Server) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pool := stencil.NewPool(s.opts.Workers)
		defer pool.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-s.queue:
				s.execute(ctx, id, pool)
			}
		}
	}()
}

// Wait blocks until the runner started by Start has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) execute(ctx context.Context, id string, pool *stencil.Pool) {
	rec, ok := s.store.Get(id)
	if !ok {
		return
	}
	req := rec.Request
	dt, _ := accel.ParseDeviceType(req.DeviceType)
	dev := s.opts.Device
	dev.Backend = req.Backend
	dev.Vendor = req.Vendor
	dev.DeviceType = dt

	log := s.log.With("run", id)
	log.Info("run started", "xdim", req.XDim, "ydim", req.YDim, "accel_rows", req.AccelRows, "iterations", req.Iterations)
	s.store.Start(id, s.clock())
	rep, err := s.opts.Run(ctx, harness.Options{
		Config:   req.Config,
		Device:   dev,
		Logger:   log,
		Pool:     pool,
		Observer: func(ev hybrid.Event) { s.store.Publish(id, ev) },
	})
	s.store.Finish(id, rep, err, s.clock())
	if err != nil {
		log.Error("run failed", "error", err)
		return
	}
	log.Info("run completed", "ratio", rep.Ratio, "mismatches", rep.Comparison.Mismatches)
}

func (s *Server) handleCreateRun(c *echo.Context) error {
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxRequestBytes)
	req, err := s.decodeRunRequest(body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if !s.limiter.Allow() {
		return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many runs submitted, try again later")
	}

	rec := s.store.Create(req, s.clock())
	select {
	case s.queue <- rec.ID:
	default:
		s.store.Finish(rec.ID, nil, ErrQueueFull, s.clock())
		return writeError(c, http.StatusServiceUnavailable, "server_busy_error", ErrQueueFull.Error())
	}
	s.log.Debug("run queued", "run", rec.ID)
	return writeJSON(c, http.StatusAccepted, CreateRunResponse{ID: rec.ID, Status: rec.Status})
}

func (s *Server) handleListRuns(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, ListRunsResponse{Data: s.store.List()})
}

func (s *Server) handleGetRun(c *echo.Context) error {
	id := c.Param("id")
	rec, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, fmt.Sprintf("run %q not found", id))
	}
	return writeJSON(c, http.StatusOK, rec)
}

func (s *Server) handleDevices(c *echo.Context) error {
	name := c.QueryParam("backend")
	if name == "" {
		name = s.opts.Defaults.Backend
	}
	b, devs, err := harness.ListDevices(name)
	switch {
	case errors.Is(err, accel.ErrUnknownBackend):
		return writeBadRequest(c, err.Error())
	case err != nil:
		return writeError(c, http.StatusServiceUnavailable, "backend_error", err.Error())
	}
	return writeJSON(c, http.StatusOK, DevicesResponse{Backend: b.Name(), Devices: devs})
}

func (s *Server) decodeRunRequest(r io.Reader) (RunRequest, error) {
	req := s.opts.Defaults
	body, err := io.ReadAll(r)
	if err != nil {
		return req, badField("", "read body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return req, badField("", "decode body: %w", err)
		}
	}
	if err := req.Config.Validate(); err != nil {
		return req, &RequestError{Field: "config", Err: err}
	}
	if n := req.Layout().TotalSize(); n > s.opts.MaxCells {
		return req, badField("config", "grid %dx%d needs %d cells, server limit is %d", req.XDim, req.YDim, n, s.opts.MaxCells)
	}
	if _, ok := accel.ParseDeviceType(req.DeviceType); !ok {
		return req, badField("device_type", "unknown device type %q", req.DeviceType)
	}
	if _, err := accel.Normalize(req.Backend); err != nil {
		return req, &RequestError{Field: "backend", Err: err}
	}
	return req, nil
}
