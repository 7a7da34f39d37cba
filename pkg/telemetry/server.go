// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/motion-core/pkg/config"
	"github.com/united-manufacturing-hub/motion-core/pkg/control"
	"github.com/united-manufacturing-hub/motion-core/pkg/degradation"
	"github.com/united-manufacturing-hub/motion-core/pkg/failsafe"
	"github.com/united-manufacturing-hub/motion-core/pkg/following"
	"github.com/united-manufacturing-hub/motion-core/pkg/metrics"
	"github.com/united-manufacturing-hub/motion-core/pkg/obstacle"
	"github.com/united-manufacturing-hub/motion-core/pkg/scheduler"
	"github.com/united-manufacturing-hub/motion-core/pkg/version"
	"github.com/united-manufacturing-hub/motion-core/pkg/watchdog"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// TaskController is the part of the scheduler the API drives.
type TaskController interface {
	SuspendNonCritical()
	ResumeNonCritical()
	Suspended() bool
	Stats() []scheduler.TaskStats
}

// WatchdogStatus is the part of the boundary watchdog the API reads.
type WatchdogStatus interface {
	Tripped() (bool, string)
	Feeds() uint64
	Heartbeats() []watchdog.HeartbeatInfo
}

// BootLoop is the part of the boot-loop counter the API drives.
type BootLoop interface {
	Record() watchdog.BootRecord
	SafeBoot() bool
	Reset(now time.Time) error
}

// Status is the body of GET /status.
type Status struct {
	Timestamp      time.Time             `json:"timestamp"`
	Version        string                `json:"version"`
	SafeBoot       bool                  `json:"safeBoot"`
	Output         *control.CycleOutput  `json:"output,omitempty"`
	HUD            *control.HUD          `json:"hud,omitempty"`
	Energy         control.EnergyStatus  `json:"energy"`
	Failsafe       failsafe.Status       `json:"failsafe"`
	Degradation    degradation.Status    `json:"degradation"`
	Obstacle       obstacle.SafetyState  `json:"obstacle"`
	Following      following.Status      `json:"following"`
	Tasks          []scheduler.TaskStats `json:"tasks,omitempty"`
	TasksSuspended bool                  `json:"tasksSuspended"`
	Watchdog       *WatchdogReport       `json:"watchdog,omitempty"`
	BootLoop       *watchdog.BootRecord  `json:"bootLoop,omitempty"`
	Clients        int                   `json:"telemetryClients"`
}

// WatchdogReport is the watchdog part of Status.
type WatchdogReport struct {
	Tripped    bool                     `json:"tripped"`
	Reason     string                   `json:"reason,omitempty"`
	Feeds      uint64                   `json:"feeds"`
	Heartbeats []watchdog.HeartbeatInfo `json:"heartbeats"`
}

// ForceRequest is the body of POST /degradation/force.
type ForceRequest struct {
	State string `json:"state"`
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTasks lets the API report and suspend scheduler tasks.
func WithTasks(tasks TaskController) ServerOption {
	return func(s *Server) { s.tasks = tasks }
}

// WithWatchdog adds the watchdog report to /status.
func WithWatchdog(w WatchdogStatus) ServerOption {
	return func(s *Server) { s.watchdog = w }
}

// WithBootLoop enables POST /bootloop/reset.
func WithBootLoop(b BootLoop) ServerOption {
	return func(s *Server) { s.bootLoop = b }
}

// WithConfigFile persists accepted config changes to path, starting from full.
func WithConfigFile(path string, full config.FullConfig) ServerOption {
	return func(s *Server) {
		s.configPath = path
		s.full = full.Clone()
	}
}

// WithServerClock replaces time.Now.
func WithServerClock(clock func() time.Time) ServerOption {
	return func(s *Server) { s.clock = clock }
}

// Server is the diagnostics HTTP API.
type Server struct {
	pipeline *control.Pipeline
	hub      *Hub
	tasks    TaskController
	watchdog WatchdogStatus
	bootLoop BootLoop

	// configMu serializes PUT /config including the file write
	configMu   sync.Mutex
	configPath string
	full       config.FullConfig

	server *http.Server
	router *gin.Engine
	clock  func() time.Time
	logger *zap.SugaredLogger
}

// NewServer builds the router. The server does not listen until Start.
func NewServer(pipeline *control.Pipeline, hub *Hub, logger *zap.SugaredLogger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Server{
		pipeline: pipeline,
		hub:      hub,
		clock:    time.Now,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.loggingMiddleware())

	router.GET("/status", s.handleStatus)
	router.GET("/config", s.handleGetConfig)
	router.PUT("/config", s.handlePutConfig)
	router.POST("/degradation/force", s.handleForceDegradation)
	router.POST("/bootloop/reset", s.handleBootLoopReset)
	router.POST("/tasks/suspend", s.handleSuspend)
	router.POST("/tasks/resume", s.handleResume)

	if hub != nil {
		router.GET("/ws", gin.WrapH(hub))
	}

	s.router = router

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Stop. It blocks.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Infow("Starting diagnostics API", "addr", addr)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("diagnostics API failed: %w", err)
	}

	return nil
}

// Stop shuts the server down and disconnects telemetry clients.
func (s *Server) Stop(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}

	if s.server == nil {
		return nil
	}

	s.logger.Info("Stopping diagnostics API")

	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		s.logger.Debugw("API request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	now := s.clock()
	p := s.pipeline

	status := Status{
		Timestamp:   now,
		Version:     version.GetAppVersion(),
		SafeBoot:    p.SafeBoot(),
		Energy:      p.Energy(),
		Failsafe:    p.Failsafe().Status(),
		Degradation: p.Degradation().Status(now),
		Obstacle:    p.Obstacle().State(),
		Following:   p.Following().Status(),
	}

	if out, ok := p.Store().Latest(); ok {
		status.Output = &out
	}

	if hud, ok := p.HUD(); ok {
		status.HUD = &hud
	}

	if s.tasks != nil {
		status.Tasks = s.tasks.Stats()
		status.TasksSuspended = s.tasks.Suspended()
	}

	if s.watchdog != nil {
		tripped, reason := s.watchdog.Tripped()
		status.Watchdog = &WatchdogReport{
			Tripped:    tripped,
			Reason:     reason,
			Feeds:      s.watchdog.Feeds(),
			Heartbeats: s.watchdog.Heartbeats(),
		}
	}

	if s.bootLoop != nil {
		record := s.bootLoop.Record()
		status.BootLoop = &record
	}

	if s.hub != nil {
		status.Clients = s.hub.Clients()
	}

	s.writeJSON(c, http.StatusOK, status)
}

func (s *Server) handleGetConfig(c *gin.Context) {
	s.writeJSON(c, http.StatusOK, config.FromControl(s.pipeline.Config()))
}

// handlePutConfig overlays the body on the running config. Fields absent from the body keep their values.
func (s *Server) handlePutConfig(c *gin.Context) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	body, err := readBody(c)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, err)

		return
	}

	section := config.FromControl(s.pipeline.Config())
	if err := json.Unmarshal(body, &section); err != nil {
		s.writeError(c, http.StatusBadRequest, fmt.Errorf("decode config: %w", err))

		return
	}

	cfg, err := section.ToControl()
	if err != nil {
		s.writeError(c, http.StatusBadRequest, err)

		return
	}

	applied := s.pipeline.ApplyConfig(cfg)
	s.logger.Infof("Control config updated through the API")

	if s.configPath != "" {
		s.full.Control = config.FromControl(applied)
		if err := config.Write(s.configPath, s.full); err != nil {
			metrics.IncErrorCountAndLog(metrics.ComponentAPI, "config_write", err, s.logger)
			s.writeError(c, http.StatusInternalServerError, fmt.Errorf("config applied but not saved: %w", err))

			return
		}
	}

	s.writeJSON(c, http.StatusOK, config.FromControl(applied))
}

func (s *Server) handleForceDegradation(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, err)

		return
	}

	var req ForceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(c, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))

		return
	}

	state, err := degradation.ParseState(req.State)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, err)

		return
	}

	now := s.clock()
	engine := s.pipeline.Degradation()

	if err := engine.ForceState(c.Request.Context(), state, now); err != nil {
		s.writeError(c, http.StatusBadRequest, err)

		return
	}

	s.logger.Warnf("Degradation forced to %s through the API", state)
	s.writeJSON(c, http.StatusOK, engine.Status(now))
}

func (s *Server) handleBootLoopReset(c *gin.Context) {
	if s.bootLoop == nil {
		s.writeError(c, http.StatusNotFound, errors.New("boot-loop counter not configured"))

		return
	}

	if err := s.bootLoop.Reset(s.clock()); err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentAPI, "bootloop_reset", err, s.logger)
		s.writeError(c, http.StatusInternalServerError, err)

		return
	}

	s.writeJSON(c, http.StatusOK, s.bootLoop.Record())
}

func (s *Server) handleSuspend(c *gin.Context) {
	if s.tasks == nil {
		s.writeError(c, http.StatusNotFound, errors.New("scheduler not configured"))

		return
	}

	s.tasks.SuspendNonCritical()
	s.writeJSON(c, http.StatusOK, gin.H{"suspended": s.tasks.Suspended()})
}

func (s *Server) handleResume(c *gin.Context) {
	if s.tasks == nil {
		s.writeError(c, http.StatusNotFound, errors.New("scheduler not configured"))

		return
	}

	s.tasks.ResumeNonCritical()
	s.writeJSON(c, http.StatusOK, gin.H{"suspended": s.tasks.Suspended()})
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("body larger than %d bytes", maxBodyBytes)
	}

	return body, nil
}

func (s *Server) writeJSON(c *gin.Context, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentAPI, "encode", err, s.logger)
		c.Data(http.StatusInternalServerError, "application/json", []byte(`{"error":"encode failed"}`))

		return
	}

	c.Data(code, "application/json", data)
}

func (s *Server) writeError(c *gin.Context, code int, err error) {
	s.writeJSON(c, code, gin.H{"error": err.Error()})
}
