// Package admin serves health, Prometheus metrics and execution status over HTTP
// next to a running launcher.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	usecase "github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// RunningJobs is the part of the launcher the server controls.
type RunningJobs interface {
	RunningExecutionIDs() []string
	Stop(ctx context.Context, executionID string) error
}

// Server routes:
//
//	GET  /healthz
//	GET  /metrics                   (only with a Prometheus recorder)
//	GET  /jobs
//	GET  /executions/running
//	GET  /executions/:id
//	POST /executions/:id/stop
type Server struct {
	engine     *gin.Engine
	explorer   usecase.JobExplorer
	running    RunningJobs
	maskedKeys []string
	httpServer *http.Server
}

// NewServer builds the router. prom may be nil.
func NewServer(explorer usecase.JobExplorer, running RunningJobs, prom *metrics.PrometheusRecorder, maskedKeys []string) *Server {
	s := &Server{
		engine:     gin.New(),
		explorer:   explorer,
		running:    running,
		maskedKeys: maskedKeys,
	}
	s.engine.Use(gin.Recovery())

	s.engine.GET("/healthz", s.handleHealth)
	if prom != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(prom.Registry(), promhttp.HandlerOpts{})))
	}
	s.engine.GET("/jobs", s.handleJobs)
	s.engine.GET("/executions/running", s.handleRunning)
	s.engine.GET("/executions/:id", s.handleExecution)
	s.engine.POST("/executions/:id/stop", s.handleStop)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Admin server stopped: %v", err)
		}
	}()
	logger.Infof("Admin server listening on '%s'.", ln.Addr())
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"running": len(s.running.RunningExecutionIDs()),
	})
}

func (s *Server) handleJobs(c *gin.Context) {
	names, err := s.explorer.GetJobNames(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": names})
}

func (s *Server) handleRunning(c *gin.Context) {
	ids := s.running.RunningExecutionIDs()
	sort.Strings(ids)
	views := make([]executionView, 0, len(ids))
	for _, id := range ids {
		je, err := s.explorer.GetJobExecution(c.Request.Context(), id)
		if err != nil {
			// finished between the two calls
			if errors.Is(err, repository.ErrJobExecutionNotFound) {
				continue
			}
			respondError(c, err)
			return
		}
		views = append(views, newExecutionView(je, s.maskedKeys))
	}
	c.JSON(http.StatusOK, gin.H{"executions": views})
}

func (s *Server) handleExecution(c *gin.Context) {
	je, err := s.explorer.GetJobExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newExecutionView(je, s.maskedKeys))
}

func (s *Server) handleStop(c *gin.Context) {
	id := c.Param("id")
	if err := s.running.Stop(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "stop requested"})
}

func respondError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrJobExecutionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	logger.Warnf("Admin request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
