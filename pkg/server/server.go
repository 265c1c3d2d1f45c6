package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"klinewatch.magictradebot.com/config"
	"klinewatch.magictradebot.com/models"
	"klinewatch.magictradebot.com/pkg/scheduler"
)

type SchedulerControl interface {
	Pause()
	Resume()
	Trigger() bool
	Status() scheduler.Status
}

type AlertReader interface {
	Recent(ctx context.Context, limit int) ([]models.Alert, error)
}

type ConfigCache interface {
	Invalidate()
}

// Server is the small admin API: health, metrics, scheduler control and recent alerts.
type Server struct {
	cfg        config.ServerSettings
	sched      SchedulerControl
	alerts     AlertReader
	configs    ConfigCache
	log        *logrus.Entry
	httpServer *http.Server
}

func New(cfg config.ServerSettings, sched SchedulerControl, alerts AlertReader, configs ConfigCache, log *logrus.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	return &Server{
		cfg:     cfg,
		sched:   sched,
		alerts:  alerts,
		configs: configs,
		log:     log.WithField("component", "server"),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("🌐 Admin API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/scheduler", s.schedulerStatus)
		api.POST("/scheduler/pause", s.pause)
		api.POST("/scheduler/resume", s.resume)
		api.POST("/scheduler/trigger", s.trigger)
		api.GET("/alerts", s.recentAlerts)
		api.POST("/config/reload", s.reloadConfig)
	}
	return router
}

func (s *Server) health(c *gin.Context) {
	st := s.sched.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"running": st.Running,
		"paused":  st.Paused,
	})
}

// GET /api/v1/scheduler
func (s *Server) schedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.sched.Status())
}

// POST /api/v1/scheduler/pause
func (s *Server) pause(c *gin.Context) {
	s.sched.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// POST /api/v1/scheduler/resume
func (s *Server) resume(c *gin.Context) {
	s.sched.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// POST /api/v1/scheduler/trigger
func (s *Server) trigger(c *gin.Context) {
	if !s.sched.Trigger() {
		c.JSON(http.StatusConflict, gin.H{"error": "a manual tick is already queued"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// GET /api/v1/alerts?limit=50
func (s *Server) recentAlerts(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	alerts, err := s.alerts.Recent(c.Request.Context(), limit)
	if err != nil {
		s.log.Errorf("❌ Failed to load alerts: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load alerts"})
		return
	}

	payload := make([]gin.H, 0, len(alerts))
	for _, a := range alerts {
		payload = append(payload, gin.H{
			"id":         a.ID,
			"symbol":     a.Symbol,
			"type":       a.AlertType.String(),
			"data":       a.Data,
			"created_at": a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"alerts": payload, "count": len(payload)})
}

// POST /api/v1/config/reload
func (s *Server) reloadConfig(c *gin.Context) {
	s.configs.Invalidate()
	c.JSON(http.StatusOK, gin.H{"reloaded": true})
}
