// Package status serves a read-only status endpoint while the bot runs in
// watch mode: health, credential-cache counters, and the recent run journal.
package status

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/provtools/userbot/internal/runlog"
	"github.com/provtools/userbot/internal/secrets"
)

// Config holds server settings.
type Config struct {
	Host string
	Port int
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	cache      *secrets.Cache
	journal    *runlog.Store
	logger     *zap.Logger
}

// NewServer creates the status server.
func NewServer(cfg Config, cache *secrets.Cache, journal *runlog.Store, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cache:   cache,
		journal: journal,
		logger:  logger,
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/status", s.handleStatus)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Status server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Status server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	stats := s.cache.Stats()

	resp := gin.H{
		"credential_cache": gin.H{
			"entries":      stats.Entries,
			"hits":         stats.Hits,
			"misses":       stats.Misses,
			"last_prewarm": stats.LastPrewarm,
		},
	}

	if s.journal != nil {
		events, err := s.journal.Recent(c.Request.Context(), 20)
		if err != nil {
			s.logger.Warn("Failed to read run journal", zap.Error(err))
		} else {
			recent := make([]gin.H, 0, len(events))
			for _, e := range events {
				recent = append(recent, gin.H{
					"ticket":     e.TicketKey,
					"step":       e.Step,
					"status":     e.Status,
					"detail":     e.Detail,
					"created_at": e.CreatedAt,
				})
			}
			resp["recent_events"] = recent
		}
	}

	c.JSON(http.StatusOK, resp)
}
