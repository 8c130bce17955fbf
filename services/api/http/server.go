package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tawriver/floodwatch/services/api/config"
	"github.com/tawriver/floodwatch/services/internal/models"
	"github.com/tawriver/floodwatch/services/internal/refresh"
)

const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' https://unpkg.com https://cdn.jsdelivr.net; " +
	"style-src 'self' 'unsafe-inline' https://unpkg.com; " +
	"img-src 'self' data: https://*.basemaps.cartocdn.com https://*.tile.openstreetmap.org; " +
	"connect-src 'self' https://environment.data.gov.uk https://api.open-meteo.com " +
	"https://flood-api.open-meteo.com https://unpkg.com https://cdn.jsdelivr.net; " +
	"font-src 'self'; " +
	"object-src 'none'; " +
	"base-uri 'self'"

// Refresher runs refresh cycles for the configured stations.
type Refresher interface {
	Trigger(ctx context.Context) (models.Report, error)
	Stations() []models.Station
}

// TableReader loads persisted station tables.
type TableReader interface {
	Load(st models.Station) ([]models.Reading, error)
}

// Server bundles router and dependencies for the refresh/serve process.
type Server struct {
	cfg       config.Config
	refresher Refresher
	tables    TableReader
	logger    *slog.Logger
	engine    *gin.Engine
	files     http.Handler
}

// New constructs a server with routes and middleware.
func New(cfg config.Config, refresher Refresher, tables TableReader, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())
	engine.Use(corsMiddleware())

	server := &Server{
		cfg:       cfg,
		refresher: refresher,
		tables:    tables,
		logger:    logger,
		engine:    engine,
		files:     http.FileServer(http.Dir(cfg.SiteDir)),
	}
	server.registerRoutes()
	server.registerV1Routes()
	return server
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.engine.POST("/refresh", s.handleRefresh)
	s.engine.POST("/refresh.php", s.handleRefresh)

	s.engine.NoRoute(s.handleStatic)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", contentSecurityPolicy)
		c.Header("Access-Control-Allow-Origin", "*")

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// handleRefresh runs one refresh cycle. The cycle outlives a dropped client
// connection so tables are never left half-synced.
func (s *Server) handleRefresh(c *gin.Context) {
	report, err := s.refresher.Trigger(context.WithoutCancel(c.Request.Context()))

	var cooldown *refresh.CooldownError
	if errors.As(err, &cooldown) {
		c.Header("Retry-After", strconv.Itoa(cooldown.Seconds()))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success":     false,
			"error":       "Too many requests",
			"retry_after": cooldown.Seconds(),
		})
		return
	}
	if err != nil {
		s.logger.Error("refresh failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

// handleStatic serves the site directory for GET and HEAD. Data files are
// never cached so a refresh is visible on the next load.
func (s *Server) handleStatic(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	path := c.Request.URL.Path
	if hidden(path) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if strings.HasSuffix(path, ".csv") || strings.HasSuffix(path, ".geojson") {
		c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
	}

	s.files.ServeHTTP(c.Writer, c.Request)
}

// hidden reports whether any segment of path is a dotfile or dot directory,
// such as .env or .git.
func hidden(path string) bool {
	for _, segment := range strings.Split(path, "/") {
		if strings.HasPrefix(segment, ".") {
			return true
		}
	}
	return false
}
