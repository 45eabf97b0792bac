package handler

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/AnTengye/cerfaflow/config"
	"github.com/AnTengye/cerfaflow/middleware"
	"github.com/AnTengye/cerfaflow/pkg/metrics"
	"github.com/AnTengye/cerfaflow/service"
	"github.com/gin-gonic/gin"
)

// Services are the dependencies shared by all handlers
type Services struct {
	Contracts *service.ContractService
	Cerfa     *service.CerfaService
	Metrics   *metrics.Metrics
}

// NewRouter wires middleware and routes. Token-scoped routes are public,
// admin routes go through AuthMiddleware.
func NewRouter(cfg *config.Config, svc Services) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Metrics(svc.Metrics))
	router.Use(middleware.CORS())
	router.Use(middleware.CacheControl())
	if cfg.RateLimit.RequestsPerSecond > 0 {
		router.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)))
	}

	authHandler := NewAuthHandler(cfg)
	contractHandler := NewContractHandler(svc.Contracts, svc.Cerfa, cfg.Server.PublicURL)
	submissionHandler := NewSubmissionHandler(svc.Contracts)
	templateHandler := NewTemplateHandler(svc.Cerfa)
	systemHandler := NewSystemHandler(cfg, svc.Contracts, svc.Cerfa)

	router.GET("/health", systemHandler.Health)
	if svc.Metrics != nil {
		router.GET("/metrics", gin.WrapH(svc.Metrics.Handler()))
	}

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
		api.GET("/contract/by-token/:token", submissionHandler.ByToken)
		api.POST("/etudiant/:token", submissionHandler.SubmitStudent)
		api.POST("/entreprise/:token", submissionHandler.SubmitEmployer)
	}

	// Admin routes
	admin := api.Group("")
	admin.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		admin.GET("/auth/me", authHandler.GetCurrentUser)
		admin.POST("/contracts", contractHandler.Create)
		admin.GET("/contracts", contractHandler.List)
		admin.GET("/contracts/:id/generate-pdf", contractHandler.GeneratePDF)
		admin.DELETE("/contracts/:id", contractHandler.Delete)
		admin.GET("/debug", systemHandler.Debug)
		admin.GET("/template/fields", templateHandler.Fields)
		admin.GET("/template/debug-pdf", templateHandler.DebugPDF)
		admin.POST("/generate-cerfa", templateHandler.GenerateCerfa)
	}

	router.NoRoute(staticFiles(cfg.Server.StaticDir))
	return router
}

// staticFiles serves the forms and the dashboard from dir. API paths and
// missing files get a JSON 404.
func staticFiles(dir string) gin.HandlerFunc {
	enabled := false
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		enabled = true
		slog.Info("serving static files", "directory", dir)
	} else if dir != "" {
		slog.Warn("static directory not found", "directory", dir)
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if !enabled || strings.HasPrefix(path, "/api/") || (c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}

		if path == "/" {
			path = "/index.html"
		}
		file := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+path)))
		if info, err := os.Stat(file); err != nil || info.IsDir() {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		c.File(file)
	}
}
