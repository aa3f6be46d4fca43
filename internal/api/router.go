package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adamscao/pkiserver/internal/api/handlers"
	"github.com/adamscao/pkiserver/internal/api/middleware"
	"github.com/adamscao/pkiserver/internal/config"
	"github.com/adamscao/pkiserver/internal/logging"
	"github.com/adamscao/pkiserver/internal/service"
)

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	config *config.Config
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, svc *service.Service, logger *zap.Logger) *Server {
	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger = logger.With(logging.Component("http"))
	router := gin.New()

	// Forwarded headers are honored only from configured proxies
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Warn("invalid trusted proxies; forwarded headers ignored", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	// Create handlers
	caHandler := handlers.NewCAHandler(svc)
	csrHandler := handlers.NewCSRHandler(svc, logger)
	authHandler := handlers.NewAuthHandler(svc, logger)
	adminHandler := handlers.NewAdminHandler(svc, logger)

	api := router.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})

		// Public endpoints
		api.GET("/ca/chain", caHandler.GetChain)

		csr := api.Group("/csr")
		{
			csr.POST("/submit", csrHandler.Submit)
			csr.GET("/status/:id", csrHandler.Status)
		}

		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/logout", authHandler.Logout)
		}

		// Admin endpoints (require a session)
		admin := api.Group("")
		admin.Use(middleware.AdminSession(svc, handlers.OperatorKey, service.OperatorAdmin))
		{
			admin.GET("/dashboard", adminHandler.Dashboard)
			admin.GET("/config", adminHandler.GetConfig)
			admin.GET("/ca/info", caHandler.GetInfo)
			admin.GET("/audit-logs", adminHandler.AuditLogs)

			admin.GET("/requests", adminHandler.ListRequests)
			admin.GET("/requests/:id", adminHandler.GetRequest)
			admin.POST("/requests/:id/approve", adminHandler.Approve)
			admin.POST("/requests/:id/reject", adminHandler.Reject)

			admin.GET("/certificates", adminHandler.ListCertificates)
			admin.GET("/certificates/:id", adminHandler.GetCertificate)
			admin.GET("/certificates/:id/download", adminHandler.Download)
			admin.POST("/certificates/:id/revoke", adminHandler.Revoke)
			admin.DELETE("/certificates/:id", adminHandler.DeleteCertificate)

			admin.GET("/whitelist", adminHandler.ListWhitelist)
			admin.POST("/whitelist", adminHandler.AddWhitelist)
			admin.DELETE("/whitelist/:id", adminHandler.RemoveWhitelist)

			admin.GET("/client-certs", adminHandler.ListClientCerts)
			admin.POST("/client-certs/generate", adminHandler.GenerateClientCert)
		}
	}

	return &Server{
		router: router,
		config: cfg,
	}
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.config.Server.ListenAddr
}

// Handler returns the server as an http.Handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying Gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}
