// Package server assembles the HTTP router from the linkstash handlers.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/linkstash/pkg/linkstash/auth"
	"github.com/mikepea/linkstash/pkg/linkstash/importexport"
	"github.com/mikepea/linkstash/pkg/linkstash/links"
	"github.com/mikepea/linkstash/pkg/linkstash/logging"
	"github.com/mikepea/linkstash/pkg/linkstash/tags"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the collaborators the router wires into its handlers
type Deps struct {
	DB     *gorm.DB
	Issuer *auth.TokenIssuer
	Links  *links.Service
	Logger *zap.Logger
}

// NewRouter builds the gin engine with every route registered
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestLogger(deps.Logger))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := deps.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			logging.FromContext(c, deps.Logger).Error("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Auth routes (public apart from /auth/me)
	authHandler := auth.NewHandler(deps.DB, deps.Issuer, deps.Logger)
	authHandler.RegisterRoutes(r.Group("/auth"))

	protected := r.Group("", auth.AuthMiddleware(deps.Issuer))
	{
		links.NewHandler(deps.Links, deps.Logger).RegisterRoutes(protected)
		tags.NewHandler(deps.DB, deps.Logger).RegisterRoutes(protected)
		importexport.NewHandler(deps.Links, deps.Logger).RegisterRoutes(protected)
	}

	return r
}
