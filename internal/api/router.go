package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"greendrake/housemarket/internal/api/handlers"
	"greendrake/housemarket/internal/api/middleware"
	"greendrake/housemarket/internal/config"
	"greendrake/housemarket/internal/services"
)

// Services bundles what the API handlers depend on.
type Services struct {
	Listings    services.IListingService
	Submissions services.ISubmissionService
	Auth        services.IAuthService
}

// SetupRouter configures and returns the main Gin engine. ctx bounds background
// middleware work such as rate limiter cleanup.
func SetupRouter(ctx context.Context, cfg *config.Config, svc Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.MaxMultipartMemory = cfg.ImageMaxBytes()

	rateLimiter := middleware.NewRateLimiterMiddleware(ctx, cfg)

	// Apply global middleware first (order matters)
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	restListingHandler := handlers.NewRestListingHandler(svc.Listings, svc.Submissions, cfg.PageSize, cfg.RecommendedCount, cfg.ImageMaxBytes())
	restAuthHandler := handlers.NewRestAuthHandler(svc.Auth)
	authRequired := middleware.AuthMiddleware(cfg.JwtSecret)

	v1 := r.Group("/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		v1.POST("/auth/sign-up", restAuthHandler.SignUp)
		v1.POST("/auth/sign-in", restAuthHandler.SignIn)
		v1.POST("/auth/sign-out", authRequired, restAuthHandler.SignOut)
		v1.GET("/users/me", authRequired, restAuthHandler.Me)

		v1.GET("/listings", restListingHandler.FetchPage)
		v1.GET("/listings/recommended", restListingHandler.Recommended)
		v1.GET("/listings/:id", restListingHandler.GetListingByID)
		v1.POST("/listings", authRequired, restListingHandler.CreateListing)
		v1.PUT("/listings/:id", authRequired, restListingHandler.UpdateListing)
	}

	return r
}
