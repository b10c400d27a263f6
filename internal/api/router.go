package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"pos-resilience-backend/config"
	"pos-resilience-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.ServerConfig, deps Deps) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(deps)

	limit := rate.Limit(cfg.RateLimitPerSec)
	if limit <= 0 {
		limit = rate.Limit(25)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 10
	}
	rateLimiter := mw.RateLimiter(limit, burst)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Second
	}
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		power := api.Group("/power")
		{
			power.GET("/status", handler.GetPowerStatus)
			power.POST("/monitoring/start", handler.StartMonitoring)
			power.POST("/monitoring/stop", handler.StopMonitoring)
			// The event log is append-only audit data; a short cache is safe.
			power.GET("/events", caching, handler.GetPowerEvents)
		}

		tx := api.Group("/transaction")
		{
			tx.POST("/session/start", handler.StartSession)
			tx.POST("/session/stop", handler.StopSession)
			tx.POST("/autosave", handler.AutoSaveState)
			tx.POST("/save", handler.SaveTransactionState)
			tx.GET("/pending", handler.GetPendingTransactions)
			tx.POST("/recover", handler.RecoverTransaction)
		}

		syncGroup := api.Group("/sync")
		{
			syncGroup.POST("/queue", handler.EnqueueMutation)
			syncGroup.POST("/run", handler.RunSync)
			syncGroup.GET("/status", handler.GetSyncStatus)
			syncGroup.GET("/mutations", handler.GetMutations)
			syncGroup.POST("/mutations/:id/retry", handler.RetryMutation)
			syncGroup.DELETE("/mutations/:id", handler.DiscardMutation)
			syncGroup.GET("/conflicts", handler.GetConflicts)
			syncGroup.POST("/conflicts/:id/resolve", handler.ResolveConflict)
		}

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
