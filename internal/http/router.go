// Package httpapi wires the HTTP transport (Gin) to the application
// services, middleware and route handlers. Cross-cutting concerns live
// here: tracing, correlation IDs, logging with redaction, panic recovery,
// metrics, CORS, security headers, identity, idempotency and rate limiting.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/transcript-chat/internal/config"
	"github.com/tbourn/transcript-chat/internal/http/handlers"
	"github.com/tbourn/transcript-chat/internal/http/middleware"
	"github.com/tbourn/transcript-chat/internal/repo"
)

// maxBodyBytes caps request bodies. Transcript uploads are the largest
// payloads.
const maxBodyBytes = 8 << 20

var (
	corsMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match"}
	corsExpose  = []string{"X-Request-ID", "Content-Length", "ETag", "Location", "Retry-After", "Idempotency-Replayed"}
)

// RegisterRoutes attaches middleware and endpoints to r.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. AccessLog (redacting)
//  4. Recovery
//  5. body size limit
//  6. Metrics
//  7. CORS and security headers
//
// The API group then runs Identity, the rate limiter and, on the message
// POST route, the idempotency validator. /health and /metrics are public.
func RegisterRoutes(r *gin.Engine, d handlers.Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(middleware.Metrics())
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", health(d))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handlers.New(d)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.Identity(middleware.IdentityOptions{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Channels: channelLoader(d),
	}))
	idem := middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idempotencyLookup(d))
	limited := rl.Handler()
	{
		// Channels
		api.POST("/channels", limited, h.CreateChannel)
		api.GET("/channels", limited, h.ListChannels)
		api.GET("/channels/:id", limited, h.GetChannel)
		api.DELETE("/channels/:id", limited, h.DeleteChannel)
		api.POST("/channels/:id/answer", limited, h.AnswerChannel)
		api.GET("/stats", limited, h.GetStats)

		// Videos and ingestion
		api.POST("/channels/:id/videos", limited, h.AddVideo)
		api.GET("/channels/:id/videos", limited, h.ListVideos)
		api.GET("/videos/:id", limited, h.GetVideo)
		api.POST("/videos/:id/ingest", limited, h.IngestVideo)
		api.POST("/videos/:id/reingest", limited, h.ReingestVideo)

		// Conversations and messages
		api.POST("/conversations", limited, h.CreateConversation)
		api.GET("/conversations", limited, h.ListConversations)
		api.GET("/conversations/:id", limited, h.GetConversation)
		api.PUT("/conversations/:id/title", limited, h.UpdateConversationTitle)
		api.GET("/conversations/:id/messages", limited, h.ListMessages)
		// idempotency runs first so replays bypass the limiter
		api.POST("/conversations/:id/messages", idem, limited, h.PostMessage)

		// Provider credential
		creds := api.Group("/credentials", middleware.NoStore(), limited)
		creds.PUT("", h.SetCredential)
		creds.GET("", h.GetCredential)
		creds.DELETE("", h.DeleteCredential)
	}
}

// health reports liveness and, when a DB is wired, whether it answers.
func health(d handlers.Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.DB != nil {
			sqlDB, err := d.DB.DB()
			if err == nil {
				ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
				err = sqlDB.PingContext(ctx)
				cancel()
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func channelLoader(d handlers.Deps) middleware.ChannelLoader {
	if d.DB == nil {
		return nil
	}
	return func(ctx context.Context, userID string) ([]string, error) {
		return repo.OwnedChannelIDs(ctx, d.DB, userID)
	}
}

func idempotencyLookup(d handlers.Deps) middleware.IdempotencyLookup {
	if d.DB == nil {
		return nil
	}
	return func(ctx context.Context, userID, conversationID, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, d.DB, userID, conversationID, key, now)
		if err != nil || rec == nil {
			return false, nil
		}
		return true, nil
	}
}

// corsMiddleware allows every origin when none are configured, otherwise
// echoes allow-listed origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	if len(origins) == 0 {
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				// also for requests without an Origin header
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins: true,
				AllowMethods:    corsMethods,
				AllowHeaders:    corsHeaders,
				ExposeHeaders:   corsExpose,
				MaxAge:          12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowMethods:  corsMethods,
			AllowHeaders:  corsHeaders,
			ExposeHeaders: corsExpose,
			MaxAge:        12 * time.Hour,
		}),
	}
}

// limitBody caps the request body at maxBytes; larger bodies fail on read.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" or "" as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
