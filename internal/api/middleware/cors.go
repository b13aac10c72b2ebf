package middleware

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/tracing"
)

// CORSConfig defines CORS configuration options.
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       time.Duration
}

// DefaultCORSConfig returns the CORS configuration for the IDE frontend.
func DefaultCORSConfig(origins []string) CORSConfig {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Content-Length",
			"Accept",
			"Origin",
			"Cache-Control",
			"X-Requested-With",
			tracing.HeaderTraceID,
			tracing.HeaderSpanID,
		},
		MaxAge: 12 * time.Hour,
	}
}

// AllowsAnyOrigin reports whether the wildcard origin is configured
func (c CORSConfig) AllowsAnyOrigin() bool {
	return slices.Contains(c.AllowOrigins, "*")
}

// AllowsOrigin reports whether origin may call the API
func (c CORSConfig) AllowsOrigin(origin string) bool {
	return c.AllowsAnyOrigin() || slices.Contains(c.AllowOrigins, origin)
}

// CORS creates a CORS middleware with the provided configuration.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	conf := cors.Config{
		AllowMethods:  cfg.AllowMethods,
		AllowHeaders:  cfg.AllowHeaders,
		ExposeHeaders: []string{tracing.HeaderTraceID, tracing.HeaderSpanID, "X-Session-ID"},
		MaxAge:        cfg.MaxAge,
	}
	// Credentials are never combined with a wildcard origin
	if cfg.AllowsAnyOrigin() {
		conf.AllowAllOrigins = true
	} else {
		conf.AllowOrigins = cfg.AllowOrigins
		conf.AllowCredentials = true
	}
	return cors.New(conf)
}
