package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mr-kumar/pdf-toolkit/pkg/auth"
	"github.com/Mr-kumar/pdf-toolkit/pkg/errdefs"
	"github.com/Mr-kumar/pdf-toolkit/pkg/metrics"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

const readinessTimeout = 2 * time.Second

const tenantKey = "tenant"

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		evt := s.logger.Info()
		if status >= http.StatusInternalServerError {
			evt = s.logger.Error()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("Request")
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowed := make(map[string]bool, len(s.cfg.CORSOrigins))
	allowAll := false
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authRequired resolves the caller from a Bearer access token or an
// X-API-Key header and attaches the tenant to the request context.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			tenant *types.Tenant
			err    error
		)

		switch {
		case c.GetHeader("Authorization") != "":
			header := c.GetHeader("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				err = errdefs.New(errdefs.KindUnauthenticated, "invalid authorization header")
				break
			}
			var tenantID int64
			tenantID, err = s.auth.VerifyToken(token, auth.TokenTypeAccess)
			if err != nil {
				break
			}
			tenant, err = s.store.GetTenant(c.Request.Context(), tenantID)

		case c.GetHeader("X-API-Key") != "":
			tenant, err = s.auth.VerifyAPIKey(c.Request.Context(), c.GetHeader("X-API-Key"))

		default:
			err = errdefs.New(errdefs.KindUnauthenticated, "authentication required")
		}

		if err != nil || tenant == nil {
			if err == nil {
				err = errdefs.New(errdefs.KindUnauthenticated, "authentication required")
			}
			writeError(c, err)
			c.Abort()
			return
		}

		c.Set(tenantKey, tenant)
		c.Next()
	}
}

func currentTenant(c *gin.Context) *types.Tenant {
	v, _ := c.Get(tenantKey)
	t, _ := v.(*types.Tenant)
	return t
}
