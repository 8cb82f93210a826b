package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Mr-kumar/pdf-toolkit/pkg/auth"
	"github.com/Mr-kumar/pdf-toolkit/pkg/config"
	"github.com/Mr-kumar/pdf-toolkit/pkg/events"
	"github.com/Mr-kumar/pdf-toolkit/pkg/log"
	"github.com/Mr-kumar/pdf-toolkit/pkg/metrics"
	"github.com/Mr-kumar/pdf-toolkit/pkg/processor"
	"github.com/Mr-kumar/pdf-toolkit/pkg/quota"
	"github.com/Mr-kumar/pdf-toolkit/pkg/scheduler"
	"github.com/Mr-kumar/pdf-toolkit/pkg/storage"
	"github.com/Mr-kumar/pdf-toolkit/pkg/store"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

// Server wires the HTTP surface: auth and user endpoints, one submit
// route per operation, history, downloads and the health probes.
type Server struct {
	cfg      *config.Settings
	store    store.Store
	files    *storage.Service
	auth     *auth.Service
	quota    *quota.Gate
	sched    *scheduler.Scheduler
	registry *processor.Registry
	broker   *events.Broker
	engine   *gin.Engine
	logger   zerolog.Logger
}

// NewServer builds the router
func NewServer(cfg *config.Settings, st store.Store, files *storage.Service,
	authSvc *auth.Service, gate *quota.Gate, sched *scheduler.Scheduler,
	registry *processor.Registry, broker *events.Broker) *Server {

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:      cfg,
		store:    st,
		files:    files,
		auth:     authSvc,
		quota:    gate,
		sched:    sched,
		registry: registry,
		broker:   broker,
		engine:   gin.New(),
		logger:   log.WithComponent("api"),
	}
	s.routes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(s.corsMiddleware())

	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	userAuth := r.Group("/api/user/auth")
	{
		userAuth.POST("/register", s.handleRegister)
		userAuth.POST("/login", s.handleLogin)
		userAuth.POST("/refresh", s.handleRefresh)
		userAuth.POST("/logout", s.handleLogout)
	}

	user := r.Group("/api/user", s.authRequired())
	{
		user.GET("/profile", s.handleProfile)
		user.POST("/api-keys", s.handleCreateAPIKey)

		user.GET("/history", s.handleHistoryList)
		user.GET("/history/job/:id", s.handleHistoryGet)
		user.DELETE("/history/job/:id", s.handleHistoryDelete)
		user.DELETE("/history/clear-history", s.handleHistoryClear)
		user.POST("/history/job/:id/cancel", s.handleCancel)
	}

	pdf := r.Group("/api/pdf", s.authRequired())
	{
		for _, kind := range types.AllJobKinds {
			route, convert := kindRoute(kind)
			group := pdf
			if convert {
				group = pdf.Group("/convert")
			}
			group.POST("/"+route, s.submitHandler(kind))
			group.GET("/"+route+"/info", s.infoHandler(kind))
		}
	}

	r.GET("/storage/downloads/:tenant/:job/:file", s.authRequired(), s.handleDownload)
}

// kindRoute maps a job kind to its route segment. Conversions live
// under /convert with dashed names, everything else keeps the kind
// string.
func kindRoute(kind types.JobKind) (segment string, convert bool) {
	switch kind {
	case types.JobKindWordToPDF:
		return "word-to-pdf", true
	case types.JobKindExcelToPDF:
		return "excel-to-pdf", true
	case types.JobKindPPTToPDF:
		return "ppt-to-pdf", true
	case types.JobKindHTMLToPDF:
		return "html-to-pdf", true
	case types.JobKindJPGToPDF:
		return "jpg-to-pdf", true
	case types.JobKindPDFToWord:
		return "pdf-to-word", true
	case types.JobKindPDFToExcel:
		return "pdf-to-excel", true
	case types.JobKindPDFToPPT:
		return "pdf-to-ppt", true
	case types.JobKindPDFToJPG:
		return "pdf-to-jpg", true
	default:
		return string(kind), false
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
