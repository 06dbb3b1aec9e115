// Package web serves the status page and the HTTP API of the reflow
// controller.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/reflow-controller/internal/logic"
	"github.com/sweeney/reflow-controller/internal/status"
)

// commandTimeout bounds how long a request waits for the control loop.
const commandTimeout = 2 * time.Second

// Commander forwards mutations to the goroutine that owns the oven.
type Commander interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SetProfile(ctx context.Context, p logic.Profile) error
	SetTunings(ctx context.Context, t logic.Tunings) error
}

// ProfileStore persists profiles and tunings.
type ProfileStore interface {
	Profiles() ([]logic.Profile, error)
	Profile(name string) (logic.Profile, error)
	SaveProfile(p logic.Profile) error
	DeleteProfile(name string) error
	ActiveProfile() (logic.Profile, error)
	SetActiveProfile(name string) error
	SaveTunings(t logic.Tunings) error
}

// Server serves the status page and API over HTTP.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	tracker    *status.Tracker
	cmd        Commander
	store      ProfileStore
	logger     logrus.FieldLogger
}

// New creates a Server that reads state from tracker, sends mutations
// through cmd and writes accepted ones to store.
func New(addr string, tracker *status.Tracker, cmd Commander, store ProfileStore, logger logrus.FieldLogger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		tracker: tracker,
		cmd:     cmd,
		store:   store,
		logger:  logger,
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.logRequests())
	s.routes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/", s.handleIndex)
	r.GET("/index.html", s.handleIndex)
	r.GET("/index.json", s.handleJSON)

	api := r.Group("/api")
	{
		api.GET("/monitor", s.handleMonitor)

		api.POST("/start", s.handleStart)
		api.POST("/stop", s.handleStop)

		api.GET("/profiles", s.handleListProfiles)
		api.GET("/profiles/:name", s.handleGetProfile)
		api.PUT("/profiles/:name", s.handlePutProfile)
		api.DELETE("/profiles/:name", s.handleDeleteProfile)
		api.POST("/profiles/:name/activate", s.handleActivateProfile)

		api.GET("/tunings", s.handleGetTunings)
		api.PUT("/tunings", s.handlePutTunings)
	}
}

// Handler returns the HTTP handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("http request")
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := renderHTML(c.Writer, s.tracker.Snapshot()); err != nil {
		s.logger.Warnf("render status page: %v", err)
	}
}

func (s *Server) handleJSON(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handleMonitor(c *gin.Context) {
	c.JSON(http.StatusOK, status.Monitor(s.tracker.Snapshot()))
}
