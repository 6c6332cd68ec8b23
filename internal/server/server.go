// Package server exposes the HTTP API consumed by the dashboard.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"enviroflow/internal/database"
	"enviroflow/internal/poll"
)

const (
	defaultReadingsLimit = 100
	maxReadingsLimit     = 1000
)

// LatestSource serves the hot-path latest snapshot for a controller. A miss
// sends the handler to the store instead.
type LatestSource interface {
	Latest(ctx context.Context, controllerID string) ([]database.Reading, bool)
}

// OnDemandPoller triggers one poll outside the scheduled cadence.
type OnDemandPoller interface {
	PollOne(ctx context.Context, id string) (poll.Result, error)
}

// Server holds the API's collaborators.
type Server struct {
	store  database.Store
	latest LatestSource
	poller OnDemandPoller
	log    *slog.Logger
	engine *gin.Engine
}

// New builds the API server. latest may be nil when the Redis cache is
// disabled.
func New(store database.Store, latest LatestSource, poller OnDemandPoller, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		store:  store,
		latest: latest,
		poller: poller,
		log:    logger.With("component", "server"),
		engine: engine,
	}
	s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)

	api := s.engine.Group("/api")
	api.GET("/controllers", s.handleListControllers)
	api.POST("/controllers", s.handleUpsertController)
	api.GET("/controllers/:id", s.handleGetController)
	api.GET("/controllers/:id/readings", s.handleReadings)
	api.GET("/controllers/:id/ports", s.handlePorts)
	api.GET("/controllers/:id/latest", s.handleLatest)
	api.POST("/controllers/:id/poll", s.handlePoll)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListControllers(c *gin.Context) {
	controllers, err := s.store.ListControllers(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "list controllers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"controllers": controllers})
}

// upsertControllerRequest mirrors UpsertControllerParams; absent fields are
// left untouched on existing rows.
type upsertControllerRequest struct {
	ID          string  `json:"id"`
	UserID      *string `json:"user_id"`
	Brand       *string `json:"brand"`
	ExternalID  *string `json:"external_id"`
	Name        *string `json:"name"`
	Credentials *string `json:"credentials"`
	Status      *string `json:"status"`
}

func (s *Server) handleUpsertController(c *gin.Context) {
	var req upsertControllerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	created := false
	if req.ID == "" {
		req.ID = uuid.NewString()
		created = true
	}
	if created && (req.Brand == nil || req.Name == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "brand and name are required for a new controller"})
		return
	}

	controller, err := s.store.UpsertController(c.Request.Context(), database.UpsertControllerParams{
		ID:          req.ID,
		UserID:      req.UserID,
		Brand:       req.Brand,
		ExternalID:  req.ExternalID,
		Name:        req.Name,
		Credentials: req.Credentials,
		Status:      req.Status,
	})
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "upsert controller", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, controller)
}

func (s *Server) handleGetController(c *gin.Context) {
	controller, err := s.store.GetController(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "controller not found"})
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "get controller", err)
		return
	}
	c.JSON(http.StatusOK, controller)
}

func (s *Server) handleReadings(c *gin.Context) {
	limit := defaultReadingsLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxReadingsLimit {
		limit = maxReadingsLimit
	}

	readings, err := s.store.RecentReadings(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "list readings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"readings": readings})
}

func (s *Server) handlePorts(c *gin.Context) {
	ports, err := s.store.ListPorts(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "list ports", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ports": ports})
}

// handleLatest serves the newest reading per sensor, from the Redis snapshot
// when available and from the store otherwise.
func (s *Server) handleLatest(c *gin.Context) {
	id := c.Param("id")

	if s.latest != nil {
		if rows, ok := s.latest.Latest(c.Request.Context(), id); ok {
			c.JSON(http.StatusOK, gin.H{"readings": rows, "source": "cache"})
			return
		}
	}

	rows, err := s.store.RecentReadings(c.Request.Context(), id, 20)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "list readings", err)
		return
	}

	type key struct {
		typ  string
		port int
	}
	seen := make(map[key]bool, len(rows))
	var latest []database.Reading
	for _, row := range rows {
		k := key{typ: string(row.Type), port: row.Port}
		if seen[k] {
			continue
		}
		seen[k] = true
		latest = append(latest, row)
	}
	c.JSON(http.StatusOK, gin.H{"readings": latest, "source": "store"})
}

func (s *Server) handlePoll(c *gin.Context) {
	result, err := s.poller.PollOne(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "controller not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) fail(c *gin.Context, status int, op string, err error) {
	s.log.Error(op+" failed", "err", err)
	c.JSON(status, gin.H{"error": "internal error"})
}
