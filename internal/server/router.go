package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/handshake"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/journal"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingHub     = errors.New("hub dependency required")
	errMissingMetrics = errors.New("metrics dependency required")
)

// EventLister reads back the audit journal.
type EventLister interface {
	Recent(ctx context.Context, limit int) ([]journal.Event, error)
}

type Dependencies struct {
	Hub     *Hub
	Journal EventLister
	Metrics *Metrics
	Logger  *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Hub == nil {
		return nil, errMissingHub
	}
	if deps.Metrics == nil {
		return nil, errMissingMetrics
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		hub:     deps.Hub,
		journal: deps.Journal,
		logger:  logger,
	}

	router.GET("/", handler.handleUpgrade)
	router.GET("/ws", handler.handleUpgrade)
	router.GET("/healthz", handler.handleHealth)
	router.GET("/state", handler.handleState)
	router.GET("/identities", handler.handleIdentities)
	router.GET("/events", handler.handleEvents)
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	router.NoRoute(handler.handleNoRoute)

	return router, nil
}

type httpHandler struct {
	hub     *Hub
	journal EventLister
	logger  *zap.Logger
}

func isUpgradeRequest(r *http.Request) bool {
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}

// handleUpgrade completes the handshake by hand on the hijacked socket. A request
// without a key is dropped without any response.
func (h *httpHandler) handleUpgrade(c *gin.Context) {
	if !isUpgradeRequest(c.Request) && c.Request.Header.Get("Sec-WebSocket-Key") == "" {
		if c.Request.URL.Path == "/" {
			c.JSON(http.StatusOK, gin.H{"service": "apsa", "websocket": "/ws"})
			return
		}
		c.JSON(http.StatusUpgradeRequired, gin.H{"error": "upgrade_required"})
		return
	}

	response, negotiateErr := handshake.Negotiate(c.Request)

	conn, buffered, err := c.Writer.Hijack()
	if err != nil {
		h.logger.Error("connection hijack failed", zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Abort()

	if negotiateErr != nil {
		h.logger.Warn("handshake rejected",
			zap.String("remote_addr", conn.RemoteAddr().String()),
			zap.Error(negotiateErr))
		_ = conn.Close()
		return
	}

	// the http server may have armed deadlines on the raw socket
	_ = conn.SetDeadline(time.Time{})
	if err := handshake.WriteResponse(conn, response); err != nil {
		h.logger.Warn("handshake write failed", zap.Error(err))
		_ = conn.Close()
		return
	}

	h.hub.Serve(conn, buffered.Reader)
}

// handleNoRoute accepts upgrades on any path; everything else is a 404.
func (h *httpHandler) handleNoRoute(c *gin.Context) {
	if isUpgradeRequest(c.Request) || c.Request.Header.Get("Sec-WebSocket-Key") != "" {
		h.handleUpgrade(c)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleState(c *gin.Context) {
	state, err := h.hub.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Warn("state snapshot unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "hub_unavailable"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *httpHandler) handleIdentities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"identities": h.hub.Identities()})
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	limit := journal.DefaultRecentLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = min(parsed, journal.MaxRecentLimit)
	}

	if h.journal == nil {
		c.JSON(http.StatusOK, gin.H{"events": []journal.Event{}})
		return
	}
	events, err := h.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("journal query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal_unavailable"})
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
