package handler

import (
	"errors"
	"net/http"
	"strconv"

	"callguard/internal/repository"
	"callguard/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles HTTP requests
type Handler struct {
	monitor *service.Monitor
	logger  *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(monitor *service.Monitor, logger *zap.Logger) *Handler {
	return &Handler{
		monitor: monitor,
		logger:  logger,
	}
}

type endSessionRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

type analyzeRequest struct {
	Transcription string `json:"transcription" binding:"required"`
	Speaker       string `json:"speaker"`
	SessionID     string `json:"sessionId" binding:"required"`
}

// RegisterRoutes registers the session, conversation and detection routes on api
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	sessions := api.Group("/sessions")
	{
		sessions.POST("/start", h.StartSession)
		sessions.POST("/end", h.EndSession)
		sessions.GET("/active", h.GetActiveSession)
		sessions.GET("/:id/stats", h.GetSessionStats)
	}

	conversations := api.Group("/conversations")
	{
		conversations.POST("/analyze", h.Analyze)
		conversations.GET("/:sessionId", h.GetConversations)
	}

	api.GET("/scam-detections/recent", h.GetRecentDetections)
}

// StartSession opens a new monitoring session
func (h *Handler) StartSession(c *gin.Context) {
	session, err := h.monitor.StartSession(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to start session")
		return
	}
	c.JSON(http.StatusOK, session)
}

// EndSession closes the session named in the body
func (h *Handler) EndSession(c *gin.Context) {
	var req endSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data"})
		return
	}

	if err := h.monitor.EndSession(c.Request.Context(), req.SessionID); err != nil {
		h.fail(c, err, "Failed to end session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetActiveSession returns the active session, or null
func (h *Handler) GetActiveSession(c *gin.Context) {
	session, err := h.monitor.ActiveSession(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to get active session")
		return
	}
	c.JSON(http.StatusOK, session)
}

// GetSessionStats returns conversation counts and the protection rate
func (h *Handler) GetSessionStats(c *gin.Context) {
	stats, err := h.monitor.SessionStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to get session stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Analyze classifies one transcription chunk
func (h *Handler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data"})
		return
	}

	result, err := h.monitor.Analyze(c.Request.Context(), service.AnalyzeInput{
		Transcription: req.Transcription,
		Speaker:       req.Speaker,
		SessionID:     req.SessionID,
	})
	switch {
	case errors.Is(err, service.ErrTranscriptionTooShort):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Transcription too short"})
		return
	case errors.Is(err, repository.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	case err != nil:
		h.fail(c, err, "Failed to analyze conversation")
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetConversations lists a session's conversations, oldest first
func (h *Handler) GetConversations(c *gin.Context) {
	conversations, err := h.monitor.Conversations(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.fail(c, err, "Failed to get conversations")
		return
	}
	c.JSON(http.StatusOK, conversations)
}

// GetRecentDetections lists the newest detections. An absent or invalid
// limit falls back to the store default.
func (h *Handler) GetRecentDetections(c *gin.Context) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = repository.DefaultRecentLimit
	}

	detections, err := h.monitor.RecentDetections(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err, "Failed to get recent detections")
		return
	}
	c.JSON(http.StatusOK, detections)
}

// HealthCheck reports liveness and the classifier in use
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"service":    "callguard",
		"classifier": h.monitor.ClassifierInfo(),
	})
}

func (h *Handler) fail(c *gin.Context, err error, message string) {
	h.logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}
