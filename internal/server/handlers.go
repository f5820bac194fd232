package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chrimage/discord-voice-scribe/internal/session"
	"github.com/chrimage/discord-voice-scribe/internal/store"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"service":         "discord-voice-scribe",
		"active_sessions": s.sessionMgr.ActiveCount(),
	})
}

type startSessionRequest struct {
	GuildID     string `json:"guild_id" binding:"required"`
	GuildName   string `json:"guild_name"`
	ChannelID   string `json:"channel_id" binding:"required"`
	ChannelName string `json:"channel_name"`
	Initiator   string `json:"initiator" binding:"required"`
}

func (s *Server) handleStartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := s.sessionMgr.StartSession(session.StartRequest{
		GuildID:     req.GuildID,
		GuildName:   req.GuildName,
		ChannelID:   req.ChannelID,
		ChannelName: req.ChannelName,
		Initiator:   req.Initiator,
	})
	if err != nil {
		if errors.Is(err, session.ErrSessionConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("Failed to start session",
			slog.String("channel_id", req.ChannelID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		return
	}

	c.JSON(http.StatusCreated, status)
}

type stopSessionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) handleStopSession(c *gin.Context) {
	channelID := c.Param("channelID")

	var req stopSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := s.sessionMgr.StopSession(channelID, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoSession):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrStopUnauthorized):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop session"})
		}
		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) handleSessionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessionMgr.Status(c.Param("channelID")))
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.sessionMgr.List()})
}

func (s *Server) handleListRecordings(c *gin.Context) {
	guildID := c.Param("guildID")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))

	recs, err := s.store.ListRecordings(guildID, limit)
	if err != nil {
		s.logger.Error("Failed to list recordings",
			slog.String("guild_id", guildID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list recordings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"recordings": recs})
}

type createLinkRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) handleCreateLink(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recording id"})
		return
	}

	var req createLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := s.store.GetRecording(uint(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "recording not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load recording"})
		return
	}
	if rec.Status != store.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "recording has no downloadable artifact"})
		return
	}

	token, expiresAt, err := s.signer.Mint(rec.ID, rec.FilePath, req.UserID)
	if err != nil {
		s.logger.Error("Failed to mint download token",
			slog.Uint64("recording_id", uint64(rec.ID)),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create download link"})
		return
	}

	if err := s.store.CreateDownloadToken(&store.DownloadToken{
		Token:       token,
		RecordingID: rec.ID,
		UserID:      req.UserID,
		ExpiresAt:   expiresAt,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create download link"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"url":        fmt.Sprintf("%s/download/%s", strings.TrimRight(s.cfg.HTTP.BaseURL, "/"), token),
		"expires_at": expiresAt,
	})
}

func (s *Server) handleDownload(c *gin.Context) {
	tokenString := c.Param("token")

	// Both the signature and the stored row must validate: revoking a row
	// revokes the link before its JWT expiry.
	claims, err := s.signer.Verify(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired link"})
		return
	}

	tok, err := s.store.GetDownloadToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired link"})
		return
	}
	if tok.RecordingID != claims.RecordingID || tok.Recording.FilePath != claims.FilePath {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired link"})
		return
	}

	obj, err := s.storage.Get(claims.FilePath)
	if err != nil {
		s.logger.Error("Failed to open artifact for download",
			slog.Uint64("recording_id", uint64(claims.RecordingID)),
			slog.String("key", claims.FilePath),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}
	defer obj.Body.Close()

	if err := s.store.MarkTokenUsed(tokenString); err != nil {
		s.logger.Warn("Failed to mark download token used",
			slog.String("error", err.Error()),
		)
	}

	filename := fmt.Sprintf("recording_%d.%s", claims.RecordingID, tok.Recording.Format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.DataFromReader(http.StatusOK, obj.ContentLength, contentType, obj.Body, nil)
}
