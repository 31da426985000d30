package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/identity"
	"github.com/omochice/roomchat/internal/storage"
	"github.com/omochice/roomchat/internal/storage/database"
	"go.uber.org/zap"
)

const (
	identityKey       = "identity"
	accessTokenCookie = "access_token"
	maxHistoryLimit   = 500
)

func (s *Server) routes(opts Options) {
	r := s.router
	r.Use(gin.Recovery(), s.requestLogger())
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	r.GET("/healthz", healthz(opts.Health))
	r.GET("/chat/ws/chat/:room_id", func(c *gin.Context) {
		s.chatHandler.ServeRoom(c.Writer, c.Request, c.Param("room_id"))
	})

	authed := r.Group("/", authenticate(opts.Identity, opts.AuthTimeout, s.logger))
	if opts.Directory != nil {
		authed.POST("/room/get_or_create", getOrCreateRoom(opts.Directory, s.logger))
	}
	if opts.History != nil {
		authed.GET("/chat/rooms/:room_id/messages", roomHistory(opts.History, s.logger))
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func healthz(check func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			if err := check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// authenticate verifies the bearer token from the Authorization header or
// the access_token cookie.
func authenticate(provider chat.IdentityProvider, timeout time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access token missing"})
			return
		}

		ctx := c.Request.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		id, err := provider.Verify(ctx, token)
		if err != nil {
			if errors.Is(err, identity.ErrUnavailable) {
				logger.Error("token verification failed", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token verification failed"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	cookie, err := c.Cookie(accessTokenCookie)
	if err != nil {
		return ""
	}
	return cookie
}

func callerIdentity(c *gin.Context) chat.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(chat.Identity)
	return id
}

type getOrCreateRequest struct {
	OtherUserID string `json:"other_user_id"`
}

type getOrCreateResponse struct {
	RoomID string `json:"room_id"`
}

func getOrCreateRoom(dir RoomDirectory, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req getOrCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.OtherUserID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing other user id"})
			return
		}
		caller := callerIdentity(c)
		if caller.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not determine user id"})
			return
		}
		if caller.ID == req.OtherUserID {
			c.JSON(http.StatusBadRequest, gin.H{"error": database.ErrSelfRoom.Error()})
			return
		}

		roomID, err := dir.GetOrCreate(c.Request.Context(), caller.ID, req.OtherUserID)
		if err != nil {
			logger.Error("room lookup failed",
				zap.String("user", caller.ID),
				zap.String("other", req.OtherUserID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "room creation failed"})
			return
		}
		c.JSON(http.StatusOK, getOrCreateResponse{RoomID: roomID})
	}
}

type messageView struct {
	RoomID      string    `json:"room_id"`
	SenderID    string    `json:"sender_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	Timestamp   time.Time `json:"timestamp"`
	IsRead      bool      `json:"is_read"`
}

type historyResponse struct {
	RoomID   string        `json:"room_id"`
	Messages []messageView `json:"messages"`
}

func roomHistory(history storage.HistoryReader, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("room_id")
		limit := storage.DefaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		msgs, err := history.History(c.Request.Context(), roomID, limit)
		if err != nil {
			logger.Error("history query failed", zap.String("room", roomID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
			return
		}

		resp := historyResponse{RoomID: roomID, Messages: make([]messageView, 0, len(msgs))}
		for _, m := range msgs {
			resp.Messages = append(resp.Messages, messageView{
				RoomID:      m.RoomID,
				SenderID:    m.SenderID,
				Content:     m.Content,
				MessageType: m.MessageType,
				Timestamp:   m.Timestamp,
				IsRead:      m.IsRead,
			})
		}
		c.JSON(http.StatusOK, resp)
	}
}
