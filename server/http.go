package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"talentchat/auth"
	"talentchat/db"
	"talentchat/models"
)

// defaultPageSize ограничивает выборки для поллера.
const defaultPageSize = 100

// Routes builds the request/response surface consumed by the external
// client poller, plus the websocket upgrade and service endpoints. Поллер
// и websocket сходятся на одном роутере, состояние в базе идентично.
func (s *Server) Routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws", s.HandleWS)

	api := engine.Group("/api/v1", s.authMiddleware())
	api.GET("/messages", s.handleListMessages)
	api.POST("/messages", s.handleSendMessage)
	api.GET("/messages/unread", s.handleUnreadCounts)
	api.POST("/messages/read", s.handleMarkRead)
	api.GET("/notifications", s.handleNotifications)
	api.POST("/notifications/read", s.handleMarkNotificationRead)

	return engine
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := s.verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

func actingIdentity(c *gin.Context) (userID, role string) {
	return c.GetString("user_id"), c.GetString("role")
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// handleListMessages returns an ordered message list; for admins on the
// support channel without a thread filter it returns the ticket list.
func (s *Server) handleListMessages(c *gin.Context) {
	userID, role := actingIdentity(c)
	support := c.Query("isSupport") == "true"
	peerID := c.Query("userId")
	limit, offset := pagination(c)

	if support && role == models.RoleAdmin && peerID == "" {
		s.listSupportThreads(c)
		return
	}

	var (
		messages []models.Message
		err      error
	)
	switch {
	case support && role == models.RoleAdmin:
		// Тред конкретного пользователя с саппортом
		messages, err = s.db.SupportThread(peerID, limit, offset)
	case support:
		messages, err = s.db.SupportThread(userID, limit, offset)
	default:
		if peerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId required"})
			return
		}
		messages, err = s.db.GeneralThread(userID, peerID, limit, offset)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("message list query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	for i := range messages {
		s.router.Decorate(&messages[i])
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) listSupportThreads(c *gin.Context) {
	threads, err := s.db.SupportThreads()
	if err != nil {
		s.log.Error().Err(err).Msg("support thread query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	for i := range threads {
		if p, err := s.router.dir.Profile(threads[i].UserID); err == nil {
			threads[i].Name = p.Name
			threads[i].Avatar = p.Avatar
		}
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
	Support    bool   `json:"isSupport"`
}

func (s *Server) handleSendMessage(c *gin.Context) {
	userID, role := actingIdentity(c)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := s.router.Send(userID, role, req.ReceiverID, req.Content, req.Support)
	if err != nil {
		if errors.Is(err, ErrEmptyContent) || errors.Is(err, ErrReceiverRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.log.Error().Err(err).Str("user_id", userID).Msg("message persist failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (s *Server) handleUnreadCounts(c *gin.Context) {
	userID, role := actingIdentity(c)

	counts, err := s.db.UnreadCounts(userID, role)
	if err != nil {
		s.log.Error().Err(err).Msg("unread count query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, counts)
}

type markReadRequest struct {
	Support      bool   `json:"isSupport"`
	ThreadUserID string `json:"threadUserId"`
}

func (s *Server) handleMarkRead(c *gin.Context) {
	userID, role := actingIdentity(c)

	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := s.db.MarkRead(userID, role, req.Support, req.ThreadUserID); err != nil {
		if errors.Is(err, db.ErrThreadRequired) {
			// Админ обязан выбрать тред
			c.JSON(http.StatusBadRequest, gin.H{"error": "threadUserId required"})
			return
		}
		s.log.Error().Err(err).Msg("mark read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleNotifications(c *gin.Context) {
	userID, _ := actingIdentity(c)
	limit, offset := pagination(c)

	notifications, err := s.db.Notifications(userID, limit, offset)
	if err != nil {
		s.log.Error().Err(err).Msg("notification list query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

type markNotificationReadRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleMarkNotificationRead(c *gin.Context) {
	userID, _ := actingIdentity(c)

	var req markNotificationReadRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "notification id required"})
		return
	}

	if err := s.db.MarkNotificationRead(req.ID, userID); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		s.log.Error().Err(err).Msg("mark notification read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
