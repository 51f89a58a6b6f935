package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/farmpulse/farmpulse/internal/domain"
	apperrors "github.com/farmpulse/farmpulse/internal/errors"
	"github.com/farmpulse/farmpulse/internal/metrics"
	"github.com/farmpulse/farmpulse/internal/protocol"
	"github.com/farmpulse/farmpulse/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Cross-origin is fine: the farm dashboard and the mobile webview
		// connect from their own origins, and auth happens upstream.
		return true
	},
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.ConnectionsRejectedTotal.WithLabelValues(string(reason)).Inc()
		status := http.StatusServiceUnavailable
		if reason == LimitReasonRate {
			status = http.StatusTooManyRequests
		}
		return c.JSON(status, map[string]string{"error": "connection limit reached"})
	}
	defer s.limits.Release(ip)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}

	client := registry.NewClient(conn, s.clock, s.config.HeartbeatTimeout)
	handler := protocol.NewHandler(s.registry, client, s.clock)

	// Blocks until the connection closes; cleanup runs inside the handler.
	handler.Run(conn)
	return nil
}

type notifyUsersRequest struct {
	UserIDs      []int64             `json:"userIds"`
	Notification domain.Notification `json:"notification"`
}

type notifyBroadcastRequest struct {
	Notification domain.Notification `json:"notification"`
}

type notifyResponse struct {
	Attempted int `json:"attempted"`
	Failed    int `json:"failed"`
}

func (s *Server) handleNotifyUsers(c echo.Context) error {
	var req notifyUsersRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if len(req.UserIDs) == 0 {
		return apperrors.ValidationError("userIds must not be empty")
	}
	if err := validateNotification(&req.Notification); err != nil {
		return apperrors.ValidationError(err.Error())
	}

	result := s.dispatcher.SendToUsers(req.UserIDs, req.Notification)
	return c.JSON(http.StatusOK, notifyResponse{Attempted: result.Attempted, Failed: result.Failed})
}

func (s *Server) handleNotifyBroadcast(c echo.Context) error {
	var req notifyBroadcastRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if err := validateNotification(&req.Notification); err != nil {
		return apperrors.ValidationError(err.Error())
	}

	result := s.dispatcher.SendToAll(req.Notification)
	return c.JSON(http.StatusOK, notifyResponse{Attempted: result.Attempted, Failed: result.Failed})
}

type setTierRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) handleSetTier(c echo.Context) error {
	userID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil || userID <= 0 {
		return apperrors.ValidationError("invalid user id")
	}

	var req setTierRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		return apperrors.ValidationError(err.Error())
	}

	if err := s.tiers.SetTier(c.Request().Context(), userID, tier); err != nil {
		return apperrors.ExternalError("failed to set tier", err).
			WithContext("user_id", userID).
			WithContext("tier", string(tier))
	}

	return c.JSON(http.StatusOK, map[string]string{"tier": string(tier)})
}

func validateNotification(n *domain.Notification) error {
	if n.NotificationType == "" {
		return fmt.Errorf("missing required field notificationType")
	}
	if n.Title == "" {
		return fmt.Errorf("missing required field title")
	}
	if n.Priority == "" {
		n.Priority = domain.PriorityMedium
	}
	if !n.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", n.Priority)
	}
	return nil
}
