package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/store"
)

const (
	adminTarget      = "admin"
	maxStatusLength  = 32
	chatStoreTimeout = 5 * time.Second
)

// Error codes sent on the error event.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeRateLimited  = "rate_limited"
	CodeNotFound     = "not_found"
	CodeInternal     = "internal"
	CodeCapacity     = "too_many_connections"
)

type sendMessageRequest struct {
	Content      string `json:"content"`
	TargetUserID string `json:"targetUserId"`
}

type typingRequest struct {
	TargetUserID string `json:"targetUserId"`
	IsTyping     bool   `json:"isTyping"`
}

type markAsReadRequest struct {
	MessageID string `json:"messageId"`
}

// Chat handles the inbound support chat and presence events.
type Chat struct {
	messages   store.MessageRepository
	dispatcher *Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// NewChat builds the inbound handler.
func NewChat(messages store.MessageRepository, dispatcher *Dispatcher, logger *zap.Logger) *Chat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chat{
		messages:   messages,
		dispatcher: dispatcher,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HandleInbound routes one decoded frame from a connection.
func (c *Chat) HandleInbound(ctx context.Context, sess *Session, event string, data json.RawMessage) {
	switch event {
	case domain.InboundSendMessage:
		c.sendMessage(ctx, sess, data)
	case domain.InboundTyping:
		c.typing(sess, data)
	case domain.InboundMarkAsRead:
		c.markAsRead(ctx, sess, data)
	case domain.InboundSetOnlineStatus:
		c.setOnlineStatus(sess, data)
	default:
		c.reject(sess, "Unknown event", CodeBadRequest)
	}
}

func (c *Chat) sendMessage(ctx context.Context, sess *Session, data json.RawMessage) {
	var req sendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reject(sess, "Invalid message payload", CodeBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.reject(sess, "Message cannot be empty", CodeBadRequest)
		return
	}
	if utf8.RuneCountInString(req.Content) > domain.MaxMessageLength {
		c.reject(sess, "Message too long (max 500 characters)", CodeBadRequest)
		return
	}

	identity := sess.Identity
	if !identity.IsAuthenticated() {
		c.reject(sess, "Please login to send messages", CodeUnauthorized)
		return
	}

	msg := domain.Message{
		ID:          uuid.New(),
		Content:     req.Content,
		IsFromAdmin: identity.IsAdmin(),
		CreatedAt:   c.now(),
	}
	if identity.IsAdmin() {
		target, err := uuid.Parse(req.TargetUserID)
		if err != nil {
			c.reject(sess, "Unknown recipient", CodeBadRequest)
			return
		}
		msg.AccountID = target
	} else {
		if req.TargetUserID != adminTarget {
			c.reject(sess, "Unauthorized", CodeUnauthorized)
			return
		}
		msg.AccountID = identity.AccountID
	}

	storeCtx, cancel := context.WithTimeout(ctx, chatStoreTimeout)
	defer cancel()
	if err := c.messages.CreateMessage(storeCtx, &msg); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			c.reject(sess, "Unknown recipient", CodeNotFound)
			return
		}
		c.logger.Error("failed to persist chat message",
			zap.String("account_id", identity.AccountID.String()),
			zap.Error(err),
		)
		c.reject(sess, "Failed to send message", CodeInternal)
		return
	}

	payload := domain.ChatMessagePayload{
		ID:          msg.ID,
		UserID:      msg.AccountID.String(),
		Content:     msg.Content,
		IsFromAdmin: msg.IsFromAdmin,
		Timestamp:   msg.CreatedAt,
	}
	if identity.IsAdmin() {
		payload.Username = "Admin"
		c.dispatcher.NotifyAccount(msg.AccountID, domain.EventNewMessage, payload)
	} else {
		payload.Username = identity.Username
		c.dispatcher.NotifyRole(domain.RoleAdmin, domain.EventNewMessage, payload)
	}

	payload.Username = "You"
	c.emit(sess, domain.EventNewMessage, payload)
}

func (c *Chat) typing(sess *Session, data json.RawMessage) {
	var req typingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reject(sess, "Invalid typing payload", CodeBadRequest)
		return
	}

	identity := sess.Identity
	switch {
	case identity.IsAdmin():
		target, err := uuid.Parse(req.TargetUserID)
		if err != nil {
			return
		}
		c.dispatcher.NotifyAccount(target, domain.EventUserTyping, domain.TypingPayload{
			UserID:   adminTarget,
			Username: "Admin",
			IsTyping: req.IsTyping,
		})
	case identity.IsAuthenticated():
		c.dispatcher.NotifyRole(domain.RoleAdmin, domain.EventUserTyping, domain.TypingPayload{
			UserID:   identity.AccountID.String(),
			Username: identity.Username,
			IsTyping: req.IsTyping,
		})
	}
}

func (c *Chat) markAsRead(ctx context.Context, sess *Session, data json.RawMessage) {
	if !sess.Identity.IsAdmin() {
		c.reject(sess, "Unauthorized", CodeUnauthorized)
		return
	}
	var req markAsReadRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reject(sess, "Invalid payload", CodeBadRequest)
		return
	}
	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		c.reject(sess, "Invalid message id", CodeBadRequest)
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, chatStoreTimeout)
	defer cancel()
	msg, err := c.messages.MarkMessageRead(storeCtx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			c.reject(sess, "Message not found", CodeNotFound)
			return
		}
		c.logger.Error("failed to mark message read", zap.String("message_id", messageID.String()), zap.Error(err))
		c.reject(sess, "Failed to mark as read", CodeInternal)
		return
	}

	payload := domain.MessageReadPayload{MessageID: msg.ID, ReadAt: c.now()}
	if msg.ReadAt != nil {
		payload.ReadAt = *msg.ReadAt
	}
	c.emit(sess, domain.EventMessageRead, payload)
	if !msg.IsFromAdmin {
		c.dispatcher.NotifyAccount(msg.AccountID, domain.EventMessageRead, payload)
	}
}

func (c *Chat) setOnlineStatus(sess *Session, data json.RawMessage) {
	status, ok := decodeStatus(data)
	if !ok {
		c.reject(sess, "Invalid status", CodeBadRequest)
		return
	}

	identity := sess.Identity
	switch {
	case identity.IsAdmin():
		c.dispatcher.Broadcast(domain.EventAdminStatus, domain.StatusPayload{
			Username: identity.Username,
			Status:   status,
		})
	case identity.IsAuthenticated():
		c.dispatcher.NotifyRole(domain.RoleAdmin, domain.EventUserStatus, domain.StatusPayload{
			UserID:   identity.AccountID.String(),
			Username: identity.Username,
			Status:   status,
		})
	}
}

// decodeStatus accepts either a bare JSON string or {"status": "..."}.
func decodeStatus(data json.RawMessage) (string, bool) {
	var status string
	if err := json.Unmarshal(data, &status); err != nil {
		var wrapped struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return "", false
		}
		status = wrapped.Status
	}
	status = strings.TrimSpace(status)
	if status == "" || len(status) > maxStatusLength {
		return "", false
	}
	return status, true
}

func (c *Chat) reject(sess *Session, message, code string) {
	c.emit(sess, domain.EventError, domain.ErrorPayload{Message: message, Code: code})
}

func (c *Chat) emit(sess *Session, event string, payload any) {
	if err := sess.Emit(event, payload); err != nil {
		c.logger.Debug("direct emit failed",
			zap.String("event", event),
			zap.String("conn_id", string(sess.ID)),
			zap.Error(err),
		)
	}
}
