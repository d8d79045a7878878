package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outbound realtime event names.
const (
	EventConnected         = "connected"
	EventWalletUpdate      = "wallet_update"
	EventVoteUpdate        = "vote_update"
	EventLeaderboardUpdate = "leaderboard_update"
	EventNewMessage        = "new-message"
	EventUserStatus        = "user-status"
	EventAdminStatus       = "admin-status"
	EventError             = "error"
	EventLoyaltyReward     = "loyalty_reward"
	EventUserTyping        = "user-typing"
	EventMessageRead       = "message-read"
	EventPurchaseUpdate    = "purchase_update"
)

// Inbound realtime event names.
const (
	InboundSendMessage     = "send-message"
	InboundTyping          = "typing"
	InboundMarkAsRead      = "mark-as-read"
	InboundSetOnlineStatus = "set-online-status"
)

// AnonymousUserID is the userId reported to guest connections.
const AnonymousUserID = "anonymous"

// ConnectedPayload greets a freshly registered connection.
type ConnectedPayload struct {
	UserID        string `json:"userId"`
	Role          Role   `json:"role"`
	Username      string `json:"username"`
	Authenticated bool   `json:"authenticated"`
	ConnectionID  string `json:"socketId"`
}

// NewConnectedPayload builds the greeting for identity. Guests report the
// anonymous user id.
func NewConnectedPayload(connID string, identity Identity) ConnectedPayload {
	payload := ConnectedPayload{
		UserID:        AnonymousUserID,
		Role:          RoleGuest,
		Username:      identity.Username,
		Authenticated: identity.IsAuthenticated(),
		ConnectionID:  connID,
	}
	if identity.IsAuthenticated() {
		payload.UserID = identity.AccountID.String()
		payload.Role = identity.Role
	}
	return payload
}

// CoinAmount renders a balance as a JSON number with two decimals.
func CoinAmount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// WalletUpdatePayload is pushed to every connection of an account after a balance change.
type WalletUpdatePayload struct {
	NewBalance  json.Number `json:"newBalance"`
	Transaction string      `json:"transaction,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// VoteUpdatePayload is broadcast after a vote commits.
type VoteUpdatePayload struct {
	ContestantID   uuid.UUID `json:"contestantId"`
	NewVotes       int64     `json:"newVotes"`
	VoteCount      int64     `json:"voteCount"`
	UserID         string    `json:"userId"`
	ContestantName string    `json:"contestantName"`
	Timestamp      time.Time `json:"timestamp"`
}

// LoyaltyRewardPayload tells a voter that the loyalty threshold was crossed.
type LoyaltyRewardPayload struct {
	Rewards     int64  `json:"rewards"`
	CoinsEarned string `json:"coinsEarned"`
	Progress    int64  `json:"progress"`
	Threshold   int64  `json:"threshold"`
}

// ChatMessagePayload carries a chat message to its recipients.
type ChatMessagePayload struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	Content     string    `json:"content"`
	IsFromAdmin bool      `json:"isFromAdmin"`
	Timestamp   time.Time `json:"timestamp"`
}

// StatusPayload announces presence changes.
type StatusPayload struct {
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Status   string `json:"status"`
}

// Presence statuses announced on connect and disconnect.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// TypingPayload is relayed for typing indicators.
type TypingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// MessageReadPayload acknowledges that an admin read a message.
type MessageReadPayload struct {
	MessageID uuid.UUID `json:"messageId"`
	ReadAt    time.Time `json:"readAt"`
}

// ErrorPayload is sent on the error event.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// PurchaseUpdatePayload notifies a buyer about a verified purchase.
type PurchaseUpdatePayload struct {
	Type      string `json:"type"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	TicketID  string `json:"ticketId,omitempty"`
	Coins     string `json:"coins,omitempty"`
}
