package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxMessageLength caps chat message content.
const MaxMessageLength = 500

// Message is a support chat message between a user and the admins.
type Message struct {
	ID          uuid.UUID  `json:"id"`
	AccountID   uuid.UUID  `json:"user_id"`
	Content     string     `json:"content"`
	IsFromAdmin bool       `json:"is_from_admin"`
	IsRead      bool       `json:"is_read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
