package app

import (
	"time"

	"github.com/google/uuid"

	"github.com/votefest/wallet-service/internal/domain"
)

// Notifier pushes realtime events to connected clients. Implementations are
// best effort and never fail the caller.
type Notifier interface {
	NotifyAccount(accountID uuid.UUID, event string, payload any) int
	NotifyRole(role domain.Role, event string, payload any) int
	Broadcast(event string, payload any) int
	BroadcastThrottled(event string, compute func() (any, error), window time.Duration)
}

type nopNotifier struct{}

func (nopNotifier) NotifyAccount(uuid.UUID, string, any) int                      { return 0 }
func (nopNotifier) NotifyRole(domain.Role, string, any) int                       { return 0 }
func (nopNotifier) Broadcast(string, any) int                                     { return 0 }
func (nopNotifier) BroadcastThrottled(string, func() (any, error), time.Duration) {}
