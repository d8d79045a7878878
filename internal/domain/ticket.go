package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TicketType is the admission tier bought with a ticket payment.
type TicketType string

const (
	TicketRegular TicketType = "regular"
	TicketVIP     TicketType = "vip"
	TicketVVIP    TicketType = "vvip"
)

// Valid reports whether t is a sellable tier.
func (t TicketType) Valid() bool {
	return t == TicketRegular || t == TicketVIP || t == TicketVVIP
}

// ScanAction is the direction of a gate scan.
type ScanAction string

const (
	ScanEntry ScanAction = "entry"
	ScanExit  ScanAction = "exit"
)

// Ticket is an admission ticket issued after a verified payment.
type Ticket struct {
	ID               uuid.UUID       `json:"id"`
	AccountID        uuid.UUID       `json:"user_id"`
	Type             TicketType      `json:"ticket_type"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentReference string          `json:"payment_reference"`
	IsUsed           bool            `json:"is_used"`
	UsedAt           *time.Time      `json:"used_at,omitempty"`
	ScannedBy        *uuid.UUID      `json:"scanned_by,omitempty"`
	ScanAction       *ScanAction     `json:"scan_action,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	HolderName       string          `json:"holder_name,omitempty"`
}

// ScanLog records one gate scan.
type ScanLog struct {
	ID        uuid.UUID  `json:"id"`
	TicketID  uuid.UUID  `json:"ticket_id"`
	ScannerID uuid.UUID  `json:"scanner_id"`
	Action    ScanAction `json:"action"`
	ScannedAt time.Time  `json:"scanned_at"`
}
