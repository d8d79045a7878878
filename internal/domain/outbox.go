package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Routing keys published on the events exchange.
const (
	RoutingWalletDebited     = "wallet.debited"
	RoutingWalletCredited    = "wallet.credited"
	RoutingWalletTransferred = "wallet.transferred"
	RoutingVoteCast          = "vote.cast"
	RoutingLoyaltyRewarded   = "loyalty.rewarded"
	RoutingPaymentRequested  = "payment.requested"
	RoutingPaymentVerified   = "payment.verified"
	RoutingTicketIssued      = "ticket.issued"
)

// OutboxEvent is an integration event persisted in the same transaction as
// the ledger mutation that produced it.
type OutboxEvent struct {
	ID         uuid.UUID       `json:"id"`
	RoutingKey string          `json:"routing_key"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewOutboxEvent marshals payload into an outbox row.
func NewOutboxEvent(routingKey string, payload any) (OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, err
	}
	return OutboxEvent{
		ID:         uuid.New(),
		RoutingKey: routingKey,
		Payload:    body,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// PaymentVerifiedEvent is delivered by the payment collaborator once a gateway
// charge has been verified.
type PaymentVerifiedEvent struct {
	ExternalReference string `json:"reference"`
	AccountID         string `json:"user_id"`
	VerifiedAmount    string `json:"amount"`
	Purpose           string `json:"purpose"`
	TicketType        string `json:"ticket_type,omitempty"`
}

// PaymentRequestedEvent asks the payment collaborator to start a charge.
type PaymentRequestedEvent struct {
	Reference string    `json:"reference"`
	AccountID uuid.UUID `json:"user_id"`
	Amount    string    `json:"amount"`
	Purpose   string    `json:"purpose"`
	Requested time.Time `json:"requested_at"`
}

// Payment purposes.
const (
	PurposeWalletFunding  = "wallet_funding"
	PurposeTicketPurchase = "ticket_purchase"
)
