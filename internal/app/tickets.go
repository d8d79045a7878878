/**
 * @description
 * Admission tickets: issuance from verified payments, gate validation and
 * check-in. Check-in runs under a row lock held by the repository so two
 * scanners cannot admit the same ticket.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/store"
)

// TicketOptions holds tier prices and the event end time. A zero EventEndsAt
// disables the end-date check.
type TicketOptions struct {
	Prices      map[domain.TicketType]decimal.Decimal
	EventEndsAt time.Time
}

// TicketValidation is the result of a dry-run gate check.
type TicketValidation struct {
	Valid   bool           `json:"valid"`
	Message string         `json:"message"`
	Ticket  *domain.Ticket `json:"ticket,omitempty"`
}

type qrPayload struct {
	TicketID string `json:"ticketId"`
}

// TicketService issues and admits tickets.
type TicketService struct {
	repo   store.TicketRepository
	opts   TicketOptions
	logger *zap.Logger
	now    func() time.Time
}

func NewTicketService(repo store.TicketRepository, opts TicketOptions, logger *zap.Logger) *TicketService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		repo:   repo,
		opts:   opts,
		logger: logger.With(zap.String("component", "tickets")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// IssueFromPayment creates the ticket bought by a verified payment. A replay
// of the same payment reference returns the existing ticket with created=false.
func (s *TicketService) IssueFromPayment(ctx context.Context, accountID uuid.UUID, ticketType domain.TicketType, amount decimal.Decimal, paymentRef string) (*domain.Ticket, bool, error) {
	if !ticketType.Valid() {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidTicketType, ticketType)
	}
	if price, ok := s.opts.Prices[ticketType]; ok && amount.LessThan(price) {
		return nil, false, fmt.Errorf("%w: %s needs %s, paid %s", ErrTicketUnderpaid, ticketType, price.StringFixed(2), amount.StringFixed(2))
	}

	ticket := &domain.Ticket{
		ID:               uuid.New(),
		AccountID:        accountID,
		Type:             ticketType,
		Amount:           amount,
		PaymentReference: paymentRef,
		CreatedAt:        s.now(),
	}
	stored, created, err := s.repo.CreateTicket(ctx, ticket)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info("ticket issued",
			zap.String("ticket_id", stored.ID.String()),
			zap.String("account_id", accountID.String()),
			zap.String("type", string(ticketType)),
		)
	}
	return stored, created, nil
}

// Validate checks a scanned code without consuming the ticket.
func (s *TicketService) Validate(ctx context.Context, code string) (TicketValidation, error) {
	key := ticketKey(code)
	if key == "" {
		return TicketValidation{Message: "Ticket not found in system"}, nil
	}

	ticket, err := s.repo.FindTicket(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return TicketValidation{Message: "Ticket not found in system"}, nil
		}
		return TicketValidation{}, err
	}
	if ticket.IsUsed {
		msg := "Ticket already used"
		if ticket.UsedAt != nil {
			msg = fmt.Sprintf("Ticket already used at %s", ticket.UsedAt.Format(time.RFC3339))
		}
		return TicketValidation{Message: msg, Ticket: ticket}, nil
	}
	if s.eventEnded() {
		return TicketValidation{Message: "Event has already ended", Ticket: ticket}, nil
	}
	return TicketValidation{Valid: true, Message: "Valid ticket", Ticket: ticket}, nil
}

// Scan admits a ticket and appends a scan log entry. A used ticket is rejected
// whatever the action.
func (s *TicketService) Scan(ctx context.Context, scannerID uuid.UUID, code string, action domain.ScanAction) (*domain.Ticket, error) {
	if action == "" {
		action = domain.ScanEntry
	}
	if action != domain.ScanEntry && action != domain.ScanExit {
		return nil, ErrInvalidScanAction
	}
	key := ticketKey(code)
	if key == "" {
		return nil, store.ErrTicketNotFound
	}
	if s.eventEnded() {
		return nil, ErrEventEnded
	}

	ticket, err := s.repo.CheckInTicket(ctx, store.CheckInParams{
		TicketKey: key,
		ScannerID: scannerID,
		Action:    action,
		ScannedAt: s.now(),
	}, func(t *domain.Ticket) error {
		if t.IsUsed {
			return ErrTicketUsed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ticket scanned",
		zap.String("ticket_id", ticket.ID.String()),
		zap.String("scanner_id", scannerID.String()),
		zap.String("action", string(action)),
	)
	return ticket, nil
}

func (s *TicketService) eventEnded() bool {
	return !s.opts.EventEndsAt.IsZero() && s.now().After(s.opts.EventEndsAt)
}

// ticketKey accepts either the JSON QR payload or a raw id / payment reference.
func ticketKey(code string) string {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "{") {
		var qr qrPayload
		if err := json.Unmarshal([]byte(code), &qr); err == nil && strings.TrimSpace(qr.TicketID) != "" {
			return strings.TrimSpace(qr.TicketID)
		}
	}
	return code
}
