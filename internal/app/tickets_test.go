package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/store"
)

func newTicketService(repo *stubTicketRepo, endsAt time.Time) *TicketService {
	return NewTicketService(repo, TicketOptions{Prices: defaultTicketPrices(), EventEndsAt: endsAt}, nil)
}

func TestTicketService_IssueValidatesTierAndPrice(t *testing.T) {
	svc := newTicketService(newStubTicketRepo(), time.Time{})
	account := uuid.New()

	_, _, err := svc.IssueFromPayment(context.Background(), account, "platinum", decimal.NewFromInt(99999), "REF-1")
	require.ErrorIs(t, err, ErrInvalidTicketType)

	_, _, err = svc.IssueFromPayment(context.Background(), account, domain.TicketVVIP, decimal.NewFromInt(2000), "REF-2")
	require.ErrorIs(t, err, ErrTicketUnderpaid)

	ticket, created, err := svc.IssueFromPayment(context.Background(), account, domain.TicketRegular, decimal.NewFromInt(2000), "REF-3")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "REF-3", ticket.PaymentReference)
}

func TestTicketService_ValidateAcceptsQRPayloadAndRawKeys(t *testing.T) {
	repo := newStubTicketRepo()
	svc := newTicketService(repo, time.Time{})
	ticket, _, err := svc.IssueFromPayment(context.Background(), uuid.New(), domain.TicketVIP, decimal.NewFromInt(10000), "PSK-QR")
	require.NoError(t, err)

	codes := []string{
		ticket.ID.String(),
		"PSK-QR",
		`{"ticketId":"PSK-QR","type":"vip","event":"VoteFest"}`,
	}
	for _, code := range codes {
		res, err := svc.Validate(context.Background(), code)
		require.NoError(t, err)
		assert.True(t, res.Valid, code)
		assert.Equal(t, ticket.ID, res.Ticket.ID)
	}

	res, err := svc.Validate(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Nil(t, res.Ticket)
}

func TestTicketService_ScanOnlyOnce(t *testing.T) {
	repo := newStubTicketRepo()
	svc := newTicketService(repo, time.Time{})
	ticket, _, err := svc.IssueFromPayment(context.Background(), uuid.New(), domain.TicketRegular, decimal.NewFromInt(2000), "PSK-GATE")
	require.NoError(t, err)
	scanner := uuid.New()

	scanned, err := svc.Scan(context.Background(), scanner, ticket.ID.String(), "")
	require.NoError(t, err)
	assert.True(t, scanned.IsUsed)
	require.NotNil(t, scanned.ScanAction)
	assert.Equal(t, domain.ScanEntry, *scanned.ScanAction)

	_, err = svc.Scan(context.Background(), scanner, "PSK-GATE", domain.ScanExit)
	require.ErrorIs(t, err, ErrTicketUsed)
	assert.Len(t, repo.scans, 1)

	res, err := svc.Validate(context.Background(), "PSK-GATE")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Message, "already used")
}

func TestTicketService_ScanRejections(t *testing.T) {
	repo := newStubTicketRepo()
	svc := newTicketService(repo, time.Time{})

	_, err := svc.Scan(context.Background(), uuid.New(), "PSK-NONE", domain.ScanEntry)
	require.ErrorIs(t, err, store.ErrTicketNotFound)

	_, err = svc.Scan(context.Background(), uuid.New(), "PSK-NONE", "teleport")
	require.ErrorIs(t, err, ErrInvalidScanAction)

	ended := newTicketService(repo, time.Now().Add(-time.Hour))
	_, err = ended.Scan(context.Background(), uuid.New(), "PSK-NONE", domain.ScanEntry)
	require.ErrorIs(t, err, ErrEventEnded)
}

func TestTicketService_ValidateAfterEventEnd(t *testing.T) {
	repo := newStubTicketRepo()
	svc := newTicketService(repo, time.Now().Add(-time.Minute))
	ticket, _, err := svc.IssueFromPayment(context.Background(), uuid.New(), domain.TicketRegular, decimal.NewFromInt(2000), "PSK-LATE")
	require.NoError(t, err)

	res, err := svc.Validate(context.Background(), ticket.ID.String())
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "Event has already ended", res.Message)
}
