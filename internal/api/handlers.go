/**
 * @description
 * HTTP handlers for wallet, voting and ticket endpoints. Handlers parse the
 * request, call the application services and translate service errors into
 * status codes. Realtime notifications are sent by the services, not here.
 *
 * @dependencies
 * - internal/app: application services and their sentinel errors.
 * - internal/ledger: engine errors (insufficient funds, storage).
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/votefest/wallet-service/internal/app"
	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/ledger"
	"github.com/votefest/wallet-service/internal/session"
	"github.com/votefest/wallet-service/internal/store"
)

const maxBodyBytes = 1 << 16

// Handlers holds the application services used by the HTTP layer.
type Handlers struct {
	wallet  *app.WalletService
	votes   *app.VoteService
	tickets *app.TicketService
	logger  *zap.Logger
}

// NewHandlers creates the handler set. tickets may be nil when ticket sales
// are not backed by storage; ticket routes then answer 503.
func NewHandlers(wallet *app.WalletService, votes *app.VoteService, tickets *app.TicketService, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		wallet:  wallet,
		votes:   votes,
		tickets: tickets,
		logger:  logger.With(zap.String("component", "api")),
	}
}

type fundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	ReceiverWallet string          `json:"receiverWallet"`
	Amount         decimal.Decimal `json:"amount"`
}

type voteRequest struct {
	ContestantID string `json:"contestantId"`
	VoteCount    int64  `json:"voteCount"`
}

type validateTicketRequest struct {
	TicketData string `json:"ticketData"`
}

type scanTicketRequest struct {
	TicketID string `json:"ticketId"`
	Action   string `json:"action"`
}

// GetWalletHandler returns the caller's wallet.
func (h *Handlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	identity := session.IdentityFrom(r.Context())
	wallet, err := h.wallet.Balance(r.Context(), identity.AccountID)
	if err != nil {
		h.writeServiceError(w, "get_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"balance":          wallet.Balance,
		"total_deposited":  wallet.TotalDeposited,
		"total_votes_cast": wallet.TotalVotesCast,
		"loyalty_progress": wallet.LoyaltyProgress,
	})
}

// ListTransactionsHandler returns the caller's ledger history, newest first.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	identity := session.IdentityFrom(r.Context())

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	txs, err := h.wallet.History(r.Context(), identity.AccountID, limit, offset)
	if err != nil {
		h.writeServiceError(w, "list_transactions", err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "transactions": txs})
}

// FundWalletHandler starts a top-up with the payment collaborator.
func (h *Handlers) FundWalletHandler(w http.ResponseWriter, r *http.Request) {
	identity := session.IdentityFrom(r.Context())

	var req fundRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	funding, err := h.wallet.RequestFunding(r.Context(), identity.AccountID, req.Amount)
	if err != nil {
		h.writeServiceError(w, "fund_wallet", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":   true,
		"reference": funding.Reference,
		"amount":    funding.Amount,
		"coins":     funding.Coins,
	})
}

// TransferHandler moves coins to another wallet handle.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	identity := session.IdentityFrom(r.Context())

	var req transferRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transfer details")
		return
	}
	if strings.TrimSpace(req.ReceiverWallet) == "" {
		writeError(w, http.StatusBadRequest, "Invalid transfer details")
		return
	}

	res, err := h.wallet.Transfer(r.Context(), identity.AccountID, req.ReceiverWallet, req.Amount)
	if err != nil {
		h.writeServiceError(w, "transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        fmt.Sprintf("Successfully transferred %s coins to %s", req.Amount.String(), strings.TrimSpace(req.ReceiverWallet)),
		"transactionRef": res.Reference,
		"newBalance":     res.SenderBalance,
	})
}

// CastVoteHandler buys votes for a contestant.
func (h *Handlers) CastVoteHandler(w http.ResponseWriter, r *http.Request) {
	identity := session.IdentityFrom(r.Context())

	var req voteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid parameters")
		return
	}
	if req.VoteCount == 0 {
		req.VoteCount = 1
	}
	contestantID, err := uuid.Parse(strings.TrimSpace(req.ContestantID))
	if err != nil || req.VoteCount < 1 {
		writeError(w, http.StatusBadRequest, "Invalid parameters")
		return
	}

	res, err := h.votes.Cast(r.Context(), identity.AccountID, contestantID, req.VoteCount)
	if err != nil {
		h.writeServiceError(w, "cast_vote", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"newVotes":   res.Contestant.Votes,
		"newBalance": res.NewBalance,
		"reference":  res.Reference,
		"loyalty":    res.Loyalty,
		"message":    fmt.Sprintf("Voted %d time(s) successfully!", res.VoteCount),
	})
}

// LeaderboardHandler returns contestants ranked by votes.
func (h *Handlers) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	entries, err := h.votes.Leaderboard(r.Context(), limit)
	if err != nil {
		h.logger.Error("leaderboard fetch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch leaderboard")
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ValidateTicketHandler checks a scanned code without consuming the ticket.
func (h *Handlers) ValidateTicketHandler(w http.ResponseWriter, r *http.Request) {
	if h.tickets == nil {
		writeError(w, http.StatusServiceUnavailable, "Ticketing is not available")
		return
	}
	var req validateTicketRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.tickets.Validate(r.Context(), req.TicketData)
	if err != nil {
		h.logger.Error("ticket validation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"valid": false, "message": "Error validating ticket"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ScanTicketHandler admits a ticket at the gate.
func (h *Handlers) ScanTicketHandler(w http.ResponseWriter, r *http.Request) {
	if h.tickets == nil {
		writeError(w, http.StatusServiceUnavailable, "Ticketing is not available")
		return
	}
	identity := session.IdentityFrom(r.Context())

	var req scanTicketRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ticket, err := h.tickets.Scan(r.Context(), identity.AccountID, req.TicketID, domain.ScanAction(strings.ToLower(strings.TrimSpace(req.Action))))
	if err != nil {
		h.writeServiceError(w, "scan_ticket", err)
		return
	}

	message := fmt.Sprintf("%s ticket validated successfully", strings.ToUpper(string(ticket.Type)))
	if ticket.HolderName != "" {
		message = fmt.Sprintf("%s ticket for %s validated successfully", strings.ToUpper(string(ticket.Type)), ticket.HolderName)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": message,
		"ticket":  ticket,
	})
}

// VerifiedPaymentHandler applies a payment verified by the payment
// collaborator. It mirrors the queue consumer for deployments without a broker.
func (h *Handlers) VerifiedPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var event domain.PaymentVerifiedEvent
	if err := decodeBody(w, r, &event); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	outcome, err := h.wallet.ApplyVerifiedPayment(r.Context(), event)
	if err != nil {
		h.writeServiceError(w, "verified_payment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "payment": outcome})
}

// writeServiceError maps service and engine errors onto HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, op string, err error) {
	var insufficient *ledger.InsufficientFundsError
	var limited *app.RateLimitError

	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":  false,
			"error":    fmt.Sprintf("Insufficient coins. You have %s coins but need %s coins.", insufficient.Available.String(), insufficient.Required.String()),
			"balance":  insufficient.Available,
			"required": insufficient.Required,
		})
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, "Too many requests. Please slow down.")
	case errors.Is(err, ledger.ErrInvalidTarget):
		writeError(w, http.StatusNotFound, "Recipient wallet not found or invalid")
	case errors.Is(err, store.ErrContestantNotFound):
		writeError(w, http.StatusNotFound, "Contestant not found")
	case errors.Is(err, store.ErrTicketNotFound):
		writeError(w, http.StatusNotFound, "Ticket not found")
	case errors.Is(err, app.ErrTicketUsed):
		writeError(w, http.StatusConflict, "Ticket already used")
	case errors.Is(err, app.ErrEventEnded):
		writeError(w, http.StatusConflict, "Event has already ended")
	case errors.Is(err, app.ErrTicketsUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Ticketing is not available")
	case errors.Is(err, app.ErrBelowMinimum),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidScanAction),
		errors.Is(err, app.ErrInvalidPayment),
		errors.Is(err, app.ErrInvalidTicketType),
		errors.Is(err, app.ErrTicketUnderpaid),
		errors.Is(err, store.ErrAccountNotFound):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrStorage):
		h.logger.Error("storage unavailable", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable. Please try again.")
	default:
		h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}
