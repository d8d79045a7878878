package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionKind_Direction(t *testing.T) {
	tests := []struct {
		kind TransactionKind
		sign int
	}{
		{KindDeposit, 1},
		{KindTransferIn, 1},
		{KindReward, 1},
		{KindTransferOut, -1},
		{KindVoteDebit, -1},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.True(t, tt.kind.Valid())
			assert.Equal(t, tt.sign, tt.kind.Sign())
			assert.NotEqual(t, tt.kind.IsDebit(), tt.kind.IsCredit())
		})
	}
	assert.False(t, TransactionKind("refund").Valid())
}

func TestTransaction_SignedAmount(t *testing.T) {
	debit := Transaction{Kind: KindVoteDebit, Amount: decimal.NewFromInt(30)}
	credit := Transaction{Kind: KindDeposit, Amount: decimal.NewFromInt(30)}

	assert.True(t, debit.SignedAmount().Equal(decimal.NewFromInt(-30)))
	assert.True(t, credit.SignedAmount().Equal(decimal.NewFromInt(30)))
}

func TestIdentity(t *testing.T) {
	guest := Anonymous()
	assert.False(t, guest.IsAuthenticated())
	assert.False(t, guest.IsAdmin())

	user := Authenticated(Account{ID: uuid.New(), Username: "ada", Role: RoleGuest})
	assert.True(t, user.IsAuthenticated())
	assert.Equal(t, RoleUser, user.Role)
	assert.False(t, user.IsAdmin())

	admin := Authenticated(Account{ID: uuid.New(), Username: "ops", Role: RoleAdmin})
	assert.True(t, admin.IsAdmin())

	assert.False(t, Identity{Role: RoleAdmin}.IsAdmin())
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, ParseRole("admin"))
	assert.Equal(t, RoleGuest, ParseRole("guest"))
	assert.Equal(t, RoleUser, ParseRole("superuser"))
	assert.Equal(t, RoleUser, ParseRole(""))
}

func TestTicketType_Valid(t *testing.T) {
	assert.True(t, TicketVIP.Valid())
	assert.False(t, TicketType("backstage").Valid())
}

func TestNewOutboxEvent(t *testing.T) {
	event, err := NewOutboxEvent(RoutingVoteCast, map[string]any{"vote_count": 3})
	assert.NoError(t, err)
	assert.Equal(t, RoutingVoteCast, event.RoutingKey)
	assert.JSONEq(t, `{"vote_count":3}`, string(event.Payload))
	assert.NotEqual(t, uuid.Nil, event.ID)

	_, err = NewOutboxEvent(RoutingVoteCast, make(chan int))
	assert.Error(t, err)
}

func TestNewConnectedPayload(t *testing.T) {
	guest := NewConnectedPayload("c1", Anonymous())
	assert.Equal(t, AnonymousUserID, guest.UserID)
	assert.Equal(t, RoleGuest, guest.Role)
	assert.False(t, guest.Authenticated)

	admin := Authenticated(Account{ID: uuid.New(), Username: "ops", Role: RoleAdmin})
	raw, err := json.Marshal(NewConnectedPayload("c2", admin))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, admin.AccountID.String(), got["userId"])
	assert.Equal(t, "admin", got["role"])
	assert.Equal(t, "ops", got["username"])
	assert.Equal(t, true, got["authenticated"])
}

func TestCoinAmountIsJSONNumber(t *testing.T) {
	raw, err := json.Marshal(WalletUpdatePayload{NewBalance: CoinAmount(decimal.NewFromFloat(70))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"newBalance":70.00}`, string(raw))
}
