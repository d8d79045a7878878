package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Contestant is a voting target.
type Contestant struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Number int       `json:"contestant_number"`
	Votes  int64     `json:"votes"`
}

// VoteRecord is an append-only record of votes bought with coins.
type VoteRecord struct {
	ID           uuid.UUID       `json:"id"`
	AccountID    uuid.UUID       `json:"account_id"`
	ContestantID uuid.UUID       `json:"contestant_id"`
	VoteCount    int64           `json:"vote_count"`
	CoinsSpent   decimal.Decimal `json:"coins_spent"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LeaderboardEntry is one ranked row of the public leaderboard.
type LeaderboardEntry struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Votes int64     `json:"votes"`
	Rank  int64     `json:"rank"`
}
