package game

import (
	"context"
	"errors"
	"time"
)

// Validation rejections surfaced to players as typed responses, never
// as faults.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUserNotFound        = errors.New("user not found")
	ErrAlreadySettled      = errors.New("bet already settled")
	ErrDuplicateBet        = errors.New("player already has an active bet")
	ErrNoActiveBet         = errors.New("no active bet for this round")
)

type User struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Balance  float64 `json:"balance"`
}

// RoundRecord is the durable view of a round kept by the Store.
type RoundRecord struct {
	RoundID         int64     `json:"round_id"`
	Commitment      string    `json:"commitment"`
	ServerSeed      string    `json:"server_seed,omitempty"`
	CrashMultiplier float64   `json:"crash_multiplier,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	CrashedAt       time.Time `json:"crashed_at,omitempty"`
}

// Store is the persistence collaborator. Calls are synchronous; any
// returned error means the operation did not happen and left no partial
// effects behind.
type Store interface {
	CreateRound(ctx context.Context, roundID int64, commitment string) error
	GetRound(ctx context.Context, roundID int64) (*RoundRecord, error)
	MarkRoundCrashed(ctx context.Context, roundID int64, seed string, multiplier float64) error
	LastRoundID(ctx context.Context) (int64, error)

	GetUser(ctx context.Context, userID string) (*User, error)
	UpsertUser(ctx context.Context, userID string, balance float64) error
	AdjustBalance(ctx context.Context, userID string, delta float64) (float64, error)

	// CreateBet debits the stake and records the bet in one atomic step.
	CreateBet(ctx context.Context, bet *Bet) (newBalance float64, err error)
	// SettleBet marks the bet settled and credits the payout in one
	// atomic step. Settling a non-ACTIVE bet returns ErrAlreadySettled.
	SettleBet(ctx context.Context, betID, playerID string, multiplier, payout float64) (newBalance float64, err error)
	ActiveBets(ctx context.Context, roundID int64) ([]Bet, error)
}
