package game

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a map-backed Store used by tests and standalone dev
// runs. It honors the same atomicity contract as the postgres store:
// every method either fully applies or leaves no trace.
type MemoryStore struct {
	mu     sync.Mutex
	rounds map[int64]*RoundRecord
	users  map[string]*User
	bets   map[string]*Bet

	// FailCreateRound and FailMarkCrashed force the round persists to
	// fail, for exercising the lifecycle retry paths.
	FailCreateRound bool
	FailMarkCrashed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds: make(map[int64]*RoundRecord),
		users:  make(map[string]*User),
		bets:   make(map[string]*Bet),
	}
}

func (s *MemoryStore) CreateRound(ctx context.Context, roundID int64, commitment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreateRound {
		return context.DeadlineExceeded
	}
	s.rounds[roundID] = &RoundRecord{
		RoundID:    roundID,
		Commitment: commitment,
		CreatedAt:  time.Now(),
	}
	return nil
}

func (s *MemoryStore) GetRound(ctx context.Context, roundID int64) (*RoundRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[roundID]
	if !ok {
		return nil, fmt.Errorf("round %d not found", roundID)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) MarkRoundCrashed(ctx context.Context, roundID int64, seed string, multiplier float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailMarkCrashed {
		return context.DeadlineExceeded
	}
	r, ok := s.rounds[roundID]
	if !ok {
		return fmt.Errorf("round %d not found", roundID)
	}
	r.ServerSeed = seed
	r.CrashMultiplier = multiplier
	r.CrashedAt = time.Now()
	return nil
}

func (s *MemoryStore) LastRoundID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last int64
	for id := range s.rounds {
		if id > last {
			last = id
		}
	}
	return last, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) UpsertUser(ctx context.Context, userID string, balance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = &User{ID: userID, Username: userID, Balance: balance}
	return nil
}

func (s *MemoryStore) AdjustBalance(ctx context.Context, userID string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	if u.Balance+delta < 0 {
		return u.Balance, ErrInsufficientBalance
	}
	u.Balance += delta
	return u.Balance, nil
}

func (s *MemoryStore) CreateBet(ctx context.Context, bet *Bet) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[bet.PlayerID]
	if !ok {
		return 0, ErrUserNotFound
	}
	if u.Balance < bet.Amount {
		return u.Balance, ErrInsufficientBalance
	}
	u.Balance -= bet.Amount
	cp := *bet
	s.bets[bet.BetID] = &cp
	return u.Balance, nil
}

func (s *MemoryStore) SettleBet(ctx context.Context, betID, playerID string, multiplier, payout float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[betID]
	if !ok {
		return 0, ErrNoActiveBet
	}
	if b.Status != BetActive {
		return 0, ErrAlreadySettled
	}
	u, ok := s.users[playerID]
	if !ok {
		return 0, ErrUserNotFound
	}
	b.Status = BetSettled
	b.CashOutMultiplier = multiplier
	b.Payout = payout
	u.Balance += payout
	return u.Balance, nil
}

func (s *MemoryStore) ActiveBets(ctx context.Context, roundID int64) ([]Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Bet
	for _, b := range s.bets {
		if b.RoundID == roundID && b.Status == BetActive {
			out = append(out, *b)
		}
	}
	return out, nil
}
