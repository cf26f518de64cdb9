package game

import (
	"sync"
	"time"
)

type BetStatus string

const (
	BetActive  BetStatus = "ACTIVE"
	BetSettled BetStatus = "SETTLED"
)

// Bet is created once at placement and mutated exactly once at
// settlement. After the ACTIVE -> SETTLED transition the multiplier and
// payout are frozen.
type Bet struct {
	BetID             string    `json:"bet_id"`
	PlayerID          string    `json:"player_id"`
	RoundID           int64     `json:"round_id"`
	Amount            float64   `json:"amount"`
	AutoCashOut       float64   `json:"auto_cashout,omitempty"` // 0 = manual only
	Status            BetStatus `json:"status"`
	CashOutMultiplier float64   `json:"cashout_multiplier,omitempty"`
	Payout            float64   `json:"payout"`
	PlacedAt          time.Time `json:"placed_at"`
}

// Registry tracks the current round's bets. The ACTIVE -> SETTLED
// check-and-set in Claim is the sole settlement gate; whichever caller
// wins it owns the bet's one settlement.
type Registry struct {
	mu       sync.Mutex
	roundID  int64
	bets     map[string]*Bet
	byPlayer map[string]string // playerID -> betID
}

func NewRegistry() *Registry {
	return &Registry{
		bets:     make(map[string]*Bet),
		byPlayer: make(map[string]string),
	}
}

// Reset drops the previous round's bets and rebinds the registry to a
// new round id.
func (r *Registry) Reset(roundID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roundID = roundID
	r.bets = make(map[string]*Bet)
	r.byPlayer = make(map[string]string)
}

// Add registers a freshly placed bet. Rejects a second active bet for
// the same player.
func (r *Registry) Add(bet *Bet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byPlayer[bet.PlayerID]; ok {
		if existing, ok := r.bets[id]; ok && existing.Status == BetActive {
			return ErrDuplicateBet
		}
	}
	r.bets[bet.BetID] = bet
	r.byPlayer[bet.PlayerID] = bet.BetID
	return nil
}

// HasActive reports whether the player holds an unsettled bet.
func (r *Registry) HasActive(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byPlayer[playerID]; ok {
		if bet, ok := r.bets[id]; ok {
			return bet.Status == BetActive
		}
	}
	return false
}

// ActiveBet returns a copy of the player's active bet.
func (r *Registry) ActiveBet(playerID string) (Bet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byPlayer[playerID]; ok {
		if bet, ok := r.bets[id]; ok && bet.Status == BetActive {
			return *bet, true
		}
	}
	return Bet{}, false
}

// Claim attempts the ACTIVE -> SETTLED transition. Exactly one caller
// wins for a given bet; everyone else sees false.
func (r *Registry) Claim(betID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	bet, ok := r.bets[betID]
	if !ok || bet.Status != BetActive {
		return false
	}
	bet.Status = BetSettled
	return true
}

// Release reverts a claim whose persistence failed, making the bet
// settleable again.
func (r *Registry) Release(betID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bet, ok := r.bets[betID]; ok {
		bet.Status = BetActive
		bet.CashOutMultiplier = 0
		bet.Payout = 0
	}
}

// Record freezes the settlement outcome on a claimed bet.
func (r *Registry) Record(betID string, multiplier, payout float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bet, ok := r.bets[betID]; ok {
		bet.CashOutMultiplier = multiplier
		bet.Payout = payout
	}
}

// AutoCashOutDue returns copies of active bets whose threshold the
// current multiplier has reached.
func (r *Registry) AutoCashOutDue(currentMult float64) []Bet {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Bet
	for _, bet := range r.bets {
		if bet.Status == BetActive && bet.AutoCashOut > 0 && bet.AutoCashOut <= currentMult {
			due = append(due, *bet)
		}
	}
	return due
}

// Active returns copies of all still-active bets.
func (r *Registry) Active() []Bet {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Bet
	for _, bet := range r.bets {
		if bet.Status == BetActive {
			out = append(out, *bet)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bets)
}
