package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		BettingWindow: 150 * time.Millisecond,
		WaitTick:      50 * time.Millisecond,
		FlightTick:    5 * time.Millisecond,
		CrashPause:    50 * time.Millisecond,
		RetryBackoff:  20 * time.Millisecond,
		HouseEdge:     DEFAULT_HOUSE_EDGE,
		MinBet:        1.0,
		MaxBet:        10000.0,
	}
}

func newTestManager(t *testing.T) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	store.UpsertUser(context.Background(), "alice", 1000)
	store.UpsertUser(context.Background(), "bob", 500)
	return NewManager(store, NewHub(), nil, testConfig()), store
}

// beginRound puts the manager into a WAITING round without running the
// lifecycle loop, so settlement paths can be exercised directly.
func beginRound(m *Manager, roundID int64) {
	m.stateMutex.Lock()
	m.currentRound = &Round{
		RoundID:           roundID,
		Phase:             PhaseWaiting,
		CurrentMultiplier: MIN_MULTIPLIER,
	}
	m.stateMutex.Unlock()
	m.registry.Reset(roundID)
}

func setFlying(m *Manager, multiplier float64) {
	m.stateMutex.Lock()
	m.currentRound.Phase = PhaseFlying
	m.currentRound.CurrentMultiplier = multiplier
	m.stateMutex.Unlock()
}

func placeBet(t *testing.T, m *Manager, user string, amount, autoCashout float64) BetResponse {
	t.Helper()
	respChan := make(chan BetResponse, 1)
	m.processBet(BetRequest{UserID: user, Amount: amount, AutoCashout: autoCashout, ResponseChan: respChan})
	return <-respChan
}

func manualCashout(t *testing.T, m *Manager, user string) CashoutResponse {
	t.Helper()
	respChan := make(chan CashoutResponse, 1)
	m.processCashout(CashoutRequest{UserID: user, ResponseChan: respChan})
	return <-respChan
}

func TestProcessBet_Validation(t *testing.T) {
	m, store := newTestManager(t)
	beginRound(m, 1)

	tests := []struct {
		name    string
		user    string
		amount  float64
		wantMsg string
	}{
		{name: "Zero amount", user: "alice", amount: 0, wantMsg: "positive"},
		{name: "Negative amount", user: "alice", amount: -10, wantMsg: "positive"},
		{name: "Over max", user: "alice", amount: 50000, wantMsg: "between"},
		{name: "Insufficient balance", user: "bob", amount: 600, wantMsg: "Insufficient balance"},
		{name: "Unknown user", user: "mallory", amount: 10, wantMsg: "Unknown user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := placeBet(t, m, tt.user, tt.amount, 0)
			if resp.Success {
				t.Fatal("bet accepted, want rejection")
			}
			if !strings.Contains(resp.Message, tt.wantMsg) {
				t.Errorf("message = %q, want containing %q", resp.Message, tt.wantMsg)
			}
		})
	}

	// No mutation happened anywhere.
	if m.registry.Len() != 0 {
		t.Errorf("registry has %d bets after rejections, want 0", m.registry.Len())
	}
	bob, _ := store.GetUser(context.Background(), "bob")
	if bob.Balance != 500 {
		t.Errorf("bob balance = %v after rejected bet, want 500", bob.Balance)
	}
}

func TestProcessBet_WrongPhase(t *testing.T) {
	m, _ := newTestManager(t)
	beginRound(m, 1)
	setFlying(m, 1.25)

	resp := placeBet(t, m, "alice", 100, 0)
	if resp.Success || resp.Message != "Betting is closed" {
		t.Errorf("got %+v, want betting-closed rejection", resp)
	}
}

func TestProcessBet_DebitsAtomically(t *testing.T) {
	m, store := newTestManager(t)
	beginRound(m, 1)

	resp := placeBet(t, m, "alice", 100, 0)
	if !resp.Success {
		t.Fatalf("bet rejected: %s", resp.Message)
	}
	if resp.Balance != 900 {
		t.Errorf("balance = %v, want 900", resp.Balance)
	}

	alice, _ := store.GetUser(context.Background(), "alice")
	if alice.Balance != 900 {
		t.Errorf("stored balance = %v, want 900", alice.Balance)
	}

	// One active bet per player per round.
	dup := placeBet(t, m, "alice", 50, 0)
	if dup.Success {
		t.Fatal("duplicate bet accepted")
	}
	alice, _ = store.GetUser(context.Background(), "alice")
	if alice.Balance != 900 {
		t.Errorf("balance = %v after duplicate rejection, want 900", alice.Balance)
	}
}

func TestManualCashout(t *testing.T) {
	m, store := newTestManager(t)
	beginRound(m, 1)
	resp := placeBet(t, m, "alice", 100, 0)
	if !resp.Success {
		t.Fatalf("bet rejected: %s", resp.Message)
	}

	setFlying(m, 1.50)

	co := manualCashout(t, m, "alice")
	if !co.Success {
		t.Fatalf("cashout rejected: %s", co.Message)
	}
	if co.Multiplier != 1.50 || co.Payout != 150 {
		t.Errorf("cashout = %.2fx/%.2f, want 1.50x/150.00", co.Multiplier, co.Payout)
	}

	alice, _ := store.GetUser(context.Background(), "alice")
	if alice.Balance != 1050 { // 1000 - 100 + 150
		t.Errorf("balance = %v, want 1050", alice.Balance)
	}

	again := manualCashout(t, m, "alice")
	if again.Success || again.Message != "No active bet to cash out" {
		t.Errorf("second cashout = %+v, want no-active-bet rejection", again)
	}
}

func TestManualCashout_WrongPhase(t *testing.T) {
	m, _ := newTestManager(t)
	beginRound(m, 1)
	placeBet(t, m, "alice", 100, 0)

	co := manualCashout(t, m, "alice")
	if co.Success {
		t.Fatal("cashout accepted while WAITING")
	}
	if !strings.Contains(co.Message, "in flight") {
		t.Errorf("message = %q, want wrong-phase reason", co.Message)
	}
}

func TestAutoCashout_LockedAtThreshold(t *testing.T) {
	m, store := newTestManager(t)
	beginRound(m, 1)
	resp := placeBet(t, m, "alice", 100, 2.00)
	if !resp.Success {
		t.Fatalf("bet rejected: %s", resp.Message)
	}

	// The tick overshoots the threshold; settlement still locks at the
	// player's 2.00, not the live 2.37.
	setFlying(m, 2.37)
	m.processAutoCashouts(2.37)

	bet := store.bets[resp.BetID]
	if bet.Status != BetSettled {
		t.Fatal("bet not settled by auto cashout")
	}
	if bet.CashOutMultiplier != 2.00 || bet.Payout != 200 {
		t.Errorf("settled at %.2fx/%.2f, want 2.00x/200.00", bet.CashOutMultiplier, bet.Payout)
	}

	alice, _ := store.GetUser(context.Background(), "alice")
	if alice.Balance != 1100 { // 1000 - 100 + 200
		t.Errorf("balance = %v, want 1100", alice.Balance)
	}

	// No further mutation for the rest of the round.
	m.processAutoCashouts(5.00)
	m.sweepLosses()
	bet = store.bets[resp.BetID]
	if bet.CashOutMultiplier != 2.00 || bet.Payout != 200 {
		t.Errorf("settled bet mutated again: %.2fx/%.2f", bet.CashOutMultiplier, bet.Payout)
	}
}

func TestAutoCashout_BelowThresholdUntouched(t *testing.T) {
	m, _ := newTestManager(t)
	beginRound(m, 1)
	placeBet(t, m, "alice", 100, 3.00)

	setFlying(m, 2.99)
	m.processAutoCashouts(2.99)

	if !m.registry.HasActive("alice") {
		t.Error("bet settled before its threshold")
	}
}

func TestCrashSweep_SettlesLossesAtZero(t *testing.T) {
	m, store := newTestManager(t)
	beginRound(m, 1)
	aliceBet := placeBet(t, m, "alice", 50, 0)
	bobBet := placeBet(t, m, "bob", 80, 0)

	setFlying(m, 1.73)
	co := manualCashout(t, m, "bob")
	if !co.Success {
		t.Fatalf("bob cashout rejected: %s", co.Message)
	}

	// Round crashes at 1.73x; alice never cashed out.
	m.sweepLosses()

	lost := store.bets[aliceBet.BetID]
	if lost.Status != BetSettled || lost.Payout != 0 {
		t.Errorf("swept bet = %s/%.2f, want SETTLED/0.00", lost.Status, lost.Payout)
	}
	alice, _ := store.GetUser(context.Background(), "alice")
	if alice.Balance != 950 { // stake gone, nothing back
		t.Errorf("alice balance = %v, want 950", alice.Balance)
	}

	// Bob's earlier settlement is untouched.
	won := store.bets[bobBet.BetID]
	if won.Payout != roundCents(80*1.73) {
		t.Errorf("bob payout = %v, want %v", won.Payout, roundCents(80*1.73))
	}
}

func TestSettle_ExactlyOnceUnderRace(t *testing.T) {
	m, store := newTestManager(t)
	beginRound(m, 1)
	resp := placeBet(t, m, "alice", 100, 2.00)
	setFlying(m, 2.00)

	bet, ok := m.registry.ActiveBet("alice")
	if !ok {
		t.Fatal("no active bet")
	}

	// A manual cashout racing the auto settlement for the same bet:
	// exactly one side may win the claim.
	const racers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	settled, alreadySettled := 0, 0

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.settle(bet, 2.00)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				settled++
			case errors.Is(err, ErrAlreadySettled):
				alreadySettled++
			default:
				t.Errorf("unexpected settle error: %v", err)
			}
		}()
	}
	wg.Wait()

	if settled != 1 {
		t.Errorf("settled %d times, want exactly 1", settled)
	}
	if alreadySettled != racers-1 {
		t.Errorf("already-settled seen %d times, want %d", alreadySettled, racers-1)
	}

	// Credited exactly once.
	alice, _ := store.GetUser(context.Background(), "alice")
	if alice.Balance != 1100 {
		t.Errorf("balance = %v, want 1100", alice.Balance)
	}
	if got := store.bets[resp.BetID].Payout; got != 200 {
		t.Errorf("payout = %v, want 200", got)
	}
}

func TestSettle_ReleasesClaimOnStoreFailure(t *testing.T) {
	m, store := newTestManager(t)
	beginRound(m, 1)
	placeBet(t, m, "alice", 100, 0)
	setFlying(m, 1.80)

	bet, _ := m.registry.ActiveBet("alice")

	// Simulate the store losing the bet row: settlement must fail and
	// leave the bet claimable.
	store.mu.Lock()
	saved := store.bets[bet.BetID]
	delete(store.bets, bet.BetID)
	store.mu.Unlock()

	if _, _, err := m.settle(bet, 1.80); err == nil {
		t.Fatal("settle succeeded against a missing store row")
	}
	if !m.registry.HasActive("alice") {
		t.Error("claim not released after store failure")
	}

	store.mu.Lock()
	store.bets[bet.BetID] = saved
	store.mu.Unlock()

	if _, _, err := m.settle(bet, 1.80); err != nil {
		t.Errorf("settle failed after store recovered: %v", err)
	}
}

func TestRoundCents_PayoutLaw(t *testing.T) {
	tests := []struct {
		amount     float64
		multiplier float64
		want       float64
	}{
		{100, 2.00, 200.00},
		{50, 1.73, 86.50},
		{33.33, 1.01, 33.66},
		{0.01, 1.00, 0.01},
		{80, 0, 0},
	}

	for _, tt := range tests {
		if got := roundCents(tt.amount * tt.multiplier); got != tt.want {
			t.Errorf("roundCents(%v * %v) = %v, want %v", tt.amount, tt.multiplier, got, tt.want)
		}
	}
}
