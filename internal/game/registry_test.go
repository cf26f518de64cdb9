package game

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestBet(player string, amount, autoCashOut float64) *Bet {
	return &Bet{
		BetID:       fmt.Sprintf("bet-%s-%d", player, time.Now().UnixNano()),
		PlayerID:    player,
		RoundID:     1,
		Amount:      amount,
		AutoCashOut: autoCashOut,
		Status:      BetActive,
		PlacedAt:    time.Now(),
	}
}

func TestRegistry_Add_RejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	r.Reset(1)

	if err := r.Add(newTestBet("alice", 100, 0)); err != nil {
		t.Fatalf("first Add() failed: %v", err)
	}
	if err := r.Add(newTestBet("alice", 50, 0)); err != ErrDuplicateBet {
		t.Errorf("second Add() = %v, want ErrDuplicateBet", err)
	}
	if err := r.Add(newTestBet("bob", 50, 0)); err != nil {
		t.Errorf("Add() for another player failed: %v", err)
	}
}

func TestRegistry_Reset_DropsPreviousRound(t *testing.T) {
	r := NewRegistry()
	r.Reset(1)
	r.Add(newTestBet("alice", 100, 0))

	r.Reset(2)

	if r.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", r.Len())
	}
	if r.HasActive("alice") {
		t.Error("HasActive() true after Reset")
	}
	if err := r.Add(newTestBet("alice", 100, 0)); err != nil {
		t.Errorf("Add() after Reset failed: %v", err)
	}
}

func TestRegistry_Claim_ExactlyOnce(t *testing.T) {
	r := NewRegistry()
	r.Reset(1)
	bet := newTestBet("alice", 100, 0)
	r.Add(bet)

	const attempts = 100
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Claim(bet.BetID) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Errorf("Claim() won %d times, want exactly 1", won)
	}
	if r.HasActive("alice") {
		t.Error("bet still active after a successful claim")
	}
}

func TestRegistry_Release_ReopensClaim(t *testing.T) {
	r := NewRegistry()
	r.Reset(1)
	bet := newTestBet("alice", 100, 0)
	r.Add(bet)

	if !r.Claim(bet.BetID) {
		t.Fatal("first Claim() failed")
	}
	if r.Claim(bet.BetID) {
		t.Fatal("Claim() succeeded twice without Release")
	}

	r.Release(bet.BetID)

	if !r.Claim(bet.BetID) {
		t.Error("Claim() failed after Release")
	}
}

func TestRegistry_AutoCashOutDue(t *testing.T) {
	r := NewRegistry()
	r.Reset(1)
	r.Add(newTestBet("alice", 100, 2.00))
	r.Add(newTestBet("bob", 50, 3.00))
	r.Add(newTestBet("carol", 25, 0)) // manual only

	due := r.AutoCashOutDue(2.50)
	if len(due) != 1 || due[0].PlayerID != "alice" {
		t.Fatalf("AutoCashOutDue(2.50) = %v, want just alice", due)
	}

	due = r.AutoCashOutDue(3.00)
	if len(due) != 2 {
		t.Errorf("AutoCashOutDue(3.00) returned %d bets, want 2", len(due))
	}

	// Settled bets never come due again.
	r.Claim(due[0].BetID)
	r.Claim(due[1].BetID)
	if left := r.AutoCashOutDue(100); len(left) != 0 {
		t.Errorf("AutoCashOutDue after settlement returned %d bets, want 0", len(left))
	}
}

func TestRegistry_ActiveBet_ReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Reset(1)
	bet := newTestBet("alice", 100, 0)
	r.Add(bet)

	got, ok := r.ActiveBet("alice")
	if !ok {
		t.Fatal("ActiveBet() not found")
	}
	got.Amount = 9999

	again, _ := r.ActiveBet("alice")
	if again.Amount != 100 {
		t.Error("ActiveBet() leaked a mutable reference")
	}
}
