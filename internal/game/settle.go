package game

import (
	"errors"
	"fmt"
	"log"
	"math"
)

// roundCents fixes monetary values to two decimals. The payout law is
// payout == roundCents(amount * multiplier).
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// settle is the single settlement routine behind manual cashouts, auto
// cashouts and the crash sweep. The registry claim is the at-most-once
// gate: once a caller wins the ACTIVE -> SETTLED transition, no other
// path can settle the same bet. A claim whose persistence fails is
// released so the bet stays settleable.
func (m *Manager) settle(bet Bet, multiplier float64) (payout, newBalance float64, err error) {
	if !m.registry.Claim(bet.BetID) {
		return 0, 0, ErrAlreadySettled
	}

	payout = roundCents(bet.Amount * multiplier)

	newBalance, err = m.store.SettleBet(m.ctx, bet.BetID, bet.PlayerID, multiplier, payout)
	if err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			// Registry and store disagree on the bet's status. The gate
			// makes this unreachable; if it fires, something rewrote the
			// store behind our back.
			log.Printf("[SETTLE] DEFECT: bet %s active in registry but settled in store", bet.BetID)
			return 0, 0, err
		}
		m.registry.Release(bet.BetID)
		return 0, 0, fmt.Errorf("settle bet %s: %w", bet.BetID, err)
	}

	m.registry.Record(bet.BetID, multiplier, payout)

	m.hub.Broadcast(Event{Type: EventBetSettled, Data: BetSettledMessage{
		RoundID:    bet.RoundID,
		BetID:      bet.BetID,
		UserID:     bet.PlayerID,
		Multiplier: multiplier,
		Payout:     payout,
	}})
	return payout, newBalance, nil
}

// processCashout handles a manual cashout at the live multiplier.
func (m *Manager) processCashout(req CashoutRequest) {
	resp := CashoutResponse{}
	defer func() {
		if req.ResponseChan != nil {
			req.ResponseChan <- resp
		}
	}()

	m.stateMutex.RLock()
	round := m.currentRound
	if round == nil || round.Phase != PhaseFlying {
		m.stateMutex.RUnlock()
		resp.Message = "Cashout is only possible while the round is in flight"
		return
	}
	currentMult := round.CurrentMultiplier
	m.stateMutex.RUnlock()

	bet, ok := m.registry.ActiveBet(req.UserID)
	if !ok {
		resp.Message = "No active bet to cash out"
		return
	}

	payout, newBalance, err := m.settle(bet, currentMult)
	if err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			resp.Message = "Already cashed out"
		} else {
			log.Printf("[CASHOUT] Settlement failed for user %s: %v", req.UserID, err)
			resp.Message = "Cashout failed, try again"
		}
		return
	}

	resp.Success = true
	resp.BetID = bet.BetID
	resp.Multiplier = currentMult
	resp.Payout = payout
	resp.Balance = newBalance
	resp.Message = fmt.Sprintf("Cashed out at %.2fx", currentMult)

	log.Printf("[CASHOUT] User %s cashed out at %.2fx (Payout: %.2f)", req.UserID, currentMult, payout)
}

// processAutoCashouts settles every active bet whose threshold the
// multiplier has reached. The bet settles at its own threshold, not the
// live multiplier, so the outcome is independent of tick jitter.
func (m *Manager) processAutoCashouts(currentMult float64) {
	for _, bet := range m.registry.AutoCashOutDue(currentMult) {
		payout, _, err := m.settle(bet, bet.AutoCashOut)
		if err != nil {
			if !errors.Is(err, ErrAlreadySettled) {
				log.Printf("[CASHOUT] Auto settlement failed for bet %s: %v", bet.BetID, err)
			}
			continue
		}
		log.Printf("[CASHOUT] Auto cashout user %s at %.2fx (Payout: %.2f)", bet.PlayerID, bet.AutoCashOut, payout)
	}
}

// sweepLosses settles every bet still active at crash time as a loss.
func (m *Manager) sweepLosses() {
	remaining := m.registry.Active()
	if len(remaining) == 0 {
		return
	}
	log.Printf("[ROUND END] Sweeping %d losing bets", len(remaining))
	for _, bet := range remaining {
		if _, _, err := m.settle(bet, 0); err != nil && !errors.Is(err, ErrAlreadySettled) {
			log.Printf("[ROUND END] Loss settlement failed for bet %s: %v", bet.BetID, err)
		}
	}
}
