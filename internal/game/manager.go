package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	BET_TIMEOUT     = 5 * time.Second
	CASHOUT_TIMEOUT = 500 * time.Millisecond

	REDIS_KEY_CURRENT_ROUND = "crash:round:current"
	REDIS_KEY_HISTORY       = "crash:history"
	HISTORY_LENGTH          = 50
)

// Manager owns the round lifecycle. A single goroutine runs the
// WAITING -> FLYING -> CRASHED loop and services bet/cashout requests
// from the channels, so all round and bet mutation is serialized
// through it.
type Manager struct {
	hub         *Hub
	store       Store
	redisClient *redis.Client // optional snapshot/history mirror
	cfg         Config
	ctx         context.Context

	stateMutex   sync.RWMutex
	currentRound *Round

	registry       *Registry
	betChannel     chan BetRequest
	cashoutChannel chan CashoutRequest
	stopChan       chan struct{}
	doneChan       chan struct{}
	stopOnce       sync.Once
	started        bool // guarded by stateMutex; loop goroutine exists
	nextRoundID    int64

	// swapped in tests for a fixed crash point
	deriveCrash func(seed string, roundID int64, houseEdge float64) float64
}

func NewManager(store Store, hub *Hub, redisClient *redis.Client, cfg Config) *Manager {
	return &Manager{
		hub:            hub,
		store:          store,
		redisClient:    redisClient,
		cfg:            cfg,
		ctx:            context.Background(),
		registry:       NewRegistry(),
		betChannel:     make(chan BetRequest, 1000),
		cashoutChannel: make(chan CashoutRequest, 1000),
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
		deriveCrash:    DeriveCrashPoint,
	}
}

func (m *Manager) Type() EngineType { return EngineTypeCrash }

// Start resumes the round id sequence from the store and launches the
// lifecycle loop.
func (m *Manager) Start(ctx context.Context) error {
	if ctx != nil {
		m.ctx = ctx
	}
	last, err := m.store.LastRoundID(m.ctx)
	if err != nil {
		return fmt.Errorf("resume round sequence: %w", err)
	}
	m.nextRoundID = last
	m.stateMutex.Lock()
	m.started = true
	m.stateMutex.Unlock()
	go m.gameLoop()
	return nil
}

// Stop shuts the loop down and waits for it to finish the operation in
// progress, so no bet is ever left half-settled. Stopping a manager
// that never started returns immediately.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.stateMutex.RLock()
	started := m.started
	m.stateMutex.RUnlock()
	if !started {
		return nil
	}
	<-m.doneChan
	return nil
}

func (m *Manager) State() interface{} { return m.GetCurrentRound() }

// GetCurrentRound returns a copy of the live round, or nil before the
// first round starts.
func (m *Manager) GetCurrentRound() *Round {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	if m.currentRound == nil {
		return nil
	}
	roundCopy := *m.currentRound
	return &roundCopy
}

// PlaceBet queues a bet request for the lifecycle loop and waits for
// the verdict.
func (m *Manager) PlaceBet(req BetRequest) BetResponse {
	respChan := make(chan BetResponse, 1)
	req.ResponseChan = respChan

	select {
	case m.betChannel <- req:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(BET_TIMEOUT):
			return BetResponse{Success: false, Message: "Bet timeout"}
		}
	default:
		return BetResponse{Success: false, Message: "Bet queue full"}
	}
}

// Cashout queues a manual cashout request for the lifecycle loop.
func (m *Manager) Cashout(req CashoutRequest) CashoutResponse {
	respChan := make(chan CashoutResponse, 1)
	req.ResponseChan = respChan

	select {
	case m.cashoutChannel <- req:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(CASHOUT_TIMEOUT):
			return CashoutResponse{Success: false, Message: "Cashout timeout"}
		}
	default:
		return CashoutResponse{Success: false, Message: "Cashout queue full"}
	}
}

func (m *Manager) gameLoop() {
	defer close(m.doneChan)
	for {
		select {
		case <-m.stopChan:
			log.Println("[GAME] Game loop stopped")
			return
		default:
			if !m.runRound() {
				log.Println("[GAME] Game loop stopped")
				return
			}
		}
	}
}

// runRound drives one full round. Returns false when shutdown was
// requested.
func (m *Manager) runRound() bool {
	roundID := m.nextRoundID + 1
	seed := GenerateSeed()
	commitment := HashCommitment(seed, roundID)
	crashPoint := m.deriveCrash(seed, roundID, m.cfg.HouseEdge)

	// No bets are accepted against a round the store has not recorded.
	for {
		err := m.store.CreateRound(m.ctx, roundID, commitment)
		if err == nil {
			break
		}
		log.Printf("[GAME] Round %d: persist failed: %v (retrying)", roundID, err)
		if !m.idle(m.cfg.RetryBackoff) {
			return false
		}
	}
	m.nextRoundID = roundID

	m.stateMutex.Lock()
	m.currentRound = &Round{
		RoundID:           roundID,
		Phase:             PhaseWaiting,
		Commitment:        commitment,
		Seed:              seed,
		CrashPoint:        crashPoint,
		CurrentMultiplier: MIN_MULTIPLIER,
		Countdown:         m.cfg.BettingWindow.Seconds(),
	}
	m.stateMutex.Unlock()
	m.registry.Reset(roundID)
	m.mirrorSnapshot()

	log.Printf("=== ROUND %d ===", roundID)
	log.Printf("[FAIR] Commitment: %s...", commitment[:16])
	m.broadcastState()

	if !m.runWaiting() {
		return false
	}
	if !m.runFlying(crashPoint) {
		return false
	}
	if !m.crash(roundID, seed, crashPoint) {
		return false
	}

	log.Printf("=== ROUND %d ENDED at %.2fx ===", roundID, crashPoint)
	return m.idle(m.cfg.CrashPause)
}

// runWaiting holds the betting window open, ticking the countdown once
// per second.
func (m *Manager) runWaiting() bool {
	bettingEnd := time.NewTimer(m.cfg.BettingWindow)
	ticker := time.NewTicker(m.cfg.WaitTick)
	defer ticker.Stop()
	defer bettingEnd.Stop()

	started := time.Now()
	for {
		select {
		case <-bettingEnd.C:
			return true
		case <-ticker.C:
			remaining := m.cfg.BettingWindow - time.Since(started)
			if remaining < 0 {
				remaining = 0
			}
			m.stateMutex.Lock()
			m.currentRound.Countdown = remaining.Seconds()
			m.stateMutex.Unlock()
			m.broadcastState()
		case bet := <-m.betChannel:
			m.processBet(bet)
		case co := <-m.cashoutChannel:
			m.rejectCashout(co, "Round has not started yet")
		case <-m.stopChan:
			return false
		}
	}
}

// runFlying grows the multiplier until the crash instant fixed at
// takeoff. The multiplier is always derived from wall-clock elapsed
// time, never from tick counts, so slow settlement bookkeeping cannot
// skew it.
func (m *Manager) runFlying(crashPoint float64) bool {
	flightDur := FlightDuration(crashPoint)
	started := time.Now()

	m.stateMutex.Lock()
	m.currentRound.Phase = PhaseFlying
	m.currentRound.CurrentMultiplier = MIN_MULTIPLIER
	m.currentRound.Countdown = 0
	m.currentRound.StartedAt = started
	m.stateMutex.Unlock()
	m.mirrorSnapshot()
	m.broadcastState()

	ticker := time.NewTicker(m.cfg.FlightTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			elapsed := time.Since(started)
			if elapsed >= flightDur {
				// Thresholds crossed between the last sample and the
				// crash instant still win: one final pass at the crash
				// multiplier before the loss sweep.
				m.processAutoCashouts(crashPoint)
				return true
			}
			mult := MultiplierAt(elapsed.Seconds())
			m.stateMutex.Lock()
			m.currentRound.CurrentMultiplier = mult
			m.stateMutex.Unlock()
			m.processAutoCashouts(mult)
			m.broadcastState()
		case bet := <-m.betChannel:
			m.rejectBet(bet, "Betting is closed")
		case co := <-m.cashoutChannel:
			m.processCashout(co)
		case <-m.stopChan:
			return false
		}
	}
}

// crash reveals the seed, records the outcome and settles the remaining
// bets as losses. Returns false when shutdown was requested.
func (m *Manager) crash(roundID int64, seed string, crashPoint float64) bool {
	m.stateMutex.Lock()
	m.currentRound.Phase = PhaseCrashed
	m.currentRound.CurrentMultiplier = crashPoint
	m.currentRound.CrashedAt = time.Now()
	m.currentRound.RevealedSeed = seed
	m.stateMutex.Unlock()

	// The next round does not start until the outcome is durable: the
	// fairness trail needs the revealed seed on the round row.
	for {
		err := m.store.MarkRoundCrashed(m.ctx, roundID, seed, crashPoint)
		if err == nil {
			break
		}
		log.Printf("[GAME] Round %d: crash persist failed: %v (retrying)", roundID, err)
		if !m.idle(m.cfg.RetryBackoff) {
			return false
		}
	}

	m.broadcastState()
	m.hub.Broadcast(Event{Type: EventRoundCrashed, Data: RoundCrashedMessage{
		RoundID:    roundID,
		Multiplier: crashPoint,
		ServerSeed: seed,
	}})

	m.sweepLosses()
	m.mirrorSnapshot()
	m.pushHistory(roundID, crashPoint)
	return true
}

// processBet validates and records a bet against the WAITING round.
// The stake debit and the bet row are one atomic store operation.
func (m *Manager) processBet(req BetRequest) {
	resp := BetResponse{}
	defer func() {
		if req.ResponseChan != nil {
			req.ResponseChan <- resp
		}
	}()

	if req.Amount <= 0 {
		resp.Message = "Bet amount must be positive"
		return
	}
	if req.Amount < m.cfg.MinBet || req.Amount > m.cfg.MaxBet {
		resp.Message = fmt.Sprintf("Bet must be between %.2f and %.2f", m.cfg.MinBet, m.cfg.MaxBet)
		return
	}

	m.stateMutex.RLock()
	round := m.currentRound
	if round == nil || round.Phase != PhaseWaiting {
		m.stateMutex.RUnlock()
		resp.Message = "Betting is closed"
		return
	}
	roundID := round.RoundID
	m.stateMutex.RUnlock()

	if m.registry.HasActive(req.UserID) {
		resp.Message = "You already have a bet in this round"
		return
	}

	bet := &Bet{
		BetID:       uuid.NewString(),
		PlayerID:    req.UserID,
		RoundID:     roundID,
		Amount:      req.Amount,
		AutoCashOut: req.AutoCashout,
		Status:      BetActive,
		PlacedAt:    time.Now(),
	}

	newBalance, err := m.store.CreateBet(m.ctx, bet)
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		resp.Message = "Insufficient balance"
		resp.Balance = newBalance
		return
	case errors.Is(err, ErrUserNotFound):
		resp.Message = "Unknown user"
		return
	case err != nil:
		log.Printf("[BET] Store rejected bet for user %s: %v", req.UserID, err)
		resp.Message = "Bet could not be recorded"
		return
	}

	if err := m.registry.Add(bet); err != nil {
		// Unreachable while placement runs on the loop goroutine.
		log.Printf("[BET] DEFECT: duplicate bet slipped past the phase gate for user %s", req.UserID)
		if _, rbErr := m.store.AdjustBalance(m.ctx, req.UserID, bet.Amount); rbErr != nil {
			log.Printf("[BET] Refund failed for user %s: %v", req.UserID, rbErr)
		}
		resp.Message = "You already have a bet in this round"
		return
	}

	resp.Success = true
	resp.BetID = bet.BetID
	resp.Balance = newBalance
	resp.Message = "Bet placed successfully"

	m.hub.Broadcast(Event{Type: EventBetPlaced, Data: BetPlacedMessage{
		RoundID:     roundID,
		UserID:      req.UserID,
		BetID:       bet.BetID,
		Amount:      req.Amount,
		AutoCashout: req.AutoCashout,
	}})

	log.Printf("[BET] User %s placed %.2f (ID: %s)", req.UserID, req.Amount, bet.BetID)
}

func (m *Manager) rejectBet(req BetRequest, reason string) {
	if req.ResponseChan != nil {
		req.ResponseChan <- BetResponse{Success: false, Message: reason}
	}
}

func (m *Manager) rejectCashout(req CashoutRequest, reason string) {
	if req.ResponseChan != nil {
		req.ResponseChan <- CashoutResponse{Success: false, Message: reason}
	}
}

// idle sleeps between rounds while still answering player requests with
// prompt rejections.
func (m *Manager) idle(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			return true
		case bet := <-m.betChannel:
			m.rejectBet(bet, "Betting is closed")
		case co := <-m.cashoutChannel:
			m.rejectCashout(co, "No round in flight")
		case <-m.stopChan:
			return false
		}
	}
}

func (m *Manager) broadcastState() {
	m.stateMutex.RLock()
	r := m.currentRound
	msg := RoundStateMessage{
		RoundID:    r.RoundID,
		Phase:      r.Phase,
		Multiplier: r.CurrentMultiplier,
		Countdown:  r.Countdown,
		Commitment: r.Commitment,
	}
	m.stateMutex.RUnlock()
	m.hub.Broadcast(Event{Type: EventRoundState, Data: msg})
}

// mirrorSnapshot caches the live round in Redis for the HTTP surface.
func (m *Manager) mirrorSnapshot() {
	if m.redisClient == nil {
		return
	}
	data, err := json.Marshal(m.GetCurrentRound())
	if err != nil {
		return
	}
	if err := m.redisClient.Set(m.ctx, REDIS_KEY_CURRENT_ROUND, data, 1*time.Hour).Err(); err != nil {
		log.Printf("[GAME] Snapshot mirror failed: %v", err)
	}
}

// pushHistory prepends the crash outcome to the capped history list.
func (m *Manager) pushHistory(roundID int64, crashPoint float64) {
	if m.redisClient == nil {
		return
	}
	entry, _ := json.Marshal(map[string]interface{}{
		"round_id":   roundID,
		"multiplier": crashPoint,
	})
	pipe := m.redisClient.Pipeline()
	pipe.LPush(m.ctx, REDIS_KEY_HISTORY, entry)
	pipe.LTrim(m.ctx, REDIS_KEY_HISTORY, 0, HISTORY_LENGTH-1)
	if _, err := pipe.Exec(m.ctx); err != nil {
		log.Printf("[GAME] History push failed: %v", err)
	}
}
