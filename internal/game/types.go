package game

// BetRequest is a player's ask to join the current round. ResponseChan
// carries the reply back out of the lifecycle loop.
type BetRequest struct {
	UserID       string           `json:"user_id"`
	Amount       float64          `json:"amount"`
	AutoCashout  float64          `json:"auto_cashout,omitempty"`
	ResponseChan chan BetResponse `json:"-"`
}

type BetResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	BetID   string  `json:"bet_id,omitempty"`
	Balance float64 `json:"balance,omitempty"`
}

type CashoutRequest struct {
	UserID       string               `json:"user_id"`
	ResponseChan chan CashoutResponse `json:"-"`
}

type CashoutResponse struct {
	Success    bool    `json:"success"`
	Message    string  `json:"message"`
	BetID      string  `json:"bet_id,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty"`
	Payout     float64 `json:"payout,omitempty"`
	Balance    float64 `json:"balance,omitempty"`
}

// Event is the envelope broadcast to websocket clients and in-process
// subscribers.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

const (
	EventRoundState   = "round_state"
	EventRoundCrashed = "round_crashed"
	EventBetPlaced    = "bet_placed"
	EventBetSettled   = "bet_settled"
)

type RoundStateMessage struct {
	RoundID    int64   `json:"round_id"`
	Phase      Phase   `json:"phase"`
	Multiplier float64 `json:"multiplier"`
	Countdown  float64 `json:"countdown"`
	Commitment string  `json:"commitment,omitempty"`
}

type RoundCrashedMessage struct {
	RoundID    int64   `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
	ServerSeed string  `json:"server_seed"`
}

type BetPlacedMessage struct {
	RoundID     int64   `json:"round_id"`
	UserID      string  `json:"user_id"`
	BetID       string  `json:"bet_id"`
	Amount      float64 `json:"amount"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
}

type BetSettledMessage struct {
	RoundID    int64   `json:"round_id"`
	BetID      string  `json:"bet_id"`
	UserID     string  `json:"user_id"`
	Multiplier float64 `json:"multiplier"`
	Payout     float64 `json:"payout"`
}
