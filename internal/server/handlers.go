package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"crash/internal/game"
)

// Round handlers

func (s *FiberServer) getGameStateHandler(c *fiber.Ctx) error {
	state := s.manager.GetCurrentRound()
	if state == nil {
		// Before the first round opens, fall back to the mirrored
		// snapshot of the last known state.
		if snapshot, err := s.cache.RoundSnapshot(c.Context()); err == nil && len(snapshot) > 0 {
			c.Set("Content-Type", "application/json")
			return c.Send(snapshot)
		}
		return c.Status(404).JSON(fiber.Map{
			"error": "No active game round",
		})
	}
	return c.JSON(state)
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.BetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	resp := s.manager.PlaceBet(req)
	if !resp.Success {
		return c.Status(400).JSON(resp)
	}

	return c.JSON(resp)
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req game.CashoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	resp := s.manager.Cashout(req)
	if !resp.Success {
		return c.Status(400).JSON(resp)
	}

	return c.JSON(resp)
}

// verifyHandler lets anyone recompute a finished round's outcome from
// the revealed seed.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	roundID, err := strconv.ParseInt(c.Query("round_id"), 10, 64)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "round_id is required",
		})
	}
	seed := c.Query("seed")
	commitment := c.Query("commitment")

	result := fiber.Map{"round_id": roundID}

	if rec, err := s.db.GetRound(c.Context(), roundID); err == nil {
		result["stored_commitment"] = rec.Commitment
		if !rec.CrashedAt.IsZero() {
			result["stored_crash_multiplier"] = rec.CrashMultiplier
			if seed == "" {
				seed = rec.ServerSeed
			}
		}
		if commitment == "" {
			commitment = rec.Commitment
		}
	}

	if seed == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "seed is required (round not yet revealed)",
		})
	}

	result["valid"] = game.VerifyCommitment(seed, roundID, commitment)
	result["crash_multiplier"] = game.DeriveCrashPoint(seed, roundID, s.cfg.HouseEdge)
	return c.JSON(result)
}

func (s *FiberServer) historyHandler(c *fiber.Ctx) error {
	limit := int64(c.QueryInt("limit", 20))

	entries, err := s.cache.CrashHistory(c.Context(), limit)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	history := make([]json.RawMessage, 0, len(entries))
	for _, entry := range entries {
		history = append(history, json.RawMessage(entry))
	}
	return c.JSON(fiber.Map{"history": history})
}

// User balance handlers

func (s *FiberServer) getUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	user, err := s.db.GetUser(c.Context(), userID)
	if err != nil {
		if errors.Is(err, game.ErrUserNotFound) {
			return c.Status(404).JSON(fiber.Map{
				"error": "User not found",
			})
		}
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load balance",
		})
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": user.Balance,
	})
}

func (s *FiberServer) setUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil || body.Balance < 0 {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := s.db.UpsertUser(c.Context(), userID, body.Balance); err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to set balance",
		})
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": body.Balance,
		"message": "Balance updated successfully",
	})
}

// WebSocket handler

func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")

	log.Printf("[WS] New connection from user: %s", userID)

	s.hub.RegisterClient(conn, userID)

	if currentState := s.manager.GetCurrentRound(); currentState != nil {
		stateJSON, _ := json.Marshal(game.Event{
			Type: "initial_state",
			Data: currentState,
		})
		conn.WriteMessage(websocket.TextMessage, stateJSON)
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Read error for user %s: %v", userID, err)
			s.hub.UnregisterClient(conn)
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var clientMsg map[string]interface{}
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			continue
		}

		msgType, ok := clientMsg["type"].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "place_bet":
			amount, _ := strconv.ParseFloat(fmt.Sprintf("%v", clientMsg["amount"]), 64)
			autoCashout, _ := strconv.ParseFloat(fmt.Sprintf("%v", clientMsg["auto_cashout"]), 64)

			resp := s.manager.PlaceBet(game.BetRequest{
				UserID:      userID,
				Amount:      amount,
				AutoCashout: autoCashout,
			})

			respJSON, _ := json.Marshal(resp)
			conn.WriteMessage(websocket.TextMessage, respJSON)

		case "cashout":
			resp := s.manager.Cashout(game.CashoutRequest{UserID: userID})

			respJSON, _ := json.Marshal(resp)
			conn.WriteMessage(websocket.TextMessage, respJSON)

		case "ping":
			pongJSON, _ := json.Marshal(map[string]string{"type": "pong"})
			conn.WriteMessage(websocket.TextMessage, pongJSON)
		}
	}
}
