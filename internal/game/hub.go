package game

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

type Client struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

// Hub fans lifecycle events out to websocket clients and in-process
// subscribers. A single Run goroutine drains the broadcast channel, so
// every consumer observes events in the exact order the lifecycle
// emitted them. The core never blocks on delivery: a full channel drops
// the event for that consumer.
type Hub struct {
	clients     map[*Client]bool
	broadcast   chan Event
	register    chan *Client
	unregister  chan *Client
	mu          sync.RWMutex
	subscribers []chan Event
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("[WS] Client connected: %s (Total: %d)", client.userID, h.GetClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
				log.Printf("[WS] Client disconnected: %s (Total: %d)", client.userID, len(h.clients))
			}
			h.mu.Unlock()

		case event, ok := <-h.broadcast:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("[WS] Marshal error: %v", err)
				continue
			}

			h.mu.RLock()
			for _, sub := range h.subscribers {
				select {
				case sub <- event:
				default: // slow subscriber, drop
				}
			}
			for client := range h.clients {
				go client.send(data)
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues an event without blocking the caller.
func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		log.Println("[WS] Broadcast channel full, dropping event")
	}
}

// Subscribe returns an ordered event channel for an in-process
// consumer. Events are dropped for a subscriber that falls behind.
func (h *Hub) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subscribers = append(h.subscribers, ch)
	h.mu.Unlock()
	return ch
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[WS] Write error for user %s: %v", c.userID, err)
	}
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID string) {
	h.register <- &Client{conn: conn, userID: userID}
}

func (h *Hub) UnregisterClient(conn *websocket.Conn) {
	h.mu.RLock()
	for client := range h.clients {
		if client.conn == conn {
			h.mu.RUnlock()
			h.unregister <- client
			return
		}
	}
	h.mu.RUnlock()
}
