package server

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"crash/internal/cache"
	"crash/internal/database"
	"crash/internal/game"
)

type FiberServer struct {
	*fiber.App

	db      database.Service
	cache   cache.Service
	manager *game.Manager
	hub     *game.Hub
	engines *game.Supervisor
	cfg     game.Config
}

func New() *FiberServer {
	db := database.New()

	redisService := cache.New()
	if redisService == nil {
		log.Fatal("[SERVER] Redis is required for game functionality")
	}

	cfg := game.DefaultConfig()
	hub := game.NewHub()
	manager := game.NewManager(db, hub, redisService.GetClient(), cfg)

	engines := game.NewSupervisor()
	engines.Register(manager)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crash",
			AppName:       "crash",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:      db,
		cache:   redisService,
		manager: manager,
		hub:     hub,
		engines: engines,
		cfg:     cfg,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()
	if err := engines.StartAll(); err != nil {
		log.Fatalf("[SERVER] Failed to start game engines: %v", err)
	}

	log.Println("[SERVER] Game engines started")

	return server
}

// Shutdown stops the round engine first so no settlement is cut off
// mid-operation, then releases the connections.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.engines != nil {
		if err := s.engines.StopAll(); err != nil {
			log.Printf("[SERVER] Error stopping game engines: %v", err)
		}
	}

	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return nil
}
