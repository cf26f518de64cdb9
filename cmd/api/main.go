package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"crash/internal/server"
)

func gracefulShutdown(fiberServer *server.FiberServer, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("[SERVER] Shutting down gracefully, press Ctrl+C again to force")

	// Stop the round engine before the listener so no settlement is cut
	// off mid-operation.
	fiberServer.Shutdown()

	if err := fiberServer.App.ShutdownWithContext(context.Background()); err != nil {
		log.Printf("[SERVER] Forced to shutdown with error: %v", err)
	}

	log.Println("[SERVER] Shutdown complete")
	done <- true
}

func main() {
	fiberServer := server.New()
	fiberServer.RegisterFiberRoutes()

	done := make(chan bool, 1)
	go gracefulShutdown(fiberServer, done)

	port, _ := strconv.Atoi(os.Getenv("PORT"))
	if port == 0 {
		port = 8080
	}
	if err := fiberServer.Listen(":" + strconv.Itoa(port)); err != nil {
		log.Panicf("[SERVER] Listen error: %v", err)
	}

	<-done
}
