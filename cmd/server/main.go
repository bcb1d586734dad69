package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hersh/arena/internal/config"
	"github.com/hersh/arena/internal/roomsvc"
	"github.com/hersh/arena/internal/server"
)

func main() {
	cfg, err := config.LoadServer(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	svc := roomsvc.NewMemory()
	handler := server.NewHandler(svc,
		server.WithDefaultRoom(cfg.DefaultRoom),
		server.WithMaxMembers(cfg.MaxMembers),
		server.WithObstacleCount(cfg.Obstacles),
	)
	defer handler.Close()
	hub := server.NewHub(svc, handler, cfg.TickInterval, cfg.SnapshotInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := &http.Server{Addr: cfg.Addr(), Handler: hub.Routes()}

	log.Printf("Arena server starting on %s", cfg.Addr())
	log.Printf("WebSocket endpoint: ws://localhost:%s/ws", cfg.Port)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-done
	log.Println("Server shutting down...")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
