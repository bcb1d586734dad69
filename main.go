package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hersh/arena/internal/netclient"
	"github.com/hersh/arena/internal/protocol"
	"github.com/hersh/arena/internal/roomsvc"
	"github.com/hersh/arena/internal/server"
	"github.com/hersh/arena/internal/tui"
)

// This is the standalone practice entry point. It serves a room on a
// loopback port and plays in it.
// For multiplayer, use:
//   Server: go run ./cmd/server
//   Client: go run ./cmd/client -server ws://localhost:8080/ws -name YourName

func main() {
	name := "Player"
	if len(os.Args) > 1 {
		name = os.Args[1]
	}
	log.SetOutput(io.Discard)

	svc := roomsvc.NewMemory()
	handler := server.NewHandler(svc)
	defer handler.Close()
	hub := server.NewHub(svc, handler, server.DefaultTickInterval, server.DefaultSnapshotInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	srv := &http.Server{Handler: hub.Routes()}
	go srv.Serve(ln)
	defer srv.Close()

	client, err := netclient.New("ws://"+ln.Addr().String()+"/ws", protocol.JSONCodec{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	model := tui.NewModel(name, "practice", client)

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
	)
	client.SetProgram(p)
	client.Start()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
