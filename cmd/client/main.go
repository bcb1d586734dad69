package main

import (
	"fmt"
	"io"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hersh/arena/internal/config"
	"github.com/hersh/arena/internal/netclient"
	"github.com/hersh/arena/internal/protocol"
	"github.com/hersh/arena/internal/tui"
)

func main() {
	cfg, err := config.LoadClient(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// bubbletea owns the terminal, so logs go to a file or nowhere.
	if cfg.LogFile != "" {
		f, err := tea.LogToFile(cfg.LogFile, "arena")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// Connect to server
	client, err := netclient.New(cfg.ServerURL, codec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to server at %s: %v\n", cfg.ServerURL, err)
		fmt.Fprintf(os.Stderr, "Make sure the server is running (go run ./cmd/server)\n")
		os.Exit(1)
	}
	defer client.Close()

	model := tui.NewModel(cfg.Name, cfg.Room, client)

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
	)

	// Wire the program into the client so readPump can send tea.Msgs
	client.SetProgram(p)
	client.Start()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
