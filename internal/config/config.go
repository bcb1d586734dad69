// Package config loads server and client settings. Values come from
// defaults, then an optional .env file, then the environment, then flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/hersh/arena/internal/protocol"
	"github.com/joho/godotenv"
)

const (
	defaultPort      = "8080"
	defaultServerURL = "ws://localhost:8080/ws"
	defaultTick      = 100 * time.Millisecond
	defaultSnapshot  = 100 * time.Millisecond
	defaultRoom      = "battle-arena"
	defaultMembers   = 8
	defaultObstacles = 40
)

type Server struct {
	Port             string
	TickInterval     time.Duration
	SnapshotInterval time.Duration
	DefaultRoom      string
	MaxMembers       int
	Obstacles        int
}

// Addr is the listen address for Port.
func (s Server) Addr() string {
	return ":" + s.Port
}

type Client struct {
	ServerURL string
	Name      string
	Room      string
	Codec     string
	LogFile   string
}

// LoadEnv reads .env style files into the environment without overriding
// variables that are already set. Missing files are not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
		log.Printf("[config] loaded %s", f)
	}
	return nil
}

// LoadServer builds the server configuration from the environment and args.
func LoadServer(args []string) (Server, error) {
	if err := LoadEnv(); err != nil {
		return Server{}, err
	}
	cfg := Server{
		Port:        envString("PORT", defaultPort),
		DefaultRoom: envString("ARENA_DEFAULT_ROOM", defaultRoom),
	}
	var err error
	if cfg.TickInterval, err = envMillis("ARENA_TICK_MS", defaultTick); err != nil {
		return Server{}, err
	}
	if cfg.SnapshotInterval, err = envMillis("ARENA_SNAPSHOT_MS", defaultSnapshot); err != nil {
		return Server{}, err
	}
	if cfg.MaxMembers, err = envInt("ARENA_MAX_MEMBERS", defaultMembers); err != nil {
		return Server{}, err
	}
	if cfg.Obstacles, err = envInt("ARENA_OBSTACLES", defaultObstacles); err != nil {
		return Server{}, err
	}

	fset := flag.NewFlagSet("server", flag.ContinueOnError)
	fset.StringVar(&cfg.Port, "port", cfg.Port, "Port to listen on")
	fset.DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "Room tick interval")
	fset.DurationVar(&cfg.SnapshotInterval, "snapshot", cfg.SnapshotInterval, "Room snapshot interval")
	fset.StringVar(&cfg.DefaultRoom, "room", cfg.DefaultRoom, "Room joined when a client asks for none")
	fset.IntVar(&cfg.MaxMembers, "max-members", cfg.MaxMembers, "Players allowed per room")
	fset.IntVar(&cfg.Obstacles, "obstacles", cfg.Obstacles, "Obstacles placed in a new room")
	if err := fset.Parse(args); err != nil {
		return Server{}, err
	}

	if cfg.TickInterval <= 0 || cfg.SnapshotInterval <= 0 {
		return Server{}, fmt.Errorf("tick and snapshot intervals must be positive")
	}
	if cfg.MaxMembers <= 0 {
		return Server{}, fmt.Errorf("max members must be positive, got %d", cfg.MaxMembers)
	}
	return cfg, nil
}

// LoadClient builds the client configuration from the environment and args.
func LoadClient(args []string) (Client, error) {
	if err := LoadEnv(); err != nil {
		return Client{}, err
	}
	cfg := Client{
		ServerURL: envString("ARENA_SERVER", defaultServerURL),
		Name:      os.Getenv("ARENA_NAME"),
		Room:      os.Getenv("ARENA_ROOM"),
		Codec:     envString("ARENA_CODEC", "json"),
	}

	fset := flag.NewFlagSet("client", flag.ContinueOnError)
	fset.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "WebSocket server address")
	fset.StringVar(&cfg.Name, "name", cfg.Name, "Player name (defaults to OS username)")
	fset.StringVar(&cfg.Room, "room", cfg.Room, "Room to join (server default when empty)")
	fset.StringVar(&cfg.Codec, "codec", cfg.Codec, "Wire codec: json or msgpack")
	fset.StringVar(&cfg.LogFile, "log", cfg.LogFile, "Write logs to this file")
	if err := fset.Parse(args); err != nil {
		return Client{}, err
	}

	if _, err := protocol.CodecByName(cfg.Codec); err != nil {
		return Client{}, err
	}
	if cfg.Name == "" {
		cfg.Name = defaultName()
	}
	return cfg, nil
}

func defaultName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "Player"
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envMillis(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return time.Duration(n) * time.Millisecond, nil
}
