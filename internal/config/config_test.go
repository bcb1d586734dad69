package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv unsets every variable the loaders read for the test's duration.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "ARENA_TICK_MS", "ARENA_SNAPSHOT_MS", "ARENA_DEFAULT_ROOM",
		"ARENA_MAX_MEMBERS", "ARENA_OBSTACLES", "ARENA_SERVER", "ARENA_NAME",
		"ARENA_ROOM", "ARENA_CODEC",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadServerDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadServer(nil)
	if err != nil {
		t.Fatal(err)
	}
	want := Server{
		Port:             "8080",
		TickInterval:     100 * time.Millisecond,
		SnapshotInterval: 100 * time.Millisecond,
		DefaultRoom:      "battle-arena",
		MaxMembers:       8,
		Obstacles:        40,
	}
	if cfg != want {
		t.Fatalf("cfg = %+v, want %+v", cfg, want)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("addr = %q", cfg.Addr())
	}
}

func TestLoadServerPrecedence(t *testing.T) {
	clearEnv(t)
	env := "PORT=7000\nARENA_TICK_MS=50\nARENA_DEFAULT_ROOM=from-file\n"
	if err := os.WriteFile(filepath.Join(".", ".env"), []byte(env), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARENA_DEFAULT_ROOM", "from-env")

	cfg, err := LoadServer([]string{"-port", "9000"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9000" {
		t.Errorf("port = %q, flag should win", cfg.Port)
	}
	if cfg.TickInterval != 50*time.Millisecond {
		t.Errorf("tick = %v, .env should apply", cfg.TickInterval)
	}
	if cfg.DefaultRoom != "from-env" {
		t.Errorf("room = %q, environment should beat .env", cfg.DefaultRoom)
	}
}

func TestLoadServerRejectsBadValues(t *testing.T) {
	for name, tc := range map[string]struct {
		env  map[string]string
		args []string
	}{
		"bad tick env":  {env: map[string]string{"ARENA_TICK_MS": "fast"}},
		"zero members":  {args: []string{"-max-members", "0"}},
		"negative tick": {args: []string{"-tick", "-1s"}},
		"unknown flag":  {args: []string{"-nope"}},
	} {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadServer(tc.args); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadClient(t *testing.T) {
	clearEnv(t)
	t.Setenv("ARENA_CODEC", "msgpack")

	cfg, err := LoadClient([]string{"-name", "ada", "-room", "pit"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "ada" || cfg.Room != "pit" || cfg.Codec != "msgpack" || cfg.ServerURL != "ws://localhost:8080/ws" {
		t.Fatalf("cfg = %+v", cfg)
	}

	if _, err := LoadClient([]string{"-codec", "xml"}); err == nil {
		t.Fatal("unknown codec accepted")
	}
}

func TestLoadClientDefaultsName(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadClient(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name == "" {
		t.Fatal("empty default name")
	}
}
