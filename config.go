package main

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Tunables for the coordination core: heartbeat interval, countdown length,
// minimum race size, and matchmaking grouping parameters.
const (
	// HeartbeatInterval is how often the shared liveness sweep runs.
	HeartbeatInterval = 30 // seconds

	// CountdownSeconds is the number of whole seconds counted down before
	// a race transitions from countdown to in_progress (ticks at 3,2,1,0).
	CountdownSeconds = 3

	// CountdownGraceSeconds pads the announced start time by one second
	// past the last tick, so clients never see a start time already past.
	CountdownGraceSeconds = 1

	// MinRacersToStart is the minimum participant count race:start requires.
	MinRacersToStart = 2

	// MatchmakingSkillWindow bounds how far (in WPM, either direction) each
	// grouped entry may lie from the group's anchor entry.
	MatchmakingSkillWindow = 15.0

	// MatchmakingMinGroupSize is the smallest group the queue will match.
	MatchmakingMinGroupSize = 2

	// WritePumpBufferSize bounds the per-connection outbound queue. A full
	// buffer means a slow client; sends are dropped rather than blocking
	// the room.
	WritePumpBufferSize = 64

	// DefaultListenAddr is the address DefaultServerConfig starts from.
	// LoadConfig always replaces it with HOST:PORT (0.0.0.0:8080 when
	// neither is set).
	DefaultListenAddr = ":8080"
)

// ServerConfig holds the process's runtime configuration.
type ServerConfig struct {
	ListenAddr string
	EnableCORS bool
}

// DefaultServerConfig returns the baseline configuration before any
// environment overrides are applied.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr: DefaultListenAddr,
		EnableCORS: true,
	}
}

// LoadConfig reads a .env file if present, then applies HOST/PORT/
// ENABLE_CORS environment overrides on top of the defaults.
func LoadConfig() *ServerConfig {
	if err := godotenv.Load(); err != nil {
		Log().Debug("no .env file found, relying on process environment")
	}

	cfg := DefaultServerConfig()

	host := "0.0.0.0"
	port := "8080"

	if h := os.Getenv("HOST"); h != "" {
		host = h
	}
	if p := os.Getenv("PORT"); p != "" {
		if _, err := strconv.Atoi(p); err == nil {
			port = p
		}
	}
	cfg.ListenAddr = host + ":" + port

	if cors := os.Getenv("ENABLE_CORS"); cors == "false" {
		cfg.EnableCORS = false
	}

	return cfg
}
