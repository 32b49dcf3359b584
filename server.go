package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Server owns every process-wide component: the room registry, the lobby
// broadcaster, the matchmaking queue, and the set of live connections.
type Server struct {
	config      *ServerConfig
	registry    *Registry
	lobby       *LobbyBroadcaster
	matchmaking *MatchmakingQueue

	mu          sync.Mutex
	connections map[*Connection]bool
}

// NewServer wires the coordinator core together. persistence/matchFactory
// are the external ports the host application supplies.
func NewServer(cfg *ServerConfig, persistence Persistence, matchFactory MatchFactory) *Server {
	lobby := newLobbyBroadcaster()
	return &Server{
		config:      cfg,
		registry:    newRegistry(lobby),
		lobby:       lobby,
		matchmaking: newMatchmakingQueue(persistence, matchFactory, lobby),
		connections: make(map[*Connection]bool),
	}
}

// routes builds the HTTP handler tree. The caller owns the *http.Server
// (and therefore its graceful shutdown), so this only wires handlers.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log().WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := newConnection(ws, s)
	s.addConnection(conn)

	go conn.writePump()
	go conn.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	connCount := len(s.connections)
	s.mu.Unlock()

	body := map[string]interface{}{
		"status":             "ok",
		"connections":        connCount,
		"rooms":              s.registry.RoomCount(),
		"lobbySubscribers":   s.lobby.SubscriberCount(),
		"matchmakingQueue":   s.matchmaking.QueueSize(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) addConnection(conn *Connection) {
	s.mu.Lock()
	s.connections[conn] = true
	s.mu.Unlock()
}

func (s *Server) removeConnection(conn *Connection) {
	s.mu.Lock()
	delete(s.connections, conn)
	s.mu.Unlock()
}

// heartbeatLoop is the shared sweep over every connection, run once per
// HeartbeatInterval.
func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(time.Duration(HeartbeatInterval) * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.sweepHeartbeat()
	}
}

func (s *Server) sweepHeartbeat() {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		if !conn.testAndClearAlive() {
			// Missed the previous sweep's ping. Close() makes the read
			// loop's ReadMessage error out, which runs handleDisconnect
			// through its own defer — one codepath for every disconnect
			// reason.
			conn.Close()
			continue
		}
		conn.requestPing()
	}
}

// handleDisconnect tears down every trace of a connection: its own entry,
// its room binding (if any), its lobby subscription, and its matchmaking
// entry. Called exactly once, from readPump's deferred cleanup.
func (s *Server) handleDisconnect(conn *Connection) {
	s.removeConnection(conn)

	if raceID := conn.RaceID(); raceID != 0 {
		if room, ok := s.registry.Get(raceID); ok {
			room.DisconnectParticipant(conn)
		}
	}

	s.lobby.Remove(conn)
	s.matchmaking.DisconnectCleanup(conn)
}
