package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Role identifies what a connection currently is inside its bound room.
type Role string

const (
	RoleNone      Role = "none"
	RoleRacer     Role = "racer"
	RoleSpectator Role = "spectator"
)

var knownClientMessageTypes = map[string]bool{
	MsgRaceJoin: true, MsgRaceLeave: true, MsgRaceStart: true,
	MsgRaceProgress: true, MsgRaceFinish: true, MsgRaceAdvanceChallenge: true,
	MsgRaceCountdown: true, MsgRaceSpectate: true, MsgRaceUnspectate: true,
	MsgLobbySubscribe: true, MsgLobbyUnsubscribe: true,
	MsgMatchmakingJoin: true, MsgMatchmakingLeave: true,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Connection is per-socket state. All component references to a Connection
// are revocable on disconnect: once done is closed, nothing further is sent
// and every set holding the pointer is expected to have forgotten it
// (registry/room cleanup happens in handleDisconnect).
type Connection struct {
	ID string

	ws   *websocket.Conn
	send chan []byte
	ping chan struct{}
	done chan struct{}

	server *Server

	mu                sync.Mutex
	isAlive           bool
	raceID            int
	userID            int
	userName          string
	role              Role
	subscribedToLobby bool
	inMatchmaking     bool

	closeOnce sync.Once
}

func newConnection(ws *websocket.Conn, server *Server) *Connection {
	return &Connection{
		ID:      uuid.NewString(),
		ws:      ws,
		send:    make(chan []byte, WritePumpBufferSize),
		ping:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		server:  server,
		isAlive: true,
		role:    RoleNone,
	}
}

// Send queues an outbound frame. Non-blocking: a full buffer means a slow
// client, and the message is dropped rather than stalling the caller (the
// room's progress must never depend on one peer's write speed).
func (c *Connection) Send(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		Log().WithFields(connFields(c.ID, c.RaceID(), c.UserID())).Warn("send buffer full, dropping frame")
	}
}

func (c *Connection) sendTyped(v interface{}) {
	data, err := encodeMessage(v)
	if err != nil {
		Log().WithError(err).Error("failed to encode outbound message")
		return
	}
	c.Send(data)
}

func (c *Connection) sendError(message string) {
	c.sendTyped(ErrorMessage{Type: MsgError, Message: message})
}

// requestPing asks the write pump to emit a ping control frame. Called by
// the server's shared heartbeat sweep, never by the connection itself.
func (c *Connection) requestPing() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// testAndClearAlive returns the current liveness flag and clears it: a pong
// (or any other proof of life) must arrive before the next sweep or the
// connection is terminated.
func (c *Connection) testAndClearAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.isAlive
	c.isAlive = false
	return was
}

func (c *Connection) markAlive() {
	c.mu.Lock()
	c.isAlive = true
	c.mu.Unlock()
}

func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// bindRace attaches the connection to a room with the given role. userID/
// userName are only meaningful for RoleRacer.
func (c *Connection) bindRace(raceID, userID int, userName string, role Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raceID = raceID
	c.userID = userID
	c.userName = userName
	c.role = role
}

func (c *Connection) setRole(role Role) {
	c.mu.Lock()
	c.role = role
	c.mu.Unlock()
}

func (c *Connection) clearRace() {
	c.mu.Lock()
	c.raceID = 0
	c.userID = 0
	c.userName = ""
	c.role = RoleNone
	c.mu.Unlock()
}

func (c *Connection) RaceID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raceID
}

func (c *Connection) UserID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Connection) UserName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userName
}

func (c *Connection) RoleIn() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Connection) setSubscribedToLobby(v bool) {
	c.mu.Lock()
	c.subscribedToLobby = v
	c.mu.Unlock()
}

func (c *Connection) isSubscribedToLobby() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribedToLobby
}

func (c *Connection) setInMatchmaking(v bool) {
	c.mu.Lock()
	c.inMatchmaking = v
	c.mu.Unlock()
}

func (c *Connection) isInMatchmaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inMatchmaking
}

// readPump decodes frames off the wire and hands each to the dispatcher.
// Malformed JSON and unknown message types each produce a single error
// reply and leave the connection open.
func (c *Connection) readPump() {
	defer func() {
		c.server.handleDisconnect(c)
		c.Close()
	}()

	readTimeout := time.Duration(HeartbeatInterval*2) * time.Second
	c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.markAlive()
		c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				Log().WithField("connId", c.ID).WithError(err).Info("websocket read error")
			}
			return
		}

		c.markAlive()

		msg, err := decodeClientMessage(data)
		if err != nil {
			c.sendError("Invalid message format")
			continue
		}
		if !knownClientMessageTypes[msg.Type] {
			c.sendError("Unknown message type")
			continue
		}

		c.server.dispatch(c, msg)
	}
}

// writePump is the sole writer of c.ws; it serializes outbound snapshots,
// errors, and heartbeat pings so two components never race on the socket.
func (c *Connection) writePump() {
	defer c.ws.Close()

	for {
		select {
		case <-c.done:
			return

		case message, ok := <-c.send:
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.ping:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
