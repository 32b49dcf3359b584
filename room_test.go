package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConnection builds a Connection with no live websocket. Send only
// ever touches c.send/c.done, so it is fully exercisable this way.
func newTestConnection() *Connection {
	return &Connection{
		ID:   "test-conn",
		send: make(chan []byte, WritePumpBufferSize),
		ping: make(chan struct{}, 1),
		done: make(chan struct{}),
		role: RoleNone,
	}
}

func newTestRegistry() (*Registry, *LobbyBroadcaster) {
	lobby := newLobbyBroadcaster()
	return newRegistry(lobby), lobby
}

func TestRoomJoinIsIdempotent(t *testing.T) {
	registry, lobby := newTestRegistry()
	room := registry.GetOrCreate(1)
	_ = lobby

	conn := newTestConnection()
	room.Join(conn, 10, "Alice")
	room.Join(conn, 10, "Alice")

	assert.Equal(t, 1, room.ParticipantCount())
	assert.Equal(t, StatusWaiting, room.Status())
	assert.Equal(t, 10, conn.UserID())
	assert.Equal(t, RoleRacer, conn.RoleIn())
}

func TestRoomLeaveDestroysEmptyRoom(t *testing.T) {
	registry, _ := newTestRegistry()
	room := registry.GetOrCreate(7)

	conn := newTestConnection()
	room.Join(conn, 1, "Alice")
	room.Leave(conn, 1)

	_, ok := registry.Get(7)
	assert.False(t, ok, "empty room should be removed from the registry")
	assert.Equal(t, 0, conn.RaceID(), "leaving clears the connection's race binding")
}

func TestRoomStartRequiresMinimumParticipants(t *testing.T) {
	registry, _ := newTestRegistry()
	room := registry.GetOrCreate(2)

	conn := newTestConnection()
	room.Join(conn, 1, "Solo")

	// Drain the join broadcast before starting.
	<-conn.send

	room.Start(conn)

	select {
	case data := <-conn.send:
		var errMsg ErrorMessage
		require.NoError(t, json.Unmarshal(data, &errMsg))
		assert.Equal(t, MsgError, errMsg.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an error reply for too few racers")
	}

	assert.Equal(t, StatusWaiting, room.Status())
}

func TestRoomStartTransitionsThroughCountdown(t *testing.T) {
	registry, _ := newTestRegistry()
	room := registry.GetOrCreate(3)

	a := newTestConnection()
	b := newTestConnection()
	room.Join(a, 1, "Alice")
	room.Join(b, 2, "Bob")

	room.Start(a)
	assert.Equal(t, StatusCountdown, room.Status())

	deadlineTimeout := time.After(time.Duration(CountdownSeconds+CountdownGraceSeconds+2) * time.Second)
	for room.Status() != StatusInProgress {
		select {
		case <-deadlineTimeout:
			t.Fatal("room never reached in_progress")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestRoomFinishAssignsSequentialRanks(t *testing.T) {
	registry, _ := newTestRegistry()
	room := registry.GetOrCreate(4)

	a := newTestConnection()
	b := newTestConnection()
	room.Join(a, 1, "Alice")
	room.Join(b, 2, "Bob")

	room.Finish(1, 80, 0.97)
	room.Finish(2, 60, 0.91)

	room.mu.Lock()
	rankA := *room.participants[1].Rank
	rankB := *room.participants[2].Rank
	status := room.status
	room.mu.Unlock()

	assert.Equal(t, 1, rankA)
	assert.Equal(t, 2, rankB)
	assert.Equal(t, StatusFinished, status)
}

func TestRoomFinishIsIdempotentPerParticipant(t *testing.T) {
	registry, _ := newTestRegistry()
	room := registry.GetOrCreate(5)

	a := newTestConnection()
	room.Join(a, 1, "Alice")
	room.Finish(1, 80, 0.97)
	room.Finish(1, 999, 1.0) // should be ignored: already finished

	room.mu.Lock()
	wpm := *room.participants[1].WPM
	room.mu.Unlock()

	assert.Equal(t, float64(80), wpm)
}

func TestRoomDisconnectDuringWaitingRemovesParticipant(t *testing.T) {
	registry, _ := newTestRegistry()
	room := registry.GetOrCreate(6)

	a := newTestConnection()
	b := newTestConnection()
	room.Join(a, 1, "Alice")
	room.Join(b, 2, "Bob")

	room.DisconnectParticipant(a)

	assert.Equal(t, 1, room.ParticipantCount())
}

func TestRoomDisconnectDuringRaceKeepsParticipant(t *testing.T) {
	registry, _ := newTestRegistry()
	room := registry.GetOrCreate(8)

	a := newTestConnection()
	b := newTestConnection()
	room.Join(a, 1, "Alice")
	room.Join(b, 2, "Bob")
	room.Start(a)

	room.DisconnectParticipant(a)

	assert.Equal(t, 2, room.ParticipantCount(), "a disconnect mid-race keeps the participant entry for ranking")
}

func TestRoomSpectateDoesNotAffectParticipantCount(t *testing.T) {
	registry, _ := newTestRegistry()
	room := registry.GetOrCreate(9)

	racer := newTestConnection()
	spectator := newTestConnection()
	room.Join(racer, 1, "Alice")
	room.Spectate(spectator)

	assert.Equal(t, 1, room.ParticipantCount())
	assert.Equal(t, RoleSpectator, spectator.RoleIn())

	room.mu.Lock()
	specCount := len(room.spectatorConnections)
	room.mu.Unlock()
	assert.Equal(t, 1, specCount)
}
