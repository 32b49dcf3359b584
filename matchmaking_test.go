package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePersistence struct {
	wpm        map[int]float64
	createErr  error
	lastGroup  []MatchedPlayerInfo
	raceIDSeq  int
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{wpm: make(map[int]float64)}
}

func (f *fakePersistence) GetPlayerAverageWPM(ctx context.Context, userID int) (float64, error) {
	return f.wpm[userID], nil
}

func (f *fakePersistence) CreateMatchedRace(ctx context.Context, players []MatchedPlayerInfo, categoryID int) (int, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.lastGroup = players
	f.raceIDSeq++
	return f.raceIDSeq, nil
}

type fakeMatchFactory struct {
	categoryID *int
	err        error
}

func (f fakeMatchFactory) PickMatchCategory(ctx context.Context, groupAvgWPM float64) (*int, error) {
	return f.categoryID, f.err
}

func readMatchmakingStatus(t *testing.T, conn *Connection) MatchmakingStatusMessage {
	t.Helper()
	select {
	case data := <-conn.send:
		var msg MatchmakingStatusMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("expected a matchmaking:status message")
		return MatchmakingStatusMessage{}
	}
}

func TestMatchmakingEnqueueRepliesQueued(t *testing.T) {
	persistence := newFakePersistence()
	persistence.wpm[1] = 55
	category := 1
	queue := newMatchmakingQueue(persistence, fakeMatchFactory{categoryID: &category}, newLobbyBroadcaster())

	conn := newTestConnection()
	queue.Enqueue(context.Background(), conn, 1, "Alice")

	status := readMatchmakingStatus(t, conn)
	assert.Equal(t, "queued", status.Status)
	require.NotNil(t, status.AverageWPM)
	assert.Equal(t, 55.0, *status.AverageWPM)
	assert.True(t, conn.isInMatchmaking())
}

func TestMatchmakingEnqueueRejectsDuplicate(t *testing.T) {
	persistence := newFakePersistence()
	category := 1
	queue := newMatchmakingQueue(persistence, fakeMatchFactory{categoryID: &category}, newLobbyBroadcaster())

	conn := newTestConnection()
	queue.Enqueue(context.Background(), conn, 1, "Alice")
	<-conn.send // drain the first queued reply

	second := newTestConnection()
	// Same userID reusing a different connection, simulating a duplicate
	// join while the first is still queued.
	queue.mu.Lock()
	_, exists := queue.entries[1]
	queue.mu.Unlock()
	require.True(t, exists)

	queue.Enqueue(context.Background(), second, 1, "Alice")
	select {
	case data := <-second.send:
		var errMsg ErrorMessage
		require.NoError(t, json.Unmarshal(data, &errMsg))
		assert.Equal(t, MsgError, errMsg.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an error reply for duplicate matchmaking entry")
	}
}

func TestMatchmakingFormsGroupWithinSkillWindow(t *testing.T) {
	persistence := newFakePersistence()
	persistence.wpm[1] = 50
	persistence.wpm[2] = 58
	category := 3
	queue := newMatchmakingQueue(persistence, fakeMatchFactory{categoryID: &category}, newLobbyBroadcaster())

	a := newTestConnection()
	b := newTestConnection()

	queue.Enqueue(context.Background(), a, 1, "Alice")
	<-a.send // queued reply
	queue.Enqueue(context.Background(), b, 2, "Bob")
	<-b.send // b's own queued reply, sent before the match is attempted

	matchedA := readMatchmakingStatus(t, a)
	matchedB := readMatchmakingStatus(t, b)

	assert.Equal(t, "matched", matchedA.Status)
	assert.Equal(t, "matched", matchedB.Status)
	require.NotNil(t, matchedB.RaceID)
	assert.Equal(t, 0, queue.QueueSize())
	assert.False(t, a.isInMatchmaking())
	assert.False(t, b.isInMatchmaking())
}

func TestMatchmakingSkipsGroupOutsideSkillWindow(t *testing.T) {
	persistence := newFakePersistence()
	persistence.wpm[1] = 30
	persistence.wpm[2] = 90
	category := 1
	queue := newMatchmakingQueue(persistence, fakeMatchFactory{categoryID: &category}, newLobbyBroadcaster())

	a := newTestConnection()
	b := newTestConnection()
	queue.Enqueue(context.Background(), a, 1, "Alice")
	<-a.send
	queue.Enqueue(context.Background(), b, 2, "Bob")
	<-b.send

	assert.Equal(t, 2, queue.QueueSize(), "a 60wpm spread exceeds the matchmaking skill window")
}

func TestMatchmakingRequeuesOnPersistenceFailure(t *testing.T) {
	persistence := newFakePersistence()
	persistence.wpm[1] = 50
	persistence.wpm[2] = 52
	persistence.createErr = errors.New("db unavailable")
	category := 1
	queue := newMatchmakingQueue(persistence, fakeMatchFactory{categoryID: &category}, newLobbyBroadcaster())

	a := newTestConnection()
	b := newTestConnection()
	queue.Enqueue(context.Background(), a, 1, "Alice")
	<-a.send
	queue.Enqueue(context.Background(), b, 2, "Bob")
	<-b.send

	assert.Equal(t, 2, queue.QueueSize(), "a failed persistence call must requeue the group, not drop it")
	assert.True(t, a.isInMatchmaking())
	assert.True(t, b.isInMatchmaking())
}

func TestMatchmakingLeaveRepliesCancelled(t *testing.T) {
	persistence := newFakePersistence()
	category := 1
	queue := newMatchmakingQueue(persistence, fakeMatchFactory{categoryID: &category}, newLobbyBroadcaster())

	conn := newTestConnection()
	queue.Enqueue(context.Background(), conn, 1, "Alice")
	<-conn.send

	queue.Leave(1)
	status := readMatchmakingStatus(t, conn)
	assert.Equal(t, "cancelled", status.Status)
	assert.Equal(t, 0, queue.QueueSize())
}
