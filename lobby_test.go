package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLobbySubscribeUnsubscribe(t *testing.T) {
	lobby := newLobbyBroadcaster()
	conn := newTestConnection()

	lobby.Subscribe(conn)
	assert.Equal(t, 1, lobby.SubscriberCount())
	assert.True(t, conn.isSubscribedToLobby())

	lobby.Unsubscribe(conn)
	assert.Equal(t, 0, lobby.SubscriberCount())
	assert.False(t, conn.isSubscribedToLobby())
}

func TestLobbyPublishReachesAllSubscribers(t *testing.T) {
	lobby := newLobbyBroadcaster()
	a := newTestConnection()
	b := newTestConnection()
	lobby.Subscribe(a)
	lobby.Subscribe(b)

	lobby.Publish(LobbyUpdateMessage{Type: MsgLobbyUpdate, RaceID: 42, Action: "created"})

	for _, conn := range []*Connection{a, b} {
		select {
		case data := <-conn.send:
			var msg LobbyUpdateMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			assert.Equal(t, 42, msg.RaceID)
			assert.Equal(t, "created", msg.Action)
		case <-time.After(time.Second):
			t.Fatal("expected a lobby:update for subscriber")
		}
	}
}

func TestLobbyRemoveDropsSubscriberWithoutTouchingFlag(t *testing.T) {
	lobby := newLobbyBroadcaster()
	conn := newTestConnection()
	lobby.Subscribe(conn)

	lobby.Remove(conn)

	assert.Equal(t, 0, lobby.SubscriberCount())
	assert.True(t, conn.isSubscribedToLobby(), "Remove leaves the subscribedToLobby flag as it was")
	lobby.Publish(LobbyUpdateMessage{Type: MsgLobbyUpdate, RaceID: 1, Action: "updated"})
	select {
	case <-conn.send:
		t.Fatal("removed connection should not receive further publishes")
	case <-time.After(100 * time.Millisecond):
	}
}
