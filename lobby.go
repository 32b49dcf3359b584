package main

import "sync"

// LobbyBroadcaster fans coarse race lifecycle events out to every
// connection that has subscribed. Subscribe/unsubscribe are idempotent; a
// publish that can't reach a subscriber (closed connection) is silently
// dropped — Connection.Send already implements that.
type LobbyBroadcaster struct {
	mu          sync.Mutex
	subscribers map[*Connection]bool
}

func newLobbyBroadcaster() *LobbyBroadcaster {
	return &LobbyBroadcaster{subscribers: make(map[*Connection]bool)}
}

func (l *LobbyBroadcaster) Subscribe(conn *Connection) {
	l.mu.Lock()
	l.subscribers[conn] = true
	l.mu.Unlock()
	conn.setSubscribedToLobby(true)
}

func (l *LobbyBroadcaster) Unsubscribe(conn *Connection) {
	l.mu.Lock()
	delete(l.subscribers, conn)
	l.mu.Unlock()
	conn.setSubscribedToLobby(false)
}

// Remove drops a connection from the subscriber set without touching its
// subscribedToLobby flag, since on disconnect the Connection itself is
// being discarded.
func (l *LobbyBroadcaster) Remove(conn *Connection) {
	l.mu.Lock()
	delete(l.subscribers, conn)
	l.mu.Unlock()
}

// Publish sends one lobby:update to every current subscriber. Subscribers
// are collected under the lock and sent to outside it, so a slow subscriber
// can never hold up the room that triggered the publish.
func (l *LobbyBroadcaster) Publish(msg LobbyUpdateMessage) {
	data, err := encodeMessage(msg)
	if err != nil {
		Log().WithError(err).Error("failed to encode lobby:update")
		return
	}

	l.mu.Lock()
	conns := make([]*Connection, 0, len(l.subscribers))
	for c := range l.subscribers {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		c.Send(data)
	}
}

// SubscriberCount reports the current subscriber set size (health endpoint).
func (l *LobbyBroadcaster) SubscriberCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subscribers)
}
