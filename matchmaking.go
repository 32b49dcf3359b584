package main

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// QueueEntry is one waiting player.
type QueueEntry struct {
	UserID     int
	UserName   string
	AverageWPM float64
	JoinedAt   time.Time
	Conn       *Connection
}

// MatchmakingQueue holds at most one entry per userId and groups entries
// by a skill window once enough of them accumulate.
type MatchmakingQueue struct {
	mu      sync.Mutex
	entries map[int]*QueueEntry

	persistence  Persistence
	matchFactory MatchFactory
	lobby        *LobbyBroadcaster
}

func newMatchmakingQueue(persistence Persistence, matchFactory MatchFactory, lobby *LobbyBroadcaster) *MatchmakingQueue {
	return &MatchmakingQueue{
		entries:      make(map[int]*QueueEntry),
		persistence:  persistence,
		matchFactory: matchFactory,
		lobby:        lobby,
	}
}

// Enqueue implements matchmaking:join. averageWpm is not part of the
// client message, so it is resolved through the persistence port — the
// reservation-then-fill sequence below avoids a duplicate entry racing in
// while that lookup is in flight.
func (mq *MatchmakingQueue) Enqueue(ctx context.Context, conn *Connection, userID int, userName string) {
	mq.mu.Lock()
	if _, exists := mq.entries[userID]; exists {
		mq.mu.Unlock()
		conn.sendError("Already in matchmaking queue")
		return
	}
	entry := &QueueEntry{UserID: userID, UserName: userName, JoinedAt: time.Now(), Conn: conn}
	mq.entries[userID] = entry
	mq.mu.Unlock()

	conn.setInMatchmaking(true)

	avgWPM, err := mq.persistence.GetPlayerAverageWPM(ctx, userID)
	if err != nil {
		Log().WithError(err).WithField("userId", userID).Error("failed to resolve player average wpm")
		avgWPM = 0
	}

	mq.mu.Lock()
	if _, stillQueued := mq.entries[userID]; !stillQueued {
		mq.mu.Unlock()
		return // left or disconnected while the lookup was in flight
	}
	entry.AverageWPM = avgWPM
	queueSize := len(mq.entries)
	mq.mu.Unlock()

	conn.sendTyped(MatchmakingStatusMessage{
		Type:       MsgMatchmakingStatus,
		Status:     "queued",
		AverageWPM: float64Ptr(avgWPM),
		QueueSize:  intPtr(queueSize),
	})

	mq.attemptMatch(ctx)
}

// Leave implements matchmaking:leave: remove the entry and reply cancelled.
func (mq *MatchmakingQueue) Leave(userID int) {
	mq.mu.Lock()
	entry, exists := mq.entries[userID]
	if exists {
		delete(mq.entries, userID)
	}
	mq.mu.Unlock()

	if !exists {
		return
	}
	entry.Conn.setInMatchmaking(false)
	entry.Conn.sendTyped(MatchmakingStatusMessage{Type: MsgMatchmakingStatus, Status: "cancelled"})
}

// DisconnectCleanup removes a disconnected connection's entry, if any,
// without a reply.
func (mq *MatchmakingQueue) DisconnectCleanup(conn *Connection) {
	mq.mu.Lock()
	var userID int
	found := false
	for uid, e := range mq.entries {
		if e.Conn == conn {
			userID, found = uid, true
			break
		}
	}
	if found {
		delete(mq.entries, userID)
	}
	mq.mu.Unlock()

	if found {
		conn.setInMatchmaking(false)
	}
}

// attemptMatch looks for a skill-window group and, if one is found, forms
// a match via the match factory and persistence ports. The matched group
// is removed from entries before any port call so that whichever caller
// finds a group first wins it (invariant 11); on a collaborator failure
// or a declined category the group is put back.
func (mq *MatchmakingQueue) attemptMatch(ctx context.Context) {
	mq.mu.Lock()
	group := mq.findGroupLocked()
	if group == nil {
		mq.mu.Unlock()
		return
	}
	for _, e := range group {
		delete(mq.entries, e.UserID)
	}
	mq.mu.Unlock()

	for _, e := range group {
		e.Conn.setInMatchmaking(false)
	}

	var sum float64
	for _, e := range group {
		sum += e.AverageWPM
	}
	avg := sum / float64(len(group))

	categoryID, err := mq.matchFactory.PickMatchCategory(ctx, avg)
	if err != nil {
		Log().WithError(err).Error("match factory failed, requeuing group")
		mq.requeue(group)
		return
	}
	if categoryID == nil {
		// No suitable category yet; players remain queued.
		mq.requeue(group)
		return
	}

	players := make([]MatchedPlayerInfo, len(group))
	for i, e := range group {
		players[i] = MatchedPlayerInfo{UserID: e.UserID, UserName: e.UserName, AverageWPM: e.AverageWPM}
	}

	raceID, err := mq.persistence.CreateMatchedRace(ctx, players, *categoryID)
	if err != nil {
		Log().WithError(err).Error("persistence failed to create matched race, requeuing group")
		mq.requeue(group)
		return
	}

	matched := make([]MatchedPlayer, len(group))
	for i, e := range group {
		matched[i] = MatchedPlayer{UserID: e.UserID, UserName: e.UserName}
	}
	for _, e := range group {
		e.Conn.sendTyped(MatchmakingStatusMessage{
			Type: MsgMatchmakingStatus, Status: "matched",
			RaceID: intPtr(raceID), Players: matched,
		})
	}

	mq.lobby.Publish(LobbyUpdateMessage{
		Type: MsgLobbyUpdate, RaceID: raceID, Action: "created",
		ParticipantCount: intPtr(len(group)),
	})
}

func (mq *MatchmakingQueue) requeue(group []*QueueEntry) {
	mq.mu.Lock()
	for _, e := range group {
		mq.entries[e.UserID] = e
	}
	mq.mu.Unlock()
	for _, e := range group {
		e.Conn.setInMatchmaking(true)
	}
}

// findGroupLocked must be called with mq.mu held. It scans entries oldest
// first and returns the first skill-window group (anchor ± WPM window)
// that reaches the minimum group size.
func (mq *MatchmakingQueue) findGroupLocked() []*QueueEntry {
	if len(mq.entries) < MatchmakingMinGroupSize {
		return nil
	}

	entries := make([]*QueueEntry, 0, len(mq.entries))
	for _, e := range mq.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})

	for _, anchor := range entries {
		group := make([]*QueueEntry, 0, len(entries))
		group = append(group, anchor)
		for _, other := range entries {
			if other.UserID == anchor.UserID {
				continue
			}
			if math.Abs(other.AverageWPM-anchor.AverageWPM) <= MatchmakingSkillWindow {
				group = append(group, other)
			}
		}
		if len(group) >= MatchmakingMinGroupSize {
			return group
		}
	}
	return nil
}

// QueueSize reports the number of waiting entries (health endpoint).
func (mq *MatchmakingQueue) QueueSize() int {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	return len(mq.entries)
}
