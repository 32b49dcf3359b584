package main

import (
	"sort"
	"sync"
	"time"
)

// RoomStatus is the race room state machine.
type RoomStatus string

const (
	StatusWaiting    RoomStatus = "waiting"
	StatusCountdown  RoomStatus = "countdown"
	StatusInProgress RoomStatus = "in_progress"
	StatusFinished   RoomStatus = "finished"
)

// Participant is one racer's state inside a room.
// finishedAt == nil ⟺ rank == nil ⟺ wpm == nil ⟺ accuracy == nil.
type Participant struct {
	UserID                int
	UserName              string
	CurrentChallengeIndex int
	Progress              float64
	CurrentWPM            float64
	WPM                   *float64
	Accuracy              *float64
	FinishedAt            *time.Time
	Rank                  *int
}

func (p *Participant) toState() ParticipantState {
	ps := ParticipantState{
		UserID:                p.UserID,
		UserName:              p.UserName,
		CurrentChallengeIndex: p.CurrentChallengeIndex,
		Progress:              p.Progress,
		CurrentWPM:            p.CurrentWPM,
	}
	if p.FinishedAt != nil {
		ps.WPM = p.WPM
		ps.Accuracy = p.Accuracy
		t := p.FinishedAt.UTC().Format(time.RFC3339)
		ps.FinishedAt = &t
		ps.Rank = p.Rank
	}
	return ps
}

// Room is one race, keyed by raceId in the Registry. Every mutating method
// takes r.mu for its critical section and performs all network sends after
// releasing it: a snapshot is collected under the lock, then broadcast
// outside it, so a slow connection can never hold up the room.
type Room struct {
	mu sync.Mutex

	ID       int
	status   RoomStatus
	registry *Registry
	lobby    *LobbyBroadcaster

	participants          map[int]*Participant
	racerConnections      map[*Connection]bool
	spectatorConnections  map[*Connection]bool
	countdownDeadline     time.Time
	countdownCancel       chan struct{}
	finishedCount         int
}

func newRoom(id int, registry *Registry, lobby *LobbyBroadcaster) *Room {
	return &Room{
		ID:                   id,
		status:               StatusWaiting,
		registry:             registry,
		lobby:                lobby,
		participants:         make(map[int]*Participant),
		racerConnections:     make(map[*Connection]bool),
		spectatorConnections: make(map[*Connection]bool),
	}
}

// Join implements race:join. Re-joining with the same userId is idempotent:
// the participant set does not grow and a snapshot is still rebroadcast. A
// connection that was spectating this room is moved out of the spectator
// set first, so it never appears in both at once.
func (r *Room) Join(conn *Connection, userID int, userName string) {
	r.mu.Lock()
	if _, exists := r.participants[userID]; !exists {
		r.participants[userID] = &Participant{UserID: userID, UserName: userName}
	}
	delete(r.spectatorConnections, conn)
	r.racerConnections[conn] = true
	count := len(r.participants)
	status := r.status
	r.mu.Unlock()

	conn.bindRace(r.ID, userID, userName, RoleRacer)

	r.broadcastSnapshot()
	r.lobby.Publish(LobbyUpdateMessage{
		Type: MsgLobbyUpdate, RaceID: r.ID, Action: "updated",
		ParticipantCount: intPtr(count), Status: stringPtr(string(status)),
	})
}

// Leave implements race:leave. If the room becomes empty of participants
// it is destroyed; otherwise the snapshot is rebroadcast.
func (r *Room) Leave(conn *Connection, userID int) {
	r.mu.Lock()
	delete(r.participants, userID)
	delete(r.racerConnections, conn)
	empty := len(r.participants) == 0
	var cancel chan struct{}
	if empty {
		cancel = r.countdownCancel
		r.countdownCancel = nil
	}
	count := len(r.participants)
	status := r.status
	r.mu.Unlock()

	conn.clearRace()

	if cancel != nil {
		close(cancel)
	}

	if empty {
		r.registry.remove(r.ID)
		r.lobby.Publish(LobbyUpdateMessage{Type: MsgLobbyUpdate, RaceID: r.ID, Action: "removed"})
		return
	}

	r.broadcastSnapshot()
	r.lobby.Publish(LobbyUpdateMessage{
		Type: MsgLobbyUpdate, RaceID: r.ID, Action: "updated",
		ParticipantCount: intPtr(count), Status: stringPtr(string(status)),
	})
}

// Start implements race:start. Errors are reported only to the requester.
func (r *Room) Start(conn *Connection) {
	r.mu.Lock()
	if r.status != StatusWaiting {
		r.mu.Unlock()
		conn.sendError("Race has already started")
		return
	}
	if len(r.participants) < MinRacersToStart {
		r.mu.Unlock()
		conn.sendError("Need at least 2 players to start")
		return
	}

	deadline := time.Now().Add(time.Duration(CountdownSeconds+CountdownGraceSeconds) * time.Second)
	r.status = StatusCountdown
	r.countdownDeadline = deadline
	cancel := make(chan struct{})
	r.countdownCancel = cancel
	r.mu.Unlock()

	go r.runCountdown(cancel, deadline)
}

// runCountdown ticks 3,2,1,0 one second apart, broadcasting a snapshot at
// each tick with the constant startTime computed at Start, then transitions
// to in_progress. cancel lets an emptied room stop a countdown in flight.
func (r *Room) runCountdown(cancel chan struct{}, deadline time.Time) {
	for count := CountdownSeconds; count >= 0; count-- {
		select {
		case <-cancel:
			return
		default:
		}

		r.broadcastCountdownSnapshot(count, deadline)

		if count > 0 {
			select {
			case <-time.After(time.Second):
			case <-cancel:
				return
			}
		}
	}

	r.mu.Lock()
	select {
	case <-cancel:
		r.mu.Unlock()
		return
	default:
	}
	r.status = StatusInProgress
	r.mu.Unlock()

	r.broadcastSnapshot()
	r.lobby.Publish(LobbyUpdateMessage{
		Type: MsgLobbyUpdate, RaceID: r.ID, Action: "updated",
		Status: stringPtr(string(StatusInProgress)),
	})
}

// Progress implements race:progress. Unknown participants are dropped
// silently.
func (r *Room) Progress(userID int, progress, currentWPM float64) {
	r.mu.Lock()
	p, ok := r.participants[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.Progress = progress
	p.CurrentWPM = currentWPM
	r.mu.Unlock()

	r.broadcastSnapshot()
}

// Finish implements race:finish. Ties are broken by arrival order at the
// server: finishedCount is incremented under r.mu, which is this room's
// single point of serialization, so rank assignment is race-free.
func (r *Room) Finish(userID int, wpm, accuracy float64) {
	r.mu.Lock()
	p, ok := r.participants[userID]
	if !ok || p.FinishedAt != nil {
		r.mu.Unlock()
		return
	}

	now := time.Now().UTC()
	wpmCopy, accCopy := wpm, accuracy
	p.WPM = &wpmCopy
	p.Accuracy = &accCopy
	p.FinishedAt = &now
	p.Progress = 100

	r.finishedCount++
	rank := r.finishedCount
	p.Rank = &rank

	allFinished := true
	for _, other := range r.participants {
		if other.FinishedAt == nil {
			allFinished = false
			break
		}
	}
	if allFinished {
		r.status = StatusFinished
	}
	r.mu.Unlock()

	r.broadcastSnapshot()
	if allFinished {
		r.lobby.Publish(LobbyUpdateMessage{Type: MsgLobbyUpdate, RaceID: r.ID, Action: "removed"})
	}
}

// AdvanceChallenge implements race:advanceChallenge. The challenge WPM/
// accuracy fields in the inbound message are intentionally unconsumed —
// there is no persistence port for per-challenge telemetry.
func (r *Room) AdvanceChallenge(userID int) {
	r.mu.Lock()
	p, ok := r.participants[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.CurrentChallengeIndex++
	p.Progress = 0
	p.CurrentWPM = 0
	r.mu.Unlock()

	r.broadcastSnapshot()
}

// Spectate implements race:spectate. The caller (dispatcher) is
// responsible for the "Race not found" error when no room exists at all;
// this method is only called once a room is known to exist. A connection
// that was racing this room is moved out of the racer set first, so it
// never appears in both at once.
func (r *Room) Spectate(conn *Connection) {
	r.mu.Lock()
	delete(r.racerConnections, conn)
	r.spectatorConnections[conn] = true
	r.mu.Unlock()

	conn.bindRace(r.ID, 0, "", RoleSpectator)
	r.broadcastSnapshot()
}

// Unspectate implements race:unspectate.
func (r *Room) Unspectate(conn *Connection) {
	r.mu.Lock()
	delete(r.spectatorConnections, conn)
	r.mu.Unlock()

	conn.clearRace()
	r.broadcastSnapshot()
}

// CountdownRelay implements the relay-only race:countdown message: it
// rebroadcasts a snapshot carrying the client-supplied count without
// mutating room state or the server's own countdown timer.
func (r *Room) CountdownRelay(count int) {
	r.mu.Lock()
	msg := r.buildSnapshotLocked(&count)
	conns := r.allConnectionsLocked()
	r.mu.Unlock()

	r.sendSnapshot(msg, conns)
}

// DisconnectParticipant handles a connection dropping out of this room. A
// racer who was in waiting is removed like an explicit leave (so a stale
// join doesn't block future start attempts); a racer mid-countdown or
// mid-race keeps their participant entry so ranks/results survive the
// disconnect — only the connection binding is dropped.
func (r *Room) DisconnectParticipant(conn *Connection) {
	r.mu.Lock()
	wasRacer := r.racerConnections[conn]
	wasSpectator := r.spectatorConnections[conn]
	delete(r.racerConnections, conn)
	delete(r.spectatorConnections, conn)

	userID := conn.UserID()
	removedParticipant := false
	if wasRacer && r.status == StatusWaiting {
		delete(r.participants, userID)
		removedParticipant = true
	}

	empty := len(r.participants) == 0
	var cancel chan struct{}
	if empty {
		cancel = r.countdownCancel
		r.countdownCancel = nil
	}
	count := len(r.participants)
	status := r.status
	r.mu.Unlock()

	if cancel != nil {
		close(cancel)
	}

	if !wasRacer && !wasSpectator {
		return
	}

	if empty {
		r.registry.remove(r.ID)
		r.lobby.Publish(LobbyUpdateMessage{Type: MsgLobbyUpdate, RaceID: r.ID, Action: "removed"})
		return
	}

	r.broadcastSnapshot()
	if removedParticipant {
		r.lobby.Publish(LobbyUpdateMessage{
			Type: MsgLobbyUpdate, RaceID: r.ID, Action: "updated",
			ParticipantCount: intPtr(count), Status: stringPtr(string(status)),
		})
	}
}

// ParticipantCount reports the current racer count.
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// Status reports the room's current status.
func (r *Room) Status() RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Room) broadcastSnapshot() {
	r.mu.Lock()
	msg := r.buildSnapshotLocked(nil)
	conns := r.allConnectionsLocked()
	r.mu.Unlock()

	r.sendSnapshot(msg, conns)
}

func (r *Room) broadcastCountdownSnapshot(count int, deadline time.Time) {
	r.mu.Lock()
	msg := r.buildSnapshotLocked(&count)
	conns := r.allConnectionsLocked()
	r.mu.Unlock()

	r.sendSnapshot(msg, conns)
}

// buildSnapshotLocked must be called with r.mu held. Participants are
// sorted by userId so the array order is deterministic within one
// snapshot.
func (r *Room) buildSnapshotLocked(countdownValue *int) RaceStateMessage {
	ids := make([]int, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	participants := make([]ParticipantState, 0, len(ids))
	for _, id := range ids {
		participants = append(participants, r.participants[id].toState())
	}

	msg := RaceStateMessage{
		Type:           MsgRaceState,
		RaceID:         r.ID,
		Status:         string(r.status),
		Participants:   participants,
		SpectatorCount: len(r.spectatorConnections),
	}

	if countdownValue != nil {
		msg.CountdownValue = countdownValue
		deadline := r.countdownDeadline
		if deadline.IsZero() {
			// race:countdown relay with no server-tracked countdown
			// episode in flight; report "now" as the best available
			// start time.
			deadline = time.Now().UTC()
		}
		t := deadline.UTC().Format(time.RFC3339)
		msg.StartTime = &t
	}

	return msg
}

func (r *Room) allConnectionsLocked() []*Connection {
	conns := make([]*Connection, 0, len(r.racerConnections)+len(r.spectatorConnections))
	for c := range r.racerConnections {
		conns = append(conns, c)
	}
	for c := range r.spectatorConnections {
		conns = append(conns, c)
	}
	return conns
}

func (r *Room) sendSnapshot(msg RaceStateMessage, conns []*Connection) {
	data, err := encodeMessage(msg)
	if err != nil {
		Log().WithError(err).Error("failed to encode race:state snapshot")
		return
	}
	for _, c := range conns {
		c.Send(data)
	}
}
