package main

import "sync"

// Registry is the process-wide mapping from raceId to Room. All creation
// and deletion goes through it; Room itself calls back into remove() once
// it has determined (under its own lock) that it emptied.
type Registry struct {
	mu    sync.Mutex
	rooms map[int]*Room
	lobby *LobbyBroadcaster
}

func newRegistry(lobby *LobbyBroadcaster) *Registry {
	return &Registry{
		rooms: make(map[int]*Room),
		lobby: lobby,
	}
}

// Get looks up an existing room without creating one.
func (reg *Registry) Get(raceID int) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[raceID]
	return room, ok
}

// GetOrCreate returns the existing room for raceID, or creates a fresh one
// in status waiting if none exists yet.
func (reg *Registry) GetOrCreate(raceID int) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[raceID]; ok {
		return room
	}

	room := newRoom(raceID, reg, reg.lobby)
	reg.rooms[raceID] = room
	return room
}

// remove deletes a room from the registry. Called by Room itself once it
// has observed zero participants; never called with the room's own lock
// held, so there is no lock-ordering hazard with GetOrCreate.
func (reg *Registry) remove(raceID int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, raceID)
}

// RoomCount reports how many rooms are currently tracked (used by the
// health endpoint).
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
