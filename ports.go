package main

import "context"

// MatchedPlayerInfo is the group member data the match factory and
// persistence ports need to form a race.
type MatchedPlayerInfo struct {
	UserID     int
	UserName   string
	AverageWPM float64
}

// Persistence is the narrow port consumed by the matchmaking queue to read
// a player's rating and to materialize a matched group into a persisted
// race row. It is the only dependency the coordinator core has on the
// outer application's storage layer.
type Persistence interface {
	// GetPlayerAverageWPM resolves a userId's rating for matchmaking:join,
	// since the client message itself carries no averageWpm field.
	GetPlayerAverageWPM(ctx context.Context, userID int) (float64, error)

	// CreateMatchedRace persists a new race for the matched group and
	// returns its id, which becomes the raceId in matchmaking:status and
	// the new lobby:update.
	CreateMatchedRace(ctx context.Context, players []MatchedPlayerInfo, categoryID int) (raceID int, err error)
}

// MatchFactory picks a challenge category for a matched group's skill
// band. A nil categoryID means no suitable category exists yet; the group
// stays queued.
type MatchFactory interface {
	PickMatchCategory(ctx context.Context, groupAvgWPM float64) (categoryID *int, err error)
}
