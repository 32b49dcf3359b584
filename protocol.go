package main

import "encoding/json"

// Client -> server message type discriminators.
const (
	MsgRaceJoin             = "race:join"
	MsgRaceLeave            = "race:leave"
	MsgRaceStart            = "race:start"
	MsgRaceProgress         = "race:progress"
	MsgRaceFinish           = "race:finish"
	MsgRaceAdvanceChallenge = "race:advanceChallenge"
	MsgRaceCountdown        = "race:countdown"
	MsgRaceSpectate         = "race:spectate"
	MsgRaceUnspectate       = "race:unspectate"
	MsgLobbySubscribe       = "lobby:subscribe"
	MsgLobbyUnsubscribe     = "lobby:unsubscribe"
	MsgMatchmakingJoin      = "matchmaking:join"
	MsgMatchmakingLeave     = "matchmaking:leave"
)

// Server -> client message type discriminators.
const (
	MsgRaceState         = "race:state"
	MsgLobbyUpdate       = "lobby:update"
	MsgMatchmakingStatus = "matchmaking:status"
	MsgError             = "error"
)

// ClientMessage is the closed tagged union of every inbound frame. Unused
// fields for a given Type are simply left at their zero value; the
// dispatcher only reads the fields that Type implies.
type ClientMessage struct {
	Type              string  `json:"type"`
	RaceID            int     `json:"raceId,omitempty"`
	UserID            int     `json:"userId,omitempty"`
	UserName          string  `json:"userName,omitempty"`
	Progress          float64 `json:"progress,omitempty"`
	CurrentWPM        float64 `json:"currentWpm,omitempty"`
	WPM               float64 `json:"wpm,omitempty"`
	Accuracy          float64 `json:"accuracy,omitempty"`
	ChallengeWPM      float64 `json:"challengeWpm,omitempty"`
	ChallengeAccuracy float64 `json:"challengeAccuracy,omitempty"`
	Count             int     `json:"count,omitempty"`
}

// ParticipantState is one entry in a race:state snapshot's participants
// array. wpm/accuracy/finishedAt/rank are all nil together until finish.
type ParticipantState struct {
	UserID                int      `json:"userId"`
	UserName              string   `json:"userName"`
	CurrentChallengeIndex int      `json:"currentChallengeIndex"`
	Progress              float64  `json:"progress"`
	CurrentWPM            float64  `json:"currentWpm"`
	WPM                   *float64 `json:"wpm,omitempty"`
	Accuracy              *float64 `json:"accuracy,omitempty"`
	FinishedAt            *string  `json:"finishedAt,omitempty"`
	Rank                  *int     `json:"rank,omitempty"`
}

// RaceStateMessage is the full authoritative snapshot of one room.
type RaceStateMessage struct {
	Type           string              `json:"type"`
	RaceID         int                 `json:"raceId"`
	Status         string              `json:"status"`
	Participants   []ParticipantState  `json:"participants"`
	CountdownValue *int                `json:"countdownValue,omitempty"`
	StartTime      *string             `json:"startTime,omitempty"`
	SpectatorCount int                 `json:"spectatorCount"`
}

// LobbyUpdateMessage is a coarse lifecycle notification for one race.
type LobbyUpdateMessage struct {
	Type             string  `json:"type"`
	RaceID           int     `json:"raceId"`
	Action           string  `json:"action"`
	ParticipantCount *int    `json:"participantCount,omitempty"`
	Status           *string `json:"status,omitempty"`
}

// MatchedPlayer identifies one member of a formed matchmaking group.
type MatchedPlayer struct {
	UserID   int    `json:"userId"`
	UserName string `json:"userName"`
}

// MatchmakingStatusMessage reports queue/match lifecycle to one client.
type MatchmakingStatusMessage struct {
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	AverageWPM *float64        `json:"averageWpm,omitempty"`
	QueueSize  *int            `json:"queueSize,omitempty"`
	RaceID     *int            `json:"raceId,omitempty"`
	Players    []MatchedPlayer `json:"players,omitempty"`
}

// ErrorMessage is always sent to exactly one connection, never broadcast.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// decodeClientMessage parses one inbound frame. Malformed JSON, or a field
// of the wrong JSON type, fails here; an unrecognized Type is a valid decode
// that the dispatcher rejects.
func decodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}

func encodeMessage(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func intPtr(v int) *int             { return &v }
func float64Ptr(v float64) *float64 { return &v }
func stringPtr(v string) *string    { return &v }
