package main

import "context"

// dispatch is a pure switch on message type: each arm decodes nothing
// further (ClientMessage is already decoded) and calls exactly one
// component method with the originating connection. It holds no state of
// its own — all of it lives in Server's registry/lobby/matchmaking fields.
func (s *Server) dispatch(conn *Connection, msg ClientMessage) {
	switch msg.Type {
	case MsgRaceJoin:
		room := s.registry.GetOrCreate(msg.RaceID)
		room.Join(conn, msg.UserID, msg.UserName)

	case MsgRaceLeave:
		room, ok := s.registry.Get(msg.RaceID)
		if !ok {
			return
		}
		room.Leave(conn, msg.UserID)

	case MsgRaceStart:
		room, ok := s.registry.Get(msg.RaceID)
		if !ok {
			return
		}
		room.Start(conn)

	case MsgRaceProgress:
		room, ok := s.registry.Get(msg.RaceID)
		if !ok {
			return
		}
		room.Progress(msg.UserID, msg.Progress, msg.CurrentWPM)

	case MsgRaceFinish:
		room, ok := s.registry.Get(msg.RaceID)
		if !ok {
			return
		}
		room.Finish(msg.UserID, msg.WPM, msg.Accuracy)

	case MsgRaceAdvanceChallenge:
		room, ok := s.registry.Get(msg.RaceID)
		if !ok {
			return
		}
		room.AdvanceChallenge(msg.UserID)

	case MsgRaceCountdown:
		room, ok := s.registry.Get(msg.RaceID)
		if !ok {
			return
		}
		room.CountdownRelay(msg.Count)

	case MsgRaceSpectate:
		room, ok := s.registry.Get(msg.RaceID)
		if !ok {
			conn.sendError("Race not found")
			return
		}
		room.Spectate(conn)

	case MsgRaceUnspectate:
		room, ok := s.registry.Get(msg.RaceID)
		if !ok {
			return
		}
		room.Unspectate(conn)

	case MsgLobbySubscribe:
		s.lobby.Subscribe(conn)

	case MsgLobbyUnsubscribe:
		s.lobby.Unsubscribe(conn)

	case MsgMatchmakingJoin:
		s.matchmaking.Enqueue(context.Background(), conn, msg.UserID, msg.UserName)

	case MsgMatchmakingLeave:
		s.matchmaking.Leave(msg.UserID)
	}
}
