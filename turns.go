// Turn scheduler: one logical timer per active round, with pause/resume
// that never accumulates drift. Deadlines ride on time.Time's monotonic
// reading; pausing snapshots the remaining duration and resuming arms a
// fresh deadline from it.
//
// Every armed round carries a generation number. stopRoundLocked bumps it,
// so stale expiry callbacks and tick loops observe the mismatch and
// no-op. Clearing the handle before applying a life loss is what makes
// two racing expirations harmless.

package main

import (
	"time"
)

const tickInterval = 100 * time.Millisecond

// turnDuration is the full length of a round in this room. The base is a
// server field so tests can run rounds at millisecond scale.
func (s *Server) turnDuration(room *Room) time.Duration {
	return s.turnBase + time.Duration(room.Settings.ExtraTurnSeconds)*time.Second
}

// stopRoundLocked invalidates the armed timer and its tick loop. Safe to
// call when nothing is armed. Assumes room.mu is held.
func stopRoundLocked(room *Room) {
	room.Game.roundGen++
	if room.Game.timer != nil {
		room.Game.timer.Stop()
		room.Game.timer = nil
	}
}

// startRoundLocked picks the next syllable, broadcasts it and arms the
// turn timer. Ends the game instead when the scenario pool is exhausted.
// Assumes room.mu is held and the previous round is already stopped.
func (s *Server) startRoundLocked(room *Room) {
	if room.State != statePlaying {
		return
	}

	if room.Game.usedSyllables == nil {
		room.Game.usedSyllables = make(map[string]struct{})
	}

	syllable := room.picker.pick(room.Settings.Scenario, room.Game.usedSyllables, room.Game.trainAllowed)
	if syllable == "" {
		// Nothing left under the constraints (train set exhausted).
		s.endGameLocked(room)
		return
	}
	room.Game.usedSyllables[syllable] = struct{}{}

	room.Game.RoundNumber++
	room.Game.CurrentSyllable = syllable
	room.Game.serverControlledUntil = time.Now().Add(serverControlWindow)
	room.touch()

	name := ""
	if current := room.currentPlayer(); current != nil {
		name = current.Name
	}

	s.broadcastRoomLocked(room, SyllableUpdateMessage{
		Type:        "syllableUpdate",
		Syllable:    syllable,
		PlayerIndex: room.Game.CurrentPlayerIndex,
		Player:      name,
		RoundNumber: room.Game.RoundNumber,
		Count:       s.dict.countFor(syllable),
	})

	total := s.turnDuration(room)
	s.armRoundLocked(room, total, total)
}

// armRoundLocked arms the expiry timer and tick loop for the given
// remaining duration. total is the full round length reported in tick
// updates. Assumes room.mu is held.
func (s *Server) armRoundLocked(room *Room, remaining, total time.Duration) {
	room.Game.roundGen++
	gen := room.Game.roundGen

	now := time.Now()
	room.Game.StartTime = now
	room.Game.timerEnd = now.Add(remaining)
	room.Game.TimerTotal = total
	room.Game.Paused = false

	room.Game.timer = time.AfterFunc(remaining, func() {
		s.onExpiry(room, gen)
	})

	go s.tickLoop(room, gen, total)
}

// tickLoop broadcasts timerUpdate until its generation is invalidated.
func (s *Server) tickLoop(room *Room, gen int, total time.Duration) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for range ticker.C {
		room.mu.Lock()
		if room.Game.roundGen != gen || room.State != statePlaying || room.Game.Paused {
			room.mu.Unlock()
			return
		}
		remaining := time.Until(room.Game.timerEnd)
		if remaining < 0 {
			remaining = 0
		}
		s.broadcastRoomLocked(room, TimerUpdateMessage{
			Type:      "timerUpdate",
			Remaining: remaining.Milliseconds(),
			Total:     total.Milliseconds(),
		})
		room.mu.Unlock()
	}
}

// onExpiry fires when the current player ran out of time. The generation
// check drops callbacks from rounds that were already replaced; the timer
// handle is cleared before the life loss is applied, so a second racing
// expiration can never decrement twice.
func (s *Server) onExpiry(room *Room, gen int) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.Game.roundGen != gen || room.State != statePlaying || room.Game.Paused {
		return
	}

	stopRoundLocked(room)

	current := room.currentPlayer()
	if current == nil {
		return
	}

	s.broadcastRoomLocked(room, TimeoutMessage{
		Type:       "timeout",
		SocketID:   current.SocketID,
		PlayerName: current.Name,
	})

	s.applyLifeLossLocked(room, current)
}

// applyLifeLossLocked decrements a life, handles elimination, and either
// ends the game or moves to the next round. Assumes room.mu is held and
// the round timer is already stopped.
func (s *Server) applyLifeLossLocked(room *Room, p *Player) {
	if p.Lives > 0 {
		p.Lives--
	}
	room.touch()

	s.broadcastRoomLocked(room, LifeMessage{
		Type:       "playerLostLife",
		SocketID:   p.SocketID,
		PlayerName: p.Name,
		LivesLeft:  p.Lives,
	})

	if p.Lives <= 0 {
		p.IsAlive = false
		s.broadcastRoomLocked(room, LifeMessage{
			Type:       "playerEliminated",
			SocketID:   p.SocketID,
			PlayerName: p.Name,
			LivesLeft:  0,
		})
	}

	if room.aliveCount() <= 1 {
		s.endGameLocked(room)
		return
	}

	s.advanceTurnLocked(room)
	s.startRoundLocked(room)
}

// advanceTurnLocked moves the turn to the next player who is alive, has
// lives and is connected. Bounded by one full scan of the seat order.
func (s *Server) advanceTurnLocked(room *Room) {
	n := len(room.Players)
	if n == 0 {
		return
	}
	for i := 1; i <= n; i++ {
		idx := (room.Game.CurrentPlayerIndex + i) % n
		p := room.Players[idx]
		if !p.IsAlive || p.Lives <= 0 || p.Disconnected {
			continue
		}
		room.Game.CurrentPlayerIndex = idx
		s.broadcastRoomLocked(room, TurnChangedMessage{
			Type:        "turnChanged",
			PlayerIndex: idx,
			Player:      p.Name,
		})
		return
	}
}

// pauseRoundLocked freezes the remaining time without drift. Assumes
// room.mu is held.
func (s *Server) pauseRoundLocked(room *Room, reason string) {
	if room.State != statePlaying || room.Game.Paused {
		return
	}

	remaining := time.Until(room.Game.timerEnd)
	if remaining < 0 {
		remaining = 0
	}

	stopRoundLocked(room)
	room.Game.Paused = true
	room.Game.pausedRemaining = remaining

	s.broadcastRoomLocked(room, PauseMessage{
		Type:      "gamePaused",
		Reason:    reason,
		Remaining: remaining.Milliseconds(),
	})
}

// resumeRoundLocked continues from the frozen remaining time, floored so
// a freshly reconnected player gets a playable turn. Assumes room.mu is
// held.
func (s *Server) resumeRoundLocked(room *Room) {
	if room.State != statePlaying || !room.Game.Paused {
		return
	}

	remaining := room.Game.pausedRemaining
	if remaining < resumeFloor {
		remaining = resumeFloor
	}
	room.Game.Paused = false
	room.Game.pausedRemaining = 0

	s.broadcastRoomLocked(room, PauseMessage{
		Type:      "gameResumed",
		Remaining: remaining.Milliseconds(),
	})

	s.armRoundLocked(room, remaining, room.Game.TimerTotal)
}

// endGameLocked computes the winner, promotes pending spectators and
// returns the room to the lobby. The finished state is transient by
// design. Assumes room.mu is held.
func (s *Server) endGameLocked(room *Room) {
	stopRoundLocked(room)
	room.State = stateFinished

	var winner *Player
	for _, p := range room.Players {
		if p.IsAlive && p.Lives > 0 {
			winner = p
			break
		}
	}

	msg := GameOverMessage{Type: "gameOver"}
	if winner != nil {
		msg.Winner = winner.Name
		msg.WinnerSocket = winner.SocketID
	}
	s.broadcastRoomLocked(room, msg)

	for _, spec := range room.PendingSpectators {
		room.Players = append(room.Players, spec)
		s.broadcastRoomLocked(room, PromotedMessage{Type: "promotedToPlayer", PlayerName: spec.Name})
	}
	room.PendingSpectators = nil

	for _, p := range room.Players {
		p.Lives = room.Settings.StartingLives
		p.WordsFound = 0
		p.IsAlive = true
		p.IsReady = p.IsHost
	}

	room.Game.CurrentSyllable = ""
	room.Game.CurrentPlayerIndex = 0
	room.Game.RoundNumber = 0
	room.Game.Paused = false
	room.Game.usedSyllables = make(map[string]struct{})
	room.Game.trainAllowed = nil
	room.normalizeTurnIndex()
	room.State = stateLobby
	room.touch()

	logf(s.cfg, "GAMES: Game over in room %q, winner %q", room.Name, msg.Winner)
}

// onSocketClosed starts the staged disconnect protocol for the departing
// socket. Stage 2 (mark + maybe pause) and stage 3 (evict) each capture
// the session's disconnect generation and no-op when a reconnect moved it
// on.
func (s *Server) onSocketClosed(c *Client) {
	s.dropClient(c)

	sess := s.sessions.unregister(c.socketID)
	if sess == nil {
		return
	}
	token := sess.Token
	roomID := sess.RoomID
	if roomID == "" {
		return
	}

	gen := s.sessions.generation(token)
	if gen.IsZero() {
		// A newer socket registered in between; nothing to stage.
		return
	}

	time.AfterFunc(s.markDelay, func() {
		s.disconnectStageMark(roomID, token, gen)
	})
}

// disconnectStageMark is stage 2: after the short grace window, mark the
// player disconnected and pause the round if it was their turn.
func (s *Server) disconnectStageMark(roomID, token string, gen time.Time) {
	if !s.sessions.generation(token).Equal(gen) {
		return
	}

	room, ok := s.rooms.get(roomID)
	if !ok {
		return
	}

	room.mu.Lock()
	isCurrent, found := false, false
	if p := room.playerByToken(token); p != nil {
		found = true
		p.Disconnected = true
		isCurrent = room.State == statePlaying && room.currentPlayer() == p

		paused := false
		if isCurrent {
			s.pauseRoundLocked(room, "playerDisconnected")
			paused = true
		}
		s.broadcastRoomLocked(room, PlayerEventMessage{
			Type:       "playerDisconnected",
			PlayerName: p.Name,
			GamePaused: paused,
		})
	}
	room.mu.Unlock()

	if !found {
		return
	}

	time.AfterFunc(s.evictWait, func() {
		s.disconnectStageEvict(roomID, token, gen)
	})
}

// disconnectStageEvict is stage 3: the player never came back, so free
// their seat and let the room move on.
func (s *Server) disconnectStageEvict(roomID, token string, gen time.Time) {
	if !s.sessions.generation(token).Equal(gen) {
		return
	}

	room, ok := s.rooms.get(roomID)
	if !ok {
		return
	}

	room.mu.Lock()
	if p := room.playerByToken(token); p != nil {
		if room.State == statePlaying && room.currentPlayer() == p {
			s.advanceTurnLocked(room)
		}
		if room.Game.Paused {
			s.resumeRoundLocked(room)
		}
	}
	room.mu.Unlock()

	s.playerLeaves(roomID, token)
	logf(s.cfg, "GAMES: Evicted %.8s from room %s after grace window", token, roomID)
}
