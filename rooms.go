package main

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

type roomState string

const (
	stateLobby    roomState = "lobby"
	statePlaying  roomState = "playing"
	stateFinished roomState = "finished"
)

type RoomSettings struct {
	Scenario         string `json:"scenario,omitempty"`
	MaxPlayers       int    `json:"maxPlayers"`
	StartingLives    int    `json:"startingLives"`
	ExtraTurnSeconds int    `json:"extraTurnSeconds"`
}

func defaultSettings() RoomSettings {
	return RoomSettings{
		MaxPlayers:       6,
		StartingLives:    2,
		ExtraTurnSeconds: 0,
	}
}

// sanitizeSettings clamps host-supplied settings to their legal ranges.
func sanitizeSettings(s RoomSettings) RoomSettings {
	if s.MaxPlayers < 2 || s.MaxPlayers > 16 {
		s.MaxPlayers = 6
	}
	if s.StartingLives < 1 || s.StartingLives > 5 {
		s.StartingLives = 2
	}
	if s.ExtraTurnSeconds < 0 {
		s.ExtraTurnSeconds = 0
	}
	if s.ExtraTurnSeconds > 10 {
		s.ExtraTurnSeconds = 10
	}
	switch s.Scenario {
	case ScenarioNone, ScenarioFourLetter, ScenarioSub8, ScenarioSub50, ScenarioTrainSkip:
	default:
		s.Scenario = ScenarioNone
	}
	return s
}

type Player struct {
	Token        string `json:"-"`
	SocketID     string `json:"socketId"`
	Name         string `json:"name"`
	Avatar       string `json:"avatar"`
	IsHost       bool   `json:"isHost"`
	IsReady      bool   `json:"isReady"`
	Lives        int    `json:"lives"`
	WordsFound   int    `json:"wordsFound"`
	IsAlive      bool   `json:"isAlive"`
	Disconnected bool   `json:"disconnected"`
}

// leftSnapshot preserves a mid-game leaver's progress so a rejoin within
// the TTL restores lives and score instead of starting fresh.
type leftSnapshot struct {
	player  Player
	expires time.Time
}

// GameState is the per-game mutable state of a room. Timer bookkeeping
// lives in turns.go but is stored here so pause/resume survive turn
// boundaries.
type GameState struct {
	CurrentSyllable    string
	CurrentPlayerIndex int
	RoundNumber        int
	StartTime          time.Time
	TimerTotal         time.Duration
	Paused             bool

	timerEnd        time.Time
	pausedRemaining time.Duration

	usedSyllables map[string]struct{}
	trainAllowed  map[string]struct{}

	// serverControlledUntil guards against legacy clients racing their own
	// syllable choice right after the server emitted one.
	serverControlledUntil time.Time

	// roundGen invalidates stale timer callbacks: armRound increments it
	// and every expiry/tick captures the value it was armed with.
	roundGen int

	timer *time.Timer
}

type Room struct {
	mu sync.Mutex

	ID         string
	Name       string
	HostToken  string
	Host       string
	HostAvatar string

	Players           []*Player
	PendingSpectators []*Player
	recentlyLeft      map[string]leftSnapshot

	Settings RoomSettings
	Game     GameState
	State    roomState

	CreatedAt  time.Time
	lastActive time.Time

	// displayPlayerCount lets a host advertise local bots in the lobby
	// listing; the public count never drops below the live player count.
	displayPlayerCount int

	picker *syllablePicker
}

func (r *Room) touch() {
	r.lastActive = time.Now()
}

func (r *Room) playerByToken(token string) *Player {
	for _, p := range r.Players {
		if p.Token == token {
			return p
		}
	}
	return nil
}

func (r *Room) currentPlayer() *Player {
	if len(r.Players) == 0 {
		return nil
	}
	idx := r.Game.CurrentPlayerIndex % len(r.Players)
	if idx < 0 {
		idx += len(r.Players)
	}
	return r.Players[idx]
}

// normalizeTurnIndex keeps CurrentPlayerIndex a valid index after any
// membership mutation.
func (r *Room) normalizeTurnIndex() {
	if len(r.Players) == 0 {
		r.Game.CurrentPlayerIndex = 0
		return
	}
	r.Game.CurrentPlayerIndex %= len(r.Players)
	if r.Game.CurrentPlayerIndex < 0 {
		r.Game.CurrentPlayerIndex += len(r.Players)
	}
}

func (r *Room) aliveCount() int {
	alive := 0
	for _, p := range r.Players {
		if p.IsAlive && p.Lives > 0 {
			alive++
		}
	}
	return alive
}

// promoteHostLocked makes the first remaining player host and rewrites the
// host fields. No-op on an empty room.
func (r *Room) promoteHostLocked() {
	if len(r.Players) == 0 {
		return
	}
	for _, p := range r.Players {
		p.IsHost = false
	}
	next := r.Players[0]
	next.IsHost = true
	next.IsReady = true
	r.HostToken = next.Token
	r.Host = next.Name
	r.HostAvatar = next.Avatar
}

// pruneRecentlyLeft drops expired snapshots; the TTL is enforced here and
// nowhere else.
func (r *Room) pruneRecentlyLeft(now time.Time) {
	for token, snap := range r.recentlyLeft {
		if now.After(snap.expires) {
			delete(r.recentlyLeft, token)
		}
	}
}

type roomSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Host        string `json:"host"`
	HostAvatar  string `json:"hostAvatar,omitempty"`
	PlayerCount int    `json:"playerCount"`
	MaxPlayers  int    `json:"maxPlayers"`
	State       string `json:"gameState"`
}

type joinResult struct {
	room        *Room
	player      *Player
	reconnected bool
	spectator   bool
}

// RoomRegistry owns the live room set.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	dict  *Dictionary
}

func newRoomRegistry(dict *Dictionary) *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]*Room),
		dict:  dict,
	}
}

type roomData struct {
	ID       string       `json:"id,omitempty"`
	Name     string       `json:"name"`
	Settings RoomSettings `json:"settings"`
}

type playerData struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// createRoom registers a new room with the caller as implicitly ready
// host. A supplied ID makes recreation idempotent for a returning host
// after a server restart.
func (rr *RoomRegistry) createRoom(data roomData, hostSocketID, hostToken string, host playerData) *Room {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	id := data.ID
	if id == "" {
		id = uuid.NewString()
	}
	if existing, ok := rr.rooms[id]; ok {
		return existing
	}

	now := time.Now()
	hostPlayer := &Player{
		Token:    hostToken,
		SocketID: hostSocketID,
		Name:     host.Name,
		Avatar:   host.Avatar,
		IsHost:   true,
		IsReady:  true,
		Lives:    0,
		IsAlive:  true,
	}

	room := &Room{
		ID:           id,
		Name:         data.Name,
		HostToken:    hostToken,
		Host:         host.Name,
		HostAvatar:   host.Avatar,
		Players:      []*Player{hostPlayer},
		recentlyLeft: make(map[string]leftSnapshot),
		Settings:     sanitizeSettings(data.Settings),
		State:        stateLobby,
		CreatedAt:    now,
		lastActive:   now,
		picker:       newSyllablePicker(rr.dict),
	}
	hostPlayer.Lives = room.Settings.StartingLives

	rr.rooms[id] = room
	return room
}

func (rr *RoomRegistry) get(id string) (*Room, bool) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	room, ok := rr.rooms[id]
	return room, ok
}

func (rr *RoomRegistry) delete(id string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	delete(rr.rooms, id)
}

func (rr *RoomRegistry) list() []*Room {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	out := make([]*Room, 0, len(rr.rooms))
	for _, room := range rr.rooms {
		out = append(out, room)
	}
	return out
}

// getPublicRooms builds the lobby browsing list. The advertised player
// count is capped at max(server count, display count) so host-local bots
// remain visible.
func (rr *RoomRegistry) getPublicRooms() []roomSummary {
	rooms := rr.list()

	out := make([]roomSummary, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		count := len(room.Players)
		if room.displayPlayerCount > count {
			count = room.displayPlayerCount
		}
		out = append(out, roomSummary{
			ID:          room.ID,
			Name:        room.Name,
			Host:        room.Host,
			HostAvatar:  room.HostAvatar,
			PlayerCount: count,
			MaxPlayers:  room.Settings.MaxPlayers,
			State:       string(room.State),
		})
		room.mu.Unlock()
	}
	return out
}

// joinRoom evaluates the four join cases in order: reconnection, room
// full, mid-game restore, fresh join. Mid-game joins by anyone other than
// the historical host or a recent leaver become pending spectators.
func (rr *RoomRegistry) joinRoom(roomID string, data playerData, socketID, token string, wasHost bool) (joinResult, error) {
	room, ok := rr.get(roomID)
	if !ok {
		return joinResult{}, errRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	now := time.Now()
	room.touch()
	room.pruneRecentlyLeft(now)

	// Case 1: token already seated, treat as reconnection.
	if p := room.playerByToken(token); p != nil {
		p.SocketID = socketID
		p.Disconnected = false
		if data.Name != "" {
			p.Name = data.Name
		}
		if data.Avatar != "" {
			p.Avatar = data.Avatar
		}
		return joinResult{room: room, player: p, reconnected: true}, nil
	}

	// Case 2: full.
	if len(room.Players) >= room.Settings.MaxPlayers {
		return joinResult{}, errRoomFull
	}

	// Case 3: game in progress.
	if room.State == statePlaying {
		snap, wasHere := room.recentlyLeft[token]
		isHistoricalHost := wasHost && token == room.HostToken
		if !wasHere && !isHistoricalHost {
			spectator := &Player{
				Token:    token,
				SocketID: socketID,
				Name:     data.Name,
				Avatar:   data.Avatar,
				Lives:    room.Settings.StartingLives,
				IsAlive:  true,
			}
			room.PendingSpectators = append(room.PendingSpectators, spectator)
			return joinResult{room: room, player: spectator, spectator: true}, nil
		}

		p := &Player{
			Token:    token,
			SocketID: socketID,
			Name:     data.Name,
			Avatar:   data.Avatar,
			Lives:    room.Settings.StartingLives,
			IsAlive:  true,
		}
		if wasHere {
			p.Lives = snap.player.Lives
			p.WordsFound = snap.player.WordsFound
			p.IsAlive = snap.player.IsAlive
			if p.Name == "" {
				p.Name = snap.player.Name
			}
			if p.Avatar == "" {
				p.Avatar = snap.player.Avatar
			}
			delete(room.recentlyLeft, token)
		}
		room.Players = append(room.Players, p)
		room.normalizeTurnIndex()
		return joinResult{room: room, player: p}, nil
	}

	// Case 4: plain lobby join.
	p := &Player{
		Token:    token,
		SocketID: socketID,
		Name:     data.Name,
		Avatar:   data.Avatar,
		Lives:    room.Settings.StartingLives,
		IsAlive:  true,
	}
	room.Players = append(room.Players, p)
	return joinResult{room: room, player: p}, nil
}

type leaveResult struct {
	room        *Room
	player      Player
	wasHost     bool
	roomDeleted bool
	newHost     *Player
	wasCurrent  bool
}

// leaveRoom removes the player, snapshotting mid-game leavers into
// recentlyLeft, deleting the room when it empties and promoting a new host
// otherwise.
func (rr *RoomRegistry) leaveRoom(roomID, token string) (leaveResult, error) {
	room, ok := rr.get(roomID)
	if !ok {
		return leaveResult{}, errRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	now := time.Now()
	room.touch()

	// Pending spectators can leave without ceremony.
	for i, s := range room.PendingSpectators {
		if s.Token == token {
			room.PendingSpectators = append(room.PendingSpectators[:i], room.PendingSpectators[i+1:]...)
			return leaveResult{room: room, player: *s}, nil
		}
	}

	idx := -1
	for i, p := range room.Players {
		if p.Token == token {
			idx = i
			break
		}
	}
	if idx == -1 {
		return leaveResult{}, errRoomNotFound
	}

	leaving := room.Players[idx]
	res := leaveResult{
		room:       room,
		player:     *leaving,
		wasHost:    leaving.IsHost,
		wasCurrent: room.State == statePlaying && room.currentPlayer() == leaving,
	}

	if room.State == statePlaying {
		room.recentlyLeft[token] = leftSnapshot{
			player:  *leaving,
			expires: now.Add(recentlyLeftTTL),
		}
	}

	room.Players = append(room.Players[:idx], room.Players[idx+1:]...)

	if len(room.Players) == 0 {
		stopRoundLocked(room)
		rr.delete(room.ID)
		res.roomDeleted = true
		return res, nil
	}

	if idx < room.Game.CurrentPlayerIndex {
		room.Game.CurrentPlayerIndex--
	}
	room.normalizeTurnIndex()

	if res.wasHost {
		room.promoteHostLocked()
		res.newHost = room.Players[0]
	}

	return res, nil
}

// markDisconnected flips the flag without unseating the player. Reports
// whether the player was the current-turn player of a live round.
func (r *Room) markDisconnected(token string) (isCurrent bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.playerByToken(token)
	if p == nil {
		return false, false
	}
	p.Disconnected = true
	return r.State == statePlaying && r.currentPlayer() == p, true
}

func (r *Room) markReconnected(token, socketID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.playerByToken(token)
	if p == nil {
		return false
	}
	p.Disconnected = false
	p.SocketID = socketID
	return true
}

// reapIdle deletes rooms that are not mid-game and have been idle longer
// than the cutoff.
func (rr *RoomRegistry) reapIdle(cutoff time.Time) []string {
	var reaped []string
	for _, room := range rr.list() {
		room.mu.Lock()
		idle := room.lastActive.Before(cutoff)
		playing := room.State == statePlaying
		empty := len(room.Players) == 0
		if idle && (empty || !playing) {
			stopRoundLocked(room)
			reaped = append(reaped, room.ID)
		}
		room.mu.Unlock()
	}
	for _, id := range reaped {
		rr.delete(id)
	}
	return reaped
}

// roomQRHandler renders a PNG QR code pointing at the room join URL, for
// sharing a lobby across phones.
func roomQRHandler(rr *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("id")
		if _, ok := rr.get(roomID); !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		path := strings.TrimSuffix(r.URL.Path, "/qr")
		url := scheme + "://" + r.Host + path

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}
