// Realtime syllable game coordinator.
//
// Every client speaks JSON over a single websocket. Each inbound message
// carries the client's persistent session token; the coordinator resolves
// it through the session registry, applies the mutation on the room, and
// broadcasts the resulting state delta to every socket in the room.
//
// The server is authoritative for syllable choice, turn order, timing and
// validation; clients only ever see the consequences.

package main

import (
	"encoding/json"
	"html"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Messages coming from clients. One envelope with optional fields per
// event type, mirrored from the client protocol.
type ClientMessage struct {
	Type           string        `json:"type"`
	Token          string        `json:"token,omitempty"`
	RoomID         string        `json:"roomId,omitempty"`
	Data           roomData      `json:"data,omitempty"`
	PlayerData     playerData    `json:"playerData,omitempty"`
	WasHost        bool          `json:"wasHost,omitempty"`
	StaffToken     string        `json:"staffToken,omitempty"`
	Scenario       string        `json:"scenario,omitempty"`
	TrainSyllables []string      `json:"trainSyllables,omitempty"`
	PlayerIndex    *int          `json:"playerIndex,omitempty"`
	Word           string        `json:"word,omitempty"`
	Syllable       string        `json:"syllable,omitempty"`
	PlayerID       string        `json:"playerId,omitempty"`
	TotalCount     int           `json:"totalCount,omitempty"`
	Settings       *RoomSettings `json:"settings,omitempty"`
	Text           string        `json:"text,omitempty"`
	PlayerName     string        `json:"playerName,omitempty"`
	Accepted       bool          `json:"accepted,omitempty"`
	Message        string        `json:"message,omitempty"`
	Avatar         string        `json:"avatar,omitempty"`
	ReplyTo        string        `json:"replyTo,omitempty"`
	IsBot          bool          `json:"isBot,omitempty"`
}

// Messages sent to clients.
type RoomsListMessage struct {
	Type  string        `json:"type"` // "roomsList"
	Rooms []roomSummary `json:"rooms"`
}

type RoomMessage struct {
	Type string       `json:"type"` // "roomCreated" / "roomJoined" / "gameStarted"
	Room roomSnapshot `json:"room"`
}

type JoinErrorMessage struct {
	Type   string `json:"type"` // "joinError"
	Reason string `json:"reason"`
}

type PlayerEventMessage struct {
	Type       string `json:"type"` // "playerJoined" / "playerLeft" / "playerReadyChanged" / ...
	SocketID   string `json:"socketId,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
	IsReady    bool   `json:"isReady,omitempty"`
	NewHost    string `json:"newHost,omitempty"`
	GamePaused bool   `json:"gamePaused,omitempty"`
}

type SpectatorMessage struct {
	Type    string `json:"type"` // "joinedAsSpectator" / "spectatorsWaiting"
	Waiting int    `json:"waiting"`
}

type RoomDeletedMessage struct {
	Type   string `json:"type"` // "roomDeleted"
	RoomID string `json:"roomId"`
}

type SyllableUpdateMessage struct {
	Type        string `json:"type"` // "syllableUpdate"
	Syllable    string `json:"syllable"`
	PlayerIndex int    `json:"playerIndex"`
	Player      string `json:"player"`
	RoundNumber int    `json:"roundNumber"`
	Count       int    `json:"count"`
}

type TimerUpdateMessage struct {
	Type      string `json:"type"` // "timerUpdate"
	Remaining int64  `json:"remaining"`
	Total     int64  `json:"total"`
}

type TimeoutMessage struct {
	Type       string `json:"type"` // "timeout"
	SocketID   string `json:"socketId"`
	PlayerName string `json:"playerName"`
}

type WordResultMessage struct {
	Type       string `json:"type"` // "wordAccepted" / "wordRejected"
	SocketID   string `json:"socketId,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
	Word       string `json:"word,omitempty"`
	WordsFound int    `json:"wordsFound,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type LifeMessage struct {
	Type       string `json:"type"` // "playerLostLife" / "playerEliminated"
	SocketID   string `json:"socketId"`
	PlayerName string `json:"playerName"`
	LivesLeft  int    `json:"livesLeft"`
}

type TurnChangedMessage struct {
	Type        string `json:"type"` // "turnChanged"
	PlayerIndex int    `json:"playerIndex"`
	Player      string `json:"player"`
}

type PauseMessage struct {
	Type      string `json:"type"` // "gamePaused" / "gameResumed"
	Reason    string `json:"reason,omitempty"`
	Remaining int64  `json:"remaining"`
}

type GameOverMessage struct {
	Type         string `json:"type"` // "gameOver"
	Winner       string `json:"winner"`
	WinnerSocket string `json:"winnerSocket,omitempty"`
}

type PromotedMessage struct {
	Type       string `json:"type"` // "promotedToPlayer"
	PlayerName string `json:"playerName"`
}

type SettingsUpdatedMessage struct {
	Type     string       `json:"type"` // "settingsUpdated"
	Settings RoomSettings `json:"settings"`
}

type TypingMessage struct {
	Type       string `json:"type"` // "playerTyping"
	SocketID   string `json:"socketId"`
	PlayerName string `json:"playerName"`
	Text       string `json:"text"`
	Accepted   bool   `json:"accepted"`
}

type ChatMessage struct {
	Type       string `json:"type"` // "chatMessage"
	PlayerName string `json:"playerName"`
	Avatar     string `json:"avatar,omitempty"`
	Message    string `json:"message"`
	ReplyTo    string `json:"replyTo,omitempty"`
	Role       string `json:"role,omitempty"`
	IsBot      bool   `json:"isBot,omitempty"`
	SentAt     int64  `json:"sentAt"`
}

type BannedMessage struct {
	Type   string `json:"type"` // "banned"
	Reason string `json:"reason"`
}

type roomSnapshot struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Host       string       `json:"host"`
	HostAvatar string       `json:"hostAvatar,omitempty"`
	Players    []Player     `json:"players"`
	Settings   RoomSettings `json:"settings"`
	GameState  string       `json:"gameState"`
	Syllable   string       `json:"syllable,omitempty"`
	TurnIndex  int          `json:"turnIndex"`
	Round      int          `json:"roundNumber"`
}

// snapshotLocked assumes room.mu is held.
func snapshotLocked(room *Room) roomSnapshot {
	players := make([]Player, 0, len(room.Players))
	for _, p := range room.Players {
		players = append(players, *p)
	}
	return roomSnapshot{
		ID:         room.ID,
		Name:       room.Name,
		Host:       room.Host,
		HostAvatar: room.HostAvatar,
		Players:    players,
		Settings:   room.Settings,
		GameState:  string(room.State),
		Syllable:   room.Game.CurrentSyllable,
		TurnIndex:  room.Game.CurrentPlayerIndex,
		Round:      room.Game.RoundNumber,
	}
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	socketID string
	ip       string

	// mu guards token and the send/close handshake: trySend and close
	// both take it, so a send can never observe a closed channel.
	mu     sync.Mutex
	token  string
	closed bool
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) sessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// trySend queues msg for the write pump. Reports false when the client is
// already closed or its buffer is full.
func (c *Client) trySend(msg any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close shuts the send channel exactly once and tears down the transport.
func (c *Client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Server is the single coordinator owning all rooms.
type Server struct {
	cfg      *Config
	dict     *Dictionary
	guard    *Guard
	sessions *SessionRegistry
	rooms    *RoomRegistry
	stores   *Stores

	cmu     sync.RWMutex
	clients map[string]*Client // socketID -> client

	// Timings as fields so the tests can shrink them.
	turnBase  time.Duration
	markDelay time.Duration
	evictWait time.Duration

	done chan struct{}
}

func newServer(cfg *Config, dict *Dictionary, guard *Guard, stores *Stores) *Server {
	s := &Server{
		cfg:       cfg,
		dict:      dict,
		guard:     guard,
		sessions:  newSessionRegistry(),
		rooms:     newRoomRegistry(dict),
		stores:    stores,
		clients:   make(map[string]*Client),
		turnBase:  baseTurnSeconds * time.Second,
		markDelay: disconnectMarkDelay,
		evictWait: disconnectEvictWait,
		done:      make(chan struct{}),
	}
	guard.onEvict = s.evictIP
	return s
}

// start launches the janitor that prunes sessions, rooms and recentlyLeft
// snapshots on a fixed cadence.
func (s *Server) start() {
	go func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				now := time.Now()
				if n := s.sessions.reap(now.Add(-roomIdleTimeout)); n > 0 {
					logf(s.cfg, "GAMES: Reaped %d idle sessions", n)
				}
				if reaped := s.rooms.reapIdle(now.Add(-roomIdleTimeout)); len(reaped) > 0 {
					logf(s.cfg, "GAMES: Reaped %d idle rooms", len(reaped))
					s.broadcastLobbyRooms()
				}
				for _, room := range s.rooms.list() {
					room.mu.Lock()
					room.pruneRecentlyLeft(now)
					room.mu.Unlock()
				}
			}
		}
	}()
}

func (s *Server) stop() {
	close(s.done)
}

func (s *Server) clientBySocket(socketID string) *Client {
	s.cmu.RLock()
	defer s.cmu.RUnlock()
	return s.clients[socketID]
}

// sendTo delivers a message to one socket; slow clients get dropped rather
// than stalling the room.
func (s *Server) sendTo(socketID string, msg any) {
	c := s.clientBySocket(socketID)
	if c == nil {
		return
	}
	if !c.trySend(msg) {
		s.dropClient(c)
	}
}

func (s *Server) dropClient(c *Client) {
	s.cmu.Lock()
	delete(s.clients, c.socketID)
	s.cmu.Unlock()

	c.close()
}

// broadcastRoomLocked sends msg to every seated player and pending
// spectator. Assumes room.mu is held; channel sends never block.
func (s *Server) broadcastRoomLocked(room *Room, msg any) {
	for _, p := range room.Players {
		if p.SocketID != "" {
			s.sendTo(p.SocketID, msg)
		}
	}
	for _, spec := range room.PendingSpectators {
		if spec.SocketID != "" {
			s.sendTo(spec.SocketID, msg)
		}
	}
}

// broadcastLobbyRooms pushes the public room list to every connected
// socket that is not seated in a room.
func (s *Server) broadcastLobbyRooms() {
	msg := RoomsListMessage{Type: "roomsList", Rooms: s.rooms.getPublicRooms()}

	s.cmu.RLock()
	targets := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.cmu.RUnlock()

	for _, c := range targets {
		token := c.sessionToken()
		if token != "" {
			if sess, ok := s.sessions.getSessionByToken(token); ok && sess.RoomID != "" {
				continue
			}
		}
		s.sendTo(c.socketID, msg)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:    1024,
	WriteBufferSize:   1024,
	EnableCompression: true,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWS upgrades the connection after the guard clears the caller.
func serveWS(cfg *Config, s *Server) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ip := clientIP(r)

		if ok, code := s.guard.check(ip, "/ws", r.UserAgent()); !ok {
			status := http.StatusTooManyRequests
			if code == codeForbidden {
				status = http.StatusForbidden
			}
			http.Error(w, code, status)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 32),
			socketID: uuid.NewString(),
			ip:       ip,
		}

		s.cmu.Lock()
		s.clients[client.socketID] = client
		s.cmu.Unlock()

		go client.writePump()
		client.readPump(s)
	}
}

func (c *Client) readPump(s *Server) {
	defer func() {
		s.onSocketClosed(c)
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		s.dispatch(c, msg)
	}
}

// writePump serializes outbound messages, switching on per-message
// compression for payloads over 1KB.
func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		c.conn.EnableWriteCompression(len(data) > 1024)
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// dispatch routes one inbound event. Handler panics are contained here:
// the offending room is best-effort recovered and the process keeps
// serving.
func (s *Server) dispatch(c *Client, msg ClientMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("%s | ERROR: handler %q panicked: %v", time.Now().Format(logDate), msg.Type, r)
			if room, ok := s.rooms.get(msg.RoomID); ok {
				room.mu.Lock()
				stopRoundLocked(room)
				if room.State == statePlaying && room.aliveCount() > 1 {
					s.advanceTurnLocked(room)
					s.startRoundLocked(room)
				}
				room.mu.Unlock()
			}
		}
	}()

	switch msg.Type {
	case "register":
		s.handleRegister(c, msg)
	case "getRooms":
		s.sendTo(c.socketID, RoomsListMessage{Type: "roomsList", Rooms: s.rooms.getPublicRooms()})
	case "createRoom":
		s.handleCreateRoom(c, msg)
	case "joinRoom":
		s.handleJoinRoom(c, msg)
	case "leaveRoom":
		s.handleLeaveRoom(c)
	case "deleteRoom":
		s.handleDeleteRoom(c, msg)
	case "toggleReady":
		s.handleToggleReady(c, msg)
	case "startGame":
		s.handleStartGame(c, msg)
	case "newSyllable":
		s.handleNewSyllable(c, msg)
	case "submitWord":
		s.handleSubmitWord(c, msg)
	case "loseLife":
		s.handleLoseLife(c, msg)
	case "suicideRequest":
		s.handleSuicide(c, msg)
	case "endGame":
		s.handleEndGame(c, msg)
	case "updateBotCount":
		s.handleUpdateBotCount(c, msg)
	case "updateSettings":
		s.handleUpdateSettings(c, msg)
	case "typingUpdate":
		s.handleTyping(c, msg)
	case "chatMessage":
		s.handleChat(c, msg)
	default:
		// ignore unknown types
	}
}

// handleRegister binds the client-generated session token to this socket.
func (s *Server) handleRegister(c *Client, msg ClientMessage) {
	if msg.Token == "" {
		return
	}
	c.setToken(msg.Token)
	s.sessions.register(msg.Token, c.socketID, c.ip)
	if s.stores != nil {
		s.stores.recordUser(c.ip, "")
	}
	logf(s.cfg, "GAMES: Session %.8s registered on socket %.8s", msg.Token, c.socketID)
}

// caller resolves the client's token and session; events before register
// are dropped.
func (s *Server) caller(c *Client) (string, *Session, bool) {
	token := c.sessionToken()
	if token == "" {
		return "", nil, false
	}
	sess, ok := s.sessions.getSessionByToken(token)
	if !ok {
		sess = s.sessions.register(token, c.socketID, c.ip)
	}
	return token, sess, true
}

func (s *Server) handleCreateRoom(c *Client, msg ClientMessage) {
	token, _, ok := s.caller(c)
	if !ok {
		return
	}

	host := msg.PlayerData
	if host.Name == "" {
		host.Name = msg.PlayerName
	}

	room := s.rooms.createRoom(msg.Data, c.socketID, token, host)
	s.sessions.setRoom(token, room.ID)

	room.mu.Lock()
	// Idempotent recreate: rebind the returning host's socket.
	if p := room.playerByToken(token); p != nil {
		p.SocketID = c.socketID
		p.Disconnected = false
	}
	snap := snapshotLocked(room)
	room.mu.Unlock()

	s.sendTo(c.socketID, RoomMessage{Type: "roomCreated", Room: snap})
	s.broadcastLobbyRooms()
	logf(s.cfg, "GAMES: Room %q created by %q", room.Name, host.Name)
}

func (s *Server) handleJoinRoom(c *Client, msg ClientMessage) {
	token := msg.Token
	if token == "" {
		token = c.sessionToken()
	}
	if token == "" {
		return
	}
	c.setToken(token)
	s.sessions.register(token, c.socketID, c.ip)

	res, err := s.rooms.joinRoom(msg.RoomID, msg.PlayerData, c.socketID, token, msg.WasHost)
	if err != nil {
		reason := joinErrRoomNotFound
		switch err {
		case errRoomFull:
			reason = joinErrRoomFull
		case errGameInProgress:
			reason = joinErrGameInProgress
		}
		s.sendTo(c.socketID, JoinErrorMessage{Type: "joinError", Reason: reason})
		return
	}

	room := res.room
	s.sessions.setRoom(token, room.ID)

	room.mu.Lock()
	defer room.mu.Unlock()

	switch {
	case res.spectator:
		s.sendTo(c.socketID, SpectatorMessage{Type: "joinedAsSpectator", Waiting: len(room.PendingSpectators)})
		s.broadcastRoomLocked(room, SpectatorMessage{Type: "spectatorsWaiting", Waiting: len(room.PendingSpectators)})

	case res.reconnected:
		s.broadcastRoomLocked(room, PlayerEventMessage{
			Type:       "playerReconnected",
			SocketID:   c.socketID,
			PlayerName: res.player.Name,
		})
		s.sendTo(c.socketID, RoomMessage{Type: "roomJoined", Room: snapshotLocked(room)})
		// A paused round resumes when its missing current player returns.
		if room.State == statePlaying && room.Game.Paused && room.currentPlayer() == res.player {
			s.resumeRoundLocked(room)
		}

	default:
		s.broadcastRoomLocked(room, PlayerEventMessage{
			Type:       "playerJoined",
			SocketID:   c.socketID,
			PlayerName: res.player.Name,
		})
		s.sendTo(c.socketID, RoomMessage{Type: "roomJoined", Room: snapshotLocked(room)})
	}

	if s.stores != nil {
		s.stores.recordUser(c.ip, res.player.Name)
	}
	logf(s.cfg, "GAMES: %q joined room %q", res.player.Name, room.Name)
}

func (s *Server) handleLeaveRoom(c *Client) {
	token, sess, ok := s.caller(c)
	if !ok || sess.RoomID == "" {
		return
	}
	s.playerLeaves(sess.RoomID, token)
}

// playerLeaves applies a voluntary or forced departure and its broadcast
// fallout.
func (s *Server) playerLeaves(roomID, token string) {
	res, err := s.rooms.leaveRoom(roomID, token)
	if err != nil {
		return
	}
	s.sessions.setRoom(token, "")

	if res.roomDeleted {
		s.broadcastLobbyRooms()
		logf(s.cfg, "GAMES: Room %s emptied and deleted", roomID)
		return
	}

	room := res.room
	room.mu.Lock()

	evt := PlayerEventMessage{
		Type:       "playerLeft",
		SocketID:   res.player.SocketID,
		PlayerName: res.player.Name,
	}
	if res.newHost != nil {
		evt.NewHost = res.newHost.Name
	}
	s.broadcastRoomLocked(room, evt)

	if room.State == statePlaying {
		if room.aliveCount() <= 1 {
			s.endGameLocked(room)
		} else if res.wasCurrent {
			stopRoundLocked(room)
			if room.Game.Paused {
				room.Game.Paused = false
			}
			// leaveRoom already left the turn index on the departing
			// player's successor; advance only past a successor that
			// cannot take the turn.
			cur := room.currentPlayer()
			if cur == nil || !cur.IsAlive || cur.Lives <= 0 || cur.Disconnected {
				s.advanceTurnLocked(room)
			} else {
				s.broadcastRoomLocked(room, TurnChangedMessage{
					Type:        "turnChanged",
					PlayerIndex: room.Game.CurrentPlayerIndex,
					Player:      cur.Name,
				})
			}
			s.startRoundLocked(room)
		}
	}
	room.mu.Unlock()

	s.broadcastLobbyRooms()
}

func (s *Server) handleDeleteRoom(c *Client, msg ClientMessage) {
	token, _, ok := s.caller(c)
	if !ok {
		return
	}
	room, found := s.rooms.get(msg.RoomID)
	if !found {
		return
	}

	room.mu.Lock()
	if room.HostToken != token {
		room.mu.Unlock()
		return
	}
	stopRoundLocked(room)
	s.broadcastRoomLocked(room, RoomDeletedMessage{Type: "roomDeleted", RoomID: room.ID})
	tokens := make([]string, 0, len(room.Players))
	for _, p := range room.Players {
		tokens = append(tokens, p.Token)
	}
	room.mu.Unlock()

	s.rooms.delete(msg.RoomID)
	for _, t := range tokens {
		s.sessions.setRoom(t, "")
	}
	s.broadcastLobbyRooms()
}

func (s *Server) handleToggleReady(c *Client, msg ClientMessage) {
	token, _, ok := s.caller(c)
	if !ok {
		return
	}
	room, found := s.rooms.get(msg.RoomID)
	if !found {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	p := room.playerByToken(token)
	if p == nil || room.State != stateLobby {
		return
	}
	p.IsReady = !p.IsReady
	room.touch()
	s.broadcastRoomLocked(room, PlayerEventMessage{
		Type:       "playerReadyChanged",
		SocketID:   p.SocketID,
		PlayerName: p.Name,
		IsReady:    p.IsReady,
	})
}

func (s *Server) handleStartGame(c *Client, msg ClientMessage) {
	token, _, ok := s.caller(c)
	if !ok {
		return
	}
	room, found := s.rooms.get(msg.RoomID)
	if !found {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.HostToken != token || room.State == statePlaying {
		return
	}

	settings := room.Settings
	settings.Scenario = msg.Scenario
	room.Settings = sanitizeSettings(settings)

	for _, p := range room.Players {
		p.Lives = room.Settings.StartingLives
		p.WordsFound = 0
		p.IsAlive = true
	}

	room.State = statePlaying
	room.Game.RoundNumber = 0
	room.Game.CurrentPlayerIndex = 0
	room.Game.CurrentSyllable = ""
	room.Game.Paused = false
	room.Game.usedSyllables = make(map[string]struct{})
	room.Game.trainAllowed = nil
	if room.Settings.Scenario == ScenarioTrainSkip && len(msg.TrainSyllables) > 0 {
		room.Game.trainAllowed = make(map[string]struct{}, len(msg.TrainSyllables))
		for _, syl := range msg.TrainSyllables {
			room.Game.trainAllowed[strings.ToUpper(syl)] = struct{}{}
		}
	}
	room.touch()

	s.broadcastRoomLocked(room, RoomMessage{Type: "gameStarted", Room: snapshotLocked(room)})
	s.startRoundLocked(room)
	logf(s.cfg, "GAMES: Game started in room %q (scenario %q)", room.Name, room.Settings.Scenario)
}

// handleNewSyllable honors a legacy client's own syllable request only
// once the server-controlled window has elapsed, so the scenario filter is
// never bypassed.
func (s *Server) handleNewSyllable(c *Client, msg ClientMessage) {
	_, _, ok := s.caller(c)
	if !ok {
		return
	}
	room, found := s.rooms.get(msg.RoomID)
	if !found {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.State != statePlaying || room.Game.Paused {
		return
	}
	if time.Now().Before(room.Game.serverControlledUntil) {
		return
	}

	stopRoundLocked(room)
	if msg.PlayerIndex != nil {
		room.Game.CurrentPlayerIndex = *msg.PlayerIndex
		room.normalizeTurnIndex()
	}
	s.startRoundLocked(room)
}

func (s *Server) handleSubmitWord(c *Client, msg ClientMessage) {
	token, _, ok := s.caller(c)
	if !ok {
		return
	}
	room, found := s.rooms.get(msg.RoomID)
	if !found {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.State != statePlaying || room.Game.Paused {
		return
	}

	current := room.currentPlayer()
	if current == nil {
		return
	}

	// The host may submit on behalf of a local bot, i.e. a player id that
	// is not seated on the server. Everyone else must be the current
	// player.
	if token != current.Token {
		isHost := token == room.HostToken
		botCase := isHost && msg.PlayerID != "" && room.playerByToken(msg.PlayerID) == nil
		if !botCase {
			return
		}
	}

	if !s.sessions.allowSubmit(token, time.Now()) {
		s.sendTo(c.socketID, WordResultMessage{
			Type:   "wordRejected",
			Reason: "Trop rapide!",
			Word:   msg.Word,
		})
		return
	}

	// Always validate against the server's own syllable, never the one the
	// client claims to be playing.
	word := normalizeWord(msg.Word)
	syllable := room.Game.CurrentSyllable

	if word == "" || !strings.Contains(word, syllable) || !s.dict.contains(word) {
		s.broadcastRoomLocked(room, WordResultMessage{
			Type:       "wordRejected",
			SocketID:   current.SocketID,
			PlayerName: current.Name,
			Word:       msg.Word,
			Reason:     codeInvalidWord,
		})
		return
	}

	stopRoundLocked(room)
	current.WordsFound++
	room.touch()

	s.broadcastRoomLocked(room, WordResultMessage{
		Type:       "wordAccepted",
		SocketID:   current.SocketID,
		PlayerName: current.Name,
		Word:       word,
		WordsFound: current.WordsFound,
	})

	s.advanceTurnLocked(room)
	s.startRoundLocked(room)
}

// handleLoseLife lets the host apply a life loss to a specific player
// (bot turns run host-side).
func (s *Server) handleLoseLife(c *Client, msg ClientMessage) {
	token, _, ok := s.caller(c)
	if !ok {
		return
	}
	room, found := s.rooms.get(msg.RoomID)
	if !found {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.HostToken != token || room.State != statePlaying {
		return
	}
	target := room.playerByToken(msg.PlayerID)
	if target == nil {
		return
	}
	stopRoundLocked(room)
	s.applyLifeLossLocked(room, target)
}

// handleSuicide is a player voluntarily giving up the current turn.
func (s *Server) handleSuicide(c *Client, msg ClientMessage) {
	token, _, ok := s.caller(c)
	if !ok {
		return
	}
	room, found := s.rooms.get(msg.RoomID)
	if !found {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.State != statePlaying {
		return
	}
	p := room.playerByToken(token)
	if p == nil || !p.IsAlive {
		return
	}
	stopRoundLocked(room)
	s.applyLifeLossLocked(room, p)
}

func (s *Server) handleEndGame(c *Client, msg ClientMessage) {
	token, _, ok := s.caller(c)
	if !ok {
		return
	}
	room, found := s.rooms.get(msg.RoomID)
	if !found {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.HostToken != token || room.State != statePlaying {
		return
	}
	s.endGameLocked(room)
}

func (s *Server) handleUpdateBotCount(c *Client, msg ClientMessage) {
	token, _, ok := s.caller(c)
	if !ok {
		return
	}
	room, found := s.rooms.get(msg.RoomID)
	if !found {
		return
	}

	room.mu.Lock()
	if room.HostToken != token || msg.TotalCount < 0 {
		room.mu.Unlock()
		return
	}
	room.displayPlayerCount = msg.TotalCount
	room.touch()
	room.mu.Unlock()

	s.broadcastLobbyRooms()
}

func (s *Server) handleUpdateSettings(c *Client, msg ClientMessage) {
	token, _, ok := s.caller(c)
	if !ok || msg.Settings == nil {
		return
	}
	room, found := s.rooms.get(msg.RoomID)
	if !found {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.HostToken != token || room.State == statePlaying {
		return
	}
	room.Settings = sanitizeSettings(*msg.Settings)
	room.touch()
	s.broadcastRoomLocked(room, SettingsUpdatedMessage{Type: "settingsUpdated", Settings: room.Settings})
}

func (s *Server) handleTyping(c *Client, msg ClientMessage) {
	token, _, ok := s.caller(c)
	if !ok {
		return
	}
	room, found := s.rooms.get(msg.RoomID)
	if !found {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	p := room.playerByToken(token)
	if p == nil {
		return
	}
	s.broadcastRoomLocked(room, TypingMessage{
		Type:       "playerTyping",
		SocketID:   p.SocketID,
		PlayerName: p.Name,
		Text:       msg.Text,
		Accepted:   msg.Accepted,
	})
}

const chatMessageLimit = 300

// resolveStaffRole maps a staff token to a role name, empty when unknown.
func (s *Server) resolveStaffRole(staffToken string) string {
	if staffToken == "" || s.stores == nil {
		return ""
	}
	return s.stores.staffRoleByToken(staffToken)
}

func (s *Server) handleChat(c *Client, msg ClientMessage) {
	token, _, ok := s.caller(c)
	if !ok {
		return
	}
	room, found := s.rooms.get(msg.RoomID)
	if !found {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	p := room.playerByToken(token)
	if p == nil {
		return
	}

	// Bot impersonation is a host-only trick for local bot chatter.
	isBot := msg.IsBot && token == room.HostToken

	body := msg.Message
	if len(body) > chatMessageLimit {
		body = body[:chatMessageLimit]
	}

	name := msg.PlayerName
	if name == "" || !isBot {
		name = p.Name
	}

	s.broadcastRoomLocked(room, ChatMessage{
		Type:       "chatMessage",
		PlayerName: html.EscapeString(name),
		Avatar:     msg.Avatar,
		Message:    html.EscapeString(body),
		ReplyTo:    html.EscapeString(msg.ReplyTo),
		Role:       s.resolveStaffRole(msg.StaffToken),
		IsBot:      isBot,
		SentAt:     time.Now().UnixMilli(),
	})
}

// evictIP disconnects every live socket belonging to an IP with a typed
// banned event. Wired as the guard's eviction hook.
func (s *Server) evictIP(ip, reason string) {
	for _, token := range s.sessions.tokensForIP(ip) {
		sess, ok := s.sessions.getSessionByToken(token)
		if !ok || sess.SocketID == "" {
			continue
		}
		if sess.RoomID != "" {
			s.playerLeaves(sess.RoomID, token)
		}
		if c := s.clientBySocket(sess.SocketID); c != nil {
			s.sendTo(sess.SocketID, BannedMessage{Type: "banned", Reason: reason})
			// Give the write pump a beat to flush before tearing down.
			time.AfterFunc(100*time.Millisecond, func() { s.dropClient(c) })
		}
	}
	logf(s.cfg, "GUARD: Evicted sockets for %s (%s)", ip, reason)
}
