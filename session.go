package main

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"
)

// CreateGameRequest is the payload for POST /game/new. Seats are dealt in
// request order. Roles defaults to the standard set for the seat count;
// hammer auto-approve and the Lady of the Lake both default to on.
type CreateGameRequest struct {
	Players           []SeatRequest `json:"players"`
	Roles             []string      `json:"roles,omitempty"`
	HammerAutoApprove *bool         `json:"hammer_auto_approve,omitempty"`
	LadyOfLake        *bool         `json:"lady_of_lake,omitempty"`
}

type SeatRequest struct {
	Name  string `json:"name"`
	IsBot bool   `json:"is_bot"`
}

// Session owns the one current game and serializes every mutation behind
// its lock. Bots are driven synchronously from the same serialized path,
// so a transition and the bot turns it triggers land as one atomic batch.
// Read queries take the lock briefly and copy out.
type Session struct {
	mu       sync.Mutex
	game     *GameState
	rng      *rand.Rand
	store    *EventStore
	hub      *Hub
	policy   BotPolicy
	fallback *heuristicPolicy

	maxChat       int
	actionTimeout time.Duration
}

// newSession wires the session. A nil rng seeds from the wall clock; a nil
// policy plays every bot with the heuristic.
func newSession(store *EventStore, hub *Hub, policy BotPolicy, rng *rand.Rand, maxChat int, actionTimeout time.Duration) *Session {
	if rng == nil {
		rng = createLocalRandGenerator()
	}
	fallback := newHeuristicPolicy(rng)
	if policy == nil {
		policy = fallback
	}
	return &Session{
		rng:           rng,
		store:         store,
		hub:           hub,
		policy:        policy,
		fallback:      fallback,
		maxChat:       maxChat,
		actionTimeout: actionTimeout,
	}
}

func (s *Session) HasGame() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game != nil
}

func (s *Session) current() (*GameState, error) {
	if s.game == nil {
		return nil, invalidPhasef("no game in progress")
	}
	return s.game, nil
}

// NewGame replaces any current game with a fresh lobby.
func (s *Session) NewGame(req CreateGameRequest) (PublicState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	players := make([]*Player, len(req.Players))
	for i, seat := range req.Players {
		players[i] = &Player{Name: seat.Name, IsBot: seat.IsBot}
	}
	cfg := GameConfig{
		Roles:             req.Roles,
		HammerAutoApprove: req.HammerAutoApprove == nil || *req.HammerAutoApprove,
		LadyOfLake:        req.LadyOfLake == nil || *req.LadyOfLake,
	}
	g, err := newGame(players, cfg)
	if err != nil {
		return PublicState{}, err
	}
	s.game = g
	log.Printf("New game %s created with %d players", g.ID, len(players))
	s.flush(g)
	return publicView(g, s.maxChat), nil
}

// Start deals roles and opens the first proposal round, then lets any
// bots whose turn it is act.
func (s *Session) Start() (PublicState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.current()
	if err != nil {
		return PublicState{}, err
	}
	if err := g.start(s.rng); err != nil {
		return PublicState{}, err
	}
	log.Printf("Game %s started with %d players, %s leads", g.ID, len(g.Players), g.leader().Name)
	s.flush(g)
	s.driveBots(g)
	return publicView(g, s.maxChat), nil
}

// SubmitAction applies one player action, then lets pending bots act.
func (s *Session) SubmitAction(playerID, action string, payload ActionPayload) (PublicState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.current()
	if err != nil {
		return PublicState{}, err
	}
	if err := g.Submit(playerID, action, payload); err != nil {
		return PublicState{}, err
	}
	s.flush(g)
	s.driveBots(g)
	return publicView(g, s.maxChat), nil
}

// Reset drops the current game entirely.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game != nil {
		log.Printf("Game %s reset", s.game.ID)
	}
	s.game = nil
	s.broadcast()
}

// StateFor returns the caller's view of the current game: private when the
// id names a seated player, public otherwise. Returns nil when no game
// exists.
func (s *Session) StateFor(playerID string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game == nil {
		return nil, nil
	}
	if playerID != "" {
		if priv, err := privateView(s.game, playerID, s.maxChat); err == nil {
			return priv, nil
		}
	}
	return publicView(s.game, s.maxChat), nil
}

// Events returns the journal rows the caller may see.
func (s *Session) Events(playerID string) ([]GameEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game == nil || s.store == nil {
		return []GameEvent{}, nil
	}
	var viewer *Player
	if playerID != "" {
		if p, err := s.game.player(playerID); err == nil {
			viewer = p
		}
	}
	return s.store.EventsForViewer(s.game.ID, viewer)
}

// Lobby seat management, one thin wrapper per operation.

func (s *Session) AddPlayer(name string, isBot bool) (PublicState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.current()
	if err != nil {
		return PublicState{}, err
	}
	p, err := g.addPlayer(name, isBot)
	if err != nil {
		return PublicState{}, err
	}
	log.Printf("Player added: name='%s', id=%s, bot=%v", p.Name, p.ID, p.IsBot)
	s.flush(g)
	return publicView(g, s.maxChat), nil
}

func (s *Session) RemovePlayer(id string) (PublicState, error) {
	return s.lobbyOp(func(g *GameState) error { return g.removePlayer(id) })
}

func (s *Session) RenamePlayer(id, name string) (PublicState, error) {
	return s.lobbyOp(func(g *GameState) error { return g.renamePlayer(id, name) })
}

func (s *Session) ClaimSeat(id, name string) (PublicState, error) {
	return s.lobbyOp(func(g *GameState) error { return g.claimSeat(id, name) })
}

func (s *Session) SetReady(id string, ready bool) (PublicState, error) {
	return s.lobbyOp(func(g *GameState) error { return g.setReady(id, ready) })
}

func (s *Session) ResetSeat(id string) (PublicState, error) {
	return s.lobbyOp(func(g *GameState) error { return g.resetSeat(id) })
}

func (s *Session) lobbyOp(op func(*GameState) error) (PublicState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.current()
	if err != nil {
		return PublicState{}, err
	}
	if err := op(g); err != nil {
		return PublicState{}, err
	}
	s.flush(g)
	return publicView(g, s.maxChat), nil
}

// flush journals the events the last transition produced and pushes fresh
// views to stream clients. Runs under the session lock.
func (s *Session) flush(g *GameState) {
	for _, ev := range g.drainEvents() {
		ev.GameID = g.ID
		if s.store != nil {
			s.store.Record(ev)
		}
		DebugLog("session", "event %s: %s", ev.Type, ev.Message)
	}
	s.broadcast()
}

func (s *Session) broadcast() {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastState(s.renderViews())
}

// renderViews marshals one stream frame per seated player plus the public
// fallback for unidentified clients.
func (s *Session) renderViews() StateUpdate {
	up := StateUpdate{PerPlayer: map[string][]byte{}}
	if s.game == nil {
		up.Public = marshalStreamState(nil)
		return up
	}
	up.Public = marshalStreamState(publicView(s.game, s.maxChat))
	for _, p := range s.game.Players {
		priv, err := privateView(s.game, p.ID, s.maxChat)
		if err != nil {
			continue
		}
		up.PerPlayer[p.ID] = marshalStreamState(priv)
	}
	return up
}

// driveBots lets pending bots act until the game waits on a human or
// ends. Every decision is bounded by the action timeout; a failed or
// expired decision falls back to the heuristic so humans are never
// blocked behind a slow bot. Runs under the session lock.
func (s *Session) driveBots(g *GameState) {
	for {
		if g.Phase == PhaseGameOver || g.Phase == PhaseLobby {
			return
		}
		_, bots := g.pendingActors()
		if len(bots) == 0 {
			return
		}
		id := bots[0]

		decision := s.decideFor(g, id)
		if err := g.Submit(id, decision.Action, decision.Payload); err != nil {
			logError("driveBots: "+decision.Action, err)
			fb := s.fallbackFor(g, id)
			if err := g.Submit(id, fb.Action, fb.Payload); err != nil {
				// Both attempts rejected; park this bot until the next
				// human action rather than spin.
				logError("driveBots: fallback "+fb.Action, err)
				s.flush(g)
				return
			}
			decision = fb
		}
		if decision.Action != ActionChat && decision.Say != "" {
			if err := g.Submit(id, ActionChat, ActionPayload{Message: decision.Say}); err != nil {
				logError("driveBots: say", err)
			}
		}
		s.flush(g)
		if decision.Action == ActionChat {
			// A chat move (the assassin deferring to a human teammate)
			// leaves the phase waiting on the same bot.
			return
		}
	}
}

// decideFor asks the configured policy for one decision, falling back to
// the heuristic when the policy errors or runs out the timeout.
func (s *Session) decideFor(g *GameState, playerID string) BotAction {
	pub := publicView(g, s.maxChat)
	priv, err := privateView(g, playerID, s.maxChat)
	if err != nil {
		logError("decideFor: privateView", err)
		return BotAction{Action: ActionChat, Payload: ActionPayload{Message: "pass"}}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.actionTimeout)
	defer cancel()
	decision, err := s.policy.Decide(ctx, pub, priv)
	if err != nil {
		botErr := &BotTimeoutError{PlayerID: playerID, Err: err}
		logError("decideFor", botErr)
		g.emit(GameEvent{Type: EventBotFallback, ActorID: playerID, Visibility: VisibilityActor,
			Message: "Decision policy failed, heuristic fallback used"})
		return s.fallbackFor(g, playerID)
	}
	return decision
}

func (s *Session) fallbackFor(g *GameState, playerID string) BotAction {
	pub := publicView(g, s.maxChat)
	priv, err := privateView(g, playerID, s.maxChat)
	if err != nil {
		return BotAction{Action: ActionChat, Payload: ActionPayload{Message: "pass"}}
	}
	decision, _ := s.fallback.Decide(context.Background(), pub, priv)
	return decision
}
