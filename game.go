package main

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Phase string

const (
	PhaseLobby         Phase = "lobby"
	PhaseTeamProposal  Phase = "team_proposal"
	PhaseTeamVote      Phase = "team_vote"
	PhaseQuest         Phase = "quest"
	PhaseLadyOfLake    Phase = "lady_of_lake"
	PhaseAssassination Phase = "assassination"
	PhaseGameOver      Phase = "game_over"
)

// Action types accepted by Submit.
const (
	ActionProposeTeam = "propose_team"
	ActionVoteTeam    = "vote_team"
	ActionQuestVote   = "quest_vote"
	ActionLadyPeek    = "lady_peek"
	ActionAssassinate = "assassinate"
	ActionChat        = "chat"
)

// Player is one seat. Seat order is the index into GameState.Players and
// is fixed for the game's lifetime.
type Player struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsBot   bool   `json:"is_bot"`
	Claimed bool   `json:"claimed"`
	Ready   bool   `json:"ready"`
	Role    string `json:"role,omitempty"`
}

// GameConfig is fixed at creation. Roles holds the explicitly requested
// role list, or nil to use the default set for the seat count at start.
type GameConfig struct {
	PlayerCount       int      `json:"player_count"`
	Roles             []string `json:"roles,omitempty"`
	HammerAutoApprove bool     `json:"hammer_auto_approve"`
	LadyOfLake        bool     `json:"lady_of_lake"`
}

type QuestRecord struct {
	QuestNumber   int      `json:"quest_number"`
	Team          []string `json:"team"`
	Fails         int      `json:"fails"`
	RequiredFails int      `json:"required_fails"`
	Succeeded     bool     `json:"succeeded"`
}

type ChatEntry struct {
	PlayerID string    `json:"player_id"`
	Name     string    `json:"name"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sent_at"`
}

// LadyRecord is one use of the Lady of the Lake token. The revealed
// alignment is for the holder's eyes only; views filter on HolderID.
type LadyRecord struct {
	HolderID  string    `json:"holder_id"`
	TargetID  string    `json:"target_id"`
	Alignment Alignment `json:"alignment"`
}

// ActionPayload carries the per-action fields of a submitted action.
// Approve and Success are pointers so an absent boolean is distinguishable
// from false.
type ActionPayload struct {
	Team     []string `json:"team,omitempty"`
	Approve  *bool    `json:"approve,omitempty"`
	Success  *bool    `json:"success,omitempty"`
	TargetID string   `json:"target_id,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// GameState is the authoritative state of one game. It is mutated only by
// the transition methods below; each validates fully before touching
// anything, so a rejected action leaves the state exactly as it was. The
// owning Session serializes all access.
type GameState struct {
	ID               string
	Config           GameConfig
	Players          []*Player
	Started          bool
	Phase            Phase
	QuestNumber      int
	LeaderIndex      int
	ProposedTeam     []string
	TeamVotes        map[string]bool
	QuestVotes       map[string]bool
	ProposalAttempts int
	QuestHistory     []QuestRecord
	SuccessCount     int
	FailCount        int
	Winner           Alignment
	AssassinTarget   string
	Chat             []ChatEntry
	LadyHolderID     string
	LadyUsedQuest    int
	LadyPendingPhase Phase
	LadyHistory      []LadyRecord

	visibility map[string]map[string]Knowledge
	events     []GameEvent
}

// newGame validates the config against the seated players and returns a
// lobby-phase game. Empty player ids are filled with fresh uuids.
func newGame(players []*Player, cfg GameConfig) (*GameState, error) {
	cfg.PlayerCount = len(players)
	roles := cfg.Roles
	if len(roles) == 0 {
		var err error
		roles, err = defaultRolesFor(cfg.PlayerCount)
		if err != nil {
			return nil, err
		}
	}
	if err := validateRoles(roles, cfg.PlayerCount); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(players))
	for i, p := range players {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if p.Name == "" {
			p.Name = defaultSeatName(p.IsBot, i+1)
		}
		if seen[p.ID] {
			return nil, configErrorf("duplicate player id %s", p.ID)
		}
		seen[p.ID] = true
		if p.IsBot {
			p.Ready = true
		}
	}

	g := &GameState{
		ID:          uuid.New().String(),
		Config:      cfg,
		Players:     players,
		Phase:       PhaseLobby,
		QuestNumber: 1,
		TeamVotes:   map[string]bool{},
		QuestVotes:  map[string]bool{},
	}
	g.emit(GameEvent{Type: EventGameCreated, Visibility: VisibilityPublic,
		Message: fmt.Sprintf("Game created for %d players", cfg.PlayerCount)})
	return g, nil
}

func defaultSeatName(isBot bool, seat int) string {
	if isBot {
		return fmt.Sprintf("Bot %d", seat)
	}
	return fmt.Sprintf("Player %d", seat)
}

func (g *GameState) player(id string) (*Player, error) {
	for _, p := range g.Players {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, unknownPlayerf("unknown player %q", id)
}

func (g *GameState) hasPlayer(id string) bool {
	_, err := g.player(id)
	return err == nil
}

func (g *GameState) leader() *Player {
	return g.Players[g.LeaderIndex]
}

func (g *GameState) namesFor(ids []string) string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if p, err := g.player(id); err == nil {
			names = append(names, p.Name)
		}
	}
	return strings.Join(names, ", ")
}

func (g *GameState) emit(ev GameEvent) {
	ev.QuestNumber = g.QuestNumber
	ev.Phase = g.Phase
	g.events = append(g.events, ev)
}

// drainEvents hands the events accumulated since the last drain to the
// caller. The session journals and broadcasts them outside the machine.
func (g *GameState) drainEvents() []GameEvent {
	evs := g.events
	g.events = nil
	return evs
}

// effectiveRoles resolves the role list that will be dealt at start:
// the explicitly configured list, or the default set for the current
// seat count.
func (g *GameState) effectiveRoles() ([]string, error) {
	if len(g.Config.Roles) > 0 {
		return g.Config.Roles, nil
	}
	return defaultRolesFor(len(g.Players))
}

// start assigns roles, computes visibility once, and opens the first
// proposal round with seat 0 leading. The generator is the engine's one
// source of randomness; callers seed it for deterministic play.
func (g *GameState) start(rng *rand.Rand) error {
	if g.Phase != PhaseLobby {
		return invalidPhasef("game already started")
	}
	roles, err := g.effectiveRoles()
	if err != nil {
		return err
	}
	if err := validateRoles(roles, len(g.Players)); err != nil {
		return err
	}

	assignRoles(g.Players, roles, rng)
	g.visibility = computeVisibility(g.Players)
	g.Started = true
	g.Phase = PhaseTeamProposal
	g.LeaderIndex = 0
	g.QuestNumber = 1
	g.ProposalAttempts = 0
	if g.Config.LadyOfLake {
		// The token starts at the last seat, to the first leader's right.
		g.LadyHolderID = g.Players[len(g.Players)-1].ID
	}

	g.emit(GameEvent{Type: EventGameStarted, Visibility: VisibilityPublic, Message: "Game started"})
	for _, p := range g.Players {
		g.emit(GameEvent{Type: EventRoleAssigned, ActorID: p.ID, Visibility: VisibilityActor,
			Message: fmt.Sprintf("%s is %s (%s)", p.Name, p.Role, alignmentFor(p.Role))})
	}
	return nil
}

// Submit validates and applies one action as a single atomic transition.
func (g *GameState) Submit(playerID, action string, payload ActionPayload) error {
	player, err := g.player(playerID)
	if err != nil {
		return err
	}
	// Chat is open in every phase, the lobby and finished games included.
	if action == ActionChat {
		return g.handleChat(player, payload)
	}
	if g.Phase == PhaseGameOver {
		return gameOverf("game is over")
	}
	if !g.Started {
		return invalidPhasef("game not started")
	}

	switch action {
	case ActionProposeTeam:
		return g.handlePropose(player, payload)
	case ActionVoteTeam:
		return g.handleTeamVote(player, payload)
	case ActionQuestVote:
		return g.handleQuestVote(player, payload)
	case ActionLadyPeek:
		return g.handleLadyPeek(player, payload)
	case ActionAssassinate:
		return g.handleAssassinate(player, payload)
	}
	return invalidPhasef("unknown action %q", action)
}

func (g *GameState) handleChat(player *Player, payload ActionPayload) error {
	if payload.Message == "" {
		return invalidPhasef("chat message required")
	}
	g.Chat = append(g.Chat, ChatEntry{
		PlayerID: player.ID,
		Name:     player.Name,
		Message:  payload.Message,
		SentAt:   time.Now(),
	})
	g.emit(GameEvent{Type: EventChat, ActorID: player.ID, Visibility: VisibilityPublic,
		Message: fmt.Sprintf("%s: %s", player.Name, payload.Message)})
	return nil
}

func (g *GameState) handlePropose(player *Player, payload ActionPayload) error {
	if g.Phase != PhaseTeamProposal {
		return invalidPhasef("not in team proposal phase")
	}
	if player.ID != g.leader().ID {
		return invalidPhasef("only the leader may propose a team")
	}
	size := teamSizeFor(len(g.Players), g.QuestNumber)
	if len(payload.Team) != size {
		return invalidTeamf("quest %d needs a team of %d, got %d", g.QuestNumber, size, len(payload.Team))
	}
	seen := make(map[string]bool, len(payload.Team))
	for _, id := range payload.Team {
		if !g.hasPlayer(id) {
			return invalidTeamf("unknown player %q in team", id)
		}
		if seen[id] {
			return invalidTeamf("duplicate player %q in team", id)
		}
		seen[id] = true
	}

	g.ProposedTeam = slices.Clone(payload.Team)
	g.TeamVotes = map[string]bool{}
	g.emit(GameEvent{Type: EventTeamProposed, ActorID: player.ID, Visibility: VisibilityPublic,
		Message: fmt.Sprintf("%s proposes: %s", player.Name, g.namesFor(payload.Team))})

	if g.Config.HammerAutoApprove && g.ProposalAttempts >= hammerThreshold(len(g.Players)) {
		// Hammer: the vote is skipped and the team goes straight out.
		g.Phase = PhaseQuest
		g.emit(GameEvent{Type: EventTeamHammered, ActorID: player.ID, Visibility: VisibilityPublic,
			Message: fmt.Sprintf("Team auto-approved after %d rejected proposals", g.ProposalAttempts)})
	} else {
		g.Phase = PhaseTeamVote
	}
	return nil
}

func (g *GameState) handleTeamVote(player *Player, payload ActionPayload) error {
	if g.Phase != PhaseTeamVote {
		return invalidPhasef("not in team vote phase")
	}
	if payload.Approve == nil {
		return invalidPhasef("approve must be true or false")
	}
	if _, voted := g.TeamVotes[player.ID]; voted {
		return duplicateVotef("%s already voted on this proposal", player.Name)
	}

	g.TeamVotes[player.ID] = *payload.Approve
	g.emit(GameEvent{Type: EventTeamVote, ActorID: player.ID, Visibility: VisibilityActor,
		Message: fmt.Sprintf("%s voted to %s the team", player.Name, approveWord(*payload.Approve))})
	if len(g.TeamVotes) < len(g.Players) {
		return nil
	}

	// Last ballot in: resolve exactly once.
	approved, approvals, rejections := tallyTeamVote(g.TeamVotes)
	if approved {
		g.ProposalAttempts = 0
		g.Phase = PhaseQuest
		g.emit(GameEvent{Type: EventTeamApproved, Visibility: VisibilityPublic,
			Message: fmt.Sprintf("Team approved %d-%d", approvals, rejections)})
	} else {
		g.ProposalAttempts++
		g.ProposedTeam = nil
		g.TeamVotes = map[string]bool{}
		g.Phase = PhaseTeamProposal
		g.LeaderIndex = (g.LeaderIndex + 1) % len(g.Players)
		g.emit(GameEvent{Type: EventTeamRejected, Visibility: VisibilityPublic,
			Message: fmt.Sprintf("Team rejected %d-%d, %s now leads", approvals, rejections, g.leader().Name)})
	}
	return nil
}

func (g *GameState) handleQuestVote(player *Player, payload ActionPayload) error {
	if g.Phase != PhaseQuest {
		return invalidPhasef("not in quest phase")
	}
	if !slices.Contains(g.ProposedTeam, player.ID) {
		return invalidPhasef("only team members vote on the quest")
	}
	if payload.Success == nil {
		return invalidPhasef("success must be true or false")
	}
	if alignmentFor(player.Role) == AlignmentGood && !*payload.Success {
		return invalidPhasef("good players must submit success")
	}
	if _, voted := g.QuestVotes[player.ID]; voted {
		return duplicateVotef("%s already voted on this quest", player.Name)
	}

	g.QuestVotes[player.ID] = *payload.Success
	g.emit(GameEvent{Type: EventQuestVote, ActorID: player.ID, Visibility: VisibilityActor,
		Message: fmt.Sprintf("%s submitted a quest card", player.Name)})
	if len(g.QuestVotes) < len(g.ProposedTeam) {
		return nil
	}
	g.resolveQuest()
	return nil
}

// resolveQuest records the outcome and routes onward: game_over on a third
// fail, assassination (possibly via the Lady) on a third success, else the
// next proposal round. Quest number and leader do not advance on the
// game-ending branches.
func (g *GameState) resolveQuest() {
	required := requiredFails(len(g.Players), g.QuestNumber)
	success, fails := tallyQuestVote(g.QuestVotes, required)
	g.QuestHistory = append(g.QuestHistory, QuestRecord{
		QuestNumber:   g.QuestNumber,
		Team:          slices.Clone(g.ProposedTeam),
		Fails:         fails,
		RequiredFails: required,
		Succeeded:     success,
	})
	if success {
		g.SuccessCount++
	} else {
		g.FailCount++
	}
	g.emit(GameEvent{Type: EventQuestResolved, Visibility: VisibilityPublic,
		Message: fmt.Sprintf("Quest %d %s (%d fail votes)", g.QuestNumber, questWord(success), fails)})

	resolved := g.QuestNumber
	g.ProposedTeam = nil
	g.TeamVotes = map[string]bool{}
	g.QuestVotes = map[string]bool{}

	if g.FailCount >= 3 {
		g.endGame(AlignmentEvil, "Evil wins: three quests failed")
		return
	}
	if g.SuccessCount >= 3 {
		if g.ladyGateOpen(resolved) {
			g.enterLady(resolved, PhaseAssassination)
		} else {
			g.Phase = PhaseAssassination
		}
		return
	}

	g.QuestNumber++
	g.LeaderIndex = (g.LeaderIndex + 1) % len(g.Players)
	g.ProposalAttempts = 0
	if g.ladyGateOpen(resolved) {
		g.enterLady(resolved, PhaseTeamProposal)
	} else {
		g.Phase = PhaseTeamProposal
	}
}

// ladyGateOpen reports whether the Lady of the Lake interrupts play after
// the given resolved quest: from the second quest on, at most once per
// quest slot.
func (g *GameState) ladyGateOpen(resolvedQuest int) bool {
	return g.Config.LadyOfLake && resolvedQuest >= 2 && g.LadyUsedQuest != resolvedQuest
}

// enterLady opens the Lady phase and parks the phase the game resumes in
// afterwards: wherever quest resolution would have gone with the Lady
// disabled.
func (g *GameState) enterLady(resolvedQuest int, pending Phase) {
	g.LadyUsedQuest = resolvedQuest
	g.LadyPendingPhase = pending
	g.Phase = PhaseLadyOfLake
}

func (g *GameState) handleLadyPeek(player *Player, payload ActionPayload) error {
	if g.Phase != PhaseLadyOfLake {
		return invalidPhasef("not in lady of the lake phase")
	}
	if player.ID != g.LadyHolderID {
		return invalidPhasef("only the Lady of the Lake holder may act")
	}
	if payload.TargetID == "" {
		return invalidPhasef("target_id required")
	}
	target, err := g.player(payload.TargetID)
	if err != nil {
		return err
	}
	if target.ID == player.ID {
		return invalidPhasef("cannot target yourself")
	}
	// Full-history exclusion: anyone who has held or been examined by the
	// token is out.
	for _, rec := range g.LadyHistory {
		if rec.HolderID == target.ID || rec.TargetID == target.ID {
			return invalidPhasef("%s has already been part of a Lady of the Lake use", target.Name)
		}
	}

	alignment := alignmentFor(target.Role)
	g.LadyHistory = append(g.LadyHistory, LadyRecord{
		HolderID:  player.ID,
		TargetID:  target.ID,
		Alignment: alignment,
	})
	g.LadyHolderID = target.ID
	g.emit(GameEvent{Type: EventLadyPeek, ActorID: player.ID, TargetID: target.ID, Visibility: VisibilityActor,
		Message: fmt.Sprintf("The Lady reveals that %s is %s", target.Name, alignment)})
	g.emit(GameEvent{Type: EventLadyMoved, ActorID: player.ID, TargetID: target.ID, Visibility: VisibilityPublic,
		Message: fmt.Sprintf("%s examined %s; the Lady of the Lake passes to %s", player.Name, target.Name, target.Name)})
	g.Phase = g.LadyPendingPhase
	return nil
}

func (g *GameState) handleAssassinate(player *Player, payload ActionPayload) error {
	if g.Phase != PhaseAssassination {
		return invalidPhasef("not in assassination phase")
	}
	if player.Role != RoleAssassin {
		return invalidPhasef("only the Assassin may choose a target")
	}
	if payload.TargetID == "" {
		return invalidPhasef("target_id required")
	}
	target, err := g.player(payload.TargetID)
	if err != nil {
		return err
	}

	g.AssassinTarget = target.ID
	hit := target.Role == RoleMerlin
	g.emit(GameEvent{Type: EventAssassination, ActorID: player.ID, TargetID: target.ID, Visibility: VisibilityPublic,
		Message: fmt.Sprintf("The Assassin strikes %s", target.Name)})
	if hit {
		g.endGame(AlignmentEvil, "Evil wins: Merlin was assassinated")
	} else {
		g.endGame(AlignmentGood, "Good wins: the Assassin missed Merlin")
	}
	return nil
}

func (g *GameState) endGame(winner Alignment, message string) {
	g.Winner = winner
	g.Phase = PhaseGameOver
	g.emit(GameEvent{Type: EventGameOver, Visibility: VisibilityPublic, Message: message})
}

// pendingActors returns the player ids the current phase is waiting on,
// split into humans and bots. Drives client hints and bot scheduling.
func (g *GameState) pendingActors() (humans, bots []string) {
	add := func(id string) {
		p, err := g.player(id)
		if err != nil {
			return
		}
		if p.IsBot {
			bots = append(bots, id)
		} else {
			humans = append(humans, id)
		}
	}

	switch g.Phase {
	case PhaseTeamProposal:
		if len(g.ProposedTeam) == 0 {
			add(g.leader().ID)
		}
	case PhaseTeamVote:
		for _, p := range g.Players {
			if _, ok := g.TeamVotes[p.ID]; !ok {
				add(p.ID)
			}
		}
	case PhaseQuest:
		for _, id := range g.ProposedTeam {
			if _, ok := g.QuestVotes[id]; !ok {
				add(id)
			}
		}
	case PhaseLadyOfLake:
		if g.LadyHolderID != "" {
			add(g.LadyHolderID)
		}
	case PhaseAssassination:
		if g.AssassinTarget == "" {
			for _, p := range g.Players {
				if p.Role == RoleAssassin {
					add(p.ID)
				}
			}
		}
	}
	return humans, bots
}

// Lobby seat management. All of these reject outside the lobby phase.

func (g *GameState) addPlayer(name string, isBot bool) (*Player, error) {
	if g.Phase != PhaseLobby {
		return nil, invalidPhasef("players can only be added in the lobby")
	}
	if len(g.Players) >= 10 {
		return nil, configErrorf("game is full, 10 players max")
	}
	if name == "" {
		name = defaultSeatName(isBot, len(g.Players)+1)
	}
	p := &Player{ID: uuid.New().String(), Name: name, IsBot: isBot, Ready: isBot}
	g.Players = append(g.Players, p)
	g.Config.PlayerCount = len(g.Players)
	return p, nil
}

func (g *GameState) removePlayer(id string) error {
	if g.Phase != PhaseLobby {
		return invalidPhasef("players can only be removed in the lobby")
	}
	for i, p := range g.Players {
		if p.ID == id {
			g.Players = slices.Delete(g.Players, i, i+1)
			g.Config.PlayerCount = len(g.Players)
			return nil
		}
	}
	return unknownPlayerf("unknown player %q", id)
}

func (g *GameState) renamePlayer(id, name string) error {
	if g.Phase != PhaseLobby {
		return invalidPhasef("players can only be renamed in the lobby")
	}
	if name == "" {
		return invalidPhasef("name required")
	}
	p, err := g.player(id)
	if err != nil {
		return err
	}
	p.Name = name
	return nil
}

// claimSeat attaches a human to an unclaimed, non-bot seat, optionally
// taking over its display name.
func (g *GameState) claimSeat(id, name string) error {
	if g.Phase != PhaseLobby {
		return invalidPhasef("seats can only be claimed in the lobby")
	}
	p, err := g.player(id)
	if err != nil {
		return err
	}
	if p.IsBot {
		return invalidPhasef("cannot claim a bot seat")
	}
	if p.Claimed {
		return invalidPhasef("seat %s is already claimed", p.Name)
	}
	p.Claimed = true
	if name != "" {
		p.Name = name
	}
	return nil
}

func (g *GameState) setReady(id string, ready bool) error {
	if g.Phase != PhaseLobby {
		return invalidPhasef("readiness can only change in the lobby")
	}
	p, err := g.player(id)
	if err != nil {
		return err
	}
	p.Ready = ready
	return nil
}

// resetSeat releases a claimed seat back to the lobby pool. Bot seats keep
// their standing readiness.
func (g *GameState) resetSeat(id string) error {
	if g.Phase != PhaseLobby {
		return invalidPhasef("seats can only be reset in the lobby")
	}
	p, err := g.player(id)
	if err != nil {
		return err
	}
	p.Claimed = false
	p.Ready = p.IsBot
	return nil
}

func approveWord(approve bool) string {
	if approve {
		return "approve"
	}
	return "reject"
}

func questWord(success bool) string {
	if success {
		return "succeeded"
	}
	return "failed"
}
