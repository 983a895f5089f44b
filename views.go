package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// PublicState is the full game state minus anything that would leak hidden
// roles: no role or alignment fields, no Lady history, and an open team
// vote reduced to the ids that have voted. Resolved team votes stay public
// until the next proposal clears them.
type PublicState struct {
	GameID           string          `json:"game_id"`
	Started          bool            `json:"started"`
	Phase            Phase           `json:"phase"`
	QuestNumber      int             `json:"quest_number"`
	LeaderIndex      int             `json:"leader_index"`
	LeaderID         string          `json:"leader_id,omitempty"`
	Config           GameConfig      `json:"config"`
	Players          []Player        `json:"players"`
	ProposedTeam     []string        `json:"proposed_team,omitempty"`
	ProposalAttempts int             `json:"proposal_attempts"`
	HammerThreshold  int             `json:"hammer_threshold,omitempty"`
	TeamVotesCast    []string        `json:"team_votes_cast,omitempty"`
	TeamVotes        map[string]bool `json:"team_votes,omitempty"`
	QuestVotesCast   []string        `json:"quest_votes_cast,omitempty"`
	QuestHistory     []QuestRecord   `json:"quest_history"`
	SuccessCount     int             `json:"success_count"`
	FailCount        int             `json:"fail_count"`
	Winner           Alignment       `json:"winner,omitempty"`
	AssassinTarget   string          `json:"assassin_target,omitempty"`
	LadyHolderID     string          `json:"lady_holder_id,omitempty"`
	LadyUsedQuest    int             `json:"lady_used_quest,omitempty"`
	LadyExcluded     []string        `json:"lady_excluded,omitempty"`
	Chat             []ChatEntry     `json:"chat"`
	WaitingOn        []string        `json:"waiting_on,omitempty"`
}

// PrivateState adds everything one player alone may see.
type PrivateState struct {
	PublicState
	PlayerID        string               `json:"player_id"`
	Role            string               `json:"role,omitempty"`
	RoleDescription string               `json:"role_description,omitempty"`
	Alignment       Alignment            `json:"alignment,omitempty"`
	Knowledge       []string             `json:"knowledge,omitempty"`
	Visibility      map[string]Knowledge `json:"visibility,omitempty"`
	LadyPeeks       []LadyRecord         `json:"lady_peeks,omitempty"`
}

func publicView(g *GameState, maxChat int) PublicState {
	players := make([]Player, len(g.Players))
	for i, p := range g.Players {
		cp := *p
		cp.Role = ""
		players[i] = cp
	}

	pub := PublicState{
		GameID:           g.ID,
		Started:          g.Started,
		Phase:            g.Phase,
		QuestNumber:      g.QuestNumber,
		LeaderIndex:      g.LeaderIndex,
		Config:           g.Config,
		Players:          players,
		ProposedTeam:     slices.Clone(g.ProposedTeam),
		ProposalAttempts: g.ProposalAttempts,
		QuestHistory:     slices.Clone(g.QuestHistory),
		SuccessCount:     g.SuccessCount,
		FailCount:        g.FailCount,
		Winner:           g.Winner,
		AssassinTarget:   g.AssassinTarget,
		LadyHolderID:     g.LadyHolderID,
		LadyUsedQuest:    g.LadyUsedQuest,
		Chat:             chatTail(g.Chat, maxChat),
	}
	if len(g.Players) > 0 {
		pub.LeaderID = g.Players[g.LeaderIndex].ID
		pub.HammerThreshold = hammerThreshold(len(g.Players))
	}
	if g.Phase == PhaseTeamVote {
		pub.TeamVotesCast = sortedKeys(g.TeamVotes)
	} else if len(g.TeamVotes) > 0 {
		pub.TeamVotes = maps.Clone(g.TeamVotes)
	}
	if g.Phase == PhaseQuest {
		pub.QuestVotesCast = sortedKeys(g.QuestVotes)
	}
	// Token movements are public; the revealed alignments are not.
	for _, rec := range g.LadyHistory {
		for _, id := range []string{rec.HolderID, rec.TargetID} {
			if !slices.Contains(pub.LadyExcluded, id) {
				pub.LadyExcluded = append(pub.LadyExcluded, id)
			}
		}
	}
	humans, bots := g.pendingActors()
	pub.WaitingOn = append(humans, bots...)
	return pub
}

func privateView(g *GameState, playerID string, maxChat int) (PrivateState, error) {
	player, err := g.player(playerID)
	if err != nil {
		return PrivateState{}, err
	}

	priv := PrivateState{PublicState: publicView(g, maxChat), PlayerID: player.ID}
	if player.Role == "" {
		return priv, nil
	}

	role := roleCatalog[player.Role]
	priv.Role = role.Name
	priv.RoleDescription = role.Description
	priv.Alignment = role.Alignment
	priv.Knowledge = knowledgeLines(g, player)
	if row, ok := g.visibility[player.ID]; ok {
		priv.Visibility = maps.Clone(row)
	}
	for _, rec := range g.LadyHistory {
		if rec.HolderID == player.ID {
			priv.LadyPeeks = append(priv.LadyPeeks, rec)
		}
	}
	for i := range priv.Players {
		if priv.Players[i].ID == player.ID {
			priv.Players[i].Role = player.Role
		}
	}
	return priv, nil
}

// knowledgeLines renders the viewer's start-of-game information as
// readable lines, driven by the visibility row and the catalog attributes
// of the roles actually dealt. Names are sorted so output is stable.
func knowledgeLines(g *GameState, viewer *Player) []string {
	role := roleCatalog[viewer.Role]
	var evil, ambiguous []string
	for id, k := range g.visibility[viewer.ID] {
		p, err := g.player(id)
		if err != nil {
			continue
		}
		switch k {
		case KnowledgeEvil:
			evil = append(evil, p.Name)
		case KnowledgeAmbiguous:
			ambiguous = append(ambiguous, p.Name)
		}
	}
	slices.Sort(evil)
	slices.Sort(ambiguous)

	var lines []string
	switch role.Knowledge {
	case SeesAllEvilExceptOne:
		if len(evil) > 0 {
			line := "Evil players you see: " + strings.Join(evil, ", ")
			if hidden := g.rolesInPlay(func(r Role) bool { return r.HiddenFromMerlin }); len(hidden) > 0 {
				line += fmt.Sprintf(" (%s stays hidden from you)", strings.Join(hidden, ", "))
			}
			lines = append(lines, line)
		}
	case SeesEvilTeam:
		if len(evil) > 0 {
			line := "Known evil players: " + strings.Join(evil, ", ")
			if hidden := g.rolesInPlay(func(r Role) bool { return r.HiddenFromEvil }); len(hidden) > 0 {
				line += fmt.Sprintf(" (%s is unknown to you)", strings.Join(hidden, ", "))
			}
			lines = append(lines, line)
		}
	case SeesMerlinAmbiguous:
		if len(ambiguous) > 0 {
			lines = append(lines, "Merlin candidates, one real and one decoy: "+strings.Join(ambiguous, ", "))
		}
	}
	if role.Alignment == AlignmentEvil && role.HiddenFromEvil {
		lines = append(lines, "You are evil but unknown to the other evil players.")
	}
	return lines
}

// rolesInPlay lists the names of dealt roles matching the predicate.
func (g *GameState) rolesInPlay(match func(Role) bool) []string {
	var names []string
	for _, p := range g.Players {
		if p.Role == "" {
			continue
		}
		if r := roleCatalog[p.Role]; match(r) && !slices.Contains(names, r.Name) {
			names = append(names, r.Name)
		}
	}
	slices.Sort(names)
	return names
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func chatTail(chat []ChatEntry, max int) []ChatEntry {
	if max <= 0 || len(chat) <= max {
		return slices.Clone(chat)
	}
	return slices.Clone(chat[len(chat)-max:])
}
