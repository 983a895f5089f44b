package main

import (
	"context"
	"math/rand"
	"slices"
)

// BotAction is one decision returned by a policy. Say, when non-empty, is
// posted to chat alongside the action.
type BotAction struct {
	Action  string
	Payload ActionPayload
	Say     string
}

// BotPolicy decides one action for a bot player, given exactly what that
// player is allowed to see. Implementations must honor ctx; the session
// bounds every call with a timeout and falls back to the heuristic policy
// when a call errors or overruns.
type BotPolicy interface {
	Decide(ctx context.Context, pub PublicState, priv PrivateState) (BotAction, error)
}

// heuristicPolicy plays simple percentages with no table talk. It is the
// default policy and the fallback when the LLM policy fails.
type heuristicPolicy struct {
	rng *rand.Rand
}

func newHeuristicPolicy(rng *rand.Rand) *heuristicPolicy {
	return &heuristicPolicy{rng: rng}
}

func (h *heuristicPolicy) Decide(_ context.Context, pub PublicState, priv PrivateState) (BotAction, error) {
	switch pub.Phase {
	case PhaseTeamProposal:
		return h.proposeTeam(pub, priv), nil
	case PhaseTeamVote:
		return h.voteTeam(pub, priv), nil
	case PhaseQuest:
		return h.questVote(priv), nil
	case PhaseLadyOfLake:
		return h.ladyPeek(pub, priv), nil
	case PhaseAssassination:
		return h.assassinate(pub, priv), nil
	}
	return BotAction{Action: ActionChat, Payload: ActionPayload{Message: "pass"}}, nil
}

func (h *heuristicPolicy) proposeTeam(pub PublicState, priv PrivateState) BotAction {
	size := teamSizeFor(len(pub.Players), pub.QuestNumber)
	others := make([]string, 0, len(pub.Players)-1)
	for _, p := range pub.Players {
		if p.ID != priv.PlayerID {
			others = append(others, p.ID)
		}
	}
	h.rng.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })
	team := append([]string{priv.PlayerID}, others[:size-1]...)
	return BotAction{Action: ActionProposeTeam, Payload: ActionPayload{Team: team}}
}

func (h *heuristicPolicy) voteTeam(pub PublicState, priv PrivateState) BotAction {
	var approve bool
	if priv.Alignment == AlignmentEvil {
		for _, id := range knownEvil(priv) {
			if slices.Contains(pub.ProposedTeam, id) {
				approve = true
				break
			}
		}
		approve = approve || h.rng.Float64() < 0.3
	} else {
		approve = slices.Contains(pub.ProposedTeam, priv.PlayerID) || h.rng.Float64() < 0.4
	}
	return BotAction{Action: ActionVoteTeam, Payload: ActionPayload{Approve: &approve}}
}

func (h *heuristicPolicy) questVote(priv PrivateState) BotAction {
	success := true
	if priv.Alignment == AlignmentEvil {
		success = h.rng.Float64() > 0.7
	}
	return BotAction{Action: ActionQuestVote, Payload: ActionPayload{Success: &success}}
}

func (h *heuristicPolicy) ladyPeek(pub PublicState, priv PrivateState) BotAction {
	var candidates []string
	for _, p := range pub.Players {
		if p.ID == priv.PlayerID || slices.Contains(pub.LadyExcluded, p.ID) {
			continue
		}
		candidates = append(candidates, p.ID)
	}
	if len(candidates) == 0 {
		return BotAction{Action: ActionChat, Payload: ActionPayload{Message: "pass"}}
	}
	target := candidates[h.rng.Intn(len(candidates))]
	return BotAction{Action: ActionLadyPeek, Payload: ActionPayload{TargetID: target}}
}

func (h *heuristicPolicy) assassinate(pub PublicState, priv PrivateState) BotAction {
	evil := knownEvil(priv)

	// Defer to a human teammate when one is on the evil side; the human
	// coordinates the kill through the operator console.
	for _, p := range pub.Players {
		if !p.IsBot && p.ID != priv.PlayerID && slices.Contains(evil, p.ID) {
			return BotAction{Action: ActionChat,
				Payload: ActionPayload{Message: "I'll let the team decide who we should target."}}
		}
	}

	// Aim at someone not known to be evil.
	var candidates []string
	for _, p := range pub.Players {
		if p.ID != priv.PlayerID && !slices.Contains(evil, p.ID) {
			candidates = append(candidates, p.ID)
		}
	}
	if len(candidates) == 0 {
		for _, p := range pub.Players {
			if p.ID != priv.PlayerID {
				candidates = append(candidates, p.ID)
			}
		}
	}
	target := candidates[h.rng.Intn(len(candidates))]
	return BotAction{Action: ActionAssassinate, Payload: ActionPayload{TargetID: target}}
}

// knownEvil lists the players this bot can identify as evil: itself when
// evil, plus everyone its visibility marks evil.
func knownEvil(priv PrivateState) []string {
	var ids []string
	if priv.Alignment == AlignmentEvil {
		ids = append(ids, priv.PlayerID)
	}
	for id, k := range priv.Visibility {
		if k == KnowledgeEvil {
			ids = append(ids, id)
		}
	}
	return ids
}
