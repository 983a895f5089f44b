package main

import (
	"encoding/json"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestPublicViewStripsRoles(t *testing.T) {
	g := startedTestGame(t, 5, 1, GameConfig{})
	pub := publicView(g, 30)

	for _, p := range pub.Players {
		if p.Role != "" {
			t.Errorf("public view leaks role %s for %s", p.Role, p.ID)
		}
	}
	if pub.LeaderID != "p1" || pub.HammerThreshold != 4 {
		t.Errorf("leader=%s threshold=%d, want p1/4", pub.LeaderID, pub.HammerThreshold)
	}
}

func TestPublicViewJSONHasNoRoleNames(t *testing.T) {
	g := startedTestGame(t, 5, 1, GameConfig{})
	proposeTeam(t, g, []string{"p1", "p2"})

	raw, err := json.Marshal(publicView(g, 30))
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)
	for name := range roleCatalog {
		if strings.Contains(text, name) {
			t.Errorf("public JSON contains role name %q", name)
		}
	}
}

func TestPublicViewTeamVoteProgress(t *testing.T) {
	g := startedTestGame(t, 5, 1, GameConfig{})
	proposeTeam(t, g, []string{"p1", "p2"})
	v := true
	mustSubmit(t, g, "p3", ActionVoteTeam, ActionPayload{Approve: &v})
	mustSubmit(t, g, "p1", ActionVoteTeam, ActionPayload{Approve: &v})

	pub := publicView(g, 30)
	if !slices.Equal(pub.TeamVotesCast, []string{"p1", "p3"}) {
		t.Errorf("votes cast = %v, want sorted ids only", pub.TeamVotesCast)
	}
	if pub.TeamVotes != nil {
		t.Error("ballot values must stay hidden while the vote is open")
	}

	voteAllTeam(t, g, true)
	pub = publicView(g, 30)
	if pub.Phase != PhaseQuest {
		t.Fatalf("phase = %s, want quest", pub.Phase)
	}
	if len(pub.TeamVotes) != 5 {
		t.Errorf("resolved ballots should be public, got %d", len(pub.TeamVotes))
	}
	if pub.TeamVotesCast != nil {
		t.Error("cast list should clear once the vote resolves")
	}
}

func TestPublicViewQuestProgressHidesCards(t *testing.T) {
	g := startedTestGame(t, 5, 1, GameConfig{})
	good := goodSeats(g)
	proposeTeam(t, g, good[:2])
	voteAllTeam(t, g, true)

	v := true
	mustSubmit(t, g, good[0], ActionQuestVote, ActionPayload{Success: &v})
	pub := publicView(g, 30)
	if !slices.Equal(pub.QuestVotesCast, []string{good[0]}) {
		t.Errorf("quest votes cast = %v, want [%s]", pub.QuestVotesCast, good[0])
	}
}

func TestPublicViewLadyExcluded(t *testing.T) {
	g := startedTestGame(t, 5, 1, GameConfig{LadyOfLake: true})
	good := goodSeats(g)
	runQuest(t, g, good[:2], 0)
	runQuest(t, g, good[:3], 0)
	mustSubmit(t, g, "p5", ActionLadyPeek, ActionPayload{TargetID: "p1"})

	pub := publicView(g, 30)
	if !slices.Contains(pub.LadyExcluded, "p5") || !slices.Contains(pub.LadyExcluded, "p1") {
		t.Errorf("excluded = %v, want p5 and p1", pub.LadyExcluded)
	}
	if pub.LadyHolderID != "p1" || pub.LadyUsedQuest != 2 {
		t.Errorf("holder=%s used=%d, want p1/2", pub.LadyHolderID, pub.LadyUsedQuest)
	}
}

func TestPrivateViewShowsOwnRoleOnly(t *testing.T) {
	g := startedTestGame(t, 5, 1, GameConfig{})
	priv, err := privateView(g, "p1", 30)
	if err != nil {
		t.Fatal(err)
	}

	me, _ := g.player("p1")
	if priv.PlayerID != "p1" || priv.Role != me.Role {
		t.Errorf("got player=%s role=%s, want p1/%s", priv.PlayerID, priv.Role, me.Role)
	}
	if priv.Alignment != alignmentFor(me.Role) || priv.RoleDescription == "" {
		t.Errorf("alignment=%s description=%q", priv.Alignment, priv.RoleDescription)
	}
	for _, p := range priv.Players {
		if p.ID == "p1" {
			if p.Role != me.Role {
				t.Errorf("own roster entry role = %q, want %s", p.Role, me.Role)
			}
		} else if p.Role != "" {
			t.Errorf("roster leaks role %s for %s", p.Role, p.ID)
		}
	}
	if len(priv.Visibility) != 4 {
		t.Errorf("visibility row has %d entries, want 4", len(priv.Visibility))
	}
}

func TestPrivateViewUnknownPlayer(t *testing.T) {
	g := startedTestGame(t, 5, 1, GameConfig{})
	if _, err := privateView(g, "ghost", 30); err == nil {
		t.Fatal("unknown player id should fail")
	}
}

func TestPrivateViewBeforeStart(t *testing.T) {
	g := newTestGame(t, 5, GameConfig{})
	priv, err := privateView(g, "p1", 30)
	if err != nil {
		t.Fatal(err)
	}
	if priv.Role != "" || priv.Alignment != "" || priv.Visibility != nil {
		t.Errorf("lobby private view should carry no role data: %+v", priv)
	}
}

func TestPrivateViewLadyPeeks(t *testing.T) {
	g := startedTestGame(t, 5, 1, GameConfig{LadyOfLake: true})
	good := goodSeats(g)
	runQuest(t, g, good[:2], 0)
	runQuest(t, g, good[:3], 0)
	mustSubmit(t, g, "p5", ActionLadyPeek, ActionPayload{TargetID: "p1"})

	holderView, err := privateView(g, "p5", 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(holderView.LadyPeeks) != 1 {
		t.Fatalf("holder sees %d peeks, want 1", len(holderView.LadyPeeks))
	}
	target, _ := g.player("p1")
	if holderView.LadyPeeks[0].Alignment != alignmentFor(target.Role) {
		t.Errorf("peek alignment = %s, want %s", holderView.LadyPeeks[0].Alignment, alignmentFor(target.Role))
	}

	targetView, err := privateView(g, "p1", 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(targetView.LadyPeeks) != 0 {
		t.Error("the examined player must not see the result")
	}
}

func TestKnowledgeLines(t *testing.T) {
	g := &GameState{Players: fullRoster()}
	g.visibility = computeVisibility(g.Players)

	merlin, _ := g.player("p1")
	lines := knowledgeLines(g, merlin)
	if len(lines) != 1 {
		t.Fatalf("merlin lines = %v", lines)
	}
	if !strings.Contains(lines[0], "Frank, Grace, Ivan, Judy") {
		t.Errorf("merlin should see the evil team sorted by name: %s", lines[0])
	}
	if !strings.Contains(lines[0], "Mordred stays hidden") {
		t.Errorf("merlin line should flag the hidden role: %s", lines[0])
	}

	assassin, _ := g.player("p6")
	lines = knowledgeLines(g, assassin)
	if len(lines) != 1 || !strings.Contains(lines[0], "Oberon is unknown") {
		t.Errorf("assassin lines = %v", lines)
	}

	percival, _ := g.player("p2")
	lines = knowledgeLines(g, percival)
	if len(lines) != 1 || !strings.Contains(lines[0], "Alice, Grace") {
		t.Errorf("percival lines = %v", lines)
	}

	oberon, _ := g.player("p9")
	lines = knowledgeLines(g, oberon)
	if len(lines) != 1 || !strings.Contains(lines[0], "unknown to the other evil players") {
		t.Errorf("oberon lines = %v", lines)
	}

	loyal, _ := g.player("p3")
	if lines = knowledgeLines(g, loyal); len(lines) != 0 {
		t.Errorf("loyal servant lines = %v, want none", lines)
	}
}

func TestChatTail(t *testing.T) {
	var chat []ChatEntry
	for i := 0; i < 5; i++ {
		chat = append(chat, ChatEntry{Message: string(rune('a' + i)), SentAt: time.Now()})
	}

	tail := chatTail(chat, 2)
	if len(tail) != 2 || tail[0].Message != "d" || tail[1].Message != "e" {
		t.Errorf("tail = %v", tail)
	}
	if got := chatTail(chat, 0); len(got) != 5 {
		t.Errorf("max 0 should keep everything, got %d", len(got))
	}
	if got := chatTail(chat, 10); len(got) != 5 {
		t.Errorf("oversized max should keep everything, got %d", len(got))
	}
}

func TestWaitingOnInPublicView(t *testing.T) {
	g := startedTestGame(t, 5, 1, GameConfig{})
	pub := publicView(g, 30)
	if !slices.Equal(pub.WaitingOn, []string{"p1"}) {
		t.Errorf("waiting on %v, want the leader", pub.WaitingOn)
	}
}
