package main

import (
	"testing"
)

// seatRoles builds a roster with roles pinned in seat order, bypassing the
// shuffle.
func seatRoles(roles []string) []*Player {
	players := testPlayers(len(roles))
	for i, r := range roles {
		players[i].Role = r
	}
	return players
}

// fullRoster is the 10-player set with every special role in play:
// p1 Merlin, p2 Percival, p3-p5 Loyal, p6 Assassin, p7 Morgana,
// p8 Mordred, p9 Oberon, p10 Minion.
func fullRoster() []*Player {
	return seatRoles([]string{
		RoleMerlin, RolePercival, RoleLoyal, RoleLoyal, RoleLoyal,
		RoleAssassin, RoleMorgana, RoleMordred, RoleOberon, RoleMinion,
	})
}

func expectKnowledge(t *testing.T, vis map[string]map[string]Knowledge, viewer string, want map[string]Knowledge) {
	t.Helper()
	row := vis[viewer]
	for subject, k := range row {
		expected := KnowledgeUnknown
		if w, ok := want[subject]; ok {
			expected = w
		}
		if k != expected {
			t.Errorf("%s sees %s as %s, want %s", viewer, subject, k, expected)
		}
	}
}

func TestMerlinSeesEvilExceptMordred(t *testing.T) {
	vis := computeVisibility(fullRoster())
	expectKnowledge(t, vis, "p1", map[string]Knowledge{
		"p6":  KnowledgeEvil,
		"p7":  KnowledgeEvil,
		"p9":  KnowledgeEvil,
		"p10": KnowledgeEvil,
		// p8 is Mordred and stays unknown
	})
}

func TestEvilSeeEachOtherExceptOberon(t *testing.T) {
	vis := computeVisibility(fullRoster())
	expectKnowledge(t, vis, "p6", map[string]Knowledge{
		"p7":  KnowledgeEvil,
		"p8":  KnowledgeEvil,
		"p10": KnowledgeEvil,
		// p9 is Oberon and stays unknown
	})
	expectKnowledge(t, vis, "p8", map[string]Knowledge{
		"p6":  KnowledgeEvil,
		"p7":  KnowledgeEvil,
		"p10": KnowledgeEvil,
	})
}

func TestOberonSeesNobody(t *testing.T) {
	vis := computeVisibility(fullRoster())
	expectKnowledge(t, vis, "p9", map[string]Knowledge{})
}

func TestPercivalSeesTwoCandidates(t *testing.T) {
	vis := computeVisibility(fullRoster())
	expectKnowledge(t, vis, "p2", map[string]Knowledge{
		"p1": KnowledgeAmbiguous,
		"p7": KnowledgeAmbiguous,
	})
}

func TestPercivalWithoutMorgana(t *testing.T) {
	// Without Morgana in play, Percival sees exactly the real Merlin
	vis := computeVisibility(seatRoles([]string{
		RoleMerlin, RolePercival, RoleLoyal, RoleAssassin, RoleMinion,
	}))
	expectKnowledge(t, vis, "p2", map[string]Knowledge{
		"p1": KnowledgeAmbiguous,
	})
}

func TestLoyalServantSeesNobody(t *testing.T) {
	vis := computeVisibility(fullRoster())
	expectKnowledge(t, vis, "p3", map[string]Knowledge{})
}

func TestVisibilityCoversAllPairs(t *testing.T) {
	players := fullRoster()
	vis := computeVisibility(players)
	if len(vis) != len(players) {
		t.Fatalf("got %d viewer rows, want %d", len(vis), len(players))
	}
	for viewer, row := range vis {
		if _, ok := row[viewer]; ok {
			t.Errorf("%s has a visibility entry for itself", viewer)
		}
		if len(row) != len(players)-1 {
			t.Errorf("%s has %d subjects, want %d", viewer, len(row), len(players)-1)
		}
	}
}
