package main

// Knowledge is what one player may privately see about another player's
// alignment.
type Knowledge string

const (
	KnowledgeEvil      Knowledge = "evil"
	KnowledgeAmbiguous Knowledge = "ambiguous_good_candidate"
	KnowledgeUnknown   Knowledge = "unknown"
)

// computeVisibility derives, for every player, what it privately learns
// about every other player's alignment. It runs exactly once, at role
// assignment, and is pure in the assignment: a wrong result here is a
// correctness bug, not a UX bug.
//
// One generic pass applies the viewer's knowledge rule to each subject's
// catalog attributes; no branch names a concrete role:
//   - sees_all_evil_except_one: evil subjects show as evil unless their
//     role is flagged HiddenFromMerlin.
//   - sees_evil_team: evil subjects show as evil unless their role is
//     flagged HiddenFromEvil. The hidden role itself carries
//     no_special_knowledge, so the exclusion cuts both directions.
//   - sees_merlin_ambiguous_with_one_decoy: MerlinCandidate subjects show
//     as ambiguous_good_candidate, real and decoy indistinguishable.
//
// Every other viewer/subject pairing is unknown.
func computeVisibility(players []*Player) map[string]map[string]Knowledge {
	vis := make(map[string]map[string]Knowledge, len(players))
	for _, viewer := range players {
		row := make(map[string]Knowledge, len(players)-1)
		viewerRole := roleCatalog[viewer.Role]
		for _, subject := range players {
			if subject.ID == viewer.ID {
				continue
			}
			row[subject.ID] = knowledgeOf(viewerRole, roleCatalog[subject.Role])
		}
		vis[viewer.ID] = row
	}
	return vis
}

func knowledgeOf(viewer, subject Role) Knowledge {
	switch viewer.Knowledge {
	case SeesAllEvilExceptOne:
		if subject.Alignment == AlignmentEvil && !subject.HiddenFromMerlin {
			return KnowledgeEvil
		}
	case SeesEvilTeam:
		if subject.Alignment == AlignmentEvil && !subject.HiddenFromEvil {
			return KnowledgeEvil
		}
	case SeesMerlinAmbiguous:
		if subject.MerlinCandidate {
			return KnowledgeAmbiguous
		}
	}
	return KnowledgeUnknown
}
