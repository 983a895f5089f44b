package main

import (
	"math/rand"
)

type Alignment string

const (
	AlignmentGood Alignment = "good"
	AlignmentEvil Alignment = "evil"
)

// KnowledgeRule tags what a role privately learns about other players at
// game start. The visibility calculator consumes these tags generically;
// no code path branches on a concrete role name.
type KnowledgeRule string

const (
	SeesAllEvilExceptOne KnowledgeRule = "sees_all_evil_except_one"
	SeesEvilTeam         KnowledgeRule = "sees_evil_team"
	SeesMerlinAmbiguous  KnowledgeRule = "sees_merlin_ambiguous_with_one_decoy"
	NoSpecialKnowledge   KnowledgeRule = "no_special_knowledge"
)

// Role is an immutable catalog entry. The attribute flags feed the generic
// visibility pass: HiddenFromMerlin hides the role from the
// sees_all_evil_except_one viewer, HiddenFromEvil keeps it out of the
// mutual evil channel in both directions, and MerlinCandidate makes it one
// of the ambiguous candidates shown to the sees_merlin_ambiguous viewer.
type Role struct {
	Name             string
	Alignment        Alignment
	Knowledge        KnowledgeRule
	Unique           bool
	HiddenFromMerlin bool
	HiddenFromEvil   bool
	MerlinCandidate  bool
	Description      string
}

const (
	RoleMerlin   = "Merlin"
	RolePercival = "Percival"
	RoleLoyal    = "Loyal Servant"
	RoleAssassin = "Assassin"
	RoleMorgana  = "Morgana"
	RoleMordred  = "Mordred"
	RoleOberon   = "Oberon"
	RoleMinion   = "Minion of Mordred"
)

var roleCatalog = map[string]Role{
	RoleMerlin: {
		Name: RoleMerlin, Alignment: AlignmentGood, Knowledge: SeesAllEvilExceptOne,
		Unique: true, MerlinCandidate: true,
		Description: "Sees the evil players, except Mordred. Must not be found by the Assassin.",
	},
	RolePercival: {
		Name: RolePercival, Alignment: AlignmentGood, Knowledge: SeesMerlinAmbiguous,
		Unique:      true,
		Description: "Sees two Merlin candidates without knowing which is the real one.",
	},
	RoleLoyal: {
		Name: RoleLoyal, Alignment: AlignmentGood, Knowledge: NoSpecialKnowledge,
		Description: "No special powers, relies on deduction and discussion.",
	},
	RoleAssassin: {
		Name: RoleAssassin, Alignment: AlignmentEvil, Knowledge: SeesEvilTeam,
		Unique:      true,
		Description: "Knows the other evil players. After three quests succeed, may win for evil by killing Merlin.",
	},
	RoleMorgana: {
		Name: RoleMorgana, Alignment: AlignmentEvil, Knowledge: SeesEvilTeam,
		Unique: true, MerlinCandidate: true,
		Description: "Knows the other evil players and appears to Percival as a Merlin candidate.",
	},
	RoleMordred: {
		Name: RoleMordred, Alignment: AlignmentEvil, Knowledge: SeesEvilTeam,
		Unique: true, HiddenFromMerlin: true,
		Description: "Knows the other evil players but is hidden from Merlin.",
	},
	RoleOberon: {
		Name: RoleOberon, Alignment: AlignmentEvil, Knowledge: NoSpecialKnowledge,
		Unique: true, HiddenFromEvil: true,
		Description: "Evil, but unknown to the other evil players and does not know them.",
	},
	RoleMinion: {
		Name: RoleMinion, Alignment: AlignmentEvil, Knowledge: SeesEvilTeam,
		Description: "Knows the other evil players.",
	},
}

// requiredEvilCount is the evil share of each supported table size. A
// requested role list must match it exactly.
var requiredEvilCount = map[int]int{
	5:  2,
	6:  2,
	7:  3,
	8:  4,
	9:  4,
	10: 5,
}

var defaultRoleSets = map[int][]string{
	5:  {RoleMerlin, RolePercival, RoleLoyal, RoleAssassin, RoleMinion},
	6:  {RoleMerlin, RolePercival, RoleLoyal, RoleLoyal, RoleAssassin, RoleMorgana},
	7:  {RoleMerlin, RolePercival, RoleLoyal, RoleLoyal, RoleAssassin, RoleMorgana, RoleMinion},
	8:  {RoleMerlin, RolePercival, RoleLoyal, RoleLoyal, RoleAssassin, RoleMorgana, RoleMordred, RoleMinion},
	9:  {RoleMerlin, RolePercival, RoleLoyal, RoleLoyal, RoleLoyal, RoleAssassin, RoleMorgana, RoleMordred, RoleMinion},
	10: {RoleMerlin, RolePercival, RoleLoyal, RoleLoyal, RoleLoyal, RoleAssassin, RoleMorgana, RoleMordred, RoleOberon, RoleMinion},
}

func defaultRolesFor(playerCount int) ([]string, error) {
	roles, ok := defaultRoleSets[playerCount]
	if !ok {
		return nil, configErrorf("unsupported player count %d, need 5-10", playerCount)
	}
	out := make([]string, len(roles))
	copy(out, roles)
	return out, nil
}

// validateRoles checks a requested role list against the catalog: every
// name must exist, unique roles appear at most once, Merlin and the
// Assassin must both be present, Morgana requires Percival, and the
// good/evil split must match the table for this player count.
func validateRoles(roleNames []string, playerCount int) error {
	if _, ok := requiredEvilCount[playerCount]; !ok {
		return configErrorf("unsupported player count %d, need 5-10", playerCount)
	}
	if len(roleNames) != playerCount {
		return configErrorf("role count %d must match player count %d", len(roleNames), playerCount)
	}

	counts := make(map[string]int, len(roleNames))
	evil := 0
	for _, name := range roleNames {
		role, ok := roleCatalog[name]
		if !ok {
			return configErrorf("unknown role %q", name)
		}
		counts[name]++
		if role.Unique && counts[name] > 1 {
			return configErrorf("role %q may appear only once", name)
		}
		if role.Alignment == AlignmentEvil {
			evil++
		}
	}

	if counts[RoleMerlin] == 0 || counts[RoleAssassin] == 0 {
		return configErrorf("Merlin and Assassin are required roles")
	}
	if counts[RoleMorgana] > 0 && counts[RolePercival] == 0 {
		return configErrorf("Morgana requires Percival")
	}
	if want := requiredEvilCount[playerCount]; evil != want {
		return configErrorf("%d players need %d evil roles, got %d", playerCount, want, evil)
	}
	return nil
}

func shuffleRoleNames(names []string, rng *rand.Rand) {
	for i := len(names) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		names[i], names[j] = names[j], names[i]
	}
}

// assignRoles deals the validated role list to the seated players by a
// uniform shuffle. The generator is injected so tests can seed it.
func assignRoles(players []*Player, roleNames []string, rng *rand.Rand) {
	shuffled := make([]string, len(roleNames))
	copy(shuffled, roleNames)
	shuffleRoleNames(shuffled, rng)
	for i, p := range players {
		p.Role = shuffled[i]
	}
}

func alignmentFor(roleName string) Alignment {
	return roleCatalog[roleName].Alignment
}
