package main

// questTeamSizes maps player count to the required team size for quests
// 1-5. Load-bearing for win/loss correctness; reproduced exactly from the
// standard tables.
var questTeamSizes = map[int][5]int{
	5:  {2, 3, 2, 3, 3},
	6:  {2, 3, 4, 3, 4},
	7:  {2, 3, 3, 4, 4},
	8:  {3, 4, 4, 5, 5},
	9:  {3, 4, 4, 5, 5},
	10: {3, 4, 4, 5, 5},
}

// teamSizeFor returns the team size for a quest. Inputs are guarded by
// config validation, so out-of-range lookups are programmer errors.
func teamSizeFor(playerCount, questNumber int) int {
	return questTeamSizes[playerCount][questNumber-1]
}

// requiredFails returns how many fail votes sink a quest. Quest 4 needs
// two fails at seven players and up; everything else needs one.
func requiredFails(playerCount, questNumber int) int {
	if playerCount >= 7 && questNumber == 4 {
		return 2
	}
	return 1
}

// hammerThreshold is the consecutive-rejection count after which an
// auto-approving game force-approves the next proposal: one less than the
// player count, so every seat has led once and failed.
func hammerThreshold(playerCount int) int {
	return playerCount - 1
}

// tallyTeamVote resolves a completed team vote. Approved iff approvals
// strictly exceed rejections; ties reject.
func tallyTeamVote(votes map[string]bool) (approved bool, approvals, rejections int) {
	for _, v := range votes {
		if v {
			approvals++
		} else {
			rejections++
		}
	}
	return approvals > rejections, approvals, rejections
}

// tallyQuestVote resolves a completed quest vote. The quest fails iff the
// fail count reaches required.
func tallyQuestVote(votes map[string]bool, required int) (success bool, fails int) {
	for _, v := range votes {
		if !v {
			fails++
		}
	}
	return fails < required, fails
}
