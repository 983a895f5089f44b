package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

// scriptedModel is a test double for the llms.Model interface. It returns
// canned responses in order, repeating the last one, without calling any LLM.
type scriptedModel struct {
	responses []string
	calls     int
	prompts   []string
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range messages {
		if msg.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, part := range msg.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				m.prompts = append(m.prompts, tc.Text)
			}
		}
	}
	idx := m.calls
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.calls++
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.responses[idx]}}}, nil
}

func (m *scriptedModel) Call(_ context.Context, _ string, _ ...llms.CallOption) (string, error) {
	return "", errors.New("not used")
}

func scriptedPolicy(responses ...string) (*llmPolicy, *scriptedModel) {
	m := &scriptedModel{responses: responses}
	return &llmPolicy{llm: m, baseTemp: botBaseTemp}, m
}

func fiveSeatPublic(phase Phase) PublicState {
	return PublicState{
		Phase:       phase,
		QuestNumber: 1,
		LeaderID:    "p1",
		Config:      GameConfig{PlayerCount: 5},
		Players: []Player{
			{ID: "p1", Name: "Alice"}, {ID: "p2", Name: "Bob"}, {ID: "p3", Name: "Carol"},
			{ID: "p4", Name: "Dave"}, {ID: "p5", Name: "Eve"},
		},
	}
}

// ============================================================================
// Response extraction
// ============================================================================

func TestExtractVote(t *testing.T) {
	cases := []struct {
		text    string
		approve bool
		wantErr bool
	}{
		{"VOTE: APPROVE", true, false},
		{"vote: reject", false, false},
		{"I am suspicious.\nVOTE: APPROVE\nSAY: hmm", true, false},
		{"APPROVE", false, true},
		{"", false, true},
	}
	for _, c := range cases {
		got, err := extractVote(c.text)
		if (err != nil) != c.wantErr {
			t.Errorf("extractVote(%q) err = %v, wantErr %v", c.text, err, c.wantErr)
			continue
		}
		if err == nil && got != c.approve {
			t.Errorf("extractVote(%q) = %v, want %v", c.text, got, c.approve)
		}
	}
}

func TestExtractQuest(t *testing.T) {
	if v, err := extractQuest("QUEST: SUCCESS"); err != nil || !v {
		t.Errorf("got %v/%v, want success", v, err)
	}
	if v, err := extractQuest("quest: fail"); err != nil || v {
		t.Errorf("got %v/%v, want fail", v, err)
	}
	if _, err := extractQuest("SUCCESS"); err == nil {
		t.Error("bare SUCCESS without the keyword should fail")
	}
}

func TestExtractTeam(t *testing.T) {
	names, err := extractTeam("thinking...\nTEAM:  Alice ,  Bob \nSAY: follow me")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "Alice" || names[1] != "Bob" {
		t.Errorf("names = %v", names)
	}

	if _, err := extractTeam("no team here"); err == nil {
		t.Error("missing TEAM line should fail")
	}
	if _, err := extractTeam("TEAM: ,,,"); err == nil {
		t.Error("empty TEAM line should fail")
	}
}

func TestExtractTarget(t *testing.T) {
	if name, err := extractTarget("TARGET: Carol", "TARGET"); err != nil || name != "Carol" {
		t.Errorf("got %q/%v", name, err)
	}
	if name, err := extractTarget("inspect: Dave", "INSPECT"); err != nil || name != "Dave" {
		t.Errorf("got %q/%v", name, err)
	}
	if _, err := extractTarget("TARGET: Carol", "INSPECT"); err == nil {
		t.Error("wrong keyword should fail")
	}
}

func TestExtractSay(t *testing.T) {
	if msg, err := extractSay(`SAY: "Let us be careful"`); err != nil || msg != "Let us be careful" {
		t.Errorf("got %q/%v", msg, err)
	}

	// Action keywords leaked into table talk are stripped
	msg, err := extractSay("SAY: I trust this team. VOTE: APPROVE")
	if err != nil || msg != "I trust this team." {
		t.Errorf("got %q/%v, want the leak removed", msg, err)
	}

	if _, err := extractSay("SAY: VOTE: APPROVE"); err == nil {
		t.Error("say consisting only of action keywords should fail")
	}
	if _, err := extractSay("nothing to say"); err == nil {
		t.Error("missing SAY line should fail")
	}
}

func TestResolvePlayerName(t *testing.T) {
	players := fiveSeatPublic(PhaseTeamProposal).Players

	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"p3", "p3", true},
		{"alice", "p1", true},
		{"ALICE", "p1", true},
		{"Bo", "p2", true},
		{"Carol the bold", "p3", true},
		{"a", "", false}, // ambiguous: Alice, Carol, Dave
		{"Zed", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := resolvePlayerName(players, c.raw)
		if ok != c.ok || got != c.want {
			t.Errorf("resolvePlayerName(%q) = %q/%v, want %q/%v", c.raw, got, ok, c.want, c.ok)
		}
	}
}

// ============================================================================
// Decision flows against a scripted model
// ============================================================================

func TestLLMTeamDecision(t *testing.T) {
	policy, m := scriptedPolicy("TEAM: Alice, Bob\nSAY: trust me")
	pub := fiveSeatPublic(PhaseTeamProposal)
	priv := PrivateState{PlayerID: "p1", Role: RoleMerlin, Alignment: AlignmentGood}

	act, err := policy.Decide(context.Background(), pub, priv)
	if err != nil {
		t.Fatal(err)
	}
	if act.Action != ActionProposeTeam {
		t.Fatalf("action = %s", act.Action)
	}
	if len(act.Payload.Team) != 2 || act.Payload.Team[0] != "p1" || act.Payload.Team[1] != "p2" {
		t.Errorf("team = %v, want [p1 p2]", act.Payload.Team)
	}
	if act.Say != "trust me" {
		t.Errorf("say = %q", act.Say)
	}
	if m.calls != 1 {
		t.Errorf("model called %d times, want 1", m.calls)
	}
}

func TestLLMRetriesWithFeedback(t *testing.T) {
	policy, m := scriptedPolicy(
		"I cannot decide",
		"TEAM: Alice, Ghost",
		"TEAM: Alice, Bob",
	)
	pub := fiveSeatPublic(PhaseTeamProposal)
	priv := PrivateState{PlayerID: "p1", Role: RoleMerlin, Alignment: AlignmentGood}

	act, err := policy.Decide(context.Background(), pub, priv)
	if err != nil {
		t.Fatal(err)
	}
	if len(act.Payload.Team) != 2 {
		t.Fatalf("team = %v", act.Payload.Team)
	}
	if m.calls != 3 {
		t.Fatalf("model called %d times, want 3", m.calls)
	}
	if !strings.Contains(m.prompts[1], "[Your previous response was invalid:") {
		t.Error("second prompt should carry the error feedback")
	}
	if !strings.Contains(m.prompts[2], "Ghost") {
		t.Error("third prompt should name the unresolved player")
	}
}

func TestLLMGivesUpAfterMaxRetries(t *testing.T) {
	policy, m := scriptedPolicy("I refuse to follow formats")
	pub := fiveSeatPublic(PhaseTeamProposal)
	// Not the leader, so this resolves to table talk needing a SAY line
	priv := PrivateState{PlayerID: "p2", Role: RoleLoyal, Alignment: AlignmentGood}

	_, err := policy.Decide(context.Background(), pub, priv)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("error = %v", err)
	}
	if m.calls != botMaxRetries {
		t.Errorf("model called %d times, want %d", m.calls, botMaxRetries)
	}
}

func TestLLMLoyalQuestGuard(t *testing.T) {
	policy, m := scriptedPolicy("QUEST: FAIL", "QUEST: SUCCESS")
	pub := fiveSeatPublic(PhaseQuest)
	priv := PrivateState{PlayerID: "p2", Role: RoleLoyal, Alignment: AlignmentGood}

	act, err := policy.Decide(context.Background(), pub, priv)
	if err != nil {
		t.Fatal(err)
	}
	if act.Payload.Success == nil || !*act.Payload.Success {
		t.Errorf("loyal quest card = %+v, want success", act.Payload)
	}
	if m.calls != 2 {
		t.Errorf("model called %d times, want 2", m.calls)
	}
	if !strings.Contains(m.prompts[1], "loyal players must submit SUCCESS") {
		t.Error("retry prompt should explain the loyal constraint")
	}
}

func TestLLMEvilMayFailQuest(t *testing.T) {
	policy, _ := scriptedPolicy("QUEST: FAIL")
	pub := fiveSeatPublic(PhaseQuest)
	priv := PrivateState{PlayerID: "p4", Role: RoleAssassin, Alignment: AlignmentEvil}

	act, err := policy.Decide(context.Background(), pub, priv)
	if err != nil {
		t.Fatal(err)
	}
	if act.Payload.Success == nil || *act.Payload.Success {
		t.Errorf("evil fail card = %+v", act.Payload)
	}
}

func TestLLMVoteWithLeakedSay(t *testing.T) {
	policy, _ := scriptedPolicy("VOTE: REJECT\nSAY: VOTE: REJECT")
	pub := fiveSeatPublic(PhaseTeamVote)
	priv := PrivateState{PlayerID: "p3", Role: RoleLoyal, Alignment: AlignmentGood}

	act, err := policy.Decide(context.Background(), pub, priv)
	if err != nil {
		t.Fatal(err)
	}
	if act.Payload.Approve == nil || *act.Payload.Approve {
		t.Errorf("vote = %+v, want reject", act.Payload)
	}
	if act.Say != "" {
		t.Errorf("say = %q, a pure-keyword say should be dropped", act.Say)
	}
}

func TestLLMLadyRespectsEligibility(t *testing.T) {
	policy, m := scriptedPolicy("INSPECT: Bob", "INSPECT: Carol")
	pub := fiveSeatPublic(PhaseLadyOfLake)
	pub.LadyHolderID = "p1"
	pub.LadyExcluded = []string{"p2", "p5"}
	priv := PrivateState{PlayerID: "p1", Role: RoleMerlin, Alignment: AlignmentGood}

	act, err := policy.Decide(context.Background(), pub, priv)
	if err != nil {
		t.Fatal(err)
	}
	if act.Action != ActionLadyPeek || act.Payload.TargetID != "p3" {
		t.Errorf("got %+v, want a peek at p3", act)
	}
	if m.calls != 2 {
		t.Errorf("model called %d times, want 2", m.calls)
	}
	if !strings.Contains(m.prompts[1], "not an eligible player") {
		t.Error("retry prompt should flag the excluded target")
	}
}

func TestLLMAssassinationTarget(t *testing.T) {
	policy, _ := scriptedPolicy("TARGET: Carol\nSAY: it was you all along")
	pub := fiveSeatPublic(PhaseAssassination)
	priv := PrivateState{PlayerID: "p4", Role: RoleAssassin, Alignment: AlignmentEvil}

	act, err := policy.Decide(context.Background(), pub, priv)
	if err != nil {
		t.Fatal(err)
	}
	if act.Action != ActionAssassinate || act.Payload.TargetID != "p3" {
		t.Errorf("got %+v, want a shot at p3", act)
	}
	if act.Say != "it was you all along" {
		t.Errorf("say = %q", act.Say)
	}
}

func TestLLMFallsBackToTableTalk(t *testing.T) {
	policy, _ := scriptedPolicy("SAY: reporting in")
	pub := fiveSeatPublic(PhaseTeamProposal)
	// Waiting on the leader; everyone else just talks
	priv := PrivateState{PlayerID: "p3", Role: RoleLoyal, Alignment: AlignmentGood}

	act, err := policy.Decide(context.Background(), pub, priv)
	if err != nil {
		t.Fatal(err)
	}
	if act.Action != ActionChat || act.Payload.Message != "reporting in" {
		t.Errorf("got %+v", act)
	}
}

// ============================================================================
// Prompt building
// ============================================================================

func TestBotSystemPrompt(t *testing.T) {
	pub := fiveSeatPublic(PhaseTeamProposal)
	priv := PrivateState{
		PlayerID:  "p1",
		Role:      RoleMerlin,
		Alignment: AlignmentGood,
		Knowledge: []string{"Evil players you see: Dave, Eve"},
	}

	prompt := botSystemPrompt(pub, priv)
	for _, want := range []string{"Alice", "Merlin", "good", "- Evil players you see: Dave, Eve"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q:\n%s", want, prompt)
		}
	}

	priv.Knowledge = nil
	if !strings.Contains(botSystemPrompt(pub, priv), "- None") {
		t.Error("empty knowledge should render as '- None'")
	}
}

func TestBotContextPrompt(t *testing.T) {
	pub := fiveSeatPublic(PhaseTeamVote)
	pub.ProposedTeam = []string{"p1", "p3"}
	pub.ProposalAttempts = 2
	pub.Chat = []ChatEntry{{PlayerID: "p2", Message: "I do not like this team"}}
	priv := PrivateState{PlayerID: "p4", Role: RoleLoyal, Alignment: AlignmentGood}

	prompt := botContextPrompt(pub, priv)
	for _, want := range []string{
		"Phase: team_vote",
		"Leader: Alice",
		"Proposed team: Alice, Carol",
		"Proposal attempts (rejected): 2",
		"Bob: I do not like this team",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("context prompt missing %q:\n%s", want, prompt)
		}
	}

	pub.Chat = nil
	if !strings.Contains(botContextPrompt(pub, priv), "(none)") {
		t.Error("empty chat should render as (none)")
	}
}
