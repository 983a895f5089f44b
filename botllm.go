package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

const (
	botMaxRetries = 3
	botMaxTokens  = 512
	botBaseTemp   = 0.4
)

// llmPolicy decides bot actions by prompting an LLM with the same view a
// human player would see. Responses are parsed from fixed line formats
// (TEAM:, VOTE:, QUEST:, TARGET:, INSPECT:, SAY:); invalid responses are
// retried with error feedback and a slightly higher temperature.
type llmPolicy struct {
	llm      llms.Model
	baseTemp float64
}

// llmHTTPClient is the HTTP client handed to LLM providers. With request
// logging enabled it traces every model call, prompt and completion
// bodies included, through the request log.
func llmHTTPClient() *http.Client {
	if appLogger != nil && appLogger.logRequests {
		return &http.Client{Transport: &LoggingRoundTripper{Transport: http.DefaultTransport, Logger: appLogger}}
	}
	return http.DefaultClient
}

// initBotPolicy sets up the LLM decision policy from config. Returns nil
// when no provider is configured or init fails; bots then run on the
// heuristic policy alone.
func initBotPolicy(cfg AppConfig) BotPolicy {
	provider := cfg.BotProvider
	model := cfg.BotModel

	baseTemp := botBaseTemp
	if cfg.BotTemperature != "" {
		if f, err := strconv.ParseFloat(cfg.BotTemperature, 64); err == nil {
			baseTemp = f
			log.Printf("Bot policy: temperature=%.2f", f)
		} else {
			log.Printf("Bot policy: invalid temperature %q: %v", cfg.BotTemperature, err)
		}
	}

	switch provider {
	case "ollama":
		llm, err := ollama.New(
			ollama.WithModel(model),
			ollama.WithServerURL(cfg.BotOllamaURL),
			ollama.WithHTTPClient(llmHTTPClient()),
		)
		if err != nil {
			log.Printf("Bot policy: failed to init Ollama (%s at %s): %v", model, cfg.BotOllamaURL, err)
			return nil
		}
		log.Printf("Bot policy: Ollama model=%s url=%s", model, cfg.BotOllamaURL)
		return &llmPolicy{llm: llm, baseTemp: baseTemp}
	case "openai":
		llm, err := openai.New(openai.WithModel(model), openai.WithHTTPClient(llmHTTPClient()))
		if err != nil {
			log.Printf("Bot policy: failed to init OpenAI (%s): %v", model, err)
			return nil
		}
		log.Printf("Bot policy: OpenAI model=%s", model)
		return &llmPolicy{llm: llm, baseTemp: baseTemp}
	case "claude":
		llm, err := anthropic.New(anthropic.WithModel(model), anthropic.WithHTTPClient(llmHTTPClient()))
		if err != nil {
			log.Printf("Bot policy: failed to init Claude (%s): %v", model, err)
			return nil
		}
		log.Printf("Bot policy: Claude model=%s", model)
		return &llmPolicy{llm: llm, baseTemp: baseTemp}
	case "gemini":
		llm, err := googleai.New(context.Background(), googleai.WithDefaultModel(model))
		if err != nil {
			log.Printf("Bot policy: failed to init Gemini (%s): %v", model, err)
			return nil
		}
		log.Printf("Bot policy: Gemini model=%s", model)
		return &llmPolicy{llm: llm, baseTemp: baseTemp}
	case "groq":
		llm, err := openai.New(
			openai.WithModel(model),
			openai.WithBaseURL("https://api.groq.com/openai/v1"),
			openai.WithToken(cfg.GroqAPIKey),
			openai.WithHTTPClient(llmHTTPClient()),
		)
		if err != nil {
			log.Printf("Bot policy: failed to init Groq (%s): %v", model, err)
			return nil
		}
		log.Printf("Bot policy: Groq model=%s", model)
		return &llmPolicy{llm: llm, baseTemp: baseTemp}
	case "openai-compatible":
		if cfg.BotURL == "" {
			log.Printf("Bot policy: bot_url is required for openai-compatible provider")
			return nil
		}
		opts := []openai.Option{
			openai.WithModel(model),
			openai.WithBaseURL(cfg.BotURL),
			openai.WithHTTPClient(llmHTTPClient()),
		}
		if cfg.BotAPIKey != "" {
			opts = append(opts, openai.WithToken(cfg.BotAPIKey))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			log.Printf("Bot policy: failed to init openai-compatible (%s at %s): %v", model, cfg.BotURL, err)
			return nil
		}
		log.Printf("Bot policy: openai-compatible model=%s url=%s", model, cfg.BotURL)
		return &llmPolicy{llm: llm, baseTemp: baseTemp}
	default:
		log.Printf("Bot policy: heuristic only (set bot_provider to enable LLM bots)")
		return nil
	}
}

func (p *llmPolicy) Decide(ctx context.Context, pub PublicState, priv PrivateState) (BotAction, error) {
	system := botSystemPrompt(pub, priv)
	situation := botContextPrompt(pub, priv)

	switch {
	case pub.Phase == PhaseTeamProposal && priv.PlayerID == pub.LeaderID:
		return p.decideTeam(ctx, system, situation, pub, priv)
	case pub.Phase == PhaseTeamVote:
		return p.decideTeamVote(ctx, system, situation)
	case pub.Phase == PhaseQuest:
		return p.decideQuestVote(ctx, system, situation, priv)
	case pub.Phase == PhaseLadyOfLake && pub.LadyHolderID == priv.PlayerID:
		return p.decideLadyPeek(ctx, system, situation, pub, priv)
	case pub.Phase == PhaseAssassination && priv.Role == RoleAssassin:
		return p.decideAssassination(ctx, system, situation, pub, priv)
	default:
		return p.decideChat(ctx, system, situation)
	}
}

func (p *llmPolicy) decideTeam(ctx context.Context, system, situation string, pub PublicState, priv PrivateState) (BotAction, error) {
	size := teamSizeFor(pub.Config.PlayerCount, pub.QuestNumber)
	prompt := situation + fmt.Sprintf(
		"\n\nYou are the leader. Propose a quest team of exactly %d players chosen from: %s. Including yourself is allowed.\n"+
			"Answer with one line in this exact format:\nTEAM: Name1, Name2\n"+
			"You may add one line of table talk as:\nSAY: message",
		size, strings.Join(playerNames(pub.Players), ", "))

	var team []string
	var say string
	err := p.generateWithRetry(ctx, system, prompt, func(text string) error {
		names, err := extractTeam(text)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(names))
		seen := map[string]bool{}
		for _, name := range names {
			id, ok := resolvePlayerName(pub.Players, name)
			if !ok {
				return fmt.Errorf("unknown player name %q", name)
			}
			if seen[id] {
				return fmt.Errorf("player %q listed twice", name)
			}
			seen[id] = true
			ids = append(ids, id)
		}
		if len(ids) != size {
			return fmt.Errorf("team must have exactly %d members, got %d", size, len(ids))
		}
		team = ids
		say, _ = extractSay(text)
		return nil
	})
	if err != nil {
		return BotAction{}, err
	}
	return BotAction{Action: ActionProposeTeam, Payload: ActionPayload{Team: team}, Say: say}, nil
}

func (p *llmPolicy) decideTeamVote(ctx context.Context, system, situation string) (BotAction, error) {
	prompt := situation +
		"\n\nVote to approve or reject the proposed team.\n" +
		"Answer with one line in this exact format:\nVOTE: APPROVE\nor\nVOTE: REJECT\n" +
		"You may add one line of table talk as:\nSAY: message"

	var approve bool
	var say string
	err := p.generateWithRetry(ctx, system, prompt, func(text string) error {
		v, err := extractVote(text)
		if err != nil {
			return err
		}
		approve = v
		say, _ = extractSay(text)
		return nil
	})
	if err != nil {
		return BotAction{}, err
	}
	return BotAction{Action: ActionVoteTeam, Payload: ActionPayload{Approve: &approve}, Say: say}, nil
}

func (p *llmPolicy) decideQuestVote(ctx context.Context, system, situation string, priv PrivateState) (BotAction, error) {
	prompt := situation +
		"\n\nYou are on the quest. Submit your quest card.\n" +
		"Answer with one line in this exact format:\nQUEST: SUCCESS\nor\nQUEST: FAIL"
	if priv.Alignment == AlignmentGood {
		prompt += "\nLoyal players must choose SUCCESS."
	}

	var success bool
	err := p.generateWithRetry(ctx, system, prompt, func(text string) error {
		v, err := extractQuest(text)
		if err != nil {
			return err
		}
		if priv.Alignment == AlignmentGood && !v {
			return fmt.Errorf("loyal players must submit SUCCESS")
		}
		success = v
		return nil
	})
	if err != nil {
		return BotAction{}, err
	}
	return BotAction{Action: ActionQuestVote, Payload: ActionPayload{Success: &success}}, nil
}

func (p *llmPolicy) decideLadyPeek(ctx context.Context, system, situation string, pub PublicState, priv PrivateState) (BotAction, error) {
	excluded := map[string]bool{priv.PlayerID: true}
	for _, id := range pub.LadyExcluded {
		excluded[id] = true
	}
	var eligible []Player
	for _, pl := range pub.Players {
		if !excluded[pl.ID] {
			eligible = append(eligible, pl)
		}
	}
	if len(eligible) == 0 {
		return BotAction{Action: ActionChat, Payload: ActionPayload{Message: "pass"}}, nil
	}

	prompt := situation + fmt.Sprintf(
		"\n\nYou hold the Lady of the Lake and must inspect one player's alignment. Eligible players: %s.\n"+
			"Answer with one line in this exact format:\nINSPECT: Name",
		strings.Join(playerNames(eligible), ", "))

	var target string
	err := p.generateWithRetry(ctx, system, prompt, func(text string) error {
		name, err := extractTarget(text, "INSPECT")
		if err != nil {
			return err
		}
		id, ok := resolvePlayerName(eligible, name)
		if !ok {
			return fmt.Errorf("%q is not an eligible player", name)
		}
		target = id
		return nil
	})
	if err != nil {
		return BotAction{}, err
	}
	return BotAction{Action: ActionLadyPeek, Payload: ActionPayload{TargetID: target}}, nil
}

func (p *llmPolicy) decideAssassination(ctx context.Context, system, situation string, pub PublicState, priv PrivateState) (BotAction, error) {
	var candidates []Player
	for _, pl := range pub.Players {
		if pl.ID != priv.PlayerID {
			candidates = append(candidates, pl)
		}
	}

	prompt := situation + fmt.Sprintf(
		"\n\nThe loyal side has won three quests. As the Assassin you still win the game if you identify and kill Merlin. Candidates: %s.\n"+
			"Answer with one line in this exact format:\nTARGET: Name\n"+
			"You may add one line of table talk as:\nSAY: message",
		strings.Join(playerNames(candidates), ", "))

	var target, say string
	err := p.generateWithRetry(ctx, system, prompt, func(text string) error {
		name, err := extractTarget(text, "TARGET")
		if err != nil {
			return err
		}
		id, ok := resolvePlayerName(candidates, name)
		if !ok {
			return fmt.Errorf("unknown player name %q", name)
		}
		target = id
		say, _ = extractSay(text)
		return nil
	})
	if err != nil {
		return BotAction{}, err
	}
	return BotAction{Action: ActionAssassinate, Payload: ActionPayload{TargetID: target}, Say: say}, nil
}

func (p *llmPolicy) decideChat(ctx context.Context, system, situation string) (BotAction, error) {
	prompt := situation +
		"\n\nYou have no required action right now. Add one short line of table talk.\n" +
		"Answer with one line in this exact format:\nSAY: message"

	var say string
	err := p.generateWithRetry(ctx, system, prompt, func(text string) error {
		msg, err := extractSay(text)
		if err != nil {
			return err
		}
		say = msg
		return nil
	})
	if err != nil {
		return BotAction{}, err
	}
	return BotAction{Action: ActionChat, Payload: ActionPayload{Message: say}}, nil
}

// generateWithRetry prompts the model and runs the extractor over the
// response. Extraction failures are fed back into the prompt and retried
// with a slightly higher temperature; transport errors are returned as-is.
func (p *llmPolicy) generateWithRetry(ctx context.Context, system, prompt string, extract func(string) error) error {
	current := prompt
	temp := p.baseTemp

	var lastErr error
	for attempt := 0; attempt < botMaxRetries; attempt++ {
		DebugLog("llmPolicy", "attempt %d/%d, temp=%.2f", attempt+1, botMaxRetries, temp)
		text, err := p.generate(ctx, system, current, temp)
		if err != nil {
			return err
		}

		lastErr = extract(text)
		if lastErr == nil {
			return nil
		}
		DebugLog("llmPolicy", "extraction failed (attempt %d): %v", attempt+1, lastErr)

		current = prompt + fmt.Sprintf(
			"\n\n[Your previous response was invalid: %v]\nPlease try again, following the format exactly.", lastErr)
		temp = math.Min(0.8, temp+0.15)
	}
	return fmt.Errorf("no valid action after %d attempts: %w", botMaxRetries, lastErr)
}

func (p *llmPolicy) generate(ctx context.Context, system, prompt string, temperature float64) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	resp, err := p.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(botMaxTokens),
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return resp.Choices[0].Content, nil
}

// ============================================================================
// Prompt building
// ============================================================================

func botSystemPrompt(pub PublicState, priv PrivateState) string {
	name := priv.PlayerID
	if id, ok := playerByID(pub.Players, priv.PlayerID); ok {
		name = id.Name
	}
	facts := "- None"
	if len(priv.Knowledge) > 0 {
		lines := make([]string, len(priv.Knowledge))
		for i, item := range priv.Knowledge {
			lines[i] = "- " + item
		}
		facts = strings.Join(lines, "\n")
	}
	return fmt.Sprintf(
		"You are %s, a player in Avalon. Act in character and to win for your alignment.\n"+
			"Role: %s\nAlignment: %s\nKnown facts:\n%s\n"+
			"Answer only with the short line formats you are asked for.",
		name, priv.Role, priv.Alignment, facts)
}

func botContextPrompt(pub PublicState, priv PrivateState) string {
	idToName := make(map[string]string, len(pub.Players))
	for _, pl := range pub.Players {
		idToName[pl.ID] = pl.Name
	}

	leader := pub.LeaderID
	if n, ok := idToName[pub.LeaderID]; ok {
		leader = n
	}

	teamNeeded := teamSizeFor(pub.Config.PlayerCount, pub.QuestNumber)

	proposed := "None"
	if len(pub.ProposedTeam) > 0 {
		names := make([]string, len(pub.ProposedTeam))
		for i, id := range pub.ProposedTeam {
			if n, ok := idToName[id]; ok {
				names[i] = n
			} else {
				names[i] = id
			}
		}
		proposed = strings.Join(names, ", ")
	}

	chat := []string{"(none)"}
	if len(pub.Chat) > 0 {
		chat = chat[:0]
		for _, entry := range pub.Chat {
			speaker := entry.PlayerID
			if n, ok := idToName[entry.PlayerID]; ok {
				speaker = n
			}
			chat = append(chat, speaker+": "+entry.Message)
		}
	}

	return fmt.Sprintf(
		"Current game state:\nPhase: %s\nQuest: %d\nLeader: %s\nTeam size needed: %d\n"+
			"Proposal attempts (rejected): %d\nProposed team: %s\nSuccesses: %d | Fails: %d\n"+
			"Recent chat:\n%s",
		pub.Phase, pub.QuestNumber, leader, teamNeeded,
		pub.ProposalAttempts, proposed, pub.SuccessCount, pub.FailCount,
		strings.Join(chat, "\n"))
}

func playerNames(players []Player) []string {
	names := make([]string, len(players))
	for i, p := range players {
		names[i] = p.Name
	}
	return names
}

func playerByID(players []Player, id string) (Player, bool) {
	for _, p := range players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// resolvePlayerName maps a name from an LLM response to a player id.
// Exact id, then exact name (case-insensitive), then a unique substring
// match in either direction.
func resolvePlayerName(players []Player, raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", false
	}
	for _, p := range players {
		if p.ID == name {
			return p.ID, true
		}
	}
	for _, p := range players {
		if strings.EqualFold(p.Name, name) {
			return p.ID, true
		}
	}
	lower := strings.ToLower(name)
	var match string
	var count int
	for _, p := range players {
		pn := strings.ToLower(p.Name)
		if strings.Contains(pn, lower) || strings.Contains(lower, pn) {
			match = p.ID
			count++
		}
	}
	if count == 1 {
		return match, true
	}
	return "", false
}

// ============================================================================
// Response extraction
// ============================================================================

var (
	teamLineRe  = regexp.MustCompile(`(?i)TEAM:\s*([^\n]+)`)
	voteLineRe  = regexp.MustCompile(`(?i)VOTE:\s*(APPROVE|REJECT)`)
	questLineRe = regexp.MustCompile(`(?i)QUEST:\s*(SUCCESS|FAIL)`)
	sayLineRe   = regexp.MustCompile(`(?i)SAY:\s*([^\n]+)`)
	sayLeakRes  = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\s*VOTE:\s*(APPROVE|REJECT).*$`),
		regexp.MustCompile(`(?i)\s*QUEST:\s*(SUCCESS|FAIL).*$`),
		regexp.MustCompile(`(?i)\s*TEAM:\s*[^\n]*$`),
		regexp.MustCompile(`(?i)\s*TARGET:\s*[^\n]*$`),
		regexp.MustCompile(`(?i)\s*INSPECT:\s*[^\n]*$`),
	}
)

// extractTeam parses comma-separated names from a "TEAM: Name1, Name2" line.
func extractTeam(text string) ([]string, error) {
	m := teamLineRe.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("no 'TEAM:' line found")
	}
	var names []string
	for _, part := range strings.Split(m[1], ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("TEAM: line is empty")
	}
	return names, nil
}

// extractVote parses a "VOTE: APPROVE" or "VOTE: REJECT" line.
func extractVote(text string) (bool, error) {
	m := voteLineRe.FindStringSubmatch(text)
	if m == nil {
		return false, fmt.Errorf("no 'VOTE: APPROVE' or 'VOTE: REJECT' found")
	}
	return strings.EqualFold(m[1], "APPROVE"), nil
}

// extractQuest parses a "QUEST: SUCCESS" or "QUEST: FAIL" line.
func extractQuest(text string) (bool, error) {
	m := questLineRe.FindStringSubmatch(text)
	if m == nil {
		return false, fmt.Errorf("no 'QUEST: SUCCESS' or 'QUEST: FAIL' found")
	}
	return strings.EqualFold(m[1], "SUCCESS"), nil
}

// extractTarget parses a "TARGET: Name" or "INSPECT: Name" line.
func extractTarget(text, keyword string) (string, error) {
	re := regexp.MustCompile(`(?i)` + keyword + `:\s*([^\n]+)`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", fmt.Errorf("no '%s:' line found", keyword)
	}
	name := strings.TrimSpace(m[1])
	if name == "" {
		return "", fmt.Errorf("%s: line is empty", keyword)
	}
	return name, nil
}

// extractSay parses a "SAY: message" line, stripping quotes and any action
// keywords that leaked into the message.
func extractSay(text string) (string, error) {
	m := sayLineRe.FindStringSubmatch(text)
	if m == nil {
		return "", fmt.Errorf("no 'SAY:' line found")
	}
	message := strings.TrimSpace(m[1])
	if len(message) >= 2 {
		if (message[0] == '"' && message[len(message)-1] == '"') ||
			(message[0] == '\'' && message[len(message)-1] == '\'') {
			message = message[1 : len(message)-1]
		}
	}
	for _, re := range sayLeakRes {
		message = strings.TrimSpace(re.ReplaceAllString(message, ""))
	}
	if message == "" {
		return "", fmt.Errorf("SAY: line only contained action keywords")
	}
	return message, nil
}
