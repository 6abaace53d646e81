package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// MemoryEntry is one remembered observation, owned by the agent layer.
type MemoryEntry struct {
	Round int
	Phase Phase
	Text  string
}

// Agent decides a player's behavior. The engine never inspects how a decision
// is made; invalid outputs (dead targets, unknown names) are the engine's
// problem to reject, not the agent's to prevent.
type Agent interface {
	// GenerateDayDiscussion returns a public statement for the day discussion.
	GenerateDayDiscussion(ctx context.Context, gs *GameState) string
	// GenerateDayVote returns the id of the player to vote against, or "".
	GenerateDayVote(ctx context.Context, gs *GameState) string
	// GenerateNightAction returns the player's night action, or nil to pass.
	GenerateNightAction(ctx context.Context, gs *GameState) *Action
	// GenerateMafiaDiscussion returns a statement for the private mafia channel.
	GenerateMafiaDiscussion(ctx context.Context, gs *GameState) string
	// ReactToMessage returns "agree", "disagree" or "" for a heard message.
	ReactToMessage(ctx context.Context, msg Message, gs *GameState) string
	// UpdateMemory folds newly visible events and messages into memory.
	UpdateMemory(gs *GameState)
}

// newAgent constructs an agent for one player from a provider name.
func newAgent(provider string, p *Player, cfg AppConfig, rng *rand.Rand) (Agent, error) {
	if provider == "random" {
		return &randomAgent{player: p, rng: rng}, nil
	}

	callOpts := buildCallOpts(cfg)

	var llm llms.Model
	var err error
	switch provider {
	case "openai":
		llm, err = openai.New(openai.WithModel(cfg.OpenAIModel))
	case "claude":
		llm, err = anthropic.New(anthropic.WithModel(cfg.ClaudeModel))
	case "gemini":
		llm, err = googleai.New(context.Background(), googleai.WithDefaultModel(cfg.GeminiModel))
	case "ollama":
		llm, err = ollama.New(ollama.WithModel(cfg.OllamaModel), ollama.WithServerURL(cfg.OllamaURL))
	case "openai-compatible":
		if cfg.CompatURL == "" {
			return nil, fmt.Errorf("agent: compat_url is required for openai-compatible provider")
		}
		opts := []openai.Option{
			openai.WithModel(cfg.OpenAIModel),
			openai.WithBaseURL(cfg.CompatURL),
		}
		if cfg.CompatAPIKey != "" {
			opts = append(opts, openai.WithToken(cfg.CompatAPIKey))
		}
		llm, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("agent: unknown provider %q", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("agent: failed to init %s: %w", provider, err)
	}

	return &llmAgent{player: p, llm: llm, cfg: cfg, callOpts: callOpts}, nil
}

// buildCallOpts builds LLM call options from the config.
func buildCallOpts(cfg AppConfig) []llms.CallOption {
	var opts []llms.CallOption
	if cfg.Temperature != "" {
		if f, err := strconv.ParseFloat(cfg.Temperature, 64); err == nil {
			opts = append(opts, llms.WithTemperature(f))
		} else {
			log.Printf("Agent: invalid temperature %q: %v", cfg.Temperature, err)
		}
	}
	return opts
}

// ============================================================================
// LLM-backed agent
// ============================================================================

type llmAgent struct {
	player   *Player
	llm      llms.Model
	cfg      AppConfig
	callOpts []llms.CallOption

	// high-water marks into GameState history for memory updates
	seenEvents   int
	seenMessages int
}

func (a *llmAgent) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, playing a game of Mafia. Your role is %s.\n", a.player.Name, a.player.Role)
	switch a.player.Role {
	case RoleMafia, RoleGodfather:
		b.WriteString("You are on the Mafia team. Eliminate villagers at night and avoid suspicion by day. Never reveal your role.\n")
		if a.player.Role == RoleGodfather {
			b.WriteString("As Godfather, your kill decision overrides your teammates', and investigations may not expose you.\n")
		}
	case RoleDoctor:
		b.WriteString("You are on the Village team. Each night you may protect one player from being killed.\n")
	case RoleDetective:
		b.WriteString("You are on the Village team. Each night you may investigate one player to learn their allegiance.\n")
	default:
		b.WriteString("You are on the Village team. Use discussion and votes to find the Mafia.\n")
	}
	b.WriteString("Stay in character. Keep replies short and conversational.")
	return b.String()
}

// gameStateBlock renders the state as this player is allowed to see it.
func (a *llmAgent) gameStateBlock(gs *GameState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d, phase: %s.\n", gs.Round, gs.Phase)

	b.WriteString("Alive players:\n")
	for _, p := range gs.AlivePlayers() {
		label := ""
		if p.ID == a.player.ID {
			label = fmt.Sprintf(" (You, %s)", a.player.Role)
		} else if role, ok := a.player.KnownRoles[p.ID]; ok {
			label = fmt.Sprintf(" (%s)", role)
		}
		fmt.Fprintf(&b, "- %s%s\n", p.Name, label)
	}

	if dead := gs.DeadPlayers(); len(dead) > 0 {
		b.WriteString("Dead players:\n")
		for _, p := range dead {
			label := ""
			if role, ok := a.player.KnownRoles[p.ID]; ok {
				label = fmt.Sprintf(" (%s)", role)
			}
			fmt.Fprintf(&b, "- %s%s\n", p.Name, label)
		}
	}
	return b.String()
}

func (a *llmAgent) memoryBlock() string {
	if len(a.player.Memory) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("What you remember:\n")
	for _, m := range a.player.Memory {
		fmt.Fprintf(&b, "- [round %d, %s] %s\n", m.Round, m.Phase, m.Text)
	}
	return b.String()
}

// generate runs one completion and returns the trimmed, length-capped text.
func (a *llmAgent) generate(ctx context.Context, gs *GameState, instruction string) string {
	prompt := a.gameStateBlock(gs)
	if mem := a.memoryBlock(); mem != "" {
		prompt += "\n" + mem
	}
	prompt += "\n" + instruction

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, a.systemPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	resp, err := a.llm.GenerateContent(ctx, messages, a.callOpts...)
	if err != nil {
		log.Printf("Agent %s: generation failed: %v", a.player.Name, err)
		return ""
	}
	if len(resp.Choices) == 0 {
		return ""
	}
	return truncateMessage(strings.TrimSpace(resp.Choices[0].Content), a.cfg.MaxMessageLength)
}

func (a *llmAgent) GenerateDayDiscussion(ctx context.Context, gs *GameState) string {
	return a.generate(ctx, gs,
		"It is the day discussion. Share your thoughts with the village: suspicions, defenses, or observations. One or two sentences.")
}

func (a *llmAgent) GenerateDayVote(ctx context.Context, gs *GameState) string {
	reply := a.generate(ctx, gs,
		"It is time to vote. Name exactly one living player (not yourself) you vote to eliminate. Reply with just the name.")
	if target := matchPlayerName(reply, gs, a.player.ID); target != nil {
		return target.ID
	}
	return ""
}

func (a *llmAgent) GenerateNightAction(ctx context.Context, gs *GameState) *Action {
	var instruction, actionType string
	switch a.player.Role {
	case RoleMafia, RoleGodfather:
		instruction = "It is night. Name the living player the Mafia should kill. Reply with just the name."
		actionType = ActionKill
	case RoleDoctor:
		instruction = "It is night. Name the living player you want to protect tonight (you may protect yourself). Reply with just the name."
		actionType = ActionProtect
	case RoleDetective:
		instruction = "It is night. Name the living player you want to investigate. Reply with just the name."
		actionType = ActionInvestigate
	default:
		return nil
	}

	reply := a.generate(ctx, gs, instruction)
	self := a.player.ID
	if actionType == ActionProtect {
		self = "" // the doctor may target themselves
	}
	target := matchPlayerName(reply, gs, self)
	if target == nil {
		return nil
	}
	return &Action{
		ActorID:  a.player.ID,
		Type:     actionType,
		TargetID: target.ID,
		Round:    gs.Round,
		Phase:    gs.Phase,
	}
}

func (a *llmAgent) GenerateMafiaDiscussion(ctx context.Context, gs *GameState) string {
	return a.generate(ctx, gs,
		"You are on the private Mafia channel with your teammates. Discuss who to kill tonight. One or two sentences.")
}

func (a *llmAgent) ReactToMessage(ctx context.Context, msg Message, gs *GameState) string {
	reply := a.generate(ctx, gs, fmt.Sprintf(
		"%s just said: %q. Reply with exactly one word: agree, disagree, or neutral.", msg.SenderName, msg.Content))
	return classifyReaction(reply)
}

// UpdateMemory appends newly visible events and messages, then trims to the
// configured window.
func (a *llmAgent) UpdateMemory(gs *GameState) {
	for i := a.seenEvents; i < len(gs.Events); i++ {
		e := gs.Events[i]
		if e.Public || containsID(e.Targets, a.player.ID) {
			a.player.Memory = append(a.player.Memory, MemoryEntry{
				Round: e.Round, Phase: e.Phase, Text: e.Description,
			})
		}
	}
	a.seenEvents = len(gs.Events)

	for i := a.seenMessages; i < len(gs.Messages); i++ {
		m := gs.Messages[i]
		if m.SenderID == a.player.ID {
			continue // own statements need no reminder
		}
		if m.Public || containsID(m.Recipients, a.player.ID) {
			a.player.Memory = append(a.player.Memory, MemoryEntry{
				Round: m.Round, Phase: m.Phase,
				Text: fmt.Sprintf("%s said: %s", m.SenderName, m.Content),
			})
		}
	}
	a.seenMessages = len(gs.Messages)

	if limit := a.cfg.MemoryLimit; limit > 0 && len(a.player.Memory) > limit {
		a.player.Memory = a.player.Memory[len(a.player.Memory)-limit:]
	}
}

// ============================================================================
// Random agent (no network; used by tests and -providers random)
// ============================================================================

type randomAgent struct {
	player *Player
	rng    *rand.Rand
}

var discussionLines = []string{
	"I don't trust how quiet some of you are.",
	"Last night proves the Mafia is still among us.",
	"I have nothing to hide, look elsewhere.",
	"We should think carefully before we vote.",
	"Something about the voting pattern bothers me.",
}

var mafiaLines = []string{
	"We should pick off the loud ones first.",
	"Keep suspicion away from us tomorrow.",
	"Agreed, let's settle on a target.",
}

func (a *randomAgent) pickTarget(gs *GameState, excludeSelf bool) *Player {
	var candidates []*Player
	for _, p := range gs.AlivePlayers() {
		if excludeSelf && p.ID == a.player.ID {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[a.rng.Intn(len(candidates))]
}

func (a *randomAgent) GenerateDayDiscussion(_ context.Context, _ *GameState) string {
	return discussionLines[a.rng.Intn(len(discussionLines))]
}

func (a *randomAgent) GenerateDayVote(_ context.Context, gs *GameState) string {
	if t := a.pickTarget(gs, true); t != nil {
		return t.ID
	}
	return ""
}

func (a *randomAgent) GenerateNightAction(_ context.Context, gs *GameState) *Action {
	var actionType string
	excludeSelf := true
	switch a.player.Role {
	case RoleMafia, RoleGodfather:
		actionType = ActionKill
	case RoleDoctor:
		actionType = ActionProtect
		excludeSelf = false
	case RoleDetective:
		actionType = ActionInvestigate
	default:
		return nil
	}

	// mafia never target their own team
	var target *Player
	if actionType == ActionKill {
		var candidates []*Player
		for _, p := range gs.AlivePlayers() {
			if p.Team() != TeamMafia {
				candidates = append(candidates, p)
			}
		}
		if len(candidates) == 0 {
			return nil
		}
		target = candidates[a.rng.Intn(len(candidates))]
	} else {
		target = a.pickTarget(gs, excludeSelf)
	}
	if target == nil {
		return nil
	}
	return &Action{
		ActorID:  a.player.ID,
		Type:     actionType,
		TargetID: target.ID,
		Round:    gs.Round,
		Phase:    gs.Phase,
	}
}

func (a *randomAgent) GenerateMafiaDiscussion(_ context.Context, _ *GameState) string {
	return mafiaLines[a.rng.Intn(len(mafiaLines))]
}

func (a *randomAgent) ReactToMessage(_ context.Context, _ Message, _ *GameState) string {
	return [3]string{"agree", "disagree", "neutral"}[a.rng.Intn(3)]
}

func (a *randomAgent) UpdateMemory(_ *GameState) {}

// ============================================================================
// Response parsing
// ============================================================================

// matchPlayerName finds the living player whose name appears in the reply.
// excludeID names a player that may not be chosen ("" excludes nobody).
// Returns nil when no name or more than one distinct name matches.
func matchPlayerName(reply string, gs *GameState, excludeID string) *Player {
	lower := strings.ToLower(reply)
	var match *Player
	for _, p := range gs.AlivePlayers() {
		if p.ID == excludeID {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p.Name)) {
			if match != nil && match.ID != p.ID {
				return nil // ambiguous
			}
			match = p
		}
	}
	return match
}

// classifyReaction normalizes a free-form reply to agree/disagree/neutral.
func classifyReaction(reply string) string {
	lower := strings.ToLower(reply)
	switch {
	case strings.Contains(lower, "disagree"):
		return "disagree"
	case strings.Contains(lower, "agree"):
		return "agree"
	case strings.Contains(lower, "neutral"):
		return "neutral"
	default:
		return ""
	}
}

// truncateMessage caps a message at max characters, appending "..." when cut.
// The cap counts runes, never splitting a multibyte character. max <= 0 means
// unbounded.
func truncateMessage(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
