package main

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewAgentRejectsUnknownProvider(t *testing.T) {
	cfg := defaultConfig()
	p := &Player{ID: "player_1", Name: "Agnes", Role: RoleVillager, Status: StatusAlive, KnownRoles: map[string]Role{}}

	_, err := newAgent("gpt-banana", p, cfg, rand.New(rand.NewSource(1)))
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "gpt-banana") {
		t.Errorf("error should name the provider: %v", err)
	}
}

func TestNewAgentRandomProvider(t *testing.T) {
	cfg := defaultConfig()
	p := &Player{ID: "player_1", Name: "Agnes", Role: RoleVillager, Status: StatusAlive, KnownRoles: map[string]Role{}}

	agent, err := newAgent("random", p, cfg, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := agent.(*randomAgent); !ok {
		t.Fatalf("got %T, want *randomAgent", agent)
	}
}

func TestRandomAgentVotesLegally(t *testing.T) {
	gs := NewGameState(makePlayers([]Role{RoleVillager, RoleVillager, RoleMafia, RoleDoctor}))
	gs.Players["player_2"].Status = StatusDead
	agent := &randomAgent{player: gs.Players["player_1"], rng: rand.New(rand.NewSource(5))}

	for i := 0; i < 50; i++ {
		target := agent.GenerateDayVote(context.Background(), gs)
		if target == "player_1" {
			t.Fatal("random agent voted for itself")
		}
		if !gs.IsAliveID(target) {
			t.Fatalf("random agent voted for dead or unknown target %q", target)
		}
	}
}

func TestRandomAgentNightActions(t *testing.T) {
	gs := NewGameState(makePlayers([]Role{RoleVillager, RoleMafia, RoleDoctor, RoleDetective}))
	rng := rand.New(rand.NewSource(9))

	villager := &randomAgent{player: gs.Players["player_1"], rng: rng}
	if a := villager.GenerateNightAction(context.Background(), gs); a != nil {
		t.Fatalf("villager produced a night action: %+v", a)
	}

	mafia := &randomAgent{player: gs.Players["player_2"], rng: rng}
	for i := 0; i < 50; i++ {
		a := mafia.GenerateNightAction(context.Background(), gs)
		if a == nil || a.Type != ActionKill {
			t.Fatalf("mafia action = %+v, want a kill", a)
		}
		if gs.Players[a.TargetID].Team() == TeamMafia {
			t.Fatal("mafia targeted its own team")
		}
	}

	doctor := &randomAgent{player: gs.Players["player_3"], rng: rng}
	if a := doctor.GenerateNightAction(context.Background(), gs); a == nil || a.Type != ActionProtect {
		t.Fatalf("doctor action = %+v, want a protect", a)
	}

	detective := &randomAgent{player: gs.Players["player_4"], rng: rng}
	a := detective.GenerateNightAction(context.Background(), gs)
	if a == nil || a.Type != ActionInvestigate || a.TargetID == "player_4" {
		t.Fatalf("detective action = %+v, want an investigation of someone else", a)
	}
}

func TestMatchPlayerName(t *testing.T) {
	gs := NewGameState(makePlayers([]Role{RoleVillager, RoleVillager, RoleMafia}))
	// names: Agnes, Bertram, Clara

	if p := matchPlayerName("I vote for bertram, he is too quiet", gs, ""); p == nil || p.ID != "player_2" {
		t.Errorf("case-insensitive match failed: %v", p)
	}
	if p := matchPlayerName("Either Agnes or Clara did it", gs, ""); p != nil {
		t.Errorf("ambiguous reply matched %s", p.ID)
	}
	if p := matchPlayerName("someone we do not know", gs, ""); p != nil {
		t.Errorf("nonexistent name matched %s", p.ID)
	}
	if p := matchPlayerName("Agnes", gs, "player_1"); p != nil {
		t.Errorf("excluded player matched: %v", p)
	}

	gs.Players["player_3"].Status = StatusDead
	if p := matchPlayerName("Clara", gs, ""); p != nil {
		t.Errorf("dead player matched: %v", p)
	}
}

func TestClassifyReaction(t *testing.T) {
	cases := map[string]string{
		"I agree with that":       "agree",
		"Disagree!":               "disagree",
		"I strongly disagree":     "disagree",
		"neutral":                 "neutral",
		"what a strange question": "",
	}
	for reply, want := range cases {
		if got := classifyReaction(reply); got != want {
			t.Errorf("classifyReaction(%q) = %q, want %q", reply, got, want)
		}
	}
}

func TestTruncateMessage(t *testing.T) {
	if got := truncateMessage("short", 200); got != "short" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("a", 250)
	got := truncateMessage(long, 200)
	if len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Errorf("len = %d, want 203 with ellipsis", len(got))
	}
	if got := truncateMessage(long, 0); got != long {
		t.Error("max 0 should mean unbounded")
	}
}

func TestTruncateMessageKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("é", 150)
	got := truncateMessage(long, 100)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 103 {
		t.Errorf("rune count = %d, want 100 plus ellipsis", n)
	}
	if !strings.HasSuffix(got, "é...") {
		t.Errorf("cap boundary split a rune: %q", got[len(got)-10:])
	}

	// byte length over max but rune length within it: no truncation
	short := strings.Repeat("é", 80) // 160 bytes, 80 runes
	if got := truncateMessage(short, 100); got != short {
		t.Errorf("truncated a message within the character cap: %d runes", utf8.RuneCountInString(got))
	}
}

func TestLLMAgentMemoryWindow(t *testing.T) {
	cfg := defaultConfig()
	cfg.MemoryLimit = 3
	gs := NewGameState(makePlayers([]Role{RoleVillager, RoleVillager, RoleMafia}))
	p := gs.Players["player_1"]
	agent := &llmAgent{player: p, cfg: cfg}

	for i := 0; i < 5; i++ {
		gs.Events = append(gs.Events, GameEvent{Type: EventVote, Round: 2, Phase: PhaseDayVoting, Description: "a vote", Public: true})
	}
	gs.Events = append(gs.Events, GameEvent{
		Type: EventInvestigation, Round: 2, Phase: PhaseNightAction,
		Description: "hidden", Public: false, Targets: []string{"player_2"},
	})
	gs.Messages = append(gs.Messages, Message{
		SenderID: "player_2", SenderName: "Bertram", Content: "hello", Round: 2, Phase: PhaseDayDiscussion, Public: true,
	})

	agent.UpdateMemory(gs)

	if got := len(p.Memory); got != 3 {
		t.Fatalf("memory length = %d, want trimmed to 3", got)
	}
	for _, m := range p.Memory {
		if m.Text == "hidden" {
			t.Fatal("memory contains an event the player cannot see")
		}
	}
	// most recent observation survives the trim
	last := p.Memory[len(p.Memory)-1]
	if !strings.Contains(last.Text, "Bertram said") {
		t.Errorf("latest memory = %q, want the overheard message", last.Text)
	}
}

func TestLLMAgentMemoryIncremental(t *testing.T) {
	cfg := defaultConfig()
	gs := NewGameState(makePlayers([]Role{RoleVillager, RoleMafia, RoleMafia}))
	p := gs.Players["player_1"]
	agent := &llmAgent{player: p, cfg: cfg}

	gs.Events = append(gs.Events, GameEvent{Type: EventGameStart, Round: 1, Phase: PhaseDayDiscussion, Description: "start", Public: true})
	agent.UpdateMemory(gs)
	agent.UpdateMemory(gs)

	if got := len(p.Memory); got != 1 {
		t.Fatalf("memory length = %d, want 1 (no duplicates on repeated updates)", got)
	}
}
