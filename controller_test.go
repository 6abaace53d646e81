package main

import (
	"context"
	"math/rand"
	"testing"
)

func TestInitializeGameAssignsAllRoles(t *testing.T) {
	cfg := defaultConfig()
	gc := NewGameController(cfg, rand.New(rand.NewSource(7)))

	names := generatePlayerNames(cfg.NumPlayers())
	if err := gc.InitializeGame(names); err != nil {
		t.Fatal(err)
	}

	counts := make(map[Role]int)
	for _, p := range gc.State().Players {
		counts[p.Role]++
	}
	for role, want := range cfg.RoleDistribution() {
		if counts[role] != want {
			t.Errorf("assigned %d %s, want %d", counts[role], role, want)
		}
	}
}

func TestInitializeGameRejectsWrongNameCount(t *testing.T) {
	cfg := defaultConfig()
	gc := NewGameController(cfg, rand.New(rand.NewSource(1)))

	err := gc.InitializeGame(generatePlayerNames(cfg.NumPlayers() - 1))
	if err == nil {
		t.Fatal("expected error for name count not matching the role distribution")
	}
}

func TestInitializeGameMafiaKnowEachOther(t *testing.T) {
	cfg := defaultConfig()
	gc := NewGameController(cfg, rand.New(rand.NewSource(3)))
	if err := gc.InitializeGame(generatePlayerNames(cfg.NumPlayers())); err != nil {
		t.Fatal(err)
	}

	for _, p := range gc.State().Players {
		for _, q := range gc.State().Players {
			known, ok := p.KnownRoles[q.ID]
			switch {
			case p.ID == q.ID:
				if !ok || known != p.Role {
					t.Errorf("%s should know their own role", p.ID)
				}
			case p.Team() == TeamMafia && q.Team() == TeamMafia:
				if !ok || known != q.Role {
					t.Errorf("mafia %s should know teammate %s is %s", p.ID, q.ID, q.Role)
				}
			default:
				if ok {
					t.Errorf("%s should not know %s is %s at game start", p.ID, q.ID, known)
				}
			}
		}
	}
}

func TestAdvancePhaseRoundOneSkipsVotingAndNightAction(t *testing.T) {
	tg := newTestGame(t, defaultConfig(), []Role{RoleVillager, RoleVillager, RoleMafia})
	gc := tg.gc

	if gc.state.Phase != PhaseDayDiscussion || gc.state.Round != 1 {
		t.Fatalf("start = round %d phase %s", gc.state.Round, gc.state.Phase)
	}

	gc.advancePhase()
	if gc.state.Phase != PhaseNightMafiaDiscussion {
		t.Fatalf("after day discussion got %s, want %s", gc.state.Phase, PhaseNightMafiaDiscussion)
	}
	if gc.state.Round != 1 {
		t.Fatalf("round advanced early: %d", gc.state.Round)
	}

	gc.advancePhase()
	if gc.state.Phase != PhaseDayDiscussion {
		t.Fatalf("after mafia discussion got %s, want %s", gc.state.Phase, PhaseDayDiscussion)
	}
	if gc.state.Round != 2 {
		t.Fatalf("round = %d, want 2", gc.state.Round)
	}
}

func TestAdvancePhaseFullCycleAfterRoundOne(t *testing.T) {
	tg := newTestGame(t, defaultConfig(), []Role{RoleVillager, RoleVillager, RoleMafia})
	gc := tg.gc
	gc.state.Round = 2

	want := []Phase{
		PhaseDayVoting,
		PhaseNightMafiaDiscussion,
		PhaseNightAction,
		PhaseDayDiscussion, // round 3
	}
	for _, ph := range want {
		gc.advancePhase()
		if gc.state.Phase != ph {
			t.Fatalf("got %s, want %s", gc.state.Phase, ph)
		}
	}
	if gc.state.Round != 3 {
		t.Fatalf("round = %d, want 3", gc.state.Round)
	}
}

func TestAdvancePhaseReversesOrderOnNewRound(t *testing.T) {
	tg := newTestGame(t, defaultConfig(), []Role{RoleVillager, RoleVillager, RoleMafia})
	gc := tg.gc
	gc.state.Phase = PhaseNightMafiaDiscussion // round 1, about to roll into round 2

	gc.advancePhase()

	if gc.state.Order[0] != "player_3" {
		t.Errorf("order not reversed entering round 2: %v", gc.state.Order)
	}
	if got := len(tg.eventsOfType(EventNewRound)); got != 1 {
		t.Errorf("new_round events = %d, want 1", got)
	}
}

func TestCallbackPanicDoesNotAbortGame(t *testing.T) {
	tg := newTestGame(t, defaultConfig(), []Role{RoleVillager, RoleVillager, RoleMafia})
	gc := tg.gc

	var received []string
	gc.RegisterCallback(CallbackGameEvent, func(any) {
		panic("observer bug")
	})
	gc.RegisterCallback(CallbackGameEvent, func(payload any) {
		received = append(received, payload.(GameEvent).Type)
	})

	gc.addGameEvent(GameEvent{Type: EventPhaseChange, Round: 1, Phase: PhaseDayDiscussion, Public: true})

	if len(received) != 1 || received[0] != EventPhaseChange {
		t.Fatalf("later callbacks did not run after a panic: %v", received)
	}
	if len(gc.state.Events) != 1 {
		t.Fatalf("event was not recorded: %d", len(gc.state.Events))
	}
}

func TestRunGameVillageVictory(t *testing.T) {
	cfg := defaultConfig()
	cfg.DiscussionRounds = 1
	cfg.MafiaDiscussionRounds = 1
	cfg.SaveTranscripts = false

	tg := newTestGame(t, cfg, []Role{RoleVillager, RoleVillager, RoleMafia, RoleDoctor, RoleDetective})

	// round 2: everyone abstains, the night plays out; round 3: the detective's
	// finding convicts the mafioso
	tg.setVotes(map[string]string{
		"player_1": "", "player_2": "", "player_3": "", "player_4": "", "player_5": "",
	})
	tg.setAction("player_3", ActionKill, "player_1")
	tg.setAction("player_4", ActionProtect, "player_1")
	tg.setAction("player_5", ActionInvestigate, "player_3")
	tg.setVotes(map[string]string{
		"player_1": "player_3", "player_2": "player_3", "player_3": "player_1",
		"player_4": "player_3", "player_5": "player_3",
	})

	state, err := tg.gc.RunGame(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !state.GameOver || state.WinningTeam != TeamVillage {
		t.Fatalf("winner = %s (over=%v), want Village", state.WinningTeam, state.GameOver)
	}
	tg.mustBeAlive("player_1", true) // saved by the doctor
	tg.mustBeAlive("player_3", false)

	if got := len(tg.eventsOfType(EventKillFailed)); got != 1 {
		t.Errorf("kill_failed events = %d, want 1", got)
	}
	detective := state.Players["player_5"]
	if detective.KnownRoles["player_3"] != RoleMafia {
		t.Errorf("detective never learned the mafioso's role: %v", detective.KnownRoles)
	}
	if got := len(tg.eventsOfType(EventGameOver)); got != 1 {
		t.Errorf("game_over events = %d, want 1", got)
	}
	if state.Round != 3 {
		t.Errorf("game ended in round %d, want 3", state.Round)
	}
}

func TestRunGameMafiaVictory(t *testing.T) {
	cfg := defaultConfig()
	cfg.DiscussionRounds = 1
	cfg.MafiaDiscussionRounds = 1

	tg := newTestGame(t, cfg, []Role{RoleVillager, RoleVillager, RoleMafia})

	// round 2: abstentions by day, then the mafia takes a villager at night,
	// reaching parity
	tg.setVotes(map[string]string{"player_1": "", "player_2": "", "player_3": ""})
	tg.setAction("player_3", ActionKill, "player_1")

	state, err := tg.gc.RunGame(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if state.WinningTeam != TeamMafia {
		t.Fatalf("winner = %s, want Mafia", state.WinningTeam)
	}
	tg.mustBeAlive("player_1", false)
}
