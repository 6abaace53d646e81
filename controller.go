package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"

	"github.com/google/uuid"
)

// Callback channels observers can register for.
const (
	CallbackMessage    = "message"
	CallbackGameEvent  = "game_event"
	CallbackAction     = "action"
	CallbackVote       = "vote"
	CallbackVoteResult = "vote_result"
)

// phaseOrder is the cyclic phase sequence within a round.
var phaseOrder = []Phase{
	PhaseDayDiscussion,
	PhaseDayVoting,
	PhaseNightMafiaDiscussion,
	PhaseNightAction,
}

// GameController owns one game. Multiple controllers can run in the same
// process; nothing here is global.
type GameController struct {
	SessionID uuid.UUID

	cfg    AppConfig
	state  *GameState
	agents map[string]Agent
	rng    *rand.Rand

	callbacks map[string][]func(any)
}

// NewGameController creates a controller with a fresh session id. Call
// InitializeGame before RunGame.
func NewGameController(cfg AppConfig, rng *rand.Rand) *GameController {
	return &GameController{
		SessionID: uuid.New(),
		cfg:       cfg,
		rng:       rng,
		agents:    make(map[string]Agent),
		callbacks: make(map[string][]func(any)),
	}
}

// State exposes the game state for observers and tests.
func (gc *GameController) State() *GameState {
	return gc.state
}

// RegisterCallback subscribes fn to one callback channel. Callbacks run
// synchronously in game order; a panicking callback is logged and skipped.
func (gc *GameController) RegisterCallback(kind string, fn func(any)) {
	gc.callbacks[kind] = append(gc.callbacks[kind], fn)
}

func (gc *GameController) emit(kind string, payload any) {
	for _, fn := range gc.callbacks[kind] {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Callback %s panicked: %v", kind, r)
				}
			}()
			fn(payload)
		}()
	}
}

// InitializeGame assigns shuffled roles to the named players and sets up
// their agents. The role distribution must account for every name.
func (gc *GameController) InitializeGame(names []string) error {
	if expected := gc.cfg.NumPlayers(); expected != len(names) {
		return fmt.Errorf("role distribution expects %d players, got %d names", expected, len(names))
	}

	var roles []Role
	for role, count := range gc.cfg.RoleDistribution() {
		for i := 0; i < count; i++ {
			roles = append(roles, role)
		}
	}
	// map iteration order is random; sort so the shuffle is the only
	// source of randomness
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	gc.rng.Shuffle(len(roles), func(i, j int) {
		roles[i], roles[j] = roles[j], roles[i]
	})

	players := make([]*Player, len(names))
	for i, name := range names {
		players[i] = &Player{
			ID:         fmt.Sprintf("player_%d", i+1),
			Name:       name,
			Role:       roles[i],
			Status:     StatusAlive,
			KnownRoles: map[string]Role{},
		}
		players[i].KnownRoles[players[i].ID] = roles[i]
	}

	// mafia-aligned players recognize each other from the start
	for _, p := range players {
		if p.Team() != TeamMafia {
			continue
		}
		for _, q := range players {
			if q.Team() == TeamMafia {
				p.KnownRoles[q.ID] = q.Role
			}
		}
	}

	gc.state = NewGameState(players)

	providers := gc.cfg.ProviderList()
	for i, p := range players {
		agent, err := newAgent(providers[i%len(providers)], p, gc.cfg, gc.rng)
		if err != nil {
			return fmt.Errorf("initialize game: %w", err)
		}
		gc.agents[p.ID] = agent
	}

	gc.addGameEvent(GameEvent{
		Type:        EventGameStart,
		Round:       1,
		Phase:       PhaseDayDiscussion,
		Description: fmt.Sprintf("The game begins with %d players.", len(players)),
		Public:      true,
	})
	log.Printf("Game %s: initialized with %d players", gc.SessionID, len(players))
	return nil
}

// addGameEvent appends an event and notifies observers.
func (gc *GameController) addGameEvent(e GameEvent) {
	gc.state.Events = append(gc.state.Events, e)
	LogGameLine(e.Round, e.Phase, e.Type+": "+e.Description)
	gc.emit(CallbackGameEvent, e)
}

// addMessage appends a message and notifies observers.
func (gc *GameController) addMessage(m Message) {
	gc.state.Messages = append(gc.state.Messages, m)
	LogGameLine(m.Round, m.Phase, m.SenderName+": "+m.Content)
	gc.emit(CallbackMessage, m)
}

// updateAllMemories lets every living player's agent absorb new history.
func (gc *GameController) updateAllMemories() {
	for _, p := range gc.state.AlivePlayers() {
		gc.agents[p.ID].UpdateMemory(gc.state)
	}
}

// RunGame drives phases until one team wins and returns the final state.
func (gc *GameController) RunGame(ctx context.Context) (*GameState, error) {
	if gc.state == nil {
		return nil, fmt.Errorf("run game: not initialized")
	}

	for !gc.state.GameOver {
		if err := ctx.Err(); err != nil {
			return gc.state, fmt.Errorf("run game: %w", err)
		}
		gc.runPhase(ctx)
		if gc.checkGameOver() {
			break
		}
		gc.advancePhase()
	}

	gc.addGameEvent(GameEvent{
		Type:        EventGameOver,
		Round:       gc.state.Round,
		Phase:       gc.state.Phase,
		Description: fmt.Sprintf("The %s team wins.", gc.state.WinningTeam),
		Public:      true,
	})
	log.Printf("Game %s: over, %s wins after %d rounds", gc.SessionID, gc.state.WinningTeam, gc.state.Round)
	return gc.state, nil
}

func (gc *GameController) runPhase(ctx context.Context) {
	switch gc.state.Phase {
	case PhaseDayDiscussion:
		gc.runDayDiscussion(ctx)
	case PhaseDayVoting:
		gc.runDayVoting(ctx)
	case PhaseNightMafiaDiscussion:
		gc.runMafiaDiscussion(ctx)
	case PhaseNightAction:
		gc.runNightAction(ctx)
	}
}

// advancePhase moves to the next phase. Round 1 has no voting and no night
// action: discussion leads straight into the mafia meeting, which leads
// straight into round 2.
func (gc *GameController) advancePhase() {
	var idx int
	for i, ph := range phaseOrder {
		if ph == gc.state.Phase {
			idx = i
			break
		}
	}
	next := phaseOrder[(idx+1)%len(phaseOrder)]

	if gc.state.Round == 1 {
		switch next {
		case PhaseDayVoting:
			next = PhaseNightMafiaDiscussion
		case PhaseNightAction:
			next = PhaseDayDiscussion
		}
	}

	if next == PhaseDayDiscussion {
		gc.state.Round++
		gc.state.ReverseOrder()
		gc.addGameEvent(GameEvent{
			Type:        EventNewRound,
			Round:       gc.state.Round,
			Phase:       next,
			Description: fmt.Sprintf("Round %d begins.", gc.state.Round),
			Public:      true,
		})
	}

	gc.state.Phase = next
	gc.addGameEvent(GameEvent{
		Type:        EventPhaseChange,
		Round:       gc.state.Round,
		Phase:       next,
		Description: fmt.Sprintf("Phase: %s.", next),
		Public:      true,
	})
}

func (gc *GameController) checkGameOver() bool {
	return gc.state.CheckGameOver()
}
