package main

import (
	"context"
	"fmt"
	"log"
)

// runDayDiscussion gives every living player a turn to speak, for the
// configured number of discussion rounds, in the current turn order.
func (gc *GameController) runDayDiscussion(ctx context.Context) {
	gs := gc.state
	for round := 0; round < gc.cfg.DiscussionRounds; round++ {
		for _, id := range gs.Order {
			speaker := gs.Players[id]
			if !speaker.IsAlive() {
				continue
			}

			// everyone absorbs the conversation so far before each turn
			gc.updateAllMemories()

			content := gc.agents[id].GenerateDayDiscussion(ctx, gs)
			if content == "" {
				log.Printf("Day discussion: %s had nothing to say", speaker.Name)
				continue
			}

			msg := Message{
				SenderID:   speaker.ID,
				SenderName: speaker.Name,
				Content:    content,
				Round:      gs.Round,
				Phase:      gs.Phase,
				Public:     true,
			}
			gc.addMessage(msg)

			if gc.cfg.EnableReactions {
				gc.collectReactions(ctx, msg)
			}
		}
	}
}

// collectReactions asks every other living player for a reaction to msg.
func (gc *GameController) collectReactions(ctx context.Context, msg Message) {
	gs := gc.state
	for _, p := range gs.AlivePlayers() {
		if p.ID == msg.SenderID {
			continue
		}
		reaction := gc.agents[p.ID].ReactToMessage(ctx, msg, gs)
		if reaction == "" {
			continue
		}
		gc.addGameEvent(GameEvent{
			Type:        EventReaction,
			Round:       gs.Round,
			Phase:       gs.Phase,
			Description: fmt.Sprintf("%s %ss with %s.", p.Name, reaction, msg.SenderName),
			Public:      false,
			Targets:     []string{p.ID, msg.SenderID},
		})
	}
}

// runDayVoting collects one ballot per living player, tallies them, and
// eliminates the plurality target. A tie among the leaders eliminates nobody.
func (gc *GameController) runDayVoting(ctx context.Context) {
	gs := gc.state
	for round := 0; round < gc.cfg.VotingRounds; round++ {
		gc.updateAllMemories()
		ballotStart := len(gs.Votes)

		for _, p := range gs.AlivePlayers() {
			targetID := gc.agents[p.ID].GenerateDayVote(ctx, gs)
			targetID = gc.validateBallot(p, targetID)
			if targetID == "" {
				continue
			}

			vote := Vote{
				VoterID:  p.ID,
				TargetID: targetID,
				Round:    gs.Round,
				Phase:    gs.Phase,
			}
			gs.Votes = append(gs.Votes, vote)
			gc.emit(CallbackVote, vote)
			gc.addGameEvent(GameEvent{
				Type:        EventVote,
				Round:       gs.Round,
				Phase:       gs.Phase,
				Description: fmt.Sprintf("%s votes to eliminate %s.", p.Name, gs.Players[targetID].Name),
				Public:      true,
				Targets:     []string{p.ID, targetID},
			})
		}

		gc.resolveDayVotes(ballotStart)
		if gs.GameOver {
			return
		}
	}
}

// validateBallot returns a usable target id, or "" to discard the ballot.
// Invalid ballots (unknown, dead, or self targets) follow the configured
// policy: drop them, or substitute a random living non-self target.
func (gc *GameController) validateBallot(voter *Player, targetID string) string {
	gs := gc.state
	if targetID != "" && targetID != voter.ID && gs.IsAliveID(targetID) {
		return targetID
	}

	if gc.cfg.InvalidVotePolicy == InvalidVoteRandom {
		var candidates []string
		for _, p := range gs.AlivePlayers() {
			if p.ID != voter.ID {
				candidates = append(candidates, p.ID)
			}
		}
		if len(candidates) > 0 {
			sub := candidates[gc.rng.Intn(len(candidates))]
			log.Printf("Day voting: invalid ballot from %s, substituting %s", voter.Name, gs.Players[sub].Name)
			return sub
		}
		return ""
	}

	log.Printf("Day voting: dropping invalid ballot from %s (target %q)", voter.Name, targetID)
	return ""
}

// getVoteCounts tallies the ballots cast since ballotStart per target.
// Earlier voting iterations' ballots stay in the log but never carry over
// into a later tally.
func (gc *GameController) getVoteCounts(ballotStart int) map[string]int {
	counts := make(map[string]int)
	for _, v := range gc.state.Votes[ballotStart:] {
		counts[v.TargetID]++
	}
	return counts
}

// resolveDayVotes finds the plurality target among the ballots cast since
// ballotStart and eliminates them, unless the lead is tied.
func (gc *GameController) resolveDayVotes(ballotStart int) {
	gs := gc.state
	counts := gc.getVoteCounts(ballotStart)
	if len(counts) == 0 {
		gc.voteResult(GameEvent{
			Type:        EventVoteResult,
			Round:       gs.Round,
			Phase:       gs.Phase,
			Description: "No valid votes were cast. Nobody is eliminated.",
			Public:      true,
		})
		return
	}

	maxVotes := 0
	leader := ""
	tied := false
	// scan in turn order so the walk is deterministic
	for _, id := range gs.Order {
		n, ok := counts[id]
		if !ok {
			continue
		}
		if n > maxVotes {
			maxVotes = n
			leader = id
			tied = false
		} else if n == maxVotes {
			tied = true
		}
	}

	if tied {
		gc.voteResult(GameEvent{
			Type:        EventVoteResult,
			Round:       gs.Round,
			Phase:       gs.Phase,
			Description: fmt.Sprintf("The vote is tied at %d. Nobody is eliminated.", maxVotes),
			Public:      true,
		})
		return
	}

	eliminated := gs.Players[leader]
	eliminated.Status = StatusDead

	gc.voteResult(GameEvent{
		Type:        EventVoteResult,
		Round:       gs.Round,
		Phase:       gs.Phase,
		Description: fmt.Sprintf("%s is eliminated with %d votes.", eliminated.Name, maxVotes),
		Public:      true,
		Targets:     []string{eliminated.ID},
	})

	desc := fmt.Sprintf("%s has been eliminated by the village.", eliminated.Name)
	if gc.cfg.RevealRoleOnDeath {
		desc = fmt.Sprintf("%s has been eliminated by the village. They were a %s.", eliminated.Name, eliminated.Role)
		gc.revealRole(eliminated)
	}
	gc.addGameEvent(GameEvent{
		Type:        EventElimination,
		Round:       gs.Round,
		Phase:       gs.Phase,
		Description: desc,
		Public:      true,
		Targets:     []string{eliminated.ID},
	})

	gs.CheckGameOver()
}

// voteResult records a vote-result event on both the event stream and the
// dedicated vote-result channel.
func (gc *GameController) voteResult(e GameEvent) {
	gc.addGameEvent(e)
	gc.emit(CallbackVoteResult, e)
}

// revealRole makes a dead player's role known to every living player.
func (gc *GameController) revealRole(dead *Player) {
	for _, p := range gc.state.Players {
		if p.IsAlive() {
			p.KnownRoles[dead.ID] = dead.Role
		}
	}
}
