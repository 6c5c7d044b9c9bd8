package server

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	checkInOptionReady   = "ready"
	checkInOptionDiscard = "discard"
)

// CheckIn is the readiness stage: every player must confirm before the
// match proceeds. With map voting enabled the same prompt carries the map
// ballot. The stage resolves one of three ways: everyone ready (success),
// everyone answered with at least one discard (rollback into the queue),
// or the deadline fires.
type CheckIn struct {
	m        *Match
	timeout  time.Duration
	deadline time.Time
	token    uuid.UUID
	active   bool

	ready     map[string]bool
	discarded map[string]bool
	votePool  []string
	votes     map[string]string
}

func newCheckIn(m *Match, timeout time.Duration) *CheckIn {
	return &CheckIn{
		m:         m,
		timeout:   timeout,
		token:     uuid.Must(uuid.NewV4()),
		ready:     make(map[string]bool),
		discarded: make(map[string]bool),
		votes:     make(map[string]string),
	}
}

func (c *CheckIn) start(ctx context.Context) {
	c.deadline = c.m.startTime.Add(c.timeout)
	c.active = true

	config := c.m.Config
	if len(c.votePool) == 0 && config.VoteMaps > 0 && len(config.Maps) > 0 {
		var lastMaps []string
		if q, ok := c.m.deps.Registry.FindQueue(c.m.ChannelID, c.m.QueueName); ok {
			lastMaps = q.LastMaps()
		}
		c.votePool = drawMaps(config.Maps, config.VoteMaps, lastMaps, c.m.deps.Rand)
	}

	c.m.deps.Registry.RegisterPrompt(c.token, c.onResponse)
	c.prompt()
}

func (c *CheckIn) prompt() {
	options := []string{checkInOptionReady}
	if c.m.Config.CheckInDiscard {
		options = append(options, checkInOptionDiscard)
	}
	options = append(options, c.votePool...)

	pending := c.pendingPlayers()
	text := fmt.Sprintf("**%s** (%d) is waiting on %s to check in.",
		c.m.QueueName, c.m.ID,
		strings.Join(lo.Map(pending, func(p Player, _ int) string { return p.Nick }), ", "))
	if len(c.votePool) > 0 {
		text += "\nVote for the map you want to play."
	}
	c.m.deps.Messenger.Prompt(Audience{ChannelID: c.m.ChannelID, PlayerIDs: PlayerIDs(c.m.players)},
		c.token, text, options)
}

// onResponse is invoked by the registry for prompt reactions; the core
// serializes these with every other mutation.
func (c *CheckIn) onResponse(ctx context.Context, playerID, option string, removed bool) {
	if !c.active || !c.m.HasPlayer(playerID) {
		return
	}
	switch option {
	case checkInOptionReady:
		_ = c.SetReady(ctx, playerID, !removed)
	case checkInOptionDiscard:
		if !removed {
			if err := c.Discard(ctx, playerID); err != nil {
				c.m.deps.Messenger.Notify(Audience{PlayerIDs: []string{playerID}, Direct: true}, err.Error())
			}
		}
	default:
		if lo.Contains(c.votePool, option) {
			c.vote(ctx, playerID, option, removed)
		}
	}
}

// SetReady marks or unmarks the player as checked in.
func (c *CheckIn) SetReady(ctx context.Context, playerID string, ready bool) error {
	if !c.active {
		return NewError(InvalidState, "the match is not on the check-in stage")
	}
	if !c.m.HasPlayer(playerID) {
		return ErrPlayerNotFound
	}
	if ready {
		c.ready[playerID] = true
		delete(c.discarded, playerID)
	} else {
		delete(c.ready, playerID)
	}
	c.m.persistSnapshot(ctx)
	c.resolve(ctx)
	return nil
}

// Discard records that the player gives the match up. The stage rolls back
// only once everyone still pending has answered one way or the other.
func (c *CheckIn) Discard(ctx context.Context, playerID string) error {
	if !c.active {
		return NewError(InvalidState, "the match is not on the check-in stage")
	}
	if !c.m.Config.CheckInDiscard {
		return NewError(PermissionDenied, "discarding the check-in stage is disabled on this queue")
	}
	if !c.m.HasPlayer(playerID) {
		return ErrPlayerNotFound
	}
	c.discarded[playerID] = true
	delete(c.ready, playerID)
	c.resolve(ctx)
	return nil
}

// vote records a map ballot; casting one also counts as checking in.
func (c *CheckIn) vote(ctx context.Context, playerID, mapName string, removed bool) {
	if removed {
		if c.votes[playerID] == mapName {
			delete(c.votes, playerID)
		}
		return
	}
	c.votes[playerID] = mapName
	_ = c.SetReady(ctx, playerID, true)
}

func (c *CheckIn) pendingPlayers() []Player {
	return lo.Filter(c.m.players, func(p Player, _ int) bool {
		return !c.ready[p.ID] && !c.discarded[p.ID]
	})
}

func (c *CheckIn) resolve(ctx context.Context) {
	if len(c.ready) == len(c.m.players) {
		c.succeed(ctx)
		return
	}
	if len(c.pendingPlayers()) == 0 && len(c.discarded) > 0 {
		notReady := lo.Filter(c.m.players, func(p Player, _ int) bool { return c.discarded[p.ID] })
		c.rollback(ctx, notReady)
	}
}

func (c *CheckIn) succeed(ctx context.Context) {
	c.teardown()
	if len(c.votePool) > 0 {
		c.m.maps = c.electedMaps()
	}
	c.m.Advance(ctx)
}

// electedMaps tallies the ballot and keeps the configured number of maps,
// most voted first; pool order breaks ties.
func (c *CheckIn) electedMaps() []string {
	tally := make(map[string]int, len(c.votePool))
	for _, mapName := range c.votes {
		tally[mapName]++
	}
	elected := append([]string(nil), c.votePool...)
	sort.SliceStable(elected, func(i, j int) bool { return tally[elected[i]] > tally[elected[j]] })
	count := c.m.Config.MapCount
	if count > len(elected) {
		count = len(elected)
	}
	return elected[:count]
}

// rollback aborts the match and reverts the queue: ready players go back
// to the head of the queue, the rest are dropped. A refilled autostarting
// queue spins up a replacement match immediately.
func (c *CheckIn) rollback(ctx context.Context, notReady []Player) {
	readyPlayers := lo.Filter(c.m.players, func(p Player, _ int) bool { return c.ready[p.ID] })
	c.teardown()
	c.m.state = StateCancelled
	c.m.pending = nil
	c.m.deps.Registry.UnregisterMatch(c.m)
	if err := c.m.deps.Storage.DeleteMatchSnapshot(ctx, c.m.ID); err != nil {
		c.m.deps.Logger.Warn("Failed to delete match snapshot", zap.Int64("match_id", c.m.ID), zap.Error(err))
	}

	c.m.deps.Messenger.Notify(Audience{ChannelID: c.m.ChannelID},
		fmt.Sprintf("Match %s (%d) was aborted: %s failed to check in.",
			c.m.QueueName, c.m.ID,
			strings.Join(lo.Map(notReady, func(p Player, _ int) string { return p.Nick }), ", ")))

	q, ok := c.m.deps.Registry.FindQueue(c.m.ChannelID, c.m.QueueName)
	if !ok {
		return
	}
	started, requeued := q.Revert(notReady, readyPlayers)
	if len(requeued) > 0 {
		c.m.deps.Messenger.Notify(Audience{ChannelID: c.m.ChannelID, PlayerIDs: PlayerIDs(requeued)},
			fmt.Sprintf("you were put back in the **%s** queue.", q.Name()))
		if c.m.deps.Requeued != nil {
			c.m.deps.Requeued(c.m.ChannelID, requeued)
		}
	}
	if len(started) > 0 && c.m.deps.StartMatch != nil {
		c.m.deps.StartMatch(q, started)
	}
}

// think fires the deadline. With discard allowed the pending players are
// treated as discarders and the match rolls back; otherwise the match
// goes on without them.
func (c *CheckIn) think(ctx context.Context, now time.Time) {
	if !c.active || now.Before(c.deadline) {
		return
	}
	notReady := c.pendingPlayers()
	if len(notReady) == 0 {
		c.succeed(ctx)
		return
	}
	if c.m.Config.CheckInDiscard {
		notReady = append(notReady, lo.Filter(c.m.players, func(p Player, _ int) bool { return c.discarded[p.ID] })...)
		c.rollback(ctx, notReady)
		return
	}
	for _, p := range notReady {
		c.m.players = removePlayer(c.m.players, p.ID)
		if team := c.m.teamOf(p.ID); team != nil {
			team.Remove(p.ID)
		}
		delete(c.m.ratings, p.ID)
	}
	c.m.deps.Messenger.Notify(Audience{ChannelID: c.m.ChannelID, PlayerIDs: PlayerIDs(notReady)},
		"you were removed from the match for not checking in.")
	c.succeed(ctx)
}

// playerReplaced transfers check-in bookkeeping across a substitution and
// refreshes the prompt so the substitute sees it.
func (c *CheckIn) playerReplaced(oldID string) {
	if !c.active {
		return
	}
	delete(c.ready, oldID)
	delete(c.discarded, oldID)
	delete(c.votes, oldID)
	c.prompt()
}

func (c *CheckIn) teardown() {
	if !c.active {
		return
	}
	c.active = false
	c.m.deps.Registry.UnregisterPrompt(c.token)
	c.m.deps.Messenger.Retract(c.token)
}
