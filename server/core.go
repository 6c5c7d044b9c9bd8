package server

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Channel is one competitive context: its configured queues and its rating
// engine.
type Channel struct {
	Config *ChannelConfig
	Queues []*PickupQueue
	Rating *RatingEngine
}

// Core is the single entry point for every mutation of the matchmaking
// state. One mutex serializes queue admission, match lifecycle, prompt
// responses, rating administration and the driver tick, which keeps every
// component below it free of locking.
type Core struct {
	mu sync.Mutex

	logger    *zap.Logger
	config    *Config
	storage   Storage
	registry  *Registry
	messenger Messenger
	identity  IdentityProvider
	expire    *ExpireScheduler
	channels  map[string]*Channel
	rng       *rand.Rand
	now       func() time.Time
	lastDecay time.Time
}

// NewCore wires channels and queues from config, seeds the match ID
// counter from storage and restores any in-flight matches left behind by a
// previous run.
func NewCore(ctx context.Context, logger *zap.Logger, config *Config, storage Storage, messenger Messenger, identity IdentityProvider) (*Core, error) {
	lastMatchID, err := storage.LastMatchID(ctx)
	if err != nil {
		return nil, fmt.Errorf("load last match id: %w", err)
	}

	c := &Core{
		logger:    logger,
		config:    config,
		storage:   storage,
		registry:  NewRegistry(logger, lastMatchID),
		messenger: messenger,
		identity:  identity,
		expire:    NewExpireScheduler(),
		channels:  make(map[string]*Channel),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		lastDecay: time.Now(),
	}

	for _, channelConfig := range config.Channels {
		channel := &Channel{
			Config: channelConfig,
			Rating: NewRatingEngine(channelConfig.ID, channelConfig.Rating, storage, logger),
		}
		for _, queueConfig := range channelConfig.Queues {
			q := NewPickupQueue(channelConfig.ID, queueConfig)
			channel.Queues = append(channel.Queues, q)
			c.registry.RegisterQueue(q)
		}
		c.channels[channelConfig.ID] = channel
	}

	if err := c.restoreMatches(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Core) matchDeps(channel *Channel) MatchDeps {
	return MatchDeps{
		Logger:    c.logger,
		Registry:  c.registry,
		Storage:   c.storage,
		Rating:    channel.Rating,
		Messenger: c.messenger,
		Rand:      c.rng,
		Now:       c.now,
		StartMatch: func(q *PickupQueue, players []Player) {
			c.startMatch(context.Background(), q, players)
		},
		Requeued: func(channelID string, players []Player) {
			for _, p := range players {
				c.scheduleExpiry(context.Background(), channelID, p.ID)
			}
		},
	}
}

func (c *Core) restoreMatches(ctx context.Context) error {
	snapshots, err := c.storage.ListMatchSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("list match snapshots: %w", err)
	}
	for _, snap := range snapshots {
		channel, ok := c.channels[snap.ChannelID]
		if !ok {
			c.logger.Warn("Dropping snapshot for unconfigured channel",
				zap.Int64("match_id", snap.MatchID), zap.String("channel_id", snap.ChannelID))
			if err := c.storage.DeleteMatchSnapshot(ctx, snap.MatchID); err != nil {
				c.logger.Warn("Failed to delete match snapshot", zap.Int64("match_id", snap.MatchID), zap.Error(err))
			}
			continue
		}
		m := RestoreMatch(ctx, c.matchDeps(channel), snap)
		if m.State() == StateFinished {
			// Left behind by a failed finalization; try again.
			m.finalize(ctx)
		}
	}
	return nil
}

// Channel returns the channel aggregate, used by adapters for read-only
// rendering.
func (c *Core) Channel(channelID string) (*Channel, bool) {
	channel, ok := c.channels[channelID]
	return channel, ok
}

func (c *Core) channelOf(channelID string) (*Channel, error) {
	channel, ok := c.channels[channelID]
	if !ok {
		return nil, NewErrorf(NotFound, "channel %q is not configured", channelID)
	}
	return channel, nil
}

// resolveQueues maps names to queues, or yields the default set when no
// names are given.
func (c *Core) resolveQueues(channelID string, names []string) ([]*PickupQueue, error) {
	if len(names) == 0 {
		queues := c.registry.DefaultQueues(channelID)
		if len(queues) == 0 {
			return nil, NewError(NotFound, "no default queues on this channel")
		}
		return queues, nil
	}
	queues := make([]*PickupQueue, 0, len(names))
	for _, name := range names {
		q, ok := c.registry.FindQueue(channelID, name)
		if !ok {
			return nil, NewErrorf(NotFound, "queue %q not found", name)
		}
		queues = append(queues, q)
	}
	return queues, nil
}

// AddPlayer queues the player on the named queues, or every default queue
// when none are named. A queue that fills with autostart enabled starts
// its match before the next queue is considered.
func (c *Core) AddPlayer(ctx context.Context, channelID string, p Player, queueNames ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.channelOf(channelID); err != nil {
		return err
	}
	queues, err := c.resolveQueues(channelID, queueNames)
	if err != nil {
		return err
	}

	added := false
	for _, q := range queues {
		result, consumed := q.Admit(p, c.registry.InActiveMatch(channelID, p.ID))
		switch result {
		case AdmitSuccess:
			added = true
			c.registry.ActivateQueue(q)
		case AdmitStarted:
			c.startMatch(ctx, q, consumed)
			return nil
		case AdmitNotAllowed:
			if len(queueNames) > 0 {
				return NewErrorf(PermissionDenied, "you are not allowed to join the %q queue", q.Name())
			}
		}
	}
	if added {
		c.scheduleExpiry(ctx, channelID, p.ID)
	}
	return nil
}

// RemovePlayer withdraws the player from the named queues, or all of them.
func (c *Core) RemovePlayer(ctx context.Context, channelID, playerID string, queueNames ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removePlayer(channelID, playerID, queueNames...)
}

func (c *Core) removePlayer(channelID, playerID string, queueNames ...string) error {
	queues := c.registry.Queues(channelID)
	if len(queueNames) > 0 {
		var err error
		queues, err = c.resolveQueues(channelID, queueNames)
		if err != nil {
			return err
		}
	}
	for _, q := range queues {
		q.Withdraw(playerID)
		if q.Len() == 0 {
			c.registry.DeactivateQueue(q)
		}
	}
	if !c.isQueuedAnywhere(channelID, playerID) {
		c.expire.Cancel(channelID, playerID)
	}
	return nil
}

func (c *Core) isQueuedAnywhere(channelID, playerID string) bool {
	for _, q := range c.registry.Queues(channelID) {
		if q.IsQueued(playerID) {
			return true
		}
	}
	return false
}

// scheduleExpiry arms the auto-withdraw timer using the player's personal
// default, falling back to the channel default.
func (c *Core) scheduleExpiry(ctx context.Context, channelID, playerID string) {
	channel := c.channels[channelID]
	after := channel.Config.ExpireDefault
	profile, err := c.storage.GetProfile(ctx, playerID)
	if err != nil {
		c.logger.Warn("Failed to load player profile", zap.String("user_id", playerID), zap.Error(err))
	} else if profile != nil && profile.ExpireAfter > 0 {
		after = profile.ExpireAfter
	}
	if after > 0 {
		c.expire.Schedule(channelID, playerID, c.now().Add(after))
	}
}

// SetExpire arms, rearms or clears the caller's timer for this session.
func (c *Core) SetExpire(ctx context.Context, channelID, playerID string, after time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.channelOf(channelID); err != nil {
		return err
	}
	if !c.isQueuedAnywhere(channelID, playerID) {
		return NewError(InvalidState, "you are not queued on this channel")
	}
	if after <= 0 {
		c.expire.Cancel(channelID, playerID)
		return nil
	}
	c.expire.Schedule(channelID, playerID, c.now().Add(after))
	return nil
}

// SetDefaultExpire persists the player's personal default idle expiry.
func (c *Core) SetDefaultExpire(ctx context.Context, playerID string, after time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	profile, err := c.storage.GetProfile(ctx, playerID)
	if err != nil {
		return err
	}
	if profile == nil {
		profile = &PlayerProfile{UserID: playerID, AllowDM: true}
	}
	profile.ExpireAfter = after
	return c.storage.UpsertProfile(ctx, profile)
}

// SetAllowDM persists the player's direct-message opt-in flag.
func (c *Core) SetAllowDM(ctx context.Context, playerID string, allow bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	profile, err := c.storage.GetProfile(ctx, playerID)
	if err != nil {
		return err
	}
	if profile == nil {
		profile = &PlayerProfile{UserID: playerID}
	}
	profile.AllowDM = allow
	return c.storage.UpsertProfile(ctx, profile)
}

// Promote posts a call for players with the number of free slots left.
func (c *Core) Promote(ctx context.Context, channelID, queueName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.channelOf(channelID); err != nil {
		return err
	}
	q, ok := c.registry.FindQueue(channelID, queueName)
	if !ok {
		return NewErrorf(NotFound, "queue %q not found", queueName)
	}
	needed := q.Config.Size - q.Len()
	if needed <= 0 {
		return NewError(InvalidState, "the queue is already full")
	}
	c.messenger.Notify(Audience{ChannelID: channelID, RoleID: q.Config.PromotionRoleID},
		fmt.Sprintf("%d more players needed for **%s**!", needed, q.Name()))
	return nil
}

// StartQueue force-starts a queue with its current members; moderator
// operation, works below capacity.
func (c *Core) StartQueue(ctx context.Context, channelID, moderatorID, queueName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireModerator(channelID, moderatorID); err != nil {
		return err
	}
	q, ok := c.registry.FindQueue(channelID, queueName)
	if !ok {
		return NewErrorf(NotFound, "queue %q not found", queueName)
	}
	players := q.Clear()
	if len(players) < 2 {
		return NewError(InvalidState, "not enough players to start the queue")
	}
	c.registry.DeactivateQueue(q)
	c.startMatch(ctx, q, players)
	return nil
}

// Split drains the queue into consecutive groups and starts a match per
// group. With sortByRating the queue is ordered by rating first so groups
// are tiered.
func (c *Core) Split(ctx context.Context, channelID, queueName string, groupSize int, sortByRating bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel, err := c.channelOf(channelID)
	if err != nil {
		return err
	}
	q, ok := c.registry.FindQueue(channelID, queueName)
	if !ok {
		return NewErrorf(NotFound, "queue %q not found", queueName)
	}
	ratings, err := c.ratingsFor(ctx, channel, q.Players())
	if err != nil {
		return err
	}
	groups, err := q.SplitGroups(groupSize, ratings, sortByRating)
	if err != nil {
		return err
	}
	for _, group := range groups {
		c.startMatch(ctx, q, group)
	}
	if q.Len() == 0 {
		c.registry.DeactivateQueue(q)
	}
	return nil
}

func (c *Core) ratingsFor(ctx context.Context, channel *Channel, players []Player) (map[string]int, error) {
	records, err := channel.Rating.GetRecords(ctx, players)
	if err != nil {
		return nil, err
	}
	ratings := make(map[string]int, len(records))
	for _, record := range records {
		ratings[record.UserID] = record.Rating
	}
	return ratings, nil
}

// startMatch creates a match from a consumed player slice and performs the
// queue-side housekeeping: the players leave every other queue on the
// channel, their expiry timers are dropped and empty queues deactivate.
func (c *Core) startMatch(ctx context.Context, q *PickupQueue, players []Player) {
	channel := c.channels[q.ChannelID]
	m, err := NewMatch(ctx, c.matchDeps(channel), q, players)
	if err != nil {
		c.logger.Error("Failed to start match, re-queueing players",
			zap.String("queue", q.Name()), zap.Error(err))
		q.Requeue(players)
		c.registry.ActivateQueue(q)
		for _, p := range players {
			c.scheduleExpiry(ctx, q.ChannelID, p.ID)
		}
		return
	}

	for _, p := range players {
		c.expire.Cancel(q.ChannelID, p.ID)
		for _, other := range c.registry.Queues(q.ChannelID) {
			other.Withdraw(p.ID)
		}
	}
	for _, other := range c.registry.Queues(q.ChannelID) {
		if other.Len() == 0 {
			c.registry.DeactivateQueue(other)
		}
	}
	m.Advance(ctx)
}

// HandlePromptResponse routes an interactive response (a reaction) to the
// owning prompt handler. Unknown tokens are stale prompts and are ignored.
func (c *Core) HandlePromptResponse(ctx context.Context, token uuid.UUID, playerID, option string, removed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handler, ok := c.registry.Prompt(token)
	if !ok {
		return
	}
	handler(ctx, playerID, option, removed)
}

func (c *Core) matchOf(channelID, playerID string) (*Match, error) {
	m, ok := c.registry.MatchByPlayer(channelID, playerID)
	if !ok {
		return nil, NewError(NotFound, "you are not in an active match")
	}
	return m, nil
}

// SetReady marks the caller checked in (or not) on their active match.
func (c *Core) SetReady(ctx context.Context, channelID, playerID string, ready bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.matchOf(channelID, playerID)
	if err != nil {
		return err
	}
	return m.checkIn.SetReady(ctx, playerID, ready)
}

// DiscardCheckIn records the caller giving up their active match's
// check-in.
func (c *Core) DiscardCheckIn(ctx context.Context, channelID, playerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.matchOf(channelID, playerID)
	if err != nil {
		return err
	}
	return m.checkIn.Discard(ctx, playerID)
}

// Pick drafts one or more unpicked players onto the caller's team.
func (c *Core) Pick(ctx context.Context, channelID, captainID string, targetIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.matchOf(channelID, captainID)
	if err != nil {
		return err
	}
	return m.draft.Pick(ctx, captainID, targetIDs...)
}

// CapFor claims the captain seat of a team in the caller's active draft.
func (c *Core) CapFor(ctx context.Context, channelID string, requester Player, teamName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.matchOf(channelID, requester.ID)
	if err != nil {
		return err
	}
	if roleID := m.Config.CaptainsRoleID; roleID != "" && !requester.HasRole(roleID) {
		return NewError(PermissionDenied, "you need the captain role to do that")
	}
	return m.draft.CapFor(ctx, requester, teamName)
}

// ReportLoss reports the caller's team losing, or claims a draw or cancel
// subject to the opposing captain's agreement.
func (c *Core) ReportLoss(ctx context.Context, channelID, playerID string, flag DrawFlag) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.matchOf(channelID, playerID)
	if err != nil {
		return err
	}
	return m.ReportLoss(ctx, playerID, flag)
}

// ReportWin sets a match result directly; moderator operation.
func (c *Core) ReportWin(ctx context.Context, channelID, moderatorID string, matchID int64, teamName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireModerator(channelID, moderatorID); err != nil {
		return err
	}
	m, ok := c.registry.Match(matchID)
	if !ok || m.ChannelID != channelID {
		return ErrMatchNotFound
	}
	return m.ReportWin(ctx, teamName)
}

// CancelMatch terminates a match without result; moderator operation.
func (c *Core) CancelMatch(ctx context.Context, channelID, moderatorID string, matchID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireModerator(channelID, moderatorID); err != nil {
		return err
	}
	m, ok := c.registry.Match(matchID)
	if !ok || m.ChannelID != channelID {
		return ErrMatchNotFound
	}
	m.Cancel(ctx)
	return nil
}

// SubMe queues the caller for substitution out of their active match.
func (c *Core) SubMe(ctx context.Context, channelID, playerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.matchOf(channelID, playerID)
	if err != nil {
		return err
	}
	return m.SubMe(playerID)
}

// SubFor swaps the caller in for a match player waiting for a substitute.
func (c *Core) SubFor(ctx context.Context, channelID string, substitute Player, targetID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.registry.MatchByPlayer(channelID, targetID)
	if !ok {
		return ErrMatchNotFound
	}
	if c.registry.InActiveMatch(channelID, substitute.ID) {
		return NewError(DuplicateEntry, "you are already in an active match")
	}
	if err := m.SubFor(ctx, substitute, targetID); err != nil {
		return err
	}
	return c.removePlayer(channelID, substitute.ID)
}

// Put force-moves a match player between teams; moderator operation.
func (c *Core) Put(ctx context.Context, channelID, moderatorID string, matchID int64, playerID, teamName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireModerator(channelID, moderatorID); err != nil {
		return err
	}
	m, ok := c.registry.Match(matchID)
	if !ok || m.ChannelID != channelID {
		return ErrMatchNotFound
	}
	return m.Put(ctx, playerID, teamName)
}

func (c *Core) requireModerator(channelID, playerID string) error {
	if _, err := c.channelOf(channelID); err != nil {
		return err
	}
	if !c.identity.IsModerator(channelID, playerID) {
		return NewError(PermissionDenied, "you must be a channel moderator to do that")
	}
	return nil
}

// SeedRating sets a player's rating (and optionally deviation) directly;
// moderator operation, audited.
func (c *Core) SeedRating(ctx context.Context, channelID, moderatorID string, p Player, rating int, deviation *int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireModerator(channelID, moderatorID); err != nil {
		return err
	}
	return c.channels[channelID].Rating.SetRating(ctx, p, rating, deviation, "manual seeding")
}

// AddPenalty subtracts a rating penalty; moderator operation, audited.
func (c *Core) AddPenalty(ctx context.Context, channelID, moderatorID string, p Player, penalty int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireModerator(channelID, moderatorID); err != nil {
		return err
	}
	return c.channels[channelID].Rating.AddPenalty(ctx, p, penalty, reason)
}

// HidePlayer toggles leaderboard visibility; moderator operation.
func (c *Core) HidePlayer(ctx context.Context, channelID, moderatorID string, p Player, hidden bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireModerator(channelID, moderatorID); err != nil {
		return err
	}
	return c.channels[channelID].Rating.HidePlayer(ctx, p, hidden)
}

// ResetRatings wipes the channel's ratings; moderator operation, audited.
func (c *Core) ResetRatings(ctx context.Context, channelID, moderatorID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireModerator(channelID, moderatorID); err != nil {
		return err
	}
	return c.channels[channelID].Rating.Reset(ctx)
}

// SnapRatings collapses every rating to its rank threshold; moderator
// operation, audited.
func (c *Core) SnapRatings(ctx context.Context, channelID, moderatorID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireModerator(channelID, moderatorID); err != nil {
		return err
	}
	return c.channels[channelID].Rating.SnapRatings(ctx)
}

// UndoMatch reverses a registered match's rating effects; moderator
// operation.
func (c *Core) UndoMatch(ctx context.Context, channelID, moderatorID string, matchID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireModerator(channelID, moderatorID); err != nil {
		return err
	}
	return c.channels[channelID].Rating.Undo(ctx, matchID)
}

// Leaderboard returns the channel's ordered ratings.
func (c *Core) Leaderboard(ctx context.Context, channelID string, limit int) ([]RatingRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel, err := c.channelOf(channelID)
	if err != nil {
		return nil, err
	}
	return channel.Rating.Leaderboard(ctx, limit)
}

// FakeRankedMatch registers a premade ranked result without running the
// lifecycle; moderator operation, used for seeding ratings from games
// played elsewhere.
func (c *Core) FakeRankedMatch(ctx context.Context, channelID, moderatorID, queueName string, winners, losers []Player, draw bool) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireModerator(channelID, moderatorID); err != nil {
		return 0, err
	}
	if len(winners) == 0 || len(losers) == 0 {
		return 0, NewError(ValidationError, "both teams must have players")
	}
	channel := c.channels[channelID]
	matchID := c.registry.NextMatchID()

	winner := WinnerTeamA
	if draw {
		winner = WinnerDraw
	}
	archive := MatchArchive{
		MatchID:   matchID,
		ChannelID: channelID,
		QueueName: queueName,
		At:        c.now(),
		TeamNames: [2]string{"Alpha", "Beta"},
		Ranked:    true,
		Winner:    winner,
	}
	rows := make([]MatchPlayerRow, 0, len(winners)+len(losers))
	for team, group := range [][]Player{winners, losers} {
		for _, p := range group {
			rows = append(rows, MatchPlayerRow{MatchID: matchID, ChannelID: channelID, UserID: p.ID, Nick: p.Nick, Team: team})
		}
	}
	if err := c.storage.InsertMatchArchive(ctx, archive, rows); err != nil {
		return 0, err
	}
	if _, err := channel.Rating.Rate(ctx, matchID, queueName, winners, losers, draw); err != nil {
		return 0, err
	}
	return matchID, nil
}

// QueueStatus renders the channel's queues for display: name, fill and
// queued nicks.
func (c *Core) QueueStatus(channelID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	queues := c.registry.Queues(channelID)
	if len(queues) == 0 {
		return "no queues configured on this channel."
	}
	lines := make([]string, 0, len(queues))
	for _, q := range queues {
		line := fmt.Sprintf("**%s** (%d/%d)", q.Name(), q.Len(), q.Config.Size)
		if nicks := lo.Map(q.Players(), func(p Player, _ int) string { return p.Nick }); len(nicks) > 0 {
			line += ": " + strings.Join(nicks, ", ")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Tick runs one driver heartbeat: every active match thinks, then at most
// one expiry timer fires. A panicking match is cancelled rather than
// allowed to stall the tick.
func (c *Core) Tick(ctx context.Context, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.registry.ActiveMatches() {
		c.thinkMatch(ctx, m, now)
	}

	if channelID, userID, fired := c.expire.Think(now); fired {
		if err := c.removePlayer(channelID, userID); err != nil {
			c.logger.Warn("Failed to expire player", zap.String("user_id", userID), zap.Error(err))
			return
		}
		c.messenger.Notify(Audience{ChannelID: channelID, PlayerIDs: []string{userID}},
			"your queue subscription expired.")
	}

	if now.Sub(c.lastDecay) >= 7*24*time.Hour {
		c.lastDecay = now
		for id, channel := range c.channels {
			if err := channel.Rating.ApplyDecay(ctx); err != nil {
				c.logger.Warn("Rating decay pass failed", zap.String("channel_id", id), zap.Error(err))
			}
		}
	}
}

func (c *Core) thinkMatch(ctx context.Context, m *Match, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Match panicked during tick, cancelling it",
				zap.Int64("match_id", m.ID), zap.Any("panic", r))
			m.Cancel(ctx)
		}
	}()
	m.Think(ctx, now)
}
