package server

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// MatchState is a stage of the match lifecycle.
type MatchState int

const (
	StateInit MatchState = iota
	StateCheckIn
	StateDraft
	StateWaitingReport
	StateFinished
	StateCancelled
)

func (s MatchState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateCheckIn:
		return "check-in"
	case StateDraft:
		return "draft"
	case StateWaitingReport:
		return "waiting report"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Winner is the match result indicator.
type Winner string

const (
	WinnerUndecided Winner = "undecided"
	WinnerTeamA     Winner = "a"
	WinnerTeamB     Winner = "b"
	WinnerDraw      Winner = "draw"
)

func winnerTeamIndex(w Winner) int {
	switch w {
	case WinnerTeamA:
		return 0
	case WinnerTeamB:
		return 1
	}
	return -1
}

var teamEmojiPool = []string{
	"🦊", "🐺", "🐶", "🐻", "🐼", "🐯", "🦁", "🐷", "🐙", "🐗",
	"🦂", "🦀", "🦅", "🦈", "🦇", "🦏", "🐲", "🦌",
}

// MatchDeps are the collaborators a match needs over its lifetime. The
// StartMatch callback lets a failed stage restart a refilled queue without
// the match owning queue orchestration.
type MatchDeps struct {
	Logger     *zap.Logger
	Registry   *Registry
	Storage    Storage
	Rating     *RatingEngine
	Messenger  Messenger
	Rand       *rand.Rand
	Now        func() time.Time
	StartMatch func(q *PickupQueue, players []Player)
	Requeued   func(channelID string, players []Player)
}

// Match owns one pickup game from creation to its terminal state: identity,
// teams, the stage worklist, result negotiation and finalization into the
// rating engine. Sub-stage objects (check-in, draft) are owned by the
// match; the owning queue is referenced by name and resolved through the
// registry.
type Match struct {
	ID        int64
	Token     uuid.UUID
	ChannelID string
	QueueName string
	Config    *QueueConfig

	deps MatchDeps

	players   []Player
	ratings   map[string]int
	teams     [3]*Team // team A, team B, unpicked
	maps      []string
	winner    Winner
	state     MatchState
	pending   []MatchState
	startTime time.Time
	lifetime  time.Duration
	ranked    bool
	subQueue  []string // player IDs waiting to be substituted out

	checkIn *CheckIn
	draft   *Draft
}

// NewMatch creates a match from a consumed queue slice: takes the rating
// snapshot, draws maps, forms initial teams and builds the stage worklist.
// The match registers itself and persists its first snapshot.
func NewMatch(ctx context.Context, deps MatchDeps, q *PickupQueue, players []Player) (*Match, error) {
	records, err := deps.Rating.GetRecords(ctx, players)
	if err != nil {
		return nil, err
	}
	ratings := make(map[string]int, len(records))
	for _, record := range records {
		ratings[record.UserID] = record.Rating
	}

	m := &Match{
		ID:        deps.Registry.NextMatchID(),
		Token:     uuid.Must(uuid.NewV4()),
		ChannelID: q.ChannelID,
		QueueName: q.Name(),
		Config:    q.Config,
		deps:      deps,
		players:   append([]Player(nil), players...),
		ratings:   ratings,
		winner:    WinnerUndecided,
		state:     StateInit,
		startTime: deps.Now(),
		lifetime:  q.Config.MatchLifetime,
		ranked:    q.Config.Ranked && q.Config.PickTeams != PickTeamsNone,
	}

	m.initTeams(q.Config)
	m.maps = drawMaps(q.Config.Maps, q.Config.MapCount, q.LastMaps(), deps.Rand)

	if q.Config.CheckInTimeout > 0 {
		m.pending = append(m.pending, StateCheckIn)
	}
	if q.Config.PickTeams == PickTeamsDraft {
		m.pending = append(m.pending, StateDraft)
	}
	if m.ranked {
		m.pending = append(m.pending, StateWaitingReport)
	}

	m.checkIn = newCheckIn(m, q.Config.CheckInTimeout)
	m.draft = newDraft(m, q.Config.PickOrder)

	deps.Registry.RegisterMatch(m)
	m.persistSnapshot(ctx)

	deps.Messenger.Notify(Audience{ChannelID: m.ChannelID, PlayerIDs: PlayerIDs(m.players)},
		fmt.Sprintf("**%s** (%d) has started!", m.QueueName, m.ID))
	if m.Config.StartMessage != "" {
		deps.Messenger.Notify(Audience{ChannelID: m.ChannelID}, m.Config.StartMessage)
	}
	if subscribed := m.dmSubscribers(ctx); len(subscribed) > 0 {
		deps.Messenger.Notify(Audience{PlayerIDs: subscribed, Direct: true},
			fmt.Sprintf("**%s** (%d) has started!", m.QueueName, m.ID))
	}
	return m, nil
}

// dmSubscribers lists roster members who opted in to direct messages.
func (m *Match) dmSubscribers(ctx context.Context) []string {
	var ids []string
	for _, p := range m.players {
		profile, err := m.deps.Storage.GetProfile(ctx, p.ID)
		if err != nil || profile == nil || !profile.AllowDM {
			continue
		}
		ids = append(ids, p.ID)
	}
	return ids
}

func (m *Match) initTeams(config *QueueConfig) {
	emojis := config.TeamEmojis
	if emojis == [2]string{} {
		i := m.deps.Rand.Intn(len(teamEmojiPool))
		j := m.deps.Rand.Intn(len(teamEmojiPool) - 1)
		if j >= i {
			j++
		}
		emojis = [2]string{teamEmojiPool[i], teamEmojiPool[j]}
	}
	m.teams = [3]*Team{
		{Name: config.TeamNames[0], Emoji: emojis[0], Index: 0},
		{Name: config.TeamNames[1], Emoji: emojis[1], Index: 1},
		{Name: "unpicked", Emoji: "📋", Index: -1},
	}

	teamSize := config.MaxTeamSize(len(m.players))
	formation := FormTeams(m.players, m.ratings, teamSize, config, m.deps.Rand)
	m.teams[0].Set(formation.TeamA)
	m.teams[1].Set(formation.TeamB)
	m.teams[2].Set(formation.Unpicked)
}

// drawMaps picks count maps avoiding recently played ones where the pool
// allows it.
func drawMaps(pool []string, count int, lastMaps []string, rng *rand.Rand) []string {
	if count == 0 || len(pool) == 0 {
		return nil
	}
	candidates := append([]string(nil), pool...)
	for i := len(lastMaps) - 1; i >= 0; i-- {
		if len(candidates) <= count {
			break
		}
		candidates = lo.Without(candidates, lastMaps[i])
	}
	rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if count > len(candidates) {
		count = len(candidates)
	}
	return candidates[:count]
}

func (m *Match) State() MatchState { return m.state }

func (m *Match) Winner() Winner { return m.winner }

func (m *Match) Maps() []string { return append([]string(nil), m.maps...) }

// Players returns the current roster in enrollment order.
func (m *Match) Players() []Player { return append([]Player(nil), m.players...) }

func (m *Match) HasPlayer(id string) bool { return containsPlayer(m.players, id) }

// Team returns team 0 or 1, or the unpicked pool for index -1.
func (m *Match) Team(index int) *Team {
	if index == -1 {
		return m.teams[2]
	}
	return m.teams[index]
}

// TeamByName resolves one of the two real teams case-insensitively.
func (m *Match) TeamByName(name string) (*Team, bool) {
	for _, team := range m.teams[:2] {
		if strings.EqualFold(team.Name, name) {
			return team, true
		}
	}
	return nil, false
}

func (m *Match) teamOf(playerID string) *Team {
	for _, team := range m.teams {
		if team.Has(playerID) {
			return team
		}
	}
	return nil
}

// captainTeam returns the team the player captains, if any.
func (m *Match) captainTeam(playerID string) *Team {
	for _, team := range m.teams[:2] {
		if team.IsCaptain(playerID) {
			return team
		}
	}
	return nil
}

// Advance pops the next pending stage and starts it; with the worklist
// empty the match finalizes.
func (m *Match) Advance(ctx context.Context) {
	if len(m.pending) > 0 {
		m.state = m.pending[0]
		m.pending = m.pending[1:]
		m.persistSnapshot(ctx)
		switch m.state {
		case StateCheckIn:
			m.checkIn.start(ctx)
		case StateDraft:
			m.draft.start(ctx)
		case StateWaitingReport:
			m.startWaitingReport(ctx)
		}
		return
	}
	if m.state != StateWaitingReport {
		m.notifyRoster()
	}
	m.finalize(ctx)
}

// startWaitingReport drops never-picked players from the roster and posts
// the final team summary.
func (m *Match) startWaitingReport(ctx context.Context) {
	if m.teams[2].Len() > 0 {
		dropped := m.teams[2].Players
		for _, p := range dropped {
			m.players = removePlayer(m.players, p.ID)
		}
		m.teams[2].Set(nil)
		m.deps.Messenger.Notify(Audience{ChannelID: m.ChannelID, PlayerIDs: PlayerIDs(dropped)},
			"you were removed from the match.")
		m.persistSnapshot(ctx)
	}
	m.notifyRoster()
}

func (m *Match) notifyRoster() {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s** (%d)", m.QueueName, m.ID)
	if len(m.maps) > 0 {
		fmt.Fprintf(&sb, " @ %s", strings.Join(m.maps, ", "))
	}
	for _, team := range m.teams[:2] {
		if team.Len() == 0 {
			continue
		}
		nicks := lo.Map(team.Players, func(p Player, _ int) string { return p.Nick })
		fmt.Fprintf(&sb, "\n%s %s: %s", team.Emoji, team.Name, strings.Join(nicks, ", "))
	}
	if m.Config.PickTeams == PickTeamsNone {
		nicks := lo.Map(m.players, func(p Player, _ int) string { return p.Nick })
		fmt.Fprintf(&sb, "\nplayers: %s", strings.Join(nicks, ", "))
	}
	m.deps.Messenger.Notify(Audience{ChannelID: m.ChannelID}, sb.String())
}

// Think is called once per driver tick.
func (m *Match) Think(ctx context.Context, now time.Time) {
	switch {
	case m.state == StateInit:
		m.Advance(ctx)
	case m.state == StateCheckIn:
		m.checkIn.think(ctx, now)
	case now.After(m.startTime.Add(m.lifetime)):
		m.deps.Messenger.Notify(Audience{ChannelID: m.ChannelID},
			fmt.Sprintf("Match %s (%d) has timed out.", m.QueueName, m.ID))
		m.Cancel(ctx)
	}
}

// ReportLoss is the captain-facing result report. flag selects the claim:
// none reports a plain loss (opponent wins immediately); wants-draw and
// wants-cancel are held until the opposing captain makes the same claim.
func (m *Match) ReportLoss(ctx context.Context, playerID string, flag DrawFlag) error {
	if m.state != StateWaitingReport {
		return NewError(InvalidState, "the match must be on the waiting report stage")
	}
	team := m.captainTeam(playerID)
	if team == nil {
		return NewError(PermissionDenied, "you must be a team captain to report a loss or draw")
	}
	enemy := m.teams[1-team.Index]

	if flag != DrawFlagNone && enemy.DrawFlag != flag {
		team.DrawFlag = flag
		claim := "a draw"
		if flag == DrawFlagWantsCancel {
			claim = "to cancel the match"
		}
		enemyCaptain, _ := enemy.Captain()
		m.deps.Messenger.Notify(Audience{ChannelID: m.ChannelID, PlayerIDs: []string{enemyCaptain.ID}},
			fmt.Sprintf("%s is calling %s, waiting for the opposing captain to confirm.", team.Name, claim))
		return nil
	}

	switch flag {
	case DrawFlagWantsCancel:
		m.Cancel(ctx)
		return nil
	case DrawFlagWantsDraw:
		m.winner = WinnerDraw
	default:
		if enemy.Index == 0 {
			m.winner = WinnerTeamA
		} else {
			m.winner = WinnerTeamB
		}
	}
	m.finalize(ctx)
	return nil
}

// ReportWin sets the result unconditionally; moderator path, bypasses the
// two-phase agreement. Accepts a team name or "draw".
func (m *Match) ReportWin(ctx context.Context, teamName string) error {
	if m.state != StateWaitingReport {
		return NewError(InvalidState, "the match must be on the waiting report stage")
	}
	if strings.EqualFold(teamName, "draw") {
		m.winner = WinnerDraw
	} else if team, ok := m.TeamByName(teamName); ok {
		if team.Index == 0 {
			m.winner = WinnerTeamA
		} else {
			m.winner = WinnerTeamB
		}
	} else {
		return NewError(NotFound, "specified team name not found")
	}
	m.finalize(ctx)
	return nil
}

// SubMe queues the player for substitution.
func (m *Match) SubMe(playerID string) error {
	if m.state != StateCheckIn && m.state != StateDraft && m.state != StateWaitingReport {
		return NewError(InvalidState, "the match must be on the check-in, draft or waiting report stage")
	}
	if !m.HasPlayer(playerID) {
		return ErrPlayerNotFound
	}
	if !lo.Contains(m.subQueue, playerID) {
		m.subQueue = append(m.subQueue, playerID)
	}
	return nil
}

// SubFor swaps the substitute in for a player who asked out. The rating
// snapshot is refreshed for the new roster; an active check-in prompt is
// refreshed and a waiting-report summary re-displayed.
func (m *Match) SubFor(ctx context.Context, substitute Player, targetID string) error {
	if m.state != StateCheckIn && m.state != StateDraft && m.state != StateWaitingReport {
		return NewError(InvalidState, "the match must be on the check-in, draft or waiting report stage")
	}
	if !lo.Contains(m.subQueue, targetID) {
		return NewError(NotFound, "specified player is not looking for a substitute")
	}
	if m.HasPlayer(substitute.ID) {
		return NewError(DuplicateEntry, "you are already in this match")
	}

	team := m.teamOf(targetID)
	for i, p := range team.Players {
		if p.ID == targetID {
			team.Players[i] = substitute
			break
		}
	}
	m.players = removePlayer(m.players, targetID)
	m.players = append(m.players, substitute)
	m.subQueue = lo.Without(m.subQueue, targetID)

	record, err := m.deps.Rating.GetRecord(ctx, substitute)
	if err != nil {
		m.deps.Logger.Warn("Failed to refresh rating snapshot on substitution",
			zap.Int64("match_id", m.ID), zap.Error(err))
	} else {
		m.ratings[substitute.ID] = record.Rating
	}
	delete(m.ratings, targetID)
	m.persistSnapshot(ctx)

	switch m.state {
	case StateCheckIn:
		m.checkIn.playerReplaced(targetID)
	case StateWaitingReport:
		m.notifyRoster()
	}
	return nil
}

// Put force-moves a player onto a team; moderator path, valid during draft
// and waiting-report.
func (m *Match) Put(ctx context.Context, playerID, teamName string) error {
	if m.state != StateDraft && m.state != StateWaitingReport {
		return NewError(InvalidState, "the match must be on the draft or waiting report stage")
	}
	if !m.HasPlayer(playerID) {
		return ErrPlayerNotFound
	}
	target, ok := m.TeamByName(teamName)
	if !ok && strings.EqualFold(teamName, m.teams[2].Name) {
		target, ok = m.teams[2], true
	}
	if !ok {
		return NewErrorf(NotFound, "team with name %q not found", teamName)
	}
	current := m.teamOf(playerID)
	p, _ := findPlayer(m.players, playerID)
	if current != nil {
		current.Remove(playerID)
	}
	target.Add(p)
	m.persistSnapshot(ctx)
	if m.state == StateDraft {
		m.draft.refresh(ctx)
	}
	return nil
}

// Cancel terminates the match without result. Players are released, not
// re-queued. Any outstanding prompt handler is removed first so a stale
// response cannot act on the finished stage.
func (m *Match) Cancel(ctx context.Context) {
	m.checkIn.teardown()
	m.state = StateCancelled
	m.pending = nil
	m.deps.Registry.UnregisterMatch(m)
	if err := m.deps.Storage.DeleteMatchSnapshot(ctx, m.ID); err != nil {
		m.deps.Logger.Warn("Failed to delete match snapshot", zap.Int64("match_id", m.ID), zap.Error(err))
	}
	m.deps.Messenger.Notify(Audience{ChannelID: m.ChannelID, PlayerIDs: PlayerIDs(m.players)},
		"your match has been cancelled.")
	m.deps.Logger.Info("Cancelled match", zap.Int64("match_id", m.ID))
}

// finalize reaches the terminal FINISHED state: registers results, pushes
// maps into the owning queue's cooldown history and leaves the active set.
// A persistence failure leaves the snapshot in place so the match can be
// finalized again after recovery.
func (m *Match) finalize(ctx context.Context) {
	m.state = StateFinished
	m.deps.Registry.UnregisterMatch(m)

	if q, ok := m.deps.Registry.FindQueue(m.ChannelID, m.QueueName); ok {
		q.RecordMaps(m.maps)
	}

	if err := m.registerResult(ctx); err != nil {
		m.deps.Logger.Error("Failed to finalize match, leaving snapshot for recovery",
			zap.Int64("match_id", m.ID), zap.Error(err))
		return
	}

	if err := m.deps.Storage.DeleteMatchSnapshot(ctx, m.ID); err != nil {
		m.deps.Logger.Warn("Failed to delete match snapshot", zap.Int64("match_id", m.ID), zap.Error(err))
	}
	m.deps.Logger.Info("Finished match",
		zap.Int64("match_id", m.ID),
		zap.String("queue", m.QueueName),
		zap.String("winner", string(m.winner)))
}

func (m *Match) registerResult(ctx context.Context) error {
	archive := MatchArchive{
		MatchID:   m.ID,
		ChannelID: m.ChannelID,
		QueueName: m.QueueName,
		At:        m.deps.Now(),
		TeamNames: [2]string{m.teams[0].Name, m.teams[1].Name},
		Ranked:    m.ranked,
		Winner:    m.winner,
		Maps:      m.maps,
	}
	rows := make([]MatchPlayerRow, 0, len(m.players))
	for _, p := range m.players {
		team := -1
		switch {
		case m.teams[0].Has(p.ID):
			team = 0
		case m.teams[1].Has(p.ID):
			team = 1
		}
		rows = append(rows, MatchPlayerRow{
			MatchID:   m.ID,
			ChannelID: m.ChannelID,
			UserID:    p.ID,
			Nick:      p.Nick,
			Team:      team,
		})
	}
	if err := m.deps.Storage.InsertMatchArchive(ctx, archive, rows); err != nil {
		return err
	}

	if !m.ranked {
		return nil
	}

	winners, losers := m.teams[0].Players, m.teams[1].Players
	if m.winner == WinnerTeamB {
		winners, losers = losers, winners
	}
	result, err := m.deps.Rating.Rate(ctx, m.ID, m.QueueName, winners, losers, m.winner == WinnerDraw)
	if err != nil {
		return err
	}
	m.notifyRatingResults(result, winners, losers)
	return nil
}

func (m *Match) notifyRatingResults(result *RateResult, winners, losers []Player) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d) results\n-------------", m.QueueName, m.ID)
	rank := 1
	for _, group := range [][]Player{winners, losers} {
		for _, p := range group {
			before, after := result.Before[p.ID], result.After[p.ID]
			fmt.Fprintf(&sb, "\n%d. %s %d ⟼ %d", rank, p.Nick, before.Rating, after.Rating)
		}
		rank++
	}
	m.deps.Messenger.Notify(Audience{ChannelID: m.ChannelID}, sb.String())
}
