package server

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// MatchSnapshot is the serializable state of a live match, persisted after
// every mutation so matches survive a process restart.
type MatchSnapshot struct {
	MatchID    int64             `json:"match_id"`
	Token      uuid.UUID         `json:"token"`
	ChannelID  string            `json:"channel_id"`
	QueueName  string            `json:"queue_name"`
	Config     *QueueConfig      `json:"config"`
	Players    []Player          `json:"players"`
	Teams      [3][]string       `json:"teams"` // member IDs, captains first
	Ratings    map[string]int    `json:"ratings"`
	Maps       []string          `json:"maps"`
	State      MatchState        `json:"state"`
	Pending    []MatchState      `json:"pending"`
	Ready      []string          `json:"ready"`
	Discarded  []string          `json:"discarded"`
	VotePool   []string          `json:"vote_pool,omitempty"`
	Votes      map[string]string `json:"votes,omitempty"`
	DraftPicks int               `json:"draft_picks"`
	Winner     Winner            `json:"winner"`
	StartTime  time.Time         `json:"start_time"`
}

func (m *Match) snapshot() *MatchSnapshot {
	snap := &MatchSnapshot{
		MatchID:    m.ID,
		Token:      m.Token,
		ChannelID:  m.ChannelID,
		QueueName:  m.QueueName,
		Config:     m.Config,
		Players:    append([]Player(nil), m.players...),
		Ratings:    lo.Assign(map[string]int{}, m.ratings),
		Maps:       append([]string(nil), m.maps...),
		State:      m.state,
		Pending:    append([]MatchState(nil), m.pending...),
		Ready:      lo.Keys(m.checkIn.ready),
		Discarded:  lo.Keys(m.checkIn.discarded),
		VotePool:   append([]string(nil), m.checkIn.votePool...),
		Votes:      lo.Assign(map[string]string{}, m.checkIn.votes),
		DraftPicks: m.draft.picks,
		Winner:     m.winner,
		StartTime:  m.startTime,
	}
	for i, team := range m.teams {
		snap.Teams[i] = PlayerIDs(team.Players)
	}
	return snap
}

// persistSnapshot is best-effort: a write failure degrades crash recovery
// but never blocks the live match.
func (m *Match) persistSnapshot(ctx context.Context) {
	if err := m.deps.Storage.SaveMatchSnapshot(ctx, m.snapshot()); err != nil {
		m.deps.Logger.Warn("Failed to persist match snapshot",
			zap.Int64("match_id", m.ID), zap.Error(err))
	}
}

// RestoreMatch rebuilds a live match from its persisted snapshot after a
// restart. A match restored mid check-in re-issues its prompt; matches in
// later stages resume silently.
func RestoreMatch(ctx context.Context, deps MatchDeps, snap *MatchSnapshot) *Match {
	m := &Match{
		ID:        snap.MatchID,
		Token:     snap.Token,
		ChannelID: snap.ChannelID,
		QueueName: snap.QueueName,
		Config:    snap.Config,
		deps:      deps,
		players:   append([]Player(nil), snap.Players...),
		ratings:   lo.Assign(map[string]int{}, snap.Ratings),
		maps:      append([]string(nil), snap.Maps...),
		winner:    snap.Winner,
		state:     snap.State,
		pending:   append([]MatchState(nil), snap.Pending...),
		startTime: snap.StartTime,
		lifetime:  snap.Config.MatchLifetime,
		ranked:    snap.Config.Ranked && snap.Config.PickTeams != PickTeamsNone,
	}

	byID := make(map[string]Player, len(snap.Players))
	for _, p := range snap.Players {
		byID[p.ID] = p
	}
	emojis := snap.Config.TeamEmojis
	if emojis == [2]string{} {
		emojis = [2]string{teamEmojiPool[0], teamEmojiPool[1]}
	}
	names := [3]string{snap.Config.TeamNames[0], snap.Config.TeamNames[1], "unpicked"}
	glyphs := [3]string{emojis[0], emojis[1], "📋"}
	indexes := [3]int{0, 1, -1}
	for i := range m.teams {
		members := lo.FilterMap(snap.Teams[i], func(id string, _ int) (Player, bool) {
			p, ok := byID[id]
			return p, ok
		})
		m.teams[i] = &Team{Name: names[i], Emoji: glyphs[i], Index: indexes[i]}
		m.teams[i].Set(members)
	}

	m.checkIn = newCheckIn(m, snap.Config.CheckInTimeout)
	for _, id := range snap.Ready {
		m.checkIn.ready[id] = true
	}
	for _, id := range snap.Discarded {
		m.checkIn.discarded[id] = true
	}
	m.checkIn.votePool = append([]string(nil), snap.VotePool...)
	m.checkIn.votes = lo.Assign(map[string]string{}, snap.Votes)
	m.draft = newDraft(m, snap.Config.PickOrder)
	m.draft.picks = snap.DraftPicks

	deps.Registry.BumpMatchID(snap.MatchID)
	deps.Registry.RegisterMatch(m)

	switch m.state {
	case StateCheckIn:
		m.checkIn.start(ctx)
	case StateDraft:
		m.draft.active = true
		m.draft.announceTurn()
	}
	deps.Logger.Info("Restored match from snapshot",
		zap.Int64("match_id", m.ID),
		zap.String("queue", m.QueueName),
		zap.Stringer("state", m.state))
	return m
}
