package server

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// allowAllIdentity grants moderator to everyone; used to exercise
// moderator paths.
type allowAllIdentity struct{}

func (allowAllIdentity) IsModerator(string, string) bool { return true }

func testCore(t *testing.T, identity IdentityProvider, configure func(*QueueConfig)) (*Core, *MemoryStorage) {
	t.Helper()
	queueConfig := NewQueueConfig("pug", 4)
	queueConfig.Ranked = true
	queueConfig.PickOrder = "ab"
	queueConfig.MapCooldown = 0
	if configure != nil {
		configure(queueConfig)
	}
	config := NewConfig()
	config.Channels = []*ChannelConfig{{
		ID:     "ch",
		Rating: NewRatingConfig(),
		Queues: []*QueueConfig{queueConfig},
	}}
	storage := NewMemoryStorage()
	core, err := NewCore(context.Background(), zap.NewNop(), config, storage, NopMessenger{}, identity)
	require.NoError(t, err)
	core.rng = rand.New(rand.NewSource(1))
	return core, storage
}

func seedRatings(t *testing.T, core *Core, ratings map[string]int) {
	t.Helper()
	for id, value := range ratings {
		require.NoError(t, core.channels["ch"].Rating.SetRating(context.Background(), Player{ID: id, Nick: id}, value, nil, "manual seeding"))
	}
}

func fillQueue(t *testing.T, core *Core, ids ...string) *Match {
	t.Helper()
	for _, p := range testPlayers(ids...) {
		require.NoError(t, core.AddPlayer(context.Background(), "ch", p))
	}
	matches := core.registry.ActiveMatches()
	require.Len(t, matches, 1)
	return matches[0]
}

func TestMatchDraftLifecycle(t *testing.T) {
	core, storage := testCore(t, NopIdentity{}, nil)
	ctx := context.Background()
	seedRatings(t, core, map[string]int{"p1": 400, "p2": 300, "p3": 200, "p4": 100})

	m := fillQueue(t, core, "p1", "p2", "p3", "p4")
	require.Equal(t, StateDraft, m.State())
	assert.True(t, m.Team(0).IsCaptain("p1"), "highest rated player captains team A")
	assert.True(t, m.Team(1).IsCaptain("p2"))

	err := core.Pick(ctx, "ch", "p2", "p3")
	assert.True(t, ErrorIsCode(err, PermissionDenied), "team A picks first")

	require.NoError(t, core.Pick(ctx, "ch", "p1", "p3"))
	require.Equal(t, StateWaitingReport, m.State(), "the forced last pick auto-assigns")
	assert.True(t, m.Team(1).Has("p4"))

	// Losing captain reports; team A wins and the match finalizes.
	require.NoError(t, core.ReportLoss(ctx, "ch", "p2", DrawFlagNone))
	assert.Equal(t, StateFinished, m.State())
	assert.Equal(t, WinnerTeamA, m.Winner())
	assert.Empty(t, core.registry.ActiveMatches())

	archive, playerRows, err := storage.GetMatchArchive(ctx, "ch", m.ID)
	require.NoError(t, err)
	assert.Equal(t, WinnerTeamA, archive.Winner)
	assert.Len(t, playerRows, 4)

	winner, err := core.channels["ch"].Rating.GetRecord(ctx, Player{ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 416, winner.Rating)
	assert.Equal(t, 1, winner.Wins)

	snapshots, err := storage.ListMatchSnapshots(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshots, "a finalized match leaves no snapshot behind")
}

func TestMatchDrawAgreement(t *testing.T) {
	core, _ := testCore(t, NopIdentity{}, nil)
	ctx := context.Background()
	seedRatings(t, core, map[string]int{"p1": 400, "p2": 300, "p3": 200, "p4": 100})

	m := fillQueue(t, core, "p1", "p2", "p3", "p4")
	require.NoError(t, core.Pick(ctx, "ch", "p1", "p3"))

	require.NoError(t, core.ReportLoss(ctx, "ch", "p1", DrawFlagWantsDraw))
	assert.Equal(t, StateWaitingReport, m.State(), "a draw claim waits for the other captain")

	require.NoError(t, core.ReportLoss(ctx, "ch", "p2", DrawFlagWantsDraw))
	assert.Equal(t, StateFinished, m.State())
	assert.Equal(t, WinnerDraw, m.Winner())

	record, err := core.channels["ch"].Rating.GetRecord(ctx, Player{ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 400, record.Rating, "a flat draw moves nobody")
	assert.Equal(t, 1, record.Draws)
}

func TestMatchCancelAgreement(t *testing.T) {
	core, storage := testCore(t, NopIdentity{}, nil)
	ctx := context.Background()
	seedRatings(t, core, map[string]int{"p1": 400, "p2": 300, "p3": 200, "p4": 100})

	m := fillQueue(t, core, "p1", "p2", "p3", "p4")
	require.NoError(t, core.Pick(ctx, "ch", "p1", "p3"))

	require.NoError(t, core.ReportLoss(ctx, "ch", "p1", DrawFlagWantsCancel))
	require.NoError(t, core.ReportLoss(ctx, "ch", "p2", DrawFlagWantsCancel))

	assert.Equal(t, StateCancelled, m.State())
	assert.Empty(t, core.registry.ActiveMatches())
	_, _, err := storage.GetMatchArchive(ctx, "ch", m.ID)
	assert.ErrorIs(t, err, ErrMatchNotFound, "a cancelled match is not archived")
}

func TestCheckInRollback(t *testing.T) {
	core, _ := testCore(t, NopIdentity{}, func(c *QueueConfig) {
		c.Size = 2
		c.Ranked = false
		c.PickTeams = PickTeamsNone
		c.CheckInTimeout = 10 * time.Minute
	})
	ctx := context.Background()

	m := fillQueue(t, core, "p1", "p2")
	require.Equal(t, StateCheckIn, m.State())

	require.NoError(t, core.SetReady(ctx, "ch", "p1", true))
	require.Equal(t, StateCheckIn, m.State())

	require.NoError(t, core.DiscardCheckIn(ctx, "ch", "p2"))
	assert.Equal(t, StateCancelled, m.State(), "everyone answered, one discard rolls back")
	assert.Empty(t, core.registry.ActiveMatches())

	q, _ := core.registry.FindQueue("ch", "pug")
	assert.Equal(t, []string{"p1"}, PlayerIDs(q.Players()), "the ready player is requeued")
}

func TestCheckInAllReady(t *testing.T) {
	core, storage := testCore(t, NopIdentity{}, func(c *QueueConfig) {
		c.Size = 2
		c.Ranked = false
		c.PickTeams = PickTeamsNone
		c.CheckInTimeout = 10 * time.Minute
	})
	ctx := context.Background()

	m := fillQueue(t, core, "p1", "p2")
	require.NoError(t, core.SetReady(ctx, "ch", "p1", true))
	require.NoError(t, core.SetReady(ctx, "ch", "p2", true))

	assert.Equal(t, StateFinished, m.State(), "an unranked match finalizes after check-in")
	archive, _, err := storage.GetMatchArchive(ctx, "ch", m.ID)
	require.NoError(t, err)
	assert.False(t, archive.Ranked)
	assert.Equal(t, WinnerUndecided, archive.Winner)
}

func TestCheckInDeadlineForceCompletes(t *testing.T) {
	core, _ := testCore(t, NopIdentity{}, func(c *QueueConfig) {
		c.PickTeams = PickTeamsRandom
		c.CheckInTimeout = 5 * time.Minute
		c.CheckInDiscard = false
	})
	ctx := context.Background()

	m := fillQueue(t, core, "p1", "p2", "p3", "p4")
	require.NoError(t, core.SetReady(ctx, "ch", "p1", true))
	require.NoError(t, core.SetReady(ctx, "ch", "p2", true))

	core.Tick(ctx, time.Now().Add(6*time.Minute))

	assert.Equal(t, StateWaitingReport, m.State())
	assert.Equal(t, []string{"p1", "p2"}, PlayerIDs(m.Players()),
		"with discard disabled the deadline keeps only the ready players")
}

func TestCheckInDeadlineRollsBack(t *testing.T) {
	core, _ := testCore(t, NopIdentity{}, func(c *QueueConfig) {
		c.Size = 2
		c.Ranked = false
		c.PickTeams = PickTeamsNone
		c.CheckInTimeout = 5 * time.Minute
	})
	ctx := context.Background()

	m := fillQueue(t, core, "p1", "p2")
	core.Tick(ctx, time.Now().Add(6*time.Minute))

	assert.Equal(t, StateCancelled, m.State())
	assert.Empty(t, core.registry.ActiveMatches())
	q, _ := core.registry.FindQueue("ch", "pug")
	assert.Equal(t, 0, q.Len(), "nobody was ready, nobody is requeued")
}

func TestMatchLifetimeTimeout(t *testing.T) {
	core, storage := testCore(t, NopIdentity{}, func(c *QueueConfig) {
		c.MatchLifetime = time.Minute
	})
	ctx := context.Background()
	seedRatings(t, core, map[string]int{"p1": 400, "p2": 300, "p3": 200, "p4": 100})

	m := fillQueue(t, core, "p1", "p2", "p3", "p4")
	require.NoError(t, core.Pick(ctx, "ch", "p1", "p3"))
	require.Equal(t, StateWaitingReport, m.State())

	core.Tick(ctx, time.Now().Add(2*time.Minute))

	assert.Equal(t, StateCancelled, m.State())
	_, _, err := storage.GetMatchArchive(ctx, "ch", m.ID)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestMatchSubstitution(t *testing.T) {
	core, _ := testCore(t, NopIdentity{}, nil)
	ctx := context.Background()
	seedRatings(t, core, map[string]int{"p1": 400, "p2": 300, "p3": 200, "p4": 100})

	m := fillQueue(t, core, "p1", "p2", "p3", "p4")
	require.NoError(t, core.Pick(ctx, "ch", "p1", "p3"))

	require.NoError(t, core.SubMe(ctx, "ch", "p3"))
	require.NoError(t, core.SubFor(ctx, "ch", Player{ID: "p5", Nick: "nick-p5"}, "p3"))

	assert.False(t, m.HasPlayer("p3"))
	assert.True(t, m.HasPlayer("p5"))
	assert.True(t, m.Team(0).Has("p5"), "the substitute takes the team slot")

	err := core.SubFor(ctx, "ch", Player{ID: "p6"}, "p3")
	assert.Error(t, err, "p3 already left the match")
}

func TestModeratorOperations(t *testing.T) {
	core, _ := testCore(t, allowAllIdentity{}, nil)
	ctx := context.Background()
	seedRatings(t, core, map[string]int{"p1": 400, "p2": 300, "p3": 200, "p4": 100})

	m := fillQueue(t, core, "p1", "p2", "p3", "p4")
	require.NoError(t, core.Pick(ctx, "ch", "p1", "p3"))

	require.NoError(t, core.Put(ctx, "ch", "mod", m.ID, "p4", "Alpha"))
	assert.True(t, m.Team(0).Has("p4"))

	require.NoError(t, core.ReportWin(ctx, "ch", "mod", m.ID, "Beta"))
	assert.Equal(t, WinnerTeamB, m.Winner())
	assert.Equal(t, StateFinished, m.State())
}

func TestModeratorRequired(t *testing.T) {
	core, _ := testCore(t, NopIdentity{}, nil)
	ctx := context.Background()

	err := core.ReportWin(ctx, "ch", "nobody", 1, "Alpha")
	assert.True(t, ErrorIsCode(err, PermissionDenied))
	err = core.ResetRatings(ctx, "ch", "nobody")
	assert.True(t, ErrorIsCode(err, PermissionDenied))
}

func TestSnapshotRestore(t *testing.T) {
	core, storage := testCore(t, NopIdentity{}, func(c *QueueConfig) {
		c.Size = 2
		c.Ranked = false
		c.PickTeams = PickTeamsNone
		c.CheckInTimeout = 10 * time.Minute
	})
	ctx := context.Background()

	m := fillQueue(t, core, "p1", "p2")
	require.NoError(t, core.SetReady(ctx, "ch", "p1", true))

	// A second core over the same storage simulates a process restart.
	restarted, err := NewCore(ctx, zap.NewNop(), core.config, storage, NopMessenger{}, NopIdentity{})
	require.NoError(t, err)

	matches := restarted.registry.ActiveMatches()
	require.Len(t, matches, 1)
	restored := matches[0]
	assert.Equal(t, m.ID, restored.ID)
	assert.Equal(t, StateCheckIn, restored.State())
	assert.Equal(t, []string{"p1", "p2"}, PlayerIDs(restored.Players()))

	// The restored check-in remembers who was ready and completes.
	require.NoError(t, restarted.SetReady(ctx, "ch", "p2", true))
	assert.Equal(t, StateFinished, restored.State())
}

func TestFakeRankedMatch(t *testing.T) {
	core, storage := testCore(t, allowAllIdentity{}, nil)
	ctx := context.Background()

	matchID, err := core.FakeRankedMatch(ctx, "ch", "mod", "pug", testPlayers("w1"), testPlayers("l1"), false)
	require.NoError(t, err)

	archive, _, err := storage.GetMatchArchive(ctx, "ch", matchID)
	require.NoError(t, err)
	assert.True(t, archive.Ranked)

	record, err := core.channels["ch"].Rating.GetRecord(ctx, Player{ID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, 1516, record.Rating)

	require.NoError(t, core.UndoMatch(ctx, "ch", "mod", matchID))
	record, err = core.channels["ch"].Rating.GetRecord(ctx, Player{ID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, 1500, record.Rating)
}

func TestPlayerExpires(t *testing.T) {
	core, _ := testCore(t, NopIdentity{}, func(c *QueueConfig) { c.Size = 3 })
	core.config.Channels[0].ExpireDefault = time.Minute
	core.channels["ch"].Config.ExpireDefault = time.Minute
	ctx := context.Background()

	require.NoError(t, core.AddPlayer(ctx, "ch", Player{ID: "p1"}))
	q, _ := core.registry.FindQueue("ch", "pug")
	require.Equal(t, 1, q.Len())

	core.Tick(ctx, time.Now().Add(2*time.Minute))
	assert.Equal(t, 0, q.Len(), "the idle timer withdraws the player")
}

// ratingFailStorage wraps MemoryStorage with a switchable failure on the
// ratings read path, standing in for a database outage.
type ratingFailStorage struct {
	*MemoryStorage
	fail bool
}

func (s *ratingFailStorage) GetRatings(ctx context.Context, channelID string, userIDs []string) ([]RatingRecord, error) {
	if s.fail {
		return nil, errors.New("storage offline")
	}
	return s.MemoryStorage.GetRatings(ctx, channelID, userIDs)
}

func TestFailedStartKeepsPlayersQueued(t *testing.T) {
	queueConfig := NewQueueConfig("pug", 2)
	queueConfig.Ranked = false
	queueConfig.PickTeams = PickTeamsNone
	queueConfig.CheckInTimeout = 10 * time.Minute
	config := NewConfig()
	config.Channels = []*ChannelConfig{{
		ID:     "ch",
		Rating: NewRatingConfig(),
		Queues: []*QueueConfig{queueConfig},
	}}
	storage := &ratingFailStorage{MemoryStorage: NewMemoryStorage()}
	core, err := NewCore(context.Background(), zap.NewNop(), config, storage, NopMessenger{}, allowAllIdentity{})
	require.NoError(t, err)
	ctx := context.Background()

	storage.fail = true
	require.NoError(t, core.AddPlayer(ctx, "ch", Player{ID: "p1", Nick: "p1"}))
	require.NoError(t, core.AddPlayer(ctx, "ch", Player{ID: "p2", Nick: "p2"}))

	assert.Empty(t, core.registry.ActiveMatches())
	q, _ := core.registry.FindQueue("ch", "pug")
	assert.Equal(t, []string{"p1", "p2"}, PlayerIDs(q.Players()),
		"a failed start keeps the roster queued in order")

	// Once storage recovers a moderator can start the held queue.
	storage.fail = false
	require.NoError(t, core.StartQueue(ctx, "ch", "mod", "pug"))
	matches := core.registry.ActiveMatches()
	require.Len(t, matches, 1)
	assert.Equal(t, StateCheckIn, matches[0].State())
	assert.Equal(t, 0, q.Len())
}

func TestRatingDecayRunsWeekly(t *testing.T) {
	core, storage := testCore(t, NopIdentity{}, nil)
	ctx := context.Background()

	require.NoError(t, storage.UpsertRatings(ctx, []RatingRecord{
		{ChannelID: "ch", UserID: "p1", Rating: 1600, Deviation: 100, LastPlayedAt: time.Now()},
	}))
	engine := core.channels["ch"].Rating

	core.Tick(ctx, time.Now().Add(25*time.Hour))
	record, err := engine.GetRecord(ctx, Player{ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 100, record.Deviation, "a day is too early for a decay pass")

	core.Tick(ctx, time.Now().Add(8*24*time.Hour))
	record, err = engine.GetRecord(ctx, Player{ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 150, record.Deviation, "the weekly pass drifts deviation toward initial")
}

func TestSnapshotRestoreKeepsMapVote(t *testing.T) {
	core, storage := testCore(t, NopIdentity{}, func(c *QueueConfig) {
		c.Size = 2
		c.Ranked = false
		c.PickTeams = PickTeamsNone
		c.CheckInTimeout = 10 * time.Minute
		c.Maps = []string{"dust", "cache", "mirage"}
		c.VoteMaps = 3
		c.MapCount = 1
	})
	ctx := context.Background()

	m := fillQueue(t, core, "p1", "p2")
	require.Equal(t, StateCheckIn, m.State())
	pool := append([]string(nil), m.checkIn.votePool...)
	require.Len(t, pool, 3)
	core.HandlePromptResponse(ctx, m.checkIn.token, "p1", "mirage", false)

	restarted, err := NewCore(ctx, zap.NewNop(), core.config, storage, NopMessenger{}, NopIdentity{})
	require.NoError(t, err)
	matches := restarted.registry.ActiveMatches()
	require.Len(t, matches, 1)
	restored := matches[0]

	assert.Equal(t, pool, restored.checkIn.votePool, "the restored ballot is not redrawn")
	assert.Equal(t, "mirage", restored.checkIn.votes["p1"])

	require.NoError(t, restarted.SetReady(ctx, "ch", "p2", true))
	assert.Equal(t, StateFinished, restored.State())
	assert.Equal(t, []string{"mirage"}, restored.Maps(), "the cast vote decides the map")
}

func TestAddPlayerInActiveMatch(t *testing.T) {
	core, _ := testCore(t, NopIdentity{}, func(c *QueueConfig) {
		c.Size = 2
		c.Ranked = false
		c.PickTeams = PickTeamsNone
		c.CheckInTimeout = 10 * time.Minute
	})
	ctx := context.Background()

	fillQueue(t, core, "p1", "p2")
	err := core.AddPlayer(ctx, "ch", Player{ID: "p1"}, "pug")
	assert.True(t, ErrorIsCode(err, PermissionDenied), "match players cannot requeue")
}
