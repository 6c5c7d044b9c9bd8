package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRatingEngine(t *testing.T, configure func(*RatingConfig)) (*RatingEngine, *MemoryStorage) {
	t.Helper()
	config := NewRatingConfig()
	if configure != nil {
		configure(config)
	}
	storage := NewMemoryStorage()
	return NewRatingEngine("ch", config, storage, zap.NewNop()), storage
}

func TestRateFlat(t *testing.T) {
	engine, _ := testRatingEngine(t, nil)
	ctx := context.Background()

	result, err := engine.Rate(ctx, 1, "test", testPlayers("w1", "w2"), testPlayers("l1", "l2"), false)
	require.NoError(t, err)

	for _, id := range []string{"w1", "w2"} {
		assert.Equal(t, 1516, result.After[id].Rating)
		assert.Equal(t, 1, result.After[id].Wins)
		assert.Equal(t, 1, result.After[id].Streak)
	}
	for _, id := range []string{"l1", "l2"} {
		assert.Equal(t, 1484, result.After[id].Rating)
		assert.Equal(t, 1, result.After[id].Losses)
		assert.Equal(t, -1, result.After[id].Streak)
	}
}

func TestRateDrawKeepsRatings(t *testing.T) {
	engine, _ := testRatingEngine(t, nil)
	ctx := context.Background()

	_, err := engine.Rate(ctx, 1, "test", testPlayers("a"), testPlayers("b"), false)
	require.NoError(t, err)

	result, err := engine.Rate(ctx, 2, "test", testPlayers("a"), testPlayers("b"), true)
	require.NoError(t, err)

	for _, id := range []string{"a", "b"} {
		assert.Equal(t, result.Before[id].Rating, result.After[id].Rating,
			"a flat draw changes nobody's rating")
		assert.Equal(t, 1, result.After[id].Draws)
		assert.Equal(t, 0, result.After[id].Streak, "a draw breaks any streak")
	}
}

func TestRateRejectsEmptySide(t *testing.T) {
	engine, _ := testRatingEngine(t, nil)
	_, err := engine.Rate(context.Background(), 1, "test", testPlayers("a"), nil, false)
	assert.True(t, ErrorIsCode(err, ValidationError))
}

func TestStreakMultiplier(t *testing.T) {
	engine, _ := testRatingEngine(t, func(c *RatingConfig) { c.Streaks = StreakModeBoth })

	tests := []struct {
		name         string
		streakBefore int
		won          bool
		expected     float64
	}{
		{"no streak yet", 0, true, 1},
		{"second win", 1, true, 1},
		{"third win", 2, true, 1.5},
		{"fourth win", 3, true, 2},
		{"seventh win caps", 6, true, 3},
		{"tenth win stays capped", 9, true, 3},
		{"third loss", -2, false, 1.5},
		{"win after losses", -4, true, 1},
		{"loss after wins", 4, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, engine.streakMultiplier(tt.streakBefore, tt.won))
		})
	}
}

func TestStreakMultiplierModes(t *testing.T) {
	winsOnly, _ := testRatingEngine(t, func(c *RatingConfig) { c.Streaks = StreakModeWins })
	assert.Equal(t, 2.0, winsOnly.streakMultiplier(3, true))
	assert.Equal(t, 1.0, winsOnly.streakMultiplier(-3, false))

	off, _ := testRatingEngine(t, nil)
	assert.Equal(t, 1.0, off.streakMultiplier(5, true))
}

func TestSetRatingAndPenalty(t *testing.T) {
	engine, storage := testRatingEngine(t, nil)
	ctx := context.Background()
	p := Player{ID: "p1", Nick: "one"}

	deviation := 50
	require.NoError(t, engine.SetRating(ctx, p, 2000, &deviation, "manual seeding"))

	record, err := engine.GetRecord(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 2000, record.Rating)
	assert.Equal(t, 50, record.Deviation)

	require.NoError(t, engine.AddPenalty(ctx, p, 300, "no-show"))
	record, err = engine.GetRecord(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1700, record.Rating)

	assert.Error(t, engine.SetRating(ctx, p, -1, nil, "manual seeding"))
	assert.Error(t, engine.AddPenalty(ctx, p, 0, "nothing"))

	// Large penalties clamp at zero.
	require.NoError(t, engine.AddPenalty(ctx, p, 99999, "everything"))
	record, _ = engine.GetRecord(ctx, p)
	assert.Equal(t, 0, record.Rating)

	entries := storage.history
	require.NotEmpty(t, entries)
	assert.Equal(t, "penalty: everything", entries[len(entries)-1].Reason)
}

func TestResetWipesRatings(t *testing.T) {
	engine, _ := testRatingEngine(t, nil)
	ctx := context.Background()

	_, err := engine.Rate(ctx, 1, "test", testPlayers("a"), testPlayers("b"), false)
	require.NoError(t, err)
	require.NoError(t, engine.Reset(ctx))

	record, err := engine.GetRecord(ctx, Player{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 1500, record.Rating, "reset returns everyone to initial values")
	assert.Equal(t, 0, record.Wins)
}

func TestSnapRatings(t *testing.T) {
	engine, _ := testRatingEngine(t, func(c *RatingConfig) {
		c.RankThresholds = []int{1200, 1500, 1800}
	})
	ctx := context.Background()

	require.NoError(t, engine.SetRating(ctx, Player{ID: "low"}, 1199, nil, "manual seeding"))
	require.NoError(t, engine.SetRating(ctx, Player{ID: "mid"}, 1640, nil, "manual seeding"))
	require.NoError(t, engine.SetRating(ctx, Player{ID: "top"}, 2500, nil, "manual seeding"))
	require.NoError(t, engine.SnapRatings(ctx))

	for id, expected := range map[string]int{"low": 0, "mid": 1500, "top": 1800} {
		record, err := engine.GetRecord(ctx, Player{ID: id})
		require.NoError(t, err)
		assert.Equal(t, expected, record.Rating, id)
	}
}

func TestApplyDecay(t *testing.T) {
	engine, storage := testRatingEngine(t, func(c *RatingConfig) {
		c.RankThresholds = []int{1500}
		c.DecayAmount = 10
	})
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, storage.UpsertRatings(ctx, []RatingRecord{
		{ChannelID: "ch", UserID: "active", Rating: 1600, Deviation: 100, LastPlayedAt: now},
		{ChannelID: "ch", UserID: "idle", Rating: 1600, Deviation: 100, LastPlayedAt: now.Add(-8 * 24 * time.Hour)},
		{ChannelID: "ch", UserID: "floored", Rating: 1505, Deviation: 100, LastPlayedAt: now.Add(-30 * 24 * time.Hour)},
	}))
	require.NoError(t, engine.ApplyDecay(ctx))

	active, _ := engine.GetRecord(ctx, Player{ID: "active"})
	assert.Equal(t, 1600, active.Rating, "recently active players keep their rating")
	assert.Equal(t, 150, active.Deviation, "deviation drifts a quarter toward initial")

	idle, _ := engine.GetRecord(ctx, Player{ID: "idle"})
	assert.Equal(t, 1590, idle.Rating)

	// Repeated decay never crosses the rank floor.
	floored, _ := engine.GetRecord(ctx, Player{ID: "floored"})
	assert.Equal(t, 1500, floored.Rating)
	require.NoError(t, engine.ApplyDecay(ctx))
	floored, _ = engine.GetRecord(ctx, Player{ID: "floored"})
	assert.Equal(t, 1500, floored.Rating)
}

func TestLeaderboardSkipsHidden(t *testing.T) {
	engine, _ := testRatingEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, engine.SetRating(ctx, Player{ID: "a", Nick: "a"}, 2000, nil, "manual seeding"))
	require.NoError(t, engine.SetRating(ctx, Player{ID: "b", Nick: "b"}, 1900, nil, "manual seeding"))
	require.NoError(t, engine.HidePlayer(ctx, Player{ID: "a"}, true))

	records, err := engine.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].UserID)
}

func TestUndoMatch(t *testing.T) {
	engine, storage := testRatingEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, storage.InsertMatchArchive(ctx, MatchArchive{
		MatchID: 7, ChannelID: "ch", QueueName: "test", Ranked: true, Winner: WinnerTeamA,
	}, []MatchPlayerRow{
		{MatchID: 7, ChannelID: "ch", UserID: "w", Team: 0},
		{MatchID: 7, ChannelID: "ch", UserID: "l", Team: 1},
	}))
	_, err := engine.Rate(ctx, 7, "test", testPlayers("w"), testPlayers("l"), false)
	require.NoError(t, err)

	require.NoError(t, engine.Undo(ctx, 7))

	winner, _ := engine.GetRecord(ctx, Player{ID: "w"})
	assert.Equal(t, 1500, winner.Rating)
	assert.Equal(t, 0, winner.Wins)
	loser, _ := engine.GetRecord(ctx, Player{ID: "l"})
	assert.Equal(t, 1500, loser.Rating)
	assert.Equal(t, 0, loser.Losses)

	assert.ErrorIs(t, engine.Undo(ctx, 7), ErrMatchNotFound, "the archive row is gone")
}
