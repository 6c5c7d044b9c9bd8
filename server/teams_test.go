package server

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ratingSum(players []Player, ratings map[string]int) int {
	sum := 0
	for _, p := range players {
		sum += ratings[p.ID]
	}
	return sum
}

func TestBalancedSplit(t *testing.T) {
	players := testPlayers("p1", "p2", "p3", "p4")
	ratings := map[string]int{"p1": 1000, "p2": 900, "p3": 800, "p4": 700}

	teamA, teamB := balancedSplit(players, ratings, 2)
	require.Len(t, teamA, 2)
	require.Len(t, teamB, 2)
	assert.Equal(t, ratingSum(teamA, ratings), ratingSum(teamB, ratings),
		"a perfect split exists and must be found")
}

func TestBalancedSplitLargeRoster(t *testing.T) {
	var players []Player
	ratings := make(map[string]int)
	for i := 0; i < 16; i++ {
		id := fmt.Sprintf("p%02d", i)
		players = append(players, Player{ID: id})
		ratings[id] = 1000 + i*50
	}

	teamA, teamB := balancedSplit(players, ratings, 8)
	require.Len(t, teamA, 8)
	require.Len(t, teamB, 8)

	diff := ratingSum(teamA, ratings) - ratingSum(teamB, ratings)
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, 200, "greedy assignment keeps the sides close")
}

func TestFormTeamsDraft(t *testing.T) {
	config := NewQueueConfig("test", 4)
	config.PickCaptains = PickCaptainsByRoleRating
	players := testPlayers("p1", "p2", "p3", "p4")
	ratings := map[string]int{"p1": 100, "p2": 400, "p3": 300, "p4": 200}

	formation := FormTeams(players, ratings, 2, config, rand.New(rand.NewSource(1)))
	assert.Equal(t, []string{"p2"}, PlayerIDs(formation.TeamA), "top rated player captains team A")
	assert.Equal(t, []string{"p3"}, PlayerIDs(formation.TeamB))
	assert.Equal(t, []string{"p1", "p4"}, PlayerIDs(formation.Unpicked))
}

func TestFormTeamsRandom(t *testing.T) {
	config := NewQueueConfig("test", 4)
	config.PickTeams = PickTeamsRandom
	config.PickCaptains = PickCaptainsNone
	players := testPlayers("p1", "p2", "p3", "p4")

	formation := FormTeams(players, nil, 2, config, rand.New(rand.NewSource(1)))
	assert.Len(t, formation.TeamA, 2)
	assert.Len(t, formation.TeamB, 2)
	assert.Empty(t, formation.Unpicked)

	seen := map[string]bool{}
	for _, p := range append(formation.TeamA, formation.TeamB...) {
		assert.False(t, seen[p.ID], "no player may appear twice")
		seen[p.ID] = true
	}
}

func TestPickCaptains(t *testing.T) {
	players := []Player{
		{ID: "p1"},
		{ID: "p2", Roles: []string{"captain"}},
		{ID: "p3"},
		{ID: "p4", Roles: []string{"captain"}},
	}
	ratings := map[string]int{"p1": 900, "p2": 200, "p3": 800, "p4": 300}
	rng := rand.New(rand.NewSource(1))

	t.Run("by role and rating", func(t *testing.T) {
		captains := PickCaptains(PickCaptainsByRoleRating, players, ratings, "captain", rng)
		assert.Equal(t, []string{"p4", "p2"}, PlayerIDs(captains),
			"role holders outrank higher rated players")
	})

	t.Run("fair pairs are rating neighbors", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			captains := PickCaptains(PickCaptainsFairPairs, players, ratings, "", rng)
			require.Len(t, captains, 2)
			gap := ratings[captains[0].ID] - ratings[captains[1].ID]
			assert.GreaterOrEqual(t, gap, 0)
			assert.LessOrEqual(t, gap, 500)
		}
	})

	t.Run("random with role preference", func(t *testing.T) {
		captains := PickCaptains(PickCaptainsRandomRolePref, players, ratings, "captain", rng)
		require.Len(t, captains, 2)
		assert.True(t, captains[0].HasRole("captain"))
		assert.True(t, captains[1].HasRole("captain"))
	})

	t.Run("too few players", func(t *testing.T) {
		assert.Nil(t, PickCaptains(PickCaptainsRandom, players[:1], ratings, "", rng))
	})
}

func TestTeamCaptain(t *testing.T) {
	team := &Team{Name: "Alpha"}
	_, ok := team.Captain()
	assert.False(t, ok)

	team.Add(Player{ID: "p1"})
	team.Add(Player{ID: "p2"})
	team.Add(Player{ID: "p1"}) // duplicates ignored
	assert.Equal(t, 2, team.Len())
	assert.True(t, team.IsCaptain("p1"))

	team.Remove("p1")
	assert.True(t, team.IsCaptain("p2"), "captaincy follows slot 0")
}
