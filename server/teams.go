package server

import (
	"math"
	"math/rand"
	"sort"
)

// balancedSearchLimit caps the exhaustive partition search; past it team
// balance falls back to greedy alternating assignment.
const balancedSearchLimit = 12

// DrawFlag is a team's pending claim during disputed-result negotiation.
type DrawFlag int

const (
	DrawFlagNone DrawFlag = iota
	DrawFlagWantsDraw
	DrawFlagWantsCancel
)

// Team is an ordered member container. Slot 0 is the captain once the team
// has one.
type Team struct {
	Name     string   `json:"name"`
	Emoji    string   `json:"emoji"`
	Players  []Player `json:"players"`
	DrawFlag DrawFlag `json:"draw_flag"`
	Index    int      `json:"index"` // 0, 1, or -1 for the unpicked pool
}

func (t *Team) Len() int { return len(t.Players) }

func (t *Team) Has(id string) bool { return containsPlayer(t.Players, id) }

func (t *Team) Add(p Player) {
	if !t.Has(p.ID) {
		t.Players = append(t.Players, p)
	}
}

func (t *Team) Remove(id string) {
	t.Players = removePlayer(t.Players, id)
}

func (t *Team) Set(players []Player) {
	t.Players = append([]Player(nil), players...)
}

// Captain returns slot 0.
func (t *Team) Captain() (Player, bool) {
	if len(t.Players) == 0 {
		return Player{}, false
	}
	return t.Players[0], true
}

func (t *Team) IsCaptain(id string) bool {
	captain, ok := t.Captain()
	return ok && captain.ID == id
}

// TeamFormation is the initial team split produced for a new match.
type TeamFormation struct {
	TeamA    []Player
	TeamB    []Player
	Unpicked []Player
	Captains []Player
}

// FormTeams builds the initial split for the given strategy. Ratings are the
// match's rating snapshot; captainsRoleID marks role preference where a
// strategy uses one.
func FormTeams(players []Player, ratings map[string]int, teamSize int, config *QueueConfig, rng *rand.Rand) TeamFormation {
	captains := PickCaptains(config.PickCaptains, players, ratings, config.CaptainsRoleID, rng)
	formation := TeamFormation{Captains: captains}

	switch config.PickTeams {
	case PickTeamsDraft:
		if len(captains) > 0 {
			formation.TeamA = captains[:1]
		}
		if len(captains) > 1 {
			formation.TeamB = captains[1:2]
		}
		for _, p := range players {
			if !containsPlayer(captains, p.ID) {
				formation.Unpicked = append(formation.Unpicked, p)
			}
		}

	case PickTeamsBalanced:
		teamA, teamB := balancedSplit(players, ratings, teamSize)
		formation.TeamA = sortByRolePreferenceAndRating(teamA, ratings, config.CaptainsRoleID)
		formation.TeamB = sortByRolePreferenceAndRating(teamB, ratings, config.CaptainsRoleID)
		formation.Unpicked = leftoverPlayers(players, formation.TeamA, formation.TeamB)

	case PickTeamsRandom:
		shuffled := append([]Player(nil), players...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if teamSize > len(shuffled)/2 {
			teamSize = len(shuffled) / 2
		}
		formation.TeamA = shuffled[:teamSize]
		formation.TeamB = shuffled[teamSize : teamSize*2]
		formation.Unpicked = leftoverPlayers(players, formation.TeamA, formation.TeamB)

	case PickTeamsNone:
		// Flat roster; captains, if any, were chosen for display only.
	}
	return formation
}

// balancedSplit minimizes the rating difference between two teams of
// teamSize players. Exhaustive for small rosters, greedy alternating
// assignment past balancedSearchLimit players.
func balancedSplit(players []Player, ratings map[string]int, teamSize int) ([]Player, []Player) {
	if teamSize > len(players)/2 {
		teamSize = len(players) / 2
	}
	if teamSize == 0 {
		return nil, nil
	}
	if len(players) > balancedSearchLimit {
		return greedySplit(players, ratings, teamSize)
	}

	target := 0
	for _, p := range players {
		target += ratings[p.ID]
	}
	half := float64(target) / 2

	bestDiff := math.Inf(1)
	var best []int
	indices := make([]int, teamSize)
	forEachCombination(len(players), teamSize, indices, func(combo []int) {
		sum := 0
		for _, idx := range combo {
			sum += ratings[players[idx].ID]
		}
		if diff := math.Abs(float64(sum) - half); diff < bestDiff {
			bestDiff = diff
			best = append(best[:0], combo...)
		}
	})

	inBest := make(map[int]bool, len(best))
	for _, idx := range best {
		inBest[idx] = true
	}
	teamA := make([]Player, 0, teamSize)
	teamB := make([]Player, 0, teamSize)
	for i, p := range players {
		if inBest[i] {
			teamA = append(teamA, p)
		} else if len(teamB) < teamSize {
			teamB = append(teamB, p)
		}
	}
	return teamA, teamB
}

// forEachCombination enumerates k-subsets of [0,n) in lexicographic order.
func forEachCombination(n, k int, scratch []int, visit func([]int)) {
	var recurse func(start, depth int)
	recurse = func(start, depth int) {
		if depth == k {
			visit(scratch)
			return
		}
		for i := start; i <= n-(k-depth); i++ {
			scratch[depth] = i
			recurse(i+1, depth+1)
		}
	}
	recurse(0, 0)
}

// greedySplit assigns players in descending rating order to whichever team
// is currently lighter and not yet full.
func greedySplit(players []Player, ratings map[string]int, teamSize int) ([]Player, []Player) {
	ordered := sortByRatingDesc(players, ratings)
	teamA := make([]Player, 0, teamSize)
	teamB := make([]Player, 0, teamSize)
	sumA, sumB := 0, 0
	for _, p := range ordered {
		switch {
		case len(teamA) == teamSize && len(teamB) == teamSize:
			return teamA, teamB
		case len(teamA) == teamSize:
			teamB = append(teamB, p)
			sumB += ratings[p.ID]
		case len(teamB) == teamSize:
			teamA = append(teamA, p)
			sumA += ratings[p.ID]
		case sumA <= sumB:
			teamA = append(teamA, p)
			sumA += ratings[p.ID]
		default:
			teamB = append(teamB, p)
			sumB += ratings[p.ID]
		}
	}
	return teamA, teamB
}

func leftoverPlayers(all []Player, taken ...[]Player) []Player {
	var leftover []Player
	for _, p := range all {
		used := false
		for _, group := range taken {
			if containsPlayer(group, p.ID) {
				used = true
				break
			}
		}
		if !used {
			leftover = append(leftover, p)
		}
	}
	return leftover
}

// PickCaptains returns an ordered captain pair (or fewer when the roster is
// too small). ByRoleAndRating is fully deterministic; the random variants
// draw uniformly.
func PickCaptains(strategy PickCaptainsStrategy, players []Player, ratings map[string]int, captainsRoleID string, rng *rand.Rand) []Player {
	if len(players) < 2 {
		return nil
	}
	switch strategy {
	case PickCaptainsByRoleRating:
		return sortByRolePreferenceAndRating(players, ratings, captainsRoleID)[:2]

	case PickCaptainsFairPairs:
		ordered := sortByRatingDesc(players, ratings)
		i := rng.Intn(len(ordered) - 1)
		return []Player{ordered[i], ordered[i+1]}

	case PickCaptainsRandomRolePref:
		shuffled := append([]Player(nil), players...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		sort.SliceStable(shuffled, func(i, j int) bool {
			return shuffled[i].HasRole(captainsRoleID) && !shuffled[j].HasRole(captainsRoleID)
		})
		return shuffled[:2]

	case PickCaptainsRandom:
		shuffled := append([]Player(nil), players...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		return shuffled[:2]
	}
	return nil
}

// sortByRolePreferenceAndRating orders captain-role holders first, then by
// descending rating, ties by ID for determinism.
func sortByRolePreferenceAndRating(players []Player, ratings map[string]int, captainsRoleID string) []Player {
	ordered := append([]Player(nil), players...)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := ordered[i], ordered[j]
		if ri, rj := pi.HasRole(captainsRoleID), pj.HasRole(captainsRoleID); ri != rj {
			return ri
		}
		if ratings[pi.ID] != ratings[pj.ID] {
			return ratings[pi.ID] > ratings[pj.ID]
		}
		return pi.ID < pj.ID
	})
	return ordered
}

func sortByRatingDesc(players []Player, ratings map[string]int) []Player {
	ordered := append([]Player(nil), players...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ratings[ordered[i].ID] != ratings[ordered[j].ID] {
			return ratings[ordered[i].ID] > ratings[ordered[j].ID]
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}
