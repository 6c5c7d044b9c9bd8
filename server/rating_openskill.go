package server

import (
	"github.com/intinig/go-openskill/rating"
	"github.com/intinig/go-openskill/types"
	"go.uber.org/thriftrw/ptr"
)

// OpenSkillBackend rates with the Weng-Lin Bayesian approximation from
// go-openskill, keeping scores on the channel's rating scale by feeding the
// stored rating/deviation in as mu/sigma directly.
type OpenSkillBackend struct {
	tau float64
}

func NewOpenSkillBackend(config *RatingConfig) *OpenSkillBackend {
	return &OpenSkillBackend{tau: float64(config.InitialDeviation) / 100}
}

func (b *OpenSkillBackend) Name() RatingBackendKind { return RatingBackendOpenSkill }

func (b *OpenSkillBackend) Rate(winners, losers []Score, draw bool) ([]Score, []Score) {
	teams := []types.Team{
		scoresToTeam(winners),
		scoresToTeam(losers),
	}

	scores := []int{1, 0}
	if draw {
		scores = []int{1, 1}
	}

	teams = rating.Rate(teams, &types.OpenSkillOptions{
		Score: scores,
		Tau:   ptr.Float64(b.tau),
	})

	return teamToScores(teams[0]), teamToScores(teams[1])
}

func scoresToTeam(scores []Score) types.Team {
	team := make(types.Team, len(scores))
	for i, s := range scores {
		team[i] = rating.NewWithOptions(&types.OpenSkillOptions{
			Mu:    ptr.Float64(float64(s.Rating)),
			Sigma: ptr.Float64(float64(s.Deviation)),
		})
	}
	return team
}

func teamToScores(team types.Team) []Score {
	scores := make([]Score, len(team))
	for i, r := range team {
		scores[i] = Score{Rating: int(r.Mu), Deviation: int(r.Sigma)}
	}
	return scores
}
