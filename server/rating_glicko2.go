package server

import (
	glicko "github.com/zelenin/go-glicko2"
)

const glicko2Volatility = 0.06

// Glicko2Backend rates each player against the averaged opposing side, one
// rating period per player so opponents are not themselves updated.
type Glicko2Backend struct{}

func NewGlicko2Backend(_ *RatingConfig) *Glicko2Backend {
	return &Glicko2Backend{}
}

func (b *Glicko2Backend) Name() RatingBackendKind { return RatingBackendGlicko2 }

func (b *Glicko2Backend) Rate(winners, losers []Score, draw bool) ([]Score, []Score) {
	avgWinner := averageScore(winners)
	avgLoser := averageScore(losers)

	winResult := glicko.MATCH_RESULT_WIN
	lossResult := glicko.MATCH_RESULT_LOSS
	if draw {
		winResult = glicko.MATCH_RESULT_DRAW
		lossResult = glicko.MATCH_RESULT_DRAW
	}

	newWinners := make([]Score, len(winners))
	for i, s := range winners {
		newWinners[i] = rateGlicko2One(s, avgLoser, winResult)
	}
	newLosers := make([]Score, len(losers))
	for i, s := range losers {
		newLosers[i] = rateGlicko2One(s, avgWinner, lossResult)
	}
	return newWinners, newLosers
}

func rateGlicko2One(s, opponent Score, result glicko.MatchResult) Score {
	player := glicko.NewPlayer(glicko.NewRating(float64(s.Rating), float64(s.Deviation), glicko2Volatility))
	other := glicko.NewPlayer(glicko.NewRating(float64(opponent.Rating), float64(opponent.Deviation), glicko2Volatility))

	period := glicko.NewRatingPeriod()
	period.AddMatch(player, other, result)
	period.Calculate()

	updated := player.Rating()
	return Score{Rating: int(updated.R()), Deviation: int(updated.Rd())}
}
