package server

// Score is a rating/deviation pair as fed to and produced by a rating
// backend. The engine wrapper owns everything else (scaling, streaks,
// clamping, counters, history).
type Score struct {
	Rating    int `json:"rating"`
	Deviation int `json:"deviation"`
}

// RatingBackend computes raw post-match scores for the two sides of one
// result. Implementations are pure: they never touch storage and never
// mutate their inputs.
type RatingBackend interface {
	Name() RatingBackendKind
	Rate(winners, losers []Score, draw bool) (newWinners, newLosers []Score)
}

// NewRatingBackend builds the configured backend for a channel.
func NewRatingBackend(config *RatingConfig) RatingBackend {
	switch config.Backend {
	case RatingBackendGlicko2:
		return NewGlicko2Backend(config)
	case RatingBackendOpenSkill:
		return NewOpenSkillBackend(config)
	default:
		return NewFlatBackend(config)
	}
}

func averageScore(scores []Score) Score {
	if len(scores) == 0 {
		return Score{}
	}
	var rating, deviation int
	for _, s := range scores {
		rating += s.Rating
		deviation += s.Deviation
	}
	return Score{Rating: rating / len(scores), Deviation: deviation / len(scores)}
}
