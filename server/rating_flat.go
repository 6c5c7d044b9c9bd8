package server

// FlatBackend applies a fixed increment per result: winners gain half the
// configured scale, losers lose the same amount. Draws change nothing.
type FlatBackend struct {
	step int
}

func NewFlatBackend(config *RatingConfig) *FlatBackend {
	return &FlatBackend{step: config.Scale / 2}
}

func (b *FlatBackend) Name() RatingBackendKind { return RatingBackendFlat }

func (b *FlatBackend) Rate(winners, losers []Score, draw bool) ([]Score, []Score) {
	newWinners := make([]Score, len(winners))
	newLosers := make([]Score, len(losers))
	copy(newWinners, winners)
	copy(newLosers, losers)
	if draw {
		return newWinners, newLosers
	}
	for i := range newWinners {
		newWinners[i].Rating += b.step
	}
	for i := range newLosers {
		newLosers[i].Rating -= b.step
		if newLosers[i].Rating < 0 {
			newLosers[i].Rating = 0
		}
	}
	return newWinners, newLosers
}
