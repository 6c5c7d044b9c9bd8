package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRatingBackend(t *testing.T) {
	for kind, expected := range map[RatingBackendKind]RatingBackendKind{
		RatingBackendFlat:      RatingBackendFlat,
		RatingBackendGlicko2:   RatingBackendGlicko2,
		RatingBackendOpenSkill: RatingBackendOpenSkill,
	} {
		config := NewRatingConfig()
		config.Backend = kind
		assert.Equal(t, expected, NewRatingBackend(config).Name())
	}
}

func TestFlatBackend(t *testing.T) {
	config := NewRatingConfig()
	backend := NewRatingBackend(config)

	winners, losers := backend.Rate([]Score{{Rating: 1500, Deviation: 300}}, []Score{{Rating: 10, Deviation: 300}}, false)
	assert.Equal(t, 1516, winners[0].Rating)
	assert.Equal(t, 0, losers[0].Rating, "flat losses clamp at zero")

	winners, losers = backend.Rate([]Score{{Rating: 1500}}, []Score{{Rating: 1500}}, true)
	assert.Equal(t, 1500, winners[0].Rating)
	assert.Equal(t, 1500, losers[0].Rating)
}

func TestGlicko2Backend(t *testing.T) {
	config := NewRatingConfig()
	config.Backend = RatingBackendGlicko2
	backend := NewRatingBackend(config)

	winners, losers := backend.Rate(
		[]Score{{Rating: 1500, Deviation: 300}, {Rating: 1400, Deviation: 300}},
		[]Score{{Rating: 1500, Deviation: 300}, {Rating: 1600, Deviation: 300}}, false)

	require.Len(t, winners, 2)
	require.Len(t, losers, 2)
	for i, s := range winners {
		assert.Greater(t, s.Rating, []int{1500, 1400}[i], "winners gain rating")
		assert.Less(t, s.Deviation, 300, "a played period shrinks deviation")
	}
	for i, s := range losers {
		assert.Less(t, s.Rating, []int{1500, 1600}[i], "losers lose rating")
	}
}

func TestOpenSkillBackend(t *testing.T) {
	config := NewRatingConfig()
	config.Backend = RatingBackendOpenSkill
	backend := NewRatingBackend(config)

	winners, losers := backend.Rate(
		[]Score{{Rating: 1500, Deviation: 300}},
		[]Score{{Rating: 1500, Deviation: 300}}, false)
	assert.Greater(t, winners[0].Rating, 1500)
	assert.Less(t, losers[0].Rating, 1500)
}

func TestAverageScore(t *testing.T) {
	avg := averageScore([]Score{{Rating: 1000, Deviation: 100}, {Rating: 2000, Deviation: 300}})
	assert.Equal(t, 1500, avg.Rating)
	assert.Equal(t, 200, avg.Deviation)
}
