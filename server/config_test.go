package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
channels:
  - id: "123"
    queues:
      - name: pug
        size: 8
`

func TestParseConfigDefaults(t *testing.T) {
	config, err := ParseConfig([]byte(minimalConfig))
	require.NoError(t, err)

	require.Len(t, config.Channels, 1)
	channel := config.Channels[0]
	require.NotNil(t, channel.Rating, "rating defaults are filled in")
	assert.Equal(t, RatingBackendFlat, channel.Rating.Backend)
	assert.Equal(t, 1500, channel.Rating.InitialRating)

	require.Len(t, channel.Queues, 1)
	q := channel.Queues[0]
	assert.Equal(t, "pug", q.Name)
	assert.Equal(t, 8, q.Size)
	assert.True(t, q.IsDefault)
	assert.True(t, q.Autostart)
	assert.Equal(t, PickTeamsDraft, q.PickTeams)
	assert.Equal(t, "abababba", q.PickOrder)
	assert.Equal(t, [2]string{"Alpha", "Beta"}, q.TeamNames)
	assert.Equal(t, 3*time.Hour, q.MatchLifetime)

	assert.Equal(t, "info", config.Logger.Level)
	assert.Empty(t, config.Database.Address, "no database unless configured")
	assert.Equal(t, 10, config.Database.MaxOpenConns)
}

func TestParseConfigOverrides(t *testing.T) {
	config, err := ParseConfig([]byte(`
logger:
  level: debug
channels:
  - id: "123"
    expire_default: 2h
    rating:
      backend: glicko2
      rank_thresholds: [1200, 1500, 1800]
    queues:
      - name: pug
        size: 10
        ranked: true
        check_in_timeout: 5m
        vote_maps: 3
        maps: [dust, cache, mirage, inferno]
        pick_order: abba
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Logger.Level)
	channel := config.Channels[0]
	assert.Equal(t, 2*time.Hour, channel.ExpireDefault)
	assert.Equal(t, RatingBackendGlicko2, channel.Rating.Backend)

	q := channel.Queues[0]
	assert.Equal(t, 5*time.Minute, q.CheckInTimeout)
	assert.Equal(t, "abba", q.PickOrder)
	assert.Equal(t, 300, channel.Rating.InitialDeviation, "untouched rating fields keep defaults")
}

func TestParseConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"queue without a name", `
channels:
  - id: "1"
    queues:
      - size: 8
`},
		{"size too small", `
channels:
  - id: "1"
    queues:
      - name: pug
        size: 1
`},
		{"bad pick order", `
channels:
  - id: "1"
    queues:
      - name: pug
        size: 8
        pick_order: abc
`},
		{"vote maps without check-in", `
channels:
  - id: "1"
    queues:
      - name: pug
        size: 8
        vote_maps: 2
`},
		{"unsorted rank thresholds", `
channels:
  - id: "1"
    rating:
      rank_thresholds: [1500, 1200]
    queues:
      - name: pug
        size: 8
`},
		{"unknown strategy", `
channels:
  - id: "1"
    queues:
      - name: pug
        size: 8
        pick_teams: tournament
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestMaxTeamSize(t *testing.T) {
	config := NewQueueConfig("pug", 8)
	assert.Equal(t, 4, config.MaxTeamSize(8))
	assert.Equal(t, 3, config.MaxTeamSize(6))

	config.TeamSize = 3
	assert.Equal(t, 3, config.MaxTeamSize(8))
	assert.Equal(t, 2, config.MaxTeamSize(4), "a small roster caps the configured team size")
}
