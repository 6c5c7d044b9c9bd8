package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpireSchedulerFiresEarliest(t *testing.T) {
	s := NewExpireScheduler()
	now := time.Now()

	s.Schedule("ch", "late", now.Add(time.Hour))
	s.Schedule("ch", "early", now.Add(time.Minute))

	_, _, fired := s.Think(now)
	assert.False(t, fired, "nothing is due yet")

	channelID, userID, fired := s.Think(now.Add(2 * time.Hour))
	assert.True(t, fired)
	assert.Equal(t, "ch", channelID)
	assert.Equal(t, "early", userID, "the earliest deadline fires first")

	_, userID, fired = s.Think(now.Add(2 * time.Hour))
	assert.True(t, fired, "one task per tick, the next one fires on the next call")
	assert.Equal(t, "late", userID)

	_, _, fired = s.Think(now.Add(2 * time.Hour))
	assert.False(t, fired)
}

func TestExpireSchedulerReplaceAndCancel(t *testing.T) {
	s := NewExpireScheduler()
	now := time.Now()

	s.Schedule("ch", "p1", now.Add(time.Minute))
	s.Schedule("ch", "p1", now.Add(time.Hour))
	deadline, ok := s.Deadline("ch", "p1")
	assert.True(t, ok)
	assert.Equal(t, now.Add(time.Hour), deadline, "scheduling again replaces the deadline")

	_, _, fired := s.Think(now.Add(2 * time.Minute))
	assert.False(t, fired)

	s.Schedule("ch", "p2", now.Add(time.Minute))
	s.Cancel("ch", "p2")
	s.Cancel("ch", "missing")

	_, userID, fired := s.Think(now.Add(2 * time.Hour))
	assert.True(t, fired)
	assert.Equal(t, "p1", userID)
}
