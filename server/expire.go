package server

import (
	"time"
)

type expireKey struct {
	ChannelID string
	UserID    string
}

// ExpireScheduler tracks per-player auto-withdraw timers. The earliest
// deadline is cached in a single slot so the per-tick check is a
// comparison, not a scan; the cache is rebuilt only when the slot fires or
// its task is removed. At most one task fires per tick.
type ExpireScheduler struct {
	tasks map[expireKey]time.Time
	next  *expireKey
}

func NewExpireScheduler() *ExpireScheduler {
	return &ExpireScheduler{tasks: make(map[expireKey]time.Time)}
}

// Schedule sets or replaces the withdraw deadline for the player on the
// channel. A non-positive duration is ignored.
func (s *ExpireScheduler) Schedule(channelID, userID string, at time.Time) {
	key := expireKey{channelID, userID}
	s.tasks[key] = at
	switch {
	case s.next != nil && *s.next == key:
		// Replacing the cached earliest may unseat it.
		s.refreshNext()
	case s.next == nil || at.Before(s.tasks[*s.next]):
		s.next = &key
	}
}

// Cancel drops the player's timer on the channel.
func (s *ExpireScheduler) Cancel(channelID, userID string) {
	key := expireKey{channelID, userID}
	if _, ok := s.tasks[key]; !ok {
		return
	}
	delete(s.tasks, key)
	if s.next != nil && *s.next == key {
		s.refreshNext()
	}
}

// Deadline reports the player's pending deadline, if any.
func (s *ExpireScheduler) Deadline(channelID, userID string) (time.Time, bool) {
	at, ok := s.tasks[expireKey{channelID, userID}]
	return at, ok
}

func (s *ExpireScheduler) refreshNext() {
	s.next = nil
	for key, at := range s.tasks {
		if s.next == nil || at.Before(s.tasks[*s.next]) {
			key := key
			s.next = &key
		}
	}
}

// Think fires the earliest expired task, if any, and returns its channel
// and user. Callers invoke it once per tick; remaining expired tasks fire
// on subsequent ticks.
func (s *ExpireScheduler) Think(now time.Time) (channelID, userID string, fired bool) {
	if s.next == nil {
		return "", "", false
	}
	key := *s.next
	if now.Before(s.tasks[key]) {
		return "", "", false
	}
	delete(s.tasks, key)
	s.refreshNext()
	return key.ChannelID, key.UserID, true
}
