package server

// AdmitResult is the outcome of one queue admission attempt.
type AdmitResult int

const (
	AdmitSuccess AdmitResult = iota
	AdmitDuplicate
	AdmitNotAllowed
	AdmitStarted
)

func (r AdmitResult) String() string {
	switch r {
	case AdmitSuccess:
		return "success"
	case AdmitDuplicate:
		return "duplicate"
	case AdmitNotAllowed:
		return "not allowed"
	case AdmitStarted:
		return "started"
	}
	return "unknown"
}

// PickupQueue holds the waiting players of one matchup type. It owns its
// waiting list exclusively and decides admission; consumption side effects
// (match creation, expiry bookkeeping) are carried out by the caller from
// the returned values. All methods assume the core's serialization.
type PickupQueue struct {
	ChannelID string
	Config    *QueueConfig

	players  []Player
	lastMaps []string
}

func NewPickupQueue(channelID string, config *QueueConfig) *PickupQueue {
	return &PickupQueue{ChannelID: channelID, Config: config}
}

func (q *PickupQueue) Name() string { return q.Config.Name }

func (q *PickupQueue) Len() int { return len(q.players) }

// Players returns a copy of the waiting list in insertion order.
func (q *PickupQueue) Players() []Player {
	return append([]Player(nil), q.players...)
}

func (q *PickupQueue) IsQueued(playerID string) bool {
	return containsPlayer(q.players, playerID)
}

// allowed checks the blacklist/whitelist gate.
func (q *PickupQueue) allowed(p Player) bool {
	if q.Config.BlacklistRoleID != "" && p.HasRole(q.Config.BlacklistRoleID) {
		return false
	}
	if q.Config.WhitelistRoleID != "" && !p.HasRole(q.Config.WhitelistRoleID) {
		return false
	}
	return true
}

// Admit appends the player unless a check fails. inActiveMatch is the
// registry's answer for this player; a player inside an active match can
// never be queued. When the admission fills the queue and autostart is on,
// the front capacity slice is consumed and returned with AdmitStarted; any
// remainder stays queued.
func (q *PickupQueue) Admit(p Player, inActiveMatch bool) (AdmitResult, []Player) {
	if !q.allowed(p) || inActiveMatch {
		return AdmitNotAllowed, nil
	}
	if q.IsQueued(p.ID) {
		return AdmitDuplicate, nil
	}
	if len(q.players) >= q.Config.Size {
		// Capacity is a hard bound; a full non-autostart queue rejects.
		return AdmitNotAllowed, nil
	}

	q.players = append(q.players, p)

	if len(q.players) >= q.Config.Size && q.Config.Autostart {
		return AdmitStarted, q.consume(q.Config.Size)
	}
	return AdmitSuccess, nil
}

// consume removes and returns the front n players.
func (q *PickupQueue) consume(n int) []Player {
	if n > len(q.players) {
		n = len(q.players)
	}
	consumed := append([]Player(nil), q.players[:n]...)
	q.players = append([]Player(nil), q.players[n:]...)
	return consumed
}

// Withdraw removes any of the given players found in the queue and returns
// the actually-removed subset. Unknown players are ignored.
func (q *PickupQueue) Withdraw(playerIDs ...string) []Player {
	var removed []Player
	for _, id := range playerIDs {
		if p, ok := findPlayer(q.players, id); ok {
			removed = append(removed, p)
			q.players = removePlayer(q.players, id)
		}
	}
	return removed
}

// Clear empties the queue and returns the players that were waiting.
func (q *PickupQueue) Clear() []Player {
	players := q.players
	q.players = nil
	return players
}

// Revert rolls a failed check-in or draft back into the queue: ready
// players are requeued at the front ahead of whoever queued meanwhile. If
// the queue then meets capacity with autostart on, the front slice is
// consumed and returned for an immediate restart. The second return value
// lists the requeued ready players, whose expiry timers the caller should
// refresh.
func (q *PickupQueue) Revert(notReady, ready []Player) (started, requeued []Player) {
	displaced := q.players
	q.players = append([]Player(nil), ready...)
	q.players = append(q.players, displaced...)

	if q.Config.Autostart && len(q.players) >= q.Config.Size {
		return q.consume(q.Config.Size), nil
	}
	return nil, ready
}

// Requeue puts players back at the front of the queue without the autostart
// consumption Revert performs. Used when a start attempt already failed, so
// the queue holds the players until the next explicit start or admit.
func (q *PickupQueue) Requeue(players []Player) {
	displaced := q.players
	q.players = append([]Player(nil), players...)
	q.players = append(q.players, displaced...)
}

// SplitGroups partitions the current contents into consecutive groups of
// groupSize for simultaneous match starts, optionally pre-sorted by
// descending rating. Full groups are removed from the queue; the remainder
// stays.
func (q *PickupQueue) SplitGroups(groupSize int, ratings map[string]int, sortByRating bool) ([][]Player, error) {
	if groupSize == 0 {
		groupSize = len(q.players) / 2
	}
	if groupSize < 2 || len(q.players) < groupSize {
		return nil, NewError(ValidationError, "not enough players to split the queue")
	}

	if sortByRating {
		q.players = sortByRatingDesc(q.players, ratings)
	}

	var groups [][]Player
	for len(q.players) >= groupSize {
		groups = append(groups, q.consume(groupSize))
	}
	return groups, nil
}

// RecordMaps pushes a finished match's maps into the recent-maps history,
// bounded by the configured cooldown window.
func (q *PickupQueue) RecordMaps(maps []string) {
	if len(maps) == 0 || q.Config.MapCooldown == 0 {
		return
	}
	q.lastMaps = append(q.lastMaps, maps...)
	bound := len(maps) * q.Config.MapCooldown
	if len(q.lastMaps) > bound {
		q.lastMaps = q.lastMaps[len(q.lastMaps)-bound:]
	}
}

// LastMaps returns the deprioritized recent maps.
func (q *PickupQueue) LastMaps() []string {
	return append([]string(nil), q.lastMaps...)
}
