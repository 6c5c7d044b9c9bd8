package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Draft is the captain pick stage. The configured pick order ("abababba")
// dictates whose turn it is; past the end of the order either captain may
// pick. The stage completes once the unpicked pool is empty.
type Draft struct {
	m      *Match
	order  []int // team index per pick slot
	picks  int
	active bool
}

func newDraft(m *Match, pickOrder string) *Draft {
	d := &Draft{m: m}
	for _, ch := range pickOrder {
		if ch == 'a' {
			d.order = append(d.order, 0)
		} else {
			d.order = append(d.order, 1)
		}
	}
	return d
}

func (d *Draft) start(ctx context.Context) {
	if d.m.teams[2].Len() == 0 {
		d.m.Advance(ctx)
		return
	}
	d.active = true
	d.announceTurn()
}

// turnTeam returns the index of the team to pick next, or -1 when the
// order is exhausted and either captain may pick.
func (d *Draft) turnTeam() int {
	if d.picks < len(d.order) {
		return d.order[d.picks]
	}
	return -1
}

func (d *Draft) announceTurn() {
	turn := d.turnTeam()
	unpicked := lo.Map(d.m.teams[2].Players, func(p Player, _ int) string { return p.Nick })
	text := fmt.Sprintf("Unpicked: %s.", strings.Join(unpicked, ", "))
	if turn != -1 {
		if captain, ok := d.m.teams[turn].Captain(); ok {
			text = fmt.Sprintf("%s\n%s, it is your turn to pick.", text, captain.Nick)
		} else {
			text = fmt.Sprintf("%s\n%s needs a captain.", text, d.m.teams[turn].Name)
		}
	}
	d.m.deps.Messenger.Notify(Audience{ChannelID: d.m.ChannelID}, text)
}

// CapFor puts the requester in the captain seat of the named team. The
// previous captain, if any, goes back to the unpicked pool.
func (d *Draft) CapFor(ctx context.Context, requester Player, teamName string) error {
	if !d.active {
		return NewError(InvalidState, "the match is not on the draft stage")
	}
	if !d.m.HasPlayer(requester.ID) {
		return ErrPlayerNotFound
	}
	team, ok := d.m.TeamByName(teamName)
	if !ok {
		return NewErrorf(NotFound, "team with name %q not found", teamName)
	}
	if team.IsCaptain(requester.ID) {
		return NewError(DuplicateEntry, "you are already the captain of this team")
	}
	if current := d.m.teamOf(requester.ID); current != nil {
		current.Remove(requester.ID)
	}
	if old, ok := team.Captain(); ok {
		team.Remove(old.ID)
		d.m.teams[2].Add(old)
	}
	team.Players = append([]Player{requester}, team.Players...)
	d.m.persistSnapshot(ctx)
	d.m.deps.Messenger.Notify(Audience{ChannelID: d.m.ChannelID},
		fmt.Sprintf("%s is now the captain of %s %s.", requester.Nick, team.Emoji, team.Name))
	d.refresh(ctx)
	return nil
}

// Pick moves one or more unpicked players onto the captain's team. Picking
// several at once is allowed when the order grants that many consecutive
// turns.
func (d *Draft) Pick(ctx context.Context, captainID string, targetIDs ...string) error {
	if !d.active {
		return NewError(InvalidState, "the match is not on the draft stage")
	}
	team := d.m.captainTeam(captainID)
	if team == nil {
		return NewError(PermissionDenied, "you must be a team captain to pick players")
	}
	if len(targetIDs) == 0 {
		return NewError(ValidationError, "no players specified")
	}
	for i := range targetIDs {
		slot := d.picks + i
		if slot < len(d.order) && d.order[slot] != team.Index {
			if i == 0 {
				return NewError(PermissionDenied, "it is not your turn to pick")
			}
			return NewErrorf(PermissionDenied, "you may only pick %d player(s) this turn", i)
		}
	}

	for _, targetID := range targetIDs {
		target, ok := findPlayer(d.m.teams[2].Players, targetID)
		if !ok {
			return NewErrorf(NotFound, "player with id %q is not in the unpicked pool", targetID)
		}
		d.m.teams[2].Remove(target.ID)
		team.Add(target)
		d.picks++
	}
	d.m.persistSnapshot(ctx)
	d.refresh(ctx)
	return nil
}

// refresh re-evaluates the stage after any roster mutation: auto-assigns
// a forced tail of the pick order and completes once nobody is unpicked.
func (d *Draft) refresh(ctx context.Context) {
	if !d.active {
		return
	}
	d.autoAssign(ctx)
	if d.m.teams[2].Len() == 0 {
		d.active = false
		d.m.Advance(ctx)
		return
	}
	d.announceTurn()
}

// autoAssign skips pointless final turns: when the remaining pick order is
// exactly the remaining unpicked count and every slot belongs to one team,
// the outcome is forced and the players are moved at once.
func (d *Draft) autoAssign(ctx context.Context) {
	remaining := d.m.teams[2].Len()
	if remaining == 0 || len(d.order)-d.picks != remaining {
		return
	}
	tail := d.order[d.picks:]
	team := d.m.teams[tail[0]]
	for _, slot := range tail {
		if slot != tail[0] {
			return
		}
	}
	for _, p := range append([]Player(nil), d.m.teams[2].Players...) {
		d.m.teams[2].Remove(p.ID)
		team.Add(p)
		d.picks++
	}
	d.m.persistSnapshot(ctx)
}
