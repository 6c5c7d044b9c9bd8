package server

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlayers(ids ...string) []Player {
	players := make([]Player, len(ids))
	for i, id := range ids {
		players[i] = Player{ID: id, Nick: "nick-" + id}
	}
	return players
}

func TestQueueAdmit(t *testing.T) {
	config := NewQueueConfig("test", 3)
	config.BlacklistRoleID = "banned"
	config.Autostart = false

	q := NewPickupQueue("ch", config)

	result, _ := q.Admit(Player{ID: "p1"}, false)
	assert.Equal(t, AdmitSuccess, result)

	result, _ = q.Admit(Player{ID: "p1"}, false)
	assert.Equal(t, AdmitDuplicate, result)
	assert.Equal(t, 1, q.Len())

	result, _ = q.Admit(Player{ID: "p2", Roles: []string{"banned"}}, false)
	assert.Equal(t, AdmitNotAllowed, result)

	result, _ = q.Admit(Player{ID: "p3"}, true)
	assert.Equal(t, AdmitNotAllowed, result, "players in an active match cannot queue")

	q.Admit(Player{ID: "p4"}, false)
	result, consumed := q.Admit(Player{ID: "p5"}, false)
	assert.Equal(t, AdmitSuccess, result, "a full queue without autostart keeps its players")
	assert.Nil(t, consumed)

	result, _ = q.Admit(Player{ID: "p6"}, false)
	assert.Equal(t, AdmitNotAllowed, result, "capacity is a hard bound")
}

func TestQueueAdmitWhitelist(t *testing.T) {
	config := NewQueueConfig("test", 4)
	config.WhitelistRoleID = "allowed"
	q := NewPickupQueue("ch", config)

	result, _ := q.Admit(Player{ID: "p1"}, false)
	assert.Equal(t, AdmitNotAllowed, result)

	result, _ = q.Admit(Player{ID: "p2", Roles: []string{"allowed"}}, false)
	assert.Equal(t, AdmitSuccess, result)
}

func TestQueueAutostartConsumesFront(t *testing.T) {
	q := NewPickupQueue("ch", NewQueueConfig("test", 2))

	q.Admit(Player{ID: "p1"}, false)
	result, consumed := q.Admit(Player{ID: "p2"}, false)
	require.Equal(t, AdmitStarted, result)
	assert.Equal(t, []string{"p1", "p2"}, PlayerIDs(consumed))
	assert.Equal(t, 0, q.Len())
}

func TestQueueWithdraw(t *testing.T) {
	q := NewPickupQueue("ch", NewQueueConfig("test", 4))
	for _, p := range testPlayers("p1", "p2", "p3") {
		q.Admit(p, false)
	}

	removed := q.Withdraw("p2", "missing")
	assert.Equal(t, []string{"p2"}, PlayerIDs(removed))
	assert.Equal(t, []string{"p1", "p3"}, PlayerIDs(q.Players()))

	assert.Empty(t, q.Withdraw("p2"), "withdraw is idempotent")
}

func TestQueueRevert(t *testing.T) {
	q := NewPickupQueue("ch", NewQueueConfig("test", 4))
	q.Admit(Player{ID: "waiting"}, false)

	ready := testPlayers("r1", "r2")
	started, requeued := q.Revert(testPlayers("quitter"), ready)
	assert.Nil(t, started)
	assert.Equal(t, []string{"r1", "r2"}, PlayerIDs(requeued))
	assert.Equal(t, []string{"r1", "r2", "waiting"}, PlayerIDs(q.Players()),
		"ready players go back ahead of whoever queued meanwhile")
}

func TestQueueRevertRestarts(t *testing.T) {
	q := NewPickupQueue("ch", NewQueueConfig("test", 2))
	q.Admit(Player{ID: "waiting"}, false)

	started, requeued := q.Revert(testPlayers("quitter"), testPlayers("ready"))
	assert.Equal(t, []string{"ready", "waiting"}, PlayerIDs(started),
		"a refilled autostart queue starts immediately")
	assert.Nil(t, requeued)
	assert.Equal(t, 0, q.Len())
}

func TestQueueRequeueSkipsAutostart(t *testing.T) {
	q := NewPickupQueue("ch", NewQueueConfig("test", 2))
	q.Admit(Player{ID: "waiting"}, false)

	q.Requeue(testPlayers("r1", "r2"))
	assert.Equal(t, []string{"r1", "r2", "waiting"}, PlayerIDs(q.Players()),
		"a full queue holds its players instead of consuming them again")
}

func TestQueueSplitGroups(t *testing.T) {
	q := NewPickupQueue("ch", NewQueueConfig("test", 10))
	for _, p := range testPlayers("p1", "p2", "p3", "p4", "p5") {
		q.Admit(p, false)
	}
	ratings := map[string]int{"p1": 100, "p2": 500, "p3": 300, "p4": 400, "p5": 200}

	groups, err := q.SplitGroups(2, ratings, true)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"p2", "p4"}, PlayerIDs(groups[0]))
	assert.Equal(t, []string{"p3", "p5"}, PlayerIDs(groups[1]))
	assert.Equal(t, []string{"p1"}, PlayerIDs(q.Players()), "the remainder stays queued")

	_, err = q.SplitGroups(2, nil, false)
	assert.Error(t, err, "not enough players left for another split")
}

func TestQueueRecordMaps(t *testing.T) {
	config := NewQueueConfig("test", 4)
	config.MapCooldown = 2
	q := NewPickupQueue("ch", config)

	q.RecordMaps([]string{"dust"})
	q.RecordMaps([]string{"cache"})
	q.RecordMaps([]string{"mirage"})
	if diff := cmp.Diff([]string{"cache", "mirage"}, q.LastMaps()); diff != "" {
		t.Errorf("unexpected recent maps (-want +got):\n%s", diff)
	}

	config.MapCooldown = 0
	q.lastMaps = nil
	q.RecordMaps([]string{"dust"})
	assert.Empty(t, q.LastMaps())
}
