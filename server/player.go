package server

import "github.com/samber/lo"

// Player is an opaque chat-platform participant as seen by the core: an
// identifier, a display nick, and the role set used for blacklist/whitelist
// and captain-role gating. The core never resolves these itself; the
// identity provider fills them in at the boundary.
type Player struct {
	ID    string   `json:"id"`
	Nick  string   `json:"nick"`
	Roles []string `json:"roles,omitempty"`
}

func (p Player) HasRole(roleID string) bool {
	return roleID != "" && lo.Contains(p.Roles, roleID)
}

// PlayerIDs returns the IDs of the given players, order preserved.
func PlayerIDs(players []Player) []string {
	return lo.Map(players, func(p Player, _ int) string { return p.ID })
}

func findPlayer(players []Player, id string) (Player, bool) {
	return lo.Find(players, func(p Player) bool { return p.ID == id })
}

func containsPlayer(players []Player, id string) bool {
	_, ok := findPlayer(players, id)
	return ok
}

func removePlayer(players []Player, id string) []Player {
	return lo.Reject(players, func(p Player, _ int) bool { return p.ID == id })
}
