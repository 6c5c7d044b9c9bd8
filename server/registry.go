package server

import (
	"context"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// PromptHandler consumes one response to an outstanding interactive prompt.
// removed is set when a previously given response was retracted.
type PromptHandler func(ctx context.Context, playerID, option string, removed bool)

// Registry holds the process-wide collections: configured and active
// queues, active matches, the match ID counter and outstanding prompt
// handlers. It performs no locking of its own; the core serializes all
// access (see Core).
type Registry struct {
	logger *zap.Logger

	queues        []*PickupQueue
	activeQueues  []*PickupQueue
	activeMatches []*Match
	lastMatchID   *atomic.Int64
	prompts       map[uuid.UUID]PromptHandler
}

func NewRegistry(logger *zap.Logger, lastMatchID int64) *Registry {
	return &Registry{
		logger:      logger,
		lastMatchID: atomic.NewInt64(lastMatchID),
		prompts:     make(map[uuid.UUID]PromptHandler),
	}
}

// NextMatchID returns the next value of the monotonically increasing match
// ID counter.
func (r *Registry) NextMatchID() int64 {
	return r.lastMatchID.Inc()
}

// BumpMatchID raises the counter to at least id; used when restoring
// snapshots.
func (r *Registry) BumpMatchID(id int64) {
	for {
		current := r.lastMatchID.Load()
		if current >= id || r.lastMatchID.CompareAndSwap(current, id) {
			return
		}
	}
}

// RegisterQueue adds a configured queue. Called once per queue at startup.
func (r *Registry) RegisterQueue(q *PickupQueue) {
	r.queues = append(r.queues, q)
}

// Queues returns the configured queues of a channel, in registration order.
func (r *Registry) Queues(channelID string) []*PickupQueue {
	var queues []*PickupQueue
	for _, q := range r.queues {
		if q.ChannelID == channelID {
			queues = append(queues, q)
		}
	}
	return queues
}

// FindQueue resolves a queue by name or alias, case-insensitively.
func (r *Registry) FindQueue(channelID, name string) (*PickupQueue, bool) {
	name = strings.ToLower(name)
	for _, q := range r.queues {
		if q.ChannelID != channelID {
			continue
		}
		if strings.ToLower(q.Name()) == name {
			return q, true
		}
		for _, alias := range q.Config.Aliases {
			if strings.ToLower(alias) == name {
				return q, true
			}
		}
	}
	return nil, false
}

// DefaultQueues returns the channel's queues that accept unnamed adds.
func (r *Registry) DefaultQueues(channelID string) []*PickupQueue {
	var queues []*PickupQueue
	for _, q := range r.Queues(channelID) {
		if q.Config.IsDefault {
			queues = append(queues, q)
		}
	}
	return queues
}

// ActivateQueue marks a queue active (non-empty). Idempotent.
func (r *Registry) ActivateQueue(q *PickupQueue) {
	for _, active := range r.activeQueues {
		if active == q {
			return
		}
	}
	r.activeQueues = append(r.activeQueues, q)
}

// DeactivateQueue removes a queue from the active set. Idempotent.
func (r *Registry) DeactivateQueue(q *PickupQueue) {
	for i, active := range r.activeQueues {
		if active == q {
			r.activeQueues = append(r.activeQueues[:i], r.activeQueues[i+1:]...)
			return
		}
	}
}

// ActiveQueues returns the non-empty queues in activation order.
func (r *Registry) ActiveQueues() []*PickupQueue {
	return append([]*PickupQueue(nil), r.activeQueues...)
}

// RegisterMatch adds a match to the active set. Only the match itself (via
// its creator) registers; only the match removes itself on its terminal
// transition.
func (r *Registry) RegisterMatch(m *Match) {
	r.activeMatches = append(r.activeMatches, m)
	r.logger.Info("Registered match", zap.Int64("match_id", m.ID), zap.String("queue", m.QueueName))
}

// UnregisterMatch removes a match from the active set.
func (r *Registry) UnregisterMatch(m *Match) {
	for i, active := range r.activeMatches {
		if active == m {
			r.activeMatches = append(r.activeMatches[:i], r.activeMatches[i+1:]...)
			return
		}
	}
}

// ActiveMatches returns the active matches in creation order.
func (r *Registry) ActiveMatches() []*Match {
	return append([]*Match(nil), r.activeMatches...)
}

// Match finds an active match by ID.
func (r *Registry) Match(id int64) (*Match, bool) {
	for _, m := range r.activeMatches {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// MatchByPlayer finds the active match containing the player, if any.
func (r *Registry) MatchByPlayer(channelID, playerID string) (*Match, bool) {
	for _, m := range r.activeMatches {
		if m.ChannelID == channelID && m.HasPlayer(playerID) {
			return m, true
		}
	}
	return nil, false
}

// InActiveMatch reports whether the player is on any active match's roster
// in the channel.
func (r *Registry) InActiveMatch(channelID, playerID string) bool {
	_, ok := r.MatchByPlayer(channelID, playerID)
	return ok
}

// RegisterPrompt installs a response handler for an outstanding prompt.
func (r *Registry) RegisterPrompt(token uuid.UUID, handler PromptHandler) {
	r.prompts[token] = handler
}

// UnregisterPrompt removes a prompt handler. Must be called before the
// owning stage releases its players so a stale response cannot act on a
// finished stage.
func (r *Registry) UnregisterPrompt(token uuid.UUID) {
	delete(r.prompts, token)
}

// Prompt returns the handler for a token, if still registered.
func (r *Registry) Prompt(token uuid.UUID) (PromptHandler, bool) {
	handler, ok := r.prompts[token]
	return handler, ok
}
