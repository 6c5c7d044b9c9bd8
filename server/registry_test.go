package server

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRegistryMatchIDs(t *testing.T) {
	r := NewRegistry(zap.NewNop(), 41)
	assert.Equal(t, int64(42), r.NextMatchID())

	r.BumpMatchID(100)
	assert.Equal(t, int64(101), r.NextMatchID())

	r.BumpMatchID(50) // never moves backwards
	assert.Equal(t, int64(102), r.NextMatchID())
}

func TestRegistryFindQueue(t *testing.T) {
	r := NewRegistry(zap.NewNop(), 0)
	config := NewQueueConfig("Elite", 4)
	config.Aliases = []string{"e", "sweat"}
	r.RegisterQueue(NewPickupQueue("ch", config))

	casual := NewQueueConfig("casual", 4)
	casual.IsDefault = false
	r.RegisterQueue(NewPickupQueue("ch", casual))

	for _, name := range []string{"Elite", "elite", "E", "sweat"} {
		q, ok := r.FindQueue("ch", name)
		assert.True(t, ok, name)
		assert.Equal(t, "Elite", q.Name())
	}
	_, ok := r.FindQueue("ch", "missing")
	assert.False(t, ok)
	_, ok = r.FindQueue("other", "Elite")
	assert.False(t, ok, "queues are channel scoped")

	defaults := r.DefaultQueues("ch")
	assert.Len(t, defaults, 1)
	assert.Equal(t, "Elite", defaults[0].Name())
}

func TestRegistryActiveQueues(t *testing.T) {
	r := NewRegistry(zap.NewNop(), 0)
	q := NewPickupQueue("ch", NewQueueConfig("pug", 4))
	r.RegisterQueue(q)

	r.ActivateQueue(q)
	r.ActivateQueue(q) // no duplicates
	assert.Len(t, r.ActiveQueues(), 1)

	r.DeactivateQueue(q)
	assert.Empty(t, r.ActiveQueues())
}

func TestRegistryPrompts(t *testing.T) {
	r := NewRegistry(zap.NewNop(), 0)
	token := uuid.Must(uuid.NewV4())

	_, ok := r.Prompt(token)
	assert.False(t, ok)

	r.RegisterPrompt(token, func(_ context.Context, _, _ string, _ bool) {})
	_, ok = r.Prompt(token)
	assert.True(t, ok)

	r.UnregisterPrompt(token)
	_, ok = r.Prompt(token)
	assert.False(t, ok)
}
