package skillregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndQuery(t *testing.T) {
	r := New()
	r.Register("w1", []string{"edit", "shell"})
	r.Register("w2", []string{"edit"})

	ids := r.QueryCapable([]string{"edit"})
	assert.Equal(t, []string{"w1", "w2"}, ids)

	ids = r.QueryCapable([]string{"edit", "shell"})
	assert.Equal(t, []string{"w1"}, ids)
}

func TestRegistry_QueryCapable_NoMatch(t *testing.T) {
	r := New()
	r.Register("w1", []string{"edit"})
	assert.Empty(t, r.QueryCapable([]string{"deploy"}))
}

func TestRegistry_Unregister(t *testing.T) {
	r := New()
	r.Register("w1", []string{"edit"})
	r.Unregister("w1")
	assert.Empty(t, r.QueryCapable([]string{"edit"}))

	// Unregistering an unknown id is a no-op.
	r.Unregister("unknown")
}

func TestRegistry_Capabilities(t *testing.T) {
	r := New()
	r.Register("w1", []string{"edit", "shell"})

	caps, ok := r.Capabilities("w1")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"edit", "shell"}, caps)

	_, ok = r.Capabilities("missing")
	assert.False(t, ok)
}

func TestRegistry_RegisterReplacesExisting(t *testing.T) {
	r := New()
	r.Register("w1", []string{"edit"})
	r.Register("w1", []string{"shell"})

	caps, _ := r.Capabilities("w1")
	assert.Equal(t, []string{"shell"}, caps)
}
