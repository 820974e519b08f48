// internal/di/container_test.go
package di

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter struct{ name string }

func TestContainerResolve(t *testing.T) {
	t.Parallel()

	c := NewContainer()
	c.Register("greeter", &greeter{name: "relay"})
	c.Register("nothing", nil)

	g, err := Resolve[*greeter](c, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "relay", g.name)

	_, err = Resolve[string](c, "greeter")
	assert.Error(t, err)

	_, err = Resolve[*greeter](c, "missing")
	assert.Error(t, err)

	assert.False(t, c.Has("nothing"))
	assert.Equal(t, []string{"greeter"}, c.GetNames())
}
