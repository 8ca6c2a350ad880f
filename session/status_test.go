package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Terminal(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.False(Status{}.Terminal())
	assert.False(Status{Phase: Authenticating, Loading: true}.Terminal())
	assert.True(Status{Phase: Succeeded}.Terminal())
	assert.True(Status{Phase: Failed}.Terminal())
}

func TestCell(t *testing.T) {
	t.Parallel()
	t.Run("notifies-in-order", func(t *testing.T) {
		assert := assert.New(t)
		c := NewCell()
		var seen []Phase
		c.Subscribe(func(s Status) { seen = append(seen, s.Phase) })
		c.Subscribe(nil) // ignored

		c.set(Status{Phase: Authenticating, Loading: true})
		c.set(Status{Phase: Succeeded, Message: MsgQuerySuccessful})

		assert.Equal([]Phase{Authenticating, Succeeded}, seen)
		assert.Equal(Succeeded, c.Current().Phase)
	})
	t.Run("late-subscriber-sees-later-changes-only", func(t *testing.T) {
		assert := assert.New(t)
		c := NewCell()
		c.set(Status{Phase: Authenticating, Loading: true})

		var count int
		c.Subscribe(func(Status) { count++ })
		assert.Equal(0, count)
		c.set(Status{Phase: Failed, Message: MsgServiceUnavailable})
		assert.Equal(1, count)
	})
}
