package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPortKindPredicates(t *testing.T) {
	assert.True(t, PortInput.Mandatory())
	assert.True(t, PortInputArray.Mandatory())
	assert.False(t, PortOutput.Mandatory())
	assert.False(t, PortOption.Mandatory())
	assert.False(t, PortAccumulator.Mandatory())

	assert.True(t, PortInput.Consuming())
	assert.True(t, PortInputArray.Consuming())
	assert.False(t, PortOption.Consuming())

	assert.True(t, PortOutput.Producing())
	assert.True(t, PortOutputArray.Producing())
	assert.False(t, PortInput.Producing())

	assert.True(t, PortOption.Peeking())
	assert.True(t, PortAccumulator.Peeking())
	assert.False(t, PortInput.Peeking())

	assert.True(t, PortInputArray.Array())
	assert.True(t, PortOutputArray.Array())
	assert.False(t, PortInput.Array())
}

func TestPortKindString(t *testing.T) {
	assert.Equal(t, "input", PortInput.String())
	assert.Equal(t, "output_array", PortOutputArray.String())
	assert.Equal(t, "accumulator", PortAccumulator.String())
}

func TestEffectiveCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, PortSpec{}.EffectiveCapacity())
	assert.Equal(t, 1, PortSpec{Capacity: 1}.EffectiveCapacity())
	assert.Equal(t, MaxCapacity, PortSpec{Capacity: 100}.EffectiveCapacity())
	assert.Equal(t, DefaultCapacity, PortSpec{Capacity: -3}.EffectiveCapacity())
}

func TestPortConstructors(t *testing.T) {
	in := InputPort("a", boolSchema)
	assert.Equal(t, PortInput, in.Kind)
	assert.Equal(t, boolSchema, in.Schema)

	arr := InputArrayPort("merge", boolSchema, "left", "right")
	assert.Equal(t, PortInputArray, arr.Kind)
	assert.True(t, arr.HasElement("left"))
	assert.True(t, arr.HasElement("right"))
	assert.False(t, arr.HasElement("middle"))

	seed := NewMessage(boolSchema, []byte{0})
	acc := AccumulatorPort("total", boolSchema, seed)
	assert.Equal(t, PortAccumulator, acc.Kind)
	assert.NotNil(t, acc.Seed)
	assert.Equal(t, seed.ID, acc.Seed.ID)

	unseeded := AccumulatorPort("total", boolSchema, Message{})
	assert.Nil(t, unseeded.Seed)
}
