package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine()
	assert.NoError(t, sm.ValidateTransition(StatusPending, StatusFilled))
	assert.NoError(t, sm.ValidateTransition(StatusPending, StatusCanceled))
	assert.NoError(t, sm.ValidateTransition(StatusPartial, StatusPartial))
	assert.NoError(t, sm.ValidateTransition(StatusPartial, StatusFilled))

	assert.Error(t, sm.ValidateTransition(StatusFilled, StatusCanceled))
	assert.Error(t, sm.ValidateTransition(StatusCanceled, StatusFilled))
	assert.Error(t, sm.ValidateTransition(StatusFilled, StatusFilled))
	assert.Error(t, sm.ValidateTransition(StatusRejected, StatusPending))

	assert.True(t, sm.IsFinalState(StatusFilled))
	assert.False(t, sm.IsFinalState(StatusPartial))
	assert.True(t, sm.IsActiveState(StatusPending))
	assert.True(t, sm.IsActiveState(StatusPartial))
	assert.False(t, sm.IsActiveState(StatusCanceled))
}

func TestOrderHelpers(t *testing.T) {
	o := Order{Symbol: "X", Side: SideSell, Type: TypeMarket, Size: 2, FilledSize: 0.5}
	assert.NoError(t, o.Validate())
	assert.Equal(t, -2.0, o.SignedSize())
	assert.Equal(t, 1.5, o.Remaining())

	in := Intent{Symbol: "X", Side: SideBuy, Price: 10, Size: 1, Strategy: "mm"}
	got := in.ToOrder()
	assert.Equal(t, TypeLimit, got.Type)
	assert.Equal(t, "mm", got.Strategy)
	assert.Equal(t, 1.0, Trade{Side: SideBuy, Size: 1}.SignedSize())
}
