package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusPreparing, false},
		{StatusConfirmed, StatusPreparing, true},
		{StatusPreparing, StatusReady, true},
		{StatusReady, StatusOutForDelivery, true},
		{StatusReady, StatusDelivered, true},
		{StatusOutForDelivery, StatusDelivered, true},
		{StatusOutForDelivery, StatusReady, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusReady.Terminal())
	assert.False(t, Status("bogus").Terminal())
	assert.Equal(t, []Status{StatusConfirmed, StatusCancelled}, StatusPending.Next())
}

func TestTransition(t *testing.T) {
	require.NoError(t, Transition(StatusPending, StatusConfirmed, true))
	require.ErrorIs(t, Transition(StatusPending, StatusDelivered, true), ErrInvalidTransition)
	require.NoError(t, Transition(StatusDelivered, StatusPending, false))
	require.ErrorIs(t, Transition(StatusReady, StatusReady, false), ErrInvalidTransition)

	var ise *InvalidStatusError
	require.ErrorAs(t, Transition(StatusPending, "shipped", false), &ise)
	assert.Equal(t, Status("shipped"), ise.Status)
}
