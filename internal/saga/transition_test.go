package saga

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PapaLeoneIV/MicroservicesArchApp/internal/order"
)

func TestTransitionBothApproved(t *testing.T) {
	next, effects, err := Transition(StateStart, ItemsResolved{BikeApproved: true, HotelApproved: true})
	require.NoError(t, err)
	assert.Equal(t, StateItemsConfirmed, next)
	assert.Equal(t, []Effect{SetStatus{order.StatusItemsConfirmed}, RequestPayment{}}, effects)
}

func TestTransitionHotelDeniedCompensatesBikeOnly(t *testing.T) {
	next, effects, err := Transition(StateStart, ItemsResolved{BikeApproved: true, HotelApproved: false})
	require.NoError(t, err)
	assert.Equal(t, StateItemsDenied, next)
	assert.Equal(t, []Effect{SetStatus{order.StatusItemsDenied}, CompensateBike{}}, effects)
}

func TestTransitionBikeDeniedCompensatesHotelOnly(t *testing.T) {
	next, effects, err := Transition(StateStart, ItemsResolved{BikeApproved: false, HotelApproved: true})
	require.NoError(t, err)
	assert.Equal(t, StateItemsDenied, next)
	assert.Equal(t, []Effect{SetStatus{order.StatusItemsDenied}, CompensateHotel{}}, effects)
}

func TestTransitionBothDeniedCompensatesNothing(t *testing.T) {
	next, effects, err := Transition(StateStart, ItemsResolved{})
	require.NoError(t, err)
	assert.Equal(t, StateItemsDenied, next)
	// Neither reservation reached APPROVED, so there is nothing to revert.
	assert.Equal(t, []Effect{SetStatus{order.StatusItemsDenied}}, effects)
}

func TestTransitionPaymentApproved(t *testing.T) {
	next, effects, err := Transition(StateItemsConfirmed, PaymentResolved{Approved: true})
	require.NoError(t, err)
	assert.Equal(t, StatePaymentAccepted, next)
	assert.Equal(t, []Effect{SetStatus{order.StatusApproved}}, effects)
}

func TestTransitionPaymentDeniedCompensatesEverything(t *testing.T) {
	next, effects, err := Transition(StateItemsConfirmed, PaymentResolved{Approved: false})
	require.NoError(t, err)
	assert.Equal(t, StateItemsDenied, next)
	assert.Equal(t, []Effect{
		SetStatus{order.StatusPaymentDenied},
		CompensateBike{},
		CompensateHotel{},
		SetStatus{order.StatusItemsDenied},
	}, effects)
}

func TestTransitionFailureFromAnyState(t *testing.T) {
	for _, state := range []State{StateStart, StateItemsConfirmed} {
		next, effects, err := Transition(state, Failed{Err: errors.New("broker down")})
		require.NoError(t, err)
		assert.Equal(t, StateErrored, next)
		assert.Empty(t, effects)
	}
}

func TestTransitionRejectsUnexpectedEvents(t *testing.T) {
	_, _, err := Transition(StateStart, PaymentResolved{Approved: true})
	require.Error(t, err)

	_, _, err = Transition(StateItemsConfirmed, ItemsResolved{BikeApproved: true, HotelApproved: true})
	require.Error(t, err)

	_, _, err = Transition(StateItemsDenied, PaymentResolved{})
	require.Error(t, err)
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateItemsDenied.Terminal())
	assert.True(t, StatePaymentAccepted.Terminal())
	assert.True(t, StateErrored.Terminal())
	assert.False(t, StateStart.Terminal())
	assert.False(t, StateItemsConfirmed.Terminal())
}
