package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBikeRequest(t *testing.T) {
	req, err := DecodeBikeRequest([]byte(`{"order_id": "order-1", "road_bike_requested": 2, "dirt_bike_requested": 1}`))
	require.NoError(t, err)
	assert.Equal(t, "order-1", req.OrderID)
	assert.Equal(t, 2, req.RoadBikes)
	assert.Equal(t, 1, req.DirtBikes)
}

func TestDecodeBikeRequestRejectsNegativeQuantity(t *testing.T) {
	_, err := DecodeBikeRequest([]byte(`{"order_id": "order-1", "road_bike_requested": -2}`))
	require.Error(t, err)
}

func TestDecodeBikeRequestRejectsMissingOrderID(t *testing.T) {
	_, err := DecodeBikeRequest([]byte(`{"road_bike_requested": 2}`))
	require.Error(t, err)
}

func TestDecodeResponseRejectsGarbage(t *testing.T) {
	_, err := DecodeResponse([]byte(`not json at all`))
	require.Error(t, err)
}

func TestDecodeBookingOrder(t *testing.T) {
	booking, err := DecodeBookingOrder([]byte(`{
		"order_id": "order-7",
		"from": "2026-09-01",
		"to": "2026-09-08",
		"room": "suite-2",
		"road_bike_requested": 1,
		"dirt_bike_requested": 0,
		"amount": 420.5
	}`))
	require.NoError(t, err)
	assert.Equal(t, "order-7", booking.OrderID)
	assert.Equal(t, 420.5, booking.Amount)
}

func TestDecodeBookingOrderRejectsNegativeAmount(t *testing.T) {
	_, err := DecodeBookingOrder([]byte(`{"order_id": "order-7", "room": "suite-2", "amount": -1}`))
	require.Error(t, err)
}

func TestDecodeCompensationRequiresOrderID(t *testing.T) {
	_, err := DecodeCompensation([]byte(`{}`))
	require.Error(t, err)
}
