// Package contract holds the broker vocabulary every service agrees on:
// the exchange, the routing keys, the queue names, and the message
// envelopes. It has no behavior beyond encode/decode and validation.
package contract

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	Exchange     = "OrderEventExchange"
	ExchangeKind = "direct"
)

// Routing keys. The BD* keys carry commands from the order service to the
// participants; the *_listener keys carry responses back.
const (
	KeyBookingOrder     = "booking_order_listener"
	KeyBikeRequest      = "BDbike_request"
	KeyHotelRequest     = "BDhotel_request"
	KeyPaymentRequest   = "BDpayment_request"
	KeyBikeSagaRequest  = "BDbike_SAGA_request"
	KeyHotelSagaRequest = "BDhotel_SAGA_request"
	KeyBikeResponse     = "bike_main_listener"
	KeyHotelResponse    = "hotel_main_listener"
	KeyPaymentResponse  = "payment_main_listener"
	KeyBikeSagaAck      = "bike_saga_listener"
	KeyHotelSagaAck     = "hotel_saga_listener"
)

// Queue names, one owner per queue.
const (
	QueueOrderBooking       = "order_service_booking_request"
	QueueOrderBikeResp      = "order_service_bike_response"
	QueueOrderHotelResp     = "order_service_hotel_response"
	QueueOrderBikeSagaAck   = "order_service_SAGA_bike_request"
	QueueOrderHotelSagaAck  = "order_service_SAGA_hotel_request"
	QueueOrderPaymentResp   = "order_service_payment_request"
	QueueBikeRequest        = "bike_service_bike_request"
	QueueBikeSagaRequest    = "bike_service_saga_bike_request"
	QueueHotelRequest       = "hotel_service_hotel_request"
	QueueHotelSagaRequest   = "hotel_service_saga_hotel_request"
	QueuePaymentRequest     = "payment_service_payment_request"
)

// Status sentinels carried in Response envelopes.
const (
	BikeApproved    = "BIKEAPPROVED"
	BikeDenied      = "BIKEDENIED"
	HotelApproved   = "HOTELAPPROVED"
	HotelDenied     = "HOTELDENIED"
	PaymentApproved = "PAYMENTAPPROVED"
	PaymentDenied   = "PAYMENTDENIED"
	BikeReverted    = "BIKEORDERREVERTED"
	HotelReverted   = "HOTELORDERREVERTED"
)

// BookingOrder is the validated order descriptor the intake adapter puts on
// the booking queue.
type BookingOrder struct {
	OrderID   string  `json:"order_id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Room      string  `json:"room"`
	RoadBikes int     `json:"road_bike_requested"`
	DirtBikes int     `json:"dirt_bike_requested"`
	Amount    float64 `json:"amount"`
}

func (b BookingOrder) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.OrderID, validation.Required),
		validation.Field(&b.Room, validation.Required),
		validation.Field(&b.RoadBikes, validation.Min(0)),
		validation.Field(&b.DirtBikes, validation.Min(0)),
		validation.Field(&b.Amount, validation.Min(0.0)),
	)
}

type BikeRequest struct {
	OrderID   string `json:"order_id"`
	RoadBikes int    `json:"road_bike_requested"`
	DirtBikes int    `json:"dirt_bike_requested"`
}

func (r BikeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OrderID, validation.Required),
		validation.Field(&r.RoadBikes, validation.Min(0)),
		validation.Field(&r.DirtBikes, validation.Min(0)),
	)
}

type HotelRequest struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Room    string `json:"room"`
}

func (r HotelRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OrderID, validation.Required),
		validation.Field(&r.Room, validation.Required),
	)
}

type PaymentRequest struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
}

func (r PaymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OrderID, validation.Required),
		validation.Field(&r.Amount, validation.Min(0.0)),
	)
}

// Response is the fan-in envelope: the echoed order id is the sole
// correlation key, the status is one of the sentinels above.
type Response struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func (r Response) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OrderID, validation.Required),
		validation.Field(&r.Status, validation.Required),
	)
}

// Compensation asks a participant to undo its reservation for an order.
type Compensation struct {
	OrderID string `json:"order_id"`
}

func (c Compensation) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.OrderID, validation.Required),
	)
}

type validatable interface {
	Validate() error
}

func decode[T validatable](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("unmarshal %T: %w", v, err)
	}
	if err := v.Validate(); err != nil {
		return v, fmt.Errorf("validate %T: %w", v, err)
	}
	return v, nil
}

func DecodeBookingOrder(body []byte) (BookingOrder, error) { return decode[BookingOrder](body) }
func DecodeBikeRequest(body []byte) (BikeRequest, error)   { return decode[BikeRequest](body) }
func DecodeHotelRequest(body []byte) (HotelRequest, error) { return decode[HotelRequest](body) }
func DecodePaymentRequest(body []byte) (PaymentRequest, error) {
	return decode[PaymentRequest](body)
}
func DecodeResponse(body []byte) (Response, error)         { return decode[Response](body) }
func DecodeCompensation(body []byte) (Compensation, error) { return decode[Compensation](body) }
