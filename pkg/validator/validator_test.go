package validator

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

type sampleRequest struct {
	BookingID string   `json:"booking_id" binding:"required,uuid"`
	IntentID  string   `json:"payment_intent_id" binding:"required,startswith=pi_"`
	Amount    *float64 `json:"amount,omitempty" binding:"omitempty,gt=0"`
	Currency  string   `json:"currency" binding:"omitempty,len=3"`
}

func newEngine() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	RegisterJSONNames(v)
	return v
}

func TestMessages(t *testing.T) {
	engine := newEngine()

	t.Run("valid", func(t *testing.T) {
		req := sampleRequest{
			BookingID: "7b0c1f7e-0000-4000-8000-000000000000",
			IntentID:  "pi_123",
			Currency:  "lkr",
		}
		assert.Nil(t, Messages(engine.Struct(req)))
	})

	t.Run("reports json names sorted", func(t *testing.T) {
		amount := -5.0
		req := sampleRequest{BookingID: "not-a-uuid", Amount: &amount, Currency: "rupees"}

		assert.Equal(t, []string{
			"amount: must be greater than 0",
			"booking_id: must be a valid UUID",
			"currency: must be exactly 3 characters",
			"payment_intent_id: is required",
		}, Messages(engine.Struct(req)))
	})

	t.Run("other errors keep their text", func(t *testing.T) {
		assert.Equal(t, []string{"unexpected EOF"}, Messages(errors.New("unexpected EOF")))
	})
}

func TestRegisterJSONNamesIgnoresOtherEngines(t *testing.T) {
	assert.NotPanics(t, func() { RegisterJSONNames(struct{}{}) })
}
