package issuing

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testSecret = "whsec_test"

const requestObject = `{
	"id": "iauth_1",
	"object": "issuing.authorization",
	"amount": 0,
	"approved": false,
	"currency": "gbp",
	"card": {"id": "ic_1", "object": "issuing.card"},
	"merchant_amount": 0,
	"merchant_currency": "gbp",
	"merchant_data": {"name": "Coffee Shop"},
	"pending_request": {
		"amount": 2500,
		"currency": "gbp",
		"merchant_amount": 2500,
		"merchant_currency": "gbp"
	}
}`

func signedEvent(t *testing.T, eventType, object string) ([]byte, string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":"2025-08-27.basil","type":%q,"data":{"object":%s}}`, eventType, object))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestVerifierParsesAuthorizationRequest(t *testing.T) {
	payload, header := signedEvent(t, EventAuthorizationRequest, requestObject)

	evt, err := NewVerifier(testSecret).Parse(payload, header)
	require.NoError(t, err)
	assert.Equal(t, EventAuthorizationRequest, evt.Type)
	require.NotNil(t, evt.Authorization)

	auth := evt.Authorization
	assert.Equal(t, "iauth_1", auth.ID)
	assert.Equal(t, "ic_1", auth.CardID)
	assert.Equal(t, "GBP", auth.Currency)
	assert.Equal(t, "Coffee Shop", auth.MerchantName)
	require.NotNil(t, auth.PendingRequest)
	assert.Equal(t, int64(2500), auth.PendingRequest.Amount)
	assert.Equal(t, "GBP", auth.PendingRequest.MerchantCurrency)
}

func TestVerifierRejectsBadSignature(t *testing.T) {
	payload, _ := signedEvent(t, EventAuthorizationRequest, requestObject)

	_, err := NewVerifier(testSecret).Parse(payload, "")
	assert.ErrorIs(t, err, ErrMissingSignature)

	_, err = NewVerifier(testSecret).Parse(payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, header := signedEvent(t, EventAuthorizationRequest, requestObject)
	_, err = NewVerifier("whsec_other").Parse(payload, header)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestVerifierUnhandledEvent(t *testing.T) {
	payload, header := signedEvent(t, "customer.created", `{"id":"cus_1","object":"customer"}`)

	evt, err := NewVerifier(testSecret).Parse(payload, header)
	require.NoError(t, err)
	assert.False(t, evt.Handled())
	assert.Nil(t, evt.Authorization)
}

func TestParseAuthorizationDefaults(t *testing.T) {
	auth, err := ParseAuthorization([]byte(`{"id":"iauth_2","card":"ic_9","approved":true,"amount":120,"currency":"usd","pending_request":null}`))
	require.NoError(t, err)
	assert.Equal(t, "ic_9", auth.CardID)
	assert.Equal(t, DefaultMerchantName, auth.MerchantName)
	assert.True(t, auth.Approved)
	assert.Equal(t, int64(120), auth.Amount)
	assert.Equal(t, "USD", auth.Currency)
	assert.Nil(t, auth.PendingRequest)
}

func TestParseAuthorizationErrors(t *testing.T) {
	_, err := ParseAuthorization([]byte(`{`))
	assert.Error(t, err)

	_, err = ParseAuthorization([]byte(`{"amount":1}`))
	assert.Error(t, err)
}

func TestCardDetailsExpiry(t *testing.T) {
	assert.Equal(t, "8/2028", CardDetails{ExpMonth: 8, ExpYear: 2028}.Expiry())
}
