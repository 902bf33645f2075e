package httputil

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-pines/frog/internal/errors"
	"github.com/the-pines/frog/internal/serviceauth"
)

type attachBody struct {
	Owner   string `json:"owner" validate:"required,evmaddr"`
	Address string `json:"address" validate:"required,evmaddr"`
	Goal    string `json:"goalWei" validate:"omitempty,uintstr"`
}

func TestDecodeJSONValidatesFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"owner":"0x123","address":"0x0000000000000000000000000000000000000001","goalWei":"-1"}`))
	rec := httptest.NewRecorder()

	var body attachBody
	ok := DecodeJSON(rec, req, &body)

	require.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"owner":"must be a 0x-prefixed 20 byte address"`)
	assert.Contains(t, rec.Body.String(), `"goalWei"`)
	assert.NotContains(t, rec.Body.String(), `"address"`)
}

func TestDecodeJSONRejectsEmptyAndUnknown(t *testing.T) {
	for _, payload := range []string{"", "   ", `{"owner":"x","extra":1}`, `{`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
		rec := httptest.NewRecorder()
		var body attachBody
		assert.False(t, DecodeJSON(rec, req, &body), payload)
		assert.Equal(t, http.StatusBadRequest, rec.Code, payload)
	}
}

func TestReadAllWithLimit(t *testing.T) {
	data, truncated, err := ReadAllWithLimit(strings.NewReader("abcdef"), 4)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Equal(t, "abcd", string(data))

	_, err = ReadAllStrict(strings.NewReader("abcdef"), 4)
	assert.Error(t, err)
}

func TestIsAddressAndParseUint(t *testing.T) {
	assert.True(t, IsAddress("0xF242275d3a6527d877f2c927a82D9b057609cc71"))
	assert.False(t, IsAddress("F242275d3a6527d877f2c927a82D9b057609cc71"))
	assert.False(t, IsAddress("0xzz42275d3a6527d877f2c927a82D9b057609cc71"))
	assert.False(t, IsAddress("0x1234"))

	n, ok := ParseUint("31750000")
	require.True(t, ok)
	assert.Equal(t, int64(31750000), n.Int64())
	_, ok = ParseUint("1e6")
	assert.False(t, ok)
	_, ok = ParseUint("")
	assert.False(t, ok)

	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	n, ok = ParseUint(maxUint256.String())
	require.True(t, ok)
	assert.Equal(t, maxUint256.String(), n.String())
	_, ok = ParseUint(new(big.Int).Add(maxUint256, big.NewInt(1)).String())
	assert.False(t, ok)
}

func TestIntegerRulesStayInUint256(t *testing.T) {
	type body struct {
		Goal   string `json:"goalWei" validate:"uintstr"`
		Shares string `json:"shares" validate:"posint"`
	}
	overflow := new(big.Int).Lsh(big.NewInt(1), 256).String()

	assert.Empty(t, ValidateStruct(body{Goal: "0", Shares: "1"}))
	details := ValidateStruct(body{Goal: overflow, Shares: overflow})
	assert.Contains(t, details, "goalWei")
	assert.Contains(t, details, "shares")
	assert.Contains(t, ValidateStruct(body{Goal: "1", Shares: "0"}), "shares")
}

func TestServiceClientAttachesToken(t *testing.T) {
	secret := []byte("s3cret")
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(serviceauth.ServiceTokenHeader)
		WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "txHash": "0xabc"})
	}))
	defer srv.Close()

	client := NewServiceClient(ServiceClientConfig{Secret: secret, ServiceID: "ops", BaseURL: srv.URL})
	resp, err := client.Post(context.Background(), "/api/blockchain/execute-payment", map[string]string{"paymentId": "x"})
	require.NoError(t, err)

	var out struct {
		OK     bool   `json:"ok"`
		TxHash string `json:"txHash"`
	}
	require.NoError(t, DecodeResponse(resp, &out))
	assert.True(t, out.OK)
	assert.Equal(t, "0xabc", out.TxHash)

	claims, err := serviceauth.ParseToken(secret, seen)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.ServiceID)
}

func TestDecodeResponseStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusConflict, "Payment already executed")
	}))
	defer srv.Close()

	client := NewServiceClient(ServiceClientConfig{BaseURL: srv.URL})
	resp, err := client.Get(context.Background(), "/")
	require.NoError(t, err)

	err = DecodeResponse(resp, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.StatusCode)
}

func TestWriteServiceErrorShapes(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, errors.PaymentRequired(errors.ReasonInsufficientUSDCAllowance).
		WithDetails("spender", "0x00000000000000000000000000000000000000e0"))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.JSONEq(t, `{"error":"insufficient_usdc_allowance","spender":"0x00000000000000000000000000000000000000e0"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteServiceError(rec, errors.Validation(map[string]string{"owner": "must be an EVM address"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid body","details":{"owner":"must be an EVM address"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteServiceError(rec, errors.Internal("db exploded", nil).WithDetails("dsn", "secret"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}
