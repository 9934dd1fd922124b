package actions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/models"
)

func TestDecode_everyActionType(t *testing.T) {
	tests := []struct {
		actionType models.ActionType
		raw        string
		want       Payload
	}{
		{
			models.ActionAddToCart,
			`{"product_id":"P1","quantity":2}`,
			AddToCart{ProductID: "P1", Quantity: 2},
		},
		{
			models.ActionCreateOrder,
			`{"items":[{"product_id":"P1","quantity":1}],"notes":"leave at door"}`,
			CreateOrder{Items: []OrderLine{{ProductID: "P1", Quantity: 1}}, Notes: "leave at door"},
		},
		{
			models.ActionCreateStore,
			`{"name":"Shop","slug":"shop","owner_id":"u1"}`,
			CreateStore{Name: "Shop", Slug: "shop", OwnerID: "u1"},
		},
		{
			models.ActionCreateUser,
			`{"email":"a@b.co","role":"seller","store_id":"S1"}`,
			CreateUser{Email: "a@b.co", Role: models.RoleSeller, StoreID: "S1"},
		},
	}

	for _, tc := range tests {
		t.Run(string(tc.actionType), func(t *testing.T) {
			p, err := DecodeAndValidate(tc.actionType, json.RawMessage(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, p)
			assert.Equal(t, tc.actionType, p.ActionType())
		})
	}
}

func TestDecode_coversAllKnownTypes(t *testing.T) {
	for _, at := range models.ActionTypes {
		_, err := Decode(at, json.RawMessage(`{}`))
		assert.False(t, errors.Is(err, errors.ErrUnknownAction), "%s should be decodable", at)
	}
}

func TestDecode_unknownType(t *testing.T) {
	_, err := Decode("refund_order", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownAction))
}

func TestDecode_missingOrMalformedPayload(t *testing.T) {
	for _, raw := range []string{``, `null`, `{"product_id":`, `[1,2]`} {
		_, err := Decode(models.ActionAddToCart, json.RawMessage(raw))
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, errors.ErrValidation), raw)
	}
}

func TestValidate_rejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name       string
		actionType models.ActionType
		raw        string
	}{
		{"zero quantity", models.ActionAddToCart, `{"product_id":"P1","quantity":0}`},
		{"missing product", models.ActionAddToCart, `{"quantity":1}`},
		{"empty order", models.ActionCreateOrder, `{"items":[]}`},
		{"bad order line", models.ActionCreateOrder, `{"items":[{"product_id":"P1","quantity":-1}]}`},
		{"update without fields", models.ActionUpdateProduct, `{"product_id":"P1"}`},
		{"negative price", models.ActionUpdateProduct, `{"product_id":"P1","price_cents":-5}`},
		{"absurd price", models.ActionUpdateProduct, `{"product_id":"P1","price_cents":9223372036854775807}`},
		{"bad email", models.ActionCreateUser, `{"email":"nope","role":"seller"}`},
		{"bad role", models.ActionCreateUser, `{"email":"a@b.co","role":"root"}`},
		{"bad slug", models.ActionCreateStore, `{"name":"Shop","slug":"no spaces!","owner_id":"u1"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeAndValidate(tc.actionType, json.RawMessage(tc.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrValidation), err.Error())
		})
	}
}

func TestUpdateProduct_partialFields(t *testing.T) {
	p, err := DecodeAndValidate(models.ActionUpdateProduct, json.RawMessage(`{"product_id":"P1","stock":0}`))
	require.NoError(t, err)

	up := p.(UpdateProduct)
	require.NotNil(t, up.Stock)
	assert.Equal(t, 0, *up.Stock)
	assert.Nil(t, up.Name)
	assert.Nil(t, up.PriceCents)
}

func TestEncode_roundTripsThroughDecode(t *testing.T) {
	in := AddToCart{ProductID: "P1", Quantity: 2}

	at, raw, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, models.ActionAddToCart, at)
	assert.JSONEq(t, `{"product_id":"P1","quantity":2}`, string(raw))

	out, err := Decode(at, raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, _, err = Encode(nil)
	assert.True(t, errors.Is(err, errors.ErrInvalid))
}
