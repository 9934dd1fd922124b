// Package actions defines the typed payload for every queued action type.
//
// Payload is a closed union: the only implementations are the structs in
// this package, and Decode switches over models.ActionType exhaustively.
package actions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/models"
)

var validate = validator.New()

// Payload is the typed body of a queued action.
type Payload interface {
	ActionType() models.ActionType
	Validate() error
	isPayload()
}

// OrderLine is one product line of a CreateOrder.
type OrderLine struct {
	ProductID string `json:"product_id" validate:"required,max=128"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=10000"`
}

// CreateOrder places an order for the caller.
type CreateOrder struct {
	Items           []OrderLine `json:"items" validate:"required,min=1,max=100,dive"`
	ShippingAddress string      `json:"shipping_address,omitempty" validate:"max=1000"`
	Notes           string      `json:"notes,omitempty" validate:"max=1000"`
}

// UpdateProduct patches a product. Nil fields are left unchanged.
type UpdateProduct struct {
	ProductID  string  `json:"product_id" validate:"required,max=128"`
	Name       *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	PriceCents *int64  `json:"price_cents,omitempty" validate:"omitempty,min=0,max=1000000000000"`
	Stock      *int    `json:"stock,omitempty" validate:"omitempty,min=0"`
	IsActive   *bool   `json:"is_active,omitempty"`
}

// AddToCart puts a product into the caller's cart.
type AddToCart struct {
	ProductID string `json:"product_id" validate:"required,max=128"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=10000"`
}

// CreateStore registers a new storefront.
type CreateStore struct {
	Name    string `json:"name" validate:"required,max=255"`
	Slug    string `json:"slug" validate:"required,max=64,hostname_rfc1123"`
	OwnerID string `json:"owner_id" validate:"required,max=128"`
}

// CreateUser registers a new platform account.
type CreateUser struct {
	Email       string      `json:"email" validate:"required,email,max=255"`
	DisplayName string      `json:"display_name,omitempty" validate:"max=255"`
	Role        models.Role `json:"role" validate:"required,oneof=admin seller customer"`
	StoreID     string      `json:"store_id,omitempty" validate:"max=128"`
}

func (CreateOrder) ActionType() models.ActionType   { return models.ActionCreateOrder }
func (UpdateProduct) ActionType() models.ActionType { return models.ActionUpdateProduct }
func (AddToCart) ActionType() models.ActionType     { return models.ActionAddToCart }
func (CreateStore) ActionType() models.ActionType   { return models.ActionCreateStore }
func (CreateUser) ActionType() models.ActionType    { return models.ActionCreateUser }

func (CreateOrder) isPayload()   {}
func (UpdateProduct) isPayload() {}
func (AddToCart) isPayload()     {}
func (CreateStore) isPayload()   {}
func (CreateUser) isPayload()    {}

func (p CreateOrder) Validate() error { return structErr(p) }
func (p AddToCart) Validate() error   { return structErr(p) }
func (p CreateStore) Validate() error { return structErr(p) }
func (p CreateUser) Validate() error  { return structErr(p) }

// Validate requires at least one field to change.
func (p UpdateProduct) Validate() error {
	if err := structErr(p); err != nil {
		return err
	}
	if p.Name == nil && p.PriceCents == nil && p.Stock == nil && p.IsActive == nil {
		return errors.New(errors.ErrValidation, "update_product: no fields to update")
	}
	return nil
}

// Decode parses raw into the payload struct for actionType.
func Decode(actionType models.ActionType, raw json.RawMessage) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.Newf(errors.ErrValidation, "%s: payload is required", actionType)
	}

	switch actionType {
	case models.ActionCreateOrder:
		return decodeInto[CreateOrder](actionType, trimmed)
	case models.ActionUpdateProduct:
		return decodeInto[UpdateProduct](actionType, trimmed)
	case models.ActionAddToCart:
		return decodeInto[AddToCart](actionType, trimmed)
	case models.ActionCreateStore:
		return decodeInto[CreateStore](actionType, trimmed)
	case models.ActionCreateUser:
		return decodeInto[CreateUser](actionType, trimmed)
	default:
		return nil, errors.Newf(errors.ErrUnknownAction, "unknown action type %q", actionType)
	}
}

// DecodeAndValidate decodes raw and validates the result.
func DecodeAndValidate(actionType models.ActionType, raw json.RawMessage) (Payload, error) {
	p, err := Decode(actionType, raw)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Encode returns the action type and JSON body of p.
func Encode(p Payload) (models.ActionType, json.RawMessage, error) {
	if p == nil {
		return "", nil, errors.New(errors.ErrInvalid, "payload is nil")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", nil, errors.Wrap(errors.ErrInvalid, "encode payload", err)
	}
	return p.ActionType(), b, nil
}

func decodeInto[T Payload](actionType models.ActionType, raw []byte) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(errors.ErrValidation, fmt.Sprintf("%s: malformed payload", actionType), err)
	}
	return p, nil
}

func structErr(p Payload) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if ok := asValidationErrors(err, &verrs); !ok {
		return errors.Wrap(errors.ErrValidation, string(p.ActionType()), err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return errors.Newf(errors.ErrValidation, "%s: %s", p.ActionType(), strings.Join(fields, "; "))
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	v, ok := err.(validator.ValidationErrors)
	if ok {
		*target = v
	}
	return ok
}
