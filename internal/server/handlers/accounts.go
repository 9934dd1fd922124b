package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/emarzona/backend/internal/actions"
	"github.com/emarzona/backend/internal/models"
	"github.com/emarzona/backend/internal/server/store"
	"github.com/emarzona/backend/internal/uuid"
)

// CreateStoreHandler registers a storefront. Admin only.
type CreateStoreHandler struct {
	now func() time.Time
	ids uuid.Generator
}

// Handle inserts the store; a taken slug is an ErrDuplicate error.
func (h *CreateStoreHandler) Handle(ctx context.Context, tx store.Tx, p actions.CreateStore, actx models.ActionContext) error {
	if err := requireAdmin(actx, models.ActionCreateStore); err != nil {
		return err
	}
	return tx.InsertStore(ctx, &models.Store{
		ID:        h.ids.NewID(),
		Name:      p.Name,
		Slug:      strings.ToLower(p.Slug),
		OwnerID:   p.OwnerID,
		CreatedAt: h.now().UTC(),
	})
}

// CreateUserHandler registers an account. Admin only.
type CreateUserHandler struct {
	now func() time.Time
	ids uuid.Generator
}

// Handle inserts the user; a taken email is an ErrDuplicate error.
func (h *CreateUserHandler) Handle(ctx context.Context, tx store.Tx, p actions.CreateUser, actx models.ActionContext) error {
	if err := requireAdmin(actx, models.ActionCreateUser); err != nil {
		return err
	}
	return tx.InsertUser(ctx, &models.User{
		ID:          h.ids.NewID(),
		Email:       strings.ToLower(p.Email),
		DisplayName: p.DisplayName,
		Role:        p.Role,
		StoreID:     p.StoreID,
		CreatedAt:   h.now().UTC(),
	})
}
