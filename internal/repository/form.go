package repository

import (
	"context"

	"formgate/internal/model"
)

// FormRepository reads administrator-defined form schemas.
type FormRepository interface {
	// FindByID returns the active form with the given id, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*model.FormSchema, error)
}
