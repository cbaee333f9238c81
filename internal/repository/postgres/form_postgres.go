package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"formgate/internal/model"
	"formgate/internal/repository"
)

// FormPostgres is a PostgreSQL implementation of repository.FormRepository.
type FormPostgres struct {
	db *sql.DB
}

// NewFormPostgres creates a new FormPostgres repository.
func NewFormPostgres(db *sql.DB) *FormPostgres {
	return &FormPostgres{db: db}
}

var _ repository.FormRepository = (*FormPostgres)(nil)

// FindByID loads an active form and decodes its field list. Unknown field kinds fail decoding.
func (r *FormPostgres) FindByID(ctx context.Context, id string) (*model.FormSchema, error) {
	const q = `
		SELECT id, title, schema
		FROM forms
		WHERE id = $1 AND active
	`
	var (
		out model.FormSchema
		raw []byte
	)
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&out.FormID, &out.Title, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &out.Fields); err != nil {
		return nil, fmt.Errorf("%w: form %s: %v", repository.ErrInvalidSchema, id, err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%w: form %s: %v", repository.ErrInvalidSchema, id, err)
	}
	return &out, nil
}
