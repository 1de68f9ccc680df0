package repository

import (
    "context"
    "database/sql"
    "errors"

    "github.com/lib/pq"

    appErrors "github.com/unclebandit/wagateway/internal/errors"
    "github.com/unclebandit/wagateway/internal/model"
)

type TemplateRepositoryInterface interface {
    GetByID(ctx context.Context, id int64) (*model.Template, error)
}

type TemplateRepository struct {
    DB *sql.DB
}

func (r *TemplateRepository) GetByID(ctx context.Context, id int64) (*model.Template, error) {
    query := `
        SELECT id, created_by, name, category, content, variables, status, created_at, updated_at
        FROM templates WHERE id=$1
    `
    var t model.Template
    err := r.DB.QueryRowContext(ctx, query, id).Scan(
        &t.ID, &t.CreatedBy, &t.Name, &t.Category, &t.Content, pq.Array(&t.Variables),
        &t.Status, &t.CreatedAt, &t.UpdatedAt,
    )
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, appErrors.NewTemplateNotFound(id)
        }
        return nil, err
    }
    return &t, nil
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)
