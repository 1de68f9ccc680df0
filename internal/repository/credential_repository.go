package repository

import (
    "context"
    "database/sql"
    "errors"

    "github.com/lib/pq"

    appErrors "github.com/unclebandit/wagateway/internal/errors"
    "github.com/unclebandit/wagateway/internal/model"
)

type CredentialRepositoryInterface interface {
    GetByID(ctx context.Context, id int64) (*model.Credential, error)
    FindActiveByKey(ctx context.Context, key string) (*model.Credential, error)
    ResetQuota(ctx context.Context) (int64, error)
}

type CredentialRepository struct {
    DB *sql.DB
}

const credentialColumns = `id, account_id, name, key, quota_limit, quota_used, ip_whitelist, is_active, expires_at, last_used_at, created_at`

func scanCredential(row interface{ Scan(...any) error }) (*model.Credential, error) {
    var c model.Credential
    err := row.Scan(
        &c.ID, &c.AccountID, &c.Name, &c.Key, &c.QuotaLimit, &c.QuotaUsed,
        pq.Array(&c.IPWhitelist), &c.IsActive, &c.ExpiresAt, &c.LastUsedAt, &c.CreatedAt,
    )
    if err != nil {
        return nil, err
    }
    return &c, nil
}

func (r *CredentialRepository) GetByID(ctx context.Context, id int64) (*model.Credential, error) {
    row := r.DB.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id=$1`, id)
    c, err := scanCredential(row)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, appErrors.ErrInvalidCredential
    }
    return c, err
}

// FindActiveByKey returns ErrInvalidCredential for unknown or disabled keys.
func (r *CredentialRepository) FindActiveByKey(ctx context.Context, key string) (*model.Credential, error) {
    row := r.DB.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE key=$1 AND is_active=TRUE`, key)
    c, err := scanCredential(row)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, appErrors.ErrInvalidCredential
    }
    return c, err
}

func (r *CredentialRepository) ResetQuota(ctx context.Context) (int64, error) {
    res, err := r.DB.ExecContext(ctx, `UPDATE credentials SET quota_used=0 WHERE quota_used <> 0`)
    if err != nil {
        return 0, err
    }
    return res.RowsAffected()
}

var _ CredentialRepositoryInterface = (*CredentialRepository)(nil)
