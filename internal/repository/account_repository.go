package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"

    appErrors "github.com/unclebandit/wagateway/internal/errors"
    "github.com/unclebandit/wagateway/internal/model"
)

type AccountRepositoryInterface interface {
    GetByID(ctx context.Context, id int64) (*model.Account, error)
    ApplyUsage(ctx context.Context, debit model.UsageDebit) error
    ResetDaily(ctx context.Context) (int64, error)
    ResetMonthly(ctx context.Context) (int64, error)
}

type AccountRepository struct {
    DB *sql.DB
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*model.Account, error) {
    query := `
        SELECT id, username, daily_limit, monthly_limit, used_today, used_this_month,
               provider_key, proxy_url, session_id, webhook_url, created_at, updated_at
        FROM accounts WHERE id=$1
    `
    var a model.Account
    err := r.DB.QueryRowContext(ctx, query, id).Scan(
        &a.ID, &a.Username, &a.DailyLimit, &a.MonthlyLimit, &a.UsedToday, &a.UsedThisMonth,
        &a.ProviderKey, &a.ProxyURL, &a.SessionID, &a.WebhookURL, &a.CreatedAt, &a.UpdatedAt,
    )
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, appErrors.NewAccountNotFound(id)
        }
        return nil, err
    }
    return &a, nil
}

// ApplyUsage persists a debit on its own, for charges that are not tied to a
// single message update.
func (r *AccountRepository) ApplyUsage(ctx context.Context, debit model.UsageDebit) error {
    if debit.Units <= 0 {
        return nil
    }
    tx, err := r.DB.BeginTx(ctx, nil)
    if err != nil {
        return err
    }
    defer tx.Rollback()

    if err := debitUsage(ctx, tx, debit); err != nil {
        return err
    }
    return tx.Commit()
}

func (r *AccountRepository) ResetDaily(ctx context.Context) (int64, error) {
    res, err := r.DB.ExecContext(ctx, `UPDATE accounts SET used_today=0, updated_at=NOW() WHERE used_today <> 0`)
    if err != nil {
        return 0, err
    }
    return res.RowsAffected()
}

func (r *AccountRepository) ResetMonthly(ctx context.Context) (int64, error) {
    res, err := r.DB.ExecContext(ctx, `UPDATE accounts SET used_this_month=0, updated_at=NOW() WHERE used_this_month <> 0`)
    if err != nil {
        return 0, err
    }
    return res.RowsAffected()
}

type execer interface {
    ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// debitUsage adds units to the account counters, and to the credential when
// one is set, refusing any update that would pass a limit.
func debitUsage(ctx context.Context, ex execer, d model.UsageDebit) error {
    if d.Units <= 0 {
        return nil
    }
    res, err := ex.ExecContext(ctx, `
        UPDATE accounts
        SET used_today = used_today + $1, used_this_month = used_this_month + $1, updated_at = NOW()
        WHERE id = $2 AND used_today + $1 <= daily_limit AND used_this_month + $1 <= monthly_limit
    `, d.Units, d.AccountID)
    if err != nil {
        return fmt.Errorf("debit account %d: %w", d.AccountID, err)
    }
    if n, err := res.RowsAffected(); err != nil {
        return err
    } else if n == 0 {
        return fmt.Errorf("debit account %d: %w", d.AccountID, appErrors.ErrQuotaConflict)
    }

    if d.CredentialID == nil {
        return nil
    }
    res, err = ex.ExecContext(ctx, `
        UPDATE credentials
        SET quota_used = quota_used + $1, last_used_at = NOW()
        WHERE id = $2 AND quota_used + $1 <= quota_limit
    `, d.Units, *d.CredentialID)
    if err != nil {
        return fmt.Errorf("debit credential %d: %w", *d.CredentialID, err)
    }
    if n, err := res.RowsAffected(); err != nil {
        return err
    } else if n == 0 {
        return fmt.Errorf("debit credential %d: %w", *d.CredentialID, appErrors.ErrQuotaConflict)
    }
    return nil
}

var _ AccountRepositoryInterface = (*AccountRepository)(nil)
