package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    "github.com/lib/pq"

    appErrors "github.com/unclebandit/wagateway/internal/errors"
    "github.com/unclebandit/wagateway/internal/model"
)

type MessageRepositoryInterface interface {
    Create(ctx context.Context, m *model.Message) error
    GetByID(ctx context.Context, id int64) (*model.Message, error)
    GetForAccount(ctx context.Context, accountID, id int64) (*model.Message, error)
    Finalize(ctx context.Context, m *model.Message, debit model.UsageDebit) error
    MarkWebhookNotified(ctx context.Context, id int64, at time.Time) error
    List(ctx context.Context, f model.MessageFilter, offset, limit int) ([]*model.Message, int, error)
    CountByStatus(ctx context.Context, accountID int64, since time.Time) ([]model.StatusCount, error)
    ClaimDueScheduled(ctx context.Context, now time.Time, limit int) ([]int64, error)
    RequeueScheduled(ctx context.Context, ids []int64) error
    FailStaleScheduled(ctx context.Context, cutoff time.Time, reason string) (int64, error)
    ApplyReceipt(ctx context.Context, id int64, from, to model.MessageStatus, at time.Time) (bool, error)
}

type MessageRepository struct {
    DB *sql.DB
}

const messageColumns = `id, account_id, credential_id, recipient_phone, recipient_name, content, template_id,
    variables, method, status, scheduled_for, sent_at, delivered_at, read_at, failure_reason, cost,
    campaign_id, webhook_notified, webhook_notified_at, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
    var m model.Message
    err := row.Scan(
        &m.ID, &m.AccountID, &m.CredentialID, &m.Recipient.Phone, &m.Recipient.Name, &m.Content, &m.TemplateID,
        &m.Variables, &m.Method, &m.Status, &m.ScheduledFor, &m.SentAt, &m.DeliveredAt, &m.ReadAt,
        &m.FailureReason, &m.Cost, &m.CampaignID, &m.WebhookNotified, &m.WebhookNotifiedAt,
        &m.CreatedAt, &m.UpdatedAt,
    )
    if err != nil {
        return nil, err
    }
    return &m, nil
}

// Create inserts a new message and fills its id and timestamps.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
    if m.Cost == 0 {
        m.Cost = model.DefaultCost
    }
    query := `
        INSERT INTO messages
        (account_id, credential_id, recipient_phone, recipient_name, content, template_id, variables,
         method, status, scheduled_for, failure_reason, cost, campaign_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
        RETURNING id, created_at, updated_at
    `
    return r.DB.QueryRowContext(ctx, query,
        m.AccountID, m.CredentialID, m.Recipient.Phone, m.Recipient.Name, m.Content, m.TemplateID, m.Variables,
        m.Method, m.Status, m.ScheduledFor, m.FailureReason, m.Cost, m.CampaignID,
    ).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*model.Message, error) {
    m, err := scanMessage(r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id))
    if errors.Is(err, sql.ErrNoRows) {
        return nil, appErrors.NewMessageNotFound(id)
    }
    return m, err
}

// GetForAccount hides messages of other accounts behind MessageNotFound.
func (r *MessageRepository) GetForAccount(ctx context.Context, accountID, id int64) (*model.Message, error) {
    m, err := scanMessage(r.DB.QueryRowContext(ctx,
        `SELECT `+messageColumns+` FROM messages WHERE id=$1 AND account_id=$2`, id, accountID))
    if errors.Is(err, sql.ErrNoRows) {
        return nil, appErrors.NewMessageNotFound(id)
    }
    return m, err
}

// Finalize stores the outcome of a send attempt and the matching quota debit
// in one transaction.
func (r *MessageRepository) Finalize(ctx context.Context, m *model.Message, debit model.UsageDebit) error {
    tx, err := r.DB.BeginTx(ctx, nil)
    if err != nil {
        return err
    }
    defer tx.Rollback()

    res, err := tx.ExecContext(ctx, `
        UPDATE messages
        SET status=$1, sent_at=$2, failure_reason=$3, content=$4, updated_at=NOW()
        WHERE id=$5
    `, m.Status, m.SentAt, m.FailureReason, m.Content, m.ID)
    if err != nil {
        return err
    }
    if n, err := res.RowsAffected(); err != nil {
        return err
    } else if n == 0 {
        return appErrors.NewMessageNotFound(m.ID)
    }

    if err := debitUsage(ctx, tx, debit); err != nil {
        return err
    }
    return tx.Commit()
}

func (r *MessageRepository) MarkWebhookNotified(ctx context.Context, id int64, at time.Time) error {
    _, err := r.DB.ExecContext(ctx,
        `UPDATE messages SET webhook_notified=TRUE, webhook_notified_at=$1, updated_at=NOW() WHERE id=$2`, at, id)
    return err
}

func buildFilter(f model.MessageFilter) (string, []any) {
    where := ` WHERE account_id=$1`
    args := []any{f.AccountID}
    argPos := 2

    if f.Status != "" {
        where += fmt.Sprintf(" AND status=$%d", argPos)
        args = append(args, f.Status)
        argPos++
    }
    if f.From != nil {
        where += fmt.Sprintf(" AND created_at >= $%d", argPos)
        args = append(args, *f.From)
        argPos++
    }
    if f.To != nil {
        where += fmt.Sprintf(" AND created_at <= $%d", argPos)
        args = append(args, *f.To)
    }
    return where, args
}

// List returns one page of the account's messages, newest first, and the
// total number of matching messages.
func (r *MessageRepository) List(ctx context.Context, f model.MessageFilter, offset, limit int) ([]*model.Message, int, error) {
    where, args := buildFilter(f)

    query := `SELECT ` + messageColumns + ` FROM messages` + where +
        fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)

    rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
    if err != nil {
        return nil, 0, err
    }
    defer rows.Close()

    messages := []*model.Message{}
    for rows.Next() {
        m, err := scanMessage(rows)
        if err != nil {
            return nil, 0, err
        }
        messages = append(messages, m)
    }
    if err := rows.Err(); err != nil {
        return nil, 0, err
    }

    var total int
    if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`+where, args...).Scan(&total); err != nil {
        return nil, 0, err
    }
    return messages, total, nil
}

func (r *MessageRepository) CountByStatus(ctx context.Context, accountID int64, since time.Time) ([]model.StatusCount, error) {
    rows, err := r.DB.QueryContext(ctx, `
        SELECT status, COUNT(*) FROM messages
        WHERE account_id=$1 AND created_at >= $2
        GROUP BY status ORDER BY status
    `, accountID, since)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    out := []model.StatusCount{}
    for rows.Next() {
        var sc model.StatusCount
        if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
            return nil, err
        }
        out = append(out, sc)
    }
    return out, rows.Err()
}

// ClaimDueScheduled moves due scheduled messages to pending and returns their
// ids. Rows locked by a concurrent claim are skipped.
func (r *MessageRepository) ClaimDueScheduled(ctx context.Context, now time.Time, limit int) ([]int64, error) {
    rows, err := r.DB.QueryContext(ctx, `
        UPDATE messages SET status='pending', updated_at=NOW()
        WHERE id IN (
            SELECT id FROM messages
            WHERE status='scheduled' AND scheduled_for <= $1
            ORDER BY scheduled_for
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id
    `, now, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    var ids []int64
    for rows.Next() {
        var id int64
        if err := rows.Scan(&id); err != nil {
            return nil, err
        }
        ids = append(ids, id)
    }
    return ids, rows.Err()
}

// RequeueScheduled hands claimed messages back to the poller.
func (r *MessageRepository) RequeueScheduled(ctx context.Context, ids []int64) error {
    if len(ids) == 0 {
        return nil
    }
    _, err := r.DB.ExecContext(ctx,
        `UPDATE messages SET status='scheduled', updated_at=NOW() WHERE id = ANY($1) AND status='pending'`,
        pq.Array(ids))
    return err
}

// FailStaleScheduled fails scheduled messages that were claimed but never
// finalized before cutoff, so a lost job cannot leave them pending.
func (r *MessageRepository) FailStaleScheduled(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
    res, err := r.DB.ExecContext(ctx, `
        UPDATE messages SET status='failed', failure_reason=$1, updated_at=NOW()
        WHERE status='pending' AND scheduled_for IS NOT NULL AND updated_at < $2
    `, reason, cutoff)
    if err != nil {
        return 0, err
    }
    return res.RowsAffected()
}

// ApplyReceipt moves a message from one status to another only if it is
// still in from. It reports whether the row changed.
func (r *MessageRepository) ApplyReceipt(ctx context.Context, id int64, from, to model.MessageStatus, at time.Time) (bool, error) {
    var column string
    switch to {
    case model.StatusDelivered:
        column = "delivered_at"
    case model.StatusRead:
        column = "read_at"
    default:
        return false, appErrors.ErrInvalidTransition
    }
    res, err := r.DB.ExecContext(ctx,
        `UPDATE messages SET status=$1, `+column+`=$2, updated_at=NOW() WHERE id=$3 AND status=$4`,
        to, at, id, from)
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    return n == 1, err
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
