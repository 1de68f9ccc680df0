// internal/service/history_service.go
package service

import (
    "context"
    "time"

    appErrors "github.com/unclebandit/wagateway/internal/errors"
    "github.com/unclebandit/wagateway/internal/model"
    "github.com/unclebandit/wagateway/internal/repository"
)

const (
    defaultPageSize = 20
    maxPageSize     = 100
)

type HistoryService struct {
    Messages repository.MessageRepositoryInterface
    Now      func() time.Time
}

type HistoryQuery struct {
    AccountID int64
    Page      int
    Limit     int
    Status    model.MessageStatus
    From      *time.Time
    To        *time.Time
}

type Pagination struct {
    CurrentPage   int `json:"current_page"`
    PageSize      int `json:"page_size"`
    TotalPages    int `json:"total_pages"`
    TotalMessages int `json:"total_messages"`
}

type Stats struct {
    Period    string              `json:"period"`
    Since     time.Time           `json:"since"`
    Total     int                 `json:"total"`
    Breakdown []model.StatusCount `json:"breakdown"`
}

func (s *HistoryService) now() time.Time {
    if s.Now != nil {
        return s.Now().UTC()
    }
    return time.Now().UTC()
}

// GetHistory fetches the account's messages with pagination, newest first.
func (s *HistoryService) GetHistory(ctx context.Context, q HistoryQuery) ([]*model.Message, Pagination, error) {
    page, pageSize := q.Page, q.Limit
    if page < 1 {
        page = 1
    }
    if pageSize < 1 {
        pageSize = defaultPageSize
    }
    if pageSize > maxPageSize {
        pageSize = maxPageSize
    }
    offset := (page - 1) * pageSize

    filter := model.MessageFilter{AccountID: q.AccountID, Status: q.Status, From: q.From, To: q.To}
    messages, total, err := s.Messages.List(ctx, filter, offset, pageSize)
    if err != nil {
        return nil, Pagination{}, err
    }

    return messages, Pagination{
        CurrentPage:   page,
        PageSize:      pageSize,
        TotalPages:    (total + pageSize - 1) / pageSize,
        TotalMessages: total,
    }, nil
}

// periodStart maps daily, weekly and monthly to the start of the window.
// An empty period means monthly.
func periodStart(period string, now time.Time) (time.Time, error) {
    switch period {
    case "daily":
        y, m, d := now.Date()
        return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
    case "weekly":
        return now.AddDate(0, 0, -7), nil
    case "", "monthly":
        return now.AddDate(0, -1, 0), nil
    }
    return time.Time{}, appErrors.ErrInvalidPeriod
}

func (s *HistoryService) GetStats(ctx context.Context, accountID int64, period string) (*Stats, error) {
    since, err := periodStart(period, s.now())
    if err != nil {
        return nil, err
    }
    if period == "" {
        period = "monthly"
    }

    counts, err := s.Messages.CountByStatus(ctx, accountID, since)
    if err != nil {
        return nil, err
    }
    stats := &Stats{Period: period, Since: since, Breakdown: counts}
    for _, c := range counts {
        stats.Total += c.Count
    }
    return stats, nil
}

func (s *HistoryService) GetMessage(ctx context.Context, accountID, id int64) (*model.Message, error) {
    return s.Messages.GetForAccount(ctx, accountID, id)
}

// ApplyReceipt records a provider delivery receipt.
func (s *HistoryService) ApplyReceipt(ctx context.Context, id int64, to model.MessageStatus, at time.Time) (*model.Message, error) {
    msg, err := s.Messages.GetByID(ctx, id)
    if err != nil {
        return nil, err
    }
    if !msg.Status.CanTransition(to) || (to != model.StatusDelivered && to != model.StatusRead) {
        return nil, appErrors.ErrInvalidTransition
    }
    if at.IsZero() {
        at = s.now()
    }
    ok, err := s.Messages.ApplyReceipt(ctx, id, msg.Status, to, at)
    if err != nil {
        return nil, err
    }
    if !ok {
        // someone else moved it first
        return nil, appErrors.ErrInvalidTransition
    }
    return s.Messages.GetByID(ctx, id)
}
