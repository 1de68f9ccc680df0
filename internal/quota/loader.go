package quota

import (
	"context"
	"fmt"

	"github.com/unclebandit/wagateway/internal/model"
)

const (
	BucketDaily   = "daily"
	BucketMonthly = "monthly"
	BucketAPI     = "api"
)

type AccountReader interface {
	GetByID(ctx context.Context, id int64) (*model.Account, error)
}

type CredentialReader interface {
	GetByID(ctx context.Context, id int64) (*model.Credential, error)
}

// StoreLoader reads usage straight from the account and credential stores.
type StoreLoader struct {
	Accounts    AccountReader
	Credentials CredentialReader
}

func (s StoreLoader) LoadUsage(ctx context.Context, key Key) ([]Bucket, error) {
	switch key.Kind {
	case KindAccount:
		a, err := s.Accounts.GetByID(ctx, key.ID)
		if err != nil {
			return nil, err
		}
		return []Bucket{
			{Name: BucketDaily, Limit: a.DailyLimit, Used: a.UsedToday},
			{Name: BucketMonthly, Limit: a.MonthlyLimit, Used: a.UsedThisMonth},
		}, nil
	case KindCredential:
		c, err := s.Credentials.GetByID(ctx, key.ID)
		if err != nil {
			return nil, err
		}
		return []Bucket{
			{Name: BucketAPI, Limit: c.QuotaLimit, Used: c.QuotaUsed},
		}, nil
	}
	return nil, fmt.Errorf("unknown quota key kind %q", key.Kind)
}
