// internal/model/account.go
package model

import "time"

type Account struct {
    ID            int64     `db:"id" json:"id"`
    Username      string    `db:"username" json:"username"`
    DailyLimit    int       `db:"daily_limit" json:"daily_limit"`
    MonthlyLimit  int       `db:"monthly_limit" json:"monthly_limit"`
    UsedToday     int       `db:"used_today" json:"used_today"`
    UsedThisMonth int       `db:"used_this_month" json:"used_this_month"`
    ProviderKey   string    `db:"provider_key" json:"-"`
    ProxyURL      string    `db:"proxy_url" json:"-"`
    SessionID     string    `db:"session_id" json:"-"`
    WebhookURL    string    `db:"webhook_url" json:"webhook_url,omitempty"`
    CreatedAt     time.Time `db:"created_at" json:"created_at"`
    UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// DeliveryCredentials is what a transport channel needs to reach the provider
// on behalf of one account.
type DeliveryCredentials struct {
    ProviderKey string
    ProxyURL    string
    SessionID   string
}

func (a *Account) Credentials() DeliveryCredentials {
    return DeliveryCredentials{
        ProviderKey: a.ProviderKey,
        ProxyURL:    a.ProxyURL,
        SessionID:   a.SessionID,
    }
}

// RemainingToday never goes below zero.
func (a *Account) RemainingToday() int {
    if a.UsedToday >= a.DailyLimit {
        return 0
    }
    return a.DailyLimit - a.UsedToday
}

func (a *Account) RemainingThisMonth() int {
    if a.UsedThisMonth >= a.MonthlyLimit {
        return 0
    }
    return a.MonthlyLimit - a.UsedThisMonth
}

// UsageDebit is a quota charge persisted together with a message outcome.
// CredentialID is set only for requests authenticated by an API key.
type UsageDebit struct {
    AccountID    int64
    CredentialID *int64
    Units        int
}
