// internal/model/credential.go
package model

import "time"

// Credential is an API key scoped to an account.
type Credential struct {
    ID          int64      `db:"id" json:"id"`
    AccountID   int64      `db:"account_id" json:"account_id"`
    Name        string     `db:"name" json:"name"`
    Key         string     `db:"key" json:"-"`
    QuotaLimit  int        `db:"quota_limit" json:"quota_limit"`
    QuotaUsed   int        `db:"quota_used" json:"quota_used"`
    IPWhitelist []string   `db:"ip_whitelist" json:"ip_whitelist"`
    IsActive    bool       `db:"is_active" json:"is_active"`
    ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
    LastUsedAt  *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
    CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

func (c *Credential) Expired(now time.Time) bool {
    return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// AllowsIP reports whether ip may use this credential. An empty whitelist
// means unrestricted.
func (c *Credential) AllowsIP(ip string) bool {
    if len(c.IPWhitelist) == 0 {
        return true
    }
    for _, allowed := range c.IPWhitelist {
        if allowed == ip {
            return true
        }
    }
    return false
}

func (c *Credential) QuotaAvailable() bool {
    return c.QuotaUsed < c.QuotaLimit
}
