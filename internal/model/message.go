// internal/model/message.go
package model

import "time"

type MessageStatus string

const (
    StatusPending   MessageStatus = "pending"
    StatusScheduled MessageStatus = "scheduled"
    StatusSent      MessageStatus = "sent"
    StatusDelivered MessageStatus = "delivered"
    StatusRead      MessageStatus = "read"
    StatusFailed    MessageStatus = "failed"
)

var transitions = map[MessageStatus][]MessageStatus{
    StatusPending:   {StatusScheduled, StatusSent, StatusFailed},
    StatusScheduled: {StatusPending, StatusSent, StatusFailed},
    StatusSent:      {StatusDelivered, StatusRead},
    StatusDelivered: {StatusRead},
}

// CanTransition reports whether a message in status s may move to next.
// delivered and read are only reached through provider receipts.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
    for _, allowed := range transitions[s] {
        if allowed == next {
            return true
        }
    }
    return false
}

func (s MessageStatus) Valid() bool {
    switch s {
    case StatusPending, StatusScheduled, StatusSent, StatusDelivered, StatusRead, StatusFailed:
        return true
    }
    return false
}

type Method string

const (
    MethodPersonal Method = "personal"
    MethodAPI      Method = "api"
    MethodBulk     Method = "bulk"
)

type Recipient struct {
    Phone string `json:"phone"`
    Name  string `json:"name,omitempty"`
}

// Message is one recipient of one send attempt.
type Message struct {
    ID                int64         `db:"id" json:"id"`
    AccountID         int64         `db:"account_id" json:"account_id"`
    CredentialID      *int64        `db:"credential_id" json:"credential_id,omitempty"`
    Recipient         Recipient     `json:"recipient"`
    Content           string        `db:"content" json:"content"`
    TemplateID        *int64        `db:"template_id" json:"template_id,omitempty"`
    Variables         Bindings      `db:"variables" json:"variables,omitempty"`
    Method            Method        `db:"method" json:"method"`
    Status            MessageStatus `db:"status" json:"status"`
    ScheduledFor      *time.Time    `db:"scheduled_for" json:"scheduled_for,omitempty"`
    SentAt            *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
    DeliveredAt       *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
    ReadAt            *time.Time    `db:"read_at" json:"read_at,omitempty"`
    FailureReason     string        `db:"failure_reason" json:"failure_reason,omitempty"`
    Cost              int           `db:"cost" json:"cost"`
    CampaignID        string        `db:"campaign_id" json:"campaign_id,omitempty"`
    WebhookNotified   bool          `db:"webhook_notified" json:"webhook_notified"`
    WebhookNotifiedAt *time.Time    `db:"webhook_notified_at" json:"webhook_notified_at,omitempty"`
    CreatedAt         time.Time     `db:"created_at" json:"created_at"`
    UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// DefaultCost is the quota units charged for one message.
const DefaultCost = 1

func (m *Message) MarkSent(at time.Time) {
    m.Status = StatusSent
    m.SentAt = &at
    m.FailureReason = ""
}

func (m *Message) MarkFailed(reason string) {
    m.Status = StatusFailed
    m.FailureReason = reason
}

// MessageFilter narrows history queries to one account.
type MessageFilter struct {
    AccountID int64
    Status    MessageStatus
    From      *time.Time
    To        *time.Time
}

type StatusCount struct {
    Status MessageStatus `json:"status"`
    Count  int           `json:"count"`
}
