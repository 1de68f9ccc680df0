// internal/model/campaign.go
package model

const (
    ContactSent   = "sent"
    ContactFailed = "failed"
    ContactError  = "error"
)

// ContactResult is the outcome recorded for one contact of a campaign.
type ContactResult struct {
    Phone     string `json:"phone"`
    Status    string `json:"status"`
    MessageID int64  `json:"message_id,omitempty"`
    Error     string `json:"error,omitempty"`
}

type CampaignResult struct {
    CampaignID string          `json:"campaign_id"`
    Total      int             `json:"total"`
    Sent       int             `json:"sent"`
    Failed     int             `json:"failed"`
    Details    []ContactResult `json:"details"`
}
