// internal/model/template.go
package model

import "time"

const (
    TemplateStatusActive          = "active"
    TemplateStatusInactive        = "inactive"
    TemplateStatusPendingApproval = "pending_approval"
)

// Template is a reusable message body. Content holds {{name}} placeholders and
// Variables lists the declared placeholder names in substitution order.
type Template struct {
    ID        int64     `db:"id" json:"id"`
    CreatedBy int64     `db:"created_by" json:"created_by"`
    Name      string    `db:"name" json:"name"`
    Category  string    `db:"category" json:"category"`
    Content   string    `db:"content" json:"content"`
    Variables []string  `db:"variables" json:"variables"`
    Status    string    `db:"status" json:"status"`
    CreatedAt time.Time `db:"created_at" json:"created_at"`
    UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (t *Template) Usable() bool {
    return t.Status == "" || t.Status == TemplateStatusActive
}
