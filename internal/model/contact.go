// internal/model/contact.go
package model

// Contact is one recipient of a bulk campaign. Message is used only when the
// campaign has no template.
type Contact struct {
    Phone     string   `json:"phone"`
    Name      string   `json:"name"`
    Message   string   `json:"message,omitempty"`
    Variables Bindings `json:"variables,omitempty"`
}
