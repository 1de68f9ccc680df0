// internal/model/bindings.go
package model

import (
    "database/sql/driver"
    "encoding/json"
    "fmt"
)

// Bindings maps template placeholder names to values. On a Message it holds
// the per-recipient values used to render Content; on a Contact it holds that
// contact's overrides for a campaign.
type Bindings map[string]string

// Merge returns a copy of b with other's entries layered on top.
func (b Bindings) Merge(other Bindings) Bindings {
    out := make(Bindings, len(b)+len(other))
    for k, v := range b {
        out[k] = v
    }
    for k, v := range other {
        out[k] = v
    }
    return out
}

func (b Bindings) Value() (driver.Value, error) {
    if b == nil {
        return nil, nil
    }
    return json.Marshal(b)
}

func (b *Bindings) Scan(src any) error {
    if src == nil {
        *b = nil
        return nil
    }
    var raw []byte
    switch v := src.(type) {
    case []byte:
        raw = v
    case string:
        raw = []byte(v)
    default:
        return fmt.Errorf("bindings: unsupported source type %T", src)
    }
    return json.Unmarshal(raw, b)
}
