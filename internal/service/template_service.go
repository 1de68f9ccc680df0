// internal/service/template_service.go
package service

import (
    "strings"

    appErrors "github.com/unclebandit/wagateway/internal/errors"
    "github.com/unclebandit/wagateway/internal/model"
)

// Renderer substitutes {{name}} placeholders. By default only the first
// remaining occurrence of each declared token is replaced; ReplaceAll
// replaces every occurrence.
type Renderer struct {
    ReplaceAll bool
}

// Render walks the declared variables in order. Missing bindings become the
// empty string and undeclared tokens are left untouched.
func (r Renderer) Render(content string, variables []string, b model.Bindings) string {
    n := 1
    if r.ReplaceAll {
        n = -1
    }
    result := content
    for _, name := range variables {
        result = strings.Replace(result, "{{"+name+"}}", b[name], n)
    }
    return result
}

func (r Renderer) RenderTemplate(t *model.Template, b model.Bindings) (string, error) {
    if t == nil {
        return "", appErrors.NewInvalidTemplate("template is nil")
    }
    if t.Content == "" {
        return "", appErrors.NewInvalidTemplate("template has no content")
    }
    return r.Render(t.Content, t.Variables, b), nil
}
