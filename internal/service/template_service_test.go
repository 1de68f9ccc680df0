package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/wagateway/internal/errors"
	"github.com/unclebandit/wagateway/internal/model"
)

func TestRender_MissingBindingBecomesEmpty(t *testing.T) {
	r := Renderer{}
	out := r.Render(
		"Hi {{name}}, your order {{order_id}} shipped",
		[]string{"name", "order_id"},
		model.Bindings{"name": "Ana"},
	)
	assert.Equal(t, "Hi Ana, your order  shipped", out)
}

func TestRender_FirstOccurrenceOnly(t *testing.T) {
	r := Renderer{}
	out := r.Render("{{x}} and {{x}}", []string{"x"}, model.Bindings{"x": "1"})
	assert.Equal(t, "1 and {{x}}", out)
}

func TestRender_ReplaceAll(t *testing.T) {
	r := Renderer{ReplaceAll: true}
	out := r.Render("{{x}} and {{x}}", []string{"x"}, model.Bindings{"x": "1"})
	assert.Equal(t, "1 and 1", out)
}

func TestRender_UndeclaredTokensKept(t *testing.T) {
	r := Renderer{}
	out := r.Render("Hello {{name}} {{unknown}}", []string{"name"}, model.Bindings{"name": "Bo", "unknown": "x"})
	assert.Equal(t, "Hello Bo {{unknown}}", out)
}

func TestRender_Idempotent(t *testing.T) {
	r := Renderer{}
	b := model.Bindings{"a": "1", "b": "2"}
	first := r.Render("{{a}}-{{b}}-{{c}}", []string{"a", "b", "c"}, b)
	second := r.Render("{{a}}-{{b}}-{{c}}", []string{"a", "b", "c"}, b)
	assert.Equal(t, first, second)
	assert.Equal(t, "1-2-", first)
}

func TestRenderTemplate_Invalid(t *testing.T) {
	r := Renderer{}

	_, err := r.RenderTemplate(nil, nil)
	var invalid *appErrors.InvalidTemplateError
	require.True(t, errors.As(err, &invalid))

	_, err = r.RenderTemplate(&model.Template{ID: 1}, nil)
	require.True(t, errors.As(err, &invalid))
}

func TestRenderTemplate_UsesDeclaredVariables(t *testing.T) {
	r := Renderer{}
	tmpl := &model.Template{ID: 3, Content: "Code {{code}}", Variables: []string{"code"}}
	out, err := r.RenderTemplate(tmpl, model.Bindings{"code": "9911"})
	require.NoError(t, err)
	assert.Equal(t, "Code 9911", out)
}
