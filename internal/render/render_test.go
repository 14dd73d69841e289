package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
)

func TestRenderContent(t *testing.T) {
	r := New()
	lead := &domain.Lead{FirstName: "jo", Company: "Acme", Email: "jo@acme.com"}
	acct := &domain.SendingAccount{DisplayName: "Sam", Email: "sam@sender.com"}
	vars := Vars(lead, acct, "https://u.example.com/x")

	c, err := r.RenderContent("camp-1:0", Content{
		Subject: "Question for {{ company }}",
		HTML:    "<p>Hi {{ first_name | titlecase }},</p><p>{{ senderName }}</p>",
		Text:    "plain, no fields",
	}, vars)
	require.NoError(t, err)
	assert.Equal(t, "Question for Acme", c.Subject)
	assert.Equal(t, "<p>Hi Jo,</p><p>Sam</p>", c.HTML)
	assert.Equal(t, "plain, no fields", c.Text)
}

func TestRenderFallback(t *testing.T) {
	out, err := New().Render("", `Hi {{ first_name | fallback: "there" }}`, Vars(&domain.Lead{}, nil, ""))
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out)
}

func TestRenderCachesByKey(t *testing.T) {
	r := New()
	_, err := r.Render("k", "{{ company }}", map[string]any{"company": "A"})
	require.NoError(t, err)
	// same key reuses the compiled template
	out, err := r.Render("k", "ignored {{ email }}", map[string]any{"company": "B"})
	require.NoError(t, err)
	assert.Equal(t, "B", out)
}

func TestRenderSyntaxError(t *testing.T) {
	r := New()
	_, err := r.Render("", "{% if x %}never closed", nil)
	assert.Error(t, err)
	assert.Error(t, r.Validate("{% for x in y %}"))
	assert.NoError(t, r.Validate("{{ first_name }}"))
}
