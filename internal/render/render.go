// Package render personalizes campaign content with Liquid templates.
package render

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
)

// Content is a rendered message.
type Content struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer compiles and caches templates.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// New creates a Renderer with the merge-field filters registered.
func New() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ first_name | fallback: "there" }}
	r.engine.RegisterFilter("fallback", func(value any, def string) any {
		if value == nil {
			return def
		}
		if s := strings.TrimSpace(fmt.Sprintf("%v", value)); s == "" || s == "<nil>" {
			return def
		}
		return value
	})
	r.engine.RegisterFilter("titlecase", func(s string) string {
		words := strings.Fields(strings.ToLower(s))
		for i, w := range words {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
		return strings.Join(words, " ")
	})
	r.engine.RegisterFilter("urlencode", url.QueryEscape)
	r.engine.RegisterFilter("escape_html", html.EscapeString)
}

// Validate reports template syntax errors.
func (r *Renderer) Validate(tpl string) error {
	if _, err := r.engine.ParseString(tpl); err != nil {
		return err
	}
	return nil
}

// Render renders tpl with vars. A non-empty key caches the compiled
// template; callers must use a distinct key per template text.
func (r *Renderer) Render(key, tpl string, vars map[string]any) (string, error) {
	if !strings.Contains(tpl, "{{") && !strings.Contains(tpl, "{%") {
		return tpl, nil
	}
	var t *liquid.Template
	if key != "" {
		if cached, ok := r.cache.Load(key); ok {
			t = cached.(*liquid.Template)
		}
	}
	if t == nil {
		parsed, err := r.engine.ParseString(tpl)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		t = parsed
		if key != "" {
			r.cache.Store(key, t)
		}
	}
	out, err := t.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// RenderContent renders subject, HTML and text of one campaign step.
func (r *Renderer) RenderContent(cacheKey string, c Content, vars map[string]any) (Content, error) {
	var out Content
	var err error
	if out.Subject, err = r.Render(keyFor(cacheKey, "subject"), c.Subject, vars); err != nil {
		return Content{}, fmt.Errorf("subject: %w", err)
	}
	if out.HTML, err = r.Render(keyFor(cacheKey, "html"), c.HTML, vars); err != nil {
		return Content{}, fmt.Errorf("html: %w", err)
	}
	if out.Text, err = r.Render(keyFor(cacheKey, "text"), c.Text, vars); err != nil {
		return Content{}, fmt.Errorf("text: %w", err)
	}
	return out, nil
}

func keyFor(prefix, part string) string {
	if prefix == "" {
		return ""
	}
	return prefix + ":" + part
}

// Vars builds the merge fields for a lead and the account mailing it.
// Each field is available in snake_case and camelCase.
func Vars(l *domain.Lead, a *domain.SendingAccount, unsubscribeURL string) map[string]any {
	v := map[string]any{}
	set := func(snake, camel string, val string) {
		v[snake] = val
		v[camel] = val
	}
	if l != nil {
		set("first_name", "firstName", l.FirstName)
		set("last_name", "lastName", l.LastName)
		set("company", "company", l.Company)
		set("email", "email", l.Email)
	}
	if a != nil {
		set("sender_name", "senderName", a.DisplayName)
		set("sender_email", "senderEmail", a.Email)
	}
	set("unsubscribe_url", "unsubscribeUrl", unsubscribeURL)
	return v
}
