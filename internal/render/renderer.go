// Package render produces per-recipient message bodies from stored
// templates using the Liquid template language.
package render

import (
	"context"
	"fmt"
	"sync"

	"github.com/osteele/liquid"
)

// Message is a rendered, ready-to-send email.
type Message struct {
	Subject string
	HTML    string
	Text    string

	// Headers carries extra SMTP headers (List-Unsubscribe and friends).
	Headers map[string]string
}

// Template is the raw template content fetched from storage.
type Template struct {
	ID      string
	Subject string
	HTML    string
	Text    string
}

// TemplateSource is the external template storage collaborator.
type TemplateSource interface {
	GetTemplate(ctx context.Context, tenantID, templateID string) (*Template, error)
}

// Renderer renders a template with per-recipient variables.
type Renderer interface {
	Render(ctx context.Context, tenantID, templateID string, vars map[string]interface{}) (*Message, error)
}

// LiquidRenderer renders Liquid templates with a parse cache keyed by
// template content, so repeated sends of the same campaign parse once.
type LiquidRenderer struct {
	source TemplateSource
	engine *liquid.Engine
	cache  sync.Map // content string → *liquid.Template
}

func NewLiquidRenderer(source TemplateSource) *LiquidRenderer {
	return &LiquidRenderer{source: source, engine: liquid.NewEngine()}
}

func (r *LiquidRenderer) Render(ctx context.Context, tenantID, templateID string, vars map[string]interface{}) (*Message, error) {
	tpl, err := r.source.GetTemplate(ctx, tenantID, templateID)
	if err != nil {
		return nil, fmt.Errorf("fetch template %s: %w", templateID, err)
	}

	subject, err := r.render(tpl.Subject, vars)
	if err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	html, err := r.render(tpl.HTML, vars)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	text, err := r.render(tpl.Text, vars)
	if err != nil {
		return nil, fmt.Errorf("render text: %w", err)
	}

	return &Message{Subject: subject, HTML: html, Text: text, Headers: map[string]string{}}, nil
}

func (r *LiquidRenderer) render(content string, vars map[string]interface{}) (string, error) {
	if content == "" {
		return "", nil
	}
	var tpl *liquid.Template
	if cached, ok := r.cache.Load(content); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(content)
		if err != nil {
			return "", err
		}
		r.cache.Store(content, parsed)
		tpl = parsed
	}
	out, err := tpl.RenderString(vars)
	if err != nil {
		return "", err
	}
	return out, nil
}
