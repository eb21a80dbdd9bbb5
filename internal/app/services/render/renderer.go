// Package render resolves a platform's layout into displayable output. Every
// placed instance renders through a renderer picked by its component type,
// with a raw-value placeholder as the universal fallback, so rendering never
// fails outright on unknown types or dangling definitions.
package render

import (
	"context"
	"fmt"
	"html"
	"sort"
	"sync"

	"github.com/platformkit/composer/internal/app/domain/definition"
	"github.com/platformkit/composer/internal/app/domain/instance"
)

// Request carries everything a renderer needs for one instance.
type Request struct {
	Instance   instance.Instance
	Definition definition.Definition

	// HasDefinition is false when the instance references a deleted
	// definition. Values then holds only the raw configured values.
	HasDefinition bool

	// Values is the resolved property map: configured value, else schema
	// default, else the kind's empty value.
	Values map[string]any

	Theme map[string]string
}

// Fragment is the rendered output of one instance.
type Fragment struct {
	HTML string `json:"html"`
}

// Renderer turns one resolved instance into a fragment.
type Renderer interface {
	Render(ctx context.Context, req Request) (Fragment, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context, req Request) (Fragment, error)

func (f RendererFunc) Render(ctx context.Context, req Request) (Fragment, error) {
	return f(ctx, req)
}

// Registry maps component types to renderers. Resolution never fails: an
// unregistered type resolves to the placeholder.
type Registry struct {
	mu        sync.RWMutex
	renderers map[string]Renderer
	fallback  Renderer
}

// NewRegistry constructs a registry with the built-in renderers installed and
// the placeholder as fallback.
func NewRegistry() *Registry {
	r := &Registry{
		renderers: make(map[string]Renderer),
		fallback:  Placeholder{},
	}
	for componentType, renderer := range builtins() {
		r.renderers[componentType] = renderer
	}
	return r
}

// Register installs or replaces the renderer for a component type.
func (r *Registry) Register(componentType string, renderer Renderer) {
	r.mu.Lock()
	r.renderers[componentType] = renderer
	r.mu.Unlock()
}

// Resolve returns the renderer for a component type. It always returns a
// usable renderer; unknown types get the placeholder.
func (r *Registry) Resolve(componentType string) Renderer {
	r.mu.RLock()
	renderer, ok := r.renderers[componentType]
	r.mu.RUnlock()
	if !ok {
		return r.fallback
	}
	return renderer
}

// builtins returns the stock renderers for common component types.
func builtins() map[string]Renderer {
	return map[string]Renderer{
		"button": RendererFunc(renderButton),
		"text":   RendererFunc(renderText),
		"image":  RendererFunc(renderImage),
	}
}

func renderButton(_ context.Context, req Request) (Fragment, error) {
	label := stringValue(req.Values, "label", "Button")
	attrs := ""
	if boolValue(req.Values, "disabled") {
		attrs = " disabled"
	}
	return Fragment{HTML: fmt.Sprintf("<button%s>%s</button>", attrs, html.EscapeString(label))}, nil
}

func renderText(_ context.Context, req Request) (Fragment, error) {
	content := stringValue(req.Values, "content", "")
	return Fragment{HTML: fmt.Sprintf("<p>%s</p>", html.EscapeString(content))}, nil
}

func renderImage(_ context.Context, req Request) (Fragment, error) {
	src := stringValue(req.Values, "src", "")
	alt := stringValue(req.Values, "alt", "")
	return Fragment{HTML: fmt.Sprintf("<img src=%q alt=%q>", src, alt)}, nil
}

func stringValue(values map[string]any, key, fallback string) string {
	if v, ok := values[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func boolValue(values map[string]any, key string) bool {
	v, _ := values[key].(bool)
	return v
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
