package render

import (
	"context"
	"fmt"
	"html"
	"strings"
)

// Placeholder renders an instance's raw configured values as an inert card.
// It is the universal fallback: used for unregistered component types and for
// instances whose definition was deleted, and it never fails.
type Placeholder struct{}

var _ Renderer = Placeholder{}

func (Placeholder) Render(_ context.Context, req Request) (Fragment, error) {
	var b strings.Builder

	componentType := req.Instance.Type
	if componentType == "" {
		componentType = "component"
	}
	fmt.Fprintf(&b, `<div class="placeholder" data-instance=%q>`, req.Instance.ID)
	fmt.Fprintf(&b, "<span>%s</span>", html.EscapeString(componentType))

	if len(req.Values) > 0 {
		b.WriteString("<dl>")
		for _, key := range sortedKeys(req.Values) {
			fmt.Fprintf(&b, "<dt>%s</dt><dd>%s</dd>",
				html.EscapeString(key),
				html.EscapeString(formatValue(req.Values[key])))
		}
		b.WriteString("</dl>")
	}
	b.WriteString("</div>")
	return Fragment{HTML: b.String()}, nil
}

// formatValue stringifies an arbitrary configured value without panicking on
// nils or unexpected shapes.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}
