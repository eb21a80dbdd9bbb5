package render

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// DefaultTemplateTimeout bounds a single template evaluation.
const DefaultTemplateTimeout = 250 * time.Millisecond

// TemplateRenderer evaluates the JavaScript template attached to a component
// definition. The script sees `props` (the resolved property values) and
// `theme`, and must evaluate to the markup string.
//
// Evaluation is interrupted after a timeout; any failure is returned to the
// caller, which falls back to the placeholder rather than breaking the page.
type TemplateRenderer struct {
	Timeout time.Duration
}

var _ Renderer = TemplateRenderer{}

func (t TemplateRenderer) Render(ctx context.Context, req Request) (Fragment, error) {
	if !req.HasDefinition || req.Definition.Template == "" {
		return Fragment{}, fmt.Errorf("instance %s has no template", req.Instance.ID)
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTemplateTimeout
	}

	vm := goja.New()
	if err := vm.Set("props", req.Values); err != nil {
		return Fragment{}, fmt.Errorf("bind props: %w", err)
	}
	if err := vm.Set("theme", req.Theme); err != nil {
		return Fragment{}, fmt.Errorf("bind theme: %w", err)
	}

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("template evaluation timed out")
	})
	defer timer.Stop()

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timer.Reset(time.Until(deadline))
	}

	value, err := vm.RunString(req.Definition.Template)
	if err != nil {
		return Fragment{}, fmt.Errorf("evaluate template for %s: %w", req.Instance.Type, err)
	}

	markup, ok := value.Export().(string)
	if !ok {
		return Fragment{}, fmt.Errorf("template for %s evaluated to %T, want string", req.Instance.Type, value.Export())
	}
	return Fragment{HTML: markup}, nil
}
