package hostpage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
)

// ErrNoPromptField is returned when the prompt selector matches nothing.
var ErrNoPromptField = errors.New("hostpage: prompt field not found")

const busyJS = `(sel) => document.querySelector(sel) !== null`

// setValueJS writes through the native value setter so that frameworks
// tracking the field see the change, then fires an input event.
const setValueJS = `(sel, text) => {
	const el = document.querySelector(sel);
	if (!el) return false;
	if (el.isContentEditable) {
		el.textContent = text;
	} else {
		const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
		const desc = Object.getOwnPropertyDescriptor(proto, "value");
		if (desc && desc.set) desc.set.call(el, text); else el.value = text;
	}
	el.dispatchEvent(new Event("input", { bubbles: true }));
	return true;
}`

// Page is an open chat page. Its methods satisfy feeder.Sink and
// feeder.ReadinessProbe.
type Page struct {
	page *rod.Page
	cfg  Config
}

// Ready reports whether the page shows no busy indicator.
func (p *Page) Ready(ctx context.Context) (bool, error) {
	res, err := p.page.Context(ctx).Eval(busyJS, p.cfg.BusySelector)
	if err != nil {
		return false, fmt.Errorf("hostpage: readiness: %w", err)
	}
	return !res.Value.Bool(), nil
}

// Inject replaces the prompt field's content with text.
func (p *Page) Inject(ctx context.Context, text string) error {
	res, err := p.page.Context(ctx).Eval(setValueJS, p.cfg.PromptSelector, text)
	if err != nil {
		return fmt.Errorf("hostpage: inject: %w", err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("%w: %s", ErrNoPromptField, p.cfg.PromptSelector)
	}
	return nil
}

// Trigger waits InjectDelay, then presses Enter in the prompt field.
func (p *Page) Trigger(ctx context.Context) error {
	t := time.NewTimer(p.cfg.InjectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	pg := p.page.Context(ctx)
	el, err := pg.Element(p.cfg.PromptSelector)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoPromptField, err)
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("hostpage: focus prompt: %w", err)
	}
	if err := pg.Keyboard.Press(input.Enter); err != nil {
		return fmt.Errorf("hostpage: press enter: %w", err)
	}
	return nil
}

// Close closes the tab.
func (p *Page) Close() error {
	if p.page != nil {
		return p.page.Close()
	}
	return nil
}
