package hostpage

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/proto"
)

//go:embed interrupt.js
var interruptJS string

const bindingName = "__docfeed_interrupt"

// WatchInterruptions installs a MutationObserver on the page and calls fn
// with the matched signature each time an added element shows one of the
// configured failure messages. It returns once the observer is installed;
// notifications stop when ctx is done.
func (p *Page) WatchInterruptions(ctx context.Context, fn func(signature string)) error {
	log := p.cfg.Logger
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p.page); err != nil {
		log.Warn("hostpage: addBinding failed (may already exist)", "error", err)
	}

	wait := p.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		sig := bindingSignature(e, p.cfg.Signatures)
		if sig == "" {
			return
		}
		log.Warn("hostpage: interruption detected", "signature", sig)
		fn(sig)
	})
	go wait()

	if _, err := p.page.Context(ctx).Eval(interruptJS, bindingName, p.cfg.Signatures); err != nil {
		return fmt.Errorf("hostpage: install interruption watcher: %w", err)
	}
	return nil
}

// bindingSignature returns the signature reported through the binding.
// The script sends the matched signature itself, never the page text.
func bindingSignature(e *proto.RuntimeBindingCalled, signatures []string) string {
	if e.Name != bindingName {
		return ""
	}
	return MatchSignature(e.Payload, signatures)
}

// MatchSignature returns the first signature contained in text, ignoring
// case, or "" when none matches. Signatures must already be lowercase.
func MatchSignature(text string, signatures []string) string {
	text = strings.ToLower(text)
	for _, s := range signatures {
		if s != "" && strings.Contains(text, s) {
			return s
		}
	}
	return ""
}

func normalizeSignatures(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
