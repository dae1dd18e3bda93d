package hostpage

import (
	"context"
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestMatchSignature(t *testing.T) {
	sigs := normalizeSignatures(DefaultSignatures)
	tests := []struct {
		text string
		want string
	}{
		{"An error occurred. Please try again.", "an error occurred"},
		{"Something went WRONG while generating", "something went wrong"},
		{"network error", "network error"},
		{"Regenerate response", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := MatchSignature(tt.text, sigs); got != tt.want {
			t.Errorf("MatchSignature(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestNormalizeSignatures(t *testing.T) {
	got := normalizeSignatures([]string{"  Rate Limit ", "", "  ", "Timeout"})
	if strings.Join(got, "|") != "rate limit|timeout" {
		t.Errorf("got %q", got)
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.PromptSelector != DefaultPromptSelector || c.BusySelector != DefaultBusySelector {
		t.Errorf("selectors = %q %q", c.PromptSelector, c.BusySelector)
	}
	if c.InjectDelay != DefaultInjectDelay || c.NavTimeout != DefaultNavTimeout {
		t.Errorf("timings = %s %s", c.InjectDelay, c.NavTimeout)
	}
	if len(c.Signatures) != len(DefaultSignatures) || c.Logger == nil {
		t.Errorf("signatures = %v", c.Signatures)
	}

	custom := Config{Signatures: []string{"Quota Exceeded"}}
	custom.defaults()
	if len(custom.Signatures) != 1 || custom.Signatures[0] != "quota exceeded" {
		t.Errorf("custom signatures = %v", custom.Signatures)
	}
}

func TestOpen_RequiresURL(t *testing.T) {
	b := NewBrowser(Config{})
	if _, err := b.Open(context.Background()); err == nil {
		t.Fatal("expected error without URL")
	}
}

func TestClose_Idempotent(t *testing.T) {
	b := NewBrowser(Config{URL: "https://example.invalid"})
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Open(context.Background()); err == nil || !strings.Contains(err.Error(), "closed") {
		t.Errorf("Open after Close: %v", err)
	}
}

func TestInterruptScriptEmbedded(t *testing.T) {
	if !strings.Contains(interruptJS, "MutationObserver") {
		t.Fatal("interrupt.js not embedded")
	}
}

func TestBindingSignature(t *testing.T) {
	sigs := normalizeSignatures(DefaultSignatures)
	tests := []struct {
		name, payload, want string
	}{
		{bindingName, "network error", "network error"},
		{bindingName, "something went wrong", "something went wrong"},
		{bindingName, "regenerate", ""},
		{"other_binding", "network error", ""},
	}
	for _, tt := range tests {
		e := &proto.RuntimeBindingCalled{Name: tt.name, Payload: tt.payload}
		if got := bindingSignature(e, sigs); got != tt.want {
			t.Errorf("bindingSignature(%q, %q) = %q, want %q", tt.name, tt.payload, got, tt.want)
		}
	}
}

func TestInterruptScriptReportsSignature(t *testing.T) {
	// The page text can be long; only the matched signature crosses the binding.
	if !strings.Contains(interruptJS, "report(matched)") {
		t.Error("script does not report the matched signature")
	}
	if strings.Contains(interruptJS, "slice(") {
		t.Error("script truncates the reported payload")
	}
}
