package cache

import "testing"

func TestExclusionList_NilExcludesNothing(t *testing.T) {
	var el *ExclusionList
	if el.Matches("ollama", "llama3.2") || el.Len() != 0 {
		t.Fatal("nil list must exclude nothing")
	}
}

func TestExclusionList_ExactIsProviderQualified(t *testing.T) {
	el, err := NewExclusionList([]string{"ollama/llama3.2", " openai/gpt-4o "}, nil)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		provider, model string
		want            bool
	}{
		{"ollama", "llama3.2", true},
		{"lmstudio", "llama3.2", false},
		{"openai", "gpt-4o", true},
		{"openai", "gpt-4o-mini", false},
		{"ollama", "LLAMA3.2", false},
	}
	for _, c := range cases {
		if got := el.Matches(c.provider, c.model); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.provider, c.model, got, c.want)
		}
	}
}

func TestExclusionList_PatternsSeeProviderAndModel(t *testing.T) {
	el, err := NewExclusionList(nil, []string{`^openai/.*-preview$`, `^lmstudio/`})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		provider, model string
		want            bool
	}{
		{"openai", "gpt-4.5-preview", true},
		{"mistral", "mistral-preview", false},
		{"lmstudio", "local-model", true},
		{"ollama", "local-model", false},
	}
	for _, c := range cases {
		if got := el.Matches(c.provider, c.model); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.provider, c.model, got, c.want)
		}
	}
}

func TestExclusionList_RejectsMalformedRules(t *testing.T) {
	bad := []struct {
		name            string
		exact, patterns []string
	}{
		{"bare model", []string{"llama3.2"}, nil},
		{"missing model", []string{"ollama/"}, nil},
		{"missing provider", []string{"/llama3.2"}, nil},
		{"invalid regex", nil, []string{`[invalid(`}},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewExclusionList(tc.exact, tc.patterns); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestExclusionList_BlankRulesSkipped(t *testing.T) {
	el, err := NewExclusionList([]string{"", "google/gemini-2.0-flash"}, []string{" ", `^anthropic/`})
	if err != nil {
		t.Fatal(err)
	}
	if el.Len() != 2 {
		t.Errorf("Len = %d, want 2", el.Len())
	}
	if !el.Matches("anthropic", "claude-3-5-haiku-latest") {
		t.Error("pattern rule missed")
	}
}
