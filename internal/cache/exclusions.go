package cache

import (
	"fmt"
	"regexp"
	"strings"
)

// ExclusionList names the provider/model pairs whose results are never
// cached. Rules are written against "provider/model", since the same model
// name can be served by more than one provider (llama3.2 on both ollama and
// lmstudio):
//
//	exact:   ollama/llama3.2
//	pattern: ^openai/.*-preview$
//
// A nil *ExclusionList excludes nothing.
type ExclusionList struct {
	exact    map[string]struct{}
	patterns []*regexp.Regexp
}

// NewExclusionList validates and compiles the rules. An exact rule without a
// "provider/" prefix is an error.
func NewExclusionList(exact, patterns []string) (*ExclusionList, error) {
	el := &ExclusionList{exact: make(map[string]struct{}, len(exact))}

	for _, e := range exact {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		provider, model, ok := strings.Cut(e, "/")
		if !ok || provider == "" || model == "" {
			return nil, fmt.Errorf("cache exclusion: %q is not of the form provider/model", e)
		}
		el.exact[e] = struct{}{}
	}

	for _, p := range patterns {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("cache exclusion: invalid pattern %q: %w", p, err)
		}
		el.patterns = append(el.patterns, re)
	}

	return el, nil
}

// Matches reports whether results of model served by provider bypass the
// cache.
func (el *ExclusionList) Matches(provider, model string) bool {
	if el == nil || (len(el.exact) == 0 && len(el.patterns) == 0) {
		return false
	}
	qualified := provider + "/" + model
	if _, ok := el.exact[qualified]; ok {
		return true
	}
	for _, re := range el.patterns {
		if re.MatchString(qualified) {
			return true
		}
	}
	return false
}

// Len returns the number of rules.
func (el *ExclusionList) Len() int {
	if el == nil {
		return 0
	}
	return len(el.exact) + len(el.patterns)
}
