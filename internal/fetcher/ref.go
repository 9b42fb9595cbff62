package fetcher

import (
	"regexp"
	"strings"
)

var statusIDRe = regexp.MustCompile(`/status(?:es)?/(\d+)`)

// PostRef identifies the upstream post. URL is preferred by providers that
// need the author context; ExternalID is enough for the rest.
type PostRef struct {
	URL        string
	ExternalID string
}

// ID returns the provider-assigned post ID, derived from the URL when
// ExternalID is empty.
func (r PostRef) ID() string {
	if id := strings.TrimSpace(r.ExternalID); id != "" {
		return id
	}
	m := statusIDRe.FindStringSubmatch(r.URL)
	if len(m) == 2 {
		return m[1]
	}
	return ""
}

// CanonicalURL returns URL, or a status URL built from the ID.
func (r PostRef) CanonicalURL() string {
	if u := strings.TrimSpace(r.URL); u != "" {
		return u
	}
	if id := r.ID(); id != "" {
		return "https://x.com/i/status/" + id
	}
	return ""
}

func (r PostRef) Empty() bool { return r.ID() == "" && strings.TrimSpace(r.URL) == "" }

// Credentials maps a provider name to the API key to use for one call.
// Built per organization by the caller; never shared process-wide.
type Credentials map[string]string

func (c Credentials) Key(provider string) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c[provider])
}

// Any reports whether at least one key is present.
func (c Credentials) Any() bool {
	for _, v := range c {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// Merge returns a copy of c with keys from fallback filled in where c has none.
func (c Credentials) Merge(fallback Credentials) Credentials {
	out := make(Credentials, len(c)+len(fallback))
	for k, v := range fallback {
		if strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	for k, v := range c {
		if strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	return out
}
