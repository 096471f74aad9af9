// Package match turns page URLs into the canonical keys highlights are
// grouped by.
package match

import (
	"fmt"
	"net/url"
	"strings"
)

// Options tune Format. The zero value keeps scheme and query, drops the
// fragment and decodes the result.
type Options struct {
	OmitScheme      bool
	OmitQuery       bool
	IncludeFragment bool
	SkipDecode      bool
}

// Format builds the match key of rawURL: [scheme://]host[:port]path[?query][#fragment].
func Format(rawURL string, opts Options) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	var b strings.Builder
	if !opts.OmitScheme && u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteString("://")
	}
	b.WriteString(u.Host)

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	if !opts.OmitQuery && u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	if opts.IncludeFragment && u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.EscapedFragment())
	}

	out := b.String()
	if opts.SkipDecode {
		return out, nil
	}
	decoded, err := url.PathUnescape(out)
	if err != nil {
		return "", fmt.Errorf("decoding %q: %w", out, err)
	}
	return decoded, nil
}
