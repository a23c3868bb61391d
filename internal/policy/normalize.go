package policy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// PatternFromURL reduces a URL or host to its registrable domain,
// e.g. "https://news.bbc.co.uk/sport" -> "bbc.co.uk".
// The result is meant to be used as a substring site pattern.
func PatternFromURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}

	// url.Parse only finds the host when a scheme is present
	target := raw
	if !strings.Contains(target, "://") {
		target = "http://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("failed to parse %q: %w", raw, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("no host in %q", raw)
	}

	domain, err := publicsuffix.Domain(strings.ToLower(host))
	if err != nil {
		return "", fmt.Errorf("failed to find registrable domain of %q: %w", host, err)
	}
	return domain, nil
}
