// Package policy decides which URLs are blocked by the active profiles.
package policy

import (
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// RegexMatchTimeout bounds a single regex evaluation.
const RegexMatchTimeout = 100 * time.Millisecond

// CompilePattern compiles a site regex with JavaScript semantics.
func CompilePattern(pattern string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(pattern, regexp2.ECMAScript)
	if err != nil {
		return nil, &domain.MatchError{Pattern: pattern, Err: err}
	}
	re.MatchTimeout = RegexMatchTimeout
	return re, nil
}

// CompileSites compiles and caches every regex site of p.
// Returns the first MatchError; sites compiled before it keep their cache.
func CompileSites(p *domain.Profile) error {
	for i := range p.Sites {
		site := &p.Sites[i]
		if !site.UseRegex {
			site.SetCompiled(nil)
			continue
		}
		re, err := CompilePattern(site.Pattern)
		if err != nil {
			return err
		}
		site.SetCompiled(re)
	}
	return nil
}

// MatchSite reports whether url matches site.
// Substring sites match by containment; an empty pattern matches everything.
func MatchSite(site *domain.Site, url string) (bool, error) {
	if !site.UseRegex {
		return strings.Contains(url, site.Pattern), nil
	}
	re := site.Compiled()
	if re == nil {
		compiled, err := CompilePattern(site.Pattern)
		if err != nil {
			return false, err
		}
		re = compiled
	}
	ok, err := re.MatchString(url)
	if err != nil {
		return false, &domain.MatchError{Pattern: site.Pattern, Err: err}
	}
	return ok, nil
}

// isWebURL reports whether url is http(s). Nothing else is ever blocked.
func isWebURL(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Evaluate decides whether url is blocked by set.
// Profiles and sites are OR-ed: the first matching site ends the scan.
// Sites that fail to evaluate are skipped and returned as errors.
func Evaluate(url string, set *ActiveSet) (domain.Decision, []error) {
	if set == nil || set.IsEmpty() || !isWebURL(url) {
		return domain.Decision{}, nil
	}

	var (
		decision domain.Decision
		errs     []error
	)

scan:
	for _, p := range set.List() {
		for i := range p.Sites {
			ok, err := MatchSite(&p.Sites[i], url)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				decision.Matched = true
				decision.Profile = p.Name
				decision.Pattern = p.Sites[i].Pattern
				break scan
			}
		}
	}

	mode := set.Mode()
	decision.Blocked = (decision.Matched && mode == domain.BlockSites) ||
		(!decision.Matched && mode == domain.AllowSites)
	return decision, errs
}

// Matcher wraps Evaluate and logs skipped sites.
type Matcher struct {
	logger *zap.Logger
}

// NewMatcher creates a site matcher.
func NewMatcher(logger *zap.Logger) *Matcher {
	return &Matcher{logger: logger}
}

// Decide returns the full decision for url.
func (m *Matcher) Decide(url string, set *ActiveSet) domain.Decision {
	decision, errs := Evaluate(url, set)
	for _, err := range errs {
		m.logger.Warn("skipping site pattern", zap.String("url", url), zap.Error(err))
	}
	return decision
}

// IsBlocked reports whether url should be redirected to the block page.
func (m *Matcher) IsBlocked(url string, set *ActiveSet) bool {
	return m.Decide(url, set).Blocked
}
