package daemon

import (
	"errors"
	"strings"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
)

// validateName rejects empty names and names already taken.
func validateName(name string, taken func(string) bool) error {
	if strings.TrimSpace(name) == "" {
		return domain.Invalid("name", "profile name must not be empty")
	}
	if taken(name) {
		return domain.Invalid("name", "a profile named %q already exists", name)
	}
	return nil
}

func validateEvents(events []domain.SchedEvent) error {
	for i, ev := range events {
		if !ev.TimeOfDay.Valid() {
			return domain.Invalid("events", "event #%d has malformed time %02d:%02d", i+1, ev.TimeOfDay.Hour, ev.TimeOfDay.Minute)
		}
		if ev.EventType != domain.EventEnable && ev.EventType != domain.EventDisable {
			return domain.Invalid("events", "event #%d has unknown type %d", i+1, int(ev.EventType))
		}
	}
	return nil
}

// prepareProfile validates p and readies it for the canonical list:
// regexes are compiled and cached, events stamped and sorted.
// p is not touched on failure except for compiled patterns.
func prepareProfile(p *domain.Profile, taken func(string) bool) error {
	if p == nil {
		return domain.Invalid("profile", "profile is required")
	}
	if err := validateName(p.Name, taken); err != nil {
		return err
	}
	if p.Options.BlockMode != domain.AllowSites && p.Options.BlockMode != domain.BlockSites {
		return domain.Invalid("blockMode", "unknown block mode %d", int(p.Options.BlockMode))
	}
	for i, s := range p.Sites {
		if s.Pattern == "" {
			return domain.Invalid("sites", "site #%d has an empty pattern", i+1)
		}
	}
	if err := validateEvents(p.Options.Schedule.Events); err != nil {
		return err
	}
	if err := policy.CompileSites(p); err != nil {
		var me *domain.MatchError
		if errors.As(err, &me) {
			return domain.Invalid("sites", "invalid regular expression %q: %v", me.Pattern, me.Err)
		}
		return err
	}
	p.NormalizeEvents()
	return nil
}
