package daemon

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/scheduler"
)

// mutateThenList runs a mutation and, in the same loop turn, returns the
// profile list it produced.
func (c *Coordinator) mutateThenList(ctx context.Context, mutate func(ctx context.Context) error) ([]*domain.Profile, error) {
	var out []*domain.Profile
	err := c.do(ctx, func(ctx context.Context) error {
		if err := mutate(ctx); err != nil {
			return err
		}
		out = c.cloneProfiles()
		return nil
	})
	return out, err
}

// GetProfiles returns copies of all profiles in list order.
func (c *Coordinator) GetProfiles(ctx context.Context) ([]*domain.Profile, error) {
	var out []*domain.Profile
	err := c.do(ctx, func(context.Context) error {
		out = c.cloneProfiles()
		return nil
	})
	return out, err
}

// AddProfile appends a new profile. An active profile joins the active set
// without force, so a challenge-protected profile of the other mode blocks it.
func (c *Coordinator) AddProfile(ctx context.Context, profile *domain.Profile) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.addProfile(ctx, profile)
	})
}

func (c *Coordinator) addProfile(ctx context.Context, profile *domain.Profile) error {
	p := profile.Clone()
	if err := prepareProfile(p, c.nameTaken("")); err != nil {
		return err
	}

	next := c.active.Clone()
	if p.Options.IsActive {
		if err := next.Add(p, false); err != nil {
			return err
		}
	}

	c.profiles = append(c.profiles, p)
	c.active = next
	c.logger.Info("profile added", zap.String("profile", p.Name), zap.Bool("active", p.Options.IsActive))
	c.profilesChanged(ctx, true)
	return nil
}

// UpdateProfile replaces the profile named body.ProfileName with body.Profile.
// The replacement may carry a new name.
func (c *Coordinator) UpdateProfile(ctx context.Context, body domain.UpdateProfileBody) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.updateProfile(ctx, body)
	})
}

func (c *Coordinator) updateProfile(ctx context.Context, body domain.UpdateProfileBody) error {
	idx := c.indexOf(body.ProfileName)
	if idx < 0 {
		return domain.NotFound(body.ProfileName)
	}
	p := body.Profile.Clone()
	if err := prepareProfile(p, c.nameTaken(body.ProfileName)); err != nil {
		return err
	}

	next := c.active.Clone()
	next.RemoveWithName(body.ProfileName)
	if p.Options.IsActive {
		if err := next.Add(p, false); err != nil {
			return err
		}
	}

	c.profiles[idx] = p
	c.active = next
	c.logger.Info("profile updated", zap.String("profile", p.Name), zap.Bool("active", p.Options.IsActive))
	c.profilesChanged(ctx, !body.DoNotNotify)
	return nil
}

// RemoveProfile deletes a profile and deactivates it.
func (c *Coordinator) RemoveProfile(ctx context.Context, name string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.removeProfile(ctx, name)
	})
}

func (c *Coordinator) removeProfile(ctx context.Context, name string) error {
	idx := c.indexOf(name)
	if idx < 0 {
		return domain.NotFound(name)
	}
	c.profiles = append(c.profiles[:idx:idx], c.profiles[idx+1:]...)
	c.active.RemoveWithName(name)
	c.logger.Info("profile removed", zap.String("profile", name))
	c.profilesChanged(ctx, true)
	return nil
}

// UpdateProfileName renames a profile in place, keeping its position and activation.
func (c *Coordinator) UpdateProfileName(ctx context.Context, prevName, newName string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.updateProfileName(ctx, prevName, newName)
	})
}

func (c *Coordinator) updateProfileName(ctx context.Context, prevName, newName string) error {
	idx := c.indexOf(prevName)
	if idx < 0 {
		return domain.NotFound(prevName)
	}
	if err := validateName(newName, c.nameTaken(prevName)); err != nil {
		return err
	}
	p := c.profiles[idx]
	p.Name = newName
	p.NormalizeEvents()
	c.logger.Info("profile renamed", zap.String("from", prevName), zap.String("to", newName))
	c.profilesChanged(ctx, true)
	return nil
}

// UpdateScheduleEvents replaces a profile's schedule events.
// Executed flags are kept as given.
func (c *Coordinator) UpdateScheduleEvents(ctx context.Context, name string, events []domain.SchedEvent) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.updateScheduleEvents(ctx, name, events)
	})
}

func (c *Coordinator) updateScheduleEvents(ctx context.Context, name string, events []domain.SchedEvent) error {
	idx := c.indexOf(name)
	if idx < 0 {
		return domain.NotFound(name)
	}
	if err := validateEvents(events); err != nil {
		return err
	}
	p := c.profiles[idx]
	p.Options.Schedule.Events = append([]domain.SchedEvent{}, events...)
	p.NormalizeEvents()
	c.logger.Info("schedule updated", zap.String("profile", name), zap.Int("events", len(events)))
	c.profilesChanged(ctx, true)
	return nil
}

// UpdateProfileOrder reorders the profile list. names must be a permutation
// of the current profile names.
func (c *Coordinator) UpdateProfileOrder(ctx context.Context, names []string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.updateProfileOrder(ctx, names)
	})
}

func (c *Coordinator) updateProfileOrder(ctx context.Context, names []string) error {
	if len(names) != len(c.profiles) {
		return domain.Invalid("names", "expected %d names, got %d", len(c.profiles), len(names))
	}
	seen := make(map[string]bool, len(names))
	ordered := make([]*domain.Profile, 0, len(names))
	for _, name := range names {
		idx := c.indexOf(name)
		if idx < 0 {
			return domain.NotFound(name)
		}
		if seen[name] {
			return domain.Invalid("names", "%q listed twice", name)
		}
		seen[name] = true
		ordered = append(ordered, c.profiles[idx])
	}
	c.profiles = ordered
	c.profilesChanged(ctx, true)
	return nil
}

// GetActiveProfiles returns copies of the active profiles and their shared mode.
func (c *Coordinator) GetActiveProfiles(ctx context.Context) (domain.ActiveProfiles, error) {
	var out domain.ActiveProfiles
	err := c.do(ctx, func(context.Context) error {
		snap := c.active.Snapshot()
		out.Mode = snap.Mode()
		out.Profiles = snap.List()
		if last := snap.Last(); last != nil {
			out.Selected = last.Name
		}
		return nil
	})
	return out, err
}

// CheckURL reports how the active profiles judge url.
func (c *Coordinator) CheckURL(ctx context.Context, url string) (domain.Decision, error) {
	var d domain.Decision
	err := c.do(ctx, func(context.Context) error {
		d = c.matcher.Decide(url, c.active)
		return nil
	})
	return d, err
}

// OnNavigation handles a tab navigation reported by the browser.
func (c *Coordinator) OnNavigation(ctx context.Context, tabID int, url string) (bool, error) {
	var redirected bool
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		redirected, err = c.guard.OnNavigation(ctx, tabID, url, c.active)
		return err
	})
	return redirected, err
}

// Reconcile brings every open tab in line with the active profiles.
// Used when a tab host connects.
func (c *Coordinator) Reconcile(ctx context.Context) (*domain.ReconcileResult, error) {
	var result *domain.ReconcileResult
	err := c.do(ctx, func(ctx context.Context) error {
		result = c.reconcile(ctx)
		return nil
	})
	return result, err
}

// Tick runs one scheduler tick immediately.
func (c *Coordinator) Tick(ctx context.Context) (scheduler.TickResult, error) {
	var result scheduler.TickResult
	err := c.do(ctx, func(ctx context.Context) error {
		result = c.tick(ctx)
		return nil
	})
	return result, err
}
