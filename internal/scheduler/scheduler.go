// Package scheduler fires time-of-day profile events against the wall clock.
package scheduler

import (
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// DefaultPollInterval is how often the coordinator ticks the scheduler.
// Ticks may be late or skipped; every tick compares against the wall clock.
const DefaultPollInterval = 5 * time.Second

// Observer receives scheduler events. Called synchronously from OnTick.
type Observer interface {
	// OnEventTriggered is called once per due event. A returned error is
	// logged; the event counts as executed either way.
	OnEventTriggered(profile *domain.Profile, event *domain.SchedEvent) error

	// OnDayRolledOver is called when a tick lands on a new calendar day.
	// Observers are expected to clear every event's executed flag.
	OnDayRolledOver(now time.Time) error
}

type pendingEvent struct {
	profile *domain.Profile
	event   *domain.SchedEvent
}

// TickResult summarises one OnTick call.
type TickResult struct {
	Triggered  []domain.SchedEvent
	RolledOver bool
}

// Changed reports whether the tick mutated any profile state.
func (r TickResult) Changed() bool {
	return r.RolledOver || len(r.Triggered) > 0
}

// Scheduler tracks unexecuted events of schedule-enabled profiles.
// Not safe for concurrent use; the coordinator owns it.
type Scheduler struct {
	profiles    []*domain.Profile
	pending     []pendingEvent
	lastChecked time.Time
	location    *time.Location
	observers   []Observer
	logger      *zap.Logger
}

// New creates a scheduler. lastChecked is the last date the events were reset;
// times of day are interpreted in loc.
func New(lastChecked time.Time, loc *time.Location, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		lastChecked: lastChecked,
		location:    loc,
		logger:      logger,
	}
}

// Observe registers an observer. Observers are called in registration order.
func (s *Scheduler) Observe(o Observer) {
	s.observers = append(s.observers, o)
}

// OnProfilesChanged recomputes the pending events from scratch.
// Must be called after any change to a schedule or to the profile list.
func (s *Scheduler) OnProfilesChanged(profiles []*domain.Profile) {
	s.profiles = append([]*domain.Profile(nil), profiles...)
	s.recompute()
}

func (s *Scheduler) recompute() {
	s.pending = s.pending[:0:0]
	for _, p := range s.profiles {
		if !p.Options.Schedule.IsEnabled {
			continue
		}
		events := p.Options.Schedule.Events
		for i := range events {
			if !events[i].Executed {
				s.pending = append(s.pending, pendingEvent{profile: p, event: &events[i]})
			}
		}
	}
}

// OnTick fires every pending event whose time of day has passed and handles
// day rollover.
func (s *Scheduler) OnTick(now time.Time) TickResult {
	now = now.In(s.location)
	var result TickResult

	if !sameDay(s.lastChecked.In(s.location), now) {
		s.logger.Info("new day, resetting scheduled events",
			zap.Time("last_checked", s.lastChecked),
			zap.Time("now", now))
		for _, o := range s.observers {
			if err := o.OnDayRolledOver(now); err != nil {
				s.logger.Warn("day rollover handler failed", zap.Error(err))
			}
		}
		s.lastChecked = now
		s.recompute()
		result.RolledOver = true
	}

	nowSecs := domain.SecondsSinceMidnight(now)
	var due, remaining []pendingEvent
	for _, pe := range s.pending {
		if pe.event.TimeOfDay.Seconds() < nowSecs {
			due = append(due, pe)
		} else {
			remaining = append(remaining, pe)
		}
	}
	if len(due) == 0 {
		return result
	}

	// Commit before calling out: observers may recompute the pending list.
	s.pending = remaining
	for _, pe := range due {
		pe.event.Executed = true
	}

	for _, pe := range due {
		s.logger.Info("triggering scheduled event",
			zap.String("profile", pe.profile.Name),
			zap.Stringer("type", pe.event.EventType),
			zap.Stringer("time", pe.event.TimeOfDay))
		for _, o := range s.observers {
			if err := o.OnEventTriggered(pe.profile, pe.event); err != nil {
				s.logger.Warn("scheduled event handler failed",
					zap.String("profile", pe.profile.Name),
					zap.Error(err))
			}
		}
		result.Triggered = append(result.Triggered, *pe.event)
	}
	return result
}

// Pending returns copies of the pending events, in evaluation order.
func (s *Scheduler) Pending() []domain.SchedEvent {
	out := make([]domain.SchedEvent, len(s.pending))
	for i, pe := range s.pending {
		out[i] = *pe.event
	}
	return out
}

// LastChecked is the date of the last reset.
func (s *Scheduler) LastChecked() time.Time {
	return s.lastChecked
}

func sameDay(a, b time.Time) bool {
	y1, m1, d1 := a.Date()
	y2, m2, d2 := b.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
