// Package daemon implements the coordinator that owns the profile list.
package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
	"github.com/eliteGoblin/focusd/site_mon/internal/scheduler"
	"github.com/eliteGoblin/focusd/site_mon/internal/usecase"
)

// ErrStopped is returned by operations submitted after the loop exited.
var ErrStopped = errors.New("coordinator stopped")

// CoordinatorConfig holds coordinator configuration.
type CoordinatorConfig struct {
	PollInterval      time.Duration  // How often to tick the scheduler (default 5s)
	HeartbeatInterval time.Duration  // How often to update the registry heartbeat
	Location          *time.Location // Zone of schedule times and day rollover
	SaveTimeout       time.Duration  // Bound on a single persistence write
	Now               func() time.Time
}

// DefaultCoordinatorConfig returns default coordinator configuration.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		PollInterval:      scheduler.DefaultPollInterval,
		HeartbeatInterval: 30 * time.Second,
		Location:          time.Local,
		SaveTimeout:       5 * time.Second,
		Now:               time.Now,
	}
}

// Coordinator owns the canonical profile list, the active set and the scheduler.
// All state is confined to the goroutine running Run; every exported operation
// is submitted to that loop and waits for its result.
type Coordinator struct {
	config   CoordinatorConfig
	store    domain.ProfileStore
	guard    *usecase.TabGuard
	matcher  *policy.Matcher
	notifier domain.Notifier
	registry domain.DaemonRegistry
	daemon   domain.DaemonInfo
	logger   *zap.Logger

	ops  chan func(ctx context.Context)
	done chan struct{}

	// loop-owned state
	profiles         []*domain.Profile
	active           *policy.ActiveSet
	sched            *scheduler.Scheduler
	lastRecordedDate time.Time
}

// NewCoordinator creates a coordinator. registry may be nil.
func NewCoordinator(
	config CoordinatorConfig,
	store domain.ProfileStore,
	guard *usecase.TabGuard,
	matcher *policy.Matcher,
	notifier domain.Notifier,
	registry domain.DaemonRegistry,
	daemon domain.DaemonInfo,
	logger *zap.Logger,
) *Coordinator {
	defaults := DefaultCoordinatorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.Location == nil {
		config.Location = defaults.Location
	}
	if config.SaveTimeout <= 0 {
		config.SaveTimeout = defaults.SaveTimeout
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	return &Coordinator{
		config:   config,
		store:    store,
		guard:    guard,
		matcher:  matcher,
		notifier: notifier,
		registry: registry,
		daemon:   daemon,
		logger:   logger,
		ops:      make(chan func(ctx context.Context)),
		done:     make(chan struct{}),
		active:   policy.NewActiveSet(),
	}
}

// Init loads persisted state and seeds the active set and scheduler.
// Must be called once before Run.
func (c *Coordinator) Init(ctx context.Context) error {
	state, err := c.store.Load(ctx)
	if err != nil {
		return err
	}

	c.profiles = state.Profiles
	var active []*domain.Profile
	for _, p := range c.profiles {
		if err := policy.CompileSites(p); err != nil {
			// matching skips the site and logs it
			c.logger.Warn("stored profile has an invalid site pattern",
				zap.String("profile", p.Name),
				zap.Error(err))
		}
		p.NormalizeEvents()
		if p.Options.IsActive {
			active = append(active, p)
		}
	}
	c.active = policy.NewActiveSet(active...)

	c.lastRecordedDate = state.LastRecordedDate
	if c.lastRecordedDate.IsZero() {
		c.lastRecordedDate = c.config.Now()
	}
	c.sched = scheduler.New(c.lastRecordedDate, c.config.Location, c.logger)
	c.sched.Observe(&scheduleObserver{c: c})
	c.sched.OnProfilesChanged(c.profiles)

	c.logger.Info("coordinator initialized",
		zap.Int("profiles", len(c.profiles)),
		zap.Int("active", c.active.Len()),
		zap.Time("last_recorded_date", c.lastRecordedDate))
	return nil
}

// Run starts the coordinator loop.
// This blocks until context is canceled.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	if c.registry != nil {
		if err := c.registry.Register(c.daemon); err != nil {
			c.logger.Error("failed to register daemon", zap.Error(err))
			return err
		}
		defer func() {
			if err := c.registry.Clear(); err != nil {
				c.logger.Warn("failed to clear registry", zap.Error(err))
			}
		}()
	}

	c.logger.Info("coordinator started",
		zap.Int("pid", c.daemon.PID),
		zap.Duration("poll_interval", c.config.PollInterval))

	// Catch up on anything due while we were not running
	c.tick(ctx)

	tickTicker := time.NewTicker(c.config.PollInterval)
	heartbeatTicker := time.NewTicker(c.config.HeartbeatInterval)
	defer func() {
		tickTicker.Stop()
		heartbeatTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopping")
			return ctx.Err()

		case fn := <-c.ops:
			fn(ctx)

		case <-tickTicker.C:
			c.tick(ctx)

		case <-heartbeatTicker.C:
			if c.registry == nil {
				continue
			}
			if err := c.registry.UpdateHeartbeat(); err != nil {
				c.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
		}
	}
}

// Close releases the profile store.
func (c *Coordinator) Close() error {
	return c.store.Close()
}

// do runs fn on the loop and waits for it. fn always runs to completion once
// accepted, even if the caller stops waiting.
func (c *Coordinator) do(ctx context.Context, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	op := func(loopCtx context.Context) { result <- fn(loopCtx) }

	select {
	case c.ops <- op:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick advances the scheduler and applies its side effects.
func (c *Coordinator) tick(ctx context.Context) scheduler.TickResult {
	result := c.sched.OnTick(c.config.Now())
	if !result.Changed() {
		return result
	}
	c.logger.Info("schedule applied",
		zap.Int("triggered", len(result.Triggered)),
		zap.Bool("rolled_over", result.RolledOver),
		zap.Int("active", c.active.Len()))
	c.reconcile(ctx)
	c.persist(ctx)
	c.notify()
	return result
}

// profilesChanged runs the follow-up of every profile mutation.
func (c *Coordinator) profilesChanged(ctx context.Context, notify bool) {
	c.sched.OnProfilesChanged(c.profiles)
	c.reconcile(ctx)
	c.persist(ctx)
	if notify {
		c.notify()
	}
}

func (c *Coordinator) reconcile(ctx context.Context) *domain.ReconcileResult {
	result := c.guard.ReconcileAll(ctx, c.active)
	for _, err := range result.Errors {
		c.logger.Debug("tab reconciliation error", zap.Error(err))
	}
	return result
}

// persist saves the profile list. Failures are logged; in-memory state stays authoritative.
func (c *Coordinator) persist(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.config.SaveTimeout)
	defer cancel()

	state := &domain.State{Profiles: c.profiles, LastRecordedDate: c.lastRecordedDate}
	if err := c.store.Save(ctx, state); err != nil {
		c.logger.Warn("failed to save profiles", zap.Error(err))
	}
}

func (c *Coordinator) notify() {
	if c.notifier == nil {
		return
	}
	c.notifier.NotifyProfilesUpdated(c.cloneProfiles())
}

func (c *Coordinator) cloneProfiles() []*domain.Profile {
	out := make([]*domain.Profile, len(c.profiles))
	for i, p := range c.profiles {
		out[i] = p.Clone()
	}
	return out
}

func (c *Coordinator) indexOf(name string) int {
	for i, p := range c.profiles {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// nameTaken returns a predicate reporting names used by profiles other than except.
func (c *Coordinator) nameTaken(except string) func(string) bool {
	return func(name string) bool {
		return name != except && c.indexOf(name) >= 0
	}
}

// scheduleObserver applies scheduler callbacks on the loop.
type scheduleObserver struct {
	c *Coordinator
}

func (o *scheduleObserver) OnEventTriggered(p *domain.Profile, ev *domain.SchedEvent) error {
	switch ev.EventType {
	case domain.EventEnable:
		// the scheduler is not subject to challenges
		return o.c.active.Add(p, true)
	case domain.EventDisable:
		o.c.active.RemoveWithName(p.Name)
		p.Options.IsActive = false
		return nil
	}
	return domain.Invalid("eventType", "unknown event type %d", int(ev.EventType))
}

func (o *scheduleObserver) OnDayRolledOver(now time.Time) error {
	for _, p := range o.c.profiles {
		for i := range p.Options.Schedule.Events {
			p.Options.Schedule.Events[i].Executed = false
		}
	}
	o.c.lastRecordedDate = now
	return nil
}

// Ensure scheduleObserver implements scheduler.Observer.
var _ scheduler.Observer = (*scheduleObserver)(nil)
