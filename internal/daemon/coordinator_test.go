package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
	"github.com/eliteGoblin/focusd/site_mon/internal/usecase"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testOrigin = "chrome-extension://sitemon"

var ignoreCompiled = cmpopts.IgnoreUnexported(domain.Site{})

func at(day, hour, minute int) time.Time {
	return time.Date(2024, 3, day, hour, minute, 30, 0, time.UTC)
}

func blockProfile(name string, patterns ...string) *domain.Profile {
	p := domain.NewProfile(name)
	for _, pattern := range patterns {
		p.Sites = append(p.Sites, domain.Site{Pattern: pattern})
	}
	return p
}

func activeProfile(name string, patterns ...string) *domain.Profile {
	p := blockProfile(name, patterns...)
	p.Options.IsActive = true
	return p
}

type harness struct {
	c        *Coordinator
	store    *mockStore
	tabs     *mockTabs
	notifier *mockNotifier
	clock    *fakeClock
	guard    *usecase.TabGuard
}

func buildHarness(t *testing.T, tabs map[int]string, profiles ...*domain.Profile) *harness {
	t.Helper()
	logger := zap.NewNop()
	h := &harness{
		store:    newMockStore(profiles...),
		tabs:     newMockTabs(tabs),
		notifier: &mockNotifier{},
		clock:    &fakeClock{now: at(4, 8, 0)},
	}
	h.store.state.LastRecordedDate = at(4, 0, 0)

	matcher := policy.NewMatcher(logger)
	h.guard = usecase.NewTabGuard(usecase.TabGuardConfig{
		ExtensionOrigin: testOrigin,
		CallTimeout:     time.Second,
	}, h.tabs, matcher, logger)

	config := CoordinatorConfig{
		PollInterval:      time.Hour, // ticks are driven by Tick
		HeartbeatInterval: time.Hour,
		Location:          time.UTC,
		SaveTimeout:       time.Second,
		Now:               h.clock.Now,
	}
	h.c = NewCoordinator(config, h.store, h.guard, matcher, h.notifier, nil, domain.DaemonInfo{PID: 4242}, logger)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.c.Init(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
}

func newHarness(t *testing.T, tabs map[int]string, profiles ...*domain.Profile) *harness {
	t.Helper()
	h := buildHarness(t, tabs, profiles...)
	h.start(t)
	return h
}

func (h *harness) profile(t *testing.T, name string) *domain.Profile {
	t.Helper()
	profiles, err := h.c.GetProfiles(context.Background())
	require.NoError(t, err)
	for _, p := range profiles {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("profile %q not found", name)
	return nil
}

func (h *harness) activeNames(t *testing.T) []string {
	t.Helper()
	active, err := h.c.GetActiveProfiles(context.Background())
	require.NoError(t, err)
	var names []string
	for _, p := range active.Profiles {
		names = append(names, p.Name)
	}
	return names
}

func TestDefaultCoordinatorConfig(t *testing.T) {
	config := DefaultCoordinatorConfig()

	assert.Equal(t, 5*time.Second, config.PollInterval)
	assert.Equal(t, 30*time.Second, config.HeartbeatInterval)
	assert.NotNil(t, config.Location)
	assert.NotZero(t, config.SaveTimeout)
	assert.NotNil(t, config.Now)
}

func TestCoordinator_InitSeedsActiveSet(t *testing.T) {
	allow := blockProfile("allow", "golang.org")
	allow.Options.BlockMode = domain.AllowSites
	h := newHarness(t, nil, activeProfile("work", "youtube.com"), blockProfile("off", "news.com"), allow)
	ctx := context.Background()

	active, err := h.c.GetActiveProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockSites, active.Mode)
	assert.Equal(t, "work", active.Selected)
	assert.Equal(t, []string{"work"}, h.activeNames(t))

	d, err := h.c.CheckURL(ctx, "https://youtube.com/watch?v=1")
	require.NoError(t, err)
	assert.True(t, d.Blocked)
	assert.Equal(t, "work", d.Profile)

	d, err = h.c.CheckURL(ctx, "https://news.com")
	require.NoError(t, err)
	assert.False(t, d.Blocked)
}

func TestCoordinator_InitLoadError(t *testing.T) {
	h := buildHarness(t, nil)
	h.store.loadErr = errors.New("disk on fire")

	assert.Error(t, h.c.Init(context.Background()))
}

func TestCoordinator_AddProfile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		profile func() *domain.Profile
	}{
		{"nil profile", func() *domain.Profile { return nil }},
		{"blank name", func() *domain.Profile { return blockProfile("  ", "a.com") }},
		{"duplicate name", func() *domain.Profile { return blockProfile("work", "a.com") }},
		{"empty pattern", func() *domain.Profile { return blockProfile("new", "a.com", "") }},
		{"invalid regex", func() *domain.Profile {
			p := blockProfile("new")
			p.Sites = []domain.Site{{Pattern: "(unclosed", UseRegex: true}}
			return p
		}},
		{"malformed event time", func() *domain.Profile {
			p := blockProfile("new", "a.com")
			p.Options.Schedule.Events = []domain.SchedEvent{{TimeOfDay: domain.TimeOfDay{Hour: 25}}}
			return p
		}},
		{"unknown event type", func() *domain.Profile {
			p := blockProfile("new", "a.com")
			p.Options.Schedule.Events = []domain.SchedEvent{{EventType: domain.EventType(7)}}
			return p
		}},
		{"unknown block mode", func() *domain.Profile {
			p := blockProfile("new", "a.com")
			p.Options.BlockMode = domain.BlockMode(9)
			return p
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, activeProfile("work", "youtube.com"))

			err := h.c.AddProfile(context.Background(), tt.profile())
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)

			profiles, err := h.c.GetProfiles(context.Background())
			require.NoError(t, err)
			assert.Len(t, profiles, 1)
			_, saves := h.store.saved()
			assert.Zero(t, saves)
			assert.Zero(t, h.notifier.count())
		})
	}
}

func TestCoordinator_AddProfile_ActivatesAndRedirects(t *testing.T) {
	h := newHarness(t, map[int]string{1: "https://reddit.com/r/all", 2: "https://golang.org"})
	ctx := context.Background()

	p := activeProfile("social", "reddit.com")
	p.Options.Schedule.Events = []domain.SchedEvent{
		{EventType: domain.EventDisable, TimeOfDay: domain.TimeOfDay{Hour: 18}},
		{EventType: domain.EventEnable, TimeOfDay: domain.TimeOfDay{Hour: 9}},
	}
	require.NoError(t, h.c.AddProfile(ctx, p))

	assert.Equal(t, h.guard.BlockPageURL("https://reddit.com/r/all"), h.tabs.url(1))
	assert.Equal(t, "https://golang.org", h.tabs.url(2))

	state, saves := h.store.saved()
	assert.Equal(t, 1, saves)
	require.Len(t, state.Profiles, 1)
	events := state.Profiles[0].Options.Schedule.Events
	require.Len(t, events, 2)
	assert.Equal(t, 9, events[0].TimeOfDay.Hour, "events are sorted")
	assert.Equal(t, "social", events[0].ProfileName, "events are stamped")
	assert.Equal(t, 1, h.notifier.count())

	// caller's copy is not retained
	p.Name = "mutated"
	assert.Equal(t, "social", h.profile(t, "social").Name)
}

func TestCoordinator_AddProfile_ChallengeLocked(t *testing.T) {
	guarded := activeProfile("guarded", "youtube.com")
	guarded.Options.Challenge.WaitTimeEnabled = true
	h := newHarness(t, nil, guarded)
	ctx := context.Background()

	focus := activeProfile("focus", "golang.org")
	focus.Options.BlockMode = domain.AllowSites

	err := h.c.AddProfile(ctx, focus)
	require.ErrorIs(t, err, domain.ErrChallengeLocked)

	profiles, err := h.c.GetProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
	assert.True(t, h.profile(t, "guarded").Options.IsActive)
	assert.Equal(t, []string{"guarded"}, h.activeNames(t))
	_, saves := h.store.saved()
	assert.Zero(t, saves)
}

func TestCoordinator_AddProfile_ModeSwitchEvicts(t *testing.T) {
	h := newHarness(t, nil, activeProfile("work", "youtube.com"), activeProfile("social", "reddit.com"))
	ctx := context.Background()

	focus := activeProfile("focus", "golang.org")
	focus.Options.BlockMode = domain.AllowSites
	require.NoError(t, h.c.AddProfile(ctx, focus))

	active, err := h.c.GetActiveProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.AllowSites, active.Mode)
	assert.Equal(t, []string{"focus"}, h.activeNames(t))
	assert.False(t, h.profile(t, "work").Options.IsActive)
	assert.False(t, h.profile(t, "social").Options.IsActive)

	state, _ := h.store.saved()
	for _, p := range state.Profiles {
		assert.Equal(t, p.Name == "focus", p.Options.IsActive, p.Name)
	}
}

func TestCoordinator_UpdateProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		h := newHarness(t, nil, activeProfile("work", "youtube.com"))
		err := h.c.UpdateProfile(ctx, domain.UpdateProfileBody{ProfileName: "nope", Profile: blockProfile("nope")})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("rename onto existing name", func(t *testing.T) {
		h := newHarness(t, nil, activeProfile("work", "youtube.com"), blockProfile("social"))
		err := h.c.UpdateProfile(ctx, domain.UpdateProfileBody{ProfileName: "social", Profile: blockProfile("work")})
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("deactivate restores blocked tabs", func(t *testing.T) {
		h := newHarness(t, map[int]string{7: "https://youtube.com/watch"}, activeProfile("work", "youtube.com"))

		result, err := h.c.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{7}, result.RedirectedTabs)
		assert.True(t, h.guard.IsBlockPage(h.tabs.url(7)))

		update := h.profile(t, "work")
		update.Options.IsActive = false
		require.NoError(t, h.c.UpdateProfile(ctx, domain.UpdateProfileBody{ProfileName: "work", Profile: update}))

		assert.Equal(t, "https://youtube.com/watch", h.tabs.url(7))
		assert.Empty(t, h.activeNames(t))
	})

	t.Run("site list change re-evaluates active profile", func(t *testing.T) {
		h := newHarness(t, map[int]string{1: "https://reddit.com"}, activeProfile("work", "youtube.com"))

		update := h.profile(t, "work")
		update.Sites = append(update.Sites, domain.Site{Pattern: "reddit.com"})
		require.NoError(t, h.c.UpdateProfile(ctx, domain.UpdateProfileBody{ProfileName: "work", Profile: update}))

		assert.True(t, h.guard.IsBlockPage(h.tabs.url(1)))
		assert.Equal(t, []string{"work"}, h.activeNames(t))
	})

	t.Run("blocks a tab that left the block page for a newly blocked site", func(t *testing.T) {
		h := newHarness(t, map[int]string{5: "https://youtube.com/watch"}, activeProfile("work", "youtube.com"))

		_, err := h.c.Reconcile(ctx)
		require.NoError(t, err)
		require.True(t, h.guard.IsBlockPage(h.tabs.url(5)))

		h.tabs.navigate(5, "https://google.com/")
		redirected, err := h.c.OnNavigation(ctx, 5, "https://google.com/")
		require.NoError(t, err)
		require.False(t, redirected)

		update := h.profile(t, "work")
		update.Sites = append(update.Sites, domain.Site{Pattern: "google.com"})
		require.NoError(t, h.c.UpdateProfile(ctx, domain.UpdateProfileBody{ProfileName: "work", Profile: update}))

		assert.Equal(t, h.guard.BlockPageURL("https://google.com/"), h.tabs.url(5))
	})

	t.Run("other profiles are left untouched", func(t *testing.T) {
		first := activeProfile("first", "youtube.com")
		first.Options.Schedule = domain.Schedule{
			IsEnabled: true,
			Events:    []domain.SchedEvent{{EventType: domain.EventDisable, TimeOfDay: domain.TimeOfDay{Hour: 17}}},
		}
		last := blockProfile("last", "news.com")
		last.Options.Challenge.WaitTimeEnabled = true
		h := newHarness(t, nil, first, blockProfile("middle", "reddit.com"), last)

		before, err := h.c.GetProfiles(ctx)
		require.NoError(t, err)

		update := h.profile(t, "middle")
		update.Sites = append(update.Sites, domain.Site{Pattern: "twitter.com"})
		update.Options.Challenge.WaitTimeSeconds = 120
		require.NoError(t, h.c.UpdateProfile(ctx, domain.UpdateProfileBody{ProfileName: "middle", Profile: update}))

		after, err := h.c.GetProfiles(ctx)
		require.NoError(t, err)
		require.Len(t, after, 3)
		assert.Empty(t, cmp.Diff(before[0], after[0], ignoreCompiled), "first changed")
		assert.Empty(t, cmp.Diff(before[2], after[2], ignoreCompiled), "last changed")
		assert.Equal(t, "middle", after[1].Name)
		assert.Len(t, after[1].Sites, 2)
		assert.Equal(t, uint(120), after[1].Options.Challenge.WaitTimeSeconds)
	})

	t.Run("doNotNotify still saves", func(t *testing.T) {
		h := newHarness(t, nil, activeProfile("work", "youtube.com"))

		update := h.profile(t, "work")
		update.Options.Challenge.WaitTimeSeconds = 90
		require.NoError(t, h.c.UpdateProfile(ctx, domain.UpdateProfileBody{ProfileName: "work", Profile: update, DoNotNotify: true}))

		_, saves := h.store.saved()
		assert.Equal(t, 1, saves)
		assert.Zero(t, h.notifier.count())
		assert.Equal(t, uint(90), h.profile(t, "work").Options.Challenge.WaitTimeSeconds)
	})

	t.Run("activation blocked by challenge leaves state untouched", func(t *testing.T) {
		guarded := activeProfile("guarded", "youtube.com")
		guarded.Options.Challenge.WaitTimeEnabled = true
		focus := blockProfile("focus", "golang.org")
		focus.Options.BlockMode = domain.AllowSites
		h := newHarness(t, nil, guarded, focus)

		update := h.profile(t, "focus")
		update.Options.IsActive = true
		err := h.c.UpdateProfile(ctx, domain.UpdateProfileBody{ProfileName: "focus", Profile: update})
		require.ErrorIs(t, err, domain.ErrChallengeLocked)

		assert.Equal(t, []string{"guarded"}, h.activeNames(t))
		assert.False(t, h.profile(t, "focus").Options.IsActive)
		assert.True(t, h.profile(t, "guarded").Options.IsActive)
	})
}

func TestCoordinator_RemoveProfile(t *testing.T) {
	h := newHarness(t, nil, activeProfile("work", "youtube.com"), blockProfile("social"))
	ctx := context.Background()

	require.NoError(t, h.c.RemoveProfile(ctx, "work"))
	assert.Empty(t, h.activeNames(t))

	profiles, err := h.c.GetProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "social", profiles[0].Name)

	assert.ErrorIs(t, h.c.RemoveProfile(ctx, "work"), domain.ErrNotFound)
	_, saves := h.store.saved()
	assert.Equal(t, 1, saves)
}

func TestCoordinator_UpdateProfileName(t *testing.T) {
	work := activeProfile("work", "youtube.com")
	work.Options.Schedule.Events = []domain.SchedEvent{
		{ProfileName: "work", EventType: domain.EventEnable, TimeOfDay: domain.TimeOfDay{Hour: 9}},
	}
	h := newHarness(t, nil, work, blockProfile("social"))
	ctx := context.Background()

	require.NoError(t, h.c.UpdateProfileName(ctx, "work", "deep work"))

	active, err := h.c.GetActiveProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, "deep work", active.Selected)

	renamed := h.profile(t, "deep work")
	assert.Equal(t, "deep work", renamed.Options.Schedule.Events[0].ProfileName)

	profiles, err := h.c.GetProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, "deep work", profiles[0].Name, "position kept")

	var verr *domain.ValidationError
	assert.ErrorAs(t, h.c.UpdateProfileName(ctx, "deep work", "social"), &verr)
	assert.ErrorAs(t, h.c.UpdateProfileName(ctx, "deep work", ""), &verr)
	assert.ErrorIs(t, h.c.UpdateProfileName(ctx, "work", "x"), domain.ErrNotFound)
	assert.NoError(t, h.c.UpdateProfileName(ctx, "deep work", "deep work"), "renaming to itself is allowed")
}

func TestCoordinator_UpdateScheduleEvents(t *testing.T) {
	h := newHarness(t, nil, blockProfile("work", "youtube.com"))
	ctx := context.Background()

	events := []domain.SchedEvent{
		{EventType: domain.EventDisable, TimeOfDay: domain.TimeOfDay{Hour: 17, Minute: 30}},
		{EventType: domain.EventEnable, TimeOfDay: domain.TimeOfDay{Hour: 9}, Executed: true},
	}
	require.NoError(t, h.c.UpdateScheduleEvents(ctx, "work", events))

	got := h.profile(t, "work").Options.Schedule.Events
	require.Len(t, got, 2)
	assert.Equal(t, domain.EventEnable, got[0].EventType)
	assert.True(t, got[0].Executed, "executed flag carried over")
	assert.Equal(t, "work", got[1].ProfileName)

	bad := []domain.SchedEvent{{TimeOfDay: domain.TimeOfDay{Minute: 61}}}
	var verr *domain.ValidationError
	assert.ErrorAs(t, h.c.UpdateScheduleEvents(ctx, "work", bad), &verr)
	assert.ErrorIs(t, h.c.UpdateScheduleEvents(ctx, "nope", events), domain.ErrNotFound)
}

func TestCoordinator_UpdateProfileOrder(t *testing.T) {
	h := newHarness(t, nil, blockProfile("a"), blockProfile("b"), blockProfile("c"))
	ctx := context.Background()

	require.NoError(t, h.c.UpdateProfileOrder(ctx, []string{"c", "a", "b"}))
	profiles, err := h.c.GetProfiles(ctx)
	require.NoError(t, err)
	var names []string
	for _, p := range profiles {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)

	var verr *domain.ValidationError
	assert.ErrorAs(t, h.c.UpdateProfileOrder(ctx, []string{"a", "b"}), &verr)
	assert.ErrorAs(t, h.c.UpdateProfileOrder(ctx, []string{"a", "a", "b"}), &verr)
	assert.ErrorIs(t, h.c.UpdateProfileOrder(ctx, []string{"a", "b", "z"}), domain.ErrNotFound)
}

func TestCoordinator_ScheduleDrivesActivation(t *testing.T) {
	work := blockProfile("work", "youtube.com")
	work.Options.Schedule = domain.Schedule{
		IsEnabled: true,
		Events: []domain.SchedEvent{
			{ProfileName: "work", EventType: domain.EventEnable, TimeOfDay: domain.TimeOfDay{Hour: 9}},
			{ProfileName: "work", EventType: domain.EventDisable, TimeOfDay: domain.TimeOfDay{Hour: 17}},
		},
	}
	h := newHarness(t, map[int]string{3: "https://youtube.com/feed"}, work)
	ctx := context.Background()

	result, err := h.c.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, result.Changed(), "nothing due at 08:00")

	h.clock.Set(at(4, 9, 0))
	result, err = h.c.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, result.Triggered, 1)
	assert.Equal(t, []string{"work"}, h.activeNames(t))
	assert.True(t, h.guard.IsBlockPage(h.tabs.url(3)))

	state, _ := h.store.saved()
	assert.True(t, state.Profiles[0].Options.Schedule.Events[0].Executed)
	assert.True(t, state.Profiles[0].Options.IsActive)
	assert.Equal(t, 1, h.notifier.count())

	// same minute again: already executed
	result, err = h.c.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, result.Changed())

	h.clock.Set(at(4, 17, 0))
	_, err = h.c.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.activeNames(t))
	assert.False(t, h.profile(t, "work").Options.IsActive)
	assert.Equal(t, "https://youtube.com/feed", h.tabs.url(3))
}

func TestCoordinator_ScheduledEnableOverridesChallenge(t *testing.T) {
	guarded := activeProfile("guarded", "youtube.com")
	guarded.Options.Challenge.WaitTimeEnabled = true
	focus := blockProfile("focus", "golang.org")
	focus.Options.BlockMode = domain.AllowSites
	focus.Options.Schedule = domain.Schedule{
		IsEnabled: true,
		Events:    []domain.SchedEvent{{ProfileName: "focus", EventType: domain.EventEnable, TimeOfDay: domain.TimeOfDay{Hour: 9}}},
	}
	h := newHarness(t, nil, guarded, focus)

	h.clock.Set(at(4, 9, 5))
	_, err := h.c.Tick(context.Background())
	require.NoError(t, err)

	active, err := h.c.GetActiveProfiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.AllowSites, active.Mode)
	assert.Equal(t, []string{"focus"}, h.activeNames(t))
	assert.False(t, h.profile(t, "guarded").Options.IsActive)
}

func TestCoordinator_DisabledScheduleNeverFires(t *testing.T) {
	work := blockProfile("work", "youtube.com")
	work.Options.Schedule.Events = []domain.SchedEvent{
		{ProfileName: "work", EventType: domain.EventEnable, TimeOfDay: domain.TimeOfDay{Hour: 9}},
	}
	h := newHarness(t, nil, work)

	h.clock.Set(at(4, 12, 0))
	result, err := h.c.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Changed())
	assert.Empty(t, h.activeNames(t))
}

func TestCoordinator_DayRollover(t *testing.T) {
	work := blockProfile("work", "youtube.com")
	work.Options.Schedule = domain.Schedule{
		IsEnabled: true,
		Events: []domain.SchedEvent{
			{ProfileName: "work", EventType: domain.EventEnable, TimeOfDay: domain.TimeOfDay{Hour: 7}, Executed: true},
		},
	}
	h := newHarness(t, nil, work)
	ctx := context.Background()

	h.clock.Set(at(5, 6, 0))
	result, err := h.c.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, result.RolledOver)
	assert.Empty(t, result.Triggered)

	state, _ := h.store.saved()
	assert.True(t, at(5, 6, 0).Equal(state.LastRecordedDate))
	assert.False(t, state.Profiles[0].Options.Schedule.Events[0].Executed)

	h.clock.Set(at(5, 7, 0))
	result, err = h.c.Tick(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Triggered, 1)
	assert.Equal(t, []string{"work"}, h.activeNames(t))
}

func TestCoordinator_OnNavigation(t *testing.T) {
	h := newHarness(t, map[int]string{1: "about:blank"}, activeProfile("work", "youtube.com"))
	ctx := context.Background()

	redirected, err := h.c.OnNavigation(ctx, 1, "https://golang.org")
	require.NoError(t, err)
	assert.False(t, redirected)

	redirected, err = h.c.OnNavigation(ctx, 1, "https://youtube.com/shorts")
	require.NoError(t, err)
	assert.True(t, redirected)
	assert.True(t, h.guard.IsBlockPage(h.tabs.url(1)))

	_, err = h.c.OnNavigation(ctx, 99, "https://youtube.com")
	assert.Error(t, err, "unknown tab")

	_, saves := h.store.saved()
	assert.Zero(t, saves, "navigation never touches profiles")
}

func TestCoordinator_SaveFailureIsAbsorbed(t *testing.T) {
	h := newHarness(t, nil)
	h.store.mu.Lock()
	h.store.saveErr = errors.New("read-only filesystem")
	h.store.mu.Unlock()

	require.NoError(t, h.c.AddProfile(context.Background(), blockProfile("work", "youtube.com")))
	assert.Equal(t, "work", h.profile(t, "work").Name)
}

func TestCoordinator_StoppedLoop(t *testing.T) {
	h := buildHarness(t, nil)
	require.NoError(t, h.c.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.c.Run(ctx) }()
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	_, err := h.c.GetProfiles(context.Background())
	assert.ErrorIs(t, err, ErrStopped)

	require.NoError(t, h.c.Close())
	assert.True(t, h.store.closed)
}

func TestCoordinator_CallerContextCanceled(t *testing.T) {
	h := buildHarness(t, nil)
	require.NoError(t, h.c.Init(context.Background()))

	// loop not running: submission waits on the caller's context
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.c.GetProfiles(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_RegistersWhileRunning(t *testing.T) {
	logger := zap.NewNop()
	registry := &mockRegistry{}
	store := newMockStore()
	matcher := policy.NewMatcher(logger)
	guard := usecase.NewTabGuard(usecase.TabGuardConfig{ExtensionOrigin: testOrigin}, newMockTabs(nil), matcher, logger)
	c := NewCoordinator(CoordinatorConfig{HeartbeatInterval: 10 * time.Millisecond},
		store, guard, matcher, nil, registry, domain.DaemonInfo{PID: 4242, ListenAddr: "127.0.0.1:1"}, logger)
	require.NoError(t, c.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	assert.Eventually(t, func() bool {
		registry.mu.Lock()
		defer registry.mu.Unlock()
		return registry.info != nil && registry.info.PID == 4242 && registry.heartbeats > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-errCh
	assert.True(t, registry.cleared)
}
