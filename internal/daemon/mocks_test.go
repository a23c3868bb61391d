package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// mockStore implements domain.ProfileStore for testing.
// Saved states are deep-copied so later mutations don't leak into assertions.
type mockStore struct {
	mu      sync.Mutex
	state   *domain.State
	loadErr error
	saveErr error
	saves   int
	closed  bool
}

func newMockStore(profiles ...*domain.Profile) *mockStore {
	return &mockStore{state: &domain.State{Profiles: profiles}}
}

func (m *mockStore) Load(ctx context.Context) (*domain.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.state, nil
}

func (m *mockStore) Save(ctx context.Context, state *domain.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("save without timeout")
	}
	if m.saveErr != nil {
		return m.saveErr
	}
	profiles := make([]*domain.Profile, len(state.Profiles))
	for i, p := range state.Profiles {
		profiles[i] = p.Clone()
	}
	m.state = &domain.State{Profiles: profiles, LastRecordedDate: state.LastRecordedDate}
	m.saves++
	return nil
}

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStore) saved() (*domain.State, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.saves
}

// mockTabs implements domain.TabProvider for testing.
type mockTabs struct {
	mu   sync.Mutex
	tabs map[int]string
}

func newMockTabs(tabs map[int]string) *mockTabs {
	if tabs == nil {
		tabs = make(map[int]string)
	}
	return &mockTabs{tabs: tabs}
}

func (m *mockTabs) ListOpenTabs(ctx context.Context) ([]domain.Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Tab
	for id, u := range m.tabs {
		out = append(out, domain.Tab{ID: id, URL: u})
	}
	return out, nil
}

func (m *mockTabs) GetTab(ctx context.Context, id int) (*domain.Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.tabs[id]
	if !ok {
		return nil, errors.New("no tab with id")
	}
	return &domain.Tab{ID: id, URL: u}, nil
}

func (m *mockTabs) UpdateTabURL(ctx context.Context, id int, newURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tabs[id]; !ok {
		return errors.New("no tab with id")
	}
	m.tabs[id] = newURL
	return nil
}

func (m *mockTabs) navigate(id int, u string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tabs[id] = u
}

func (m *mockTabs) url(id int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tabs[id]
}

// mockNotifier implements domain.Notifier for testing.
type mockNotifier struct {
	mu    sync.Mutex
	calls [][]*domain.Profile
}

func (m *mockNotifier) NotifyProfilesUpdated(profiles []*domain.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, profiles)
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockRegistry implements domain.DaemonRegistry for testing.
type mockRegistry struct {
	mu         sync.Mutex
	info       *domain.DaemonInfo
	heartbeats int
	cleared    bool
}

func (m *mockRegistry) Register(info domain.DaemonInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = &info
	m.cleared = false
	return nil
}

func (m *mockRegistry) UpdateHeartbeat() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats++
	return nil
}

func (m *mockRegistry) Get() (*domain.DaemonInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info, nil
}

func (m *mockRegistry) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = nil
	m.cleared = true
	return nil
}

func (m *mockRegistry) Path() string {
	return "/tmp/mock-daemon.json"
}

// mockProcessManager implements domain.ProcessManager for testing.
type mockProcessManager struct {
	mu           sync.Mutex
	running      map[int]bool
	terminated   []int
	ignoreSignal bool
}

func newMockProcessManager(pids ...int) *mockProcessManager {
	m := &mockProcessManager{running: make(map[int]bool)}
	for _, pid := range pids {
		m.running[pid] = true
	}
	return m
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[pid]
}

func (m *mockProcessManager) Terminate(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = append(m.terminated, pid)
	if !m.ignoreSignal {
		delete(m.running, pid)
	}
	return nil
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
