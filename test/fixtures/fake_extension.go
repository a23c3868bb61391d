// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/bridge"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// FakeExtension plays the browser extension: it connects to the daemon as
// tab host and keeps an in-memory tab list the daemon can query and navigate.
type FakeExtension struct {
	mu            sync.Mutex
	tabs          map[int]string
	nextID        int
	notifications [][]*domain.Profile
	client        *bridge.Client
}

// NewFakeExtension creates a fake extension with the given open tabs.
func NewFakeExtension(tabs map[int]string) *FakeExtension {
	e := &FakeExtension{tabs: make(map[int]string), nextID: 1}
	for id, u := range tabs {
		e.tabs[id] = u
		if id >= e.nextID {
			e.nextID = id + 1
		}
	}
	return e
}

// Connect dials the daemon at addr as tab host.
func (e *FakeExtension) Connect(ctx context.Context, addr, origin string, logger *zap.Logger) error {
	client, err := bridge.Dial(ctx, bridge.ClientConfig{
		Addr:              addr,
		Origin:            origin,
		TabHost:           e.handle,
		OnProfilesUpdated: e.recordNotification,
	}, logger)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.client = client
	e.mu.Unlock()
	return nil
}

// Client returns the underlying connection.
func (e *FakeExtension) Client() *bridge.Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

// Close disconnects from the daemon.
func (e *FakeExtension) Close() {
	if c := e.Client(); c != nil {
		c.Close()
	}
}

// OpenTab adds a tab and returns its id. The daemon is not told.
func (e *FakeExtension) OpenTab(u string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.tabs[id] = u
	return id
}

// CloseTab removes a tab.
func (e *FakeExtension) CloseTab(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tabs, id)
}

// Navigate points a tab at u and reports the navigation to the daemon,
// the way the extension's tab listener does.
func (e *FakeExtension) Navigate(ctx context.Context, id int, u string) (bool, error) {
	e.mu.Lock()
	e.tabs[id] = u
	e.mu.Unlock()

	var result domain.TabUpdatedResult
	err := e.Client().Call(ctx, domain.ActionTabUpdated, domain.TabUpdatedBody{TabID: id, URL: u}, &result)
	return result.Redirected, err
}

// URL returns the current URL of a tab, or "" if it is closed.
func (e *FakeExtension) URL(id int) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tabs[id]
}

// Notifications returns how many profile broadcasts were received.
func (e *FakeExtension) Notifications() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.notifications)
}

// LastNotification returns the most recent broadcast profile list.
func (e *FakeExtension) LastNotification() []*domain.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.notifications) == 0 {
		return nil
	}
	return e.notifications[len(e.notifications)-1]
}

func (e *FakeExtension) recordNotification(profiles []*domain.Profile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifications = append(e.notifications, profiles)
}

func (e *FakeExtension) handle(ctx context.Context, action domain.Action, body json.RawMessage) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch action {
	case bridge.ActionListTabs:
		tabs := make([]domain.Tab, 0, len(e.tabs))
		for id, u := range e.tabs {
			tabs = append(tabs, domain.Tab{ID: id, URL: u})
		}
		sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })
		return tabs, nil

	case bridge.ActionGetTab:
		var id int
		if err := json.Unmarshal(body, &id); err != nil {
			return nil, err
		}
		u, ok := e.tabs[id]
		if !ok {
			return nil, fmt.Errorf("no tab with id: %d", id)
		}
		return domain.Tab{ID: id, URL: u}, nil

	case bridge.ActionUpdateTab:
		var b bridge.UpdateTabBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, err
		}
		if _, ok := e.tabs[b.ID]; !ok {
			return nil, fmt.Errorf("no tab with id: %d", b.ID)
		}
		e.tabs[b.ID] = b.URL
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported command %s", action)
}
