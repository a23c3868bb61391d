package domain

import "context"

// ProfileStore is the persistence port.
// Implementation: SQLCipher encrypted SQLite, or plain SQLite (modernc).
type ProfileStore interface {
	// Load returns the saved state. An empty store yields an empty State.
	Load(ctx context.Context) (*State, error)

	// Save replaces the saved state.
	Save(ctx context.Context, state *State) error

	// Close releases resources (e.g., database connection).
	Close() error
}

// TabProvider is the browser's tab inventory and navigation API.
// Implementation: the WebSocket bridge forwards calls to the connected extension.
type TabProvider interface {
	// ListOpenTabs returns every open tab with a known URL.
	ListOpenTabs(ctx context.Context) ([]Tab, error)

	// GetTab returns a single tab. Fails if the tab was closed.
	GetTab(ctx context.Context, id int) (*Tab, error)

	// UpdateTabURL navigates a tab to newURL.
	UpdateTabURL(ctx context.Context, id int, newURL string) error
}

// Notifier broadcasts profile changes to connected UIs.
type Notifier interface {
	// NotifyProfilesUpdated sends the full profile list. Best effort.
	NotifyProfilesUpdated(profiles []*Profile)
}

// DaemonRegistry records the running coordinator for discovery by the CLI.
// Implementation: JSON file in the data directory.
type DaemonRegistry interface {
	// Register saves the daemon's PID and listen address.
	Register(info DaemonInfo) error

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat() error

	// Get returns the registered daemon, or nil if none.
	Get() (*DaemonInfo, error)

	// Clear removes the registration.
	Clear() error

	// Path returns the registry file path.
	Path() string
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// Terminate asks a process to exit (SIGTERM).
	Terminate(pid int) error
}

// KeyProvider abstracts the source of the store encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
