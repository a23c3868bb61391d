package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

const registryFileName = "daemon.json"

// FileRegistry implements domain.DaemonRegistry using a JSON file in the data directory.
type FileRegistry struct {
	path string
}

// NewFileRegistry creates a registry in dataDir.
func NewFileRegistry(dataDir string) *FileRegistry {
	return &FileRegistry{path: filepath.Join(dataDir, registryFileName)}
}

// Path returns the registry file path.
func (r *FileRegistry) Path() string {
	return r.path
}

// Register records the running daemon, replacing any previous entry.
func (r *FileRegistry) Register(info domain.DaemonInfo) error {
	if info.LastHeartbeat == 0 {
		info.LastHeartbeat = time.Now().Unix()
	}
	return r.atomicWrite(&info)
}

// UpdateHeartbeat updates timestamp for liveness check.
func (r *FileRegistry) UpdateHeartbeat() error {
	info, err := r.Get()
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("daemon not registered")
	}
	info.LastHeartbeat = time.Now().Unix()
	return r.atomicWrite(info)
}

// Get returns the registered daemon, or nil if the file does not exist.
func (r *FileRegistry) Get() (*domain.DaemonInfo, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var info domain.DaemonInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Clear removes the registry file. A missing file is not an error.
func (r *FileRegistry) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// atomicWrite writes the registry via temp file + rename.
func (r *FileRegistry) atomicWrite(info *domain.DaemonInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileRegistry implements domain.DaemonRegistry.
var _ domain.DaemonRegistry = (*FileRegistry)(nil)
