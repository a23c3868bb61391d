package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	homedir "github.com/mitchellh/go-homedir"
)

// LaunchAgentLabel identifies the sitemon LaunchAgent.
const LaunchAgentLabel = "com.focusd.sitemon"

// LaunchAgent plist template (runs as user)
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>serve</string>
{{- range .Args}}
        <string>{{.}}</string>
{{- end}}
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>`

var plistTemplate = template.Must(template.New("plist").Parse(launchAgentTemplate))

type plistConfig struct {
	Label          string
	ExecutablePath string
	Args           []string
	ErrorLogPath   string
}

// CommandRunner runs an external command. Replaced in tests.
type CommandRunner func(name string, args ...string) error

func runCommand(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// AutostartManager installs a LaunchAgent that runs `sitemon serve` at login
// and restarts it if it crashes.
type AutostartManager struct {
	plistPath string
	dataDir   string
	run       CommandRunner
}

// NewAutostartManager creates a manager for ~/Library/LaunchAgents.
func NewAutostartManager(dataDir string) (*AutostartManager, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}
	return NewAutostartManagerWithDir(filepath.Join(home, "Library", "LaunchAgents"), dataDir, runCommand), nil
}

// NewAutostartManagerWithDir creates a manager writing into plistDir.
func NewAutostartManagerWithDir(plistDir, dataDir string, run CommandRunner) *AutostartManager {
	return &AutostartManager{
		plistPath: filepath.Join(plistDir, LaunchAgentLabel+".plist"),
		dataDir:   dataDir,
		run:       run,
	}
}

// Path returns the plist file path.
func (m *AutostartManager) Path() string {
	return m.plistPath
}

// render creates plist content for the given exec path and serve arguments.
func (m *AutostartManager) render(execPath string, args []string) ([]byte, error) {
	var buf bytes.Buffer
	err := plistTemplate.Execute(&buf, plistConfig{
		Label:          LaunchAgentLabel,
		ExecutablePath: execPath,
		Args:           args,
		ErrorLogPath:   filepath.Join(m.dataDir, "sitemon.stderr.log"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render plist: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the plist and loads it. An existing agent is replaced.
func (m *AutostartManager) Install(execPath string, args ...string) error {
	content, err := m.render(execPath, args)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.plistPath), 0755); err != nil {
		return err
	}
	if m.IsInstalled() {
		// Ignore errors if not loaded
		_ = m.run("launchctl", "unload", m.plistPath)
	}
	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return err
	}
	if err := m.run("launchctl", "load", m.plistPath); err != nil {
		return fmt.Errorf("failed to load %s: %w", m.plistPath, err)
	}
	return nil
}

// Uninstall unloads and removes the plist. A missing plist is not an error.
func (m *AutostartManager) Uninstall() error {
	if !m.IsInstalled() {
		return nil
	}
	_ = m.run("launchctl", "unload", m.plistPath)
	return os.Remove(m.plistPath)
}

// IsInstalled checks if the plist exists.
func (m *AutostartManager) IsInstalled() bool {
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate reports whether an installed plist differs from what Install would write.
func (m *AutostartManager) NeedsUpdate(execPath string, args ...string) bool {
	current, err := os.ReadFile(m.plistPath)
	if err != nil {
		return false
	}
	expected, err := m.render(execPath, args)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}
