// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// BlockMode selects how a profile's site list is interpreted.
type BlockMode int

const (
	// AllowSites blocks everything except the listed sites.
	AllowSites BlockMode = iota
	// BlockSites blocks only the listed sites.
	BlockSites
)

func (m BlockMode) String() string {
	switch m {
	case AllowSites:
		return "ALLOW_SITES"
	case BlockSites:
		return "BLOCK_SITES"
	}
	return fmt.Sprintf("BlockMode(%d)", int(m))
}

// MarshalText encodes the mode by name.
func (m BlockMode) MarshalText() ([]byte, error) {
	if m != AllowSites && m != BlockSites {
		return nil, fmt.Errorf("invalid block mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *BlockMode) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "ALLOW_SITES":
		*m = AllowSites
	case "BLOCK_SITES":
		*m = BlockSites
	default:
		return fmt.Errorf("unknown block mode %q", text)
	}
	return nil
}

// EventType is what a scheduled event does to its profile.
type EventType int

const (
	EventEnable EventType = iota
	EventDisable
)

func (t EventType) String() string {
	switch t {
	case EventEnable:
		return "ENABLE"
	case EventDisable:
		return "DISABLE"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

func (t EventType) MarshalText() ([]byte, error) {
	if t != EventEnable && t != EventDisable {
		return nil, fmt.Errorf("invalid event type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "ENABLE":
		*t = EventEnable
	case "DISABLE":
		*t = EventDisable
	default:
		return fmt.Errorf("unknown event type %q", text)
	}
	return nil
}

// TimeOfDay is an hour/minute pair with no date attached.
// Encoded as "HH:MM".
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("malformed time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Valid reports whether the hour and minute are in range.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

// Seconds returns the number of seconds since midnight.
func (t TimeOfDay) Seconds() int {
	return t.Hour*3600 + t.Minute*60
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid time of day %d:%d", t.Hour, t.Minute)
	}
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// SecondsSinceMidnight returns the wall-clock offset of now within its own day.
func SecondsSinceMidnight(now time.Time) int {
	h, m, s := now.Clock()
	return h*3600 + m*60 + s
}

// Site is a single pattern in a profile's site list.
type Site struct {
	Pattern   string    `json:"pattern" yaml:"pattern"`
	UseRegex  bool      `json:"useRegex" yaml:"useRegex"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`

	// compiled regex, populated by policy.CompileSites
	matcher Pattern
}

// Pattern is a compiled site regex.
type Pattern interface {
	MatchString(s string) (bool, error)
}

// Compiled returns the cached compiled regex, or nil.
func (s *Site) Compiled() Pattern {
	return s.matcher
}

// SetCompiled caches a compiled regex on the site.
func (s *Site) SetCompiled(p Pattern) {
	s.matcher = p
}

// Challenge is an optional deterrent against disabling a profile.
type Challenge struct {
	WaitTimeEnabled bool `json:"waitTimeEnabled" yaml:"waitTimeEnabled"`
	WaitTimeSeconds uint `json:"waitTimeSeconds" yaml:"waitTimeSeconds"`
}

// SchedEvent enables or disables a profile at a time of day.
type SchedEvent struct {
	ProfileName string    `json:"profileName" yaml:"profileName"`
	EventType   EventType `json:"eventType" yaml:"eventType"`
	TimeOfDay   TimeOfDay `json:"timeOfDay" yaml:"timeOfDay"`
	Executed    bool      `json:"executed" yaml:"executed"`
}

// Schedule is the daily schedule of a profile.
type Schedule struct {
	IsEnabled bool         `json:"isEnabled" yaml:"isEnabled"`
	Events    []SchedEvent `json:"events" yaml:"events"`
}

// Options holds the activation state and behaviour of a profile.
type Options struct {
	IsActive  bool      `json:"isActive" yaml:"isActive"`
	BlockMode BlockMode `json:"blockMode" yaml:"blockMode"`
	Schedule  Schedule  `json:"schedule" yaml:"schedule"`
	Challenge Challenge `json:"challenge" yaml:"challenge"`
}

// Profile is a named, independently activatable blocking configuration.
// Name is its identity.
type Profile struct {
	Name    string  `json:"name" yaml:"name"`
	Sites   []Site  `json:"sites" yaml:"sites"`
	Options Options `json:"options" yaml:"options"`
}

// Clone returns a deep copy. Compiled site patterns are shared; they are immutable.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Sites = append([]Site(nil), p.Sites...)
	c.Options.Schedule.Events = append([]SchedEvent(nil), p.Options.Schedule.Events...)
	return &c
}

// NormalizeEvents stamps every event with the profile name and sorts them by time of day.
func (p *Profile) NormalizeEvents() {
	for i := range p.Options.Schedule.Events {
		p.Options.Schedule.Events[i].ProfileName = p.Name
	}
	SortEvents(p.Options.Schedule.Events)
}

// SortEvents orders events ascending by time of day, keeping ties stable.
func SortEvents(events []SchedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TimeOfDay.Seconds() < events[j].TimeOfDay.Seconds()
	})
}

// NewProfile returns an inactive BLOCK_SITES profile with the defaults the dashboard uses.
func NewProfile(name string) *Profile {
	return &Profile{
		Name:  name,
		Sites: []Site{},
		Options: Options{
			BlockMode: BlockSites,
			Schedule:  Schedule{Events: []SchedEvent{}},
			Challenge: Challenge{WaitTimeSeconds: 30},
		},
	}
}

// Tab is an open browser tab as reported by the tab provider.
type Tab struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// State is the durable state of the coordinator.
type State struct {
	Profiles         []*Profile
	LastRecordedDate time.Time
}

// DaemonInfo describes the running coordinator process.
// Persisted to the data directory so the CLI can find it.
type DaemonInfo struct {
	PID           int       `json:"pid"`
	ListenAddr    string    `json:"listen_addr"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat int64     `json:"last_heartbeat"`
	AppVersion    string    `json:"app_version,omitempty"`
}

// ReconcileResult captures what a single tab reconciliation did.
type ReconcileResult struct {
	RedirectedTabs []int
	RestoredTabs   []int
	DroppedTabs    []int // records removed without restoring (tab closed or navigated away)
	Errors         []error
	ExecutedAt     time.Time
	DurationMs     int64
}
