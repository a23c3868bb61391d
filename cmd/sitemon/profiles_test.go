package main

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/gobwas/glob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

func TestPrintProfiles(t *testing.T) {
	work := domain.NewProfile("work")
	work.Options.IsActive = true
	work.Sites = []domain.Site{{Pattern: "reddit.com"}, {Pattern: "youtube.com"}}
	work.Options.Schedule = domain.Schedule{
		IsEnabled: true,
		Events: []domain.SchedEvent{
			{EventType: domain.EventEnable, TimeOfDay: domain.TimeOfDay{Hour: 9}},
			{EventType: domain.EventDisable, TimeOfDay: domain.TimeOfDay{Hour: 17, Minute: 30}},
		},
	}
	weekend := domain.NewProfile("weekend")

	var buf bytes.Buffer
	printProfiles(&buf, []*domain.Profile{work, weekend}, nil)
	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "enable@09:00,disable@17:30")
	assert.Contains(t, out, "weekend")

	buf.Reset()
	printProfiles(&buf, []*domain.Profile{work, weekend}, glob.MustCompile("wo*"))
	assert.Contains(t, buf.String(), "work")
	assert.NotContains(t, buf.String(), "weekend")
}

func TestDescribeSchedule(t *testing.T) {
	assert.Equal(t, "-", describeSchedule(domain.Schedule{}))
	assert.Equal(t, "enable@08:15 (off)", describeSchedule(domain.Schedule{
		Events: []domain.SchedEvent{{EventType: domain.EventEnable, TimeOfDay: domain.TimeOfDay{Hour: 8, Minute: 15}}},
	}))
}

func protectedProfile(seconds uint) *domain.Profile {
	p := domain.NewProfile("deep-work")
	p.Options.IsActive = true
	p.Options.Challenge = domain.Challenge{WaitTimeEnabled: true, WaitTimeSeconds: seconds}
	return p
}

func TestNeedsChallenge(t *testing.T) {
	off := func(p *domain.Profile) *domain.Profile {
		next := p.Clone()
		next.Options.IsActive = false
		return next
	}

	unprotected := domain.NewProfile("plain")
	unprotected.Options.IsActive = true
	inactive := protectedProfile(30)
	inactive.Options.IsActive = false

	tests := []struct {
		name    string
		current *domain.Profile
		next    *domain.Profile
		want    bool
	}{
		{"disabling protected profile", protectedProfile(30), off(protectedProfile(30)), true},
		{"keeping protected profile on", protectedProfile(30), protectedProfile(30), false},
		{"zero wait", protectedProfile(0), off(protectedProfile(0)), false},
		{"no challenge", unprotected, off(unprotected), false},
		{"already inactive", inactive, off(inactive), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsChallenge(tt.current, tt.next))
		})
	}
}

func TestCountdown_WaitsFullTime(t *testing.T) {
	var ticks int
	var buf bytes.Buffer
	c := countdown{out: &buf, after: func(d time.Duration) <-chan time.Time {
		assert.Equal(t, time.Second, d)
		ticks++
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}}
	current := protectedProfile(3)
	next := current.Clone()
	next.Options.IsActive = false

	require.NoError(t, c.gate(context.Background(), current, next))

	assert.Equal(t, 3, ticks)
	assert.Contains(t, buf.String(), "3s remaining")
	assert.Contains(t, buf.String(), "1s remaining")
	assert.Contains(t, buf.String(), "done")
}

func TestCountdown_CanceledKeepsProfile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	c := countdown{out: &buf, after: func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}}

	err := c.wait(ctx, protectedProfile(60))

	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), `"deep-work" left enabled`)
	assert.NotContains(t, buf.String(), "done")
}

func TestCountdown_SkipsUnprotected(t *testing.T) {
	c := countdown{out: io.Discard, after: func(time.Duration) <-chan time.Time {
		t.Fatal("no wait expected")
		return nil
	}}
	p := domain.NewProfile("plain")
	p.Options.IsActive = true
	next := p.Clone()
	next.Options.IsActive = false

	assert.NoError(t, c.gate(context.Background(), p, next))
}
