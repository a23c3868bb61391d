package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// countdown makes the user sit out a profile's challenge wait before it is
// disabled. The daemon only refuses mode switches that would evict a
// protected profile; turning one off is gated here.
type countdown struct {
	out   io.Writer
	after func(time.Duration) <-chan time.Time
}

var challengeWait = countdown{out: os.Stdout, after: time.After}

// needsChallenge reports whether replacing current with next turns off a
// challenge-protected profile.
func needsChallenge(current, next *domain.Profile) bool {
	c := current.Options.Challenge
	return current.Options.IsActive && !next.Options.IsActive && c.WaitTimeEnabled && c.WaitTimeSeconds > 0
}

// wait blocks for the profile's wait time, printing the seconds left.
// Canceling ctx aborts the wait.
func (c countdown) wait(ctx context.Context, p *domain.Profile) error {
	fmt.Fprintf(c.out, "Profile %q is protected by a %ds wait. Press Ctrl-C to keep it enabled.\n",
		p.Name, p.Options.Challenge.WaitTimeSeconds)
	for left := p.Options.Challenge.WaitTimeSeconds; left > 0; left-- {
		fmt.Fprintf(c.out, "\r%4ds remaining", left)
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return fmt.Errorf("profile %q left enabled: %w", p.Name, ctx.Err())
		case <-c.after(time.Second):
		}
	}
	fmt.Fprintf(c.out, "\r%-16s\n", "done")
	return nil
}

// gate runs the countdown when replacing current with next needs one.
func (c countdown) gate(ctx context.Context, current, next *domain.Profile) error {
	if !needsChallenge(current, next) {
		return nil
	}
	return c.wait(ctx, current)
}
